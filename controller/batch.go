package controller

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/castellan/castellan/log"
	"github.com/castellan/castellan/protocol"
)

// SendRequestFunc delivers one controller request to one broker. Delivery is
// fire-and-forget from the controller's point of view; an error here aborts
// the flush and is propagated out of the pass.
type SendRequestFunc func(brokerID int32, req protocol.Request) error

// brokerRequestBatch accumulates per-broker leader-and-ISR notifications over
// one transition pass and flushes them as a single request per broker.
// Coalescing bounds the controller's fan-out at one message per broker per
// pass instead of one per partition.
type brokerRequestBatch struct {
	send    SendRequestFunc
	metrics *Metrics
	logger  log.Logger

	open           bool
	leaderAndIsr   map[int32]map[PartitionID]*protocol.PartitionState
	updateMetadata map[int32]map[PartitionID]*protocol.PartitionState
}

func newBrokerRequestBatch(send SendRequestFunc, metrics *Metrics, logger log.Logger) *brokerRequestBatch {
	return &brokerRequestBatch{
		send:    send,
		metrics: metrics,
		logger:  logger,
	}
}

// newBatch readies the batch for a pass. It is an error to open a batch that
// was never flushed; that would silently merge two passes.
func (b *brokerRequestBatch) newBatch() error {
	if b.open {
		return errors.New("request batch already open")
	}
	b.open = true
	b.leaderAndIsr = make(map[int32]map[PartitionID]*protocol.PartitionState)
	b.updateMetadata = make(map[int32]map[PartitionID]*protocol.PartitionState)
	return nil
}

func (b *brokerRequestBatch) addLeaderAndIsrRequestForBrokers(brokerIDs []int32, p PartitionID, leaderIsr LeaderIsrAndControllerEpoch, replicas []int32) {
	state := partitionStateEntry(p, leaderIsr, replicas)
	for _, id := range brokerIDs {
		if b.leaderAndIsr[id] == nil {
			b.leaderAndIsr[id] = make(map[PartitionID]*protocol.PartitionState)
		}
		b.leaderAndIsr[id][p] = state
	}
}

// addUpdateMetadataRequestForBrokers queues a metadata refresh for every
// given broker, whether or not it hosts a replica of p.
func (b *brokerRequestBatch) addUpdateMetadataRequestForBrokers(brokerIDs []int32, p PartitionID, leaderIsr LeaderIsrAndControllerEpoch, replicas []int32) {
	state := partitionStateEntry(p, leaderIsr, replicas)
	for _, id := range brokerIDs {
		if b.updateMetadata[id] == nil {
			b.updateMetadata[id] = make(map[PartitionID]*protocol.PartitionState)
		}
		b.updateMetadata[id][p] = state
	}
}

func partitionStateEntry(p PartitionID, leaderIsr LeaderIsrAndControllerEpoch, replicas []int32) *protocol.PartitionState {
	return &protocol.PartitionState{
		Topic:           p.Topic,
		Partition:       p.Partition,
		ControllerEpoch: leaderIsr.ControllerEpoch,
		Leader:          leaderIsr.LeaderAndISR.Leader,
		LeaderEpoch:     leaderIsr.LeaderAndISR.LeaderEpoch,
		ISR:             leaderIsr.LeaderAndISR.ISR,
		ZKVersion:       leaderIsr.LeaderAndISR.ZKVersion,
		Replicas:        replicas,
	}
}

// abort drops the pending entries and closes the batch. Used when a pass is
// cut short by a store failure; nothing buffered gets sent.
func (b *brokerRequestBatch) abort() {
	b.open = false
	b.leaderAndIsr = nil
	b.updateMetadata = nil
}

// sendRequestsToBrokers flushes the batch: one aggregated request per broker
// with pending entries. Brokers that are no longer live are skipped; they
// will catch up from durable state when they return. Closes the batch.
func (b *brokerRequestBatch) sendRequestsToBrokers(controllerID, controllerEpoch int32, ctx *Context) error {
	if !b.open {
		return errors.New("request batch not open")
	}
	b.open = false

	for brokerID, states := range b.leaderAndIsr {
		if !ctx.IsBrokerLive(brokerID) {
			b.logger.Debug("skipping leader and isr send to dead broker",
				log.Int32("broker", brokerID), log.Int("partitions", len(states)))
			continue
		}
		req := &protocol.LeaderAndIsrRequest{
			ControllerID:    controllerID,
			ControllerEpoch: controllerEpoch,
			PartitionStates: sortedStates(states),
		}
		if err := b.send(brokerID, req); err != nil {
			return errors.Wrapf(err, "send leader and isr request to broker %d", brokerID)
		}
		b.metrics.LeaderAndIsrRequests.WithLabelValues(strconv.Itoa(int(brokerID))).Inc()
	}

	for brokerID, states := range b.updateMetadata {
		if !ctx.IsBrokerLive(brokerID) {
			continue
		}
		req := &protocol.UpdateMetadataRequest{
			ControllerID:    controllerID,
			ControllerEpoch: controllerEpoch,
			PartitionStates: sortedStates(states),
		}
		if err := b.send(brokerID, req); err != nil {
			return errors.Wrapf(err, "send update metadata request to broker %d", brokerID)
		}
		b.metrics.UpdateMetadataRequests.WithLabelValues(strconv.Itoa(int(brokerID))).Inc()
	}

	b.leaderAndIsr = nil
	b.updateMetadata = nil
	return nil
}

func sortedStates(states map[PartitionID]*protocol.PartitionState) []*protocol.PartitionState {
	ids := make([]PartitionID, 0, len(states))
	for p := range states {
		ids = append(ids, p)
	}
	sortPartitions(ids)
	out := make([]*protocol.PartitionState, 0, len(ids))
	for _, p := range ids {
		out = append(out, states[p])
	}
	return out
}
