package controller

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/castellan/castellan/log"
	"github.com/castellan/castellan/meta"
)

// PartitionStateMachine owns the lifecycle state of every partition the
// controller knows about and drives the transitions between them. All entry
// points assume the caller holds the controller lock; within it the state
// machine is strictly single-threaded.
type PartitionStateMachine struct {
	controllerID int32
	ctx          *Context
	store        meta.Store
	batch        *brokerRequestBatch
	metrics      *Metrics
	logger       log.Logger

	state    map[PartitionID]PartitionState
	shutdown int32

	topicListener           *TopicChangeListener
	topicListenerRegistered bool

	// maxElectionRetries caps the conditional-write loop in leader election.
	// Contention resolves in a round or two; the cap is there so a wedged
	// store can't spin the controller forever.
	maxElectionRetries int
}

func NewPartitionStateMachine(controllerID int32, ctx *Context, store meta.Store, send SendRequestFunc, metrics *Metrics, logger log.Logger) *PartitionStateMachine {
	logger = logger.With(log.String("component", "partition state machine"))
	return &PartitionStateMachine{
		controllerID:       controllerID,
		ctx:                ctx,
		store:              store,
		batch:              newBrokerRequestBatch(send, metrics, logger),
		metrics:            metrics,
		logger:             logger,
		state:              make(map[PartitionID]PartitionState),
		maxElectionRetries: 10,
	}
}

// Startup reconstructs partition state from durable metadata and attempts to
// bring every New or Offline partition online. Idempotent; the caller holds
// the controller lock.
func (m *PartitionStateMachine) Startup() error {
	atomic.StoreInt32(&m.shutdown, 0)
	if err := m.initializePartitionState(); err != nil {
		return err
	}
	if err := m.TriggerOnlinePartitionStateChange(); err != nil {
		return err
	}
	if m.topicListener != nil && !m.topicListenerRegistered {
		if err := m.store.SubscribeChildChanges(meta.TopicsPath, m.topicListener.HandleChildChange); err != nil {
			return errors.Wrap(err, "register topic change listener")
		}
		m.topicListenerRegistered = true
	}
	return nil
}

// SetTopicChangeListener installs the listener Startup registers on the
// topics path.
func (m *PartitionStateMachine) SetTopicChangeListener(l *TopicChangeListener) {
	m.topicListener = l
}

// Shutdown stops the state machine. Listener callbacks observe the flag and
// no-op from here on.
func (m *PartitionStateMachine) Shutdown() {
	atomic.StoreInt32(&m.shutdown, 1)
	m.state = make(map[PartitionID]PartitionState)
}

func (m *PartitionStateMachine) isShuttingDown() bool {
	return atomic.LoadInt32(&m.shutdown) == 1
}

// CurrentState returns the state of one partition.
func (m *PartitionStateMachine) CurrentState(p PartitionID) PartitionState {
	if s, ok := m.state[p]; ok {
		return s
	}
	return NonExistentPartition
}

// PartitionStates returns a copy of the state map.
func (m *PartitionStateMachine) PartitionStates() map[PartitionID]PartitionState {
	out := make(map[PartitionID]PartitionState, len(m.state))
	for p, s := range m.state {
		out[p] = s
	}
	return out
}

// initializePartitionState populates the in-memory state map for every
// partition already in the context's replica assignment, reading each one's
// leader node from the metadata store: a partition with no durable leader
// node is New, one whose stored leader is live is Online, any other is
// Offline. No durable writes happen here.
func (m *PartitionStateMachine) initializePartitionState() error {
	for p := range m.ctx.PartitionReplicaAssignment {
		node, version, err := m.readLeaderIsr(p)
		switch {
		case err != nil && meta.IsNoNode(err):
			m.state[p] = NewPartition
		case err != nil:
			return err
		default:
			m.ctx.AllLeaders[p] = LeaderIsrAndControllerEpoch{
				LeaderAndISR: LeaderAndISR{
					Leader:      node.Leader,
					LeaderEpoch: node.LeaderEpoch,
					ISR:         node.ISR,
					ZKVersion:   version,
				},
				ControllerEpoch: node.ControllerEpoch,
			}
			if m.ctx.IsBrokerLive(node.Leader) {
				m.state[p] = OnlinePartition
			} else {
				m.state[p] = OfflinePartition
			}
		}
	}
	return nil
}

// TriggerOnlinePartitionStateChange attempts to move every New or Offline
// partition to Online. Called after controller election and whenever broker
// membership changes.
func (m *PartitionStateMachine) TriggerOnlinePartitionStateChange() error {
	var pending []PartitionID
	for p, s := range m.state {
		if s == NewPartition || s == OfflinePartition {
			pending = append(pending, p)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	sortPartitions(pending)
	selector := NewOfflinePartitionLeaderSelector(m.ctx, m.metrics, m.logger)
	return m.HandleStateChanges(pending, OnlinePartition, selector)
}

// HandleStateChanges drives a set of partitions toward target in one pass.
// Per-partition failures are logged and skipped; the flush at the end sends
// one aggregated request per affected broker, and its error is the caller's.
func (m *PartitionStateMachine) HandleStateChanges(partitions []PartitionID, target PartitionState, selector PartitionLeaderSelector) error {
	if len(partitions) == 0 {
		return nil
	}
	if err := m.batch.newBatch(); err != nil {
		return err
	}
	for _, p := range partitions {
		if err := m.handleStateChange(p, target, selector); err != nil {
			if isInfrastructureErr(err) {
				m.batch.abort()
				return err
			}
			m.logger.Error("state change failed",
				log.String("partition", p.String()),
				log.String("target", target.String()),
				log.Error("error", err))
		}
	}
	return m.batch.sendRequestsToBrokers(m.controllerID, m.ctx.Epoch, m.ctx)
}

// isInfrastructureErr separates cluster conditions, which are contained per
// partition, from store transport failures, which abort the whole pass.
func isInfrastructureErr(err error) bool {
	var sce *StateChangeError
	var isce *IllegalStateChangeError
	if errors.As(err, &sce) || errors.As(err, &isce) || IsNoReplicaOnline(err) {
		return false
	}
	return true
}

func (m *PartitionStateMachine) handleStateChange(p PartitionID, target PartitionState, selector PartitionLeaderSelector) error {
	curr := m.CurrentState(p)
	if !legalTransition(curr, target) {
		return &IllegalStateChangeError{Partition: p, From: curr, To: target}
	}

	switch target {
	case NewPartition:
		assignment, err := m.readReplicaAssignment(p)
		if err != nil {
			return err
		}
		m.ctx.PartitionReplicaAssignment[p] = assignment
		m.state[p] = NewPartition
		m.logger.Debug("partition is new",
			log.String("partition", p.String()), log.Any("assignment", assignment))

	case OnlinePartition:
		var err error
		if curr == NewPartition {
			err = m.initializeLeaderAndIsrForPartition(p)
		} else {
			err = m.electLeaderForPartition(p, selector)
		}
		if err != nil {
			return err
		}
		m.state[p] = OnlinePartition
		m.logger.Info("partition is online",
			log.String("partition", p.String()),
			log.Int32("leader", m.ctx.AllLeaders[p].LeaderAndISR.Leader))

	case OfflinePartition:
		// No durable write: the cached leader entry stays in place to record
		// the last-known leader and its node version for the next election.
		m.state[p] = OfflinePartition
		m.logger.Info("partition is offline", log.String("partition", p.String()))

	case NonExistentPartition:
		m.state[p] = NonExistentPartition
	}
	return nil
}

func legalTransition(from, to PartitionState) bool {
	for _, s := range validPreviousStates(to) {
		if s == from {
			return true
		}
	}
	return false
}

// readReplicaAssignment reads a partition's assigned replicas from the topic
// node in the metadata store.
func (m *PartitionStateMachine) readReplicaAssignment(p PartitionID) ([]int32, error) {
	data, _, err := m.store.Read(meta.TopicPath(p.Topic))
	if err != nil {
		return nil, errors.Wrapf(err, "read assignment for topic %s", p.Topic)
	}
	ta, err := meta.DecodeTopicAssignment(data)
	if err != nil {
		return nil, err
	}
	byPartition, err := ta.AssignmentByPartition()
	if err != nil {
		return nil, err
	}
	assignment, ok := byPartition[p.Partition]
	if !ok {
		return nil, stateChangeFailed(p, "no replica assignment in topic node")
	}
	return assignment, nil
}

// initializeLeaderAndIsrForPartition elects the first leader for a partition
// that has never had a durable leader node: the preferred replica among the
// live assigned ones leads, and all live assigned replicas form the initial
// ISR. The create is conditional on the node being absent; losing that race
// means another controller got there first.
func (m *PartitionStateMachine) initializeLeaderAndIsrForPartition(p PartitionID) error {
	assignment := m.ctx.PartitionReplicaAssignment[p]
	var live []int32
	for _, id := range assignment {
		if m.ctx.IsBrokerLive(id) {
			live = append(live, id)
		}
	}
	if len(live) == 0 {
		m.metrics.OfflinePartitionRate.Inc()
		return stateChangeFailed(p, "no assigned replica is alive, assigned %v", assignment)
	}

	leaderIsr := LeaderIsrAndControllerEpoch{
		LeaderAndISR: LeaderAndISR{
			Leader:      live[0],
			LeaderEpoch: 0,
			ISR:         live,
			ZKVersion:   0,
		},
		ControllerEpoch: m.ctx.Epoch,
	}
	data, err := meta.EncodeLeaderIsr(&meta.LeaderIsrNode{
		Version:         1,
		Leader:          leaderIsr.LeaderAndISR.Leader,
		LeaderEpoch:     leaderIsr.LeaderAndISR.LeaderEpoch,
		ISR:             leaderIsr.LeaderAndISR.ISR,
		ControllerEpoch: m.ctx.Epoch,
	})
	if err != nil {
		return err
	}

	path := meta.PartitionStatePath(p.Topic, p.Partition)
	if err := m.store.CreatePersistent(path, data); err != nil {
		if meta.IsNodeExists(err) {
			// Soft failover: a paused prior controller may have initialized
			// this partition already. Surface what it wrote and let the next
			// reconciliation pass sort it out.
			m.metrics.OfflinePartitionRate.Inc()
			observed := "unreadable"
			if existing, _, rerr := m.store.Read(path); rerr == nil {
				observed = string(existing)
			}
			return stateChangeFailed(p, "leader node already exists with value %s", observed)
		}
		return errors.Wrapf(err, "create leader node for %s", p)
	}

	m.ctx.AllLeaders[p] = leaderIsr
	m.batch.addLeaderAndIsrRequestForBrokers(live, p, leaderIsr, assignment)
	m.batch.addUpdateMetadataRequestForBrokers(m.ctx.LiveBrokerIDs(), p, leaderIsr, assignment)
	return nil
}

// electLeaderForPartition picks a new leader for a partition whose durable
// node already exists, writing the decision with a conditional update fenced
// by the node version. A version mismatch rereads and retries; observing a
// higher controller epoch means this controller has been superseded and must
// stop.
func (m *PartitionStateMachine) electLeaderForPartition(p PartitionID, selector PartitionLeaderSelector) error {
	if selector == nil {
		return stateChangeFailed(p, "no leader selector for election")
	}
	assignment := m.ctx.PartitionReplicaAssignment[p]
	path := meta.PartitionStatePath(p.Topic, p.Partition)

	for attempt := 0; attempt < m.maxElectionRetries; attempt++ {
		node, version, err := m.readLeaderIsr(p)
		if err != nil {
			if meta.IsNoNode(err) {
				return stateChangeFailed(p, "leader and isr info doesn't exist")
			}
			return err
		}
		if node.ControllerEpoch > m.ctx.Epoch {
			return stateChangeFailed(p,
				"aborted leader election: leader node was written by controller epoch %d, ours is %d",
				node.ControllerEpoch, m.ctx.Epoch)
		}

		current := LeaderAndISR{
			Leader:      node.Leader,
			LeaderEpoch: node.LeaderEpoch,
			ISR:         node.ISR,
			ZKVersion:   version,
		}
		next, notify, err := selector.SelectLeader(p, current)
		if err != nil {
			return err
		}

		data, err := meta.EncodeLeaderIsr(&meta.LeaderIsrNode{
			Version:         1,
			Leader:          next.Leader,
			LeaderEpoch:     next.LeaderEpoch,
			ISR:             next.ISR,
			ControllerEpoch: m.ctx.Epoch,
		})
		if err != nil {
			return err
		}
		newVersion, err := m.store.ConditionalUpdate(path, data, current.ZKVersion)
		if err != nil {
			if meta.IsBadVersion(err) {
				m.logger.Debug("leader node version conflict, retrying",
					log.String("partition", p.String()))
				continue
			}
			return errors.Wrapf(err, "update leader node for %s", p)
		}

		next.ZKVersion = newVersion
		leaderIsr := LeaderIsrAndControllerEpoch{LeaderAndISR: next, ControllerEpoch: m.ctx.Epoch}
		m.ctx.AllLeaders[p] = leaderIsr
		m.batch.addLeaderAndIsrRequestForBrokers(notify, p, leaderIsr, assignment)
		m.batch.addUpdateMetadataRequestForBrokers(m.ctx.LiveBrokerIDs(), p, leaderIsr, assignment)
		m.logger.Info("elected leader",
			log.String("partition", p.String()),
			log.Int32("leader", next.Leader),
			log.Any("isr", next.ISR))
		return nil
	}
	return stateChangeFailed(p, "leader election gave up after %d attempts", m.maxElectionRetries)
}

// ElectLeaderForPartition runs a leader election for one partition as its own
// pass. Entry point for the reassignment and controlled-shutdown paths, which
// pick their own selectors.
func (m *PartitionStateMachine) ElectLeaderForPartition(topic string, partition int32, selector PartitionLeaderSelector) error {
	return m.HandleStateChanges([]PartitionID{{Topic: topic, Partition: partition}}, OnlinePartition, selector)
}

func (m *PartitionStateMachine) readLeaderIsr(p PartitionID) (*meta.LeaderIsrNode, int32, error) {
	data, version, err := m.store.Read(meta.PartitionStatePath(p.Topic, p.Partition))
	if err != nil {
		return nil, 0, err
	}
	node, err := meta.DecodeLeaderIsr(data)
	if err != nil {
		return nil, 0, err
	}
	return node, version, nil
}
