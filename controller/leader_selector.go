package controller

import (
	"github.com/castellan/castellan/log"
)

// PartitionLeaderSelector computes the next leader and ISR for a partition,
// plus the replicas that must be told about the decision. Implementations
// are policies; they read the context but never write it.
type PartitionLeaderSelector interface {
	// SelectLeader returns the new leader/ISR and the replicas to notify.
	// Returns NoReplicaOnlineError when every candidate is dead.
	SelectLeader(p PartitionID, current LeaderAndISR) (LeaderAndISR, []int32, error)
}

// offlinePartitionLeaderSelector picks a new leader for a partition whose
// leader has died. Live ISR members are preferred in ISR order; when the
// whole ISR is dead it falls back to any live assigned replica, trading
// consistency for availability. The fallback shrinks the ISR to just the new
// leader.
type offlinePartitionLeaderSelector struct {
	ctx     *Context
	metrics *Metrics
	logger  log.Logger
}

// NewOfflinePartitionLeaderSelector returns the selector used for the
// Offline/Online -> Online transitions after broker failure.
func NewOfflinePartitionLeaderSelector(ctx *Context, metrics *Metrics, logger log.Logger) PartitionLeaderSelector {
	return &offlinePartitionLeaderSelector{ctx: ctx, metrics: metrics, logger: logger}
}

func (s *offlinePartitionLeaderSelector) SelectLeader(p PartitionID, current LeaderAndISR) (LeaderAndISR, []int32, error) {
	assigned, ok := s.ctx.PartitionReplicaAssignment[p]
	if !ok {
		return LeaderAndISR{}, nil, stateChangeFailed(p, "no replica assignment")
	}

	var liveISR []int32
	for _, id := range current.ISR {
		if s.ctx.IsBrokerLive(id) {
			liveISR = append(liveISR, id)
		}
	}
	var liveAssigned []int32
	for _, id := range assigned {
		if s.ctx.IsBrokerLive(id) {
			liveAssigned = append(liveAssigned, id)
		}
	}

	next := LeaderAndISR{
		LeaderEpoch: current.LeaderEpoch + 1,
		ZKVersion:   current.ZKVersion,
	}
	switch {
	case len(liveISR) > 0:
		next.Leader = liveISR[0]
		next.ISR = liveISR
	case len(liveAssigned) > 0:
		// Unclean election: none of the ISR survived, so a replica that may
		// be missing committed records becomes leader.
		next.Leader = liveAssigned[0]
		next.ISR = []int32{liveAssigned[0]}
		s.metrics.UncleanElectionRate.Inc()
		s.logger.Info("unclean leader election",
			log.String("partition", p.String()),
			log.Int32("leader", next.Leader))
	default:
		return LeaderAndISR{}, nil, &NoReplicaOnlineError{Partition: p, Assigned: assigned}
	}
	return next, liveAssigned, nil
}

// preferredReplicaPartitionLeaderSelector moves leadership back to the head
// of the assignment when that broker is live and in sync. Used by the
// preferred-leader rebalance trigger.
type preferredReplicaPartitionLeaderSelector struct {
	ctx *Context
}

func NewPreferredReplicaPartitionLeaderSelector(ctx *Context) PartitionLeaderSelector {
	return &preferredReplicaPartitionLeaderSelector{ctx: ctx}
}

func (s *preferredReplicaPartitionLeaderSelector) SelectLeader(p PartitionID, current LeaderAndISR) (LeaderAndISR, []int32, error) {
	assigned, ok := s.ctx.PartitionReplicaAssignment[p]
	if !ok || len(assigned) == 0 {
		return LeaderAndISR{}, nil, stateChangeFailed(p, "no replica assignment")
	}
	preferred := assigned[0]
	if preferred == current.Leader {
		return LeaderAndISR{}, nil, stateChangeFailed(p, "preferred replica %d is already the leader", preferred)
	}
	if !s.ctx.IsBrokerLive(preferred) || !contains(current.ISR, preferred) {
		return LeaderAndISR{}, nil, stateChangeFailed(p, "preferred replica %d is not live and in sync", preferred)
	}
	next := LeaderAndISR{
		Leader:      preferred,
		LeaderEpoch: current.LeaderEpoch + 1,
		ISR:         current.ISR,
		ZKVersion:   current.ZKVersion,
	}
	return next, assigned, nil
}

// controlledShutdownPartitionLeaderSelector moves leadership off a broker
// that is shutting down cleanly, and removes it from the ISR.
type controlledShutdownPartitionLeaderSelector struct {
	ctx          *Context
	shuttingDown int32
}

func NewControlledShutdownPartitionLeaderSelector(ctx *Context, shuttingDown int32) PartitionLeaderSelector {
	return &controlledShutdownPartitionLeaderSelector{ctx: ctx, shuttingDown: shuttingDown}
}

func (s *controlledShutdownPartitionLeaderSelector) SelectLeader(p PartitionID, current LeaderAndISR) (LeaderAndISR, []int32, error) {
	assigned, ok := s.ctx.PartitionReplicaAssignment[p]
	if !ok {
		return LeaderAndISR{}, nil, stateChangeFailed(p, "no replica assignment")
	}
	var newISR []int32
	for _, id := range current.ISR {
		if id != s.shuttingDown {
			newISR = append(newISR, id)
		}
	}
	var leader int32 = -1
	for _, id := range newISR {
		if s.ctx.IsBrokerLive(id) {
			leader = id
			break
		}
	}
	if leader < 0 {
		return LeaderAndISR{}, nil, &NoReplicaOnlineError{Partition: p, Assigned: assigned}
	}
	next := LeaderAndISR{
		Leader:      leader,
		LeaderEpoch: current.LeaderEpoch + 1,
		ISR:         newISR,
		ZKVersion:   current.ZKVersion,
	}
	var notify []int32
	for _, id := range assigned {
		if id != s.shuttingDown {
			notify = append(notify, id)
		}
	}
	return next, notify, nil
}

func contains(ids []int32, id int32) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
