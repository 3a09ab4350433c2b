package controller

import (
	"fmt"

	"github.com/pkg/errors"
)

// IllegalStateChangeError reports a transition whose current state is not a
// legal starting point for the target. It indicates a bug in the caller, not
// a cluster condition.
type IllegalStateChangeError struct {
	Partition PartitionID
	From      PartitionState
	To        PartitionState
}

func (e *IllegalStateChangeError) Error() string {
	return fmt.Sprintf("partition %s: illegal state change %s -> %s", e.Partition, e.From, e.To)
}

// StateChangeError reports a transition that could not complete: no live
// replica, a stale node on create, an epoch fence violation, or a missing
// leader node. The partition stays in its previous state.
type StateChangeError struct {
	Partition PartitionID
	Msg       string
	Err       error
}

func (e *StateChangeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("partition %s: %s: %v", e.Partition, e.Msg, e.Err)
	}
	return fmt.Sprintf("partition %s: %s", e.Partition, e.Msg)
}

func (e *StateChangeError) Unwrap() error { return e.Err }

func stateChangeFailed(p PartitionID, format string, args ...interface{}) error {
	return &StateChangeError{Partition: p, Msg: fmt.Sprintf(format, args...)}
}

// NoReplicaOnlineError is raised by a leader selector when every candidate
// replica is dead.
type NoReplicaOnlineError struct {
	Partition PartitionID
	Assigned  []int32
}

func (e *NoReplicaOnlineError) Error() string {
	return fmt.Sprintf("partition %s: no replica online, assigned %v", e.Partition, e.Assigned)
}

// IsNoReplicaOnline reports whether err is a NoReplicaOnlineError.
func IsNoReplicaOnline(err error) bool {
	var nro *NoReplicaOnlineError
	return errors.As(err, &nro)
}
