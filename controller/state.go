package controller

import "fmt"

// PartitionID identifies a partition of a topic. Value-compared, so it is
// usable as a map key.
type PartitionID struct {
	Topic     string
	Partition int32
}

func (p PartitionID) String() string {
	return fmt.Sprintf("[%s,%d]", p.Topic, p.Partition)
}

// PartitionState is a partition's position in the controller's lifecycle.
type PartitionState int8

const (
	// NonExistentPartition means the partition was never created or has been
	// fully torn down.
	NonExistentPartition PartitionState = iota
	// NewPartition means the replica assignment is known but no leader has
	// ever been elected.
	NewPartition
	// OnlinePartition means a leader exists in durable metadata.
	OnlinePartition
	// OfflinePartition means a leader existed but is not among the live
	// brokers, or initial election failed.
	OfflinePartition
)

func (s PartitionState) String() string {
	switch s {
	case NonExistentPartition:
		return "NonExistentPartition"
	case NewPartition:
		return "NewPartition"
	case OnlinePartition:
		return "OnlinePartition"
	case OfflinePartition:
		return "OfflinePartition"
	default:
		return fmt.Sprintf("PartitionState(%d)", int8(s))
	}
}

// validPreviousStates returns the states a transition to target may start
// from.
func validPreviousStates(target PartitionState) []PartitionState {
	switch target {
	case NewPartition:
		return []PartitionState{NonExistentPartition}
	case OnlinePartition:
		return []PartitionState{NewPartition, OnlinePartition, OfflinePartition}
	case OfflinePartition:
		return []PartitionState{NewPartition, OnlinePartition}
	case NonExistentPartition:
		return []PartitionState{OfflinePartition}
	default:
		return nil
	}
}

// LeaderAndISR is a partition's current leader, its in-sync replica set and
// the version of the durable node it was read from or written at.
type LeaderAndISR struct {
	Leader      int32
	LeaderEpoch int32
	ISR         []int32
	ZKVersion   int32
}

// LeaderIsrAndControllerEpoch pairs a leader decision with the controller
// generation that made it.
type LeaderIsrAndControllerEpoch struct {
	LeaderAndISR    LeaderAndISR
	ControllerEpoch int32
}
