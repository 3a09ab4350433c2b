package protocol

// Request is a controller-originated request dispatched to a broker.
type Request interface {
	Key() int16
}

const (
	LeaderAndIsrKey   int16 = 4
	UpdateMetadataKey int16 = 6
)

// PartitionState carries the leader and ISR decision for one partition as
// shipped to the brokers hosting its replicas.
type PartitionState struct {
	Topic           string
	Partition       int32
	ControllerEpoch int32
	Leader          int32
	LeaderEpoch     int32
	ISR             []int32
	ZKVersion       int32
	Replicas        []int32
}

// LeaderAndIsrRequest tells the receiving broker which of its replicas lead
// and which follow. One request aggregates every partition decided for that
// broker in a single controller pass.
type LeaderAndIsrRequest struct {
	ControllerID    int32
	ControllerEpoch int32
	PartitionStates []*PartitionState
}

func (r *LeaderAndIsrRequest) Key() int16 { return LeaderAndIsrKey }

// LeaderAndIsrPartition is the per-partition outcome in a LeaderAndIsrResponse.
type LeaderAndIsrPartition struct {
	Topic     string
	Partition int32
	ErrorCode int16
}

type LeaderAndIsrResponse struct {
	ErrorCode  int16
	Partitions []*LeaderAndIsrPartition
}

// UpdateMetadataRequest refreshes a broker's view of partition leadership so
// it can answer metadata requests without round-tripping to the controller.
// It carries the same per-partition states as LeaderAndIsrRequest. The
// controller's request batch does not fill in LiveBrokers.
type UpdateMetadataRequest struct {
	ControllerID    int32
	ControllerEpoch int32
	PartitionStates []*PartitionState
	LiveBrokers     []UpdateMetadataBroker
}

func (r *UpdateMetadataRequest) Key() int16 { return UpdateMetadataKey }

type UpdateMetadataBroker struct {
	ID   int32
	Addr string
}
