package meta

import (
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TopicAssignment is the data of /brokers/topics/<topic>: the replica
// assignment for each of the topic's partitions, keyed by partition id in
// decimal. Replica order is significant; the head is the preferred leader.
type TopicAssignment struct {
	Version    int                `json:"version"`
	Partitions map[string][]int32 `json:"partitions"`
}

// LeaderIsrNode is the data of .../partitions/<p>/state. Decoding tolerates
// unknown fields so newer writers can extend the record.
type LeaderIsrNode struct {
	Version         int     `json:"version"`
	Leader          int32   `json:"leader"`
	LeaderEpoch     int32   `json:"leader_epoch"`
	ISR             []int32 `json:"isr"`
	ControllerEpoch int32   `json:"controller_epoch"`
}

// ControllerNode is the data of /controller: which broker currently holds the
// controller role.
type ControllerNode struct {
	Version  int   `json:"version"`
	BrokerID int32 `json:"brokerid"`
}

// BrokerNode is the data of /brokers/ids/<id>.
type BrokerNode struct {
	Version int    `json:"version"`
	Addr    string `json:"addr"`
}

func EncodeTopicAssignment(a *TopicAssignment) ([]byte, error) {
	return json.Marshal(a)
}

func DecodeTopicAssignment(data []byte) (*TopicAssignment, error) {
	var a TopicAssignment
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, errors.Wrap(err, "decode topic assignment")
	}
	return &a, nil
}

// AssignmentByPartition converts the decimal-keyed partition map into a typed
// one. Malformed keys are an error; the node is controller-written and any
// corruption should surface loudly.
func (a *TopicAssignment) AssignmentByPartition() (map[int32][]int32, error) {
	out := make(map[int32][]int32, len(a.Partitions))
	for k, replicas := range a.Partitions {
		p, err := strconv.ParseInt(k, 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "bad partition key %q", k)
		}
		out[int32(p)] = replicas
	}
	return out, nil
}

func EncodeLeaderIsr(n *LeaderIsrNode) ([]byte, error) {
	return json.Marshal(n)
}

func DecodeLeaderIsr(data []byte) (*LeaderIsrNode, error) {
	var n LeaderIsrNode
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, errors.Wrap(err, "decode leader/isr node")
	}
	return &n, nil
}

func EncodeController(n *ControllerNode) ([]byte, error) {
	return json.Marshal(n)
}

func DecodeController(data []byte) (*ControllerNode, error) {
	var n ControllerNode
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, errors.Wrap(err, "decode controller node")
	}
	return &n, nil
}

// EncodeEpoch and DecodeEpoch handle /controller_epoch, which holds the epoch
// as decimal bytes rather than JSON.
func EncodeEpoch(epoch int32) []byte {
	return []byte(strconv.FormatInt(int64(epoch), 10))
}

func DecodeEpoch(data []byte) (int32, error) {
	v, err := strconv.ParseInt(string(data), 10, 32)
	if err != nil {
		return 0, errors.Wrap(err, "decode controller epoch")
	}
	return int32(v), nil
}
