package testutil

import (
	"strconv"
	"sync"

	"github.com/mitchellh/go-testing-interface"

	"github.com/castellan/castellan/meta"
	"github.com/castellan/castellan/protocol"
)

// TopicFixture describes a topic to seed into a test store: partition id to
// ordered replica assignment.
type TopicFixture map[int32][]int32

// SeedTopic writes a topic's replica assignment into the store the way the
// broker side would on topic creation.
func SeedTopic(t testing.T, store *meta.InMemory, topic string, fixture TopicFixture) {
	partitions := make(map[string][]int32, len(fixture))
	for p, replicas := range fixture {
		partitions[strconv.Itoa(int(p))] = replicas
	}
	data, err := meta.EncodeTopicAssignment(&meta.TopicAssignment{Version: 1, Partitions: partitions})
	if err != nil {
		t.Fatalf("encode assignment: %v", err)
	}
	if err := store.CreatePersistent(meta.TopicPath(topic), data); err != nil {
		t.Fatalf("seed topic %s: %v", topic, err)
	}
}

// SeedLeaderIsr writes a partition's durable leader node.
func SeedLeaderIsr(t testing.T, store *meta.InMemory, topic string, partition int32, node *meta.LeaderIsrNode) {
	data, err := meta.EncodeLeaderIsr(node)
	if err != nil {
		t.Fatalf("encode leader/isr: %v", err)
	}
	if err := store.CreatePersistent(meta.PartitionStatePath(topic, partition), data); err != nil {
		t.Fatalf("seed leader/isr for %s/%d: %v", topic, partition, err)
	}
}

// CapturingSender records every request dispatched to every broker, in
// order. Safe for concurrent use.
type CapturingSender struct {
	mu   sync.Mutex
	sent map[int32][]protocol.Request
}

func NewCapturingSender() *CapturingSender {
	return &CapturingSender{sent: make(map[int32][]protocol.Request)}
}

func (s *CapturingSender) Send(brokerID int32, req protocol.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[brokerID] = append(s.sent[brokerID], req)
	return nil
}

// Requests returns the requests sent to one broker.
func (s *CapturingSender) Requests(brokerID int32) []protocol.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Request(nil), s.sent[brokerID]...)
}

// LeaderAndIsrRequests filters one broker's requests down to LeaderAndIsr.
func (s *CapturingSender) LeaderAndIsrRequests(brokerID int32) []*protocol.LeaderAndIsrRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*protocol.LeaderAndIsrRequest
	for _, r := range s.sent[brokerID] {
		if req, ok := r.(*protocol.LeaderAndIsrRequest); ok {
			out = append(out, req)
		}
	}
	return out
}

// Reset drops everything recorded so far.
func (s *CapturingSender) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = make(map[int32][]protocol.Request)
}
