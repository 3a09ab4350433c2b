package controller

import (
	"sort"
	"sync"
)

// Context is the controller's in-memory view of the cluster: the controller
// epoch, live brokers, known topics, replica assignments and last-known
// leaders. One Context is owned per controller and every mutation happens
// under its Lock.
type Context struct {
	// Lock serializes all state-machine mutations and listener callbacks.
	Lock sync.Mutex

	// Epoch is this controller's generation. EpochZKVersion is the version of
	// the durable epoch node, used to fence the next bump.
	Epoch          int32
	EpochZKVersion int32

	liveBrokerIDs map[int32]struct{}
	allTopics     map[string]struct{}

	// PartitionReplicaAssignment maps each known partition to its ordered
	// assigned replicas. Immutable per partition; reassignment is a separate
	// subsystem.
	PartitionReplicaAssignment map[PartitionID][]int32

	// AllLeaders holds the last leader decision recorded for each partition
	// that has ever completed an election.
	AllLeaders map[PartitionID]LeaderIsrAndControllerEpoch
}

func NewContext() *Context {
	return &Context{
		liveBrokerIDs:              make(map[int32]struct{}),
		allTopics:                  make(map[string]struct{}),
		PartitionReplicaAssignment: make(map[PartitionID][]int32),
		AllLeaders:                 make(map[PartitionID]LeaderIsrAndControllerEpoch),
	}
}

func (c *Context) SetLiveBrokers(ids []int32) {
	c.liveBrokerIDs = make(map[int32]struct{}, len(ids))
	for _, id := range ids {
		c.liveBrokerIDs[id] = struct{}{}
	}
}

func (c *Context) AddLiveBroker(id int32) {
	c.liveBrokerIDs[id] = struct{}{}
}

func (c *Context) RemoveLiveBroker(id int32) {
	delete(c.liveBrokerIDs, id)
}

func (c *Context) IsBrokerLive(id int32) bool {
	_, ok := c.liveBrokerIDs[id]
	return ok
}

// LiveBrokerIDs returns the live brokers in ascending order.
func (c *Context) LiveBrokerIDs() []int32 {
	ids := make([]int32, 0, len(c.liveBrokerIDs))
	for id := range c.liveBrokerIDs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (c *Context) SetTopics(topics []string) {
	c.allTopics = make(map[string]struct{}, len(topics))
	for _, t := range topics {
		c.allTopics[t] = struct{}{}
	}
}

func (c *Context) HasTopic(topic string) bool {
	_, ok := c.allTopics[topic]
	return ok
}

func (c *Context) Topics() []string {
	topics := make([]string, 0, len(c.allTopics))
	for t := range c.allTopics {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// PartitionsForTopic returns the known partitions of topic in partition
// order.
func (c *Context) PartitionsForTopic(topic string) []PartitionID {
	var out []PartitionID
	for p := range c.PartitionReplicaAssignment {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Partition < out[j].Partition })
	return out
}

// PartitionsLedBy returns the partitions whose last-known leader is the given
// broker.
func (c *Context) PartitionsLedBy(brokerID int32) []PartitionID {
	var out []PartitionID
	for p, l := range c.AllLeaders {
		if l.LeaderAndISR.Leader == brokerID {
			out = append(out, p)
		}
	}
	sortPartitions(out)
	return out
}

func sortPartitions(ps []PartitionID) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Topic != ps[j].Topic {
			return ps[i].Topic < ps[j].Topic
		}
		return ps[i].Partition < ps[j].Partition
	})
}
