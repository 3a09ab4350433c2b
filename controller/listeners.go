package controller

import (
	"github.com/castellan/castellan/log"
	"github.com/castellan/castellan/meta"
)

// TopicChangeListener reacts to children changing under /brokers/topics. The
// store invokes it from its own watch goroutine; the work is enqueued onto
// the controller's work queue so all mutation stays on the controller
// goroutine, which holds the lock.
type TopicChangeListener struct {
	psm     *PartitionStateMachine
	ctx     *Context
	store   meta.Store
	enqueue func(func())
	onNew   func(topics []string, partitions []PartitionID) error
	logger  log.Logger
}

func NewTopicChangeListener(psm *PartitionStateMachine, ctx *Context, store meta.Store, enqueue func(func()), onNew func([]string, []PartitionID) error, logger log.Logger) *TopicChangeListener {
	return &TopicChangeListener{
		psm:     psm,
		ctx:     ctx,
		store:   store,
		enqueue: enqueue,
		onNew:   onNew,
		logger:  logger.With(log.String("listener", "topic change")),
	}
}

// HandleChildChange is the meta.ChildListener entry point.
func (l *TopicChangeListener) HandleChildChange(parent string, children []string) {
	if l.psm.isShuttingDown() {
		return
	}
	l.enqueue(func() {
		l.ctx.Lock.Lock()
		defer l.ctx.Lock.Unlock()
		if l.psm.isShuttingDown() {
			return
		}
		l.handleTopicChange(children)
	})
}

func (l *TopicChangeListener) handleTopicChange(children []string) {
	current := make(map[string]struct{}, len(children))
	for _, t := range children {
		current[t] = struct{}{}
	}
	var newTopics, deletedTopics []string
	for t := range current {
		if !l.ctx.HasTopic(t) {
			newTopics = append(newTopics, t)
		}
	}
	for _, t := range l.ctx.Topics() {
		if _, ok := current[t]; !ok {
			deletedTopics = append(deletedTopics, t)
		}
	}
	l.ctx.SetTopics(children)
	l.logger.Info("topic change",
		log.Any("new", newTopics), log.Any("deleted", deletedTopics))

	for _, t := range deletedTopics {
		l.retireTopic(t)
	}

	if len(newTopics) == 0 {
		return
	}
	var newPartitions []PartitionID
	for _, t := range newTopics {
		assignment, err := l.readTopicAssignment(t)
		if err != nil {
			l.logger.Error("failed to read assignment for new topic",
				log.String("topic", t), log.Error("error", err))
			continue
		}
		for partition, replicas := range assignment {
			p := PartitionID{Topic: t, Partition: partition}
			l.ctx.PartitionReplicaAssignment[p] = replicas
			newPartitions = append(newPartitions, p)
		}
	}
	sortPartitions(newPartitions)
	if err := l.onNew(newTopics, newPartitions); err != nil {
		l.logger.Error("new topic handling failed", log.Error("error", err))
	}
}

// retireTopic walks a deleted topic's partitions out of the state map and
// evicts its cache entries. Durable node cleanup belongs to the deletion
// subsystem.
func (l *TopicChangeListener) retireTopic(topic string) {
	partitions := l.ctx.PartitionsForTopic(topic)
	var toOffline []PartitionID
	for _, p := range partitions {
		if s := l.psm.CurrentState(p); s == NewPartition || s == OnlinePartition {
			toOffline = append(toOffline, p)
		}
	}
	if err := l.psm.HandleStateChanges(toOffline, OfflinePartition, nil); err != nil {
		l.logger.Error("failed to take deleted topic's partitions offline",
			log.String("topic", topic), log.Error("error", err))
		return
	}
	if err := l.psm.HandleStateChanges(partitions, NonExistentPartition, nil); err != nil {
		l.logger.Error("failed to retire deleted topic's partitions",
			log.String("topic", topic), log.Error("error", err))
		return
	}
	for _, p := range partitions {
		delete(l.ctx.PartitionReplicaAssignment, p)
		delete(l.ctx.AllLeaders, p)
		delete(l.psm.state, p)
	}
}

func (l *TopicChangeListener) readTopicAssignment(topic string) (map[int32][]int32, error) {
	data, _, err := l.store.Read(meta.TopicPath(topic))
	if err != nil {
		return nil, err
	}
	ta, err := meta.DecodeTopicAssignment(data)
	if err != nil {
		return nil, err
	}
	return ta.AssignmentByPartition()
}

// PartitionChangeListener watches one topic's partition set. Partition-count
// increases aren't supported yet, so it only logs for now.
type PartitionChangeListener struct {
	psm    *PartitionStateMachine
	ctx    *Context
	topic  string
	logger log.Logger
}

func NewPartitionChangeListener(psm *PartitionStateMachine, ctx *Context, topic string, logger log.Logger) *PartitionChangeListener {
	return &PartitionChangeListener{psm: psm, ctx: ctx, topic: topic, logger: logger}
}

func (l *PartitionChangeListener) HandleChildChange(parent string, children []string) {
	if l.psm.isShuttingDown() {
		return
	}
	l.ctx.Lock.Lock()
	defer l.ctx.Lock.Unlock()
	l.logger.Debug("partition change", log.String("topic", l.topic), log.Int("partitions", len(children)))
}
