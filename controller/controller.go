package controller

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/castellan/castellan/log"
	"github.com/castellan/castellan/meta"
)

// Config configures a Controller.
type Config struct {
	// ID is this controller's broker id.
	ID int32
	// MaxElectionRetries caps the per-partition conditional-write loop.
	MaxElectionRetries int
	// WorkQueueDepth bounds how many pending listener events can queue up.
	WorkQueueDepth int
}

func DefaultConfig() *Config {
	return &Config{
		MaxElectionRetries: 10,
		WorkQueueDepth:     256,
	}
}

// Controller drives cluster-wide partition leadership decisions. One process
// in the cluster is elected to run it at a time; every decision it makes is
// fenced by the controller epoch it obtained when it won.
//
// All mutation runs on the controller goroutine, which consumes the work
// queue and holds the context lock for the duration of each item. The topic
// change listener and membership events only ever enqueue; the per-topic
// partition change listener takes the context lock directly and only logs.
type Controller struct {
	cfg     *Config
	store   meta.Store
	send    SendRequestFunc
	logger  log.Logger
	metrics *Metrics

	ctx *Context
	psm *PartitionStateMachine

	// liveBrokerIDs snapshots cluster membership, injected by the liveness
	// tracker.
	liveBrokerIDs func() []int32

	workCh     chan func()
	shutdownCh chan struct{}
	shutdown   int32
	wg         sync.WaitGroup

	active int32
}

func New(cfg *Config, store meta.Store, send SendRequestFunc, liveBrokerIDs func() []int32, reg prometheus.Registerer, logger log.Logger) *Controller {
	logger = logger.With(log.Int32("controller", cfg.ID))
	metrics := NewMetrics(reg)
	ctx := NewContext()
	psm := NewPartitionStateMachine(cfg.ID, ctx, store, send, metrics, logger)
	if cfg.MaxElectionRetries > 0 {
		psm.maxElectionRetries = cfg.MaxElectionRetries
	}
	c := &Controller{
		cfg:           cfg,
		store:         store,
		send:          send,
		logger:        logger,
		metrics:       metrics,
		ctx:           ctx,
		psm:           psm,
		liveBrokerIDs: liveBrokerIDs,
		workCh:        make(chan func(), cfg.WorkQueueDepth),
		shutdownCh:    make(chan struct{}),
	}
	topicListener := NewTopicChangeListener(psm, ctx, store, c.enqueue, c.onNewTopicCreation, logger)
	psm.SetTopicChangeListener(topicListener)
	return c
}

// Context exposes the controller's in-memory cluster view.
func (c *Controller) Context() *Context { return c.ctx }

// StateMachine exposes the partition state machine.
func (c *Controller) StateMachine() *PartitionStateMachine { return c.psm }

// IsActive reports whether this process currently holds the controller role.
func (c *Controller) IsActive() bool { return atomic.LoadInt32(&c.active) == 1 }

// Startup starts the controller work loop. It does not make this process the
// controller; that happens when the elector reports a win via
// OnControllerFailover.
func (c *Controller) Startup() {
	c.wg.Add(1)
	go c.run()
}

func (c *Controller) run() {
	defer c.wg.Done()
	for {
		select {
		case fn := <-c.workCh:
			fn()
		case <-c.shutdownCh:
			return
		}
	}
}

// enqueue puts fn on the controller work queue. Events arriving after
// shutdown are dropped.
func (c *Controller) enqueue(fn func()) {
	select {
	case c.workCh <- fn:
	case <-c.shutdownCh:
	}
}

// Shutdown stops the work loop and the state machine.
func (c *Controller) Shutdown() {
	if !atomic.CompareAndSwapInt32(&c.shutdown, 0, 1) {
		return
	}
	close(c.shutdownCh)
	c.wg.Wait()
	c.ctx.Lock.Lock()
	defer c.ctx.Lock.Unlock()
	atomic.StoreInt32(&c.active, 0)
	c.psm.Shutdown()
}

// OnControllerFailover is invoked by the elector when this process wins the
// controller election. It runs on the controller goroutine.
func (c *Controller) OnControllerFailover() {
	c.enqueue(func() {
		c.ctx.Lock.Lock()
		defer c.ctx.Lock.Unlock()
		if err := c.controllerFailover(); err != nil {
			c.logger.Error("controller failover failed", log.Error("error", err))
		}
	})
}

// OnControllerResignation is invoked by the elector when the controller role
// is lost (session expiry or a newer controller).
func (c *Controller) OnControllerResignation() {
	c.enqueue(func() {
		c.ctx.Lock.Lock()
		defer c.ctx.Lock.Unlock()
		atomic.StoreInt32(&c.active, 0)
		c.psm.Shutdown()
		c.logger.Info("resigned as controller", log.Int32("epoch", c.ctx.Epoch))
	})
}

// controllerFailover takes this process through a full controller takeover:
// bump the durable epoch, rebuild the context from the store, start the
// partition state machine and register listeners.
func (c *Controller) controllerFailover() error {
	if err := c.incrementControllerEpoch(); err != nil {
		return err
	}
	if err := c.initializeControllerContext(); err != nil {
		return err
	}
	if err := c.psm.Startup(); err != nil {
		return err
	}
	for _, topic := range c.ctx.Topics() {
		c.registerPartitionChangeListener(topic)
	}
	atomic.StoreInt32(&c.active, 1)
	c.metrics.ControllerElections.Inc()
	c.logger.Info("controller failover complete",
		log.Int32("epoch", c.ctx.Epoch),
		log.Int("topics", len(c.ctx.Topics())),
		log.Int("partitions", len(c.ctx.PartitionReplicaAssignment)))
	return nil
}

// incrementControllerEpoch bumps /controller_epoch with a conditional update
// fenced by the version read. Losing the race means another candidate won in
// between; this controller must not proceed.
func (c *Controller) incrementControllerEpoch() error {
	data, version, err := c.store.Read(meta.ControllerEpochPath)
	if meta.IsNoNode(err) {
		c.ctx.Epoch = 1
		c.ctx.EpochZKVersion = 0
		if cerr := c.store.CreatePersistent(meta.ControllerEpochPath, meta.EncodeEpoch(1)); cerr != nil {
			return errors.Wrap(cerr, "create controller epoch node")
		}
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "read controller epoch")
	}
	epoch, err := meta.DecodeEpoch(data)
	if err != nil {
		return err
	}
	newVersion, err := c.store.ConditionalUpdate(meta.ControllerEpochPath, meta.EncodeEpoch(epoch+1), version)
	if err != nil {
		if meta.IsBadVersion(err) {
			return errors.New("controller epoch moved underneath us, another controller won")
		}
		return errors.Wrap(err, "bump controller epoch")
	}
	c.ctx.Epoch = epoch + 1
	c.ctx.EpochZKVersion = newVersion
	return nil
}

// initializeControllerContext loads the live brokers from the membership
// snapshot, and topics and replica assignments from the store, into the
// context. Leader cache entries are
// filled in by the state machine as it reads each partition's durable node.
func (c *Controller) initializeControllerContext() error {
	c.ctx.SetLiveBrokers(c.liveBrokerIDs())

	topics, err := c.store.Children(meta.TopicsPath)
	if meta.IsNoNode(err) {
		topics = nil
	} else if err != nil {
		return errors.Wrap(err, "list topics")
	}
	c.ctx.SetTopics(topics)

	c.ctx.PartitionReplicaAssignment = make(map[PartitionID][]int32)
	for _, topic := range topics {
		data, _, err := c.store.Read(meta.TopicPath(topic))
		if err != nil {
			return errors.Wrapf(err, "read topic %s", topic)
		}
		ta, err := meta.DecodeTopicAssignment(data)
		if err != nil {
			return err
		}
		byPartition, err := ta.AssignmentByPartition()
		if err != nil {
			return err
		}
		for partition, replicas := range byPartition {
			c.ctx.PartitionReplicaAssignment[PartitionID{Topic: topic, Partition: partition}] = replicas
		}
	}
	return nil
}

func (c *Controller) registerPartitionChangeListener(topic string) {
	l := NewPartitionChangeListener(c.psm, c.ctx, topic, c.logger)
	if err := c.store.SubscribeChildChanges(meta.TopicPartitionsPath(topic), l.HandleChildChange); err != nil {
		c.logger.Error("failed to register partition listener",
			log.String("topic", topic), log.Error("error", err))
	}
}

// onNewTopicCreation drives each brand-new partition NonExistent -> New ->
// Online. Runs under the controller lock, called from the topic listener.
func (c *Controller) onNewTopicCreation(topics []string, partitions []PartitionID) error {
	for _, topic := range topics {
		c.registerPartitionChangeListener(topic)
	}
	if err := c.psm.HandleStateChanges(partitions, NewPartition, nil); err != nil {
		return err
	}
	selector := NewOfflinePartitionLeaderSelector(c.ctx, c.metrics, c.logger)
	return c.psm.HandleStateChanges(partitions, OnlinePartition, selector)
}

// OnBrokerStartup records a broker joining and retries every partition stuck
// in New or Offline; the newcomer may be the replica they were waiting for.
func (c *Controller) OnBrokerStartup(id int32) {
	c.enqueue(func() {
		c.ctx.Lock.Lock()
		defer c.ctx.Lock.Unlock()
		if !c.IsActive() {
			return
		}
		c.ctx.AddLiveBroker(id)
		c.logger.Info("broker up", log.Int32("broker", id))
		if err := c.psm.TriggerOnlinePartitionStateChange(); err != nil {
			c.logger.Error("online pass after broker startup failed", log.Error("error", err))
		}
	})
}

// OnBrokerFailure records a broker dying, takes the partitions it led
// offline and re-elects leaders for them.
func (c *Controller) OnBrokerFailure(id int32) {
	c.enqueue(func() {
		c.ctx.Lock.Lock()
		defer c.ctx.Lock.Unlock()
		if !c.IsActive() {
			return
		}
		c.ctx.RemoveLiveBroker(id)
		c.logger.Info("broker down", log.Int32("broker", id))

		affected := c.ctx.PartitionsLedBy(id)
		var toOffline []PartitionID
		for _, p := range affected {
			if c.psm.CurrentState(p) == OnlinePartition {
				toOffline = append(toOffline, p)
			}
		}
		if err := c.psm.HandleStateChanges(toOffline, OfflinePartition, nil); err != nil {
			c.logger.Error("offline pass after broker failure failed", log.Error("error", err))
			return
		}
		if err := c.psm.TriggerOnlinePartitionStateChange(); err != nil {
			c.logger.Error("online pass after broker failure failed", log.Error("error", err))
		}
	})
}
