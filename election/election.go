// Package election elects the cluster controller through the metadata store:
// candidates race to create the ephemeral /controller node, and the winner's
// session keeps it alive. Losers watch the node and re-run the race when it
// disappears.
package election

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/castellan/castellan/log"
	"github.com/castellan/castellan/meta"
)

// Elector runs this process's candidacy for the controller role.
type Elector struct {
	store    meta.Store
	brokerID int32
	logger   log.Logger

	onElected  func()
	onResigned func()

	mu      sync.Mutex
	leader  int32
	stopped int32
}

func NewElector(store meta.Store, brokerID int32, logger log.Logger) *Elector {
	return &Elector{
		store:    store,
		brokerID: brokerID,
		logger:   logger.With(log.String("component", "election"), log.Int32("id", brokerID)),
		leader:   -1,
	}
}

// Start registers candidacy. onElected fires each time this process wins;
// onResigned fires when a held role is lost. Both are called either from
// Start's own goroutine or from the store's watch goroutine, and must only
// enqueue work.
func (e *Elector) Start(onElected, onResigned func()) error {
	e.onElected = onElected
	e.onResigned = onResigned
	if err := e.store.SubscribeDataChanges(meta.ControllerPath, e.handleControllerChange); err != nil {
		return errors.Wrap(err, "watch controller node")
	}
	e.elect()
	return nil
}

// IsLeader reports whether this process currently holds /controller.
func (e *Elector) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leader == e.brokerID
}

// CurrentLeader returns the broker id holding the role, or -1 if unknown.
func (e *Elector) CurrentLeader() int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leader
}

func (e *Elector) elect() {
	if atomic.LoadInt32(&e.stopped) == 1 {
		return
	}
	data, err := meta.EncodeController(&meta.ControllerNode{Version: 1, BrokerID: e.brokerID})
	if err != nil {
		e.logger.Error("encode controller node", log.Error("error", err))
		return
	}
	err = e.store.CreateEphemeral(meta.ControllerPath, data)
	switch {
	case err == nil:
		e.setLeader(e.brokerID, true)
		e.logger.Info("won controller election")
		if e.onElected != nil {
			e.onElected()
		}
	case meta.IsNodeExists(err):
		// Lost the race; the data watch tells us who won and when to try
		// again.
		e.readCurrentLeader()
	default:
		e.logger.Error("controller candidacy failed", log.Error("error", err))
	}
}

func (e *Elector) readCurrentLeader() {
	data, _, err := e.store.Read(meta.ControllerPath)
	if err != nil {
		return
	}
	node, err := meta.DecodeController(data)
	if err != nil {
		e.logger.Error("decode controller node", log.Error("error", err))
		return
	}
	e.setLeader(node.BrokerID, false)
	e.logger.Info("following controller", log.Int32("leader", node.BrokerID))
}

// handleControllerChange is the data watch on /controller. Deletion means
// the controller's session ended; every candidate re-runs the race.
func (e *Elector) handleControllerChange(path string, data []byte, exists bool) {
	if atomic.LoadInt32(&e.stopped) == 1 {
		return
	}
	if !exists {
		e.setLeader(-1, false)
		e.elect()
		return
	}
	node, err := meta.DecodeController(data)
	if err != nil {
		e.logger.Error("decode controller node", log.Error("error", err))
		return
	}
	e.setLeader(node.BrokerID, false)
}

// setLeader records the observed leader and fires onResigned when we held
// the role and lost it.
func (e *Elector) setLeader(id int32, won bool) {
	e.mu.Lock()
	wasLeader := e.leader == e.brokerID
	e.leader = id
	isLeader := id == e.brokerID
	e.mu.Unlock()
	if wasLeader && !isLeader && !won && e.onResigned != nil {
		e.onResigned()
	}
}

// Stop withdraws from future elections. The ephemeral node, if held, goes
// away with the store session.
func (e *Elector) Stop() {
	atomic.StoreInt32(&e.stopped, 1)
}
