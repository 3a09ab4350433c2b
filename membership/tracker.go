package membership

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/hashicorp/serf/serf"
	"github.com/pkg/errors"

	"github.com/castellan/castellan/log"
)

// EventType says what happened to a broker in the gossip ring.
type EventType int

const (
	BrokerJoin EventType = iota
	BrokerFail
)

// Event is delivered on the tracker's event channel for each broker-level
// membership change.
type Event struct {
	Type   EventType
	Broker Broker
}

// Config configures a Tracker.
type Config struct {
	// ID and Addr identify this node in the ring.
	ID   int32
	Addr string
	// SerfConfig is the underlying serf configuration; BindAddr/BindPort on
	// its memberlist config select the gossip address.
	SerfConfig *serf.Config
	// StartJoinAddrs are ring members to contact at startup.
	StartJoinAddrs []string
}

func DefaultConfig() *Config {
	return &Config{SerfConfig: serf.DefaultConfig()}
}

// Tracker watches cluster membership through serf and translates member
// events into broker joins and failures for the controller. It is the
// controller's source of truth for which brokers are live.
type Tracker struct {
	config  *Config
	logger  log.Logger
	serf    *serf.Serf
	eventCh chan serf.Event
	lookup  *brokerLookup
	events  chan Event
	stopCh  chan struct{}
}

func NewTracker(config *Config, logger log.Logger) (*Tracker, error) {
	t := &Tracker{
		config:  config,
		logger:  logger.With(log.String("component", "membership"), log.Int32("id", config.ID)),
		eventCh: make(chan serf.Event, 256),
		lookup:  newBrokerLookup(),
		events:  make(chan Event, 256),
		stopCh:  make(chan struct{}),
	}

	conf := config.SerfConfig
	conf.EventCh = t.eventCh
	conf.NodeName = fmt.Sprintf("%d", config.ID)
	if conf.Tags == nil {
		conf.Tags = map[string]string{}
	}
	conf.Tags["id"] = strconv.Itoa(int(config.ID))
	conf.Tags["addr"] = config.Addr

	s, err := serf.Create(conf)
	if err != nil {
		return nil, errors.Wrap(err, "create serf")
	}
	t.serf = s

	go t.eventHandler()

	if len(config.StartJoinAddrs) > 0 {
		if _, err := s.Join(config.StartJoinAddrs, true); err != nil {
			t.logger.Error("failed to join ring at startup", log.Error("error", err))
		}
	}
	return t, nil
}

// Join contacts the given ring members.
func (t *Tracker) Join(addrs ...string) (int, error) {
	return t.serf.Join(addrs, true)
}

// Events delivers broker-level membership changes.
func (t *Tracker) Events() <-chan Event { return t.events }

// LiveBrokerIDs returns the ids of brokers currently in the ring, ascending.
func (t *Tracker) LiveBrokerIDs() []int32 {
	ids := t.lookup.BrokerIDs()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// LiveBrokers returns the brokers currently in the ring.
func (t *Tracker) LiveBrokers() []*Broker { return t.lookup.Brokers() }

// BrokerAddr resolves a broker id to its advertised address.
func (t *Tracker) BrokerAddr(id int32) (string, error) { return t.lookup.BrokerAddr(id) }

func (t *Tracker) eventHandler() {
	for {
		select {
		case e := <-t.eventCh:
			switch ev := e.(type) {
			case serf.MemberEvent:
				switch e.EventType() {
				case serf.EventMemberJoin:
					t.handleMembers(ev.Members, true)
				case serf.EventMemberFailed, serf.EventMemberReap, serf.EventMemberLeave:
					t.handleMembers(ev.Members, false)
				}
			}
		case <-t.stopCh:
			return
		}
	}
}

func (t *Tracker) handleMembers(members []serf.Member, join bool) {
	for _, m := range members {
		broker, ok := brokerFromMember(m)
		if !ok {
			t.logger.Debug("ignoring non-broker member", log.String("name", m.Name))
			continue
		}
		if join {
			t.lookup.AddBroker(broker)
			t.emit(Event{Type: BrokerJoin, Broker: *broker})
			t.logger.Info("broker joined", log.Int32("broker", broker.ID), log.String("addr", broker.Addr))
		} else {
			t.lookup.RemoveBroker(broker)
			t.emit(Event{Type: BrokerFail, Broker: *broker})
			t.logger.Info("broker left or failed", log.Int32("broker", broker.ID))
		}
	}
}

func (t *Tracker) emit(ev Event) {
	select {
	case t.events <- ev:
	default:
		// A stalled consumer must not wedge the serf event loop. The
		// dropped event is not redelivered; the lookup, and so
		// LiveBrokerIDs, already reflects the change.
		t.logger.Error("membership event channel full, dropping event")
	}
}

// brokerFromMember decodes the broker identity carried in a member's tags.
func brokerFromMember(m serf.Member) (*Broker, bool) {
	idStr, ok := m.Tags["id"]
	if !ok {
		return nil, false
	}
	id, err := strconv.ParseInt(idStr, 10, 32)
	if err != nil {
		return nil, false
	}
	return &Broker{ID: int32(id), Addr: m.Tags["addr"]}, true
}

// Shutdown leaves the ring and stops the event loop.
func (t *Tracker) Shutdown() error {
	close(t.stopCh)
	if err := t.serf.Leave(); err != nil {
		t.logger.Error("failed to leave ring", log.Error("error", err))
	}
	return t.serf.Shutdown()
}
