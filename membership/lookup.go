package membership

import (
	"sync"

	"github.com/pkg/errors"
)

// Broker is a member of the cluster as seen through gossip.
type Broker struct {
	ID   int32
	Addr string
}

// brokerLookup tracks the brokers currently in the gossip ring, addressable
// by id or address.
type brokerLookup struct {
	lock         sync.RWMutex
	idToBroker   map[int32]*Broker
	addrToBroker map[string]*Broker
}

func newBrokerLookup() *brokerLookup {
	return &brokerLookup{
		idToBroker:   make(map[int32]*Broker),
		addrToBroker: make(map[string]*Broker),
	}
}

func (l *brokerLookup) AddBroker(broker *Broker) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.idToBroker[broker.ID] = broker
	l.addrToBroker[broker.Addr] = broker
}

func (l *brokerLookup) RemoveBroker(broker *Broker) {
	l.lock.Lock()
	defer l.lock.Unlock()
	delete(l.idToBroker, broker.ID)
	delete(l.addrToBroker, broker.Addr)
}

func (l *brokerLookup) BrokerByID(id int32) *Broker {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return l.idToBroker[id]
}

func (l *brokerLookup) BrokerByAddr(addr string) *Broker {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return l.addrToBroker[addr]
}

func (l *brokerLookup) BrokerAddr(id int32) (string, error) {
	l.lock.RLock()
	defer l.lock.RUnlock()
	b, ok := l.idToBroker[id]
	if !ok {
		return "", errors.Errorf("no broker with id %d", id)
	}
	return b.Addr, nil
}

func (l *brokerLookup) Brokers() []*Broker {
	l.lock.RLock()
	defer l.lock.RUnlock()
	out := make([]*Broker, 0, len(l.idToBroker))
	for _, b := range l.idToBroker {
		out = append(out, b)
	}
	return out
}

func (l *brokerLookup) BrokerIDs() []int32 {
	l.lock.RLock()
	defer l.lock.RUnlock()
	out := make([]int32, 0, len(l.idToBroker))
	for id := range l.idToBroker {
		out = append(out, id)
	}
	return out
}
