package meta

import (
	"strings"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"

	"github.com/castellan/castellan/log"
)

// zkStore implements Store over a ZooKeeper ensemble.
type zkStore struct {
	conn   *zk.Conn
	logger log.Logger

	mu       sync.Mutex
	shutdown bool
	stopCh   chan struct{}
}

// Dial connects to the given ZooKeeper ensemble.
func Dial(servers []string, sessionTimeout time.Duration, logger log.Logger) (Store, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, errors.Wrap(err, "zk connect")
	}
	return &zkStore{
		conn:   conn,
		logger: logger.With(log.String("component", "zk")),
		stopCh: make(chan struct{}),
	}, nil
}

func (s *zkStore) Children(path string) ([]string, error) {
	children, _, err := s.conn.Children(path)
	if err != nil {
		return nil, convertZKErr(err, path)
	}
	return children, nil
}

func (s *zkStore) Read(path string) ([]byte, int32, error) {
	data, stat, err := s.conn.Get(path)
	if err != nil {
		return nil, 0, convertZKErr(err, path)
	}
	return data, stat.Version, nil
}

func (s *zkStore) CreatePersistent(path string, data []byte) error {
	err := s.create(path, data, 0)
	if err == zk.ErrNoNode {
		if perr := s.ensureParents(path); perr != nil {
			return perr
		}
		err = s.create(path, data, 0)
	}
	return convertZKErr(err, path)
}

func (s *zkStore) CreateEphemeral(path string, data []byte) error {
	err := s.create(path, data, zk.FlagEphemeral)
	if err == zk.ErrNoNode {
		if perr := s.ensureParents(path); perr != nil {
			return perr
		}
		err = s.create(path, data, zk.FlagEphemeral)
	}
	return convertZKErr(err, path)
}

func (s *zkStore) create(path string, data []byte, flags int32) error {
	_, err := s.conn.Create(path, data, flags, zk.WorldACL(zk.PermAll))
	return err
}

// ensureParents creates the missing ancestors of path as empty persistent
// nodes. A concurrent creator racing us is fine.
func (s *zkStore) ensureParents(path string) error {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	cur := ""
	for _, part := range parts[:len(parts)-1] {
		cur += "/" + part
		if err := s.create(cur, nil, 0); err != nil && err != zk.ErrNodeExists {
			return convertZKErr(err, cur)
		}
	}
	return nil
}

func (s *zkStore) ConditionalUpdate(path string, data []byte, expectedVersion int32) (int32, error) {
	stat, err := s.conn.Set(path, data, expectedVersion)
	if err != nil {
		return 0, convertZKErr(err, path)
	}
	return stat.Version, nil
}

func (s *zkStore) SubscribeChildChanges(path string, listener ChildListener) error {
	go s.watchChildren(path, listener)
	return nil
}

func (s *zkStore) watchChildren(path string, listener ChildListener) {
	for {
		children, _, ch, err := s.conn.ChildrenW(path)
		if err != nil {
			if s.closed() {
				return
			}
			s.logger.Error("child watch failed", log.String("path", path), log.Error("error", err))
			if !s.backoff() {
				return
			}
			continue
		}
		listener(path, children)
		select {
		case <-ch:
		case <-s.stopCh:
			return
		}
	}
}

func (s *zkStore) SubscribeDataChanges(path string, listener DataListener) error {
	go s.watchData(path, listener)
	return nil
}

func (s *zkStore) watchData(path string, listener DataListener) {
	for {
		exists, _, ch, err := s.conn.ExistsW(path)
		if err != nil {
			if s.closed() {
				return
			}
			s.logger.Error("data watch failed", log.String("path", path), log.Error("error", err))
			if !s.backoff() {
				return
			}
			continue
		}
		var data []byte
		if exists {
			data, _, err = s.conn.Get(path)
			if err != nil && err != zk.ErrNoNode {
				s.logger.Error("data watch read failed", log.String("path", path), log.Error("error", err))
			}
		}
		listener(path, data, exists)
		select {
		case <-ch:
		case <-s.stopCh:
			return
		}
	}
}

func (s *zkStore) backoff() bool {
	select {
	case <-time.After(time.Second):
		return true
	case <-s.stopCh:
		return false
	}
}

func (s *zkStore) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

func (s *zkStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return nil
	}
	s.shutdown = true
	close(s.stopCh)
	s.conn.Close()
	return nil
}

func convertZKErr(err error, path string) error {
	switch err {
	case nil:
		return nil
	case zk.ErrNoNode:
		return errors.Wrap(ErrNoNode, path)
	case zk.ErrNodeExists:
		return errors.Wrap(ErrNodeExists, path)
	case zk.ErrBadVersion:
		return errors.Wrap(ErrBadVersion, path)
	default:
		return errors.Wrapf(err, "zk: %s", path)
	}
}
