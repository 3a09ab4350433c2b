package meta

import "github.com/pkg/errors"

var (
	ErrNoNode     = errors.New("node does not exist")
	ErrNodeExists = errors.New("node exists already")
	ErrBadVersion = errors.New("version mismatch")
)

// ChildListener receives the full current child list of a watched node each
// time its children change. Delivery is at-least-once.
type ChildListener func(parentPath string, children []string)

// DataListener receives a node's data each time it changes. exists is false
// when the node has been deleted.
type DataListener func(path string, data []byte, exists bool)

// Store is a hierarchical key-value store with versioned nodes, the durable
// home of all cluster metadata. Implementations must be safe for concurrent
// use.
type Store interface {
	// Children lists the names of path's children. Returns ErrNoNode if the
	// node is absent.
	Children(path string) ([]string, error)

	// Read returns the node's data and its current version. Returns ErrNoNode
	// if the node is absent.
	Read(path string) (data []byte, version int32, err error)

	// CreatePersistent creates a durable node, creating missing parents.
	// Returns ErrNodeExists if the node is already present.
	CreatePersistent(path string, data []byte) error

	// CreateEphemeral creates a node tied to this session; it is removed when
	// the session ends. Returns ErrNodeExists if the node is already present.
	CreateEphemeral(path string, data []byte) error

	// ConditionalUpdate writes data only if the node's current version equals
	// expectedVersion, returning the new version. Returns ErrBadVersion on a
	// version mismatch and ErrNoNode if the node is absent.
	ConditionalUpdate(path string, data []byte, expectedVersion int32) (newVersion int32, err error)

	// SubscribeChildChanges registers a listener invoked whenever path's
	// child set changes.
	SubscribeChildChanges(path string, listener ChildListener) error

	// SubscribeDataChanges registers a listener invoked whenever path's data
	// changes or the node is created or deleted.
	SubscribeDataChanges(path string, listener DataListener) error

	Close() error
}

// IsNoNode reports whether err is ErrNoNode, possibly wrapped.
func IsNoNode(err error) bool { return errors.Cause(err) == ErrNoNode }

// IsNodeExists reports whether err is ErrNodeExists, possibly wrapped.
func IsNodeExists(err error) bool { return errors.Cause(err) == ErrNodeExists }

// IsBadVersion reports whether err is ErrBadVersion, possibly wrapped.
func IsBadVersion(err error) bool { return errors.Cause(err) == ErrBadVersion }
