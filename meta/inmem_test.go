package meta

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInMemoryCreateAndRead(t *testing.T) {
	s := NewInMemory()
	require.NoError(t, s.CreatePersistent("/brokers/topics/a", []byte("x")))

	data, version, err := s.Read("/brokers/topics/a")
	require.NoError(t, err)
	require.Equal(t, []byte("x"), data)
	require.Equal(t, int32(0), version)

	// Parents were created along the way.
	children, err := s.Children("/brokers/topics")
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, children)

	require.Equal(t, ErrNodeExists, s.CreatePersistent("/brokers/topics/a", nil))
	_, _, err = s.Read("/nope")
	require.Equal(t, ErrNoNode, err)
}

func TestInMemoryConditionalUpdate(t *testing.T) {
	s := NewInMemory()
	require.NoError(t, s.CreatePersistent("/n", []byte("v0")))

	v1, err := s.ConditionalUpdate("/n", []byte("v1"), 0)
	require.NoError(t, err)
	require.Equal(t, int32(1), v1)

	// A write fenced on a stale version loses.
	_, err = s.ConditionalUpdate("/n", []byte("v1b"), 0)
	require.Equal(t, ErrBadVersion, err)

	data, version, err := s.Read("/n")
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), data)
	require.Equal(t, int32(1), version)

	_, err = s.ConditionalUpdate("/absent", nil, 0)
	require.Equal(t, ErrNoNode, err)
}

func TestInMemoryChildWatch(t *testing.T) {
	s := NewInMemory()
	require.NoError(t, s.CreatePersistent("/brokers/topics", nil))

	var calls [][]string
	require.NoError(t, s.SubscribeChildChanges("/brokers/topics", func(parent string, children []string) {
		require.Equal(t, "/brokers/topics", parent)
		calls = append(calls, children)
	}))

	require.NoError(t, s.CreatePersistent("/brokers/topics/a", nil))
	require.NoError(t, s.CreatePersistent("/brokers/topics/b", nil))
	require.NoError(t, s.Delete("/brokers/topics/a"))

	require.Equal(t, [][]string{{"a"}, {"a", "b"}, {"b"}}, calls)
}

func TestInMemoryDataWatch(t *testing.T) {
	s := NewInMemory()
	var gone bool
	var seen [][]byte
	require.NoError(t, s.SubscribeDataChanges("/controller", func(path string, data []byte, exists bool) {
		if !exists {
			gone = true
			return
		}
		seen = append(seen, data)
	}))

	require.NoError(t, s.CreateEphemeral("/controller", []byte("a")))
	_, err := s.ConditionalUpdate("/controller", []byte("b"), 0)
	require.NoError(t, err)
	require.NoError(t, s.Delete("/controller"))

	require.Equal(t, [][]byte{[]byte("a"), []byte("b")}, seen)
	require.True(t, gone)
}

func TestInMemoryDeleteSubtree(t *testing.T) {
	s := NewInMemory()
	require.NoError(t, s.CreatePersistent("/t/partitions/0/state", []byte("x")))
	require.NoError(t, s.Delete("/t"))

	_, _, err := s.Read("/t/partitions/0/state")
	require.Equal(t, ErrNoNode, err)
	_, _, err = s.Read("/t")
	require.Equal(t, ErrNoNode, err)
}
