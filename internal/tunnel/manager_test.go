package tunnel

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	applied []string
}

func (s *recordingSink) ApplyIfNewer(nodeID string, status string, eventTime time.Time) bool {
	s.applied = append(s.applied, nodeID+":"+status)
	return true
}

func newTestManager(t *testing.T) *Manager {
	return NewManager(&recordingSink{}, slog.New(slog.DiscardHandler), defaultMaxStreams)
}

func TestManager_LeastLoaded_PicksLowestLoad(t *testing.T) {
	m := newTestManager(t)
	busy := NewConnection("node-1", newTestWSConn(t), defaultMaxStreams)
	idle := NewConnection("node-1", newTestWSConn(t), defaultMaxStreams)

	_, err := busy.OpenStream([]byte("h"))
	require.NoError(t, err)
	_, err = busy.OpenStream([]byte("h"))
	require.NoError(t, err)

	m.AddConnection(context.Background(), "node-1", busy)
	m.AddConnection(context.Background(), "node-1", idle)

	picked, err := m.LeastLoaded("node-1")
	require.NoError(t, err)
	assert.Same(t, idle, picked)
}

func TestManager_LeastLoaded_SkipsConnectionsAtCapacity(t *testing.T) {
	m := newTestManager(t)
	full := NewConnection("node-1", newTestWSConn(t), minMaxStreams)
	for i := 0; i < minMaxStreams; i++ {
		_, err := full.OpenStream([]byte("h"))
		require.NoError(t, err)
	}
	spare := NewConnection("node-1", newTestWSConn(t), minMaxStreams)

	m.AddConnection(context.Background(), "node-1", full)
	m.AddConnection(context.Background(), "node-1", spare)

	picked, err := m.LeastLoaded("node-1")
	require.NoError(t, err)
	assert.Same(t, spare, picked)
}

func TestManager_LeastLoaded_NoConnectionsForNode(t *testing.T) {
	m := newTestManager(t)
	_, err := m.LeastLoaded("unknown-node")
	assert.Error(t, err)
}

func TestManager_NodeCount(t *testing.T) {
	m := newTestManager(t)
	assert.Equal(t, 0, m.NodeCount("node-1"))

	m.AddConnection(context.Background(), "node-1", NewConnection("node-1", newTestWSConn(t), defaultMaxStreams))
	m.AddConnection(context.Background(), "node-1", NewConnection("node-1", newTestWSConn(t), defaultMaxStreams))

	assert.Equal(t, 2, m.NodeCount("node-1"))
}

func TestManager_ReapWhenClosed_RemovesFromPool(t *testing.T) {
	m := newTestManager(t)
	conn := NewConnection("node-1", newTestWSConn(t), defaultMaxStreams)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.AddConnection(ctx, "node-1", conn)
	require.Equal(t, 1, m.NodeCount("node-1"))

	conn.shutdown(nil)

	require.Eventually(t, func() bool {
		return m.NodeCount("node-1") == 0
	}, time.Second, 10*time.Millisecond)
}
