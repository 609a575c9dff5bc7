package tunnel

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestWSConn dials a real WebSocket connection against a throwaway
// httptest server so Connection's tests exercise an actual *websocket.Conn
// without needing a live tunnel handshake.
func newTestWSConn(t *testing.T) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	url := "ws" + srv.URL[len("http"):]
	clientConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close() })
	return clientConn
}

func TestConnection_AllocStreamID_SkipsOccupiedIDs(t *testing.T) {
	conn := NewConnection("node-1", newTestWSConn(t), defaultMaxStreams)

	conn.mu.Lock()
	conn.streams[2] = newStreamState(2)
	conn.streams[4] = newStreamState(4)
	conn.mu.Unlock()

	id, err := conn.AllocStreamID()
	require.NoError(t, err)
	assert.Equal(t, uint32(6), id)
}

func TestConnection_OpenStream_IncrementsLoad(t *testing.T) {
	conn := NewConnection("node-1", newTestWSConn(t), defaultMaxStreams)

	state, err := conn.OpenStream([]byte("headers"))
	require.NoError(t, err)
	assert.Equal(t, 1, conn.Load())
	assert.True(t, conn.HasCapacity())

	conn.releaseStream(state.ID)
	assert.Equal(t, 0, conn.Load())
}

func TestConnection_OpenStream_FailsAtCapacity(t *testing.T) {
	conn := NewConnection("node-1", newTestWSConn(t), minMaxStreams)

	for i := 0; i < minMaxStreams; i++ {
		_, err := conn.OpenStream([]byte("headers"))
		require.NoError(t, err)
	}
	assert.False(t, conn.HasCapacity())

	_, err := conn.OpenStream([]byte("headers"))
	assert.Error(t, err)
}

func TestConnection_ReleaseStream_IdempotentOnUnknownID(t *testing.T) {
	conn := NewConnection("node-1", newTestWSConn(t), defaultMaxStreams)
	assert.NotPanics(t, func() { conn.releaseStream(999) })
	assert.Equal(t, 0, conn.Load())
}
