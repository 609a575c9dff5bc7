package tunnel

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// authTimeout bounds how long Authenticator.Authenticate may take once the
// socket is already accepted (spec §4.6: "Authentication must complete
// within a bounded timeout after WS accept; timeout → close with code
// 4002"). The original accepts first specifically so a slow auth backend
// doesn't surface as an HTTP 502 to the connecting proxy node.
const authTimeout = 5 * time.Second

// Authenticator validates the bearer token carried on the tunnel upgrade
// request's Authorization header.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) error
}

// Handler serves the proxy-tunnel WS endpoint (spec §6.1), accepting the
// socket first and authenticating it as the connection's first logical step,
// grounded on original_source's proxy_tunnel.py accept-then-auth handshake.
type Handler struct {
	manager  *Manager
	auth     Authenticator
	upgrader websocket.Upgrader
	logger   *slog.Logger

	maxStreamsPerConn int
}

func NewHandler(manager *Manager, auth Authenticator, logger *slog.Logger, maxStreamsPerConn int) *Handler {
	return &Handler{
		manager:           manager,
		auth:              auth,
		logger:            logger,
		maxStreamsPerConn: clampMaxStreams(maxStreamsPerConn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP implements the upgrade handshake described in spec §6.1: the
// node identifies itself and its capacity via headers on the upgrade
// request itself (Authorization, X-Node-Id, X-Node-Name,
// X-Tunnel-Max-Streams) — there is no separate post-upgrade auth frame.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	nodeID := r.Header.Get("X-Node-Id")
	if nodeID == "" {
		http.Error(w, "missing X-Node-Id header", http.StatusBadRequest)
		return
	}

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	maxStreams := h.maxStreamsPerConn
	if v := r.Header.Get("X-Tunnel-Max-Streams"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			maxStreams = clampMaxStreams(n)
		}
	}
	nodeName := r.Header.Get("X-Node-Name")

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("tunnel upgrade failed", "error", err)
		return
	}

	authCtx, cancel := context.WithTimeout(r.Context(), authTimeout)
	err = h.auth.Authenticate(authCtx, token)
	cancel()
	if err != nil {
		code := CloseUnauthorized
		if authCtx.Err() != nil {
			code = CloseAuthTimeout
		}
		h.logger.Warn("tunnel auth failed", "node_id", nodeID, "error", err)
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(int(code), "authentication failed"),
			time.Now().Add(2*time.Second))
		ws.Close()
		return
	}

	h.logger.Info("tunnel node connected", "node_id", nodeID, "node_name", nodeName, "max_streams", maxStreams)

	conn := NewConnection(nodeID, ws, maxStreams)
	connCtx, cancel := context.WithCancel(r.Context())

	go h.pingLoop(connCtx, conn)
	h.manager.AddConnection(connCtx, nodeID, conn)

	go func() {
		<-conn.Closed()
		cancel()
	}()
}

func (h *Handler) pingLoop(ctx context.Context, conn *Connection) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.writeFrame(Frame{Type: MsgPing}); err != nil {
				return
			}
		}
	}
}
