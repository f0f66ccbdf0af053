package status

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kstaniek/go-pidsky/internal/hub"
	"github.com/kstaniek/go-pidsky/internal/logging"
	"github.com/kstaniek/go-pidsky/internal/metrics"
)

const (
	writeDeadline = 5 * time.Second
	pingInterval  = 30 * time.Second
	readDeadline  = 3 * pingInterval
	maxReadSize   = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// read-only feed; any origin may watch
	CheckOrigin: func(*http.Request) bool { return true },
}

// Handlers returns the status endpoints keyed by path, ready to mount next
// to /metrics.
func Handlers(m *Mirror, h *hub.Hub) map[string]http.Handler {
	return map[string]http.Handler{
		"/state": StateHandler(m),
		"/ws":    FeedHandler(m, h),
	}
}

// StateHandler serves the current snapshot as JSON.
func StateHandler(m *Mirror) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		if err := json.NewEncoder(w).Encode(m.Snapshot()); err != nil {
			metrics.IncError(metrics.ErrStatusWrite)
		}
	})
}

// FeedHandler upgrades to a websocket and streams Updates, starting with a
// full snapshot.
func FeedHandler(m *Mirror, h *hub.Hub) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.L().Debug("status_upgrade_failed", "error", err)
			return
		}
		l := logging.L().With("remote", r.RemoteAddr)
		cl := h.NewClient()
		h.Add(cl)
		defer h.Remove(cl)
		defer conn.Close()
		l.Info("status_client_connected")
		defer l.Info("status_client_disconnected")

		// registered before the snapshot so no update is lost in between
		snap := m.Snapshot()
		if err := writeJSON(conn, Update{Type: "snapshot", Snapshot: &snap}); err != nil {
			metrics.IncError(metrics.ErrStatusWrite)
			return
		}

		go readLoop(conn, cl)

		ping := time.NewTicker(pingInterval)
		defer ping.Stop()
		for {
			select {
			case msg := <-cl.Out:
				_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					metrics.IncError(metrics.ErrStatusWrite)
					return
				}
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
					return
				}
			case <-cl.Closed:
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeDeadline))
				return
			case <-r.Context().Done():
				return
			}
		}
	})
}

// readLoop discards client messages and closes the client when the peer
// goes away.
func readLoop(conn *websocket.Conn, cl *hub.Client) {
	defer cl.Close()
	conn.SetReadLimit(maxReadSize)
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return conn.WriteJSON(v)
}
