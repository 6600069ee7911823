package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"adgate/internal/models"
)

// Hub pushes gate snapshots to the pages watching them. A client connects to
// /ws?session=<id> and receives every tick and state change for that session.
type Hub struct {
	mu        sync.Mutex
	clients   map[*websocket.Conn]string
	broadcast chan models.GateSnapshot
	upgrader  websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]string),
		broadcast: make(chan models.GateSnapshot, 64),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Hub) Run() {
	for snap := range h.broadcast {
		msg, err := json.Marshal(map[string]any{"type": "gate", "gate": snap})
		if err != nil {
			slog.Error("Failed to marshal gate update", "error", err)
			continue
		}
		h.mu.Lock()
		for client, session := range h.clients {
			if session != snap.SessionID {
				continue
			}
			if err := client.WriteMessage(websocket.TextMessage, msg); err != nil {
				client.Close()
				delete(h.clients, client)
			}
		}
		h.mu.Unlock()
	}
}

// BroadcastGate never blocks the gate's state machine; if the hub is backed
// up the update is dropped and the next tick supersedes it.
func (h *Hub) BroadcastGate(snap models.GateSnapshot) {
	select {
	case h.broadcast <- snap:
	default:
		slog.Debug("Dropping gate update, hub busy", "session", snap.SessionID)
	}
}

func (h *Hub) WsHandler(w http.ResponseWriter, r *http.Request) {
	session := r.URL.Query().Get("session")
	if session == "" {
		http.Error(w, "session is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	slog.Info("Gate watcher connected", "session", session, "remote_addr", r.RemoteAddr)
	h.mu.Lock()
	h.clients[conn] = session
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
		slog.Info("Gate watcher disconnected", "session", session)
	}()

	waitTimeout := 60 * time.Second
	for {
		conn.SetReadDeadline(time.Now().Add(waitTimeout))
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WS read error", "error", err)
			}
			break
		}
	}
}
