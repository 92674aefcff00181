// Package notify delivers settlement events to live client sessions: a
// WebSocket hub holding per-user subscriptions, fronted by a dispatcher that
// deduplicates deliveries per contract.
package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/optx/option-engine/internal/metrics"
)

// Event is the JSON message pushed to a user's connections when one of
// their contracts settles or is voided.
type Event struct {
	Type       string `json:"type"` // "contract_settled" or "contract_voided"
	ContractID string `json:"contract_id"`
	UserID     string `json:"user_id"`
	Symbol     string `json:"symbol"`
	Result     string `json:"result,omitempty"`
	ExitPrice  string `json:"exit_price,omitempty"`
	Profit     string `json:"profit,omitempty"`
	Balance    string `json:"balance,omitempty"`
}

type subscription struct {
	conn   *websocket.Conn
	userID string
}

type userMessage struct {
	userID string
	data   []byte
}

// Hub manages WebSocket connections keyed by user and sends each event only
// to that user's live connections. Delivery is best-effort: a user with no
// open connection simply misses the push and recovers state by polling.
type Hub struct {
	users      map[string]map[*websocket.Conn]bool
	send       chan userMessage
	register   chan subscription
	unregister chan subscription
	mu         sync.RWMutex
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		users:      make(map[string]map[*websocket.Conn]bool),
		send:       make(chan userMessage, 256),
		register:   make(chan subscription, 16),
		unregister: make(chan subscription, 16),
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			conns, ok := h.users[sub.userID]
			if !ok {
				conns = make(map[*websocket.Conn]bool)
				h.users[sub.userID] = conns
			}
			conns[sub.conn] = true
			h.mu.Unlock()
			metrics.WebSocketClients.Inc()
			slog.Info("ws client connected", "user", sub.userID)

		case sub := <-h.unregister:
			h.mu.Lock()
			if conns, ok := h.users[sub.userID]; ok {
				if conns[sub.conn] {
					delete(conns, sub.conn)
					sub.conn.Close()
					metrics.WebSocketClients.Dec()
				}
				if len(conns) == 0 {
					delete(h.users, sub.userID)
				}
			}
			h.mu.Unlock()

		case msg := <-h.send:
			h.mu.Lock()
			for conn := range h.users[msg.userID] {
				if err := conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
					conn.Close()
					delete(h.users[msg.userID], conn)
					metrics.WebSocketClients.Dec()
				}
			}
			if len(h.users[msg.userID]) == 0 {
				delete(h.users, msg.userID)
			}
			h.mu.Unlock()
		}
	}
}

// Send delivers an event to all of a user's live connections.
// Fire-and-forget: drops if the buffer is full rather than blocking
// settlement.
func (h *Hub) Send(userID string, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	select {
	case h.send <- userMessage{userID: userID, data: data}:
	default:
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws?user_id=…
// The surrounding platform authenticates the session; the hub only maps
// the connection to its user.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	sub := subscription{conn: conn, userID: userID}
	h.register <- sub

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() { h.unregister <- sub }()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.users[userID][conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()
}
