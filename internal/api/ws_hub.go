package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/aurumvault/gold-ledger/internal/metrics"
	"github.com/aurumvault/gold-ledger/internal/model"
)

// WSMessage is a JSON message sent to WebSocket clients after a commit.
type WSMessage struct {
	Type          string          `json:"type"`
	OwnerID       string          `json:"owner_id"`
	Action        model.Action    `json:"action"`
	TransactionID string          `json:"transaction_id"`
	TotalGrams    decimal.Decimal `json:"total_grams"`
	At            time.Time       `json:"at"`
}

type outbound struct {
	owner string
	data  []byte
}

// WSHub manages WebSocket connections and pushes commit events to clients.
// A client that connected with ?owner_id= only receives that owner's events.
type WSHub struct {
	clients    map[*websocket.Conn]string
	broadcast  chan outbound
	register   chan wsClient
	unregister chan *websocket.Conn
	done       chan struct{} // closed when Run returns
	mu         sync.RWMutex
}

type wsClient struct {
	conn  *websocket.Conn
	owner string
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*websocket.Conn]string),
		broadcast:  make(chan outbound, 256),
		register:   make(chan wsClient),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's event loop and returns when ctx ends. Must be called
// in a goroutine, once. Connections arriving after it returns are closed.
func (h *WSHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.conn] = c.owner
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
			slog.Info("ws client connected", "owner", c.owner, "total", n)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn, owner := range h.clients {
				if owner != "" && owner != msg.owner {
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Notify queues a commit event for delivery.
func (h *WSHub) Notify(_ context.Context, ev model.CommitEvent) {
	data, err := json.Marshal(WSMessage{
		Type:          "commit",
		OwnerID:       ev.OwnerID,
		Action:        ev.Action,
		TransactionID: ev.TransactionID,
		TotalGrams:    ev.TotalGrams,
		At:            ev.At,
	})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- outbound{owner: ev.OwnerID, data: data}:
	default:
		// Drop if buffer full to avoid blocking ledger commits.
		slog.Warn("ws broadcast buffer full, event dropped", "owner", ev.OwnerID, "tx_id", ev.TransactionID)
	}
}

// Consume forwards events from a pub/sub stream until it closes.
func (h *WSHub) Consume(ctx context.Context, events <-chan model.CommitEvent) {
	for ev := range events {
		h.Notify(ctx, ev)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner_id")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	select {
	case h.register <- wsClient{conn: conn, owner: owner}:
	case <-h.done:
		conn.Close()
		return
	}

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
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
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}()
}
