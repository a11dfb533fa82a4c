package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atmx/fof-nav/internal/metrics"
)

// Run notification types.
const (
	MsgRunCompleted = "run_completed"
	MsgRunFailed    = "run_failed"
)

// Message tells dashboards that a fund's NAV series was rewritten, or that a
// recompute failed and the stored series is unchanged.
type Message struct {
	Type      string `json:"type"`
	RunID     string `json:"run_id"`
	ManagerID string `json:"manager_id"`
	FofID     string `json:"fof_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	NAV       string `json:"nav,omitempty"`
	Records   int    `json:"records,omitempty"`
	Error     string `json:"error,omitempty"`
}

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// subscriber is one dashboard connection. An empty fofID follows every fund.
type subscriber struct {
	conn  *websocket.Conn
	fofID string
}

func (s subscriber) wants(m Message) bool {
	return s.fofID == "" || s.fofID == m.FofID
}

// Hub pushes run notifications to dashboards over WebSocket.
type Hub struct {
	mu   sync.RWMutex
	subs map[*websocket.Conn]subscriber

	join  chan subscriber
	leave chan *websocket.Conn
	out   chan Message
}

func NewHub() *Hub {
	return &Hub{
		subs:  make(map[*websocket.Conn]subscriber),
		join:  make(chan subscriber),
		leave: make(chan *websocket.Conn),
		out:   make(chan Message, 256),
	}
}

// Run delivers notifications until ctx is done, then closes every
// connection.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.subs {
				conn.Close()
			}
			h.subs = make(map[*websocket.Conn]subscriber)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return

		case s := <-h.join:
			h.mu.Lock()
			h.subs[s.conn] = s
			n := len(h.subs)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
			slog.Info("dashboard subscribed", "fof", s.fofID, "total", n)

		case conn := <-h.leave:
			h.drop(conn)

		case m := <-h.out:
			data, err := json.Marshal(m)
			if err != nil {
				continue
			}
			h.mu.RLock()
			var failed []*websocket.Conn
			for conn, s := range h.subs {
				if !s.wants(m) {
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					failed = append(failed, conn)
				}
			}
			h.mu.RUnlock()
			for _, conn := range failed {
				h.drop(conn)
			}
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.subs[conn]; ok {
		delete(h.subs, conn)
		conn.Close()
	}
	n := len(h.subs)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(n))
}

// Broadcast queues m. It never blocks: with the queue full the notification
// is dropped and dashboards catch up on the next run.
func (h *Hub) Broadcast(m Message) {
	select {
	case h.out <- m:
	default:
		slog.Warn("run notification dropped", "fof", m.FofID, "run", m.RunID)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles GET /api/v1/ws[?fof=]. With fof set only that fund's runs
// are pushed.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}
	h.join <- subscriber{conn: conn, fofID: r.URL.Query().Get("fof")}

	// Dashboards send nothing; reading only detects a closed connection.
	go func() {
		defer func() { h.leave <- conn }()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.subs[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingPeriod)); err != nil {
				return
			}
		}
	}()
}
