package transport

import (
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gateway-fm/chainbench/internal/broadcast"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Allow requests without Origin header (same-origin or direct)
		}

		// Parse the origin URL
		originURL, err := url.Parse(origin)
		if err != nil {
			return false
		}

		// Allow same origin (same host)
		if originURL.Host == r.Host {
			return true
		}

		// Allow localhost connections (common for development)
		if originURL.Hostname() == "localhost" || originURL.Hostname() == "127.0.0.1" {
			return true
		}

		return false
	},
}

// WebSocketServer streams hub events to WebSocket clients. Each connection
// is one hub subscriber with its own writer.
type WebSocketServer struct {
	hub    *broadcast.Hub
	logger *slog.Logger

	// Connected clients
	clients   map[*websocket.Conn]string
	clientsMu sync.Mutex
}

// NewWebSocketServer creates a new WebSocket server.
func NewWebSocketServer(hub *broadcast.Hub, logger *slog.Logger) *WebSocketServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketServer{
		hub:     hub,
		logger:  logger,
		clients: make(map[*websocket.Conn]string),
	}
}

// Handler returns the WebSocket HTTP handler.
func (ws *WebSocketServer) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			ws.logger.Error("WebSocket upgrade failed", slog.String("error", err.Error()))
			return
		}

		sub := ws.hub.Subscribe()

		ws.clientsMu.Lock()
		ws.clients[conn] = sub.ID
		total := len(ws.clients)
		ws.clientsMu.Unlock()

		ws.logger.Debug("WebSocket client connected",
			slog.String("subscriber", sub.ID),
			slog.Int("total_clients", total),
		)

		defer func() {
			ws.hub.Unsubscribe(sub.ID)
			ws.clientsMu.Lock()
			delete(ws.clients, conn)
			total := len(ws.clients)
			ws.clientsMu.Unlock()
			conn.Close()

			ws.logger.Debug("WebSocket client disconnected",
				slog.String("subscriber", sub.ID),
				slog.Int("total_clients", total),
			)
		}()

		// Read messages (mainly for ping/pong and close frames)
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
						ws.logger.Debug("WebSocket read error", slog.String("error", err.Error()))
					}
					return
				}
			}
		}()

		for {
			select {
			case <-closed:
				return
			case msg, ok := <-sub.Messages():
				if !ok {
					conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
						time.Now().Add(time.Second))
					return
				}
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					ws.logger.Debug("Failed to write to WebSocket", slog.String("error", err.Error()))
					return
				}
			}
		}
	}
}

// Stop disconnects every client.
func (ws *WebSocketServer) Stop() {
	ws.clientsMu.Lock()
	defer ws.clientsMu.Unlock()
	for conn, id := range ws.clients {
		ws.hub.Unsubscribe(id)
		conn.Close()
	}
	ws.clients = make(map[*websocket.Conn]string)
}
