package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"bken/signaling/internal/hub"
	"bken/signaling/internal/protocol"
	"bken/signaling/internal/router"
)

// Options tunes one websocket connection.
type Options struct {
	MaxMessageBytes int64
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	PongTimeout     time.Duration
	// AllowedOrigin is matched against the Origin header; "*" or empty allows any.
	AllowedOrigin string
}

// DefaultOptions mirrors the transport defaults in the config package.
func DefaultOptions() Options {
	return Options{
		MaxMessageBytes: 1 << 20,
		WriteTimeout:    5 * time.Second,
		PingInterval:    25 * time.Second,
		PongTimeout:     20 * time.Second,
		AllowedOrigin:   "*",
	}
}

// Handler owns the websocket transport.
type Handler struct {
	router   *router.Router
	hub      *hub.Hub
	upgrader websocket.Upgrader
	opts     Options
	log      *zap.Logger
}

// NewHandler creates a websocket handler that feeds r and drains queues from h.
func NewHandler(r *router.Router, h *hub.Hub, opts Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := &Handler{router: r, hub: h, opts: opts, log: logger}
	handler.upgrader = websocket.Upgrader{CheckOrigin: handler.checkOrigin}
	return handler
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.opts.AllowedOrigin == "" || h.opts.AllowedOrigin == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || origin == h.opts.AllowedOrigin
}

// Register binds websocket routes on an Echo router.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/ws", h.HandleWebSocket)
}

// HandleWebSocket upgrades one request and serves it until disconnect. A
// reconnecting client presents its token as the "token" query parameter.
func (h *Handler) HandleWebSocket(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("upgrade websocket: %w", err)
	}
	h.serveConn(conn, c.QueryParam("token"))
	return nil
}

func (h *Handler) serveConn(conn *websocket.Conn, token string) {
	defer conn.Close()

	clientID := uuid.NewString()
	log := h.log.With(zap.String("client_id", clientID))

	queue := h.hub.Register(clientID)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(conn, queue, log)
	}()

	log.Info("websocket connected", zap.String("remote", conn.RemoteAddr().String()))
	h.router.Connect(clientID, token)

	h.readLoop(conn, clientID, log)

	h.router.Disconnect(clientID)
	h.hub.Unregister(queue)
	<-writerDone
	log.Info("websocket disconnected")
}

func (h *Handler) readLoop(conn *websocket.Conn, clientID string, log *zap.Logger) {
	conn.SetReadLimit(h.opts.MaxMessageBytes)
	idle := h.opts.PingInterval + h.opts.PongTimeout
	_ = conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(idle))
		if kind != websocket.TextMessage {
			h.router.Reject(clientID, errors.New("binary frames are not supported"))
			continue
		}

		var in protocol.Message
		if err := json.Unmarshal(data, &in); err != nil {
			h.router.Reject(clientID, err)
			continue
		}
		h.router.Dispatch(clientID, in)
	}
}

// writeLoop is the only writer on conn. It exits when the hub closes the
// queue or a write fails.
func (h *Handler) writeLoop(conn *websocket.Conn, queue *hub.Conn, log *zap.Logger) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case out, ok := <-queue.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(out); err != nil {
				log.Debug("websocket write failed", zap.String("event", out.Event), zap.Error(err))
				_ = conn.Close()
				drain(queue)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				drain(queue)
				return
			}
		}
	}
}

// drain discards queued messages until the hub closes the queue.
func drain(queue *hub.Conn) {
	for range queue.Send {
	}
}
