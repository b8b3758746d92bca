package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Dispatcher consumes inbound client messages for one call. Implemented by
// the orchestrator; failures are reported back through the Hub, never
// returned to the read loop.
type Dispatcher interface {
	Dispatch(ctx context.Context, callID string, msg Inbound)
}

const (
	writeTimeout   = 5 * time.Second
	pingInterval   = 20 * time.Second
	pongWait       = 60 * time.Second
	sendBufferSize = 64
	maxMessageSize = 1 << 20 // audio chunks arrive base64-encoded
)

// client adapts one gorilla connection to the Hub's Conn contract: a
// buffered send channel drained by a single write pump, so Broadcast never
// blocks on a slow reader.
type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

func (c *client) Send(data []byte) error {
	select {
	case <-c.done:
		return errors.New("connection closed")
	case c.send <- data:
		return nil
	default:
		// Full buffer means the reader stopped draining; treat as dead.
		return errors.New("send buffer full")
	}
}

func (c *client) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	return c.conn.Close()
}

// writePump owns all writes on the connection, including pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			deadline := time.Now().Add(writeTimeout)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// Handler upgrades HTTP requests to websocket connections, registers them
// with the Hub and feeds inbound messages to the Dispatcher in arrival order.
type Handler struct {
	Hub        *Hub
	Dispatcher Dispatcher
	Log        *slog.Logger

	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, dispatcher Dispatcher, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		Hub:        hub,
		Dispatcher: dispatcher,
		Log:        log,
		upgrader: websocket.Upgrader{
			// Origin policy is out of scope here; deployments front this
			// with their own checks.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Serve handles GET /v1/calls/:call_id/stream.
func (h *Handler) Serve(c *gin.Context) {
	callID := c.Param("call_id")
	if callID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_id required"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	cl := newClient(conn)
	h.Hub.Connect(cl, callID)
	go cl.writePump()

	defer func() {
		h.Hub.Disconnect(cl, callID)
		_ = cl.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Read loop. Dispatch is expected to return promptly: long-running
	// collaborator calls (transcription, extraction) run behind channels or
	// background goroutines, so one slow event does not stall the others.
	ctx := c.Request.Context()
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.Log.Info("ws read failed", "call_id", callID, "err", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		msg, err := DecodeInbound(data)
		if err != nil {
			h.Hub.Broadcast(callID, ErrorEvent(callID, "invalid message", err.Error()))
			continue
		}
		h.Dispatcher.Dispatch(ctx, callID, msg)
	}
}
