package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Hard limit on inbound frames; larger frames close the connection.
	maxFrameSize = 64 * 1024

	// Send buffer size per client.
	sendBufferSize = 256

	transportWebSocket = "websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client is a downstream websocket connection.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	id      string
	session *Session
	inbound *Inbound
	logger  *zap.Logger

	mu     sync.Mutex
	closed bool
}

// Handler upgrades HTTP requests and attaches the resulting clients to the hub.
type Handler struct {
	hub     *Hub
	inbound *Inbound
	logger  *zap.Logger
}

// NewHandler creates the /ws handler. inbound may be nil to disable the client protocol.
func NewHandler(hub *Hub, inbound *Inbound, logger *zap.Logger) *Handler {
	return &Handler{hub: hub, inbound: inbound, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:     h.hub,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		id:      uuid.New().String(),
		session: &Session{},
		inbound: h.inbound,
		logger:  h.logger,
	}

	h.logger.Debug("websocket client connected",
		zap.String("id", client.id),
		zap.String("remote_addr", r.RemoteAddr),
	)

	go client.writePump()
	h.hub.Register(client)
	go client.readPump()
}

func (c *Client) ID() string { return c.id }

func (c *Client) Transport() string { return transportWebSocket }

// Enqueue hands msg to the write pump without blocking.
func (c *Client) Enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which then closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump reads client protocol messages until the connection fails.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error",
					zap.String("id", c.id),
					zap.Error(err),
				)
			}
			break
		}
		if c.inbound == nil {
			continue
		}
		if reply := c.inbound.Handle(context.Background(), c.session, message); reply != nil {
			c.Enqueue(reply)
		}
	}
}

// writePump writes queued frames and keepalive pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("websocket write error",
					zap.String("id", c.id),
					zap.Error(err),
				)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
