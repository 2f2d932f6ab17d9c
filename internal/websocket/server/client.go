package server

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentflow-go/pkg/logger"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)

// Client is a websocket Connection owned by one user.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	ownerID string
	send    chan []byte
	done    chan struct{}
	open    atomic.Bool
	once    sync.Once
	logger  logger.Logger
}

// clientMessage is what a browser may send. Only ping is understood.
type clientMessage struct {
	Type string `json:"type"`
}

func NewClient(hub *Hub, conn *websocket.Conn, ownerID string, log logger.Logger) *Client {
	c := &Client{
		hub:     hub,
		conn:    conn,
		ownerID: ownerID,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		logger:  log,
	}
	c.open.Store(true)
	return c
}

func (c *Client) IsOpen() bool {
	return c.open.Load()
}

// Send queues message without blocking.
func (c *Client) Send(message []byte) error {
	if !c.IsOpen() {
		return ErrConnectionClosed
	}
	select {
	case c.send <- message:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

func (c *Client) Close() {
	c.once.Do(func() {
		c.open.Store(false)
		close(c.done)
	})
}

// Start registers the client and runs its pumps.
func (c *Client) Start() {
	c.hub.Register(c.ownerID, c)
	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.Close()
		c.hub.Unregister(c.ownerID, c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", "ownerId", c.ownerID, "error", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("Ignoring malformed client message", "error", err)
			continue
		}
		if msg.Type == "ping" {
			pong, _ := json.Marshal(map[string]interface{}{"type": "pong", "timestamp": time.Now().UnixMilli()})
			_ = c.Send(pong)
		}
	}
}

// writePump sends one event per websocket message.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Close()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
