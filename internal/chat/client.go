package chat

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"go-counsel/internal/domain"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 16 * 1024           // Maximum frame size allowed from peer.
	sendBuffer     = 256
)

// Client is one live connection: a middleman between the websocket and the hub.
type Client struct {
	ID     string
	UserID string
	Name   string
	Role   domain.Role

	Hub  *Hub
	Conn *websocket.Conn
	// Buffered channel of outbound frames. Only the hub closes it.
	Send chan []byte

	// OnPong runs on the read goroutine each time the peer answers a ping.
	OnPong func()

	// consultationID is the joined consultation channel; read and written only by the read pump.
	consultationID string
	logger         *slog.Logger
}

func (c *Client) Actor() domain.Actor {
	return domain.Actor{UserID: c.UserID, Name: c.Name, Role: c.Role}
}

// ReadPump hands every inbound frame to handle, one at a time, until the peer goes away.
// Frames from one connection are therefore processed in the order they were sent.
func (c *Client) ReadPump(handle func(message []byte)) {
	defer c.Conn.Close()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		if c.OnPong != nil {
			c.OnPong()
		}
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("connection closed unexpectedly",
					"operation", "ws_read",
					"outcome", "failure",
					"conn_id", c.ID,
					"error", err.Error(),
				)
			}
			return
		}
		handle(message)
	}
}

// WritePump drains Send to the websocket and keeps the connection alive with pings.
// Each event goes out as its own text frame.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
