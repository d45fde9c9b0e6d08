package relay

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BioHazard786/Warpcall/internal/signaling"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. SDP bodies fit comfortably.
	maxMessageSize = 64 * 1024
)

// Client is a single websocket connection to the relay.
type Client struct {
	id         string
	remoteAddr string
	hub        *Hub
	conn       *websocket.Conn
	limiter    *rate.Limiter
	logger     *slog.Logger

	// send is closed by the hub when the client is unregistered.
	send chan *signaling.Message
}

func newClient(hub *Hub, conn *websocket.Conn, cfg Config) *Client {
	id := uuid.NewString()
	return &Client{
		id:         id,
		remoteAddr: conn.RemoteAddr().String(),
		hub:        hub,
		conn:       conn,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		logger:     hub.logger.With("client", id),
		send:       make(chan *signaling.Message, cfg.SendQueue),
	}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// Deliver queues msg for the write pump without blocking. Only the hub calls it.
func (c *Client) Deliver(msg *signaling.Message) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// readPump pumps messages from the websocket connection to the hub.
//
// The application runs readPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("read error", "error", err)
			}
			return
		}

		var msg signaling.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("dropping undecodable frame", "error", err)
			c.hub.metrics.drop(dropMalformed)
			continue
		}

		if !c.limiter.Allow() {
			c.logger.Warn("rate limited", "type", msg.Type, "room", msg.RoomID)
			c.hub.metrics.drop(dropRateLimited)
			continue
		}

		c.hub.dispatch(c, &msg)
	}
}

// writePump pumps messages from the hub to the websocket connection.
//
// A goroutine running writePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
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
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Warn("write error", "error", err)
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
