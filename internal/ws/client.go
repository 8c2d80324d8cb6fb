package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/reddyanunay/colab-coding/internal/protocol"
	"github.com/reddyanunay/colab-coding/internal/ratelimit"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024
	sendQueueSize  = 256

	// Over-limit messages tolerated before the client is disconnected
	maxRateViolations = 1000
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one WebSocket session in a room. Its read loop feeds the hub;
// its write loop is the only goroutine writing to the connection.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	roomID  string
	id      string
	limiter *ratelimit.Limiter
	log     *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
	closeCode int
	closeText string
}

// ServeWs upgrades a request for /ws/{room} and runs the session. Rooms
// without a persisted row are refused with close code 4004.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["room"]

	row, lookupErr := hub.finder.GetRoom(r.Context(), roomID)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Warn("ws.upgrade_failed", "room", roomID, "err", err)
		return
	}

	if lookupErr != nil {
		hub.log.Error("ws.room_lookup_failed", "room", roomID, "err", lookupErr)
		reject(conn, websocket.CloseInternalServerErr, "Internal error")
		return
	}
	if row == nil {
		hub.log.Info("ws.room_not_found", "room", roomID)
		reject(conn, protocol.CloseRoomNotFound, "Room not found")
		return
	}

	id := uuid.NewString()
	client := &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, sendQueueSize),
		roomID:  roomID,
		id:      id,
		limiter: ratelimit.NewLimiter(hub.config.MessagesPerSecond, hub.config.MessageBurst),
		log:     hub.log.With("room", roomID, "client", id),
		done:    make(chan struct{}),
	}

	ctx := context.Background()
	go client.writePump()
	hub.Join(ctx, roomID, client, row.Code)
	go client.readPump(ctx)
}

func reject(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeWait))
	_ = conn.Close()
}

// Send queues data for the write loop
func (c *Client) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the session with a normal closure. Safe to call more than once.
func (c *Client) Close() error {
	c.closeWith(websocket.CloseNormalClosure, "")
	return nil
}

func (c *Client) closeWith(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeText = text
		close(c.done)
	})
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Leave(ctx, c.roomID, c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	violations := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("ws.read_failed", "err", err)
			}
			return
		}

		if !c.limiter.Allow() {
			violations++
			if violations%100 == 1 {
				c.log.Warn("ws.rate_limited", "violations", violations)
			}
			if violations > maxRateViolations {
				c.log.Warn("ws.rate_limit_disconnect", "violations", violations)
				c.closeWith(websocket.ClosePolicyViolation, protocol.ErrRateLimited.Error())
				return
			}
			// Dropped messages are not relayed or saved, so the sender is told
			if err := c.hub.send(ctx, c, protocol.Error(protocol.ErrRateLimited.Error())); err != nil {
				return
			}
			continue
		}

		if err := c.hub.Handle(ctx, c.roomID, c, message); err != nil {
			c.log.Debug("ws.rejected", "err", err)
			if err := c.hub.send(ctx, c, protocol.Error(err.Error())); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.write(websocket.TextMessage, message); err != nil {
				c.Close()
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.drain()
			c.write(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, c.closeText))
			return
		}
	}
}

// drain writes whatever was queued before the close
func (c *Client) drain() {
	for {
		select {
		case message := <-c.send:
			if err := c.write(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}
