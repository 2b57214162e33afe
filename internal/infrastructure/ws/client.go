package ws

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hilthontt/readalong/internal/domain"
	"github.com/hilthontt/readalong/internal/infrastructure/logging"
	"github.com/hilthontt/readalong/pkg/protocol"
	"golang.org/x/time/rate"
)

// FrameHandler processes one inbound frame. It runs on the client's read
// goroutine, so frames from one connection are handled in order.
type FrameHandler func(ctx context.Context, cl *Client, raw []byte)

type Client struct {
	conn     *connWrapper
	Message  chan *protocol.Outbound
	ID       string
	Identity domain.Identity

	core    *Core
	limiter *rate.Limiter
	done    chan struct{}
	once    sync.Once

	mu       sync.Mutex
	roomCode string
}

func newClient(core *Core, conn *websocket.Conn, id domain.Identity) *Client {
	cfg := core.cfg
	return &Client{
		conn:     newConnWrapper(conn, cfg.WriteWait),
		Message:  make(chan *protocol.Outbound, cfg.SendBuffer),
		ID:       uuid.NewString(),
		Identity: id,
		core:     core,
		limiter:  rate.NewLimiter(rate.Limit(cfg.EventsPerSecond), cfg.EventBurst),
		done:     make(chan struct{}),
	}
}

// Room is the code of the room the connection has joined, if any.
func (c *Client) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomCode
}

// SetRoom subscribes the connection to code, leaving its previous room.
func (c *Client) SetRoom(code string) {
	c.mu.Lock()
	prev := c.roomCode
	c.roomCode = code
	c.mu.Unlock()

	if prev != "" && prev != code {
		c.core.roomMgr.RemoveClient(prev, c)
	}
	if code != "" {
		c.core.roomMgr.AddClient(code, c)
	}
}

// clearRoom forgets the room without touching the room manager.
func (c *Client) clearRoom(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roomCode == code {
		c.roomCode = ""
	}
}

// Send queues ev without blocking. A full buffer drops the event.
func (c *Client) Send(roomCode string, ev protocol.ServerEvent) bool {
	return c.enqueue(protocol.NewOutbound(roomCode, ev))
}

func (c *Client) enqueue(msg *protocol.Outbound) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.Message <- msg:
		return true
	default:
		c.core.metrics.SendDropped()
		c.core.logger.Warn(logging.WebSocket, logging.Dropped, "client buffer full, dropping event", map[logging.ExtraKey]any{
			logging.SessionID: c.ID,
			logging.UserID:    c.Identity.UserID,
			logging.EventType: string(msg.Type),
		})
		return false
	}
}

// SendError reports a failure on this connection only.
func (c *Client) SendError(code, message string, retryAfter int) {
	c.Send(c.Room(), protocol.ErrorEvent{Code: code, Message: message, RetryAfterSeconds: retryAfter})
}

// Close stops the write goroutine, which closes the connection.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

// ReadMessage runs until the connection fails or the client is closed.
func (c *Client) ReadMessage(ctx context.Context, handle FrameHandler) {
	defer c.Close()

	cfg := c.core.cfg
	conn := c.conn.conn
	conn.SetReadLimit(cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.core.logger.Warn(logging.WebSocket, logging.Connection, "ws read error", map[logging.ExtraKey]any{
					logging.SessionID:    c.ID,
					logging.ErrorMessage: err.Error(),
				})
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(cfg.PongWait))

		if !c.limiter.Allow() {
			c.core.metrics.RateLimited("socket")
			c.SendError(protocol.CodeRateLimited, "too many events", 1)
			continue
		}

		handle(ctx, c, raw)
	}
}

// WriteMessage drains the outbound buffer and keeps the connection alive
// with pings.
func (c *Client) WriteMessage() {
	ticker := time.NewTicker(c.core.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.Message:
			if err := c.conn.WriteJSON(msg); err != nil {
				c.core.logger.Warn(logging.WebSocket, logging.Frame, "ws write error", map[logging.ExtraKey]any{
					logging.SessionID:    c.ID,
					logging.ErrorMessage: err.Error(),
				})
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.flush()
			c.conn.CloseWith(websocket.CloseNormalClosure, "")
			return
		}
	}
}

// flush writes whatever is already queued before the close frame.
func (c *Client) flush() {
	for {
		select {
		case msg := <-c.Message:
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}
