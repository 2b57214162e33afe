package ws

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hilthontt/readalong/internal/domain"
	"github.com/hilthontt/readalong/internal/infrastructure/logging"
	"github.com/hilthontt/readalong/internal/infrastructure/metrics"
	"github.com/hilthontt/readalong/pkg/protocol"
)

type Config struct {
	MaxMessageSize  int64
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	SendBuffer      int
	EventsPerSecond float64
	EventBurst      int
}

func DefaultConfig() Config {
	return Config{
		MaxMessageSize:  32 << 10,
		PingInterval:    30 * time.Second,
		PongWait:        60 * time.Second,
		WriteWait:       10 * time.Second,
		SendBuffer:      64,
		EventsPerSecond: 20,
		EventBurst:      40,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.PongWait <= 0 {
		c.PongWait = def.PongWait
	}
	if c.WriteWait <= 0 {
		c.WriteWait = def.WriteWait
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = def.SendBuffer
	}
	if c.EventsPerSecond <= 0 {
		c.EventsPerSecond = def.EventsPerSecond
	}
	if c.EventBurst <= 0 {
		c.EventBurst = def.EventBurst
	}
	return c
}

// Core owns every live push connection and fans room events out to the
// connections subscribed to that room.
type Core struct {
	roomMgr *RoomManager
	cfg     Config
	logger  logging.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	clients map[*Client]struct{}
	wg      sync.WaitGroup
	closed  bool
}

func NewCore(cfg Config, logger logging.Logger, m *metrics.Metrics) *Core {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Core{
		roomMgr: NewRoomManager(),
		cfg:     cfg.withDefaults(),
		logger:  logger,
		metrics: m,
		clients: make(map[*Client]struct{}),
	}
}

// Register wraps an upgraded connection and starts its writer. It returns
// false once the core is shutting down; the connection is closed then.
func (c *Core) Register(conn *websocket.Conn, id domain.Identity) (*Client, bool) {
	cl := newClient(c, conn, id)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return nil, false
	}
	c.clients[cl] = struct{}{}
	c.wg.Add(1)
	c.mu.Unlock()

	c.metrics.SocketConnected()
	c.logger.Info(logging.WebSocket, logging.Connection, "client connected", map[logging.ExtraKey]any{
		logging.SessionID: cl.ID,
		logging.UserID:    id.UserID,
	})

	go func() {
		defer c.wg.Done()
		cl.WriteMessage()
	}()
	return cl, true
}

// Unregister removes the client from its room and from the core.
func (c *Core) Unregister(cl *Client) {
	cl.Close()

	c.mu.Lock()
	_, ok := c.clients[cl]
	delete(c.clients, cl)
	c.mu.Unlock()
	if !ok {
		return
	}

	if code := cl.Room(); code != "" {
		c.roomMgr.RemoveClient(code, cl)
	}

	c.metrics.SocketDisconnected()
	c.logger.Info(logging.WebSocket, logging.Connection, "client disconnected", map[logging.ExtraKey]any{
		logging.SessionID: cl.ID,
		logging.UserID:    cl.Identity.UserID,
	})
}

// Broadcast queues ev for every connection in the room whose user is not
// excluded. It never blocks, so it is safe to call under a room lock.
func (c *Core) Broadcast(roomCode string, ev protocol.ServerEvent, exclude ...string) {
	msg := protocol.NewOutbound(roomCode, ev)
	for _, cl := range c.roomMgr.Clients(roomCode) {
		if slices.Contains(exclude, cl.Identity.UserID) {
			continue
		}
		cl.enqueue(msg)
	}
}

// CloseRoom unsubscribes every connection from the room. The connections
// stay open and may join another room.
func (c *Core) CloseRoom(roomCode string) {
	for _, cl := range c.roomMgr.RemoveRoom(roomCode) {
		cl.clearRoom(roomCode)
	}
}

// Subscribers reports how many connections are in the room.
func (c *Core) Subscribers(roomCode string) int {
	return c.roomMgr.Len(roomCode)
}

// Shutdown closes every connection and waits for the writers to finish.
func (c *Core) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	clients := make([]*Client, 0, len(c.clients))
	for cl := range c.clients {
		clients = append(clients, cl)
	}
	c.mu.Unlock()

	for _, cl := range clients {
		cl.Close()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
