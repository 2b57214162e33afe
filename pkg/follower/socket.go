package follower

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hilthontt/readalong/pkg/protocol"
)

// Socket is a push connection to one room.
type Socket struct {
	conn *websocket.Conn
	code string

	writeMu sync.Mutex
	mu      sync.RWMutex
	closed  bool
	handler func(protocol.ServerEvent)
}

// Dial opens the push binding for code. The token travels as a bearer
// subprotocol so it never lands in access logs.
func Dial(ctx context.Context, baseURL, code, token string) (*Socket, error) {
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	if code == "" {
		return nil, ErrMissingRoomCode
	}

	wsURL := strings.TrimRight(baseURL, "/")
	if after, ok := strings.CutPrefix(wsURL, "https://"); ok {
		wsURL = "wss://" + after
	} else if after, ok := strings.CutPrefix(wsURL, "http://"); ok {
		wsURL = "ws://" + after
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     []string{"bearer", token},
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL+"/api/ws/"+url.PathEscape(code), http.Header{})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to websocket: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("failed to connect to websocket: %w", err)
	}

	return &Socket{conn: conn, code: code}, nil
}

func (s *Socket) SetHandler(handler func(protocol.ServerEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

func (s *Socket) Send(ev protocol.ClientEvent) error {
	raw, err := protocol.EncodeClientEvent(ev)
	if err != nil {
		return err
	}

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return fmt.Errorf("websocket connection is closed")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, raw)
}

// Listen reads events until the connection drops or ctx is done, passing
// each to the handler. Frames that do not decode are skipped.
func (s *Socket) Listen(ctx context.Context) error {
	defer s.Close()

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("websocket read error: %w", err)
		}

		_, ev, err := protocol.DecodeServerEvent(raw)
		if err != nil {
			continue
		}

		s.mu.RLock()
		handler := s.handler
		s.mu.RUnlock()
		if handler != nil {
			handler(ev)
		}
	}
}

// Follow routes host positions and the room sync flag from the socket into
// f. Every event still reaches next when it is set.
func (s *Socket) Follow(f *Follower, next func(protocol.ServerEvent)) {
	s.SetHandler(func(ev protocol.ServerEvent) {
		switch e := ev.(type) {
		case protocol.RoomStateEvent:
			f.SetRoomSync(e.SyncEnabled)
			f.Apply(Update{Position: e.Position, PageIndex: e.PageIndex, Timestamp: e.UpdatedAt})
		case protocol.SyncStateEvent:
			f.SetRoomSync(e.Enabled)
		case protocol.ScrollUpdateEvent:
			f.Apply(Update{Position: e.Position, PageIndex: e.PageIndex, Timestamp: e.Timestamp})
		}
		if next != nil {
			next(ev)
		}
	})
}

func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	s.writeMu.Unlock()
	return s.conn.Close()
}
