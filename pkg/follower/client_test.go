package follower

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hilthontt/readalong/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/rooms/GONE42":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"Not Found","code":"ROOM_NOT_FOUND","message":"room not found"}`))
		default:
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"Too Many Requests","code":"RATE_LIMITED"}`))
		}
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "tok")
	require.NoError(t, err)

	_, err = c.State(context.Background(), "GONE42")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Gone())
	assert.Equal(t, "ROOM_NOT_FOUND", apiErr.Code)

	err = c.UpdatePosition(context.Background(), "BUSY42", 1, 1)
	require.ErrorAs(t, err, &apiErr)
	assert.False(t, apiErr.Gone())
	assert.Equal(t, 7, apiErr.RetryAfterSeconds)

	_, err = NewClient("", "tok")
	assert.ErrorIs(t, err, ErrMissingBaseURL)
}

func TestPollerAppliesRoomState(t *testing.T) {
	var (
		polls   atomic.Int32
		gotAuth atomic.Value
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		n := polls.Add(1)
		state := protocol.RoomStateEvent{RoomCode: "ABC123", HostID: "u1", SyncEnabled: true, UpdatedAt: epoch}
		if n > 1 {
			state.Position, state.PageIndex, state.UpdatedAt = 4200, 3, epoch.Add(time.Second)
		}
		_ = json.NewEncoder(w).Encode(state)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "tok")
	require.NoError(t, err)

	f := New(Config{EaseDuration: 0, JitterThreshold: DefaultJitterThreshold}, nil)
	p, err := NewPoller(c, f, "ABC123", time.Millisecond)
	require.NoError(t, err)

	var states []protocol.RoomStateEvent
	p.OnState = func(s protocol.RoomStateEvent) { states = append(states, s) }

	moved, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, moved)

	moved, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, View{Position: 4200, PageIndex: 3}, f.View())
	assert.Len(t, states, 2)
	assert.Equal(t, "Bearer tok", gotAuth.Load())

	_, err = NewPoller(c, f, "", 0)
	assert.ErrorIs(t, err, ErrMissingRoomCode)
}

func TestPollerHonoursRoomSync(t *testing.T) {
	var syncOn atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(protocol.RoomStateEvent{
			RoomCode:    "ABC123",
			SyncEnabled: syncOn.Load(),
			Position:    4200,
			PageIndex:   3,
			UpdatedAt:   epoch,
		})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "tok")
	require.NoError(t, err)
	f := New(Config{EaseDuration: 0, JitterThreshold: DefaultJitterThreshold}, nil)
	p, err := NewPoller(c, f, "ABC123", time.Millisecond)
	require.NoError(t, err)

	moved, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, moved)
	assert.False(t, f.Following())
	assert.True(t, f.SyncEnabled())
	assert.Equal(t, View{}, f.View())

	syncOn.Store(true)
	moved, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, View{Position: 4200, PageIndex: 3}, f.View())

	// the reader's own opt-out still wins over the room flag
	f.SetSyncEnabled(false)
	assert.False(t, f.Following())
}

func TestPollerPagesMessagesAndBeats(t *testing.T) {
	all := make([]protocol.MessageReceivedEvent, 5)
	for i := range all {
		all[i] = protocol.MessageReceivedEvent{ID: strconv.Itoa(i), Text: "m" + strconv.Itoa(i), Timestamp: epoch.Add(time.Duration(i) * time.Second)}
	}

	var (
		mu     sync.Mutex
		served = 2
		beats  []float64
		sinces []string
	)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/rooms/ABC123", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(protocol.RoomStateEvent{RoomCode: "ABC123", SyncEnabled: true, Position: 700, UpdatedAt: epoch})
	})
	mux.HandleFunc("GET /api/rooms/ABC123/messages", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		sinces = append(sinces, r.URL.Query().Get("since"))

		var out []protocol.MessageReceivedEvent
		if since := r.URL.Query().Get("since"); since == "" {
			out = all[:served]
		} else {
			at, err := time.Parse(time.RFC3339Nano, since)
			if !assert.NoError(t, err) {
				return
			}
			for _, m := range all[:served] {
				if m.Timestamp.After(at) {
					out = append(out, m)
				}
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"messages": out})
	})
	mux.HandleFunc("POST /api/rooms/ABC123/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			LocalPosition float64 `json:"localPosition"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		beats = append(beats, body.LocalPosition)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := NewClient(srv.URL, "tok")
	require.NoError(t, err)
	f := New(Config{EaseDuration: 0, JitterThreshold: DefaultJitterThreshold}, nil)
	p, err := NewPoller(c, f, "ABC123", time.Millisecond)
	require.NoError(t, err)

	var got []string
	p.OnMessages = func(msgs []protocol.MessageReceivedEvent) {
		for _, m := range msgs {
			got = append(got, m.Text)
		}
	}

	ctx := context.Background()
	_, err = p.Poll(ctx)
	require.NoError(t, err)

	mu.Lock()
	served = 5
	mu.Unlock()
	_, err = p.Poll(ctx)
	require.NoError(t, err)
	_, err = p.Poll(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"m0", "m1", "m2", "m3", "m4"}, got)

	now := time.Now()
	require.NoError(t, p.Beat(ctx, now))
	require.NoError(t, p.Beat(ctx, now.Add(time.Second)))
	require.NoError(t, p.Beat(ctx, now.Add(DefaultHeartbeat)))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []float64{700, 700}, beats)
	require.Len(t, sinces, 3)
	assert.Empty(t, sinces[0])
	assert.Equal(t, epoch.Add(time.Second).Format(time.RFC3339Nano), sinces[1])
	assert.Equal(t, epoch.Add(4*time.Second).Format(time.RFC3339Nano), sinces[2])
}

func TestPollerStopsWhenRoomIsGone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
		_, _ = w.Write([]byte(`{"code":"ROOM_INACTIVE"}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "tok")
	require.NoError(t, err)
	p, err := NewPoller(c, New(DefaultConfig(), nil), "ABC123", time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = p.Run(ctx)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusGone, apiErr.StatusCode)
}

func writeEvent(t *testing.T, conn *websocket.Conn, ev protocol.ServerEvent) {
	t.Helper()
	assert.NoError(t, conn.WriteJSON(protocol.NewOutbound("ABC123", ev)))
}

func TestSocketFollowsHost(t *testing.T) {
	upgrader := websocket.Upgrader{Subprotocols: []string{"bearer"}}

	var (
		mu       sync.Mutex
		received []protocol.ClientEvent
		protos   string
	)
	gotFrame := make(chan struct{}, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/ws/ABC123", r.URL.Path)
		mu.Lock()
		protos = r.Header.Get("Sec-WebSocket-Protocol")
		mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()

		writeEvent(t, conn, protocol.RoomStateEvent{RoomCode: "ABC123", HostID: "u1", SyncEnabled: true, UpdatedAt: epoch})
		writeEvent(t, conn, protocol.ScrollUpdateEvent{UserID: "u1", Position: 4200, PageIndex: 3, Timestamp: epoch.Add(time.Second)})
		writeEvent(t, conn, protocol.MessageReceivedEvent{ID: "m1", Text: "hi"})

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		in, err := protocol.DecodeClientEvent(raw)
		assert.NoError(t, err)
		mu.Lock()
		received = append(received, in.Event)
		mu.Unlock()
		gotFrame <- struct{}{}

		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	sock, err := Dial(ctx, srv.URL, "ABC123", "tok")
	require.NoError(t, err)

	f := New(Config{EaseDuration: 0, JitterThreshold: DefaultJitterThreshold}, nil)
	others := make(chan protocol.ServerEvent, 8)
	sock.Follow(f, func(ev protocol.ServerEvent) { others <- ev })

	done := make(chan error, 1)
	go func() { done <- sock.Listen(ctx) }()

	require.NoError(t, sock.Send(protocol.SendMessageEvent{RoomCode: "ABC123", Text: "hello"}))

	select {
	case <-gotFrame:
	case <-ctx.Done():
		t.Fatal("server never received the frame")
	}

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("listen did not return")
	}

	assert.Equal(t, View{Position: 4200, PageIndex: 3}, f.View())
	assert.Len(t, others, 3)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, strings.HasPrefix(protos, "bearer"))
	assert.Contains(t, protos, "tok")
	require.Len(t, received, 1)
	assert.Equal(t, protocol.SendMessageEvent{RoomCode: "ABC123", Text: "hello"}, received[0])

	assert.Error(t, sock.Send(protocol.TypingStartEvent{RoomCode: "ABC123"}))
}

func TestSocketHonoursRoomSync(t *testing.T) {
	upgrader := websocket.Upgrader{Subprotocols: []string{"bearer"}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()

		writeEvent(t, conn, protocol.RoomStateEvent{RoomCode: "ABC123", SyncEnabled: true, Position: 100, PageIndex: 1, UpdatedAt: epoch})
		writeEvent(t, conn, protocol.SyncStateEvent{Enabled: false})
		writeEvent(t, conn, protocol.ScrollUpdateEvent{UserID: "u1", Position: 9000, PageIndex: 4, Timestamp: epoch.Add(time.Second)})
		writeEvent(t, conn, protocol.SyncStateEvent{Enabled: true})
		writeEvent(t, conn, protocol.ScrollUpdateEvent{UserID: "u1", Position: 4200, PageIndex: 3, Timestamp: epoch.Add(2 * time.Second)})
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	sock, err := Dial(ctx, srv.URL, "ABC123", "tok")
	require.NoError(t, err)
	defer sock.Close()

	f := New(Config{EaseDuration: 0, JitterThreshold: DefaultJitterThreshold}, nil)

	var (
		mu    sync.Mutex
		views []View
	)
	sock.Follow(f, func(ev protocol.ServerEvent) {
		if ev.EventType() == protocol.ScrollUpdate {
			mu.Lock()
			views = append(views, f.View())
			mu.Unlock()
		}
	})
	require.NoError(t, sock.Listen(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, views, 2)
	assert.Equal(t, View{Position: 100, PageIndex: 1}, views[0])
	assert.Equal(t, View{Position: 4200, PageIndex: 3}, views[1])
	assert.True(t, f.Following())
}
