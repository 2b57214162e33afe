package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestCounters(t *testing.T) {
	m := New()

	m.RoomOpened()
	m.RoomOpened()
	m.RoomClosed()
	m.SocketConnected()
	m.EventRelayed("scroll-update")
	m.EventRelayed("scroll-update")
	m.RateLimited("chat")
	m.SyncDropped()

	body := scrape(t, m)
	assert.Contains(t, body, "readalong_active_rooms 1")
	assert.Contains(t, body, "readalong_connected_sockets 1")
	assert.Contains(t, body, `readalong_events_relayed_total{type="scroll-update"} 2`)
	assert.Contains(t, body, `readalong_rate_limited_total{category="chat"} 1`)
	assert.Contains(t, body, "readalong_sync_updates_dropped_total 1")
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RoomOpened()
	m.EventRelayed("x")
	m.SendDropped()
	assert.Nil(t, m.Registry())
}
