package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hilthontt/readalong/internal/infrastructure/json"
)

// healthResponse represents the health status of the API
type healthResponse struct {
	Status    string            `json:"status"`    // ok or unhealthy
	Timestamp string            `json:"timestamp"` // RFC3339
	Uptime    string            `json:"uptime"`
	Rooms     int               `json:"rooms"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// RoomCounter reports the number of live rooms.
type RoomCounter interface {
	Len() int
}

// Check probes one dependency for readiness.
type Check func(ctx context.Context) error

type Handler struct {
	startTime time.Time
	healthy   atomic.Bool
	rooms     RoomCounter

	mu     sync.RWMutex
	checks map[string]Check
}

func NewHandler(rooms RoomCounter) *Handler {
	h := &Handler{startTime: time.Now(), rooms: rooms, checks: map[string]Check{}}
	h.healthy.Store(true)
	return h
}

// SetHealthy flips the reported status; main marks the service unhealthy
// while it drains on shutdown.
func (h *Handler) SetHealthy(ok bool) {
	h.healthy.Store(ok)
}

// AddCheck registers a dependency probed by GetReady.
func (h *Handler) AddCheck(name string, check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

//	GET /api/health, /healthz, /live
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	resp := h.base()
	if !h.healthy.Load() {
		resp.Status = "unhealthy"
		json.Write(w, http.StatusServiceUnavailable, resp)
		return
	}

	json.Write(w, http.StatusOK, resp)
}

// GetReady also probes the registered dependencies.
//
//	GET /ready
func (h *Handler) GetReady(w http.ResponseWriter, r *http.Request) {
	resp := h.base()
	ok := h.healthy.Load()

	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.checks) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp.Checks = make(map[string]string, len(h.checks))
		for name, check := range h.checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				ok = false
				continue
			}
			resp.Checks[name] = "ok"
		}
	}

	if !ok {
		resp.Status = "unhealthy"
		json.Write(w, http.StatusServiceUnavailable, resp)
		return
	}
	json.Write(w, http.StatusOK, resp)
}

func (h *Handler) base() healthResponse {
	resp := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	}
	if h.rooms != nil {
		resp.Rooms = h.rooms.Len()
	}
	return resp
}
