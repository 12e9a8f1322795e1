package handler

import (
	"context"
	"net/http"
	"time"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DropCounter reports how many audit events were skipped because a subscriber lagged.
type DropCounter interface {
	Dropped() int64
}

type HealthHandler struct {
	store   Pinger
	events  DropCounter
	started time.Time
}

// NewHealthHandler accepts a nil store for drivers with nothing to ping, and a nil events
// counter when no bus is wired.
func NewHealthHandler(store Pinger, events DropCounter) *HealthHandler {
	return &HealthHandler{store: store, events: events, started: time.Now()}
}

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK

	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	body := map[string]any{
		"status": status,
		"uptime": time.Since(h.started).Round(time.Second).String(),
	}
	if h.events != nil {
		body["dropped_events"] = h.events.Dropped()
	}

	writeSuccess(w, code, body, nil)
}
