package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/sescanella/spoolflow/eventbus"
)

// DashboardHandler serves the live event stream consumed by the shop
// floor dashboard.
type DashboardHandler struct {
	bus    *eventbus.Bus
	logger zerolog.Logger
}

// NewDashboardHandler wires the handler to the live event bus.
func NewDashboardHandler(bus *eventbus.Bus, logger zerolog.Logger) *DashboardHandler {
	return &DashboardHandler{bus: bus, logger: logger}
}

// Stream handles GET /v4/dashboard/stream: an SSE subscription that
// relays every occupation event published to the bus, with a
// heartbeat comment line so intermediaries don't close the connection
// during quiet periods.
func (h *DashboardHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeDomainError(w, fmt.Errorf("streaming unsupported by server"))
		return
	}

	sub := h.bus.Subscribe()
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(eventbus.HeartbeatInterval())
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case evt, open := <-sub.Events:
			if !open {
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, encodeEvent(evt)); err != nil {
				h.logger.Debug().Err(err).Msg("dashboard stream write failed — client gone")
				return
			}
			flusher.Flush()

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func encodeEvent(evt eventbus.Event) string {
	return fmt.Sprintf(
		`{"kind":%q,"tag_spool":%q,"worker":%q,"estado_detalle":%q,"timestamp":%q}`,
		evt.Kind, evt.TagSpool, evt.Worker, evt.EstadoDetalle, evt.Timestamp.UTC().Format(time.RFC3339),
	)
}
