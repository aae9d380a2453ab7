package handler

import (
	"net/http"

	"github.com/sescanella/spoolflow/audit"
	"github.com/sescanella/spoolflow/sheets"
)

// HealthHandler serves the liveness/readiness probes, extended with
// the audit log's degraded flag and the tabular store's poll status.
type HealthHandler struct {
	auditLog *audit.Log
	poller   *sheets.HealthPoller
}

// NewHealthHandler wires the handler to the services it reports on.
func NewHealthHandler(auditLog *audit.Log, poller *sheets.HealthPoller) *HealthHandler {
	return &HealthHandler{auditLog: auditLog, poller: poller}
}

func (h *HealthHandler) status() map[string]interface{} {
	degraded, _ := h.auditLog.Degraded()
	healthy, lastCheck, _ := h.poller.Status()

	return map[string]interface{}{
		"audit_degraded":    degraded,
		"sheets_unavailable": !healthy,
		"sheets_last_check":  lastCheck,
	}
}

// Healthz handles GET /healthz — a liveness probe with no dependency checks.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "service": "spoolflow"})
}

// Ready handles GET /ready — readiness including the degraded flags.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	body := h.status()
	body["status"] = "ready"
	body["service"] = "spoolflow"
	writeJSON(w, http.StatusOK, body)
}

// Health handles GET /health — the full health report.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	body := h.status()
	body["status"] = "healthy"
	body["service"] = "spoolflow"
	writeJSON(w, http.StatusOK, body)
}
