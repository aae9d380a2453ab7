package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sescanella/spoolflow/errs"
	"github.com/sescanella/spoolflow/spools"
	"github.com/sescanella/spoolflow/unions"
)

// UnionesHandler exposes read-only union availability and metrics
// queries for the tablet UI.
type UnionesHandler struct {
	unionsRepo *unions.Repository
	spoolsRepo *spools.Repository
}

// NewUnionesHandler wires the handler to its repositories.
func NewUnionesHandler(unionsRepo *unions.Repository, spoolsRepo *spools.Repository) *UnionesHandler {
	return &UnionesHandler{unionsRepo: unionsRepo, spoolsRepo: spoolsRepo}
}

// Disponibles handles GET /v4/uniones/{tag}/disponibles?operacion=ARM|SOLD.
func (h *UnionesHandler) Disponibles(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	op, verr := parseOperation(r.URL.Query().Get("operacion"))
	if verr != nil {
		writeDomainError(w, verr)
		return
	}

	spool, err := h.spoolsRepo.Get(r.Context(), tag)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !spool.IsV4() {
		writeDomainError(w, errs.WithDetails(errs.WrongVersion, "spool has no per-union rows", map[string]interface{}{
			"correct_endpoint": "/v3/occupation/tomar",
		}))
		return
	}

	uniones, err := h.unionsRepo.AvailableFor(r.Context(), tag, op)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tag_spool": tag,
		"operacion": op,
		"uniones":   uniones,
	})
}

// Metricas handles GET /v4/uniones/{tag}/metricas, returning completion
// counts and accumulated pulgadas for both ARM and SOLD on the spool.
func (h *UnionesHandler) Metricas(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")

	spool, err := h.spoolsRepo.Get(r.Context(), tag)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !spool.IsV4() {
		writeDomainError(w, errs.WithDetails(errs.WrongVersion, "spool has no per-union rows", map[string]interface{}{
			"correct_endpoint": "/v3/occupation/tomar",
		}))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tag_spool":                tag,
		"total_uniones":            spool.TotalUniones,
		"uniones_arm_completadas":  spool.UnionesArmCompletadas,
		"uniones_sold_completadas": spool.UnionesSoldCompletadas,
		"pulgadas_arm":             spool.PulgadasArm,
		"pulgadas_sold":            spool.PulgadasSold,
	})
}
