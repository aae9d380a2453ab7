package handler

import (
	"encoding/json"
	"net/http"

	"github.com/sescanella/spoolflow/errs"
	"github.com/sescanella/spoolflow/middleware"
	"github.com/sescanella/spoolflow/model"
	"github.com/sescanella/spoolflow/workflow"
)

// OccupationHandler exposes the v3 and v4 occupation workflow endpoints.
type OccupationHandler struct {
	wf *workflow.Workflow
}

// NewOccupationHandler wires the handler to its workflow engine.
func NewOccupationHandler(wf *workflow.Workflow) *OccupationHandler {
	return &OccupationHandler{wf: wf}
}

type iniciarRequest struct {
	TagSpool  string `json:"tag_spool"`
	Operacion string `json:"operacion"`
}

type finalizarRequest struct {
	TagSpool    string `json:"tag_spool"`
	Operacion   string `json:"operacion"`
	SelectedIDs []int  `json:"selected_ids"`
}

type legacyRequest struct {
	TagSpool  string `json:"tag_spool"`
	Operacion string `json:"operacion"`
}

// parseOperation validates the request's operacion field against the
// closed ARM/SOLD enum.
func parseOperation(raw string) (model.Operation, *errs.Error) {
	switch raw {
	case string(model.OperationARM):
		return model.OperationARM, nil
	case string(model.OperationSOLD):
		return model.OperationSOLD, nil
	default:
		return "", errs.WithDetails(errs.ValidationFailed, "operacion must be ARM or SOLD", map[string]interface{}{
			"field": "operacion",
		})
	}
}

// Iniciar handles POST /v4/occupation/iniciar.
func (h *OccupationHandler) Iniciar(w http.ResponseWriter, r *http.Request) {
	worker, ok := middleware.GetWorker(r.Context())
	if !ok {
		writeDomainError(w, errs.New(errs.NotAuthorized, "missing worker identity"))
		return
	}

	var req iniciarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDomainError(w, errs.New(errs.ValidationFailed, "malformed request body"))
		return
	}
	if req.TagSpool == "" {
		writeDomainError(w, errs.WithDetails(errs.ValidationFailed, "tag_spool is required", map[string]interface{}{"field": "tag_spool"}))
		return
	}
	op, verr := parseOperation(req.Operacion)
	if verr != nil {
		writeDomainError(w, verr)
		return
	}

	result, err := h.wf.Iniciar(r.Context(), req.TagSpool, worker, op)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Finalizar handles POST /v4/occupation/finalizar.
func (h *OccupationHandler) Finalizar(w http.ResponseWriter, r *http.Request) {
	worker, ok := middleware.GetWorker(r.Context())
	if !ok {
		writeDomainError(w, errs.New(errs.NotAuthorized, "missing worker identity"))
		return
	}

	var req finalizarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDomainError(w, errs.New(errs.ValidationFailed, "malformed request body"))
		return
	}
	if req.TagSpool == "" {
		writeDomainError(w, errs.WithDetails(errs.ValidationFailed, "tag_spool is required", map[string]interface{}{"field": "tag_spool"}))
		return
	}
	if req.SelectedIDs == nil {
		writeDomainError(w, errs.WithDetails(errs.ValidationFailed, "selected_ids is required", map[string]interface{}{"field": "selected_ids"}))
		return
	}
	op, verr := parseOperation(req.Operacion)
	if verr != nil {
		writeDomainError(w, verr)
		return
	}

	result, err := h.wf.Finalizar(r.Context(), req.TagSpool, worker, op, req.SelectedIDs)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Cancelar handles POST /v4/occupation/cancelar, abandoning the
// current lock without writing a COMPLETAR/PAUSAR outcome.
func (h *OccupationHandler) Cancelar(w http.ResponseWriter, r *http.Request) {
	worker, ok := middleware.GetWorker(r.Context())
	if !ok {
		writeDomainError(w, errs.New(errs.NotAuthorized, "missing worker identity"))
		return
	}

	var req legacyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDomainError(w, errs.New(errs.ValidationFailed, "malformed request body"))
		return
	}
	op, verr := parseOperation(req.Operacion)
	if verr != nil {
		writeDomainError(w, verr)
		return
	}

	if err := h.wf.Cancelar(r.Context(), req.TagSpool, worker, op); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tag_spool": req.TagSpool, "status": "cancelled"})
}

// Tomar handles POST /v3/occupation/tomar (legacy, spool-granularity).
func (h *OccupationHandler) Tomar(w http.ResponseWriter, r *http.Request) {
	worker, req, op, verr := h.decodeLegacy(r)
	if verr != nil {
		writeDomainError(w, verr)
		return
	}
	if err := h.wf.Tomar(r.Context(), req.TagSpool, worker, op); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tag_spool": req.TagSpool, "status": "occupied"})
}

// Pausar handles POST /v3/occupation/pausar (legacy, partial release).
func (h *OccupationHandler) Pausar(w http.ResponseWriter, r *http.Request) {
	worker, req, op, verr := h.decodeLegacy(r)
	if verr != nil {
		writeDomainError(w, verr)
		return
	}
	if err := h.wf.Pausar(r.Context(), req.TagSpool, worker, op); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tag_spool": req.TagSpool, "status": "paused"})
}

// Completar handles POST /v3/occupation/completar (legacy, final release).
func (h *OccupationHandler) Completar(w http.ResponseWriter, r *http.Request) {
	worker, req, op, verr := h.decodeLegacy(r)
	if verr != nil {
		writeDomainError(w, verr)
		return
	}
	if err := h.wf.Completar(r.Context(), req.TagSpool, worker, op); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tag_spool": req.TagSpool, "status": "completed"})
}

func (h *OccupationHandler) decodeLegacy(r *http.Request) (model.Worker, legacyRequest, model.Operation, *errs.Error) {
	worker, ok := middleware.GetWorker(r.Context())
	if !ok {
		return model.Worker{}, legacyRequest{}, "", errs.New(errs.NotAuthorized, "missing worker identity")
	}
	var req legacyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return model.Worker{}, legacyRequest{}, "", errs.New(errs.ValidationFailed, "malformed request body")
	}
	if req.TagSpool == "" {
		return model.Worker{}, legacyRequest{}, "", errs.WithDetails(errs.ValidationFailed, "tag_spool is required", map[string]interface{}{"field": "tag_spool"})
	}
	op, verr := parseOperation(req.Operacion)
	if verr != nil {
		return model.Worker{}, legacyRequest{}, "", verr
	}
	return worker, req, op, nil
}

// writeDomainError translates a domain error into its HTTP status and
// JSON error body per the errs.Kind table.
func writeDomainError(w http.ResponseWriter, err error) {
	de, ok := errs.As(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": map[string]interface{}{"kind": "Internal", "message": err.Error()},
		})
		return
	}
	body := map[string]interface{}{
		"kind":    de.Kind,
		"message": de.Message,
	}
	if de.Details != nil {
		body["details"] = de.Details
	}
	writeJSON(w, errs.HTTPStatus(de.Kind), map[string]interface{}{"error": body})
}

// writeJSON encodes data as the JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
