package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sescanella/spoolflow/sheets"
)

// CacheHandler exposes admin operations on the worksheet column-index
// cache (C1's header lookup layer), for operators clearing a stale
// entry after a worksheet's columns are reordered by hand.
type CacheHandler struct {
	columns *sheets.ColumnCache
}

// NewCacheHandler wires the handler to its column cache.
func NewCacheHandler(columns *sheets.ColumnCache) *CacheHandler {
	return &CacheHandler{columns: columns}
}

// InvalidateWorksheet handles POST /admin/cache/{worksheet}/invalidate.
func (h *CacheHandler) InvalidateWorksheet(w http.ResponseWriter, r *http.Request) {
	worksheet := chi.URLParam(r, "worksheet")
	h.columns.Invalidate(worksheet)
	writeJSON(w, http.StatusOK, map[string]string{"worksheet": worksheet, "status": "invalidated"})
}

// InvalidateAll handles POST /admin/cache/invalidate.
func (h *CacheHandler) InvalidateAll(w http.ResponseWriter, r *http.Request) {
	h.columns.InvalidateAll()
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated_all"})
}
