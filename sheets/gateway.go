// Package sheets implements the Tabular Store Gateway (C1): the single
// external system of record, a spreadsheet-like store reached over
// HTTP. All other packages read and write spool/union/audit data
// through the Gateway rather than talking to the transport directly.
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/sescanella/spoolflow/audit"
	"github.com/sescanella/spoolflow/config"
	"github.com/sescanella/spoolflow/observability"
)

// Worksheet names as they appear in the backing store.
const (
	WorksheetOperaciones = "OPERACIONES"
	WorksheetUniones     = "UNIONES"
	WorksheetMetadata    = "METADATA"
)

// Row is one row of a worksheet: logical column name to raw cell value.
type Row map[string]string

// Gateway is the HTTP client for the external tabular store. It owns a
// single shared transport (mirroring the pooled, reused-connection
// transport the rest of the pack builds for upstream calls) and holds
// no business semantics of its own.
type Gateway struct {
	baseURL       string
	storeID       string
	credentialRef string
	client        *http.Client
	logger        zerolog.Logger

	columns *ColumnCache
	monitor *RateMonitor
	metrics *observability.Metrics
}

// SetRateMonitor attaches the write-volume monitor (§5) so every
// batched write and append is recorded against its sliding window.
// Optional: a Gateway with no monitor attached simply skips recording.
func (g *Gateway) SetRateMonitor(m *RateMonitor) { g.monitor = m }

// SetMetrics attaches the metrics registry so every write call is
// recorded under spoolflow_sheets_writes_total. Optional.
func (g *Gateway) SetMetrics(m *observability.Metrics) { g.metrics = m }

// New creates a Gateway from config. The HTTP client timeout is fixed
// at 10s per call; callers layer request-scoped deadlines via ctx on
// top of that ceiling.
func New(cfg *config.Config, logger zerolog.Logger) *Gateway {
	transport := &http.Transport{
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}
	g := &Gateway{
		baseURL:       cfg.SheetsBaseURL,
		storeID:       cfg.SheetsStoreID,
		credentialRef: cfg.SheetsCredentialRef,
		client: &http.Client{
			Transport: transport,
			Timeout:   10 * time.Second,
		},
		logger: logger.With().Str("component", "sheets_gateway").Logger(),
	}
	g.columns = NewColumnCache(g)
	return g
}

// Columns returns the shared column-index cache for this gateway.
func (g *Gateway) Columns() *ColumnCache { return g.columns }

// ReadWorksheet fetches every row of the named worksheet.
func (g *Gateway) ReadWorksheet(ctx context.Context, worksheet string) ([]Row, error) {
	var out struct {
		Rows []Row `json:"rows"`
	}
	if err := g.do(ctx, http.MethodGet, fmt.Sprintf("/stores/%s/worksheets/%s/values", g.storeID, worksheet), nil, &out); err != nil {
		return nil, fmt.Errorf("sheets: read %s: %w", worksheet, err)
	}
	return out.Rows, nil
}

// HeaderRow fetches just the header row, used to build a column index.
func (g *Gateway) HeaderRow(ctx context.Context, worksheet string) ([]string, error) {
	var out struct {
		Header []string `json:"header"`
	}
	if err := g.do(ctx, http.MethodGet, fmt.Sprintf("/stores/%s/worksheets/%s/header", g.storeID, worksheet), nil, &out); err != nil {
		return nil, fmt.Errorf("sheets: header %s: %w", worksheet, err)
	}
	return out.Header, nil
}

// AppendRows appends rows to the end of a worksheet in a single call,
// preserving the given order. Used by the audit log (C4) through
// AppendEvents.
func (g *Gateway) AppendRows(ctx context.Context, worksheet string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	body := struct {
		Rows []Row `json:"rows"`
	}{Rows: rows}
	if err := g.do(ctx, http.MethodPost, fmt.Sprintf("/stores/%s/worksheets/%s/append", g.storeID, worksheet), body, nil); err != nil {
		if g.metrics != nil {
			g.metrics.TrackSheetsWrite(worksheet, false)
		}
		return fmt.Errorf("sheets: append %s: %w", worksheet, err)
	}
	if g.monitor != nil {
		g.monitor.RecordWrite(ctx)
	}
	if g.metrics != nil {
		g.metrics.TrackSheetsWrite(worksheet, true)
	}
	return nil
}

// CellUpdate is a single targeted write: one row (by key column/value)
// and one or more column updates.
type CellUpdate struct {
	KeyColumn string
	KeyValue  string
	Set       map[string]string
}

// BatchUpdate applies a set of targeted row updates in one call. Used
// by the Version/Conflict Service for compare-and-swap writes: the
// caller is responsible for checking the row's prior version before
// calling this, since the gateway itself has no CAS semantics.
func (g *Gateway) BatchUpdate(ctx context.Context, worksheet string, updates []CellUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	body := struct {
		Updates []CellUpdate `json:"updates"`
	}{Updates: updates}
	if err := g.do(ctx, http.MethodPatch, fmt.Sprintf("/stores/%s/worksheets/%s/values", g.storeID, worksheet), body, nil); err != nil {
		if g.metrics != nil {
			g.metrics.TrackSheetsWrite(worksheet, false)
		}
		return fmt.Errorf("sheets: update %s: %w", worksheet, err)
	}
	if g.monitor != nil {
		g.monitor.RecordWrite(ctx)
	}
	if g.metrics != nil {
		g.metrics.TrackSheetsWrite(worksheet, true)
	}
	return nil
}

// Ping checks reachability of the backing store, used by the health
// poller.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.do(ctx, http.MethodGet, fmt.Sprintf("/stores/%s", g.storeID), nil, nil)
}

func (g *Gateway) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.credentialRef != "" {
		req.Header.Set("Authorization", "Bearer "+g.credentialRef)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("store returned %d: %s", resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// AppendEvents implements audit.Sink, routing audit events into the
// METADATA worksheet as plain rows.
func (g *Gateway) AppendEvents(ctx context.Context, events []audit.Event) error {
	rows := make([]Row, 0, len(events))
	for _, e := range events {
		row := Row{
			"event_id":        e.EventID,
			"timestamp":       e.Timestamp.Format(time.RFC3339),
			"evento_tipo":     string(e.EventoTipo),
			"tag_spool":       e.TagSpool,
			"worker_id":       e.WorkerID,
			"worker_name":     e.WorkerName,
			"operacion":       string(e.Operacion),
			"accion":          string(e.Accion),
			"fecha_operacion": e.FechaOperacion.Format(time.RFC3339),
			"metadata":        e.MetadataJSON,
		}
		if e.NUnion != nil {
			row["n_union"] = fmt.Sprintf("%d", *e.NUnion)
		}
		rows = append(rows, row)
	}
	return g.AppendRows(ctx, WorksheetMetadata, rows)
}
