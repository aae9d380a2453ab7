package spools_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sescanella/spoolflow/config"
	"github.com/sescanella/spoolflow/errs"
	"github.com/sescanella/spoolflow/model"
	"github.com/sescanella/spoolflow/sheets"
	"github.com/sescanella/spoolflow/spools"
	"github.com/sescanella/spoolflow/version"
)

// fakeStore is a stand-in for the tabular store's OPERACIONES
// worksheet, mutable across calls so CAS writes are actually visible
// on a subsequent Get.
type fakeStore struct {
	rows []sheets.Row
}

func newFakeStore(rows ...sheets.Row) *httptest.Server {
	fs := &fakeStore{rows: rows}
	mux := http.NewServeMux()
	mux.HandleFunc("/stores/test/worksheets/OPERACIONES/values", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]interface{}{"rows": fs.rows})
		case http.MethodPatch:
			var body struct {
				Updates []sheets.CellUpdate `json:"updates"`
			}
			data, _ := io.ReadAll(r.Body)
			json.Unmarshal(data, &body)
			for _, u := range body.Updates {
				for _, row := range fs.rows {
					if row[u.KeyColumn] == u.KeyValue {
						for k, v := range u.Set {
							row[k] = v
						}
					}
				}
			}
			json.NewEncoder(w).Encode(map[string]interface{}{})
		}
	})
	return httptest.NewServer(mux)
}

func newRepo(srv *httptest.Server) *spools.Repository {
	cfg := &config.Config{SheetsBaseURL: srv.URL, SheetsStoreID: "test"}
	gw := sheets.New(cfg, zerolog.Nop())
	return spools.New(gw)
}

func baseRow(tag string) sheets.Row {
	return sheets.Row{
		"tagspool":        tag,
		"ot":              "OT-9",
		"totaluniones":    "3",
		"fechamateriales": "29-07-2026",
		"version":         "v1",
	}
}

func TestGet_ReturnsSpoolByTag(t *testing.T) {
	srv := newFakeStore(baseRow("OT-001"))
	defer srv.Close()
	repo := newRepo(srv)

	s, err := repo.Get(context.Background(), "OT-001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.TagSpool != "OT-001" || s.TotalUniones != 3 {
		t.Fatalf("unexpected spool: %+v", s)
	}
}

func TestGet_NotFound(t *testing.T) {
	srv := newFakeStore(baseRow("OT-001"))
	defer srv.Close()
	repo := newRepo(srv)

	_, err := repo.Get(context.Background(), "OT-404")
	if err == nil {
		t.Fatal("expected SpoolNotFound")
	}
	e, ok := errs.As(err)
	if !ok || e.Kind != errs.SpoolNotFound {
		t.Fatalf("expected SpoolNotFound, got %v", err)
	}
}

func TestSetOccupation_WritesOccupantAndVersion(t *testing.T) {
	srv := newFakeStore(baseRow("OT-001"))
	defer srv.Close()
	repo := newRepo(srv)
	vs := version.New(zerolog.Nop())

	newVer, err := repo.SetOccupation(context.Background(), vs, "OT-001", "w1", time.Now(), "v1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if newVer == "" || newVer == "v1" {
		t.Fatalf("expected a fresh version token, got %q", newVer)
	}

	got, err := repo.Get(context.Background(), "OT-001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.OcupadoPor != "w1" {
		t.Fatalf("expected occupant w1, got %q", got.OcupadoPor)
	}
}

// TestSetOccupation_StaleVersionConflicts covers S6/testable property:
// a write against a version the row no longer carries must be rejected
// as a genuine conflict (and exhaust the CAS retry budget, since
// nothing in this scenario ever makes the stale expectation current
// again), not silently applied.
func TestSetOccupation_StaleVersionConflicts(t *testing.T) {
	srv := newFakeStore(baseRow("OT-001")) // row carries version "v1"
	defer srv.Close()
	repo := newRepo(srv)
	vs := version.New(zerolog.Nop())

	_, err := repo.SetOccupation(context.Background(), vs, "OT-001", "w2", time.Now(), "stale-version")
	if err == nil {
		t.Fatal("expected a version conflict for a stale expected version")
	}
	e, ok := errs.As(err)
	if !ok || e.Kind != errs.VersionConflict {
		t.Fatalf("expected VersionConflict, got %v", err)
	}

	got, err := repo.Get(context.Background(), "OT-001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.OcupadoPor != "" {
		t.Fatalf("expected the row untouched after a rejected CAS, got occupant %q", got.OcupadoPor)
	}
}

func TestClearOccupation_RemovesOccupant(t *testing.T) {
	row := baseRow("OT-001")
	row["ocupadopor"] = "w1"
	row["fechaocupacion"] = "29-07-2026 10:00:00"
	srv := newFakeStore(row)
	defer srv.Close()
	repo := newRepo(srv)
	vs := version.New(zerolog.Nop())

	_, err := repo.ClearOccupation(context.Background(), vs, "OT-001", "v1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := repo.Get(context.Background(), "OT-001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.OcupadoPor != "" {
		t.Fatalf("expected occupant cleared, got %q", got.OcupadoPor)
	}
}

func TestSetMetrics_WritesCountAndPulgadas(t *testing.T) {
	srv := newFakeStore(baseRow("OT-001"))
	defer srv.Close()
	repo := newRepo(srv)
	vs := version.New(zerolog.Nop())

	_, err := repo.SetMetrics(context.Background(), vs, "OT-001", model.OperationARM,
		spools.Metrics{UnionesCompletadas: 2, Pulgadas: 6.5}, "v1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := repo.Get(context.Background(), "OT-001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.UnionesArmCompletadas != 2 || got.PulgadasArm != 6.5 {
		t.Fatalf("unexpected metrics: %+v", got)
	}
}

func TestSetEstadoDetalle_WritesProjection(t *testing.T) {
	srv := newFakeStore(baseRow("OT-001"))
	defer srv.Close()
	repo := newRepo(srv)

	if err := repo.SetEstadoDetalle(context.Background(), "OT-001", "PENDIENTE_METROLOGIA"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := repo.Get(context.Background(), "OT-001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.EstadoDetalle != "PENDIENTE_METROLOGIA" {
		t.Fatalf("expected estado_detalle written, got %q", got.EstadoDetalle)
	}
}
