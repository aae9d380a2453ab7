package unions_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sescanella/spoolflow/config"
	"github.com/sescanella/spoolflow/errs"
	"github.com/sescanella/spoolflow/model"
	"github.com/sescanella/spoolflow/sheets"
	"github.com/sescanella/spoolflow/unions"
)

// fakeStore is a minimal stand-in for the tabular store's UNIONES
// worksheet, answering the values endpoint (GET and PATCH) the way
// sheets.Gateway expects.
type fakeStore struct {
	rows []sheets.Row
}

func newFakeStore(rows ...sheets.Row) *httptest.Server {
	fs := &fakeStore{rows: rows}
	mux := http.NewServeMux()
	mux.HandleFunc("/stores/test/worksheets/UNIONES/values", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]interface{}{"rows": fs.rows})
		case http.MethodPatch:
			var body struct {
				Updates []sheets.CellUpdate `json:"updates"`
			}
			json.NewDecoder(r.Body).Decode(&body)
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

func newRepo(srv *httptest.Server) *unions.Repository {
	cfg := &config.Config{SheetsBaseURL: srv.URL, SheetsStoreID: "test"}
	gw := sheets.New(cfg, zerolog.Nop())
	return unions.New(gw)
}

func row(id, tag string, n int, dn float64, tipo, armFin string) sheets.Row {
	return sheets.Row{
		"id":             id,
		"tagspool":       tag,
		"nunion":         strconv.Itoa(n),
		"dnunion":        strconv.FormatFloat(dn, 'f', -1, 64),
		"tipounion":      tipo,
		"armfechainicio": "",
		"armfechafin":    armFin,
	}
}

func TestByTagSpool_FiltersByTag(t *testing.T) {
	srv := newFakeStore(
		row("u1", "OT-001", 1, 2.0, "FW", ""),
		row("u2", "OT-002", 1, 3.0, "FW", ""),
	)
	defer srv.Close()
	repo := newRepo(srv)

	got, err := repo.ByTagSpool(context.Background(), "OT-001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].TagSpool != "OT-001" {
		t.Fatalf("expected 1 union for OT-001, got %v", got)
	}
}

func TestAvailableFor_ARM(t *testing.T) {
	srv := newFakeStore(
		row("u1", "OT-001", 1, 2.0, "FW", ""),              // ARM open
		row("u2", "OT-001", 2, 2.0, "FW", "29-07-2026 00:00:00"), // ARM closed
	)
	defer srv.Close()
	repo := newRepo(srv)

	avail, err := repo.AvailableFor(context.Background(), "OT-001", model.OperationARM)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(avail) != 1 || avail[0].NUnion != 1 {
		t.Fatalf("expected only union 1 available for ARM, got %v", avail)
	}
}

func TestCountCompleted_AndSumPulgadas(t *testing.T) {
	srv := newFakeStore(
		row("u1", "OT-001", 1, 2.0, "FW", "29-07-2026 00:00:00"),
		row("u2", "OT-001", 2, 3.5, "FW", "29-07-2026 00:00:00"),
		row("u3", "OT-001", 3, 1.0, "FW", ""),
	)
	defer srv.Close()
	repo := newRepo(srv)

	n, err := repo.CountCompleted(context.Background(), "OT-001", model.OperationARM)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 completed, got %d", n)
	}

	sum, err := repo.SumPulgadas(context.Background(), "OT-001", model.OperationARM)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum != 5.5 {
		t.Fatalf("expected pulgadas 5.5, got %v", sum)
	}
}

func TestBatchSet_RejectsAlreadyClosedUnion(t *testing.T) {
	srv := newFakeStore(
		row("u1", "OT-001", 1, 2.0, "FW", "29-07-2026 00:00:00"),
	)
	defer srv.Close()
	repo := newRepo(srv)

	_, err := repo.BatchSet(context.Background(), "OT-001", model.OperationARM, []unions.BatchUpdate{
		{NUnion: 1, WorkerLabel: "JD(1)"},
	})
	if err == nil {
		t.Fatal("expected RaceCondition for a union already closed for ARM")
	}
	e, ok := errs.As(err)
	if !ok || e.Kind != errs.RaceCondition {
		t.Fatalf("expected RaceCondition, got %v", err)
	}
}

func TestBatchSet_RejectsUnknownUnion(t *testing.T) {
	srv := newFakeStore(row("u1", "OT-001", 1, 2.0, "FW", ""))
	defer srv.Close()
	repo := newRepo(srv)

	rejected, err := repo.BatchSet(context.Background(), "OT-001", model.OperationARM, []unions.BatchUpdate{
		{NUnion: 99, WorkerLabel: "JD(1)"},
	})
	if err == nil {
		t.Fatal("expected an error for an unknown union number")
	}
	if len(rejected) != 1 || rejected[0] != 99 {
		t.Fatalf("expected rejected=[99], got %v", rejected)
	}
	if !strings.Contains(err.Error(), "99") {
		t.Fatalf("expected error to mention the rejected union, got %v", err)
	}
}
