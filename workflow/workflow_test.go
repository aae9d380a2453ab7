package workflow_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sescanella/spoolflow/audit"
	"github.com/sescanella/spoolflow/config"
	"github.com/sescanella/spoolflow/errs"
	"github.com/sescanella/spoolflow/eventbus"
	"github.com/sescanella/spoolflow/lockservice"
	"github.com/sescanella/spoolflow/model"
	"github.com/sescanella/spoolflow/sheets"
	"github.com/sescanella/spoolflow/spools"
	"github.com/sescanella/spoolflow/unions"
	"github.com/sescanella/spoolflow/version"
	"github.com/sescanella/spoolflow/workflow"
)

// fakeStore is a stateful stand-in for the tabular store covering the
// OPERACIONES and UNIONES worksheets plus the METADATA append sink,
// enough surface for the Occupation Workflow to run end to end.
type fakeStore struct {
	operaciones []sheets.Row
	uniones     []sheets.Row
	metadata    []sheets.Row
}

func newFakeStore(operaciones, uniones []sheets.Row) *httptest.Server {
	fs := &fakeStore{operaciones: operaciones, uniones: uniones}
	mux := http.NewServeMux()

	mux.HandleFunc("/stores/test/worksheets/OPERACIONES/values", fs.valuesHandler(&fs.operaciones, "tagspool"))
	mux.HandleFunc("/stores/test/worksheets/UNIONES/values", fs.valuesHandler(&fs.uniones, "id"))
	mux.HandleFunc("/stores/test/worksheets/METADATA/append", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Rows []sheets.Row `json:"rows"`
		}
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &body)
		fs.metadata = append(fs.metadata, body.Rows...)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{})
	})

	return httptest.NewServer(mux)
}

func (fs *fakeStore) valuesHandler(rows *[]sheets.Row, keyCol string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]interface{}{"rows": *rows})
		case http.MethodPatch:
			var body struct {
				Updates []sheets.CellUpdate `json:"updates"`
			}
			data, _ := io.ReadAll(r.Body)
			json.Unmarshal(data, &body)
			for _, u := range body.Updates {
				for _, row := range *rows {
					if row[u.KeyColumn] == u.KeyValue {
						for k, v := range u.Set {
							row[k] = v
						}
					}
				}
			}
			json.NewEncoder(w).Encode(map[string]interface{}{})
		}
	}
}

func spoolRow(tag string, totalUniones int) sheets.Row {
	return sheets.Row{
		"tagspool":        tag,
		"ot":              "OT-9",
		"totaluniones":    strconv.Itoa(totalUniones),
		"fechamateriales": "01-07-2026",
		"version":         "v1",
	}
}

func unionRow(id, tag string, n int, dn float64, tipo string, armFin string) sheets.Row {
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

type harness struct {
	wf  *workflow.Workflow
	srv *httptest.Server
}

func newHarness(t *testing.T, operaciones, uniones []sheets.Row) *harness {
	t.Helper()
	srv := newFakeStore(operaciones, uniones)
	t.Cleanup(srv.Close)

	cfg := &config.Config{SheetsBaseURL: srv.URL, SheetsStoreID: "test"}
	log := zerolog.New(io.Discard)
	gw := sheets.New(cfg, log)
	locks := lockservice.New(log, nil)
	versionSvc := version.New(log)
	auditLog := audit.New(log, gw)
	unionsRepo := unions.New(gw)
	spoolsRepo := spools.New(gw)
	bus := eventbus.New()

	wf := workflow.New(locks, spoolsRepo, unionsRepo, versionSvc, auditLog, bus, log)
	return &harness{wf: wf, srv: srv}
}

func worker(id string) model.Worker {
	return model.Worker{ID: id, Initials: strings.ToUpper(id), Active: true, Roles: []string{"ARM", "SOLD"}}
}

// TestFinalizar_PartialSelectionPauses exercises S1: 2 of 3 available
// unions selected for ARM results in PAUSAR with the running metrics
// reflecting only the closed unions.
func TestFinalizar_PartialSelectionPauses(t *testing.T) {
	h := newHarness(t, []sheets.Row{spoolRow("OT-001", 3)}, []sheets.Row{
		unionRow("u1", "OT-001", 1, 2.0, "FW", ""),
		unionRow("u2", "OT-001", 2, 3.0, "FW", ""),
		unionRow("u3", "OT-001", 3, 1.0, "FW", ""),
	})
	ctx := context.Background()
	w := worker("w1")

	if _, err := h.wf.Iniciar(ctx, "OT-001", w, model.OperationARM); err != nil {
		t.Fatalf("iniciar failed: %v", err)
	}

	res, err := h.wf.Finalizar(ctx, "OT-001", w, model.OperationARM, []int{1, 2})
	if err != nil {
		t.Fatalf("finalizar failed: %v", err)
	}
	if res.Action != workflow.ActionPausar {
		t.Fatalf("expected PAUSAR, got %s", res.Action)
	}
	if res.UnionsProcessed != 2 {
		t.Fatalf("expected 2 unions processed, got %d", res.UnionsProcessed)
	}
	if res.Pulgadas != 5.0 {
		t.Fatalf("expected pulgadas 5.0, got %v", res.Pulgadas)
	}
}

// TestFinalizar_FullSelectionCompletesAndTriggersMetrology exercises
// S2: selecting every available FW union closes ARM for the spool and
// the joint closure rule fires the metrology auto-trigger.
func TestFinalizar_FullSelectionCompletesAndTriggersMetrology(t *testing.T) {
	h := newHarness(t, []sheets.Row{spoolRow("OT-002", 2)}, []sheets.Row{
		unionRow("u1", "OT-002", 1, 2.0, "FW", ""),
		unionRow("u2", "OT-002", 2, 3.0, "FW", ""),
	})
	ctx := context.Background()
	w := worker("w1")

	if _, err := h.wf.Iniciar(ctx, "OT-002", w, model.OperationARM); err != nil {
		t.Fatalf("iniciar failed: %v", err)
	}

	res, err := h.wf.Finalizar(ctx, "OT-002", w, model.OperationARM, []int{1, 2})
	if err != nil {
		t.Fatalf("finalizar failed: %v", err)
	}
	if res.Action != workflow.ActionCompletar {
		t.Fatalf("expected COMPLETAR, got %s", res.Action)
	}
	if !res.MetrologiaTriggered {
		t.Fatal("expected metrology auto-trigger once every FW union has ARM closed")
	}
}

// TestFinalizar_PartialSelectionProjectsPausado covers the estado_detalle
// projection: a PAUSAR outcome must write back the hydrated machine's
// PAUSADO label, not leave the column untouched.
func TestFinalizar_PartialSelectionProjectsPausado(t *testing.T) {
	h := newHarness(t, []sheets.Row{spoolRow("OT-007", 3)}, []sheets.Row{
		unionRow("u1", "OT-007", 1, 2.0, "FW", ""),
		unionRow("u2", "OT-007", 2, 3.0, "FW", ""),
		unionRow("u3", "OT-007", 3, 1.0, "FW", ""),
	})
	ctx := context.Background()
	w := worker("w1")

	if _, err := h.wf.Iniciar(ctx, "OT-007", w, model.OperationARM); err != nil {
		t.Fatalf("iniciar failed: %v", err)
	}
	if _, err := h.wf.Finalizar(ctx, "OT-007", w, model.OperationARM, []int{1}); err != nil {
		t.Fatalf("finalizar failed: %v", err)
	}

	spool, err := spools.New(sheets.New(&config.Config{SheetsBaseURL: h.srv.URL, SheetsStoreID: "test"}, zerolog.New(io.Discard))).Get(ctx, "OT-007")
	if err != nil {
		t.Fatalf("unexpected error reading back spool: %v", err)
	}
	if spool.EstadoDetalle != "PAUSADO" {
		t.Fatalf("expected estado_detalle PAUSADO, got %q", spool.EstadoDetalle)
	}
}

// TestFinalizar_ZeroSelectionCancels exercises S5: finalizing with no
// selected unions cancels the occupation and releases the lock without
// touching any union row.
func TestFinalizar_ZeroSelectionCancels(t *testing.T) {
	h := newHarness(t, []sheets.Row{spoolRow("OT-003", 1)}, []sheets.Row{
		unionRow("u1", "OT-003", 1, 2.0, "FW", ""),
	})
	ctx := context.Background()
	w := worker("w1")

	if _, err := h.wf.Iniciar(ctx, "OT-003", w, model.OperationARM); err != nil {
		t.Fatalf("iniciar failed: %v", err)
	}

	res, err := h.wf.Finalizar(ctx, "OT-003", w, model.OperationARM, nil)
	if err != nil {
		t.Fatalf("finalizar failed: %v", err)
	}
	if res.Action != workflow.ActionCancelado {
		t.Fatalf("expected CANCELADO, got %s", res.Action)
	}
	if res.UnionsProcessed != 0 {
		t.Fatalf("expected 0 unions processed, got %d", res.UnionsProcessed)
	}
}

// TestIniciar_SOLDWithoutArmCompletedFails exercises S3: a SOLD
// occupation attempt is rejected until at least one union has ARM
// recorded done.
func TestIniciar_SOLDWithoutArmCompletedFails(t *testing.T) {
	h := newHarness(t, []sheets.Row{spoolRow("OT-004", 1)}, []sheets.Row{
		unionRow("u1", "OT-004", 1, 2.0, "FW", ""),
	})
	ctx := context.Background()
	w := worker("w1")

	_, err := h.wf.Iniciar(ctx, "OT-004", w, model.OperationSOLD)
	if err == nil {
		t.Fatal("expected ArmPrerequisite error")
	}
	e, ok := errs.As(err)
	if !ok || e.Kind != errs.ArmPrerequisite {
		t.Fatalf("expected ArmPrerequisite, got %v", err)
	}
}

func TestFinalizar_RequiresHeldLock(t *testing.T) {
	h := newHarness(t, []sheets.Row{spoolRow("OT-005", 1)}, []sheets.Row{
		unionRow("u1", "OT-005", 1, 2.0, "FW", ""),
	})
	ctx := context.Background()

	_, err := h.wf.Finalizar(ctx, "OT-005", worker("w1"), model.OperationARM, []int{1})
	if err == nil {
		t.Fatal("expected NotAuthorized when the worker never acquired the lock")
	}
	e, ok := errs.As(err)
	if !ok || e.Kind != errs.NotAuthorized {
		t.Fatalf("expected NotAuthorized, got %v", err)
	}
}

func TestIniciar_RejectsLegacyV3Spool(t *testing.T) {
	h := newHarness(t, []sheets.Row{spoolRow("OT-006", 0)}, nil)
	ctx := context.Background()

	_, err := h.wf.Iniciar(ctx, "OT-006", worker("w1"), model.OperationARM)
	if err == nil {
		t.Fatal("expected WrongVersion for a v3 spool on the v4 endpoint")
	}
	e, ok := errs.As(err)
	if !ok || e.Kind != errs.WrongVersion {
		t.Fatalf("expected WrongVersion, got %v", err)
	}
}
