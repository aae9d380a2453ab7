// Package workflow implements the Occupation Workflow (C7) and the
// Union Selection Engine (C8): the central FINALIZAR algorithm and
// its supporting INICIAR/CANCELAR/legacy-v3 operations.
package workflow

import (
	"math"
	"time"

	"github.com/sescanella/spoolflow/model"
	"github.com/sescanella/spoolflow/unions"
)

// Action is the auto-determined outcome of a FINALIZAR call.
type Action string

const (
	ActionCompletar Action = "COMPLETAR"
	ActionPausar    Action = "PAUSAR"
	ActionCancelado Action = "CANCELADO"
)

// Plan is the Union Selection Engine's pure output: everything the
// Occupation Workflow needs to execute, without the engine itself
// touching the network. It never talks to the gateway or lock
// service directly — see §4.8.
type Plan struct {
	Action            Action
	K                 int
	N                 int
	Pulgadas          float64
	BatchUpdates      []unions.BatchUpdate
	UnavailableUnions []int
}

// SelectionEngine is the pure algorithmic core of FINALIZAR steps 2-7.
// It consumes a fresh read of available unions and a caller-submitted
// selection and computes the write plan; it holds no state and makes
// no I/O calls.
type SelectionEngine struct{}

// NewSelectionEngine returns the stateless selection engine.
func NewSelectionEngine() *SelectionEngine { return &SelectionEngine{} }

// Plan computes the FINALIZAR plan for op against a fresh read of
// available unions, given the caller's requested selectedIDs
// (n_union ordinals). now is injected so callers control the written
// timestamp.
func (e *SelectionEngine) Plan(op model.Operation, available []*model.Union, selectedIDs []int, workerLabel string, now time.Time) Plan {
	availByN := make(map[int]*model.Union, len(available))
	for _, u := range available {
		availByN[u.NUnion] = u
	}

	n := len(available)

	var selected []int
	var unavailable []int
	selectedSet := make(map[int]bool)
	for _, id := range selectedIDs {
		if _, ok := availByN[id]; ok {
			if !selectedSet[id] {
				selected = append(selected, id)
				selectedSet[id] = true
			}
		} else {
			unavailable = append(unavailable, id)
		}
	}
	k := len(selected)

	if k == 0 {
		return Plan{Action: ActionCancelado, K: 0, N: n, UnavailableUnions: unavailable}
	}

	updates := make([]unions.BatchUpdate, 0, k)
	var pulgadas float64
	for _, id := range selected {
		u := availByN[id]
		updates = append(updates, unions.BatchUpdate{
			NUnion:      id,
			FechaInicio: now,
			FechaFin:    now,
			WorkerLabel: workerLabel,
		})
		pulgadas += u.DNUnion
	}
	pulgadas = math.Round(pulgadas*10) / 10

	action := ActionPausar
	if k == n {
		action = ActionCompletar
	}

	return Plan{
		Action:            action,
		K:                 k,
		N:                 n,
		Pulgadas:          pulgadas,
		BatchUpdates:      updates,
		UnavailableUnions: unavailable,
	}
}
