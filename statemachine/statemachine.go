// Package statemachine implements the hierarchical ARM/SOLD/METROLOGIA
// state machines (C9). Machines are pure functions over row data —
// hydrated fresh from a Spool/Union snapshot on every request, never
// persisted as an enum on the row itself. estado_detalle is the
// pretty-printed projection written back for display.
package statemachine

import "github.com/sescanella/spoolflow/model"

// OpState is one of the per-operation (ARM or SOLD) lifecycle states.
type OpState string

const (
	OpPendiente  OpState = "PENDIENTE"
	OpEnProgreso OpState = "EN_PROGRESO"
	OpPausado    OpState = "PAUSADO"
	OpCompletado OpState = "COMPLETADO"
)

// MetrologiaState is the NDT inspection lifecycle state.
type MetrologiaState string

const (
	MetrologiaNoAplica            MetrologiaState = "NO_APLICA"
	MetrologiaPendiente           MetrologiaState = "PENDIENTE"
	MetrologiaAprobado            MetrologiaState = "APROBADO"
	MetrologiaRechazado           MetrologiaState = "RECHAZADO"
	MetrologiaPendienteReparacion MetrologiaState = "PENDIENTE_REPARACION"
	MetrologiaBloqueado           MetrologiaState = "BLOQUEADO"
)

// Spool composes the three inner machines for one spool, each
// independently derived from the same snapshot.
type Spool struct {
	Arm         OpState
	Sold        OpState
	Metrologia  MetrologiaState
	RepairCycle int
}

// Hydrate derives the full Spool machine state from a spool row and
// its unions. It never mutates its inputs.
func Hydrate(s *model.Spool, unions []*model.Union) Spool {
	return Spool{
		Arm:         hydrateOp(unions, model.OperationARM, s.Occupied()),
		Sold:        hydrateOp(unions, model.OperationSOLD, s.Occupied()),
		Metrologia:  hydrateMetrologia(s),
		RepairCycle: repairCycleOf(s),
	}
}

func hydrateOp(unions []*model.Union, op model.Operation, occupied bool) OpState {
	if len(unions) == 0 {
		return OpPendiente
	}

	started, completed := 0, 0
	for _, u := range unions {
		if op == model.OperationSOLD && u.ArmFechaFin == nil {
			continue // not yet eligible for SOLD
		}
		if u.Closed(op) {
			completed++
			started++
			continue
		}
		if opStarted(u, op) {
			started++
		}
	}

	switch {
	case completed == len(eligible(unions, op)) && completed > 0:
		return OpCompletado
	case started > 0 && occupied:
		return OpEnProgreso
	case started > 0:
		return OpPausado
	default:
		return OpPendiente
	}
}

func eligible(unions []*model.Union, op model.Operation) []*model.Union {
	if op == model.OperationARM {
		return unions
	}
	var out []*model.Union
	for _, u := range unions {
		if u.ArmFechaFin != nil {
			out = append(out, u)
		}
	}
	return out
}

func opStarted(u *model.Union, op model.Operation) bool {
	if op == model.OperationARM {
		return u.ArmFechaInicio != nil
	}
	return u.SolFechaInicio != nil
}

func hydrateMetrologia(s *model.Spool) MetrologiaState {
	switch s.EstadoDetalle {
	case "PENDIENTE_METROLOGIA":
		return MetrologiaPendiente
	case "APROBADO":
		return MetrologiaAprobado
	case "RECHAZADO":
		return MetrologiaRechazado
	case "PENDIENTE_REPARACION":
		return MetrologiaPendienteReparacion
	case "BLOQUEADO":
		return MetrologiaBloqueado
	default:
		return MetrologiaNoAplica
	}
}

func repairCycleOf(s *model.Spool) int {
	// estado_detalle carries no numeric cycle counter and the spool row
	// has no repair-cycle column, so the counter is always 0 here.
	return 0
}

// ShouldTriggerMetrology evaluates the joint ARM/SOLD closure rule
// from §4.7 step 9: every FW union must have ARM closed, and every
// non-FW union must have SOLD closed.
func ShouldTriggerMetrology(unions []*model.Union) bool {
	if len(unions) == 0 {
		return false
	}
	for _, u := range unions {
		if u.IsFW() {
			if u.ArmFechaFin == nil {
				return false
			}
			continue
		}
		if u.SolFechaFin == nil {
			return false
		}
	}
	return true
}

// Describe renders the machine's estado_detalle display projection.
func (m Spool) Describe() string {
	switch m.Metrologia {
	case MetrologiaPendiente:
		return "PENDIENTE_METROLOGIA"
	case MetrologiaAprobado:
		return "APROBADO"
	case MetrologiaRechazado:
		return "RECHAZADO"
	case MetrologiaPendienteReparacion:
		return "PENDIENTE_REPARACION"
	case MetrologiaBloqueado:
		return "BLOQUEADO"
	}

	if m.Arm == OpCompletado && m.Sold == OpCompletado {
		return "COMPLETADO"
	}
	if m.Arm == OpPausado || m.Sold == OpPausado {
		return "PAUSADO"
	}
	if m.Arm == OpEnProgreso || m.Sold == OpEnProgreso {
		return "EN_PROGRESO"
	}
	return "PENDIENTE"
}
