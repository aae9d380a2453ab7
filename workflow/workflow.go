package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sescanella/spoolflow/audit"
	"github.com/sescanella/spoolflow/errs"
	"github.com/sescanella/spoolflow/eventbus"
	"github.com/sescanella/spoolflow/lockservice"
	"github.com/sescanella/spoolflow/model"
	"github.com/sescanella/spoolflow/spools"
	"github.com/sescanella/spoolflow/statemachine"
	"github.com/sescanella/spoolflow/unions"
	"github.com/sescanella/spoolflow/version"
)

const maxFinalizarAttempts = 3

// Workflow wires the Occupation Workflow (C7) together: lock
// ownership, repositories, the selection engine, version CAS, audit
// logging and live event fan-out.
type Workflow struct {
	locks      *lockservice.Service
	spoolsRepo *spools.Repository
	unionsRepo *unions.Repository
	versionSvc *version.Service
	auditLog   *audit.Log
	bus        *eventbus.Bus
	selection  *SelectionEngine
	logger     zerolog.Logger
}

// New wires a Workflow from its component services.
func New(
	locks *lockservice.Service,
	spoolsRepo *spools.Repository,
	unionsRepo *unions.Repository,
	versionSvc *version.Service,
	auditLog *audit.Log,
	bus *eventbus.Bus,
	logger zerolog.Logger,
) *Workflow {
	return &Workflow{
		locks:      locks,
		spoolsRepo: spoolsRepo,
		unionsRepo: unionsRepo,
		versionSvc: versionSvc,
		auditLog:   auditLog,
		bus:        bus,
		selection:  NewSelectionEngine(),
		logger:     logger.With().Str("component", "occupation_workflow").Logger(),
	}
}

// IniciarResult is the response shape for a successful INICIAR call.
type IniciarResult struct {
	TagSpool string
}

// Iniciar acquires occupation of a v4 spool for worker, subject to the
// prerequisites in §4.7: the spool must exist, carry per-union rows,
// have fecha_materiales set, and — for SOLD — have at least one union
// with ARM already closed.
func (w *Workflow) Iniciar(ctx context.Context, tag string, worker model.Worker, op model.Operation) (*IniciarResult, error) {
	spool, err := w.spoolsRepo.Get(ctx, tag)
	if err != nil {
		return nil, err
	}
	if !spool.IsV4() {
		return nil, errs.WithDetails(errs.WrongVersion, "spool has no per-union rows", map[string]interface{}{
			"correct_endpoint": "/v3/occupation/tomar",
		})
	}
	if spool.FechaMateriales == nil {
		return nil, errs.New(errs.InvalidState, "fecha_materiales not set")
	}

	w.locks.Reconcile(tag, spool.Occupied())

	if op == model.OperationSOLD {
		armUnions, err := w.unionsRepo.ByTagSpool(ctx, tag)
		if err != nil {
			return nil, err
		}
		anyArmDone := false
		for _, u := range armUnions {
			if u.ArmFechaFin != nil {
				anyArmDone = true
				break
			}
		}
		if !anyArmDone {
			return nil, errs.New(errs.ArmPrerequisite, "no union has completed ARM yet")
		}
	}

	if _, err := w.locks.TryAcquire(ctx, tag, worker.ID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := w.spoolsRepo.SetOccupation(ctx, w.versionSvc, tag, worker.Label(), now, spool.Version); err != nil {
		_ = w.locks.ReleaseByWorker(ctx, tag, worker.ID)
		return nil, err
	}

	degraded := w.logEvent(ctx, audit.Event{
		EventoTipo:     audit.EventTomarSpool,
		TagSpool:       tag,
		WorkerID:       worker.ID,
		WorkerName:     worker.Initials,
		Operacion:      toAuditOperacion(op),
		Accion:         audit.AccionIniciar,
		FechaOperacion: now,
	})
	if degraded {
		w.logger.Warn().Str("tag", tag).Msg("audit degraded on INICIAR")
	}

	w.bus.Publish(eventbus.Event{
		Kind:      eventbus.KindIniciar,
		TagSpool:  tag,
		Worker:    worker.Label(),
		Timestamp: now,
	})

	return &IniciarResult{TagSpool: tag}, nil
}

// FinalizarResult is the response shape for a successful FINALIZAR
// call.
type FinalizarResult struct {
	TagSpool            string  `json:"tag_spool"`
	Action              Action  `json:"action"`
	UnionsProcessed     int     `json:"unions_processed"`
	Pulgadas            float64 `json:"pulgadas"`
	MetrologiaTriggered bool    `json:"metrologia_triggered"`
	AuditDegraded       bool    `json:"audit_degraded"`
}

// Finalizar runs the normative FINALIZAR algorithm (§4.7). worker must
// currently hold the lock on tag.
func (w *Workflow) Finalizar(ctx context.Context, tag string, worker model.Worker, op model.Operation, selectedIDs []int) (*FinalizarResult, error) {
	// Step 1: ownership gate.
	if w.locks.Owner(tag) != worker.ID {
		return nil, errs.New(errs.NotAuthorized, fmt.Sprintf("worker %s does not hold the lock on %s", worker.ID, tag))
	}

	spool, err := w.spoolsRepo.Get(ctx, tag)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var plan Plan

	// Steps 2-4 with race-aware retry: a rejected batch write (another
	// writer closed a union between our fresh read and our write)
	// re-enters the algorithm from a fresh read, as required by step 6.
	for attempt := 1; attempt <= maxFinalizarAttempts; attempt++ {
		available, err := w.unionsRepo.AvailableFor(ctx, tag, op)
		if err != nil {
			return nil, err
		}

		plan = w.selection.Plan(op, available, selectedIDs, worker.Label(), now)

		if plan.Action == ActionCancelado {
			return w.finalizarZeroSelection(ctx, tag, worker, op, now)
		}

		rejected, err := w.unionsRepo.BatchSet(ctx, tag, op, plan.BatchUpdates)
		if err == nil {
			break
		}
		if e, ok := errs.As(err); ok && e.Kind == errs.RaceCondition {
			if attempt == maxFinalizarAttempts {
				return nil, errs.WithDetails(errs.RaceCondition, "union selection lost to a concurrent writer", map[string]interface{}{
					"unavailable_unions": rejected,
					"available_count":    plan.N,
					"requested_count":    len(selectedIDs),
				})
			}
			continue
		}
		// sheets_unavailable: retain the lock, surface 503.
		return nil, err
	}

	// Step 5: metric recompute, under the spool's current version.
	count, err := w.unionsRepo.CountCompleted(ctx, tag, op)
	if err != nil {
		return nil, err
	}
	pulgadas, err := w.unionsRepo.SumPulgadas(ctx, tag, op)
	if err != nil {
		return nil, err
	}
	recompute := func(ctx context.Context) error {
		spool, err = w.spoolsRepo.Get(ctx, tag)
		return err
	}
	if _, err := w.spoolsRepo.SetMetrics(ctx, w.versionSvc, tag, op, spools.Metrics{
		UnionesCompletadas: count,
		Pulgadas:           pulgadas,
	}, spool.Version, recompute); err != nil {
		return nil, err
	}

	// Step 7: audit, one spool-scope event followed by k union-scope events.
	events := make([]audit.Event, 0, 1+plan.K)
	events = append(events, audit.Event{
		EventoTipo:     spoolScopeEventType(op, plan.Action),
		TagSpool:       tag,
		WorkerID:       worker.ID,
		WorkerName:     worker.Initials,
		Operacion:      toAuditOperacion(op),
		Accion:         audit.AccionFinalizar,
		FechaOperacion: now,
		MetadataJSON:   fmt.Sprintf(`{"total_available":%d,"selected":%d,"pulgadas":%.1f}`, plan.N, plan.K, plan.Pulgadas),
	})
	for _, u := range plan.BatchUpdates {
		n := u.NUnion
		events = append(events, audit.Event{
			EventoTipo:     unionScopeEventType(op),
			TagSpool:       tag,
			NUnion:         &n,
			WorkerID:       worker.ID,
			WorkerName:     worker.Initials,
			Operacion:      toAuditOperacion(op),
			Accion:         audit.AccionFinalizar,
			FechaOperacion: now,
		})
	}
	degraded := w.logEvent(ctx, events...)

	// Step 8: occupation release.
	if _, err := w.spoolsRepo.ClearOccupation(ctx, w.versionSvc, tag, spool.Version); err != nil {
		return nil, err
	}
	if err := w.locks.ReleaseByWorker(ctx, tag, worker.ID); err != nil {
		w.logger.Warn().Err(err).Str("tag", tag).Msg("lock release failed past durable mutation; ignoring")
	}

	w.bus.Publish(eventbus.Event{
		Kind:      eventbus.Kind(plan.Action),
		TagSpool:  tag,
		Worker:    worker.Label(),
		Timestamp: now,
	})

	result := &FinalizarResult{
		TagSpool:        tag,
		Action:          plan.Action,
		UnionsProcessed: plan.K,
		Pulgadas:        plan.Pulgadas,
		AuditDegraded:   degraded,
	}

	// Step 9: estado_detalle projection and metrology auto-trigger. The
	// machines are re-hydrated from the post-release snapshot so
	// estado_detalle reflects whichever of Describe()'s branches
	// actually applies (COMPLETADO/PAUSADO/EN_PROGRESO as well as the
	// metrology states), not just the metrology hand-off.
	allUnions, err := w.unionsRepo.ByTagSpool(ctx, tag)
	if err != nil {
		w.logger.Warn().Err(err).Str("tag", tag).Msg("could not re-read unions for estado_detalle projection")
		return result, nil
	}

	released := *spool
	released.OcupadoPor = ""
	triggerMetrology := plan.Action == ActionCompletar && statemachine.ShouldTriggerMetrology(allUnions)
	if triggerMetrology {
		released.EstadoDetalle = "PENDIENTE_METROLOGIA"
	}
	estadoDetalle := statemachine.Hydrate(&released, allUnions).Describe()

	if err := w.spoolsRepo.SetEstadoDetalle(ctx, tag, estadoDetalle); err != nil {
		w.logger.Warn().Err(err).Str("tag", tag).Msg("estado_detalle projection write failed")
		return result, nil
	}

	if triggerMetrology {
		result.MetrologiaTriggered = true
		if w.logEvent(ctx, audit.Event{
			EventoTipo:     audit.EventMetrologiaAutoTriggered,
			TagSpool:       tag,
			WorkerID:       worker.ID,
			WorkerName:     worker.Initials,
			Operacion:      toAuditOperacion(op),
			Accion:         audit.AccionAutoTrigger,
			FechaOperacion: now,
		}) {
			result.AuditDegraded = true
		}
		w.bus.Publish(eventbus.Event{
			Kind:          eventbus.KindMetrologiaAutoTriggered,
			TagSpool:      tag,
			EstadoDetalle: "PENDIENTE_METROLOGIA",
			Timestamp:     now,
		})
	}

	return result, nil
}

func (w *Workflow) finalizarZeroSelection(ctx context.Context, tag string, worker model.Worker, op model.Operation, now time.Time) (*FinalizarResult, error) {
	spool, err := w.spoolsRepo.Get(ctx, tag)
	if err != nil {
		return nil, err
	}
	if _, err := w.spoolsRepo.ClearOccupation(ctx, w.versionSvc, tag, spool.Version); err != nil {
		return nil, err
	}
	if err := w.locks.ReleaseByWorker(ctx, tag, worker.ID); err != nil {
		w.logger.Warn().Err(err).Str("tag", tag).Msg("lock release failed on zero-selection cancel")
	}

	degraded := w.logEvent(ctx, audit.Event{
		EventoTipo:     audit.EventSpoolCancelado,
		TagSpool:       tag,
		WorkerID:       worker.ID,
		WorkerName:     worker.Initials,
		Operacion:      toAuditOperacion(op),
		Accion:         audit.AccionCancelar,
		FechaOperacion: now,
		MetadataJSON:   `{"motivo":"sin uniones"}`,
	})

	w.bus.Publish(eventbus.Event{
		Kind:      eventbus.KindPausar,
		TagSpool:  tag,
		Worker:    worker.Label(),
		Timestamp: now,
	})

	return &FinalizarResult{
		TagSpool:        tag,
		Action:          ActionCancelado,
		UnionsProcessed: 0,
		Pulgadas:        0,
		AuditDegraded:   degraded,
	}, nil
}

// Cancelar aborts an in-progress occupation with no union selected,
// releasing the lock and clearing occupation without touching any
// union row.
func (w *Workflow) Cancelar(ctx context.Context, tag string, worker model.Worker, op model.Operation) error {
	if w.locks.Owner(tag) != worker.ID {
		return errs.New(errs.NotAuthorized, fmt.Sprintf("worker %s does not hold the lock on %s", worker.ID, tag))
	}
	spool, err := w.spoolsRepo.Get(ctx, tag)
	if err != nil {
		return err
	}
	if _, err := w.spoolsRepo.ClearOccupation(ctx, w.versionSvc, tag, spool.Version); err != nil {
		return err
	}
	if err := w.locks.ReleaseByWorker(ctx, tag, worker.ID); err != nil {
		return err
	}

	now := time.Now().UTC()
	w.logEvent(ctx, audit.Event{
		EventoTipo:     audit.EventSpoolCancelado,
		TagSpool:       tag,
		WorkerID:       worker.ID,
		WorkerName:     worker.Initials,
		Operacion:      toAuditOperacion(op),
		Accion:         audit.AccionCancelar,
		FechaOperacion: now,
	})
	w.bus.Publish(eventbus.Event{Kind: eventbus.KindCancelado, TagSpool: tag, Worker: worker.Label(), Timestamp: now})
	return nil
}

// logEvent batch-logs events and reports whether the write degraded.
func (w *Workflow) logEvent(ctx context.Context, events ...audit.Event) (degraded bool) {
	if err := w.auditLog.BatchLog(ctx, events); err != nil {
		w.logger.Error().Err(err).Msg("audit batch log failed")
		return true
	}
	return false
}

func toAuditOperacion(op model.Operation) audit.Operacion {
	if op == model.OperationARM {
		return audit.OperacionARM
	}
	return audit.OperacionSOLD
}

func spoolScopeEventType(op model.Operation, action Action) audit.EventType {
	switch {
	case op == model.OperationARM && action == ActionCompletar:
		return audit.EventSpoolArmCompletado
	case op == model.OperationARM:
		return audit.EventSpoolArmPausado
	case op == model.OperationSOLD && action == ActionCompletar:
		return audit.EventSpoolSoldCompletado
	default:
		return audit.EventSpoolSoldPausado
	}
}

func unionScopeEventType(op model.Operation) audit.EventType {
	if op == model.OperationARM {
		return audit.EventUnionArmRegistrada
	}
	return audit.EventUnionSoldRegistrada
}
