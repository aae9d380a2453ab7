package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/sescanella/spoolflow/audit"
	"github.com/sescanella/spoolflow/errs"
	"github.com/sescanella/spoolflow/eventbus"
	"github.com/sescanella/spoolflow/model"
)

// Tomar is the v3 legacy counterpart of Iniciar: it occupies a
// non-v4 spool (total_uniones = 0) at spool granularity, writing
// dates directly on the spool row rather than per union.
func (w *Workflow) Tomar(ctx context.Context, tag string, worker model.Worker, op model.Operation) error {
	spool, err := w.spoolsRepo.Get(ctx, tag)
	if err != nil {
		return err
	}
	if spool.IsV4() {
		return errs.WithDetails(errs.WrongVersion, "spool has per-union rows", map[string]interface{}{
			"correct_endpoint": "/v4/occupation/iniciar",
		})
	}
	if spool.FechaMateriales == nil {
		return errs.New(errs.InvalidState, "fecha_materiales not set")
	}

	w.locks.Reconcile(tag, spool.Occupied())
	if _, err := w.locks.TryAcquire(ctx, tag, worker.ID); err != nil {
		return err
	}

	now := time.Now().UTC()
	if _, err := w.spoolsRepo.SetOccupation(ctx, w.versionSvc, tag, worker.Label(), now, spool.Version); err != nil {
		_ = w.locks.ReleaseByWorker(ctx, tag, worker.ID)
		return err
	}

	w.logEvent(ctx, audit.Event{
		EventoTipo:     audit.EventTomarSpool,
		TagSpool:       tag,
		WorkerID:       worker.ID,
		WorkerName:     worker.Initials,
		Operacion:      toAuditOperacion(op),
		Accion:         audit.AccionTomar,
		FechaOperacion: now,
	})
	w.bus.Publish(eventbus.Event{Kind: eventbus.KindTomar, TagSpool: tag, Worker: worker.Label(), Timestamp: now})
	return nil
}

// releaseLegacy is the shared tail of Pausar/Completar: clear
// occupation, release the lock, log the event and publish it.
func (w *Workflow) releaseLegacy(ctx context.Context, tag string, worker model.Worker, op model.Operation, action audit.Accion, eventType audit.EventType, busKind eventbus.Kind) error {
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
		EventoTipo:     eventType,
		TagSpool:       tag,
		WorkerID:       worker.ID,
		WorkerName:     worker.Initials,
		Operacion:      toAuditOperacion(op),
		Accion:         action,
		FechaOperacion: now,
	})
	w.bus.Publish(eventbus.Event{Kind: busKind, TagSpool: tag, Worker: worker.Label(), Timestamp: now})
	return nil
}

// Pausar is the v3 legacy partial-release counterpart of a PAUSAR
// FINALIZAR outcome.
func (w *Workflow) Pausar(ctx context.Context, tag string, worker model.Worker, op model.Operation) error {
	return w.releaseLegacy(ctx, tag, worker, op, audit.AccionPausar, audit.EventPausarSpool, eventbus.KindPausar)
}

// Completar is the v3 legacy full-release counterpart of a COMPLETAR
// FINALIZAR outcome.
func (w *Workflow) Completar(ctx context.Context, tag string, worker model.Worker, op model.Operation) error {
	return w.releaseLegacy(ctx, tag, worker, op, audit.AccionCompletar, audit.EventCompletarSpool, eventbus.KindCompletar)
}
