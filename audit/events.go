package audit

import "time"

// EventType is the closed set of audit event kinds this system emits.
// Any value outside this set is a defect in the caller, not a valid
// audit record.
type EventType string

const (
	EventTomarSpool              EventType = "TOMAR_SPOOL"
	EventPausarSpool             EventType = "PAUSAR_SPOOL"
	EventCompletarSpool          EventType = "COMPLETAR_SPOOL"
	EventIniciarSpool            EventType = "INICIAR_SPOOL"
	EventFinalizarSpool          EventType = "FINALIZAR_SPOOL"
	EventSpoolCancelado          EventType = "SPOOL_CANCELADO"
	EventSpoolArmPausado         EventType = "SPOOL_ARM_PAUSADO"
	EventSpoolArmCompletado      EventType = "SPOOL_ARM_COMPLETADO"
	EventSpoolSoldPausado        EventType = "SPOOL_SOLD_PAUSADO"
	EventSpoolSoldCompletado     EventType = "SPOOL_SOLD_COMPLETADO"
	EventUnionArmRegistrada      EventType = "UNION_ARM_REGISTRADA"
	EventUnionSoldRegistrada     EventType = "UNION_SOLD_REGISTRADA"
	EventMetrologiaCompletada    EventType = "METROLOGIA_COMPLETADA"
	EventMetrologiaAutoTriggered EventType = "METROLOGIA_AUTO_TRIGGERED"
	EventReparacionTomar         EventType = "REPARACION_TOMAR"
	EventReparacionCompletar     EventType = "REPARACION_COMPLETAR"
	EventMigration               EventType = "MIGRATION_*"
)

// Operacion is the operation an event pertains to.
type Operacion string

const (
	OperacionARM        Operacion = "ARM"
	OperacionSOLD       Operacion = "SOLD"
	OperacionMetrologia Operacion = "METROLOGIA"
	OperacionReparacion Operacion = "REPARACION"
)

// Accion is the worker-initiated action that produced the event.
type Accion string

const (
	AccionTomar       Accion = "TOMAR"
	AccionPausar      Accion = "PAUSAR"
	AccionCompletar   Accion = "COMPLETAR"
	AccionIniciar     Accion = "INICIAR"
	AccionFinalizar   Accion = "FINALIZAR"
	AccionCancelar    Accion = "CANCELAR"
	AccionAutoTrigger Accion = "AUTO_TRIGGER"
)

// Event is one immutable, append-only audit record (spec §3).
// NUnion is nil for spool-scope events and set to the union ordinal
// for per-union events.
type Event struct {
	EventID        string
	Timestamp      time.Time
	EventoTipo     EventType
	TagSpool       string
	NUnion         *int
	WorkerID       string
	WorkerName     string
	Operacion      Operacion
	Accion         Accion
	FechaOperacion time.Time
	MetadataJSON   string
}
