package statemachine_test

import (
	"testing"
	"time"

	"github.com/sescanella/spoolflow/model"
	"github.com/sescanella/spoolflow/statemachine"
)

func TestShouldTriggerMetrology(t *testing.T) {
	tests := []struct {
		name   string
		unions []*model.Union
		want   bool
	}{
		{
			name: "all FW, all ARM closed -> trigger",
			unions: []*model.Union{
				{NUnion: 1, Tipo: "FW", ArmFechaFin: ts()},
				{NUnion: 2, Tipo: "FW", ArmFechaFin: ts()},
			},
			want: true,
		},
		{
			name: "all FW, one ARM still open -> no trigger",
			unions: []*model.Union{
				{NUnion: 1, Tipo: "FW", ArmFechaFin: ts()},
				{NUnion: 2, Tipo: "FW", ArmFechaFin: nil},
			},
			want: false,
		},
		{
			name: "non-FW needs SOLD closed too",
			unions: []*model.Union{
				{NUnion: 1, Tipo: "BW", ArmFechaFin: ts(), SolFechaFin: ts()},
			},
			want: true,
		},
		{
			name: "non-FW ARM closed but SOLD open -> no trigger",
			unions: []*model.Union{
				{NUnion: 1, Tipo: "BW", ArmFechaFin: ts(), SolFechaFin: nil},
			},
			want: false,
		},
		{
			name: "mixed FW and non-FW: both closure rules must hold jointly",
			unions: []*model.Union{
				{NUnion: 1, Tipo: "FW", ArmFechaFin: ts()},
				{NUnion: 2, Tipo: "BW", ArmFechaFin: ts(), SolFechaFin: ts()},
			},
			want: true,
		},
		{
			name: "mixed: FW closed but non-FW SOLD not closed -> no trigger",
			unions: []*model.Union{
				{NUnion: 1, Tipo: "FW", ArmFechaFin: ts()},
				{NUnion: 2, Tipo: "BW", ArmFechaFin: ts(), SolFechaFin: nil},
			},
			want: false,
		},
		{
			name:   "no unions -> no trigger",
			unions: nil,
			want:   false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := statemachine.ShouldTriggerMetrology(tc.unions)
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestHydrate_PendingWithNoUnions(t *testing.T) {
	spool := &model.Spool{}
	m := statemachine.Hydrate(spool, nil)
	if m.Arm != statemachine.OpPendiente || m.Sold != statemachine.OpPendiente {
		t.Fatalf("expected both machines PENDIENTE with no unions, got arm=%s sold=%s", m.Arm, m.Sold)
	}
}

func TestHydrate_ArmCompletedWhenAllUnionsClosed(t *testing.T) {
	spool := &model.Spool{}
	unions := []*model.Union{
		{NUnion: 1, Tipo: "FW", ArmFechaInicio: ts(), ArmFechaFin: ts()},
		{NUnion: 2, Tipo: "FW", ArmFechaInicio: ts(), ArmFechaFin: ts()},
	}
	m := statemachine.Hydrate(spool, unions)
	if m.Arm != statemachine.OpCompletado {
		t.Fatalf("expected ARM COMPLETADO, got %s", m.Arm)
	}
}

func TestHydrate_MetrologiaFromEstadoDetalle(t *testing.T) {
	tests := []struct {
		estado string
		want   statemachine.MetrologiaState
	}{
		{"PENDIENTE_METROLOGIA", statemachine.MetrologiaPendiente},
		{"APROBADO", statemachine.MetrologiaAprobado},
		{"RECHAZADO", statemachine.MetrologiaRechazado},
		{"PENDIENTE_REPARACION", statemachine.MetrologiaPendienteReparacion},
		{"BLOQUEADO", statemachine.MetrologiaBloqueado},
		{"", statemachine.MetrologiaNoAplica},
	}
	for _, tc := range tests {
		spool := &model.Spool{EstadoDetalle: tc.estado}
		m := statemachine.Hydrate(spool, nil)
		if m.Metrologia != tc.want {
			t.Fatalf("estado %q: expected %s, got %s", tc.estado, tc.want, m.Metrologia)
		}
	}
}

func ts() *time.Time {
	t := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	return &t
}
