// Package unions implements the Union Repository (C5): read/query
// access to the per-union worksheet, keyed by spool tag.
package unions

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/sescanella/spoolflow/errs"
	"github.com/sescanella/spoolflow/model"
	"github.com/sescanella/spoolflow/sheets"
	"github.com/sescanella/spoolflow/version"
)

const dateLayout = "02-01-2006 15:04:05"

// Repository reads and writes Union rows through the tabular store
// gateway.
type Repository struct {
	gw *sheets.Gateway
}

// New creates a Union Repository.
func New(gw *sheets.Gateway) *Repository {
	return &Repository{gw: gw}
}

// ByTagSpool returns every union row belonging to tag.
func (r *Repository) ByTagSpool(ctx context.Context, tag string) ([]*model.Union, error) {
	rows, err := r.gw.ReadWorksheet(ctx, sheets.WorksheetUniones)
	if err != nil {
		return nil, errs.New(errs.StoreUnavailable, "read uniones: "+err.Error())
	}

	var out []*model.Union
	for _, row := range rows {
		if row["tagspool"] != tag {
			continue
		}
		u, err := rowToUnion(row)
		if err != nil {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

// AvailableFor returns the unions of tag eligible for op: for ARM,
// those with no arm_fecha_fin; for SOLD, those with arm_fecha_fin set
// but sol_fecha_fin unset.
func (r *Repository) AvailableFor(ctx context.Context, tag string, op model.Operation) ([]*model.Union, error) {
	all, err := r.ByTagSpool(ctx, tag)
	if err != nil {
		return nil, err
	}

	var out []*model.Union
	for _, u := range all {
		switch op {
		case model.OperationARM:
			if u.ArmFechaFin == nil {
				out = append(out, u)
			}
		case model.OperationSOLD:
			if u.ArmFechaFin != nil && u.SolFechaFin == nil {
				out = append(out, u)
			}
		}
	}
	return out, nil
}

// CountCompleted counts unions of tag with op closed.
func (r *Repository) CountCompleted(ctx context.Context, tag string, op model.Operation) (int, error) {
	all, err := r.ByTagSpool(ctx, tag)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, u := range all {
		if u.Closed(op) {
			n++
		}
	}
	return n, nil
}

// SumPulgadas sums dn_union over unions of tag with op closed, rounded
// to one decimal.
func (r *Repository) SumPulgadas(ctx context.Context, tag string, op model.Operation) (float64, error) {
	all, err := r.ByTagSpool(ctx, tag)
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, u := range all {
		if u.Closed(op) {
			sum += u.DNUnion
		}
	}
	return math.Round(sum*10) / 10, nil
}

// BatchUpdate is one planned write against a single union row.
type BatchUpdate struct {
	NUnion      int
	FechaInicio time.Time
	FechaFin    time.Time
	WorkerLabel string
}

// BatchSet applies updates for op across tag's unions in a single
// batched write. Any row whose {op}_fecha_fin is already set is
// rejected wholesale and reported back so the caller can fold it into
// a version-conflict retry (invariant iii: unions are immutable per
// operation once closed).
func (r *Repository) BatchSet(ctx context.Context, tag string, op model.Operation, updates []BatchUpdate) (rejected []int, err error) {
	if len(updates) == 0 {
		return nil, nil
	}

	current, err := r.ByTagSpool(ctx, tag)
	if err != nil {
		return nil, err
	}
	byN := make(map[int]*model.Union, len(current))
	for _, u := range current {
		byN[u.NUnion] = u
	}

	cellUpdates := make([]sheets.CellUpdate, 0, len(updates))
	for _, upd := range updates {
		u, ok := byN[upd.NUnion]
		if !ok {
			rejected = append(rejected, upd.NUnion)
			continue
		}
		if u.Closed(op) {
			rejected = append(rejected, upd.NUnion)
			continue
		}

		prefix := "arm"
		if op == model.OperationSOLD {
			prefix = "sol"
		}
		cellUpdates = append(cellUpdates, sheets.CellUpdate{
			KeyColumn: "id",
			KeyValue:  u.ID,
			Set: map[string]string{
				prefix + "fechainicio": upd.FechaInicio.Format(dateLayout),
				prefix + "fechafin":    upd.FechaFin.Format(dateLayout),
				prefix + "worker":      upd.WorkerLabel,
				"version":              version.NewVersion(),
			},
		})
	}

	if len(rejected) > 0 {
		return rejected, errs.New(errs.RaceCondition, fmt.Sprintf("unions already closed for %s: %v", op, rejected))
	}

	if err := r.gw.BatchUpdate(ctx, sheets.WorksheetUniones, cellUpdates); err != nil {
		return nil, errs.New(errs.StoreUnavailable, "batch_set uniones: "+err.Error())
	}
	return nil, nil
}

func rowToUnion(row sheets.Row) (*model.Union, error) {
	n, err := strconv.Atoi(row["nunion"])
	if err != nil {
		return nil, err
	}
	dn, _ := strconv.ParseFloat(row["dnunion"], 64)

	u := &model.Union{
		ID:        row["id"],
		TagSpool:  row["tagspool"],
		NUnion:    n,
		DNUnion:   dn,
		Tipo:      row["tipounion"],
		ArmWorker: row["armworker"],
		SolWorker: row["solworker"],
		NDTStatus: row["ndtstatus"],
		Version:   row["version"],
	}
	u.ArmFechaInicio = parseDate(row["armfechainicio"])
	u.ArmFechaFin = parseDate(row["armfechafin"])
	u.SolFechaInicio = parseDate(row["solfechainicio"])
	u.SolFechaFin = parseDate(row["solfechafin"])
	u.NDTFecha = parseDate(row["ndtfecha"])
	return u, nil
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return &t
	}
	if t, err := time.Parse("02-01-2006", s); err == nil {
		return &t
	}
	return nil
}
