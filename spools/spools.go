// Package spools implements the Spool Repository (C6): read/write
// access to the aggregate spool worksheet, including the
// occupation-lifecycle columns and the derived aggregate metrics.
package spools

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sescanella/spoolflow/errs"
	"github.com/sescanella/spoolflow/model"
	"github.com/sescanella/spoolflow/sheets"
	"github.com/sescanella/spoolflow/version"
)

const dateLayout = "02-01-2006 15:04:05"

// Repository reads and writes Spool rows through the tabular store
// gateway.
type Repository struct {
	gw *sheets.Gateway
}

// New creates a Spool Repository.
func New(gw *sheets.Gateway) *Repository {
	return &Repository{gw: gw}
}

// Get returns the spool row for tag, or a SpoolNotFound error.
func (r *Repository) Get(ctx context.Context, tag string) (*model.Spool, error) {
	rows, err := r.gw.ReadWorksheet(ctx, sheets.WorksheetOperaciones)
	if err != nil {
		return nil, errs.New(errs.StoreUnavailable, "read operaciones: "+err.Error())
	}
	for _, row := range rows {
		if row["tagspool"] == tag {
			return rowToSpool(row), nil
		}
	}
	return nil, errs.New(errs.SpoolNotFound, fmt.Sprintf("spool %s not found", tag))
}

// currentVersion reads tag's row version fresh, so a CAS write closure
// can tell a genuine conflict (someone else wrote since the caller's
// read) from its own write failing outright.
func (r *Repository) currentVersion(ctx context.Context, tag string) (string, error) {
	s, err := r.Get(ctx, tag)
	if err != nil {
		return "", err
	}
	return s.Version, nil
}

// SetOccupation marks tag as occupied by worker at instant, guarded by
// expectedVersion through the Version/Conflict Service.
func (r *Repository) SetOccupation(ctx context.Context, vs *version.Service, tag, worker string, instant time.Time, expectedVersion string) (string, error) {
	return vs.CompareAndSwap(ctx, expectedVersion,
		func(ctx context.Context, expected string) (string, string, error) {
			actual, err := r.currentVersion(ctx, tag)
			if err != nil {
				return expected, "", errs.New(errs.StoreUnavailable, "set_occupation: "+err.Error())
			}
			if actual != expected {
				return actual, "", errs.WithDetails(errs.VersionConflict, "spool version changed since read", map[string]interface{}{
					"actual_version": actual,
				})
			}

			newVersion := version.NewVersion()
			if err := r.gw.BatchUpdate(ctx, sheets.WorksheetOperaciones, []sheets.CellUpdate{{
				KeyColumn: "tagspool",
				KeyValue:  tag,
				Set: map[string]string{
					"ocupadopor":     worker,
					"fechaocupacion": instant.Format(dateLayout),
					"version":        newVersion,
				},
			}}); err != nil {
				return actual, "", errs.New(errs.StoreUnavailable, "set_occupation: "+err.Error())
			}
			return actual, newVersion, nil
		}, nil)
}

// ClearOccupation releases the occupation markers on tag.
func (r *Repository) ClearOccupation(ctx context.Context, vs *version.Service, tag, expectedVersion string) (string, error) {
	return vs.CompareAndSwap(ctx, expectedVersion,
		func(ctx context.Context, expected string) (string, string, error) {
			actual, err := r.currentVersion(ctx, tag)
			if err != nil {
				return expected, "", errs.New(errs.StoreUnavailable, "clear_occupation: "+err.Error())
			}
			if actual != expected {
				return actual, "", errs.WithDetails(errs.VersionConflict, "spool version changed since read", map[string]interface{}{
					"actual_version": actual,
				})
			}

			newVersion := version.NewVersion()
			if err := r.gw.BatchUpdate(ctx, sheets.WorksheetOperaciones, []sheets.CellUpdate{{
				KeyColumn: "tagspool",
				KeyValue:  tag,
				Set: map[string]string{
					"ocupadopor":     "",
					"fechaocupacion": "",
					"version":        newVersion,
				},
			}}); err != nil {
				return actual, "", errs.New(errs.StoreUnavailable, "clear_occupation: "+err.Error())
			}
			return actual, newVersion, nil
		}, nil)
}

// Metrics is the set of aggregate counters recomputed after a
// FINALIZAR batch write.
type Metrics struct {
	UnionesCompletadas int
	Pulgadas           float64
}

// SetMetrics writes the recomputed ARM or SOLD aggregate counters for
// tag under expectedVersion.
func (r *Repository) SetMetrics(ctx context.Context, vs *version.Service, tag string, op model.Operation, m Metrics, expectedVersion string, recompute version.Recompute) (string, error) {
	countCol := "unionesarmcompletadas"
	pulgCol := "pulgadasarm"
	if op == model.OperationSOLD {
		countCol = "unionessoldcompletadas"
		pulgCol = "pulgadassold"
	}

	return vs.CompareAndSwap(ctx, expectedVersion,
		func(ctx context.Context, expected string) (string, string, error) {
			actual, err := r.currentVersion(ctx, tag)
			if err != nil {
				return expected, "", errs.New(errs.StoreUnavailable, "set_metrics: "+err.Error())
			}
			if actual != expected {
				return actual, "", errs.WithDetails(errs.VersionConflict, "spool version changed since read", map[string]interface{}{
					"actual_version": actual,
				})
			}

			newVersion := version.NewVersion()
			if err := r.gw.BatchUpdate(ctx, sheets.WorksheetOperaciones, []sheets.CellUpdate{{
				KeyColumn: "tagspool",
				KeyValue:  tag,
				Set: map[string]string{
					countCol:  strconv.Itoa(m.UnionesCompletadas),
					pulgCol:   fmt.Sprintf("%.1f", m.Pulgadas),
					"version": newVersion,
				},
			}}); err != nil {
				return actual, "", errs.New(errs.StoreUnavailable, "set_metrics: "+err.Error())
			}
			return actual, newVersion, nil
		}, recompute)
}

// SetEstadoDetalle writes the display-string projection of the spool's
// state machines.
func (r *Repository) SetEstadoDetalle(ctx context.Context, tag, estado string) error {
	err := r.gw.BatchUpdate(ctx, sheets.WorksheetOperaciones, []sheets.CellUpdate{{
		KeyColumn: "tagspool",
		KeyValue:  tag,
		Set: map[string]string{
			"estadodetalle": estado,
			"version":       version.NewVersion(),
		},
	}})
	if err != nil {
		return errs.New(errs.StoreUnavailable, "set_estado_detalle: "+err.Error())
	}
	return nil
}

func rowToSpool(row sheets.Row) *model.Spool {
	s := &model.Spool{
		TagSpool:      row["tagspool"],
		OT:            row["ot"],
		OcupadoPor:    row["ocupadopor"],
		Version:       row["version"],
		EstadoDetalle: row["estadodetalle"],
	}
	s.FechaMateriales = parseDate(row["fechamateriales"])
	s.FechaOcupacion = parseDate(row["fechaocupacion"])
	s.TotalUniones, _ = strconv.Atoi(row["totaluniones"])
	s.UnionesArmCompletadas, _ = strconv.Atoi(row["unionesarmcompletadas"])
	s.UnionesSoldCompletadas, _ = strconv.Atoi(row["unionessoldcompletadas"])
	s.PulgadasArm, _ = strconv.ParseFloat(row["pulgadasarm"], 64)
	s.PulgadasSold, _ = strconv.ParseFloat(row["pulgadassold"], 64)
	return s
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
