package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sescanella/spoolflow/audit"
	"github.com/sescanella/spoolflow/config"
	"github.com/sescanella/spoolflow/eventbus"
	"github.com/sescanella/spoolflow/lockservice"
	"github.com/sescanella/spoolflow/logger"
	"github.com/sescanella/spoolflow/observability"
	"github.com/sescanella/spoolflow/redisclient"
	"github.com/sescanella/spoolflow/router"
	"github.com/sescanella/spoolflow/sheets"
	"github.com/sescanella/spoolflow/spools"
	"github.com/sescanella/spoolflow/unions"
	"github.com/sescanella/spoolflow/version"
	"github.com/sescanella/spoolflow/workflow"

	"github.com/rs/zerolog"
)

// requiredOperacionesColumns and requiredUnionesColumns are the
// logical columns the Tabular Store Gateway must resolve at startup
// (spec §6); a missing one is SchemaInvalid and fails the boot.
var (
	requiredOperacionesColumns = []string{
		"tag_spool", "ot", "fecha_materiales", "ocupado_por",
		"fecha_ocupacion", "version", "estado_detalle", "total_uniones",
		"uniones_arm_completadas", "uniones_sold_completadas",
		"pulgadas_arm", "pulgadas_sold",
	}
	requiredUnionesColumns = []string{
		"id", "tag_spool", "n_union", "dn_union", "tipo_union",
		"arm_fecha_inicio", "arm_fecha_fin", "arm_worker",
		"sol_fecha_inicio", "sol_fecha_fin", "sol_worker", "version",
	}
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("spoolflow starting")

	gw := sheets.New(cfg, log)
	if err := validateSchema(gw, log); err != nil {
		log.Fatal().Err(err).Msg("schema validation failed at boot")
	}

	rc, err := redisclient.New(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("redis init failed — lock service and rate monitor fall back to in-process-only state")
		rc = nil
	} else if err := rc.Ping(); err != nil {
		log.Warn().Err(err).Msg("redis ping failed — continuing without distributed backing")
		rc = nil
	} else {
		log.Info().Msg("redis connected")
	}

	locks := lockservice.New(log, rc)
	versionSvc := version.New(log)
	auditLog := audit.New(log, gw, audit.Config{MaxRowsPerChunk: cfg.AuditBatchMaxRows})
	unionsRepo := unions.New(gw)
	spoolsRepo := spools.New(gw)
	bus := eventbus.New()
	rateMonitor := sheets.NewRateMonitor(cfg, log, rc)
	gw.SetRateMonitor(rateMonitor)

	poller := sheets.NewHealthPoller(gw, log, 30*time.Second)
	poller.Start()
	reconcileLocksAtStartup(gw, locks, log)

	wf := workflow.New(locks, spoolsRepo, unionsRepo, versionSvc, auditLog, bus, log)

	metrics := observability.NewMetrics(log)
	locks.SetMetrics(metrics)
	auditLog.SetMetrics(metrics)
	gw.SetMetrics(metrics)
	traceExporter := observability.NewLogExporter(log)
	tracer := observability.NewTracer(log, traceExporter, sampleRateFor(cfg))

	r := router.NewRouter(router.Deps{
		Config:     cfg,
		Logger:     log,
		Workflow:   wf,
		UnionsRepo: unionsRepo,
		SpoolsRepo: spoolsRepo,
		AuditLog:   auditLog,
		Bus:        bus,
		Columns:    gw.Columns(),
		Poller:     poller,
		Metrics:    metrics,
		Tracer:     tracer,
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.DefaultTimeout + 10*time.Second, // extra buffer for the SSE dashboard stream
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("spoolflow listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	poller.Stop()
	tracer.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		os.Exit(1)
	}
	log.Info().Msg("spoolflow stopped gracefully")
}

// sampleRateFor trims tracing overhead in production while keeping
// full visibility in development, mirroring the teacher's dev/prod
// split in logger.New.
func sampleRateFor(cfg *config.Config) float64 {
	if cfg.IsProduction() {
		return 0.1
	}
	return 1.0
}

// validateSchema reads the header rows of the Operaciones and Uniones
// worksheets and confirms each required logical column resolves,
// per spec §6/§4.1: a missing column is SchemaInvalid and fatal at
// startup, not a lazily-discovered runtime error. The Metadata
// worksheet's header is not checked.
func validateSchema(gw *sheets.Gateway, log zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	checks := []struct {
		worksheet string
		columns   []string
	}{
		{sheets.WorksheetOperaciones, requiredOperacionesColumns},
		{sheets.WorksheetUniones, requiredUnionesColumns},
	}

	for _, c := range checks {
		for _, col := range c.columns {
			if _, err := gw.Columns().Index(ctx, c.worksheet, col); err != nil {
				return err
			}
		}
		log.Info().Str("worksheet", c.worksheet).Int("columns", len(c.columns)).Msg("schema validated")
	}
	return nil
}

// reconcileLocksAtStartup runs the Lock Service's eager reconciliation
// pass (spec §4.2) against every currently-held lock, releasing any
// that the spool row no longer shows as occupied past the grace
// period. Run once before the listener opens.
func reconcileLocksAtStartup(gw *sheets.Gateway, locks *lockservice.Service, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rows, err := gw.ReadWorksheet(ctx, sheets.WorksheetOperaciones)
	if err != nil {
		log.Warn().Err(err).Msg("startup lock reconciliation skipped — could not read operaciones")
		return
	}
	for _, row := range rows {
		tag := row["tagspool"]
		if tag == "" {
			continue
		}
		occupied := row["ocupadopor"] != ""
		if locks.Reconcile(tag, occupied) {
			log.Warn().Str("tag", tag).Msg("released abandoned lock at startup")
		}
	}
}
