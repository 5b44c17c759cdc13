package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mattn/go-isatty"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	// Warehouse drivers.
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/triaged/internal/audit"
	"github.com/fyrsmithlabs/triaged/internal/badgerdb"
	"github.com/fyrsmithlabs/triaged/internal/config"
	"github.com/fyrsmithlabs/triaged/internal/diagnosis"
	"github.com/fyrsmithlabs/triaged/internal/extract"
	"github.com/fyrsmithlabs/triaged/internal/github"
	"github.com/fyrsmithlabs/triaged/internal/logging"
	"github.com/fyrsmithlabs/triaged/internal/logsource"
	"github.com/fyrsmithlabs/triaged/internal/pipeline"
	"github.com/fyrsmithlabs/triaged/internal/policy"
	"github.com/fyrsmithlabs/triaged/internal/remediate"
	"github.com/fyrsmithlabs/triaged/internal/secrets"
	"github.com/fyrsmithlabs/triaged/internal/telemetry"
	"github.com/fyrsmithlabs/triaged/internal/workcopy"
)

const pipelineInstrumentationName = "github.com/fyrsmithlabs/triaged/internal/pipeline"

// app holds every wired component and the resources to release on exit.
type app struct {
	cfg          *config.Config
	logger       *logging.Logger
	telemetry    *telemetry.Telemetry
	policy       *policy.Store
	audit        audit.Multi
	orchestrator *pipeline.Orchestrator

	badgers map[string]*badger.DB
	closers []func() error
}

// initLogger picks console output on a terminal and JSON otherwise unless
// the config names a format.
func initLogger(cfg config.LoggingConfig, tel *telemetry.Telemetry) (*logging.Logger, error) {
	format := cfg.Format
	if format == "" {
		format = "json"
		if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
			format = "console"
		}
	}
	lc, err := logging.FromSettings(cfg.Level, format)
	if err != nil {
		return nil, err
	}
	lp := tel.LoggerProvider()
	if lp != nil {
		lc.Output.OTEL = true
	}
	return logging.NewLogger(lc, lp)
}

// newApp wires cfg into a ready orchestrator. The caller must call close.
func newApp(ctx context.Context, cfg *config.Config) (a *app, err error) {
	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Observability, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	logger, err := initLogger(cfg.Logging, tel)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a = &app{
		cfg:       cfg,
		logger:    logger,
		telemetry: tel,
		badgers:   make(map[string]*badger.DB),
	}
	defer func() {
		if err != nil {
			a.close(context.WithoutCancel(ctx))
			a = nil
		}
	}()

	wh, err := a.openWarehouse(ctx)
	if err != nil {
		return a, err
	}
	cursor, err := a.openCursor()
	if err != nil {
		return a, err
	}
	adapter := logsource.NewAdapter(wh, cursor,
		logsource.WithBatchSize(cfg.Poll.BatchSize),
		logsource.WithLogger(logger.Named("logsource")),
	)

	wc, err := workcopy.New(workcopy.FromRepoConfig(cfg.Repo), workcopy.WithLogger(logger.Named("workcopy")))
	if err != nil {
		return a, fmt.Errorf("failed to initialize working copy: %w", err)
	}

	engine, err := newDiagnosisEngine(cfg.LLM, logger.Named("diagnosis"))
	if err != nil {
		return a, err
	}

	a.policy = policy.NewStore(cfg.Policy.ProtectedPaths, logger.Named("policy"))
	if cfg.Policy.File != "" {
		if err := a.policy.Load(ctx, cfg.Policy.File); err != nil {
			return a, fmt.Errorf("failed to load policy: %w", err)
		}
	}

	client, err := github.NewClient(ctx, cfg.Repo.Token, cfg.Repo.APIBaseURL)
	if err != nil {
		return a, fmt.Errorf("failed to create GitHub client: %w", err)
	}
	tracker, err := github.NewTracker(client, cfg.Repo.Owner, cfg.Repo.Name, github.WithLogger(logger.Named("github")))
	if err != nil {
		return a, fmt.Errorf("failed to create tracker: %w", err)
	}

	a.audit, err = a.openAudit(ctx)
	if err != nil {
		return a, err
	}
	recorder := audit.NewRecorder(a.audit, audit.WithLogger(logger.Named("audit")))

	rem := remediate.New(wc, tracker, recorder, remediate.Config{
		IssueLabels:    cfg.Remediation.IssueLabels,
		BranchPrefix:   cfg.Remediation.BranchPrefix,
		GitTimeout:     cfg.Timeouts.Git,
		TrackerTimeout: cfg.Timeouts.Tracker,
	}, remediate.WithLogger(logger.Named("remediate")))

	a.orchestrator, err = pipeline.New(pipeline.Deps{
		Fetcher:     adapter,
		WorkingCopy: wc,
		Gatherer: extract.NewGatherer(
			extract.WithSourceRootMarker(cfg.Warehouse.SourceRootMarker),
			extract.WithLogger(logger.Named("extract")),
		),
		Diagnoser:  engine,
		Policy:     a.policy,
		Remediator: rem,
		Logger:     logger.Named("pipeline"),
		Tracer:     tel.Tracer(pipelineInstrumentationName),
	}, pipeline.Config{
		Interval:     cfg.Poll.Interval,
		FetchTimeout: cfg.Timeouts.Fetch,
		SyncTimeout:  cfg.Timeouts.Git,
		LLMTimeout:   cfg.Timeouts.LLM,
	})
	if err != nil {
		return a, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	logger.Info(ctx, "triaged initialized",
		zap.String("repo", cfg.Repo.RepoSlug()),
		zap.String("warehouse_driver", cfg.Warehouse.Driver),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.Strings("audit_backends", cfg.Audit.Backends),
		zap.Strings("protected_paths", a.policy.Gate().Protected),
	)
	return a, nil
}

func newDiagnosisEngine(cfg config.LLMConfig, logger *logging.Logger) (*diagnosis.Engine, error) {
	completer, err := diagnosis.NewCompleter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm completer: %w", err)
	}
	redactor, err := secrets.NewRedactor(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret redactor: %w", err)
	}
	return diagnosis.NewEngine(completer,
		diagnosis.WithRedactor(redactor),
		diagnosis.WithLogger(logger),
	), nil
}

func (a *app) openWarehouse(ctx context.Context) (*logsource.SQLWarehouse, error) {
	db, err := sql.Open(a.cfg.Warehouse.Driver, a.cfg.Warehouse.DSN.Value())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s warehouse: %w", a.cfg.Warehouse.Driver, err)
	}
	a.closers = append(a.closers, db.Close)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to %s warehouse: %w", a.cfg.Warehouse.Driver, err)
	}
	return logsource.NewSQLWarehouse(db, a.cfg.Warehouse.Table)
}

func (a *app) openCursor() (logsource.CursorStore, error) {
	if a.cfg.Cursor.Backend == "memory" {
		return logsource.NewMemoryCursor(time.Time{}), nil
	}
	db, err := a.openBadger(a.cfg.Cursor.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cursor store: %w", err)
	}
	return logsource.NewBadgerCursor(db, a.cfg.Cursor.Source), nil
}

// openBadger opens each data directory once; the cursor and the audit
// trail may share one.
func (a *app) openBadger(path string) (*badger.DB, error) {
	if db, ok := a.badgers[path]; ok {
		return db, nil
	}
	bcfg := badgerdb.DefaultConfig(path)
	bcfg.Logger = a.logger
	db, err := badgerdb.Open(bcfg)
	if err != nil {
		return nil, err
	}
	a.badgers[path] = db
	a.closers = append(a.closers, db.Close)
	return db, nil
}

func (a *app) openAudit(ctx context.Context) (audit.Multi, error) {
	ac := a.cfg.Audit
	stores := make(audit.Multi, 0, len(ac.Backends))
	for _, backend := range ac.Backends {
		switch backend {
		case "badger":
			db, err := a.openBadger(ac.BadgerPath)
			if err != nil {
				return nil, fmt.Errorf("failed to open audit store: %w", err)
			}
			stores = append(stores, audit.NewBadgerStore(db, ac.Collection))
		case "file":
			stores = append(stores, audit.NewFileStore(ac.FilePath))
		case "nats":
			nc, err := nats.Connect(ac.NATSURL,
				nats.Name("triaged"),
				nats.MaxReconnects(-1),
			)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to NATS at %s: %w", ac.NATSURL, err)
			}
			a.closers = append(a.closers, nc.Drain)
			stores = append(stores, audit.NewNATSStore(nc, ac.NATSSubjectPrefix))
		case "memory":
			stores = append(stores, audit.NewMemoryStore())
		default:
			return nil, fmt.Errorf("unsupported audit backend %q", backend)
		}
		a.logger.Debug(ctx, "audit backend ready", zap.String("backend", backend))
	}
	return stores, nil
}

// startBackground launches badger GC and the policy watcher. They stop
// with ctx.
func (a *app) startBackground(ctx context.Context) {
	for path, db := range a.badgers {
		go badgerdb.RunGC(ctx, db, badgerdb.DefaultConfig(path))
	}
	if a.cfg.Policy.File != "" && a.cfg.Policy.Watch {
		go func() {
			if err := a.policy.Watch(ctx, a.cfg.Policy.File); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error(ctx, "policy watcher stopped", zap.Error(err))
			}
		}()
	}
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn(ctx, "error closing resource", zap.Error(err))
		}
	}
	a.closers = nil
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}
