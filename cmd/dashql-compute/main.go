package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/ankoh/dashql-compute/internal/adapter/arrowengine"
	"github.com/ankoh/dashql-compute/internal/adapter/mcp"
	"github.com/ankoh/dashql-compute/internal/adapter/policy"
	"github.com/ankoh/dashql-compute/internal/adapter/postgres"
	"github.com/ankoh/dashql-compute/internal/audit"
	"github.com/ankoh/dashql-compute/internal/config"
	"github.com/ankoh/dashql-compute/internal/core/domain"
	"github.com/ankoh/dashql-compute/internal/core/port"
	"github.com/ankoh/dashql-compute/internal/core/service"
	"github.com/ankoh/dashql-compute/internal/telemetry"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/trace"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	overrides, err := parseFlags(os.Args[1:])
	if err != nil {
		return err
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Logs go to stderr; stdout is reserved for the MCP stdio transport and --query reports.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	logger.Info("starting dashql-compute",
		slog.String("version", version),
		slog.String("database_url", redactDSN(cfg.DatabaseURL)),
		slog.String("log_level", cfg.LogLevel.String()),
		slog.Bool("read_only", cfg.ReadOnly),
		slog.Int("max_rows", cfg.MaxRows),
		slog.String("query_timeout", cfg.QueryTimeout.String()),
		slog.Int("column_concurrency", cfg.ColumnConcurrency),
		slog.String("transport", cfg.Transport),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracer, inst, shutdown, err := setupTelemetry(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer shutdown()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolOptions{
		MaxConns:        cfg.PoolMaxConns,
		MinConns:        cfg.PoolMinConns,
		MaxConnLifetime: cfg.PoolMaxConnLifetime,
		ApplicationName: "dashql-compute",
	})
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	logger.Info("database pool connected", slog.String("db.system", "postgresql"))

	// Policy (optional).
	var masks map[string]domain.MaskType
	if cfg.PolicyFile != "" {
		pol, err := policy.LoadFromFile(cfg.PolicyFile)
		if err != nil {
			return fmt.Errorf("loading policy: %w", err)
		}
		masks = pol.Masks()
		logger.Info("policy loaded", slog.String("file", cfg.PolicyFile), slog.Int("masked_columns", len(masks)))
	}

	// Task journal (optional).
	var journal port.TaskJournal = port.NoopTaskJournal{}
	if cfg.AuditLog != "" {
		fj, err := audit.NewFileJournal(cfg.AuditLog)
		if err != nil {
			return fmt.Errorf("opening task journal: %w", err)
		}
		journal = fj
		logger.Info("task journal enabled", slog.String("file", cfg.AuditLog))
	}
	defer func() { _ = journal.Close() }()

	if cfg.DryRun {
		logger.Info("dry run complete: configuration, database and policy are valid")
		return nil
	}

	// Adapters
	var source port.ResultSource = postgres.NewSource(pool, cfg.ReadOnly, cfg.MaxRows, cfg.QueryTimeout)
	if cfg.ExplainOnly {
		source = postgres.NewExplainOnlySource(source)
		logger.Info("explain-only mode: queries are analyzed as plans")
	}
	engine := arrowengine.New(logger)

	// Services
	store := service.NewStore(logger)
	defer store.Close()
	runner := service.NewRunner(store, engine, logger,
		service.WithTracer(tracer),
		service.WithInstrumentation(inst),
		service.WithJournal(journal),
		service.WithColumnConcurrency(cfg.ColumnConcurrency),
	)
	analysis := service.NewAnalysisService(domain.NewPgQueryValidator(), source, store, runner, logger, masks, tracer, inst)

	if cfg.Query != "" {
		return analyzeOnce(ctx, analysis, cfg.Query)
	}

	mcpServer := mcp.NewServer(version, analysis, logger, tracer, inst)

	if cfg.Transport == "http" {
		return serveHTTP(ctx, mcpServer, cfg, logger)
	}

	stdioServer := mcpserver.NewStdioServer(mcpServer)

	logger.Info("serving MCP over stdio")
	if err := stdioServer.Listen(ctx, os.Stdin, os.Stdout); err != nil {
		return fmt.Errorf("stdio server: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// setupTelemetry returns noop providers unless OTel is enabled.
func setupTelemetry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (trace.Tracer, port.Instrumentation, func(), error) {
	if !cfg.OTelEnabled {
		return telemetry.NoopTracer(), telemetry.NoopInstruments(), func() {}, nil
	}
	provider, err := telemetry.Init(ctx, "dashql-compute", version)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	logger.Info("opentelemetry enabled")
	shutdown := func() {
		if err := provider.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}
	return telemetry.Tracer(), telemetry.NewInstruments(), shutdown, nil
}

// analyzeOnce prints the analysis report of a single query as JSON to stdout.
func analyzeOnce(ctx context.Context, analysis *service.AnalysisService, sql string) error {
	report, err := analysis.Analyze(service.WithToolName(ctx, "cli"), service.AnalyzeRequest{SQL: sql})
	if err != nil {
		return fmt.Errorf("analyzing query: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// redactDSN masks the password of a connection URL for logging.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
