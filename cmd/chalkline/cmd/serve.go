package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	httpadapter "github.com/chalkline-ai/chalkline/internal/adapter/inbound/http"
	auditfile "github.com/chalkline-ai/chalkline/internal/adapter/outbound/audit"
	"github.com/chalkline-ai/chalkline/internal/adapter/outbound/cel"
	"github.com/chalkline-ai/chalkline/internal/adapter/outbound/llm"
	"github.com/chalkline-ai/chalkline/internal/adapter/outbound/memory"
	"github.com/chalkline-ai/chalkline/internal/adapter/outbound/sqlite"
	"github.com/chalkline-ai/chalkline/internal/config"
	"github.com/chalkline-ai/chalkline/internal/domain/auth"
	"github.com/chalkline-ai/chalkline/internal/domain/policy"
	"github.com/chalkline-ai/chalkline/internal/domain/ratelimit"
	"github.com/chalkline-ai/chalkline/internal/domain/records"
	"github.com/chalkline-ai/chalkline/internal/domain/tool"
	"github.com/chalkline-ai/chalkline/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the assistant server",
	Long: `Start the chalkline assistant server.

The server exposes a chat endpoint at /v1/chat. Callers authenticate
with an API key; their question runs through the reasoning agent, and
every tool call the agent makes is checked against the role policy
before any record is read.

Examples:
  # Start with config file settings
  chalkline serve

  # Development mode: debug logging plus a built-in admin key
  chalkline serve --dev

  # Start with a specific config file
  chalkline --config /path/to/chalkline.yaml serve`,
	RunE: runServe,
}

var (
	devMode     bool
	traceStdout bool
)

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, built-in admin key)")
	serveCmd.Flags().BoolVar(&traceStdout, "trace", false, "Emit trace spans to stderr")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration (without validation, so CLI flags can override first)
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override dev mode from CLI flag
	if devMode {
		cfg.DevMode = true
	}

	// Apply dev defaults (fills auth if empty in dev mode)
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// Create signal context for graceful shutdown.
	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop() // Restore default: next Ctrl+C = immediate exit.
	}()

	// Logger to stderr. DevMode always forces debug.
	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "effective", logLevel.String())

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("chalkline stopped")
	return nil
}

// run wires all components together and blocks until shutdown.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.DevMode {
		logger.Warn("development mode enabled, do not use in production")
	}

	// Tracing. Spans go to stderr so stdout stays clean.
	if traceStdout || cfg.DevMode {
		exporter, err := stdouttrace.New(
			stdouttrace.WithWriter(os.Stderr),
			stdouttrace.WithPrettyPrint(),
		)
		if err != nil {
			return fmt.Errorf("creating trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		otel.SetTracerProvider(tp)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.Warn("trace provider shutdown", "error", err)
			}
		}()
	}

	// One SQLite database per tenant. A store is bound to its partition
	// at open time, so nothing downstream can address another school.
	stores := make(map[string]records.Store, len(cfg.Tenants))
	for _, t := range cfg.Tenants {
		store, err := sqlite.Open(t.DBPath)
		if err != nil {
			return fmt.Errorf("opening records database for tenant %q: %w", t.ID, err)
		}
		defer store.Close()
		stores[t.ID] = store
		logger.Info("tenant partition opened", "tenant_id", t.ID, "db_path", t.DBPath)
	}

	router, err := service.NewTenantRouter(stores, logger)
	if err != nil {
		return fmt.Errorf("creating tenant router: %w", err)
	}

	// Identity directory and key service from config.
	directory := memory.NewDirectory()
	identities := make(map[string]*auth.Identity, len(cfg.Auth.Identities))
	for _, ic := range cfg.Auth.Identities {
		identities[ic.ID] = &auth.Identity{
			SubjectID:  ic.ID,
			Name:       ic.Name,
			Role:       auth.Role(ic.Role),
			TenantID:   ic.TenantID,
			StudentRef: ic.StudentRef,
			TeacherRef: ic.TeacherRef,
		}
	}
	for _, kc := range cfg.Auth.APIKeys {
		identity := identities[kc.IdentityID]
		// The directory indexes bare SHA-256 hex; argon2id PHC strings
		// are stored as-is and matched by verification.
		directory.Add(strings.TrimPrefix(kc.KeyHash, "sha256:"), identity)
	}
	keys := auth.NewKeyService(directory)
	logger.Info("identity directory loaded",
		"identities", len(cfg.Auth.Identities),
		"api_keys", len(cfg.Auth.APIKeys),
	)

	// Policy table: config overrides or the shipped defaults.
	operations := tool.CatalogOperations()
	var rules []policy.Rule
	if len(cfg.Policy.Rules) > 0 {
		rules = make([]policy.Rule, 0, len(cfg.Policy.Rules))
		for _, rc := range cfg.Policy.Rules {
			rules = append(rules, policy.Rule{
				Role:      auth.Role(rc.Role),
				Operation: rc.Operation,
				Effect:    policy.Effect(rc.Effect),
			})
		}
	} else {
		rules = service.DefaultRules(operations)
	}
	table, err := policy.NewTable(operations, rules)
	if err != nil {
		return fmt.Errorf("building policy table: %w", err)
	}

	scopeEval, err := cel.NewScopeEvaluator(cfg.Policy.ScopeExpression)
	if err != nil {
		return fmt.Errorf("compiling scope expression: %w", err)
	}

	// Decision trail: file store behind an async worker so policy
	// evaluation never blocks on disk.
	auditStore, err := auditfile.NewFileStore(auditfile.FileConfig{
		Dir:           cfg.Audit.Dir,
		RetentionDays: cfg.Audit.RetentionDays,
		MaxFileSizeMB: cfg.Audit.MaxFileSizeMB,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating decision store: %w", err)
	}
	defer auditStore.Close()

	flushInterval, err := time.ParseDuration(cfg.Audit.FlushInterval)
	if err != nil {
		return fmt.Errorf("parsing audit flush_interval: %w", err)
	}
	sendTimeout, err := time.ParseDuration(cfg.Audit.SendTimeout)
	if err != nil {
		return fmt.Errorf("parsing audit send_timeout: %w", err)
	}
	auditSvc := service.NewAuditService(auditStore, logger,
		service.WithChannelSize(cfg.Audit.ChannelSize),
		service.WithBatchSize(cfg.Audit.BatchSize),
		service.WithFlushInterval(flushInterval),
		service.WithSendTimeout(sendTimeout),
	)
	auditSvc.Start(ctx)
	defer auditSvc.Stop()

	policySvc, err := service.NewPolicyService(table, scopeEval, router, logger,
		service.WithCacheSize(cfg.Policy.CacheSize),
		service.WithDecisionSink(auditSvc),
	)
	if err != nil {
		return fmt.Errorf("creating policy service: %w", err)
	}

	registry := service.NewRegistryService(policySvc, router, logger,
		service.WithWeakSubjectMargin(cfg.Agent.WeakSubjectMargin),
	)

	apiKey := os.Getenv(cfg.Agent.APIKeyEnv)
	if apiKey == "" {
		return fmt.Errorf("model API key not set: export %s", cfg.Agent.APIKeyEnv)
	}
	reasoner, err := llm.NewReasoner(llm.Config{
		Model:       cfg.Agent.Model,
		APIKey:      apiKey,
		BaseURL:     cfg.Agent.BaseURL,
		Temperature: cfg.Agent.Temperature,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating reasoner: %w", err)
	}

	toolTimeout, err := time.ParseDuration(cfg.Agent.ToolTimeout)
	if err != nil {
		return fmt.Errorf("parsing agent tool_timeout: %w", err)
	}
	turnTimeout, err := time.ParseDuration(cfg.Agent.TurnTimeout)
	if err != nil {
		return fmt.Errorf("parsing agent turn_timeout: %w", err)
	}
	orchestrator := service.NewOrchestratorService(reasoner, registry, router, logger,
		service.WithMaxRounds(cfg.Agent.MaxRounds),
		service.WithToolTimeout(toolTimeout),
		service.WithTurnTimeout(turnTimeout),
		service.WithMaxResultBytes(cfg.Agent.MaxResultBytes),
	)

	logger.Info("agent configured",
		"model", cfg.Agent.Model,
		"max_rounds", cfg.Agent.MaxRounds,
		"tenants", len(cfg.Tenants),
	)

	healthChecker := httpadapter.NewHealthChecker(router, auditSvc, Version)

	var limiter *memory.RateLimiter
	if cfg.RateLimit.Enabled {
		cleanupInterval, err := time.ParseDuration(cfg.RateLimit.CleanupInterval)
		if err != nil {
			return fmt.Errorf("parsing rate_limit cleanup_interval: %w", err)
		}
		maxTTL, err := time.ParseDuration(cfg.RateLimit.MaxTTL)
		if err != nil {
			return fmt.Errorf("parsing rate_limit max_ttl: %w", err)
		}
		limiter = memory.NewRateLimiterWithConfig(cleanupInterval, maxTTL)
		limiter.StartCleanup(ctx)
		defer limiter.Stop()
		logger.Info("rate limiting enabled",
			"addr_rate", cfg.RateLimit.AddrRate,
			"subject_rate", cfg.RateLimit.SubjectRate,
		)
	}

	opts := []httpadapter.Option{
		httpadapter.WithAddr(cfg.Server.HTTPAddr),
		httpadapter.WithLogger(logger),
		httpadapter.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		httpadapter.WithHealthChecker(healthChecker),
		httpadapter.WithAuditService(auditSvc),
	}
	if cfg.Server.TLSCertFile != "" && cfg.Server.TLSKeyFile != "" {
		opts = append(opts, httpadapter.WithTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile))
	}
	if limiter != nil {
		opts = append(opts, httpadapter.WithRateLimit(limiter,
			ratelimit.Limit{Rate: cfg.RateLimit.AddrRate, Period: time.Minute},
			ratelimit.Limit{Rate: cfg.RateLimit.SubjectRate, Period: time.Minute},
		))
	}
	transport := httpadapter.NewTransport(orchestrator, keys, opts...)

	return transport.Start(ctx)
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
