package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/dxmatch/internal/config"
	"github.com/ehr/dxmatch/internal/domain/dxmatch"
	"github.com/ehr/dxmatch/internal/domain/dxmatch/dxmatchtest"
	"github.com/ehr/dxmatch/internal/platform/auth"
	"github.com/ehr/dxmatch/internal/platform/dataset"
	"github.com/ehr/dxmatch/internal/platform/db"
	"github.com/ehr/dxmatch/internal/platform/middleware"
	"github.com/ehr/dxmatch/internal/platform/openapi"
	"github.com/ehr/dxmatch/internal/platform/telemetry"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "dxmatch-server",
		Short:        "Symptom-similarity diagnosis estimation service",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(diagnoseCmd())
	rootCmd.AddCommand(demoCmd())
	rootCmd.AddCommand(migrateCmd())
	return rootCmd
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the diagnosis API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func diagnoseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Estimate a diagnosis distribution for one symptom profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			present, _ := cmd.Flags().GetString("present")
			absent, _ := cmd.Flags().GetString("absent")
			top, _ := cmd.Flags().GetInt("top")
			path, _ := cmd.Flags().GetString("dataset")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if path != "" {
				cfg.DatasetSource = config.SourceFile
				cfg.DatasetPath = path
			}
			if !cmd.Flags().Changed("top") {
				top = cfg.DefaultTopN
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			repo, pool, err := openRepository(ctx, cfg)
			if err != nil {
				return err
			}
			if pool != nil {
				defer pool.Close()
			}

			query := dxmatch.SymptomProfile{
				Present: dxmatch.NewSymptomSet(dataset.SplitSymptoms(present)...),
				Absent:  dxmatch.NewSymptomSet(dataset.SplitSymptoms(absent)...),
			}
			return runDiagnose(ctx, cmd.OutOrStdout(), repo, query, top)
		},
	}
	cmd.Flags().String("present", "", "Comma-separated symptoms the patient has")
	cmd.Flags().String("absent", "", "Comma-separated symptoms the patient does not have")
	cmd.Flags().Int("top", 4, "Number of most similar patients to aggregate (default DEFAULT_TOP_N)")
	cmd.Flags().String("dataset", "", "Read the population from this file instead of the configured source")
	return cmd
}

// runDiagnose loads the population from repo and writes the diagnosis for
// query as indented JSON.
func runDiagnose(ctx context.Context, w io.Writer, repo dxmatch.PopulationRepository, query dxmatch.SymptomProfile, top int) error {
	svc := dxmatch.NewService(repo, zerolog.Nop(), top)
	if _, err := svc.Reload(ctx); err != nil {
		return fmt.Errorf("load population: %w", err)
	}
	res, err := svc.Diagnose(query, top)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func demoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run the bundled sample scenarios and print the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd.OutOrStdout())
		},
	}
}

func runDemo(w io.Writer) error {
	pop := dxmatchtest.Population()
	queries := dxmatchtest.Queries()
	const topN = 4

	section := func(title string) {
		fmt.Fprintf(w, "\n%s %s %s\n", strings.Repeat("*", 20), title, strings.Repeat("*", 20))
	}

	section("similarity")
	for i := 0; i < len(queries); i++ {
		for j := i + 1; j < len(queries); j++ {
			a, b := queries[i], queries[j]
			fmt.Fprintf(w, "The similarity between %s and %s is %d\n", a.Name, b.Name, dxmatch.Score(a.Profile, b.Profile))
		}
	}

	section("rankings")
	for _, q := range queries {
		fmt.Fprintf(w, "Similarity list for %s:\n", q.Name)
		for _, rp := range dxmatch.Rank(q.Profile, pop.Symptoms) {
			fmt.Fprintf(w, "  %d\t%d\n", rp.ID, rp.Score)
		}
	}

	section("best matches")
	for _, q := range queries {
		ids := dxmatch.TopN(dxmatch.Rank(q.Profile, pop.Symptoms), topN)
		fmt.Fprintf(w, "%s's best matches: %v\n", q.Name, ids)
	}

	section("diagnostic counts")
	for _, q := range queries {
		freq, err := dxmatch.Aggregate(q.Cohort, pop.Diagnoses)
		if err != nil {
			return fmt.Errorf("count diagnoses for %s: %w", q.Name, err)
		}
		fmt.Fprintf(w, "Diagnostics for %s %v:\n", q.Name, q.Cohort)
		writeFrequencies(w, freq)
	}

	section("diagnoses")
	for _, q := range queries {
		freq, err := dxmatch.Diagnose(q.Profile, pop.Symptoms, pop.Diagnoses, topN)
		if err != nil {
			return fmt.Errorf("diagnose %s: %w", q.Name, err)
		}
		fmt.Fprintf(w, "Diagnostics for %s:\n", q.Name)
		writeFrequencies(w, freq)
	}
	return nil
}

func writeFrequencies(w io.Writer, freq dxmatch.DiagnosisFrequency) {
	for _, label := range freq.Labels() {
		fmt.Fprintf(w, "  %-16s %.4f\n", label, freq[label])
	}
}

// openRepository selects the population source named by cfg. The returned
// pool is non-nil only for the postgres source and must be closed by the
// caller.
func openRepository(ctx context.Context, cfg *config.Config) (dxmatch.PopulationRepository, *pgxpool.Pool, error) {
	switch cfg.DatasetSource {
	case config.SourceFile:
		return dxmatch.NewFileRepository(cfg.DatasetPath), nil, nil
	case config.SourcePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, nil, err
		}
		return dxmatch.NewPopulationRepoPG(pool), pool, nil
	default:
		return nil, nil, fmt.Errorf("unknown dataset source %q", cfg.DatasetSource)
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	withMigrator := func(cmd *cobra.Command, fn func(ctx context.Context, m *db.Migrator, schema string) error) error {
		schema, _ := cmd.Flags().GetString("schema")
		dir, _ := cmd.Flags().GetString("dir")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for migrations")
		}

		ctx := context.Background()
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return err
		}
		defer pool.Close()

		return fn(ctx, db.NewMigrator(pool, os.DirFS(dir)), schema)
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator, schema string) error {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Running migrations on schema: %s\n", schema)
				count, err := m.Up(ctx, schema)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(out, "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator, schema string) error {
				statuses, err := m.Status(ctx, schema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printMigrationStatus(cmd.OutOrStdout(), schema, statuses)
				return nil
			})
		},
	}

	for _, c := range []*cobra.Command{upCmd, statusCmd} {
		c.Flags().String("schema", db.DefaultSchema, "Target schema for migrations")
		c.Flags().String("dir", "./migrations", "Path to migrations directory")
		cmd.AddCommand(c)
	}
	return cmd
}

func printMigrationStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

// authMiddleware picks dev auth in development and bearer-token validation
// everywhere else.
func authMiddleware(cfg *config.Config) (echo.MiddlewareFunc, error) {
	if cfg.IsDev() {
		return auth.DevAuthMiddleware(), nil
	}
	key, err := cfg.SigningKey()
	if err != nil {
		return nil, err
	}
	return auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: key,
	}), nil
}

// newMetrics registers the service collectors alongside the Go runtime and
// process collectors. Both results are nil when metrics are disabled.
func newMetrics(cfg *config.Config) (*telemetry.Metrics, *prometheus.Registry, error) {
	if !cfg.MetricsEnabled {
		return nil, nil, nil
	}
	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, nil, err
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, nil, err
	}
	m := telemetry.NewMetrics()
	if err := m.Register(reg); err != nil {
		return nil, nil, err
	}
	return m, reg, nil
}

// newServer builds the echo instance with all middleware and routes. pool
// may be nil when the population is file-backed; metrics and reg are nil
// when metrics are disabled.
func newServer(cfg *config.Config, logger zerolog.Logger, svc *dxmatch.Service, pool *pgxpool.Pool, metrics *telemetry.Metrics, reg *prometheus.Registry) (*echo.Echo, error) {
	authMW, err := authMiddleware(cfg)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	if metrics != nil {
		e.Use(metrics.Middleware())
	}
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if pool != nil {
		e.GET("/health/db", db.HealthHandler(pool))
	}
	if reg != nil {
		e.GET("/metrics", telemetry.Handler(reg))
	}
	openapi.NewGenerator(version, "/").RegisterRoutes(e.Group("/api"))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	apiV1 := e.Group("/api/v1", authMW, middleware.RateLimit(rateLimitCfg))
	dxmatch.NewHandler(svc).RegisterRoutes(apiV1)

	return e, nil
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		l := newLogger(os.Getenv("ENV"))
		l.Error().Err(err).Msg("failed to load config")
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid config")
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx := context.Background()
	repo, pool, err := openRepository(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open population source")
	}
	if pool != nil {
		defer pool.Close()
		logger.Info().Msg("connected to database")
	}

	metrics, reg, err := newMetrics(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to register metrics")
	}

	svc := dxmatch.NewService(repo, logger, cfg.DefaultTopN)
	if metrics != nil {
		svc.SetObserver(metrics)
	}
	if _, err := svc.Reload(ctx); err != nil {
		logger.Fatal().Err(err).Str("source", cfg.DatasetSource).Msg("failed to load population")
	}

	e, err := newServer(cfg, logger, svc, pool, metrics, reg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
