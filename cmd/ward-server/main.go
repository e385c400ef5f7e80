package main

import (
	"context"
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
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/wardmed/internal/config"
	"github.com/ehr/wardmed/internal/domain/issuenote"
	"github.com/ehr/wardmed/internal/domain/mar"
	"github.com/ehr/wardmed/internal/domain/reason"
	"github.com/ehr/wardmed/internal/domain/rx"
	"github.com/ehr/wardmed/internal/domain/shift"
	"github.com/ehr/wardmed/internal/domain/stock"
	"github.com/ehr/wardmed/internal/platform/auth"
	"github.com/ehr/wardmed/internal/platform/db"
	"github.com/ehr/wardmed/internal/platform/middleware"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:          "ward-server",
		Short:        "Ward medication administration and stock ledger API",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(reasonsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the ward API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd, func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				count, err := db.NewMigrator(pool, migrationsDir(cmd, cfg)).Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd, func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				statuses, err := db.NewMigrator(pool, migrationsDir(cmd, cfg)).Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printMigrationStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func migrationsDir(cmd *cobra.Command, cfg *config.Config) string {
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		return dir
	}
	return cfg.MigrationsDir
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			appliedAt = s.AppliedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Stock ledger maintenance",
	}

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Check every stock entry against the fold of its transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			drug, _ := cmd.Flags().GetString("drug")
			return withPool(cmd, func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				svc := stock.NewService(stock.NewRepoPG(pool), db.NewTxRunner(pool), newLogger(cfg))
				return verifyLedger(ctx, cmd.OutOrStdout(), svc, drug)
			})
		},
	}
	verifyCmd.Flags().String("drug", "", "Only verify lots of this drug code")
	cmd.AddCommand(verifyCmd)

	return cmd
}

// LedgerVerifier is satisfied by *stock.Service.
type LedgerVerifier interface {
	VerifyAll(ctx context.Context, drugCode string) (int, []*stock.IntegrityError, error)
}

func verifyLedger(ctx context.Context, w io.Writer, v LedgerVerifier, drug string) error {
	checked, violations, err := v.VerifyAll(ctx, drug)
	if err != nil {
		return err
	}
	for _, iv := range violations {
		fmt.Fprintf(w, "VIOLATION %s\n", iv.Error())
	}
	fmt.Fprintf(w, "Checked %d lot(s), %d violation(s).\n", checked, len(violations))
	if len(violations) > 0 {
		return fmt.Errorf("ledger verification found %d violation(s)", len(violations))
	}
	return nil
}

func reasonsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reasons",
		Short: "Inspect the reason-code catalog",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List reason codes",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			typ, _ := cmd.Flags().GetString("type")
			catalog, err := reason.LoadCatalog(file)
			if err != nil {
				return err
			}
			return printReasons(cmd.OutOrStdout(), catalog, typ)
		},
	}
	listCmd.Flags().String("file", os.Getenv("REASON_CATALOG_FILE"), "Catalog file (default built-in catalog)")
	listCmd.Flags().String("type", "", "Filter by type (EXCEPTION, RETURN, DISCREPANCY, ALERT)")
	cmd.AddCommand(listCmd)

	return cmd
}

func printReasons(w io.Writer, c *reason.Catalog, typ string) error {
	t := reason.Type(strings.ToUpper(typ))
	if t != "" && !t.Valid() {
		return fmt.Errorf("unknown reason type %q", typ)
	}
	fmt.Fprintf(w, "%-24s %-12s %s\n", "CODE", "TYPE", "LABEL")
	for _, r := range c.List(t) {
		fmt.Fprintf(w, "%-24s %-12s %s\n", r.Code, r.Type, r.Label)
	}
	return nil
}

func withPool(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	var out io.Writer = os.Stdout
	if cfg.IsDev() {
		out = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// services holds the domain services behind the HTTP API.
type services struct {
	reasons *reason.Catalog
	stock   *stock.Service
	notes   *issuenote.Service
	mar     *mar.Service
	shifts  *shift.Service
	rx      *rx.Service
}

func newServices(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*services, error) {
	catalog, err := reason.LoadCatalog(cfg.ReasonCatalogFile)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	tx := db.NewTxRunner(pool)
	ledger := stock.NewService(stock.NewRepoPG(pool), tx, logger)
	notes := issuenote.NewService(issuenote.NewRepoPG(pool), ledger, catalog, tx, logger)

	marRepo := mar.NewRepoPG(pool)
	shifts := shift.NewService(shift.NewRepoPG(pool), marRepo, tx, logger)
	marSvc := mar.NewService(marRepo, ledger, catalog, shifts, tx, logger)

	versions := rx.NewExternalVersionRepository(pool)
	var source rx.OrderSource = versions
	if cfg.OrderSystemURL != "" {
		source = rx.NewHTTPOrderSource(cfg.OrderSystemURL, cfg.OrderSystemTimeout)
	}
	rxSvc := rx.NewService(rx.NewRepoPG(pool), source, versions, marSvc, shifts, catalog, tx,
		rx.Options{Location: loc, Horizon: cfg.DosingHorizon()}, logger)

	return &services{
		reasons: catalog,
		stock:   ledger,
		notes:   notes,
		mar:     marSvc,
		shifts:  shifts,
		rx:      rxSvc,
	}, nil
}

func registerRoutes(api *echo.Group, s *services) {
	reason.NewHandler(s.reasons).RegisterRoutes(api)
	stock.NewHandler(s.stock).RegisterRoutes(api)
	issuenote.NewHandler(s.notes).RegisterRoutes(api)
	mar.NewHandler(s.mar).RegisterRoutes(api)
	shift.NewHandler(s.shifts).RegisterRoutes(api)
	rx.NewHandler(s.rx).RegisterRoutes(api)
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	jwtCfg := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
	}
	if cfg.AuthSigningKey != "" {
		jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
	}
	if cfg.IsDev() {
		var verify echo.MiddlewareFunc
		if cfg.AuthJWKSURL != "" || cfg.AuthSigningKey != "" {
			verify = auth.JWTMiddleware(jwtCfg)
		}
		return auth.DevAuthMiddleware(verify)
	}
	return auth.JWTMiddleware(jwtCfg)
}

func newEcho(cfg *config.Config, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	svcs, err := newServices(cfg, pool, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build services")
	}
	logger.Info().
		Int("reason_codes", svcs.reasons.Len()).
		Str("ward_timezone", cfg.WardTimezone).
		Dur("dosing_horizon", cfg.DosingHorizon()).
		Bool("order_system_pull", cfg.OrderSystemURL != "").
		Msg("services ready")

	e := newEcho(cfg, logger)
	e.GET("/health/db", db.HealthHandler(pool, func() *db.PoolStats { return db.GetPoolStats(pool) }))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(authMiddleware(cfg))
	apiV1.Use(middleware.RequestTimeout(30 * time.Second))
	apiV1.Use(middleware.Audit(logger))
	registerRoutes(apiV1, svcs)

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
