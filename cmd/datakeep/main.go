// Command datakeep runs the dataset registry server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/Mindburn-Labs/datakeep/pkg/api"
	"github.com/Mindburn-Labs/datakeep/pkg/audit"
	"github.com/Mindburn-Labs/datakeep/pkg/auth"
	"github.com/Mindburn-Labs/datakeep/pkg/authz"
	"github.com/Mindburn-Labs/datakeep/pkg/blob"
	"github.com/Mindburn-Labs/datakeep/pkg/chain"
	"github.com/Mindburn-Labs/datakeep/pkg/config"
	"github.com/Mindburn-Labs/datakeep/pkg/groups"
	"github.com/Mindburn-Labs/datakeep/pkg/observability"
	"github.com/Mindburn-Labs/datakeep/pkg/registry"
	"github.com/Mindburn-Labs/datakeep/pkg/store"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("datakeep", flag.ContinueOnError)
	fs.SetOutput(stderr)
	profilesDir := fs.String("profiles", "", "directory with deployment profile YAMLs")
	profileName := fs.String("profile", "", "deployment profile to apply")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	if *profileName != "" {
		profile, err := config.LoadProfile(*profilesDir, *profileName)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		profile.Apply(cfg)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := serve(context.Background(), cfg, logger); err != nil {
		logger.Error("server exited", "err", err)
		return 1
	}
	return 0
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	blobs, err := blob.NewStoreFromEnv(ctx)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	resolver := buildResolver(cfg)
	matrix := authz.NewMatrix(st, resolver)
	chains := chain.NewManager(st)

	auditLogger, closeAudit, err := openAudit(cfg)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer closeAudit()

	reg := registry.New(st, blobs, matrix, chains,
		registry.WithAuditLogger(auditLogger),
		registry.WithLogger(logger),
	)

	metricsProvider, err := observability.New(ctx, &observability.Config{
		ServiceName:    "datakeep",
		ServiceVersion: "1.0.0",
		Environment:    envName(),
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.MetricsEnabled,
		Insecure:       true,
	})
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsProvider.Shutdown(shutdownCtx)
	}()

	serverOpts := []api.ServerOption{api.WithServerLogger(logger)}
	if cfg.HideForbidden {
		serverOpts = append(serverOpts, api.WithHiddenForbidden())
	}
	if cfg.MetricsEnabled {
		m, err := api.NewMetrics()
		if err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		serverOpts = append(serverOpts, api.WithMetrics(m))
	}

	handler := api.NewServer(reg, serverOpts...).Routes()
	// The limiter sits inside the JWT middleware so it keys on the
	// authenticated actor rather than the remote address.
	handler = auth.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).Middleware(handler)
	handler = auth.NewMiddleware(auth.NewJWTValidator([]byte(cfg.JWTSecret)))(handler)
	handler = auth.CORSMiddleware(nil)(handler)
	handler = auth.RequestIDMiddleware(handler)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "store", cfg.StoreBackend)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "sqlite":
		return store.OpenSQLite(cfg.SQLitePath)
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		pg := store.NewPostgresStore(db)
		if err := pg.Init(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return pg, nil
	case "memory":
		return store.NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// buildResolver prefers token claims for the requesting user, with the
// directory behind an optional Redis cache as fallback.
func buildResolver(cfg *config.Config) groups.Resolver {
	var backend groups.Resolver = groups.NewStaticResolver()
	if cfg.RedisAddr != "" {
		backend = groups.NewCachedResolver(backend, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, 5*time.Minute)
	}
	return &auth.ClaimsResolver{Fallback: backend}
}

func openAudit(cfg *config.Config) (audit.Logger, func(), error) {
	if cfg.AuditLogPath == "" {
		return audit.NewLogger(), func() {}, nil
	}
	f, err := os.OpenFile(cfg.AuditLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, err
	}
	return audit.NewLoggerWithWriter(f), func() { _ = f.Close() }, nil
}

func envName() string {
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		return env
	}
	return "development"
}
