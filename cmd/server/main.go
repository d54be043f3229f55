// @title           QueryGate API
// @version         1.0.0
// @description     Multi-tenant access control gateway for an analytics warehouse: allow-list gated registration, opaque session tokens, per-schema permission grants, SQL safety validation, and audit logging.
// @contact.name    Support
// @contact.email   support@example.com
// @license.name    Apache-2.0
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                         Authorization
// @description                  "Session token or JWT: 'Bearer {token}'"
//
// @tag.name         System
// @tag.description  Health, readiness, and version endpoints.
//
// @tag.name         Observability
// @tag.description  Prometheus metrics and profiling are served on a dedicated side-channel port (default: 9090) that is separate from the main API server. This keeps the scrape path off the public ingress and avoids rate-limiting middleware. Configure the port with QG_TELEMETRY_METRICS_PROMETHEUS_PORT. The endpoint path is always GET /metrics. pprof (if enabled via QG_TELEMETRY_PROFILING_ENABLED=true) is served on QG_TELEMETRY_PROFILING_PORT (default: 6060) at the standard /debug/pprof/ paths. Neither endpoint is part of the OpenAPI spec because they are not served by the Gin router.

// Package main is the entry point for the QueryGate server binary. The CLI
// surface is a plain switch over three subcommands (serve, migrate, version),
// small enough that a cobra dependency would not earn its keep. The serve
// command auto-migrates on startup so a freshly deployed container never
// needs a separate migration step.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108 -- pprof is NOT served on the main API listener (Gin router).

	// It only serves on a dedicated internal port when cfg.Telemetry.Profiling.Enabled=true.
	// DefaultServeMux is never passed to the Gin HTTP server.
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/querygate/querygate/internal/api"
	"github.com/querygate/querygate/internal/auth"
	"github.com/querygate/querygate/internal/config"
	"github.com/querygate/querygate/internal/connector"
	"github.com/querygate/querygate/internal/db"
	"github.com/querygate/querygate/internal/db/repositories"
	"github.com/querygate/querygate/internal/telemetry"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	case "version":
		fmt.Printf("QueryGate v%s\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, version", command)
	}
}

// connectControlPlane opens the control-plane database pool.
func connectControlPlane(cfg *config.Config) (*sql.DB, error) {
	return db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
}

func serve(cfg *config.Config) error {
	// Structured logging first so everything after it is in the configured
	// format and level.
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Refuse to start in production without a JWT secret.
	if err := auth.ValidateJWTSecret(); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}
	log.Println("JWT secret validated successfully")

	maskedPassword := "****"
	if cfg.Database.Password != "" {
		maskedPassword = cfg.Database.Password[:1] + "****"
	}
	log.Printf("Database config: host=%s, port=%d, user=%s, password=%s, dbname=%s, sslmode=%s",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.User, maskedPassword,
		cfg.Database.Name, cfg.Database.SSLMode)

	database, err := connectControlPlane(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	log.Println("Connected to database successfully")

	telemetry.StartDBStatsCollector(database)

	log.Println("Running database migrations...")
	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Println("Database migrations completed successfully")

	if schemaVersion, dirty, err := db.GetMigrationVersion(database); err != nil {
		log.Printf("Warning: failed to get migration version: %v", err)
	} else {
		log.Printf("Database schema version: %d (dirty: %v)", schemaVersion, dirty)
	}

	// First-run notice: without users and without a bootstrap token the
	// instance has no way to create its initial admin.
	printBootstrapNotice(cfg, database)

	// The warehouse connection carries user queries; the control-plane pool
	// above never does.
	warehouse, err := connector.NewWarehouse(cfg.Analytics)
	if err != nil {
		return fmt.Errorf("failed to connect to analytics warehouse: %w", err)
	}
	defer warehouse.Close()
	log.Println("Connected to analytics warehouse successfully")

	startSidecarServers(cfg)

	router, bgServices := api.NewRouter(cfg, database, warehouse)

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Printf("Starting server on %s", cfg.Server.GetAddress())
		log.Printf("Schema isolation: %v", cfg.Permissions.SchemaIsolationEnabled)
		log.Printf("Rate limiting: enabled=%v distributed=%v",
			cfg.Security.RateLimiting.Enabled, cfg.Security.RateLimiting.Distributed)
		log.Println("Server is ready to accept connections")

		var err error
		if cfg.Security.TLS.Enabled {
			log.Printf("TLS enabled: cert=%s, key=%s", cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// Stop background jobs and rate limiter goroutines after in-flight
	// requests have drained.
	bgServices.Shutdown()

	log.Println("Server stopped gracefully")
	return nil
}

// startSidecarServers runs the Prometheus scrape endpoint and the pprof
// listener on their own ports, off the public ingress path.
func startSidecarServers(cfg *config.Config) {
	if cfg.Telemetry.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	if cfg.Telemetry.Profiling.Enabled {
		pprofAddr := fmt.Sprintf(":%d", cfg.Telemetry.Profiling.Port)
		go func() {
			slog.Info("starting pprof server", "addr", pprofAddr)
			// net/http/pprof registers on http.DefaultServeMux at init time.
			srv := &http.Server{ //nolint:gosec // internal-only pprof port, long timeouts acceptable
				Addr:         pprofAddr,
				Handler:      http.DefaultServeMux, // #nosec G108 -- not the main listener; pprof-only internal port
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("pprof server error", "error", err)
			}
		}()
	}
}

// printBootstrapNotice tells the operator how to create the initial admin
// account when the user table is empty. The bootstrap endpoint shuts itself
// off permanently once the first user exists, so this notice only ever
// applies to a fresh instance.
func printBootstrapNotice(cfg *config.Config, database *sql.DB) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	count, err := repositories.NewUserRepository(database).Count(ctx)
	if err != nil {
		log.Printf("Warning: failed to count users for bootstrap notice: %v", err)
		return
	}
	if count > 0 {
		return
	}

	separator := strings.Repeat("═", 66)
	log.Println("")
	log.Println(separator)
	log.Println("  INITIAL SETUP REQUIRED: no user accounts exist yet.")
	log.Println("")
	if cfg.Security.BootstrapToken == "" {
		log.Println("  Set QG_SECURITY_BOOTSTRAP_TOKEN (or security.bootstrap_token in")
		log.Println("  the config file) and restart, then create the first admin via:")
	} else {
		log.Println("  Create the first admin account via:")
	}
	log.Println("    POST /api/v1/bootstrap/admin")
	log.Println("    Authorization: Bootstrap <token>")
	log.Println("")
	log.Println("  The bootstrap endpoint disables itself permanently once the")
	log.Println("  first account exists. Treat the token like a root password.")
	log.Println(separator)
	log.Println("")

	if !cfg.Security.TLS.Enabled {
		log.Println("Warning: TLS is not enabled. The bootstrap token will be transmitted in plaintext.")
	}
}

func runMigrations(cfg *config.Config, direction string) error {
	database, err := connectControlPlane(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	log.Printf("Running migrations: %s", direction)
	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	schemaVersion, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	log.Printf("Migration completed successfully. Current version: %d (dirty: %v)", schemaVersion, dirty)
	return nil
}
