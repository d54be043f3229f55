// Package api wires together all HTTP routes for the QueryGate service.
//
// Route grouping philosophy:
//   - /api/v1/auth/register and /api/v1/auth/login are unauthenticated but sit
//     behind a tight per-IP rate limit, since they are the credential-guessing
//     surface.
//   - /api/v1/bootstrap/ is guarded by the bootstrap token middleware and only
//     works while the user table is empty.
//   - Everything else under /api/v1/ requires a valid session token or JWT.
//     Administrative routes additionally require the is_admin flag.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/querygate/querygate/internal/access"
	"github.com/querygate/querygate/internal/api/handlers"
	"github.com/querygate/querygate/internal/audit"
	"github.com/querygate/querygate/internal/config"
	"github.com/querygate/querygate/internal/connector"
	"github.com/querygate/querygate/internal/db/repositories"
	"github.com/querygate/querygate/internal/jobs"
	"github.com/querygate/querygate/internal/middleware"
	"github.com/querygate/querygate/internal/safego"
	"github.com/querygate/querygate/internal/session"
	"github.com/querygate/querygate/internal/users"
)

// BackgroundServices holds references to background jobs and resources that
// must be stopped during graceful shutdown. The caller (cmd/server) is
// responsible for calling Shutdown() when the process receives a termination
// signal.
type BackgroundServices struct {
	sweeper      *jobs.ExpirySweeper
	shipper      *audit.MultiShipper
	redisClient  *redis.Client
	rateLimiters []*middleware.RateLimiter
}

// Shutdown stops all background goroutines. It should be called after the
// HTTP server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.sweeper != nil {
		bg.sweeper.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.shipper != nil {
		if err := bg.shipper.Close(); err != nil {
			slog.Error("failed to close audit shippers", "error", err)
		}
	}
	if bg.redisClient != nil {
		if err := bg.redisClient.Close(); err != nil {
			slog.Error("failed to close redis client", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router. db is the control-plane
// database; warehouse is the analytics backend user queries run against.
func NewRouter(cfg *config.Config, db *sql.DB, warehouse connector.Connector) (*gin.Engine, *BackgroundServices) {
	router := gin.New()
	bg := &BackgroundServices{}

	// Repositories
	userRepo := repositories.NewUserRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	permRepo := repositories.NewPermissionRepository(db)
	auditRepo := repositories.NewAuditRepository(db)

	// The allow-list repository uses sqlx for its scanning
	sqlxDB := sqlx.NewDb(db, "postgres")
	allowRepo := repositories.NewAllowListRepository(sqlxDB)

	// Audit pipeline. Recording stays best effort: a nil auditor simply
	// silences domain events without touching the request path.
	var auditor *audit.Recorder
	if cfg.Audit.Enabled {
		shipper, err := audit.NewMultiShipper(shipperConfigs(cfg.Audit.Shippers))
		if err != nil {
			log.Fatalf("Failed to initialize audit shippers: %v", err)
		}
		bg.shipper = shipper
		auditor = audit.NewRecorder(auditRepo, shipper, slog.Default())
	}

	// Domain services
	registry := session.NewRegistry(sessionRepo, userRepo, cfg.Session.Timeout, cfg.Session.MaxPerUser, slog.Default())
	manager := users.NewManager(userRepo, allowRepo, sessionRepo, auditorOrNil(auditor))

	cacheTTL := time.Duration(0)
	cacheMaxEntries := 0
	if cfg.Permissions.Cache.Enabled {
		cacheTTL = cfg.Permissions.Cache.TTL
		cacheMaxEntries = cfg.Permissions.Cache.MaxEntries
	}
	ledger := access.NewLedger(permRepo, cacheTTL, cacheMaxEntries, ledgerAuditorOrNil(auditor))
	gate := access.NewGate(userRepo, ledger, cfg.Permissions)
	filtered := connector.NewFiltered(warehouse, gate, connectorAuditorOrNil(auditor))

	// Background expiry sweep for sessions and grants
	sweeper := jobs.NewExpirySweeper(sessionRepo, ledger, cfg.Session.CleanupInterval)
	safego.Go("expiry-sweeper", func() { sweeper.Start(context.Background()) })
	bg.sweeper = sweeper

	// Handlers
	authHandlers := handlers.NewAuthHandlers(manager, registry)
	permHandlers := handlers.NewPermissionHandlers(ledger)
	queryHandlers := handlers.NewQueryHandlers(filtered)
	adminHandlers := handlers.NewAdminHandlers(manager, auditRepo)
	bootstrapHandlers := handlers.NewBootstrapHandlers(manager, registry)

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// Readiness check endpoint (includes warehouse probe)
	router.GET("/ready", readinessHandler(db, warehouse))

	// API version
	router.GET("/version", versionHandler())

	// Rate limiting. The auth and query limits are always per-process token
	// buckets; the general limit switches to the Redis GCRA limiter when
	// distributed mode is configured so that replicas share one budget.
	var generalLimit gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	var authLimit gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	var queryLimit gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if cfg.Security.RateLimiting.Enabled {
		authLimiter := middleware.NewRateLimiter(middleware.AuthRateLimitConfig())
		queryLimiter := middleware.NewRateLimiter(middleware.QueryRateLimitConfig())
		bg.rateLimiters = append(bg.rateLimiters, authLimiter, queryLimiter)
		authLimit = middleware.RateLimitMiddleware(authLimiter)
		queryLimit = middleware.RateLimitMiddleware(queryLimiter)

		generalConfig := middleware.DefaultRateLimitConfig()
		if cfg.Security.RateLimiting.RequestsPerMinute > 0 {
			generalConfig.RequestsPerMinute = cfg.Security.RateLimiting.RequestsPerMinute
		}
		if cfg.Security.RateLimiting.Burst > 0 {
			generalConfig.BurstSize = cfg.Security.RateLimiting.Burst
		}
		if cfg.Security.RateLimiting.Distributed {
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			bg.redisClient = rdb
			generalLimit = middleware.DistributedRateLimitMiddleware(rdb, generalConfig)
		} else {
			generalLimiter := middleware.NewRateLimiter(generalConfig)
			bg.rateLimiters = append(bg.rateLimiters, generalLimiter)
			generalLimit = middleware.RateLimitMiddleware(generalLimiter)
		}
	}

	api := router.Group("/api/v1")

	// Unauthenticated auth endpoints, tightly rate limited
	public := api.Group("/auth")
	public.Use(authLimit)
	{
		public.POST("/register", authHandlers.RegisterHandler())
		public.POST("/login", authHandlers.LoginHandler())
	}

	// First-run bootstrap, guarded by the bootstrap token and the zero-users gate
	bootstrap := api.Group("/bootstrap")
	bootstrap.Use(middleware.BootstrapTokenMiddleware(userRepo, cfg.Security.BootstrapToken))
	{
		bootstrap.POST("/admin", bootstrapHandlers.CreateAdminHandler())
	}

	// Authenticated routes
	authed := api.Group("")
	authed.Use(middleware.AuthMiddleware(userRepo, registry))
	authed.Use(generalLimit)
	if cfg.Audit.Enabled && auditor != nil {
		authed.Use(middleware.AuditMiddleware(auditor, &cfg.Audit))
	}
	{
		authed.POST("/auth/logout", authHandlers.LogoutHandler())
		authed.POST("/auth/refresh", authHandlers.RefreshHandler())
		authed.POST("/auth/token", authHandlers.TokenHandler())
		authed.GET("/auth/me", authHandlers.MeHandler())
		authed.GET("/auth/sessions", authHandlers.ListSessionsHandler())
		authed.DELETE("/auth/sessions", authHandlers.DestroySessionsHandler())

		authed.GET("/permissions/me", permHandlers.MyPermissionsHandler())
		authed.GET("/schemas", queryHandlers.ListSchemasHandler())

		query := authed.Group("")
		query.Use(queryLimit)
		query.POST("/query", queryHandlers.RunQueryHandler())
	}

	// Administrative routes
	admin := authed.Group("")
	admin.Use(middleware.RequireAdmin())
	{
		admin.POST("/permissions", permHandlers.GrantHandler())
		admin.DELETE("/permissions/:user_id/:schema", permHandlers.RevokeHandler())
		admin.PUT("/permissions/expiry", permHandlers.ExtendHandler())
		admin.GET("/permissions/users/:user_id", permHandlers.ListForUserHandler())
		admin.GET("/permissions/schemas/:schema", permHandlers.ListForSchemaHandler())
		admin.GET("/permissions/check", permHandlers.CheckHandler())

		admin.GET("/admin/users", adminHandlers.ListUsersHandler())
		admin.POST("/admin/users/:user_id/deactivate", adminHandlers.DeactivateUserHandler())
		admin.GET("/admin/allowlist", adminHandlers.ListAllowListHandler())
		admin.POST("/admin/allowlist", adminHandlers.AddAllowListHandler())
		admin.DELETE("/admin/allowlist/:employee_id", adminHandlers.RemoveAllowListHandler())
		admin.GET("/admin/audit-logs", adminHandlers.ListAuditLogsHandler())
		admin.GET("/admin/audit-logs/:log_id", adminHandlers.GetAuditLogHandler())
	}

	return router, bg
}

// shipperConfigs converts config-layer shipper settings into the audit
// package's own config type. The two are kept separate so the audit package
// does not depend on Viper struct tags.
func shipperConfigs(configs []config.AuditShipperConfig) []audit.ShipperConfig {
	out := make([]audit.ShipperConfig, 0, len(configs))
	for _, c := range configs {
		sc := audit.ShipperConfig{
			Enabled: c.Enabled,
			Type:    c.Type,
		}
		if c.Syslog != nil {
			sc.Syslog = &audit.SyslogConfig{
				Network:  c.Syslog.Network,
				Address:  c.Syslog.Address,
				Tag:      c.Syslog.Tag,
				Facility: c.Syslog.Facility,
			}
		}
		if c.Webhook != nil {
			sc.Webhook = &audit.WebhookConfig{
				URL:           c.Webhook.URL,
				Headers:       c.Webhook.Headers,
				Timeout:       time.Duration(c.Webhook.TimeoutSecs) * time.Second,
				BatchSize:     c.Webhook.BatchSize,
				FlushInterval: time.Duration(c.Webhook.FlushInterval) * time.Second,
			}
		}
		if c.File != nil {
			sc.File = &audit.FileConfig{
				Path:       c.File.Path,
				MaxSizeMB:  c.File.MaxSizeMB,
				MaxBackups: c.File.MaxBackups,
			}
		}
		out = append(out, sc)
	}
	return out
}

// auditorOrNil returns a typed-nil-safe users.Auditor. Passing a nil
// *audit.Recorder through an interface would defeat the services' nil checks.
func auditorOrNil(r *audit.Recorder) users.Auditor {
	if r == nil {
		return nil
	}
	return r
}

func ledgerAuditorOrNil(r *audit.Recorder) access.Auditor {
	if r == nil {
		return nil
	}
	return r
}

func connectorAuditorOrNil(r *audit.Recorder) connector.Auditor {
	if r == nil {
		return nil
	}
	return r
}

// @Summary      Health check
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check database connection
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks the control-plane database and the analytics warehouse.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "ready: false, error: dependency not ready"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service.
// Unlike the liveness probe (/health), this also probes the analytics
// warehouse so that a Kubernetes readiness gate fails when queries would
// error anyway.
func readinessHandler(db *sql.DB, warehouse connector.Connector) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		// Check control-plane database connection
		if err := db.Ping(); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		// Probe the warehouse with a schema listing, which exercises
		// authentication and connectivity without touching user data.
		if _, err := warehouse.ListSchemas(c.Request.Context()); err != nil {
			checks["warehouse"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "analytics warehouse not ready",
			})
			return
		}
		checks["warehouse"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		// Log the request
		if cfg.Logging.Format == "json" {
			logJSON(c, latency, path, query)
		} else {
			logText(c, latency, path, query)
		}
	}
}

// logJSON logs a request as a JSON-structured slog record.
func logJSON(c *gin.Context, latency time.Duration, path, query string) {
	requestID, _ := c.Get(middleware.RequestIDKey)
	slog.LogAttrs(
		c.Request.Context(),
		slog.LevelInfo,
		"http request",
		slog.String("method", c.Request.Method),
		slog.String("path", path),
		slog.String("query", query),
		slog.Int("status", c.Writer.Status()),
		slog.Int("size", c.Writer.Size()),
		slog.Duration("latency", latency),
		slog.String("ip", c.ClientIP()),
		slog.String("request_id", fmt.Sprintf("%v", requestID)),
		slog.String("user_agent", c.Request.UserAgent()),
	)
}

// logText logs a request as a human-readable slog text record.
func logText(c *gin.Context, latency time.Duration, path, query string) {
	// reuse the same structured output; slog will emit text format when the global
	// handler is a TextHandler (configured in telemetry.SetupLogger).
	logJSON(c, latency, path, query)
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Check if origin is allowed
		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
