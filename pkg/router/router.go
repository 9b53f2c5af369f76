// Package router assembles the gin engine and mounts every HTTP route.
package router

import (
	"context"
	"net/http"

	"character-chat/backend/internal/api"
	"character-chat/backend/pkg/di"
	"character-chat/backend/pkg/errors"
	"character-chat/backend/pkg/logger"
	"character-chat/backend/pkg/middleware"
	"character-chat/backend/pkg/validator"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type Router struct {
	Engine    *gin.Engine
	Container *di.Container
	Logger    *logger.Logger
	limiter   *middleware.RateLimiter
}

// New creates the engine with the global middleware chain
func New(container *di.Container) *Router {
	cfg := container.Config
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.Security.TrustedProxies); err != nil {
		container.Logger.Warn("Invalid trusted proxies, trusting none", "error", err.Error())
		_ = engine.SetTrustedProxies(nil)
	}

	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())
	engine.Use(corsMiddleware(cfg.Security.AllowedOrigins))
	engine.Use(bodyLimit(cfg.Security.MaxBodySize))

	limiter := middleware.NewRateLimiter(container.Logger, middleware.RateLimiterOptions{
		Limit:          rate.Limit(cfg.Security.RateLimit),
		Burst:          cfg.Security.RateLimitBurst,
		ExpiryDuration: middleware.DefaultRateLimiterOptions().ExpiryDuration,
	})

	return &Router{
		Engine:    engine,
		Container: container,
		Logger:    container.Logger,
		limiter:   limiter,
	}
}

// SetupRoutes registers all application routes. Background helpers stop when ctx ends.
func (r *Router) SetupRoutes(ctx context.Context) {
	c := r.Container
	go r.limiter.RunCleanup(ctx)

	r.Engine.GET("/health", c.Health.Handler())
	r.Engine.GET("/api/health", c.Health.Handler())
	if c.Metrics != nil {
		r.Engine.GET("/metrics", gin.WrapH(c.Metrics.Handler()))
	}
	r.Engine.Static("/uploads", c.Uploads.Dir())

	routes := r.Engine.Group("/")
	if v := r.openAPIValidator(ctx); v != nil {
		routes.Use(v.Middleware())
	}

	var tracker api.StreamTracker
	if c.Metrics != nil {
		tracker = c.Metrics
	}
	guard := r.limiter.Middleware()

	api.NewChatHandler(c.Orchestrator, c.Sessions, c.Registry, c.Resolver, tracker, c.Config.Security.AllowedOrigins).
		RegisterRoutes(routes, guard)
	api.NewCharacterHandler(c.Characters).RegisterRoutes(routes)
	api.NewModelHandler(c.Registry).RegisterRoutes(routes)
	api.NewUploadHandler(c.Uploads).RegisterRoutes(routes, guard)
	api.NewMemoryHandler(c.Memory).RegisterRoutes(routes)

	r.Engine.NoRoute(func(ctx *gin.Context) {
		_ = ctx.Error(errors.NewNotFoundError("NOT_FOUND", "Route not found"))
	})
}

func (r *Router) openAPIValidator(ctx context.Context) *validator.OpenAPIValidator {
	cfg := r.Container.Config.OpenAPI
	if cfg.SchemaPath == "" {
		return nil
	}

	v, err := validator.NewOpenAPIValidator(cfg.SchemaPath, r.Logger)
	if err != nil {
		r.Logger.Error("OpenAPI validation disabled", "path", cfg.SchemaPath, "error", err.Error())
		return nil
	}
	if cfg.Watch {
		if err := v.Watch(ctx); err != nil {
			r.Logger.Warn("OpenAPI schema watch unavailable", "error", err.Error())
		}
	}
	r.Engine.StaticFile("/api/docs/openapi.yaml", cfg.SchemaPath)
	r.Logger.Info("OpenAPI validation enabled", "schema", cfg.SchemaPath, "watch", cfg.Watch)
	return v
}

func corsMiddleware(allowed []string) gin.HandlerFunc {
	allowAll := false
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		set[o] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" && (allowAll || set[origin]) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Authorization, Origin, Cache-Control, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", "X-Request-ID, Content-Disposition")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func bodyLimit(max int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if max > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
		}
		c.Next()
	}
}
