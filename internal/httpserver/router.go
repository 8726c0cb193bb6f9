package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"phaseplanner/internal/handler"
	"phaseplanner/pkg/otel"
	"phaseplanner/pkg/rbac"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	JWTSecret string
	DB        Pinger
	// Outbox is optional; the admin routes are only mounted when set.
	Outbox *handler.OutboxHandler
}

func NewRouter(planningHandler *handler.PlanningHandler, logger *zap.Logger, opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(TraceMiddleware())
	r.Use(otel.GinMiddleware())
	r.Use(RequestLogMiddleware(logger))

	// Health endpoints (放在最前面)
	ok := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) }
	head := func(c *gin.Context) { c.Status(http.StatusOK) }
	r.GET("/healthz", ok)
	r.HEAD("/healthz", head)
	r.GET("/health", ok)
	r.HEAD("/health", head)

	r.GET("/readyz", func(c *gin.Context) {
		if opts.DB != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
			defer cancel()
			if err := opts.DB.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/")
	api.Use(AuthMiddleware(opts.JWTSecret))
	{
		read := RequirePermission(rbac.PermissionReadProject)
		api.GET("/projects/:id/phases", read, planningHandler.ListPhases)
		api.GET("/projects/:id/dependencies", read, planningHandler.ListDependencies)
		api.GET("/projects/:id/violations", read, planningHandler.GetViolations)
		api.POST("/projects/:id/fix", RequirePermission(rbac.PermissionFixProject), planningHandler.FixAll)

		api.POST("/phases/:id/check", read, planningHandler.CheckPhase)
		api.PATCH("/phases/:id", RequirePermission(rbac.PermissionUpdatePhase), planningHandler.UpdatePhase)

		writeDeps := RequirePermission(rbac.PermissionWriteDependency)
		api.POST("/dependencies", writeDeps, planningHandler.CreateDependency)
		api.DELETE("/dependencies/:id", writeDeps, planningHandler.DeleteDependency)

		if opts.Outbox != nil {
			admin := api.Group("/admin/outbox", RequirePermission(rbac.PermissionReplayOutbox))
			admin.GET("/failed", opts.Outbox.ListFailed)
			admin.POST("/:id/replay", opts.Outbox.Replay)
			admin.POST("/replay", opts.Outbox.ReplayFailed)
		}
	}

	return r
}
