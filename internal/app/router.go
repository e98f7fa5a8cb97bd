package app

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"svc-steward.io/steward/internal/api/handlers"
	"svc-steward.io/steward/internal/api/middleware"
	"svc-steward.io/steward/internal/config"
)

// newRouter builds the full route tree: health probes and login are public,
// everything else sits behind JWT auth, and the admin group additionally
// requires the system-administrator flag.
func newRouter(cfg *config.Config, server *handlers.Server, jwtCfg middleware.JWTConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.ErrorHandler())
	router.Use(cors.New(buildCORSConfig(cfg.Server)))

	router.GET("/healthz", server.GetLiveness)
	router.GET("/readyz", server.GetReadiness)

	v1 := router.Group("/api/v1")
	v1.POST("/auth/login", server.Login)

	authed := v1.Group("")
	authed.Use(middleware.JWTAuth(jwtCfg.SigningKey))

	authed.GET("/auth/me", server.GetCurrentUser)
	authed.GET("/me/shares", server.ListMyShares)

	authed.POST("/services", server.CreateService)
	authed.GET("/services", server.ListServices)
	authed.GET("/services/:service_id", server.GetService)
	authed.PATCH("/services/:service_id", server.UpdateService)
	authed.PUT("/services/:service_id/status", server.SetServiceStatus)
	authed.GET("/services/:service_id/permissions", server.GetServicePermissions)

	authed.POST("/services/:service_id/shares", server.GrantShare)
	authed.GET("/services/:service_id/shares", server.ListShares)
	authed.DELETE("/services/:service_id/shares/:share_id", server.RevokeShare)

	authed.GET("/services/:service_id/kv/*path", server.KVGet)
	authed.PUT("/services/:service_id/kv/*path", server.KVPut)
	authed.DELETE("/services/:service_id/kv/*path", server.KVDelete)
	authed.POST("/services/:service_id/kv-txn", server.KVTxn)
	authed.GET("/services/:service_id/kv-list/*prefix", server.KVGetList)
	authed.PUT("/services/:service_id/kv-list/*prefix", server.KVPutList)
	authed.GET("/services/:service_id/kv-export/*prefix", server.KVExport)

	authed.POST("/approval-requests", server.CreateApprovalRequest)
	authed.GET("/approval-requests", server.ListApprovalRequests)
	authed.GET("/approval-requests/:request_id", server.GetApprovalRequest)
	authed.POST("/approval-requests/:request_id/decisions", server.SubmitDecision)
	authed.POST("/approval-requests/:request_id/cancel", server.CancelApprovalRequest)

	authed.GET("/notifications", server.ListNotifications)
	authed.GET("/notifications/unread-count", server.GetUnreadCount)
	authed.POST("/notifications/read-all", server.MarkAllNotificationsRead)
	authed.POST("/notifications/:notification_id/read", server.MarkNotificationRead)

	admin := authed.Group("/admin")
	admin.Use(middleware.RequireSystemAdmin())
	admin.GET("/audit-logs", server.ListAuditLogs)
	admin.GET("/users", server.ListUsers)

	return router
}

// defaultDevOrigins keep local frontend development working when no
// origins are configured.
var defaultDevOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// buildCORSConfig derives the CORS policy from server config. A literal "*"
// origin is ignored unless the unsafe flag opts in explicitly, and the
// wildcard mode drops credentials because the cors library rejects that
// combination.
func buildCORSConfig(cfg config.ServerConfig) cors.Config {
	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "If-Match"},
		ExposeHeaders:    []string{"ETag", "X-Kv-Index", middleware.RequestIDHeader},
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           12 * time.Hour,
	}

	if cfg.UnsafeAllowAllOrigins {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
		return corsCfg
	}

	origins := make([]string, 0, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			continue
		}
		origins = append(origins, origin)
	}
	if len(origins) == 0 {
		origins = append(origins, defaultDevOrigins...)
	}
	corsCfg.AllowOrigins = origins
	return corsCfg
}
