// Package handlers implements the HTTP surface of the control plane.
//
// Handlers are a thin translation layer: they bind requests, call into the
// core services, and map AppError results onto status codes. Authorization
// outcomes (including the deliberate 404-for-denied convention, ADR-0009)
// are decided in the core, never here. Route registration lives in
// internal/app; handlers do NOT register their own routes.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"svc-steward.io/steward/internal/api/middleware"
	"svc-steward.io/steward/internal/domain"
	"svc-steward.io/steward/internal/governance/approval"
	"svc-steward.io/steward/internal/governance/audit"
	"svc-steward.io/steward/internal/kv"
	apperrors "svc-steward.io/steward/internal/pkg/errors"
	"svc-steward.io/steward/internal/pkg/logger"
	"svc-steward.io/steward/internal/registry"
)

// UserStore is the identity lookup surface the HTTP layer needs.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	List(ctx context.Context, limit, offset int) (*domain.UserList, error)
}

// Server implements all API handlers.
type Server struct {
	pool          *pgxpool.Pool
	redis         *redis.Client
	jwtCfg        middleware.JWTConfig
	audit         *audit.Logger
	registry      *registry.Registry
	shares        *registry.ShareService
	approvals     *approval.Engine
	kv            *kv.Manager
	users         UserStore
	notifications NotificationStore
}

// ServerDeps holds all dependencies for creating a Server.
// ADR-0013: Manual DI, no Wire/Dig.
type ServerDeps struct {
	Pool          *pgxpool.Pool
	Redis         *redis.Client
	JWTCfg        middleware.JWTConfig
	Audit         *audit.Logger
	Registry      *registry.Registry
	Shares        *registry.ShareService
	Approvals     *approval.Engine
	KV            *kv.Manager
	Users         UserStore
	Notifications NotificationStore
}

// NewServer creates a new Server with all dependencies.
func NewServer(deps ServerDeps) *Server {
	return &Server{
		pool:          deps.Pool,
		redis:         deps.Redis,
		jwtCfg:        deps.JWTCfg,
		audit:         deps.Audit,
		registry:      deps.Registry,
		shares:        deps.Shares,
		approvals:     deps.Approvals,
		kv:            deps.KV,
		users:         deps.Users,
		notifications: deps.Notifications,
	}
}

// Error is the JSON error body every handler returns on failure.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Pagination describes one page of a listing response.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// caller extracts the authenticated identity, answering 401 when absent.
func (s *Server) caller(c *gin.Context) (domain.UserContext, bool) {
	caller := middleware.GetUserContext(c.Request.Context())
	if caller.UserID == "" {
		c.JSON(http.StatusUnauthorized, Error{Code: "UNAUTHORIZED"})
		return domain.UserContext{}, false
	}
	return caller, true
}

// respondError maps a core error onto the HTTP response.
func respondError(c *gin.Context, err error) {
	if appErr, ok := apperrors.IsAppError(err); ok {
		c.JSON(appErr.HTTPStatus, Error{
			Code:    appErr.Code,
			Message: appErr.Message,
			Params:  appErr.Params,
		})
		return
	}
	logger.Error("request failed",
		zap.Error(err),
		zap.String("path", c.FullPath()),
		zap.String("method", c.Request.Method),
	)
	c.JSON(http.StatusInternalServerError, Error{Code: "INTERNAL_ERROR"})
}
