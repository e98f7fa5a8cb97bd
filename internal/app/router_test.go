package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"svc-steward.io/steward/internal/api/handlers"
	"svc-steward.io/steward/internal/api/middleware"
	"svc-steward.io/steward/internal/config"
	"svc-steward.io/steward/internal/domain"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestBuildCORSConfig_DefaultsToAllowlistWhenOriginsEmpty(t *testing.T) {
	cfg := config.ServerConfig{
		AllowedOrigins:        nil,
		AllowCredentials:      true,
		UnsafeAllowAllOrigins: false,
	}

	got := buildCORSConfig(cfg)
	if got.AllowAllOrigins {
		t.Fatalf("AllowAllOrigins = %v, want false", got.AllowAllOrigins)
	}
	if !got.AllowCredentials {
		t.Fatalf("AllowCredentials = %v, want true", got.AllowCredentials)
	}
	if len(got.AllowOrigins) != 2 {
		t.Fatalf("len(AllowOrigins) = %d, want 2", len(got.AllowOrigins))
	}
}

func TestBuildCORSConfig_StripsWildcardUnlessUnsafeFlagEnabled(t *testing.T) {
	cfg := config.ServerConfig{
		AllowedOrigins:        []string{"*", "https://example.com"},
		AllowCredentials:      true,
		UnsafeAllowAllOrigins: false,
	}

	got := buildCORSConfig(cfg)
	if got.AllowAllOrigins {
		t.Fatalf("AllowAllOrigins = %v, want false", got.AllowAllOrigins)
	}
	if len(got.AllowOrigins) != 1 || got.AllowOrigins[0] != "https://example.com" {
		t.Fatalf("AllowOrigins = %#v, want only https://example.com", got.AllowOrigins)
	}
}

func TestBuildCORSConfig_UnsafeAllowAllDisablesCredentials(t *testing.T) {
	cfg := config.ServerConfig{
		AllowedOrigins:        []string{"*"},
		AllowCredentials:      true,
		UnsafeAllowAllOrigins: true,
	}

	got := buildCORSConfig(cfg)
	if !got.AllowAllOrigins {
		t.Fatalf("AllowAllOrigins = %v, want true", got.AllowAllOrigins)
	}
	if got.AllowCredentials {
		t.Fatalf("AllowCredentials = %v, want false", got.AllowCredentials)
	}
	if len(got.AllowOrigins) != 0 {
		t.Fatalf("AllowOrigins = %#v, want empty", got.AllowOrigins)
	}
}

func newTestRouter(t *testing.T) (*gin.Engine, middleware.JWTConfig) {
	t.Helper()
	jwtCfg := middleware.JWTConfig{
		SigningKey: []byte("0123456789abcdef0123456789abcdef"),
		Issuer:     "steward-test",
		ExpiresIn:  time.Hour,
	}
	cfg := &config.Config{}
	server := handlers.NewServer(handlers.ServerDeps{JWTCfg: jwtCfg})
	return newRouter(cfg, server, jwtCfg), jwtCfg
}

func TestNewRouter_HealthIsPublic(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("GET /healthz = %d, want 200", w.Code)
	}
}

func TestNewRouter_APIRequiresToken(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/services", nil))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("GET /api/v1/services without token = %d, want 401", w.Code)
	}
}

func TestNewRouter_LoginIsPublic(t *testing.T) {
	router, _ := newTestRouter(t)

	// An empty body fails request binding, not authentication, which
	// proves the route is reachable without a token.
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("POST /api/v1/auth/login without body = %d, want 400", w.Code)
	}
}

func TestNewRouter_AdminRequiresSystemAdmin(t *testing.T) {
	router, jwtCfg := newTestRouter(t)

	token, _, err := middleware.GenerateToken(jwtCfg, &domain.User{
		ID:       "u-1",
		Username: "jordan",
		TeamIDs:  []string{"team-payments"},
	})
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/users", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("GET /api/v1/admin/users as non-admin = %d, want 403", w.Code)
	}
}
