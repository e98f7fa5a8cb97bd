package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"svc-steward.io/steward/internal/domain"
)

func adminProbe() *gin.Engine {
	router := gin.New()
	router.GET("/admin/ping", RequireSystemAdmin(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return router
}

func adminRequest(caller domain.UserContext) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
	if caller.UserID != "" {
		req = req.WithContext(SetUserContext(req.Context(), caller, "someone"))
	}
	return req
}

func TestRequireSystemAdmin(t *testing.T) {
	tests := []struct {
		name   string
		caller domain.UserContext
		want   int
	}{
		{"unauthenticated", domain.UserContext{}, http.StatusUnauthorized},
		{"regular user", domain.UserContext{UserID: "u-1", TeamIDs: []string{"team-a"}}, http.StatusForbidden},
		{"admin", domain.UserContext{UserID: "admin-1", SystemAdmin: true}, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			adminProbe().ServeHTTP(w, adminRequest(tt.caller))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
