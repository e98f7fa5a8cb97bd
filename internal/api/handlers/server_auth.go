package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"svc-steward.io/steward/internal/api/middleware"
	"svc-steward.io/steward/internal/domain"
	apperrors "svc-steward.io/steward/internal/pkg/errors"
	"svc-steward.io/steward/internal/pkg/logger"
)

const passwordHashCost = 12

// LoginRequest is the POST /auth/login payload.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse carries the issued bearer token.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      UserInfo  `json:"user"`
}

// UserInfo is the public projection of a user.
type UserInfo struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	DisplayName string   `json:"display_name,omitempty"`
	Email       string   `json:"email,omitempty"`
	TeamIDs     []string `json:"team_ids"`
	ManagerID   string   `json:"manager_id,omitempty"`
	SystemAdmin bool     `json:"system_admin"`
}

// Login handles POST /auth/login.
func (s *Server) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Error{Code: "INVALID_REQUEST"})
		return
	}

	user, err := s.users.GetByUsername(c.Request.Context(), req.Username)
	if err != nil {
		logger.Warn("login failed: invalid credentials")
		c.JSON(http.StatusUnauthorized, Error{Code: apperrors.CodeAuthFailed, Message: "invalid credentials"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		logger.Warn("login failed: invalid credentials")
		c.JSON(http.StatusUnauthorized, Error{Code: apperrors.CodeAuthFailed, Message: "invalid credentials"})
		return
	}

	token, expiresAt, err := middleware.GenerateToken(s.jwtCfg, user)
	if err != nil {
		logger.Error("failed to generate token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, Error{Code: "INTERNAL_ERROR"})
		return
	}

	if s.audit != nil {
		_ = s.audit.LogAction(c.Request.Context(), domain.AuditUserLogin, "user", user.ID, user.ID, nil)
	}

	c.JSON(http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      userToAPI(user),
	})
}

// GetCurrentUser handles GET /auth/me.
func (s *Server) GetCurrentUser(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}

	user, err := s.users.GetByID(c.Request.Context(), caller.UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, userToAPI(user))
}

// HashPassword hashes a password using bcrypt (used by seed command).
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordHashCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// GenerateUserID creates a new user ID.
func GenerateUserID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// ---- Converter ----

func userToAPI(u *domain.User) UserInfo {
	teams := u.TeamIDs
	if teams == nil {
		teams = []string{}
	}
	return UserInfo{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		TeamIDs:     teams,
		ManagerID:   u.ManagerID,
		SystemAdmin: u.SystemAdmin,
	}
}
