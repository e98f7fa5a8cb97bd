package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"svc-steward.io/steward/internal/domain"
	"svc-steward.io/steward/internal/registry"
)

// GrantShareRequest is the POST /services/:service_id/shares payload.
type GrantShareRequest struct {
	GranteeType  string     `json:"grantee_type" binding:"required"`
	GranteeID    string     `json:"grantee_id" binding:"required"`
	Permissions  []string   `json:"permissions" binding:"required"`
	Environments []string   `json:"environments"`
	ExpiresAt    *time.Time `json:"expires_at"`
}

// ShareListResponse wraps the shares of one service or one caller.
type ShareListResponse struct {
	Items []*domain.ServiceShare `json:"items"`
}

// GrantShare handles POST /services/:service_id/shares.
func (s *Server) GrantShare(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}

	var req GrantShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Error{Code: "INVALID_REQUEST"})
		return
	}

	perms := make([]domain.SharePermission, 0, len(req.Permissions))
	for _, p := range req.Permissions {
		perms = append(perms, domain.SharePermission(p))
	}

	share, err := s.shares.Grant(c.Request.Context(), caller, c.Param("service_id"), registry.GrantInput{
		GranteeType:  domain.GranteeType(req.GranteeType),
		GranteeID:    req.GranteeID,
		Permissions:  perms,
		Environments: req.Environments,
		ExpiresAt:    req.ExpiresAt,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, share)
}

// ListShares handles GET /services/:service_id/shares.
func (s *Server) ListShares(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}

	shares, err := s.shares.ListForService(c.Request.Context(), caller, c.Param("service_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, ShareListResponse{Items: shares})
}

// RevokeShare handles DELETE /services/:service_id/shares/:share_id.
func (s *Server) RevokeShare(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}

	err := s.shares.Revoke(c.Request.Context(), caller, c.Param("service_id"), c.Param("share_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ListMyShares handles GET /me/shares: every live grant whose grantee is
// the caller or one of the caller's teams.
func (s *Server) ListMyShares(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}

	shares, err := s.shares.MyShares(c.Request.Context(), caller)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, ShareListResponse{Items: shares})
}
