package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"svc-steward.io/steward/internal/domain"
	"svc-steward.io/steward/internal/registry"
)

// CreateServiceRequest is the POST /services payload.
type CreateServiceRequest struct {
	Name         string   `json:"name" binding:"required"`
	OwnerTeamID  string   `json:"owner_team_id"`
	Environments []string `json:"environments"`
}

// UpdateServiceRequest is the PATCH /services/:service_id payload.
// Absent fields are left untouched.
type UpdateServiceRequest struct {
	Name         *string   `json:"name"`
	Environments *[]string `json:"environments"`
}

// SetServiceStatusRequest is the PUT /services/:service_id/status payload.
type SetServiceStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// ServiceListResponse is one page of services.
type ServiceListResponse struct {
	Items      []*domain.ApplicationService `json:"items"`
	Pagination Pagination                   `json:"pagination"`
}

// CreateService handles POST /services.
func (s *Server) CreateService(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}

	var req CreateServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Error{Code: "INVALID_REQUEST"})
		return
	}

	svc, err := s.registry.Register(c.Request.Context(), caller, registry.RegisterInput{
		Name:         req.Name,
		OwnerTeamID:  req.OwnerTeamID,
		Environments: req.Environments,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, svc)
}

// ListServices handles GET /services.
func (s *Server) ListServices(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}

	page, perPage := pageParams(c)
	list, err := s.registry.List(c.Request.Context(), caller, domain.ServiceFilter{
		Status:      domain.ServiceStatus(c.Query("status")),
		OwnerTeamID: c.Query("owner_team_id"),
		Limit:       perPage,
		Offset:      (page - 1) * perPage,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, ServiceListResponse{
		Items:      list.Items,
		Pagination: newPagination(page, perPage, list.TotalCount),
	})
}

// GetService handles GET /services/:service_id.
func (s *Server) GetService(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}

	svc, err := s.registry.Get(c.Request.Context(), caller, c.Param("service_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, svc)
}

// UpdateService handles PATCH /services/:service_id.
func (s *Server) UpdateService(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}

	var req UpdateServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Error{Code: "INVALID_REQUEST"})
		return
	}

	svc, err := s.registry.Update(c.Request.Context(), caller, c.Param("service_id"), registry.UpdateInput{
		Name:         req.Name,
		Environments: req.Environments,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, svc)
}

// SetServiceStatus handles PUT /services/:service_id/status.
func (s *Server) SetServiceStatus(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}

	var req SetServiceStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Error{Code: "INVALID_REQUEST"})
		return
	}

	svc, err := s.registry.SetStatus(c.Request.Context(), caller, c.Param("service_id"),
		domain.ServiceStatus(req.Status))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, svc)
}

// GetServicePermissions handles GET /services/:service_id/permissions.
// Optional repeated `environment` query parameters scope the share-grant
// lookup to specific environments.
func (s *Server) GetServicePermissions(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}

	view, err := s.shares.Permissions(c.Request.Context(), caller, c.Param("service_id"),
		c.QueryArray("environment"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}
