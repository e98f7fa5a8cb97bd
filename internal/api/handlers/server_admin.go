package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"svc-steward.io/steward/internal/domain"
)

// UserListResponse is one page of the user directory.
type UserListResponse struct {
	Items      []*domain.User `json:"items"`
	Pagination Pagination     `json:"pagination"`
}

// ListAuditLogs handles GET /admin/audit-logs. The trail is keyed by
// resource, so both coordinates are mandatory.
func (s *Server) ListAuditLogs(c *gin.Context) {
	resourceType := c.Query("resource_type")
	resourceID := c.Query("resource_id")
	if resourceType == "" || resourceID == "" {
		c.JSON(http.StatusBadRequest, Error{
			Code:    "INVALID_REQUEST",
			Message: "resource_type and resource_id are required",
		})
		return
	}

	page, perPage := pageParams(c)
	list, err := s.audit.Trail(c.Request.Context(), resourceType, resourceID, perPage, (page-1)*perPage)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, list)
}

// ListUsers handles GET /admin/users.
func (s *Server) ListUsers(c *gin.Context) {
	page, perPage := pageParams(c)
	list, err := s.users.List(c.Request.Context(), perPage, (page-1)*perPage)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, UserListResponse{
		Items:      list.Items,
		Pagination: newPagination(page, perPage, list.TotalCount),
	})
}
