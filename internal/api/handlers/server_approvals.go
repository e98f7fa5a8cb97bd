package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"svc-steward.io/steward/internal/domain"
)

// CreateApprovalRequestRequest is the POST /approval-requests payload.
type CreateApprovalRequestRequest struct {
	ServiceID    string `json:"service_id" binding:"required"`
	TargetTeamID string `json:"target_team_id" binding:"required"`
}

// SubmitDecisionRequest is the POST /approval-requests/:request_id/decisions
// payload.
type SubmitDecisionRequest struct {
	Gate    string `json:"gate" binding:"required"`
	Verdict string `json:"verdict" binding:"required"`
	Note    string `json:"note"`
}

// ApprovalRequestDetail pairs a request with its recorded decisions.
type ApprovalRequestDetail struct {
	Request   *domain.ApprovalRequest `json:"request"`
	Decisions []*domain.Decision      `json:"decisions"`
}

// ApprovalRequestListResponse is one page of approval requests.
type ApprovalRequestListResponse struct {
	Items      []*domain.ApprovalRequest `json:"items"`
	Pagination Pagination                `json:"pagination"`
}

// CreateApprovalRequest handles POST /approval-requests.
func (s *Server) CreateApprovalRequest(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}

	var req CreateApprovalRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Error{Code: "INVALID_REQUEST"})
		return
	}

	created, err := s.approvals.CreateRequest(c.Request.Context(), caller, req.ServiceID, req.TargetTeamID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, created)
}

// ListApprovalRequests handles GET /approval-requests.
func (s *Server) ListApprovalRequests(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}

	page, perPage := pageParams(c)
	list, err := s.approvals.ListRequests(c.Request.Context(), caller, domain.RequestFilter{
		ServiceID:   c.Query("service_id"),
		RequesterID: c.Query("requester_id"),
		Status:      domain.RequestStatus(c.Query("status")),
		OldestFirst: queryBool(c, "oldest_first"),
		Limit:       perPage,
		Offset:      (page - 1) * perPage,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, ApprovalRequestListResponse{
		Items:      list.Items,
		Pagination: newPagination(page, perPage, list.TotalCount),
	})
}

// GetApprovalRequest handles GET /approval-requests/:request_id.
func (s *Server) GetApprovalRequest(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}

	req, decisions, err := s.approvals.GetRequest(c.Request.Context(), caller, c.Param("request_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, ApprovalRequestDetail{Request: req, Decisions: decisions})
}

// SubmitDecision handles POST /approval-requests/:request_id/decisions.
// The response is the request after the decision (and any cascade it
// triggered) has been applied.
func (s *Server) SubmitDecision(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}

	var req SubmitDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Error{Code: "INVALID_REQUEST"})
		return
	}

	updated, err := s.approvals.SubmitDecision(c.Request.Context(), caller, c.Param("request_id"),
		domain.GateKind(req.Gate), domain.Verdict(req.Verdict), req.Note)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, updated)
}

// CancelApprovalRequest handles POST /approval-requests/:request_id/cancel.
func (s *Server) CancelApprovalRequest(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}

	updated, err := s.approvals.CancelRequest(c.Request.Context(), caller, c.Param("request_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, updated)
}
