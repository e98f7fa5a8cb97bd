package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"svc-steward.io/steward/internal/domain"
)

// NotificationStore is the inbox access the handlers need, implemented by
// repository.NotificationRepo.
type NotificationStore interface {
	List(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) (*domain.NotificationList, error)
	MarkRead(ctx context.Context, id, recipientID string) (bool, error)
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
}

// UnreadCountResponse is the GET /notifications/unread-count body.
type UnreadCountResponse struct {
	Unread int64 `json:"unread"`
}

// ListNotifications handles GET /notifications. The inbox is strictly the
// caller's own; there is no cross-user access, admin included.
func (s *Server) ListNotifications(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}

	page, perPage := pageParams(c)
	list, err := s.notifications.List(c.Request.Context(), caller.UserID,
		queryBool(c, "unread_only"), perPage, (page-1)*perPage)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, list)
}

// GetUnreadCount handles GET /notifications/unread-count, a cheap poll
// target for inbox badges.
func (s *Server) GetUnreadCount(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}

	list, err := s.notifications.List(c.Request.Context(), caller.UserID, true, 1, 0)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, UnreadCountResponse{Unread: list.Unread})
}

// MarkNotificationRead handles POST /notifications/:notification_id/read.
// Another user's notification reads as absent, not forbidden.
func (s *Server) MarkNotificationRead(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}

	marked, err := s.notifications.MarkRead(c.Request.Context(), c.Param("notification_id"), caller.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !marked {
		c.JSON(http.StatusNotFound, Error{Code: "NOTIFICATION_NOT_FOUND", Message: "notification not found"})
		return
	}

	c.Status(http.StatusNoContent)
}

// MarkAllNotificationsRead handles POST /notifications/read-all.
func (s *Server) MarkAllNotificationsRead(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}

	if _, err := s.notifications.MarkAllRead(c.Request.Context(), caller.UserID); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
