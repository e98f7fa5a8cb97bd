// Package notification implements the in-app notification system.
//
// Notifications are best-effort side effects of business operations
// (ADR-0006): delivery failures are logged, never propagated into the
// operation that triggered them.
package notification

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"svc-steward.io/steward/internal/domain"
	"svc-steward.io/steward/internal/pkg/logger"
)

// Params holds the required fields for creating a notification.
type Params struct {
	RecipientID  string // User id of the recipient
	Type         string // One of the domain.Notify* constants
	Title        string // Human-readable title
	Message      string // Body text
	ResourceType string // e.g. "approval_request", "service"
	ResourceID   string // Id of the related resource for navigation
}

// Sender defines the interface for delivering notifications.
// Currently only InboxSender exists; push channels (email, webhook) would
// implement the same interface.
type Sender interface {
	// Send creates a notification for a single recipient.
	Send(ctx context.Context, params Params) error

	// SendToMany creates notifications for multiple recipients.
	// Best-effort: logs errors but does not abort on individual failures.
	SendToMany(ctx context.Context, recipientIDs []string, params Params) error
}

// Store is the persistence surface the inbox sender writes through.
type Store interface {
	Insert(ctx context.Context, n *domain.Notification) error
}

// InboxSender writes notifications to the database inbox synchronously
// within the caller's context.
type InboxSender struct {
	store Store
}

// NewInboxSender creates a new inbox sender.
func NewInboxSender(store Store) *InboxSender {
	return &InboxSender{store: store}
}

// Send stores a single notification to the database.
func (s *InboxSender) Send(ctx context.Context, params Params) error {
	if err := validateParams(params); err != nil {
		return fmt.Errorf("notification params invalid: %w", err)
	}

	n := &domain.Notification{
		ID:          uuid.NewString(),
		RecipientID: params.RecipientID,
		Type:        params.Type,
		Title:       params.Title,
		Body:        params.Message,
	}
	if params.ResourceType != "" || params.ResourceID != "" {
		n.Metadata = map[string]string{
			"resource_type": params.ResourceType,
			"resource_id":   params.ResourceID,
		}
	}

	if err := s.store.Insert(ctx, n); err != nil {
		return fmt.Errorf("create notification for user %s: %w", params.RecipientID, err)
	}

	logger.Debug("notification sent",
		zap.String("recipient", params.RecipientID),
		zap.String("type", params.Type),
		zap.String("title", params.Title),
	)

	return nil
}

// SendToMany creates notifications for multiple recipients (best-effort).
// Failures are logged but do not prevent delivery to other recipients.
func (s *InboxSender) SendToMany(ctx context.Context, recipientIDs []string, params Params) error {
	if len(recipientIDs) == 0 {
		return nil
	}

	var failCount int
	for _, recipientID := range recipientIDs {
		p := params
		p.RecipientID = recipientID
		if err := s.Send(ctx, p); err != nil {
			failCount++
			logger.Error("notification delivery failed",
				zap.String("recipient", recipientID),
				zap.String("type", params.Type),
				zap.Error(err),
			)
		}
	}

	if failCount > 0 {
		return fmt.Errorf("notification delivery failed for %d/%d recipients", failCount, len(recipientIDs))
	}
	return nil
}

// compile-time check
var _ Sender = (*InboxSender)(nil)

func validateParams(p Params) error {
	if p.RecipientID == "" {
		return fmt.Errorf("recipient_id is required")
	}
	if p.Title == "" {
		return fmt.Errorf("title is required")
	}
	if p.Message == "" {
		return fmt.Errorf("message is required")
	}
	return nil
}
