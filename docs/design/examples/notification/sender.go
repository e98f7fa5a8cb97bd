//go:build ignore

// Package notification sketches the inbox notification model.
//
// Purpose: notification data model and decoupled sender interface
// V1 Strategy: platform-internal inbox only, no external push channels
//
// Delivery is a best-effort side effect (ADR-0006): triggers run on the
// general worker pool, failures are logged and never propagated into
// the business operation that raised them.

package notification

import (
	"context"
	"time"
)

// Notification types surfaced in the in-app inbox.
const (
	NotifyApprovalRequested    = "APPROVAL_REQUESTED"
	NotifyApprovalApproved     = "APPROVAL_APPROVED"
	NotifyApprovalRejected     = "APPROVAL_REJECTED"
	NotifyOwnershipTransferred = "OWNERSHIP_TRANSFERRED"
	NotifyServiceShared        = "SERVICE_SHARED"
	NotifyShareRevoked         = "SHARE_REVOKED"
)

// Notification is a single inbox entry for one recipient. Read state is
// the presence of ReadAt; there is no separate boolean to drift.
type Notification struct {
	ID          string            `json:"id"`
	RecipientID string            `json:"recipient_id"`
	Type        string            `json:"type"`
	Title       string            `json:"title"`
	Body        string            `json:"body,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ReadAt      *time.Time        `json:"read_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Params is what callers describe; the sender owns id assignment and
// metadata shaping.
type Params struct {
	RecipientID  string
	Type         string
	Title        string
	Message      string
	ResourceType string // "approval_request", "service", "service_share"
	ResourceID   string // id of the related resource for navigation
}

// Sender is the delivery contract. V1 ships InboxSender only; a push
// channel (email, webhook) would implement the same interface and be
// fanned out to alongside the inbox.
type Sender interface {
	Send(ctx context.Context, params Params) error

	// SendToMany is best-effort per recipient: an insert failure for
	// one recipient is logged and does not abort the rest.
	SendToMany(ctx context.Context, recipientIDs []string, params Params) error
}

// Directory resolves recipient sets for fan-out. Implemented by the
// user repository.
type Directory interface {
	// ListSystemAdminIDs feeds the system-administrator approval gate.
	ListSystemAdminIDs(ctx context.Context) ([]string, error)

	// ListIDsByTeam feeds team-facing announcements (ownership granted,
	// service shared with the team).
	ListIDsByTeam(ctx context.Context, teamID string) ([]string, error)
}

// Triggers is the seam between business operations and the inbox: one
// method per notifiable moment, each resolving recipients through the
// Directory and writing through the Sender. The approval engine and the
// share service call these from pool-submitted tasks, so a slow insert
// delays nobody's HTTP response.
//
//	OnRequestSubmitted    → every system admin + the snapshot manager
//	OnRequestApproved     → requester
//	OnRequestRejected     → requester
//	OnOwnershipTransferred→ requester (team-facing record)
//	OnServiceShared       → grantee (user) or grantee team members
//	OnShareRevoked        → grantee (user) or grantee team members
type Triggers struct {
	sender    Sender
	directory Directory
}
