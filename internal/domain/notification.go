package domain

import "time"

// Notification types surfaced in the in-app inbox.
const (
	NotifyApprovalRequested    = "APPROVAL_REQUESTED"
	NotifyApprovalApproved     = "APPROVAL_APPROVED"
	NotifyApprovalRejected     = "APPROVAL_REJECTED"
	NotifyApprovalCancelled    = "APPROVAL_CANCELLED"
	NotifyOwnershipTransferred = "OWNERSHIP_TRANSFERRED"
	NotifyServiceShared        = "SERVICE_SHARED"
	NotifyShareRevoked         = "SHARE_REVOKED"
)

// Notification is a single inbox entry for one recipient.
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

// Read reports whether the recipient has acknowledged the entry.
func (n *Notification) Read() bool {
	return n.ReadAt != nil
}

// NotificationList is a paginated inbox page.
type NotificationList struct {
	Items  []*Notification `json:"items"`
	Total  int64           `json:"total"`
	Unread int64           `json:"unread"`
}
