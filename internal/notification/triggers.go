package notification

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"svc-steward.io/steward/internal/domain"
	"svc-steward.io/steward/internal/pkg/logger"
)

// Directory resolves notification recipients from the user store.
type Directory interface {
	ListSystemAdminIDs(ctx context.Context) ([]string, error)
	ListIDsByTeam(ctx context.Context, teamID string) ([]string, error)
}

// Triggers encapsulates notification fan-out for approval and sharing
// lifecycle events. Three trigger points:
//  1. request submitted: notify everyone who can decide a gate
//  2. request resolved: notify the requester with the outcome
//  3. share granted/revoked: notify the grantee(s)
type Triggers struct {
	sender    Sender
	directory Directory
}

// NewTriggers creates a new notification trigger service.
func NewTriggers(sender Sender, directory Directory) *Triggers {
	return &Triggers{sender: sender, directory: directory}
}

// OnRequestSubmitted fires when an ownership request enters PENDING.
// Notifies every system administrator plus the requester's snapshotted
// line manager when that gate exists.
func (t *Triggers) OnRequestSubmitted(ctx context.Context, req *domain.ApprovalRequest, serviceName string) {
	recipients, err := t.directory.ListSystemAdminIDs(ctx)
	if err != nil {
		logger.Error("failed to find approvers for notification",
			zap.String("request_id", req.ID),
			zap.Error(err),
		)
		return
	}
	if req.HasGate(domain.GateLineManager) && req.Snapshot.ManagerID != "" {
		recipients = appendUnique(recipients, req.Snapshot.ManagerID)
	}
	// The requester does not review their own request.
	recipients = remove(recipients, req.RequesterID)

	if len(recipients) == 0 {
		logger.Warn("no approvers found for notification", zap.String("request_id", req.ID))
		return
	}

	params := Params{
		Type:         domain.NotifyApprovalRequested,
		Title:        "Ownership request pending approval",
		Message:      fmt.Sprintf("User %s requested ownership of service %s for team %s", req.RequesterID, serviceName, req.TargetTeamID),
		ResourceType: "approval_request",
		ResourceID:   req.ID,
	}

	if err := t.sender.SendToMany(ctx, recipients, params); err != nil {
		logger.Error("failed to send approval-requested notifications",
			zap.String("request_id", req.ID),
			zap.Int("approver_count", len(recipients)),
			zap.Error(err),
		)
	}
}

// OnRequestApproved fires when a request reaches APPROVED, either through
// its final gate vote or through cascade resolution.
func (t *Triggers) OnRequestApproved(ctx context.Context, req *domain.ApprovalRequest, decidedBy string, cascaded bool) {
	msg := fmt.Sprintf("Your ownership request for service %s was approved by %s", req.ServiceID, decidedBy)
	if cascaded {
		msg = fmt.Sprintf("Your ownership request for service %s was approved: the service is now owned by team %s", req.ServiceID, req.TargetTeamID)
	}

	params := Params{
		RecipientID:  req.RequesterID,
		Type:         domain.NotifyApprovalApproved,
		Title:        "Ownership request approved",
		Message:      msg,
		ResourceType: "approval_request",
		ResourceID:   req.ID,
	}

	if err := t.sender.Send(ctx, params); err != nil {
		logger.Error("failed to send approval notification",
			zap.String("request_id", req.ID),
			zap.String("requester", req.RequesterID),
			zap.Error(err),
		)
	}
}

// OnRequestRejected fires when a request reaches REJECTED, through a veto
// or through cascade resolution.
func (t *Triggers) OnRequestRejected(ctx context.Context, req *domain.ApprovalRequest, decidedBy, reason string) {
	msg := fmt.Sprintf("Your ownership request for service %s was rejected by %s", req.ServiceID, decidedBy)
	if reason != "" {
		msg += fmt.Sprintf(": %s", reason)
	}

	params := Params{
		RecipientID:  req.RequesterID,
		Type:         domain.NotifyApprovalRejected,
		Title:        "Ownership request rejected",
		Message:      msg,
		ResourceType: "approval_request",
		ResourceID:   req.ID,
	}

	if err := t.sender.Send(ctx, params); err != nil {
		logger.Error("failed to send rejection notification",
			zap.String("request_id", req.ID),
			zap.String("requester", req.RequesterID),
			zap.Error(err),
		)
	}
}

// OnOwnershipTransferred fires for the winning requester once the service
// row actually carries the new owner team.
func (t *Triggers) OnOwnershipTransferred(ctx context.Context, req *domain.ApprovalRequest, serviceName string) {
	params := Params{
		RecipientID:  req.RequesterID,
		Type:         domain.NotifyOwnershipTransferred,
		Title:        fmt.Sprintf("Service %s is now owned by team %s", serviceName, req.TargetTeamID),
		Message:      fmt.Sprintf("Ownership of service %s was transferred to team %s", serviceName, req.TargetTeamID),
		ResourceType: "service",
		ResourceID:   req.ServiceID,
	}

	if err := t.sender.Send(ctx, params); err != nil {
		logger.Error("failed to send transfer notification",
			zap.String("request_id", req.ID),
			zap.String("service_id", req.ServiceID),
			zap.Error(err),
		)
	}
}

// OnServiceShared fires when a sharing grant is created. USER grants notify
// the grantee directly; TEAM grants fan out to every current member.
func (t *Triggers) OnServiceShared(ctx context.Context, share *domain.ServiceShare, serviceName string) {
	recipients, err := t.shareRecipients(ctx, share)
	if err != nil {
		logger.Error("failed to resolve share recipients",
			zap.String("share_id", share.ID),
			zap.Error(err),
		)
		return
	}
	if len(recipients) == 0 {
		return
	}

	params := Params{
		Type:         domain.NotifyServiceShared,
		Title:        fmt.Sprintf("Service %s shared with you", serviceName),
		Message:      fmt.Sprintf("User %s granted you access to service %s", share.GrantedBy, serviceName),
		ResourceType: "service",
		ResourceID:   share.ServiceID,
	}

	if err := t.sender.SendToMany(ctx, recipients, params); err != nil {
		logger.Error("failed to send share notifications",
			zap.String("share_id", share.ID),
			zap.Error(err),
		)
	}
}

// OnShareRevoked fires when a grant is removed before expiry.
func (t *Triggers) OnShareRevoked(ctx context.Context, share *domain.ServiceShare, serviceName, revokedBy string) {
	recipients, err := t.shareRecipients(ctx, share)
	if err != nil {
		logger.Error("failed to resolve share recipients",
			zap.String("share_id", share.ID),
			zap.Error(err),
		)
		return
	}
	if len(recipients) == 0 {
		return
	}

	params := Params{
		Type:         domain.NotifyShareRevoked,
		Title:        fmt.Sprintf("Access to service %s revoked", serviceName),
		Message:      fmt.Sprintf("User %s revoked your access to service %s", revokedBy, serviceName),
		ResourceType: "service",
		ResourceID:   share.ServiceID,
	}

	if err := t.sender.SendToMany(ctx, recipients, params); err != nil {
		logger.Error("failed to send revocation notifications",
			zap.String("share_id", share.ID),
			zap.Error(err),
		)
	}
}

func (t *Triggers) shareRecipients(ctx context.Context, share *domain.ServiceShare) ([]string, error) {
	switch share.GranteeType {
	case domain.GranteeUser:
		return []string{share.GranteeID}, nil
	case domain.GranteeTeam:
		return t.directory.ListIDsByTeam(ctx, share.GranteeID)
	}
	return nil, fmt.Errorf("unknown grantee type %q", share.GranteeType)
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func remove(ids []string, id string) []string {
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}
