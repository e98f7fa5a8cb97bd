// Package registry manages the catalog of service identities and the
// sharing grants attached to them.
//
// Ownership is deliberately out of reach here: a service's owner team is
// assigned exclusively through the approval workflow, so neither Register
// nor Update ever writes owner_team_id for an existing row.
package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"svc-steward.io/steward/internal/domain"
	"svc-steward.io/steward/internal/governance/audit"
	"svc-steward.io/steward/internal/permission"
	apperrors "svc-steward.io/steward/internal/pkg/errors"
	"svc-steward.io/steward/internal/pkg/logger"
	"svc-steward.io/steward/internal/pkg/worker"
)

// ServiceStore is the persistence surface for service identities.
type ServiceStore interface {
	Create(ctx context.Context, svc *domain.ApplicationService) error
	GetByID(ctx context.Context, id string) (*domain.ApplicationService, error)
	GetByName(ctx context.Context, name string) (*domain.ApplicationService, error)
	List(ctx context.Context, f domain.ServiceFilter) (*domain.ServiceList, error)
	ListVisible(ctx context.Context, caller domain.UserContext, f domain.ServiceFilter) (*domain.ServiceList, error)
	Update(ctx context.Context, svc *domain.ApplicationService) error
}

// Registry implements service registration, lookup and lifecycle.
type Registry struct {
	services    ServiceStore
	perms       *permission.Evaluator
	auditLogger *audit.Logger
	events      *domain.EventDispatcher
	pools       *worker.Pools
}

// NewRegistry creates a Registry. The event dispatcher and worker pools are
// optional collaborators configured through setters.
func NewRegistry(services ServiceStore, perms *permission.Evaluator, auditLogger *audit.Logger) *Registry {
	return &Registry{
		services:    services,
		perms:       perms,
		auditLogger: auditLogger,
	}
}

// SetEventDispatcher configures domain event publication.
func (r *Registry) SetEventDispatcher(events *domain.EventDispatcher) {
	r.events = events
}

// SetWorkerPools configures async side-effect execution. Without pools,
// side effects run inline.
func (r *Registry) SetWorkerPools(pools *worker.Pools) {
	r.pools = pools
}

// RegisterInput carries the caller-supplied fields of an explicit
// registration.
type RegisterInput struct {
	Name         string
	OwnerTeamID  string
	Environments []string
}

// UpdateInput carries the mutable metadata of a service. Nil fields are
// left unchanged.
type UpdateInput struct {
	Name         *string
	Environments *[]string
}

// Register creates a service identity explicitly. Regular callers may only
// register services as orphaned or owned by one of their own teams;
// claiming another team's name would bypass the approval workflow.
func (r *Registry) Register(ctx context.Context, caller domain.UserContext, input RegisterInput) (*domain.ApplicationService, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.BadRequest(apperrors.CodeInvalidRequestField, "service name is required")
	}
	if caller.UserID == "" || caller.UserID == domain.SystemActorID {
		return nil, apperrors.Forbidden(apperrors.CodeRequesterInvalid, "caller identity required")
	}
	if input.OwnerTeamID != "" && !caller.SystemAdmin && !caller.InTeam(input.OwnerTeamID) {
		return nil, apperrors.Forbidden(apperrors.CodeServiceEditDenied,
			"services can only be registered for your own team")
	}

	svc := &domain.ApplicationService{
		ID:           newServiceID(),
		Name:         name,
		Status:       domain.ServiceStatusActive,
		Environments: input.Environments,
		CreatedBy:    caller.UserID,
		UpdatedBy:    caller.UserID,
	}
	if input.OwnerTeamID != "" {
		owner := input.OwnerTeamID
		svc.OwnerTeamID = &owner
	}

	if err := r.services.Create(ctx, svc); err != nil {
		return nil, err
	}

	_ = r.auditLogger.LogAction(ctx, domain.AuditServiceRegistered, "service", svc.ID, caller.UserID,
		map[string]interface{}{"name": svc.Name, "owner_team_id": input.OwnerTeamID})

	logger.Info("Service registered",
		zap.String("service_id", svc.ID),
		zap.String("name", svc.Name),
		zap.String("owner_team_id", input.OwnerTeamID),
	)

	r.dispatch(func(ctx context.Context) {
		r.emitService(ctx, domain.EventServiceRegistered, svc, caller.UserID)
	})
	return svc, nil
}

// EnsureRegistered resolves a service by display name, auto-provisioning an
// orphaned ACTIVE row when the name is unknown. Idempotent; called by ingest
// paths that observe service names from the outside, so there is no caller
// permission involved.
func (r *Registry) EnsureRegistered(ctx context.Context, name, observedBy string) (*domain.ApplicationService, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.BadRequest(apperrors.CodeInvalidRequestField, "service name is required")
	}
	actor := observedBy
	if actor == "" {
		actor = domain.SystemActorID
	}

	svc, err := r.services.GetByName(ctx, name)
	if err == nil {
		return svc, nil
	}
	if !apperrors.IsCode(err, apperrors.CodeServiceNotFound) {
		return nil, err
	}

	svc = &domain.ApplicationService{
		ID:        newServiceID(),
		Name:      name,
		Status:    domain.ServiceStatusActive,
		CreatedBy: actor,
		UpdatedBy: actor,
	}
	if err := r.services.Create(ctx, svc); err != nil {
		// Concurrent observer registered the same name first.
		if apperrors.IsCode(err, apperrors.CodeServiceExists) {
			return r.services.GetByName(ctx, name)
		}
		return nil, err
	}

	_ = r.auditLogger.LogAction(ctx, domain.AuditServiceRegistered, "service", svc.ID, actor,
		map[string]interface{}{"name": svc.Name, "auto_provisioned": true})

	logger.Info("Service auto-provisioned as orphaned",
		zap.String("service_id", svc.ID),
		zap.String("name", svc.Name),
	)

	r.dispatch(func(ctx context.Context) {
		r.emitService(ctx, domain.EventServiceRegistered, svc, actor)
	})
	return svc, nil
}

// Get loads one service the caller may view. A denial reads the same as a
// missing row (ADR-0009).
func (r *Registry) Get(ctx context.Context, caller domain.UserContext, id string) (*domain.ApplicationService, error) {
	svc, err := r.services.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.perms.CanView(ctx, caller, svc) {
		return nil, apperrors.ErrServiceNotFound()
	}
	return svc, nil
}

// List returns services visible to the caller. System admins see every row.
func (r *Registry) List(ctx context.Context, caller domain.UserContext, f domain.ServiceFilter) (*domain.ServiceList, error) {
	if caller.SystemAdmin {
		return r.services.List(ctx, f)
	}
	return r.services.ListVisible(ctx, caller, f)
}

// Update rewrites service metadata. Visible-but-not-editable reads as
// forbidden; invisible reads as missing.
func (r *Registry) Update(ctx context.Context, caller domain.UserContext, id string, input UpdateInput) (*domain.ApplicationService, error) {
	svc, err := r.editable(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if input.Name == nil && input.Environments == nil {
		return nil, apperrors.BadRequest(apperrors.CodeInvalidRequestField, "no fields to update")
	}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, apperrors.BadRequest(apperrors.CodeInvalidRequestField, "service name is required")
		}
		svc.Name = name
	}
	if input.Environments != nil {
		svc.Environments = *input.Environments
	}
	svc.UpdatedBy = caller.UserID

	if err := r.services.Update(ctx, svc); err != nil {
		return nil, err
	}
	_ = r.auditLogger.LogAction(ctx, domain.AuditServiceUpdated, "service", svc.ID, caller.UserID,
		map[string]interface{}{"name": svc.Name})
	return svc, nil
}

// SetStatus moves a service through its lifecycle. Archiving is recorded
// with its own audit action and domain event.
func (r *Registry) SetStatus(ctx context.Context, caller domain.UserContext, id string, status domain.ServiceStatus) (*domain.ApplicationService, error) {
	switch status {
	case domain.ServiceStatusActive, domain.ServiceStatusInactive, domain.ServiceStatusArchived:
	default:
		return nil, apperrors.BadRequest(apperrors.CodeInvalidRequestField,
			fmt.Sprintf("unknown service status %q", status))
	}

	svc, err := r.editable(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if svc.Status == status {
		return svc, nil
	}

	svc.Status = status
	svc.UpdatedBy = caller.UserID
	if err := r.services.Update(ctx, svc); err != nil {
		return nil, err
	}

	if status == domain.ServiceStatusArchived {
		_ = r.auditLogger.LogAction(ctx, domain.AuditServiceArchived, "service", svc.ID, caller.UserID, nil)
		r.dispatch(func(ctx context.Context) {
			r.emitService(ctx, domain.EventServiceArchived, svc, caller.UserID)
		})
	} else {
		_ = r.auditLogger.LogAction(ctx, domain.AuditServiceUpdated, "service", svc.ID, caller.UserID,
			map[string]interface{}{"status": string(status)})
	}

	logger.Info("Service status changed",
		zap.String("service_id", svc.ID),
		zap.String("status", string(status)),
	)
	return svc, nil
}

// editable loads a service and checks mutation rights: 404 when the caller
// may not even see it, 403 when visible but not owned.
func (r *Registry) editable(ctx context.Context, caller domain.UserContext, id string) (*domain.ApplicationService, error) {
	svc, err := r.services.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.perms.CanView(ctx, caller, svc) {
		return nil, apperrors.ErrServiceNotFound()
	}
	if !r.perms.CanEdit(caller, svc) {
		return nil, apperrors.Forbidden(apperrors.CodeServiceEditDenied, "caller may not modify this service")
	}
	return svc, nil
}

func (r *Registry) dispatch(task worker.Task) {
	if r.pools == nil {
		task(context.Background())
		return
	}
	if err := r.pools.SubmitDetached("general", task); err != nil {
		logger.Warn("side-effect dispatch failed, running inline", zap.Error(err))
		task(context.Background())
	}
}

func (r *Registry) emitService(ctx context.Context, eventType domain.EventType, svc *domain.ApplicationService, actor string) {
	if r.events == nil {
		return
	}
	owner := ""
	if svc.OwnerTeamID != nil {
		owner = *svc.OwnerTeamID
	}
	payload, err := domain.ServicePayload{
		ServiceID:   svc.ID,
		Name:        svc.Name,
		OwnerTeamID: owner,
		Status:      svc.Status,
	}.ToJSON()
	if err != nil {
		return
	}
	_ = r.events.Dispatch(ctx, &domain.DomainEvent{
		EventID:       newEventID(),
		EventType:     eventType,
		AggregateType: "service",
		AggregateID:   svc.ID,
		Payload:       payload,
		Status:        domain.EventStatusCompleted,
		CreatedBy:     actor,
	})
}

func newServiceID() string {
	return prefixedID("svc")
}

func newShareID() string {
	return prefixedID("shr")
}

func newEventID() string {
	return prefixedID("evt")
}

func prefixedID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
	}
	return fmt.Sprintf("%s-%s", prefix, id.String())
}
