package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"svc-steward.io/steward/internal/domain"
	apperrors "svc-steward.io/steward/internal/pkg/errors"
)

const serviceColumns = `id, name, owner_team_id, status, environments, created_by, updated_by, created_at, updated_at`

// ServiceRepo persists managed service identities.
type ServiceRepo struct {
	pool *pgxpool.Pool
}

// NewServiceRepo creates a service repository backed by pool.
func NewServiceRepo(pool *pgxpool.Pool) *ServiceRepo {
	return &ServiceRepo{pool: pool}
}

func scanService(row pgx.Row) (*domain.ApplicationService, error) {
	var svc domain.ApplicationService
	err := row.Scan(
		&svc.ID, &svc.Name, &svc.OwnerTeamID, &svc.Status, &svc.Environments,
		&svc.CreatedBy, &svc.UpdatedBy, &svc.CreatedAt, &svc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &svc, nil
}

// ownerParam normalizes an orphaned owner to SQL NULL so the conditional
// transfer predicate owner_team_id IS NULL holds for every orphaned row.
func ownerParam(svc *domain.ApplicationService) *string {
	if svc.Orphaned() {
		return nil
	}
	return svc.OwnerTeamID
}

// Create inserts a new service row.
func (r *ServiceRepo) Create(ctx context.Context, svc *domain.ApplicationService) error {
	if svc.Environments == nil {
		svc.Environments = []string{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO services (id, name, owner_team_id, status, environments, created_by, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())`,
		svc.ID, svc.Name, ownerParam(svc), svc.Status, svc.Environments, svc.CreatedBy, svc.UpdatedBy,
	)
	if err != nil {
		if isUniqueViolation(err, "services_name_key") {
			return apperrors.Conflict(apperrors.CodeServiceExists, "service name already registered").
				WithParams(map[string]interface{}{"name": svc.Name})
		}
		return fmt.Errorf("insert service: %w", err)
	}
	return nil
}

// GetByID loads one service. A missing row yields the same not-found error
// every unauthorized read path uses.
func (r *ServiceRepo) GetByID(ctx context.Context, id string) (*domain.ApplicationService, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+serviceColumns+` FROM services WHERE id = $1`, id)
	svc, err := scanService(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrServiceNotFound()
		}
		return nil, fmt.Errorf("get service: %w", err)
	}
	return svc, nil
}

// GetByName loads one service by its unique name.
func (r *ServiceRepo) GetByName(ctx context.Context, name string) (*domain.ApplicationService, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+serviceColumns+` FROM services WHERE name = $1`, name)
	svc, err := scanService(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrServiceNotFound()
		}
		return nil, fmt.Errorf("get service by name: %w", err)
	}
	return svc, nil
}

// List returns services matching the filter, newest first.
func (r *ServiceRepo) List(ctx context.Context, f domain.ServiceFilter) (*domain.ServiceList, error) {
	return r.list(ctx, f, "")
}

// ListVisible returns services matching the filter that the caller may view:
// orphaned rows, rows owned by one of the caller's teams, and rows shared to
// the caller through a live grant. System admins should use List instead.
func (r *ServiceRepo) ListVisible(ctx context.Context, caller domain.UserContext, f domain.ServiceFilter) (*domain.ServiceList, error) {
	teams := caller.TeamIDs
	if teams == nil {
		teams = []string{}
	}
	visible := `(owner_team_id IS NULL
		OR owner_team_id = ANY(%s)
		OR EXISTS (
			SELECT 1 FROM service_shares sh
			WHERE sh.service_id = services.id
			  AND ((sh.grantee_type = 'USER' AND sh.grantee_id = %s)
			    OR (sh.grantee_type = 'TEAM' AND sh.grantee_id = ANY(%s)))
			  AND (sh.expires_at IS NULL OR sh.expires_at > now())
		))`
	return r.list(ctx, f, visible, teams, caller.UserID, teams)
}

// list builds and runs the filtered query. extraCond, when non-empty, is a
// fmt template whose %s verbs are replaced with the placeholders of
// extraArgs in order.
func (r *ServiceRepo) list(ctx context.Context, f domain.ServiceFilter, extraCond string, extraArgs ...any) (*domain.ServiceList, error) {
	conds := []string{"TRUE"}
	args := []any{}

	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.OwnerTeamID != "" {
		args = append(args, f.OwnerTeamID)
		conds = append(conds, fmt.Sprintf("owner_team_id = $%d", len(args)))
	}
	if extraCond != "" {
		placeholders := make([]any, 0, len(extraArgs))
		for _, arg := range extraArgs {
			args = append(args, arg)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		conds = append(conds, fmt.Sprintf(extraCond, placeholders...))
	}
	where := strings.Join(conds, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM services WHERE `+where, args...,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("count services: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)
	query := fmt.Sprintf(
		`SELECT %s FROM services WHERE %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		serviceColumns, where, len(args)-1, len(args),
	)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	list := &domain.ServiceList{Items: []*domain.ApplicationService{}, TotalCount: total}
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		list.Items = append(list.Items, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	return list, nil
}

// Update rewrites the mutable fields of a service row.
func (r *ServiceRepo) Update(ctx context.Context, svc *domain.ApplicationService) error {
	if svc.Environments == nil {
		svc.Environments = []string{}
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE services
		SET name = $2, owner_team_id = $3, status = $4, environments = $5,
		    updated_by = $6, updated_at = now()
		WHERE id = $1`,
		svc.ID, svc.Name, ownerParam(svc), svc.Status, svc.Environments, svc.UpdatedBy,
	)
	if err != nil {
		if isUniqueViolation(err, "services_name_key") {
			return apperrors.Conflict(apperrors.CodeServiceExists, "service name already registered").
				WithParams(map[string]interface{}{"name": svc.Name})
		}
		return fmt.Errorf("update service: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrServiceNotFound()
	}
	return nil
}
