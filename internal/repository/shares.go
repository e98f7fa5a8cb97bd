package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"svc-steward.io/steward/internal/domain"
	apperrors "svc-steward.io/steward/internal/pkg/errors"
)

const shareColumns = `id, resource_level, service_id, grantee_type, grantee_id, permissions, environments, granted_by, expires_at, created_at`

// ShareRepo persists sharing grants. Its ListByService method satisfies the
// permission evaluator's ShareReader.
type ShareRepo struct {
	pool *pgxpool.Pool
}

// NewShareRepo creates a share repository backed by pool.
func NewShareRepo(pool *pgxpool.Pool) *ShareRepo {
	return &ShareRepo{pool: pool}
}

func scanShare(row pgx.Row) (*domain.ServiceShare, error) {
	var s domain.ServiceShare
	err := row.Scan(
		&s.ID, &s.Level, &s.ServiceID, &s.GranteeType, &s.GranteeID,
		&s.Permissions, &s.Environments, &s.GrantedBy, &s.ExpiresAt, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func collectShares(rows pgx.Rows) ([]*domain.ServiceShare, error) {
	defer rows.Close()
	var out []*domain.ServiceShare
	for rows.Next() {
		s, err := scanShare(rows)
		if err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read shares: %w", err)
	}
	return out, nil
}

// Create inserts a new grant.
func (r *ShareRepo) Create(ctx context.Context, s *domain.ServiceShare) error {
	if s.Permissions == nil {
		s.Permissions = []domain.SharePermission{}
	}
	if s.Environments == nil {
		s.Environments = []string{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO service_shares
			(id, resource_level, service_id, grantee_type, grantee_id, permissions, environments, granted_by, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())`,
		s.ID, s.Level, s.ServiceID, s.GranteeType, s.GranteeID,
		s.Permissions, s.Environments, s.GrantedBy, s.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert share: %w", err)
	}
	return nil
}

// GetByID loads one grant.
func (r *ShareRepo) GetByID(ctx context.Context, id string) (*domain.ServiceShare, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+shareColumns+` FROM service_shares WHERE id = $1`, id)
	s, err := scanShare(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound(apperrors.CodeShareNotFound, "share not found")
		}
		return nil, fmt.Errorf("get share: %w", err)
	}
	return s, nil
}

// ListByService returns every grant on a service, including expired rows.
// Expiry is evaluated by the permission layer against its own clock.
func (r *ShareRepo) ListByService(ctx context.Context, serviceID string) ([]*domain.ServiceShare, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+shareColumns+` FROM service_shares WHERE service_id = $1 ORDER BY created_at, id`,
		serviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	return collectShares(rows)
}

// ListForGrantee returns live grants that apply to the caller directly or
// through any of the caller's teams.
func (r *ShareRepo) ListForGrantee(ctx context.Context, caller domain.UserContext) ([]*domain.ServiceShare, error) {
	teams := caller.TeamIDs
	if teams == nil {
		teams = []string{}
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+shareColumns+` FROM service_shares
		WHERE ((grantee_type = 'USER' AND grantee_id = $1)
		    OR (grantee_type = 'TEAM' AND grantee_id = ANY($2)))
		  AND (expires_at IS NULL OR expires_at > now())
		ORDER BY created_at, id`,
		caller.UserID, teams,
	)
	if err != nil {
		return nil, fmt.Errorf("list shares for grantee: %w", err)
	}
	return collectShares(rows)
}

// Delete removes a grant. Reports false when no row matched.
func (r *ShareRepo) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM service_shares WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete share: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteExpired removes grants whose expiry has passed and returns the
// removed rows so callers can emit per-share events.
func (r *ShareRepo) DeleteExpired(ctx context.Context, now time.Time) ([]*domain.ServiceShare, error) {
	rows, err := r.pool.Query(ctx, `
		DELETE FROM service_shares
		WHERE expires_at IS NOT NULL AND expires_at <= $1
		RETURNING `+shareColumns,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("delete expired shares: %w", err)
	}
	return collectShares(rows)
}
