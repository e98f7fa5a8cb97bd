package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"svc-steward.io/steward/internal/domain"
)

const auditColumns = `id, actor_id, action, resource_type, resource_id, detail, created_at`

// AuditRepo persists the append-only audit trail.
type AuditRepo struct {
	pool *pgxpool.Pool
}

// NewAuditRepo creates an audit repository backed by pool.
func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// Insert appends one audit entry.
func (r *AuditRepo) Insert(ctx context.Context, e *domain.AuditEntry) error {
	detail := e.Detail
	if detail == nil {
		detail = map[string]interface{}{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_logs (id, actor_id, action, resource_type, resource_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())`,
		e.ID, e.ActorID, e.Action, e.ResourceType, e.ResourceID, detail,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListByResource returns the trail for one resource, newest first.
func (r *AuditRepo) ListByResource(ctx context.Context, resourceType, resourceID string, limit, offset int) (*domain.AuditList, error) {
	list := &domain.AuditList{Items: []*domain.AuditEntry{}}

	if err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM audit_logs WHERE resource_type = $1 AND resource_id = $2`,
		resourceType, resourceID,
	).Scan(&list.Total); err != nil {
		return nil, fmt.Errorf("count audit entries: %w", err)
	}

	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+auditColumns+` FROM audit_logs
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4`,
		resourceType, resourceID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(
			&e.ID, &e.ActorID, &e.Action, &e.ResourceType, &e.ResourceID,
			&e.Detail, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		list.Items = append(list.Items, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return list, nil
}
