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

const requestColumns = `id, request_type, requester_id, service_id, target_team_id, gates, status, requester_snapshot, reason, version, created_at, updated_at`

const decisionColumns = `id, request_id, approver_id, gate, verdict, note, created_at`

// ApprovalRepo persists approval requests and their gate decisions.
//
// Status transitions go through conditional updates guarded by the version
// column (ADR-0002): the row is only written when it still carries the
// version the caller read, so concurrent resolution paths cannot both win.
type ApprovalRepo struct {
	pool *pgxpool.Pool
}

// NewApprovalRepo creates an approval repository backed by pool.
func NewApprovalRepo(pool *pgxpool.Pool) *ApprovalRepo {
	return &ApprovalRepo{pool: pool}
}

func scanRequest(row pgx.Row) (*domain.ApprovalRequest, error) {
	var req domain.ApprovalRequest
	err := row.Scan(
		&req.ID, &req.Type, &req.RequesterID, &req.ServiceID, &req.TargetTeamID,
		&req.Gates, &req.Status, &req.Snapshot, &req.Reason, &req.Version,
		&req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func scanDecision(row pgx.Row) (*domain.Decision, error) {
	var d domain.Decision
	err := row.Scan(&d.ID, &d.RequestID, &d.ApproverID, &d.Gate, &d.Verdict, &d.Note, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Create inserts a new pending request. The partial unique index rejects a
// second live request by the same requester for the same service.
func (r *ApprovalRepo) Create(ctx context.Context, req *domain.ApprovalRequest) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO approval_requests
			(id, request_type, requester_id, service_id, target_team_id, gates, status, requester_snapshot, reason, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())`,
		req.ID, req.Type, req.RequesterID, req.ServiceID, req.TargetTeamID,
		req.Gates, req.Status, req.Snapshot, req.Reason, req.Version,
	)
	if err != nil {
		if isUniqueViolation(err, "approval_requests_pending_key") {
			return apperrors.Conflict(apperrors.CodeDuplicateRequest,
				"a pending request for this service already exists").
				WithParams(map[string]interface{}{"service_id": req.ServiceID})
		}
		return fmt.Errorf("insert approval request: %w", err)
	}
	return nil
}

// GetByID loads one request.
func (r *ApprovalRepo) GetByID(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM approval_requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrRequestNotFound()
		}
		return nil, fmt.Errorf("get approval request: %w", err)
	}
	return req, nil
}

// List returns requests matching the filter.
func (r *ApprovalRepo) List(ctx context.Context, f domain.RequestFilter) (*domain.ApprovalRequestList, error) {
	conds := []string{"TRUE"}
	args := []any{}

	if f.ServiceID != "" {
		args = append(args, f.ServiceID)
		conds = append(conds, fmt.Sprintf("service_id = $%d", len(args)))
	}
	if f.RequesterID != "" {
		args = append(args, f.RequesterID)
		conds = append(conds, fmt.Sprintf("requester_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	where := strings.Join(conds, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM approval_requests WHERE `+where, args...,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("count approval requests: %w", err)
	}

	order := "created_at DESC, id"
	if f.OldestFirst {
		order = "created_at, id"
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)
	query := fmt.Sprintf(
		`SELECT %s FROM approval_requests WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		requestColumns, where, order, len(args)-1, len(args),
	)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list approval requests: %w", err)
	}
	defer rows.Close()

	list := &domain.ApprovalRequestList{Items: []*domain.ApprovalRequest{}, TotalCount: total}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval request: %w", err)
		}
		list.Items = append(list.Items, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list approval requests: %w", err)
	}
	return list, nil
}

// InsertDecision records one gate vote. The unique index keeps each
// approver to a single verdict per gate.
func (r *ApprovalRepo) InsertDecision(ctx context.Context, d *domain.Decision) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO approval_decisions (id, request_id, approver_id, gate, verdict, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())`,
		d.ID, d.RequestID, d.ApproverID, d.Gate, d.Verdict, d.Note,
	)
	if err != nil {
		if isUniqueViolation(err, "approval_decisions_one_vote_key") {
			return apperrors.Conflict(apperrors.CodeAlreadyDecided,
				"approver has already decided on this gate").
				WithParams(map[string]interface{}{"gate": string(d.Gate)})
		}
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// ListDecisions returns all recorded votes for a request, oldest first.
func (r *ApprovalRepo) ListDecisions(ctx context.Context, requestID string) ([]*domain.Decision, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+decisionColumns+` FROM approval_decisions WHERE request_id = $1 ORDER BY created_at, id`,
		requestID,
	)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	return out, nil
}

const conditionalTransition = `
	UPDATE approval_requests
	SET status = $2, reason = $3, version = version + 1, updated_at = now()
	WHERE id = $1 AND version = $4 AND status = 'PENDING'`

// UpdateStatus performs a version-guarded transition out of PENDING.
// It reports false when the row was not in the expected state, which means
// another resolution path got there first.
func (r *ApprovalRepo) UpdateStatus(ctx context.Context, id string, expectedVersion int64, status domain.RequestStatus, reason string) (bool, error) {
	tag, err := r.pool.Exec(ctx, conditionalTransition, id, status, reason, expectedVersion)
	if err != nil {
		return false, fmt.Errorf("update request status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ApproveAndTransfer atomically marks the request APPROVED and assigns the
// service's owner team, both conditionally. Exactly one caller can succeed
// per service: the request write is version-guarded and the service write
// requires the row to still be orphaned.
//
// Returns CodeRequestNotPending when the request row lost its race and
// CodeServiceOwned when another approved request claimed the service first.
func (r *ApprovalRepo) ApproveAndTransfer(ctx context.Context, requestID string, expectedVersion int64, serviceID, targetTeamID, actorID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transfer tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, conditionalTransition,
		requestID, domain.RequestStatusApproved, "", expectedVersion)
	if err != nil {
		return fmt.Errorf("approve request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.Conflict(apperrors.CodeRequestNotPending,
			"request is not pending or was modified concurrently")
	}

	tag, err = tx.Exec(ctx, `
		UPDATE services
		SET owner_team_id = $2, updated_by = $3, updated_at = now()
		WHERE id = $1 AND owner_team_id IS NULL`,
		serviceID, targetTeamID, actorID,
	)
	if err != nil {
		return fmt.Errorf("assign service owner: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.Conflict(apperrors.CodeServiceOwned,
			"service ownership already assigned").
			WithParams(map[string]interface{}{"service_id": serviceID})
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transfer tx: %w", err)
	}
	return nil
}

// ResolveWithDecisions performs a version-guarded transition and records the
// accompanying decisions in the same transaction. Cascade resolution uses it
// so a resolved sibling always carries its synthetic votes. Reports false
// without error when the request was no longer in the expected state.
func (r *ApprovalRepo) ResolveWithDecisions(ctx context.Context, id string, expectedVersion int64, status domain.RequestStatus, reason string, decisions []*domain.Decision) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin resolve tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, conditionalTransition, id, status, reason, expectedVersion)
	if err != nil {
		return false, fmt.Errorf("resolve request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	for _, d := range decisions {
		if _, err := tx.Exec(ctx, `
			INSERT INTO approval_decisions (id, request_id, approver_id, gate, verdict, note, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, now())
			ON CONFLICT (request_id, approver_id, gate) DO NOTHING`,
			d.ID, d.RequestID, d.ApproverID, d.Gate, d.Verdict, d.Note,
		); err != nil {
			return false, fmt.Errorf("insert cascade decision: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit resolve tx: %w", err)
	}
	return true, nil
}
