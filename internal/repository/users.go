package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"svc-steward.io/steward/internal/domain"
	apperrors "svc-steward.io/steward/internal/pkg/errors"
)

const userColumns = `id, username, password_hash, display_name, email, team_ids, manager_id, system_admin, created_at, updated_at`

// UserRepo persists principals for authentication and seeding.
type UserRepo struct {
	pool *pgxpool.Pool
}

// NewUserRepo creates a user repository backed by pool.
func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID, &u.Username, &u.PasswordHash, &u.DisplayName, &u.Email,
		&u.TeamIDs, &u.ManagerID, &u.SystemAdmin, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user.
func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	if u.TeamIDs == nil {
		u.TeamIDs = []string{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, username, password_hash, display_name, email, team_ids, manager_id, system_admin, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())`,
		u.ID, u.Username, u.PasswordHash, u.DisplayName, u.Email,
		u.TeamIDs, u.ManagerID, u.SystemAdmin,
	)
	if err != nil {
		if isUniqueViolation(err, "users_username_key") {
			return apperrors.Conflict(apperrors.CodeUserExists, "username already taken").
				WithParams(map[string]interface{}{"username": u.Username})
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetByID loads one user.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound(apperrors.CodeUserNotFound, "user not found")
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetByUsername loads one user by login name.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound(apperrors.CodeUserNotFound, "user not found")
		}
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return u, nil
}

// ListSystemAdminIDs returns the ids of every user holding the
// system-administrator flag. Notification fan-out uses it to find who can
// decide administrator gates.
func (r *UserRepo) ListSystemAdminIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM users WHERE system_admin ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list system admins: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan admin id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list system admins: %w", err)
	}
	return ids, nil
}

// ListIDsByTeam returns the ids of every member of a team.
func (r *UserRepo) ListIDsByTeam(ctx context.Context, teamID string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM users WHERE team_ids @> jsonb_build_array($1::text) ORDER BY id`,
		teamID,
	)
	if err != nil {
		return nil, fmt.Errorf("list team members: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list team members: %w", err)
	}
	return ids, nil
}

// List returns one page of users ordered by username, with the total count.
func (r *UserRepo) List(ctx context.Context, limit, offset int) (*domain.UserList, error) {
	list := &domain.UserList{Items: []*domain.User{}}

	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&list.TotalCount); err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY username LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		list.Items = append(list.Items, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return list, nil
}

// Update rewrites a user's mutable fields.
func (r *UserRepo) Update(ctx context.Context, u *domain.User) error {
	if u.TeamIDs == nil {
		u.TeamIDs = []string{}
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE users
		SET display_name = $2, email = $3, team_ids = $4, manager_id = $5,
		    system_admin = $6, updated_at = now()
		WHERE id = $1`,
		u.ID, u.DisplayName, u.Email, u.TeamIDs, u.ManagerID, u.SystemAdmin,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound(apperrors.CodeUserNotFound, "user not found")
	}
	return nil
}
