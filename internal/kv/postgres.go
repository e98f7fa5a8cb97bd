package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "svc-steward.io/steward/internal/pkg/errors"
)

// PostgresStore implements Store on PostgreSQL. Modify indexes come from a
// store-wide sequence, so every write gets a strictly higher index than any
// write before it.
//
// Every read is consistent against the primary; the consistent flag exists
// for the orchestration layer's cache bypass and is not interpreted here.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore on the given pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting single-op
// and transactional paths share the same SQL.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Get reads a single key.
func (s *PostgresStore) Get(ctx context.Context, key string, consistent bool) (*Entry, error) {
	var e Entry
	var index int64
	err := s.pool.QueryRow(ctx,
		`SELECT key, value, kind, modify_index, updated_at
		 FROM kv_entries WHERE key = $1`, key,
	).Scan(&e.Key, &e.Value, &e.Kind, &index, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrKeyNotFound().WithParams(map[string]interface{}{"key": key})
	}
	if err != nil {
		return nil, fmt.Errorf("kv get %q: %w", key, err)
	}
	e.ModifyIndex = uint64(index)
	return &e, nil
}

// List returns entries under prefix in key order.
func (s *PostgresStore) List(ctx context.Context, prefix string, recurse bool) ([]*Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, value, kind, modify_index, updated_at
		 FROM kv_entries WHERE starts_with(key, $1) ORDER BY key`, prefix)
	if err != nil {
		return nil, fmt.Errorf("kv list %q: %w", prefix, err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var e Entry
		var index int64
		if err := rows.Scan(&e.Key, &e.Value, &e.Kind, &index, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("kv list scan: %w", err)
		}
		if !recurse && !immediateChild(prefix, e.Key) {
			continue
		}
		e.ModifyIndex = uint64(index)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("kv list rows: %w", err)
	}
	return out, nil
}

// Keys returns key names under prefix, optionally rolled up by separator.
func (s *PostgresStore) Keys(ctx context.Context, prefix, separator string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key FROM kv_entries WHERE starts_with(key, $1) ORDER BY key`, prefix)
	if err != nil {
		return nil, fmt.Errorf("kv keys %q: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("kv keys scan: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("kv keys rows: %w", err)
	}
	return rollupKeys(keys, prefix, separator), nil
}

// Put writes a key, CAS-guarded when cas is non-nil.
func (s *PostgresStore) Put(ctx context.Context, key string, value []byte, kind EntryKind, cas *uint64) (uint64, error) {
	return s.put(ctx, s.pool, key, value, kind, cas)
}

func (s *PostgresStore) put(ctx context.Context, q querier, key string, value []byte, kind EntryKind, cas *uint64) (uint64, error) {
	if kind == "" {
		kind = KindLeaf
	}

	var index int64
	var err error
	switch {
	case cas == nil:
		err = q.QueryRow(ctx,
			`INSERT INTO kv_entries (key, value, kind, modify_index, created_at, updated_at)
			 VALUES ($1, $2, $3, nextval('kv_entries_index_seq'), now(), now())
			 ON CONFLICT (key) DO UPDATE
			   SET value = EXCLUDED.value, kind = EXCLUDED.kind,
			       modify_index = EXCLUDED.modify_index, updated_at = now()
			 RETURNING modify_index`,
			key, value, kind,
		).Scan(&index)

	case *cas == 0:
		// Create-only: insert must not displace an existing entry.
		err = q.QueryRow(ctx,
			`INSERT INTO kv_entries (key, value, kind, modify_index, created_at, updated_at)
			 VALUES ($1, $2, $3, nextval('kv_entries_index_seq'), now(), now())
			 ON CONFLICT (key) DO NOTHING
			 RETURNING modify_index`,
			key, value, kind,
		).Scan(&index)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperrors.ErrCASConflict(s.currentIndex(ctx, q, key)).
				WithParams(map[string]interface{}{"key": key})
		}

	default:
		err = q.QueryRow(ctx,
			`UPDATE kv_entries
			 SET value = $2, kind = $3,
			     modify_index = nextval('kv_entries_index_seq'), updated_at = now()
			 WHERE key = $1 AND modify_index = $4
			 RETURNING modify_index`,
			key, value, kind, int64(*cas),
		).Scan(&index)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperrors.ErrCASConflict(s.currentIndex(ctx, q, key)).
				WithParams(map[string]interface{}{"key": key})
		}
	}
	if err != nil {
		return 0, fmt.Errorf("kv put %q: %w", key, err)
	}
	return uint64(index), nil
}

// Delete removes a key or subtree.
func (s *PostgresStore) Delete(ctx context.Context, key string, recurse bool, cas *uint64) (int64, error) {
	return s.del(ctx, s.pool, key, recurse, cas)
}

func (s *PostgresStore) del(ctx context.Context, q querier, key string, recurse bool, cas *uint64) (int64, error) {
	if recurse {
		tag, err := q.Exec(ctx, `DELETE FROM kv_entries WHERE starts_with(key, $1)`, key)
		if err != nil {
			return 0, fmt.Errorf("kv delete tree %q: %w", key, err)
		}
		return tag.RowsAffected(), nil
	}

	if cas == nil {
		tag, err := q.Exec(ctx, `DELETE FROM kv_entries WHERE key = $1`, key)
		if err != nil {
			return 0, fmt.Errorf("kv delete %q: %w", key, err)
		}
		return tag.RowsAffected(), nil
	}

	tag, err := q.Exec(ctx,
		`DELETE FROM kv_entries WHERE key = $1 AND modify_index = $2`, key, int64(*cas))
	if err != nil {
		return 0, fmt.Errorf("kv delete %q: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		current := s.currentIndex(ctx, q, key)
		if current == 0 && *cas == 0 {
			return 0, nil
		}
		return 0, apperrors.ErrCASConflict(current).
			WithParams(map[string]interface{}{"key": key})
	}
	return tag.RowsAffected(), nil
}

// Txn executes an ordered batch in one database transaction. A CAS failure
// aborts the batch; per-op detail is reported in the result. Ops after the
// first failing one are not evaluated.
func (s *PostgresStore) Txn(ctx context.Context, ops []TxnOp) (*TxnResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("kv txn begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	result := &TxnResult{Success: true}
	for i, op := range ops {
		opRes := TxnOpResult{OpIndex: i, Key: op.Key, Success: true}

		switch op.Verb {
		case TxnSet:
			index, perr := s.put(ctx, tx, op.Key, op.Value, op.Kind, op.CAS)
			if perr != nil {
				if !apperrors.IsCode(perr, apperrors.CodeKVCASConflict) {
					return nil, perr
				}
				opRes.Success = false
				opRes.Error = perr.Error()
			} else {
				opRes.ModifyIndex = index
			}

		case TxnDelete:
			if _, derr := s.del(ctx, tx, op.Key, false, op.CAS); derr != nil {
				if !apperrors.IsCode(derr, apperrors.CodeKVCASConflict) {
					return nil, derr
				}
				opRes.Success = false
				opRes.Error = derr.Error()
			}

		case TxnDeleteTree:
			if _, derr := s.del(ctx, tx, op.Key, true, nil); derr != nil {
				return nil, derr
			}

		default:
			opRes.Success = false
			opRes.Error = "unknown transaction verb: " + string(op.Verb)
		}

		result.Results = append(result.Results, opRes)
		if !opRes.Success {
			result.Success = false
			return result, nil
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("kv txn commit: %w", err)
	}
	return result, nil
}

// currentIndex reads a key's modify index for conflict reporting.
// Returns 0 when the key does not exist.
func (s *PostgresStore) currentIndex(ctx context.Context, q querier, key string) uint64 {
	var index int64
	err := q.QueryRow(ctx, `SELECT modify_index FROM kv_entries WHERE key = $1`, key).Scan(&index)
	if err != nil {
		return 0
	}
	return uint64(index)
}
