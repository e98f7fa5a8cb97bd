package kv

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "svc-steward.io/steward/internal/pkg/errors"
)

// MemStore is an in-memory Store for tests and embedded deployments.
// All operations are guarded by a single mutex; the modify index is a
// store-wide counter, so indexes are strictly increasing across keys too.
type MemStore struct {
	mu        sync.RWMutex
	data      map[string]*Entry
	nextIndex uint64
	now       func() time.Time
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		data: make(map[string]*Entry),
		now:  time.Now,
	}
}

var _ Store = (*MemStore)(nil)

// Get reads a single key. Every read is consistent; the flag is ignored.
func (m *MemStore) Get(ctx context.Context, key string, consistent bool) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.data[key]
	if !ok {
		return nil, apperrors.ErrKeyNotFound().WithParams(map[string]interface{}{"key": key})
	}
	return copyEntry(e), nil
}

// List returns entries under prefix in lexicographic key order.
func (m *MemStore) List(ctx context.Context, prefix string, recurse bool) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Entry
	for k, e := range m.data {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if !recurse && !immediateChild(prefix, k) {
			continue
		}
		out = append(out, copyEntry(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Keys returns key names under prefix, optionally rolled up by separator.
func (m *MemStore) Keys(ctx context.Context, prefix, separator string) ([]string, error) {
	m.mu.RLock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	m.mu.RUnlock()

	sort.Strings(keys)
	return rollupKeys(keys, prefix, separator), nil
}

// Put writes a key, CAS-guarded when cas is non-nil.
func (m *MemStore) Put(ctx context.Context, key string, value []byte, kind EntryKind, cas *uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := checkCAS(m.data[key], cas); err != nil {
		return 0, err
	}
	return m.write(key, value, kind), nil
}

// Delete removes a key or subtree.
func (m *MemStore) Delete(ctx context.Context, key string, recurse bool, cas *uint64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if recurse {
		var n int64
		for k := range m.data {
			if strings.HasPrefix(k, key) {
				delete(m.data, k)
				n++
			}
		}
		return n, nil
	}

	current, ok := m.data[key]
	if cas != nil {
		if err := checkCAS(current, cas); err != nil {
			return 0, err
		}
	}
	if !ok {
		return 0, nil
	}
	delete(m.data, key)
	return 1, nil
}

// Txn executes ops in order against a staged copy of the store and commits
// only if every operation succeeds. The result lists each evaluated
// operation; on failure, ops after the first failing one are not evaluated.
func (m *MemStore) Txn(ctx context.Context, ops []TxnOp) (*TxnResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	staged := make(map[string]*Entry, len(m.data))
	for k, e := range m.data {
		staged[k] = e
	}
	stagedNext := m.nextIndex

	result := &TxnResult{Success: true}
	for i, op := range ops {
		opRes := TxnOpResult{OpIndex: i, Key: op.Key, Success: true}

		switch op.Verb {
		case TxnSet:
			if err := checkCAS(staged[op.Key], op.CAS); err != nil {
				opRes.Success = false
				opRes.Error = err.Error()
				break
			}
			stagedNext++
			kind := op.Kind
			if kind == "" {
				kind = KindLeaf
			}
			staged[op.Key] = &Entry{
				Key:         op.Key,
				Value:       append([]byte(nil), op.Value...),
				Kind:        kind,
				ModifyIndex: stagedNext,
				UpdatedAt:   m.now(),
			}
			opRes.ModifyIndex = stagedNext

		case TxnDelete:
			if err := checkCAS(staged[op.Key], op.CAS); err != nil {
				opRes.Success = false
				opRes.Error = err.Error()
				break
			}
			delete(staged, op.Key)

		case TxnDeleteTree:
			for k := range staged {
				if strings.HasPrefix(k, op.Key) {
					delete(staged, k)
				}
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

	m.data = staged
	m.nextIndex = stagedNext
	return result, nil
}

// write assumes the lock is held and any CAS check already passed.
func (m *MemStore) write(key string, value []byte, kind EntryKind) uint64 {
	m.nextIndex++
	if kind == "" {
		kind = KindLeaf
	}
	m.data[key] = &Entry{
		Key:         key,
		Value:       append([]byte(nil), value...),
		Kind:        kind,
		ModifyIndex: m.nextIndex,
		UpdatedAt:   m.now(),
	}
	return m.nextIndex
}

// checkCAS validates a CAS precondition against the current entry.
// nil cas is unconditional; zero means create-only; any other value must
// equal the current modify index.
func checkCAS(current *Entry, cas *uint64) error {
	if cas == nil {
		return nil
	}
	if *cas == 0 {
		if current != nil {
			return apperrors.ErrCASConflict(current.ModifyIndex)
		}
		return nil
	}
	if current == nil {
		return apperrors.ErrCASConflict(0)
	}
	if current.ModifyIndex != *cas {
		return apperrors.ErrCASConflict(current.ModifyIndex)
	}
	return nil
}

func copyEntry(e *Entry) *Entry {
	cp := *e
	cp.Value = append([]byte(nil), e.Value...)
	return &cp
}
