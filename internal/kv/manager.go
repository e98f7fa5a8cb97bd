package kv

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"svc-steward.io/steward/internal/domain"
	apperrors "svc-steward.io/steward/internal/pkg/errors"
	"svc-steward.io/steward/internal/permission"
)

// ServiceReader resolves service identities for authorization.
type ServiceReader interface {
	GetByID(ctx context.Context, id string) (*domain.ApplicationService, error)
}

// Manager is the tenant-scoped orchestration layer over the raw store.
// Every operation checks service existence and the caller's permission
// (view for reads, edit for writes), translates relative paths through the
// path policy, and only then touches the store adapter.
//
// Permission denial and a genuinely missing service are indistinguishable
// to callers: both surface as service-not-found (ADR-0009).
type Manager struct {
	services ServiceReader
	perms    *permission.Evaluator
	store    Store
	cache    *Cache                  // nil disables caching
	events   *domain.EventDispatcher // nil disables change events
}

// NewManager creates a Manager. cache and events may be nil.
func NewManager(services ServiceReader, perms *permission.Evaluator, store Store, cache *Cache, events *domain.EventDispatcher) *Manager {
	return &Manager{
		services: services,
		perms:    perms,
		store:    store,
		cache:    cache,
		events:   events,
	}
}

// GetOptions controls a single-key read.
type GetOptions struct {
	// Consistent requests a linearizable read and bypasses the cache.
	Consistent bool
}

// PutOptions controls a single-key write. CAS and IfMatch are alternative
// spellings of the same precondition; when both are set they must agree.
type PutOptions struct {
	CAS     *uint64
	IfMatch *uint64
	Kind    EntryKind
}

// DeleteOptions controls a delete. CAS applies to single-key deletes only.
type DeleteOptions struct {
	Recurse bool
	CAS     *uint64
}

// TxnRequestOp is one caller-supplied transaction operation in relative
// path space.
type TxnRequestOp struct {
	Verb  TxnVerb   `json:"verb"`
	Path  string    `json:"path"`
	Value []byte    `json:"value,omitempty"`
	Kind  EntryKind `json:"kind,omitempty"`
	CAS   *uint64   `json:"cas,omitempty"`
}

// Get reads a single key within the service's namespace.
func (m *Manager) Get(ctx context.Context, caller domain.UserContext, serviceID, relPath string, opts GetOptions) (*Entry, error) {
	if _, err := m.authorize(ctx, caller, serviceID, false); err != nil {
		return nil, err
	}
	absKey, err := BuildKey(serviceID, relPath)
	if err != nil {
		return nil, err
	}
	rel, _ := RelativePath(serviceID, absKey)

	if !opts.Consistent {
		if data, ok := m.cache.GetEntry(ctx, serviceID, rel); ok {
			var e Entry
			if err := json.Unmarshal(data, &e); err == nil {
				return &e, nil
			}
		}
	}

	e, err := m.store.Get(ctx, absKey, opts.Consistent)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeKVNotFound) {
			return nil, apperrors.ErrKeyNotFound().WithParams(map[string]interface{}{"path": rel})
		}
		return nil, err
	}
	e.Key = rel

	if !opts.Consistent {
		if data, merr := json.Marshal(e); merr == nil {
			m.cache.SetEntry(ctx, serviceID, rel, data)
		}
	}
	return e, nil
}

// List returns entries under a relative prefix. Non-recursive listing
// returns only immediate children.
func (m *Manager) List(ctx context.Context, caller domain.UserContext, serviceID, relPrefix string, recurse bool) ([]*Entry, error) {
	if _, err := m.authorize(ctx, caller, serviceID, false); err != nil {
		return nil, err
	}
	absPrefix, err := BuildPrefix(serviceID, relPrefix)
	if err != nil {
		return nil, err
	}
	entries, err := m.store.List(ctx, absPrefix, recurse)
	if err != nil {
		return nil, err
	}
	return relativizeEntries(serviceID, entries), nil
}

// Keys returns key names under a relative prefix, optionally rolled up by
// separator.
func (m *Manager) Keys(ctx context.Context, caller domain.UserContext, serviceID, relPrefix, separator string) ([]string, error) {
	if _, err := m.authorize(ctx, caller, serviceID, false); err != nil {
		return nil, err
	}
	absPrefix, err := BuildPrefix(serviceID, relPrefix)
	if err != nil {
		return nil, err
	}
	keys, err := m.store.Keys(ctx, absPrefix, separator)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if rel, ok := RelativePath(serviceID, k); ok {
			out = append(out, rel)
		}
	}
	return out, nil
}

// Put writes a single key. Without a CAS precondition the write is an
// unconditional upsert; with one, a mismatch fails with a conflict instead
// of overwriting silently.
func (m *Manager) Put(ctx context.Context, caller domain.UserContext, serviceID, relPath string, value []byte, opts PutOptions) (uint64, error) {
	if _, err := m.authorize(ctx, caller, serviceID, true); err != nil {
		return 0, err
	}
	absKey, err := BuildKey(serviceID, relPath)
	if err != nil {
		return 0, err
	}
	cas, err := resolveCAS(opts.CAS, opts.IfMatch)
	if err != nil {
		return 0, err
	}

	index, err := m.store.Put(ctx, absKey, value, opts.Kind, cas)
	if err != nil {
		return 0, err
	}

	rel, _ := RelativePath(serviceID, absKey)
	m.cache.InvalidateWrite(ctx, serviceID, rel)
	m.emitChange(ctx, caller, serviceID, rel, "put", index)
	return index, nil
}

// Delete removes a key, or a whole subtree with Recurse. Returns the number
// of entries removed; deleting an absent key is not an error.
func (m *Manager) Delete(ctx context.Context, caller domain.UserContext, serviceID, relPath string, opts DeleteOptions) (int64, error) {
	if _, err := m.authorize(ctx, caller, serviceID, true); err != nil {
		return 0, err
	}

	if opts.Recurse {
		if opts.CAS != nil {
			return 0, apperrors.BadRequest(apperrors.CodeValidationFailed,
				"cas cannot be combined with recursive delete")
		}
		absPrefix, err := BuildPrefix(serviceID, relPath)
		if err != nil {
			return 0, err
		}
		n, err := m.store.Delete(ctx, absPrefix, true, nil)
		if err != nil {
			return 0, err
		}
		rel := prefixRelative(serviceID, absPrefix)
		m.cache.InvalidateTree(ctx, serviceID, rel)
		m.emitChange(ctx, caller, serviceID, rel, "delete", 0)
		return n, nil
	}

	absKey, err := BuildKey(serviceID, relPath)
	if err != nil {
		return 0, err
	}
	n, err := m.store.Delete(ctx, absKey, false, opts.CAS)
	if err != nil {
		return 0, err
	}
	rel, _ := RelativePath(serviceID, absKey)
	m.cache.InvalidateWrite(ctx, serviceID, rel)
	m.emitChange(ctx, caller, serviceID, rel, "delete", 0)
	return n, nil
}

// Txn executes an ordered batch of set/delete operations atomically within
// the service's namespace. The result carries per-operation detail; a CAS
// failure anywhere aborts the whole batch.
func (m *Manager) Txn(ctx context.Context, caller domain.UserContext, serviceID string, ops []TxnRequestOp) (*TxnResult, error) {
	if _, err := m.authorize(ctx, caller, serviceID, true); err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, apperrors.BadRequest(apperrors.CodeValidationFailed,
			"transaction requires at least one operation")
	}

	storeOps := make([]TxnOp, 0, len(ops))
	for _, op := range ops {
		var key string
		var err error
		switch op.Verb {
		case TxnSet, TxnDelete:
			key, err = BuildKey(serviceID, op.Path)
		case TxnDeleteTree:
			key, err = BuildPrefix(serviceID, op.Path)
		default:
			return nil, apperrors.BadRequest(apperrors.CodeValidationFailed,
				"unknown transaction verb: "+string(op.Verb))
		}
		if err != nil {
			return nil, err
		}
		storeOps = append(storeOps, TxnOp{
			Verb:  op.Verb,
			Key:   key,
			Value: op.Value,
			Kind:  op.Kind,
			CAS:   op.CAS,
		})
	}

	result, err := m.store.Txn(ctx, storeOps)
	if err != nil {
		return nil, err
	}
	relativizeTxnResult(serviceID, result)

	if result.Success {
		m.cache.InvalidateTree(ctx, serviceID, "")
		m.emitChange(ctx, caller, serviceID, "", "txn", 0)
	}
	return result, nil
}

// GetList reads the manifest-backed logical list under a relative prefix.
// A missing manifest degrades to storage order; a fully absent list is an
// empty structure, not an error.
func (m *Manager) GetList(ctx context.Context, caller domain.UserContext, serviceID, relPrefix string) (*ListStructure, error) {
	if _, err := m.authorize(ctx, caller, serviceID, false); err != nil {
		return nil, err
	}
	absPrefix, err := BuildPrefix(serviceID, relPrefix)
	if err != nil {
		return nil, err
	}

	var manifest []byte
	if e, err := m.store.Get(ctx, absPrefix+manifestLeaf, false); err == nil {
		manifest = e.Value
	} else if !apperrors.IsCode(err, apperrors.CodeKVNotFound) {
		return nil, err
	}

	entries, err := m.store.List(ctx, absPrefix, true)
	if err != nil {
		return nil, err
	}
	return DecodeList(manifest, suffixEntries(absPrefix, entries)), nil
}

// PutList writes a complete logical list as one transaction: manifest,
// every flattened item field, and subtree deletes for removed item ids.
// Readers observe the old list or the new list, never an interleaving.
func (m *Manager) PutList(ctx context.Context, caller domain.UserContext, serviceID, relPrefix string, structure *ListStructure, deletes []string) (*TxnResult, error) {
	if _, err := m.authorize(ctx, caller, serviceID, true); err != nil {
		return nil, err
	}
	if structure == nil {
		return nil, apperrors.BadRequest(apperrors.CodeValidationFailed, "list structure is required")
	}
	absPrefix, err := BuildPrefix(serviceID, relPrefix)
	if err != nil {
		return nil, err
	}

	ops, err := EncodeList(absPrefix, structure, deletes)
	if err != nil {
		return nil, err
	}
	result, err := m.store.Txn(ctx, ops)
	if err != nil {
		return nil, err
	}
	relativizeTxnResult(serviceID, result)

	if result.Success {
		rel := prefixRelative(serviceID, absPrefix)
		m.cache.InvalidateTree(ctx, serviceID, rel)
		m.emitChange(ctx, caller, serviceID, rel, "put-list", 0)
	}
	return result, nil
}

// Document renders every entry under a relative prefix into one exported
// document, keyed by the suffix under the prefix.
func (m *Manager) Document(ctx context.Context, caller domain.UserContext, serviceID, relPrefix string, format DocumentFormat, consistent bool) ([]byte, error) {
	if _, err := m.authorize(ctx, caller, serviceID, false); err != nil {
		return nil, err
	}
	absPrefix, err := BuildPrefix(serviceID, relPrefix)
	if err != nil {
		return nil, err
	}
	rel := prefixRelative(serviceID, absPrefix)

	if !consistent {
		if data, ok := m.cache.GetDocument(ctx, serviceID, rel, format); ok {
			return data, nil
		}
	}

	entries, err := m.store.List(ctx, absPrefix, true)
	if err != nil {
		return nil, err
	}
	doc, err := RenderDocument(suffixEntries(absPrefix, entries), format)
	if err != nil {
		return nil, err
	}

	if !consistent {
		m.cache.SetDocument(ctx, serviceID, rel, format, doc)
	}
	return doc, nil
}

// authorize loads the service and checks the caller's permission. Both a
// missing service and a permission denial come back as service-not-found.
func (m *Manager) authorize(ctx context.Context, caller domain.UserContext, serviceID string, write bool) (*domain.ApplicationService, error) {
	svc, err := m.services.GetByID(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	allowed := false
	if write {
		allowed = m.perms.CanEdit(caller, svc)
	} else {
		allowed = m.perms.CanView(ctx, caller, svc)
	}
	if !allowed {
		return nil, apperrors.ErrServiceNotFound()
	}
	return svc, nil
}

func (m *Manager) emitChange(ctx context.Context, caller domain.UserContext, serviceID, rel, op string, index uint64) {
	if m.events == nil {
		return
	}
	payload, err := domain.ConfigChangePayload{
		ServiceID:   serviceID,
		Path:        rel,
		Operation:   op,
		ModifyIndex: index,
		Actor:       caller.UserID,
	}.ToJSON()
	if err != nil {
		return
	}
	_ = m.events.Dispatch(ctx, &domain.DomainEvent{
		EventID:       newEventID(),
		EventType:     domain.EventConfigChanged,
		AggregateType: "kv",
		AggregateID:   serviceID,
		Payload:       payload,
		Status:        domain.EventStatusCompleted,
		CreatedBy:     caller.UserID,
	})
}

// resolveCAS merges the two precondition spellings into one effective CAS.
func resolveCAS(cas, ifMatch *uint64) (*uint64, error) {
	if cas != nil && ifMatch != nil && *cas != *ifMatch {
		return nil, apperrors.BadRequest(apperrors.CodeValidationFailed,
			"cas and if-match preconditions disagree")
	}
	if cas != nil {
		return cas, nil
	}
	return ifMatch, nil
}

// relativizeEntries rewrites absolute keys to service-relative paths,
// dropping anything outside the service's namespace.
func relativizeEntries(serviceID string, entries []*Entry) []*Entry {
	out := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		rel, ok := RelativePath(serviceID, e.Key)
		if !ok {
			continue
		}
		e.Key = rel
		out = append(out, e)
	}
	return out
}

// suffixEntries rewrites keys to their suffix under absPrefix.
func suffixEntries(absPrefix string, entries []*Entry) []*Entry {
	out := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		if !strings.HasPrefix(e.Key, absPrefix) {
			continue
		}
		e.Key = e.Key[len(absPrefix):]
		out = append(out, e)
	}
	return out
}

func relativizeTxnResult(serviceID string, result *TxnResult) {
	for i := range result.Results {
		if rel, ok := RelativePath(serviceID, result.Results[i].Key); ok {
			result.Results[i].Key = rel
		}
	}
}

// prefixRelative is the service-relative form of an absolute prefix,
// without the trailing separator, for cache keying.
func prefixRelative(serviceID, absPrefix string) string {
	rel, ok := RelativePath(serviceID, absPrefix)
	if !ok {
		return ""
	}
	return strings.TrimSuffix(rel, "/")
}

func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
