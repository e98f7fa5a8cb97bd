// Package kv implements the hierarchical per-service configuration store:
// path policy, store adapters, the manifest-backed list abstraction, and
// the orchestration layer that gates every operation through the shared
// permission evaluator.
package kv

import (
	"context"
	"strings"
	"time"
)

// EntryKind tags the structural role of an entry.
type EntryKind string

const (
	// KindLeaf is a plain value entry.
	KindLeaf EntryKind = "LEAF"

	// KindList marks a list manifest entry.
	KindList EntryKind = "LIST"
)

// Entry is one leaf in the configuration tree.
type Entry struct {
	Key   string    `json:"key"`
	Value []byte    `json:"value"`
	Kind  EntryKind `json:"kind"`

	// ModifyIndex is store-assigned and strictly increases on every write.
	// A CAS write supplies the index read earlier and succeeds only if it
	// still matches.
	ModifyIndex uint64 `json:"modify_index"`

	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// TxnVerb is one transaction operation type.
type TxnVerb string

const (
	TxnSet        TxnVerb = "set"
	TxnDelete     TxnVerb = "delete"
	TxnDeleteTree TxnVerb = "delete-tree"
)

// TxnOp is a single operation within a transactional batch.
// CAS is optional; when set it guards the operation the same way as a
// standalone Put/Delete.
type TxnOp struct {
	Verb  TxnVerb   `json:"verb"`
	Key   string    `json:"key"`
	Value []byte    `json:"value,omitempty"`
	Kind  EntryKind `json:"kind,omitempty"`
	CAS   *uint64   `json:"cas,omitempty"`
}

// TxnOpResult is the per-operation outcome of a transaction.
type TxnOpResult struct {
	OpIndex     int    `json:"op_index"`
	Key         string `json:"key"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	ModifyIndex uint64 `json:"modify_index,omitempty"`
}

// TxnResult is the outcome of a transactional batch. The batch is atomic:
// Success false means nothing was committed, with Results carrying the
// per-operation detail.
type TxnResult struct {
	Success bool          `json:"success"`
	Results []TxnOpResult `json:"results"`
}

// Store is the lowest-level contract against the backing key-value store.
// Keys at this level are absolute (service-namespaced); translation from
// relative paths happens above in the orchestration layer.
//
// CAS semantics: a nil cas writes unconditionally. cas pointing at zero
// succeeds only if the key does not exist yet. Any other value must equal
// the entry's current ModifyIndex or the write fails with a conflict.
type Store interface {
	// Get reads a single key. The consistent flag requests a
	// linearizable read where the backend distinguishes; adapters for
	// which every read is consistent may ignore it.
	Get(ctx context.Context, key string, consistent bool) (*Entry, error)

	// List returns entries under prefix. Non-recursive listing returns
	// only immediate children (no '/' in the remainder after prefix).
	List(ctx context.Context, prefix string, recurse bool) ([]*Entry, error)

	// Keys returns key names under prefix. A non-empty separator rolls
	// keys up to their next separator boundary, deduplicated.
	Keys(ctx context.Context, prefix, separator string) ([]string, error)

	// Put writes a key and returns the newly assigned modify index.
	Put(ctx context.Context, key string, value []byte, kind EntryKind, cas *uint64) (uint64, error)

	// Delete removes a key, or the whole subtree when recurse is true,
	// returning the number of entries removed. CAS applies to single-key
	// deletes only.
	Delete(ctx context.Context, key string, recurse bool, cas *uint64) (int64, error)

	// Txn executes an ordered batch atomically. A CAS failure inside the
	// batch aborts the whole batch and is reported in the result, not as
	// an error; errors are reserved for infrastructure failures.
	Txn(ctx context.Context, ops []TxnOp) (*TxnResult, error)
}

// immediateChild reports whether key is a direct child of prefix,
// i.e. the remainder contains no further separator.
func immediateChild(prefix, key string) bool {
	rest := key[len(prefix):]
	return !strings.Contains(rest, "/")
}

// rollupKeys applies separator roll-up to a sorted key list: keys are
// truncated after the first separator occurrence past the prefix (keeping
// the separator, marking a subtree) and deduplicated.
func rollupKeys(keys []string, prefix, separator string) []string {
	if separator == "" {
		return keys
	}
	out := make([]string, 0, len(keys))
	var last string
	for _, k := range keys {
		rest := k[len(prefix):]
		if i := strings.Index(rest, separator); i >= 0 {
			k = prefix + rest[:i+len(separator)]
		}
		if k == last && len(out) > 0 {
			continue
		}
		out = append(out, k)
		last = k
	}
	return out
}
