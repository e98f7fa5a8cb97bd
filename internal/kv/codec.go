package kv

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// A logical list lives under a prefix as a manifest leaf plus one leaf per
// flattened item field:
//
//	<prefix>/.manifest          JSON array of item ids, presentation order
//	<prefix>/items/<id>/<field> one leaf per field, nested maps joined by '/'
//
// The manifest supplies ordering only. Ids present in storage but missing
// from the manifest still surface, after the manifest-ordered ones, in
// lexicographic key order. A missing manifest is an ordering degradation,
// not an error.
const (
	manifestLeaf = ".manifest"
	itemsSegment = "items/"
)

// ListItem is one logical list element.
type ListItem struct {
	ID     string                 `json:"id"`
	Fields map[string]interface{} `json:"fields"`
}

// ListStructure is the decoded form of a manifest-backed list.
type ListStructure struct {
	Items []ListItem `json:"items"`
}

// DecodeList rebuilds the logical list from the manifest value (nil when
// absent) and the entries under the list prefix, keys relative to it.
// Field values are returned as strings; nested structure is recovered by
// re-splitting flattened key suffixes on '/'.
func DecodeList(manifest []byte, entries []*Entry) *ListStructure {
	grouped := make(map[string]map[string]interface{})
	var encounter []string

	for _, e := range entries {
		rel, ok := strings.CutPrefix(e.Key, itemsSegment)
		if !ok {
			continue // manifest or unrelated leaf
		}
		id, fieldPath, ok := strings.Cut(rel, "/")
		if !ok || id == "" || fieldPath == "" {
			continue
		}
		fields, seen := grouped[id]
		if !seen {
			fields = make(map[string]interface{})
			grouped[id] = fields
			encounter = append(encounter, id)
		}
		setNestedField(fields, strings.Split(fieldPath, "/"), string(e.Value))
	}

	ordered := make([]ListItem, 0, len(grouped))
	taken := make(map[string]bool, len(grouped))
	for _, id := range decodeManifest(manifest) {
		if fields, ok := grouped[id]; ok && !taken[id] {
			ordered = append(ordered, ListItem{ID: id, Fields: fields})
			taken[id] = true
		}
	}
	for _, id := range encounter {
		if !taken[id] {
			ordered = append(ordered, ListItem{ID: id, Fields: grouped[id]})
		}
	}
	return &ListStructure{Items: ordered}
}

// EncodeList flattens structure into one atomic batch under absPrefix
// (which must end with '/'): a manifest set, one set per flattened field,
// and a subtree delete per removed item id. Submitting the batch as a
// single transaction is what keeps readers from ever observing a
// half-written list.
func EncodeList(absPrefix string, structure *ListStructure, deletes []string) ([]TxnOp, error) {
	ids := make([]string, 0, len(structure.Items))
	flattened := make(map[string][]byte)
	var order []string

	for _, item := range structure.Items {
		if err := validateListID(item.ID); err != nil {
			return nil, err
		}
		ids = append(ids, item.ID)
		base := itemsSegment + item.ID
		if err := flattenFields(base, item.Fields, flattened, &order); err != nil {
			return nil, fmt.Errorf("item %q: %w", item.ID, err)
		}
	}

	manifest, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}

	ops := make([]TxnOp, 0, len(flattened)+len(deletes)+1)
	ops = append(ops, TxnOp{
		Verb:  TxnSet,
		Key:   absPrefix + manifestLeaf,
		Value: manifest,
		Kind:  KindList,
	})
	for _, rel := range order {
		ops = append(ops, TxnOp{
			Verb:  TxnSet,
			Key:   absPrefix + rel,
			Value: flattened[rel],
			Kind:  KindLeaf,
		})
	}
	for _, id := range deletes {
		if err := validateListID(id); err != nil {
			return nil, err
		}
		ops = append(ops, TxnOp{
			Verb: TxnDeleteTree,
			Key:  absPrefix + itemsSegment + id + "/",
		})
	}
	return ops, nil
}

// flattenFields walks an item's field tree: nested maps recurse with
// '/'-joined paths, arrays serialize whole as JSON, byte slices pass
// through untouched, everything else stringifies.
func flattenFields(base string, fields map[string]interface{}, out map[string][]byte, order *[]string) error {
	keys := sortedFieldKeys(fields)
	for _, k := range keys {
		if k == "" || strings.Contains(k, "/") {
			return badPath(fmt.Sprintf("field key %q must be non-empty and must not contain '/'", k))
		}
		path := base + "/" + k
		switch v := fields[k].(type) {
		case map[string]interface{}:
			if err := flattenFields(path, v, out, order); err != nil {
				return err
			}
		case []byte:
			out[path] = v
			*order = append(*order, path)
		case string:
			out[path] = []byte(v)
			*order = append(*order, path)
		case nil:
			out[path] = []byte("")
			*order = append(*order, path)
		case []interface{}:
			encoded, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("encode array field %q: %w", path, err)
			}
			out[path] = encoded
			*order = append(*order, path)
		default:
			out[path] = []byte(fmt.Sprintf("%v", v))
			*order = append(*order, path)
		}
	}
	return nil
}

// setNestedField rebuilds nested maps from a flattened path. A later leaf
// colliding with an earlier subtree (or vice versa) wins; entries arrive in
// key order so the outcome is deterministic.
func setNestedField(fields map[string]interface{}, segs []string, value string) {
	for i, seg := range segs {
		if i == len(segs)-1 {
			fields[seg] = value
			return
		}
		next, ok := fields[seg].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			fields[seg] = next
		}
		fields = next
	}
}

// decodeManifest parses the manifest id array. Any parse failure degrades
// to no ordering rather than failing the read.
func decodeManifest(manifest []byte) []string {
	if len(manifest) == 0 {
		return nil
	}
	var ids []string
	if err := json.Unmarshal(manifest, &ids); err != nil {
		return nil
	}
	return ids
}

func validateListID(id string) error {
	if id == "" || strings.Contains(id, "/") {
		return badPath(fmt.Sprintf("list item id %q must be non-empty and must not contain '/'", id))
	}
	return nil
}

// sortedFieldKeys orders field keys so the assembled batch is deterministic.
func sortedFieldKeys(fields map[string]interface{}) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
