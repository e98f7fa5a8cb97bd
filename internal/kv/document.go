package kv

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "svc-steward.io/steward/internal/pkg/errors"
)

// DocumentFormat selects the serialization for a bulk configuration export.
type DocumentFormat string

const (
	FormatJSON       DocumentFormat = "json"
	FormatYAML       DocumentFormat = "yaml"
	FormatProperties DocumentFormat = "properties"
)

// ParseFormat validates a caller-supplied format string.
// An empty string defaults to JSON.
func ParseFormat(s string) (DocumentFormat, error) {
	switch strings.ToLower(s) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "properties":
		return FormatProperties, nil
	}
	return "", apperrors.BadRequest(apperrors.CodeValidationFailed,
		fmt.Sprintf("unsupported document format %q", s))
}

// RenderDocument serializes a prefix's entries into a single document,
// keyed by each entry's relative suffix under the prefix. Values render
// as strings.
func RenderDocument(entries []*Entry, format DocumentFormat) ([]byte, error) {
	doc := make(map[string]string, len(entries))
	for _, e := range entries {
		doc[e.Key] = string(e.Value)
	}

	switch format {
	case FormatJSON:
		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("render json document: %w", err)
		}
		return out, nil

	case FormatYAML:
		out, err := yaml.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("render yaml document: %w", err)
		}
		return out, nil

	case FormatProperties:
		keys := make([]string, 0, len(doc))
		for k := range doc {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var b strings.Builder
		for _, k := range keys {
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(escapePropertyValue(doc[k]))
			b.WriteByte('\n')
		}
		return []byte(b.String()), nil
	}

	return nil, apperrors.BadRequest(apperrors.CodeValidationFailed,
		fmt.Sprintf("unsupported document format %q", format))
}

// escapePropertyValue keeps multi-line values on a single properties line.
func escapePropertyValue(v string) string {
	r := strings.NewReplacer("\\", "\\\\", "\n", "\\n", "\r", "\\r")
	return r.Replace(v)
}
