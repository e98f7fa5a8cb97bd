package kv

import (
	"strings"

	apperrors "svc-steward.io/steward/internal/pkg/errors"
)

// Absolute key layout: services/<serviceID>/config/<relative-path>.
// The service segment guarantees no cross-service collision even when two
// services pick identical relative paths.
const (
	keyRoot       = "services/"
	configSegment = "/config/"
)

// BuildKey maps (serviceID, relativePath) to the absolute store key.
func BuildKey(serviceID, relativePath string) (string, error) {
	if err := validateServiceID(serviceID); err != nil {
		return "", err
	}
	rel, err := normalizeRelative(relativePath)
	if err != nil {
		return "", err
	}
	if rel == "" {
		return "", badPath("path must not be empty")
	}
	if strings.HasSuffix(rel, "/") {
		return "", badPath("key must not end with '/'")
	}
	return keyRoot + serviceID + configSegment + rel, nil
}

// BuildPrefix maps (serviceID, relativePrefix) to the absolute store prefix.
// An empty relative prefix addresses the service's whole configuration tree.
func BuildPrefix(serviceID, relativePrefix string) (string, error) {
	if err := validateServiceID(serviceID); err != nil {
		return "", err
	}
	rel, err := normalizeRelative(relativePrefix)
	if err != nil {
		return "", err
	}
	base := keyRoot + serviceID + configSegment
	if rel == "" {
		return base, nil
	}
	if !strings.HasSuffix(rel, "/") {
		rel += "/"
	}
	return base + rel, nil
}

// RelativePath inverts BuildKey: the relative path of absoluteKey within the
// service's namespace, or false when the key belongs to another namespace.
// Listing results are filtered through it before leaving the manager.
func RelativePath(serviceID, absoluteKey string) (string, bool) {
	base := keyRoot + serviceID + configSegment
	if !strings.HasPrefix(absoluteKey, base) {
		return "", false
	}
	rel := absoluteKey[len(base):]
	if rel == "" {
		return "", false
	}
	return rel, true
}

func validateServiceID(serviceID string) error {
	if serviceID == "" {
		return badPath("service id must not be empty")
	}
	if strings.Contains(serviceID, "/") {
		return badPath("service id must not contain '/'")
	}
	return nil
}

// normalizeRelative strips a single leading slash and rejects traversal
// segments and empty path components.
func normalizeRelative(rel string) (string, error) {
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		return "", nil
	}
	for _, seg := range strings.Split(strings.TrimSuffix(rel, "/"), "/") {
		switch seg {
		case "":
			return "", badPath("path must not contain empty segments")
		case ".", "..":
			return "", badPath("path must not contain '.' or '..' segments")
		}
	}
	return rel, nil
}

func badPath(msg string) error {
	return apperrors.BadRequest(apperrors.CodeKVBadPath, msg)
}
