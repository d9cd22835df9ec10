// Package fingerprint derives stable cache keys from capture requests.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/pagelens/pagelens/internal/screenshot"
)

// Fingerprint identifies one unique rendered artifact. It serves as the
// in-process dedup key, the queue job identity and the ETag seed.
type Fingerprint string

func (f Fingerprint) String() string { return string(f) }

// New hashes a normalized capture request scoped to its tenant. The same
// normalized request always yields the same fingerprint; tenant id is
// prefixed so equal parameter sets never collide across tenants.
//
// An explicit cache_key replaces the parameter hash entirely: clients that
// manage their own invalidation get full control of artifact identity.
func New(req screenshot.CaptureRequest) (Fingerprint, error) {
	if req.CacheKey != "" {
		return Fingerprint(req.TenantID + "-" + req.CacheKey), nil
	}
	digest, err := hashRequest(req)
	if err != nil {
		return "", err
	}
	return Fingerprint(req.TenantID + "-" + digest), nil
}

// hashRequest produces a hex SHA-256 over the canonical JSON encoding.
// encoding/json sorts map keys, and Normalize sorts every slice field, so
// the byte stream is deterministic for a normalized request.
func hashRequest(req screenshot.CaptureRequest) (string, error) {
	// Tenant id participates via the prefix, not the hash, so the hash
	// alone identifies the rendered content.
	req.TenantID = ""
	// Cache policy does not affect pixels.
	req.CacheEnabled = false
	req.CacheTTLSec = 0

	raw, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal capture request: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
