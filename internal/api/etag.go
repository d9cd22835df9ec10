package api

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/pagelens/pagelens/internal/screenshot"
	"github.com/pagelens/pagelens/internal/storage"
)

// computeETag derives a strong ETag from storage-layer identity only:
// fingerprint, format and the stored object's etag, size and mtime.
// Deliberately no wall clock, so retries of the same capture within one
// request lifecycle produce the same tag.
func computeETag(fp string, format screenshot.Format, info storage.ObjectInfo) string {
	seed := strings.Join([]string{
		fp,
		string(format),
		info.ETag,
		strconv.FormatInt(info.Size, 10),
		strconv.FormatInt(info.LastModified.UTC().UnixNano(), 10),
	}, "|")
	sum := sha256.Sum256([]byte(seed))
	return fmt.Sprintf("%q", hex.EncodeToString(sum[:16]))
}

// etagMatches implements the If-None-Match comparison, including the
// wildcard and weak-validator prefixes.
func etagMatches(r *http.Request, etag string) bool {
	raw := r.Header.Get("If-None-Match")
	if raw == "" {
		return false
	}
	for _, candidate := range strings.Split(raw, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}
