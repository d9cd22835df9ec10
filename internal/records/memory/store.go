// Package memory provides an in-memory record store for tests and
// single-process development.
package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pagelens/pagelens/internal/records"
	"github.com/pagelens/pagelens/internal/screenshot"
)

// Store keeps records in a map keyed by id.
type Store struct {
	mu   sync.RWMutex
	rows map[string]screenshot.Record
}

// New constructs an empty Store.
func New() *Store {
	return &Store{rows: make(map[string]screenshot.Record)}
}

// FindExisting scans for an exact capture-parameter match within the
// tenant. Matching compares the canonical encoding of the
// capture-affecting fields, mirroring the column-by-column equality the
// Postgres store performs.
func (s *Store) FindExisting(
	_ context.Context,
	tenantID string,
	req screenshot.CaptureRequest,
) (screenshot.Record, error) {
	want := matchKey(req)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  screenshot.Record
		found bool
	)
	for _, rec := range s.rows {
		if rec.TenantID != tenantID {
			continue
		}
		if matchKey(rec.Request) != want {
			continue
		}
		if !found || rec.CreatedAt.After(best.CreatedAt) {
			best = rec
			found = true
		}
	}
	if !found {
		return screenshot.Record{}, records.ErrNotFound
	}
	return best, nil
}

// Insert stores the record.
func (s *Store) Insert(_ context.Context, rec screenshot.Record) (screenshot.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[rec.ID] = rec
	return rec, nil
}

// Delete removes a record by id.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return records.ErrNotFound
	}
	delete(s.rows, id)
	return nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// matchKey strips the fields that do not affect rendered content, then
// encodes the rest. Normalized requests encode deterministically.
func matchKey(req screenshot.CaptureRequest) string {
	req.TenantID = ""
	req.CacheEnabled = false
	req.CacheTTLSec = 0
	raw, err := json.Marshal(req)
	if err != nil {
		return ""
	}
	return string(raw)
}
