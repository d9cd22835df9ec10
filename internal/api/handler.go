package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/pagelens/pagelens/internal/engine"
	"github.com/pagelens/pagelens/internal/fingerprint"
	"github.com/pagelens/pagelens/internal/metrics"
	"github.com/pagelens/pagelens/internal/queue"
	"github.com/pagelens/pagelens/internal/quota"
	"github.com/pagelens/pagelens/internal/screenshot"
)

// takeScreenshot resolves one capture request end to end. The flow is a
// fixed ladder: authenticate, rate limit, normalize, check quota,
// coalesce onto the pipeline, then respond with the image, a 304, or a
// placeholder. Capture failures never surface as 5xx; the placeholder
// plus Retry-After keeps the endpoint answerable.
func (s *Server) takeScreenshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := s.tenantIDFrom(r)

	if s.limiter != nil && !s.limiter.Allow(tenantID) {
		metrics.ObserveRateLimited()
		w.Header().Set("Retry-After", "1")
		writeError(s.logger, w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	req, err := parseCaptureRequest(r.URL.Query(), tenantID)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}

	status, err := s.ledger.Check(ctx, tenantID)
	switch {
	case errors.Is(err, quota.ErrNotFound):
		writeError(s.logger, w, http.StatusUnauthorized, "no quota configured for tenant")
		return
	case errors.Is(err, quota.ErrExceeded):
		metrics.ObserveQuotaDenied()
		w.Header().Set("X-Remaining-Requests", "0")
		if refill := status.RefillAt(); !refill.IsZero() {
			w.Header().Set("X-Refill-At", refill.UTC().Format(time.RFC3339))
		}
		writeError(s.logger, w, http.StatusTooManyRequests, "quota exceeded")
		return
	case err != nil:
		s.logger.Error("quota check failed",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		writeError(s.logger, w, http.StatusServiceUnavailable, "quota check failed")
		return
	}

	fp, err := fingerprint.New(req)
	if err != nil {
		s.logger.Error("fingerprint failed", zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "internal server error")
		return
	}

	res, deduplicated, err := s.coordinator.Coalesce(ctx, string(fp),
		func(gctx context.Context) (queue.Result, error) {
			return s.captures.Execute(gctx, fp, req)
		})
	if deduplicated {
		metrics.ObserveDedupHit()
	}
	if err != nil {
		s.logger.Warn("capture failed",
			zap.String("tenant_id", tenantID),
			zap.String("fingerprint", string(fp)),
			zap.Error(err),
		)
		metrics.ObserveCapture(string(screenshot.StateFailed), 0)
		s.writePlaceholder(w, scenarioPlaceholder, fp, deduplicated)
		return
	}

	info, err := s.objects.Stat(ctx, res.StorageKey)
	metrics.ObserveStorageOperation("stat", err)
	if err != nil {
		s.logger.Error("stat stored screenshot failed",
			zap.String("tenant_id", tenantID),
			zap.String("storage_key", res.StorageKey),
			zap.Error(err),
		)
		s.writePlaceholder(w, scenarioError, fp, deduplicated)
		return
	}

	fresh := res.Created && !deduplicated
	state := screenshot.StateFound
	if fresh {
		state = screenshot.StateGenerated
	}
	metrics.ObserveCapture(string(state), time.Duration(res.DurationMs)*time.Millisecond)

	remaining := status.Remaining
	if fresh {
		// Post-success bookkeeping: a consume failure must never turn a
		// rendered image into an error response.
		if newRemaining, cerr := s.ledger.Consume(ctx, tenantID); cerr != nil {
			s.logger.Error("quota consume failed",
				zap.String("tenant_id", tenantID),
				zap.String("fingerprint", string(fp)),
				zap.Error(cerr),
			)
		} else {
			remaining = newRemaining
		}
	}

	etag := computeETag(string(fp), req.Format, info)

	h := w.Header()
	h.Set("ETag", etag)
	h.Set("X-Deduplicated", strconv.FormatBool(deduplicated))
	h.Set("X-Cache-Key", string(fp))
	h.Set("X-Cache-Scenario", scenarioSuccess)
	h.Set("X-Remaining-Requests", strconv.FormatInt(remaining, 10))
	if refill := status.RefillAt(); !refill.IsZero() {
		h.Set("X-Refill-At", refill.UTC().Format(time.RFC3339))
	}
	successPolicy(s.cacheTTL(req), fresh).apply(h)

	if etagMatches(r, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	stream, info, err := s.objects.ReadStream(ctx, res.StorageKey)
	metrics.ObserveStorageOperation("read", err)
	if err != nil {
		s.logger.Error("read stored screenshot failed",
			zap.String("storage_key", res.StorageKey),
			zap.Error(err),
		)
		s.writePlaceholder(w, scenarioError, fp, deduplicated)
		return
	}
	defer stream.Close() //nolint:errcheck // read-only stream

	contentType := info.ContentType
	if contentType == "" {
		contentType = engine.ContentType(req.Format)
	}
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.FormatInt(info.Size, 10))
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Disposition", "inline")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, stream); err != nil {
		s.logger.Warn("stream screenshot interrupted",
			zap.String("storage_key", res.StorageKey),
			zap.Error(err),
		)
	}
}

// cacheTTL resolves the effective artifact TTL for cache headers.
func (s *Server) cacheTTL(req screenshot.CaptureRequest) time.Duration {
	if !req.CacheEnabled {
		return 0
	}
	ttlSec := req.CacheTTLSec
	if ttlSec <= 0 {
		ttlSec = s.cfg.Capture.DefaultTTLSec
	}
	return time.Duration(ttlSec) * time.Second
}

// writePlaceholder serves the fixed fallback image with the scenario's
// cache policy. Always 200: availability over precision.
func (s *Server) writePlaceholder(
	w http.ResponseWriter,
	scenario string,
	fp fingerprint.Fingerprint,
	deduplicated bool,
) {
	h := w.Header()
	h.Set("Content-Type", "image/png")
	h.Set("Content-Length", strconv.Itoa(len(placeholderPNG)))
	h.Set("Content-Disposition", "inline")
	h.Set("X-Deduplicated", strconv.FormatBool(deduplicated))
	h.Set("X-Cache-Key", string(fp))
	h.Set("X-Cache-Scenario", scenario)
	if scenario == scenarioError {
		errorPolicy().apply(h)
	} else {
		placeholderPolicy().apply(h)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(placeholderPNG); err != nil {
		s.logger.Warn("write placeholder failed", zap.Error(err))
	}
}
