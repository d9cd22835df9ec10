// Package engine renders web pages to images with headless Chrome.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/pagelens/pagelens/internal/screenshot"
)

// ErrCaptureTimeout indicates the page did not produce a screenshot
// within the navigation budget.
var ErrCaptureTimeout = errors.New("capture timed out")

// Result is one rendered screenshot.
type Result struct {
	Data        []byte
	ContentType string
	Duration    time.Duration
}

// Engine renders a normalized capture request into image bytes.
type Engine interface {
	Capture(ctx context.Context, req screenshot.CaptureRequest) (Result, error)
}

// ContentType maps an image format to its MIME type.
func ContentType(format screenshot.Format) string {
	switch format {
	case screenshot.FormatJPEG:
		return "image/jpeg"
	case screenshot.FormatWebP:
		return "image/webp"
	default:
		return "image/png"
	}
}
