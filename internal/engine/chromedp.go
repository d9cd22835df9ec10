package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/pagelens/pagelens/internal/screenshot"
)

// Config controls the headless browser pool.
type Config struct {
	MaxParallel       int
	NavigationTimeout time.Duration
	DefaultUserAgent  string
	NetworkIdleWait   time.Duration
	ImageWaitTimeout  time.Duration
}

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// Browser implements Engine with chromedp. One Chrome process is shared
// by all captures; each capture opens its own tab, bounded by a
// semaphore so a burst of requests cannot fork a tab per request.
type Browser struct {
	cfg             Config
	logger          *zap.Logger
	sem             chan struct{}
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	allocatorCancel context.CancelFunc
}

// NewBrowser launches headless Chrome and warms the shared browser
// context.
func NewBrowser(cfg Config, logger *zap.Logger) (*Browser, error) {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.DefaultUserAgent == "" {
		cfg.DefaultUserAgent = defaultUserAgent
	}
	if cfg.NetworkIdleWait <= 0 {
		cfg.NetworkIdleWait = 3 * time.Second
	}
	if cfg.ImageWaitTimeout <= 0 {
		cfg.ImageWaitTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Browser{
		cfg:             cfg,
		logger:          logger,
		sem:             make(chan struct{}, cfg.MaxParallel),
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		allocatorCancel: allocatorCancel,
	}, nil
}

// Close tears down the browser and allocator contexts.
func (b *Browser) Close() {
	b.browserCancel()
	b.allocatorCancel()
}

// Capture renders the request in a fresh tab and returns encoded image
// bytes.
func (b *Browser) Capture(ctx context.Context, req screenshot.CaptureRequest) (Result, error) {
	select {
	case b.sem <- struct{}{}:
	case <-ctx.Done():
		return Result{}, fmt.Errorf("acquire capture slot: %w", ctx.Err())
	}
	defer func() { <-b.sem }()

	tabCtx, cancelTab := chromedp.NewContext(b.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, b.cfg.NavigationTimeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	rules, err := BuildRules(req)
	if err != nil {
		return Result{}, err
	}
	if len(rules) > 0 {
		b.interceptRequests(taskCtx, rules)
	}

	idle := newIdleTracker()
	idle.listen(taskCtx)

	start := time.Now()
	data, err := b.run(taskCtx, req, rules, idle)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return Result{}, fmt.Errorf("%w after %s", ErrCaptureTimeout, b.cfg.NavigationTimeout)
		}
		return Result{}, err
	}

	return Result{
		Data:        data,
		ContentType: ContentType(req.Format),
		Duration:    time.Since(start),
	}, nil
}

func (b *Browser) run(
	ctx context.Context,
	req screenshot.CaptureRequest,
	rules []Rule,
	idle *idleTracker,
) ([]byte, error) {
	var data []byte
	actions := []chromedp.Action{
		b.setupAction(req, len(rules) > 0),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		b.idleAction(idle),
	}
	if req.FullPageScroll {
		actions = append(actions, b.scrollAction(req.ScrollDurationMs))
	}
	actions = append(actions,
		b.imageWaitAction(),
		b.screenshotAction(req, &data),
	)
	if err := chromedp.Run(ctx, actions...); err != nil {
		return nil, fmt.Errorf("chromedp run: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("empty screenshot")
	}
	return data, nil
}

// setupAction configures the tab before navigation: device metrics,
// input emulation, identity and media preferences.
func (b *Browser) setupAction(req screenshot.CaptureRequest, intercept bool) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if intercept {
			if err := fetch.Enable().Do(ctx); err != nil {
				return fmt.Errorf("enable fetch domain: %w", err)
			}
		}

		// The CDP viewport is in logical pixels; the request carries
		// physical ones. Dividing by the scale factor keeps the output
		// image at the requested pixel dimensions.
		scale := req.DeviceScaleFactor
		if scale <= 0 {
			scale = 1
		}
		width := int64(math.Round(float64(req.ViewportWidth) / scale))
		height := int64(math.Round(float64(req.ViewportHeight) / scale))
		metrics := emulation.SetDeviceMetricsOverride(width, height, scale, req.Mobile)
		if req.Landscape {
			metrics = metrics.WithScreenOrientation(&emulation.ScreenOrientation{
				Type:  emulation.OrientationTypeLandscapePrimary,
				Angle: 90,
			})
		}
		if err := metrics.Do(ctx); err != nil {
			return fmt.Errorf("set device metrics: %w", err)
		}
		if req.Touch {
			if err := emulation.SetTouchEmulationEnabled(true).WithMaxTouchPoints(5).Do(ctx); err != nil {
				return fmt.Errorf("enable touch emulation: %w", err)
			}
		}

		userAgent := req.UserAgent
		if userAgent == "" {
			userAgent = b.cfg.DefaultUserAgent
		}
		if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		if len(req.Headers) > 0 {
			headers := network.Headers{}
			for k, v := range req.Headers {
				headers[k] = v
			}
			if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		for _, c := range req.Cookies {
			if err := setCookie(ctx, req.URL, c); err != nil {
				return err
			}
		}
		if req.BypassCSP {
			if err := page.SetBypassCSP(true).Do(ctx); err != nil {
				return fmt.Errorf("bypass csp: %w", err)
			}
		}

		if features := mediaFeatures(req); len(features) > 0 {
			if err := emulation.SetEmulatedMedia().WithFeatures(features).Do(ctx); err != nil {
				return fmt.Errorf("set emulated media: %w", err)
			}
		}
		return nil
	})
}

func setCookie(ctx context.Context, targetURL string, c screenshot.Cookie) error {
	params := network.SetCookie(c.Name, c.Value).
		WithSecure(c.Secure).
		WithHTTPOnly(c.HTTPOnly)
	if c.Domain != "" {
		params = params.WithDomain(c.Domain)
	} else {
		params = params.WithURL(targetURL)
	}
	if c.Path != "" {
		params = params.WithPath(c.Path)
	}
	switch strings.ToLower(c.SameSite) {
	case "strict":
		params = params.WithSameSite(network.CookieSameSiteStrict)
	case "lax":
		params = params.WithSameSite(network.CookieSameSiteLax)
	case "none":
		params = params.WithSameSite(network.CookieSameSiteNone)
	}
	if err := params.Do(ctx); err != nil {
		return fmt.Errorf("set cookie %q: %w", c.Name, err)
	}
	return nil
}

func mediaFeatures(req screenshot.CaptureRequest) []*emulation.MediaFeature {
	var features []*emulation.MediaFeature
	if req.ColorScheme != "" {
		features = append(features, &emulation.MediaFeature{
			Name:  "prefers-color-scheme",
			Value: req.ColorScheme,
		})
	}
	if req.ReducedMotion {
		features = append(features, &emulation.MediaFeature{
			Name:  "prefers-reduced-motion",
			Value: "reduce",
		})
	}
	return features
}

// interceptRequests pauses every outgoing request and fails the ones a
// rule matches. Decisions run off the event goroutine, as chromedp
// requires for handlers that issue commands.
func (b *Browser) interceptRequests(tabCtx context.Context, rules []Rule) {
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		paused, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		go func() {
			c := chromedp.FromContext(tabCtx)
			ectx := cdp.WithExecutor(tabCtx, c.Target)
			rule, blocked := Match(rules, paused.Request.URL, string(paused.ResourceType))
			if !blocked {
				if err := fetch.ContinueRequest(paused.RequestID).Do(ectx); err != nil && tabCtx.Err() == nil {
					b.logger.Debug("continue request", zap.Error(err))
				}
				return
			}
			b.logger.Debug("blocked request",
				zap.String("url", paused.Request.URL),
				zap.String("rule", rule),
			)
			err := fetch.FailRequest(paused.RequestID, network.ErrorReasonBlockedByClient).Do(ectx)
			if err != nil && tabCtx.Err() == nil {
				b.logger.Debug("fail request", zap.Error(err))
			}
		}()
	})
}

// idleAction waits, best effort, for the network to go quiet. Pages
// that stream forever must not hold the capture hostage, so running out
// of budget is not an error.
func (b *Browser) idleAction(idle *idleTracker) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		idle.wait(ctx, 500*time.Millisecond, b.cfg.NetworkIdleWait)
		return nil
	})
}

// scrollAction walks the page top to bottom over the configured
// duration so lazy-loaded content below the fold gets fetched, then
// returns to the top for the capture.
func (b *Browser) scrollAction(durationMs int) chromedp.Action {
	script := fmt.Sprintf(`new Promise((resolve) => {
	const total = Math.max(
		document.body.scrollHeight,
		document.documentElement.scrollHeight,
	) - window.innerHeight;
	if (total <= 0) { resolve(true); return; }
	const start = performance.now();
	const duration = %d;
	const step = (now) => {
		const t = Math.min(1, (now - start) / duration);
		window.scrollTo(0, total * t);
		if (t < 1) { requestAnimationFrame(step); return; }
		window.scrollTo(0, 0);
		resolve(true);
	};
	requestAnimationFrame(step);
})`, durationMs)
	return awaitEvaluate(script)
}

// imageWaitAction waits for in-flight <img> loads, bounded per page so
// one broken image cannot stall the capture.
func (b *Browser) imageWaitAction() chromedp.Action {
	script := fmt.Sprintf(`new Promise((resolve) => {
	const imgs = Array.from(document.images).filter((img) => !img.complete);
	if (imgs.length === 0) { resolve(true); return; }
	let pending = imgs.length;
	const done = () => { if (--pending === 0) resolve(true); };
	for (const img of imgs) {
		img.addEventListener('load', done, { once: true });
		img.addEventListener('error', done, { once: true });
	}
	setTimeout(() => resolve(true), %d);
})`, b.cfg.ImageWaitTimeout.Milliseconds())
	return awaitEvaluate(script)
}

func awaitEvaluate(script string) chromedp.Action {
	var ok bool
	return chromedp.Evaluate(script, &ok,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		})
}

func (b *Browser) screenshotAction(req screenshot.CaptureRequest, out *[]byte) chromedp.Action {
	switch {
	case req.Selector != "":
		return b.elementScreenshot(req, out)
	case req.FullPage:
		return b.pageScreenshot(req, out, true)
	default:
		return b.pageScreenshot(req, out, false)
	}
}

func (b *Browser) pageScreenshot(req screenshot.CaptureRequest, out *[]byte, fullPage bool) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		params := page.CaptureScreenshot().
			WithFormat(captureFormat(req.Format)).
			WithFromSurface(true).
			WithCaptureBeyondViewport(fullPage)
		if req.Format != screenshot.FormatPNG {
			params = params.WithQuality(int64(req.Quality))
		}
		data, err := params.Do(ctx)
		if err != nil {
			return fmt.Errorf("capture screenshot: %w", err)
		}
		*out = data
		return nil
	})
}

// elementScreenshot clips the capture to the first element matching the
// selector. Waiting for visibility first means an eventually rendered
// element still gets captured within the navigation budget.
func (b *Browser) elementScreenshot(req screenshot.CaptureRequest, out *[]byte) chromedp.Action {
	type rect struct {
		X      float64 `json:"x"`
		Y      float64 `json:"y"`
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	}
	var box rect
	script := fmt.Sprintf(`(() => {
	const el = document.querySelector(%q);
	const r = el.getBoundingClientRect();
	return {
		x: r.x + window.scrollX,
		y: r.y + window.scrollY,
		width: r.width,
		height: r.height,
	};
})()`, req.Selector)

	return chromedp.Tasks{
		chromedp.WaitVisible(req.Selector, chromedp.ByQuery),
		chromedp.Evaluate(script, &box),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if box.Width <= 0 || box.Height <= 0 {
				return fmt.Errorf("element %q has no visible box", req.Selector)
			}
			params := page.CaptureScreenshot().
				WithFormat(captureFormat(req.Format)).
				WithFromSurface(true).
				WithCaptureBeyondViewport(true).
				WithClip(&page.Viewport{
					X:      box.X,
					Y:      box.Y,
					Width:  box.Width,
					Height: box.Height,
					Scale:  1,
				})
			if req.Format != screenshot.FormatPNG {
				params = params.WithQuality(int64(req.Quality))
			}
			data, err := params.Do(ctx)
			if err != nil {
				return fmt.Errorf("capture element screenshot: %w", err)
			}
			*out = data
			return nil
		}),
	}
}

func captureFormat(f screenshot.Format) page.CaptureScreenshotFormat {
	switch f {
	case screenshot.FormatJPEG:
		return page.CaptureScreenshotFormatJpeg
	case screenshot.FormatWebP:
		return page.CaptureScreenshotFormatWebp
	default:
		return page.CaptureScreenshotFormatPng
	}
}

// idleTracker counts in-flight network requests for the best-effort
// network idle wait.
type idleTracker struct {
	mu       sync.Mutex
	inflight map[network.RequestID]struct{}
	last     time.Time
}

func newIdleTracker() *idleTracker {
	return &idleTracker{
		inflight: make(map[network.RequestID]struct{}),
		last:     time.Now(),
	}
}

func (t *idleTracker) listen(tabCtx context.Context) {
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			t.mu.Lock()
			t.inflight[e.RequestID] = struct{}{}
			t.last = time.Now()
			t.mu.Unlock()
		case *network.EventLoadingFinished:
			t.settle(e.RequestID)
		case *network.EventLoadingFailed:
			t.settle(e.RequestID)
		}
	})
}

func (t *idleTracker) settle(id network.RequestID) {
	t.mu.Lock()
	delete(t.inflight, id)
	t.last = time.Now()
	t.mu.Unlock()
}

// wait blocks until the network has been quiet for the given window, or
// the budget or context runs out.
func (t *idleTracker) wait(ctx context.Context, quiet, budget time.Duration) {
	deadline := time.Now().Add(budget)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if time.Now().After(deadline) {
			return
		}
		t.mu.Lock()
		idle := len(t.inflight) == 0 && time.Since(t.last) >= quiet
		t.mu.Unlock()
		if idle {
			return
		}
	}
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
