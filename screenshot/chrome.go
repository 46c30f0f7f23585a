package screenshot

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"page-verifier/config"
	"page-verifier/readiness"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// FindChromeExecutable attempts to locate the Chrome executable on the system
func FindChromeExecutable() (string, error) {
	// Check for environment variable first
	if envPath := os.Getenv("CHROME_PATH"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
	}

	var paths []string
	switch runtime.GOOS {
	case "darwin":
		paths = []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Google Chrome Canary.app/Contents/MacOS/Google Chrome Canary",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		}
	case "windows":
		paths = []string{
			filepath.Join(os.Getenv("ProgramFiles"), "Google/Chrome/Application/chrome.exe"),
			filepath.Join(os.Getenv("ProgramFiles(x86)"), "Google/Chrome/Application/chrome.exe"),
			filepath.Join(os.Getenv("LocalAppData"), "Google/Chrome/Application/chrome.exe"),
		}
	case "linux":
		paths = []string{
			"/usr/bin/google-chrome",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/snap/bin/chromium",
		}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	for _, name := range []string{"google-chrome", "chromium", "chromium-browser"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("could not find Chrome executable")
}

// ChromeLauncher starts a dedicated headless Chrome per verification, or
// opens a tab in a remote browser when RemoteURL is configured
type ChromeLauncher struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewChromeLauncher creates a launcher for the browser settings in cfg
func NewChromeLauncher(cfg *config.Config, logger *zap.Logger) *ChromeLauncher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromeLauncher{cfg: cfg, logger: logger}
}

// allocator picks the browser to drive. Priority: remote endpoint,
// configured executable, discovered executable, chromedp's own lookup.
func (l *ChromeLauncher) allocator(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if l.cfg.RemoteURL != "" {
		l.logger.Info("Using remote Chrome", zap.String("endpoint", l.cfg.RemoteURL))
		allocCtx, cancel := chromedp.NewRemoteAllocator(ctx, l.cfg.RemoteURL)
		return allocCtx, cancel, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(l.cfg.Viewport.Width, l.cfg.Viewport.Height),
		chromedp.DisableGPU,
		chromedp.NoSandbox,
	)
	if !l.cfg.IsHeadless() {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	if l.cfg.ChromePath != "" {
		if _, err := os.Stat(l.cfg.ChromePath); err != nil {
			return nil, nil, fmt.Errorf("chrome executable %s: %w", l.cfg.ChromePath, err)
		}
		opts = append(opts, chromedp.ExecPath(l.cfg.ChromePath))
		l.logger.Debug("Using configured Chrome executable", zap.String("path", l.cfg.ChromePath))
	} else if execPath, err := FindChromeExecutable(); err == nil {
		opts = append(opts, chromedp.ExecPath(execPath))
		l.logger.Debug("Using local Chrome executable", zap.String("path", execPath))
	} else {
		l.logger.Debug("Local Chrome not found, falling back to default Chrome settings", zap.Error(err))
	}

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	return allocCtx, cancel, nil
}

// Launch starts the browser and opens a tab sized to the configured viewport
func (l *ChromeLauncher) Launch(ctx context.Context) (Page, func(), error) {
	allocCtx, cancelAlloc, err := l.allocator(ctx)
	if err != nil {
		return nil, nil, err
	}

	sugar := l.logger.Sugar()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Warnf),
	)

	release := func() {
		cancelBrowser()
		cancelAlloc()
	}

	// The first Run starts the browser
	if err := chromedp.Run(browserCtx,
		emulation.SetDeviceMetricsOverride(int64(l.cfg.Viewport.Width), int64(l.cfg.Viewport.Height), 1, false),
	); err != nil {
		release()
		return nil, nil, fmt.Errorf("failed to start browser: %w", err)
	}

	return &chromePage{ctx: browserCtx, cfg: l.cfg, logger: l.logger}, release, nil
}

// chromePage is a tab driven through chromedp
type chromePage struct {
	ctx    context.Context
	cfg    *config.Config
	logger *zap.Logger
}

// run executes actions on the tab, bounded by the deadline and
// cancellation of ctx. Cancelling the derived context ends the actions
// without closing the tab.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil && runCtx.Err() != nil {
		// Report the caller's reason rather than the derived context's
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	return err
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	var tasks []chromedp.Action

	if len(p.cfg.Cookies) > 0 {
		p.logger.Debug("Setting cookies", zap.Int("count", len(p.cfg.Cookies)))
		tasks = append(tasks, chromedp.ActionFunc(func(ctx context.Context) error {
			for _, cookie := range p.cfg.Cookies {
				domain := cookie.Domain
				if domain == "" {
					domain = cookieDomain(url)
				}
				path := cookie.Path
				if path == "" {
					path = "/"
				}

				err := network.SetCookie(cookie.Name, cookie.Value).
					WithDomain(domain).
					WithPath(path).
					WithHTTPOnly(cookie.HTTPOnly).
					WithSecure(cookie.Secure).
					Do(ctx)
				if err != nil {
					return fmt.Errorf("failed to set cookie %s: %w", cookie.Name, err)
				}
			}
			return nil
		}))
	}

	tasks = append(tasks, chromedp.Navigate(url))

	// localStorage is per origin, so it can only be seeded once the page is
	// open; the reload lets the app start with the seeded values
	if len(p.cfg.LocalStorage) > 0 {
		p.logger.Debug("Setting localStorage items", zap.Int("count", len(p.cfg.LocalStorage)))
		for _, item := range p.cfg.LocalStorage {
			js := fmt.Sprintf(`localStorage.setItem("%s", "%s")`,
				escapeJSString(item.Key), escapeJSString(item.Value))
			tasks = append(tasks, chromedp.Evaluate(js, nil))
		}
		tasks = append(tasks, chromedp.Reload())
	}

	return p.run(ctx, tasks...)
}

// visibleMatchFunction reports whether any element matching the selector
// is rendered. Text nodes returned by an XPath count through their parent.
const visibleMatchFunction = `(selector, kind) => {
	const nodes = [];
	if (kind === "css") {
		nodes.push(...document.querySelectorAll(selector));
	} else {
		const found = document.evaluate(selector, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
		for (let i = 0; i < found.snapshotLength; i++) {
			nodes.push(found.snapshotItem(i));
		}
	}
	return nodes.some((node) => {
		const el = node.nodeType === Node.ELEMENT_NODE ? node : node.parentElement;
		if (!el) {
			return false;
		}
		const style = getComputedStyle(el);
		if (style.visibility === "hidden" || style.display === "none") {
			return false;
		}
		const rect = el.getBoundingClientRect();
		return rect.width > 0 && rect.height > 0;
	});
}`

// WaitFor polls until at least one match is visible. The caller's context
// bounds the wait, so the poll itself has no timeout.
func (p *chromePage) WaitFor(ctx context.Context, cond readiness.Condition) error {
	var ready bool
	return p.run(ctx, chromedp.PollFunction(visibleMatchFunction, &ready,
		chromedp.WithPollingArgs(cond.Selector, pollKind(cond.Kind)),
		chromedp.WithPollingInterval(100*time.Millisecond),
		chromedp.WithPollingTimeout(0),
	))
}

// pollKind maps a condition onto the lookup used by visibleMatchFunction
func pollKind(kind readiness.Kind) string {
	if kind == readiness.CSS {
		return "css"
	}
	return "xpath"
}

func (p *chromePage) Capture(ctx context.Context, opts CaptureOptions) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		if opts.FullPage {
			if err := p.expandToFullPage(ctx); err != nil {
				return err
			}
		}

		params := page.CaptureScreenshot().WithFromSurface(true)
		if opts.Format == "jpeg" {
			params = params.WithFormat(page.CaptureScreenshotFormatJpeg).WithQuality(int64(opts.Quality))
		} else {
			params = params.WithFormat(page.CaptureScreenshotFormatPng)
		}

		var err error
		buf, err = params.Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// expandToFullPage grows the emulated viewport to the document size so the
// next capture includes content below the fold
func (p *chromePage) expandToFullPage(ctx context.Context) error {
	var size struct {
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	}
	if err := chromedp.Evaluate(`({
		width: Math.max(document.body.scrollWidth, document.documentElement.scrollWidth),
		height: Math.max(document.body.scrollHeight, document.documentElement.scrollHeight),
	})`, &size).Do(ctx); err != nil {
		return fmt.Errorf("failed to measure page: %w", err)
	}

	width := int64(math.Max(size.Width, float64(p.cfg.Viewport.Width)))
	height := int64(math.Max(size.Height, float64(p.cfg.Viewport.Height)))
	return emulation.SetDeviceMetricsOverride(width, height, 1, false).Do(ctx)
}
