package screenshot

import (
	"context"
	"fmt"
	"time"

	"page-verifier/config"
	"page-verifier/readiness"

	"go.uber.org/zap"
)

// Target is what a verification checks: load URL, wait for Condition,
// save the screenshot to OutputPath
type Target struct {
	URL        string
	Condition  readiness.Condition
	OutputPath string
}

// CaptureOptions controls how the screenshot is taken
type CaptureOptions struct {
	Format   string // png or jpeg
	Quality  int    // jpeg only
	FullPage bool
}

// Page is an open browser tab
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitFor(ctx context.Context, cond readiness.Condition) error
	Capture(ctx context.Context, opts CaptureOptions) ([]byte, error)
}

// Launcher acquires a browser and a tab in it. The returned release func
// frees both and must be called exactly once.
type Launcher interface {
	Launch(ctx context.Context) (Page, func(), error)
}

// Verifier drives a browser through one verification
type Verifier struct {
	Launcher    Launcher
	Capture     CaptureOptions
	NavTimeout  time.Duration
	WaitTimeout time.Duration
	Logger      *zap.Logger
}

// NewVerifier creates a Verifier configured from cfg
func NewVerifier(cfg *config.Config, launcher Launcher, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		Launcher: launcher,
		Capture: CaptureOptions{
			Format:   cfg.FileFormat,
			Quality:  cfg.Quality,
			FullPage: cfg.FullPage,
		},
		NavTimeout:  cfg.NavTimeout(),
		WaitTimeout: cfg.WaitTimeout(),
		Logger:      logger,
	}
}

// TargetFromConfig builds the verification target described by cfg
func TargetFromConfig(cfg *config.Config) (Target, error) {
	cond, err := readiness.Parse(cfg.WaitFor)
	if err != nil {
		return Target{}, fmt.Errorf("invalid readiness condition: %w", err)
	}
	return Target{URL: cfg.URL, Condition: cond, OutputPath: cfg.Output}, nil
}

// Verify loads the target page, waits for it to become ready and saves a
// screenshot. Failures are reported in the Result, never returned.
func (v *Verifier) Verify(ctx context.Context, target Target) Result {
	start := time.Now()
	log := v.Logger.With(zap.String("url", target.URL), zap.Stringer("condition", target.Condition))

	err := v.run(ctx, target, log)
	result := Result{
		Success: err == nil,
		Err:     err,
		Elapsed: time.Since(start),
	}
	if err != nil {
		log.Warn("Verification failed", zap.Error(err), zap.Duration("elapsed", result.Elapsed))
		return result
	}

	result.ScreenshotPath = target.OutputPath
	log.Info("Verification succeeded", zap.String("output", target.OutputPath), zap.Duration("elapsed", result.Elapsed))
	return result
}

func (v *Verifier) run(ctx context.Context, target Target, log *zap.Logger) error {
	fail := func(stage Stage, timeout time.Duration, err error) error {
		return &VerificationError{
			Stage:     stage,
			URL:       target.URL,
			Condition: target.Condition.String(),
			Timeout:   timeout,
			Err:       err,
		}
	}

	log.Debug("Launching browser")
	page, release, err := v.Launcher.Launch(ctx)
	if err != nil {
		return fail(StageLaunch, 0, err)
	}
	defer func() {
		release()
		log.Debug("Browser released")
	}()

	log.Debug("Navigating", zap.Duration("timeout", v.NavTimeout))
	if err := withTimeout(ctx, v.NavTimeout, func(ctx context.Context) error {
		return page.Navigate(ctx, target.URL)
	}); err != nil {
		return fail(StageNavigate, v.NavTimeout, err)
	}

	log.Debug("Waiting for readiness condition", zap.Duration("timeout", v.WaitTimeout))
	if err := withTimeout(ctx, v.WaitTimeout, func(ctx context.Context) error {
		return page.WaitFor(ctx, target.Condition)
	}); err != nil {
		return fail(StageWait, v.WaitTimeout, err)
	}

	buf, err := page.Capture(ctx, v.Capture)
	if err != nil {
		return fail(StageCapture, 0, err)
	}
	if len(buf) == 0 {
		return fail(StageCapture, 0, fmt.Errorf("browser returned an empty screenshot"))
	}

	if err := writeFileAtomic(target.OutputPath, buf); err != nil {
		return fail(StageWrite, 0, err)
	}
	log.Debug("Screenshot written", zap.Int("bytes", len(buf)))
	return nil
}

// withTimeout runs fn under a deadline; zero means no extra deadline
func withTimeout(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(ctx)
}
