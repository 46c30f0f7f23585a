package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"page-verifier/config"
	"page-verifier/logging"
	"page-verifier/screenshot"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// errVerificationFailed makes a failed check exit non-zero under --strict
var errVerificationFailed = errors.New("verification failed")

// launcherFactory builds the browser launcher; tests swap in a fake
type launcherFactory func(cfg *config.Config, logger *zap.Logger) screenshot.Launcher

func chromeLauncher(cfg *config.Config, logger *zap.Logger) screenshot.Launcher {
	return screenshot.NewChromeLauncher(cfg, logger)
}

type options struct {
	configPath        string
	url               string
	waitFor           string
	output            string
	timeout           int
	navigationTimeout int
	width             int
	height            int
	format            string
	quality           int
	fullPage          bool
	headless          bool
	chromePath        string
	remoteURL         string
	logLevel          string
	strict            bool
}

func newRootCommand(newLauncher launcherFactory, logOut io.Writer) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "page-verifier",
		Short: "Load a page, wait until it is ready and save a screenshot",
		Long: `page-verifier opens a URL in headless Chrome, waits until a readiness
condition holds and saves a screenshot as evidence.

With no arguments it checks that the game at http://localhost:3000 shows
"Start Game" and writes verification/start_menu.png.

Readiness conditions:
  text=Start Game     element text contains "Start Game" (case-insensitive)
  text="Start Game"   element text is exactly "Start Game"
  css=#menu button    CSS selector (also the default for bare selectors)
  xpath=//button      XPath expression (also any condition starting with //)`,
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(cmd, opts)
			if err != nil {
				return err
			}

			logger, err := logging.New(opts.logLevel, logOut)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			target, err := screenshot.TargetFromConfig(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			verifier := screenshot.NewVerifier(cfg, newLauncher(cfg, logger), logger)
			result := verifier.Verify(ctx, target)
			if err := screenshot.Report(cmd.OutOrStdout(), result); err != nil {
				return fmt.Errorf("failed to report result: %w", err)
			}

			if !result.Success && opts.strict {
				return errVerificationFailed
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to a JSON or YAML configuration file")
	flags.StringVarP(&opts.url, "url", "u", config.DefaultURL, "URL of the page to verify")
	flags.StringVarP(&opts.waitFor, "wait-for", "w", config.DefaultWaitFor, "Readiness condition to wait for")
	flags.StringVarP(&opts.output, "output", "o", config.DefaultOutputPath, "Where to save the screenshot")
	flags.IntVar(&opts.timeout, "timeout", config.DefaultTimeout, "Readiness wait in milliseconds")
	flags.IntVar(&opts.navigationTimeout, "navigation-timeout", 0, "Page load limit in milliseconds (defaults to --timeout)")
	flags.IntVar(&opts.width, "width", 1280, "Viewport width")
	flags.IntVar(&opts.height, "height", 720, "Viewport height")
	flags.StringVar(&opts.format, "format", "", "Image format: png or jpeg (defaults to the output extension)")
	flags.IntVar(&opts.quality, "quality", 80, "JPEG quality, 1-100")
	flags.BoolVar(&opts.fullPage, "full-page", false, "Capture the whole document instead of the viewport")
	flags.BoolVar(&opts.headless, "headless", true, "Run Chrome without a window")
	flags.StringVar(&opts.chromePath, "chrome-path", "", "Chrome executable (overrides CHROME_PATH and discovery)")
	flags.StringVar(&opts.remoteURL, "remote", "", "DevTools endpoint of a running browser, e.g. http://localhost:9222")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Diagnostic log level on stderr: debug, info, warn, error")
	flags.BoolVar(&opts.strict, "strict", false, "Exit with status 1 when verification fails")

	return cmd
}

// buildConfig layers explicitly set flags over the config file (or the
// built-in defaults) and validates the result
func buildConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg := &config.Config{}
	if opts.configPath != "" {
		var err error
		if cfg, err = config.ReadConfig(opts.configPath); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.URL = opts.url
	}
	if flags.Changed("wait-for") {
		cfg.WaitFor = opts.waitFor
	}
	if flags.Changed("output") {
		cfg.Output = opts.output
	}
	if flags.Changed("timeout") {
		cfg.Timeout = opts.timeout
	}
	if flags.Changed("navigation-timeout") {
		cfg.NavigationTimeout = opts.navigationTimeout
	}
	if flags.Changed("width") || flags.Changed("height") {
		if cfg.Viewport.Width == 0 && cfg.Viewport.Height == 0 {
			cfg.Viewport = config.Viewport{Width: 1280, Height: 720}
		}
		if flags.Changed("width") {
			cfg.Viewport.Width = opts.width
		}
		if flags.Changed("height") {
			cfg.Viewport.Height = opts.height
		}
	}
	if flags.Changed("format") {
		cfg.FileFormat = opts.format
	}
	if flags.Changed("quality") {
		cfg.Quality = opts.quality
	}
	if flags.Changed("full-page") {
		cfg.FullPage = opts.fullPage
	}
	if flags.Changed("headless") {
		headless := opts.headless
		cfg.Headless = &headless
	}
	if flags.Changed("chrome-path") {
		cfg.ChromePath = opts.chromePath
	}
	if flags.Changed("remote") {
		cfg.RemoteURL = opts.remoteURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func main() {
	cmd := newRootCommand(chromeLauncher, os.Stderr)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, errVerificationFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
