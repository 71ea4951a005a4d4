// Package browser launches Chrome with a site session's credentials applied.
package browser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/web-agent/web-agent/internal/session"
)

// Browser wraps a chromedp allocator and its first tab.
type Browser struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	config      Config
	logger      *slog.Logger
}

type Config struct {
	Headless     bool
	Timeout      time.Duration // per Run call
	UserAgent    string
	WindowWidth  int
	WindowHeight int
}

func DefaultConfig() Config {
	return Config{
		Headless:     true,
		Timeout:      30 * time.Second,
		UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		WindowWidth:  1366,
		WindowHeight: 900,
	}
}

// Launch starts Chrome for sess. Profile mode uses the profile as the user
// data directory. Storage mode restores the saved state file; a missing file
// is logged and the browser starts unauthenticated.
func Launch(ctx context.Context, cfg Config, sess *session.Session, logger *slog.Logger) (*Browser, error) {
	return launch(ctx, cfg, sess, logger, true)
}

func launch(ctx context.Context, cfg Config, sess *session.Session, logger *slog.Logger, restore bool) (*Browser, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("site", sess.Site(), "mode", string(sess.Mode()))

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
		chromedp.Flag("headless", cfg.Headless),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	if sess.Mode() == session.ModeProfile {
		if err := os.MkdirAll(sess.ProfilePath(), 0700); err != nil {
			return nil, fmt.Errorf("failed to create profile directory: %w", err)
		}
		logger.Info("launching with persistent profile", "path", sess.ProfilePath())
		opts = append(opts, chromedp.UserDataDir(sess.ProfilePath()))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, cancel := chromedp.NewContext(allocCtx)

	b := &Browser{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		ctx:         tabCtx,
		cancel:      cancel,
		config:      cfg,
		logger:      logger,
	}

	if err := b.start(ctx); err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	if restore && sess.Mode() == session.ModeStorage {
		state, err := ReadStorageState(sess.StatePath())
		if err != nil {
			b.Close()
			return nil, err
		}
		if state == nil {
			logger.Warn("storage state not found, continuing unauthenticated", "path", sess.StatePath())
			return b, nil
		}
		logger.Info("loading storage state", "path", sess.StatePath(), "cookies", len(state.Cookies))
		if err := b.applyStorageState(ctx, state); err != nil {
			b.Close()
			return nil, err
		}
	}
	return b, nil
}

// Close cleans up browser resources
func (b *Browser) Close() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
}

// runActions is chromedp.Run; tests replace it.
var runActions = chromedp.Run

// start allocates the browser with an empty Run on the tab context itself.
// Chrome lives as long as the context of the first Run, so that call must
// not carry a timeout or the caller's ctx.
func (b *Browser) start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return runActions(b.ctx)
}

// Run executes actions in the tab, bounded by the configured timeout and by ctx.
func (b *Browser) Run(ctx context.Context, actions ...chromedp.Action) error {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if b.config.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(b.ctx, b.config.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(b.ctx)
	}
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return runActions(runCtx, actions...)
}

// Navigate loads url and waits for the body.
func (b *Browser) Navigate(ctx context.Context, url string) error {
	b.logger.Debug("navigating", "url", url)
	return b.Run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body"))
}

// PageHTML returns the current page HTML
func (b *Browser) PageHTML(ctx context.Context) (string, error) {
	var html string
	err := b.Run(ctx, chromedp.OuterHTML("html", &html))
	return html, err
}

func (b *Browser) Logger() *slog.Logger { return b.logger }
