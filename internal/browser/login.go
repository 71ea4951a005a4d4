package browser

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/web-agent/web-agent/internal/session"
)

// RecordLogin opens a visible browser at loginURL and calls wait while the
// operator signs in. In storage mode the resulting state is saved to the
// session's state path; in profile mode the profile directory keeps it.
func RecordLogin(ctx context.Context, cfg Config, sess *session.Session, loginURL string, wait func() error, logger *slog.Logger) error {
	cfg.Headless = false
	cfg.Timeout = 0

	// an old state file is not restored; the login replaces it
	b, err := launch(ctx, cfg, sess, logger, false)
	if err != nil {
		return err
	}
	defer b.Close()

	if err := b.Navigate(ctx, loginURL); err != nil {
		return fmt.Errorf("failed to open login page: %w", err)
	}

	if err := wait(); err != nil {
		return err
	}

	if sess.Mode() == session.ModeStorage {
		return b.SaveStorageState(ctx, sess.StatePath())
	}
	return nil
}
