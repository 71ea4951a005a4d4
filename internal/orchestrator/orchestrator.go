// Package orchestrator runs the batch pipelines: drafting replies for unread
// threads, producing the review document, and sending approved replies.
package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/web-agent/web-agent/internal/drafter"
	"github.com/web-agent/web-agent/internal/store"
)

// Store is the persistence the pipelines use; *store.Store implements it.
type Store interface {
	InsertDraft(ctx context.Context, d *store.Draft) (int64, error)
	GetDraft(ctx context.Context, id int64) (*store.Draft, error)
	GetDraftsBySiteAndStatus(ctx context.Context, site string, status store.Status) ([]store.Draft, error)
	UpdateStatus(ctx context.Context, id int64, status store.Status, errText string) error
	CheckRecentDraft(ctx context.Context, threadID, site string, windowHours int) (*store.Draft, error)
	AcquireSiteLock(ctx context.Context, site, holder string, ttl time.Duration) error
	ReleaseSiteLock(ctx context.Context, site, holder string) error
}

type Drafter interface {
	DraftReply(ctx context.Context, in drafter.Input) (*drafter.Reply, error)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// DefaultLockTTL bounds how long a crashed run can keep a site locked.
const DefaultLockTTL = time.Hour

// Sleep waits for d, returning early with ctx.Err() if ctx is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// resolveDelay maps zero to def and negative values to no delay.
func resolveDelay(d, def time.Duration) time.Duration {
	switch {
	case d == 0:
		return def
	case d < 0:
		return 0
	}
	return d
}

// fatal reports errors that end a whole pipeline call rather than one item.
func fatal(ctx context.Context, err error) bool {
	return errors.Is(err, store.ErrStore) || ctx.Err() != nil
}
