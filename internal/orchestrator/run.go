package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/web-agent/web-agent/internal/adapter"
	"github.com/web-agent/web-agent/internal/drafter"
	"github.com/web-agent/web-agent/internal/store"
)

const (
	DefaultMaxThreads = 10
	DefaultReadDelay  = 2 * time.Second

	// FailedDraftPrefix marks the stored text of a draft whose generation failed.
	FailedDraftPrefix = "[DRAFT FAILED] "
)

type RunOptions struct {
	Site    string
	Adapter adapter.SiteAdapter
	Store   Store
	Drafter Drafter

	// DryRun is reported in the result and logs. Drafts are still stored so
	// they can be reviewed; sending is a separate step.
	DryRun     bool
	MaxThreads int           // 0 means DefaultMaxThreads
	ReadDelay  time.Duration // 0 means DefaultReadDelay, negative disables

	MaxMessages int // per-thread context passed to the drafter, see Trim
	MaxChars    int

	RunID   string // lock holder; generated when empty
	LockTTL time.Duration
	Logger  *slog.Logger
	Sleep   SleepFunc
}

type RunResult struct {
	RunID            string   `json:"run_id"`
	DryRun           bool     `json:"dry_run"`
	ThreadsProcessed int      `json:"threads_processed"`
	DraftsCreated    int      `json:"drafts_created"`
	Errors           []string `json:"errors"`
}

func (o *RunOptions) setDefaults() {
	if o.MaxThreads <= 0 {
		o.MaxThreads = DefaultMaxThreads
	}
	o.ReadDelay = resolveDelay(o.ReadDelay, DefaultReadDelay)
	if o.RunID == "" {
		o.RunID = uuid.NewString()
	}
	if o.LockTTL <= 0 {
		o.LockTTL = DefaultLockTTL
	}
	if o.Logger == nil {
		o.Logger = discardLogger()
	}
	if o.Sleep == nil {
		o.Sleep = Sleep
	}
}

// Run drafts replies for up to MaxThreads unread threads of one site. It
// never returns an error: per-thread failures are listed in Errors and the
// loop continues; failures that stop the run are listed once as "Fatal: ...".
func Run(ctx context.Context, opts RunOptions) RunResult {
	opts.setDefaults()
	log := opts.Logger.With("site", opts.Site, "run_id", opts.RunID)
	res := RunResult{RunID: opts.RunID, DryRun: opts.DryRun, Errors: []string{}}

	abort := func(err error) RunResult {
		log.Error("run aborted", "error", err)
		res.Errors = append(res.Errors, "Fatal: "+err.Error())
		return res
	}

	log.Info("starting run", "dry_run", opts.DryRun, "max_threads", opts.MaxThreads)
	if opts.DryRun {
		log.Info("dry run: drafts are stored for review, nothing is sent")
	}

	if err := opts.Store.AcquireSiteLock(ctx, opts.Site, opts.RunID, opts.LockTTL); err != nil {
		return abort(err)
	}
	defer func() {
		if err := opts.Store.ReleaseSiteLock(context.WithoutCancel(ctx), opts.Site, opts.RunID); err != nil {
			log.Warn("failed to release site lock", "error", err)
		}
	}()

	threads, err := opts.Adapter.ListUnreadThreads(ctx)
	if err != nil {
		return abort(err)
	}
	log.Info("fetched unread threads", "count", len(threads))
	if len(threads) > opts.MaxThreads {
		threads = threads[:opts.MaxThreads]
	}

	visited := false
	for _, t := range threads {
		if err := ctx.Err(); err != nil {
			return abort(err)
		}

		recent, err := opts.Store.CheckRecentDraft(ctx, t.ThreadID, opts.Site, store.DedupWindowHours)
		if err != nil {
			return abort(err)
		}
		if recent != nil {
			log.Info("skipping recently handled thread", "thread", t.ThreadID, "draft", recent.ID, "status", recent.Status)
			continue
		}

		if visited {
			if err := opts.Sleep(ctx, opts.ReadDelay); err != nil {
				return abort(err)
			}
		}
		visited = true

		if err := processThread(ctx, &opts, log, t, &res); err != nil {
			if fatal(ctx, err) {
				return abort(err)
			}
			log.Error("failed to process thread", "thread", t.ThreadID, "error", err)
			res.Errors = append(res.Errors, fmt.Sprintf("Thread %s: %v", t.ThreadID, err))
		}
	}

	log.Info("run complete", "threads_processed", res.ThreadsProcessed, "drafts_created", res.DraftsCreated, "errors", len(res.Errors))
	return res
}

// processThread reads, drafts and stores one thread. A drafting failure is
// stored as a failed draft and recorded in res, not returned.
func processThread(ctx context.Context, opts *RunOptions, log *slog.Logger, t adapter.Thread, res *RunResult) error {
	log.Info("reading thread", "thread", t.ThreadID)
	detail, err := opts.Adapter.ReadThread(ctx, t.ThreadID)
	if err != nil {
		return err
	}

	messages := Trim(detail.Messages, opts.MaxMessages, opts.MaxChars)

	log.Info("drafting reply", "thread", t.ThreadID, "messages", len(messages))
	reply, draftErr := opts.Drafter.DraftReply(ctx, drafter.Input{ThreadID: t.ThreadID, Messages: messages})
	if draftErr != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	d := &store.Draft{ThreadID: t.ThreadID, Site: opts.Site}
	if draftErr == nil {
		d.DraftText = reply.Draft
		d.Confidence = store.Confidence(reply.Confidence)
		d.RequiresReview = d.Confidence == store.ConfidenceLow
	} else {
		var raw string
		var pe *drafter.ParseError
		if errors.As(draftErr, &pe) {
			raw = pe.RawOutput
		}
		d.DraftText = FailedDraftPrefix + raw
		d.Confidence = store.ConfidenceLow
		d.RequiresReview = true
		d.Error = draftErr.Error()
	}

	if _, err := opts.Store.InsertDraft(ctx, d); err != nil {
		return err
	}
	res.ThreadsProcessed++

	if draftErr != nil {
		log.Warn("drafting failed, stored for review", "thread", t.ThreadID, "draft", d.ID, "error", draftErr)
		res.Errors = append(res.Errors, fmt.Sprintf("Thread %s: %v", t.ThreadID, draftErr))
		return nil
	}
	res.DraftsCreated++
	log.Info("draft stored", "thread", t.ThreadID, "draft", d.ID, "confidence", d.Confidence)
	return nil
}
