package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/web-agent/web-agent/internal/adapter"
	"github.com/web-agent/web-agent/internal/store"
)

const DefaultSendDelay = 5 * time.Second

type SendOptions struct {
	Site           string
	Adapter        adapter.SiteAdapter
	Store          Store
	ReviewFilePath string
	SendDelay      time.Duration // 0 means DefaultSendDelay, negative disables

	// DryRun counts what would be sent without touching the site or the store.
	DryRun bool

	RunID   string
	LockTTL time.Duration
	Logger  *slog.Logger
	Sleep   SleepFunc
}

type SendResult struct {
	Sent      int      `json:"sent"`
	Failed    int      `json:"failed"`
	WouldSend int      `json:"would_send,omitempty"`
	Errors    []string `json:"errors"`
}

func (o *SendOptions) setDefaults() {
	o.SendDelay = resolveDelay(o.SendDelay, DefaultSendDelay)
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

// SendApprovedReplies sends every draft left in the edited review document,
// in ascending id order. Ids unknown to the store or belonging to another
// site are skipped quietly. Drafts that are no longer pending, or whose text
// is still a failed-draft marker, are skipped with an error entry. Like Run
// it never returns an error.
func SendApprovedReplies(ctx context.Context, opts SendOptions) SendResult {
	opts.setDefaults()
	log := opts.Logger.With("site", opts.Site, "run_id", opts.RunID)
	res := SendResult{Errors: []string{}}

	abort := func(err error) SendResult {
		log.Error("send aborted", "error", err)
		res.Errors = append(res.Errors, "Fatal: "+err.Error())
		return res
	}

	log.Info("sending approved replies", "review_file", opts.ReviewFilePath, "dry_run", opts.DryRun)

	content, err := os.ReadFile(opts.ReviewFilePath)
	if err != nil {
		return abort(fmt.Errorf("failed to read review file: %w", err))
	}
	approved := ParseReview(string(content))
	log.Info("parsed approved drafts", "count", len(approved))

	ids := make([]int64, 0, len(approved))
	for id := range approved {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if !opts.DryRun {
		if err := opts.Store.AcquireSiteLock(ctx, opts.Site, opts.RunID, opts.LockTTL); err != nil {
			return abort(err)
		}
		defer func() {
			if err := opts.Store.ReleaseSiteLock(context.WithoutCancel(ctx), opts.Site, opts.RunID); err != nil {
				log.Warn("failed to release site lock", "error", err)
			}
		}()
	}

	marker := strings.TrimSpace(FailedDraftPrefix)
	attempted := false
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return abort(err)
		}

		d, err := opts.Store.GetDraft(ctx, id)
		if err != nil {
			return abort(err)
		}
		if d == nil || d.Site != opts.Site {
			log.Warn("draft not found for site, skipping", "draft", id)
			continue
		}
		if d.Status != store.StatusPending {
			res.Errors = append(res.Errors, fmt.Sprintf("Draft %d: already %s, not sending again", id, d.Status))
			continue
		}

		text := approved[id]
		if strings.HasPrefix(text, marker) {
			res.Errors = append(res.Errors, fmt.Sprintf("Draft %d: drafting failed, edit the reply before sending", id))
			continue
		}

		if opts.DryRun {
			log.Info("dry run: would send reply", "draft", id, "thread", d.ThreadID, "chars", len([]rune(text)))
			res.WouldSend++
			continue
		}

		if attempted {
			if err := opts.Sleep(ctx, opts.SendDelay); err != nil {
				return abort(err)
			}
		}
		attempted = true

		if err := sendOne(ctx, &opts, log, d, text, &res); err != nil {
			if fatal(ctx, err) {
				return abort(err)
			}
			res.Errors = append(res.Errors, fmt.Sprintf("Draft %d: %v", id, err))
		}
	}

	log.Info("send complete", "sent", res.Sent, "failed", res.Failed, "would_send", res.WouldSend, "errors", len(res.Errors))
	return res
}

// sendOne moves d through approved to sent, or to failed when the site
// rejects the reply. Send failures are counted and recorded here; the
// returned error is for store problems.
func sendOne(ctx context.Context, opts *SendOptions, log *slog.Logger, d *store.Draft, text string, res *SendResult) error {
	if err := opts.Store.UpdateStatus(ctx, d.ID, store.StatusApproved, ""); err != nil {
		return err
	}

	log.Info("sending reply", "draft", d.ID, "thread", d.ThreadID)
	if err := opts.Adapter.SendReply(ctx, d.ThreadID, text); err != nil {
		log.Error("failed to send reply", "draft", d.ID, "error", err)
		if uerr := opts.Store.UpdateStatus(context.WithoutCancel(ctx), d.ID, store.StatusFailed, err.Error()); uerr != nil {
			return uerr
		}
		res.Failed++
		res.Errors = append(res.Errors, fmt.Sprintf("Draft %d: %v", d.ID, err))
		return nil
	}

	if err := opts.Store.UpdateStatus(context.WithoutCancel(ctx), d.ID, store.StatusSent, ""); err != nil {
		return err
	}
	res.Sent++
	log.Info("reply sent", "draft", d.ID)
	return nil
}
