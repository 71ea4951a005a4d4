package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/web-agent/web-agent/internal/adapter"
	"github.com/web-agent/web-agent/internal/drafter"
	"github.com/web-agent/web-agent/internal/store"
)

type sentReply struct {
	threadID string
	text     string
}

type fakeAdapter struct {
	mu       sync.Mutex
	threads  []adapter.Thread
	listErr  error
	details  map[string]*adapter.ThreadDetail
	readErr  map[string]error
	sendErr  map[string]error
	reads    []string
	sent     []sentReply
	attempts int
}

func (a *fakeAdapter) ListUnreadThreads(context.Context) ([]adapter.Thread, error) {
	return a.threads, a.listErr
}

func (a *fakeAdapter) ReadThread(_ context.Context, id string) (*adapter.ThreadDetail, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reads = append(a.reads, id)
	if err := a.readErr[id]; err != nil {
		return nil, &adapter.Error{Op: "read thread", ThreadID: id, Err: err}
	}
	if d, ok := a.details[id]; ok {
		return d, nil
	}
	return &adapter.ThreadDetail{ThreadID: id, Messages: []adapter.Message{{From: "Guest", Text: "Hello about " + id}}}, nil
}

func (a *fakeAdapter) SendReply(_ context.Context, id, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attempts++
	if err := a.sendErr[id]; err != nil {
		return &adapter.Error{Op: "send reply", ThreadID: id, Err: err}
	}
	a.sent = append(a.sent, sentReply{id, text})
	return nil
}

// fakeDrafter answers per thread id; unknown threads get a high-confidence draft.
type fakeDrafter struct {
	replies map[string]*drafter.Reply
	errs    map[string]error
	inputs  []drafter.Input
}

func (f *fakeDrafter) DraftReply(_ context.Context, in drafter.Input) (*drafter.Reply, error) {
	f.inputs = append(f.inputs, in)
	if err := f.errs[in.ThreadID]; err != nil {
		return nil, err
	}
	if r, ok := f.replies[in.ThreadID]; ok {
		return r, nil
	}
	return &drafter.Reply{Draft: "Reply to " + in.ThreadID, Confidence: "high"}, nil
}

// brokenStore fails inserts after the first n succeed.
type brokenStore struct {
	*store.Store
	okInserts int
}

func (b *brokenStore) InsertDraft(ctx context.Context, d *store.Draft) (int64, error) {
	if b.okInserts <= 0 {
		return 0, &store.Error{Op: "insert draft", Err: errors.New("disk I/O error")}
	}
	b.okInserts--
	return b.Store.InsertDraft(ctx, d)
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "web-agent.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type sleepRecorder struct {
	calls []time.Duration
	err   error
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.calls = append(r.calls, d)
	return r.err
}

func threads(ids ...string) []adapter.Thread {
	out := make([]adapter.Thread, len(ids))
	for i, id := range ids {
		out[i] = adapter.Thread{ThreadID: id, Preview: "preview " + id}
	}
	return out
}

func draftsFor(t *testing.T, s *store.Store, site string, status store.Status) []store.Draft {
	t.Helper()
	drafts, err := s.GetDraftsBySiteAndStatus(context.Background(), site, status)
	if err != nil {
		t.Fatal(err)
	}
	return drafts
}
