// Package adapter defines the capability the pipelines need from a site:
// list unread threads, read one, and post a reply.
package adapter

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/web-agent/web-agent/internal/config"
)

type Thread struct {
	ThreadID  string    `json:"thread_id"`
	Preview   string    `json:"preview"`
	Timestamp time.Time `json:"timestamp"`
}

type Message struct {
	From      string    `json:"from"`
	Text      string    `json:"text"` // may contain markup
	Timestamp time.Time `json:"timestamp"`
}

type ThreadDetail struct {
	ThreadID string         `json:"thread_id"`
	Messages []Message      `json:"messages"` // chronological
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SiteAdapter drives one site through an authenticated browser.
type SiteAdapter interface {
	ListUnreadThreads(ctx context.Context) ([]Thread, error)
	ReadThread(ctx context.Context, threadID string) (*ThreadDetail, error)
	SendReply(ctx context.Context, threadID, text string) error
}

// Error reports a failed site operation. It is recoverable per thread or draft.
type Error struct {
	Op       string
	ThreadID string
	Err      error
}

func (e *Error) Error() string {
	if e.ThreadID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.ThreadID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Factory builds an adapter for a site from an opaque environment, usually a
// browser context.
type Factory func(env any) (SiteAdapter, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(site string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[site] = f
}

// New returns a ConfigError for a site nobody registered.
func (r *Registry) New(site string, env any) (SiteAdapter, error) {
	r.mu.RLock()
	f, ok := r.factories[site]
	r.mu.RUnlock()
	if !ok {
		return nil, &config.ConfigError{Field: "site", Reason: fmt.Sprintf("no adapter for %q (known: %v)", site, r.Sites())}
	}
	return f(env)
}

func (r *Registry) Sites() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sites := make([]string, 0, len(r.factories))
	for s := range r.factories {
		sites = append(sites, s)
	}
	sort.Strings(sites)
	return sites
}
