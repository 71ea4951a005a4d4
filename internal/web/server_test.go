package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/web-agent/web-agent/internal/site"
	"github.com/web-agent/web-agent/internal/store"
)

var testDay = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	server    *httptest.Server
	client    *http.Client
	store     *store.Store
	reviewDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "web-agent.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	sites, err := site.Builtin()
	if err != nil {
		t.Fatal(err)
	}

	reviewDir := filepath.Join(dir, "reviews")
	srv, err := NewServer(Options{
		Port:  8420,
		Store: st,
		Sites: sites,
		ReviewPath: func(site string, day time.Time) string {
			return filepath.Join(reviewDir, "review-"+site+"-"+day.Format("2006-01-02")+".md")
		},
		CSRFKey: []byte("0123456789abcdef0123456789abcdef"),
		Now:     func() time.Time { return testDay },
	})
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Shutdown(context.Background())
	})

	jar, _ := cookiejar.New(nil)
	return &testEnv{server: ts, client: &http.Client{Jar: jar}, store: st, reviewDir: reviewDir}
}

func (e *testEnv) insert(t *testing.T, d store.Draft) store.Draft {
	t.Helper()
	if d.Confidence == "" {
		d.Confidence = store.ConfidenceHigh
	}
	if _, err := e.store.InsertDraft(context.Background(), &d); err != nil {
		t.Fatal(err)
	}
	return d
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := e.client.Get(e.server.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, body
}

func (e *testEnv) post(t *testing.T, path, token string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.server.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("X-CSRF-Token", token)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, body
}

func decode(t *testing.T, body []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(body, v); err != nil {
		t.Fatalf("decode %q: %v", body, err)
	}
}

func TestAPIDrafts(t *testing.T) {
	env := newTestEnv(t)
	env.insert(t, store.Draft{ThreadID: "t1", Site: "spare-room", DraftText: "one"})
	env.insert(t, store.Draft{ThreadID: "t2", Site: "spare-room", DraftText: "two", Confidence: store.ConfidenceLow, RequiresReview: true})
	env.insert(t, store.Draft{ThreadID: "t3", Site: "elsewhere", DraftText: "three"})

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantCount int
	}{
		{"all", "", http.StatusOK, 3},
		{"by site", "?site=spare-room", http.StatusOK, 2},
		{"by status", "?status=pending", http.StatusOK, 3},
		{"no sent yet", "?status=sent", http.StatusOK, 0},
		{"limit", "?limit=1", http.StatusOK, 1},
		{"bad status", "?status=bogus", http.StatusBadRequest, 0},
		{"bad limit", "?limit=-3", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.get(t, "/api/drafts"+tt.query)
			if resp.StatusCode != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", resp.StatusCode, tt.wantCode, body)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var out struct {
				Drafts []draftView `json:"drafts"`
				Count  int         `json:"count"`
			}
			decode(t, body, &out)
			if out.Count != tt.wantCount || len(out.Drafts) != tt.wantCount {
				t.Errorf("count = %d (%d drafts), want %d", out.Count, len(out.Drafts), tt.wantCount)
			}
		})
	}
}

func TestAPIDraft(t *testing.T) {
	env := newTestEnv(t)
	d := env.insert(t, store.Draft{ThreadID: "t1", Site: "spare-room", DraftText: "Hello"})

	resp, body := env.get(t, "/api/drafts/1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var got draftView
	decode(t, body, &got)
	if got.ID != d.ID || got.ThreadID != "t1" || got.Status != "pending" || got.Confidence != "high" {
		t.Errorf("draft = %+v", got)
	}
	if got.ApprovedAt != nil || got.SentAt != nil {
		t.Error("unset timestamps should be omitted")
	}
	if strings.Contains(string(body), "approved_at") {
		t.Errorf("body has approved_at: %s", body)
	}

	if resp, _ := env.get(t, "/api/drafts/99"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing draft status = %d", resp.StatusCode)
	}
	if resp, _ := env.get(t, "/api/drafts/abc"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad id status = %d", resp.StatusCode)
	}
}

func TestAPIStats(t *testing.T) {
	env := newTestEnv(t)
	d := env.insert(t, store.Draft{ThreadID: "t1", Site: "spare-room", DraftText: "one"})
	env.insert(t, store.Draft{ThreadID: "t2", Site: "spare-room", DraftText: "two"})
	if err := env.store.UpdateStatus(context.Background(), d.ID, store.StatusFailed, "boom"); err != nil {
		t.Fatal(err)
	}

	_, body := env.get(t, "/api/stats?site=spare-room")
	var st statsView
	decode(t, body, &st)
	if st.Total != 2 || st.Pending != 1 || st.Failed != 1 || st.Site != "spare-room" {
		t.Errorf("stats = %+v", st)
	}
}

func TestReviewDocument(t *testing.T) {
	env := newTestEnv(t)
	env.insert(t, store.Draft{ThreadID: "t1", Site: "spare-room", DraftText: "Room is free"})

	resp, body := env.get(t, "/review/spare-room")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("Content-Type = %q", ct)
	}
	doc := string(body)
	for _, want := range []string{"# Review: spare-room - 2024-05-01", "## Draft 1", "Room is free", "review-spare-room-2024-05-01.md"} {
		if !strings.Contains(doc, want) {
			t.Errorf("document missing %q", want)
		}
	}
	if _, err := os.Stat(env.reviewDir); !os.IsNotExist(err) {
		t.Error("preview should not write a file")
	}

	if resp, _ := env.get(t, "/review/nowhere"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown site status = %d", resp.StatusCode)
	}
}

func TestGenerateReviewRequiresCSRF(t *testing.T) {
	env := newTestEnv(t)
	env.insert(t, store.Draft{ThreadID: "t1", Site: "spare-room", DraftText: "one"})
	env.insert(t, store.Draft{ThreadID: "t2", Site: "spare-room", DraftText: "two"})

	resp, _ := env.post(t, "/api/review/spare-room", "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("without token status = %d, want 403", resp.StatusCode)
	}

	_, body := env.get(t, "/api/csrf")
	var tok struct {
		Token string `json:"token"`
	}
	decode(t, body, &tok)
	if tok.Token == "" {
		t.Fatal("empty CSRF token")
	}

	resp, body = env.post(t, "/api/review/spare-room", tok.Token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var out struct {
		Count int    `json:"count"`
		Path  string `json:"path"`
	}
	decode(t, body, &out)
	want := filepath.Join(env.reviewDir, "review-spare-room-2024-05-01.md")
	if out.Count != 2 || out.Path != want {
		t.Errorf("result = %+v, want count 2 at %s", out, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("review file not written: %v", err)
	}

	resp, body = env.post(t, "/api/review/nowhere", tok.Token)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown site status = %d: %s", resp.StatusCode, body)
	}
}

func TestDashboard(t *testing.T) {
	env := newTestEnv(t)
	env.insert(t, store.Draft{ThreadID: "t1", Site: "spare-room", DraftText: "<script>alert(1)</script>"})

	resp, body := env.get(t, "/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	page := string(body)
	if !strings.Contains(page, "gorilla.csrf.Token") {
		t.Error("page has no CSRF field")
	}
	if strings.Contains(page, "<script>alert(1)</script>") {
		t.Error("draft text not escaped")
	}
	if !strings.Contains(page, `action="/api/review/spare-room"`) {
		t.Error("page has no review form")
	}
}

func TestSecurityHeaders(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.get(t, "/api/stats")
	for header, want := range map[string]string{
		"X-Frame-Options":        "DENY",
		"X-Content-Type-Options": "nosniff",
		"Cache-Control":          "no-store, no-cache, must-revalidate, private",
	} {
		if got := resp.Header.Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("a") {
		t.Error("third request inside the window should be refused")
	}
	if !rl.Allow("b") {
		t.Error("keys are limited independently")
	}

	now = now.Add(61 * time.Second)
	if !rl.Allow("a") {
		t.Error("request after the window should pass")
	}
	rl.Stop()
}
