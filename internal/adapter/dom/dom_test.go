package dom

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"

	"github.com/web-agent/web-agent/internal/adapter"
	"github.com/web-agent/web-agent/internal/site"
)

const inboxHTML = `<html><body>
<ul>
  <li class="message-thread unread" data-thread-id="1001">
    <a class="thread-link" href="/messages/1001">Anna</a>
    <p class="thread-preview">  Is the room
      still available? </p>
    <time class="thread-timestamp" datetime="2024-03-01T09:30:00Z">1 Mar</time>
  </li>
  <li class="message-thread">
    <a class="thread-link" href="/messages/1002">Read already</a>
  </li>
  <li class="message-thread unread">
    <a class="thread-link" href="/messages/1003/?ref=inbox">Ben</a>
    <span class="thread-timestamp">2024-03-02 18:05</span>
  </li>
  <li class="message-thread unread"><span class="thread-preview">no id here</span></li>
</ul>
</body></html>`

const threadHTML = `<html><body>
<div class="sidebar"><div class="message-item"><span class="message-text">advert, not a message</span></div></div>
<div class="messages-container">
  <div class="message-item">
    <span class="message-sender">Anna</span>
    <div class="message-text">Hi, is the <b>double room</b> free?</div>
    <span class="message-timestamp">01/03/2024 09:30</span>
  </div>
  <div class="message-item">
    <span class="message-sender">You</span>
    <div class="message-text">   </div>
  </div>
  <div class="message-item">
    <span class="message-sender">You</span>
    <div class="message-text">Yes &amp; viewings are open.</div>
  </div>
</div>
</body></html>`

func spareRoom(t *testing.T) *site.Site {
	t.Helper()
	cat, err := site.Builtin()
	if err != nil {
		t.Fatal(err)
	}
	return cat.FindByID("spare-room")
}

func doc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	d, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestParseThreadList(t *testing.T) {
	threads := ParseThreadList(doc(t, inboxHTML), spareRoom(t).Selectors)
	if len(threads) != 2 {
		t.Fatalf("got %d threads, want 2: %+v", len(threads), threads)
	}

	if threads[0].ThreadID != "1001" || threads[0].Preview != "Is the room still available?" {
		t.Errorf("thread 0 = %+v", threads[0])
	}
	if !threads[0].Timestamp.Equal(time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)) {
		t.Errorf("thread 0 timestamp = %v", threads[0].Timestamp)
	}
	if threads[1].ThreadID != "1003" {
		t.Errorf("thread 1 id = %q, want id from link", threads[1].ThreadID)
	}
	if !threads[1].Timestamp.Equal(time.Date(2024, 3, 2, 18, 5, 0, 0, time.UTC)) {
		t.Errorf("thread 1 timestamp = %v", threads[1].Timestamp)
	}
}

func TestParseThread(t *testing.T) {
	detail, err := ParseThread(doc(t, threadHTML), "1001", spareRoom(t).Selectors)
	if err != nil {
		t.Fatalf("ParseThread: %v", err)
	}
	if len(detail.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(detail.Messages))
	}
	first := detail.Messages[0]
	if first.From != "Anna" || first.Text != "Hi, is the <b>double room</b> free?" {
		t.Errorf("first = %+v", first)
	}
	if first.Timestamp.IsZero() {
		t.Error("expected first timestamp to parse")
	}
	if detail.Messages[1].Text != "Yes &amp; viewings are open." {
		t.Errorf("second text = %q", detail.Messages[1].Text)
	}
}

func TestParseThreadEmpty(t *testing.T) {
	_, err := ParseThread(doc(t, `<html><body><p>Login required</p></body></html>`), "1", spareRoom(t).Selectors)
	if !errors.Is(err, errNoMessages) {
		t.Errorf("error = %v, want errNoMessages", err)
	}
}

func TestIDFromHref(t *testing.T) {
	tests := []struct {
		href string
		want string
	}{
		{"/messages/42", "42"},
		{"/messages/42/", "42"},
		{"https://x.test/m/abc?x=1#top", "abc"},
		{"/", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := idFromHref(tt.href); got != tt.want {
			t.Errorf("idFromHref(%q) = %q, want %q", tt.href, got, tt.want)
		}
	}
}

type fakePage struct {
	html      map[string]string
	url       string
	navErr    error
	runCalls  int
	runErr    error
	navigated []string
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.navigated = append(p.navigated, url)
	p.url = url
	return p.navErr
}

func (p *fakePage) PageHTML(context.Context) (string, error) { return p.html[p.url], nil }

func (p *fakePage) Run(context.Context, ...chromedp.Action) error {
	p.runCalls++
	return p.runErr
}

func TestAdapterReadsThroughPage(t *testing.T) {
	s := spareRoom(t)
	page := &fakePage{html: map[string]string{
		s.MessagesURL:          inboxHTML,
		s.ThreadURLFor("1001"): threadHTML,
	}}

	r := adapter.NewRegistry()
	cat := &site.Catalog{Sites: []site.Site{*s}}
	Register(r, cat, nil)
	a, err := r.New("spare-room", page)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	ctx := context.Background()
	threads, err := a.ListUnreadThreads(ctx)
	if err != nil || len(threads) != 2 {
		t.Fatalf("ListUnreadThreads = %v, %v", threads, err)
	}

	detail, err := a.ReadThread(ctx, "1001")
	if err != nil {
		t.Fatalf("ReadThread: %v", err)
	}
	if detail.Metadata["url"] != s.ThreadURLFor("1001") {
		t.Errorf("metadata = %v", detail.Metadata)
	}

	if err := a.SendReply(ctx, "1001", "Hello"); err != nil {
		t.Fatalf("SendReply: %v", err)
	}
	if page.runCalls != 1 {
		t.Errorf("run calls = %d, want 1", page.runCalls)
	}

	page.runErr = errors.New("node not visible")
	err = a.SendReply(ctx, "1001", "Hello")
	var ae *adapter.Error
	if !errors.As(err, &ae) || ae.ThreadID != "1001" || ae.Op != "send reply" {
		t.Errorf("SendReply error = %v, want adapter.Error", err)
	}
}

func TestRegisteredFactoryRejectsWrongEnv(t *testing.T) {
	r := adapter.NewRegistry()
	Register(r, &site.Catalog{Sites: []site.Site{*spareRoom(t)}}, nil)
	if _, err := r.New("spare-room", "not a page"); err == nil {
		t.Error("expected error for non-page environment")
	}
}
