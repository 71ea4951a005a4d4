// Package dom implements adapter.SiteAdapter for sites described by CSS
// selectors in the site catalogue. Pages are loaded with chromedp and parsed
// with goquery.
package dom

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"

	"github.com/web-agent/web-agent/internal/adapter"
	"github.com/web-agent/web-agent/internal/site"
)

// Page is the slice of a browser tab the adapter drives.
type Page interface {
	Navigate(ctx context.Context, url string) error
	PageHTML(ctx context.Context) (string, error)
	Run(ctx context.Context, actions ...chromedp.Action) error
}

type Adapter struct {
	site   *site.Site
	page   Page
	logger *slog.Logger
}

func New(s *site.Site, page Page, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Adapter{site: s, page: page, logger: logger.With("adapter", s.ID)}
}

// Register adds a factory for every site in cat. The factory expects a Page
// as its environment.
func Register(r *adapter.Registry, cat *site.Catalog, logger *slog.Logger) {
	for i := range cat.Sites {
		s := &cat.Sites[i]
		r.Register(s.ID, func(env any) (adapter.SiteAdapter, error) {
			page, ok := env.(Page)
			if !ok {
				return nil, fmt.Errorf("dom adapter for %s needs a browser page, got %T", s.ID, env)
			}
			return New(s, page, logger), nil
		})
	}
}

func (a *Adapter) load(ctx context.Context, url string) (*goquery.Document, error) {
	if err := a.page.Navigate(ctx, url); err != nil {
		return nil, err
	}
	html, err := a.page.PageHTML(ctx)
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

func (a *Adapter) ListUnreadThreads(ctx context.Context) ([]adapter.Thread, error) {
	a.logger.Info("listing unread threads")

	doc, err := a.load(ctx, a.site.MessagesURL)
	if err != nil {
		return nil, &adapter.Error{Op: "list unread threads", Err: err}
	}
	threads := ParseThreadList(doc, a.site.Selectors)
	if len(threads) == 0 {
		if err := explainEmpty(doc); err != nil {
			return nil, &adapter.Error{Op: "list unread threads", Err: err}
		}
	}
	a.logger.Debug("found unread threads", "count", len(threads))
	return threads, nil
}

func (a *Adapter) ReadThread(ctx context.Context, threadID string) (*adapter.ThreadDetail, error) {
	a.logger.Info("reading thread", "thread", threadID)

	url := a.site.ThreadURLFor(threadID)
	doc, err := a.load(ctx, url)
	if err != nil {
		return nil, &adapter.Error{Op: "read thread", ThreadID: threadID, Err: err}
	}
	detail, err := ParseThread(doc, threadID, a.site.Selectors)
	if errors.Is(err, errNoMessages) {
		if why := explainEmpty(doc); why != nil {
			err = why
		}
	}
	if err != nil {
		return nil, &adapter.Error{Op: "read thread", ThreadID: threadID, Err: err}
	}
	detail.Metadata = map[string]any{"url": url}
	return detail, nil
}

func (a *Adapter) SendReply(ctx context.Context, threadID, text string) error {
	a.logger.Info("sending reply", "thread", threadID)

	sel := a.site.Selectors
	if err := a.page.Navigate(ctx, a.site.ThreadURLFor(threadID)); err != nil {
		return &adapter.Error{Op: "send reply", ThreadID: threadID, Err: err}
	}
	err := a.page.Run(ctx,
		chromedp.WaitVisible(sel.ReplyTextarea, chromedp.ByQuery),
		chromedp.SetValue(sel.ReplyTextarea, "", chromedp.ByQuery),
		chromedp.SendKeys(sel.ReplyTextarea, text, chromedp.ByQuery),
		chromedp.Click(sel.SendButton, chromedp.ByQuery, chromedp.NodeVisible),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return &adapter.Error{Op: "send reply", ThreadID: threadID, Err: err}
	}
	return nil
}

var errNoMessages = errors.New("no messages found on thread page")

// ParseThreadList extracts unread threads from a messages page. Items
// without a resolvable id are skipped.
func ParseThreadList(doc *goquery.Document, sel site.Selectors) []adapter.Thread {
	var threads []adapter.Thread
	doc.Find(sel.UnreadThreads).Each(func(_ int, item *goquery.Selection) {
		id := strings.TrimSpace(item.AttrOr(sel.ThreadIDAttr, ""))
		if id == "" && sel.ThreadLink != "" {
			if href, ok := item.Find(sel.ThreadLink).First().Attr("href"); ok {
				id = idFromHref(href)
			}
		}
		if id == "" {
			return
		}

		t := adapter.Thread{ThreadID: id}
		if sel.ThreadPreview != "" {
			t.Preview = collapseSpace(item.Find(sel.ThreadPreview).First().Text())
		}
		if sel.ThreadTimestamp != "" {
			t.Timestamp = timestampOf(item.Find(sel.ThreadTimestamp).First())
		}
		threads = append(threads, t)
	})
	return threads
}

// ParseThread extracts the conversation in page order. Message text keeps
// its markup.
func ParseThread(doc *goquery.Document, threadID string, sel site.Selectors) (*adapter.ThreadDetail, error) {
	scope := doc.Selection
	if sel.MessageContainer != "" {
		if c := doc.Find(sel.MessageContainer).First(); c.Length() > 0 {
			scope = c
		}
	}

	detail := &adapter.ThreadDetail{ThreadID: threadID}
	var parseErr error
	scope.Find(sel.MessageItem).EachWithBreak(func(_ int, item *goquery.Selection) bool {
		text, err := item.Find(sel.MessageText).First().Html()
		if err != nil {
			parseErr = fmt.Errorf("failed to render message text: %w", err)
			return false
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return true
		}

		m := adapter.Message{Text: text}
		if sel.MessageSender != "" {
			m.From = collapseSpace(item.Find(sel.MessageSender).First().Text())
		}
		if sel.MessageTimestamp != "" {
			m.Timestamp = timestampOf(item.Find(sel.MessageTimestamp).First())
		}
		detail.Messages = append(detail.Messages, m)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	if len(detail.Messages) == 0 {
		return nil, errNoMessages
	}
	return detail, nil
}

func idFromHref(href string) string {
	href = strings.SplitN(href, "?", 2)[0]
	href = strings.SplitN(href, "#", 2)[0]
	id := path.Base(strings.TrimRight(href, "/"))
	if id == "." || id == "/" {
		return ""
	}
	return id
}

func collapseSpace(s string) string { return strings.Join(strings.Fields(s), " ") }

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006 15:04",
	"02/01/2006",
	"2 Jan 2006 15:04",
	"2 Jan 2006",
	"Jan 2, 2006",
}

// timestampOf prefers a datetime or title attribute over the visible text.
// Unparseable values give the zero time.
func timestampOf(s *goquery.Selection) time.Time {
	candidates := []string{s.AttrOr("datetime", ""), s.AttrOr("title", ""), collapseSpace(s.Text())}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, c); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}
