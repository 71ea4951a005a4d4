// Package site holds the catalogue of marketplace sites the agent can drive:
// their URLs and the DOM selectors used to scrape and reply.
package site

import (
	"embed"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed sites/*.yaml
var builtinFS embed.FS

// ThreadPlaceholder is replaced with the escaped thread id in ThreadURL.
const ThreadPlaceholder = "{thread_id}"

func isValidURL(rawURL string) bool {
	if rawURL == "" {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

func sanitizeSite(s *Site) {
	if !isValidURL(s.LoginURL) {
		s.LoginURL = ""
	}
	if s.Selectors.ThreadIDAttr == "" {
		s.Selectors.ThreadIDAttr = "data-thread-id"
	}
}

type Site struct {
	ID          string    `yaml:"id"`
	Name        string    `yaml:"name"`
	LoginURL    string    `yaml:"login_url,omitempty"`
	MessagesURL string    `yaml:"messages_url"`
	ThreadURL   string    `yaml:"thread_url"` // must contain {thread_id}
	Selectors   Selectors `yaml:"selectors"`
}

type Selectors struct {
	UnreadThreads    string `yaml:"unread_threads"`
	ThreadIDAttr     string `yaml:"thread_id_attr,omitempty"`
	ThreadLink       string `yaml:"thread_link,omitempty"` // fallback source of the id: last path segment of its href
	ThreadPreview    string `yaml:"thread_preview,omitempty"`
	ThreadTimestamp  string `yaml:"thread_timestamp,omitempty"`
	MessageContainer string `yaml:"message_container,omitempty"`
	MessageItem      string `yaml:"message_item"`
	MessageSender    string `yaml:"message_sender"`
	MessageText      string `yaml:"message_text"`
	MessageTimestamp string `yaml:"message_timestamp,omitempty"`
	ReplyTextarea    string `yaml:"reply_textarea"`
	SendButton       string `yaml:"send_button"`
}

// Validate checks the fields every adapter needs.
func (s *Site) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("site: id is required")
	}
	if s.MessagesURL == "" || !isValidURL(s.MessagesURL) {
		return fmt.Errorf("site %s: messages_url must be an http(s) URL", s.ID)
	}
	if !strings.Contains(s.ThreadURL, ThreadPlaceholder) || !isValidURL(strings.ReplaceAll(s.ThreadURL, ThreadPlaceholder, "x")) {
		return fmt.Errorf("site %s: thread_url must be an http(s) URL containing %s", s.ID, ThreadPlaceholder)
	}
	sel := s.Selectors
	for name, v := range map[string]string{
		"unread_threads": sel.UnreadThreads,
		"message_item":   sel.MessageItem,
		"message_text":   sel.MessageText,
		"reply_textarea": sel.ReplyTextarea,
		"send_button":    sel.SendButton,
	} {
		if v == "" {
			return fmt.Errorf("site %s: selectors.%s is required", s.ID, name)
		}
	}
	return nil
}

// ThreadURLFor builds the URL of one conversation.
func (s *Site) ThreadURLFor(threadID string) string {
	return strings.ReplaceAll(s.ThreadURL, ThreadPlaceholder, url.PathEscape(threadID))
}

type Catalog struct {
	Sites []Site `yaml:"sites"`
}

// Builtin returns the site definitions shipped with the binary.
func Builtin() (*Catalog, error) {
	entries, err := builtinFS.ReadDir("sites")
	if err != nil {
		return nil, fmt.Errorf("failed to read built-in sites: %w", err)
	}

	cat := &Catalog{}
	for _, entry := range entries {
		data, err := builtinFS.ReadFile("sites/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}
		part, err := parse(data)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", entry.Name(), err)
		}
		cat.Merge(part)
	}
	return cat, nil
}

func LoadFromFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sites file: %w", err)
	}
	return parse(data)
}

// Load returns the built-in catalogue with the optional file merged over it.
func Load(extraPath string) (*Catalog, error) {
	cat, err := Builtin()
	if err != nil {
		return nil, err
	}
	if extraPath == "" {
		return cat, nil
	}
	extra, err := LoadFromFile(extraPath)
	if err != nil {
		return nil, err
	}
	cat.Merge(extra)
	return cat, nil
}

func parse(data []byte) (*Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("failed to parse sites: %w", err)
	}
	for i := range cat.Sites {
		sanitizeSite(&cat.Sites[i])
		if err := cat.Sites[i].Validate(); err != nil {
			return nil, err
		}
	}
	return &cat, nil
}

// Merge adds the sites of other, replacing any with the same id.
func (c *Catalog) Merge(other *Catalog) {
	for _, s := range other.Sites {
		if existing := c.FindByID(s.ID); existing != nil {
			*existing = s
			continue
		}
		c.Sites = append(c.Sites, s)
	}
}

func (c *Catalog) FindByID(id string) *Site {
	id = strings.ToLower(id)
	for i := range c.Sites {
		if strings.ToLower(c.Sites[i].ID) == id {
			return &c.Sites[i]
		}
	}
	return nil
}

func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.Sites))
	for _, s := range c.Sites {
		ids = append(ids, s.ID)
	}
	sort.Strings(ids)
	return ids
}
