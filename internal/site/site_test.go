package site

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuiltinSpareRoom(t *testing.T) {
	cat, err := Builtin()
	if err != nil {
		t.Fatalf("Builtin: %v", err)
	}
	s := cat.FindByID("Spare-Room")
	if s == nil {
		t.Fatal("spare-room not found")
	}
	if s.LoginURL != "https://www.spareroom.co.uk/login" {
		t.Errorf("LoginURL = %q", s.LoginURL)
	}
	if s.Selectors.ThreadIDAttr != "data-thread-id" {
		t.Errorf("ThreadIDAttr = %q", s.Selectors.ThreadIDAttr)
	}
}

func TestThreadURLFor(t *testing.T) {
	s := Site{ThreadURL: "https://example.com/inbox/{thread_id}?view=full"}
	if got := s.ThreadURLFor("a b/c"); got != "https://example.com/inbox/a%20b%2Fc?view=full" {
		t.Errorf("ThreadURLFor = %q", got)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Site {
		return Site{
			ID:          "x",
			MessagesURL: "https://x.test/messages",
			ThreadURL:   "https://x.test/messages/{thread_id}",
			Selectors: Selectors{
				UnreadThreads: ".t", MessageItem: ".m", MessageText: ".txt",
				ReplyTextarea: "textarea", SendButton: "button",
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Site)
		wantErr bool
	}{
		{"valid", func(*Site) {}, false},
		{"no id", func(s *Site) { s.ID = "" }, true},
		{"javascript messages url", func(s *Site) { s.MessagesURL = "javascript:alert(1)" }, true},
		{"no placeholder", func(s *Site) { s.ThreadURL = "https://x.test/messages" }, true},
		{"no send button", func(s *Site) { s.Selectors.SendButton = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(&s)
			if err := s.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMergesOverBuiltin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.yaml")
	data := []byte(`
sites:
  - id: spare-room
    name: SpareRoom staging
    login_url: ftp://bad
    messages_url: https://staging.spareroom.test/messages
    thread_url: https://staging.spareroom.test/messages/{thread_id}
    selectors:
      unread_threads: li.unread
      message_item: .msg
      message_text: .body
      reply_textarea: textarea
      send_button: button.send
  - id: other
    messages_url: https://other.test/inbox
    thread_url: https://other.test/inbox/{thread_id}
    selectors:
      unread_threads: li.unread
      message_item: .msg
      message_text: .body
      reply_textarea: textarea
      send_button: button.send
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cat, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ids := cat.IDs(); len(ids) != 2 || ids[0] != "other" || ids[1] != "spare-room" {
		t.Errorf("IDs = %v", ids)
	}
	s := cat.FindByID("spare-room")
	if s.Name != "SpareRoom staging" {
		t.Errorf("Name = %q, want override", s.Name)
	}
	if s.LoginURL != "" {
		t.Errorf("LoginURL = %q, want sanitized to empty", s.LoginURL)
	}
}
