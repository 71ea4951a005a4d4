package session

import (
	"testing"

	"github.com/web-agent/web-agent/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"storage with path", Config{Mode: ModeStorage, Site: "spare-room", StatePath: "s.json"}, false},
		{"storage without path", Config{Mode: ModeStorage, Site: "spare-room", ProfilePath: "p"}, true},
		{"profile with path", Config{Mode: ModeProfile, Site: "spare-room", ProfilePath: "p"}, false},
		{"profile without path", Config{Mode: ModeProfile, Site: "spare-room", StatePath: "s.json"}, true},
		{"unknown mode", Config{Mode: "cookie-jar", StatePath: "s.json"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !config.IsConfigError(err) {
					t.Errorf("expected ConfigError, got %T", err)
				}
				return
			}
			if s.Mode() != tt.cfg.Mode || s.Site() != tt.cfg.Site {
				t.Errorf("got mode %s site %s", s.Mode(), s.Site())
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeStorage, "storage": ModeStorage, "profile": ModeProfile} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %s, %v; want %s", in, got, err, want)
		}
	}
	if _, err := ParseMode("cdp"); !config.IsConfigError(err) {
		t.Errorf("ParseMode(cdp) error = %v, want ConfigError", err)
	}
}
