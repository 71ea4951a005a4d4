// Package session describes how a browser run authenticates with a site.
package session

import (
	"fmt"

	"github.com/web-agent/web-agent/internal/config"
)

type Mode string

const (
	// ModeStorage restores cookies and local storage from a saved state file.
	ModeStorage Mode = "storage"
	// ModeProfile launches the browser with a persistent user data directory.
	ModeProfile Mode = "profile"
)

// ParseMode maps a flag value to a Mode. An empty value means storage.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeStorage:
		return ModeStorage, nil
	case ModeProfile:
		return ModeProfile, nil
	}
	return "", &config.ConfigError{Field: "auth-mode", Reason: fmt.Sprintf("unknown mode %q (want storage or profile)", s)}
}

type Config struct {
	Mode        Mode
	Site        string
	StatePath   string
	ProfilePath string
}

// Session is immutable once created and lives for one browser run.
type Session struct {
	mode Mode
	site string
	cfg  Config
}

// New validates cfg. Storage mode requires StatePath, profile mode requires
// ProfilePath. It performs no I/O.
func New(cfg Config) (*Session, error) {
	switch cfg.Mode {
	case ModeStorage:
		if cfg.StatePath == "" {
			return nil, &config.ConfigError{Field: "statePath", Reason: "required for storage mode"}
		}
	case ModeProfile:
		if cfg.ProfilePath == "" {
			return nil, &config.ConfigError{Field: "profilePath", Reason: "required for profile mode"}
		}
	default:
		return nil, &config.ConfigError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", cfg.Mode)}
	}
	return &Session{mode: cfg.Mode, site: cfg.Site, cfg: cfg}, nil
}

func (s *Session) Mode() Mode          { return s.mode }
func (s *Session) Site() string        { return s.site }
func (s *Session) StatePath() string   { return s.cfg.StatePath }
func (s *Session) ProfilePath() string { return s.cfg.ProfilePath }
