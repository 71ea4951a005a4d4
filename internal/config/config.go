package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultMaxThreads   = 10
	defaultReadDelayMs  = 2000
	defaultSendDelayMs  = 5000
	defaultTimeoutSec   = 120
	defaultBrowserSec   = 30
	defaultServePort    = 8420
	defaultDrafterCmd   = "claude"
	defaultDataDir      = "data"
	defaultSecretsDir   = ".secrets"
	defaultDatabaseName = "web-agent.db"
)

// ConfigError reports invalid or missing configuration. It is fatal to setup.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Reason
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// IsConfigError reports whether err is, or wraps, a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

func checkFilePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %04o; should be 0600", path, perm)
	}
	return nil
}

type Config struct {
	Paths   Paths         `yaml:"paths"`
	Drafter DrafterConfig `yaml:"drafter"`
	Run     RunConfig     `yaml:"run"`
	Send    SendConfig    `yaml:"send"`
	Browser BrowserConfig `yaml:"browser"`
	Notify  NotifyConfig  `yaml:"notify,omitempty"`
	Serve   ServeConfig   `yaml:"serve,omitempty"`
}

type Paths struct {
	DataDir    string `yaml:"data_dir"`
	Database   string `yaml:"database"`
	SecretsDir string `yaml:"secrets_dir"`
	SitesFile  string `yaml:"sites_file,omitempty"` // extra site definitions merged over the built-in ones
}

// DrafterConfig describes the language-model subprocess.
type DrafterConfig struct {
	Command    string   `yaml:"command"`
	Args       []string `yaml:"args"`
	Template   string   `yaml:"template,omitempty"` // empty means the embedded prompt
	TimeoutSec int      `yaml:"timeout_sec"`
}

func (d DrafterConfig) Timeout() time.Duration { return time.Duration(d.TimeoutSec) * time.Second }

type RunConfig struct {
	MaxThreads  int  `yaml:"max_threads"`
	ReadDelayMs int  `yaml:"read_delay_ms"`
	DryRun      bool `yaml:"dry_run"`
}

func (r RunConfig) ReadDelay() time.Duration { return time.Duration(r.ReadDelayMs) * time.Millisecond }

type SendConfig struct {
	SendDelayMs int `yaml:"send_delay_ms"`
}

func (s SendConfig) SendDelay() time.Duration { return time.Duration(s.SendDelayMs) * time.Millisecond }

type BrowserConfig struct {
	Headless   bool   `yaml:"headless"`
	TimeoutSec int    `yaml:"timeout_sec"`
	UserAgent  string `yaml:"user_agent,omitempty"`
}

// NotifyConfig holds optional mail settings for run summaries. Provider is
// one of smtp (default), resend or sendgrid.
type NotifyConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Provider string        `yaml:"provider,omitempty"`
	From     string        `yaml:"from"`
	To       string        `yaml:"to"`
	SMTP     SMTPConfig    `yaml:"smtp,omitempty"`
	Resend   MailAPIConfig `yaml:"resend,omitempty"`
	SendGrid MailAPIConfig `yaml:"sendgrid,omitempty"`
}

// MailAPIConfig configures a hosted mail API. BaseURL overrides the
// provider's public endpoint.
type MailAPIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	UseTLS   bool   `yaml:"use_tls"`
}

type ServeConfig struct {
	Port int `yaml:"port"`
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".web-agent", "config.yaml")
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.Browser.Headless = true
	cfg.applyDefaults()
	return cfg
}

// Load reads the YAML file at path, then applies .env and WEB_AGENT_*
// overrides. A missing file is not an error; defaults are used instead.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.Browser.Headless = true

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := checkFilePermissions(path); err != nil {
			fmt.Fprintf(os.Stderr, "WARNING: %v\n", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// .env is optional
	_ = godotenv.Load()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Paths.DataDir == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.Database == "" {
		c.Paths.Database = filepath.Join(c.Paths.DataDir, defaultDatabaseName)
	}
	if c.Paths.SecretsDir == "" {
		c.Paths.SecretsDir = defaultSecretsDir
	}
	if c.Drafter.Command == "" {
		c.Drafter.Command = defaultDrafterCmd
		if len(c.Drafter.Args) == 0 {
			c.Drafter.Args = []string{"-p"}
		}
	}
	if c.Drafter.TimeoutSec == 0 {
		c.Drafter.TimeoutSec = defaultTimeoutSec
	}
	if c.Run.MaxThreads == 0 {
		c.Run.MaxThreads = defaultMaxThreads
	}
	if c.Run.ReadDelayMs == 0 {
		c.Run.ReadDelayMs = defaultReadDelayMs
	}
	if c.Send.SendDelayMs == 0 {
		c.Send.SendDelayMs = defaultSendDelayMs
	}
	if c.Browser.TimeoutSec == 0 {
		c.Browser.TimeoutSec = defaultBrowserSec
	}
	if c.Serve.Port == 0 {
		c.Serve.Port = defaultServePort
	}
	if c.Notify.SMTP.Port == 0 && c.Notify.SMTP.Host != "" {
		c.Notify.SMTP.Port = 587
	}
}

// applyEnv overrides fields from WEB_AGENT_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigError{Field: key, Reason: fmt.Sprintf("not an integer: %q", v)}
		}
		*dst = n
		return nil
	}
	flag := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &ConfigError{Field: key, Reason: fmt.Sprintf("not a boolean: %q", v)}
		}
		*dst = b
		return nil
	}

	str("WEB_AGENT_DATA_DIR", &c.Paths.DataDir)
	str("WEB_AGENT_DB", &c.Paths.Database)
	str("WEB_AGENT_SECRETS_DIR", &c.Paths.SecretsDir)
	str("WEB_AGENT_SITES_FILE", &c.Paths.SitesFile)
	str("WEB_AGENT_DRAFTER_COMMAND", &c.Drafter.Command)
	str("WEB_AGENT_PROMPT_TEMPLATE", &c.Drafter.Template)
	str("WEB_AGENT_SMTP_PASSWORD", &c.Notify.SMTP.Password)
	str("WEB_AGENT_RESEND_API_KEY", &c.Notify.Resend.APIKey)
	str("WEB_AGENT_SENDGRID_API_KEY", &c.Notify.SendGrid.APIKey)

	for key, dst := range map[string]*int{
		"WEB_AGENT_DRAFTER_TIMEOUT_SEC": &c.Drafter.TimeoutSec,
		"WEB_AGENT_MAX_THREADS":         &c.Run.MaxThreads,
		"WEB_AGENT_READ_DELAY_MS":       &c.Run.ReadDelayMs,
		"WEB_AGENT_SEND_DELAY_MS":       &c.Send.SendDelayMs,
		"WEB_AGENT_SERVE_PORT":          &c.Serve.Port,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	return flag("WEB_AGENT_HEADLESS", &c.Browser.Headless)
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

func (c *Config) Validate() error {
	if c.Paths.Database == "" {
		return &ConfigError{Field: "paths.database", Reason: "is required"}
	}
	if c.Drafter.Command == "" {
		return &ConfigError{Field: "drafter.command", Reason: "is required"}
	}
	if c.Drafter.TimeoutSec < 0 {
		return &ConfigError{Field: "drafter.timeout_sec", Reason: "must not be negative"}
	}
	if c.Run.MaxThreads < 0 {
		return &ConfigError{Field: "run.max_threads", Reason: "must not be negative"}
	}
	if c.Run.ReadDelayMs < 0 || c.Send.SendDelayMs < 0 {
		return &ConfigError{Field: "delays", Reason: "must not be negative"}
	}
	if c.Notify.Enabled {
		if c.Notify.From == "" || c.Notify.To == "" {
			return &ConfigError{Field: "notify", Reason: "from and to addresses are required"}
		}
		switch c.Notify.Provider {
		case "", "smtp":
			if c.Notify.SMTP.Host == "" {
				return &ConfigError{Field: "notify.smtp", Reason: "host is required"}
			}
		case "resend":
			if c.Notify.Resend.APIKey == "" {
				return &ConfigError{Field: "notify.resend", Reason: "api_key is required"}
			}
		case "sendgrid":
			if c.Notify.SendGrid.APIKey == "" {
				return &ConfigError{Field: "notify.sendgrid", Reason: "api_key is required"}
			}
		default:
			return &ConfigError{Field: "notify.provider", Reason: fmt.Sprintf("unknown provider %q (smtp, resend or sendgrid)", c.Notify.Provider)}
		}
	}
	return nil
}

// StatePath is the default storage state file for a site.
func (c *Config) StatePath(site string) string {
	return filepath.Join(c.Paths.SecretsDir, site+".storageState.json")
}

// ProfilePath is the default persistent browser profile directory for a site.
func (c *Config) ProfilePath(site string) string {
	return filepath.Join(c.Paths.SecretsDir, "profiles", site)
}

// ReviewPath is the default review document path for a site and day.
func (c *Config) ReviewPath(site string, day time.Time) string {
	return filepath.Join(c.Paths.DataDir, fmt.Sprintf("review-%s-%s.md", site, day.Format("2006-01-02")))
}
