package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"icalbot/internal/gateway"
	"icalbot/internal/ics"
	"icalbot/internal/model"
)

// EnvPrefix prefixes every environment override, e.g. ICALBOT_ACCESS_TOKEN.
const EnvPrefix = "ICALBOT_"

// ReminderConfig is one scheduled reminder.
type ReminderConfig struct {
	// Cron is the schedule: five fields, an optional leading seconds
	// field, or a descriptor such as "@daily".
	Cron string `yaml:"cron" toml:"cron" json:"cron"`
	// ReminderType is "NextMeeting" or "AllUpcomingMeetings".
	ReminderType string `yaml:"reminder_type" toml:"reminder_type" json:"reminder_type"`
	// Room is the target room (Matrix room id or Telegram chat id).
	Room string `yaml:"room" toml:"room" json:"room"`
	// MatrixRoom is the older spelling of Room, still accepted.
	MatrixRoom string `yaml:"matrix_room,omitempty" toml:"matrix_room,omitempty" json:"-"`
}

// BotFilteringConfig controls whose messages are ignored.
type BotFilteringConfig struct {
	// IgnoreSelf defaults to true when unset.
	IgnoreSelf   *bool    `yaml:"ignore_self" toml:"ignore_self" json:"ignore_self"`
	IgnoreBots   bool     `yaml:"ignore_bots" toml:"ignore_bots" json:"ignore_bots"`
	IgnoredUsers []string `yaml:"ignored_users" toml:"ignored_users" json:"ignored_users"`
}

// TelegramConfig holds Telegram bot credentials.
type TelegramConfig struct {
	Token string `yaml:"token" toml:"token" json:"token"`
	Proxy string `yaml:"proxy" toml:"proxy" json:"proxy"`
}

// FeedConfig tunes feed fetching and parsing.
type FeedConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds" toml:"timeout_seconds" json:"timeout_seconds"`
	// ExpandRecurrences turns RRULE events into one event per occurrence
	// within HorizonDays.
	ExpandRecurrences bool          `yaml:"expand_recurrences" toml:"expand_recurrences" json:"expand_recurrences"`
	HorizonDays       int           `yaml:"horizon_days" toml:"horizon_days" json:"horizon_days"`
	S3                ics.S3Options `yaml:"s3" toml:"s3" json:"s3"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the status API.
type BasicAuthConfig struct {
	Username string `yaml:"username" toml:"username" json:"username"`
	Password string `yaml:"password" toml:"password" json:"password"`
}

// WebConfig enables the status HTTP server when Listen is set.
type WebConfig struct {
	Listen string `yaml:"listen" toml:"listen" json:"listen"`
	// BasicAuth, if non-nil, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" toml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	// Transport selects the chat network: "matrix" (default) or "telegram".
	Transport string `yaml:"transport" toml:"transport" json:"transport"`

	// Matrix session.
	Homeserver  string `yaml:"homeserver" toml:"homeserver" json:"homeserver"`
	Username    string `yaml:"username" toml:"username" json:"username"`
	AccessToken string `yaml:"access_token" toml:"access_token" json:"access_token"`

	Telegram TelegramConfig `yaml:"telegram" toml:"telegram" json:"telegram"`

	// LogFile, when set, receives JSON log lines in addition to stderr.
	LogFile  string `yaml:"log_file" toml:"log_file" json:"log_file"`
	LogLevel string `yaml:"log_level" toml:"log_level" json:"log_level"`

	// WorkingDirectory is entered before relative paths are resolved.
	WorkingDirectory string `yaml:"working_directory" toml:"working_directory" json:"working_directory"`

	// Webcal is the feed location: http(s)://, webcal://, s3:// or a path.
	Webcal  string `yaml:"webcal" toml:"webcal" json:"webcal"`
	InfoURL string `yaml:"info_url" toml:"info_url" json:"info_url"`

	// Timezone is the IANA zone reminders are scheduled in and times are
	// displayed in.
	Timezone string `yaml:"timezone" toml:"timezone" json:"timezone"`

	Feed         FeedConfig         `yaml:"feed" toml:"feed" json:"feed"`
	Reminders    []ReminderConfig   `yaml:"reminders" toml:"reminders" json:"reminders"`
	BotFiltering BotFilteringConfig `yaml:"bot_filtering" toml:"bot_filtering" json:"bot_filtering"`

	// Workers bounds the shared worker pool.
	Workers int `yaml:"workers" toml:"workers" json:"workers"`

	Web WebConfig `yaml:"web" toml:"web" json:"web"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		Transport: gateway.TransportMatrix,
		Reminders: []ReminderConfig{},
	}
	cfg.Normalize()
	return cfg
}

// Normalize fills in missing/zero values with defaults.
func (c *Config) Normalize() {
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	if c.Transport == "" {
		c.Transport = gateway.TransportMatrix
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.WorkingDirectory == "" {
		c.WorkingDirectory = "."
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.Feed.TimeoutSeconds <= 0 {
		c.Feed.TimeoutSeconds = 15
	}
	if c.Feed.HorizonDays <= 0 {
		c.Feed.HorizonDays = 60
	}
	if c.BotFiltering.IgnoreSelf == nil {
		t := true
		c.BotFiltering.IgnoreSelf = &t
	}
	if c.BotFiltering.IgnoredUsers == nil {
		c.BotFiltering.IgnoredUsers = []string{}
	}
	if c.Reminders == nil {
		c.Reminders = []ReminderConfig{}
	}
	for i := range c.Reminders {
		r := &c.Reminders[i]
		if r.Room == "" {
			r.Room = r.MatrixRoom
		}
		r.MatrixRoom = ""
	}
}

// Validate reports the first problem that would prevent startup. Cron
// expressions are checked when the scheduler is built.
func (c *Config) Validate() error {
	switch c.Transport {
	case gateway.TransportMatrix:
		if c.Homeserver == "" {
			return errors.New("missing 'homeserver' in config file")
		}
		if c.Username == "" {
			return errors.New("missing 'username' in config file")
		}
		if c.AccessToken == "" {
			return errors.New("missing 'access_token' in config file")
		}
	case gateway.TransportTelegram:
		if c.Telegram.Token == "" {
			return errors.New("missing 'telegram.token' in config file")
		}
	default:
		return fmt.Errorf("unknown transport %q (want matrix or telegram)", c.Transport)
	}

	if _, err := c.Location(); err != nil {
		return err
	}

	for i, r := range c.Reminders {
		if r.Cron == "" {
			return fmt.Errorf("missing 'cron' in reminder #%d", i+1)
		}
		if r.ReminderType == "" {
			return fmt.Errorf("missing 'reminder_type' in reminder #%d", i+1)
		}
		if _, err := model.ParseReminderKind(r.ReminderType); err != nil {
			return fmt.Errorf("reminder #%d: %w", i+1, err)
		}
		if r.Room == "" {
			return fmt.Errorf("missing 'room' in reminder #%d", i+1)
		}
	}

	if a := c.Web.BasicAuth; a != nil && (a.Username == "" || a.Password == "") {
		return errors.New("web.basic_auth needs both username and password")
	}
	return nil
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// ReminderJobs converts the reminder entries. Call after Validate.
func (c *Config) ReminderJobs() ([]model.ReminderJob, error) {
	jobs := make([]model.ReminderJob, 0, len(c.Reminders))
	for i, r := range c.Reminders {
		kind, err := model.ParseReminderKind(r.ReminderType)
		if err != nil {
			return nil, fmt.Errorf("reminder #%d: %w", i+1, err)
		}
		jobs = append(jobs, model.ReminderJob{Schedule: r.Cron, Kind: kind, Room: r.Room})
	}
	return jobs, nil
}

// IgnoreSelf reports the effective ignore_self setting.
func (c *Config) IgnoreSelf() bool {
	return c.BotFiltering.IgnoreSelf == nil || *c.BotFiltering.IgnoreSelf
}

// FeedTimeout is the HTTP timeout for feed downloads.
func (c *Config) FeedTimeout() time.Duration {
	return time.Duration(c.Feed.TimeoutSeconds) * time.Second
}

// Print writes the effective configuration with secrets masked.
func (c *Config) Print(w io.Writer) {
	fmt.Fprintln(w, "Configuration:")
	fmt.Fprintf(w, "  Transport: %s\n", c.Transport)
	switch c.Transport {
	case gateway.TransportTelegram:
		fmt.Fprintf(w, "  Telegram Token: %s\n", mask(c.Telegram.Token))
		if c.Telegram.Proxy != "" {
			fmt.Fprintf(w, "  Telegram Proxy: %s\n", c.Telegram.Proxy)
		}
	default:
		fmt.Fprintf(w, "  Homeserver: %s\n", c.Homeserver)
		fmt.Fprintf(w, "  Username: %s\n", c.Username)
		fmt.Fprintf(w, "  Access Token: %s\n", mask(c.AccessToken))
	}
	fmt.Fprintf(w, "  Log File: %s\n", orNotSet(c.LogFile))
	fmt.Fprintf(w, "  Log Level: %s\n", c.LogLevel)
	fmt.Fprintf(w, "  Working Directory: %s\n", c.WorkingDirectory)
	fmt.Fprintf(w, "  Webcal: %s\n", orNotSet(ics.RedactURL(c.Webcal)))
	fmt.Fprintf(w, "  Info URL: %s\n", orNotSet(c.InfoURL))
	fmt.Fprintf(w, "  Timezone: %s\n", c.Timezone)
	fmt.Fprintf(w, "  Feed: timeout=%ds expand_recurrences=%t horizon_days=%d\n",
		c.Feed.TimeoutSeconds, c.Feed.ExpandRecurrences, c.Feed.HorizonDays)
	fmt.Fprintf(w, "  Workers: %d\n", c.Workers)
	fmt.Fprintf(w, "  Web Listen: %s\n", orNotSet(c.Web.Listen))

	fmt.Fprintln(w, "  Reminders:")
	if len(c.Reminders) == 0 {
		fmt.Fprintln(w, "    [none]")
	}
	for i, r := range c.Reminders {
		fmt.Fprintf(w, "    %d: %s -> %s in room %s\n", i+1, r.Cron, r.ReminderType, r.Room)
	}

	fmt.Fprintln(w, "  Bot Filtering:")
	fmt.Fprintf(w, "    Ignore Self: %t\n", c.IgnoreSelf())
	fmt.Fprintf(w, "    Ignore Bots: %t\n", c.BotFiltering.IgnoreBots)
	if len(c.BotFiltering.IgnoredUsers) == 0 {
		fmt.Fprintln(w, "    Ignored Users: [none]")
	} else {
		fmt.Fprintln(w, "    Ignored Users:")
		for _, u := range c.BotFiltering.IgnoredUsers {
			fmt.Fprintf(w, "      %s\n", u)
		}
	}
}

func mask(secret string) string {
	if secret == "" {
		return "[empty]"
	}
	return "[set]"
}

func orNotSet(s string) string {
	if s == "" {
		return "[not set]"
	}
	return s
}

// Load reads the configuration at path.
//
// Behavior:
//   - a .env file in the current directory is loaded first, if present
//   - ".toml" files are decoded as TOML, everything else as YAML
//   - ICALBOT_* environment variables override file values
//   - defaults are filled in and the result is validated
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file %s not found (create one with 'icalbot init'): %w", path, err)
		}
		return nil, err
	}

	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.ApplyEnv(os.LookupEnv)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes config bytes; ext selects the format (".toml" or YAML).
// The result is not normalized.
func Parse(data []byte, ext string) (*Config, error) {
	var cfg Config
	if strings.EqualFold(ext, ".toml") {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
		return &cfg, nil
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides fields from ICALBOT_* variables looked up via lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	set("TRANSPORT", &c.Transport)
	set("HOMESERVER", &c.Homeserver)
	set("USERNAME", &c.Username)
	set("ACCESS_TOKEN", &c.AccessToken)
	set("TELEGRAM_TOKEN", &c.Telegram.Token)
	set("TELEGRAM_PROXY", &c.Telegram.Proxy)
	set("WEBCAL", &c.Webcal)
	set("LOG_LEVEL", &c.LogLevel)
	set("LOG_FILE", &c.LogFile)
	set("WEB_LISTEN", &c.Web.Listen)
	set("S3_ACCESS_KEY_ID", &c.Feed.S3.AccessKeyID)
	set("S3_SECRET_ACCESS_KEY", &c.Feed.S3.SecretAccessKey)
	set("S3_ENDPOINT", &c.Feed.S3.Endpoint)
	set("S3_REGION", &c.Feed.S3.Region)
}

// Save writes the given configuration to the specified path as YAML.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600, since the file holds tokens.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".icalbot-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
