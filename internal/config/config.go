package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/hamed0406/sitewatch/internal/domain"
)

const (
	DefaultPath     = "sitewatch.yaml"
	DefaultInterval = 5 * time.Minute
	DefaultCooldown = 30 * time.Minute
	DefaultSMTPPort = 587
)

// DefaultErrorKeywords apply to targets with check_keywords set and no list
// of their own.
var DefaultErrorKeywords = []string{
	"exception",
	"something went wrong! please try again.",
}

// Config is the whole runtime configuration: the YAML file with environment
// overrides applied on top.
type Config struct {
	Interval        *time.Duration `yaml:"interval"`
	Cooldown        *time.Duration `yaml:"cooldown"`
	AlertOnRecovery bool           `yaml:"alert_on_recovery"`
	StateDir        string         `yaml:"state_dir"`
	LogDir          string         `yaml:"log_dir"`
	LogToStderr     bool           `yaml:"log_to_stderr"`
	DatabaseURL     string         `yaml:"-"`
	SlackWebhook    string         `yaml:"-"`

	Mail       MailConfig     `yaml:"mail"`
	Recipients Recipients     `yaml:"recipients"`
	Status     StatusConfig   `yaml:"status"`
	Targets    []TargetConfig `yaml:"targets"`
}

type MailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	From     string `yaml:"from"`
	// PasswordEnv names the variable holding the SMTP password.
	PasswordEnv string `yaml:"password_env"`
	Password    string `yaml:"-"`
}

type Recipients struct {
	Site   []string `yaml:"site"`
	Ticket []string `yaml:"ticket"`
}

type StatusConfig struct {
	Addr      string   `yaml:"addr"` // empty disables the status API
	Origins   []string `yaml:"cors_origins"`
	APIKeys   []string `yaml:"-"`
	AdminKeys []string `yaml:"-"`
	RPM       int      `yaml:"rpm"`
	Burst     int      `yaml:"burst"`
}

type TargetConfig struct {
	ID                 string        `yaml:"id"`
	Name               string        `yaml:"name"`
	Kind               string        `yaml:"kind"`
	URL                string        `yaml:"url"`
	Timeout            time.Duration `yaml:"timeout"`
	LatencyThreshold   time.Duration `yaml:"latency_threshold"`
	AllowedStatusCodes []int         `yaml:"allowed_status_codes"`
	CheckKeywords      bool          `yaml:"check_keywords"`
	ErrorKeywords      []string      `yaml:"error_keywords"`
	Recheck            time.Duration `yaml:"recheck"`
	CountPattern       string        `yaml:"count_pattern"`
	Auth               *AuthConfig   `yaml:"auth"`
}

// AuthConfig never holds secrets directly; *_env fields name the environment
// variables to read them from.
type AuthConfig struct {
	Mode           string   `yaml:"mode"`
	LoginURL       string   `yaml:"login_url"`
	TokenField     string   `yaml:"token_field"`
	UsernameField  string   `yaml:"username_field"`
	PasswordField  string   `yaml:"password_field"`
	SuccessMarkers []string `yaml:"success_markers"`
	FailureMarkers []string `yaml:"failure_markers"`
	Username       string   `yaml:"username"`
	UsernameEnv    string   `yaml:"username_env"`
	PasswordEnv    string   `yaml:"password_env"`
	TokenEnv       string   `yaml:"token_env"`
}

func (a AuthConfig) credentials() domain.Credentials {
	c := domain.Credentials{Username: a.Username}
	if a.UsernameEnv != "" {
		c.Username = os.Getenv(a.UsernameEnv)
	}
	if a.PasswordEnv != "" {
		c.Password = os.Getenv(a.PasswordEnv)
	}
	if a.TokenEnv != "" {
		c.Token = os.Getenv(a.TokenEnv)
	}
	return c
}

// Load reads path, applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Path picks the config file: flag value, then SITEWATCH_CONFIG, then the
// default name.
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv("SITEWATCH_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

func (c *Config) applyEnv() {
	if v := os.Getenv("LOG_DIR"); v != "" {
		c.LogDir = v
	}
	if v := os.Getenv("STATE_DIR"); v != "" {
		c.StateDir = v
	}
	c.DatabaseURL = os.Getenv("DATABASE_URL")
	c.SlackWebhook = os.Getenv("SLACK_WEBHOOK_URL")

	if v := os.Getenv("SMTP_HOST"); v != "" {
		c.Mail.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Mail.Port = n
		}
	}
	if v := os.Getenv("EMAIL_ADDRESS"); v != "" {
		c.Mail.Username = v
	}
	pwEnv := c.Mail.PasswordEnv
	if pwEnv == "" {
		pwEnv = "EMAIL_PASSWORD"
	}
	c.Mail.Password = os.Getenv(pwEnv)

	if v := splitCSV(os.Getenv("MAIL_TO")); len(v) > 0 {
		c.Recipients.Site = v
	}
	if v := splitCSV(os.Getenv("TICKET_MAIL_TO")); len(v) > 0 {
		c.Recipients.Ticket = v
	}

	if v := os.Getenv("CHECK_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			d := time.Duration(ms) * time.Millisecond
			c.Interval = &d
		}
	}

	if v := os.Getenv("STATUS_ADDR"); v != "" {
		c.Status.Addr = v
	}
	c.Status.APIKeys = splitCSV(os.Getenv("PUBLIC_API_KEYS"))
	c.Status.AdminKeys = splitCSV(os.Getenv("ADMIN_API_KEYS"))
	if v := splitCSV(os.Getenv("ALLOWED_ORIGINS")); len(v) > 0 {
		c.Status.Origins = v
	}
	if v := os.Getenv("STATUS_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Status.RPM = n
		}
	}
	if v := os.Getenv("STATUS_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Status.Burst = n
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Interval == nil {
		d := DefaultInterval
		c.Interval = &d
	}
	if c.Cooldown == nil {
		d := DefaultCooldown
		c.Cooldown = &d
	}
	if c.LogDir == "" {
		c.LogDir = "logs"
	}
	if c.StateDir == "" {
		c.StateDir = "state"
	}
	if c.Mail.Port == 0 {
		c.Mail.Port = DefaultSMTPPort
	}
	if c.Mail.From == "" {
		c.Mail.From = c.Mail.Username
	}
	if c.Status.RPM == 0 {
		c.Status.RPM = 60
	}
	if c.Status.Burst == 0 {
		c.Status.Burst = 10
	}
}

// IntervalValue returns the pause between passes; zero runs a single pass.
func (c *Config) IntervalValue() time.Duration {
	if c.Interval == nil {
		return DefaultInterval
	}
	return *c.Interval
}

// CooldownValue returns the dedup window; zero alerts on every run.
func (c *Config) CooldownValue() time.Duration {
	if c.Cooldown == nil {
		return DefaultCooldown
	}
	return *c.Cooldown
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var err error
	if len(c.Targets) == 0 {
		err = multierr.Append(err, errors.New("no targets configured"))
	}
	if c.IntervalValue() < 0 {
		err = multierr.Append(err, errors.New("interval must not be negative"))
	}
	if c.CooldownValue() < 0 {
		err = multierr.Append(err, errors.New("cooldown must not be negative"))
	}

	seen := map[string]bool{}
	for i, t := range c.Targets {
		name := t.ID
		if name == "" {
			name = fmt.Sprintf("targets[%d]", i)
			err = multierr.Append(err, fmt.Errorf("%s: id is required", name))
		} else if seen[name] {
			err = multierr.Append(err, fmt.Errorf("%s: duplicate id", name))
		}
		seen[name] = true

		if u, perr := url.Parse(t.URL); perr != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			err = multierr.Append(err, fmt.Errorf("%s: url %q is not an absolute http(s) url", name, t.URL))
		}
		switch domain.TargetKind(t.Kind) {
		case "", domain.KindSite:
		case domain.KindTicketCount:
			if t.CountPattern == "" {
				err = multierr.Append(err, fmt.Errorf("%s: count_pattern is required for ticket_count", name))
			}
		default:
			err = multierr.Append(err, fmt.Errorf("%s: unknown kind %q", name, t.Kind))
		}
		if t.Timeout < 0 || t.LatencyThreshold < 0 || t.Recheck < 0 {
			err = multierr.Append(err, fmt.Errorf("%s: durations must not be negative", name))
		}
		for _, code := range t.AllowedStatusCodes {
			if code < 100 || code > 599 {
				err = multierr.Append(err, fmt.Errorf("%s: invalid status code %d", name, code))
			}
		}
		if t.Auth != nil {
			switch domain.AuthMode(t.Auth.Mode) {
			case "", domain.AuthForm:
				if t.Auth.LoginURL == "" {
					err = multierr.Append(err, fmt.Errorf("%s: auth.login_url is required for form login", name))
				}
			case domain.AuthBearer, domain.AuthBasic:
			default:
				err = multierr.Append(err, fmt.Errorf("%s: unknown auth mode %q", name, t.Auth.Mode))
			}
		}
	}
	return err
}

// ToTargets builds the immutable domain targets, resolving credentials from
// the environment.
func (c *Config) ToTargets() []domain.Target {
	out := make([]domain.Target, 0, len(c.Targets))
	for _, tc := range c.Targets {
		t := domain.Target{
			ID:                 domain.TargetID(tc.ID),
			Name:               tc.Name,
			Kind:               domain.TargetKind(tc.Kind),
			URL:                tc.URL,
			Timeout:            tc.Timeout,
			LatencyThreshold:   tc.LatencyThreshold,
			AllowedStatusCodes: append([]int(nil), tc.AllowedStatusCodes...),
			CheckKeywords:      tc.CheckKeywords,
			ErrorKeywords:      append([]string(nil), tc.ErrorKeywords...),
			Recheck:            tc.Recheck,
			CountPattern:       tc.CountPattern,
		}
		if t.Name == "" {
			t.Name = tc.ID
		}
		if t.Kind == "" {
			t.Kind = domain.KindSite
		}
		if t.Timeout == 0 {
			t.Timeout = domain.DefaultTimeout
		}
		if t.LatencyThreshold == 0 {
			t.LatencyThreshold = domain.DefaultLatencyThreshold
		}
		if len(t.AllowedStatusCodes) == 0 {
			t.AllowedStatusCodes = []int{200}
		}
		if t.CheckKeywords && len(t.ErrorKeywords) == 0 {
			t.ErrorKeywords = append([]string(nil), DefaultErrorKeywords...)
		}
		if a := tc.Auth; a != nil {
			mode := domain.AuthMode(a.Mode)
			if mode == "" {
				mode = domain.AuthForm
			}
			t.Auth = &domain.AuthSpec{
				LoginURL:       a.LoginURL,
				Timeout:        t.Timeout,
				Mode:           mode,
				TokenField:     a.TokenField,
				UsernameField:  a.UsernameField,
				PasswordField:  a.PasswordField,
				SuccessMarkers: append([]string(nil), a.SuccessMarkers...),
				FailureMarkers: append([]string(nil), a.FailureMarkers...),
				Credentials:    a.credentials(),
			}
		}
		out = append(out, t)
	}
	return out
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
