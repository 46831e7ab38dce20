package domain

import (
	"strings"
	"time"
)

type TargetID string

type TargetKind string

const (
	KindSite        TargetKind = "site"
	KindTicketCount TargetKind = "ticket_count"
)

const (
	DefaultTimeout          = 30 * time.Second
	DefaultLatencyThreshold = 60 * time.Second
)

// Target is one monitored URL plus its evaluation rules. It is built once
// from configuration and never mutated afterwards.
type Target struct {
	ID                 TargetID      `json:"id"`
	Name               string        `json:"name"`
	Kind               TargetKind    `json:"kind"`
	URL                string        `json:"url"`
	Timeout            time.Duration `json:"timeout"`
	LatencyThreshold   time.Duration `json:"latency_threshold"`
	AllowedStatusCodes []int         `json:"allowed_status_codes"`
	CheckKeywords      bool          `json:"check_keywords"`
	ErrorKeywords      []string      `json:"error_keywords,omitempty"`
	Auth               *AuthSpec     `json:"-"`
	Recheck            time.Duration `json:"recheck,omitempty"`
	CountPattern       string        `json:"count_pattern,omitempty"`
}

func (t Target) RequiresAuth() bool { return t.Auth != nil }

// StatusAllowed reports whether code is acceptable for t. An empty allowlist
// means only 200.
func (t Target) StatusAllowed(code int) bool {
	if len(t.AllowedStatusCodes) == 0 {
		return code == 200
	}
	for _, c := range t.AllowedStatusCodes {
		if c == code {
			return true
		}
	}
	return false
}

type AuthMode string

const (
	AuthForm   AuthMode = "form"
	AuthBearer AuthMode = "bearer"
	AuthBasic  AuthMode = "basic"
)

// AuthSpec describes how to establish a session before fetching a protected
// target. Markers are matched case-insensitively against the login response.
// Timeout bounds each login request; zero uses the authenticator default.
type AuthSpec struct {
	LoginURL       string
	Timeout        time.Duration
	Mode           AuthMode
	TokenField     string
	UsernameField  string
	PasswordField  string
	SuccessMarkers []string
	FailureMarkers []string
	Credentials    Credentials
}

type Credentials struct {
	Username string
	Password string
	Token    string
}

func (c Credentials) Empty() bool {
	return c.Token == "" && (c.Username == "" || c.Password == "")
}

// String never prints secrets.
func (c Credentials) String() string {
	switch {
	case c.Token != "":
		return "token:" + Redact(c.Token)
	case c.Username != "":
		return c.Username + ":" + Redact(c.Password)
	default:
		return "<none>"
	}
}

// Redact keeps the first rune of s and masks the rest.
func Redact(s string) string {
	if s == "" {
		return ""
	}
	r := []rune(s)
	return string(r[0]) + strings.Repeat("*", 3)
}

// FetchResult is produced once per target per run. TransportError set means
// StatusCode and Body are nil.
type FetchResult struct {
	StatusCode     *int          `json:"status_code,omitempty"`
	Latency        time.Duration `json:"latency"`
	Body           *string       `json:"-"`
	TransportError error         `json:"-"`
	FinalURL       string        `json:"final_url,omitempty"`
	FetchedAt      time.Time     `json:"fetched_at"`
}

func (r FetchResult) Status() int {
	if r.StatusCode == nil {
		return 0
	}
	return *r.StatusCode
}

func (r FetchResult) Text() string {
	if r.Body == nil {
		return ""
	}
	return *r.Body
}

type Channel string

const (
	ChannelSite   Channel = "site"
	ChannelTicket Channel = "ticket"
)

type Notification struct {
	Subject    string
	Body       string
	Recipients []string
	Channel    Channel
}
