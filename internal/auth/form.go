package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/publicsuffix"

	"github.com/hamed0406/sitewatch/internal/domain"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (compatible; sitewatch)"
	maxLoginBody     = 2 << 20
)

// FormAuthenticator logs in by submitting the site's login form, or by
// attaching bearer/basic credentials for token-protected endpoints.
type FormAuthenticator struct {
	Logger    *zap.Logger
	Timeout   time.Duration
	UserAgent string
	Transport http.RoundTripper
}

func NewFormAuthenticator(logger *zap.Logger, timeout time.Duration) *FormAuthenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = domain.DefaultTimeout
	}
	return &FormAuthenticator{Logger: logger, Timeout: timeout, UserAgent: DefaultUserAgent}
}

func (a *FormAuthenticator) Authenticate(ctx context.Context, spec domain.AuthSpec) (*Session, *Failure) {
	if spec.Credentials.Empty() {
		return nil, &Failure{Reason: "missing credentials"}
	}

	switch spec.Mode {
	case domain.AuthBearer, domain.AuthBasic:
		return a.headerSession(ctx, spec)
	default:
		return a.formSession(ctx, spec)
	}
}

// newClient builds the session client. AuthSpec.Timeout wins over the
// authenticator default.
func (a *FormAuthenticator) newClient(spec domain.AuthSpec, rt http.RoundTripper) (*http.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	if rt == nil {
		rt = a.Transport
	}
	if rt == nil {
		rt = http.DefaultTransport.(*http.Transport).Clone()
	}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = a.Timeout
	}
	return &http.Client{Jar: jar, Timeout: timeout, Transport: rt}, nil
}

func (a *FormAuthenticator) formSession(ctx context.Context, spec domain.AuthSpec) (*Session, *Failure) {
	if spec.LoginURL == "" {
		return nil, &Failure{Reason: "login url not configured"}
	}
	client, err := a.newClient(spec, nil)
	if err != nil {
		return nil, &Failure{Reason: "cookie jar", Err: err}
	}
	sess := &Session{Client: client}

	_, page, err := a.do(ctx, client, http.MethodGet, spec.LoginURL, nil)
	if err != nil {
		sess.Close()
		return nil, &Failure{Reason: "login page unreachable", Err: err}
	}

	form := url.Values{}
	if spec.TokenField != "" {
		token, ok := FindInputValue(strings.NewReader(page), spec.TokenField)
		if !ok {
			sess.Close()
			return nil, &Failure{Reason: "token not found on login page", Snippet: snippet(page)}
		}
		form.Set(spec.TokenField, token)
	}
	form.Set(fieldOr(spec.UsernameField, "username"), spec.Credentials.Username)
	form.Set(fieldOr(spec.PasswordField, "password"), spec.Credentials.Password)

	status, body, err := a.do(ctx, client, http.MethodPost, spec.LoginURL, form)
	if err != nil {
		sess.Close()
		return nil, &Failure{Reason: "login request failed", Err: err}
	}
	if f := checkMarkers(status, body, spec); f != nil {
		sess.Close()
		return nil, f
	}

	a.Logger.Debug("login_ok",
		zap.String("login_url", spec.LoginURL),
		zap.Stringer("credentials", spec.Credentials),
	)
	return sess, nil
}

func (a *FormAuthenticator) headerSession(ctx context.Context, spec domain.AuthSpec) (*Session, *Failure) {
	var header string
	if spec.Mode == domain.AuthBearer {
		if spec.Credentials.Token == "" {
			return nil, &Failure{Reason: "missing credentials"}
		}
		header = "Bearer " + spec.Credentials.Token
	} else {
		if spec.Credentials.Username == "" || spec.Credentials.Password == "" {
			return nil, &Failure{Reason: "missing credentials"}
		}
		raw := spec.Credentials.Username + ":" + spec.Credentials.Password
		header = "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
	}

	base := a.Transport
	if base == nil {
		base = http.DefaultTransport.(*http.Transport).Clone()
	}
	client, err := a.newClient(spec, &headerTransport{base: base, header: header})
	if err != nil {
		return nil, &Failure{Reason: "cookie jar", Err: err}
	}
	sess := &Session{Client: client}

	// Without a login URL there is nothing to verify up front.
	if spec.LoginURL == "" {
		return sess, nil
	}
	status, body, err := a.do(ctx, client, http.MethodGet, spec.LoginURL, nil)
	if err != nil {
		sess.Close()
		return nil, &Failure{Reason: "login request failed", Err: err}
	}
	if f := checkMarkers(status, body, spec); f != nil {
		sess.Close()
		return nil, f
	}
	return sess, nil
}

func (a *FormAuthenticator) do(ctx context.Context, c *http.Client, method, target string, form url.Values) (int, string, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("User-Agent", fieldOr(a.UserAgent, DefaultUserAgent))
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := c.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxLoginBody))
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, string(b), nil
}

// checkMarkers decides login success from the response. Any failure marker
// loses; with success markers configured at least one must be present;
// otherwise a non-error status is enough.
func checkMarkers(status int, body string, spec domain.AuthSpec) *Failure {
	lower := strings.ToLower(body)
	for _, m := range spec.FailureMarkers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" && strings.Contains(lower, m) {
			return &Failure{Reason: "failure marker found: " + m, Snippet: snippet(body)}
		}
	}
	if len(spec.SuccessMarkers) == 0 {
		if status >= 400 {
			return &Failure{Reason: "login returned HTTP " + strconv.Itoa(status), Snippet: snippet(body)}
		}
		return nil
	}
	for _, m := range spec.SuccessMarkers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" && strings.Contains(lower, m) {
			return nil
		}
	}
	return &Failure{Reason: "success marker not found", Snippet: snippet(body)}
}

// FindInputValue returns the value attribute of the first <input> whose name
// equals name.
func FindInputValue(r io.Reader, name string) (string, bool) {
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return "", false
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data != "input" {
				continue
			}
			var n, v string
			for _, attr := range tok.Attr {
				switch attr.Key {
				case "name":
					n = attr.Val
				case "value":
					v = attr.Val
				}
			}
			if n == name {
				return v, true
			}
		}
	}
}

func fieldOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// IsTransport reports whether f was caused by a network-level error.
func IsTransport(f *Failure) bool {
	if f == nil || f.Err == nil {
		return false
	}
	var ue *url.Error
	return errors.As(f.Err, &ue)
}
