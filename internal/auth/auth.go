// Package auth establishes sessions for protected targets.
//
// Login problems are returned as *Failure values, never as panics, so the
// runner can turn them into an auth_failed outcome and move on.
package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hamed0406/sitewatch/internal/domain"
)

const snippetLimit = 512

// Session is an authenticated HTTP context for exactly one target pass.
type Session struct {
	Client *http.Client
}

// Close releases pooled connections. Safe on nil.
func (s *Session) Close() {
	if s == nil || s.Client == nil {
		return
	}
	s.Client.CloseIdleConnections()
}

// Failure describes why a login did not produce a session.
type Failure struct {
	Reason  string
	Snippet string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Reason, f.Err)
	}
	return f.Reason
}

func (f *Failure) Unwrap() error { return f.Err }

// Authenticator is implemented by anything that can log in to a target.
type Authenticator interface {
	Authenticate(ctx context.Context, spec domain.AuthSpec) (*Session, *Failure)
}

func snippet(body string) string {
	if len(body) <= snippetLimit {
		return body
	}
	return body[:snippetLimit]
}

// headerTransport injects a static Authorization header into every request.
type headerTransport struct {
	base   http.RoundTripper
	header string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", t.header)
	return t.base.RoundTrip(req)
}
