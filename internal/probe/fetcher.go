package probe

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hamed0406/sitewatch/internal/auth"
	"github.com/hamed0406/sitewatch/internal/domain"
)

const maxBody = 2 << 20

// Fetcher performs one fetch of a URL and never fails past its boundary:
// transport problems come back inside the result.
type Fetcher interface {
	Fetch(ctx context.Context, sess *auth.Session, url string, timeout time.Duration) domain.FetchResult
}

type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
}

func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{
		Client:    &http.Client{},
		UserAgent: auth.DefaultUserAgent,
	}
}

func (h *HTTPFetcher) Fetch(ctx context.Context, sess *auth.Session, target string, timeout time.Duration) domain.FetchResult {
	if timeout <= 0 {
		timeout = domain.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := h.Client
	if sess != nil && sess.Client != nil {
		client = sess.Client
	}
	if client == nil {
		client = http.DefaultClient
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return domain.FetchResult{TransportError: err, FetchedAt: start.UTC()}
	}
	req.Header.Set("User-Agent", h.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return domain.FetchResult{
			TransportError: err,
			Latency:        time.Since(start),
			FetchedAt:      start.UTC(),
		}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	latency := time.Since(start)
	if err != nil {
		// headers arrived but the body did not; treat like a dropped connection
		return domain.FetchResult{TransportError: err, Latency: latency, FetchedAt: start.UTC()}
	}

	code := resp.StatusCode
	body := strings.ToLower(string(b))
	return domain.FetchResult{
		StatusCode: &code,
		Latency:    latency,
		Body:       &body,
		FinalURL:   resp.Request.URL.String(),
		FetchedAt:  start.UTC(),
	}
}
