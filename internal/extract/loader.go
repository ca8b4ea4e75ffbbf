package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"joboffers/internal/metrics"
)

// browserUserAgent is sent with page fetches; several job boards refuse
// requests without a browser-like agent.
const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// networkErrorMinBackoff keeps transport failures from retrying in a tight loop.
const networkErrorMinBackoff = 10 * time.Second

// RetryPolicy controls how Load retries 429, 5xx and transport failures.
// Attempts <= 1 disables retries.
type RetryPolicy struct {
	Attempts    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Loader fetches offer pages with a per-request timeout.
type Loader struct {
	client  *http.Client
	timeout time.Duration
	retry   RetryPolicy
	metrics metrics.Backend

	// sleep waits d or until ctx is done; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewLoader creates a Loader. If client is nil, http.DefaultClient is used;
// a non-positive timeout defaults to 10s.
func NewLoader(client *http.Client, timeout time.Duration) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Loader{client: client, timeout: timeout, metrics: metrics.Nop{}, sleep: sleepContext}
}

// WithRetry sets the retry policy and returns l.
func (l *Loader) WithRetry(p RetryPolicy) *Loader {
	l.retry = p
	return l
}

// WithMetrics counts every attempt under metrics.HTTPRequestsTotal and
// returns l.
func (l *Loader) WithMetrics(m metrics.Backend) *Loader {
	l.metrics = metrics.OrNop(m)
	return l
}

// StatusError is a non-2xx response. Body holds up to 4KB of it.
type StatusError struct {
	Code       int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.Code, e.Body)
}

// Load fetches url and parses the body as HTML, retrying per the policy.
// 404 and 410 are final: the offer is gone.
func (l *Loader) Load(ctx context.Context, url string) (*goquery.Document, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("empty url")
	}

	attempts := max(l.retry.Attempts, 1)
	for attempt := 1; ; attempt++ {
		doc, err := l.loadOnce(ctx, url)
		l.metrics.IncCounter(metrics.HTTPRequestsTotal, 1, metrics.Labels{"status": statusLabel(err)})
		if err == nil || attempt == attempts || !retryable(ctx, err) {
			return doc, err
		}
		if !l.sleep(ctx, l.retryDelay(err, attempt)) {
			return nil, err
		}
	}
}

func (l *Loader) loadOnce(ctx context.Context, url string) (*goquery.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{
			Code:       resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: parseRetryAfter(resp.Header),
		}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return true
}

// retryDelay honours Retry-After on 429, otherwise backs off exponentially
// from BaseBackoff, clamped to MaxBackoff.
func (l *Loader) retryDelay(err error, attempt int) time.Duration {
	var se *StatusError
	isStatus := errors.As(err, &se)
	if isStatus && se.Code == http.StatusTooManyRequests && se.RetryAfter > 0 {
		return se.RetryAfter
	}

	d := l.retry.BaseBackoff << uint(attempt-1)
	if l.retry.MaxBackoff > 0 && d > l.retry.MaxBackoff {
		d = l.retry.MaxBackoff
	}
	if !isStatus && d < networkErrorMinBackoff {
		d = networkErrorMinBackoff
	}
	return d
}

func statusLabel(err error) string {
	if err == nil {
		return "2xx"
	}
	var se *StatusError
	if errors.As(err, &se) {
		return strconv.Itoa(se.Code)
	}
	return "error"
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// parseRetryAfter reads delta-seconds or an HTTP-date.
func parseRetryAfter(h http.Header) time.Duration {
	ra := strings.TrimSpace(h.Get("Retry-After"))
	if ra == "" {
		return 0
	}
	if secs, err := strconv.Atoi(ra); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(ra); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
