package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const httpErrorBodyLimit = 1024

type timingConfig struct {
	timeout           time.Duration
	rateInterval      time.Duration
	rateBurst         int
	backoffMaxElapsed time.Duration
	backoffMax        time.Duration
	backoffInitial    time.Duration
}

var defaultTiming = timingConfig{
	timeout:           10 * time.Second,
	rateInterval:      time.Second,
	rateBurst:         1,
	backoffMaxElapsed: 30 * time.Second,
	backoffMax:        10 * time.Second,
	backoffInitial:    time.Second,
}

// httpPoster delivers JSON payloads to one webhook endpoint. Deliveries are
// throttled per server and retried until backoffMaxElapsed has passed,
// including waits requested through Retry-After.
type httpPoster struct {
	logger      zerolog.Logger
	destination string
	url         string
	contentType string
	client      *retryablehttp.Client
	timing      timingConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newHTTPPoster(logger zerolog.Logger, destination, url, contentType string, timing timingConfig) *httpPoster {
	client := retryablehttp.NewClient()
	// Retries are driven by deliver so Retry-After shares the same budget.
	client.RetryMax = 0
	client.CheckRetry = func(context.Context, *http.Response, error) (bool, error) {
		return false, nil
	}
	client.Logger = nil
	client.HTTPClient = &http.Client{Timeout: timing.timeout}

	return &httpPoster{
		logger:      logger.With().Str("destination", destination).Logger(),
		destination: destination,
		url:         url,
		contentType: contentType,
		client:      client,
		timing:      timing,
		limiters:    make(map[string]*rate.Limiter),
	}
}

// deliver waits for the server's rate limit slot and posts payload.
func (p *httpPoster) deliver(ctx context.Context, server string, payload []byte) error {
	if err := p.limiter(server).Wait(ctx); err != nil {
		return fmt.Errorf("%s rate limit: %w", p.destination, err)
	}

	policy := &retryAfterBackOff{ExponentialBackOff: p.newBackOff()}
	attempt := func() error {
		err := p.postOnce(ctx, payload)
		var ra *retryAfterError
		if errors.As(err, &ra) {
			policy.requested = ra.Duration
		}
		return err
	}
	onRetry := func(err error, wait time.Duration) {
		p.logger.Debug().Err(err).Dur("wait", wait).Msg("notification delivery retrying")
	}
	return backoff.RetryNotify(attempt, backoff.WithContext(policy, ctx), onRetry)
}

func (p *httpPoster) limiter(server string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if l, ok := p.limiters[server]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Every(p.timing.rateInterval), p.timing.rateBurst)
	p.limiters[server] = l
	return l
}

func (p *httpPoster) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.timing.backoffInitial
	b.MaxInterval = p.timing.backoffMax
	b.MaxElapsedTime = p.timing.backoffMaxElapsed
	b.Reset()
	return b
}

// postOnce makes a single request. Transport failures, 5xx and 429 responses
// are retryable; everything else is wrapped in backoff.Permanent.
func (p *httpPoster) postOnce(ctx context.Context, payload []byte) error {
	reqCtx, cancel := context.WithTimeout(ctx, p.timing.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build %s request: %w", p.destination, err))
	}
	req.Header.Set("Content-Type", p.contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", p.destination, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, httpErrorBodyLimit))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		limited := fmt.Errorf("%s rate limited: %s", p.destination, resp.Status)
		if wait, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			return &retryAfterError{Duration: wait, err: limited}
		}
		return limited
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%s server error: %s", p.destination, resp.Status)
	}

	if text := strings.TrimSpace(string(body)); text != "" {
		return backoff.Permanent(fmt.Errorf("%s request failed: %s (%s)", p.destination, resp.Status, text))
	}
	return backoff.Permanent(fmt.Errorf("%s request failed: %s", p.destination, resp.Status))
}

// retryAfterBackOff stretches the next wait to a server-requested delay. A
// request that would overrun MaxElapsedTime stops the retries instead.
type retryAfterBackOff struct {
	*backoff.ExponentialBackOff
	requested time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	wait := b.ExponentialBackOff.NextBackOff()
	requested := b.requested
	b.requested = 0
	if wait == backoff.Stop || requested <= wait {
		return wait
	}
	if b.MaxElapsedTime > 0 && b.GetElapsedTime()+requested > b.MaxElapsedTime {
		return backoff.Stop
	}
	return requested
}

func parseRetryAfter(value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		if wait := time.Until(when); wait > 0 {
			return wait, true
		}
	}
	return 0, false
}

type retryAfterError struct {
	Duration time.Duration
	err      error
}

func (e *retryAfterError) Error() string {
	return fmt.Sprintf("%v; retry after %s", e.err, e.Duration)
}

func (e *retryAfterError) Unwrap() error {
	return e.err
}
