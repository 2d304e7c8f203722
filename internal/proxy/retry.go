package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"modelrelay/internal/config"
	"modelrelay/internal/types"
)

// retryableStatuses are upstream responses that warrant another attempt.
var retryableStatuses = map[int]bool{
	http.StatusRequestTimeout:  true, // 408
	http.StatusTooEarly:        true, // 425
	http.StatusTooManyRequests: true, // 429
	500:                        true,
	502:                        true,
	503:                        true,
	504:                        true,
}

// Attempt produces one upstream call. It must be safe to invoke repeatedly:
// the caller materializes the request body into bytes before handing it in.
type Attempt func() (*http.Response, error)

// Executor wraps an attempt with the route's retry policy: at most
// MaxAttempts calls, exponential backoff with bounded jitter in between.
type Executor struct {
	policy config.RetryConfig
}

// NewExecutor builds the executor for one route.
func NewExecutor(policy config.RetryConfig) *Executor {
	return &Executor{policy: policy}
}

// newBackOff builds the per-request backoff schedule. The nominal delay
// after attempt i is min(max_backoff, backoff*2^i) and the actual sleep is
// sampled uniformly from [delay/2, delay]; centering the interval at 3/4 of
// the nominal delay with a randomization factor of 1/3 produces exactly that
// window.
func (e *Executor) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(float64(e.policy.Backoff()) * 0.75)
	b.MaxInterval = time.Duration(float64(e.policy.MaxBackoff()) * 0.75)
	b.RandomizationFactor = 1.0 / 3.0
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Execute runs attempts until one returns a non-retryable result or the
// budget is spent. It returns the response to hand downstream (which on
// exhaustion is the last retryable response, proxied verbatim), the number
// of attempts made, and the error kind when the request did not succeed.
func (e *Executor) Execute(ctx context.Context, attempt Attempt) (*http.Response, int, *types.ProxyError) {
	bo := e.newBackOff()

	var (
		lastResp *http.Response
		lastErr  *types.ProxyError
	)

	for i := 0; i < e.policy.MaxAttempts; i++ {
		resp, err := attempt()
		switch {
		case err != nil:
			perr := Classify(err)
			if perr.Kind == types.KindStreamAborted {
				return nil, i + 1, perr
			}
			lastResp, lastErr = nil, perr
		case !retryableStatuses[resp.StatusCode]:
			return resp, i + 1, nil
		default:
			lastResp = resp
			lastErr = types.UpstreamStatus(resp.StatusCode, http.StatusText(resp.StatusCode))
		}

		if i == e.policy.MaxAttempts-1 {
			break
		}

		delay := bo.NextBackOff()
		if lastResp != nil {
			if lastResp.StatusCode == http.StatusTooManyRequests {
				delay = e.applyRetryAfter(lastResp.Header.Get("Retry-After"), delay)
			}
			// The retryable response is not going downstream; release its
			// connection back to the pool.
			io.Copy(io.Discard, io.LimitReader(lastResp.Body, 4096))
			lastResp.Body.Close()
			lastResp = nil
		}

		select {
		case <-ctx.Done():
			return nil, i + 1, Classify(ctx.Err())
		case <-time.After(delay):
		}
	}

	if lastResp != nil {
		return lastResp, e.policy.MaxAttempts, types.Exhausted(lastErr, e.policy.MaxAttempts)
	}
	return nil, e.policy.MaxAttempts, types.Exhausted(lastErr, e.policy.MaxAttempts)
}

// applyRetryAfter stretches the computed delay to honor a parseable
// Retry-After header, subject to a hard cap of four times the configured
// backoff ceiling.
func (e *Executor) applyRetryAfter(header string, computed time.Duration) time.Duration {
	ra, ok := parseRetryAfter(header)
	if !ok {
		return computed
	}
	delay := computed
	if ra > delay {
		delay = ra
	}
	if hardCap := 4 * e.policy.MaxBackoff(); delay > hardCap {
		delay = hardCap
	}
	return delay
}

// parseRetryAfter understands both delta-seconds and HTTP-date forms.
func parseRetryAfter(header string) (time.Duration, bool) {
	if header == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

// Classify maps a transport-level failure to its error kind. Context
// cancellation means the downstream client went away and is never retried;
// deadline and net timeouts count as header-timeout expiry; everything else
// is a connection-level failure.
func Classify(err error) *types.ProxyError {
	if errors.Is(err, context.Canceled) {
		return &types.ProxyError{Kind: types.KindStreamAborted, Message: "client disconnected"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.Timeout(err.Error())
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return types.Timeout(err.Error())
	}
	return types.Transport(err.Error())
}
