package httpx

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// StatusCoder is implemented by errors that carry an upstream HTTP status.
type StatusCoder interface {
	HTTPStatusCode() int
}

func RetryableStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code >= 500 && code <= 599:
		return code != http.StatusNotImplemented
	default:
		return false
	}
}

// Retryable reports whether a failed upstream call may succeed on retry.
// Cancellation by the caller never is.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		return RetryableStatus(sc.HTTPStatusCode())
	}
	return false
}

// Backoff is an exponential retry schedule. Delays double per attempt from
// Base, are capped at Max and spread by +/- Jitter (a fraction of the delay).
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

var DefaultBackoff = Backoff{Base: time.Second, Max: 10 * time.Second, Jitter: 0.2}

// Delay returns how long to wait before retry number attempt (0-based). A
// Retry-After header on resp overrides the computed delay, still capped at Max.
func (b Backoff) Delay(attempt int, resp *http.Response) time.Duration {
	d := b.Base
	for i := 0; i < attempt && (b.Max <= 0 || d < b.Max); i++ {
		d *= 2
	}
	if ra, ok := retryAfter(resp, time.Now()); ok {
		d = ra
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return b.jitter(d)
}

func (b Backoff) jitter(d time.Duration) time.Duration {
	if d <= 0 || b.Jitter <= 0 {
		return d
	}
	spread := float64(d) * b.Jitter
	v := float64(d) - spread + rand.Float64()*2*spread
	if v < 0 {
		v = 0
	}
	return time.Duration(v)
}

// retryAfter parses a Retry-After header given as seconds or an HTTP date.
func retryAfter(resp *http.Response, now time.Time) (time.Duration, bool) {
	if resp == nil {
		return 0, false
	}
	ra := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if ra == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(ra); err == nil {
		if secs <= 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(ra); err == nil && at.After(now) {
		return at.Sub(now), true
	}
	return 0, false
}
