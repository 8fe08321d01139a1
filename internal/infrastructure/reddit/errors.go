package reddit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"CommunityScanner/internal/domain"
)

// HTTP status code boundaries for classification.
const (
	statusRedirectLow     = 300
	statusRedirectHigh    = 399
	statusUnauthorized    = 401
	statusForbidden       = 403
	statusNotFound        = 404
	statusGone            = 410
	statusTooManyRequests = 429
	statusServerErrorLow  = 500
	statusServerErrorHigh = 599
)

// classifyStatus turns a non-200 response into a RemoteError.
func classifyStatus(resp *http.Response, op string) *domain.RemoteError {
	code := resp.StatusCode
	e := &domain.RemoteError{StatusCode: code, Op: op}

	switch {
	case code == statusTooManyRequests:
		e.Kind = domain.RemoteThrottled
		e.RetryAfter = retryAfter(resp.Header)
	case code == statusForbidden:
		e.Kind = domain.RemoteForbidden
	case code == statusNotFound || code == statusGone:
		e.Kind = domain.RemoteNotFound
	case code >= statusRedirectLow && code <= statusRedirectHigh:
		// banned and unknown communities redirect to the search page
		e.Kind = domain.RemoteNotFound
	case code == statusUnauthorized:
		e.Kind = domain.RemoteTransient
	case code >= statusServerErrorLow && code <= statusServerErrorHigh:
		e.Kind = domain.RemoteTransient
	default:
		e.Kind = domain.RemoteInvalid
	}
	return e
}

// classifyNetwork wraps transport failures. Cancellation of ctx passes through untouched;
// a client timeout is transient.
func classifyNetwork(ctx context.Context, err error, op string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &domain.RemoteError{Kind: domain.RemoteTransient, Op: op, Cause: err}
}

func classifyParse(err error, op string) error {
	return &domain.RemoteError{Kind: domain.RemoteInvalid, Op: op, Cause: fmt.Errorf("decode response: %w", err)}
}

// retryAfter reads Retry-After or X-Ratelimit-Reset, both in seconds.
func retryAfter(h http.Header) time.Duration {
	for _, key := range []string{"Retry-After", "X-Ratelimit-Reset"} {
		raw := strings.TrimSpace(h.Get(key))
		if raw == "" {
			continue
		}
		if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
		if at, err := http.ParseTime(raw); err == nil {
			if d := time.Until(at); d > 0 {
				return d
			}
		}
	}
	return 0
}
