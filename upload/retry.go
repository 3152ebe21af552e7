package upload

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// FailureClass is the closed set of failure categories the retry policy understands.
type FailureClass int

const (
	FailureFatal FailureClass = iota
	FailureServiceUnavailable
	FailureRequestTimeout
	FailureExpiredAuthToken
)

func (c FailureClass) String() string {
	switch c {
	case FailureServiceUnavailable:
		return "service_unavailable"
	case FailureRequestTimeout:
		return "request_timeout"
	case FailureExpiredAuthToken:
		return "expired_auth_token"
	default:
		return "fatal"
	}
}

// Classifier maps an error to a FailureClass.
type Classifier func(err error) FailureClass

// RetryPolicy decides which part failures are retried and how long to wait between attempts.
type RetryPolicy struct {
	Classify Classifier
	// BaseDelay is multiplied by the attempt number.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// MaxAttempts caps the number of attempts per part. 0 means unbounded.
	MaxAttempts int
}

// DefaultRetryPolicy retries transient failures without limit.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Classify:  ClassifyError,
		BaseDelay: 2 * time.Second,
		MaxDelay:  30 * time.Second,
	}
}

// Retryable reports whether the class is transient.
func (p RetryPolicy) Retryable(class FailureClass) bool {
	switch class {
	case FailureServiceUnavailable, FailureRequestTimeout, FailureExpiredAuthToken:
		return true
	default:
		return false
	}
}

// Delay returns the pause before the next attempt. attempt is 1-based.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(attempt) * p.BaseDelay
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func (p RetryPolicy) classify(err error) FailureClass {
	if p.Classify == nil {
		return ClassifyError(err)
	}
	return p.Classify(err)
}

type retryFunc func(attempt int, class FailureClass, err error)

// run calls fn until it succeeds, fails fatally, or the context is done.
func (p RetryPolicy) run(ctx context.Context, fn func(ctx context.Context) error, onRetry retryFunc) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		class := p.classify(err)
		if !p.Retryable(class) {
			return err
		}

		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, attempt, err)
		}

		if onRetry != nil {
			onRetry(attempt, class, err)
		}

		if err := sleep(ctx, p.Delay(attempt)); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ClassifyError is the default Classifier. It recognises the transient failures
// reported by B2 and S3 compatible services, and client side request timeouts.
func ClassifyError(err error) FailureClass {
	if err == nil {
		return FailureFatal
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Code {
		case "service_unavailable", "ServiceUnavailable", "SlowDown":
			return FailureServiceUnavailable
		case "request_timeout", "RequestTimeout":
			return FailureRequestTimeout
		case "expired_auth_token", "bad_auth_token", "ExpiredToken":
			return FailureExpiredAuthToken
		case "AccessDenied":
			// S3 rejects a presigned request past its expiry with AccessDenied.
			if strings.Contains(statusErr.Message, "Request has expired") {
				return FailureExpiredAuthToken
			}
			return FailureFatal
		case "":
			return classifyStatus(statusErr.StatusCode)
		}
		return FailureFatal
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureRequestTimeout
	}

	return FailureFatal
}

func classifyStatus(statusCode int) FailureClass {
	switch statusCode {
	case http.StatusServiceUnavailable:
		return FailureServiceUnavailable
	case http.StatusRequestTimeout:
		return FailureRequestTimeout
	case http.StatusUnauthorized:
		return FailureExpiredAuthToken
	}
	return FailureFatal
}
