package awsclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	awsretry "github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/smithy-go"
	"github.com/juju/clock"
	jujuerrors "github.com/juju/errors"
	"github.com/juju/retry"

	"github.com/cloudcompose/ecsroll/pkg/engine"
)

// Policy is the single retry policy applied to every provider call.
type Policy struct {
	// MaxDuration is the total retry budget for one call.
	MaxDuration time.Duration

	// BaseDelay is the wait after the first failed attempt. Later waits double.
	BaseDelay time.Duration

	// MaxDelay caps any single wait.
	MaxDelay time.Duration

	// IsRetryable decides whether a failed attempt is retried. Defaults to
	// the package-level IsRetryable.
	IsRetryable func(error) bool

	// Notify is called after every retryable failure.
	Notify func(op string, err error, attempt int)

	// Clock defaults to the wall clock.
	Clock clock.Clock
}

// DefaultPolicy retries for up to 10s, waiting 500ms, 1s, then 2s between attempts.
func DefaultPolicy() Policy {
	return Policy{
		MaxDuration: 10 * time.Second,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		IsRetryable: IsRetryable,
	}
}

// Validate checks the policy parameters.
func (p Policy) Validate() error {
	if p.MaxDuration <= 0 {
		return fmt.Errorf("retry budget must be positive, got %s", p.MaxDuration)
	}
	if p.BaseDelay <= 0 {
		return fmt.Errorf("base delay must be positive, got %s", p.BaseDelay)
	}
	if p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("max delay %s is below base delay %s", p.MaxDelay, p.BaseDelay)
	}
	return nil
}

// Do runs fn under the policy. Retryable failures are retried until the
// budget is spent; anything else is returned at once, classified.
func (p Policy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	isRetryable := p.IsRetryable
	if isRetryable == nil {
		isRetryable = IsRetryable
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	var lastErr error
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			lastErr = fn(ctx)
			return lastErr
		},
		IsFatalError: func(err error) bool {
			return ctx.Err() != nil || !isRetryable(err)
		},
		NotifyFunc: func(err error, attempt int) {
			if p.Notify != nil {
				p.Notify(op, err, attempt)
			}
		},
		Attempts:    -1,
		Delay:       p.BaseDelay,
		MaxDelay:    p.MaxDelay,
		MaxDuration: p.MaxDuration,
		BackoffFunc: retry.DoubleDelay,
		Clock:       clk,
		Stop:        ctx.Done(),
	})
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s interrupted: %w", op, ctxErr)
	}

	if retry.IsDurationExceeded(err) || retry.IsAttemptsExceeded(err) {
		annotated := jujuerrors.Annotatef(lastErr, "%s: retry budget of %s exhausted", op, p.MaxDuration)
		var e *engine.EngineError
		if isThrottle(lastErr) {
			e = engine.NewThrottledError("provider kept throttling", annotated)
		} else {
			e = engine.NewTransientError("provider call kept failing", annotated)
		}
		return e.WithOperation(op).WithCode(engine.ErrCodeRetryExhausted)
	}

	return Classify(op, lastErr)
}

// IsRetryable reports whether err is infrastructure noise worth retrying.
// A well-formed provider rejection is terminal unless it is a throttling
// response; anything without a provider error code is retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return isThrottle(err)
	}
	return true
}

func isThrottle(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	_, ok := awsretry.DefaultThrottleErrorCodes[apiErr.ErrorCode()]
	return ok
}

// Classify wraps a terminal provider error in an EngineError. Errors that
// are already classified pass through unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *engine.EngineError
	if errors.As(err, &e) {
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return engine.NewPermanentError(
			fmt.Sprintf("provider rejected request with %s", apiErr.ErrorCode()), err,
		).WithOperation(op).WithCode(engine.ErrCodeProviderRejected)
	}
	return engine.NewPermanentError("provider call failed", err).WithOperation(op)
}
