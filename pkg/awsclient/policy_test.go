package awsclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/juju/clock/testclock"

	"github.com/cloudcompose/ecsroll/pkg/engine"
)

// budgetWaits is the pause schedule of DefaultPolicy against a provider that
// never recovers: doubling from 500ms, capped at 2s, within 10s.
var budgetWaits = []time.Duration{
	500 * time.Millisecond,
	time.Second,
	2 * time.Second,
	2 * time.Second,
	2 * time.Second,
	2 * time.Second,
}

// doWithClock runs p.Do in the background against clk, advancing the clock
// through waits one pause at a time. It returns the clock reading at every
// attempt and the result of Do.
func doWithClock(t *testing.T, p Policy, clk *testclock.Clock, op string, fail error, waits []time.Duration) ([]time.Time, error) {
	t.Helper()
	p.Clock = clk

	var mu sync.Mutex
	var attempts []time.Time
	done := make(chan error, 1)
	go func() {
		done <- p.Do(context.Background(), op, func(context.Context) error {
			mu.Lock()
			attempts = append(attempts, clk.Now())
			mu.Unlock()
			return fail
		})
	}()

	for i, d := range waits {
		if err := clk.WaitAdvance(d, time.Second, 1); err != nil {
			t.Fatalf("failed to advance past wait %d: %v", i, err)
		}
	}

	select {
	case err := <-done:
		mu.Lock()
		defer mu.Unlock()
		return append([]time.Time(nil), attempts...), err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Do to return")
		return nil, nil
	}
}

func fastPolicy() Policy {
	return Policy{
		MaxDuration: 200 * time.Millisecond,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.MaxDuration != 10*time.Second || p.BaseDelay != 500*time.Millisecond || p.MaxDelay != 2*time.Second {
		t.Errorf("unexpected default policy: %+v", p)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("default policy invalid: %v", err)
	}
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
	}{
		{name: "no budget", policy: Policy{BaseDelay: time.Second, MaxDelay: time.Second}},
		{name: "no base delay", policy: Policy{MaxDuration: time.Second, MaxDelay: time.Second}},
		{name: "cap below base", policy: Policy{MaxDuration: time.Second, BaseDelay: time.Second, MaxDelay: time.Millisecond}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.policy.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "network", err: errors.New("connection reset by peer"), want: true},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "rejection", err: &smithy.GenericAPIError{Code: "ClusterNotFoundException", Message: "not found"}, want: false},
		{name: "validation", err: &smithy.GenericAPIError{Code: "ValidationError"}, want: false},
		{name: "throttling", err: &smithy.GenericAPIError{Code: "Throttling"}, want: true},
		{name: "request limit", err: &smithy.GenericAPIError{Code: "RequestLimitExceeded"}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestDoRetriesTransientFailures(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), "DescribeClusters", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestDoStopsOnRejection(t *testing.T) {
	calls := 0
	rejection := &smithy.GenericAPIError{Code: "ClusterNotFoundException", Message: "cluster missing"}
	err := fastPolicy().Do(context.Background(), "DescribeClusters", func(context.Context) error {
		calls++
		return rejection
	})
	if calls != 1 {
		t.Errorf("expected a single attempt, got %d", calls)
	}
	if !engine.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if code := engine.CodeOf(err); code != engine.ErrCodeProviderRejected {
		t.Errorf("expected code %s, got %s", engine.ErrCodeProviderRejected, code)
	}
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorCode() != "ClusterNotFoundException" {
		t.Errorf("expected provider error in chain, got %v", err)
	}
}

func TestDoExhaustsBudget(t *testing.T) {
	p := DefaultPolicy()
	clk := testclock.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	start := clk.Now()

	attempts, err := doWithClock(t, p, clk, "DescribeInstances", errors.New("i/o timeout"), budgetWaits)
	if !engine.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if code := engine.CodeOf(err); code != engine.ErrCodeRetryExhausted {
		t.Errorf("expected code %s, got %s", engine.ErrCodeRetryExhausted, code)
	}
	if len(attempts) != len(budgetWaits)+1 {
		t.Fatalf("expected %d attempts, got %d", len(budgetWaits)+1, len(attempts))
	}

	if !attempts[0].Equal(start) {
		t.Errorf("expected the first attempt without waiting, got %s", attempts[0].Sub(start))
	}
	for i := 1; i < len(attempts); i++ {
		gap := attempts[i].Sub(attempts[i-1])
		if gap != budgetWaits[i-1] {
			t.Errorf("wait %d = %s, want %s", i-1, gap, budgetWaits[i-1])
		}
		if gap > p.MaxDelay {
			t.Errorf("wait %s exceeds cap %s", gap, p.MaxDelay)
		}
	}
	if total := attempts[len(attempts)-1].Sub(start); total > p.MaxDuration {
		t.Errorf("total wait %s exceeds budget %s", total, p.MaxDuration)
	}
}

func TestDoThrottledExhaustion(t *testing.T) {
	clk := testclock.NewClock(time.Now())

	_, err := doWithClock(t, DefaultPolicy(), clk, "DescribeServices",
		&smithy.GenericAPIError{Code: "ThrottlingException"}, budgetWaits)
	if !engine.IsThrottled(err) {
		t.Fatalf("expected throttled error, got %v", err)
	}
	if !engine.IsRetryable(err) {
		t.Error("throttled exhaustion should still be classified retryable")
	}
}

func TestDoStopsWaitingOnCancellation(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	p := DefaultPolicy()
	p.Clock = clk

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, "DescribeClusters", func(context.Context) error {
			return errors.New("connection refused")
		})
	}()

	select {
	case <-clk.Alarms():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the first pause")
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Do kept waiting after cancellation")
	}
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := fastPolicy().Do(ctx, "ListServices", func(context.Context) error {
		calls++
		return errors.New("connection refused")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 attempt, got %d", calls)
	}
}

func TestDoNotify(t *testing.T) {
	p := fastPolicy()
	var notified []int
	p.Notify = func(op string, err error, attempt int) {
		if op != "SetInstanceHealth" {
			t.Errorf("unexpected op %s", op)
		}
		notified = append(notified, attempt)
	}

	calls := 0
	_ = p.Do(context.Background(), "SetInstanceHealth", func(context.Context) error {
		calls++
		if calls == 3 {
			return nil
		}
		return errors.New("transient")
	})
	if len(notified) != 2 {
		t.Errorf("expected 2 notifications, got %v", notified)
	}
}
