package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-audit-jobs/pkg/retry"
)

func TestDo_SucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), retry.Config{MaxAttempts: 3, Policy: retry.Policy{Base: time.Millisecond}}, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "fn should be called exactly once on immediate success")
}

func TestDo_RetriesOnTransientError(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), retry.Config{MaxAttempts: 3, Policy: retry.Policy{Base: time.Millisecond}}, func() error {
		calls++
		if calls < 2 {
			return errors.New("transient error")
		}
		return nil // succeeds on 2nd attempt
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "fn should be called twice: fail then succeed")
}

func TestDo_ReturnsErrorAfterMaxAttempts(t *testing.T) {
	calls := 0
	sentinel := errors.New("permanent error")
	err := retry.Do(context.Background(), retry.Config{MaxAttempts: 3, Policy: retry.Policy{Base: time.Millisecond}}, func() error {
		calls++
		return sentinel
	})
	require.Error(t, err)
	assert.Equal(t, sentinel, err)
	assert.Equal(t, 3, calls, "fn should be called exactly MaxAttempts times")
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	err := retry.Do(ctx, retry.Config{MaxAttempts: 10, Policy: retry.Policy{Kind: retry.Fixed, Base: 50 * time.Millisecond}}, func() error {
		return errors.New("always fails")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded),
		"expected DeadlineExceeded, got: %v", err)
}

func TestDo_OnRetry_CalledWithCorrectAttempt(t *testing.T) {
	var retryAttempts []int
	_ = retry.Do(context.Background(), retry.Config{
		MaxAttempts: 4,
		Policy:      retry.Policy{Kind: retry.Exponential, Base: time.Millisecond},
		OnRetry: func(attempt int, _ error) {
			retryAttempts = append(retryAttempts, attempt)
		},
	}, func() error {
		return errors.New("fail")
	})

	// OnRetry is called after attempts 1, 2, 3 (not after the last attempt).
	assert.Equal(t, []int{1, 2, 3}, retryAttempts)
}

func TestDo_ZeroMaxAttempts_DefaultsToOne(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), retry.Config{MaxAttempts: 0, Policy: retry.Policy{Base: time.Millisecond}}, func() error {
		calls++
		return errors.New("fail")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "MaxAttempts=0 should default to 1 attempt")
}

func TestPolicy_Delay(t *testing.T) {
	base := 100 * time.Millisecond
	tests := []struct {
		kind    retry.Kind
		attempt int
		want    time.Duration
	}{
		{retry.Fixed, 1, base},
		{retry.Fixed, 4, base},
		{retry.Exponential, 1, base},
		{retry.Exponential, 2, 2 * base},
		{retry.Exponential, 4, 8 * base},
		{retry.Quadratic, 3, 9 * base},
		{"", 2, 4 * base},
		{retry.Exponential, 0, base},
	}
	for _, tt := range tests {
		got := retry.Policy{Kind: tt.kind, Base: base}.Delay(tt.attempt)
		assert.Equal(t, tt.want, got, "kind=%q attempt=%d", tt.kind, tt.attempt)
	}
}

func TestPolicy_Delay_ExponentialIsCapped(t *testing.T) {
	p := retry.Policy{Kind: retry.Exponential, Base: time.Millisecond}
	assert.Equal(t, p.Delay(31), p.Delay(200))
	assert.Equal(t, retry.MaxDelay, p.Delay(200))
}

func TestPolicy_Delay_NeverOverflows(t *testing.T) {
	tests := []struct {
		name    string
		policy  retry.Policy
		attempt int
	}{
		{"ia default base at shift 30", retry.Policy{Kind: retry.Exponential, Base: 10 * time.Second}, 31},
		{"exponential far past the cap", retry.Policy{Kind: retry.Exponential, Base: 10 * time.Second}, 64},
		{"quadratic large attempt", retry.Policy{Kind: retry.Quadratic, Base: time.Hour}, 1 << 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, retry.MaxDelay, tt.policy.Delay(tt.attempt))
		})
	}

	// Below the cap the exact value is kept.
	p := retry.Policy{Kind: retry.Exponential, Base: 10 * time.Second}
	assert.Equal(t, 160*time.Second, p.Delay(5))
}
