package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BaSui01/interiorflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastPolicy(maxRetries int) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   maxRetries,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	}
}

func transient(msg string) error {
	return types.NewTransientError("test", msg, nil)
}

func TestBackoffRetryer_Success(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), func() error {
		callCount++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, callCount)
}

func TestBackoffRetryer_RetryAndSuccess(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), func() error {
		callCount++
		if callCount < 3 {
			return transient("503")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, callCount)
}

func TestBackoffRetryer_MaxRetriesExceeded(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(2), zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), func() error {
		callCount++
		return transient("timeout")
	})

	require.Error(t, err)
	assert.True(t, IsExhausted(err))
	assert.True(t, types.IsErrorCode(err, types.ErrProviderTransient), "last error stays reachable")
	assert.Equal(t, 3, callCount, "initial call plus two retries")
}

func TestBackoffRetryer_PermanentNotRetried(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(5), zap.NewNop())

	callCount := 0
	perm := types.NewPermanentError("flux", "unauthorized", nil)
	err := retryer.Do(context.Background(), func() error {
		callCount++
		return perm
	})

	assert.Same(t, perm, err)
	assert.Equal(t, 1, callCount)
}

func TestBackoffRetryer_ContextCanceled(t *testing.T) {
	policy := fastPolicy(5)
	policy.InitialDelay = 200 * time.Millisecond
	policy.MaxDelay = time.Second
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	callCount := 0
	err := retryer.Do(ctx, func() error {
		callCount++
		return transient("reset")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, callCount)
}

func TestBackoffRetryer_CustomClassifier(t *testing.T) {
	sentinel := errors.New("flaky")
	policy := fastPolicy(2)
	policy.Classifier = func(err error) bool { return errors.Is(err, sentinel) }

	var retries []int
	policy.OnRetry = func(attempt int, _ error, _ time.Duration) { retries = append(retries, attempt) }

	retryer := NewBackoffRetryer(policy, zap.NewNop())
	callCount := 0
	err := retryer.Do(context.Background(), func() error {
		callCount++
		return sentinel
	})

	assert.Error(t, err)
	assert.Equal(t, 3, callCount)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestCalculateDelay_CappedAndExponential(t *testing.T) {
	r := NewBackoffRetryer(&RetryPolicy{
		MaxRetries:   10,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   2,
	}, nil).(*backoffRetryer)

	assert.Equal(t, 10*time.Millisecond, r.calculateDelay(1))
	assert.Equal(t, 20*time.Millisecond, r.calculateDelay(2))
	assert.Equal(t, 40*time.Millisecond, r.calculateDelay(3))
	assert.Equal(t, 50*time.Millisecond, r.calculateDelay(4))
}

func TestDoWithResultTyped(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(1), zap.NewNop())

	val, err := DoWithResultTyped(retryer, context.Background(), func() (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, val)

	_, err = DoWithResultTyped(retryer, context.Background(), func() (string, error) {
		return "", types.NewPermanentError("x", "bad", nil)
	})
	assert.Error(t, err)
}
