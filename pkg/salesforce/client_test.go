package salesforce

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-import/internal/resilience"
)

func fastRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func TestClientDo_RetriesTransientFailures(t *testing.T) {
	cfg := fastRetry(3)
	c := &sfClient{retry: &cfg}

	calls := 0
	err := c.do(context.Background(), "sf_insert_Contact", func(_ context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("read tcp: connection reset by peer")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestClientDo_ApiFaultsNotRetried(t *testing.T) {
	cfg := fastRetry(3)
	c := &sfClient{retry: &cfg}

	calls := 0
	err := c.do(context.Background(), "sf_insert_Contact", func(_ context.Context) error {
		calls++
		return errors.New("INVALID_SESSION_ID: session expired")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestClientDo_NoRetryConfigRunsOnce(t *testing.T) {
	c := &sfClient{}

	calls := 0
	err := c.do(context.Background(), "sf_insert_Contact", func(_ context.Context) error {
		calls++
		return errors.New("read tcp: connection reset by peer")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
