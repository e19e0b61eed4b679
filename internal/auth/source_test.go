package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRefreshSingleFlight(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})

	refresh := func(_ context.Context, refreshToken string) (TokenPair, error) {
		calls.Add(1)
		<-release
		return TokenPair{AccessToken: "new-access", RefreshToken: "new-refresh"}, nil
	}

	s := NewSource(TokenPair{AccessToken: "old", RefreshToken: "old-r"}, refresh, nil, zap.NewNop())

	var wg sync.WaitGroup
	results := make([]TokenPair, 3)
	for i := range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pair, err := s.Refresh(context.Background())
			require.NoError(t, err)
			results[i] = pair
		}()
	}

	// Let all three goroutines reach Refresh before resolving it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "concurrent callers must share one refresh request")
	for _, pair := range results {
		assert.Equal(t, "new-access", pair.AccessToken)
	}
	assert.Equal(t, "new-access", s.Current().AccessToken)
}

func TestRefreshFailureSharedWithWaiters(t *testing.T) {
	release := make(chan struct{})
	boom := errors.New("refresh endpoint down")

	refresh := func(context.Context, string) (TokenPair, error) {
		<-release
		return TokenPair{}, boom
	}

	s := NewSource(TokenPair{AccessToken: "old", RefreshToken: "old-r"}, refresh, nil, zap.NewNop())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.Refresh(context.Background())
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, boom)
	}
	// The old pair stays in place after a failed refresh.
	assert.Equal(t, "old", s.Current().AccessToken)
}

func TestRefreshAfterFailureRetries(t *testing.T) {
	var calls atomic.Int32
	refresh := func(context.Context, string) (TokenPair, error) {
		if calls.Add(1) == 1 {
			return TokenPair{}, errors.New("transient")
		}
		return TokenPair{AccessToken: "a2", RefreshToken: "r2"}, nil
	}

	s := NewSource(TokenPair{AccessToken: "a", RefreshToken: "r"}, refresh, nil, zap.NewNop())

	_, err := s.Refresh(context.Background())
	require.Error(t, err)

	// The in-flight flag must have been cleared so a retry works.
	pair, err := s.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a2", pair.AccessToken)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRefreshWithoutCredentials(t *testing.T) {
	s := NewSource(TokenPair{}, func(context.Context, string) (TokenPair, error) {
		t.Fatal("refresh must not be called without credentials")
		return TokenPair{}, nil
	}, nil, zap.NewNop())

	_, err := s.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestSetPersists(t *testing.T) {
	var persisted TokenPair
	s := NewSource(TokenPair{}, nil, func(p TokenPair) error {
		persisted = p
		return nil
	}, zap.NewNop())

	require.NoError(t, s.Set(TokenPair{AccessToken: "a", RefreshToken: "r"}))
	assert.Equal(t, "a", persisted.AccessToken)
	assert.Equal(t, "a", s.Current().AccessToken)
}
