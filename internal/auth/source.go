package auth

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrNoCredentials is returned when no token pair has been stored yet.
var ErrNoCredentials = errors.New("no credentials: run feiractl login first")

// RefreshFunc exchanges a refresh token for a fresh token pair. It must
// bypass the refreshing transport, or a 401 on refresh would recurse.
type RefreshFunc func(ctx context.Context, refreshToken string) (TokenPair, error)

// Source holds the current token pair and serializes refresh: only one
// refresh request is ever in flight, and every caller that arrives while
// it runs waits in FIFO order for the same outcome. This is a dedicated
// flag-plus-queue, not a mutex around the refresh call, so waiters can be
// released in arrival order once the single request resolves.
type Source struct {
	mu         sync.Mutex
	pair       TokenPair
	refreshing bool
	waiters    []chan refreshResult

	refresh RefreshFunc
	persist func(TokenPair) error
	logger  *zap.Logger
}

type refreshResult struct {
	pair TokenPair
	err  error
}

// NewSource creates a token source. persist may be nil for sources that
// should not write credentials back to disk (tests, one-shot tools).
func NewSource(pair TokenPair, refresh RefreshFunc, persist func(TokenPair) error, logger *zap.Logger) *Source {
	return &Source{
		pair:    pair,
		refresh: refresh,
		persist: persist,
		logger:  logger,
	}
}

// Current returns the token pair as of now.
func (s *Source) Current() TokenPair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pair
}

// Set replaces the stored pair (after login) and persists it.
func (s *Source) Set(pair TokenPair) error {
	s.mu.Lock()
	s.pair = pair
	s.mu.Unlock()
	if s.persist != nil {
		return s.persist(pair)
	}
	return nil
}

// Refresh obtains a fresh token pair. Concurrent callers share a single
// refresh request: the first caller performs it, the rest queue and are
// woken in FIFO order with the same result.
func (s *Source) Refresh(ctx context.Context) (TokenPair, error) {
	s.mu.Lock()
	if !s.pair.Valid() {
		s.mu.Unlock()
		return TokenPair{}, ErrNoCredentials
	}
	if s.refreshing {
		ch := make(chan refreshResult, 1)
		s.waiters = append(s.waiters, ch)
		s.mu.Unlock()

		select {
		case res := <-ch:
			return res.pair, res.err
		case <-ctx.Done():
			return TokenPair{}, ctx.Err()
		}
	}
	s.refreshing = true
	refreshToken := s.pair.RefreshToken
	s.mu.Unlock()

	pair, err := s.refresh(ctx, refreshToken)

	s.mu.Lock()
	s.refreshing = false
	waiters := s.waiters
	s.waiters = nil
	if err == nil {
		s.pair = pair
	}
	s.mu.Unlock()

	if err == nil && s.persist != nil {
		if perr := s.persist(pair); perr != nil {
			s.logger.Warn("failed to persist refreshed credentials", zap.Error(perr))
		}
	}

	res := refreshResult{pair: pair, err: err}
	for _, ch := range waiters {
		ch <- res
	}
	return pair, err
}
