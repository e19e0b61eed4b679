package auth

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Transport is an http.RoundTripper that attaches the bearer token and
// handles 401s: each request gets exactly one refresh-and-replay attempt,
// and concurrent 401s queue behind the Source's single in-flight refresh.
type Transport struct {
	Base   http.RoundTripper
	Source *Source
	Logger *zap.Logger
}

// NewTransport wraps base (nil means http.DefaultTransport).
func NewTransport(source *Source, base http.RoundTripper, logger *zap.Logger) *Transport {
	return &Transport{Base: base, Source: source, Logger: logger}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	pair := t.Source.Current()
	if !pair.Valid() {
		return nil, ErrNoCredentials
	}

	// Refresh up front when the access token is already known-expired,
	// saving the guaranteed 401 round trip.
	if pair.AccessExpired(time.Now()) {
		refreshed, err := t.Source.Refresh(req.Context())
		if err == nil {
			pair = refreshed
		}
	}

	resp, err := t.send(req, pair.AccessToken)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// One refresh-and-replay per request. If the refresh itself fails,
	// the original 401 response is what the caller sees.
	refreshed, rerr := t.Source.Refresh(req.Context())
	if rerr != nil {
		t.Logger.Warn("token refresh failed, propagating 401", zap.Error(rerr))
		return resp, nil
	}
	_ = resp.Body.Close()

	replay, err := cloneRequest(req)
	if err != nil {
		return nil, err
	}
	return t.send(replay, refreshed.AccessToken)
}

func (t *Transport) send(req *http.Request, accessToken string) (*http.Response, error) {
	// Per net/http contract RoundTrip must not mutate the caller's request.
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+accessToken)
	return t.base().RoundTrip(r)
}

// cloneRequest produces a replayable copy, rewinding the body via GetBody
// when one exists.
func cloneRequest(req *http.Request) (*http.Request, error) {
	r := req.Clone(req.Context())
	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		r.Body = body
	}
	return r, nil
}
