// Package providerutil is the shared "HTTP+auth+rate-limit" helper every
// concrete provider adapter composes rather than inherits from (§9):
// credential resolution (with OAuth refresh), rate-limit acquisition,
// and the retry/backoff policy around one HTTP round trip.
package providerutil

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/codemesh/codemesh/internal/clog"
	"github.com/codemesh/codemesh/internal/credentials"
	"github.com/codemesh/codemesh/internal/errs"
	"github.com/codemesh/codemesh/internal/httpclient"
	"github.com/codemesh/codemesh/internal/syncutil"
)

// RefreshFunc performs an OAuth refresh round trip for an expired
// credential, returning the new credential to persist.
type RefreshFunc func(ctx context.Context, providerID string, cred credentials.Credential) (credentials.Credential, error)

// Helper composes the pieces every adapter's request path needs: a
// credential store, a rate limiter, a circuit breaker, and an HTTP
// client, plus the retry policy from spec §4.1.
type Helper struct {
	ProviderID string
	Store      *credentials.Store
	HTTP       *httpclient.Client
	Limiter    *syncutil.RateLimiter
	Breaker    *syncutil.CircuitBreaker
	Backoff    syncutil.BackoffPolicy
	Refresh    RefreshFunc

	logger interface {
		Debug(msg string, args ...any)
	}
}

// NewHelper builds a Helper with the default retry policy (base 1s, cap
// 3 attempts) unless overridden.
func NewHelper(providerID string, store *credentials.Store, client *httpclient.Client, limiter *syncutil.RateLimiter) *Helper {
	return &Helper{
		ProviderID: providerID,
		Store:      store,
		HTTP:       client,
		Limiter:    limiter,
		Breaker:    syncutil.NewCircuitBreaker(syncutil.CircuitBreakerConfig{Name: providerID}),
		Backoff:    syncutil.DefaultBackoffPolicy(),
		logger:     clog.Named("llm." + providerID),
	}
}

// ResolveCredential fetches the stored credential, refreshing it first
// if it is OAuth and expired (writing the refreshed credential back
// before returning), and validating ApiKey format via validatePrefix.
func (h *Helper) ResolveCredential(ctx context.Context, expectedPrefix string) (credentials.Credential, error) {
	cred, err := h.Store.Get(ctx, h.ProviderID)
	if err != nil {
		return credentials.Credential{}, err
	}

	if cred.Expired(time.Now()) {
		if !cred.Refreshable() || h.Refresh == nil {
			return credentials.Credential{}, errs.New(errs.AuthenticationFailed, "credential expired and cannot be refreshed")
		}
		lock := h.Store.RefreshLock(h.ProviderID)
		lock.Lock()
		defer lock.Unlock()

		// Re-read in case another goroutine already refreshed while we
		// waited for the lock.
		cred, err = h.Store.Get(ctx, h.ProviderID)
		if err != nil {
			return credentials.Credential{}, err
		}
		if cred.Expired(time.Now()) {
			refreshed, err := h.Refresh(ctx, h.ProviderID, cred)
			if err != nil {
				return credentials.Credential{}, errs.Wrap(errs.AuthenticationFailed, err, "oauth refresh failed")
			}
			if err := h.Store.Set(ctx, h.ProviderID, refreshed); err != nil {
				return credentials.Credential{}, err
			}
			cred = refreshed
		}
	}

	if cred.Kind == credentials.KindAPIKey && expectedPrefix != "" && !strings.HasPrefix(cred.Key, expectedPrefix) {
		return credentials.Credential{}, errs.New(errs.AuthenticationFailed, "api key does not match expected provider prefix")
	}
	return cred, nil
}

// Do performs req under rate-limiting, the circuit breaker, and the
// retry/backoff policy from spec §4.1: retry iff the error is a 5xx, a
// 429, a network error without a status, or a provider error message
// containing rate_limit/timeout text. A response is returned to the
// caller without consuming its body; callers must close it.
func (h *Helper) Do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	if err := h.Limiter.Acquire(ctx, 1); err != nil {
		return nil, errs.Wrap(errs.Network, err, "rate limiter wait cancelled")
	}

	return syncutil.RetryWithBackoff(ctx, h.Backoff, errs.Retryable, func(ctx context.Context, attempt int) (*http.Response, error) {
		return syncutil.ExecuteWithResult(h.Breaker, ctx, func(ctx context.Context) (*http.Response, error) {
			req, err := build(ctx)
			if err != nil {
				return nil, errs.Wrap(errs.Other, err, "build request")
			}
			resp, err := h.HTTP.Do(req)
			if err != nil {
				return nil, errs.Wrap(errs.Network, err, "http request failed")
			}
			if resp.StatusCode >= 500 || resp.StatusCode == 429 {
				resp.Body.Close()
				return nil, errs.New(errs.Provider, httpStatusMessage(resp.StatusCode))
			}
			if resp.StatusCode >= 400 {
				return resp, errs.New(errs.Provider, httpStatusMessage(resp.StatusCode))
			}
			return resp, nil
		})
	})
}

func httpStatusMessage(code int) string {
	if code == 429 {
		return "rate_limit: too many requests"
	}
	if code >= 500 {
		return "provider error: server timeout or outage (5xx)"
	}
	return "provider error: non-2xx response"
}
