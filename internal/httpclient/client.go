// Package httpclient provides the unified HTTP client used by every
// provider adapter and the web-fetch tool: a chain of interceptors
// (logging, SSRF guard), a shared cookie jar, and the SSRF check in
// ssrf.go (C2).
package httpclient

import (
	"net/http"
	"net/http/cookiejar"
	"time"
)

// Interceptor observes or rewrites a request before it is sent and the
// response after it returns, mirroring the corpus's middleware-chain
// pattern for rate-limiting/retry/logging (digitallysavvy-go-ai
// pkg/middleware) adapted to a single RoundTripper wrapper instead of a
// chi middleware stack, since this client is not an HTTP server.
type Interceptor func(req *http.Request, next http.RoundTripper) (*http.Response, error)

// Client wraps *http.Client with an interceptor chain and a shared
// cookie jar.
type Client struct {
	http         *http.Client
	interceptors []Interceptor
}

// New builds a Client with the given timeout and interceptors, applied
// in the order given (the first interceptor sees the request first and
// the response last).
func New(timeout time.Duration, interceptors ...Interceptor) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		http:         &http.Client{Timeout: timeout, Jar: jar},
		interceptors: interceptors,
	}, nil
}

// Do sends req through the interceptor chain and the underlying client.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.chain(0)(req, roundTripperFunc(c.http.Do))
}

func (c *Client) chain(i int) func(*http.Request, http.RoundTripper) (*http.Response, error) {
	if i >= len(c.interceptors) {
		return func(req *http.Request, next http.RoundTripper) (*http.Response, error) {
			return next.RoundTrip(req)
		}
	}
	return func(req *http.Request, next http.RoundTripper) (*http.Response, error) {
		return c.interceptors[i](req, roundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return c.chain(i+1)(r, next)
		}))
	}
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

// Underlying exposes the wrapped *http.Client for callers (e.g. SSE
// streaming) that need direct access.
func (c *Client) Underlying() *http.Client { return c.http }
