package httpclient

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
)

// LoggingInterceptor logs each request's method/URL and the elapsed time
// plus status code of its response, at debug level.
func LoggingInterceptor(logger hclog.Logger) Interceptor {
	return func(req *http.Request, next http.RoundTripper) (*http.Response, error) {
		start := time.Now()
		resp, err := next.RoundTrip(req)
		elapsed := time.Since(start)
		if err != nil {
			logger.Debug("http request failed", "method", req.Method, "url", req.URL.String(), "elapsed", elapsed, "error", err)
			return nil, err
		}
		logger.Debug("http request", "method", req.Method, "url", req.URL.String(), "elapsed", elapsed, "status", resp.StatusCode)
		return resp, nil
	}
}

// SSRFInterceptor rejects outbound requests whose URL fails CheckSSRF,
// giving any caller built on Client the guard from §4.3 for free.
func SSRFInterceptor() Interceptor {
	return func(req *http.Request, next http.RoundTripper) (*http.Response, error) {
		if err := CheckSSRF(req.URL.String()); err != nil {
			return nil, err
		}
		return next.RoundTrip(req)
	}
}
