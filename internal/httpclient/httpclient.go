// ABOUTME: Shared *http.Client construction for outbound LLM backend calls
// ABOUTME: Bounds total request time and idle connection lifetime

package httpclient

import (
	"net/http"
	"time"
)

const (
	defaultTimeout     = 60 * time.Second
	defaultIdleTimeout = 90 * time.Second
)

type settings struct {
	timeout     time.Duration
	idleTimeout time.Duration
	transport   http.RoundTripper
}

// Option adjusts the client built by New.
type Option func(*settings)

// WithTimeout sets the total per-request timeout. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithIdleConnTimeout sets how long idle keep-alive connections are kept.
func WithIdleConnTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.idleTimeout = d
		}
	}
}

// WithTransport replaces the transport; the idle timeout then does not apply.
func WithTransport(rt http.RoundTripper) Option {
	return func(s *settings) { s.transport = rt }
}

// New returns a client with a 60s timeout over a clone of
// http.DefaultTransport whose idle connections expire after 90s.
func New(opts ...Option) *http.Client {
	s := settings{timeout: defaultTimeout, idleTimeout: defaultIdleTimeout}
	for _, opt := range opts {
		opt(&s)
	}

	if s.transport == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.IdleConnTimeout = s.idleTimeout
		s.transport = tr
	}
	return &http.Client{Timeout: s.timeout, Transport: s.transport}
}
