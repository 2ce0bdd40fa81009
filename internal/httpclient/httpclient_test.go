// ABOUTME: Tests for provider HTTP client construction
// ABOUTME: Checks default and overridden timeouts and transports

package httpclient

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestNew_Defaults(t *testing.T) {
	c := New()

	assert.Equal(t, 60*time.Second, c.Timeout)
	tr, ok := c.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 90*time.Second, tr.IdleConnTimeout)
}

func TestNew_Overrides(t *testing.T) {
	c := New(WithTimeout(5*time.Second), WithIdleConnTimeout(time.Second))

	assert.Equal(t, 5*time.Second, c.Timeout)
	tr := c.Transport.(*http.Transport)
	assert.Equal(t, time.Second, tr.IdleConnTimeout)
}

func TestNew_ZeroTimeoutKeepsDefault(t *testing.T) {
	c := New(WithTimeout(0))
	assert.Equal(t, 60*time.Second, c.Timeout)
}

func TestNew_TransportsAreNotShared(t *testing.T) {
	a := New(WithIdleConnTimeout(time.Second))
	b := New()

	assert.NotSame(t, a.Transport, b.Transport)
	assert.NotSame(t, http.DefaultTransport, a.Transport)
	assert.Equal(t, 90*time.Second, b.Transport.(*http.Transport).IdleConnTimeout)
}

func TestNew_CustomTransport(t *testing.T) {
	rt := roundTripFunc(func(*http.Request) (*http.Response, error) { return nil, nil })
	c := New(WithTransport(rt))

	_, isDefault := c.Transport.(*http.Transport)
	assert.False(t, isDefault)
}
