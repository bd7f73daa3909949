// SPDX-License-Identifier: MIT

package httpx

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_CapsResponseHeaderTimeout(t *testing.T) {
	c := NewClient(5 * time.Minute)

	transport, ok := c.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, defaultResponseHeaderTimeout, transport.ResponseHeaderTimeout,
		"probe clients must cap the header wait regardless of the requested timeout")
}

func TestNewClient_UsesDefaultWhenTimeoutIsZero(t *testing.T) {
	c := NewClient(0)
	assert.Equal(t, defaultClientTimeout, c.Timeout)
}

func TestNewForwardingClient_DoesNotCapResponseHeaderTimeout(t *testing.T) {
	c := NewForwardingClient(5 * time.Minute)

	transport, ok := c.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 5*time.Minute, transport.ResponseHeaderTimeout,
		"forwarding long-poll-style upstreams requires the full budget, not a probe-sized cap")
	assert.Equal(t, defaultDialTimeout, transport.TLSHandshakeTimeout,
		"dialing must still fail fast even when the overall budget is long")
}

func TestNewForwardingClient_UsesDefaultWhenTimeoutIsZero(t *testing.T) {
	c := NewForwardingClient(0)
	assert.Equal(t, defaultClientTimeout, c.Timeout)
}
