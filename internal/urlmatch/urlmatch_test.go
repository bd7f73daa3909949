// SPDX-License-Identifier: MIT

package urlmatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_RejectsEmptyPattern(t *testing.T) {
	_, err := Compile([]string{"!"})
	require.Error(t, err)
}

func TestMatcher_IncludeOnly(t *testing.T) {
	patterns, err := Compile([]string{"https://api.example.com/*"})
	require.NoError(t, err)
	m := NewMatcher(patterns)

	assert.True(t, m.URLWatched("https://api.example.com/things"))
	assert.True(t, m.URLWatched("HTTPS://API.EXAMPLE.COM/Things"), "matching is case-insensitive")
	assert.False(t, m.URLWatched("https://other.example.com/things"))
}

func TestMatcher_ExcludeWins(t *testing.T) {
	patterns, err := Compile([]string{
		"https://api.example.com/*",
		"!https://api.example.com/health",
	})
	require.NoError(t, err)
	m := NewMatcher(patterns)

	assert.True(t, m.URLWatched("https://api.example.com/things"))
	assert.False(t, m.URLWatched("https://api.example.com/health"), "exclude must win over include")
}

func TestMatcher_HostWatched_StripsSchemeAndPort(t *testing.T) {
	patterns, err := Compile([]string{"https://api.example.com:8443/*"})
	require.NoError(t, err)
	m := NewMatcher(patterns)

	assert.True(t, m.HostWatched("api.example.com"))
	assert.False(t, m.HostWatched("other.example.com"))
}

func TestMatcher_HostOnlyPattern(t *testing.T) {
	patterns, err := Compile([]string{"api.example.com"})
	require.NoError(t, err)
	m := NewMatcher(patterns)

	assert.True(t, m.HostWatched("api.example.com"))
}

func TestMatcher_DefaultPortNormalization(t *testing.T) {
	patterns, err := Compile([]string{"https://api.example.com/things"})
	require.NoError(t, err)
	m := NewMatcher(patterns)

	assert.True(t, m.URLWatched("https://api.example.com:443/things"), "default port must normalize away")
}

func TestCompile_Idempotent(t *testing.T) {
	raw := []string{"https://api.example.com/*", "!https://api.example.com/health"}
	a, err := Compile(raw)
	require.NoError(t, err)
	b, err := Compile(raw)
	require.NoError(t, err)

	ma, mb := NewMatcher(a), NewMatcher(b)
	urls := []string{
		"https://api.example.com/things",
		"https://api.example.com/health",
		"https://other.example.com/x",
	}
	for _, u := range urls {
		assert.Equal(t, ma.URLWatched(u), mb.URLWatched(u), "verdict for %s must match across recompiles", u)
	}
}

func TestMatcher_NoPatternsNeverWatched(t *testing.T) {
	m := NewMatcher(nil)
	assert.False(t, m.URLWatched("https://api.example.com/things"))
	assert.False(t, m.HostWatched("api.example.com"))
}
