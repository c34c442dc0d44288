/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package iri

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		given    string
		expected string
	}{
		{
			name:     "lowercases scheme and host",
			given:    "HTTPS://Example.COM/Actors/Alice",
			expected: "https://example.com/Actors/Alice",
		},
		{
			name:     "strips single trailing slash",
			given:    "https://example.com/actors/alice/",
			expected: "https://example.com/actors/alice",
		},
		{
			name:     "preserves root path",
			given:    "https://example.com/",
			expected: "https://example.com/",
		},
		{
			name:     "percent-decodes path",
			given:    "https://example.com/actors/%61lice",
			expected: "https://example.com/actors/alice",
		},
		{
			name:     "preserves query",
			given:    "https://example.com/outbox?page=2&perPage=10",
			expected: "https://example.com/outbox?page=2&perPage=10",
		},
		{
			name:     "preserves fragment",
			given:    "https://Example.com/actors/alice#main-key",
			expected: "https://example.com/actors/alice#main-key",
		},
		{
			name:     "preserves port",
			given:    "https://Example.com:8443/inbox/",
			expected: "https://example.com:8443/inbox",
		},
		{
			name:     "unparseable input returned unchanged",
			given:    "https://example.com/%zz",
			expected: "https://example.com/%zz",
		},
		{
			name:     "opaque URI returned unchanged",
			given:    "acct:Alice@Example.com",
			expected: "acct:Alice@Example.com",
		},
		{
			name:     "empty string",
			given:    "",
			expected: "",
		},
	}

	for _, test := range tests {
		tc := test

		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, Normalize(tc.given))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"HTTPS://Example.COM/Actors/Alice/",
		"https://example.com/actors/%61lice",
		"https://example.com/actors/%2541lice",
		"https://example.com/objects/abc?x=1#frag",
		"not a url at all",
	}

	for _, given := range inputs {
		once := Normalize(given)
		require.Equal(t, once, Normalize(once), "normalize not idempotent for %q", given)
	}
}

func TestNormalizeURL(t *testing.T) {
	u, err := url.Parse("HTTPS://Example.COM/actors/alice/")
	require.NoError(t, err)

	normalized := NormalizeURL(u)
	require.Equal(t, "https://example.com/actors/alice", normalized.String())

	// The original must not be modified.
	require.Equal(t, "Example.COM", u.Host)

	require.Nil(t, NormalizeURL(nil))
}

func TestEqual(t *testing.T) {
	require.True(t, Equal("https://Example.com/actors/alice/", "https://example.com/actors/alice"))
	require.False(t, Equal("https://example.com/actors/alice", "https://example.com/actors/bob"))
}

func TestDomain(t *testing.T) {
	require.Equal(t, "example.com", Domain("https://Example.COM/actors/alice"))
	require.Equal(t, "example.com:8443", Domain("https://example.com:8443/inbox"))
	require.Equal(t, "", Domain("https://example.com/%zz"))
}
