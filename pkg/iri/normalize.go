/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package iri normalizes the IRIs that identify actors, objects and activities so
// that equivalent references compare equal as strings. All IRIs are normalized at
// system boundaries: before store writes, cache keys, job IDs and comparisons.
package iri

import (
	"net/url"
	"strings"
)

const maxDecodePasses = 5

// Normalize returns the normalized form of the given IRI:
//   - the scheme and host are lowercased;
//   - the path is percent-decoded (repeatedly, until stable);
//   - a single trailing slash is stripped from a path longer than "/";
//   - the query and fragment are preserved as-is.
//
// A value that does not parse as a URL, or whose path contains undecodable
// escapes, is returned unchanged. Normalize is idempotent.
func Normalize(iri string) string {
	u, err := url.Parse(iri)
	if err != nil {
		return iri
	}

	if u.Opaque != "" {
		// Opaque URIs (e.g. acct:user@host) have no host/path structure to normalize.
		return iri
	}

	return buildNormalized(u)
}

// NormalizeURL returns a normalized copy of the given URL. The given URL is not modified.
func NormalizeURL(u *url.URL) *url.URL {
	if u == nil {
		return nil
	}

	if u.Opaque != "" {
		cp := *u

		return &cp
	}

	normalized, err := url.Parse(buildNormalized(u))
	if err != nil {
		cp := *u

		return &cp
	}

	return normalized
}

// Equal returns true if the two IRIs are equal after normalization.
func Equal(iri1, iri2 string) bool {
	return Normalize(iri1) == Normalize(iri2)
}

// Domain returns the lowercased host (including any port) of the given IRI, or
// an empty string if the IRI does not parse.
func Domain(iri string) string {
	u, err := url.Parse(iri)
	if err != nil {
		return ""
	}

	return strings.ToLower(u.Host)
}

func buildNormalized(u *url.URL) string {
	var b strings.Builder

	if u.Scheme != "" {
		b.WriteString(strings.ToLower(u.Scheme))
		b.WriteString(":")
	}

	if u.Host != "" || u.User != nil {
		b.WriteString("//")

		if u.User != nil {
			b.WriteString(u.User.String())
			b.WriteString("@")
		}

		b.WriteString(strings.ToLower(u.Host))
	}

	b.WriteString(stripTrailingSlash(decodePath(u.Path)))

	if u.ForceQuery || u.RawQuery != "" {
		b.WriteString("?")
		b.WriteString(u.RawQuery)
	}

	if u.Fragment != "" {
		b.WriteString("#")
		b.WriteString(u.EscapedFragment())
	}

	return b.String()
}

func decodePath(path string) string {
	// url.Parse decodes the path once; decode any remaining escapes until
	// stable so that normalization of an already-normalized value is a no-op.
	for i := 0; i < maxDecodePasses; i++ {
		decoded, err := url.PathUnescape(path)
		if err != nil || decoded == path {
			return path
		}

		path = decoded
	}

	return path
}

func stripTrailingSlash(path string) string {
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		return path[:len(path)-1]
	}

	return path
}
