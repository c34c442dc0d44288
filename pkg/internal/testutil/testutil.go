/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package testutil

import (
	"encoding/json"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
)

// MustParseURL parses the given string and returns the URL.
// If the given string is not a valid URL then the function panics.
func MustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		panic(err)
	}

	return u
}

// NewMockID returns a URL using the base IRI and the given path.
func NewMockID(iri fmt.Stringer, path string) *url.URL {
	return MustParseURL(fmt.Sprintf("%s%s", iri, path))
}

// NewMockURLs returns the given number of URLs using the given function to format each one.
//
//nolint:unparam
func NewMockURLs(num int, getURI func(i int) string) []*url.URL {
	results := make([]*url.URL, num)

	for i := 0; i < num; i++ {
		results[i] = MustParseURL(getURI(i))
	}

	return results
}

// GetCanonical converts the given JSON string into a canonical JSON.
func GetCanonical(t *testing.T, raw string) string {
	t.Helper()

	var doc map[string]interface{}

	require.NoError(t, json.Unmarshal([]byte(raw), &doc))

	bytes, err := json.Marshal(doc)
	require.NoError(t, err)

	return string(bytes)
}

// MarshalCanonical marshals the given object into canonical JSON.
func MarshalCanonical(t *testing.T, i interface{}) string {
	t.Helper()

	rawBytes, err := json.Marshal(i)
	require.NoError(t, err)

	return GetCanonical(t, string(rawBytes))
}

// InitTracer registers a tracer provider and a trace-context propagator
// globally and returns the provider so that it may be shut down.
func InitTracer(t *testing.T) *tracesdk.TracerProvider {
	t.Helper()

	tp := tracesdk.NewTracerProvider()

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp
}
