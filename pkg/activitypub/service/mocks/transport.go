/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mocks

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/petrel-fed/petrel/pkg/activitypub/client/transport"
)

// PostedMessage holds a message that was posted to the mock HTTP transport.
type PostedMessage struct {
	Target  *url.URL
	Payload []byte
}

// HTTPTransport implements a mock signing HTTP transport.
type HTTPTransport struct {
	mutex      sync.Mutex
	posted     []*PostedMessage
	statusCode int
	err        error
}

// NewHTTPTransport returns a mock HTTP transport.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{statusCode: http.StatusOK}
}

// WithStatusCode sets the status code to return from Post.
func (m *HTTPTransport) WithStatusCode(statusCode int) *HTTPTransport {
	m.statusCode = statusCode

	return m
}

// WithError injects an error into the mock transport.
func (m *HTTPTransport) WithError(err error) *HTTPTransport {
	m.err = err

	return m
}

// Post records the request and returns a response with the configured status code.
func (m *HTTPTransport) Post(_ context.Context, req *transport.Request, payload []byte) (*http.Response, error) {
	if m.err != nil {
		return nil, m.err
	}

	m.mutex.Lock()
	m.posted = append(m.posted, &PostedMessage{Target: req.URL, Payload: payload})
	m.mutex.Unlock()

	return &http.Response{
		StatusCode: m.statusCode,
		Status:     http.StatusText(m.statusCode),
		Body:       io.NopCloser(bytes.NewReader(nil)),
	}, nil
}

// Posted returns the messages that were posted to the transport.
func (m *HTTPTransport) Posted() []*PostedMessage {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return append([]*PostedMessage{}, m.posted...)
}
