/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package common holds the contract between REST handlers and the HTTP server.
package common

import "net/http"

// HTTPRequestHandler handles an HTTP request.
type HTTPRequestHandler func(w http.ResponseWriter, req *http.Request)

// HTTPHandler is implemented by every REST endpoint that is registered with the
// HTTP server.
type HTTPHandler interface {
	// Path returns the path of the endpoint. The path may contain gorilla/mux
	// variables, e.g. /actors/{id}.
	Path() string
	// Method returns the HTTP method of the endpoint.
	Method() string
	// Handler returns the handler that is invoked for a request to the endpoint.
	Handler() HTTPRequestHandler
}

type httpHandler struct {
	path    string
	method  string
	handler HTTPRequestHandler
}

// NewHTTPHandler returns an HTTPHandler for the given path, method and handler.
func NewHTTPHandler(path, method string, handler HTTPRequestHandler) HTTPHandler {
	return &httpHandler{path: path, method: method, handler: handler}
}

func (h *httpHandler) Path() string {
	return h.path
}

func (h *httpHandler) Method() string {
	return h.method
}

func (h *httpHandler) Handler() HTTPRequestHandler {
	return h.handler
}
