/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package httputil writes the standard JSON responses of the REST endpoints.
package httputil

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/petrel-fed/petrel/internal/pkg/log"
	petrelerrors "github.com/petrel-fed/petrel/pkg/errors"
)

var logger = log.New("httputil")

const internalServerErrorMessage = "internal server error"

// ErrorResponse is the JSON body of an error response.
type ErrorResponse struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Path       string `json:"path"`
	Timestamp  string `json:"timestamp"`
}

// WriteError writes the error response for the given error, deriving the status from
// the error type. Internal failures are reported with a generic message so that
// internal details don't leak to the caller.
func WriteError(w http.ResponseWriter, req *http.Request, err error) {
	status := petrelerrors.StatusCode(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = internalServerErrorMessage
	}

	WriteStatusError(w, req, status, message)
}

// WriteStatusError writes an error response with the given status and message.
func WriteStatusError(w http.ResponseWriter, req *http.Request, status int, message string) {
	response := &ErrorResponse{
		StatusCode: status,
		Message:    message,
		Path:       req.URL.Path,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	respBytes, err := json.Marshal(response)
	if err != nil {
		logger.Error("Error marshalling error response", log.WithError(err))

		w.WriteHeader(http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(respBytes); err != nil {
		logger.Warn("Error writing response", logfields.WithRequestURLString(req.URL.Path), log.WithError(err))
	}
}

// WriteResponse writes the given body with the given status and content type.
func WriteResponse(w http.ResponseWriter, req *http.Request, status int, contentType string, body []byte) {
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	w.WriteHeader(status)

	if _, err := w.Write(body); err != nil {
		logger.Warn("Error writing response", logfields.WithRequestURLString(req.URL.Path), log.WithError(err))
	}
}
