/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	transientType       = &transient{}       //nolint:gochecknoglobals
	invalidRequestType  = &badRequest{}      //nolint:gochecknoglobals
	unauthorizedType    = &unauthorized{}    //nolint:gochecknoglobals
	notFoundType        = &notFound{}        //nolint:gochecknoglobals
	conflictType        = &conflict{}        //nolint:gochecknoglobals
	tooManyRequestsType = &tooManyRequests{} //nolint:gochecknoglobals
	remoteFetchType     = &remoteFetch{}     //nolint:gochecknoglobals

	// ErrContentNotFound is used to indicate that content at a given address could not be found.
	ErrContentNotFound = errors.New("content not found")
)

// NewTransient returns a transient error that wraps the given error in order to indicate to the caller that a retry may
// resolve the problem, whereas a non-transient (persistent) error will always fail with the same outcome if retried.
func NewTransient(err error) error {
	return &transient{err: err}
}

// NewTransientf returns a transient error in order to indicate to the caller that a retry may resolve the problem,
// whereas a non-transient (persistent) error will always fail with the same outcome if retried.
func NewTransientf(format string, a ...interface{}) error {
	return &transient{err: fmt.Errorf(format, a...)}
}

// IsTransient returns true if the given error is a 'transient' error. Remote-fetch
// failures are always transient.
func IsTransient(err error) bool {
	return errors.As(err, &transientType) || errors.As(err, &remoteFetchType)
}

// NewBadRequest returns a 'bad request' error that wraps the given error in order to indicate to the caller that
// the request was invalid.
func NewBadRequest(err error) error {
	return &badRequest{err: err}
}

// NewBadRequestf returns a 'bad request' error in order to indicate to the caller that the request was invalid.
func NewBadRequestf(format string, a ...interface{}) error {
	return &badRequest{err: fmt.Errorf(format, a...)}
}

// IsBadRequest returns true if the given error is a 'bad request' error.
func IsBadRequest(err error) bool {
	return errors.As(err, &invalidRequestType)
}

// NewUnauthorized returns an 'unauthorized' error that wraps the given error in order to indicate to the
// caller that the request did not carry acceptable credentials.
func NewUnauthorized(err error) error {
	return &unauthorized{err: err}
}

// NewUnauthorizedf returns an 'unauthorized' error.
func NewUnauthorizedf(format string, a ...interface{}) error {
	return &unauthorized{err: fmt.Errorf(format, a...)}
}

// IsUnauthorized returns true if the given error is an 'unauthorized' error.
func IsUnauthorized(err error) bool {
	return errors.As(err, &unauthorizedType)
}

// NewNotFound returns a 'not found' error that wraps the given error.
func NewNotFound(err error) error {
	return &notFound{err: err}
}

// NewNotFoundf returns a 'not found' error.
func NewNotFoundf(format string, a ...interface{}) error {
	return &notFound{err: fmt.Errorf(format, a...)}
}

// IsNotFound returns true if the given error is a 'not found' error or wraps ErrContentNotFound.
func IsNotFound(err error) bool {
	return errors.As(err, &notFoundType) || errors.Is(err, ErrContentNotFound)
}

// NewConflict returns a 'conflict' error that wraps the given error.
func NewConflict(err error) error {
	return &conflict{err: err}
}

// NewConflictf returns a 'conflict' error.
func NewConflictf(format string, a ...interface{}) error {
	return &conflict{err: fmt.Errorf(format, a...)}
}

// IsConflict returns true if the given error is a 'conflict' error.
func IsConflict(err error) bool {
	return errors.As(err, &conflictType)
}

// NewTooManyRequests returns a 'too many requests' error.
func NewTooManyRequests(err error) error {
	return &tooManyRequests{err: err}
}

// NewTooManyRequestsf returns a 'too many requests' error.
func NewTooManyRequestsf(format string, a ...interface{}) error {
	return &tooManyRequests{err: fmt.Errorf(format, a...)}
}

// IsTooManyRequests returns true if the given error is a 'too many requests' error.
func IsTooManyRequests(err error) bool {
	return errors.As(err, &tooManyRequestsType)
}

// NewRemoteFetchFailed returns a 'remote fetch failed' error that wraps the given error. Remote-fetch
// failures are transient: a retry may succeed.
func NewRemoteFetchFailed(err error) error {
	return &remoteFetch{err: err}
}

// NewRemoteFetchFailedf returns a 'remote fetch failed' error.
func NewRemoteFetchFailedf(format string, a ...interface{}) error {
	return &remoteFetch{err: fmt.Errorf(format, a...)}
}

// IsRemoteFetchFailed returns true if the given error is a 'remote fetch failed' error.
func IsRemoteFetchFailed(err error) bool {
	return errors.As(err, &remoteFetchType)
}

// StatusCode returns the HTTP status for the given error. Unclassified errors
// map to 500 (internal failure).
func StatusCode(err error) int {
	switch {
	case IsBadRequest(err):
		return http.StatusBadRequest
	case IsUnauthorized(err):
		return http.StatusUnauthorized
	case IsNotFound(err):
		return http.StatusNotFound
	case IsConflict(err):
		return http.StatusConflict
	case IsTooManyRequests(err):
		return http.StatusTooManyRequests
	case IsRemoteFetchFailed(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type transient struct {
	err error
}

func (e *transient) Error() string {
	return e.err.Error()
}

func (e *transient) Unwrap() error {
	return e.err
}

type badRequest struct {
	err error
}

func (e *badRequest) Error() string {
	return e.err.Error()
}

func (e *badRequest) Unwrap() error {
	return e.err
}

type unauthorized struct {
	err error
}

func (e *unauthorized) Error() string {
	return e.err.Error()
}

func (e *unauthorized) Unwrap() error {
	return e.err
}

type notFound struct {
	err error
}

func (e *notFound) Error() string {
	return e.err.Error()
}

func (e *notFound) Unwrap() error {
	return e.err
}

type conflict struct {
	err error
}

func (e *conflict) Error() string {
	return e.err.Error()
}

func (e *conflict) Unwrap() error {
	return e.err
}

type tooManyRequests struct {
	err error
}

func (e *tooManyRequests) Error() string {
	return e.err.Error()
}

func (e *tooManyRequests) Unwrap() error {
	return e.err
}

type remoteFetch struct {
	err error
}

func (e *remoteFetch) Error() string {
	return e.err.Error()
}

func (e *remoteFetch) Unwrap() error {
	return e.err
}
