/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package lifecycle

import (
	"errors"
	"sync/atomic"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/petrel-fed/petrel/internal/pkg/log"
)

var logger = log.New("lifecycle")

// ErrNotStarted indicates that an attempt was made to invoke a service that has not been started.
var ErrNotStarted = errors.New("service has not started")

// State is the state of the service.
type State = uint32

// Service states.
const (
	StateNotStarted State = 0
	StateStarting   State = 1
	StateStarted    State = 2
	StateStopped    State = 3
)

// Lifecycle implements the Start and Stop functionality of a service, ensuring that
// the start and stop functions are invoked at most once.
type Lifecycle struct {
	name  string
	state uint32
	start func()
	stop  func()
}

// Opt sets a Lifecycle option.
type Opt func(opts *Lifecycle)

// WithStart sets the start function which is invoked when Start() is called.
func WithStart(start func()) Opt {
	return func(opts *Lifecycle) {
		opts.start = start
	}
}

// WithStop sets the stop function which is invoked when Stop() is called.
func WithStop(stop func()) Opt {
	return func(opts *Lifecycle) {
		opts.stop = stop
	}
}

// New returns a new Lifecycle.
func New(name string, opts ...Opt) *Lifecycle {
	lc := &Lifecycle{
		name:  name,
		start: func() {},
		stop:  func() {},
	}

	for _, opt := range opts {
		opt(lc)
	}

	return lc
}

// Start starts the service. The start function is invoked only if the service
// is in state "not started", otherwise this call has no effect.
func (h *Lifecycle) Start() {
	if !atomic.CompareAndSwapUint32(&h.state, StateNotStarted, StateStarting) {
		logger.Debug("Service already started", logfields.WithServiceName(h.name))

		return
	}

	logger.Debug("Starting service ...", logfields.WithServiceName(h.name))

	h.start()

	atomic.StoreUint32(&h.state, StateStarted)

	logger.Debug("... service started", logfields.WithServiceName(h.name))
}

// Stop stops the service if it is in state "started" or "starting",
// otherwise this call has no effect.
func (h *Lifecycle) Stop() {
	state := atomic.LoadUint32(&h.state)

	if state == StateStopped || state == StateNotStarted {
		logger.Debug("Service not started or already stopped", logfields.WithServiceName(h.name))

		return
	}

	if !atomic.CompareAndSwapUint32(&h.state, state, StateStopped) {
		logger.Debug("Service already stopped", logfields.WithServiceName(h.name))

		return
	}

	logger.Debug("Stopping service ...", logfields.WithServiceName(h.name))

	h.stop()

	logger.Debug("... service stopped", logfields.WithServiceName(h.name))
}

// State returns the current state of the service.
func (h *Lifecycle) State() State {
	return atomic.LoadUint32(&h.state)
}

// Name returns the name of the service.
func (h *Lifecycle) Name() string {
	return h.name
}
