/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mocks

import (
	"context"
	"sync"

	"github.com/petrel-fed/petrel/pkg/activitypub/vocab"
)

// Moderator implements a mock moderator that records flagged activities.
type Moderator struct {
	mutex   sync.Mutex
	flagged []*vocab.ActivityType
	err     error
}

// NewModerator returns a mock moderator.
func NewModerator() *Moderator {
	return &Moderator{}
}

// WithError injects an error into the mock moderator.
func (m *Moderator) WithError(err error) *Moderator {
	m.err = err

	return m
}

// HandleFlag records the activity.
func (m *Moderator) HandleFlag(_ context.Context, flag *vocab.ActivityType) error {
	if m.err != nil {
		return m.err
	}

	m.mutex.Lock()
	m.flagged = append(m.flagged, flag)
	m.mutex.Unlock()

	return nil
}

// Flagged returns the activities that were flagged.
func (m *Moderator) Flagged() []*vocab.ActivityType {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return append([]*vocab.ActivityType{}, m.flagged...)
}

// ActivityHandler implements a mock activity handler.
type ActivityHandler struct {
	mutex      sync.Mutex
	activities []*vocab.ActivityType
	err        error
}

// NewActivityHandler returns a mock activity handler.
func NewActivityHandler() *ActivityHandler {
	return &ActivityHandler{}
}

// WithError injects an error into the mock handler.
func (m *ActivityHandler) WithError(err error) *ActivityHandler {
	m.err = err

	return m
}

// HandleActivity records the activity.
func (m *ActivityHandler) HandleActivity(_ context.Context, activity *vocab.ActivityType) error {
	if m.err != nil {
		return m.err
	}

	m.mutex.Lock()
	m.activities = append(m.activities, activity)
	m.mutex.Unlock()

	return nil
}

// Activities returns the activities that were handled.
func (m *ActivityHandler) Activities() []*vocab.ActivityType {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return append([]*vocab.ActivityType{}, m.activities...)
}

// UndeliverableHandler implements a mock undeliverable activity handler.
type UndeliverableHandler struct {
	mutex         sync.Mutex
	undeliverable []*vocab.ActivityType
}

// NewUndeliverableHandler returns a mock undeliverable activity handler.
func NewUndeliverableHandler() *UndeliverableHandler {
	return &UndeliverableHandler{}
}

// HandleUndeliverableActivity records the activity.
func (m *UndeliverableHandler) HandleUndeliverableActivity(_ context.Context, activity *vocab.ActivityType, _ string) {
	m.mutex.Lock()
	m.undeliverable = append(m.undeliverable, activity)
	m.mutex.Unlock()
}

// Activities returns the undeliverable activities.
func (m *UndeliverableHandler) Activities() []*vocab.ActivityType {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return append([]*vocab.ActivityType{}, m.undeliverable...)
}
