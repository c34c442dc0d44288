/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mocks

import (
	"context"
	"net/url"
	"sync"

	"github.com/google/uuid"

	"github.com/petrel-fed/petrel/pkg/activitypub/vocab"
)

// Outbox implements a mock outbox that records the posted activities.
type Outbox struct {
	mutex      sync.Mutex
	activities []*vocab.ActivityType
	err        error
}

// NewOutbox returns a mock outbox.
func NewOutbox() *Outbox {
	return &Outbox{}
}

// WithError injects an error into the mock outbox.
func (m *Outbox) WithError(err error) *Outbox {
	m.err = err

	return m
}

// Post records the given activity, assigning an ID if the activity has none.
func (m *Outbox) Post(_ context.Context, activity *vocab.ActivityType, _ ...*url.URL) (*url.URL, error) {
	if m.err != nil {
		return nil, m.err
	}

	if activity.ID() == nil {
		activity.SetID(vocab.MustParseURL("https://example.com/activities/" + uuid.NewString()))
	}

	m.mutex.Lock()
	m.activities = append(m.activities, activity)
	m.mutex.Unlock()

	return activity.ID().URL(), nil
}

// Activities returns the activities that were posted to the outbox.
func (m *Outbox) Activities() []*vocab.ActivityType {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return append([]*vocab.ActivityType{}, m.activities...)
}
