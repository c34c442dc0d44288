/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mocks

import (
	"sync"
	"time"
)

// MetricsProvider implements a mock metrics provider.
type MetricsProvider struct {
	mutex          sync.Mutex
	activityCounts map[string]int
}

// NewMetricsProvider returns a mock metrics provider.
func NewMetricsProvider() *MetricsProvider {
	return &MetricsProvider{
		activityCounts: make(map[string]int),
	}
}

// InboxHandlerTime records the time taken to handle an inbox activity.
func (m *MetricsProvider) InboxHandlerTime(string, time.Duration) {
}

// OutboxPostTime records the time taken to post an activity to the outbox.
func (m *MetricsProvider) OutboxPostTime(time.Duration) {
}

// OutboxResolveInboxesTime records the time taken to resolve the inboxes of an activity.
func (m *MetricsProvider) OutboxResolveInboxesTime(time.Duration) {
}

// OutboxIncrementActivityCount increments the count of posted activities of the given type.
func (m *MetricsProvider) OutboxIncrementActivityCount(activityType string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.activityCounts[activityType]++
}

// ActivityCount returns the number of posted activities of the given type.
func (m *MetricsProvider) ActivityCount(activityType string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.activityCounts[activityType]
}
