/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package noop

import (
	"time"

	"github.com/petrel-fed/petrel/pkg/observability/metrics"
)

// Provider implements a no-op metrics provider.
type Provider struct {
}

// NewProvider creates a new instance of the no-op metrics provider.
func NewProvider() *Provider {
	return &Provider{}
}

// Create does nothing.
func (pp *Provider) Create() error {
	return nil
}

// Destroy does nothing.
func (pp *Provider) Destroy() error {
	return nil
}

// Metrics returns supported metrics.
func (pp *Provider) Metrics() metrics.Metrics {
	return &NoOptMetrics{}
}

// NoOptMetrics provides a default no operation implementation for the Metrics interface.
type NoOptMetrics struct{}

// InboxHandlerTime records the time it takes to handle an activity posted to the inbox.
func (nm NoOptMetrics) InboxHandlerTime(activityType string, value time.Duration) {}

// OutboxPostTime records the time it takes to post a message to the outbox.
func (nm NoOptMetrics) OutboxPostTime(value time.Duration) {}

// OutboxResolveInboxesTime records the time it takes to resolve inboxes for an outbox post.
func (nm NoOptMetrics) OutboxResolveInboxesTime(value time.Duration) {}

// OutboxIncrementActivityCount increments the number of activities of the given type posted to the outbox.
func (nm NoOptMetrics) OutboxIncrementActivityCount(activityType string) {}

// DeliveryIncrementRetryCount increments the number of retried delivery attempts.
func (nm NoOptMetrics) DeliveryIncrementRetryCount() {}

// DBPutTime records the time it takes to store data in db.
func (nm NoOptMetrics) DBPutTime(dbType string, duration time.Duration) {}

// DBGetTime records the time it takes to get data in db.
func (nm NoOptMetrics) DBGetTime(dbType string, duration time.Duration) {}

// DBGetTagsTime records the time it takes to get tags in db.
func (nm NoOptMetrics) DBGetTagsTime(dbType string, duration time.Duration) {}

// DBGetBulkTime records the time it takes to get bulk in db.
func (nm NoOptMetrics) DBGetBulkTime(dbType string, duration time.Duration) {}

// DBQueryTime records the time it takes to query in db.
func (nm NoOptMetrics) DBQueryTime(dbType string, duration time.Duration) {}

// DBDeleteTime records the time it takes to delete in db.
func (nm NoOptMetrics) DBDeleteTime(dbType string, duration time.Duration) {}

// DBBatchTime records the time it takes to batch in db.
func (nm NoOptMetrics) DBBatchTime(dbType string, duration time.Duration) {}
