/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package metrics

import (
	"time"

	"github.com/trustbloc/logutil-go/pkg/log"
)

// Logger used by the metrics providers.
var Logger = log.New("metrics-provider")

// Constants used by the metrics providers.
const (
	// Namespace is the metric namespace for this server.
	Namespace = "petrel"

	// ActivityPub is the ActivityPub subsystem.
	ActivityPub                   = "activitypub"
	ApPostTimeMetric              = "outbox_post_seconds"
	ApResolveInboxesTimeMetric    = "outbox_resolve_inboxes_seconds"
	ApInboxHandlerTimeMetric      = "inbox_handler_seconds"
	ApOutboxActivityCounterMetric = "outbox_count"
	ApDeliveryRetryCounterMetric  = "delivery_retry_count"

	// DB is the database subsystem.
	DB                  = "db"
	DBPutTimeMetric     = "put_seconds"
	DBGetTimeMetric     = "get_seconds"
	DBGetTagsTimeMetric = "get_tags_seconds"
	DBGetBulkTimeMetric = "get_bulk_seconds"
	DBQueryTimeMetric   = "query_seconds"
	DBDeleteTimeMetric  = "delete_seconds"
	DBBatchTimeMetric   = "batch_seconds"
)

// Provider is an interface for a metrics provider.
type Provider interface {
	// Create creates a metrics provider instance
	Create() error
	// Destroy destroys the metrics provider instance
	Destroy() error
	// Metrics provides the metrics
	Metrics() Metrics
}

// Metrics is an interface for the metrics to be supported by the provider.
type Metrics interface {
	InboxHandlerTime(activityType string, value time.Duration)
	OutboxPostTime(value time.Duration)
	OutboxResolveInboxesTime(value time.Duration)
	OutboxIncrementActivityCount(activityType string)
	DeliveryIncrementRetryCount()
	DBPutTime(dbType string, duration time.Duration)
	DBGetTime(dbType string, duration time.Duration)
	DBGetTagsTime(dbType string, duration time.Duration)
	DBGetBulkTime(dbType string, duration time.Duration)
	DBQueryTime(dbType string, duration time.Duration)
	DBDeleteTime(dbType string, duration time.Duration)
	DBBatchTime(dbType string, duration time.Duration)
}
