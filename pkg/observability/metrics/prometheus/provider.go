/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package prometheus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/petrel-fed/petrel/pkg/httpserver"
	. "github.com/petrel-fed/petrel/pkg/observability/metrics"
)

var (
	createOnce sync.Once //nolint:gochecknoglobals
	instance   Metrics   //nolint:gochecknoglobals
)

// PromProvider is a Prometheus metrics provider. It serves the metrics over a
// dedicated HTTP server, if one is given.
type PromProvider struct {
	httpServer *httpserver.Server
}

// NewPrometheusProvider returns a new Prometheus metrics provider.
func NewPrometheusProvider(httpServer *httpserver.Server) Provider {
	return &PromProvider{httpServer: httpServer}
}

// Create starts the metrics HTTP server, if one was provided.
func (pp *PromProvider) Create() error {
	if pp.httpServer == nil {
		return nil
	}

	if err := pp.httpServer.Start(); err != nil {
		return fmt.Errorf("start metrics HTTP server: %w", err)
	}

	return nil
}

// Metrics returns the metrics implementation.
func (pp *PromProvider) Metrics() Metrics {
	return GetMetrics()
}

// Destroy stops the metrics HTTP server, if one was provided.
func (pp *PromProvider) Destroy() error {
	if pp.httpServer == nil {
		return nil
	}

	return pp.httpServer.Stop(context.Background())
}

// GetMetrics returns the metrics implementation.
func GetMetrics() Metrics {
	createOnce.Do(func() {
		instance = NewMetrics()
	})

	return instance
}

// PromMetrics manages the metrics for the server.
type PromMetrics struct {
	apOutboxPostTime           prometheus.Histogram
	apOutboxResolveInboxesTime prometheus.Histogram
	apInboxHandlerTimes        map[string]prometheus.Histogram
	apOutboxActivityCounts     map[string]prometheus.Counter
	apDeliveryRetryCount       prometheus.Counter

	dbPutTimes     map[string]prometheus.Histogram
	dbGetTimes     map[string]prometheus.Histogram
	dbGetTagsTimes map[string]prometheus.Histogram
	dbGetBulkTimes map[string]prometheus.Histogram
	dbQueryTimes   map[string]prometheus.Histogram
	dbDeleteTimes  map[string]prometheus.Histogram
	dbBatchTimes   map[string]prometheus.Histogram
}

// NewMetrics creates and registers the metrics for the server.
func NewMetrics() Metrics {
	activityTypes := []string{
		"Create", "Update", "Delete", "Follow", "Accept", "Reject",
		"Undo", "Like", "Announce", "Block", "Flag", "Move",
	}
	dbTypes := []string{"MongoDB"}

	pm := &PromMetrics{
		apOutboxPostTime:           newOutboxPostTime(),
		apOutboxResolveInboxesTime: newOutboxResolveInboxesTime(),
		apInboxHandlerTimes:        newInboxHandlerTimes(activityTypes),
		apOutboxActivityCounts:     newOutboxActivityCounts(activityTypes),
		apDeliveryRetryCount:       newDeliveryRetryCount(),
		dbPutTimes:                 newDBTimes(dbTypes, DBPutTimeMetric, "put a document"),
		dbGetTimes:                 newDBTimes(dbTypes, DBGetTimeMetric, "get a document"),
		dbGetTagsTimes:             newDBTimes(dbTypes, DBGetTagsTimeMetric, "get tags"),
		dbGetBulkTimes:             newDBTimes(dbTypes, DBGetBulkTimeMetric, "get documents in bulk"),
		dbQueryTimes:               newDBTimes(dbTypes, DBQueryTimeMetric, "query for documents"),
		dbDeleteTimes:              newDBTimes(dbTypes, DBDeleteTimeMetric, "delete a document"),
		dbBatchTimes:               newDBTimes(dbTypes, DBBatchTimeMetric, "perform a batch of operations"),
	}

	registerMetrics(pm)

	return pm
}

func registerMetrics(pm *PromMetrics) {
	prometheus.MustRegister(pm.apOutboxPostTime, pm.apOutboxResolveInboxesTime, pm.apDeliveryRetryCount)

	for _, c := range pm.apInboxHandlerTimes {
		prometheus.MustRegister(c)
	}

	for _, c := range pm.apOutboxActivityCounts {
		prometheus.MustRegister(c)
	}

	for _, m := range []map[string]prometheus.Histogram{
		pm.dbPutTimes, pm.dbGetTimes, pm.dbGetTagsTimes, pm.dbGetBulkTimes,
		pm.dbQueryTimes, pm.dbDeleteTimes, pm.dbBatchTimes,
	} {
		for _, c := range m {
			prometheus.MustRegister(c)
		}
	}
}

// OutboxPostTime records the time it takes to post a message to the outbox.
func (pm *PromMetrics) OutboxPostTime(value time.Duration) {
	pm.apOutboxPostTime.Observe(value.Seconds())
}

// OutboxResolveInboxesTime records the time it takes to resolve inboxes for an outbox post.
func (pm *PromMetrics) OutboxResolveInboxesTime(value time.Duration) {
	pm.apOutboxResolveInboxesTime.Observe(value.Seconds())
}

// InboxHandlerTime records the time it takes to handle an activity posted to the inbox.
func (pm *PromMetrics) InboxHandlerTime(activityType string, value time.Duration) {
	if c, ok := pm.apInboxHandlerTimes[activityType]; ok {
		c.Observe(value.Seconds())
	}
}

// OutboxIncrementActivityCount increments the number of activities of the given type posted to the outbox.
func (pm *PromMetrics) OutboxIncrementActivityCount(activityType string) {
	if c, ok := pm.apOutboxActivityCounts[activityType]; ok {
		c.Inc()
	}
}

// DeliveryIncrementRetryCount increments the number of retried delivery attempts.
func (pm *PromMetrics) DeliveryIncrementRetryCount() {
	pm.apDeliveryRetryCount.Inc()
}

// DBPutTime records the time it takes to store data in db.
func (pm *PromMetrics) DBPutTime(dbType string, value time.Duration) {
	if c, ok := pm.dbPutTimes[dbType]; ok {
		c.Observe(value.Seconds())
	}
}

// DBGetTime records the time it takes to get data from db.
func (pm *PromMetrics) DBGetTime(dbType string, value time.Duration) {
	if c, ok := pm.dbGetTimes[dbType]; ok {
		c.Observe(value.Seconds())
	}
}

// DBGetTagsTime records the time it takes to get tags from db.
func (pm *PromMetrics) DBGetTagsTime(dbType string, value time.Duration) {
	if c, ok := pm.dbGetTagsTimes[dbType]; ok {
		c.Observe(value.Seconds())
	}
}

// DBGetBulkTime records the time it takes to get bulk from db.
func (pm *PromMetrics) DBGetBulkTime(dbType string, value time.Duration) {
	if c, ok := pm.dbGetBulkTimes[dbType]; ok {
		c.Observe(value.Seconds())
	}
}

// DBQueryTime records the time it takes to query db.
func (pm *PromMetrics) DBQueryTime(dbType string, value time.Duration) {
	if c, ok := pm.dbQueryTimes[dbType]; ok {
		c.Observe(value.Seconds())
	}
}

// DBDeleteTime records the time it takes to delete from db.
func (pm *PromMetrics) DBDeleteTime(dbType string, value time.Duration) {
	if c, ok := pm.dbDeleteTimes[dbType]; ok {
		c.Observe(value.Seconds())
	}
}

// DBBatchTime records the time it takes to perform a batch operation on db.
func (pm *PromMetrics) DBBatchTime(dbType string, value time.Duration) {
	if c, ok := pm.dbBatchTimes[dbType]; ok {
		c.Observe(value.Seconds())
	}
}

func newCounter(subsystem, name, help string, labels prometheus.Labels) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   Namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	})
}

func newHistogram(subsystem, name, help string, labels prometheus.Labels) prometheus.Histogram {
	return prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   Namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	})
}

func newOutboxPostTime() prometheus.Histogram {
	return newHistogram(
		ActivityPub, ApPostTimeMetric,
		"The time (in seconds) that it takes to post a message to the outbox.",
		nil,
	)
}

func newOutboxResolveInboxesTime() prometheus.Histogram {
	return newHistogram(
		ActivityPub, ApResolveInboxesTimeMetric,
		"The time (in seconds) that it takes to resolve the inboxes of the destinations when posting to the outbox.",
		nil,
	)
}

func newInboxHandlerTimes(activityTypes []string) map[string]prometheus.Histogram {
	histograms := make(map[string]prometheus.Histogram)

	for _, activityType := range activityTypes {
		histograms[activityType] = newHistogram(
			ActivityPub, ApInboxHandlerTimeMetric,
			"The time (in seconds) that it takes to handle an activity posted to the inbox.",
			prometheus.Labels{"type": activityType},
		)
	}

	return histograms
}

func newOutboxActivityCounts(activityTypes []string) map[string]prometheus.Counter {
	counters := make(map[string]prometheus.Counter)

	for _, activityType := range activityTypes {
		counters[activityType] = newCounter(
			ActivityPub, ApOutboxActivityCounterMetric,
			"The number of activities posted to the outbox.",
			prometheus.Labels{"type": activityType},
		)
	}

	return counters
}

func newDeliveryRetryCount() prometheus.Counter {
	return newCounter(
		ActivityPub, ApDeliveryRetryCounterMetric,
		"The number of times a delivery attempt was retried.",
		nil,
	)
}

func newDBTimes(dbTypes []string, metricName, operation string) map[string]prometheus.Histogram {
	histograms := make(map[string]prometheus.Histogram)

	for _, dbType := range dbTypes {
		histograms[dbType] = newHistogram(
			DB, metricName,
			fmt.Sprintf("The time (in seconds) it takes the DB to %s.", operation),
			prometheus.Labels{"type": dbType},
		)
	}

	return histograms
}
