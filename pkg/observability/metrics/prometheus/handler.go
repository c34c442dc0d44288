/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package prometheus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/petrel-fed/petrel/pkg/restapi/common"
)

const metricsPath = "/metrics"

// NewScrapeHandler returns the Prometheus scrape endpoint, to be registered with
// the HTTP server.
func NewScrapeHandler() common.HTTPHandler {
	h := promhttp.Handler()

	return common.NewHTTPHandler(metricsPath, http.MethodGet,
		func(w http.ResponseWriter, req *http.Request) {
			h.ServeHTTP(w, req)
		})
}
