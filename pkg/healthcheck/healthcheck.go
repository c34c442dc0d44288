/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package healthcheck

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/petrel-fed/petrel/pkg/httpserver"
	"github.com/petrel-fed/petrel/pkg/restapi/common"
)

var logger = log.New("healthcheck")

const (
	healthCheckEndpoint = "/healthcheck"

	success      = "success"
	notConnected = "not connected"
	unknown      = "unknown error"
)

type pubSub interface {
	IsConnected() bool
}

type db interface {
	Ping() error
}

type redis interface {
	Ping(ctx context.Context) error
}

// Handler implements a health check HTTP handler.
type Handler struct {
	pubSub pubSub
	db     db
	redis  redis
}

// NewHandler returns a new health check handler. Any of the probes may be nil,
// in which case the corresponding component is not reported.
func NewHandler(pubSub pubSub, db db, redis redis) *Handler {
	return &Handler{
		pubSub: pubSub,
		db:     db,
		redis:  redis,
	}
}

// Method returns the HTTP method, which is always GET.
func (h *Handler) Method() string {
	return http.MethodGet
}

// Path returns the base path of the target URL for this handler.
func (h *Handler) Path() string {
	return healthCheckEndpoint
}

// Handler returns the handler that should be invoked when an HTTP GET is requested to the target endpoint.
// This handler must be registered with an HTTP server.
func (h *Handler) Handler() common.HTTPRequestHandler {
	return h.checkHealth
}

type response struct {
	MQStatus    string    `json:"mqStatus,omitempty"`
	DBStatus    string    `json:"dbStatus,omitempty"`
	RedisStatus string    `json:"redisStatus,omitempty"`
	Status      string    `json:"status,omitempty"`
	CurrentTime time.Time `json:"currentTime,omitempty"`
	Version     string    `json:"version,omitempty"`
}

func (h *Handler) checkHealth(rw http.ResponseWriter, req *http.Request) {
	returnStatusServiceUnavailable := false

	unavailable, mqStatus := h.mqHealthCheck()
	if unavailable {
		returnStatusServiceUnavailable = true
	}

	unavailable, dbStatus := h.dbHealthCheck()
	if unavailable {
		returnStatusServiceUnavailable = true
	}

	unavailable, redisStatus := h.redisHealthCheck(req.Context())
	if unavailable {
		returnStatusServiceUnavailable = true
	}

	status := http.StatusOK

	if returnStatusServiceUnavailable {
		status = http.StatusServiceUnavailable
	}

	hc := &response{
		MQStatus:    mqStatus,
		DBStatus:    dbStatus,
		RedisStatus: redisStatus,
		CurrentTime: time.Now(),
		Status:      "OK",
		Version:     httpserver.BuildVersion,
	}

	hcBytes, err := json.Marshal(hc)
	if err != nil {
		logger.Error("Healthcheck marshal error", log.WithError(err))

		return
	}

	logger.Debug("Health check returning response", log.WithHTTPStatus(status), log.WithResponse(hcBytes))

	rw.WriteHeader(status)

	_, err = rw.Write(hcBytes)
	if err != nil {
		logger.Error("Healthcheck response failure", log.WithError(err))
	}
}

func (h *Handler) mqHealthCheck() (bool, string) {
	if h.pubSub == nil {
		return false, ""
	}

	if h.pubSub.IsConnected() {
		return false, success
	}

	return true, notConnected
}

func (h *Handler) dbHealthCheck() (bool, string) {
	if h.db == nil {
		return false, ""
	}

	err := h.db.Ping()
	if err == nil {
		return false, success
	}

	return true, toStatus(err)
}

func (h *Handler) redisHealthCheck(ctx context.Context) (bool, string) {
	if h.redis == nil {
		return false, ""
	}

	err := h.redis.Ping(ctx)
	if err == nil {
		return false, success
	}

	return true, toStatus(err)
}

func toStatus(err error) string {
	if err.Error() != "" {
		return err.Error()
	}

	return unknown
}
