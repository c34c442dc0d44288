/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package ratelimit bounds the number of requests accepted from a single client
// within a fixed window. Counts are kept either in process memory or in Redis,
// where all nodes of a deployment share them.
package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/petrel-fed/petrel/internal/pkg/httputil"
	logfields "github.com/petrel-fed/petrel/internal/pkg/log"
	petrelerrors "github.com/petrel-fed/petrel/pkg/errors"
)

var logger = log.New("ratelimit")

const (
	defaultWindow      = time.Minute
	defaultMaxRequests = 100

	keyPrefix = "ratelimit"

	xForwardedForHeader = "X-Forwarded-For"
	xRealIPHeader       = "X-Real-IP"
)

// Counter counts the requests of a client within the current window.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Config holds the configuration parameters for the rate limiter.
type Config struct {
	// Window is the length of the fixed counting window.
	Window time.Duration

	// MaxRequests is the number of requests allowed per client within the window.
	MaxRequests int64
}

// Limiter rejects requests from clients that exceed the request budget.
type Limiter struct {
	Config

	counter Counter
}

// New returns a limiter that counts requests with the given counter.
func New(cfg Config, counter Counter) *Limiter {
	if cfg.Window == 0 {
		cfg.Window = defaultWindow
	}

	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = defaultMaxRequests
	}

	return &Limiter{
		Config:  cfg,
		counter: counter,
	}
}

// Middleware returns a middleware that rejects a client exceeding the request budget
// with a 429 response. A request whose client IP cannot be determined bypasses the
// limit with a warning, and the limiter fails open when the counter is unavailable.
func (l *Limiter) Middleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ip := clientIP(req)
			if ip == "" {
				logger.Warn("Client IP could not be determined. Bypassing the rate limit.",
					logfields.WithRequestURLString(req.URL.Path))

				next.ServeHTTP(w, req)

				return
			}

			count, err := l.counter.Incr(req.Context(), keyPrefix+":"+ip, l.Window)
			if err != nil {
				logger.Error("Error counting request. Bypassing the rate limit.",
					logfields.WithClientIP(ip), log.WithError(err))

				next.ServeHTTP(w, req)

				return
			}

			if count > l.MaxRequests {
				logger.Info("Rate limit exceeded", logfields.WithClientIP(ip),
					logfields.WithRequestURLString(req.URL.Path))

				httputil.WriteError(w, req, petrelerrors.NewTooManyRequestsf(
					"rate limit of %d requests per %s exceeded", l.MaxRequests, l.Window))

				return
			}

			next.ServeHTTP(w, req)
		})
	}
}

// clientIP returns the client IP of the request. The X-Forwarded-For and X-Real-IP
// headers take precedence over the remote address, which is the proxy's address
// when the server sits behind one.
func clientIP(req *http.Request) string {
	if fwd := req.Header.Get(xForwardedForHeader); fwd != "" {
		// The first address in the list is the originating client.
		if ip := strings.TrimSpace(strings.Split(fwd, ",")[0]); ip != "" {
			return ip
		}
	}

	if ip := req.Header.Get(xRealIPHeader); ip != "" {
		return ip
	}

	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		// The remote address may be a bare IP.
		if net.ParseIP(req.RemoteAddr) != nil {
			return req.RemoteAddr
		}

		return ""
	}

	return host
}
