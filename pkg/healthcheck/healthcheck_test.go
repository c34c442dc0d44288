/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package healthcheck

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type mockPubSub struct {
	connected bool
}

func (m *mockPubSub) IsConnected() bool { return m.connected }

type mockDB struct {
	err error
}

func (m *mockDB) Ping() error { return m.err }

type mockRedis struct {
	err error
}

func (m *mockRedis) Ping(context.Context) error { return m.err }

func invoke(t *testing.T, h *Handler) (int, *response) {
	t.Helper()

	rw := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "https://instance1.example/healthcheck", nil)

	h.Handler()(rw, req)

	result := rw.Result()

	resp := &response{}
	require.NoError(t, json.NewDecoder(result.Body).Decode(resp))
	require.NoError(t, result.Body.Close())

	return result.StatusCode, resp
}

func TestHandler(t *testing.T) {
	t.Run("All healthy", func(t *testing.T) {
		h := NewHandler(&mockPubSub{connected: true}, &mockDB{}, &mockRedis{})
		require.Equal(t, http.MethodGet, h.Method())
		require.Equal(t, "/healthcheck", h.Path())

		status, resp := invoke(t, h)
		require.Equal(t, http.StatusOK, status)
		require.Equal(t, success, resp.MQStatus)
		require.Equal(t, success, resp.DBStatus)
		require.Equal(t, success, resp.RedisStatus)
		require.Equal(t, "OK", resp.Status)
	})

	t.Run("No probes configured", func(t *testing.T) {
		status, resp := invoke(t, NewHandler(nil, nil, nil))
		require.Equal(t, http.StatusOK, status)
		require.Empty(t, resp.MQStatus)
		require.Empty(t, resp.DBStatus)
		require.Empty(t, resp.RedisStatus)
	})

	t.Run("Message queue not connected", func(t *testing.T) {
		status, resp := invoke(t, NewHandler(&mockPubSub{connected: false}, &mockDB{}, &mockRedis{}))
		require.Equal(t, http.StatusServiceUnavailable, status)
		require.Equal(t, notConnected, resp.MQStatus)
		require.Equal(t, success, resp.DBStatus)
	})

	t.Run("Database ping error", func(t *testing.T) {
		status, resp := invoke(t, NewHandler(&mockPubSub{connected: true},
			&mockDB{err: errors.New("connection refused")}, &mockRedis{}))
		require.Equal(t, http.StatusServiceUnavailable, status)
		require.Equal(t, "connection refused", resp.DBStatus)
	})

	t.Run("Redis ping error", func(t *testing.T) {
		status, resp := invoke(t, NewHandler(&mockPubSub{connected: true}, &mockDB{},
			&mockRedis{err: errors.New("redis down")}))
		require.Equal(t, http.StatusServiceUnavailable, status)
		require.Equal(t, "redis down", resp.RedisStatus)
	})
}
