/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package restapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/petrel-fed/petrel/pkg/activitypub/store/memstore"
	"github.com/petrel-fed/petrel/pkg/internal/aptestutil"
	"github.com/petrel-fed/petrel/pkg/internal/testutil"
	"github.com/petrel-fed/petrel/pkg/restapi/common"
)

func newTestServer(t *testing.T, handlers []common.HTTPHandler) *httptest.Server {
	t.Helper()

	router := mux.NewRouter()

	for _, h := range handlers {
		router.HandleFunc(h.Path(), h.Handler()).Methods(h.Method())
	}

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return server
}

func newTestOperation(t *testing.T) *Operation {
	t.Helper()

	instanceBaseURL := testutil.MustParseURL("https://instance1.example")
	aliceIRI := testutil.MustParseURL("https://instance1.example/actors/alice")

	s := memstore.New("service1")
	require.NoError(t, s.PutActor(aptestutil.NewMockPerson(aliceIRI, "alice")))

	return New(&Config{InstanceBaseURL: instanceBaseURL}, s)
}

func httpGet(t *testing.T, url string, headers map[string]string) (int, []byte) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	return resp.StatusCode, body
}

func TestWebFinger(t *testing.T) {
	server := newTestServer(t, newTestOperation(t).GetRESTHandlers())

	t.Run("Known account", func(t *testing.T) {
		status, body := httpGet(t,
			server.URL+"/.well-known/webfinger?resource=acct:alice@instance1.example", nil)
		require.Equal(t, http.StatusOK, status)

		jrd := &JRD{}
		require.NoError(t, json.Unmarshal(body, jrd))

		require.Equal(t, "acct:alice@instance1.example", jrd.Subject)
		require.Equal(t, []string{"https://instance1.example/actors/alice"}, jrd.Aliases)
		require.Len(t, jrd.Links, 2)
		require.Equal(t, "self", jrd.Links[0].Rel)
		require.Equal(t, ActivityJSONType, jrd.Links[0].Type)
		require.Equal(t, "https://instance1.example/actors/alice", jrd.Links[0].Href)
		require.Equal(t, "http://webfinger.net/rel/profile-page", jrd.Links[1].Rel)
	})

	t.Run("Missing resource -> 400", func(t *testing.T) {
		status, _ := httpGet(t, server.URL+"/.well-known/webfinger", nil)
		require.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("Non-acct resource -> 400", func(t *testing.T) {
		status, _ := httpGet(t,
			server.URL+"/.well-known/webfinger?resource=https://instance1.example/actors/alice", nil)
		require.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("Malformed acct resource -> 400", func(t *testing.T) {
		status, _ := httpGet(t, server.URL+"/.well-known/webfinger?resource=acct:alice", nil)
		require.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("Foreign host -> 404", func(t *testing.T) {
		status, _ := httpGet(t,
			server.URL+"/.well-known/webfinger?resource=acct:alice@remote.example", nil)
		require.Equal(t, http.StatusNotFound, status)
	})

	t.Run("Unknown user -> 404", func(t *testing.T) {
		status, _ := httpGet(t,
			server.URL+"/.well-known/webfinger?resource=acct:eve@instance1.example", nil)
		require.Equal(t, http.StatusNotFound, status)
	})
}

func TestHostMeta(t *testing.T) {
	server := newTestServer(t, newTestOperation(t).GetRESTHandlers())

	t.Run("host-meta with JSON accept header", func(t *testing.T) {
		status, body := httpGet(t, server.URL+"/.well-known/host-meta",
			map[string]string{"Accept": "application/json"})
		require.Equal(t, http.StatusOK, status)

		jrd := &JRD{}
		require.NoError(t, json.Unmarshal(body, jrd))
		require.Len(t, jrd.Links, 2)
		require.Equal(t,
			"https://instance1.example/.well-known/webfinger?resource={uri}",
			jrd.Links[0].Template)
	})

	t.Run("host-meta without JSON accept header -> 400", func(t *testing.T) {
		status, _ := httpGet(t, server.URL+"/.well-known/host-meta", nil)
		require.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("host-meta.json", func(t *testing.T) {
		status, body := httpGet(t, server.URL+"/.well-known/host-meta.json", nil)
		require.Equal(t, http.StatusOK, status)

		jrd := &JRD{}
		require.NoError(t, json.Unmarshal(body, jrd))
		require.Equal(t, "https://instance1.example", jrd.Links[1].Href)
	})
}

func TestWellKnownNodeInfo(t *testing.T) {
	server := newTestServer(t, newTestOperation(t).GetRESTHandlers())

	status, body := httpGet(t, server.URL+"/.well-known/nodeinfo", nil)
	require.Equal(t, http.StatusOK, status)

	jrd := &JRD{}
	require.NoError(t, json.Unmarshal(body, jrd))

	require.Len(t, jrd.Links, 2)
	require.Equal(t, "http://nodeinfo.diaspora.software/ns/schema/1.0", jrd.Links[0].Rel)
	require.Equal(t, "https://instance1.example/nodeinfo/1.0", jrd.Links[0].Href)
	require.Equal(t, "http://nodeinfo.diaspora.software/ns/schema/2.0", jrd.Links[1].Rel)
	require.Equal(t, "https://instance1.example/nodeinfo/2.0", jrd.Links[1].Href)
}
