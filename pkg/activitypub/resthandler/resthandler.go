/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package resthandler provides the REST endpoints that expose actor profiles,
// actor collections and stored objects.
package resthandler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/petrel-fed/petrel/internal/pkg/httputil"
	logfields "github.com/petrel-fed/petrel/internal/pkg/log"
	store "github.com/petrel-fed/petrel/pkg/activitypub/store/spi"
	"github.com/petrel-fed/petrel/pkg/restapi/common"
)

var logger = log.New("activitypub_resthandler")

const (
	// ActorsPath is the path of the actor profile endpoint.
	ActorsPath = "/actors/{username}"
	// FollowersPath is the path of the followers collection endpoint.
	FollowersPath = "/actors/{username}/followers"
	// FollowingPath is the path of the following collection endpoint.
	FollowingPath = "/actors/{username}/following"
	// OutboxPath is the path of the outbox collection endpoint.
	OutboxPath = "/actors/{username}/outbox"
	// LikedPath is the path of the liked collection endpoint.
	LikedPath = "/actors/{username}/liked"
	// InboxPath is the path of the inbox collection endpoint.
	InboxPath = "/actors/{username}/inbox"
	// ObjectsPath is the path of the stored-object endpoint.
	ObjectsPath = "/objects/{id}"

	pageParam    = "page"
	perPageParam = "perPage"

	defaultPageSize = 50

	// ActivityJSONType is the content type of ActivityPub responses.
	ActivityJSONType = "application/activity+json"
)

// Config holds the configuration for the REST handlers.
type Config struct {
	// InstanceBaseURL is the base URL of this instance. Endpoint paths are
	// resolved relative to it.
	InstanceBaseURL *url.URL

	// PageSize is the default number of items per collection page.
	PageSize int
}

type handler struct {
	*Config

	endpoint      string
	method        string
	activityStore store.Store
	handler       common.HTTPRequestHandler
	marshal       func(v interface{}) ([]byte, error)
}

func newHandler(endpoint, method string, cfg *Config, s store.Store, h common.HTTPRequestHandler) *handler {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}

	return &handler{
		Config:        cfg,
		endpoint:      endpoint,
		method:        method,
		activityStore: s,
		handler:       h,
		marshal:       json.Marshal,
	}
}

// Path returns the base path of the target URL for this handler.
func (h *handler) Path() string {
	return h.endpoint
}

// Method returns the HTTP method of the endpoint.
func (h *handler) Method() string {
	return h.method
}

// Handler returns the handler that is invoked for a request to the endpoint.
func (h *handler) Handler() common.HTTPRequestHandler {
	return h.handler
}

// actorIRI returns the IRI of the local actor addressed by the {username} path
// variable.
func (h *handler) actorIRI(req *http.Request) (*url.URL, string) {
	username := mux.Vars(req)["username"]

	return h.InstanceBaseURL.JoinPath("actors", username), username
}

func (h *handler) writeDocument(w http.ResponseWriter, req *http.Request, doc interface{}) {
	docBytes, err := h.marshal(doc)
	if err != nil {
		logger.Error("Unable to marshal response", logfields.WithServiceEndpoint(h.endpoint),
			log.WithError(err))

		httputil.WriteStatusError(w, req, http.StatusInternalServerError, "internal server error")

		return
	}

	httputil.WriteResponse(w, req, http.StatusOK, ActivityJSONType, docBytes)
}

// pageParams returns the one-based page number and the page size from the
// request query, or ok=false when no page was requested.
func (h *handler) pageParams(req *http.Request) (pageNum, pageSize int, ok bool, err error) {
	pageValue := req.URL.Query().Get(pageParam)
	if pageValue == "" {
		return 0, 0, false, nil
	}

	pageNum, err = strconv.Atoi(pageValue)
	if err != nil || pageNum < 1 {
		return 0, 0, false, fmt.Errorf("invalid '%s' parameter [%s]", pageParam, pageValue)
	}

	pageSize = h.PageSize

	if perPageValue := req.URL.Query().Get(perPageParam); perPageValue != "" {
		pageSize, err = strconv.Atoi(perPageValue)
		if err != nil || pageSize < 1 {
			return 0, 0, false, fmt.Errorf("invalid '%s' parameter [%s]", perPageParam, perPageValue)
		}
	}

	return pageNum, pageSize, true, nil
}
