/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package restapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/petrel-fed/petrel/internal/pkg/log"
	store "github.com/petrel-fed/petrel/pkg/activitypub/store/spi"
	"github.com/petrel-fed/petrel/pkg/activitypub/vocab"
	"github.com/petrel-fed/petrel/pkg/restapi/common"
)

var logger = log.New("discovery-rest")

const (
	// WebFingerEndpoint is the endpoint for WebFinger calls.
	WebFingerEndpoint = "/.well-known/webfinger"
	hostMetaEndpoint  = "/.well-known/host-meta"
	// HostMetaJSONEndpoint is the endpoint for getting the host-meta document.
	HostMetaJSONEndpoint = "/.well-known/host-meta.json"
	nodeInfoEndpoint     = "/.well-known/nodeinfo"

	selfRelation        = "self"
	profilePageRelation = "http://webfinger.net/rel/profile-page"

	jrdJSONType = "application/jrd+json"
	// ActivityJSONType represents a link type that points to an ActivityPub endpoint.
	ActivityJSONType = "application/activity+json"

	acctScheme = "acct:"

	nodeInfoV1_0Schema = "http://nodeinfo.diaspora.software/ns/schema/1.0"
	nodeInfoV2_0Schema = "http://nodeinfo.diaspora.software/ns/schema/2.0"
)

type actorRetriever interface {
	GetActor(actorIRI *url.URL) (*vocab.ActorType, error)
}

// Operation defines handlers for the discovery endpoints.
type Operation struct {
	instanceBaseURL *url.URL
	baseURL         string
	host            string
	actorRetriever  actorRetriever
}

// Config defines configuration for the discovery endpoints.
type Config struct {
	InstanceBaseURL *url.URL
}

// New returns new discovery operations.
func New(c *Config, actorRetriever actorRetriever) *Operation {
	return &Operation{
		instanceBaseURL: c.InstanceBaseURL,
		baseURL:         fmt.Sprintf("%s://%s", c.InstanceBaseURL.Scheme, c.InstanceBaseURL.Host),
		host:            c.InstanceBaseURL.Host,
		actorRetriever:  actorRetriever,
	}
}

// GetRESTHandlers gets all of the handlers for the discovery endpoints.
func (o *Operation) GetRESTHandlers() []common.HTTPHandler {
	return []common.HTTPHandler{
		newHTTPHandler(WebFingerEndpoint, o.webFingerHandler),
		newHTTPHandler(hostMetaEndpoint, o.hostMetaHandler),
		newHTTPHandler(HostMetaJSONEndpoint, o.hostMetaJSONHandler),
		newHTTPHandler(nodeInfoEndpoint, o.nodeInfoHandler),
	}
}

func (o *Operation) webFingerHandler(rw http.ResponseWriter, r *http.Request) {
	queryValue := r.URL.Query()["resource"]
	if len(queryValue) == 0 {
		writeErrorResponse(rw, http.StatusBadRequest, "resource query string not found")

		return
	}

	resource := queryValue[0]

	if !strings.HasPrefix(resource, acctScheme) {
		writeErrorResponse(rw, http.StatusBadRequest,
			fmt.Sprintf("unsupported resource scheme in %s", resource))

		return
	}

	username, host, found := strings.Cut(strings.TrimPrefix(resource, acctScheme), "@")
	if !found || username == "" {
		writeErrorResponse(rw, http.StatusBadRequest,
			fmt.Sprintf("invalid acct resource %s", resource))

		return
	}

	if host != o.host {
		writeErrorResponse(rw, http.StatusNotFound,
			fmt.Sprintf("resource %s not found", resource))

		return
	}

	actorIRI := o.instanceBaseURL.JoinPath("actors", username)

	_, err := o.actorRetriever.GetActor(actorIRI)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.Debug("Actor not found", logfields.WithUsername(username))

			writeErrorResponse(rw, http.StatusNotFound,
				fmt.Sprintf("resource %s not found", resource))
		} else {
			logger.Warn("Error retrieving actor", logfields.WithUsername(username), log.WithError(err))

			writeErrorResponse(rw, http.StatusInternalServerError, "error retrieving actor")
		}

		return
	}

	writeResponse(rw, &JRD{
		Subject: resource,
		Aliases: []string{actorIRI.String()},
		Links: []Link{
			{
				Rel:  selfRelation,
				Type: ActivityJSONType,
				Href: actorIRI.String(),
			},
			{
				Rel:  profilePageRelation,
				Type: "text/html",
				Href: actorIRI.String(),
			},
		},
	})
}

func (o *Operation) nodeInfoHandler(rw http.ResponseWriter, _ *http.Request) {
	writeResponse(rw, &JRD{
		Links: []Link{
			{
				Rel:  nodeInfoV1_0Schema,
				Href: fmt.Sprintf("%s/nodeinfo/1.0", o.baseURL),
			},
			{
				Rel:  nodeInfoV2_0Schema,
				Href: fmt.Sprintf("%s/nodeinfo/2.0", o.baseURL),
			},
		},
	})
}

func (o *Operation) hostMetaHandler(rw http.ResponseWriter, r *http.Request) {
	acceptedFormat := r.Header.Get("Accept")

	// TODO: support XRD as required by https://datatracker.ietf.org/doc/html/rfc6415#section-3.
	if acceptedFormat != "application/json" {
		writeErrorResponse(rw, http.StatusBadRequest,
			`the Accept header must be set to application/json to use this endpoint`)

		return
	}

	o.respondWithHostMetaJSON(rw)
}

func (o *Operation) hostMetaJSONHandler(rw http.ResponseWriter, _ *http.Request) {
	o.respondWithHostMetaJSON(rw)
}

func (o *Operation) respondWithHostMetaJSON(rw http.ResponseWriter) {
	writeResponse(rw, &JRD{
		Links: []Link{
			{
				Rel:      selfRelation,
				Type:     jrdJSONType,
				Template: fmt.Sprintf("%s%s%s", o.baseURL, WebFingerEndpoint, "?resource={uri}"),
			},
			{
				Rel:  selfRelation,
				Type: ActivityJSONType,
				Href: o.instanceBaseURL.String(),
			},
		},
	})
}

// writeErrorResponse writes an error response.
func writeErrorResponse(rw http.ResponseWriter, status int, msg string) {
	rw.Header().Add("Content-Type", "application/json")
	rw.WriteHeader(status)

	err := json.NewEncoder(rw).Encode(ErrorResponse{
		Message: msg,
	})
	if err != nil {
		logger.Error("Unable to send error message", log.WithError(err))
	}
}

// writeResponse writes a response.
func writeResponse(rw http.ResponseWriter, v interface{}) {
	rw.Header().Add("Content-Type", jrdJSONType)

	err := json.NewEncoder(rw).Encode(v)
	if err != nil {
		logfields.WriteResponseBodyError(logger, err)
	}
}

// newHTTPHandler returns an instance of HTTPHandler which can be used to handle http requests.
func newHTTPHandler(path string, handle common.HTTPRequestHandler) common.HTTPHandler {
	return &httpHandler{path: path, handle: handle}
}

// httpHandler contains REST API handling details which can be used to build routers
// for http requests for a given path.
type httpHandler struct {
	path   string
	handle common.HTTPRequestHandler
}

// Path returns the http request path.
func (h *httpHandler) Path() string {
	return h.path
}

// Method returns the http request method type.
func (h *httpHandler) Method() string {
	return http.MethodGet
}

// Handler returns the http request handle func.
func (h *httpHandler) Handler() common.HTTPRequestHandler {
	return h.handle
}
