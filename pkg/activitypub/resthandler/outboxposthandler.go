/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resthandler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/petrel-fed/petrel/internal/pkg/httputil"
	logfields "github.com/petrel-fed/petrel/internal/pkg/log"
	service "github.com/petrel-fed/petrel/pkg/activitypub/service/spi"
	store "github.com/petrel-fed/petrel/pkg/activitypub/store/spi"
	"github.com/petrel-fed/petrel/pkg/activitypub/vocab"
	petrelerrors "github.com/petrel-fed/petrel/pkg/errors"
	"github.com/petrel-fed/petrel/pkg/iri"
)

type jsonLDProcessor interface {
	Compact(doc map[string]interface{}) (map[string]interface{}, error)
}

// PostOutbox implements the REST handler that accepts locally authored
// activities and posts them to the outbox.
type PostOutbox struct {
	*handler

	outbox     service.Outbox
	processor  jsonLDProcessor
	authorizer actorAuthorizer
	unmarshal  func(data []byte, v interface{}) error
}

// NewPostOutbox returns a new outbox POST handler. The bearer token principal
// must match the actor that owns the outbox.
func NewPostOutbox(cfg *Config, activityStore store.Store, outbox service.Outbox,
	processor jsonLDProcessor, authorizer actorAuthorizer) *PostOutbox {
	h := &PostOutbox{
		outbox:     outbox,
		processor:  processor,
		authorizer: authorizer,
		unmarshal:  json.Unmarshal,
	}

	h.handler = newHandler(OutboxPath, http.MethodPost, cfg, activityStore, h.handle)

	return h
}

func (h *PostOutbox) handle(w http.ResponseWriter, req *http.Request) {
	actorIRI, username := h.actorIRI(req)

	if !h.authorizer.VerifyActor(req, username) {
		httputil.WriteStatusError(w, req, http.StatusUnauthorized, "unauthorized")

		return
	}

	activity, err := h.parseActivity(req)
	if err != nil {
		logger.Infoc(req.Context(), "Invalid activity posted to outbox",
			logfields.WithUsername(username), log.WithError(err))

		httputil.WriteStatusError(w, req, http.StatusBadRequest, err.Error())

		return
	}

	if activity.Actor() == nil {
		activity.SetActor(actorIRI)
	} else if !iri.Equal(activity.Actor().String(), actorIRI.String()) {
		httputil.WriteStatusError(w, req, http.StatusUnauthorized,
			"activity actor does not match the authenticated actor")

		return
	}

	activityID, err := h.outbox.Post(req.Context(), activity)
	if err != nil {
		logger.Errorc(req.Context(), "Error posting activity to outbox",
			logfields.WithUsername(username), log.WithError(err))

		httputil.WriteError(w, req, err)

		return
	}

	idBytes, err := h.marshal(activityID.String())
	if err != nil {
		httputil.WriteStatusError(w, req, http.StatusInternalServerError, "internal server error")

		return
	}

	w.Header().Set("Location", activityID.String())

	httputil.WriteResponse(w, req, http.StatusAccepted, ActivityJSONType, idBytes)
}

func (h *PostOutbox) parseActivity(req *http.Request) (*vocab.ActivityType, error) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, petrelerrors.NewBadRequest(err)
	}

	doc := make(map[string]interface{})

	if err := h.unmarshal(body, &doc); err != nil {
		return nil, petrelerrors.NewBadRequest(err)
	}

	compacted, err := h.processor.Compact(doc)
	if err != nil {
		return nil, petrelerrors.NewBadRequest(err)
	}

	compactedBytes, err := h.marshal(compacted)
	if err != nil {
		return nil, err
	}

	activity := &vocab.ActivityType{}

	if err := h.unmarshal(compactedBytes, activity); err != nil {
		return nil, petrelerrors.NewBadRequest(err)
	}

	return activity, nil
}
