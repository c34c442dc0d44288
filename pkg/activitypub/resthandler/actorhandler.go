/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resthandler

import (
	"errors"
	"net/http"

	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/petrel-fed/petrel/internal/pkg/httputil"
	logfields "github.com/petrel-fed/petrel/internal/pkg/log"
	store "github.com/petrel-fed/petrel/pkg/activitypub/store/spi"
)

// Actor implements the REST handler that serves a local actor's profile
// document.
type Actor struct {
	*handler
}

// NewActor returns a new actor profile REST handler.
func NewActor(cfg *Config, activityStore store.Store) *Actor {
	h := &Actor{}

	h.handler = newHandler(ActorsPath, http.MethodGet, cfg, activityStore, h.handle)

	return h
}

func (h *Actor) handle(w http.ResponseWriter, req *http.Request) {
	actorIRI, username := h.actorIRI(req)

	actor, err := h.activityStore.GetActor(actorIRI)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.WriteStatusError(w, req, http.StatusNotFound, "actor not found")

			return
		}

		logger.Error("Error retrieving actor", logfields.WithUsername(username), log.WithError(err))

		httputil.WriteStatusError(w, req, http.StatusInternalServerError, "internal server error")

		return
	}

	h.writeDocument(w, req, actor)
}
