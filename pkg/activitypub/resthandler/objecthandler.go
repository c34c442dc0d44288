/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resthandler

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/petrel-fed/petrel/internal/pkg/httputil"
	logfields "github.com/petrel-fed/petrel/internal/pkg/log"
	store "github.com/petrel-fed/petrel/pkg/activitypub/store/spi"
	"github.com/petrel-fed/petrel/pkg/activitypub/vocab"
)

// Object implements the REST handler that serves a stored content object. A
// soft-deleted object is served as a Tombstone with status 410.
type Object struct {
	*handler
}

// NewObject returns a new stored-object REST handler.
func NewObject(cfg *Config, activityStore store.Store) *Object {
	h := &Object{}

	h.handler = newHandler(ObjectsPath, http.MethodGet, cfg, activityStore, h.handle)

	return h
}

func (h *Object) handle(w http.ResponseWriter, req *http.Request) {
	objectIRI := h.InstanceBaseURL.JoinPath("objects", mux.Vars(req)["id"])

	obj, err := h.activityStore.GetObject(objectIRI)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.WriteStatusError(w, req, http.StatusNotFound, "object not found")

			return
		}

		logger.Error("Error retrieving object", logfields.WithObjectIRI(objectIRI), log.WithError(err))

		httputil.WriteStatusError(w, req, http.StatusInternalServerError, "internal server error")

		return
	}

	if obj.Deleted() != nil {
		h.writeTombstone(w, req, obj)

		return
	}

	h.writeDocument(w, req, obj)
}

func (h *Object) writeTombstone(w http.ResponseWriter, req *http.Request, obj *vocab.ObjectType) {
	tombstone := vocab.NewObject(
		vocab.WithContext(vocab.ContextActivityStreams),
		vocab.WithID(obj.ID().URL()),
		vocab.WithType(vocab.TypeTombstone),
		vocab.WithFormerType(obj.Type().Types()...),
		vocab.WithDeletedTime(obj.Deleted()),
	)

	tombstoneBytes, err := h.marshal(tombstone)
	if err != nil {
		logger.Error("Unable to marshal tombstone", logfields.WithObjectIRI(obj.ID()), log.WithError(err))

		httputil.WriteStatusError(w, req, http.StatusInternalServerError, "internal server error")

		return
	}

	httputil.WriteResponse(w, req, http.StatusGone, ActivityJSONType, tombstoneBytes)
}
