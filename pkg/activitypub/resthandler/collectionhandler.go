/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resthandler

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/petrel-fed/petrel/internal/pkg/httputil"
	logfields "github.com/petrel-fed/petrel/internal/pkg/log"
	store "github.com/petrel-fed/petrel/pkg/activitypub/store/spi"
	"github.com/petrel-fed/petrel/pkg/activitypub/store/storeutil"
	"github.com/petrel-fed/petrel/pkg/activitypub/vocab"
)

// actorAuthorizer authorizes a request as having been made by the local actor
// with the given username.
type actorAuthorizer interface {
	VerifyActor(req *http.Request, username string) bool
}

// Collection implements a REST handler that serves an actor's collection of
// references as an OrderedCollection of IRIs.
type Collection struct {
	*handler

	name       string
	refType    store.ReferenceType
	authorizer actorAuthorizer
}

// NewFollowers returns the REST handler for the followers collection.
func NewFollowers(cfg *Config, activityStore store.Store) *Collection {
	return newCollection(FollowersPath, "followers", store.Follower, cfg, activityStore, nil)
}

// NewFollowing returns the REST handler for the following collection.
func NewFollowing(cfg *Config, activityStore store.Store) *Collection {
	return newCollection(FollowingPath, "following", store.Following, cfg, activityStore, nil)
}

// NewOutbox returns the REST handler that reads an actor's outbox.
func NewOutbox(cfg *Config, activityStore store.Store) *Collection {
	return newCollection(OutboxPath, "outbox", store.Outbox, cfg, activityStore, nil)
}

// NewLiked returns the REST handler for the liked collection.
func NewLiked(cfg *Config, activityStore store.Store) *Collection {
	return newCollection(LikedPath, "liked", store.Liked, cfg, activityStore, nil)
}

// NewInbox returns the REST handler that reads an actor's inbox. The inbox is
// readable only by its owner, so requests must carry the actor's bearer token.
func NewInbox(cfg *Config, activityStore store.Store, authorizer actorAuthorizer) *Collection {
	return newCollection(InboxPath, "inbox", store.Inbox, cfg, activityStore, authorizer)
}

func newCollection(path, name string, refType store.ReferenceType, cfg *Config,
	activityStore store.Store, authorizer actorAuthorizer) *Collection {
	h := &Collection{
		name:       name,
		refType:    refType,
		authorizer: authorizer,
	}

	h.handler = newHandler(path, http.MethodGet, cfg, activityStore, h.handle)

	return h
}

func (h *Collection) handle(w http.ResponseWriter, req *http.Request) {
	actorIRI, username := h.actorIRI(req)

	if h.authorizer != nil && !h.authorizer.VerifyActor(req, username) {
		httputil.WriteStatusError(w, req, http.StatusUnauthorized, "unauthorized")

		return
	}

	id := h.InstanceBaseURL.JoinPath("actors", username, h.name)

	pageNum, pageSize, paging, err := h.pageParams(req)
	if err != nil {
		httputil.WriteStatusError(w, req, http.StatusBadRequest, err.Error())

		return
	}

	if paging {
		h.handlePage(w, req, actorIRI, id, pageNum, pageSize)
	} else {
		h.handleCollection(w, req, actorIRI, id)
	}
}

func (h *Collection) handleCollection(w http.ResponseWriter, req *http.Request, actorIRI, id *url.URL) {
	it, err := h.activityStore.QueryReferences(h.refType, store.NewCriteria(store.WithObjectIRI(actorIRI)))
	if err != nil {
		h.writeQueryError(w, req, actorIRI, err)

		return
	}

	defer closeIterator(it)

	totalItems, err := it.TotalItems()
	if err != nil {
		h.writeQueryError(w, req, actorIRI, err)

		return
	}

	coll := vocab.NewOrderedCollection(nil,
		vocab.WithContext(vocab.ContextActivityStreams),
		vocab.WithID(id),
		vocab.WithFirst(pageURL(id, 1, 0)),
		vocab.WithLast(pageURL(id, lastPageNum(totalItems, h.PageSize), 0)),
		vocab.WithTotalItems(totalItems),
	)

	h.writeDocument(w, req, coll)
}

func (h *Collection) handlePage(w http.ResponseWriter, req *http.Request, actorIRI, id *url.URL,
	pageNum, pageSize int) {
	it, err := h.activityStore.QueryReferences(h.refType,
		store.NewCriteria(store.WithObjectIRI(actorIRI)),
		store.WithPageNum(pageNum-1), store.WithPageSize(pageSize),
		store.WithSortOrder(store.SortDescending),
	)
	if err != nil {
		h.writeQueryError(w, req, actorIRI, err)

		return
	}

	defer closeIterator(it)

	refs, err := storeutil.ReadReferences(it, pageSize)
	if err != nil {
		h.writeQueryError(w, req, actorIRI, err)

		return
	}

	totalItems, err := it.TotalItems()
	if err != nil {
		h.writeQueryError(w, req, actorIRI, err)

		return
	}

	items := make([]*vocab.ObjectProperty, len(refs))

	for i, ref := range refs {
		items[i] = vocab.NewObjectProperty(vocab.WithIRI(ref))
	}

	perPage := 0
	if req.URL.Query().Get(perPageParam) != "" {
		perPage = pageSize
	}

	opts := []vocab.Opt{
		vocab.WithContext(vocab.ContextActivityStreams),
		vocab.WithID(pageURL(id, pageNum, perPage)),
		vocab.WithTotalItems(totalItems),
	}

	if pageNum > 1 {
		opts = append(opts, vocab.WithPrev(pageURL(id, pageNum-1, perPage)))
	}

	if pageNum < lastPageNum(totalItems, pageSize) {
		opts = append(opts, vocab.WithNext(pageURL(id, pageNum+1, perPage)))
	}

	h.writeDocument(w, req, vocab.NewOrderedCollectionPage(items, opts...))
}

func (h *Collection) writeQueryError(w http.ResponseWriter, req *http.Request, actorIRI *url.URL, err error) {
	logger.Error("Error querying references", logfields.WithServiceEndpoint(h.endpoint),
		logfields.WithType(string(h.refType)), logfields.WithObjectIRI(actorIRI), log.WithError(err))

	httputil.WriteStatusError(w, req, http.StatusInternalServerError, "internal server error")
}

// pageURL returns the URL of the given collection page. A perPage value of zero
// leaves the page size at its default.
func pageURL(id *url.URL, pageNum, perPage int) *url.URL {
	pu := *id

	query := pu.Query()
	query.Set(pageParam, strconv.Itoa(pageNum))

	if perPage > 0 {
		query.Set(perPageParam, strconv.Itoa(perPage))
	}

	pu.RawQuery = query.Encode()

	return &pu
}

func lastPageNum(totalItems, pageSize int) int {
	if totalItems <= pageSize {
		return 1
	}

	return (totalItems + pageSize - 1) / pageSize
}

func closeIterator(it store.ReferenceIterator) {
	if err := it.Close(); err != nil {
		logger.Warn("Error closing iterator", log.WithError(err))
	}
}
