/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package activityhandler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/petrel-fed/petrel/internal/pkg/log"
	store "github.com/petrel-fed/petrel/pkg/activitypub/store/spi"
	"github.com/petrel-fed/petrel/pkg/activitypub/vocab"
	petrelerrors "github.com/petrel-fed/petrel/pkg/errors"
	"github.com/petrel-fed/petrel/pkg/iri"
	"github.com/petrel-fed/petrel/pkg/lifecycle"
)

const (
	loggerModule = "activitypub_service"

	defaultBufferSize = 100
)

// Config holds the configuration parameters for an activity handler.
type Config struct {
	// ServiceName is the name of the service (used for logging).
	ServiceName string

	// InstanceBaseURL is the base URL of this instance. An actor with the same
	// host as the base URL is considered local.
	InstanceBaseURL *url.URL

	// BufferSize is the size of the Go channel buffer for a subscription.
	BufferSize int
}

type activityPubClient interface {
	FetchActor(actorIRI *url.URL) (*vocab.ActorType, error)
	FetchAndStoreObject(objectIRI *url.URL) (*vocab.ObjectType, error)
}

type handler struct {
	*Config
	*lifecycle.Lifecycle

	store       store.Store
	client      activityPubClient
	mutex       sync.RWMutex
	subscribers []chan *vocab.ActivityType
	logger      *log.Log
}

func newHandler(name string, cfg *Config, s store.Store, client activityPubClient) *handler {
	if cfg.BufferSize == 0 {
		cfg.BufferSize = defaultBufferSize
	}

	h := &handler{
		Config: cfg,
		store:  s,
		client: client,
		logger: log.New(loggerModule, log.WithFields(logfields.WithServiceName(cfg.ServiceName))),
	}

	h.Lifecycle = lifecycle.New(name, lifecycle.WithStop(h.stop))

	return h
}

func (h *handler) stop() {
	h.logger.Info("Stopping activity handler")

	h.mutex.Lock()
	defer h.mutex.Unlock()

	for _, ch := range h.subscribers {
		close(ch)
	}

	h.subscribers = nil
}

// Subscribe allows a client to receive handled activities.
func (h *handler) Subscribe() <-chan *vocab.ActivityType {
	ch := make(chan *vocab.ActivityType, h.BufferSize)

	h.mutex.Lock()
	h.subscribers = append(h.subscribers, ch)
	h.mutex.Unlock()

	return ch
}

func (h *handler) notify(activity *vocab.ActivityType) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for _, ch := range h.subscribers {
		ch <- activity
	}
}

// isLocal returns true if the given IRI is served by this instance.
func (h *handler) isLocal(actorIRI *url.URL) bool {
	return actorIRI != nil && actorIRI.Host == h.InstanceBaseURL.Host
}

// localActor returns the local actor with the given IRI. A NotFound error is
// returned if the IRI is not served by this instance or the actor does not exist.
func (h *handler) localActor(actorIRI *url.URL) (*vocab.ActorType, error) {
	if !h.isLocal(actorIRI) {
		return nil, petrelerrors.NewNotFoundf("actor [%s] is not an actor of this instance", actorIRI)
	}

	actor, err := h.store.GetActor(iri.NormalizeURL(actorIRI))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, petrelerrors.NewNotFoundf("actor [%s] not found", actorIRI)
		}

		return nil, petrelerrors.NewTransient(fmt.Errorf("retrieve actor [%s]: %w", actorIRI, err))
	}

	return actor, nil
}

// resolveActor returns the actor for the given IRI, fetching it from the remote
// service if it is not in the local store.
func (h *handler) resolveActor(actorIRI *url.URL) (*vocab.ActorType, error) {
	actor, err := h.store.GetActor(iri.NormalizeURL(actorIRI))
	if err == nil {
		return actor, nil
	}

	if !errors.Is(err, store.ErrNotFound) {
		return nil, petrelerrors.NewTransient(fmt.Errorf("retrieve actor [%s]: %w", actorIRI, err))
	}

	return h.client.FetchActor(actorIRI)
}

// DefaultModerator records Flag activities and logs them. The activity itself
// was already persisted by the inbox worker, so there is nothing more to store.
type DefaultModerator struct {
	logger *log.Log
}

// NewModerator returns the default moderator for Flag activities.
func NewModerator() *DefaultModerator {
	return &DefaultModerator{logger: log.New(loggerModule)}
}

// HandleFlag logs the Flag activity.
func (m *DefaultModerator) HandleFlag(_ context.Context, flag *vocab.ActivityType) error {
	m.logger.Info("Received 'Flag' activity", logfields.WithActivityID(flag.ID()),
		logfields.WithActorIRI(flag.Actor()), logfields.WithObjectIRI(flag.Object().IRI()))

	return nil
}
