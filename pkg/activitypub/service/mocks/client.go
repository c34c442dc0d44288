/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mocks

import (
	"net/url"
	"sync"

	"github.com/petrel-fed/petrel/pkg/activitypub/vocab"
	petrelerrors "github.com/petrel-fed/petrel/pkg/errors"
)

// ActivityPubClient implements a mock ActivityPub client that resolves actors
// and objects from an in-memory map.
type ActivityPubClient struct {
	mutex   sync.Mutex
	actors  map[string]*vocab.ActorType
	objects map[string]*vocab.ObjectType
	inboxes map[string]*url.URL
	fetched []*url.URL
	err     error
}

// NewActivityPubClient returns a mock ActivityPub client.
func NewActivityPubClient() *ActivityPubClient {
	return &ActivityPubClient{
		actors:  make(map[string]*vocab.ActorType),
		objects: make(map[string]*vocab.ObjectType),
		inboxes: make(map[string]*url.URL),
	}
}

// WithActor adds the given actor to the mock client.
func (m *ActivityPubClient) WithActor(actor *vocab.ActorType) *ActivityPubClient {
	m.actors[actor.ID().String()] = actor

	if actor.Inbox() != nil {
		m.inboxes[actor.ID().String()] = actor.Inbox()
	}

	return m
}

// WithObject adds the given object to the mock client.
func (m *ActivityPubClient) WithObject(obj *vocab.ObjectType) *ActivityPubClient {
	m.objects[obj.ID().String()] = obj

	return m
}

// WithError injects an error into the mock client.
func (m *ActivityPubClient) WithError(err error) *ActivityPubClient {
	m.err = err

	return m
}

// FetchActor returns the actor for the given IRI.
func (m *ActivityPubClient) FetchActor(actorIRI *url.URL) (*vocab.ActorType, error) {
	if m.err != nil {
		return nil, m.err
	}

	actor, ok := m.actors[actorIRI.String()]
	if !ok {
		return nil, petrelerrors.NewNotFoundf("actor [%s] not found", actorIRI)
	}

	return actor, nil
}

// FetchAndStoreObject returns the object for the given IRI and records the fetch.
func (m *ActivityPubClient) FetchAndStoreObject(objectIRI *url.URL) (*vocab.ObjectType, error) {
	if m.err != nil {
		return nil, m.err
	}

	m.mutex.Lock()
	m.fetched = append(m.fetched, objectIRI)
	m.mutex.Unlock()

	obj, ok := m.objects[objectIRI.String()]
	if !ok {
		return nil, petrelerrors.NewNotFoundf("object [%s] not found", objectIRI)
	}

	return obj, nil
}

// FetchActorInboxIRI returns the inbox IRI of the actor with the given IRI.
func (m *ActivityPubClient) FetchActorInboxIRI(actorIRI *url.URL) (*url.URL, error) {
	if m.err != nil {
		return nil, m.err
	}

	inbox, ok := m.inboxes[actorIRI.String()]
	if !ok {
		return nil, petrelerrors.NewNotFoundf("actor [%s] not found", actorIRI)
	}

	return inbox, nil
}

// FetchSharedInboxForDomain returns the shared inbox of the given domain, or a
// NotFound error if no shared inbox was registered for the domain.
func (m *ActivityPubClient) FetchSharedInboxForDomain(domain string) (*url.URL, error) {
	if m.err != nil {
		return nil, m.err
	}

	inbox, ok := m.inboxes["shared:"+domain]
	if !ok {
		return nil, petrelerrors.NewNotFoundf("no shared inbox for domain [%s]", domain)
	}

	return inbox, nil
}

// WithSharedInbox registers a shared inbox for the given domain.
func (m *ActivityPubClient) WithSharedInbox(domain string, inbox *url.URL) *ActivityPubClient {
	m.inboxes["shared:"+domain] = inbox

	return m
}

// Fetched returns the IRIs of the objects that were fetched.
func (m *ActivityPubClient) Fetched() []*url.URL {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return append([]*url.URL{}, m.fetched...)
}
