/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package client fetches objects, actors and public keys from remote ActivityPub
// services. Actors, public keys and shared inbox locations are cached. Negative
// results are cached for a shorter period so that a deleted or missing document
// does not trigger a remote fetch on every reference to it.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bluele/gcache"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/petrel-fed/petrel/internal/pkg/log"
	"github.com/petrel-fed/petrel/pkg/activitypub/client/transport"
	"github.com/petrel-fed/petrel/pkg/activitypub/vocab"
	petrelerrors "github.com/petrel-fed/petrel/pkg/errors"
	"github.com/petrel-fed/petrel/pkg/iri"
)

var logger = log.New("activitypub-client")

const (
	defaultCacheSize               = 100
	defaultCacheExpiration         = 24 * time.Hour
	defaultNegativeCacheExpiration = time.Hour

	jsonContentType = "application/json"

	wellKnownNodeInfoPath = "/.well-known/nodeinfo"
	nodeInfoPath          = "/nodeinfo/2.0"
	nodeInfo20Schema      = "http://nodeinfo.diaspora.software/ns/schema/2.0"
	activityPubProtocol   = "activitypub"
)

// The actor types defined by ActivityPub. A fetched document with one of these
// types is stored as an actor, any other type as a content object.
var actorTypes = []vocab.Type{vocab.TypePerson, vocab.TypeService, vocab.TypeApplication, vocab.TypeGroup}

type httpTransport interface {
	Get(ctx context.Context, r *transport.Request) (*http.Response, error)
}

type objectStore interface {
	PutActor(actor *vocab.ActorType) error
	PutObject(obj *vocab.ObjectType) error
}

type jsonLDProcessor interface {
	Compact(doc map[string]interface{}) (map[string]interface{}, error)
}

// Config holds the configuration parameters for the client.
type Config struct {
	// CacheSize is the maximum number of entries held by each of the caches.
	CacheSize int

	// CacheExpiration is the expiration time of a cached actor, public key or
	// shared inbox location.
	CacheExpiration time.Duration

	// NegativeCacheExpiration is the expiration time of a cached 'not found' result.
	NegativeCacheExpiration time.Duration
}

// Client fetches documents from remote ActivityPub services over the given transport.
// Fetched documents are compacted to the standard context and their identifying IRIs
// are normalized before they are returned or stored.
type Client struct {
	Config

	transport httpTransport
	store     objectStore
	processor jsonLDProcessor

	actorCache       gcache.Cache
	publicKeyCache   gcache.Cache
	sharedInboxCache gcache.Cache
}

// cachedResult holds either a resolved value or the 'not found' error returned by a
// lookup. Caching the error avoids hitting the remote service on every request for a
// document that does not exist.
type cachedResult struct {
	value interface{}
	err   error
}

// New returns a client that fetches documents using the given transport and stores
// fetched actors and objects in the given store.
func New(cfg Config, t httpTransport, store objectStore, processor jsonLDProcessor) *Client {
	if cfg.CacheSize == 0 {
		cfg.CacheSize = defaultCacheSize
	}

	if cfg.CacheExpiration == 0 {
		cfg.CacheExpiration = defaultCacheExpiration
	}

	if cfg.NegativeCacheExpiration == 0 {
		cfg.NegativeCacheExpiration = defaultNegativeCacheExpiration
	}

	c := &Client{
		Config:    cfg,
		transport: t,
		store:     store,
		processor: processor,
	}

	c.actorCache = gcache.New(cfg.CacheSize).ARC().
		LoaderExpireFunc(func(key interface{}) (interface{}, *time.Duration, error) {
			return c.loadActor(key.(string))
		}).Build()

	c.publicKeyCache = gcache.New(cfg.CacheSize).ARC().
		LoaderExpireFunc(func(key interface{}) (interface{}, *time.Duration, error) {
			return c.loadPublicKey(key.(string))
		}).Build()

	c.sharedInboxCache = gcache.New(cfg.CacheSize).ARC().
		LoaderExpireFunc(func(key interface{}) (interface{}, *time.Duration, error) {
			return c.loadSharedInbox(key.(string))
		}).Build()

	return c
}

// FetchObject fetches the document at the given IRI and returns it as an object.
// The result is not cached.
func (c *Client) FetchObject(objectIRI *url.URL) (*vocab.ObjectType, error) {
	doc, err := c.fetchDoc(objectIRI)
	if err != nil {
		return nil, err
	}

	return unmarshalObject(doc, objectIRI)
}

// FetchAndStoreObject fetches the document at the given IRI and stores it. A document
// with an actor type is stored as an actor, any other document as a content object.
func (c *Client) FetchAndStoreObject(objectIRI *url.URL) (*vocab.ObjectType, error) {
	doc, err := c.fetchDoc(objectIRI)
	if err != nil {
		return nil, err
	}

	obj, err := unmarshalObject(doc, objectIRI)
	if err != nil {
		return nil, err
	}

	if obj.Type().IsAny(actorTypes...) {
		actor, err := unmarshalActor(doc, objectIRI)
		if err != nil {
			return nil, err
		}

		if err := c.store.PutActor(actor); err != nil {
			return nil, fmt.Errorf("store actor [%s]: %w", actor.ID(), err)
		}

		return obj, nil
	}

	if err := c.store.PutObject(obj); err != nil {
		return nil, fmt.Errorf("store object [%s]: %w", obj.ID(), err)
	}

	return obj, nil
}

// FetchActor fetches the actor at the given IRI. The result, including a 'not found'
// result, is cached.
func (c *Client) FetchActor(actorIRI *url.URL) (*vocab.ActorType, error) {
	result, err := c.actorCache.Get(iri.Normalize(actorIRI.String()))
	if err != nil {
		return nil, fmt.Errorf("fetch actor [%s]: %w", actorIRI, err)
	}

	r := result.(*cachedResult)

	if r.err != nil {
		return nil, r.err
	}

	return r.value.(*vocab.ActorType), nil
}

// FetchPublicKey fetches the public key with the given ID. A key ID with a fragment
// is resolved against the advertised keys of the owning actor, otherwise the key
// document is fetched directly. The result is cached.
func (c *Client) FetchPublicKey(keyIRI *url.URL) (*vocab.PublicKeyType, error) {
	result, err := c.publicKeyCache.Get(iri.Normalize(keyIRI.String()))
	if err != nil {
		return nil, fmt.Errorf("fetch public key [%s]: %w", keyIRI, err)
	}

	r := result.(*cachedResult)

	if r.err != nil {
		return nil, r.err
	}

	return r.value.(*vocab.PublicKeyType), nil
}

// FetchActorInboxIRI returns the inbox IRI declared by the actor at the given IRI.
func (c *Client) FetchActorInboxIRI(actorIRI *url.URL) (*url.URL, error) {
	actor, err := c.FetchActor(actorIRI)
	if err != nil {
		return nil, err
	}

	inboxIRI := actor.Inbox()
	if inboxIRI == nil {
		return nil, fmt.Errorf("actor [%s] does not declare an inbox", actorIRI)
	}

	return inboxIRI, nil
}

// FetchSharedInboxForDomain returns the shared inbox advertised by the given domain.
// The nodeinfo 2.0 document is first requested at its direct path and then discovered
// through the well-known document. The shared inbox is only accepted if the domain
// advertises the activitypub protocol. The result is cached.
func (c *Client) FetchSharedInboxForDomain(domain string) (*url.URL, error) {
	if domain == "" {
		return nil, errors.New("domain is required")
	}

	result, err := c.sharedInboxCache.Get(strings.ToLower(domain))
	if err != nil {
		return nil, fmt.Errorf("fetch shared inbox for domain [%s]: %w", domain, err)
	}

	r := result.(*cachedResult)

	if r.err != nil {
		return nil, r.err
	}

	return r.value.(*url.URL), nil
}

func (c *Client) loadActor(key string) (interface{}, *time.Duration, error) {
	actorIRI, err := url.Parse(key)
	if err != nil {
		return nil, nil, fmt.Errorf("parse actor IRI [%s]: %w", key, err)
	}

	actor, err := c.fetchActor(actorIRI)
	if err != nil {
		if !petrelerrors.IsNotFound(err) {
			// Transient failures are not cached so that the next request retries the fetch.
			return nil, nil, err
		}

		logger.Debug("Actor not found. Caching the negative result.",
			logfields.WithActorIRI(actorIRI), log.WithError(err))

		return &cachedResult{err: err}, &c.NegativeCacheExpiration, nil
	}

	return &cachedResult{value: actor}, &c.CacheExpiration, nil
}

func (c *Client) loadPublicKey(key string) (interface{}, *time.Duration, error) {
	keyIRI, err := url.Parse(key)
	if err != nil {
		return nil, nil, fmt.Errorf("parse key IRI [%s]: %w", key, err)
	}

	publicKey, err := c.fetchPublicKey(keyIRI)
	if err != nil {
		if !petrelerrors.IsNotFound(err) {
			return nil, nil, err
		}

		logger.Debug("Public key not found. Caching the negative result.",
			logfields.WithKeyID(key), log.WithError(err))

		return &cachedResult{err: err}, &c.NegativeCacheExpiration, nil
	}

	return &cachedResult{value: publicKey}, &c.CacheExpiration, nil
}

func (c *Client) loadSharedInbox(domain string) (interface{}, *time.Duration, error) {
	inboxIRI, err := c.resolveSharedInbox(domain)
	if err != nil {
		if !petrelerrors.IsNotFound(err) {
			return nil, nil, err
		}

		logger.Debug("No shared inbox resolved for domain. Caching the negative result.",
			logfields.WithDomain(domain), log.WithError(err))

		return &cachedResult{err: err}, &c.NegativeCacheExpiration, nil
	}

	return &cachedResult{value: inboxIRI}, &c.CacheExpiration, nil
}

func (c *Client) fetchActor(actorIRI *url.URL) (*vocab.ActorType, error) {
	doc, err := c.fetchDoc(actorIRI)
	if err != nil {
		return nil, err
	}

	return unmarshalActor(doc, actorIRI)
}

func (c *Client) fetchPublicKey(keyIRI *url.URL) (*vocab.PublicKeyType, error) {
	if keyIRI.Fragment != "" {
		ownerIRI := *keyIRI
		ownerIRI.Fragment = ""
		ownerIRI.RawFragment = ""

		actor, err := c.FetchActor(&ownerIRI)
		if err != nil {
			return nil, fmt.Errorf("fetch actor [%s]: %w", &ownerIRI, err)
		}

		publicKey := advertisedKey(actor, keyIRI)
		if publicKey == nil {
			return nil, petrelerrors.NewNotFoundf("actor [%s] does not advertise public key [%s]",
				actor.ID(), keyIRI)
		}

		return publicKey, nil
	}

	doc, err := c.fetchDoc(keyIRI)
	if err != nil {
		return nil, err
	}

	docBytes, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document from [%s]: %w", keyIRI, err)
	}

	publicKey := &vocab.PublicKeyType{}

	if err := json.Unmarshal(docBytes, publicKey); err != nil {
		return nil, fmt.Errorf("invalid public key document at [%s]: %w", keyIRI, err)
	}

	if publicKey.PublicKeyPem == "" {
		return nil, petrelerrors.NewNotFoundf("document at [%s] does not contain a public key", keyIRI)
	}

	return publicKey, nil
}

func (c *Client) resolveSharedInbox(domain string) (*url.URL, error) {
	directURL, err := url.Parse(fmt.Sprintf("https://%s%s", domain, nodeInfoPath))
	if err != nil {
		return nil, fmt.Errorf("invalid domain [%s]: %w", domain, err)
	}

	inboxIRI, err := c.sharedInboxFromNodeInfo(directURL)
	if err == nil {
		return inboxIRI, nil
	}

	if petrelerrors.IsTransient(err) {
		return nil, err
	}

	logger.Debug("No nodeinfo document at the direct path. Falling back to well-known discovery.",
		logfields.WithDomain(domain), log.WithError(err))

	return c.sharedInboxFromWellKnown(domain)
}

func (c *Client) sharedInboxFromNodeInfo(niURL *url.URL) (*url.URL, error) {
	respBytes, err := c.get(niURL, jsonContentType)
	if err != nil {
		return nil, err
	}

	ni := &nodeInfo{}

	if err := json.Unmarshal(respBytes, ni); err != nil {
		return nil, fmt.Errorf("invalid nodeinfo document at [%s]: %w", niURL, err)
	}

	if !contains(ni.Protocols, activityPubProtocol) {
		return nil, petrelerrors.NewNotFoundf("nodeinfo at [%s] does not advertise the %s protocol",
			niURL, activityPubProtocol)
	}

	if ni.Usage.SharedInboxURL == "" {
		return nil, petrelerrors.NewNotFoundf("nodeinfo at [%s] does not advertise a shared inbox", niURL)
	}

	inboxIRI, err := url.Parse(iri.Normalize(ni.Usage.SharedInboxURL))
	if err != nil {
		return nil, fmt.Errorf("invalid shared inbox URL [%s] at [%s]: %w", ni.Usage.SharedInboxURL, niURL, err)
	}

	return inboxIRI, nil
}

func (c *Client) sharedInboxFromWellKnown(domain string) (*url.URL, error) {
	wkURL, err := url.Parse(fmt.Sprintf("https://%s%s", domain, wellKnownNodeInfoPath))
	if err != nil {
		return nil, fmt.Errorf("invalid domain [%s]: %w", domain, err)
	}

	respBytes, err := c.get(wkURL, jsonContentType)
	if err != nil {
		return nil, err
	}

	links := &nodeInfoLinks{}

	if err := json.Unmarshal(respBytes, links); err != nil {
		return nil, fmt.Errorf("invalid nodeinfo links document at [%s]: %w", wkURL, err)
	}

	for _, link := range links.Links {
		if link.Rel != nodeInfo20Schema {
			continue
		}

		niURL, err := url.Parse(link.Href)
		if err != nil {
			logger.Warn("Ignoring invalid nodeinfo link", logfields.WithDomain(domain),
				logfields.WithValue(link.Href), log.WithError(err))

			continue
		}

		return c.sharedInboxFromNodeInfo(niURL)
	}

	return nil, petrelerrors.NewNotFoundf("domain [%s] does not advertise a nodeinfo 2.0 document", domain)
}

// fetchDoc fetches the document at the given IRI, compacts it to the standard context
// and normalizes its identifying IRIs.
func (c *Client) fetchDoc(docIRI *url.URL) (map[string]interface{}, error) {
	respBytes, err := c.get(docIRI, transport.ActivityStreamsAccept)
	if err != nil {
		return nil, err
	}

	var doc map[string]interface{}

	if err := json.Unmarshal(respBytes, &doc); err != nil {
		return nil, fmt.Errorf("invalid document at [%s]: %w", docIRI, err)
	}

	compacted, err := c.processor.Compact(doc)
	if err != nil {
		return nil, fmt.Errorf("compact document at [%s]: %w", docIRI, err)
	}

	normalizeIDs(compacted)

	return compacted, nil
}

func (c *Client) get(toURL *url.URL, accept string) ([]byte, error) {
	resp, err := c.transport.Get(context.Background(),
		transport.NewRequest(toURL, transport.WithHeader(transport.AcceptHeader, accept)))
	if err != nil {
		return nil, fmt.Errorf("request to [%s]: %w", toURL, err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Warn("Error closing response body", logfields.WithRequestURL(toURL), log.WithError(err))
		}
	}()

	logger.Debug("Got response", logfields.WithRequestURL(toURL), logfields.WithStatus(resp.Status))

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, petrelerrors.NewNotFoundf("object not found at [%s]", toURL)
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, petrelerrors.NewTransientf("status code %d from [%s]", resp.StatusCode, toURL)
	default:
		return nil, fmt.Errorf("request to [%s] returned status code %d", toURL, resp.StatusCode)
	}

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, petrelerrors.NewTransient(fmt.Errorf("read response from [%s]: %w", toURL, err))
	}

	return respBytes, nil
}

func unmarshalObject(doc map[string]interface{}, from fmt.Stringer) (*vocab.ObjectType, error) {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document from [%s]: %w", from, err)
	}

	obj := &vocab.ObjectType{}

	if err := json.Unmarshal(docBytes, obj); err != nil {
		return nil, fmt.Errorf("invalid document at [%s]: %w", from, err)
	}

	if obj.ID() == nil {
		return nil, fmt.Errorf("document at [%s] has no id", from)
	}

	return obj, nil
}

func unmarshalActor(doc map[string]interface{}, from fmt.Stringer) (*vocab.ActorType, error) {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document from [%s]: %w", from, err)
	}

	actor := &vocab.ActorType{}

	if err := json.Unmarshal(docBytes, actor); err != nil {
		return nil, fmt.Errorf("invalid actor document at [%s]: %w", from, err)
	}

	if actor.ID() == nil {
		return nil, fmt.Errorf("actor document at [%s] has no id", from)
	}

	if !actor.Type().IsAny(actorTypes...) {
		return nil, fmt.Errorf("document at [%s] is not an actor", from)
	}

	return actor, nil
}

// normalizeIDs rewrites the identifying IRIs of a fetched document to their normalized
// form so that store keys and cache keys compare equal across equivalent references.
func normalizeIDs(doc map[string]interface{}) {
	for _, field := range []string{"id", "actor", "attributedTo"} {
		if value, ok := doc[field].(string); ok {
			doc[field] = iri.Normalize(value)
		}
	}

	switch obj := doc["object"].(type) {
	case string:
		doc["object"] = iri.Normalize(obj)
	case map[string]interface{}:
		normalizeIDs(obj)
	}
}

// advertisedKey returns the public key with the given ID from the actor's advertised
// keys. A single advertised key without an ID is assumed to be the actor's main key.
func advertisedKey(actor *vocab.ActorType, keyIRI *url.URL) *vocab.PublicKeyType {
	keys := actor.PublicKeys()

	if len(keys) == 1 && keys[0].ID == nil {
		return keys[0]
	}

	for _, key := range keys {
		if key.ID != nil && iri.Equal(key.ID.String(), keyIRI.String()) {
			return key
		}
	}

	return nil
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}

	return false
}

type nodeInfo struct {
	Protocols []string      `json:"protocols"`
	Usage     nodeInfoUsage `json:"usage"`
}

type nodeInfoUsage struct {
	SharedInboxURL string `json:"sharedInboxUrl"`
}

type nodeInfoLinks struct {
	Links []nodeInfoLink `json:"links"`
}

type nodeInfoLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}
