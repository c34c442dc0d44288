/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package jsonld

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/bluele/gcache"
	"github.com/piprate/json-gold/ld"
	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/petrel-fed/petrel/internal/pkg/ldcontext"
	logfields "github.com/petrel-fed/petrel/internal/pkg/log"
)

var logger = log.New("jsonld")

const (
	defaultCacheSize         = 100
	defaultCacheExpiration   = 24 * time.Hour
	defaultFailureExpiration = time.Hour
)

// DocumentLoader resolves JSON-LD context documents. Contexts that ship with the
// server are answered from memory; all other contexts are fetched over HTTP and
// cached. Fetch failures are cached for a shorter period so that an unreachable
// host does not get hammered on every incoming activity.
type DocumentLoader struct {
	embedded map[string]*ld.RemoteDocument
	cache    gcache.Cache
}

type loaderOptions struct {
	cacheSize         int
	cacheExpiration   time.Duration
	failureExpiration time.Duration
	remoteLoader      ld.DocumentLoader
}

// LoaderOpt sets an option on the document loader.
type LoaderOpt func(opts *loaderOptions)

// WithCacheSize sets the maximum number of remote contexts held in the cache.
func WithCacheSize(size int) LoaderOpt {
	return func(opts *loaderOptions) {
		opts.cacheSize = size
	}
}

// WithCacheExpiration sets the expiry of successfully fetched remote contexts.
func WithCacheExpiration(expiration time.Duration) LoaderOpt {
	return func(opts *loaderOptions) {
		opts.cacheExpiration = expiration
	}
}

// WithFailureExpiration sets the expiry of cached fetch failures.
func WithFailureExpiration(expiration time.Duration) LoaderOpt {
	return func(opts *loaderOptions) {
		opts.failureExpiration = expiration
	}
}

// WithRemoteDocumentLoader sets the loader used to fetch contexts that are
// not embedded. Defaults to a loader that uses the given HTTP client.
func WithRemoteDocumentLoader(loader ld.DocumentLoader) LoaderOpt {
	return func(opts *loaderOptions) {
		opts.remoteLoader = loader
	}
}

// NewDocumentLoader returns a new document loader that is preloaded with the
// embedded contexts.
func NewDocumentLoader(httpClient *http.Client, opts ...LoaderOpt) (*DocumentLoader, error) {
	options := &loaderOptions{
		cacheSize:         defaultCacheSize,
		cacheExpiration:   defaultCacheExpiration,
		failureExpiration: defaultFailureExpiration,
	}

	for _, opt := range opts {
		opt(options)
	}

	remoteLoader := options.remoteLoader
	if remoteLoader == nil {
		remoteLoader = ld.NewDefaultDocumentLoader(httpClient)
	}

	embedded := make(map[string]*ld.RemoteDocument)

	for _, doc := range ldcontext.MustGetAll() {
		content, err := ld.DocumentFromReader(bytes.NewReader(doc.Content))
		if err != nil {
			return nil, fmt.Errorf("parse embedded context [%s]: %w", doc.URL, err)
		}

		embedded[doc.URL] = &ld.RemoteDocument{
			DocumentURL: doc.URL,
			Document:    content,
		}
	}

	l := &DocumentLoader{embedded: embedded}

	failureExpiration := options.failureExpiration

	l.cache = gcache.New(options.cacheSize).ARC().
		Expiration(options.cacheExpiration).
		LoaderExpireFunc(func(key interface{}) (interface{}, *time.Duration, error) {
			u := key.(string)

			doc, err := remoteLoader.LoadDocument(u)
			if err != nil {
				logger.Info("Error loading remote context. The failure will be cached.",
					logfields.WithURIString(u), log.WithError(err))

				return &cachedContext{err: err}, &failureExpiration, nil
			}

			logger.Debug("Loaded remote context", logfields.WithURIString(u))

			return &cachedContext{doc: doc}, nil, nil
		}).Build()

	return l, nil
}

type cachedContext struct {
	doc *ld.RemoteDocument
	err error
}

// LoadDocument loads the context document for the given URL.
func (l *DocumentLoader) LoadDocument(u string) (*ld.RemoteDocument, error) {
	if doc, ok := l.embedded[u]; ok {
		return doc, nil
	}

	result, err := l.cache.Get(u)
	if err != nil {
		return nil, fmt.Errorf("load context [%s]: %w", u, err)
	}

	cached := result.(*cachedContext)

	if cached.err != nil {
		return nil, fmt.Errorf("load context [%s]: %w", u, cached.err)
	}

	return cached.doc, nil
}
