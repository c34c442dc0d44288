/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package storeutil

import (
	"errors"
	"hash/fnv"
	"net/url"
	"sync"

	"github.com/petrel-fed/petrel/pkg/activitypub/store/spi"
	"github.com/petrel-fed/petrel/pkg/activitypub/vocab"
)

// GetQueryOptions populates and returns the QueryOptions struct with the given options.
func GetQueryOptions(opts ...spi.QueryOpt) *spi.QueryOptions {
	options := &spi.QueryOptions{
		PageNumber: -1,
		PageSize:   -1,
		SortOrder:  spi.SortDescending,
	}

	for _, opt := range opts {
		opt(options)
	}

	return options
}

// GetRefMetadata populates and returns the RefMetadata struct with the given options.
func GetRefMetadata(opts ...spi.RefMetadataOpt) *spi.RefMetadata {
	metadata := &spi.RefMetadata{}

	for _, opt := range opts {
		opt(metadata)
	}

	return metadata
}

// ReadReferences reads the references from the given iterator up to a maximum number
// specified by maxItems. If maxItems <= 0 then all references are read.
func ReadReferences(it spi.ReferenceIterator, maxItems int) ([]*url.URL, error) {
	var refs []*url.URL

	for maxItems <= 0 || len(refs) < maxItems {
		ref, err := it.Next()
		if err != nil {
			if errors.Is(err, spi.ErrNotFound) {
				break
			}

			return nil, err
		}

		refs = append(refs, ref)
	}

	return refs, nil
}

// ReplaceIRI replaces every string value in the given document that is equal to
// oldIRI with newIRI. Nested objects and arrays are traversed. Returns true if
// at least one value was replaced.
func ReplaceIRI(doc vocab.Document, oldIRI, newIRI string) bool {
	return replaceInMap(doc, oldIRI, newIRI)
}

func replaceInMap(m map[string]interface{}, oldIRI, newIRI string) bool {
	replaced := false

	for k, v := range m {
		newValue, ok := replaceInValue(v, oldIRI, newIRI)
		if ok {
			m[k] = newValue
			replaced = true
		}
	}

	return replaced
}

func replaceInValue(value interface{}, oldIRI, newIRI string) (interface{}, bool) {
	switch v := value.(type) {
	case string:
		if v == oldIRI {
			return newIRI, true
		}
	case map[string]interface{}:
		if replaceInMap(v, oldIRI, newIRI) {
			return v, true
		}
	case []interface{}:
		replaced := false

		for i, item := range v {
			newItem, ok := replaceInValue(item, oldIRI, newIRI)
			if ok {
				v[i] = newItem
				replaced = true
			}
		}

		if replaced {
			return v, true
		}
	}

	return value, false
}

const pairLockStripes = 64

// PairLock serializes functions that operate on a pair of IRIs. Functions given
// the same pair are executed one at a time. Pairs that hash to the same stripe
// share a lock.
type PairLock struct {
	stripes [pairLockStripes]sync.Mutex
}

// NewPairLock returns a new PairLock.
func NewPairLock() *PairLock {
	return &PairLock{}
}

// Execute invokes fn while holding an exclusive lock on the given pair.
func (l *PairLock) Execute(iri1, iri2 *url.URL, fn func() error) error {
	stripe := &l.stripes[pairStripe(iri1, iri2)]

	stripe.Lock()
	defer stripe.Unlock()

	return fn()
}

func pairStripe(iri1, iri2 *url.URL) uint32 {
	h := fnv.New32a()

	h.Write([]byte(iri1.String() + "|" + iri2.String())) //nolint:errcheck,gosec

	return h.Sum32() % pairLockStripes
}
