/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hyperledger/aries-framework-go-ext/component/storage/mongodb"
	"github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/trustbloc/logutil-go/pkg/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	mongoopts "go.mongodb.org/mongo-driver/mongo/options"

	logfields "github.com/petrel-fed/petrel/internal/pkg/log"
)

var logger = log.New("store")

const idField = "_id"

// TagGroup defines a group of tags from which a compound index may be created.
type TagGroup []string

// NewTagGroup is a convenience function that returns a TagGroup from the given set of tags.
func NewTagGroup(tags ...string) TagGroup {
	return tags
}

// Open opens the store for the given namespace and creates the necessary indexes.
// If the provider exposes a vendor-specific API (currently only MongoDB) then the
// returned store uses that API in order to optimize reads and writes.
func Open(provider storage.Provider, namespace string, tagGroups ...TagGroup) (storage.Store, error) {
	store, err := provider.OpenStore(namespace)
	if err != nil {
		return nil, fmt.Errorf("open store [%s]: %w", namespace, err)
	}

	if mp, ok := provider.(mongoDBProvider); ok {
		logger.Info("Using MongoDB optimized interface", logfields.WithStoreName(namespace))

		ms := newMongoDBStore(namespace, mp, store)

		if err := ms.createIndexes(tagGroups); err != nil {
			return nil, fmt.Errorf("create MongoDB indexes: %w", err)
		}

		return ms, nil
	}

	err = provider.SetStoreConfig(namespace, storage.StoreConfiguration{TagNames: uniqueTags(tagGroups)})
	if err != nil {
		return nil, fmt.Errorf("set store configuration for [%s]: %w", namespace, err)
	}

	return store, nil
}

// mongoDBAPI contains the vendor-specific functions implemented by the MongoDB storage component.
type mongoDBAPI interface {
	PutAsJSON(key string, value interface{}) error
	BulkWrite(models []mongo.WriteModel, opts ...*mongoopts.BulkWriteOptions) error
	GetAsRawMap(id string) (map[string]interface{}, error)
	GetBulkAsRawMap(ids ...string) ([]map[string]interface{}, error)
	QueryCustom(filter interface{}, options ...*mongoopts.FindOptions) (mongodb.Iterator, error)
	CreateMongoDBFindOptions(options []storage.QueryOption, isJSONQuery bool) *mongoopts.FindOptions
}

type mongoDBProvider interface {
	CreateCustomIndexes(storeName string, model ...mongo.IndexModel) error
}

// mongoDBStore is a storage.Store that bypasses the generic tag-based API and stores
// documents natively, so that tag values become indexable document fields.
type mongoDBStore struct {
	namespace string
	provider  mongoDBProvider
	store     storage.Store
	api       mongoDBAPI
	marshal   func(v interface{}) ([]byte, error)
}

func newMongoDBStore(namespace string, provider mongoDBProvider, store storage.Store) *mongoDBStore {
	api, ok := store.(mongoDBAPI)
	if !ok {
		// If this happens then it's a bug.
		panic(fmt.Errorf("expecting MongoDB store for [%s]", namespace))
	}

	return &mongoDBStore{
		namespace: namespace,
		provider:  provider,
		store:     store,
		api:       api,
		marshal:   json.Marshal,
	}
}

func (s *mongoDBStore) createIndexes(tagGroups []TagGroup) error {
	for _, tagGroup := range tagGroups {
		logger.Info("Creating MongoDB index", logfields.WithStoreName(s.namespace),
			logfields.WithTags(tagGroup...))

		keys := make(bson.D, len(tagGroup))

		for i, tag := range tagGroup {
			keys[i] = bson.E{Key: tag, Value: 1}
		}

		err := s.provider.CreateCustomIndexes(s.namespace, mongo.IndexModel{Keys: keys})
		if err != nil {
			return fmt.Errorf("create index for [%s]: %w", s.namespace, err)
		}
	}

	return nil
}

// Put persists the given key-value pair. The value must be a JSON document. Tags are
// unused since the document fields themselves are indexed.
func (s *mongoDBStore) Put(key string, value []byte, _ ...storage.Tag) error {
	var doc map[string]interface{}

	if err := json.Unmarshal(value, &doc); err != nil {
		return fmt.Errorf("unmarshal document [%s-%s]: %w", s.namespace, key, err)
	}

	if err := s.api.PutAsJSON(key, doc); err != nil {
		return fmt.Errorf("put as JSON failed [%s-%s]: %w", s.namespace, key, err)
	}

	return nil
}

// Get returns the value for the given key.
func (s *mongoDBStore) Get(key string) ([]byte, error) {
	doc, err := s.api.GetAsRawMap(key)
	if err != nil {
		return nil, fmt.Errorf("get [%s-%s]: %w", s.namespace, key, err)
	}

	delete(doc, idField)

	return s.marshal(doc)
}

// GetBulk returns the values for the given keys. The returned value is nil for each
// key that has no value in the store.
func (s *mongoDBStore) GetBulk(keys ...string) ([][]byte, error) {
	docs, err := s.api.GetBulkAsRawMap(keys...)
	if err != nil {
		return nil, fmt.Errorf("get bulk for [%s]: %w", s.namespace, err)
	}

	docsBytes := make([][]byte, len(docs))

	for i, doc := range docs {
		if doc == nil {
			continue
		}

		delete(doc, idField)

		docBytes, err := s.marshal(doc)
		if err != nil {
			return nil, err
		}

		docsBytes[i] = docBytes
	}

	return docsBytes, nil
}

// Query searches the store using the given expression and returns an iterator over
// the results.
func (s *mongoDBStore) Query(expression string, options ...storage.QueryOption) (storage.Iterator, error) {
	filter, err := mongodb.PrepareFilter(strings.Split(expression, "&&"), true)
	if err != nil {
		return nil, fmt.Errorf("convert expression [%s] to MongoDB filter: %w", expression, err)
	}

	iterator, err := s.api.QueryCustom(filter, s.api.CreateMongoDBFindOptions(options, true))
	if err != nil {
		return nil, fmt.Errorf("query MongoDB store [%s] - expression [%s]: %w",
			s.namespace, expression, err)
	}

	return newMongoDBIterator(iterator), nil
}

// Batch performs multiple Put and/or Delete operations in order.
func (s *mongoDBStore) Batch(operations []storage.Operation) error {
	writeModels := make([]mongo.WriteModel, len(operations))

	for i, op := range operations {
		if len(op.Value) == 0 {
			writeModels[i] = mongo.NewDeleteOneModel().SetFilter(bson.M{idField: op.Key})

			continue
		}

		var doc map[string]interface{}

		decoder := json.NewDecoder(bytes.NewReader(op.Value))
		decoder.UseNumber()

		if err := decoder.Decode(&doc); err != nil {
			return fmt.Errorf("unmarshal document [%s-%s]: %w", s.namespace, op.Key, err)
		}

		doc[idField] = op.Key

		if op.PutOptions != nil && op.PutOptions.IsNewKey {
			writeModels[i] = mongo.NewInsertOneModel().SetDocument(doc)
		} else {
			writeModels[i] = mongo.NewReplaceOneModel().SetFilter(bson.M{idField: op.Key}).
				SetReplacement(doc).
				SetUpsert(true)
		}
	}

	if err := s.api.BulkWrite(writeModels); err != nil {
		return fmt.Errorf("bulk write failed for [%s]: %w", s.namespace, err)
	}

	return nil
}

// GetTags returns the tags for the given key.
func (s *mongoDBStore) GetTags(string) ([]storage.Tag, error) {
	panic("not implemented")
}

// Delete deletes the key-value pair associated with key.
func (s *mongoDBStore) Delete(key string) error {
	return s.store.Delete(key)
}

// Flush forces any queued up Put and/or Delete operations to execute.
func (s *mongoDBStore) Flush() error {
	return s.store.Flush()
}

// Close closes this store, freeing resources.
func (s *mongoDBStore) Close() error {
	return s.store.Close()
}

type mongoDBIterator struct {
	mongodb.Iterator
	marshal func(v interface{}) ([]byte, error)
}

func newMongoDBIterator(it mongodb.Iterator) *mongoDBIterator {
	return &mongoDBIterator{
		Iterator: it,
		marshal:  json.Marshal,
	}
}

func (it *mongoDBIterator) Value() ([]byte, error) {
	doc, err := it.ValueAsRawMap()
	if err != nil {
		return nil, err
	}

	delete(doc, idField)

	value, err := it.marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}

	return value, nil
}

func uniqueTags(tagGroups []TagGroup) []string {
	var tags []string

	for _, tagGroup := range tagGroups {
		for _, tag := range tagGroup {
			if !contains(tags, tag) {
				tags = append(tags, tag)
			}
		}
	}

	return tags
}

func contains(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}

	return false
}
