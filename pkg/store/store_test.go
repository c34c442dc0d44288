/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package store

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/hyperledger/aries-framework-go-ext/component/storage/mongodb"
	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/hyperledger/aries-framework-go/component/storageutil/mock"
	"github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	mongoopts "go.mongodb.org/mongo-driver/mongo/options"
)

const (
	tag1 = "tag1"
	tag2 = "tag2"
	tag3 = "tag3"
)

func TestOpen(t *testing.T) {
	t.Run("Standard store", func(t *testing.T) {
		t.Run("Success", func(t *testing.T) {
			provider := mem.NewProvider()

			s, err := Open(provider, "store1",
				NewTagGroup(tag1, tag2),
				NewTagGroup(tag2, tag3),
			)
			require.NoError(t, err)
			require.NotNil(t, s)

			cfg, err := provider.GetStoreConfig("store1")
			require.NoError(t, err)
			require.Equal(t, []string{tag1, tag2, tag3}, cfg.TagNames)
		})

		t.Run("SetStoreConfig error", func(t *testing.T) {
			errExpected := errors.New("injected SetStoreConfig error")

			provider := &mock.Provider{
				OpenStoreReturn:   &mock.Store{},
				ErrSetStoreConfig: errExpected,
			}

			s, err := Open(provider, "store1", NewTagGroup(tag1))
			require.Error(t, err)
			require.Contains(t, err.Error(), errExpected.Error())
			require.Nil(t, s)
		})
	})

	t.Run("MongoDB store", func(t *testing.T) {
		t.Run("No tags -> success", func(t *testing.T) {
			provider := &mockMongoDBProvider{openStoreReturn: &mockMongoDBStore{}}

			s, err := Open(provider, "store1")
			require.NoError(t, err)
			require.NotNil(t, s)
			require.Empty(t, provider.indexModels)
		})

		t.Run("With tags -> success", func(t *testing.T) {
			provider := &mockMongoDBProvider{openStoreReturn: &mockMongoDBStore{}}

			s, err := Open(provider, "store1",
				NewTagGroup(tag1, tag2),
				NewTagGroup(tag3),
			)
			require.NoError(t, err)
			require.NotNil(t, s)
			require.Len(t, provider.indexModels, 2)
		})

		t.Run("Non-MongoDB store for MongoDB provider -> panic", func(t *testing.T) {
			provider := &mockMongoDBProvider{openStoreReturn: &mock.Store{}}

			require.Panics(t, func() {
				_, err := Open(provider, "store1", NewTagGroup(tag1))
				require.NoError(t, err)
			})
		})

		t.Run("CreateCustomIndexes error", func(t *testing.T) {
			errExpected := errors.New("injected CreateCustomIndexes error")

			provider := &mockMongoDBProvider{
				openStoreReturn:  &mockMongoDBStore{},
				errCreateIndexes: errExpected,
			}

			s, err := Open(provider, "store1", NewTagGroup(tag1))
			require.Error(t, err)
			require.Contains(t, err.Error(), errExpected.Error())
			require.Nil(t, s)
		})
	})

	t.Run("OpenStore error", func(t *testing.T) {
		errExpected := errors.New("injected OpenStore error")

		provider := &mock.Provider{ErrOpenStore: errExpected}

		s, err := Open(provider, "store1", NewTagGroup(tag1))
		require.Error(t, err)
		require.Contains(t, err.Error(), errExpected.Error())
		require.Nil(t, s)
	})
}

func TestMongoDBPut(t *testing.T) {
	ms := &mockMongoDBStore{}

	s, err := Open(&mockMongoDBProvider{openStoreReturn: ms}, "store1")
	require.NoError(t, err)
	require.NotNil(t, s)

	const key = "key1"

	t.Run("Success", func(t *testing.T) {
		require.NoError(t, s.Put(key, []byte(`{"field1":"value1"}`)))
		require.Equal(t, map[string]interface{}{"field1": "value1"}, ms.putAsJSONDocs[key])
	})

	t.Run("Unmarshal error", func(t *testing.T) {
		require.Error(t, s.Put(key, []byte(`{`)))
	})

	t.Run("PutAsJSON error", func(t *testing.T) {
		errExpected := errors.New("injected PutAsJSON error")

		ms.errPutAsJSON = errExpected
		defer func() { ms.errPutAsJSON = nil }()

		err := s.Put(key, []byte(`{}`))
		require.Error(t, err)
		require.Contains(t, err.Error(), errExpected.Error())
	})
}

func TestMongoDBGet(t *testing.T) {
	ms := &mockMongoDBStore{}

	s, err := Open(&mockMongoDBProvider{openStoreReturn: ms}, "store1")
	require.NoError(t, err)
	require.NotNil(t, s)

	const key = "key1"

	t.Run("Success", func(t *testing.T) {
		ms.getAsRawMapReturn = map[string]interface{}{idField: key, "field1": "value1"}

		docBytes, err := s.Get(key)
		require.NoError(t, err)
		require.NotEmpty(t, docBytes)

		var doc map[string]interface{}
		require.NoError(t, json.Unmarshal(docBytes, &doc))
		require.Equal(t, "value1", doc["field1"])

		// The MongoDB document ID is stripped from the returned value.
		require.NotContains(t, doc, idField)
	})

	t.Run("Marshal error", func(t *testing.T) {
		errExpected := errors.New("injected marshal error")

		s.(*mongoDBStore).marshal = func(v interface{}) ([]byte, error) {
			return nil, errExpected
		}
		defer func() { s.(*mongoDBStore).marshal = json.Marshal }()

		docBytes, err := s.Get(key)
		require.Error(t, err)
		require.Contains(t, err.Error(), errExpected.Error())
		require.Empty(t, docBytes)
	})

	t.Run("GetAsRawMap error", func(t *testing.T) {
		errExpected := errors.New("injected GetAsRawMap error")

		ms.errGetAsRawMap = errExpected
		defer func() { ms.errGetAsRawMap = nil }()

		docBytes, err := s.Get(key)
		require.Error(t, err)
		require.Contains(t, err.Error(), errExpected.Error())
		require.Empty(t, docBytes)
	})
}

func TestMongoDBGetBulk(t *testing.T) {
	ms := &mockMongoDBStore{}

	s, err := Open(&mockMongoDBProvider{openStoreReturn: ms}, "store1")
	require.NoError(t, err)
	require.NotNil(t, s)

	const (
		key1 = "key1"
		key2 = "key2"
		key3 = "key3"
	)

	t.Run("Success", func(t *testing.T) {
		ms.getBulkAsRawMapReturn = []map[string]interface{}{
			{key1: "value1"},
			nil,
			{key3: "value3"},
		}

		docsBytes, err := s.GetBulk(key1, key2, key3)
		require.NoError(t, err)
		require.Len(t, docsBytes, 3)

		var doc map[string]interface{}

		require.NoError(t, json.Unmarshal(docsBytes[0], &doc))
		require.Equal(t, "value1", doc[key1])

		// A key with no corresponding document results in a nil entry.
		require.Nil(t, docsBytes[1])

		require.NoError(t, json.Unmarshal(docsBytes[2], &doc))
		require.Equal(t, "value3", doc[key3])
	})

	t.Run("Marshal error", func(t *testing.T) {
		errExpected := errors.New("injected marshal error")

		s.(*mongoDBStore).marshal = func(v interface{}) ([]byte, error) {
			return nil, errExpected
		}
		defer func() { s.(*mongoDBStore).marshal = json.Marshal }()

		docsBytes, err := s.GetBulk(key1, key2)
		require.Error(t, err)
		require.Contains(t, err.Error(), errExpected.Error())
		require.Empty(t, docsBytes)
	})

	t.Run("GetBulkAsRawMap error", func(t *testing.T) {
		errExpected := errors.New("injected GetBulkAsRawMap error")

		ms.errGetBulkAsRawMap = errExpected
		defer func() { ms.errGetBulkAsRawMap = nil }()

		docsBytes, err := s.GetBulk(key1, key2)
		require.Error(t, err)
		require.Contains(t, err.Error(), errExpected.Error())
		require.Empty(t, docsBytes)
	})
}

func TestMongoDBQuery(t *testing.T) {
	ms := &mockMongoDBStore{}

	s, err := Open(&mockMongoDBProvider{openStoreReturn: ms}, "store1")
	require.NoError(t, err)
	require.NotNil(t, s)

	t.Run("Success", func(t *testing.T) {
		ms.queryCustomReturn = &mockMongoDBIterator{
			nextReturn:          true,
			valueAsRawMapReturn: map[string]interface{}{idField: "key1", "field1": "value1"},
		}

		it, err := s.Query("field1:value1")
		require.NoError(t, err)
		require.NotNil(t, it)

		ok, err := it.Next()
		require.NoError(t, err)
		require.True(t, ok)

		value, err := it.Value()
		require.NoError(t, err)
		require.NotEmpty(t, value)

		var doc map[string]interface{}

		require.NoError(t, json.Unmarshal(value, &doc))
		require.Equal(t, "value1", doc["field1"])
		require.NotContains(t, doc, idField)
	})

	t.Run("Invalid expression", func(t *testing.T) {
		it, err := s.Query(">")
		require.Error(t, err)
		require.Contains(t, err.Error(), "invalid syntax")
		require.Nil(t, it)
	})

	t.Run("QueryCustom error", func(t *testing.T) {
		errExpected := errors.New("injected QueryCustom error")

		ms.queryCustomReturn = nil
		ms.errQueryCustom = errExpected

		defer func() { ms.errQueryCustom = nil }()

		it, err := s.Query("field1:value1")
		require.Error(t, err)
		require.Contains(t, err.Error(), errExpected.Error())
		require.Nil(t, it)
	})

	t.Run("ValueAsRawMap error", func(t *testing.T) {
		errExpected := errors.New("injected ValueAsRawMap error")

		ms.queryCustomReturn = &mockMongoDBIterator{
			nextReturn:       true,
			errValueAsRawMap: errExpected,
		}

		it, err := s.Query("field1:value1")
		require.NoError(t, err)
		require.NotNil(t, it)

		_, err = it.Value()
		require.Error(t, err)
		require.Contains(t, err.Error(), errExpected.Error())
	})

	t.Run("Marshal error", func(t *testing.T) {
		errExpected := errors.New("injected marshal error")

		ms.queryCustomReturn = &mockMongoDBIterator{
			nextReturn:          true,
			valueAsRawMapReturn: map[string]interface{}{"field1": "value1"},
		}

		it, err := s.Query("field1:value1")
		require.NoError(t, err)
		require.NotNil(t, it)

		it.(*mongoDBIterator).marshal = func(v interface{}) ([]byte, error) {
			return nil, errExpected
		}

		_, err = it.Value()
		require.Error(t, err)
		require.Contains(t, err.Error(), errExpected.Error())
	})
}

func TestMongoDBBatch(t *testing.T) {
	ms := &mockMongoDBStore{}

	s, err := Open(&mockMongoDBProvider{openStoreReturn: ms}, "store1")
	require.NoError(t, err)
	require.NotNil(t, s)

	const (
		key1 = "key1"
		key2 = "key2"
		key3 = "key3"
	)

	t.Run("Success", func(t *testing.T) {
		require.NoError(t, s.Batch([]storage.Operation{
			{
				Key:   key1,
				Value: []byte(`{"field1":"value1"}`),
			},
			{
				Key:        key2,
				Value:      []byte(`{"field1":"value2"}`),
				PutOptions: &storage.PutOptions{IsNewKey: true},
			},
			{
				Key: key3,
			},
		}))

		require.Len(t, ms.bulkWriteModels, 3)
		require.IsType(t, &mongo.ReplaceOneModel{}, ms.bulkWriteModels[0])
		require.IsType(t, &mongo.InsertOneModel{}, ms.bulkWriteModels[1])
		require.IsType(t, &mongo.DeleteOneModel{}, ms.bulkWriteModels[2])
	})

	t.Run("Unmarshal error", func(t *testing.T) {
		require.Error(t, s.Batch([]storage.Operation{
			{
				Key:   key1,
				Value: []byte(`{`),
			},
		}))
	})

	t.Run("BulkWrite error", func(t *testing.T) {
		errExpected := errors.New("injected BulkWrite error")

		ms.errBulkWrite = errExpected
		defer func() { ms.errBulkWrite = nil }()

		err := s.Batch([]storage.Operation{
			{
				Key:   key1,
				Value: []byte(`{"field1":"value1"}`),
			},
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), errExpected.Error())
	})
}

func TestMongoDBGetTags(t *testing.T) {
	s, err := Open(&mockMongoDBProvider{openStoreReturn: &mockMongoDBStore{}}, "store1")
	require.NoError(t, err)
	require.NotNil(t, s)

	require.Panics(t, func() {
		_, err := s.GetTags("key")
		require.NoError(t, err)
	})
}

func TestMongoDBDelegates(t *testing.T) {
	s, err := Open(&mockMongoDBProvider{openStoreReturn: &mockMongoDBStore{}}, "store1")
	require.NoError(t, err)
	require.NotNil(t, s)

	require.NoError(t, s.Delete("key1"))
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())
}

type mockMongoDBProvider struct {
	openStoreReturn  storage.Store
	errCreateIndexes error

	indexModels []mongo.IndexModel
}

func (m *mockMongoDBProvider) OpenStore(string) (storage.Store, error) {
	return m.openStoreReturn, nil
}

func (m *mockMongoDBProvider) SetStoreConfig(string, storage.StoreConfiguration) error {
	panic("implement me")
}

func (m *mockMongoDBProvider) GetStoreConfig(string) (storage.StoreConfiguration, error) {
	panic("implement me")
}

func (m *mockMongoDBProvider) GetOpenStores() []storage.Store {
	panic("implement me")
}

func (m *mockMongoDBProvider) Close() error {
	panic("implement me")
}

func (m *mockMongoDBProvider) CreateCustomIndexes(_ string, model ...mongo.IndexModel) error {
	if m.errCreateIndexes != nil {
		return m.errCreateIndexes
	}

	m.indexModels = append(m.indexModels, model...)

	return nil
}

type mockMongoDBStore struct {
	errPutAsJSON          error
	getAsRawMapReturn     map[string]interface{}
	errGetAsRawMap        error
	getBulkAsRawMapReturn []map[string]interface{}
	errGetBulkAsRawMap    error
	queryCustomReturn     mongodb.Iterator
	errQueryCustom        error
	errBulkWrite          error

	putAsJSONDocs   map[string]interface{}
	bulkWriteModels []mongo.WriteModel
}

func (m *mockMongoDBStore) PutAsJSON(key string, value interface{}) error {
	if m.errPutAsJSON != nil {
		return m.errPutAsJSON
	}

	if m.putAsJSONDocs == nil {
		m.putAsJSONDocs = make(map[string]interface{})
	}

	m.putAsJSONDocs[key] = value

	return nil
}

func (m *mockMongoDBStore) BulkWrite(models []mongo.WriteModel, _ ...*mongoopts.BulkWriteOptions) error {
	if m.errBulkWrite != nil {
		return m.errBulkWrite
	}

	m.bulkWriteModels = models

	return nil
}

func (m *mockMongoDBStore) GetAsRawMap(string) (map[string]interface{}, error) {
	return m.getAsRawMapReturn, m.errGetAsRawMap
}

func (m *mockMongoDBStore) GetBulkAsRawMap(...string) ([]map[string]interface{}, error) {
	return m.getBulkAsRawMapReturn, m.errGetBulkAsRawMap
}

func (m *mockMongoDBStore) QueryCustom(interface{}, ...*mongoopts.FindOptions) (mongodb.Iterator, error) {
	return m.queryCustomReturn, m.errQueryCustom
}

func (m *mockMongoDBStore) CreateMongoDBFindOptions([]storage.QueryOption, bool) *mongoopts.FindOptions {
	return &mongoopts.FindOptions{}
}

func (m *mockMongoDBStore) Put(string, []byte, ...storage.Tag) error {
	panic("implement me")
}

func (m *mockMongoDBStore) Get(string) ([]byte, error) {
	panic("implement me")
}

func (m *mockMongoDBStore) GetTags(string) ([]storage.Tag, error) {
	panic("implement me")
}

func (m *mockMongoDBStore) GetBulk(...string) ([][]byte, error) {
	panic("implement me")
}

func (m *mockMongoDBStore) Query(string, ...storage.QueryOption) (storage.Iterator, error) {
	panic("implement me")
}

func (m *mockMongoDBStore) Batch([]storage.Operation) error {
	panic("implement me")
}

func (m *mockMongoDBStore) Delete(string) error {
	return nil
}

func (m *mockMongoDBStore) Flush() error {
	return nil
}

func (m *mockMongoDBStore) Close() error {
	return nil
}

type mockMongoDBIterator struct {
	nextReturn          bool
	valueAsRawMapReturn map[string]interface{}
	errValueAsRawMap    error
}

func (m *mockMongoDBIterator) Next() (bool, error) {
	return m.nextReturn, nil
}

func (m *mockMongoDBIterator) Key() (string, error) {
	panic("implement me")
}

func (m *mockMongoDBIterator) Value() ([]byte, error) {
	panic("implement me")
}

func (m *mockMongoDBIterator) Tags() ([]storage.Tag, error) {
	panic("implement me")
}

func (m *mockMongoDBIterator) TotalItems() (int, error) {
	panic("implement me")
}

func (m *mockMongoDBIterator) Close() error {
	return nil
}

func (m *mockMongoDBIterator) ValueAsRawMap() (map[string]interface{}, error) {
	return m.valueAsRawMapReturn, m.errValueAsRawMap
}
