/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package storeutil

import (
	"errors"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petrel-fed/petrel/pkg/activitypub/store/spi"
	"github.com/petrel-fed/petrel/pkg/activitypub/vocab"
	"github.com/petrel-fed/petrel/pkg/internal/testutil"
)

func TestGetQueryOptions(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		options := GetQueryOptions()
		require.NotNil(t, options)
		require.Equal(t, -1, options.PageNumber)
		require.Equal(t, -1, options.PageSize)
		require.Equal(t, spi.SortDescending, options.SortOrder)
	})

	t.Run("With options", func(t *testing.T) {
		options := GetQueryOptions(
			spi.WithPageNum(1),
			spi.WithSortOrder(spi.SortAscending),
			spi.WithPageSize(10),
		)
		require.NotNil(t, options)
		require.Equal(t, 1, options.PageNumber)
		require.Equal(t, 10, options.PageSize)
		require.Equal(t, spi.SortAscending, options.SortOrder)
	})
}

func TestGetRefMetadata(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		metadata := GetRefMetadata()
		require.NotNil(t, metadata)
		require.Empty(t, metadata.ActivityType)
	})

	t.Run("With activity type", func(t *testing.T) {
		metadata := GetRefMetadata(spi.WithActivityType(vocab.TypeCreate))
		require.NotNil(t, metadata)
		require.Equal(t, vocab.TypeCreate, metadata.ActivityType)
	})
}

func TestReadReferences(t *testing.T) {
	url1 := testutil.MustParseURL("https://url1")
	url2 := testutil.MustParseURL("https://url2")
	url3 := testutil.MustParseURL("https://url3")

	t.Run("All items", func(t *testing.T) {
		it := newMockRefIterator([]*url.URL{url1, url2, url3})

		refs, err := ReadReferences(it, 5)
		require.NoError(t, err)
		require.Len(t, refs, 3)
		require.Equal(t, url1.String(), refs[0].String())
		require.Equal(t, url2.String(), refs[1].String())
		require.Equal(t, url3.String(), refs[2].String())
	})

	t.Run("Max items reached", func(t *testing.T) {
		it := newMockRefIterator([]*url.URL{url1, url2, url3})

		refs, err := ReadReferences(it, 1)
		require.NoError(t, err)
		require.Len(t, refs, 1)
		require.Equal(t, url1.String(), refs[0].String())
	})

	t.Run("Iterator error", func(t *testing.T) {
		errExpected := errors.New("injected iterator error")

		it := newMockRefIterator(nil)
		it.err = errExpected

		refs, err := ReadReferences(it, 1)
		require.EqualError(t, err, errExpected.Error())
		require.Empty(t, refs)
	})
}

func TestReplaceIRI(t *testing.T) {
	const (
		oldIRI = "https://old.domain.com/services/alice"
		newIRI = "https://new.domain.com/services/alice"
	)

	doc := vocab.MustUnmarshalToDoc([]byte(`{
      "id": "https://old.domain.com/services/alice/activities/1",
      "actor": "https://old.domain.com/services/alice",
      "object": {
        "attributedTo": "https://old.domain.com/services/alice",
        "content": "A note"
      },
      "to": ["https://old.domain.com/services/alice", "https://other.com/services/bob"]
    }`))

	require.True(t, ReplaceIRI(doc, oldIRI, newIRI))

	require.Equal(t, newIRI, doc["actor"])

	obj, ok := doc["object"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, newIRI, obj["attributedTo"])
	require.Equal(t, "A note", obj["content"])

	to, ok := doc["to"].([]interface{})
	require.True(t, ok)
	require.Equal(t, newIRI, to[0])
	require.Equal(t, "https://other.com/services/bob", to[1])

	// Only exact matches are replaced.
	require.Equal(t, "https://old.domain.com/services/alice/activities/1", doc["id"])

	require.False(t, ReplaceIRI(doc, oldIRI, newIRI))
}

func TestPairLock(t *testing.T) {
	follower := testutil.MustParseURL("https://domain1.com/services/alice")
	followed := testutil.MustParseURL("https://domain2.com/services/bob")

	t.Run("Serializes same pair", func(t *testing.T) {
		lock := NewPairLock()

		const n = 100

		var wg sync.WaitGroup

		count := 0

		errs := make(chan error, n)

		for i := 0; i < n; i++ {
			wg.Add(1)

			go func() {
				defer wg.Done()

				errs <- lock.Execute(follower, followed, func() error {
					count++

					return nil
				})
			}()
		}

		wg.Wait()
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}

		require.Equal(t, n, count)
	})

	t.Run("Returns error from fn", func(t *testing.T) {
		lock := NewPairLock()

		errExpected := errors.New("injected error")

		err := lock.Execute(follower, followed, func() error {
			return errExpected
		})
		require.EqualError(t, err, errExpected.Error())
	})
}

type mockRefIterator struct {
	refs []*url.URL
	err  error
	pos  int
}

func newMockRefIterator(refs []*url.URL) *mockRefIterator {
	return &mockRefIterator{refs: refs}
}

func (it *mockRefIterator) TotalItems() (int, error) {
	return len(it.refs), nil
}

func (it *mockRefIterator) Next() (*url.URL, error) {
	if it.err != nil {
		return nil, it.err
	}

	if it.pos >= len(it.refs) {
		return nil, spi.ErrNotFound
	}

	ref := it.refs[it.pos]
	it.pos++

	return ref, nil
}

func (it *mockRefIterator) Close() error {
	return nil
}
