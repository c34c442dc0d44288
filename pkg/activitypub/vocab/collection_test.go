/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vocab

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	outboxIRI = "https://sally.example.com/users/sally/outbox"
)

func TestOrderedCollectionMarshal(t *testing.T) {
	activity1 := MustParseURL("https://sally.example.com/activities/activity1")
	activity2 := MustParseURL("https://sally.example.com/activities/activity2")

	t.Run("Marshal", func(t *testing.T) {
		coll := NewOrderedCollection(
			[]*ObjectProperty{
				NewObjectProperty(WithIRI(activity1)),
				NewObjectProperty(WithIRI(activity2)),
			},
			WithContext(ContextActivityStreams),
			WithID(MustParseURL(outboxIRI)),
			WithFirst(MustParseURL(outboxIRI+"?page=0")),
			WithLast(MustParseURL(outboxIRI+"?page=3")),
		)

		bytes, err := json.Marshal(coll)
		require.NoError(t, err)

		require.JSONEq(t, jsonOrderedCollection, string(bytes))
	})

	t.Run("Unmarshal", func(t *testing.T) {
		coll := &OrderedCollectionType{}
		require.NoError(t, json.Unmarshal([]byte(jsonOrderedCollection), coll))

		require.True(t, coll.Type().Is(TypeOrderedCollection))
		require.Equal(t, outboxIRI, coll.ID().String())
		require.Equal(t, 2, coll.TotalItems())
		require.Equal(t, outboxIRI+"?page=0", coll.First().String())
		require.Equal(t, outboxIRI+"?page=3", coll.Last().String())

		items := coll.Items()
		require.Len(t, items, 2)
		require.Equal(t, activity1.String(), items[0].IRI().String())
		require.Equal(t, activity2.String(), items[1].IRI().String())
	})
}

func TestOrderedCollectionPageMarshal(t *testing.T) {
	var items []*ObjectProperty

	for i := 0; i < 3; i++ {
		items = append(items, NewObjectProperty(WithIRI(
			MustParseURL(fmt.Sprintf("https://sally.example.com/activities/activity%d", i)))),
		)
	}

	t.Run("Marshal", func(t *testing.T) {
		page := NewOrderedCollectionPage(items,
			WithContext(ContextActivityStreams),
			WithID(MustParseURL(outboxIRI+"?page=1")),
			WithPartOf(MustParseURL(outboxIRI)),
			WithNext(MustParseURL(outboxIRI+"?page=2")),
			WithPrev(MustParseURL(outboxIRI+"?page=0")),
			WithTotalItems(12),
			WithStartIndex(4),
		)

		bytes, err := json.Marshal(page)
		require.NoError(t, err)

		require.JSONEq(t, jsonOrderedCollectionPage, string(bytes))
	})

	t.Run("Unmarshal", func(t *testing.T) {
		page := &OrderedCollectionPageType{}
		require.NoError(t, json.Unmarshal([]byte(jsonOrderedCollectionPage), page))

		require.True(t, page.Type().Is(TypeOrderedCollectionPage))
		require.Equal(t, outboxIRI, page.PartOf().String())
		require.Equal(t, outboxIRI+"?page=2", page.Next().String())
		require.Equal(t, outboxIRI+"?page=0", page.Prev().String())
		require.Equal(t, 12, page.TotalItems())
		require.Equal(t, 4, page.StartIndex())
		require.Len(t, page.Items(), 3)
	})
}

func TestCollectionMarshal(t *testing.T) {
	follower := MustParseURL(bobIRI)

	coll := NewCollection(
		[]*ObjectProperty{NewObjectProperty(WithIRI(follower))},
		WithContext(ContextActivityStreams),
		WithID(MustParseURL(sallyIRI+"/followers")),
	)

	bytes, err := json.Marshal(coll)
	require.NoError(t, err)

	unmarshalled := &CollectionType{}
	require.NoError(t, json.Unmarshal(bytes, unmarshalled))

	require.True(t, unmarshalled.Type().Is(TypeCollection))
	require.Equal(t, 1, unmarshalled.TotalItems())

	items := unmarshalled.Items()
	require.Len(t, items, 1)
	require.Equal(t, follower.String(), items[0].IRI().String())
}

const jsonOrderedCollection = `{
  "@context": "https://www.w3.org/ns/activitystreams",
  "id": "https://sally.example.com/users/sally/outbox",
  "type": "OrderedCollection",
  "totalItems": 2,
  "first": "https://sally.example.com/users/sally/outbox?page=0",
  "last": "https://sally.example.com/users/sally/outbox?page=3",
  "orderedItems": [
    "https://sally.example.com/activities/activity1",
    "https://sally.example.com/activities/activity2"
  ]
}`

const jsonOrderedCollectionPage = `{
  "@context": "https://www.w3.org/ns/activitystreams",
  "id": "https://sally.example.com/users/sally/outbox?page=1",
  "type": "OrderedCollectionPage",
  "totalItems": 12,
  "partOf": "https://sally.example.com/users/sally/outbox",
  "next": "https://sally.example.com/users/sally/outbox?page=2",
  "prev": "https://sally.example.com/users/sally/outbox?page=0",
  "startIndex": 4,
  "orderedItems": [
    "https://sally.example.com/activities/activity0",
    "https://sally.example.com/activities/activity1",
    "https://sally.example.com/activities/activity2"
  ]
}`
