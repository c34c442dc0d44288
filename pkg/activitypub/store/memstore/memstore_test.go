/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package memstore

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrel-fed/petrel/pkg/activitypub/store/spi"
	"github.com/petrel-fed/petrel/pkg/activitypub/vocab"
	"github.com/petrel-fed/petrel/pkg/internal/aptestutil"
	"github.com/petrel-fed/petrel/pkg/internal/testutil"
)

var (
	service1 = testutil.MustParseURL("https://example1.com/services/service1")
	service2 = testutil.MustParseURL("https://example2.com/services/service2")
	service3 = testutil.MustParseURL("https://example3.com/services/service3")
)

func TestStore_Actor(t *testing.T) {
	s := New("service1")
	require.NotNil(t, s)

	a, err := s.GetActor(service1)
	require.Error(t, err)
	require.True(t, errors.Is(err, spi.ErrNotFound))
	require.Nil(t, a)

	actor1 := aptestutil.NewMockService(service1)
	actor2 := aptestutil.NewMockService(service2)

	require.NoError(t, s.PutActor(actor1))
	require.NoError(t, s.PutActor(actor2))

	a, err = s.GetActor(service1)
	require.NoError(t, err)
	require.Equal(t, actor1, a)

	a, err = s.GetActor(service2)
	require.NoError(t, err)
	require.Equal(t, actor2, a)
}

func TestStore_Object(t *testing.T) {
	s := New("service1")
	require.NotNil(t, s)

	noteIRI := testutil.MustParseURL("https://example1.com/objects/note1")

	o, err := s.GetObject(noteIRI)
	require.Error(t, err)
	require.True(t, errors.Is(err, spi.ErrNotFound))
	require.Nil(t, o)

	note := aptestutil.NewMockNote(noteIRI, "A note")

	require.NoError(t, s.PutObject(note))

	o, err = s.GetObject(noteIRI)
	require.NoError(t, err)
	require.Equal(t, note, o)
	require.Nil(t, o.Deleted())

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, s.DeleteObject(noteIRI))

		o, err = s.GetObject(noteIRI)
		require.NoError(t, err)
		require.NotNil(t, o.Deleted())

		deleted := *o.Deleted()

		// A second delete leaves the original deleted time.
		require.NoError(t, s.DeleteObject(noteIRI))

		o, err = s.GetObject(noteIRI)
		require.NoError(t, err)
		require.Equal(t, deleted, *o.Deleted())
	})

	t.Run("Delete -> not found", func(t *testing.T) {
		err := s.DeleteObject(testutil.MustParseURL("https://example1.com/objects/unknown"))
		require.Error(t, err)
		require.True(t, errors.Is(err, spi.ErrNotFound))
	})
}

func TestStore_Activity(t *testing.T) {
	s := New("service1")
	require.NotNil(t, s)

	activity1 := aptestutil.NewMockCreateActivity(service1, service2,
		vocab.NewObjectProperty(vocab.WithIRI(testutil.MustParseURL("https://example1.com/objects/note1"))))

	a, err := s.GetActivity(activity1.ID().URL())
	require.Error(t, err)
	require.True(t, errors.Is(err, spi.ErrNotFound))
	require.Nil(t, a)

	require.NoError(t, s.AddActivity(activity1))

	a, err = s.GetActivity(activity1.ID().URL())
	require.NoError(t, err)
	require.Equal(t, activity1, a)

	t.Run("Upsert", func(t *testing.T) {
		require.NoError(t, s.AddActivity(activity1))

		it, err := s.QueryActivities(spi.NewCriteria())
		require.NoError(t, err)

		totalItems, err := it.TotalItems()
		require.NoError(t, err)
		require.Equal(t, 1, totalItems)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, s.AddReference(spi.Inbox, service2, activity1.ID().URL(),
			spi.WithActivityType(vocab.TypeCreate)))

		require.NoError(t, s.DeleteActivity(activity1.ID().URL()))

		a, err := s.GetActivity(activity1.ID().URL())
		require.NoError(t, err)
		require.NotNil(t, a.Deleted())

		// The activity no longer appears in queries.
		it, err := s.QueryActivities(spi.NewCriteria())
		require.NoError(t, err)

		totalItems, err := it.TotalItems()
		require.NoError(t, err)
		require.Equal(t, 0, totalItems)

		// The inbox reference is gone.
		refIt, err := s.QueryReferences(spi.Inbox, spi.NewCriteria(spi.WithObjectIRI(service2)))
		require.NoError(t, err)

		totalItems, err = refIt.TotalItems()
		require.NoError(t, err)
		require.Equal(t, 0, totalItems)
	})

	t.Run("Delete -> not found", func(t *testing.T) {
		err := s.DeleteActivity(testutil.MustParseURL("https://example1.com/activities/unknown"))
		require.Error(t, err)
		require.True(t, errors.Is(err, spi.ErrNotFound))
	})
}

func TestStore_QueryActivities(t *testing.T) {
	s := New("service1")
	require.NotNil(t, s)

	createActivities := aptestutil.NewMockCreateActivities(5)
	announceActivities := aptestutil.NewMockAnnounceActivities(3)

	for _, a := range createActivities {
		require.NoError(t, s.AddActivity(a))
		require.NoError(t, s.AddReference(spi.Outbox, service1, a.ID().URL(),
			spi.WithActivityType(vocab.TypeCreate)))
	}

	for _, a := range announceActivities {
		require.NoError(t, s.AddActivity(a))
		require.NoError(t, s.AddReference(spi.Outbox, service1, a.ID().URL(),
			spi.WithActivityType(vocab.TypeAnnounce)))
	}

	t.Run("All - ascending", func(t *testing.T) {
		it, err := s.QueryActivities(spi.NewCriteria(), spi.WithSortOrder(spi.SortAscending))
		require.NoError(t, err)

		checkActivityResults(t, it, 8,
			createActivities[0].ID().String(), createActivities[1].ID().String())
	})

	t.Run("All - descending", func(t *testing.T) {
		it, err := s.QueryActivities(spi.NewCriteria())
		require.NoError(t, err)

		checkActivityResults(t, it, 8,
			announceActivities[2].ID().String(), announceActivities[1].ID().String())
	})

	t.Run("By type", func(t *testing.T) {
		it, err := s.QueryActivities(spi.NewCriteria(spi.WithType(vocab.TypeAnnounce)),
			spi.WithSortOrder(spi.SortAscending))
		require.NoError(t, err)

		checkActivityResults(t, it, 3,
			announceActivities[0].ID().String(),
			announceActivities[1].ID().String(),
			announceActivities[2].ID().String())

		a, err := it.Next()
		require.Error(t, err)
		require.True(t, errors.Is(err, spi.ErrNotFound))
		require.Nil(t, a)
	})

	t.Run("Paging", func(t *testing.T) {
		it, err := s.QueryActivities(spi.NewCriteria(),
			spi.WithSortOrder(spi.SortAscending), spi.WithPageSize(3), spi.WithPageNum(1))
		require.NoError(t, err)

		checkActivityResults(t, it, 8, createActivities[3].ID().String())
	})

	t.Run("Paging - beyond the last page", func(t *testing.T) {
		it, err := s.QueryActivities(spi.NewCriteria(),
			spi.WithPageSize(3), spi.WithPageNum(5))
		require.NoError(t, err)

		totalItems, err := it.TotalItems()
		require.NoError(t, err)
		require.Equal(t, 8, totalItems)

		a, err := it.Next()
		require.Error(t, err)
		require.True(t, errors.Is(err, spi.ErrNotFound))
		require.Nil(t, a)
	})

	t.Run("By outbox reference", func(t *testing.T) {
		it, err := s.QueryActivities(
			spi.NewCriteria(
				spi.WithReferenceType(spi.Outbox),
				spi.WithObjectIRI(service1),
				spi.WithType(vocab.TypeAnnounce),
			),
			spi.WithPageSize(2))
		require.NoError(t, err)

		checkActivityResults(t, it, 3,
			announceActivities[2].ID().String(), announceActivities[1].ID().String())

		a, err := it.Next()
		require.Error(t, err)
		require.True(t, errors.Is(err, spi.ErrNotFound))
		require.Nil(t, a)
	})
}

func TestStore_Processed(t *testing.T) {
	s := New("service1")
	require.NotNil(t, s)

	activityIRI := testutil.MustParseURL("https://example1.com/activities/activity1")

	ok, err := s.IsProcessed(activityIRI)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.AddProcessed(activityIRI)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.IsProcessed(activityIRI)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.AddProcessed(activityIRI)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_Follow(t *testing.T) {
	s := New("service1")
	require.NotNil(t, s)

	f, err := s.GetFollow(service2, service1)
	require.Error(t, err)
	require.True(t, errors.Is(err, spi.ErrNotFound))
	require.Nil(t, f)

	follow := &spi.Follow{
		Follower:    service2,
		Followed:    service1,
		ActivityIRI: testutil.MustParseURL("https://example2.com/activities/follow1"),
		Status:      spi.FollowPending,
		Created:     time.Now(),
	}

	require.NoError(t, s.PutFollow(follow))

	f, err = s.GetFollow(service2, service1)
	require.NoError(t, err)
	require.Equal(t, spi.FollowPending, f.Status)
	require.Equal(t, follow.ActivityIRI.String(), f.ActivityIRI.String())

	t.Run("Update status", func(t *testing.T) {
		follow.Status = spi.FollowAccepted
		follow.Updated = time.Now()

		require.NoError(t, s.PutFollow(follow))

		f, err := s.GetFollow(service2, service1)
		require.NoError(t, err)
		require.Equal(t, spi.FollowAccepted, f.Status)

		it, err := s.QueryReferences(spi.Follower, spi.NewCriteria(spi.WithObjectIRI(service1)))
		require.NoError(t, err)

		totalItems, err := it.TotalItems()
		require.NoError(t, err)
		require.Equal(t, 1, totalItems)
	})

	t.Run("Mutating the returned follow does not affect the store", func(t *testing.T) {
		f, err := s.GetFollow(service2, service1)
		require.NoError(t, err)

		f.Status = spi.FollowPending

		f2, err := s.GetFollow(service2, service1)
		require.NoError(t, err)
		require.Equal(t, spi.FollowAccepted, f2.Status)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, s.DeleteFollow(service2, service1))

		f, err := s.GetFollow(service2, service1)
		require.Error(t, err)
		require.True(t, errors.Is(err, spi.ErrNotFound))
		require.Nil(t, f)

		err = s.DeleteFollow(service2, service1)
		require.Error(t, err)
		require.True(t, errors.Is(err, spi.ErrNotFound))
	})

	t.Run("WithFollowPair", func(t *testing.T) {
		invoked := false

		require.NoError(t, s.WithFollowPair(service2, service1, func() error {
			invoked = true

			return nil
		}))
		require.True(t, invoked)

		errExpected := errors.New("injected error")

		err := s.WithFollowPair(service2, service1, func() error {
			return errExpected
		})
		require.Error(t, err)
		require.True(t, errors.Is(err, errExpected))
	})
}

func TestStore_FollowerFollowingQueries(t *testing.T) {
	s := New("service1")
	require.NotNil(t, s)

	require.NoError(t, s.PutFollow(&spi.Follow{
		Follower: service2, Followed: service1,
		Status: spi.FollowAccepted, Created: time.Now(),
	}))

	require.NoError(t, s.PutFollow(&spi.Follow{
		Follower: service3, Followed: service1,
		Status: spi.FollowPending, Created: time.Now(),
	}))

	require.NoError(t, s.PutFollow(&spi.Follow{
		Follower: service2, Followed: service3,
		Status: spi.FollowAccepted, Created: time.Now(),
	}))

	t.Run("Followers", func(t *testing.T) {
		it, err := s.QueryReferences(spi.Follower, spi.NewCriteria(spi.WithObjectIRI(service1)))
		require.NoError(t, err)

		// The pending follow from service3 is not included.
		checkReferenceResults(t, it, 1, service2.String())
	})

	t.Run("Following", func(t *testing.T) {
		it, err := s.QueryReferences(spi.Following, spi.NewCriteria(spi.WithObjectIRI(service2)),
			spi.WithSortOrder(spi.SortAscending))
		require.NoError(t, err)

		checkReferenceResults(t, it, 2, service1.String(), service3.String())
	})

	t.Run("Membership check", func(t *testing.T) {
		it, err := s.QueryReferences(spi.Follower,
			spi.NewCriteria(spi.WithObjectIRI(service1), spi.WithReferenceIRI(service2)))
		require.NoError(t, err)

		checkReferenceResults(t, it, 1, service2.String())

		it, err = s.QueryReferences(spi.Follower,
			spi.NewCriteria(spi.WithObjectIRI(service1), spi.WithReferenceIRI(service3)))
		require.NoError(t, err)

		totalItems, err := it.TotalItems()
		require.NoError(t, err)
		require.Equal(t, 0, totalItems)
	})
}

func TestStore_Reference(t *testing.T) {
	s := New("service1")
	require.NotNil(t, s)

	obj1 := testutil.MustParseURL("https://example1.com/objects/obj1")
	obj2 := testutil.MustParseURL("https://example1.com/objects/obj2")

	it, err := s.QueryReferences(spi.Liked, spi.NewCriteria(spi.WithObjectIRI(service1)))
	require.NoError(t, err)

	totalItems, err := it.TotalItems()
	require.NoError(t, err)
	require.Equal(t, 0, totalItems)

	require.NoError(t, s.AddReference(spi.Liked, service1, obj1))
	require.NoError(t, s.AddReference(spi.Liked, service1, obj2))

	t.Run("Query", func(t *testing.T) {
		it, err := s.QueryReferences(spi.Liked, spi.NewCriteria(spi.WithObjectIRI(service1)),
			spi.WithSortOrder(spi.SortAscending))
		require.NoError(t, err)

		checkReferenceResults(t, it, 2, obj1.String(), obj2.String())
	})

	t.Run("Upsert", func(t *testing.T) {
		require.NoError(t, s.AddReference(spi.Liked, service1, obj1))

		it, err := s.QueryReferences(spi.Liked, spi.NewCriteria(spi.WithObjectIRI(service1)))
		require.NoError(t, err)

		totalItems, err := it.TotalItems()
		require.NoError(t, err)
		require.Equal(t, 2, totalItems)
	})

	t.Run("Filter by activity type", func(t *testing.T) {
		activities := aptestutil.NewMockCreateActivities(2)

		require.NoError(t, s.AddReference(spi.Inbox, service1, activities[0].ID().URL(),
			spi.WithActivityType(vocab.TypeCreate)))
		require.NoError(t, s.AddReference(spi.Inbox, service1, activities[1].ID().URL(),
			spi.WithActivityType(vocab.TypeAnnounce)))

		it, err := s.QueryReferences(spi.Inbox,
			spi.NewCriteria(spi.WithObjectIRI(service1), spi.WithType(vocab.TypeAnnounce)))
		require.NoError(t, err)

		checkReferenceResults(t, it, 1, activities[1].ID().String())
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, s.DeleteReference(spi.Liked, service1, obj1))

		it, err := s.QueryReferences(spi.Liked, spi.NewCriteria(spi.WithObjectIRI(service1)))
		require.NoError(t, err)

		checkReferenceResults(t, it, 1, obj2.String())

		err = s.DeleteReference(spi.Liked, service1, obj1)
		require.Error(t, err)
		require.True(t, errors.Is(err, spi.ErrNotFound))
	})

	t.Run("Blocked", func(t *testing.T) {
		require.NoError(t, s.AddReference(spi.Blocked, service1, service3))

		it, err := s.QueryReferences(spi.Blocked,
			spi.NewCriteria(spi.WithObjectIRI(service1), spi.WithReferenceIRI(service3)))
		require.NoError(t, err)

		checkReferenceResults(t, it, 1, service3.String())
	})

	t.Run("No object IRI -> error", func(t *testing.T) {
		it, err := s.QueryReferences(spi.Liked, spi.NewCriteria())
		require.EqualError(t, err, "object IRI is required")
		require.Nil(t, it)
	})

	t.Run("Follower reference -> error", func(t *testing.T) {
		err := s.AddReference(spi.Follower, service1, service2)
		require.Error(t, err)
		require.Contains(t, err.Error(), "derived from follow relationships")

		err = s.DeleteReference(spi.Following, service1, service2)
		require.Error(t, err)
		require.Contains(t, err.Error(), "derived from follow relationships")
	})

	t.Run("Unsupported reference type -> error", func(t *testing.T) {
		err := s.AddReference("INVALID", service1, service2)
		require.Error(t, err)
		require.Contains(t, err.Error(), "unsupported reference type")
	})
}

func TestStore_ReassignIRI(t *testing.T) {
	s := New("service1")
	require.NotNil(t, s)

	oldIRI := testutil.MustParseURL("https://old.example.com/services/alice")
	newIRI := testutil.MustParseURL("https://new.example.com/services/alice")

	noteIRI := testutil.MustParseURL("https://old.example.com/objects/note1")
	activityIRI := testutil.NewMockID(oldIRI, "/activities/activity1")

	require.NoError(t, s.PutActor(aptestutil.NewMockService(oldIRI)))

	note := vocab.NewObject(
		vocab.WithType(vocab.TypeNote),
		vocab.WithID(noteIRI),
		vocab.WithAttributedTo(oldIRI),
	)
	require.NoError(t, s.PutObject(note))

	activity := vocab.NewCreateActivity(
		vocab.NewObjectProperty(vocab.WithIRI(noteIRI)),
		vocab.WithID(activityIRI),
		vocab.WithActor(oldIRI),
		vocab.WithTo(service2),
	)
	require.NoError(t, s.AddActivity(activity))
	require.NoError(t, s.AddReference(spi.Inbox, service2, activityIRI, spi.WithActivityType(vocab.TypeCreate)))
	require.NoError(t, s.AddReference(spi.Liked, oldIRI, noteIRI))

	require.NoError(t, s.PutFollow(&spi.Follow{
		Follower: service2, Followed: oldIRI,
		Status: spi.FollowAccepted, Created: time.Now(),
	}))

	require.NoError(t, s.ReassignIRI(oldIRI, newIRI))

	t.Run("Actor is re-keyed", func(t *testing.T) {
		a, err := s.GetActor(oldIRI)
		require.Error(t, err)
		require.True(t, errors.Is(err, spi.ErrNotFound))
		require.Nil(t, a)

		a, err = s.GetActor(newIRI)
		require.NoError(t, err)
		require.Equal(t, newIRI.String(), a.ID().String())
		require.Equal(t, newIRI.String(), a.PublicKey().Owner.String())

		// Only exact occurrences of the old IRI are rewritten. Collection endpoints
		// are derived URLs and are refreshed when the actor is next fetched.
		require.Equal(t, testutil.NewMockID(oldIRI, "/inbox").String(), a.Inbox().String())
	})

	t.Run("Activity attribution is rewritten", func(t *testing.T) {
		a, err := s.GetActivity(activityIRI)
		require.NoError(t, err)
		require.Equal(t, newIRI.String(), a.Actor().String())
	})

	t.Run("Object attribution is rewritten", func(t *testing.T) {
		o, err := s.GetObject(noteIRI)
		require.NoError(t, err)
		require.Equal(t, newIRI.String(), o.AttributedTo().String())
	})

	t.Run("Follows are rewritten", func(t *testing.T) {
		f, err := s.GetFollow(service2, oldIRI)
		require.Error(t, err)
		require.True(t, errors.Is(err, spi.ErrNotFound))
		require.Nil(t, f)

		f, err = s.GetFollow(service2, newIRI)
		require.NoError(t, err)
		require.Equal(t, newIRI.String(), f.Followed.String())

		it, err := s.QueryReferences(spi.Follower, spi.NewCriteria(spi.WithObjectIRI(newIRI)))
		require.NoError(t, err)

		checkReferenceResults(t, it, 1, service2.String())
	})

	t.Run("Reference edges are rewritten", func(t *testing.T) {
		it, err := s.QueryReferences(spi.Liked, spi.NewCriteria(spi.WithObjectIRI(newIRI)))
		require.NoError(t, err)

		checkReferenceResults(t, it, 1, noteIRI.String())
	})
}

func checkActivityResults(t *testing.T, it spi.ActivityIterator, expectedTotal int, expectedIDs ...string) {
	t.Helper()

	require.NotNil(t, it)

	totalItems, err := it.TotalItems()
	require.NoError(t, err)
	require.Equal(t, expectedTotal, totalItems)

	for _, id := range expectedIDs {
		a, err := it.Next()
		require.NoError(t, err)
		require.NotNil(t, a)
		require.Equal(t, id, a.ID().String())
	}
}

func checkReferenceResults(t *testing.T, it spi.ReferenceIterator, expectedTotal int, expectedIRIs ...string) {
	t.Helper()

	require.NotNil(t, it)

	totalItems, err := it.TotalItems()
	require.NoError(t, err)
	require.Equal(t, expectedTotal, totalItems)

	for _, iri := range expectedIRIs {
		ref, err := it.Next()
		require.NoError(t, err)
		require.NotNil(t, ref)
		require.Equal(t, iri, ref.String())
	}

	ref, err := it.Next()
	require.Error(t, err)
	require.True(t, errors.Is(err, spi.ErrNotFound))
	require.Nil(t, ref)
}
