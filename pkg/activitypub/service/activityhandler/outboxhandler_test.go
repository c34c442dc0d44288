/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package activityhandler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrel-fed/petrel/pkg/activitypub/service/mocks"
	"github.com/petrel-fed/petrel/pkg/activitypub/store/memstore"
	store "github.com/petrel-fed/petrel/pkg/activitypub/store/spi"
	"github.com/petrel-fed/petrel/pkg/activitypub/store/storeutil"
	"github.com/petrel-fed/petrel/pkg/activitypub/vocab"
	petrelerrors "github.com/petrel-fed/petrel/pkg/errors"
	"github.com/petrel-fed/petrel/pkg/internal/aptestutil"
	"github.com/petrel-fed/petrel/pkg/internal/testutil"
)

func newTestOutbox(t *testing.T) (*Outbox, *memstore.Store) {
	t.Helper()

	s := memstore.New("service1")

	h := NewOutbox(
		&Config{
			ServiceName:     "service1",
			InstanceBaseURL: instanceBaseURL,
		},
		s, mocks.NewActivityPubClient(),
	)
	require.NotNil(t, h)

	h.Start()

	t.Cleanup(h.Stop)

	return h, s
}

func TestOutbox_HandleFollow(t *testing.T) {
	h, s := newTestOutbox(t)

	t.Run("Success", func(t *testing.T) {
		follow := aptestutil.NewMockFollowActivity(aliceIRI, bobIRI)

		require.NoError(t, h.HandleActivity(context.Background(), follow))

		f, err := s.GetFollow(aliceIRI, bobIRI)
		require.NoError(t, err)
		require.Equal(t, store.FollowPending, f.Status)

		// A repeated follow request leaves the existing relationship untouched.
		require.NoError(t, h.HandleActivity(context.Background(), follow))
	})

	t.Run("No object IRI -> error", func(t *testing.T) {
		follow := vocab.NewFollowActivity(vocab.NewObjectProperty(),
			vocab.WithID(aptestutil.NewActivityID(aliceIRI)),
			vocab.WithActor(aliceIRI),
		)

		err := h.HandleActivity(context.Background(), follow)
		require.Error(t, err)
		require.True(t, petrelerrors.IsBadRequest(err))
	})
}

func TestOutbox_HandleLike(t *testing.T) {
	h, s := newTestOutbox(t)

	objIRI := testutil.MustParseURL("https://remote.example/objects/1")

	like := vocab.NewLikeActivity(
		vocab.NewObjectProperty(vocab.WithIRI(objIRI)),
		vocab.WithID(aptestutil.NewActivityID(aliceIRI)),
		vocab.WithActor(aliceIRI),
	)

	require.NoError(t, h.HandleActivity(context.Background(), like))

	it, err := s.QueryReferences(store.Liked, store.NewCriteria(store.WithObjectIRI(aliceIRI)))
	require.NoError(t, err)

	refs, err := storeutil.ReadReferences(it, -1)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.Equal(t, objIRI.String(), refs[0].String())
}

func TestOutbox_HandleUndo(t *testing.T) {
	h, s := newTestOutbox(t)

	t.Run("Undo follow", func(t *testing.T) {
		follow := aptestutil.NewMockFollowActivity(aliceIRI, bobIRI)

		require.NoError(t, s.PutFollow(&store.Follow{
			Follower:    aliceIRI,
			Followed:    bobIRI,
			ActivityIRI: follow.ID().URL(),
			Status:      store.FollowAccepted,
			Created:     time.Now(),
		}))

		undo := vocab.NewUndoActivity(
			vocab.NewObjectProperty(vocab.WithActivity(follow)),
			vocab.WithID(aptestutil.NewActivityID(aliceIRI)),
			vocab.WithActor(aliceIRI),
		)

		require.NoError(t, h.HandleActivity(context.Background(), undo))

		_, err := s.GetFollow(aliceIRI, bobIRI)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("Undo like removes the liked reference", func(t *testing.T) {
		objIRI := testutil.MustParseURL("https://remote.example/objects/2")

		like := vocab.NewLikeActivity(
			vocab.NewObjectProperty(vocab.WithIRI(objIRI)),
			vocab.WithID(aptestutil.NewActivityID(aliceIRI)),
			vocab.WithActor(aliceIRI),
		)

		require.NoError(t, h.HandleActivity(context.Background(), like))
		require.NoError(t, s.AddActivity(like))

		undo := vocab.NewUndoActivity(
			vocab.NewObjectProperty(vocab.WithActivity(like)),
			vocab.WithID(aptestutil.NewActivityID(aliceIRI)),
			vocab.WithActor(aliceIRI),
		)

		require.NoError(t, h.HandleActivity(context.Background(), undo))

		it, err := s.QueryReferences(store.Liked, store.NewCriteria(store.WithObjectIRI(aliceIRI)))
		require.NoError(t, err)

		refs, err := storeutil.ReadReferences(it, -1)
		require.NoError(t, err)
		require.Empty(t, refs)
	})

	t.Run("Actor mismatch -> error", func(t *testing.T) {
		follow := aptestutil.NewMockFollowActivity(aliceIRI, bobIRI)

		undo := vocab.NewUndoActivity(
			vocab.NewObjectProperty(vocab.WithActivity(follow)),
			vocab.WithID(aptestutil.NewActivityID(aliceIRI)),
			vocab.WithActor(testutil.MustParseURL("https://instance1.example/actors/carol")),
		)

		err := h.HandleActivity(context.Background(), undo)
		require.Error(t, err)
		require.True(t, petrelerrors.IsBadRequest(err))
	})
}

func TestOutbox_HandleOther(t *testing.T) {
	h, _ := newTestOutbox(t)

	activityChan := h.Subscribe()

	create := aptestutil.NewMockCreateActivity(aliceIRI, bobIRI,
		vocab.NewObjectProperty(vocab.WithObject(
			aptestutil.NewMockNote(testutil.MustParseURL("https://instance1.example/objects/1"), "Hi"))))

	require.NoError(t, h.HandleActivity(context.Background(), create))

	select {
	case activity := <-activityChan:
		require.Equal(t, create.ID().String(), activity.ID().String())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for activity")
	}
}
