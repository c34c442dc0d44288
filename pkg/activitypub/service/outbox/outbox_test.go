/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package outbox

import (
	"context"
	"net/http"
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
	"github.com/petrel-fed/petrel/pkg/lifecycle"
	"github.com/petrel-fed/petrel/pkg/pubsub/mempubsub"
)

var (
	instanceBaseURL = testutil.MustParseURL("https://instance1.example")
	aliceIRI        = testutil.MustParseURL("https://instance1.example/actors/alice")
	bobIRI          = testutil.MustParseURL("https://remote.example/actors/bob")
	carolIRI        = testutil.MustParseURL("https://remote.example/actors/carol")
)

type testOutbox struct {
	*Outbox

	store     *memstore.Store
	transport *mocks.HTTPTransport
	client    *mocks.ActivityPubClient
	handler   *mocks.ActivityHandler
	metrics   *mocks.MetricsProvider
}

func newTestOutbox(t *testing.T) *testOutbox {
	t.Helper()

	s := memstore.New("service1")
	tp := mocks.NewHTTPTransport()
	client := mocks.NewActivityPubClient()
	handler := mocks.NewActivityHandler()
	metrics := mocks.NewMetricsProvider()

	pb := mempubsub.New(mempubsub.DefaultConfig())
	t.Cleanup(func() {
		require.NoError(t, pb.Close())
	})

	ob, err := New(
		&Config{
			ServiceName:     "service1",
			InstanceBaseURL: instanceBaseURL,
			Topic:           "outbox",
		},
		s, pb, tp, handler, client, mocks.NewJSONLDProcessor(), metrics,
	)
	require.NoError(t, err)

	ob.Start()

	t.Cleanup(ob.Stop)

	return &testOutbox{
		Outbox:    ob,
		store:     s,
		transport: tp,
		client:    client,
		handler:   handler,
		metrics:   metrics,
	}
}

func (o *testOutbox) requirePosted(t *testing.T, num int) []*mocks.PostedMessage {
	t.Helper()

	require.Eventually(t, func() bool {
		return len(o.transport.Posted()) >= num
	}, 5*time.Second, 50*time.Millisecond)

	posted := o.transport.Posted()
	require.Len(t, posted, num)

	return posted
}

func TestOutbox_Post(t *testing.T) {
	ob := newTestOutbox(t)

	ob.client.WithActor(aptestutil.NewMockPerson(bobIRI, "bob"))

	t.Run("Deliver to a remote actor", func(t *testing.T) {
		create := aptestutil.NewMockCreateActivity(aliceIRI, bobIRI,
			vocab.NewObjectProperty(vocab.WithObject(
				aptestutil.NewMockNote(testutil.MustParseURL("https://instance1.example/objects/1"), "Hello"))))

		activityID, err := ob.Post(context.Background(), create)
		require.NoError(t, err)
		require.NotNil(t, activityID)

		posted := ob.requirePosted(t, 1)
		require.Equal(t, "https://remote.example/actors/bob/inbox", posted[0].Target.String())

		// The activity and its outbox reference are stored.
		activity, err := ob.store.GetActivity(activityID)
		require.NoError(t, err)
		require.True(t, activity.Type().Is(vocab.TypeCreate))

		it, err := ob.store.QueryReferences(store.Outbox, store.NewCriteria(store.WithObjectIRI(aliceIRI)))
		require.NoError(t, err)

		refs, err := storeutil.ReadReferences(it, -1)
		require.NoError(t, err)
		require.Len(t, refs, 1)

		// The local outbox handler was invoked.
		require.Eventually(t, func() bool {
			return len(ob.handler.Activities()) == 1
		}, time.Second, 10*time.Millisecond)

		require.Equal(t, 1, ob.metrics.ActivityCount("Create"))
	})
}

func TestOutbox_PostValidation(t *testing.T) {
	ob := newTestOutbox(t)

	t.Run("Missing ID and published -> assigned", func(t *testing.T) {
		ob.client.WithActor(aptestutil.NewMockPerson(bobIRI, "bob"))

		create := vocab.NewCreateActivity(
			vocab.NewObjectProperty(vocab.WithObject(
				aptestutil.NewMockNote(testutil.MustParseURL("https://instance1.example/objects/2"), "Hi"))),
			vocab.WithActor(aliceIRI),
			vocab.WithTo(bobIRI),
		)

		activityID, err := ob.Post(context.Background(), create)
		require.NoError(t, err)
		require.Contains(t, activityID.String(), "https://instance1.example/activities/")
		require.NotNil(t, create.Published())
	})

	t.Run("No actor -> error", func(t *testing.T) {
		create := vocab.NewCreateActivity(
			vocab.NewObjectProperty(vocab.WithIRI(testutil.MustParseURL("https://instance1.example/objects/3"))),
			vocab.WithTo(bobIRI),
		)

		_, err := ob.Post(context.Background(), create)
		require.Error(t, err)
		require.True(t, petrelerrors.IsBadRequest(err))
	})

	t.Run("Remote actor -> error", func(t *testing.T) {
		create := vocab.NewCreateActivity(
			vocab.NewObjectProperty(vocab.WithIRI(testutil.MustParseURL("https://instance1.example/objects/4"))),
			vocab.WithActor(bobIRI),
			vocab.WithTo(aliceIRI),
		)

		_, err := ob.Post(context.Background(), create)
		require.Error(t, err)
		require.True(t, petrelerrors.IsBadRequest(err))
	})

	t.Run("Not started -> error", func(t *testing.T) {
		ob2 := newTestOutbox(t)
		ob2.Stop()

		_, err := ob2.Post(context.Background(), aptestutil.NewMockCreateActivity(aliceIRI, bobIRI,
			vocab.NewObjectProperty(vocab.WithIRI(testutil.MustParseURL("https://instance1.example/objects/5")))))
		require.ErrorIs(t, err, lifecycle.ErrNotStarted)
	})
}

func TestOutbox_PublicAddressing(t *testing.T) {
	ob := newTestOutbox(t)

	ob.client.WithActor(aptestutil.NewMockPerson(bobIRI, "bob"))

	// Bob follows Alice.
	require.NoError(t, ob.store.PutFollow(&store.Follow{
		Follower:    bobIRI,
		Followed:    aliceIRI,
		ActivityIRI: aptestutil.NewActivityID(bobIRI),
		Status:      store.FollowAccepted,
		Created:     time.Now(),
	}))

	create := vocab.NewCreateActivity(
		vocab.NewObjectProperty(vocab.WithObject(
			aptestutil.NewMockNote(testutil.MustParseURL("https://instance1.example/objects/6"), "To the world"))),
		vocab.WithActor(aliceIRI),
		vocab.WithTo(vocab.MustParseURL(vocab.PublicIRI)),
	)

	_, err := ob.Post(context.Background(), create)
	require.NoError(t, err)

	posted := ob.requirePosted(t, 1)
	require.Equal(t, "https://remote.example/actors/bob/inbox", posted[0].Target.String())
}

func TestOutbox_FollowersCollectionAddressing(t *testing.T) {
	ob := newTestOutbox(t)

	ob.client.WithActor(aptestutil.NewMockPerson(bobIRI, "bob"))

	require.NoError(t, ob.store.PutFollow(&store.Follow{
		Follower:    bobIRI,
		Followed:    aliceIRI,
		ActivityIRI: aptestutil.NewActivityID(bobIRI),
		Status:      store.FollowAccepted,
		Created:     time.Now(),
	}))

	announce := vocab.NewAnnounceActivity(
		vocab.NewObjectProperty(vocab.WithIRI(testutil.MustParseURL("https://instance1.example/objects/7"))),
		vocab.WithActor(aliceIRI),
		vocab.WithTo(testutil.MustParseURL("https://instance1.example/actors/alice/followers")),
	)

	_, err := ob.Post(context.Background(), announce)
	require.NoError(t, err)

	posted := ob.requirePosted(t, 1)
	require.Equal(t, "https://remote.example/actors/bob/inbox", posted[0].Target.String())
}

func TestOutbox_SharedInboxBatching(t *testing.T) {
	ob := newTestOutbox(t)

	sharedInboxIRI := testutil.MustParseURL("https://remote.example/inbox")

	ob.client.
		WithActor(aptestutil.NewMockPerson(bobIRI, "bob")).
		WithActor(aptestutil.NewMockPerson(carolIRI, "carol")).
		WithSharedInbox("remote.example", sharedInboxIRI)

	create := vocab.NewCreateActivity(
		vocab.NewObjectProperty(vocab.WithObject(
			aptestutil.NewMockNote(testutil.MustParseURL("https://instance1.example/objects/8"), "Batched"))),
		vocab.WithActor(aliceIRI),
		vocab.WithTo(bobIRI, carolIRI),
	)

	_, err := ob.Post(context.Background(), create)
	require.NoError(t, err)

	posted := ob.requirePosted(t, 1)
	require.Equal(t, sharedInboxIRI.String(), posted[0].Target.String())
}

func TestOutbox_Exclude(t *testing.T) {
	ob := newTestOutbox(t)

	ob.client.WithActor(aptestutil.NewMockPerson(bobIRI, "bob"))

	create := aptestutil.NewMockCreateActivity(aliceIRI, bobIRI,
		vocab.NewObjectProperty(vocab.WithObject(
			aptestutil.NewMockNote(testutil.MustParseURL("https://instance1.example/objects/9"), "Quiet"))))

	_, err := ob.Post(context.Background(), create, bobIRI)
	require.NoError(t, err)

	// The local handler runs, but nothing is delivered.
	require.Eventually(t, func() bool {
		return len(ob.handler.Activities()) == 1
	}, time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	require.Empty(t, ob.transport.Posted())
}

func TestOutbox_HiddenRecipientsStripped(t *testing.T) {
	ob := newTestOutbox(t)

	ob.client.WithActor(aptestutil.NewMockPerson(bobIRI, "bob"))

	create := vocab.NewCreateActivity(
		vocab.NewObjectProperty(vocab.WithObject(
			aptestutil.NewMockNote(testutil.MustParseURL("https://instance1.example/objects/10"), "Psst"))),
		vocab.WithActor(aliceIRI),
		vocab.WithBTo(bobIRI),
	)

	_, err := ob.Post(context.Background(), create)
	require.NoError(t, err)

	posted := ob.requirePosted(t, 1)
	require.Equal(t, "https://remote.example/actors/bob/inbox", posted[0].Target.String())
	require.NotContains(t, string(posted[0].Payload), "bto")
}

func TestOutbox_DeliveryError(t *testing.T) {
	ob := newTestOutbox(t)

	ob.client.WithActor(aptestutil.NewMockPerson(bobIRI, "bob"))
	ob.transport.WithStatusCode(http.StatusBadRequest)

	create := aptestutil.NewMockCreateActivity(aliceIRI, bobIRI,
		vocab.NewObjectProperty(vocab.WithIRI(testutil.MustParseURL("https://instance1.example/objects/11"))))

	_, err := ob.Post(context.Background(), create)
	require.NoError(t, err)

	// The 4xx is a permanent error, so the delivery is not retried.
	ob.requirePosted(t, 1)
	time.Sleep(100 * time.Millisecond)
	require.Len(t, ob.transport.Posted(), 1)
}
