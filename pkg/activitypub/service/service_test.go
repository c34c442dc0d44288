/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package service

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/petrel-fed/petrel/pkg/activitypub/service/mocks"
	servicespi "github.com/petrel-fed/petrel/pkg/activitypub/service/spi"
	"github.com/petrel-fed/petrel/pkg/activitypub/store/memstore"
	store "github.com/petrel-fed/petrel/pkg/activitypub/store/spi"
	"github.com/petrel-fed/petrel/pkg/activitypub/vocab"
	"github.com/petrel-fed/petrel/pkg/internal/aptestutil"
	"github.com/petrel-fed/petrel/pkg/internal/testutil"
	"github.com/petrel-fed/petrel/pkg/pubsub/mempubsub"
)

var (
	instanceBaseURL = testutil.MustParseURL("https://instance1.example")
	aliceIRI        = testutil.MustParseURL("https://instance1.example/actors/alice")
	bobIRI          = testutil.MustParseURL("https://remote.example/actors/bob")
)

type testService struct {
	*Service

	store         *memstore.Store
	transport     *mocks.HTTPTransport
	client        *mocks.ActivityPubClient
	undeliverable *mocks.UndeliverableHandler
	server        *httptest.Server
}

func newTestService(t *testing.T) *testService {
	t.Helper()

	s := memstore.New("service1")
	tp := mocks.NewHTTPTransport()
	client := mocks.NewActivityPubClient().WithActor(aptestutil.NewMockPerson(bobIRI, "bob"))
	undeliverable := mocks.NewUndeliverableHandler()

	require.NoError(t, s.PutActor(aptestutil.NewMockPerson(aliceIRI, "alice")))

	pb := mempubsub.New(mempubsub.DefaultConfig())
	t.Cleanup(func() {
		require.NoError(t, pb.Close())
	})

	svc, err := New(
		&Config{
			ServiceName:     "service1",
			InstanceBaseURL: instanceBaseURL,
			SharedInboxPath: "/inbox",
			ActorInboxPath:  "/actors/{username}/inbox",
		},
		s, pb, tp, client, mocks.NewSignatureVerifier(bobIRI), mocks.NewJSONLDProcessor(), nil,
		mocks.NewMetricsProvider(), servicespi.WithUndeliverableHandler(undeliverable),
	)
	require.NoError(t, err)

	svc.Start()
	t.Cleanup(svc.Stop)

	router := mux.NewRouter()

	for _, h := range svc.InboxHTTPHandlers() {
		router.HandleFunc(h.Path(), h.Handler()).Methods(h.Method())
	}

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testService{
		Service:       svc,
		store:         s,
		transport:     tp,
		client:        client,
		undeliverable: undeliverable,
		server:        server,
	}
}

func TestService_OutboundFollow(t *testing.T) {
	svc := newTestService(t)

	follow := vocab.NewFollowActivity(
		vocab.NewObjectProperty(vocab.WithIRI(bobIRI)),
		vocab.WithActor(aliceIRI),
		vocab.WithTo(bobIRI),
	)

	activityID, err := svc.Outbox().Post(context.Background(), follow)
	require.NoError(t, err)

	// The Follow is delivered to bob's inbox.
	require.Eventually(t, func() bool {
		return len(svc.transport.Posted()) == 1
	}, 5*time.Second, 50*time.Millisecond)

	require.Equal(t, "https://remote.example/actors/bob/inbox", svc.transport.Posted()[0].Target.String())

	// The outbox handler records the pending follow.
	f, err := svc.store.GetFollow(aliceIRI, bobIRI)
	require.NoError(t, err)
	require.Equal(t, store.FollowPending, f.Status)
	require.Equal(t, activityID.String(), f.ActivityIRI.String())
}

func TestService_InboundAccept(t *testing.T) {
	svc := newTestService(t)

	followIRI := aptestutil.NewActivityID(aliceIRI)

	require.NoError(t, svc.store.PutFollow(&store.Follow{
		Follower:    aliceIRI,
		Followed:    bobIRI,
		ActivityIRI: followIRI,
		Status:      store.FollowPending,
		Created:     time.Now(),
	}))

	follow := vocab.NewFollowActivity(
		vocab.NewObjectProperty(vocab.WithIRI(bobIRI)),
		vocab.WithID(followIRI),
		vocab.WithActor(aliceIRI),
		vocab.WithTo(bobIRI),
	)

	accept := vocab.NewAcceptActivity(
		vocab.NewObjectProperty(vocab.WithActivity(follow)),
		vocab.WithID(aptestutil.NewActivityID(bobIRI)),
		vocab.WithActor(bobIRI),
		vocab.WithTo(aliceIRI),
	)

	payload, err := accept.MarshalJSON()
	require.NoError(t, err)

	activityChan := svc.Subscribe()

	resp, err := http.Post(svc.server.URL+"/inbox", "application/activity+json", bytes.NewReader(payload))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case activity := <-activityChan:
		require.True(t, activity.Type().Is(vocab.TypeAccept))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for activity")
	}

	f, err := svc.store.GetFollow(aliceIRI, bobIRI)
	require.NoError(t, err)
	require.Equal(t, store.FollowAccepted, f.Status)
}

func TestService_Undeliverable(t *testing.T) {
	svc := newTestService(t)

	svc.transport.WithError(errors.New("injected transport error"))

	create := aptestutil.NewMockCreateActivity(aliceIRI, bobIRI,
		vocab.NewObjectProperty(vocab.WithObject(
			aptestutil.NewMockNote(testutil.MustParseURL("https://instance1.example/objects/1"), "Hello"))))

	_, err := svc.Outbox().Post(context.Background(), create)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(svc.undeliverable.Activities()) == 1
	}, 5*time.Second, 50*time.Millisecond)

	require.Equal(t, create.ID().String(), svc.undeliverable.Activities()[0].ID().String())
}
