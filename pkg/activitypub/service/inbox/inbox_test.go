/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package inbox

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/petrel-fed/petrel/pkg/activitypub/service/mocks"
	"github.com/petrel-fed/petrel/pkg/activitypub/store/memstore"
	store "github.com/petrel-fed/petrel/pkg/activitypub/store/spi"
	"github.com/petrel-fed/petrel/pkg/activitypub/store/storeutil"
	"github.com/petrel-fed/petrel/pkg/activitypub/vocab"
	petrelerrors "github.com/petrel-fed/petrel/pkg/errors"
	"github.com/petrel-fed/petrel/pkg/internal/aptestutil"
	"github.com/petrel-fed/petrel/pkg/internal/testutil"
	"github.com/petrel-fed/petrel/pkg/pubsub/mempubsub"
)

var (
	instanceBaseURL = testutil.MustParseURL("https://instance1.example")
	aliceIRI        = testutil.MustParseURL("https://instance1.example/actors/alice")
	bobIRI          = testutil.MustParseURL("https://remote.example/actors/bob")
)

type testInbox struct {
	*Inbox

	store    *memstore.Store
	handler  *mocks.ActivityHandler
	verifier *mocks.SignatureVerifier
	server   *httptest.Server
}

func newTestInbox(t *testing.T) *testInbox {
	t.Helper()

	s := memstore.New("service1")
	handler := mocks.NewActivityHandler()
	verifier := mocks.NewSignatureVerifier(bobIRI)

	require.NoError(t, s.PutActor(aptestutil.NewMockPerson(aliceIRI, "alice")))

	pb := mempubsub.New(mempubsub.DefaultConfig())
	t.Cleanup(func() {
		require.NoError(t, pb.Close())
	})

	ib, err := New(
		&Config{
			ServiceName:     "service1",
			Topic:           "inbox",
			InstanceBaseURL: instanceBaseURL,
			SharedInboxPath: "/inbox",
			ActorInboxPath:  "/actors/{username}/inbox",
		},
		s, pb, handler, verifier, mocks.NewJSONLDProcessor(), nil, mocks.NewMetricsProvider(),
	)
	require.NoError(t, err)

	ib.Start()
	t.Cleanup(ib.Stop)

	router := mux.NewRouter()

	for _, h := range ib.HTTPHandlers() {
		router.HandleFunc(h.Path(), h.Handler()).Methods(h.Method())
	}

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testInbox{
		Inbox:    ib,
		store:    s,
		handler:  handler,
		verifier: verifier,
		server:   server,
	}
}

func (ib *testInbox) post(t *testing.T, path string, payload []byte) int {
	t.Helper()

	resp, err := http.Post(ib.server.URL+path, "application/activity+json", bytes.NewReader(payload))
	require.NoError(t, err)

	require.NoError(t, resp.Body.Close())

	return resp.StatusCode
}

func (ib *testInbox) inboxRefs(t *testing.T, owner *vocab.URLProperty) int {
	t.Helper()

	it, err := ib.store.QueryReferences(store.Inbox, store.NewCriteria(store.WithObjectIRI(owner.URL())))
	require.NoError(t, err)

	refs, err := storeutil.ReadReferences(it, -1)
	require.NoError(t, err)

	return len(refs)
}

func TestInbox_SharedInbox(t *testing.T) {
	ib := newTestInbox(t)

	create := aptestutil.NewMockCreateActivity(bobIRI, aliceIRI,
		vocab.NewObjectProperty(vocab.WithObject(
			aptestutil.NewMockNote(testutil.MustParseURL("https://remote.example/objects/1"), "Hello"))))

	payload, err := create.MarshalJSON()
	require.NoError(t, err)

	require.Equal(t, http.StatusAccepted, ib.post(t, "/inbox", payload))

	require.Eventually(t, func() bool {
		return len(ib.handler.Activities()) == 1
	}, 5*time.Second, 50*time.Millisecond)

	require.Equal(t, create.ID().String(), ib.handler.Activities()[0].ID().String())

	// The activity is stored and filed in the local recipient's inbox.
	_, err = ib.store.GetActivity(create.ID().URL())
	require.NoError(t, err)

	require.Equal(t, 1, ib.inboxRefs(t, vocab.NewURLProperty(aliceIRI)))
}

func TestInbox_ActorInbox(t *testing.T) {
	ib := newTestInbox(t)

	// Address the note to the public collection. The activity is still filed in
	// alice's inbox since her endpoint received it.
	create := vocab.NewCreateActivity(
		vocab.NewObjectProperty(vocab.WithObject(
			aptestutil.NewMockNote(testutil.MustParseURL("https://remote.example/objects/2"), "Hi"))),
		vocab.WithID(aptestutil.NewActivityID(bobIRI)),
		vocab.WithActor(bobIRI),
		vocab.WithTo(vocab.MustParseURL(vocab.PublicIRI)),
	)

	payload, err := create.MarshalJSON()
	require.NoError(t, err)

	require.Equal(t, http.StatusAccepted, ib.post(t, "/actors/alice/inbox", payload))

	require.Eventually(t, func() bool {
		return ib.inboxRefs(t, vocab.NewURLProperty(aliceIRI)) == 1
	}, 5*time.Second, 50*time.Millisecond)
}

func TestInbox_DuplicateActivity(t *testing.T) {
	ib := newTestInbox(t)

	create := aptestutil.NewMockCreateActivity(bobIRI, aliceIRI,
		vocab.NewObjectProperty(vocab.WithObject(
			aptestutil.NewMockNote(testutil.MustParseURL("https://remote.example/objects/3"), "Again"))))

	payload, err := create.MarshalJSON()
	require.NoError(t, err)

	require.Equal(t, http.StatusAccepted, ib.post(t, "/inbox", payload))
	require.Equal(t, http.StatusAccepted, ib.post(t, "/inbox", payload))

	require.Eventually(t, func() bool {
		return len(ib.handler.Activities()) == 1
	}, 5*time.Second, 50*time.Millisecond)

	// The duplicate is acknowledged but not handled a second time.
	time.Sleep(100 * time.Millisecond)
	require.Len(t, ib.handler.Activities(), 1)
}

func TestInbox_RedeliveryAfterTransientError(t *testing.T) {
	ib := newTestInbox(t)

	create := aptestutil.NewMockCreateActivity(bobIRI, aliceIRI,
		vocab.NewObjectProperty(vocab.WithObject(
			aptestutil.NewMockNote(testutil.MustParseURL("https://remote.example/objects/5"), "Retry"))))

	payload, err := create.MarshalJSON()
	require.NoError(t, err)

	ib.handler.WithError(petrelerrors.NewTransientf("injected handler error"))

	msg := message.NewMessage(watermill.NewUUID(), payload)
	ib.handle(msg)

	select {
	case <-msg.Nacked():
	case <-time.After(time.Second):
		t.Fatal("expected message to be nacked")
	}

	require.Empty(t, ib.handler.Activities())

	// The failed attempt must not have marked the activity as processed, so a
	// redelivery runs the handler again.
	processed, err := ib.store.IsProcessed(create.ID().URL())
	require.NoError(t, err)
	require.False(t, processed)

	ib.handler.WithError(nil)

	redelivered := message.NewMessage(watermill.NewUUID(), payload)
	ib.handle(redelivered)

	select {
	case <-redelivered.Acked():
	case <-time.After(time.Second):
		t.Fatal("expected message to be acked")
	}

	require.Len(t, ib.handler.Activities(), 1)

	processed, err = ib.store.IsProcessed(create.ID().URL())
	require.NoError(t, err)
	require.True(t, processed)
}

func TestInbox_BadRequests(t *testing.T) {
	ib := newTestInbox(t)

	t.Run("Invalid JSON -> 400", func(t *testing.T) {
		require.Equal(t, http.StatusBadRequest, ib.post(t, "/inbox", []byte("not json")))
	})

	t.Run("Invalid signature -> 401", func(t *testing.T) {
		ib.verifier.WithVerified(false)
		defer ib.verifier.WithVerified(true)

		require.Equal(t, http.StatusUnauthorized, ib.post(t, "/inbox", []byte("{}")))
	})

	t.Run("Verifier error -> 500", func(t *testing.T) {
		errExpected := errors.New("injected verifier error")

		ib.verifier.WithError(errExpected)
		defer ib.verifier.WithError(nil)

		require.Equal(t, http.StatusInternalServerError, ib.post(t, "/inbox", []byte("{}")))
	})

	t.Run("No activity ID -> accepted but not handled", func(t *testing.T) {
		// The guards cannot reject the payload without parsing the activity, so the
		// request is accepted and the activity is dropped by the worker.
		create := vocab.NewCreateActivity(
			vocab.NewObjectProperty(vocab.WithIRI(testutil.MustParseURL("https://remote.example/objects/4"))),
			vocab.WithActor(bobIRI),
			vocab.WithTo(aliceIRI),
		)

		payload, err := create.MarshalJSON()
		require.NoError(t, err)

		require.Equal(t, http.StatusAccepted, ib.post(t, "/inbox", payload))

		time.Sleep(100 * time.Millisecond)
		require.Empty(t, ib.handler.Activities())
	})
}
