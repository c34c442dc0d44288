/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package httpsubscriber

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/petrel-fed/petrel/pkg/activitypub/service/mocks"
	"github.com/petrel-fed/petrel/pkg/internal/testutil"
)

var (
	instanceBaseURL = testutil.MustParseURL("https://instance1.example")
	bobIRI          = testutil.MustParseURL("https://remote.example/actors/bob")
)

type testSubscriber struct {
	*Subscriber

	verifier *mocks.SignatureVerifier
	msgChan  <-chan *message.Message
	server   *httptest.Server
}

func newTestSubscriber(t *testing.T, limiter rateLimiter) *testSubscriber {
	t.Helper()

	verifier := mocks.NewSignatureVerifier(bobIRI)

	s := New(
		&Config{
			ServiceName:     "service1",
			InstanceBaseURL: instanceBaseURL,
			SharedInboxPath: "/inbox",
			ActorInboxPath:  "/actors/{username}/inbox",
		},
		verifier, mocks.NewJSONLDProcessor(), limiter,
	)

	msgChan, err := s.Subscribe(context.Background(), "inbox")
	require.NoError(t, err)

	router := mux.NewRouter()

	for _, h := range s.HTTPHandlers() {
		router.HandleFunc(h.Path(), h.Handler()).Methods(h.Method())
	}

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testSubscriber{
		Subscriber: s,
		verifier:   verifier,
		msgChan:    msgChan,
		server:     server,
	}
}

// nextMessage acks and returns the next message on the subscriber channel,
// simulating the router handing the message off to the queue.
func (s *testSubscriber) nextMessage(t *testing.T) *message.Message {
	t.Helper()

	select {
	case msg := <-s.msgChan:
		msg.Ack()

		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")

		return nil
	}
}

func (s *testSubscriber) post(t *testing.T, path string, payload []byte) int {
	t.Helper()

	resp, err := http.Post(s.server.URL+path, "application/activity+json", bytes.NewReader(payload))
	require.NoError(t, err)

	require.NoError(t, resp.Body.Close())

	return resp.StatusCode
}

func TestSubscriber_SharedInbox(t *testing.T) {
	s := newTestSubscriber(t, nil)
	defer s.Stop()

	msgReceived := make(chan *message.Message, 1)

	go func() {
		msgReceived <- s.nextMessage(t)
	}()

	require.Equal(t, http.StatusAccepted, s.post(t, "/inbox", []byte(`{"content":"a note"}`)))

	msg := <-msgReceived
	require.Equal(t, bobIRI.String(), msg.Metadata[ActorIRIKey])
	require.Empty(t, msg.Metadata[TargetIRIKey])
	require.Contains(t, string(msg.Payload), "a note")
}

func TestSubscriber_ActorInbox(t *testing.T) {
	s := newTestSubscriber(t, nil)
	defer s.Stop()

	msgReceived := make(chan *message.Message, 1)

	go func() {
		msgReceived <- s.nextMessage(t)
	}()

	require.Equal(t, http.StatusAccepted, s.post(t, "/actors/alice/inbox", []byte(`{}`)))

	msg := <-msgReceived
	require.Equal(t, "https://instance1.example/actors/alice", msg.Metadata[TargetIRIKey])
}

func TestSubscriber_Guards(t *testing.T) {
	t.Run("Invalid signature -> 401", func(t *testing.T) {
		s := newTestSubscriber(t, nil)
		defer s.Stop()

		s.verifier.WithVerified(false)

		require.Equal(t, http.StatusUnauthorized, s.post(t, "/inbox", []byte(`{}`)))
	})

	t.Run("Verifier error -> 500", func(t *testing.T) {
		s := newTestSubscriber(t, nil)
		defer s.Stop()

		s.verifier.WithError(errors.New("injected verifier error"))

		require.Equal(t, http.StatusInternalServerError, s.post(t, "/inbox", []byte(`{}`)))
	})

	t.Run("Invalid payload -> 400", func(t *testing.T) {
		s := newTestSubscriber(t, nil)
		defer s.Stop()

		require.Equal(t, http.StatusBadRequest, s.post(t, "/inbox", []byte("not json")))
	})

	t.Run("Rate limited -> 429", func(t *testing.T) {
		s := newTestSubscriber(t, &rejectingLimiter{})
		defer s.Stop()

		require.Equal(t, http.StatusTooManyRequests, s.post(t, "/inbox", []byte(`{}`)))
	})
}

func TestSubscriber_Nack(t *testing.T) {
	s := newTestSubscriber(t, nil)
	defer s.Stop()

	go func() {
		msg := <-s.msgChan
		msg.Nack()
	}()

	require.Equal(t, http.StatusInternalServerError, s.post(t, "/inbox", []byte(`{}`)))
}

func TestSubscriber_RequestTimeout(t *testing.T) {
	s := newTestSubscriber(t, nil)
	defer s.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.server.URL+"/inbox",
		bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)

	//nolint:bodyclose
	_, err = http.DefaultClient.Do(req)
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubscriber_Stopped(t *testing.T) {
	s := newTestSubscriber(t, nil)

	s.Stop()

	require.Equal(t, http.StatusServiceUnavailable, s.post(t, "/inbox", []byte(`{}`)))
}

type rejectingLimiter struct{}

func (l *rejectingLimiter) Middleware() mux.MiddlewareFunc {
	return func(_ http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
}
