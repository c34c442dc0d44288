/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package httpsubscriber

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/mux"
	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/petrel-fed/petrel/internal/pkg/httputil"
	logfields "github.com/petrel-fed/petrel/internal/pkg/log"
	petrelerrors "github.com/petrel-fed/petrel/pkg/errors"
	"github.com/petrel-fed/petrel/pkg/lifecycle"
	"github.com/petrel-fed/petrel/pkg/pubsub"
	"github.com/petrel-fed/petrel/pkg/restapi/common"
)

const (
	// ActorIRIKey is the metadata key under which the IRI of the actor that signed
	// the request is stored.
	ActorIRIKey = "actor-iri"

	// TargetIRIKey is the metadata key under which the IRI of the local actor whose
	// inbox received the request is stored. The key is absent for the shared inbox.
	TargetIRIKey = "target-iri"

	defaultBufferSize = 100

	loggerModule = "activitypub_service"
)

// Config holds the HTTP subscriber configuration parameters.
type Config struct {
	// ServiceName is the name of the service (used for logging).
	ServiceName string

	// InstanceBaseURL is the base URL of this instance, used to construct the IRI
	// of the actor that owns a per-actor inbox.
	InstanceBaseURL *url.URL

	// SharedInboxPath is the path of the shared inbox endpoint.
	SharedInboxPath string

	// ActorInboxPath is the path of the per-actor inbox endpoint. The path must
	// contain a {username} variable.
	ActorInboxPath string

	// BufferSize is the size of the Go channel buffer for incoming messages.
	BufferSize int
}

type signatureVerifier interface {
	VerifyRequest(req *http.Request) (bool, *url.URL, error)
}

type jsonLDProcessor interface {
	Compact(doc map[string]interface{}) (map[string]interface{}, error)
}

type rateLimiter interface {
	Middleware() mux.MiddlewareFunc
}

// Subscriber implements a Watermill subscriber whose messages arrive as HTTP
// requests to the inbox endpoints. A request passes through the ingress guards
// in order: rate limit, signature verification, JSON-LD compaction. The first
// failure short-circuits with the mapped status and nothing is published.
type Subscriber struct {
	*lifecycle.Lifecycle
	*Config

	pubChan   chan *message.Message
	msgChan   chan *message.Message
	stopped   chan struct{}
	done      chan struct{}
	verifier  signatureVerifier
	processor jsonLDProcessor
	limiter   rateLimiter
	logger    *log.Log
}

// New returns a new HTTP subscriber. The limiter may be nil, in which case no
// rate limit is applied.
func New(cfg *Config, verifier signatureVerifier, processor jsonLDProcessor, limiter rateLimiter) *Subscriber {
	if cfg.BufferSize == 0 {
		cfg.BufferSize = defaultBufferSize
	}

	s := &Subscriber{
		Config:    cfg,
		verifier:  verifier,
		processor: processor,
		limiter:   limiter,
		pubChan:   make(chan *message.Message, cfg.BufferSize),
		msgChan:   make(chan *message.Message, cfg.BufferSize),
		stopped:   make(chan struct{}),
		done:      make(chan struct{}),
		logger:    log.New(loggerModule, log.WithFields(logfields.WithServiceName(cfg.ServiceName))),
	}

	s.Lifecycle = lifecycle.New("httpsubscriber-"+cfg.ServiceName,
		lifecycle.WithStop(s.stop),
		lifecycle.WithStart(func() {
			go s.publisher()
		}),
	)

	// Start the service immediately so that requests arriving during router
	// startup are buffered rather than rejected.
	s.Start()

	return s
}

// Subscribe returns the channel over which incoming messages are sent.
func (s *Subscriber) Subscribe(_ context.Context, _ string) (<-chan *message.Message, error) {
	return s.msgChan, nil
}

// Close stops the subscriber.
func (s *Subscriber) Close() error {
	s.Stop()

	return nil
}

// HTTPHandlers returns the HTTP handlers for the shared inbox and the
// per-actor inbox endpoints.
func (s *Subscriber) HTTPHandlers() []common.HTTPHandler {
	return []common.HTTPHandler{
		common.NewHTTPHandler(s.SharedInboxPath, http.MethodPost, s.guarded()),
		common.NewHTTPHandler(s.ActorInboxPath, http.MethodPost, s.guarded()),
	}
}

func (s *Subscriber) guarded() common.HTTPRequestHandler {
	if s.limiter == nil {
		return s.handleMessage
	}

	wrapped := s.limiter.Middleware()(http.HandlerFunc(s.handleMessage))

	return wrapped.ServeHTTP
}

func (s *Subscriber) handleMessage(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	verified, actorIRI, err := s.verifier.VerifyRequest(req)
	if err != nil {
		s.logger.Errorc(ctx, "Error verifying HTTP signature", log.WithError(err),
			logfields.WithSenderURL(req.URL))

		httputil.WriteError(w, req, petrelerrors.NewTransient(err))

		return
	}

	if !verified {
		s.logger.Infoc(ctx, "Invalid HTTP signature", logfields.WithSenderURL(req.URL))

		httputil.WriteError(w, req, petrelerrors.NewUnauthorizedf("invalid HTTP signature"))

		return
	}

	payload, err := s.compactedPayload(req)
	if err != nil {
		s.logger.Infoc(ctx, "Invalid request payload", log.WithError(err), logfields.WithSenderURL(req.URL))

		httputil.WriteError(w, req, petrelerrors.NewBadRequest(err))

		return
	}

	msg := pubsub.NewMessage(ctx, payload)

	if actorIRI != nil {
		msg.Metadata[ActorIRIKey] = actorIRI.String()
	}

	if targetIRI := s.targetIRI(req); targetIRI != nil {
		msg.Metadata[TargetIRIKey] = targetIRI.String()
	}

	s.logger.Debugc(ctx, "Handling message", logfields.WithMessageID(msg.UUID),
		logfields.WithActorIRI(actorIRI), logfields.WithSenderURL(req.URL))

	if err := s.publish(msg); err != nil {
		s.logger.Infoc(ctx, "Message wasn't sent", logfields.WithMessageID(msg.UUID), log.WithError(err))

		w.WriteHeader(http.StatusServiceUnavailable)

		return
	}

	s.respond(msg, w, req)
}

// compactedPayload reads the request body and compacts it to the standard
// ActivityStreams context.
func (s *Subscriber) compactedPayload(req *http.Request) ([]byte, error) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}

	doc := make(map[string]interface{})

	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}

	compacted, err := s.processor.Compact(doc)
	if err != nil {
		return nil, err
	}

	return json.Marshal(compacted)
}

// targetIRI returns the IRI of the local actor that owns the inbox, or nil for
// the shared inbox.
func (s *Subscriber) targetIRI(req *http.Request) *url.URL {
	username, ok := mux.Vars(req)["username"]
	if !ok || username == "" {
		return nil
	}

	return s.InstanceBaseURL.JoinPath("actors", username)
}

func (s *Subscriber) publish(msg *message.Message) error {
	if s.State() != lifecycle.StateStarted {
		return lifecycle.ErrNotStarted
	}

	s.pubChan <- msg

	return nil
}

func (s *Subscriber) publisher() {
	for {
		select {
		case msg := <-s.pubChan:
			s.msgChan <- msg

			s.logger.Debug("Message was delivered to subscriber", logfields.WithMessageID(msg.UUID))

		case <-s.stopped:
			s.logger.Info("Stopping publisher.")

			close(s.done)

			return
		}
	}
}

// respond waits for the router to hand the message off to the durable queue
// before replying, so that a 202 means the activity will eventually be
// processed.
func (s *Subscriber) respond(msg *message.Message, w http.ResponseWriter, req *http.Request) {
	select {
	case <-msg.Acked():
		s.logger.Debug("Ack received for message", logfields.WithMessageID(msg.UUID))

		w.WriteHeader(http.StatusAccepted)

	case <-msg.Nacked():
		s.logger.Warn("Nack received for message", logfields.WithMessageID(msg.UUID))

		w.WriteHeader(http.StatusInternalServerError)

	case <-req.Context().Done():
		s.logger.Info("Timed out waiting for ack or nack for message",
			logfields.WithMessageID(msg.UUID), log.WithError(req.Context().Err()))

		w.WriteHeader(http.StatusInternalServerError)

	case <-s.stopped:
		s.logger.Info("Message was not handled since service was stopped",
			logfields.WithMessageID(msg.UUID))

		w.WriteHeader(http.StatusServiceUnavailable)
	}
}

func (s *Subscriber) stop() {
	s.logger.Info("Stopping HTTP subscriber")

	close(s.stopped)

	// Wait for the publisher to stop so that the message channel is not closed
	// while a message is being published to it.
	<-s.done

	close(s.msgChan)
}
