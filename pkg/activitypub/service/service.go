/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/mux"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/petrel-fed/petrel/internal/pkg/log"
	"github.com/petrel-fed/petrel/pkg/activitypub/client/transport"
	"github.com/petrel-fed/petrel/pkg/activitypub/service/activityhandler"
	"github.com/petrel-fed/petrel/pkg/activitypub/service/inbox"
	"github.com/petrel-fed/petrel/pkg/activitypub/service/outbox"
	service "github.com/petrel-fed/petrel/pkg/activitypub/service/spi"
	store "github.com/petrel-fed/petrel/pkg/activitypub/store/spi"
	"github.com/petrel-fed/petrel/pkg/activitypub/vocab"
	"github.com/petrel-fed/petrel/pkg/lifecycle"
	"github.com/petrel-fed/petrel/pkg/pubsub"
	"github.com/petrel-fed/petrel/pkg/pubsub/spi"
	"github.com/petrel-fed/petrel/pkg/restapi/common"
)

var logger = log.New("activitypub_service")

const (
	inboxTopic  = "petrel.activities.inbox"
	outboxTopic = "petrel.activities.outbox"
)

// PubSub defines the functions of a publisher/subscriber.
type PubSub interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
	SubscribeWithOpts(ctx context.Context, topic string, opts ...spi.Option) (<-chan *message.Message, error)
	Publish(topic string, messages ...*message.Message) error
	Close() error
}

type httpTransport interface {
	Post(ctx context.Context, req *transport.Request, payload []byte) (*http.Response, error)
}

type activityPubClient interface {
	FetchActor(actorIRI *url.URL) (*vocab.ActorType, error)
	FetchAndStoreObject(objectIRI *url.URL) (*vocab.ObjectType, error)
	FetchActorInboxIRI(actorIRI *url.URL) (*url.URL, error)
	FetchSharedInboxForDomain(domain string) (*url.URL, error)
}

type signatureVerifier interface {
	VerifyRequest(req *http.Request) (bool, *url.URL, error)
}

type jsonLDProcessor interface {
	Compact(doc map[string]interface{}) (map[string]interface{}, error)
	Hash(doc map[string]interface{}) (string, error)
}

type rateLimiter interface {
	Middleware() mux.MiddlewareFunc
}

type metricsProvider interface {
	InboxHandlerTime(activityType string, value time.Duration)
	OutboxPostTime(value time.Duration)
	OutboxResolveInboxesTime(value time.Duration)
	OutboxIncrementActivityCount(activityType string)
}

// Config holds the configuration parameters for an ActivityPub service.
type Config struct {
	ServiceName               string
	InstanceBaseURL           *url.URL
	SharedInboxPath           string
	ActorInboxPath            string
	InboxPoolSize             int
	OutboxPoolSize            int
	MaxRecipients             int
	MaxConcurrentRequests     int
	IRICacheSize              int
	IRICacheExpiration        time.Duration
	ActivityHandlerBufferSize int
}

// Service implements an ActivityPub federation service with an inbox, an outbox,
// and handlers for the supported activity types.
type Service struct {
	*lifecycle.Lifecycle

	inbox         *inbox.Inbox
	outbox        *outbox.Outbox
	inboxHandler  *activityhandler.Inbox
	outboxHandler *activityhandler.Outbox
	undeliverable service.UndeliverableActivityHandler
	undeliverChan <-chan *message.Message
	jsonUnmarshal func(data []byte, v interface{}) error
}

// New returns a new ActivityPub service.
func New(cfg *Config, activityStore store.Store, pb PubSub, t httpTransport, apClient activityPubClient,
	verifier signatureVerifier, processor jsonLDProcessor, limiter rateLimiter, metrics metricsProvider,
	handlerOpts ...service.HandlerOpt) (*Service, error) {
	outboxHandler := activityhandler.NewOutbox(
		&activityhandler.Config{
			ServiceName:     cfg.ServiceName,
			InstanceBaseURL: cfg.InstanceBaseURL,
			BufferSize:      cfg.ActivityHandlerBufferSize,
		},
		activityStore, apClient,
	)

	ob, err := outbox.New(
		&outbox.Config{
			ServiceName:           cfg.ServiceName,
			InstanceBaseURL:       cfg.InstanceBaseURL,
			Topic:                 outboxTopic,
			MaxRecipients:         cfg.MaxRecipients,
			MaxConcurrentRequests: cfg.MaxConcurrentRequests,
			CacheSize:             cfg.IRICacheSize,
			CacheExpiration:       cfg.IRICacheExpiration,
			SubscriberPoolSize:    cfg.OutboxPoolSize,
		},
		activityStore, pb, t, outboxHandler, apClient, processor, metrics,
	)
	if err != nil {
		return nil, fmt.Errorf("create outbox: %w", err)
	}

	inboxHandler := activityhandler.NewInbox(
		&activityhandler.Config{
			ServiceName:     cfg.ServiceName,
			InstanceBaseURL: cfg.InstanceBaseURL,
			BufferSize:      cfg.ActivityHandlerBufferSize,
		},
		activityStore, ob, apClient, handlerOpts...,
	)

	ib, err := inbox.New(
		&inbox.Config{
			ServiceName:     cfg.ServiceName,
			Topic:           inboxTopic,
			InstanceBaseURL: cfg.InstanceBaseURL,
			SharedInboxPath: cfg.SharedInboxPath,
			ActorInboxPath:  cfg.ActorInboxPath,
			PoolSize:        cfg.InboxPoolSize,
			BufferSize:      cfg.ActivityHandlerBufferSize,
		},
		activityStore, pb, inboxHandler, verifier, processor, limiter, metrics,
	)
	if err != nil {
		return nil, fmt.Errorf("create inbox: %w", err)
	}

	undeliverChan, err := pb.Subscribe(context.Background(), spi.UndeliverableTopic)
	if err != nil {
		return nil, fmt.Errorf("subscribe to undeliverable topic: %w", err)
	}

	options := &service.Handlers{}

	for _, opt := range handlerOpts {
		opt(options)
	}

	if options.UndeliverableHandler == nil {
		options.UndeliverableHandler = &loggingUndeliverableHandler{}
	}

	s := &Service{
		inbox:         ib,
		outbox:        ob,
		inboxHandler:  inboxHandler,
		outboxHandler: outboxHandler,
		undeliverable: options.UndeliverableHandler,
		undeliverChan: undeliverChan,
		jsonUnmarshal: json.Unmarshal,
	}

	s.Lifecycle = lifecycle.New(cfg.ServiceName,
		lifecycle.WithStart(s.start),
		lifecycle.WithStop(s.stop),
	)

	return s, nil
}

func (s *Service) start() {
	s.outboxHandler.Start()
	s.inboxHandler.Start()
	s.outbox.Start()
	s.inbox.Start()

	go s.listenForUndeliverable()
}

func (s *Service) stop() {
	s.inbox.Stop()
	s.outbox.Stop()
	s.inboxHandler.Stop()
	s.outboxHandler.Stop()

	logger.Info("Service stopped")
}

// Outbox returns the outbox, which allows clients to post activities.
func (s *Service) Outbox() service.Outbox {
	return s.outbox
}

// InboxHTTPHandlers returns the HTTP handlers for the shared inbox and the
// per-actor inboxes, to be registered with the HTTP server.
func (s *Service) InboxHTTPHandlers() []common.HTTPHandler {
	return s.inbox.HTTPHandlers()
}

// Subscribe allows a client to receive activities that were processed by the
// inbox and outbox handlers.
func (s *Service) Subscribe() <-chan *vocab.ActivityType {
	return s.inboxHandler.Subscribe()
}

// undeliverableMessage is the subset of the outbox delivery envelope that is
// needed to report an undeliverable activity.
type undeliverableMessage struct {
	Activity  *vocab.ActivityType `json:"activity"`
	TargetIRI *vocab.URLProperty  `json:"target,omitempty"`
}

func (s *Service) listenForUndeliverable() {
	for msg := range s.undeliverChan {
		undeliverable := &undeliverableMessage{}

		if err := s.jsonUnmarshal(msg.Payload, undeliverable); err != nil {
			logger.Error("Error unmarshalling undeliverable message", logfields.WithMessageID(msg.UUID),
				log.WithError(err))

			msg.Ack()

			continue
		}

		logger.Warn("Activity could not be delivered", logfields.WithMessageID(msg.UUID),
			logfields.WithActivityID(undeliverable.Activity.ID()),
			logfields.WithTargetIRI(undeliverable.TargetIRI.URL()))

		s.undeliverable.HandleUndeliverableActivity(pubsub.ContextFromMessage(msg),
			undeliverable.Activity, undeliverable.TargetIRI.String())

		msg.Ack()
	}
}

type loggingUndeliverableHandler struct{}

func (h *loggingUndeliverableHandler) HandleUndeliverableActivity(_ context.Context,
	activity *vocab.ActivityType, toURL string) {
	logger.Warn("Undeliverable activity was dropped", logfields.WithActivityID(activity.ID()),
		logfields.WithTarget(toURL))
}
