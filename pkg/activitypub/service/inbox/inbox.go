/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/gorilla/mux"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/petrel-fed/petrel/internal/pkg/log"
	"github.com/petrel-fed/petrel/pkg/activitypub/service/inbox/httpsubscriber"
	service "github.com/petrel-fed/petrel/pkg/activitypub/service/spi"
	store "github.com/petrel-fed/petrel/pkg/activitypub/store/spi"
	"github.com/petrel-fed/petrel/pkg/activitypub/vocab"
	petrelerrors "github.com/petrel-fed/petrel/pkg/errors"
	"github.com/petrel-fed/petrel/pkg/iri"
	"github.com/petrel-fed/petrel/pkg/lifecycle"
	"github.com/petrel-fed/petrel/pkg/pubsub"
	"github.com/petrel-fed/petrel/pkg/pubsub/spi"
	"github.com/petrel-fed/petrel/pkg/pubsub/wmlogger"
	"github.com/petrel-fed/petrel/pkg/restapi/common"
)

const loggerModule = "activitypub_service"

type pubSub interface {
	SubscribeWithOpts(ctx context.Context, topic string, opts ...spi.Option) (<-chan *message.Message, error)
	Publish(topic string, messages ...*message.Message) error
	Close() error
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

type metricsProvider interface {
	InboxHandlerTime(activityType string, value time.Duration)
}

// Config holds configuration parameters for the inbox.
type Config struct {
	ServiceName     string
	Topic           string
	InstanceBaseURL *url.URL
	SharedInboxPath string
	ActorInboxPath  string
	PoolSize        int
	BufferSize      int
}

// Inbox implements the ActivityPub inbox. Activities arrive over HTTP, pass the
// ingress guards and are queued for processing. A worker picks each activity up,
// deduplicates it by its normalized IRI, persists it and dispatches it to the
// activity handler.
type Inbox struct {
	*Config
	*lifecycle.Lifecycle

	router          *message.Router
	httpSubscriber  *httpsubscriber.Subscriber
	msgChannel      <-chan *message.Message
	activityHandler service.ActivityHandler
	activityStore   store.Store
	metrics         metricsProvider
	logger          *log.Log
}

// New returns a new ActivityPub inbox.
func New(cfg *Config, s store.Store, pb pubSub, activityHandler service.ActivityHandler,
	verifier signatureVerifier, processor jsonLDProcessor, limiter rateLimiter,
	metrics metricsProvider) (*Inbox, error) {
	h := &Inbox{
		Config:          cfg,
		activityHandler: activityHandler,
		activityStore:   s,
		metrics:         metrics,
		logger:          log.New(loggerModule, log.WithFields(logfields.WithServiceName(cfg.ServiceName))),
	}

	h.Lifecycle = lifecycle.New(cfg.ServiceName,
		lifecycle.WithStart(h.start),
		lifecycle.WithStop(h.stop),
	)

	msgChan, err := pb.SubscribeWithOpts(context.Background(), cfg.Topic, spi.WithPool(cfg.PoolSize))
	if err != nil {
		return nil, fmt.Errorf("subscribe to topic [%s]: %w", cfg.Topic, err)
	}

	h.httpSubscriber = httpsubscriber.New(
		&httpsubscriber.Config{
			ServiceName:     cfg.ServiceName,
			InstanceBaseURL: cfg.InstanceBaseURL,
			SharedInboxPath: cfg.SharedInboxPath,
			ActorInboxPath:  cfg.ActorInboxPath,
			BufferSize:      cfg.BufferSize,
		},
		verifier, processor, limiter,
	)

	router, err := message.NewRouter(message.RouterConfig{}, wmlogger.New())
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	router.AddMiddleware(middleware.Recoverer, middleware.CorrelationID)

	// The router forwards messages from the HTTP subscriber to the durable queue.
	// The HTTP request is acknowledged once the message is in the queue.
	router.AddHandler(
		"inbox-"+cfg.ServiceName, cfg.Topic,
		h.httpSubscriber, cfg.Topic, pb,
		func(msg *message.Message) ([]*message.Message, error) {
			return message.Messages{msg}, nil
		},
	)

	h.router = router
	h.msgChannel = msgChan

	return h, nil
}

// HTTPHandlers returns the HTTP handlers for the inbox endpoints. These
// handlers must be registered with the HTTP server.
func (h *Inbox) HTTPHandlers() []common.HTTPHandler {
	return h.httpSubscriber.HTTPHandlers()
}

func (h *Inbox) start() {
	go h.route()
	go h.listen()

	// The HTTP subscriber must not accept requests until the router is running.
	<-h.router.Running()
}

func (h *Inbox) stop() {
	if err := h.router.Close(); err != nil {
		h.logger.Warn("Error closing router", log.WithError(err))
	} else {
		h.logger.Debug("Closed router")
	}
}

func (h *Inbox) route() {
	h.logger.Debug("Starting router")

	if err := h.router.Run(context.Background()); err != nil {
		// This happens on startup so the best thing to do is to panic.
		panic(err)
	}

	h.logger.Debug("Router stopped")
}

func (h *Inbox) listen() {
	h.logger.Debug("Starting message listener")

	for msg := range h.msgChannel {
		h.logger.Debug("Got new message", logfields.WithMessageID(msg.UUID),
			logfields.WithPayload(msg.Payload))

		h.handle(msg)
	}

	h.logger.Debug("Message listener stopped")
}

// handle processes a single queued activity. A transient failure nacks the
// message so that it is redelivered, any other failure is logged and the
// message is acknowledged.
func (h *Inbox) handle(msg *message.Message) {
	startTime := time.Now()

	activity, err := h.process(msg)
	if err != nil {
		if petrelerrors.IsTransient(err) {
			h.logger.Warn("Transient error handling message. Message will be redelivered.",
				logfields.WithMessageID(msg.UUID), log.WithError(err))

			msg.Nack()

			return
		}

		h.logger.Error("Permanent error handling message. Message will NOT be redelivered.",
			logfields.WithMessageID(msg.UUID), log.WithError(err))
	}

	msg.Ack()

	if activity != nil {
		h.metrics.InboxHandlerTime(activity.Type().String(), time.Since(startTime))
	}
}

func (h *Inbox) process(msg *message.Message) (*vocab.ActivityType, error) {
	activity := &vocab.ActivityType{}

	if err := json.Unmarshal(msg.Payload, activity); err != nil {
		return nil, petrelerrors.NewBadRequest(fmt.Errorf("unmarshal activity: %w", err))
	}

	if activity.ID() == nil || activity.ID().URL() == nil {
		return nil, petrelerrors.NewBadRequestf("no ID specified in activity")
	}

	activityIRI := iri.NormalizeURL(activity.ID().URL())

	activity.SetID(activityIRI)

	processed, err := h.activityStore.IsProcessed(activityIRI)
	if err != nil {
		return activity, petrelerrors.NewTransient(fmt.Errorf("check processed set for activity [%s]: %w",
			activityIRI, err))
	}

	if processed {
		h.logger.Info("Ignoring duplicate activity", logfields.WithActivityID(activity.ID()),
			logfields.WithMessageID(msg.UUID))

		return activity, nil
	}

	if err := h.activityStore.AddActivity(activity); err != nil {
		return activity, petrelerrors.NewTransient(fmt.Errorf("store activity [%s]: %w", activityIRI, err))
	}

	for _, inboxOwner := range h.inboxOwners(msg, activity) {
		if err := h.activityStore.AddReference(store.Inbox, inboxOwner, activityIRI,
			store.WithActivityType(activityType(activity))); err != nil {
			return activity, petrelerrors.NewTransient(fmt.Errorf("add inbox reference for activity [%s]: %w",
				activityIRI, err))
		}
	}

	if err := h.activityHandler.HandleActivity(pubsub.ContextFromMessage(msg), activity); err != nil {
		return activity, fmt.Errorf("handle activity [%s]: %w", activityIRI, err)
	}

	// The activity goes into the processed set only after the handler succeeds so
	// that a redelivery of a failed attempt runs the handler again. The handlers
	// are idempotent, so a concurrent delivery that slips past the check above
	// does no harm.
	firstTime, err := h.activityStore.AddProcessed(activityIRI)
	if err != nil {
		return activity, petrelerrors.NewTransient(fmt.Errorf("mark activity [%s] as processed: %w",
			activityIRI, err))
	}

	if !firstTime {
		h.logger.Debug("Activity was concurrently marked as processed",
			logfields.WithActivityID(activity.ID()), logfields.WithMessageID(msg.UUID))
	}

	h.logger.Debug("Successfully handled activity", logfields.WithActivityID(activity.ID()),
		logfields.WithMessageID(msg.UUID))

	return activity, nil
}

// inboxOwners returns the IRIs of the local actors in whose inboxes the activity
// is filed. For a per-actor inbox this is the owner of the endpoint; for the
// shared inbox it is every local recipient of the activity.
func (h *Inbox) inboxOwners(msg *message.Message, activity *vocab.ActivityType) []*url.URL {
	if target := msg.Metadata[httpsubscriber.TargetIRIKey]; target != "" {
		targetIRI, err := url.Parse(target)
		if err != nil {
			h.logger.Warn("Ignoring invalid target IRI in message metadata",
				logfields.WithMessageID(msg.UUID), log.WithError(err))

			return nil
		}

		return []*url.URL{iri.NormalizeURL(targetIRI)}
	}

	var owners []*url.URL

	for _, recipient := range activity.Recipients() {
		if vocab.IsPublic(recipient) || recipient.Host != h.InstanceBaseURL.Host {
			continue
		}

		if _, err := h.activityStore.GetActor(iri.NormalizeURL(recipient)); err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				h.logger.Warn("Error resolving local recipient", logfields.WithActorIRI(recipient),
					log.WithError(err))
			}

			continue
		}

		owners = append(owners, iri.NormalizeURL(recipient))
	}

	return owners
}

func activityType(activity *vocab.ActivityType) vocab.Type {
	types := activity.Type().Types()
	if len(types) == 0 {
		return ""
	}

	return types[0]
}
