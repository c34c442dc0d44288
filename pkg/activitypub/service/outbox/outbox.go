/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	wmhttp "github.com/ThreeDotsLabs/watermill-http/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/bluele/gcache"
	"github.com/google/uuid"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/petrel-fed/petrel/internal/pkg/log"
	"github.com/petrel-fed/petrel/pkg/activitypub/client/transport"
	service "github.com/petrel-fed/petrel/pkg/activitypub/service/spi"
	store "github.com/petrel-fed/petrel/pkg/activitypub/store/spi"
	"github.com/petrel-fed/petrel/pkg/activitypub/store/storeutil"
	"github.com/petrel-fed/petrel/pkg/activitypub/vocab"
	petrelerrors "github.com/petrel-fed/petrel/pkg/errors"
	"github.com/petrel-fed/petrel/pkg/iri"
	"github.com/petrel-fed/petrel/pkg/lifecycle"
	"github.com/petrel-fed/petrel/pkg/pubsub"
	"github.com/petrel-fed/petrel/pkg/pubsub/spi"
)

const (
	loggerModule = "activitypub_service"

	followersPathSuffix = "/followers"

	defaultMaxRecipients          = 1000
	defaultConcurrentHTTPRequests = 10
	defaultCacheSize              = 100
	defaultCacheExpiration        = time.Minute
	defaultSubscriberPoolSize     = 5
)

type pubSub interface {
	SubscribeWithOpts(ctx context.Context, topic string, opts ...spi.Option) (<-chan *message.Message, error)
	Publish(topic string, messages ...*message.Message) error
	Close() error
}

// Config holds configuration parameters for the outbox.
type Config struct {
	ServiceName           string
	InstanceBaseURL       *url.URL
	Topic                 string
	MaxRecipients         int
	MaxConcurrentRequests int
	CacheSize             int
	CacheExpiration       time.Duration
	SubscriberPoolSize    int
}

type activityPubClient interface {
	FetchActorInboxIRI(actorIRI *url.URL) (*url.URL, error)
	FetchSharedInboxForDomain(domain string) (*url.URL, error)
}

type httpTransport interface {
	Post(ctx context.Context, req *transport.Request, payload []byte) (*http.Response, error)
}

type jsonLDProcessor interface {
	Hash(doc map[string]interface{}) (string, error)
}

type metricsProvider interface {
	OutboxPostTime(value time.Duration)
	OutboxResolveInboxesTime(value time.Duration)
	OutboxIncrementActivityCount(activityType string)
}

// Outbox implements the ActivityPub outbox for all actors on this instance.
// Posted activities are persisted, run through the local activity handler for
// side effects, and then fanned out to the inboxes of the resolved recipients.
type Outbox struct {
	*Config
	*lifecycle.Lifecycle

	httpTransport   httpTransport
	publisher       message.Publisher
	activityHandler service.ActivityHandler
	msgChan         <-chan *message.Message
	activityStore   store.Store
	client          activityPubClient
	processor       jsonLDProcessor
	jsonMarshal     func(v interface{}) ([]byte, error)
	jsonUnmarshal   func(data []byte, v interface{}) error
	iriCache        gcache.Cache
	metrics         metricsProvider
	logger          *log.Log
}

// New returns a new ActivityPub outbox.
func New(cnfg *Config, s store.Store, pubSub pubSub, t httpTransport, activityHandler service.ActivityHandler,
	apClient activityPubClient, processor jsonLDProcessor, metrics metricsProvider) (*Outbox, error) {
	cfg := populateConfigDefaults(cnfg)

	logger := log.New(loggerModule, log.WithFields(logfields.WithServiceName(cfg.ServiceName)))

	msgChan, err := pubSub.SubscribeWithOpts(context.Background(), cfg.Topic, spi.WithPool(cfg.SubscriberPoolSize))
	if err != nil {
		return nil, fmt.Errorf("subscribe to topic [%s]: %w", cfg.Topic, err)
	}

	h := &Outbox{
		Config:          &cfg,
		activityHandler: activityHandler,
		activityStore:   s,
		client:          apClient,
		processor:       processor,
		publisher:       pubSub,
		msgChan:         msgChan,
		jsonMarshal:     json.Marshal,
		jsonUnmarshal:   json.Unmarshal,
		metrics:         metrics,
		httpTransport:   t,
		logger:          logger,
	}

	h.Lifecycle = lifecycle.New(cfg.ServiceName,
		lifecycle.WithStart(h.start),
		lifecycle.WithStop(h.stop),
	)

	h.iriCache = gcache.New(cfg.CacheSize).ARC().
		Expiration(cfg.CacheExpiration).
		LoaderFunc(func(i interface{}) (interface{}, error) {
			actorIRI, err := url.Parse(i.(string)) //nolint:forcetypeassert
			if err != nil {
				return nil, fmt.Errorf("parse actor IRI: %w", err)
			}

			return h.resolveInboxIRI(actorIRI)
		}).Build()

	return h, nil
}

func (h *Outbox) start() {
	go h.listen()
}

func (h *Outbox) stop() {
	h.logger.Info("Outbox stopped")
}

func (h *Outbox) listen() {
	for msg := range h.msgChan {
		h.logger.Debug("Got new message", logfields.WithMessageID(msg.UUID), logfields.WithPayload(msg.Payload))

		h.handle(msg)
	}
}

type messageType string

const (
	broadcastType         messageType = "broadcast"
	deliverType           messageType = "deliver"
	resolveAndDeliverType messageType = "resolve-and-deliver"
)

type activityMessage struct {
	Type        messageType                  `json:"type"`
	Activity    *vocab.ActivityType          `json:"activity"`
	TargetIRI   *vocab.URLProperty           `json:"target,omitempty"`
	ExcludeIRIs *vocab.URLCollectionProperty `json:"exclude,omitempty"`
}

// Post posts an activity to the outbox and returns the ID of the posted activity.
// If the activity does not specify an ID then a unique ID is generated, and the
// 'published' timestamp is set if absent. The actor of the activity must be an
// actor on this instance. An exclude list may be provided so that the activity
// is not delivered to the given URLs.
func (h *Outbox) Post(ctx context.Context, activity *vocab.ActivityType, exclude ...*url.URL) (*url.URL, error) {
	if h.State() != lifecycle.StateStarted {
		return nil, lifecycle.ErrNotStarted
	}

	h.incrementCount(activity.Type().Types())

	startTime := time.Now()
	defer func() {
		h.metrics.OutboxPostTime(time.Since(startTime))
	}()

	activity, err := h.validateAndPopulateActivity(activity)
	if err != nil {
		return nil, err
	}

	if err := h.publishBroadcastMessage(ctx, activity, exclude); err != nil {
		return nil, fmt.Errorf("publish activity message [%s]: %w", activity.ID(), err)
	}

	return activity.ID().URL(), nil
}

func (h *Outbox) handle(msg *message.Message) {
	activity, err := h.handleActivityMsg(msg)

	switch {
	case err == nil:
		h.logger.Debug("Acking activity message", logfields.WithMessageID(msg.UUID),
			logfields.WithActivityID(activity.ID()))

		msg.Ack()
	case petrelerrors.IsTransient(err):
		h.logger.Warn("Transient error handling message", logfields.WithMessageID(msg.UUID), log.WithError(err))

		msg.Nack()
	default:
		h.logger.Warn("Persistent error handling message", logfields.WithMessageID(msg.UUID), log.WithError(err))

		// Ack the message so that it is not redelivered, since the error is permanent.
		msg.Ack()
	}
}

func (h *Outbox) handleActivityMsg(msg *message.Message) (*vocab.ActivityType, error) {
	activityMsg := &activityMessage{}

	if err := h.jsonUnmarshal(msg.Payload, activityMsg); err != nil {
		return nil, fmt.Errorf("unmarshal activity message [%s]: %w", msg.UUID, err)
	}

	ctx := pubsub.ContextFromMessage(msg)

	switch activityMsg.Type {
	case broadcastType:
		h.logger.Debugc(ctx, "Handling 'broadcast' activity message",
			logfields.WithMessageID(msg.UUID), logfields.WithActivityID(activityMsg.Activity.ID()))

		if err := h.handleBroadcast(ctx, activityMsg.Activity, activityMsg.ExcludeIRIs.URLs()); err != nil {
			return nil, fmt.Errorf("handle 'broadcast' message for activity [%s]: %w",
				activityMsg.Activity.ID(), err)
		}

		return activityMsg.Activity, nil

	case resolveAndDeliverType:
		h.logger.Debugc(ctx, "Handling 'resolve-and-deliver' activity message", logfields.WithMessageID(msg.UUID),
			logfields.WithActivityID(activityMsg.Activity.ID()), logfields.WithTargetIRI(activityMsg.TargetIRI.URL()))

		if err := h.handleResolveAndDeliver(ctx, activityMsg.Activity, activityMsg.TargetIRI.URL(),
			activityMsg.ExcludeIRIs.URLs()); err != nil {
			return nil, fmt.Errorf("handle 'resolve-and-deliver' message for activity [%s] of type [%s] to [%s]: %w",
				activityMsg.Activity.ID(), activityMsg.Activity.Type(), activityMsg.TargetIRI, err)
		}

		return activityMsg.Activity, nil

	case deliverType:
		h.logger.Debugc(ctx, "Handling 'deliver' activity message", logfields.WithMessageID(msg.UUID),
			logfields.WithActivityID(activityMsg.Activity.ID()), logfields.WithTargetIRI(activityMsg.TargetIRI.URL()))

		if err := h.deliver(ctx, activityMsg.Activity, activityMsg.TargetIRI.URL()); err != nil {
			return nil, fmt.Errorf("handle 'deliver' message for activity [%s] of type [%s] to [%s]: %w",
				activityMsg.Activity.ID(), activityMsg.Activity.Type(), activityMsg.TargetIRI, err)
		}

		return activityMsg.Activity, nil

	default:
		return nil, fmt.Errorf("unsupported activity message type [%s]", activityMsg.Type)
	}
}

func (h *Outbox) handleBroadcast(ctx context.Context, activity *vocab.ActivityType, excludeIRIs []*url.URL) error {
	h.logger.Debugc(ctx, "Handling broadcast for activity", logfields.WithActivityID(activity.ID()))

	if err := h.storeActivity(activity); err != nil {
		return fmt.Errorf("store activity: %w", err)
	}

	if err := h.activityHandler.HandleActivity(ctx, activity); err != nil {
		return fmt.Errorf("handle activity: %w", err)
	}

	recipients := activity.Recipients()

	// The delivered copy must not include 'bto' and 'bcc'.
	activity.StripHiddenRecipients()

	for _, r := range h.resolveInboxes(activity.Actor(), recipients, excludeIRIs) {
		switch {
		case r.err == nil:
			if err := h.publishDeliverMessage(ctx, activity, r.iri); err != nil {
				// Publishing only fails if there is something wrong with the local
				// server, e.g. it is being shut down.
				return fmt.Errorf("publish activity to inbox %s: %w", r.iri, err)
			}
		case petrelerrors.IsTransient(r.err):
			h.logger.Warnc(ctx, "Transient error resolving inbox. IRI will be retried.",
				logfields.WithTargetIRI(r.iri), log.WithError(r.err))

			if err := h.publishResolveAndDeliverMessage(ctx, activity, r.iri, excludeIRIs); err != nil {
				return fmt.Errorf("publish activity for resolve %s: %w", r.iri, err)
			}
		default:
			h.logger.Errorc(ctx, "Persistent error resolving inbox. IRI will be ignored.",
				log.WithError(r.err), logfields.WithTargetIRI(r.iri))
		}
	}

	return nil
}

func (h *Outbox) handleResolveAndDeliver(ctx context.Context, activity *vocab.ActivityType, toIRI *url.URL,
	excludeIRIs []*url.URL) error {
	for _, r := range h.resolveInboxes(activity.Actor(), []*url.URL{toIRI}, excludeIRIs) {
		if r.err != nil {
			return fmt.Errorf("resolve inbox [%s]: %w", r.iri, r.err)
		}

		if err := h.publishDeliverMessage(ctx, activity, r.iri); err != nil {
			return fmt.Errorf("publish activity to inbox %s: %w", r.iri, err)
		}
	}

	return nil
}

func (h *Outbox) storeActivity(activity *vocab.ActivityType) error {
	if err := h.activityStore.AddActivity(activity); err != nil {
		return fmt.Errorf("store activity: %w", err)
	}

	if err := h.activityStore.AddReference(store.Outbox, activity.Actor(), activity.ID().URL(),
		store.WithActivityType(activity.Type().Types()[0])); err != nil {
		return fmt.Errorf("add outbox reference to activity: %w", err)
	}

	return nil
}

func (h *Outbox) publishBroadcastMessage(ctx context.Context, activity *vocab.ActivityType,
	excludeIRIs []*url.URL) error {
	return h.publishActivityMessage(ctx, &activityMessage{
		Type:        broadcastType,
		Activity:    activity,
		ExcludeIRIs: vocab.NewURLCollectionProperty(excludeIRIs...),
	})
}

func (h *Outbox) publishResolveAndDeliverMessage(ctx context.Context, activity *vocab.ActivityType,
	targetIRI *url.URL, excludeIRIs []*url.URL) error {
	return h.publishActivityMessage(ctx, &activityMessage{
		Type:        resolveAndDeliverType,
		Activity:    activity,
		TargetIRI:   vocab.NewURLProperty(targetIRI),
		ExcludeIRIs: vocab.NewURLCollectionProperty(excludeIRIs...),
	})
}

func (h *Outbox) publishDeliverMessage(ctx context.Context, activity *vocab.ActivityType, target *url.URL) error {
	return h.publishActivityMessage(ctx, &activityMessage{
		Type:      deliverType,
		Activity:  activity,
		TargetIRI: vocab.NewURLProperty(target),
	})
}

func (h *Outbox) publishActivityMessage(ctx context.Context, activityMsg *activityMessage) error {
	msgBytes, err := h.jsonMarshal(activityMsg)
	if err != nil {
		return petrelerrors.NewBadRequestf("marshal: %w", err)
	}

	msg := pubsub.NewMessage(ctx, msgBytes)

	h.logger.Debugc(ctx, "Publishing activity message to topic", logfields.WithMessageID(msg.UUID),
		logfields.WithActivityID(activityMsg.Activity.ID()), logfields.WithTopic(h.Topic),
		logfields.WithType(string(activityMsg.Type)))

	return h.publisher.Publish(h.Topic, msg)
}

// resolveInboxes expands the given recipient list into the set of inbox IRIs to
// deliver to. The Public IRI expands to the followers of the posting actor, and
// a local followers collection IRI expands to the followers of its owner. When
// two or more actors on the same remote domain are addressed and the domain
// advertises a shared inbox, the shared inbox replaces the individual inboxes.
func (h *Outbox) resolveInboxes(actorIRI *url.URL, toIRIs, excludeIRIs []*url.URL) []*resolveIRIResponse {
	startTime := time.Now()

	defer func() {
		h.metrics.OutboxResolveInboxesTime(time.Since(startTime))
	}()

	var responses []*resolveIRIResponse

	var recipientIRIs []*url.URL

	for _, r := range h.resolveIRIs(toIRIs,
		func(toIRI *url.URL) []*resolveIRIResponse {
			return h.expandRecipient(actorIRI, toIRI)
		},
	) {
		if r.err != nil {
			responses = append(responses, r)
		} else {
			recipientIRIs = append(recipientIRIs, r.iri)
		}
	}

	recipientIRIs = deduplicateAndFilter(recipientIRIs, excludeIRIs)

	sharedInboxes, actorIRIs := h.batchBySharedInbox(recipientIRIs)

	for _, inboxIRI := range sharedInboxes {
		responses = append(responses, &resolveIRIResponse{iri: inboxIRI})
	}

	return append(responses, h.resolveIRIs(actorIRIs, h.resolveInbox)...)
}

// expandRecipient maps a single addressed IRI to zero or more actor IRIs.
func (h *Outbox) expandRecipient(actorIRI, toIRI *url.URL) []*resolveIRIResponse {
	switch {
	case vocab.IsPublic(toIRI):
		responses, err := h.resolveFollowers(actorIRI)
		if err != nil {
			return []*resolveIRIResponse{{iri: toIRI, err: err}}
		}

		return responses
	case h.isLocal(toIRI) && strings.HasSuffix(toIRI.Path, followersPathSuffix):
		ownerIRI := *toIRI
		ownerIRI.Path = strings.TrimSuffix(toIRI.Path, followersPathSuffix)

		responses, err := h.resolveFollowers(&ownerIRI)
		if err != nil {
			return []*resolveIRIResponse{{iri: toIRI, err: err}}
		}

		return responses
	case iri.Equal(toIRI.String(), actorIRI.String()):
		// Never deliver an activity back to its author.
		return nil
	default:
		return []*resolveIRIResponse{{iri: toIRI}}
	}
}

func (h *Outbox) resolveFollowers(actorIRI *url.URL) ([]*resolveIRIResponse, error) {
	it, err := h.activityStore.QueryReferences(store.Follower,
		store.NewCriteria(store.WithObjectIRI(actorIRI)))
	if err != nil {
		return nil, petrelerrors.NewTransientf("query followers of %s: %w", actorIRI, err)
	}

	refs, err := storeutil.ReadReferences(it, h.MaxRecipients)
	if err != nil {
		return nil, petrelerrors.NewTransientf("read followers of %s: %w", actorIRI, err)
	}

	responses := make([]*resolveIRIResponse, len(refs))

	for i, ref := range refs {
		responses[i] = &resolveIRIResponse{iri: ref}
	}

	return responses, nil
}

// batchBySharedInbox groups remote actor IRIs by domain. A domain with two or
// more addressed actors is probed for a shared inbox, and on success a single
// shared inbox replaces the group. The returned actor IRIs are the recipients
// that remain to be resolved to individual inboxes.
func (h *Outbox) batchBySharedInbox(recipientIRIs []*url.URL) (sharedInboxes, actorIRIs []*url.URL) {
	byDomain := make(map[string][]*url.URL)

	for _, actorIRI := range recipientIRIs {
		if h.isLocal(actorIRI) {
			continue
		}

		byDomain[iri.Domain(actorIRI.String())] = append(byDomain[iri.Domain(actorIRI.String())], actorIRI)
	}

	batched := make(map[string]struct{})

	for domain, actors := range byDomain {
		if len(actors) < 2 {
			continue
		}

		sharedInbox, err := h.client.FetchSharedInboxForDomain(domain)
		if err != nil {
			h.logger.Debug("No shared inbox for domain. Delivering to individual inboxes.",
				logfields.WithDomain(domain), log.WithError(err))

			continue
		}

		h.logger.Debug("Using shared inbox for domain", logfields.WithDomain(domain),
			logfields.WithInboxIRI(sharedInbox), logfields.WithTotal(len(actors)))

		batched[domain] = struct{}{}

		sharedInboxes = append(sharedInboxes, sharedInbox)
	}

	for _, actorIRI := range recipientIRIs {
		if _, ok := batched[iri.Domain(actorIRI.String())]; ok && !h.isLocal(actorIRI) {
			continue
		}

		actorIRIs = append(actorIRIs, actorIRI)
	}

	return sharedInboxes, actorIRIs
}

// resolveInbox maps an actor IRI to its inbox IRI.
func (h *Outbox) resolveInbox(targetIRI *url.URL) []*resolveIRIResponse {
	if h.isLocal(targetIRI) {
		inboxIRI, err := h.localActorInbox(targetIRI)
		if err != nil {
			return []*resolveIRIResponse{{iri: targetIRI, err: err}}
		}

		return []*resolveIRIResponse{{iri: inboxIRI}}
	}

	result, err := h.iriCache.Get(targetIRI.String())
	if err != nil {
		return []*resolveIRIResponse{{iri: targetIRI, err: err}}
	}

	return []*resolveIRIResponse{{iri: result.(*url.URL)}} //nolint:forcetypeassert
}

func (h *Outbox) resolveInboxIRI(actorIRI *url.URL) (*url.URL, error) {
	inboxIRI, err := h.client.FetchActorInboxIRI(actorIRI)
	if err != nil {
		return nil, fmt.Errorf("fetch inbox IRI for actor [%s]: %w", actorIRI, err)
	}

	return inboxIRI, nil
}

func (h *Outbox) localActorInbox(actorIRI *url.URL) (*url.URL, error) {
	actor, err := h.activityStore.GetActor(iri.NormalizeURL(actorIRI))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("local actor not found [%s]: %w", actorIRI, err)
		}

		return nil, petrelerrors.NewTransientf("get local actor [%s]: %w", actorIRI, err)
	}

	return actor.Inbox(), nil
}

func (h *Outbox) isLocal(u *url.URL) bool {
	return u.Host == h.InstanceBaseURL.Host
}

type resolveIRIResponse struct {
	iri *url.URL
	err error
}

// resolveIRIs resolves each of the given IRIs using the given resolve function.
// The requests are performed in parallel, up to MaxConcurrentRequests at a time.
func (h *Outbox) resolveIRIs(toIRIs []*url.URL,
	resolve func(iri *url.URL) []*resolveIRIResponse) []*resolveIRIResponse {
	var wg sync.WaitGroup

	var responses []*resolveIRIResponse

	var mutex sync.Mutex

	wg.Add(len(toIRIs))

	resolveChan := make(chan *url.URL, h.MaxConcurrentRequests)

	go func() {
		for _, iriToResolve := range toIRIs {
			resolveChan <- iriToResolve
		}
	}()

	go func() {
		for reqIRI := range resolveChan {
			go func(toIRI *url.URL) {
				defer wg.Done()

				response := resolve(toIRI)

				mutex.Lock()
				responses = append(responses, response...)
				mutex.Unlock()
			}(reqIRI)
		}
	}()

	wg.Wait()

	close(resolveChan)

	return responses
}

func (h *Outbox) newActivityID() *url.URL {
	id, err := url.Parse(fmt.Sprintf("%s/activities/%s", h.InstanceBaseURL, uuid.New()))
	if err != nil {
		// Should never happen since the base URL has already been validated.
		panic(err)
	}

	return id
}

func (h *Outbox) validateAndPopulateActivity(activity *vocab.ActivityType) (*vocab.ActivityType, error) {
	actorIRI := activity.Actor()

	if actorIRI == nil {
		return nil, petrelerrors.NewBadRequestf("no actor specified in activity")
	}

	if !h.isLocal(actorIRI) {
		return nil, petrelerrors.NewBadRequestf("actor [%s] is not an actor on this instance", actorIRI)
	}

	if activity.ID() == nil {
		activity.SetID(h.newActivityID())
	}

	if activity.Published() == nil {
		now := time.Now()

		activity.SetPublished(&now)
	}

	return activity, nil
}

func (h *Outbox) incrementCount(types []vocab.Type) {
	for _, activityType := range types {
		h.metrics.OutboxIncrementActivityCount(string(activityType))
	}
}

// deliver posts the activity to the target inbox over the signed HTTP transport.
// The message ID is the SHA-256 of the canonical form of the activity, so that
// redeliveries of the same activity carry the same correlation ID.
func (h *Outbox) deliver(ctx context.Context, activity *vocab.ActivityType, target *url.URL) error {
	activityBytes, err := h.jsonMarshal(activity)
	if err != nil {
		return fmt.Errorf("marshal activity: %w", err)
	}

	msgID, err := h.correlationID(activityBytes)
	if err != nil {
		return fmt.Errorf("correlation ID for activity [%s]: %w", activity.ID(), err)
	}

	req := transport.NewRequest(target,
		transport.WithHeader(transport.AcceptHeader, transport.ActivityStreamsContentType),
		transport.WithHeader(wmhttp.HeaderUUID, msgID),
		transport.WithSigningActor(activity.Actor()),
	)

	h.logger.Debugc(ctx, "Delivering activity", logfields.WithActivityID(activity.ID()),
		logfields.WithMessageID(msgID), logfields.WithTargetIRI(target))

	resp, err := h.httpTransport.Post(ctx, req, activityBytes)
	if err != nil {
		return petrelerrors.NewTransientf("deliver activity [%s] to [%s]: %w", activity.ID(), target, err)
	}

	if err := resp.Body.Close(); err != nil {
		h.logger.Warn("Error closing response body", log.WithError(err))
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return petrelerrors.NewTransientf("server [%s] responded with error %d - %s",
			target, resp.StatusCode, resp.Status)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("server [%s] responded with error %d - %s", target, resp.StatusCode, resp.Status)
	}

	h.logger.Debugc(ctx, "Activity successfully delivered", logfields.WithActivityID(activity.ID()),
		logfields.WithTargetIRI(target))

	return nil
}

func (h *Outbox) correlationID(activityBytes []byte) (string, error) {
	doc := make(map[string]interface{})

	if err := json.Unmarshal(activityBytes, &doc); err != nil {
		return "", fmt.Errorf("unmarshal activity: %w", err)
	}

	hash, err := h.processor.Hash(doc)
	if err != nil {
		return "", fmt.Errorf("hash activity: %w", err)
	}

	return hash, nil
}

func populateConfigDefaults(cnfg *Config) Config {
	cfg := *cnfg

	if cfg.MaxRecipients <= 0 {
		cfg.MaxRecipients = defaultMaxRecipients
	}

	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = defaultConcurrentHTTPRequests
	}

	if cfg.CacheSize == 0 {
		cfg.CacheSize = defaultCacheSize
	}

	if cfg.CacheExpiration == 0 {
		cfg.CacheExpiration = defaultCacheExpiration
	}

	if cfg.SubscriberPoolSize == 0 {
		cfg.SubscriberPoolSize = defaultSubscriberPoolSize
	}

	return cfg
}

func deduplicateAndFilter(toIRIs, excludeIRIs []*url.URL) []*url.URL {
	m := make(map[string]struct{})

	var iris []*url.URL

	for _, u := range toIRIs {
		strIRI := u.String()

		if _, exists := m[strIRI]; !exists && !contains(excludeIRIs, u) {
			iris = append(iris, u)
			m[strIRI] = struct{}{}
		}
	}

	return iris
}

func contains(arr []*url.URL, u *url.URL) bool {
	for _, s := range arr {
		if s.String() == u.String() {
			return true
		}
	}

	return false
}
