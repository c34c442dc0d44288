/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	ariesmongodbstorage "github.com/hyperledger/aries-framework-go-ext/component/storage/mongodb"
	ariesmemstorage "github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	ariesstorage "github.com/hyperledger/aries-framework-go/spi/storage"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/petrel-fed/petrel/internal/pkg/log"
	apclient "github.com/petrel-fed/petrel/pkg/activitypub/client"
	"github.com/petrel-fed/petrel/pkg/activitypub/client/transport"
	"github.com/petrel-fed/petrel/pkg/activitypub/httpsig"
	"github.com/petrel-fed/petrel/pkg/activitypub/keystore"
	"github.com/petrel-fed/petrel/pkg/activitypub/resthandler"
	apservice "github.com/petrel-fed/petrel/pkg/activitypub/service"
	apariesstore "github.com/petrel-fed/petrel/pkg/activitypub/store/ariesstore"
	apmemstore "github.com/petrel-fed/petrel/pkg/activitypub/store/memstore"
	apstore "github.com/petrel-fed/petrel/pkg/activitypub/store/spi"
	"github.com/petrel-fed/petrel/pkg/activitypub/vocab"
	discoveryrest "github.com/petrel-fed/petrel/pkg/discovery/endpoint/restapi"
	"github.com/petrel-fed/petrel/pkg/healthcheck"
	"github.com/petrel-fed/petrel/pkg/httpserver"
	"github.com/petrel-fed/petrel/pkg/httpserver/auth"
	"github.com/petrel-fed/petrel/pkg/jsonld"
	"github.com/petrel-fed/petrel/pkg/nodeinfo"
	"github.com/petrel-fed/petrel/pkg/observability/loglevels"
	"github.com/petrel-fed/petrel/pkg/observability/metrics/prometheus"
	"github.com/petrel-fed/petrel/pkg/observability/tracing"
	"github.com/petrel-fed/petrel/pkg/pubsub/amqp"
	"github.com/petrel-fed/petrel/pkg/pubsub/mempubsub"
	"github.com/petrel-fed/petrel/pkg/ratelimit"
	"github.com/petrel-fed/petrel/pkg/restapi/common"
	"github.com/petrel-fed/petrel/pkg/store"
	"github.com/petrel-fed/petrel/pkg/store/expiry"
	"github.com/petrel-fed/petrel/pkg/store/wrapper"
	"github.com/petrel-fed/petrel/pkg/taskmgr"
)

var logger = log.New("petrel-server")

const (
	serviceName = "petrel"

	sharedInboxPath = "/inbox"
	actorInboxPath  = "/actors/{username}/inbox"

	coordinationStoreName = "coordination"

	defaultServerIdleTimeout       = 2 * time.Minute
	defaultServerReadHeaderTimeout = 20 * time.Second
	defaultTaskMgrCheckInterval    = 10 * time.Second
	defaultDataExpiryCheckInterval = time.Minute

	stopTimeout = 10 * time.Second
)

// pubSub is implemented by both the AMQP and the in-memory publisher/subscriber.
type pubSub interface {
	apservice.PubSub

	IsConnected() bool
}

// GetStartCmd returns the Cobra start command.
func GetStartCmd() *cobra.Command {
	startCmd := createStartCmd()

	createFlags(startCmd)

	return startCmd
}

func createStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start petrel-server",
		Long:  "Start an ActivityPub federation server node",
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := getServerParameters(cmd)
			if err != nil {
				return err
			}

			interrupt := make(chan os.Signal, 1)
			signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)

			return startServices(params, interrupt)
		},
	}
}

// startServices wires up and starts all of the server components, then blocks
// until a signal arrives on interrupt. Components are stopped in the reverse
// of their start order.
//
//nolint:funlen,gocyclo
func startServices(params *serverParameters, interrupt <-chan os.Signal) error {
	if params.logLevel != "" {
		setLogLevels(logger, params.logLevel)
	}

	logger.Info("Starting petrel-server", logfields.WithAddress(params.hostURL),
		logfields.WithServiceIRI(params.instanceBaseURL))

	tracer, err := tracing.Initialize(params.tracingProvider, serviceName, params.tracingCollectorURL)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}

	tracer.Start()

	storageProvider, mongoDBProvider, err := createStorageProvider(params)
	if err != nil {
		return err
	}

	activityStore, multipleTagQueryCapable, err := createActivityStore(params, storageProvider)
	if err != nil {
		return err
	}

	coordinationStore, err := store.Open(storageProvider, coordinationStoreName)
	if err != nil {
		return fmt.Errorf("open coordination store: %w", err)
	}

	taskMgr := taskmgr.New(coordinationStore, defaultTaskMgrCheckInterval)

	expiryService := expiry.NewService(taskMgr, defaultDataExpiryCheckInterval)

	if ariesProvider, ok := activityStore.(*apariesstore.Provider); ok {
		ariesProvider.RegisterExpiryService(expiryService)
	}

	pubSub := createPubSub(params)

	documentLoader, err := jsonld.NewDocumentLoader(&http.Client{Timeout: params.fetchTimeout})
	if err != nil {
		return fmt.Errorf("create JSON-LD document loader: %w", err)
	}

	processor := jsonld.NewProcessor(documentLoader)

	actorRetriever := &actorRetrieverRef{}

	keyStore, err := keystore.New(keystore.Config{}, storageProvider, activityStore, actorRetriever)
	if err != nil {
		return fmt.Errorf("create key store: %w", err)
	}

	serviceIRI := params.instanceBaseURL
	if params.defaultActor != "" {
		serviceIRI = actorIRI(params.instanceBaseURL, params.defaultActor)
	}

	getSigner := httpsig.NewSigner(httpsig.DefaultGetSignerConfig())
	postSigner := httpsig.NewSigner(httpsig.DefaultPostSignerConfig())

	metrics := prometheus.GetMetrics()

	// Object fetches and activity deliveries have different latency budgets,
	// so each direction gets its own HTTP client.
	fetchTransport := transport.New(
		transport.Config{MaxRetries: uint64(params.maxRetries)},
		&http.Client{Timeout: params.fetchTimeout},
		keyStore, serviceIRI, getSigner, postSigner)

	deliveryTransport := transport.New(
		transport.Config{
			MaxRetries: uint64(params.maxRetries),
			RetryNotify: func(*url.URL, time.Duration) {
				metrics.DeliveryIncrementRetryCount()
			},
		},
		&http.Client{Timeout: params.deliveryTimeout},
		keyStore, serviceIRI, getSigner, postSigner)

	apClient := apclient.New(apclient.Config{}, fetchTransport, activityStore, processor)

	actorRetriever.client = apClient

	verifier := httpsig.NewVerifier(httpsig.DefaultVerifierConfig(), keyStore)

	redisClient := createRedisClient(params)

	limiter := ratelimit.New(ratelimit.Config{}, createRateLimitCounter(redisClient))

	activityPubService, err := apservice.New(
		&apservice.Config{
			ServiceName:     serviceName,
			InstanceBaseURL: params.instanceBaseURL,
			SharedInboxPath: sharedInboxPath,
			ActorInboxPath:  actorInboxPath,
			InboxPoolSize:   params.inboxPoolSize,
			OutboxPoolSize:  params.outboxPoolSize,
		},
		activityStore, pubSub, deliveryTransport, apClient, verifier, processor,
		limiter, metrics,
	)
	if err != nil {
		return fmt.Errorf("create ActivityPub service: %w", err)
	}

	tokenVerifier := auth.NewTokenVerifier(auth.ParseActorTokens(params.actorAuthTokens))

	localActors := localActorUsernames(params)

	if err := bootstrapLocalActors(params, keyStore, activityStore, localActors); err != nil {
		return err
	}

	nodeInfoService := nodeinfo.NewService(params.instanceBaseURL, localActorIRIs(params.instanceBaseURL, localActors),
		params.nodeInfoRefreshInterval, activityStore, multipleTagQueryCapable)

	httpServer := httpserver.New(params.hostURL, params.tlsCertificate, params.tlsKey,
		defaultServerIdleTimeout, defaultServerReadHeaderTimeout,
		createHTTPHandlers(params, activityStore, activityPubService, processor,
			tokenVerifier, nodeInfoService, pubSub, mongoDBProvider, redisClient)...)

	taskMgr.Start()
	nodeInfoService.Start()
	activityPubService.Start()

	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("start HTTP server: %w", err)
	}

	logger.Info("Started petrel-server")

	<-interrupt

	logger.Info("Shutting down petrel-server")

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	if err := httpServer.Stop(ctx); err != nil {
		logger.Warn("Error stopping HTTP server", log.WithError(err))
	}

	activityPubService.Stop()
	nodeInfoService.Stop()
	taskMgr.Stop()

	if err := pubSub.Close(); err != nil {
		logger.Warn("Error closing publisher/subscriber", log.WithError(err))
	}

	tracer.Stop()

	return nil
}

// createStorageProvider returns the underlying storage provider. The MongoDB
// provider is also returned separately since it backs the health check probe.
func createStorageProvider(params *serverParameters) (ariesstorage.Provider, *wrapper.ProviderWrapper, error) {
	if params.databaseType != databaseTypeMongoDBOption {
		return ariesmemstorage.NewProvider(), nil, nil
	}

	var opts []ariesmongodbstorage.Option
	if params.databasePrefix != "" {
		opts = append(opts, ariesmongodbstorage.WithDBPrefix(params.databasePrefix))
	}

	mongoDBProvider, err := ariesmongodbstorage.NewProvider(params.databaseURL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create MongoDB storage provider: %w", err)
	}

	wrapped := wrapper.NewProvider(mongoDBProvider, "MongoDB", prometheus.GetMetrics())

	return wrapped, wrapped, nil
}

func createActivityStore(params *serverParameters,
	storageProvider ariesstorage.Provider) (apstore.Store, bool, error) {
	if params.databaseType != databaseTypeMongoDBOption {
		return apmemstore.New(serviceName), false, nil
	}

	activityStore, err := apariesstore.New(serviceName, storageProvider, true)
	if err != nil {
		return nil, false, fmt.Errorf("create ActivityPub store: %w", err)
	}

	return activityStore, true, nil
}

func createPubSub(params *serverParameters) pubSub {
	if params.mqURL != "" {
		return amqp.New(amqp.Config{URI: params.mqURL})
	}

	return mempubsub.New(mempubsub.DefaultConfig())
}

func createRedisClient(params *serverParameters) *redisclient.Client {
	if params.redisHost == "" {
		return nil
	}

	return redisclient.NewClient(&redisclient.Options{
		Addr: net.JoinHostPort(params.redisHost, params.redisPort),
	})
}

func createRateLimitCounter(redisClient *redisclient.Client) ratelimit.Counter {
	if redisClient != nil {
		return ratelimit.NewRedisCounter(redisClient)
	}

	return ratelimit.NewMemoryCounter()
}

//nolint:funlen
func createHTTPHandlers(params *serverParameters, activityStore apstore.Store,
	activityPubService *apservice.Service, processor *jsonld.Processor,
	tokenVerifier *auth.TokenVerifier, nodeInfoService *nodeinfo.Service,
	pubSub pubSub, mongoDBProvider *wrapper.ProviderWrapper,
	redisClient *redisclient.Client) []common.HTTPHandler {
	apCfg := &resthandler.Config{
		InstanceBaseURL: params.instanceBaseURL,
	}

	handlers := []common.HTTPHandler{
		resthandler.NewActor(apCfg, activityStore),
		resthandler.NewFollowers(apCfg, activityStore),
		resthandler.NewFollowing(apCfg, activityStore),
		resthandler.NewOutbox(apCfg, activityStore),
		resthandler.NewLiked(apCfg, activityStore),
		resthandler.NewInbox(apCfg, activityStore, tokenVerifier),
		resthandler.NewObject(apCfg, activityStore),
		resthandler.NewPostOutbox(apCfg, activityStore, activityPubService.Outbox(), processor, tokenVerifier),
	}

	handlers = append(handlers, activityPubService.InboxHTTPHandlers()...)

	discoveryOp := discoveryrest.New(
		&discoveryrest.Config{InstanceBaseURL: params.instanceBaseURL},
		activityStore,
	)

	handlers = append(handlers, discoveryOp.GetRESTHandlers()...)

	handlers = append(handlers,
		nodeinfo.NewHandler(nodeinfo.V1_0, nodeInfoService),
		nodeinfo.NewHandler(nodeinfo.V2_0, nodeInfoService),
	)

	var dbProbe interface{ Ping() error }
	if mongoDBProvider != nil {
		dbProbe = mongoDBProvider
	}

	var redisProbe interface{ Ping(ctx context.Context) error }
	if redisClient != nil {
		redisProbe = &redisPinger{client: redisClient}
	}

	return append(handlers,
		healthcheck.NewHandler(pubSub, dbProbe, redisProbe),
		loglevels.NewWriteHandler(),
		loglevels.NewReadHandler(),
		prometheus.NewScrapeHandler(),
	)
}

// localActorUsernames returns the usernames of all configured local actors,
// including the default actor.
func localActorUsernames(params *serverParameters) []string {
	usernames := make(map[string]struct{})

	for username := range auth.ParseActorTokens(params.actorAuthTokens) {
		usernames[username] = struct{}{}
	}

	if params.defaultActor != "" {
		usernames[params.defaultActor] = struct{}{}
	}

	actors := make([]string, 0, len(usernames))

	for username := range usernames {
		actors = append(actors, username)
	}

	return actors
}

func localActorIRIs(instanceBaseURL *url.URL, usernames []string) []*url.URL {
	iris := make([]*url.URL, len(usernames))

	for i, username := range usernames {
		iris[i] = actorIRI(instanceBaseURL, username)
	}

	return iris
}

// bootstrapLocalActors ensures that every configured local actor has a key pair
// and a stored actor document. The private key seed, if provided, applies only
// to the default actor. When the instance has no default actor, a key pair is
// still provisioned for the instance itself so that outgoing requests can be
// signed.
func bootstrapLocalActors(params *serverParameters, keyStore *keystore.Store,
	activityStore apstore.Store, usernames []string) error {
	if params.defaultActor == "" {
		if err := keyStore.EnsureKeyPair(params.instanceBaseURL, params.defaultActorPrivateKeyPEM); err != nil {
			return fmt.Errorf("ensure key pair for instance: %w", err)
		}
	}

	for _, username := range usernames {
		iri := actorIRI(params.instanceBaseURL, username)

		seedPEM := ""
		if username == params.defaultActor {
			seedPEM = params.defaultActorPrivateKeyPEM
		}

		if err := keyStore.EnsureKeyPair(iri, seedPEM); err != nil {
			return fmt.Errorf("ensure key pair for actor %s: %w", iri, err)
		}

		if err := bootstrapActor(keyStore, activityStore, params.instanceBaseURL, username); err != nil {
			return err
		}
	}

	return nil
}

func bootstrapActor(keyStore *keystore.Store, activityStore apstore.Store,
	instanceBaseURL *url.URL, username string) error {
	iri := actorIRI(instanceBaseURL, username)

	_, err := activityStore.GetActor(iri)
	if err == nil {
		return nil
	}

	if !errors.Is(err, apstore.ErrNotFound) {
		return fmt.Errorf("query actor %s: %w", iri, err)
	}

	publicKey, err := keyStore.PublicKey(iri)
	if err != nil {
		return fmt.Errorf("get public key of actor %s: %w", iri, err)
	}

	actor := vocab.NewPerson(iri,
		vocab.WithPublicKey(publicKey),
		vocab.WithPreferredUsername(username),
		vocab.WithInbox(iri.JoinPath("inbox")),
		vocab.WithOutbox(iri.JoinPath("outbox")),
		vocab.WithFollowers(iri.JoinPath("followers")),
		vocab.WithFollowing(iri.JoinPath("following")),
		vocab.WithLiked(iri.JoinPath("liked")),
		vocab.WithSharedInbox(instanceBaseURL.JoinPath("inbox")),
	)

	if err := activityStore.PutActor(actor); err != nil {
		return fmt.Errorf("store actor %s: %w", iri, err)
	}

	logger.Info("Created local actor", logfields.WithActorIRI(iri))

	return nil
}

func actorIRI(instanceBaseURL *url.URL, username string) *url.URL {
	return instanceBaseURL.JoinPath("actors", username)
}

// actorRetrieverRef breaks the construction cycle between the key store and the
// ActivityPub client: the key store resolves remote public keys through the
// client, and the client's transport signs requests with keys from the key
// store. The client is set immediately after it is created.
type actorRetrieverRef struct {
	client *apclient.Client
}

func (r *actorRetrieverRef) FetchActor(iri *url.URL) (*vocab.ActorType, error) {
	if r.client == nil {
		return nil, fmt.Errorf("ActivityPub client is not initialized")
	}

	return r.client.FetchActor(iri)
}

// redisPinger adapts the Redis client to the health check probe.
type redisPinger struct {
	client *redisclient.Client
}

func (p *redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
