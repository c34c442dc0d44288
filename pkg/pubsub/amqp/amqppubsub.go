/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package amqp

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill-amqp/v2/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v4"
	amqplib "github.com/rabbitmq/amqp091-go"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/petrel-fed/petrel/internal/pkg/log"
	"github.com/petrel-fed/petrel/pkg/errors"
	"github.com/petrel-fed/petrel/pkg/lifecycle"
	"github.com/petrel-fed/petrel/pkg/pubsub/spi"
	"github.com/petrel-fed/petrel/pkg/pubsub/wmlogger"
)

const loggerModule = "pubsub"

var logger = log.New(loggerModule)

const (
	defaultMaxConnectRetries          = 25
	defaultMaxConnectInterval         = 5 * time.Second
	defaultMaxConnectElapsedTime      = 3 * time.Minute
	defaultMaxConnectionSubscriptions = 1000
	defaultChannelsPerConnection      = 25

	defaultMaxRedeliveryAttempts     = 3
	defaultRedeliveryMultiplier      = 2.0
	defaultRedeliveryInitialInterval = time.Second
	defaultMaxRedeliveryInterval     = 30 * time.Second

	exchange           = "petrel"
	redeliveryQueue    = "petrel.redelivery"
	redeliveryExchange = "petrel.redelivery"
	waitExchange       = "petrel.wait"
	waitQueue          = "petrel.wait"
	directExchangeType = "direct"

	expiredReason = "expired"

	metadataDeadLetterExchange   = "x-dead-letter-exchange"
	metadataDeadLetterRoutingKey = "x-dead-letter-routing-key"
	metadataDeath                = "x-death"
	metadataFirstDeathQueue      = "x-first-death-queue"
	metadataFirstDeathReason     = "x-first-death-reason"
	metadataRedeliveryCount      = "petrel-redelivery-count"
	metadataQueue                = "petrel-queue"
	metadataExpiration           = "expiration"
)

// Config holds the configuration for the publisher/subscriber.
type Config struct {
	URI                        string
	MaxConnectRetries          uint64
	MaxConnectionSubscriptions int
	PublisherChannelPoolSize   int
	PublisherConfirmDelivery   bool
	MaxRedeliveryAttempts      int
	RedeliveryMultiplier       float64
	RedeliveryInitialInterval  time.Duration
	MaxRedeliveryInterval      time.Duration
}

type closeable interface {
	Close() error
}

type subscriber interface {
	closeable
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
}

type initializingSubscriber interface {
	subscriber
	SubscribeInitialize(topic string) error
}

type publisher interface {
	closeable
	Publish(topic string, messages ...*message.Message) error
}

type subscriberFactory = func() (initializingSubscriber, error)

type createPublisherFunc = func(cfg *amqp.Config) (publisher, error)

// PubSub implements a publisher/subscriber that connects to an AMQP-compatible message queue.
type PubSub struct {
	*lifecycle.Lifecycle
	Config

	amqpConfig                  amqp.Config
	amqpRedeliveryConfig        amqp.Config
	amqpWaitConfig              amqp.Config
	subscriber                  subscriber
	publisher                   publisher
	redeliverySubscriber        subscriber
	waitSubscriber              initializingSubscriber
	waitPublisher               publisher
	pools                       []*pooledSubscriber
	mutex                       sync.RWMutex
	subscriberFactory           subscriberFactory
	createPublisher             createPublisherFunc
	redeliverySubscriberFactory subscriberFactory
	waitSubscriberFactory       subscriberFactory
	redeliveryChan              <-chan *message.Message
}

// New returns a new AMQP publisher/subscriber.
func New(cfg Config) *PubSub {
	cfg = initConfig(cfg)

	p := &PubSub{
		Config:               cfg,
		amqpConfig:           newQueueConfig(cfg),
		amqpRedeliveryConfig: newRedeliveryQueueConfig(cfg),
		amqpWaitConfig:       newWaitQueueConfig(cfg),
	}

	p.Lifecycle = lifecycle.New("amqp",
		lifecycle.WithStart(p.start),
		lifecycle.WithStop(p.stop))

	p.subscriberFactory = func() (initializingSubscriber, error) {
		return amqp.NewSubscriber(p.amqpConfig, wmlogger.New())
	}

	p.createPublisher = func(cfg *amqp.Config) (publisher, error) {
		return amqp.NewPublisher(*cfg, wmlogger.New())
	}

	p.redeliverySubscriberFactory = func() (initializingSubscriber, error) {
		return amqp.NewSubscriber(p.amqpRedeliveryConfig, wmlogger.New())
	}

	p.waitSubscriberFactory = func() (initializingSubscriber, error) {
		return amqp.NewSubscriber(p.amqpWaitConfig, wmlogger.New())
	}

	// Start the service immediately.
	p.Start()

	return p
}

// Subscribe subscribes to a topic and returns the Go channel over which messages
// are sent. The returned channel will be closed when Close() is called on this struct.
func (p *PubSub) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return p.SubscribeWithOpts(ctx, topic)
}

// SubscribeWithOpts subscribes to a topic using the given options, and returns the Go channel over which messages
// are sent. The returned channel will be closed when Close() is called on this struct.
func (p *PubSub) SubscribeWithOpts(ctx context.Context, topic string,
	opts ...spi.Option) (<-chan *message.Message, error) {
	if p.State() != lifecycle.StateStarted {
		return nil, lifecycle.ErrNotStarted
	}

	options := &spi.Options{}

	for _, opt := range opts {
		opt(options)
	}

	if options.PoolSize == 0 {
		logger.Debug("Subscribing to topic", logfields.WithTopic(topic))

		return p.subscriber.Subscribe(ctx, topic)
	}

	logger.Debug("Creating subscriber pool for topic", logfields.WithTopic(topic),
		logfields.WithSize(options.PoolSize))

	pool, err := newPooledSubscriber(ctx, options.PoolSize, p.subscriber, topic)
	if err != nil {
		return nil, fmt.Errorf("subscriber pool: %w", err)
	}

	p.mutex.Lock()
	p.pools = append(p.pools, pool)
	p.mutex.Unlock()

	pool.start()

	return pool.msgChan, nil
}

// Publish publishes the given messages to the given topic. Publish errors are
// marked transient since the message queue may only be temporarily unavailable.
func (p *PubSub) Publish(topic string, messages ...*message.Message) error {
	if p.State() != lifecycle.StateStarted {
		return lifecycle.ErrNotStarted
	}

	logger.Debug("Publishing messages to topic", logfields.WithTopic(topic))

	if err := p.publisher.Publish(topic, messages...); err != nil {
		return errors.NewTransient(err)
	}

	return nil
}

// PublishWithOpts simply calls Publish since options are not supported.
func (p *PubSub) PublishWithOpts(topic string, msg *message.Message, _ ...spi.Option) error {
	return p.Publish(topic, msg)
}

// IsConnected returns true if the publisher/subscriber is connected to the message queue.
func (p *PubSub) IsConnected() bool {
	return p.State() == lifecycle.StateStarted
}

// Close stops the publisher/subscriber.
func (p *PubSub) Close() error {
	p.Stop()

	return nil
}

func (p *PubSub) stop() {
	logger.Debug("Closing publisher...")

	if err := p.publisher.Close(); err != nil {
		logger.Warn("Error closing publisher", log.WithError(err))
	}

	if err := p.waitPublisher.Close(); err != nil {
		logger.Warn("Error closing wait publisher", log.WithError(err))
	}

	logger.Debug("Closing subscriber...")

	if err := p.subscriber.Close(); err != nil {
		logger.Warn("Error closing subscriber", log.WithError(err))
	}

	if err := p.redeliverySubscriber.Close(); err != nil {
		logger.Warn("Error closing redelivery subscriber", log.WithError(err))
	}

	if err := p.waitSubscriber.Close(); err != nil {
		logger.Warn("Error closing wait subscriber", log.WithError(err))
	}

	logger.Debug("Closing pools...")

	p.mutex.RLock()
	defer p.mutex.RUnlock()

	for _, s := range p.pools {
		s.stop()
	}
}

func (p *PubSub) start() {
	endpoint := extractEndpoint(p.amqpConfig.Connection.AmqpURI)

	logger.Info("Connecting to message queue", logfields.WithEndpoint(endpoint))

	maxRetries := p.MaxConnectRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxConnectRetries
	}

	err := backoff.RetryNotify(
		func() error {
			return p.connect()
		},
		backoff.WithMaxRetries(newConnectBackOff(), maxRetries),
		func(err error, duration time.Duration) {
			logger.Debug("Error connecting to AMQP service. Retrying...",
				logfields.WithEndpoint(endpoint), logfields.WithDeliveryDelay(duration), log.WithError(err))
		},
	)
	if err != nil {
		panic(fmt.Sprintf("Unable to connect to message queue after %d attempts", maxRetries))
	}

	retryChan, err := p.redeliverySubscriber.Subscribe(context.Background(), redeliveryQueue)
	if err != nil {
		panic(fmt.Sprintf("Unable to subscribe to queue [%s]: %s", redeliveryQueue, err))
	}

	p.redeliveryChan = retryChan

	// Initialize the wait queue so that it is created. This queue contains all messages that
	// need to wait for redelivery. There are actually no subscribers to this queue. Messages in
	// this queue have an expiration time, so when the message expires, it is automatically placed
	// back on the redelivery queue.
	err = p.waitSubscriber.SubscribeInitialize(waitQueue)
	if err != nil {
		panic(fmt.Sprintf("Unable to initialize queue [%s]: %s", waitQueue, err))
	}

	go p.processRedeliveryQueue()

	logger.Info("Successfully connected to message queue", logfields.WithEndpoint(endpoint))
}

func (p *PubSub) connect() error {
	pub, err := newPublisherPool(defaultChannelsPerConnection, &p.amqpConfig, p.createPublisher)
	if err != nil {
		return err
	}

	p.subscriber = newSubscriberMgr(p.MaxConnectionSubscriptions, p.subscriberFactory)
	p.publisher = pub

	p.redeliverySubscriber = newSubscriberMgr(p.MaxConnectionSubscriptions, p.redeliverySubscriberFactory)

	waitPub, err := p.createPublisher(&p.amqpWaitConfig)
	if err != nil {
		return err
	}

	p.waitSubscriber = newSubscriberMgr(p.MaxConnectionSubscriptions, p.waitSubscriberFactory)
	p.waitPublisher = waitPub

	return nil
}

/*
processRedeliveryQueue processes messages from the 'redelivery' queue. The 'redelivery' queue is
configured as the 'dead-letter-queue' for all of the server's queues. When a message is rejected
by a subscriber, it is automatically sent to the 'redelivery' queue. The first time a message is
rejected, the redelivery handler immediately redelivers the message to the original destination
queue. If the message is rejected again, it is posted to a 'wait' queue and is given an expiration.
The 'wait' queue has no subscribers, so the message will sit there until it expires. The
'redelivery' queue is also configured as the 'dead-letter-queue' for the 'wait' queue, so when the
message expires, it is automatically sent back to the 'redelivery' queue and this handler processes
the message again. If the message metadata, 'reason', is set to "expired" then it is posted to the
original destination queue, otherwise (if reason is "rejected") it is posted back to the 'wait'
queue with a bigger expiration. This process repeats until the maximum number of redelivery
attempts has been reached, at which point redelivery for the message is aborted.
*/
func (p *PubSub) processRedeliveryQueue() {
	logger.Info("Starting message redelivery listener")

	for msg := range p.redeliveryChan {
		p.handleRedelivery(msg)
	}

	logger.Info("Message redelivery listener stopped")
}

func (p *PubSub) handleRedelivery(msg *message.Message) {
	logger.Debug("Got new message for redelivery", logfields.WithMessageID(msg.UUID),
		logfields.WithMetadata(msg.Metadata), logfields.WithPayload(msg.Payload))

	queue, err := getQueue(msg)
	if err != nil {
		logger.Warn("Error resolving queue for message. Message will not be redelivered.",
			logfields.WithMessageID(msg.UUID), log.WithError(err))

		msg.Ack()

		return
	}

	redeliveryAttempts := getRedeliveryAttempts(msg)

	if redeliveryAttempts < p.MaxRedeliveryAttempts {
		err = p.redeliver(msg, queue, redeliveryAttempts)
		if err != nil {
			logger.Error("Error redelivering message. The message will be nacked and retried.",
				logfields.WithMessageID(msg.UUID), log.WithError(err))

			// Nack the message so that it may be retried.
			msg.Nack()

			return
		}
	} else {
		logger.Error("Message will not be redelivered since the maximum number of redelivery attempts has been reached",
			logfields.WithMessageID(msg.UUID), logfields.WithQueue(queue),
			logfields.WithDeliveryAttempts(redeliveryAttempts))
	}

	msg.Ack()
}

func (p *PubSub) redeliver(msg *message.Message, queue string, redeliveryAttempts int) error {
	// Publish the message immediately on the first attempt and after every expiration.
	if redeliveryAttempts == 0 || msg.Metadata[metadataFirstDeathReason] == expiredReason {
		redeliveryAttempts++

		err := p.publisher.Publish(queue,
			newMessage(msg,
				withQueue(queue),
				withRedeliveryAttempts(redeliveryAttempts),
			),
		)
		if err != nil {
			return fmt.Errorf("publish message to queue [%s]: %w", queue, err)
		}

		logger.Info("Posted message for redelivery", logfields.WithMessageID(msg.UUID),
			logfields.WithQueue(queue))

		return nil
	}

	expiration := p.getRedeliveryInterval(redeliveryAttempts)

	// Post the message to the wait queue with the given expiration so that it isn't immediately redelivered.
	err := p.waitPublisher.Publish(waitQueue,
		newMessage(msg,
			withQueue(queue),
			withExpiration(expiration),
		),
	)
	if err != nil {
		return fmt.Errorf("publish message to queue [%s]: %w", waitQueue, err)
	}

	logger.Info("Posted message to the wait queue", logfields.WithMessageID(msg.UUID),
		logfields.WithExpiration(expiration), logfields.WithDeliveryAttempts(redeliveryAttempts))

	return nil
}

func (p *PubSub) getRedeliveryInterval(attempts int) time.Duration {
	if attempts == 0 {
		return 0
	}

	if attempts == 1 {
		return p.RedeliveryInitialInterval
	}

	interval := time.Duration(float64(p.RedeliveryInitialInterval) * math.Pow(p.RedeliveryMultiplier, float64(attempts-1)))

	if interval > p.MaxRedeliveryInterval {
		interval = p.MaxRedeliveryInterval
	}

	return interval
}

func newConnectBackOff() backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     backoff.DefaultInitialInterval,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         defaultMaxConnectInterval,
		MaxElapsedTime:      defaultMaxConnectElapsedTime,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}

	b.Reset()

	return b
}

type subscriberInfo struct {
	subscriber    initializingSubscriber
	subscriptions int
}

type subscriberConnectionMgr struct {
	createSubscriber  subscriberFactory
	mutex             sync.RWMutex
	subscribers       []*subscriberInfo
	current           *subscriberInfo
	subscriptionLimit int
}

// newSubscriberMgr creates a manager that spreads subscriptions across connections.
// A new connection is created whenever the number of subscriptions on the current
// connection reaches the given limit.
func newSubscriberMgr(limit int, factory subscriberFactory) *subscriberConnectionMgr {
	return &subscriberConnectionMgr{
		subscriptionLimit: limit,
		createSubscriber:  factory,
	}
}

func (m *subscriberConnectionMgr) Close() error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	logger.Info("Closing subscriber connections", logfields.WithTotal(len(m.subscribers)))

	for _, s := range m.subscribers {
		if err := s.subscriber.Close(); err != nil {
			logger.Warn("Error closing subscriber", log.WithError(err))
		}
	}

	return nil
}

func (m *subscriberConnectionMgr) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	s, err := m.get()
	if err != nil {
		return nil, err
	}

	return s.Subscribe(ctx, topic)
}

func (m *subscriberConnectionMgr) SubscribeInitialize(topic string) error {
	s, err := m.get()
	if err != nil {
		return err
	}

	return s.SubscribeInitialize(topic)
}

func (m *subscriberConnectionMgr) get() (initializingSubscriber, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.current == nil || m.current.subscriptions >= m.subscriptionLimit {
		s, err := m.createSubscriber()
		if err != nil {
			return nil, err
		}

		newCurrent := &subscriberInfo{subscriber: s}

		m.subscribers = append(m.subscribers, newCurrent)
		m.current = newCurrent

		logger.Info("Created new subscriber connection", logfields.WithTotal(len(m.subscribers)))
	}

	m.current.subscriptions++

	logger.Debug("Added subscription to current connection",
		logfields.WithTotal(len(m.subscribers)), logfields.WithSubscriptions(m.current.subscriptions))

	return m.current.subscriber, nil
}

// extractEndpoint returns the endpoint of the AMQP URL, i.e. everything after @.
func extractEndpoint(amqpURL string) string {
	i := strings.Index(amqpURL, "://")
	if i < 0 {
		return ""
	}

	path := amqpURL[i+3:]

	j := strings.Index(path, "@")
	if j < 0 {
		return path
	}

	return path[j+1:]
}

func getRedeliveryAttempts(msg *message.Message) int {
	var count int

	countValue, ok := msg.Metadata[metadataRedeliveryCount]
	if ok {
		c, err := strconv.ParseInt(countValue, 10, 0)
		if err != nil {
			logger.Warn("Metadata is not a valid number. Redelivery count will be set to 0.",
				logfields.WithMessageID(msg.UUID), logfields.WithProperty(metadataRedeliveryCount),
				logfields.WithValue(countValue), log.WithError(err))
		} else {
			count = int(c)
		}
	}

	return count
}

func getQueue(msg *message.Message) (string, error) {
	queue, ok := msg.Metadata[metadataQueue]
	if ok {
		return queue, nil
	}

	queue, ok = msg.Metadata[metadataFirstDeathQueue]
	if ok {
		return queue, nil
	}

	return "", fmt.Errorf("metadata not found: %s", metadataFirstDeathQueue)
}

type messageOptions struct {
	queue              string
	expiration         time.Duration
	redeliveryAttempts int
}

type messageOpt func(*messageOptions)

func withQueue(queue string) messageOpt {
	return func(options *messageOptions) {
		options.queue = queue
	}
}

func withExpiration(expiration time.Duration) messageOpt {
	return func(options *messageOptions) {
		options.expiration = expiration
	}
}

func withRedeliveryAttempts(attempts int) messageOpt {
	return func(options *messageOptions) {
		options.redeliveryAttempts = attempts
	}
}

func newMessage(msg *message.Message, opts ...messageOpt) *message.Message {
	options := &messageOptions{}

	for _, opt := range opts {
		opt(options)
	}

	newMsg := msg.Copy()

	// The metadata containing x-death info must be deleted since an error occurs when posting with this metadata.
	delete(newMsg.Metadata, metadataDeath)

	newMsg.Metadata.Set(metadataQueue, options.queue)

	if options.expiration > 0 {
		newMsg.Metadata.Set(metadataExpiration, options.expiration.String())
	} else {
		delete(newMsg.Metadata, metadataExpiration)
	}

	if options.redeliveryAttempts > 0 {
		newMsg.Metadata.Set(metadataRedeliveryCount, strconv.FormatInt(int64(options.redeliveryAttempts), 10))
	}

	return newMsg
}

func newQueueConfig(cfg Config) amqp.Config {
	queueConfig := newDefaultQueueConfig(cfg)
	queueConfig.Exchange = newAMQPExchangeConfig(exchange)
	queueConfig.Queue = newAMQPQueueConfig(amqplib.Table{
		metadataDeadLetterRoutingKey: redeliveryQueue,
		metadataDeadLetterExchange:   redeliveryExchange,
	})

	return queueConfig
}

func newRedeliveryQueueConfig(cfg Config) amqp.Config {
	queueConfig := newDefaultQueueConfig(cfg)
	queueConfig.Exchange = newAMQPExchangeConfig(redeliveryExchange)
	queueConfig.Consume = amqp.ConsumeConfig{
		Qos:             amqp.QosConfig{PrefetchCount: 1},
		NoRequeueOnNack: false, // Ensure that the message is re-queued if the server goes down before it is Acked.
	}

	return queueConfig
}

func newWaitQueueConfig(cfg Config) amqp.Config {
	queueConfig := newDefaultQueueConfig(cfg)
	queueConfig.Exchange = newAMQPExchangeConfig(waitExchange)
	queueConfig.Queue = newAMQPQueueConfig(amqplib.Table{
		metadataDeadLetterRoutingKey: redeliveryQueue,
		metadataDeadLetterExchange:   redeliveryExchange,
	})

	// The wait queue has no subscribers, so its publisher doesn't need a channel pool.
	queueConfig.Publish.ChannelPoolSize = 0

	return queueConfig
}

func newDefaultQueueConfig(cfg Config) amqp.Config {
	return amqp.Config{
		Connection: amqp.ConnectionConfig{AmqpURI: cfg.URI},
		Marshaler:  &DefaultMarshaler{},
		Queue:      newAMQPQueueConfig(nil),
		QueueBind: amqp.QueueBindConfig{
			GenerateRoutingKey: func(queue string) string { return queue },
		},
		Publish: amqp.PublishConfig{
			GenerateRoutingKey: func(queue string) string { return queue },
			ChannelPoolSize:    cfg.PublisherChannelPoolSize,
			ConfirmDelivery:    cfg.PublisherConfirmDelivery,
		},
		Consume: amqp.ConsumeConfig{
			Qos:             amqp.QosConfig{PrefetchCount: 1},
			NoRequeueOnNack: true,
		},
		TopologyBuilder: &amqp.DefaultTopologyBuilder{},
	}
}

func newAMQPExchangeConfig(exchange string) amqp.ExchangeConfig {
	return amqp.ExchangeConfig{
		GenerateName: func(topic string) string {
			return exchange
		},
		Type:    directExchangeType,
		Durable: true,
	}
}

func newAMQPQueueConfig(args amqplib.Table) amqp.QueueConfig {
	return amqp.QueueConfig{
		GenerateName: amqp.GenerateQueueNameTopicName,
		Durable:      true,
		Arguments:    args,
	}
}

func initConfig(cfg Config) Config {
	if cfg.MaxConnectionSubscriptions == 0 {
		cfg.MaxConnectionSubscriptions = defaultMaxConnectionSubscriptions
	}

	if cfg.MaxRedeliveryAttempts == 0 {
		cfg.MaxRedeliveryAttempts = defaultMaxRedeliveryAttempts
	}

	if cfg.RedeliveryMultiplier == 0 {
		cfg.RedeliveryMultiplier = defaultRedeliveryMultiplier
	}

	if cfg.RedeliveryInitialInterval == 0 {
		cfg.RedeliveryInitialInterval = defaultRedeliveryInitialInterval
	}

	if cfg.MaxRedeliveryInterval == 0 {
		cfg.MaxRedeliveryInterval = defaultMaxRedeliveryInterval
	}

	return cfg
}
