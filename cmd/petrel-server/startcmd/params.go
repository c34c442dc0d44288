/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/petrel-fed/petrel/internal/pkg/cmdutil"
)

const (
	defaultHostURL                 = "0.0.0.0:8080"
	defaultFetchTimeout            = 5 * time.Second
	defaultDeliveryTimeout         = 10 * time.Second
	defaultMaxRetries              = 3
	defaultNodeInfoRefreshInterval = 15 * time.Second

	commonEnvVarUsageText = "Alternatively, this can be set with the following environment variable: "

	hostURLFlagName      = "host-url"
	hostURLFlagShorthand = "u"
	hostURLEnvKey        = "PETREL_HOST_URL"
	hostURLFlagUsage     = "Listen address of the server. Format: HostName:Port. Defaults to " +
		defaultHostURL + ". " + commonEnvVarUsageText + hostURLEnvKey

	instanceBaseURLFlagName      = "instance-base-url"
	instanceBaseURLFlagShorthand = "e"
	instanceBaseURLEnvKey        = "INSTANCE_BASE_URL"
	instanceBaseURLFlagUsage     = "Base URL by which external clients reach this instance (required). " +
		"IDs of actors, objects and activities are minted under this URL. Format: scheme://HostName[:Port]. " +
		commonEnvVarUsageText + instanceBaseURLEnvKey

	tlsCertificateFlagName      = "tls-certificate"
	tlsCertificateFlagShorthand = "y"
	tlsCertificateEnvKey        = "PETREL_TLS_CERTIFICATE"
	tlsCertificateFlagUsage     = "TLS certificate for the server. " + commonEnvVarUsageText + tlsCertificateEnvKey

	tlsKeyFlagName      = "tls-key"
	tlsKeyFlagShorthand = "x"
	tlsKeyEnvKey        = "PETREL_TLS_KEY"
	tlsKeyFlagUsage     = "TLS key for the server. " + commonEnvVarUsageText + tlsKeyEnvKey

	databaseTypeFlagName      = "database-type"
	databaseTypeFlagShorthand = "t"
	databaseTypeEnvKey        = "PETREL_DATABASE_TYPE"
	databaseTypeFlagUsage     = "The type of database to use. Supported options: mem, mongodb. Defaults to mem. " +
		commonEnvVarUsageText + databaseTypeEnvKey

	databaseURLFlagName      = "database-url"
	databaseURLFlagShorthand = "v"
	databaseURLEnvKey        = "PETREL_DATABASE_URL"
	databaseURLFlagUsage     = "The URL of the database. Required for mongodb. " +
		commonEnvVarUsageText + databaseURLEnvKey

	databasePrefixFlagName  = "database-prefix"
	databasePrefixEnvKey    = "PETREL_DATABASE_PREFIX"
	databasePrefixFlagUsage = "An optional prefix to be used when creating and retrieving underlying databases. " +
		commonEnvVarUsageText + databasePrefixEnvKey

	mqURLFlagName      = "mq-url"
	mqURLFlagShorthand = "q"
	mqURLEnvKey        = "PETREL_MQ_URL"
	mqURLFlagUsage     = "The URL of the AMQP message broker. If not set then an in-process " +
		"publisher/subscriber is used. " + commonEnvVarUsageText + mqURLEnvKey

	actorAuthTokensFlagName  = "actor-auth-tokens"
	actorAuthTokensEnvKey    = "PETREL_ACTOR_AUTH_TOKENS" //nolint: gosec
	actorAuthTokensFlagUsage = "Bearer tokens of the local actors, as username=token pairs. " +
		commonEnvVarUsageText + actorAuthTokensEnvKey

	defaultActorFlagName  = "default-actor"
	defaultActorEnvKey    = "PETREL_DEFAULT_ACTOR"
	defaultActorFlagUsage = "Username of an actor that is created on start-up if it does not exist. " +
		commonEnvVarUsageText + defaultActorEnvKey

	defaultActorKeyFlagName  = "default-actor-private-key"
	defaultActorKeyEnvKey    = "DEFAULT_ACTOR_PRIVATE_KEY_PEM" //nolint: gosec
	defaultActorKeyFlagUsage = "PEM-encoded RSA private key of the default actor. If not set then a " +
		"key pair is generated. " + commonEnvVarUsageText + defaultActorKeyEnvKey

	redisHostFlagName  = "redis-host"
	redisHostEnvKey    = "REDIS_HOST"
	redisHostFlagUsage = "Host of the Redis instance that backs the rate limiter. If not set then " +
		"request counting is done in memory. " + commonEnvVarUsageText + redisHostEnvKey

	redisPortFlagName  = "redis-port"
	redisPortEnvKey    = "REDIS_PORT"
	redisPortFlagUsage = "Port of the Redis instance that backs the rate limiter. " +
		commonEnvVarUsageText + redisPortEnvKey

	inboxPoolSizeFlagName  = "inbox-pool-size"
	inboxPoolSizeEnvKey    = "PETREL_INBOX_POOL_SIZE"
	inboxPoolSizeFlagUsage = "Number of concurrent workers that process inbox activities. " +
		commonEnvVarUsageText + inboxPoolSizeEnvKey

	outboxPoolSizeFlagName  = "outbox-pool-size"
	outboxPoolSizeEnvKey    = "PETREL_OUTBOX_POOL_SIZE"
	outboxPoolSizeFlagUsage = "Number of concurrent workers that deliver outbox activities. " +
		commonEnvVarUsageText + outboxPoolSizeEnvKey

	fetchTimeoutFlagName  = "fetch-timeout"
	fetchTimeoutEnvKey    = "PETREL_FETCH_TIMEOUT"
	fetchTimeoutFlagUsage = "Timeout of a remote fetch, e.g. '5s'. " + commonEnvVarUsageText + fetchTimeoutEnvKey

	deliveryTimeoutFlagName  = "delivery-timeout"
	deliveryTimeoutEnvKey    = "PETREL_DELIVERY_TIMEOUT"
	deliveryTimeoutFlagUsage = "Timeout of a single delivery attempt, e.g. '10s'. " +
		commonEnvVarUsageText + deliveryTimeoutEnvKey

	maxRetriesFlagName  = "max-retries"
	maxRetriesEnvKey    = "PETREL_MAX_RETRIES"
	maxRetriesFlagUsage = "Number of times an outbound request is retried after a network error or " +
		"a 5xx response. " + commonEnvVarUsageText + maxRetriesEnvKey

	tracingProviderFlagName  = "tracing-provider"
	tracingProviderEnvKey    = "PETREL_TRACING_PROVIDER"
	tracingProviderFlagUsage = "The tracing provider. Supported option: JAEGER. Tracing is disabled " +
		"if not set. " + commonEnvVarUsageText + tracingProviderEnvKey

	tracingCollectorURLFlagName  = "tracing-collector-url"
	tracingCollectorURLEnvKey    = "PETREL_TRACING_COLLECTOR_URL"
	tracingCollectorURLFlagUsage = "The URL of the tracing collector. " +
		commonEnvVarUsageText + tracingCollectorURLEnvKey

	nodeInfoRefreshIntervalFlagName  = "nodeinfo-refresh-interval"
	nodeInfoRefreshIntervalEnvKey    = "PETREL_NODEINFO_REFRESH_INTERVAL"
	nodeInfoRefreshIntervalFlagUsage = "Interval at which NodeInfo usage statistics are recomputed, " +
		"e.g. '15s'. " + commonEnvVarUsageText + nodeInfoRefreshIntervalEnvKey

	databaseTypeMemOption     = "mem"
	databaseTypeMongoDBOption = "mongodb"
)

type serverParameters struct {
	hostURL                   string
	instanceBaseURL           *url.URL
	tlsCertificate            string
	tlsKey                    string
	databaseType              string
	databaseURL               string
	databasePrefix            string
	mqURL                     string
	actorAuthTokens           []string
	defaultActor              string
	defaultActorPrivateKeyPEM string
	redisHost                 string
	redisPort                 string
	logLevel                  string
	inboxPoolSize             int
	outboxPoolSize            int
	fetchTimeout              time.Duration
	deliveryTimeout           time.Duration
	maxRetries                int
	tracingProvider           string
	tracingCollectorURL       string
	nodeInfoRefreshInterval   time.Duration
}

//nolint:funlen,gocyclo
func getServerParameters(cmd *cobra.Command) (*serverParameters, error) {
	hostURL := cmdutil.GetUserSetOptionalVarFromString(cmd, hostURLFlagName, hostURLEnvKey)
	if hostURL == "" {
		hostURL = defaultHostURL
	}

	instanceBaseURLStr, err := cmdutil.GetUserSetVarFromString(cmd, instanceBaseURLFlagName, instanceBaseURLEnvKey, false)
	if err != nil {
		return nil, err
	}

	instanceBaseURL, err := url.Parse(instanceBaseURLStr)
	if err != nil {
		return nil, fmt.Errorf("invalid value for %s [%s]: %w", instanceBaseURLFlagName, instanceBaseURLStr, err)
	}

	if instanceBaseURL.Scheme == "" || instanceBaseURL.Host == "" {
		return nil, fmt.Errorf("invalid value for %s [%s]: scheme and host are required",
			instanceBaseURLFlagName, instanceBaseURLStr)
	}

	tlsCertificate := cmdutil.GetUserSetOptionalVarFromString(cmd, tlsCertificateFlagName, tlsCertificateEnvKey)

	tlsKey := cmdutil.GetUserSetOptionalVarFromString(cmd, tlsKeyFlagName, tlsKeyEnvKey)

	databaseType := cmdutil.GetUserSetOptionalVarFromString(cmd, databaseTypeFlagName, databaseTypeEnvKey)
	if databaseType == "" {
		databaseType = databaseTypeMemOption
	}

	databaseURL := cmdutil.GetUserSetOptionalVarFromString(cmd, databaseURLFlagName, databaseURLEnvKey)

	switch databaseType {
	case databaseTypeMemOption:
	case databaseTypeMongoDBOption:
		if databaseURL == "" {
			return nil, fmt.Errorf("%s is required when %s is %s",
				databaseURLFlagName, databaseTypeFlagName, databaseTypeMongoDBOption)
		}
	default:
		return nil, fmt.Errorf("unsupported value for %s [%s]: must be one of: %s, %s",
			databaseTypeFlagName, databaseType, databaseTypeMemOption, databaseTypeMongoDBOption)
	}

	databasePrefix := cmdutil.GetUserSetOptionalVarFromString(cmd, databasePrefixFlagName, databasePrefixEnvKey)

	mqURL := cmdutil.GetUserSetOptionalVarFromString(cmd, mqURLFlagName, mqURLEnvKey)

	actorAuthTokens := cmdutil.GetUserSetOptionalVarFromArrayString(cmd, actorAuthTokensFlagName, actorAuthTokensEnvKey)

	defaultActor := cmdutil.GetUserSetOptionalVarFromString(cmd, defaultActorFlagName, defaultActorEnvKey)

	defaultActorPrivateKeyPEM := cmdutil.GetUserSetOptionalVarFromString(cmd, defaultActorKeyFlagName,
		defaultActorKeyEnvKey)

	redisHost := cmdutil.GetUserSetOptionalVarFromString(cmd, redisHostFlagName, redisHostEnvKey)

	redisPort := cmdutil.GetUserSetOptionalVarFromString(cmd, redisPortFlagName, redisPortEnvKey)
	if redisHost != "" && redisPort == "" {
		return nil, fmt.Errorf("%s is required when %s is set", redisPortFlagName, redisHostFlagName)
	}

	logLevel := cmdutil.GetUserSetOptionalVarFromString(cmd, LogLevelFlagName, LogLevelEnvKey)

	inboxPoolSize, err := getIntParameter(cmd, inboxPoolSizeFlagName, inboxPoolSizeEnvKey, 0)
	if err != nil {
		return nil, err
	}

	outboxPoolSize, err := getIntParameter(cmd, outboxPoolSizeFlagName, outboxPoolSizeEnvKey, 0)
	if err != nil {
		return nil, err
	}

	fetchTimeout, err := getDurationParameter(cmd, fetchTimeoutFlagName, fetchTimeoutEnvKey, defaultFetchTimeout)
	if err != nil {
		return nil, err
	}

	deliveryTimeout, err := getDurationParameter(cmd, deliveryTimeoutFlagName, deliveryTimeoutEnvKey,
		defaultDeliveryTimeout)
	if err != nil {
		return nil, err
	}

	maxRetries, err := getIntParameter(cmd, maxRetriesFlagName, maxRetriesEnvKey, defaultMaxRetries)
	if err != nil {
		return nil, err
	}

	tracingProvider := cmdutil.GetUserSetOptionalVarFromString(cmd, tracingProviderFlagName, tracingProviderEnvKey)

	tracingCollectorURL := cmdutil.GetUserSetOptionalVarFromString(cmd, tracingCollectorURLFlagName,
		tracingCollectorURLEnvKey)

	nodeInfoRefreshInterval, err := getDurationParameter(cmd, nodeInfoRefreshIntervalFlagName,
		nodeInfoRefreshIntervalEnvKey, defaultNodeInfoRefreshInterval)
	if err != nil {
		return nil, err
	}

	return &serverParameters{
		hostURL:                   hostURL,
		instanceBaseURL:           instanceBaseURL,
		tlsCertificate:            tlsCertificate,
		tlsKey:                    tlsKey,
		databaseType:              databaseType,
		databaseURL:               databaseURL,
		databasePrefix:            databasePrefix,
		mqURL:                     mqURL,
		actorAuthTokens:           actorAuthTokens,
		defaultActor:              defaultActor,
		defaultActorPrivateKeyPEM: defaultActorPrivateKeyPEM,
		redisHost:                 redisHost,
		redisPort:                 redisPort,
		logLevel:                  logLevel,
		inboxPoolSize:             inboxPoolSize,
		outboxPoolSize:            outboxPoolSize,
		fetchTimeout:              fetchTimeout,
		deliveryTimeout:           deliveryTimeout,
		maxRetries:                maxRetries,
		tracingProvider:           tracingProvider,
		tracingCollectorURL:       tracingCollectorURL,
		nodeInfoRefreshInterval:   nodeInfoRefreshInterval,
	}, nil
}

func getIntParameter(cmd *cobra.Command, flagName, envKey string, defaultValue int) (int, error) {
	value, err := cmdutil.GetInt(cmd, flagName, envKey, defaultValue)
	if err != nil {
		return 0, err
	}

	if value < 0 {
		return 0, fmt.Errorf("invalid value for %s [%d]: must not be negative", flagName, value)
	}

	return value, nil
}

func getDurationParameter(cmd *cobra.Command, flagName, envKey string,
	defaultValue time.Duration) (time.Duration, error) {
	value, err := cmdutil.GetDuration(cmd, flagName, envKey, defaultValue)
	if err != nil {
		return 0, err
	}

	return value, nil
}

func createFlags(startCmd *cobra.Command) {
	startCmd.Flags().StringP(hostURLFlagName, hostURLFlagShorthand, "", hostURLFlagUsage)
	startCmd.Flags().StringP(instanceBaseURLFlagName, instanceBaseURLFlagShorthand, "", instanceBaseURLFlagUsage)
	startCmd.Flags().StringP(tlsCertificateFlagName, tlsCertificateFlagShorthand, "", tlsCertificateFlagUsage)
	startCmd.Flags().StringP(tlsKeyFlagName, tlsKeyFlagShorthand, "", tlsKeyFlagUsage)
	startCmd.Flags().StringP(databaseTypeFlagName, databaseTypeFlagShorthand, "", databaseTypeFlagUsage)
	startCmd.Flags().StringP(databaseURLFlagName, databaseURLFlagShorthand, "", databaseURLFlagUsage)
	startCmd.Flags().StringP(databasePrefixFlagName, "", "", databasePrefixFlagUsage)
	startCmd.Flags().StringP(mqURLFlagName, mqURLFlagShorthand, "", mqURLFlagUsage)
	startCmd.Flags().StringArrayP(actorAuthTokensFlagName, "", []string{}, actorAuthTokensFlagUsage)
	startCmd.Flags().StringP(defaultActorFlagName, "", "", defaultActorFlagUsage)
	startCmd.Flags().StringP(defaultActorKeyFlagName, "", "", defaultActorKeyFlagUsage)
	startCmd.Flags().StringP(redisHostFlagName, "", "", redisHostFlagUsage)
	startCmd.Flags().StringP(redisPortFlagName, "", "", redisPortFlagUsage)
	startCmd.Flags().StringP(LogLevelFlagName, LogLevelFlagShorthand, "", LogLevelFlagUsage)
	startCmd.Flags().StringP(inboxPoolSizeFlagName, "", "", inboxPoolSizeFlagUsage)
	startCmd.Flags().StringP(outboxPoolSizeFlagName, "", "", outboxPoolSizeFlagUsage)
	startCmd.Flags().StringP(fetchTimeoutFlagName, "", "", fetchTimeoutFlagUsage)
	startCmd.Flags().StringP(deliveryTimeoutFlagName, "", "", deliveryTimeoutFlagUsage)
	startCmd.Flags().StringP(maxRetriesFlagName, "", "", maxRetriesFlagUsage)
	startCmd.Flags().StringP(tracingProviderFlagName, "", "", tracingProviderFlagUsage)
	startCmd.Flags().StringP(tracingCollectorURLFlagName, "", "", tracingCollectorURLFlagUsage)
	startCmd.Flags().StringP(nodeInfoRefreshIntervalFlagName, "", "", nodeInfoRefreshIntervalFlagUsage)
}
