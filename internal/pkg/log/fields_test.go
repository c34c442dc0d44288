/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package log

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/trustbloc/logutil-go/pkg/log"
)

func TestStandardFields(t *testing.T) {
	const module = "test_module"

	u1 := parseURL(t, "https://example1.com")
	u2 := parseURL(t, "https://example2.com")
	u3 := parseURL(t, "https://example3.com")

	t.Run("json fields 1", func(t *testing.T) {
		stdOut := newMockWriter()

		logger := log.New(module, log.WithStdOut(stdOut), log.WithEncoding(log.JSON))

		query := &mockObject{Field1: "value1", Field2: 1234}

		logger.Info("Some message",
			WithMessageID("msg1"), WithPayload([]byte(`{"field":"value"}`)),
			WithActorIRI(u1), WithActivityID(u2), WithActivityType("Create"),
			WithServiceIRI(parseURL(t, u2.String())), WithServiceName("service1"),
			WithServiceEndpoint("/services/petrel"),
			WithSize(1234), WithExpiration(12*time.Second),
			WithTargetIRI(u1), WithParameter("param1"),
			WithURI(u2), WithSenderURL(u1),
			WithObjectIRI(u1), WithReferenceIRI(u2),
			WithKeyIRI(u1), WithKeyOwnerIRI(u2),
			WithInboxIRI(u3), WithFollowerIRI(u1), WithFollowedIRI(u2),
			WithTotal(12), WithType("Follow"), WithQuery(query),
		)

		l := unmarshalLogData(t, stdOut.Bytes())

		require.Equal(t, `Some message`, l.Msg)
		require.Equal(t, `msg1`, l.MessageID)
		require.Equal(t, `{"field":"value"}`, l.Payload)
		require.Equal(t, u1.String(), l.ActorID)
		require.Equal(t, u2.String(), l.ActivityID)
		require.Equal(t, `Create`, l.ActivityType)
		require.Equal(t, `service1`, l.Service)
		require.Equal(t, `/services/petrel`, l.ServiceEndpoint)
		require.Equal(t, u2.String(), l.ServiceIRI)
		require.Equal(t, 1234, l.Size)
		require.Equal(t, `12s`, l.Expiration)
		require.Equal(t, u1.String(), l.Target)
		require.Equal(t, `param1`, l.Parameter)
		require.Equal(t, u2.String(), l.URI)
		require.Equal(t, u1.String(), l.Sender)
		require.Equal(t, u1.String(), l.ObjectIRI)
		require.Equal(t, u2.String(), l.Reference)
		require.Equal(t, u1.String(), l.KeyID)
		require.Equal(t, u2.String(), l.KeyOwner)
		require.Equal(t, u3.String(), l.InboxIRI)
		require.Equal(t, u1.String(), l.Follower)
		require.Equal(t, u2.String(), l.Followed)
		require.Equal(t, 12, l.Total)
		require.Equal(t, `Follow`, l.Type)
		require.Equal(t, `{"field1":"value1","field2":1234}`, l.Query)
	})

	t.Run("json fields 2", func(t *testing.T) {
		stdOut := newMockWriter()

		logger := log.New(module, log.WithStdOut(stdOut), log.WithEncoding(log.JSON))

		logger.Info("Some message",
			WithActorID(u1.String()), WithTarget(u2.String()),
			WithConfig(&mockObject{Field1: "value1", Field2: 1234}),
			WithRequestURL(u1), WithRequestBody([]byte(`request body`)),
			WithRequestHeaders(map[string][]string{"key1": {"v1", "v2"}, "key2": {"v3"}}),
			WithResponse([]byte(`response body`)), WithHTTPStatus(http.StatusUnauthorized),
			WithQueue("petrel-inbox"), WithDomain("example1.com"),
			WithResource("acct:bob@example1.com"), WithAttempt(3),
			WithClientIP("10.0.1.12"), WithPage(2), WithPerPage(50),
			WithUsername("bob"), WithTracingProvider("jaeger"),
			WithTask("activity-expiry"), WithStoreName("activity"),
			WithActivityIDString(u2.String()), WithKeyID("key1"),
			WithURIString(u3.String()), WithTags("tag1", "tag2"),
			WithInstanceID("instance1"), WithPermitHolder("instance2"),
			WithTimeSinceLastUpdate(3*time.Second), WithMonitorInterval(10*time.Second),
			WithMaxTime(31*time.Second), WithStatus("idle"),
		)

		l := unmarshalLogData(t, stdOut.Bytes())

		require.Equal(t, `Some message`, l.Msg)
		require.Equal(t, u1.String(), l.ActorID)
		require.Equal(t, u2.String(), l.Target)
		require.Equal(t, `{"field1":"value1","field2":1234}`, l.Config)
		require.Equal(t, u1.String(), l.RequestURL)
		require.Equal(t, `request body`, l.RequestBody)
		require.Equal(t, map[string][]string{"key1": {"v1", "v2"}, "key2": {"v3"}}, l.RequestHeaders)
		require.Equal(t, `response body`, l.Response)
		require.Equal(t, http.StatusUnauthorized, l.HTTPStatus)
		require.Equal(t, `petrel-inbox`, l.Queue)
		require.Equal(t, `example1.com`, l.Domain)
		require.Equal(t, `acct:bob@example1.com`, l.Resource)
		require.Equal(t, 3, l.Attempt)
		require.Equal(t, `10.0.1.12`, l.ClientIP)
		require.Equal(t, 2, l.Page)
		require.Equal(t, 50, l.PerPage)
		require.Equal(t, `bob`, l.Username)
		require.Equal(t, `jaeger`, l.TracingProvider)
		require.Equal(t, `activity-expiry`, l.Task)
		require.Equal(t, `activity`, l.StoreName)
		require.Equal(t, u2.String(), l.ActivityID)
		require.Equal(t, `key1`, l.KeyID)
		require.Equal(t, u3.String(), l.URI)
		require.Equal(t, []string{"tag1", "tag2"}, l.Tags)
		require.Equal(t, `instance1`, l.InstanceID)
		require.Equal(t, `instance2`, l.PermitHolder)
		require.Equal(t, `3s`, l.TimeSinceLastUpdate)
		require.Equal(t, `10s`, l.MonitorInterval)
		require.Equal(t, `31s`, l.MaxTime)
		require.Equal(t, `idle`, l.Status)
	})

	t.Run("json fields 3", func(t *testing.T) {
		stdOut := newMockWriter()

		logger := log.New(module, log.WithStdOut(stdOut), log.WithEncoding(log.JSON))

		logger.Info("Some message",
			WithTopic("petrel-inbox"), WithIndex(7),
			WithMetadata(map[string]string{"key1": "value1"}),
			WithProperty("expiration"), WithValue("10s"),
			WithTimeout(5*time.Second), WithDeliveryDelay(250*time.Millisecond),
			WithDeliveryAttempts(2), WithEndpoint("rabbitmq.example.com:5671"),
			WithSubscriptions(19), WithTotalPublishers(3),
			WithChannelPoolSize(40), WithLogSpec("module1=DEBUG:WARN"),
		)

		l := unmarshalLogData(t, stdOut.Bytes())

		require.Equal(t, `petrel-inbox`, l.Topic)
		require.Equal(t, 7, l.Index)
		require.Equal(t, `{"key1":"value1"}`, l.Metadata)
		require.Equal(t, `expiration`, l.Property)
		require.Equal(t, `10s`, l.Value)
		require.Equal(t, `5s`, l.Timeout)
		require.Equal(t, `250ms`, l.DeliveryDelay)
		require.Equal(t, 2, l.DeliveryAttempts)
		require.Equal(t, `rabbitmq.example.com:5671`, l.Endpoint)
		require.Equal(t, 19, l.Subscriptions)
		require.Equal(t, 3, l.TotalPublishers)
		require.Equal(t, 40, l.ChannelPoolSize)
		require.Equal(t, `module1=DEBUG:WARN`, l.LogSpec)
	})

	t.Run("string variants", func(t *testing.T) {
		stdOut := newMockWriter()

		logger := log.New(module, log.WithStdOut(stdOut), log.WithEncoding(log.JSON))

		logger.Info("Some message", WithRequestURLString(u1.String()))

		l := unmarshalLogData(t, stdOut.Bytes())

		require.Equal(t, u1.String(), l.RequestURL)
	})
}

type mockObject struct {
	Field1 string `json:"field1"`
	Field2 int    `json:"field2"`
}

type logData struct {
	Level  string `json:"level"`
	Time   string `json:"time"`
	Logger string `json:"logger"`
	Caller string `json:"caller"`
	Msg    string `json:"msg"`
	Error  string `json:"error"`

	MessageID       string              `json:"message-id"`
	Payload         string              `json:"payload"`
	ActorID         string              `json:"actor-id"`
	ActivityID      string              `json:"activity-id"`
	ActivityType    string              `json:"activity-type"`
	ServiceIRI      string              `json:"service-iri"`
	Service         string              `json:"service"`
	ServiceEndpoint string              `json:"service-endpoint"`
	Size            int                 `json:"size"`
	Expiration      string              `json:"expiration"`
	Target          string              `json:"target"`
	Parameter       string              `json:"parameter"`
	URI             string              `json:"uri"`
	Sender          string              `json:"sender"`
	ObjectIRI       string              `json:"object-iri"`
	Reference       string              `json:"reference"`
	KeyID           string              `json:"key-id"`
	KeyOwner        string              `json:"key-owner"`
	InboxIRI        string              `json:"inbox-iri"`
	Follower        string              `json:"follower"`
	Followed        string              `json:"followed"`
	Total           int                 `json:"total"`
	Type            string              `json:"type"`
	Query           string              `json:"query"`
	Config          string              `json:"config"`
	RequestURL      string              `json:"request-url"`
	RequestHeaders  map[string][]string `json:"request-headers"`
	RequestBody     string              `json:"request-body"`
	Response        string              `json:"response"`
	HTTPStatus      int                 `json:"http-status"`
	Queue           string              `json:"queue"`
	Domain          string              `json:"domain"`
	Resource        string              `json:"resource"`
	Attempt         int                 `json:"attempt"`
	ClientIP        string              `json:"client-ip"`
	Page            int                 `json:"page"`
	PerPage         int                 `json:"per-page"`
	Username        string              `json:"username"`
	TracingProvider string              `json:"tracing-provider"`
	Task            string              `json:"task"`
	StoreName       string              `json:"store"`

	Tags                []string `json:"tags"`
	InstanceID          string   `json:"instance"`
	PermitHolder        string   `json:"permit-holder"`
	TimeSinceLastUpdate string   `json:"time-since-last-update"`
	MonitorInterval     string   `json:"monitor-interval"`
	MaxTime             string   `json:"max-time"`
	Status              string   `json:"status"`

	Topic            string `json:"topic"`
	Index            int    `json:"index"`
	Metadata         string `json:"metadata"`
	Property         string `json:"property"`
	Value            string `json:"value"`
	Timeout          string `json:"timeout"`
	DeliveryDelay    string `json:"delivery-delay"`
	DeliveryAttempts int    `json:"delivery-attempts"`
	Endpoint         string `json:"endpoint"`
	Subscriptions    int    `json:"subscriptions"`
	TotalPublishers  int    `json:"total-publishers"`
	ChannelPoolSize  int    `json:"channel-pool-size"`
	LogSpec          string `json:"log-spec"`
}

func unmarshalLogData(t *testing.T, b []byte) *logData {
	t.Helper()

	l := &logData{}

	require.NoError(t, json.Unmarshal(b, l))

	return l
}

func parseURL(t *testing.T, raw string) *url.URL {
	t.Helper()

	u, err := url.Parse(raw)
	require.NoError(t, err)

	return u
}

type mockWriter struct {
	*bytes.Buffer
}

func (m *mockWriter) Sync() error {
	return nil
}

func newMockWriter() *mockWriter {
	return &mockWriter{Buffer: bytes.NewBuffer(nil)}
}
