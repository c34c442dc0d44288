/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package log

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log Fields.
const (
	FieldURI             = "uri"
	FieldSenderURL       = "sender"
	FieldConfig          = "config"
	FieldServiceName     = "service"
	FieldServiceIRI      = "service-iri"
	FieldServiceEndpoint = "service-endpoint"
	FieldActorID         = "actor-id"
	FieldActivityType    = "activity-type"
	FieldActivityID      = "activity-id"
	FieldMessageID       = "message-id"
	FieldPayload         = "payload"
	FieldRequestURL      = "request-url"
	FieldRequestHeaders  = "request-headers"
	FieldRequestBody     = "request-body"
	FieldResponse        = "response"
	FieldSize            = "size"
	FieldExpiration      = "expiration"
	FieldTarget          = "target"
	FieldQueue           = "queue"
	FieldHTTPStatus      = "http-status"
	FieldParameter       = "parameter"
	FieldObjectIRI       = "object-iri"
	FieldReferenceIRI    = "reference"
	FieldKeyID           = "key-id"
	FieldKeyOwner        = "key-owner"
	FieldTotalItems      = "total"
	FieldType            = "type"
	FieldQuery           = "query"
	FieldDomain          = "domain"
	FieldInboxIRI        = "inbox-iri"
	FieldFollowerIRI     = "follower"
	FieldFollowedIRI     = "followed"
	FieldResource        = "resource"
	FieldAttempt         = "attempt"
	FieldClientIP        = "client-ip"
	FieldPage            = "page"
	FieldPerPage         = "per-page"
	FieldUsername        = "username"
	FieldTracingProvider = "tracing-provider"
	FieldAddress         = "address"
	FieldTask            = "task"
	FieldStoreName       = "store"

	FieldTags                = "tags"
	FieldInstanceID          = "instance"
	FieldPermitHolder        = "permit-holder"
	FieldTimeSinceLastUpdate = "time-since-last-update"
	FieldMonitorInterval     = "monitor-interval"
	FieldMaxTime             = "max-time"
	FieldStatus              = "status"

	FieldTopic            = "topic"
	FieldIndex            = "index"
	FieldMetadata         = "metadata"
	FieldProperty         = "property"
	FieldValue            = "value"
	FieldTimeout          = "timeout"
	FieldDeliveryDelay    = "delivery-delay"
	FieldDeliveryAttempts = "delivery-attempts"
	FieldEndpoint         = "endpoint"
	FieldSubscriptions    = "subscriptions"
	FieldTotalPublishers  = "total-publishers"
	FieldChannelPoolSize  = "channel-pool-size"
	FieldLogSpec          = "log-spec"
)

// WithError sets the error field.
func WithError(err error) zap.Field {
	return zap.Error(err)
}

// WithMessageID sets the message-id field.
func WithMessageID(value string) zap.Field {
	return zap.String(FieldMessageID, value)
}

// WithPayload sets the payload field.
func WithPayload(value []byte) zap.Field {
	return zap.String(FieldPayload, string(value))
}

// WithAddress sets the address field.
func WithAddress(value string) zap.Field {
	return zap.String(FieldAddress, value)
}

// WithRequestURL sets the request-url field.
func WithRequestURL(value fmt.Stringer) zap.Field {
	return zap.Stringer(FieldRequestURL, value)
}

// WithRequestURLString sets the request-url field.
func WithRequestURLString(value string) zap.Field {
	return zap.String(FieldRequestURL, value)
}

// WithRequestHeaders sets the request-headers field.
func WithRequestHeaders(value http.Header) zap.Field {
	return zap.Object(FieldRequestHeaders, newHTTPHeaderMarshaller(value))
}

// WithRequestBody sets the request-body field.
func WithRequestBody(value []byte) zap.Field {
	return zap.String(FieldRequestBody, string(value))
}

// WithResponse sets the response field.
func WithResponse(value []byte) zap.Field {
	return zap.String(FieldResponse, string(value))
}

// WithServiceName sets the service field.
func WithServiceName(value string) zap.Field {
	return zap.String(FieldServiceName, value)
}

// WithServiceIRI sets the service-iri field.
func WithServiceIRI(value fmt.Stringer) zap.Field {
	return zap.Stringer(FieldServiceIRI, value)
}

// WithServiceEndpoint sets the service-endpoint field.
func WithServiceEndpoint(value string) zap.Field {
	return zap.String(FieldServiceEndpoint, value)
}

// WithActivityType sets the activity-type field.
func WithActivityType(value string) zap.Field {
	return zap.String(FieldActivityType, value)
}

// WithActivityID sets the activity-id field.
func WithActivityID(value fmt.Stringer) zap.Field {
	return zap.Stringer(FieldActivityID, value)
}

// WithActivityIDString sets the activity-id field.
func WithActivityIDString(value string) zap.Field {
	return zap.String(FieldActivityID, value)
}

// WithActorIRI sets the actor-id field.
func WithActorIRI(value fmt.Stringer) zap.Field {
	return zap.Stringer(FieldActorID, value)
}

// WithActorID sets the actor-id field.
func WithActorID(value string) zap.Field {
	return zap.String(FieldActorID, value)
}

// WithConfig sets the config field. The value of the field is
// encoded as JSON.
func WithConfig(value interface{}) zap.Field {
	return zap.Inline(newJSONMarshaller(FieldConfig, value))
}

// WithSize sets the size field.
func WithSize(value int) zap.Field {
	return zap.Int(FieldSize, value)
}

// WithExpiration sets the expiration field.
func WithExpiration(value time.Duration) zap.Field {
	return zap.Duration(FieldExpiration, value)
}

// WithTarget sets the target field.
func WithTarget(value string) zap.Field {
	return zap.String(FieldTarget, value)
}

// WithTargetIRI sets the target field.
func WithTargetIRI(value fmt.Stringer) zap.Field {
	return zap.Stringer(FieldTarget, value)
}

// WithQueue sets the queue field.
func WithQueue(value string) zap.Field {
	return zap.String(FieldQueue, value)
}

// WithHTTPStatus sets the http-status field.
func WithHTTPStatus(value int) zap.Field {
	return zap.Int(FieldHTTPStatus, value)
}

// WithParameter sets the parameter field.
func WithParameter(value string) zap.Field {
	return zap.String(FieldParameter, value)
}

// WithURI sets the uri field.
func WithURI(value fmt.Stringer) zap.Field {
	return zap.Stringer(FieldURI, value)
}

// WithURIString sets the uri field.
func WithURIString(value string) zap.Field {
	return zap.String(FieldURI, value)
}

// WithSenderURL sets the sender field.
func WithSenderURL(value fmt.Stringer) zap.Field {
	return zap.Stringer(FieldSenderURL, value)
}

// WithObjectIRI sets the object-iri field.
func WithObjectIRI(value fmt.Stringer) zap.Field {
	return zap.Stringer(FieldObjectIRI, value)
}

// WithReferenceIRI sets the reference field.
func WithReferenceIRI(value fmt.Stringer) zap.Field {
	return zap.Stringer(FieldReferenceIRI, value)
}

// WithKeyID sets the key-id field.
func WithKeyID(value string) zap.Field {
	return zap.String(FieldKeyID, value)
}

// WithKeyIRI sets the key-id field.
func WithKeyIRI(value fmt.Stringer) zap.Field {
	return zap.Stringer(FieldKeyID, value)
}

// WithKeyOwnerIRI sets the key-owner field.
func WithKeyOwnerIRI(value fmt.Stringer) zap.Field {
	return zap.Stringer(FieldKeyOwner, value)
}

// WithTotal sets the total field.
func WithTotal(value int) zap.Field {
	return zap.Int(FieldTotalItems, value)
}

// WithType sets the type field.
func WithType(value string) zap.Field {
	return zap.String(FieldType, value)
}

// WithQuery sets the query field. The value of the field is
// encoded as JSON.
func WithQuery(value interface{}) zap.Field {
	return zap.Inline(newJSONMarshaller(FieldQuery, value))
}

// WithDomain sets the domain field.
func WithDomain(value string) zap.Field {
	return zap.String(FieldDomain, value)
}

// WithInboxIRI sets the inbox-iri field.
func WithInboxIRI(value fmt.Stringer) zap.Field {
	return zap.Stringer(FieldInboxIRI, value)
}

// WithFollowerIRI sets the follower field.
func WithFollowerIRI(value fmt.Stringer) zap.Field {
	return zap.Stringer(FieldFollowerIRI, value)
}

// WithFollowedIRI sets the followed field.
func WithFollowedIRI(value fmt.Stringer) zap.Field {
	return zap.Stringer(FieldFollowedIRI, value)
}

// WithResource sets the resource field.
func WithResource(value string) zap.Field {
	return zap.String(FieldResource, value)
}

// WithAttempt sets the attempt field.
func WithAttempt(value int) zap.Field {
	return zap.Int(FieldAttempt, value)
}

// WithClientIP sets the client-ip field.
func WithClientIP(value string) zap.Field {
	return zap.String(FieldClientIP, value)
}

// WithPage sets the page field.
func WithPage(value int) zap.Field {
	return zap.Int(FieldPage, value)
}

// WithPerPage sets the per-page field.
func WithPerPage(value int) zap.Field {
	return zap.Int(FieldPerPage, value)
}

// WithUsername sets the username field.
func WithUsername(value string) zap.Field {
	return zap.String(FieldUsername, value)
}

// WithTracingProvider sets the tracing-provider field.
func WithTracingProvider(value string) zap.Field {
	return zap.String(FieldTracingProvider, value)
}

// WithTask sets the task field.
func WithTask(value string) zap.Field {
	return zap.String(FieldTask, value)
}

// WithStoreName sets the store field.
func WithStoreName(value string) zap.Field {
	return zap.String(FieldStoreName, value)
}

// WithTags sets the tags field.
func WithTags(value ...string) zap.Field {
	return zap.Strings(FieldTags, value)
}

// WithInstanceID sets the instance field.
func WithInstanceID(value string) zap.Field {
	return zap.String(FieldInstanceID, value)
}

// WithPermitHolder sets the permit-holder field.
func WithPermitHolder(value string) zap.Field {
	return zap.String(FieldPermitHolder, value)
}

// WithTimeSinceLastUpdate sets the time-since-last-update field.
func WithTimeSinceLastUpdate(value time.Duration) zap.Field {
	return zap.Duration(FieldTimeSinceLastUpdate, value)
}

// WithMonitorInterval sets the monitor-interval field.
func WithMonitorInterval(value time.Duration) zap.Field {
	return zap.Duration(FieldMonitorInterval, value)
}

// WithMaxTime sets the max-time field.
func WithMaxTime(value time.Duration) zap.Field {
	return zap.Duration(FieldMaxTime, value)
}

// WithStatus sets the status field.
func WithStatus(value string) zap.Field {
	return zap.String(FieldStatus, value)
}

// WithTopic sets the topic field.
func WithTopic(value string) zap.Field {
	return zap.String(FieldTopic, value)
}

// WithIndex sets the index field.
func WithIndex(value int) zap.Field {
	return zap.Int(FieldIndex, value)
}

// WithMetadata sets the metadata field.
func WithMetadata(value interface{}) zap.Field {
	return zap.Inline(newJSONMarshaller(FieldMetadata, value))
}

// WithProperty sets the property field.
func WithProperty(value string) zap.Field {
	return zap.String(FieldProperty, value)
}

// WithValue sets the value field.
func WithValue(value string) zap.Field {
	return zap.String(FieldValue, value)
}

// WithTimeout sets the timeout field.
func WithTimeout(value time.Duration) zap.Field {
	return zap.Duration(FieldTimeout, value)
}

// WithDeliveryDelay sets the delivery-delay field.
func WithDeliveryDelay(value time.Duration) zap.Field {
	return zap.Duration(FieldDeliveryDelay, value)
}

// WithDeliveryAttempts sets the delivery-attempts field.
func WithDeliveryAttempts(value int) zap.Field {
	return zap.Int(FieldDeliveryAttempts, value)
}

// WithEndpoint sets the endpoint field.
func WithEndpoint(value string) zap.Field {
	return zap.String(FieldEndpoint, value)
}

// WithSubscriptions sets the subscriptions field.
func WithSubscriptions(value int) zap.Field {
	return zap.Int(FieldSubscriptions, value)
}

// WithTotalPublishers sets the total-publishers field.
func WithTotalPublishers(value int) zap.Field {
	return zap.Int(FieldTotalPublishers, value)
}

// WithChannelPoolSize sets the channel-pool-size field.
func WithChannelPoolSize(value int) zap.Field {
	return zap.Int(FieldChannelPoolSize, value)
}

// WithLogSpec sets the log-spec field.
func WithLogSpec(value string) zap.Field {
	return zap.String(FieldLogSpec, value)
}

type jsonMarshaller struct {
	key string
	obj interface{}
}

func newJSONMarshaller(key string, value interface{}) *jsonMarshaller {
	return &jsonMarshaller{key: key, obj: value}
}

func (m *jsonMarshaller) MarshalLogObject(e zapcore.ObjectEncoder) error {
	b, err := json.Marshal(m.obj)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	e.AddString(m.key, string(b))

	return nil
}

type httpHeaderMarshaller struct {
	headers http.Header
}

func newHTTPHeaderMarshaller(headers http.Header) *httpHeaderMarshaller {
	return &httpHeaderMarshaller{headers: headers}
}

func (m *httpHeaderMarshaller) MarshalLogObject(e zapcore.ObjectEncoder) error {
	for k, values := range m.headers {
		if err := e.AddArray(k, newStringArrayMarshaller(values)); err != nil {
			return fmt.Errorf("marshal values: %w", err)
		}
	}

	return nil
}

type stringArrayMarshaller struct {
	values []string
}

func newStringArrayMarshaller(values []string) *stringArrayMarshaller {
	return &stringArrayMarshaller{values: values}
}

func (m *stringArrayMarshaller) MarshalLogArray(e zapcore.ArrayEncoder) error {
	for _, v := range m.values {
		e.AppendString(v)
	}

	return nil
}
