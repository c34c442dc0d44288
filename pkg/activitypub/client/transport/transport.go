/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transport

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rsa"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/petrel-fed/petrel/internal/pkg/log"
	"github.com/petrel-fed/petrel/pkg/activitypub/keystore"
	petrelerrors "github.com/petrel-fed/petrel/pkg/errors"
)

var logger = log.New("activitypub-client")

const (
	// AcceptHeader is the name of the Accept header.
	AcceptHeader = "Accept"

	// ContentTypeHeader is the name of the Content-Type header.
	ContentTypeHeader = "Content-Type"

	// UserAgentHeader is the name of the User-Agent header.
	UserAgentHeader = "User-Agent"

	// ActivityStreamsContentType is the content type of an ActivityStreams document.
	ActivityStreamsContentType = "application/activity+json"

	// LDPlusJSONContentType is the JSON-LD content type with the ActivityStreams profile.
	LDPlusJSONContentType = `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`

	// ActivityStreamsAccept is the value of the Accept header for requests that expect an
	// ActivityStreams document. Both content types in common use are accepted.
	ActivityStreamsAccept = ActivityStreamsContentType + ", " + LDPlusJSONContentType
)

const (
	defaultUserAgent            = "petrel"
	defaultMaxRetries           = 3
	defaultRetryInitialInterval = time.Second
	defaultRetryMultiplier      = 2.0
)

// Signer signs an HTTP request before it is sent.
type Signer interface {
	SignRequest(pKey crypto.PrivateKey, pubKeyID string, req *http.Request, body []byte) error
}

type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type keyProvider interface {
	PrivateKey(actorIRI *url.URL) (*rsa.PrivateKey, error)
}

// Config holds the configuration parameters for the transport.
type Config struct {
	// UserAgent is sent in the User-Agent header of every outgoing request.
	UserAgent string

	// MaxRetries is the number of times a request is retried after a network error
	// or a 5xx response. Responses with any other status are returned immediately.
	MaxRetries uint64

	// RetryInitialInterval is the delay before the first retry. The delay is multiplied
	// by RetryMultiplier for each subsequent retry.
	RetryInitialInterval time.Duration

	// RetryMultiplier is the factor by which the retry delay grows.
	RetryMultiplier float64

	// RetryNotify, if set, is invoked before each retry of a POST.
	RetryNotify func(toURL *url.URL, delay time.Duration)
}

// Transport sends signed HTTP requests to remote ActivityPub services.
type Transport struct {
	Config

	client     httpClient
	keys       keyProvider
	serviceIRI *url.URL
	getSigner  Signer
	postSigner Signer
}

// New returns a transport that signs outgoing requests with the private key of a local
// actor. Requests are signed with the key of the service actor, serviceIRI, unless the
// request specifies another actor (see WithSigningActor). The timeout of each attempt
// is governed by the given HTTP client.
func New(cfg Config, client httpClient, keys keyProvider, serviceIRI *url.URL,
	getSigner, postSigner Signer) *Transport {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	if cfg.RetryInitialInterval == 0 {
		cfg.RetryInitialInterval = defaultRetryInitialInterval
	}

	if cfg.RetryMultiplier == 0 {
		cfg.RetryMultiplier = defaultRetryMultiplier
	}

	return &Transport{
		Config:     cfg,
		client:     client,
		keys:       keys,
		serviceIRI: serviceIRI,
		getSigner:  getSigner,
		postSigner: postSigner,
	}
}

// Default returns a transport that does not sign requests. This transport should
// only be used by tests.
func Default() *Transport {
	return New(Config{}, http.DefaultClient, &nopKeyProvider{}, &url.URL{}, DefaultSigner(), DefaultSigner())
}

// Request contains the destination URL and headers of a request.
type Request struct {
	URL    *url.URL
	Header http.Header

	// ActorIRI is the local actor whose key signs the request. If nil then the
	// request is signed with the key of the service actor.
	ActorIRI *url.URL
}

// Opt sets an option on a request.
type Opt func(*Request)

// WithHeader sets a header on the request.
func WithHeader(name string, values ...string) Opt {
	return func(r *Request) {
		r.Header[name] = values
	}
}

// WithSigningActor sets the local actor whose key signs the request.
func WithSigningActor(actorIRI *url.URL) Opt {
	return func(r *Request) {
		r.ActorIRI = actorIRI
	}
}

// NewRequest returns a new request for the given URL.
func NewRequest(toURL *url.URL, opts ...Opt) *Request {
	r := &Request{
		URL:    toURL,
		Header: make(http.Header),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Post posts the given payload to the URL in the request. The request is rebuilt and
// re-signed on each attempt so that the Date header covered by the signature is fresh.
func (t *Transport) Post(ctx context.Context, r *Request, payload []byte) (*http.Response, error) {
	actorIRI := t.signingActor(r)

	return t.do(ctx, r.URL, t.RetryNotify, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL.String(), bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("new request to [%s]: %w", r.URL, err)
		}

		t.setHeaders(r, req)

		if req.Header.Get(ContentTypeHeader) == "" {
			// The Content-Type header is covered by the signature and must be set before signing.
			req.Header.Set(ContentTypeHeader, ActivityStreamsContentType)
		}

		if err := t.sign(t.postSigner, actorIRI, req, payload); err != nil {
			return nil, err
		}

		return req, nil
	})
}

// Get sends a GET request to the URL in the request. The request is rebuilt and
// re-signed on each attempt.
func (t *Transport) Get(ctx context.Context, r *Request) (*http.Response, error) {
	actorIRI := t.signingActor(r)

	return t.do(ctx, r.URL, nil, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("new request to [%s]: %w", r.URL, err)
		}

		t.setHeaders(r, req)

		if err := t.sign(t.getSigner, actorIRI, req, nil); err != nil {
			return nil, err
		}

		return req, nil
	})
}

// do sends the request, retrying on a network error or a 5xx response. A response
// with any other status is returned to the caller, who is responsible for closing
// the response body.
func (t *Transport) do(ctx context.Context, toURL *url.URL, notify func(toURL *url.URL, delay time.Duration),
	newRequest func() (*http.Request, error)) (*http.Response, error) {
	var resp *http.Response

	err := backoff.RetryNotify(
		func() error {
			req, err := newRequest()
			if err != nil {
				// The request could not be built or signed. Retrying won't help.
				return backoff.Permanent(err)
			}

			r, err := t.client.Do(req)
			if err != nil {
				return petrelerrors.NewTransient(err)
			}

			if r.StatusCode >= http.StatusInternalServerError {
				// Drain and close the body so that the connection may be reused.
				if _, err := io.Copy(io.Discard, r.Body); err != nil {
					logger.Debug("Error draining response body", logfields.WithRequestURL(toURL), log.WithError(err))
				}

				if err := r.Body.Close(); err != nil {
					logger.Debug("Error closing response body", logfields.WithRequestURL(toURL), log.WithError(err))
				}

				return petrelerrors.NewTransientf("status code %d from [%s]", r.StatusCode, toURL)
			}

			resp = r

			return nil
		},
		backoff.WithContext(backoff.WithMaxRetries(t.newBackOff(), t.MaxRetries), ctx),
		func(err error, delay time.Duration) {
			logger.Debug("Request failed. Retrying.", logfields.WithRequestURL(toURL),
				logfields.WithDeliveryDelay(delay), log.WithError(err))

			if notify != nil {
				notify(toURL, delay)
			}
		},
	)
	if err != nil {
		return nil, err
	}

	return resp, nil
}

func (t *Transport) sign(signer Signer, actorIRI *url.URL, req *http.Request, body []byte) error {
	privateKey, err := t.keys.PrivateKey(actorIRI)
	if err != nil {
		return fmt.Errorf("get private key for actor [%s]: %w", actorIRI, err)
	}

	if err := signer.SignRequest(privateKey, keystore.KeyID(actorIRI).String(), req, body); err != nil {
		return fmt.Errorf("sign request to [%s]: %w", req.URL, err)
	}

	return nil
}

func (t *Transport) setHeaders(r *Request, req *http.Request) {
	if r.Header != nil {
		req.Header = r.Header.Clone()
	}

	req.Header.Set(UserAgentHeader, t.UserAgent)
}

func (t *Transport) signingActor(r *Request) *url.URL {
	if r.ActorIRI != nil {
		return r.ActorIRI
	}

	return t.serviceIRI
}

func (t *Transport) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.RetryInitialInterval
	b.Multiplier = t.RetryMultiplier
	b.RandomizationFactor = 0

	return b
}

// NoOpSigner is a signer that does nothing.
type NoOpSigner struct{}

// DefaultSigner returns a signer that does nothing.
func DefaultSigner() *NoOpSigner {
	return &NoOpSigner{}
}

// SignRequest does nothing.
func (s *NoOpSigner) SignRequest(crypto.PrivateKey, string, *http.Request, []byte) error {
	return nil
}

type nopKeyProvider struct{}

func (p *nopKeyProvider) PrivateKey(*url.URL) (*rsa.PrivateKey, error) {
	return nil, nil
}
