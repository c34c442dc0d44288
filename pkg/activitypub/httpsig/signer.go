/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package httpsig

import (
	"crypto"
	"fmt"
	"net/http"
	"time"

	"github.com/go-fed/httpsig"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/petrel-fed/petrel/internal/pkg/log"
)

var logger = log.New("activitypub-httpsig")

const (
	dateHeader   = "Date"
	hostHeader   = "Host"
	digestHeader = "Digest"

	defaultExpiration = 60 * time.Second
)

// DefaultGetSignerConfig returns the default configuration for signing HTTP GET requests.
func DefaultGetSignerConfig() SignerConfig {
	return SignerConfig{
		Algorithms: []httpsig.Algorithm{httpsig.RSA_SHA256},
		Headers:    []string{httpsig.RequestTarget, hostHeader, dateHeader},
	}
}

// DefaultPostSignerConfig returns the default configuration for signing HTTP POST requests.
func DefaultPostSignerConfig() SignerConfig {
	return SignerConfig{
		Algorithms:      []httpsig.Algorithm{httpsig.RSA_SHA256},
		DigestAlgorithm: httpsig.DigestSha256,
		Headers:         []string{httpsig.RequestTarget, hostHeader, dateHeader, digestHeader, "Content-Type"},
	}
}

// SignerConfig contains the configuration for signing HTTP requests.
type SignerConfig struct {
	Algorithms      []httpsig.Algorithm
	DigestAlgorithm httpsig.DigestAlgorithm
	Headers         []string
	Expiration      time.Duration
}

// Signer signs HTTP requests.
type Signer struct {
	SignerConfig
}

// NewSigner returns a new signer.
func NewSigner(cfg SignerConfig) *Signer {
	s := &Signer{
		SignerConfig: cfg,
	}

	if s.Expiration == 0 {
		s.Expiration = defaultExpiration
	}

	return s
}

// SignRequest signs an HTTP request. The Date header is set to the current time. All of
// the headers named in the signer configuration, other than Digest, must be present on
// the request since they are covered by the signature.
func (s *Signer) SignRequest(pKey crypto.PrivateKey, pubKeyID string, req *http.Request, body []byte) error {
	logger.Debug("Signing request", logfields.WithRequestURL(req.URL), logfields.WithKeyID(pubKeyID))

	signer, _, err := httpsig.NewSigner(s.Algorithms, s.DigestAlgorithm, s.Headers,
		httpsig.Signature, int64(s.Expiration.Seconds()))
	if err != nil {
		return fmt.Errorf("new signer: %w", err)
	}

	req.Header.Set(dateHeader, time.Now().UTC().Format(http.TimeFormat))

	// The HTTP client populates the Host header from the request itself, so it must be
	// added to the header map for the signature to cover it.
	if req.Header.Get(hostHeader) == "" {
		host := req.Host
		if host == "" {
			host = req.URL.Host
		}

		req.Header.Set(hostHeader, host)
	}

	if err := signer.SignRequest(pKey, pubKeyID, req, body); err != nil {
		return fmt.Errorf("sign request: %w", err)
	}

	return nil
}
