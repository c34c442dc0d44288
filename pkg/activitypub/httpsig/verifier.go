/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package httpsig

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-fed/httpsig"
	"github.com/trustbloc/logutil-go/pkg/log"
	"go.uber.org/zap"

	logfields "github.com/petrel-fed/petrel/internal/pkg/log"
	"github.com/petrel-fed/petrel/pkg/activitypub/keystore"
)

const defaultMaxClockSkew = 5 * time.Minute

type publicKeyResolver interface {
	PublicKeyPEM(keyIRI *url.URL) (string, error)
}

// DefaultVerifierConfig returns the default configuration for verifying HTTP signatures.
// The hs2019 label is treated as rsa-sha256.
func DefaultVerifierConfig() VerifierConfig {
	return VerifierConfig{
		Algorithms:   []string{"rsa-sha256", "hs2019"},
		MaxClockSkew: defaultMaxClockSkew,
	}
}

// VerifierConfig contains the configuration for verifying HTTP signatures.
type VerifierConfig struct {
	// Algorithms holds the accepted values of the 'algorithm' signature parameter.
	Algorithms []string
	// MaxClockSkew is the maximum tolerated difference between the Date header
	// and the current time.
	MaxClockSkew time.Duration
}

// Verifier verifies signatures of HTTP requests.
type Verifier struct {
	VerifierConfig

	resolver publicKeyResolver
}

// NewVerifier returns a new HTTP signature verifier that resolves public keys with the
// given resolver.
func NewVerifier(cfg VerifierConfig, resolver publicKeyResolver) *Verifier {
	v := &Verifier{
		VerifierConfig: cfg,
		resolver:       resolver,
	}

	if v.MaxClockSkew == 0 {
		v.MaxClockSkew = defaultMaxClockSkew
	}

	return v
}

// VerifyRequest verifies the following:
// - The Digest header against the request body.
// - The Date header against the current time.
// - The HTTP signature on the request, using the public key resolved from the key ID in
// the signature. Key resolution ensures that the owning actor advertises the key.
//
// Returns:
// - true if the signature was successfully verified, otherwise false.
// - The IRI of the actor that owns the key if the signature was successfully verified.
// - An error if verification could not be completed due to a server error.
func (v *Verifier) VerifyRequest(req *http.Request) (bool, *url.URL, error) {
	logger.Debug("Verifying request.", logfields.WithRequestHeaders(req.Header))

	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		logger.Debug("Invalid signature on request", logfields.WithRequestURL(req.URL), log.WithError(err))

		return false, nil, nil
	}

	if algorithm := getSignatureHeaderParam(req, "algorithm"); algorithm != "" && !v.acceptsAlgorithm(algorithm) {
		logger.Info("Unsupported signature algorithm in request", logfields.WithRequestURL(req.URL),
			zap.String("algorithm", algorithm))

		return false, nil, nil
	}

	ok, err := v.verifyDigest(req)
	if err != nil {
		return false, nil, err
	}

	if !ok {
		logger.Info("Digest verification failed for request", logfields.WithRequestURL(req.URL))

		return false, nil, nil
	}

	if !v.verifyDate(req) {
		logger.Info("Date header in request is missing or outside of the tolerated clock skew",
			logfields.WithRequestURL(req.URL))

		return false, nil, nil
	}

	keyID := verifier.KeyId()
	if keyID == "" {
		logger.Debug("'keyId' not found in the signature on request", logfields.WithRequestURL(req.URL))

		return false, nil, nil
	}

	keyIRI, err := url.Parse(keyID)
	if err != nil {
		logger.Debug("Invalid public key ID in request", logfields.WithKeyID(keyID),
			logfields.WithRequestURL(req.URL), log.WithError(err))

		return false, nil, nil
	}

	pemValue, err := v.resolver.PublicKeyPEM(keyIRI)
	if err != nil {
		return false, nil, fmt.Errorf("get public key [%s]: %w", keyIRI, err)
	}

	publicKey, err := keystore.ParsePublicKeyPEM([]byte(pemValue))
	if err != nil {
		logger.Info("Invalid public key advertised for key ID", logfields.WithKeyIRI(keyIRI), log.WithError(err))

		return false, nil, nil
	}

	if err := verifier.Verify(publicKey, httpsig.RSA_SHA256); err != nil {
		logger.Info("Signature verification failed for request", logfields.WithRequestURL(req.URL),
			log.WithError(err))

		return false, nil, nil
	}

	actorIRI := *keyIRI
	actorIRI.Fragment = ""
	actorIRI.RawFragment = ""

	logger.Debug("Successfully verified signature on request", logfields.WithActorIRI(&actorIRI))

	return true, &actorIRI, nil
}

func (v *Verifier) acceptsAlgorithm(algorithm string) bool {
	for _, a := range v.Algorithms {
		if strings.EqualFold(a, algorithm) {
			return true
		}
	}

	return false
}

// verifyDigest re-computes the SHA-256 digest of the request body and compares it to the
// Digest header. A request without a body requires no Digest header. The body is restored
// so that it may be read again by downstream handlers.
func (v *Verifier) verifyDigest(req *http.Request) (bool, error) {
	var body []byte

	if req.Body != nil {
		var err error

		body, err = io.ReadAll(req.Body)
		if err != nil {
			return false, fmt.Errorf("read request body: %w", err)
		}

		req.Body = io.NopCloser(bytes.NewReader(body))
	}

	digestValue := req.Header.Get(digestHeader)

	if digestValue == "" {
		return len(body) == 0, nil
	}

	const kvLength = 2

	parts := strings.SplitN(digestValue, "=", kvLength)
	if len(parts) != kvLength || !strings.EqualFold(parts[0], "sha-256") {
		return false, nil
	}

	digest := sha256.Sum256(body)

	return parts[1] == base64.StdEncoding.EncodeToString(digest[:]), nil
}

func (v *Verifier) verifyDate(req *http.Request) bool {
	date, err := http.ParseTime(req.Header.Get(dateHeader))
	if err != nil {
		return false
	}

	skew := time.Since(date)
	if skew < 0 {
		skew = -skew
	}

	return skew <= v.MaxClockSkew
}

// getSignatureHeaderParam returns the value of the given parameter in the Signature
// header. A signature carried in the Authorization header is also supported.
func getSignatureHeaderParam(req *http.Request, param string) string {
	signatureHeader := req.Header.Get("Signature")
	if signatureHeader == "" {
		signatureHeader = strings.TrimPrefix(req.Header.Get("Authorization"), string(httpsig.Signature)+" ")
	}

	const kvLength = 2

	for _, kv := range strings.Split(signatureHeader, ",") {
		parts := strings.SplitN(kv, "=", kvLength)
		if len(parts) != kvLength {
			continue
		}

		if strings.TrimSpace(parts[0]) == param {
			return strings.Trim(parts[1], `"`)
		}
	}

	return ""
}
