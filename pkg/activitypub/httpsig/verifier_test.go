/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package httpsig

import (
	"bytes"
	"crypto/rsa"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrel-fed/petrel/pkg/activitypub/keystore"
	petrelerrors "github.com/petrel-fed/petrel/pkg/errors"
)

const (
	pubKeyID = "https://alice.example.com/services/petrel#main-key"
	actorID  = "https://alice.example.com/services/petrel"
	inboxURL = "https://bob.example.com/services/petrel/inbox"
)

func TestNewVerifier(t *testing.T) {
	v := NewVerifier(VerifierConfig{}, &mockKeyResolver{})
	require.NotNil(t, v)
	require.Equal(t, defaultMaxClockSkew, v.MaxClockSkew)
}

func TestVerifier_VerifyRequest(t *testing.T) {
	publicPEM, privatePEM, err := keystore.GenerateKeyPair()
	require.NoError(t, err)

	privateKey, err := keystore.ParsePrivateKeyPEM([]byte(privatePEM))
	require.NoError(t, err)

	body := []byte(`{"@context":"https://www.w3.org/ns/activitystreams","type":"Follow"}`)

	v := NewVerifier(DefaultVerifierConfig(), &mockKeyResolver{
		keys: map[string]string{pubKeyID: publicPEM},
	})

	t.Run("POST -> success", func(t *testing.T) {
		req := newSignedPOST(t, privateKey, body)

		ok, actorIRI, err := v.VerifyRequest(req)
		require.NoError(t, err)
		require.True(t, ok)
		require.NotNil(t, actorIRI)
		require.Equal(t, actorID, actorIRI.String())

		// The body must still be readable after verification.
		restored, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		require.Equal(t, body, restored)
	})

	t.Run("GET -> success", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, inboxURL, nil)
		require.NoError(t, err)

		require.NoError(t, NewSigner(DefaultGetSignerConfig()).SignRequest(privateKey, pubKeyID, req, nil))

		ok, actorIRI, err := v.VerifyRequest(req)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, actorID, actorIRI.String())
	})

	t.Run("No signature -> unverified", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, inboxURL, bytes.NewReader(body))
		require.NoError(t, err)

		ok, actorIRI, err := v.VerifyRequest(req)
		require.NoError(t, err)
		require.False(t, ok)
		require.Nil(t, actorIRI)
	})

	t.Run("hs2019 algorithm -> success", func(t *testing.T) {
		req := newSignedPOST(t, privateKey, body)

		setSignatureAlgorithm(t, req, "hs2019")

		ok, actorIRI, err := v.VerifyRequest(req)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, actorID, actorIRI.String())
	})

	t.Run("Unsupported algorithm -> unverified", func(t *testing.T) {
		req := newSignedPOST(t, privateKey, body)

		setSignatureAlgorithm(t, req, "rsa-sha1")

		ok, _, err := v.VerifyRequest(req)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("Tampered body -> unverified", func(t *testing.T) {
		req := newSignedPOST(t, privateKey, body)

		req.Body = io.NopCloser(bytes.NewReader([]byte(`{"type":"Delete"}`)))

		ok, _, err := v.VerifyRequest(req)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("Missing Digest -> unverified", func(t *testing.T) {
		req := newSignedPOST(t, privateKey, body)

		req.Header.Del("Digest")

		ok, _, err := v.VerifyRequest(req)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("Unsupported Digest algorithm -> unverified", func(t *testing.T) {
		req := newSignedPOST(t, privateKey, body)

		req.Header.Set("Digest", "MD-5=xyz")

		ok, _, err := v.VerifyRequest(req)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("Stale Date -> unverified", func(t *testing.T) {
		req := newSignedPOST(t, privateKey, body)

		req.Header.Set("Date", time.Now().Add(-10*time.Minute).UTC().Format(http.TimeFormat))

		ok, _, err := v.VerifyRequest(req)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("Future Date -> unverified", func(t *testing.T) {
		req := newSignedPOST(t, privateKey, body)

		req.Header.Set("Date", time.Now().Add(10*time.Minute).UTC().Format(http.TimeFormat))

		ok, _, err := v.VerifyRequest(req)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("Missing Date -> unverified", func(t *testing.T) {
		req := newSignedPOST(t, privateKey, body)

		req.Header.Del("Date")

		ok, _, err := v.VerifyRequest(req)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("Key not found -> error", func(t *testing.T) {
		verifier := NewVerifier(DefaultVerifierConfig(), &mockKeyResolver{keys: map[string]string{}})

		ok, _, err := verifier.VerifyRequest(newSignedPOST(t, privateKey, body))
		require.Error(t, err)
		require.Contains(t, err.Error(), "get public key")
		require.True(t, petrelerrors.IsNotFound(err))
		require.False(t, ok)
	})

	t.Run("Transient resolver error -> error", func(t *testing.T) {
		verifier := NewVerifier(DefaultVerifierConfig(), &mockKeyResolver{
			err: petrelerrors.NewTransientf("key store unavailable"),
		})

		ok, _, err := verifier.VerifyRequest(newSignedPOST(t, privateKey, body))
		require.Error(t, err)
		require.True(t, petrelerrors.IsTransient(err))
		require.False(t, ok)
	})

	t.Run("Invalid public key PEM -> unverified", func(t *testing.T) {
		verifier := NewVerifier(DefaultVerifierConfig(), &mockKeyResolver{
			keys: map[string]string{pubKeyID: "not a PEM"},
		})

		ok, _, err := verifier.VerifyRequest(newSignedPOST(t, privateKey, body))
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("Wrong public key -> unverified", func(t *testing.T) {
		otherPublicPEM, _, err := keystore.GenerateKeyPair()
		require.NoError(t, err)

		verifier := NewVerifier(DefaultVerifierConfig(), &mockKeyResolver{
			keys: map[string]string{pubKeyID: otherPublicPEM},
		})

		ok, _, err := verifier.VerifyRequest(newSignedPOST(t, privateKey, body))
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("Invalid key ID -> unverified", func(t *testing.T) {
		req := newSignedPOST(t, privateKey, body)

		setSignatureKeyID(t, req, ":invalid")

		ok, _, err := v.VerifyRequest(req)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("Empty key ID -> unverified", func(t *testing.T) {
		req := newSignedPOST(t, privateKey, body)

		setSignatureKeyID(t, req, "")

		ok, _, err := v.VerifyRequest(req)
		require.NoError(t, err)
		require.False(t, ok)
	})
}

func TestGetSignatureHeaderParam(t *testing.T) {
	t.Run("Signature header", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, inboxURL, nil)
		require.NoError(t, err)

		req.Header.Set("Signature",
			`keyId="`+pubKeyID+`",algorithm="rsa-sha256",headers="(request-target) host date",signature="dGVzdA=="`)

		require.Equal(t, pubKeyID, getSignatureHeaderParam(req, "keyId"))
		require.Equal(t, "rsa-sha256", getSignatureHeaderParam(req, "algorithm"))
		require.Equal(t, "dGVzdA==", getSignatureHeaderParam(req, "signature"))
		require.Empty(t, getSignatureHeaderParam(req, "created"))
	})

	t.Run("Authorization header", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, inboxURL, nil)
		require.NoError(t, err)

		req.Header.Set("Authorization", `Signature keyId="`+pubKeyID+`",algorithm="hs2019"`)

		require.Equal(t, pubKeyID, getSignatureHeaderParam(req, "keyId"))
		require.Equal(t, "hs2019", getSignatureHeaderParam(req, "algorithm"))
	})

	t.Run("No signature", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, inboxURL, nil)
		require.NoError(t, err)

		require.Empty(t, getSignatureHeaderParam(req, "keyId"))
	})
}

func newSignedPOST(t *testing.T, privateKey *rsa.PrivateKey, body []byte) *http.Request {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, inboxURL, bytes.NewReader(body))
	require.NoError(t, err)

	req.Header.Set("Content-Type", "application/activity+json")

	require.NoError(t, NewSigner(DefaultPostSignerConfig()).SignRequest(privateKey, pubKeyID, req, body))

	return req
}

// setSignatureAlgorithm overwrites the 'algorithm' parameter in the Signature header. The
// parameter is not covered by the signature itself, so the signature remains valid.
func setSignatureAlgorithm(t *testing.T, req *http.Request, algorithm string) {
	t.Helper()

	sig := req.Header.Get("Signature")
	require.NotEmpty(t, sig)

	if current := getSignatureHeaderParam(req, "algorithm"); current != "" {
		sig = strings.Replace(sig, `algorithm="`+current+`"`, `algorithm="`+algorithm+`"`, 1)
	} else {
		sig = `algorithm="` + algorithm + `",` + sig
	}

	req.Header.Set("Signature", sig)
}

func setSignatureKeyID(t *testing.T, req *http.Request, keyID string) {
	t.Helper()

	sig := req.Header.Get("Signature")
	require.Contains(t, sig, `keyId="`+pubKeyID+`"`)

	req.Header.Set("Signature", strings.Replace(sig, `keyId="`+pubKeyID+`"`, `keyId="`+keyID+`"`, 1))
}

type mockKeyResolver struct {
	keys map[string]string
	err  error
}

func (m *mockKeyResolver) PublicKeyPEM(keyIRI *url.URL) (string, error) {
	if m.err != nil {
		return "", m.err
	}

	pemValue, ok := m.keys[keyIRI.String()]
	if !ok {
		return "", petrelerrors.NewNotFoundf("public key not found for key ID [%s]", keyIRI)
	}

	return pemValue, nil
}
