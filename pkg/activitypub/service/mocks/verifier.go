/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mocks

import (
	"net/http"
	"net/url"
)

// SignatureVerifier implements a mock HTTP signature verifier.
type SignatureVerifier struct {
	actorIRI *url.URL
	verified bool
	err      error
}

// NewSignatureVerifier returns a mock signature verifier that accepts every
// request as having been signed by the given actor.
func NewSignatureVerifier(actorIRI *url.URL) *SignatureVerifier {
	return &SignatureVerifier{
		actorIRI: actorIRI,
		verified: true,
	}
}

// WithVerified sets the result of the verification.
func (m *SignatureVerifier) WithVerified(verified bool) *SignatureVerifier {
	m.verified = verified

	return m
}

// WithError injects an error into the mock verifier.
func (m *SignatureVerifier) WithError(err error) *SignatureVerifier {
	m.err = err

	return m
}

// VerifyRequest returns the injected verification result.
func (m *SignatureVerifier) VerifyRequest(_ *http.Request) (bool, *url.URL, error) {
	if m.err != nil {
		return false, nil, m.err
	}

	if !m.verified {
		return false, nil, nil
	}

	return true, m.actorIRI, nil
}
