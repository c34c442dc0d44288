/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package auth performs bearer token authorization for the owner-only REST
// endpoints.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/petrel-fed/petrel/internal/pkg/log"
)

var logger = log.New("httpserver")

const (
	authHeader  = "Authorization"
	tokenPrefix = "Bearer "
)

// ActorTokens maps the username of a local actor to its bearer token.
type ActorTokens map[string]string

// TokenVerifier authorizes requests against per-actor bearer tokens.
type TokenVerifier struct {
	tokens ActorTokens
}

// NewTokenVerifier returns a verifier that performs per-actor bearer token
// authorization.
func NewTokenVerifier(tokens ActorTokens) *TokenVerifier {
	return &TokenVerifier{tokens: tokens}
}

// VerifyActor returns true if the request carries the bearer token of the actor
// with the given username. An actor with no configured token denies all
// requests.
func (v *TokenVerifier) VerifyActor(req *http.Request, username string) bool {
	token, ok := v.tokens[username]
	if !ok {
		logger.Debug("No token configured for actor", logfields.WithTarget(username))

		return false
	}

	hdr := req.Header.Get(authHeader)
	if hdr == "" {
		logger.Debug("Bearer token not found in header", logfields.WithTarget(username))

		return false
	}

	return subtle.ConstantTimeCompare([]byte(hdr), []byte(tokenPrefix+token)) == 1
}

// ParseActorTokens parses "user=token" pairs into an ActorTokens map. Malformed
// pairs are skipped with a warning.
func ParseActorTokens(pairs []string) ActorTokens {
	tokens := make(ActorTokens)

	for _, pair := range pairs {
		username, token, ok := strings.Cut(pair, "=")
		if !ok || username == "" || token == "" {
			logger.Warn("Ignoring malformed actor token definition", logfields.WithTarget(pair))

			continue
		}

		tokens[username] = token
	}

	return tokens
}
