/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package keystore manages the RSA key pairs of local actors and resolves the public
// keys of remote actors for HTTP signature verification.
package keystore

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/bluele/gcache"
	"github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/petrel-fed/petrel/internal/pkg/log"
	"github.com/petrel-fed/petrel/pkg/activitypub/vocab"
	petrelerrors "github.com/petrel-fed/petrel/pkg/errors"
	"github.com/petrel-fed/petrel/pkg/store"
)

var logger = log.New("activitypub-keystore")

const (
	storeName       = "actor-key"
	actorIRITagName = "actorIri"

	keySize         = 2048
	mainKeyFragment = "main-key"

	defaultCacheSize               = 100
	defaultCacheExpiration         = 24 * time.Hour
	defaultNegativeCacheExpiration = time.Hour
)

type actorRetriever interface {
	FetchActor(actorIRI *url.URL) (*vocab.ActorType, error)
}

type actorStore interface {
	PutActor(actor *vocab.ActorType) error
}

// Config contains configuration parameters for the key store.
type Config struct {
	CacheSize               int
	CacheExpiration         time.Duration
	NegativeCacheExpiration time.Duration
}

// Store manages a persistent store of local actor key pairs and caches the
// public keys of remote actors.
type Store struct {
	store              storage.Store
	activityStore      actorStore
	retriever          actorRetriever
	publicKeyCache     gcache.Cache
	privateKeyCache    gcache.Cache
	expiration         time.Duration
	negativeExpiration time.Duration
}

type keyPairDoc struct {
	ActorIRI   string `json:"actorIri"`
	PublicPEM  string `json:"publicKeyPem"`
	PrivatePEM string `json:"privateKeyPem"`
}

type publicKeyResult struct {
	pem string
	err error
}

// New returns a new key store. Remote public keys are resolved with the given
// retriever and the owning actors are persisted to the given activity store.
func New(cfg Config, provider storage.Provider, activityStore actorStore, retriever actorRetriever) (*Store, error) {
	s, err := store.Open(provider, storeName, store.NewTagGroup(actorIRITagName))
	if err != nil {
		return nil, fmt.Errorf("open store [%s]: %w", storeName, err)
	}

	cacheSize := cfg.CacheSize

	if cacheSize == 0 {
		cacheSize = defaultCacheSize
	}

	keyStore := &Store{
		store:              s,
		activityStore:      activityStore,
		retriever:          retriever,
		expiration:         cfg.CacheExpiration,
		negativeExpiration: cfg.NegativeCacheExpiration,
	}

	if keyStore.expiration == 0 {
		keyStore.expiration = defaultCacheExpiration
	}

	if keyStore.negativeExpiration == 0 {
		keyStore.negativeExpiration = defaultNegativeCacheExpiration
	}

	keyStore.publicKeyCache = gcache.New(cacheSize).ARC().
		LoaderExpireFunc(func(k interface{}) (interface{}, *time.Duration, error) {
			return keyStore.loadPublicKeyPEM(k.(string))
		}).Build()

	keyStore.privateKeyCache = gcache.New(cacheSize).ARC().
		LoaderFunc(func(k interface{}) (interface{}, error) {
			return keyStore.loadPrivateKey(k.(string))
		}).Build()

	logger.Debug("Created actor key store", logfields.WithStoreName(storeName),
		logfields.WithExpiration(keyStore.expiration))

	return keyStore, nil
}

// KeyID returns the ID of an actor's primary key, i.e. the actor IRI with a
// 'main-key' fragment.
func KeyID(actorIRI *url.URL) *url.URL {
	keyID := *actorIRI
	keyID.Fragment = mainKeyFragment
	keyID.RawFragment = ""

	return &keyID
}

// Digest returns the value of the 'Digest' header for the given request body.
func Digest(body []byte) string {
	digest := sha256.Sum256(body)

	return "SHA-256=" + base64.StdEncoding.EncodeToString(digest[:])
}

// GenerateKeyPair returns a new 2048-bit RSA key pair. The public key is PEM-encoded
// in SPKI form and the private key in PKCS #8 form.
func GenerateKeyPair() (publicPEM, privatePEM string, err error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		return "", "", fmt.Errorf("generate RSA key: %w", err)
	}

	publicBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return "", "", fmt.Errorf("marshal public key: %w", err)
	}

	privateBytes, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return "", "", fmt.Errorf("marshal private key: %w", err)
	}

	publicPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicBytes}))
	privatePEM = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privateBytes}))

	return publicPEM, privatePEM, nil
}

// PutKeyPair stores the key pair for a local actor, replacing any existing pair.
func (s *Store) PutKeyPair(actorIRI *url.URL, publicPEM, privatePEM string) error {
	docBytes, err := json.Marshal(&keyPairDoc{
		ActorIRI:   encodeIRI(actorIRI.String()),
		PublicPEM:  publicPEM,
		PrivatePEM: privatePEM,
	})
	if err != nil {
		return fmt.Errorf("marshal key pair [%s]: %w", actorIRI, err)
	}

	err = s.store.Put(actorIRI.String(), docBytes,
		storage.Tag{Name: actorIRITagName, Value: encodeIRI(actorIRI.String())})
	if err != nil {
		return petrelerrors.NewTransient(fmt.Errorf("store key pair [%s]: %w", actorIRI, err))
	}

	s.privateKeyCache.Remove(actorIRI.String())

	logger.Debug("Stored key pair for actor", logfields.WithActorIRI(actorIRI))

	return nil
}

// EnsureKeyPair guarantees that the given local actor has a key pair, generating and
// storing a new one if none exists. If seedPrivateKeyPEM is provided then the key pair
// is derived from it and stored, replacing any existing pair.
func (s *Store) EnsureKeyPair(actorIRI *url.URL, seedPrivateKeyPEM string) error {
	if seedPrivateKeyPEM != "" {
		privateKey, err := ParsePrivateKeyPEM([]byte(seedPrivateKeyPEM))
		if err != nil {
			return fmt.Errorf("parse seed private key for actor [%s]: %w", actorIRI, err)
		}

		publicBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
		if err != nil {
			return fmt.Errorf("marshal public key for actor [%s]: %w", actorIRI, err)
		}

		publicPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicBytes}))

		logger.Info("Seeding key pair for actor from the configured private key",
			logfields.WithActorIRI(actorIRI))

		return s.PutKeyPair(actorIRI, publicPEM, seedPrivateKeyPEM)
	}

	_, err := s.getKeyPair(actorIRI.String())
	if err == nil {
		return nil
	}

	if !errors.Is(err, storage.ErrDataNotFound) {
		return petrelerrors.NewTransient(fmt.Errorf("get key pair [%s]: %w", actorIRI, err))
	}

	logger.Info("Generating key pair for actor", logfields.WithActorIRI(actorIRI))

	publicPEM, privatePEM, err := GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("generate key pair for actor [%s]: %w", actorIRI, err)
	}

	return s.PutKeyPair(actorIRI, publicPEM, privatePEM)
}

// PrivateKeyPEM returns the PEM-encoded private key of a local actor. A NotFound
// error is returned if the actor has no stored key pair.
func (s *Store) PrivateKeyPEM(actorIRI *url.URL) (string, error) {
	kp, err := s.getKeyPair(actorIRI.String())
	if err != nil {
		if errors.Is(err, storage.ErrDataNotFound) {
			return "", petrelerrors.NewNotFoundf("no key pair for actor [%s]", actorIRI)
		}

		return "", petrelerrors.NewTransient(fmt.Errorf("get key pair [%s]: %w", actorIRI, err))
	}

	return kp.PrivatePEM, nil
}

// PrivateKey returns the private key of a local actor. The key is parsed once and
// the parsed key is cached.
func (s *Store) PrivateKey(actorIRI *url.URL) (*rsa.PrivateKey, error) {
	key, err := s.privateKeyCache.Get(actorIRI.String())
	if err != nil {
		return nil, err
	}

	return key.(*rsa.PrivateKey), nil
}

// PublicKey returns the public key object of a local actor.
func (s *Store) PublicKey(actorIRI *url.URL) (*vocab.PublicKeyType, error) {
	kp, err := s.getKeyPair(actorIRI.String())
	if err != nil {
		if errors.Is(err, storage.ErrDataNotFound) {
			return nil, petrelerrors.NewNotFoundf("no key pair for actor [%s]", actorIRI)
		}

		return nil, petrelerrors.NewTransient(fmt.Errorf("get key pair [%s]: %w", actorIRI, err))
	}

	return vocab.NewPublicKey(
		vocab.WithID(KeyID(actorIRI)),
		vocab.WithOwner(actorIRI),
		vocab.WithPublicKeyPem(kp.PublicPEM),
	), nil
}

// PublicKeyPEM returns the PEM-encoded public key for the given key ID. The key ID is
// resolved to the owning actor by stripping the fragment. Local actors are resolved from
// the store; otherwise the actor document is fetched, the actor is persisted, and the
// advertised key matching the key ID is returned. Results are cached, including the
// 'not found' result.
func (s *Store) PublicKeyPEM(keyIRI *url.URL) (string, error) {
	result, err := s.publicKeyCache.Get(keyIRI.String())
	if err != nil {
		return "", err
	}

	r := result.(*publicKeyResult)

	return r.pem, r.err
}

// Count returns the number of local actors with a stored key pair.
func (s *Store) Count() (int, error) {
	it, err := s.store.Query(actorIRITagName)
	if err != nil {
		return 0, petrelerrors.NewTransient(fmt.Errorf("query key pairs: %w", err))
	}

	defer func() {
		if err := it.Close(); err != nil {
			logfields.CloseIteratorError(logger, err)
		}
	}()

	total, err := it.TotalItems()
	if err != nil {
		return 0, petrelerrors.NewTransient(fmt.Errorf("get total key pairs: %w", err))
	}

	return total, nil
}

func (s *Store) loadPublicKeyPEM(keyID string) (interface{}, *time.Duration, error) {
	keyIRI, err := url.Parse(keyID)
	if err != nil {
		return nil, nil, fmt.Errorf("parse key ID [%s]: %w", keyID, err)
	}

	pemStr, err := s.resolvePublicKeyPEM(keyIRI)
	if err != nil {
		if !petrelerrors.IsNotFound(err) {
			// Transient resolution failures are not cached so that the next
			// request retries the lookup.
			return nil, nil, err
		}

		logger.Debug("Public key not found. Caching the negative result.",
			logfields.WithKeyID(keyID), log.WithError(err))

		return &publicKeyResult{err: err}, &s.negativeExpiration, nil
	}

	return &publicKeyResult{pem: pemStr}, &s.expiration, nil
}

func (s *Store) resolvePublicKeyPEM(keyIRI *url.URL) (string, error) {
	actorIRI := *keyIRI
	actorIRI.Fragment = ""
	actorIRI.RawFragment = ""

	kp, err := s.getKeyPair(actorIRI.String())
	if err == nil {
		return kp.PublicPEM, nil
	}

	if !errors.Is(err, storage.ErrDataNotFound) {
		return "", petrelerrors.NewTransient(fmt.Errorf("get key pair [%s]: %w", &actorIRI, err))
	}

	logger.Debug("Public key not found in storage. Fetching the owning actor.",
		logfields.WithKeyIRI(keyIRI), logfields.WithActorIRI(&actorIRI))

	actor, err := s.retriever.FetchActor(&actorIRI)
	if err != nil {
		return "", fmt.Errorf("fetch actor [%s]: %w", &actorIRI, err)
	}

	pemStr := advertisedKeyPEM(actor, keyIRI.String())
	if pemStr == "" {
		return "", petrelerrors.NewNotFoundf("actor [%s] does not advertise public key [%s]", actor.ID(), keyIRI)
	}

	if err := s.activityStore.PutActor(actor); err != nil {
		// The key was resolved, so a storage failure shouldn't fail the request.
		logger.Warn("Error storing actor", logfields.WithActorIRI(actor.ID()), log.WithError(err))
	}

	return pemStr, nil
}

// advertisedKeyPEM returns the PEM of the actor's key whose ID matches keyID. An actor
// that advertises a single key without an ID is taken to be the key being requested.
func advertisedKeyPEM(actor *vocab.ActorType, keyID string) string {
	keys := actor.PublicKeys()

	if len(keys) == 1 && keys[0].ID == nil {
		return keys[0].PublicKeyPem
	}

	for _, key := range keys {
		if key.ID.String() == keyID {
			return key.PublicKeyPem
		}
	}

	return ""
}

func (s *Store) loadPrivateKey(actorIRI string) (interface{}, error) {
	kp, err := s.getKeyPair(actorIRI)
	if err != nil {
		if errors.Is(err, storage.ErrDataNotFound) {
			return nil, petrelerrors.NewNotFoundf("no key pair for actor [%s]", actorIRI)
		}

		return nil, petrelerrors.NewTransient(fmt.Errorf("get key pair [%s]: %w", actorIRI, err))
	}

	privateKey, err := ParsePrivateKeyPEM([]byte(kp.PrivatePEM))
	if err != nil {
		return nil, fmt.Errorf("parse private key [%s]: %w", actorIRI, err)
	}

	return privateKey, nil
}

func (s *Store) getKeyPair(actorIRI string) (*keyPairDoc, error) {
	docBytes, err := s.store.Get(actorIRI)
	if err != nil {
		return nil, err
	}

	doc := &keyPairDoc{}

	if err := json.Unmarshal(docBytes, doc); err != nil {
		return nil, fmt.Errorf("unmarshal key pair [%s]: %w", actorIRI, err)
	}

	return doc, nil
}

// ParsePrivateKeyPEM parses a PEM-encoded RSA private key in either PKCS #8 or PKCS #1 form.
func ParsePrivateKeyPEM(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("not an RSA private key")
		}

		return rsaKey, nil
	}

	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return rsaKey, nil
}

// ParsePublicKeyPEM parses a PEM-encoded RSA public key in either SPKI or PKCS #1 form.
func ParsePublicKeyPEM(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err == nil {
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("not an RSA public key")
		}

		return rsaKey, nil
	}

	rsaKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	return rsaKey, nil
}

func encodeIRI(iri string) string {
	return base64.RawStdEncoding.EncodeToString([]byte(iri))
}
