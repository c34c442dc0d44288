/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package jsonld

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/piprate/json-gold/ld"
)

const (
	// ContextActivityStreams is the default context against which documents are compacted.
	ContextActivityStreams = "https://www.w3.org/ns/activitystreams"

	// ContextSecurity defines the publicKey terms used by actor documents.
	ContextSecurity = "https://w3id.org/security/v1"
)

const nQuadsFormat = "application/n-quads"

// Processor compacts and canonicalizes JSON-LD documents. All context
// resolution goes through the document loader given at construction.
type Processor struct {
	processor *ld.JsonLdProcessor
	loader    ld.DocumentLoader
	contexts  []interface{}
}

// ProcessorOpt sets an option on the processor.
type ProcessorOpt func(p *Processor)

// WithCompactionContext replaces the default compaction contexts.
func WithCompactionContext(contexts ...string) ProcessorOpt {
	return func(p *Processor) {
		p.contexts = nil

		for _, c := range contexts {
			p.contexts = append(p.contexts, c)
		}
	}
}

// NewProcessor returns a processor that compacts documents against the
// ActivityStreams and security contexts.
func NewProcessor(loader ld.DocumentLoader, opts ...ProcessorOpt) *Processor {
	p := &Processor{
		processor: ld.NewJsonLdProcessor(),
		loader:    loader,
		contexts:  []interface{}{ContextActivityStreams, ContextSecurity},
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Compact returns the given document compacted against the configured
// contexts. Single-element arrays are unwrapped, so a compacted document has
// plain string 'id' and 'type' values where the source had them. A document
// that carries no @context of its own is interpreted against the default
// contexts rather than rejected.
func (p *Processor) Compact(doc map[string]interface{}) (map[string]interface{}, error) {
	compacted, err := p.processor.Compact(p.withDefaultContext(doc), p.compactionContext(), p.options())
	if err != nil {
		return nil, fmt.Errorf("compact document: %w", err)
	}

	return compacted, nil
}

// Canonicalize returns the URDNA2015 canonical form of the given document,
// serialized as N-Quads. Two documents with the same semantic content yield
// byte-identical canonical forms regardless of key order.
func (p *Processor) Canonicalize(doc map[string]interface{}) (string, error) {
	opts := p.options()
	opts.Format = nQuadsFormat
	opts.Algorithm = ld.AlgorithmURDNA2015

	normalized, err := p.processor.Normalize(p.withDefaultContext(doc), opts)
	if err != nil {
		return "", fmt.Errorf("canonicalize document: %w", err)
	}

	nQuads, ok := normalized.(string)
	if !ok {
		return "", fmt.Errorf("unexpected canonical form of type %T", normalized)
	}

	return nQuads, nil
}

// Hash returns the hex-encoded SHA-256 digest of the canonical form of the
// given document.
func (p *Processor) Hash(doc map[string]interface{}) (string, error) {
	canonical, err := p.Canonicalize(doc)
	if err != nil {
		return "", err
	}

	digest := sha256.Sum256([]byte(canonical))

	return hex.EncodeToString(digest[:]), nil
}

func (p *Processor) options() *ld.JsonLdOptions {
	opts := ld.NewJsonLdOptions("")
	opts.DocumentLoader = p.loader

	return opts
}

func (p *Processor) compactionContext() map[string]interface{} {
	return map[string]interface{}{"@context": p.contexts}
}

func (p *Processor) withDefaultContext(doc map[string]interface{}) map[string]interface{} {
	if _, ok := doc["@context"]; ok {
		return doc
	}

	withContext := make(map[string]interface{}, len(doc)+1)

	for k, v := range doc {
		withContext[k] = v
	}

	withContext["@context"] = p.contexts

	return withContext
}
