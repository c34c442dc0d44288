/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vocab

import (
	"encoding/json"
	"fmt"
)

// ContextProperty holds the JSON-LD context property of an object.
type ContextProperty struct {
	contexts []Context
}

// NewContextProperty returns a new 'context' property with the given contexts. Nil is
// returned if no contexts were provided.
func NewContextProperty(context ...Context) *ContextProperty {
	if len(context) == 0 {
		return nil
	}

	return &ContextProperty{contexts: context}
}

// String returns the string representation of the context property.
func (p *ContextProperty) String() string {
	if p == nil {
		return ""
	}

	if len(p.contexts) == 1 {
		return string(p.contexts[0])
	}

	return fmt.Sprintf("%s", p.contexts)
}

// Contexts returns all of the contexts defined in the property.
func (p *ContextProperty) Contexts() []Context {
	if p == nil {
		return nil
	}

	return p.contexts
}

// Contains returns true if the property contains all of the given contexts.
func (p *ContextProperty) Contains(contexts ...Context) bool {
	if p == nil || len(contexts) == 0 {
		return false
	}

	for _, c := range contexts {
		if !p.contains(c) {
			return false
		}
	}

	return true
}

// ContainsAny returns true if the property contains any of the given contexts.
func (p *ContextProperty) ContainsAny(contexts ...Context) bool {
	if p == nil {
		return false
	}

	for _, c := range contexts {
		if p.contains(c) {
			return true
		}
	}

	return false
}

func (p *ContextProperty) contains(context Context) bool {
	for _, c := range p.contexts {
		if c == context {
			return true
		}
	}

	return false
}

// MarshalJSON marshals the context property.
func (p *ContextProperty) MarshalJSON() ([]byte, error) {
	if len(p.contexts) == 1 {
		return json.Marshal(p.contexts[0])
	}

	return json.Marshal(p.contexts)
}

// UnmarshalJSON unmarshals the context property. Inline context definitions are
// ignored since compaction resolves them before documents reach this type.
func (p *ContextProperty) UnmarshalJSON(bytes []byte) error {
	var ctx Context

	if err := json.Unmarshal(bytes, &ctx); err == nil {
		p.contexts = []Context{ctx}

		return nil
	}

	var raw []interface{}

	if err := json.Unmarshal(bytes, &raw); err != nil {
		return fmt.Errorf("invalid context property: %s", bytes)
	}

	for _, c := range raw {
		if s, ok := c.(string); ok {
			p.contexts = append(p.contexts, Context(s))
		}
	}

	return nil
}
