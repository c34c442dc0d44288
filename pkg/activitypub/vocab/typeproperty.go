/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vocab

import (
	"encoding/json"
	"fmt"
)

// TypeProperty holds the type of an object or activity.
type TypeProperty struct {
	types []Type
}

// NewTypeProperty returns a new 'type' property with the given types. Nil is
// returned if no types were provided.
func NewTypeProperty(t ...Type) *TypeProperty {
	if len(t) == 0 {
		return nil
	}

	return &TypeProperty{types: t}
}

// String returns the string representation of the type property.
func (p *TypeProperty) String() string {
	if p == nil || len(p.types) == 0 {
		return ""
	}

	if len(p.types) == 1 {
		return string(p.types[0])
	}

	return fmt.Sprintf("%s", p.types)
}

// Types returns all of the types defined in the property.
func (p *TypeProperty) Types() []Type {
	if p == nil {
		return nil
	}

	return p.types
}

// Is returns true if the property contains all of the given types.
func (p *TypeProperty) Is(types ...Type) bool {
	if p == nil || len(types) == 0 {
		return false
	}

	for _, t := range types {
		if !p.is(t) {
			return false
		}
	}

	return true
}

// IsAny returns true if the property contains any of the given types.
func (p *TypeProperty) IsAny(types ...Type) bool {
	if p == nil {
		return false
	}

	for _, t := range types {
		if p.is(t) {
			return true
		}
	}

	return false
}

// IsActivity returns true if the property contains one of the known activity types.
func (p *TypeProperty) IsActivity() bool {
	return p.IsAny(activityTypes...)
}

func (p *TypeProperty) is(t Type) bool {
	for _, pt := range p.types {
		if pt == t {
			return true
		}
	}

	return false
}

// MarshalJSON marshals the type property.
func (p *TypeProperty) MarshalJSON() ([]byte, error) {
	if len(p.types) == 1 {
		return json.Marshal(p.types[0])
	}

	return json.Marshal(p.types)
}

// UnmarshalJSON unmarshals the type property.
func (p *TypeProperty) UnmarshalJSON(bytes []byte) error {
	var t Type

	if err := json.Unmarshal(bytes, &t); err == nil {
		p.types = []Type{t}

		return nil
	}

	var types []Type

	if err := json.Unmarshal(bytes, &types); err != nil {
		return fmt.Errorf("invalid type property: %s", bytes)
	}

	p.types = types

	return nil
}
