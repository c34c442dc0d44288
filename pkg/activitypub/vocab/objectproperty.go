/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vocab

import (
	"encoding/json"
	"net/url"
)

// ObjectProperty defines an 'object' property. The property may be a simple IRI,
// an embedded object such as 'Note' or 'Tombstone', or an embedded activity as
// in the 'object' of an Undo or Accept.
type ObjectProperty struct {
	iri      *URLProperty
	obj      *ObjectType
	activity *ActivityType
}

// NewObjectProperty returns a new 'object' property with the given options.
func NewObjectProperty(opts ...Opt) *ObjectProperty {
	options := NewOptions(opts...)

	return &ObjectProperty{
		iri:      NewURLProperty(options.Iri),
		obj:      options.Object,
		activity: options.Activity,
	}
}

// Type returns the type of the object property. If the property
// is an IRI then nil is returned.
func (p *ObjectProperty) Type() *TypeProperty {
	if p == nil {
		return nil
	}

	if p.activity != nil {
		return p.activity.Type()
	}

	if p.obj != nil {
		return p.obj.Type()
	}

	return nil
}

// IRI returns the IRI or nil if the IRI is not set. If the property holds an
// embedded object or activity then the ID of that object is returned.
func (p *ObjectProperty) IRI() *url.URL {
	if p == nil {
		return nil
	}

	if p.iri != nil {
		return p.iri.u
	}

	if p.activity != nil {
		return p.activity.ID().URL()
	}

	if p.obj != nil {
		return p.obj.ID().URL()
	}

	return nil
}

// Object returns the object or nil if the object is not set.
func (p *ObjectProperty) Object() *ObjectType {
	if p == nil {
		return nil
	}

	return p.obj
}

// Activity returns the embedded activity or nil if the property does not hold an activity.
func (p *ObjectProperty) Activity() *ActivityType {
	if p == nil {
		return nil
	}

	return p.activity
}

// MarshalJSON marshals the 'object' property.
func (p *ObjectProperty) MarshalJSON() ([]byte, error) {
	if p.iri != nil {
		return json.Marshal(p.iri)
	}

	if p.activity != nil {
		return json.Marshal(p.activity)
	}

	if p.obj != nil {
		return json.Marshal(p.obj)
	}

	return nil, nil
}

// UnmarshalJSON unmarshals the 'object' property.
func (p *ObjectProperty) UnmarshalJSON(bytes []byte) error {
	if len(bytes) == 0 {
		return nil
	}

	iri := &URLProperty{}

	err := json.Unmarshal(bytes, &iri)
	if err == nil {
		p.iri = iri

		return nil
	}

	obj := &ObjectType{}

	err = json.Unmarshal(bytes, &obj)
	if err != nil {
		return err
	}

	if obj.Type().IsActivity() {
		activity := &ActivityType{}

		err = json.Unmarshal(bytes, &activity)
		if err != nil {
			return err
		}

		p.activity = activity

		return nil
	}

	p.obj = obj

	return nil
}
