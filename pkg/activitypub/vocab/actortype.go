/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vocab

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// PublicKeyType defines a public key object.
type PublicKeyType struct {
	ID           *URLProperty `json:"id"`
	Owner        *URLProperty `json:"owner"`
	PublicKeyPem string       `json:"publicKeyPem"`
}

// NewPublicKey returns a new public key object.
func NewPublicKey(opts ...Opt) *PublicKeyType {
	options := NewOptions(opts...)

	return &PublicKeyType{
		ID:           NewURLProperty(options.ID),
		Owner:        NewURLProperty(options.Owner),
		PublicKeyPem: options.PublicKeyPem,
	}
}

// PublicKeyProperty holds one or more public keys. Some implementations publish
// the 'publicKey' property as a single object while others publish an array.
type PublicKeyProperty struct {
	keys []*PublicKeyType
}

// NewPublicKeyProperty returns a new public key property. Nil is returned
// if no keys were provided.
func NewPublicKeyProperty(keys ...*PublicKeyType) *PublicKeyProperty {
	p := &PublicKeyProperty{}

	for _, k := range keys {
		if k != nil {
			p.keys = append(p.keys, k)
		}
	}

	if len(p.keys) == 0 {
		return nil
	}

	return p
}

// Keys returns the public keys contained in the property.
func (p *PublicKeyProperty) Keys() []*PublicKeyType {
	if p == nil {
		return nil
	}

	return p.keys
}

// MarshalJSON marshals the public key property.
func (p *PublicKeyProperty) MarshalJSON() ([]byte, error) {
	if len(p.keys) == 1 {
		return json.Marshal(p.keys[0])
	}

	return json.Marshal(p.keys)
}

// UnmarshalJSON unmarshals the public key property.
func (p *PublicKeyProperty) UnmarshalJSON(bytes []byte) error {
	k := &PublicKeyType{}

	if err := json.Unmarshal(bytes, k); err == nil {
		p.keys = []*PublicKeyType{k}

		return nil
	}

	var keys []*PublicKeyType

	if err := json.Unmarshal(bytes, &keys); err != nil {
		return fmt.Errorf("invalid public key property: %s", bytes)
	}

	p.keys = keys

	return nil
}

// EndpointsType defines the 'endpoints' property of an actor.
type EndpointsType struct {
	SharedInbox *URLProperty `json:"sharedInbox,omitempty"`
}

// ActorType defines an 'actor'.
type ActorType struct {
	*ObjectType

	actor *actorType
}

type actorType struct {
	PublicKey         *PublicKeyProperty     `json:"publicKey,omitempty"`
	Inbox             *URLProperty           `json:"inbox,omitempty"`
	Outbox            *URLProperty           `json:"outbox,omitempty"`
	Followers         *URLProperty           `json:"followers,omitempty"`
	Following         *URLProperty           `json:"following,omitempty"`
	Liked             *URLProperty           `json:"liked,omitempty"`
	PreferredUsername string                 `json:"preferredUsername,omitempty"`
	Endpoints         *EndpointsType         `json:"endpoints,omitempty"`
	AlsoKnownAs       *URLCollectionProperty `json:"alsoKnownAs,omitempty"`
	MovedTo           *URLProperty           `json:"movedTo,omitempty"`
}

// PublicKey returns the actor's public key. If the actor advertises multiple
// keys then the first one is returned.
func (t *ActorType) PublicKey() *PublicKeyType {
	keys := t.actor.PublicKey.Keys()
	if len(keys) == 0 {
		return nil
	}

	return keys[0]
}

// PublicKeys returns all of the actor's public keys.
func (t *ActorType) PublicKeys() []*PublicKeyType {
	return t.actor.PublicKey.Keys()
}

// Inbox returns the URL of the actor's inbox.
func (t *ActorType) Inbox() *url.URL {
	if t.actor.Inbox == nil {
		return nil
	}

	return t.actor.Inbox.URL()
}

// Outbox returns the URL of the actor's outbox.
func (t *ActorType) Outbox() *url.URL {
	if t.actor.Outbox == nil {
		return nil
	}

	return t.actor.Outbox.URL()
}

// Followers returns the URL of the actor's followers collection.
func (t *ActorType) Followers() *url.URL {
	if t.actor.Followers == nil {
		return nil
	}

	return t.actor.Followers.URL()
}

// Following returns the URL of the actor's following collection.
func (t *ActorType) Following() *url.URL {
	if t.actor.Following == nil {
		return nil
	}

	return t.actor.Following.URL()
}

// Liked returns the URL of what the actor has liked.
func (t *ActorType) Liked() *url.URL {
	if t.actor.Liked == nil {
		return nil
	}

	return t.actor.Liked.URL()
}

// PreferredUsername returns the actor's preferred username.
func (t *ActorType) PreferredUsername() string {
	return t.actor.PreferredUsername
}

// SharedInbox returns the URL of the shared inbox endpoint, or nil if the
// actor does not advertise one.
func (t *ActorType) SharedInbox() *url.URL {
	if t.actor.Endpoints == nil || t.actor.Endpoints.SharedInbox == nil {
		return nil
	}

	return t.actor.Endpoints.SharedInbox.URL()
}

// AlsoKnownAs returns the IRIs by which the actor is also known.
func (t *ActorType) AlsoKnownAs() []*url.URL {
	return t.actor.AlsoKnownAs.URLs()
}

// MovedTo returns the IRI of the actor to which this actor has moved, or nil
// if the actor has not moved.
func (t *ActorType) MovedTo() *url.URL {
	if t.actor.MovedTo == nil {
		return nil
	}

	return t.actor.MovedTo.URL()
}

// MarshalJSON marshals the object to JSON.
func (t *ActorType) MarshalJSON() ([]byte, error) {
	return MarshalJSON(t.ObjectType, t.actor)
}

// UnmarshalJSON unmarshals the object from JSON.
func (t *ActorType) UnmarshalJSON(bytes []byte) error {
	t.ObjectType = NewObject()
	t.actor = &actorType{}

	return UnmarshalJSON(bytes, t.ObjectType, t.actor)
}

// NewPerson returns a new 'Person' actor type.
func NewPerson(id *url.URL, opts ...Opt) *ActorType {
	return newActor(TypePerson, id, opts...)
}

// NewService returns a new 'Service' actor type.
func NewService(id *url.URL, opts ...Opt) *ActorType {
	return newActor(TypeService, id, opts...)
}

// NewApplication returns a new 'Application' actor type.
func NewApplication(id *url.URL, opts ...Opt) *ActorType {
	return newActor(TypeApplication, id, opts...)
}

// NewGroup returns a new 'Group' actor type.
func NewGroup(id *url.URL, opts ...Opt) *ActorType {
	return newActor(TypeGroup, id, opts...)
}

func newActor(t Type, id *url.URL, opts ...Opt) *ActorType {
	options := NewOptions(opts...)

	var endpoints *EndpointsType

	if options.SharedInbox != nil {
		endpoints = &EndpointsType{SharedInbox: NewURLProperty(options.SharedInbox)}
	}

	return &ActorType{
		ObjectType: NewObject(
			WithContext(getContexts(options, ContextActivityStreams, ContextSecurity)...),
			WithID(id),
			WithType(t),
			WithName(options.Name),
			WithSummary(options.Summary),
			WithPublishedTime(options.Published),
		),
		actor: &actorType{
			PublicKey:         NewPublicKeyProperty(options.PublicKey),
			Inbox:             NewURLProperty(options.Inbox),
			Outbox:            NewURLProperty(options.Outbox),
			Followers:         NewURLProperty(options.Followers),
			Following:         NewURLProperty(options.Following),
			Liked:             NewURLProperty(options.Liked),
			PreferredUsername: options.PreferredUsername,
			Endpoints:         endpoints,
			AlsoKnownAs:       NewURLCollectionProperty(options.AlsoKnownAs...),
			MovedTo:           NewURLProperty(options.MovedTo),
		},
	}
}
