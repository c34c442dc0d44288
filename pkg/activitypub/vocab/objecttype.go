/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vocab

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// ObjectType defines an 'object'.
type ObjectType struct {
	object     *objectType
	additional Document
}

// NewObject returns a new 'object'.
func NewObject(opts ...Opt) *ObjectType {
	options := NewOptions(opts...)

	return &ObjectType{
		object: &objectType{
			Context:      NewContextProperty(options.Context...),
			ID:           NewURLProperty(options.ID),
			Type:         NewTypeProperty(options.Types...),
			To:           NewURLCollectionProperty(options.To...),
			CC:           NewURLCollectionProperty(options.CC...),
			BTo:          NewURLCollectionProperty(options.BTo...),
			BCC:          NewURLCollectionProperty(options.BCC...),
			Audience:     NewURLCollectionProperty(options.Audience...),
			Published:    options.Published,
			Updated:      options.Updated,
			AttributedTo: NewURLProperty(options.AttributedTo),
			InReplyTo:    NewURLProperty(options.InReplyTo),
			Name:         options.Name,
			Content:      options.Content,
			MediaType:    options.MediaType,
			Summary:      options.Summary,
			URL:          NewURLCollectionProperty(options.URL...),
			Tag:          options.Tag,
			FormerType:   options.FormerType,
			Deleted:      options.Deleted,
		},
	}
}

// NewObjectWithDocument returns a new object initialized with the given document.
func NewObjectWithDocument(doc Document, opts ...Opt) (*ObjectType, error) {
	if doc == nil {
		return nil, fmt.Errorf("nil document")
	}

	bytes, err := MarshalJSON(NewObject(opts...), doc)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	obj := &ObjectType{}

	err = json.Unmarshal(bytes, &obj)
	if err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	return obj, nil
}

type objectType struct {
	Context      *ContextProperty       `json:"@context,omitempty"`
	ID           *URLProperty           `json:"id,omitempty"`
	Type         *TypeProperty          `json:"type,omitempty"`
	To           *URLCollectionProperty `json:"to,omitempty"`
	CC           *URLCollectionProperty `json:"cc,omitempty"`
	BTo          *URLCollectionProperty `json:"bto,omitempty"`
	BCC          *URLCollectionProperty `json:"bcc,omitempty"`
	Audience     *URLCollectionProperty `json:"audience,omitempty"`
	Published    *time.Time             `json:"published,omitempty"`
	Updated      *time.Time             `json:"updated,omitempty"`
	AttributedTo *URLProperty           `json:"attributedTo,omitempty"`
	InReplyTo    *URLProperty           `json:"inReplyTo,omitempty"`
	Name         string                 `json:"name,omitempty"`
	Content      string                 `json:"content,omitempty"`
	MediaType    string                 `json:"mediaType,omitempty"`
	Summary      string                 `json:"summary,omitempty"`
	URL          *URLCollectionProperty `json:"url,omitempty"`
	Tag          []*TagProperty         `json:"tag,omitempty"`
	FormerType   *TypeProperty          `json:"formerType,omitempty"`
	Deleted      *time.Time             `json:"deleted,omitempty"`
}

// Context returns the context property.
func (t *ObjectType) Context() *ContextProperty {
	return t.object.Context
}

// ID returns the object's ID.
func (t *ObjectType) ID() *URLProperty {
	return t.object.ID
}

// SetID sets the object's ID.
func (t *ObjectType) SetID(id *url.URL) {
	t.object.ID = NewURLProperty(id)
}

// Type returns the type of the object.
func (t *ObjectType) Type() *TypeProperty {
	return t.object.Type
}

// To returns a set of URLs to which the object should be sent.
func (t *ObjectType) To() []*url.URL {
	return t.object.To.URLs()
}

// CC returns a set of URLs to which the object should be carbon-copied.
func (t *ObjectType) CC() []*url.URL {
	return t.object.CC.URLs()
}

// BTo returns a set of URLs to which the object should be privately sent.
func (t *ObjectType) BTo() []*url.URL {
	return t.object.BTo.URLs()
}

// BCC returns a set of URLs to which the object should be privately carbon-copied.
func (t *ObjectType) BCC() []*url.URL {
	return t.object.BCC.URLs()
}

// Audience returns the total population of entities for which the object is relevant.
func (t *ObjectType) Audience() []*url.URL {
	return t.object.Audience.URLs()
}

// StripHiddenRecipients removes the 'bto' and 'bcc' properties from the object.
// These properties must not be delivered to remote servers.
func (t *ObjectType) StripHiddenRecipients() {
	t.object.BTo = nil
	t.object.BCC = nil
}

// Published returns the time when the object was published.
func (t *ObjectType) Published() *time.Time {
	return t.object.Published
}

// SetPublished sets the time when the object was published.
func (t *ObjectType) SetPublished(published *time.Time) {
	t.object.Published = published
}

// Updated returns the time when the object was last updated.
func (t *ObjectType) Updated() *time.Time {
	return t.object.Updated
}

// SetUpdated sets the time when the object was last updated.
func (t *ObjectType) SetUpdated(updated *time.Time) {
	t.object.Updated = updated
}

// AttributedTo returns the entity to which the object is attributed.
func (t *ObjectType) AttributedTo() *URLProperty {
	return t.object.AttributedTo
}

// SetAttributedTo sets the entity to which the object is attributed.
func (t *ObjectType) SetAttributedTo(iri *url.URL) {
	t.object.AttributedTo = NewURLProperty(iri)
}

// InReplyTo returns the object that this object is a reply to.
func (t *ObjectType) InReplyTo() *URLProperty {
	return t.object.InReplyTo
}

// Name returns the object's name.
func (t *ObjectType) Name() string {
	return t.object.Name
}

// Content returns the object's content.
func (t *ObjectType) Content() string {
	return t.object.Content
}

// MediaType returns the media type of the object's content.
func (t *ObjectType) MediaType() string {
	return t.object.MediaType
}

// Summary returns the object's summary.
func (t *ObjectType) Summary() string {
	return t.object.Summary
}

// URL returns the object's URLs.
func (t *ObjectType) URL() []*url.URL {
	return t.object.URL.URLs()
}

// Tag returns the object's tags.
func (t *ObjectType) Tag() []*TagProperty {
	return t.object.Tag
}

// FormerType returns the former type of a Tombstone object.
func (t *ObjectType) FormerType() *TypeProperty {
	return t.object.FormerType
}

// Deleted returns the time when a Tombstone's object was deleted.
func (t *ObjectType) Deleted() *time.Time {
	return t.object.Deleted
}

// SetDeleted sets the time when the object was deleted.
func (t *ObjectType) SetDeleted(deleted *time.Time) {
	t.object.Deleted = deleted
}

// Value returns the value of a property.
func (t *ObjectType) Value(key string) (interface{}, bool) {
	v, ok := t.additional[key]

	return v, ok
}

// MarshalJSON marshals the object.
func (t *ObjectType) MarshalJSON() ([]byte, error) {
	return MarshalJSON(t.object, t.additional)
}

// UnmarshalJSON unmarshals the object.
func (t *ObjectType) UnmarshalJSON(bytes []byte) error {
	header := &objectType{}

	err := json.Unmarshal(bytes, header)
	if err != nil {
		return err
	}

	doc := make(Document)

	err = json.Unmarshal(bytes, &doc)
	if err != nil {
		return err
	}

	// Delete all of the reserved ActivityStreams fields
	for _, prop := range reservedProperties() {
		delete(doc, prop)
	}

	t.object = header
	t.additional = doc

	return nil
}
