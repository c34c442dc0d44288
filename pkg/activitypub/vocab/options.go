/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vocab

import (
	"net/url"
	"time"
)

// Options holds all of the options for building an object or activity.
type Options struct {
	Context      []Context
	ID           *url.URL
	To           []*url.URL
	CC           []*url.URL
	BTo          []*url.URL
	BCC          []*url.URL
	Audience     []*url.URL
	Published    *time.Time
	Updated      *time.Time
	Deleted      *time.Time
	Types        []Type
	AttributedTo *url.URL
	InReplyTo    *url.URL
	Name         string
	Content      string
	MediaType    string
	Summary      string
	FormerType   *TypeProperty
	URL          []*url.URL
	Tag          []*TagProperty

	Actor  *url.URL
	Target *ObjectProperty
	Origin *ObjectProperty

	Owner             *url.URL
	PublicKeyPem      string
	PublicKey         *PublicKeyType
	Inbox             *url.URL
	Outbox            *url.URL
	Followers         *url.URL
	Following         *url.URL
	Liked             *url.URL
	SharedInbox       *url.URL
	PreferredUsername string
	AlsoKnownAs       []*url.URL
	MovedTo           *url.URL

	TotalItems int
	Current    *url.URL
	First      *url.URL
	Last       *url.URL
	PartOf     *url.URL
	Next       *url.URL
	Prev       *url.URL
	StartIndex int

	Iri      *url.URL
	Object   *ObjectType
	Activity *ActivityType
	Link     *LinkType
}

// Opt is an option for an object, activity, etc.
type Opt func(opts *Options)

// NewOptions returns an Options struct which is populated with the provided options.
func NewOptions(opts ...Opt) *Options {
	options := &Options{}

	for _, opt := range opts {
		opt(options)
	}

	return options
}

// WithContext sets the 'context' property on the object.
func WithContext(context ...Context) Opt {
	return func(opts *Options) {
		opts.Context = context
	}
}

// WithID sets the 'id' property on the object.
func WithID(id *url.URL) Opt {
	return func(opts *Options) {
		opts.ID = id
	}
}

// WithTo sets the 'to' property on the object.
func WithTo(to ...*url.URL) Opt {
	return func(opts *Options) {
		opts.To = append(opts.To, to...)
	}
}

// WithCC sets the 'cc' property on the object.
func WithCC(cc ...*url.URL) Opt {
	return func(opts *Options) {
		opts.CC = append(opts.CC, cc...)
	}
}

// WithBTo sets the 'bto' property on the object.
func WithBTo(bto ...*url.URL) Opt {
	return func(opts *Options) {
		opts.BTo = append(opts.BTo, bto...)
	}
}

// WithBCC sets the 'bcc' property on the object.
func WithBCC(bcc ...*url.URL) Opt {
	return func(opts *Options) {
		opts.BCC = append(opts.BCC, bcc...)
	}
}

// WithAudience sets the 'audience' property on the object.
func WithAudience(audience ...*url.URL) Opt {
	return func(opts *Options) {
		opts.Audience = append(opts.Audience, audience...)
	}
}

// WithType sets tye 'type' property on the object.
func WithType(t ...Type) Opt {
	return func(opts *Options) {
		opts.Types = t
	}
}

// WithPublishedTime sets the 'published' property on the object.
func WithPublishedTime(t *time.Time) Opt {
	return func(opts *Options) {
		opts.Published = t
	}
}

// WithUpdatedTime sets the 'updated' property on the object.
func WithUpdatedTime(t *time.Time) Opt {
	return func(opts *Options) {
		opts.Updated = t
	}
}

// WithDeletedTime sets the 'deleted' property on a Tombstone object.
func WithDeletedTime(t *time.Time) Opt {
	return func(opts *Options) {
		opts.Deleted = t
	}
}

// WithAttributedTo sets the 'attributedTo' property on the object.
func WithAttributedTo(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.AttributedTo = iri
	}
}

// WithInReplyTo sets the 'inReplyTo' property on the object.
func WithInReplyTo(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.InReplyTo = iri
	}
}

// WithName sets the 'name' property on the object.
func WithName(name string) Opt {
	return func(opts *Options) {
		opts.Name = name
	}
}

// WithContent sets the 'content' property on the object.
func WithContent(content string) Opt {
	return func(opts *Options) {
		opts.Content = content
	}
}

// WithMediaType sets the 'mediaType' property on the object.
func WithMediaType(mediaType string) Opt {
	return func(opts *Options) {
		opts.MediaType = mediaType
	}
}

// WithSummary sets the 'summary' property on the object.
func WithSummary(summary string) Opt {
	return func(opts *Options) {
		opts.Summary = summary
	}
}

// WithFormerType sets the 'formerType' property on a Tombstone object.
func WithFormerType(t ...Type) Opt {
	return func(opts *Options) {
		opts.FormerType = NewTypeProperty(t...)
	}
}

// WithURL sets the 'url' property on the object.
func WithURL(u ...*url.URL) Opt {
	return func(opts *Options) {
		opts.URL = append(opts.URL, u...)
	}
}

// WithTag sets the 'tag' property on the object.
func WithTag(tag ...*TagProperty) Opt {
	return func(opts *Options) {
		opts.Tag = append(opts.Tag, tag...)
	}
}

// WithActor sets the 'actor' property on the activity.
func WithActor(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.Actor = iri
	}
}

// WithTarget sets the 'target' property on the activity.
func WithTarget(target *ObjectProperty) Opt {
	return func(opts *Options) {
		opts.Target = target
	}
}

// WithOrigin sets the 'origin' property on the activity.
func WithOrigin(origin *ObjectProperty) Opt {
	return func(opts *Options) {
		opts.Origin = origin
	}
}

// WithOwner sets the 'owner' property on a public key.
func WithOwner(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.Owner = iri
	}
}

// WithPublicKeyPem sets the 'publicKeyPem' property on a public key.
func WithPublicKeyPem(pem string) Opt {
	return func(opts *Options) {
		opts.PublicKeyPem = pem
	}
}

// WithPublicKey sets the 'publicKey' property on the actor.
func WithPublicKey(publicKey *PublicKeyType) Opt {
	return func(opts *Options) {
		opts.PublicKey = publicKey
	}
}

// WithInbox sets the 'inbox' property on the actor.
func WithInbox(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.Inbox = iri
	}
}

// WithOutbox sets the 'outbox' property on the actor.
func WithOutbox(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.Outbox = iri
	}
}

// WithFollowers sets the 'followers' property on the actor.
func WithFollowers(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.Followers = iri
	}
}

// WithFollowing sets the 'following' property on the actor.
func WithFollowing(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.Following = iri
	}
}

// WithLiked sets the 'liked' property on the actor.
func WithLiked(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.Liked = iri
	}
}

// WithSharedInbox sets the 'sharedInbox' endpoint on the actor.
func WithSharedInbox(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.SharedInbox = iri
	}
}

// WithPreferredUsername sets the 'preferredUsername' property on the actor.
func WithPreferredUsername(name string) Opt {
	return func(opts *Options) {
		opts.PreferredUsername = name
	}
}

// WithAlsoKnownAs adds IRIs to the 'alsoKnownAs' property on the actor.
func WithAlsoKnownAs(iri ...*url.URL) Opt {
	return func(opts *Options) {
		opts.AlsoKnownAs = append(opts.AlsoKnownAs, iri...)
	}
}

// WithMovedTo sets the 'movedTo' property on the actor.
func WithMovedTo(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.MovedTo = iri
	}
}

// WithTotalItems sets the 'totalItems' property on a collection.
func WithTotalItems(totalItems int) Opt {
	return func(opts *Options) {
		opts.TotalItems = totalItems
	}
}

// WithCurrent sets the 'current' property on a collection.
func WithCurrent(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.Current = iri
	}
}

// WithFirst sets the 'first' property on a collection.
func WithFirst(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.First = iri
	}
}

// WithLast sets the 'last' property on a collection.
func WithLast(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.Last = iri
	}
}

// WithPartOf sets the 'partOf' property on a collection page.
func WithPartOf(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.PartOf = iri
	}
}

// WithNext sets the 'next' property on a collection page.
func WithNext(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.Next = iri
	}
}

// WithPrev sets the 'prev' property on a collection page.
func WithPrev(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.Prev = iri
	}
}

// WithStartIndex sets the 'startIndex' property on an ordered collection page.
func WithStartIndex(startIndex int) Opt {
	return func(opts *Options) {
		opts.StartIndex = startIndex
	}
}

// WithIRI sets the IRI on the property.
func WithIRI(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.Iri = iri
	}
}

// WithObject sets the object on the property.
func WithObject(obj *ObjectType) Opt {
	return func(opts *Options) {
		opts.Object = obj
	}
}

// WithActivity sets the activity on the property.
func WithActivity(activity *ActivityType) Opt {
	return func(opts *Options) {
		opts.Activity = activity
	}
}

// WithLink sets the link on the property.
func WithLink(link *LinkType) Opt {
	return func(opts *Options) {
		opts.Link = link
	}
}

// getContexts returns the given contexts along with any contexts provided in the options.
func getContexts(options *Options, contexts ...Context) []Context {
	return append(contexts, options.Context...)
}
