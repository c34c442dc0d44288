/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vocab

import "net/url"

// Context defines the object context.
type Context string

const (
	// ContextActivityStreams is the ActivityStreams context.
	ContextActivityStreams Context = "https://www.w3.org/ns/activitystreams"
	// ContextSecurity is the security context.
	ContextSecurity Context = "https://w3id.org/security/v1"
	// ContextIdentity is the identity context.
	ContextIdentity Context = "https://w3id.org/identity/v1"
	// ContextPetrel is the petrel extensions context.
	ContextPetrel Context = "https://ns.petrel.dev/v1"
)

const (
	// PublicIRI indicates that the object is public, i.e. it may be viewed by anyone.
	PublicIRI = "https://www.w3.org/ns/activitystreams#Public"
)

// Type indicates the type of the object.
type Type string

const (
	// TypePerson specifies the 'Person' actor type.
	TypePerson Type = "Person"
	// TypeService specifies the 'Service' actor type.
	TypeService Type = "Service"
	// TypeApplication specifies the 'Application' actor type.
	TypeApplication Type = "Application"
	// TypeGroup specifies the 'Group' actor type.
	TypeGroup Type = "Group"
	// TypeOrganization specifies the 'Organization' actor type.
	TypeOrganization Type = "Organization"

	// TypeNote specifies the 'Note' object type.
	TypeNote Type = "Note"
	// TypeArticle specifies the 'Article' object type.
	TypeArticle Type = "Article"
	// TypeTombstone specifies the 'Tombstone' object type.
	TypeTombstone Type = "Tombstone"
	// TypeLink specifies the 'Link' object type.
	TypeLink Type = "Link"
	// TypeMention specifies the 'Mention' link type.
	TypeMention Type = "Mention"

	// TypeCollection specifies the 'Collection' object type.
	TypeCollection Type = "Collection"
	// TypeOrderedCollection specifies the 'OrderedCollection' object type.
	TypeOrderedCollection Type = "OrderedCollection"
	// TypeCollectionPage specifies the 'CollectionPage' object type.
	TypeCollectionPage Type = "CollectionPage"
	// TypeOrderedCollectionPage specifies the 'OrderedCollectionPage' object type.
	TypeOrderedCollectionPage Type = "OrderedCollectionPage"

	// TypeCreate specifies the 'Create' activity type.
	TypeCreate Type = "Create"
	// TypeUpdate specifies the 'Update' activity type.
	TypeUpdate Type = "Update"
	// TypeDelete specifies the 'Delete' activity type.
	TypeDelete Type = "Delete"
	// TypeFollow specifies the 'Follow' activity type.
	TypeFollow Type = "Follow"
	// TypeAccept specifies the 'Accept' activity type.
	TypeAccept Type = "Accept"
	// TypeReject specifies the 'Reject' activity type.
	TypeReject Type = "Reject"
	// TypeUndo specifies the 'Undo' activity type.
	TypeUndo Type = "Undo"
	// TypeLike specifies the 'Like' activity type.
	TypeLike Type = "Like"
	// TypeAnnounce specifies the 'Announce' activity type.
	TypeAnnounce Type = "Announce"
	// TypeBlock specifies the 'Block' activity type.
	TypeBlock Type = "Block"
	// TypeFlag specifies the 'Flag' activity type.
	TypeFlag Type = "Flag"
	// TypeMove specifies the 'Move' activity type.
	TypeMove Type = "Move"
)

// activityTypes contains all of the supported activity types.
var activityTypes = []Type{
	TypeCreate, TypeUpdate, TypeDelete, TypeFollow, TypeAccept, TypeReject,
	TypeUndo, TypeLike, TypeAnnounce, TypeBlock, TypeFlag, TypeMove,
}

const (
	propertyContext           = "@context"
	propertyID                = "id"
	propertyType              = "type"
	propertyTo                = "to"
	propertyCC                = "cc"
	propertyBTo               = "bto"
	propertyBCC               = "bcc"
	propertyAudience          = "audience"
	propertyPublished         = "published"
	propertyUpdated           = "updated"
	propertyAttributedTo      = "attributedTo"
	propertyInReplyTo         = "inReplyTo"
	propertyName              = "name"
	propertyContent           = "content"
	propertyMediaType         = "mediaType"
	propertySummary           = "summary"
	propertyURL               = "url"
	propertyTag               = "tag"
	propertyFormerType        = "formerType"
	propertyDeleted           = "deleted"
	propertyActor             = "actor"
	propertyObject            = "object"
	propertyTarget            = "target"
	propertyOrigin            = "origin"
	propertyPublicKey         = "publicKey"
	propertyInbox             = "inbox"
	propertyOutbox            = "outbox"
	propertyFollowers         = "followers"
	propertyFollowing         = "following"
	propertyLiked             = "liked"
	propertyEndpoints         = "endpoints"
	propertyPreferredUsername = "preferredUsername"
	propertyAlsoKnownAs       = "alsoKnownAs"
	propertyMovedTo           = "movedTo"
	propertyCurrent           = "current"
	propertyFirst             = "first"
	propertyLast              = "last"
	propertyItems             = "items"
	propertyOrderedItems      = "orderedItems"
	propertyTotalItems        = "totalItems"
	propertyPartOf            = "partOf"
	propertyNext              = "next"
	propertyPrev              = "prev"
	propertyStartIndex        = "startIndex"
	propertyHRef              = "href"
	propertyRel               = "rel"
)

// reservedProperties returns the properties that are mapped to fields in the header
// structs of the various types. Any property not in this list ends up in the
// 'additional properties' document.
func reservedProperties() []string {
	return []string{
		propertyContext,
		propertyID,
		propertyType,
		propertyTo,
		propertyCC,
		propertyBTo,
		propertyBCC,
		propertyAudience,
		propertyPublished,
		propertyUpdated,
		propertyAttributedTo,
		propertyInReplyTo,
		propertyName,
		propertyContent,
		propertyMediaType,
		propertySummary,
		propertyURL,
		propertyTag,
		propertyFormerType,
		propertyDeleted,
		propertyActor,
		propertyObject,
		propertyTarget,
		propertyOrigin,
		propertyPublicKey,
		propertyInbox,
		propertyOutbox,
		propertyFollowers,
		propertyFollowing,
		propertyLiked,
		propertyEndpoints,
		propertyPreferredUsername,
		propertyAlsoKnownAs,
		propertyMovedTo,
		propertyCurrent,
		propertyFirst,
		propertyLast,
		propertyItems,
		propertyOrderedItems,
		propertyTotalItems,
		propertyPartOf,
		propertyNext,
		propertyPrev,
		propertyStartIndex,
		propertyHRef,
		propertyRel,
	}
}

// IsPublic returns true if any of the given IRIs is the special 'Public' collection IRI.
func IsPublic(iris ...*url.URL) bool {
	for _, iri := range iris {
		if iri != nil && iri.String() == PublicIRI {
			return true
		}
	}

	return false
}

// Document defines a JSON document as a map.
type Document map[string]interface{}

// MergeWith merges the document with the given document. Any duplicate fields
// are overridden.
func (doc Document) MergeWith(other Document) {
	for k, v := range other {
		doc[k] = v
	}
}

// Unmarshal unmarshals the document to the given object.
func (doc Document) Unmarshal(obj interface{}) error {
	return UnmarshalFromDoc(doc, obj)
}
