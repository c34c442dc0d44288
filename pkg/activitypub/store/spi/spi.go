/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package spi

import (
	"errors"
	"net/url"
	"time"

	"github.com/petrel-fed/petrel/pkg/activitypub/vocab"
)

// ErrNotFound is returned from various store functions when a requested
// object is not found in the store.
var ErrNotFound = errors.New("not found in ActivityPub store")

// ReferenceType defines the type of a reference edge attached to an actor.
type ReferenceType string

const (
	// Inbox indicates that the reference is an activity that was received by the actor.
	Inbox ReferenceType = "INBOX"
	// Outbox indicates that the reference is an activity that was published by the actor.
	Outbox ReferenceType = "OUTBOX"
	// Follower indicates that the reference is an actor that is following the given actor.
	Follower ReferenceType = "FOLLOWER"
	// Following indicates that the reference is an actor that the given actor is following.
	Following ReferenceType = "FOLLOWING"
	// Liked indicates that the reference is an object that the given actor liked.
	Liked ReferenceType = "LIKED"
	// Blocked indicates that the reference is an actor that the given actor blocked.
	Blocked ReferenceType = "BLOCKED"
)

// FollowStatus is the state of a follow relationship.
type FollowStatus string

const (
	// FollowPending indicates that the follow request has not yet been accepted.
	FollowPending FollowStatus = "PENDING"
	// FollowAccepted indicates that the follow request was accepted.
	FollowAccepted FollowStatus = "ACCEPTED"
)

// Follow holds the state of a follow relationship between two actors.
type Follow struct {
	Follower    *url.URL
	Followed    *url.URL
	ActivityIRI *url.URL
	Status      FollowStatus
	Created     time.Time
	Updated     time.Time
}

// Store defines the functions of an ActivityPub store.
type Store interface {
	// PutActor stores the given actor, replacing any existing actor with the same ID.
	PutActor(actor *vocab.ActorType) error
	// GetActor returns the actor for the given IRI. Returns ErrNotFound if the actor
	// is not in the store.
	GetActor(actorIRI *url.URL) (*vocab.ActorType, error)

	// PutObject stores the given content object, replacing any existing object with
	// the same ID.
	PutObject(object *vocab.ObjectType) error
	// GetObject returns the content object for the given IRI, or ErrNotFound if it is
	// not in the store. A soft-deleted object is returned with its 'deleted'
	// timestamp set.
	GetObject(objectIRI *url.URL) (*vocab.ObjectType, error)
	// DeleteObject marks the content object with the given IRI as deleted. The
	// object is retained, and subsequent GetObject calls return it with the
	// 'deleted' timestamp set.
	DeleteObject(objectIRI *url.URL) error

	// AddActivity adds the given activity to the activity store.
	AddActivity(activity *vocab.ActivityType) error
	// GetActivity returns the activity for the given IRI, or ErrNotFound if it is
	// not in the store. A soft-deleted activity is returned with its 'deleted'
	// timestamp set.
	GetActivity(activityIRI *url.URL) (*vocab.ActivityType, error)
	// DeleteActivity marks the activity with the given IRI as deleted and removes
	// the inbox/outbox references to it, so that it no longer appears in queries.
	DeleteActivity(activityIRI *url.URL) error
	// QueryActivities queries the activity store using the provided criteria
	// and returns a results iterator.
	QueryActivities(query *Criteria, opts ...QueryOpt) (ActivityIterator, error)

	// AddProcessed inserts the given activity IRI into the processed set and returns
	// true if the IRI was not already present. Enqueue-time deduplication ensures
	// that a given IRI is processed by at most one worker at a time, so the insert
	// does not need to be atomic across callers.
	AddProcessed(activityIRI *url.URL) (bool, error)
	// IsProcessed returns true if the given activity IRI is in the processed set.
	IsProcessed(activityIRI *url.URL) (bool, error)

	// PutFollow stores the given follow relationship, replacing any existing
	// relationship for the same (follower, followed) pair.
	PutFollow(follow *Follow) error
	// GetFollow returns the follow relationship for the given pair, or ErrNotFound.
	GetFollow(followerIRI, followedIRI *url.URL) (*Follow, error)
	// DeleteFollow removes the follow relationship for the given pair.
	DeleteFollow(followerIRI, followedIRI *url.URL) error
	// WithFollowPair invokes fn while holding an exclusive lock on the given
	// (follower, followed) pair, serializing concurrent mutations of the same pair.
	WithFollowPair(followerIRI, followedIRI *url.URL, fn func() error) error

	// AddReference adds a reference edge of the given type to the given object.
	AddReference(refType ReferenceType, objectIRI, referenceIRI *url.URL, refMetaDataOpts ...RefMetadataOpt) error
	// DeleteReference deletes the reference edge of the given type from the given object.
	DeleteReference(refType ReferenceType, objectIRI, referenceIRI *url.URL) error
	// QueryReferences returns the references of the given type according to the
	// given criteria. Follower and Following queries are served from the follow
	// relationships and only include accepted follows.
	QueryReferences(refType ReferenceType, query *Criteria, opts ...QueryOpt) (ReferenceIterator, error)

	// ReassignIRI rewrites every stored occurrence of oldIRI to newIRI: the actor
	// entry, both sides of follow relationships, reference edges, and the
	// actor/attributedTo fields of stored activities and objects.
	ReassignIRI(oldIRI, newIRI *url.URL) error
}

// Criteria holds the search criteria for a query.
type Criteria struct {
	Types         []vocab.Type
	ReferenceType ReferenceType
	ObjectIRI     *url.URL
	ReferenceIRI  *url.URL
}

// CriteriaOpt sets a Criteria option.
type CriteriaOpt func(q *Criteria)

// NewCriteria returns new Criteria which may be used to perform a query.
func NewCriteria(opts ...CriteriaOpt) *Criteria {
	q := &Criteria{}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// WithType sets the activity Type(s) on the criteria.
func WithType(t ...vocab.Type) CriteriaOpt {
	return func(query *Criteria) {
		query.Types = append(query.Types, t...)
	}
}

// WithReferenceType sets the reference type on the criteria. Activity queries
// with a reference type return the activities referenced by the object IRI,
// e.g. the activities in an actor's inbox.
func WithReferenceType(refType ReferenceType) CriteriaOpt {
	return func(query *Criteria) {
		query.ReferenceType = refType
	}
}

// WithObjectIRI sets the object IRI on the criteria.
func WithObjectIRI(iri *url.URL) CriteriaOpt {
	return func(query *Criteria) {
		query.ObjectIRI = iri
	}
}

// WithReferenceIRI sets the reference IRI on the criteria.
func WithReferenceIRI(iri *url.URL) CriteriaOpt {
	return func(query *Criteria) {
		query.ReferenceIRI = iri
	}
}

// SortOrder specifies the sort order of query results.
type SortOrder int

const (
	// SortAscending indicates that the results must be sorted in ascending order.
	SortAscending SortOrder = iota
	// SortDescending indicates that the results must be sorted in descending order.
	SortDescending
)

// QueryOptions holds the options for a query.
type QueryOptions struct {
	// PageNumber is the zero-based page to start from. A value less than zero
	// starts from the beginning.
	PageNumber int
	// PageSize is the maximum number of results per page. A value less than or
	// equal to zero returns all results.
	PageSize int
	// SortOrder is the order of the results by creation time.
	SortOrder SortOrder
}

// QueryOpt sets a query option.
type QueryOpt func(options *QueryOptions)

// WithPageSize sets the page size.
func WithPageSize(pageSize int) QueryOpt {
	return func(options *QueryOptions) {
		options.PageSize = pageSize
	}
}

// WithPageNum sets the page number.
func WithPageNum(pageNum int) QueryOpt {
	return func(options *QueryOptions) {
		options.PageNumber = pageNum
	}
}

// WithSortOrder sets the sort order of the results. Default is descending.
func WithSortOrder(sortOrder SortOrder) QueryOpt {
	return func(options *QueryOptions) {
		options.SortOrder = sortOrder
	}
}

// RefMetadata holds additional metadata that is stored with a reference.
type RefMetadata struct {
	ActivityType vocab.Type
}

// RefMetadataOpt sets a reference metadata option.
type RefMetadataOpt func(metadata *RefMetadata)

// WithActivityType sets the type of the activity that the reference points to,
// allowing reference queries to filter by activity type.
func WithActivityType(t vocab.Type) RefMetadataOpt {
	return func(metadata *RefMetadata) {
		metadata.ActivityType = t
	}
}

// ActivityIterator defines the query results iterator for activity queries.
type ActivityIterator interface {
	// TotalItems returns the total number of items as a result of the query.
	TotalItems() (int, error)
	// Next returns the next activity or an ErrNotFound error if there are no more items.
	Next() (*vocab.ActivityType, error)
	// Close closes the iterator.
	Close() error
}

// ReferenceIterator defines the query results iterator for reference queries.
type ReferenceIterator interface {
	// TotalItems returns the total number of items as a result of the query.
	TotalItems() (int, error)
	// Next returns the next reference or an ErrNotFound error if there are no more items.
	Next() (*url.URL, error)
	// Close closes the iterator.
	Close() error
}
