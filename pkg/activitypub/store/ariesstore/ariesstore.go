/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ariesstore

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	ariesstorage "github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/petrel-fed/petrel/internal/pkg/log"
	"github.com/petrel-fed/petrel/pkg/activitypub/store/memstore"
	"github.com/petrel-fed/petrel/pkg/activitypub/store/spi"
	"github.com/petrel-fed/petrel/pkg/activitypub/store/storeutil"
	"github.com/petrel-fed/petrel/pkg/activitypub/vocab"
	petrelerrors "github.com/petrel-fed/petrel/pkg/errors"
)

const (
	activityStoreName  = "activity"
	refStoreName       = "activitypub-ref"
	actorStoreName     = "actor"
	objectStoreName    = "object"
	followStoreName    = "follow"
	processedStoreName = "processed"

	activityTag         = "Activity"
	objectIRITagName    = "ObjectIRI"
	refTypeTagName      = "RefType"
	refIRITagName       = "RefIRI"
	timeAddedTagName    = "TimeAdded"
	activityTypeTagName = "ActivityType"
	actorIRITagName     = "ActorIRI"
	attributedToTagName = "AttributedTo"
	followerIRITagName  = "FollowerIRI"
	followedIRITagName  = "FollowedIRI"
	statusTagName       = "Status"
	expiryTimeTagName   = "ExpiryTime"

	defaultProcessedEntryLifespan = 30 * 24 * time.Hour
)

var logger = log.New("activitypub-store")

// Provider implements an ActivityPub store backed by an Aries storage provider.
type Provider struct {
	serviceName             string
	activityStore           ariesstorage.Store
	referenceStore          ariesstorage.Store
	actorStore              ariesstorage.Store
	objectStore             ariesstorage.Store
	followStore             ariesstorage.Store
	processedStore          ariesstorage.Store
	pairLock                *storeutil.PairLock
	processedEntryLifespan  time.Duration
	multipleTagQueryCapable bool
}

// Option is an option for the storage provider.
type Option func(p *Provider)

// WithProcessedEntryLifespan sets the lifespan of entries in the processed set, after which
// they are eligible for removal by the data expiry service.
func WithProcessedEntryLifespan(lifespan time.Duration) Option {
	return func(p *Provider) {
		p.processedEntryLifespan = lifespan
	}
}

// New returns a new ActivityPub storage provider.
// If multipleTagQueryCapable is set to true, then reference and follow queries can be done using multiple
// tags at the same time. Right now only the MongoDB provider supports this setting.
func New(serviceName string, provider ariesstorage.Provider, multipleTagQueryCapable bool,
	opts ...Option) (*Provider, error) {
	stores, err := openStores(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to open stores: %w", err)
	}

	p := &Provider{
		serviceName:             serviceName,
		activityStore:           stores.activities,
		referenceStore:          stores.reference,
		actorStore:              stores.actor,
		objectStore:             stores.object,
		followStore:             stores.follow,
		processedStore:          stores.processed,
		pairLock:                storeutil.NewPairLock(),
		processedEntryLifespan:  defaultProcessedEntryLifespan,
		multipleTagQueryCapable: multipleTagQueryCapable,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

type expiryService interface {
	Register(store ariesstorage.Store, expiryTagName, storeName string)
}

// RegisterExpiryService registers the processed-activity store with the given data
// expiry service so that entries past their lifespan are periodically removed.
func (s *Provider) RegisterExpiryService(expiryService expiryService) {
	expiryService.Register(s.processedStore, expiryTimeTagName, processedStoreName)
}

// PutActor stores the given actor.
func (s *Provider) PutActor(actor *vocab.ActorType) error {
	logger.Debug("Storing actor", logfields.WithServiceName(s.serviceName), logfields.WithActorIRI(actor.ID()))

	actorBytes, err := json.Marshal(actor)
	if err != nil {
		return fmt.Errorf("failed to marshal actor: %w", err)
	}

	err = s.actorStore.Put(actor.ID().String(), actorBytes)
	if err != nil {
		return petrelerrors.NewTransient(fmt.Errorf("failed to store actor: %w", err))
	}

	return nil
}

// GetActor returns the actor for the given IRI. Returns an ErrNotFound error if the actor is not in the store.
func (s *Provider) GetActor(iri *url.URL) (*vocab.ActorType, error) { //nolint: dupl // false positive
	logger.Debug("Retrieving actor", logfields.WithServiceName(s.serviceName), logfields.WithActorIRI(iri))

	actorBytes, err := s.actorStore.Get(iri.String())
	if err != nil {
		if errors.Is(err, ariesstorage.ErrDataNotFound) {
			return nil, spi.ErrNotFound
		}

		return nil,
			petrelerrors.NewTransient(fmt.Errorf("unexpected failure while getting actor from store: %w", err))
	}

	var actor vocab.ActorType

	err = json.Unmarshal(actorBytes, &actor)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal actor bytes: %w", err)
	}

	return &actor, nil
}

// PutObject stores the given content object.
func (s *Provider) PutObject(object *vocab.ObjectType) error {
	logger.Debug("Storing object", logfields.WithServiceName(s.serviceName), logfields.WithObjectIRI(object.ID()))

	objectBytes, err := json.Marshal(object)
	if err != nil {
		return fmt.Errorf("failed to marshal object: %w", err)
	}

	err = s.objectStore.Put(object.ID().String(), objectBytes, objectTags(object)...)
	if err != nil {
		return petrelerrors.NewTransient(fmt.Errorf("failed to store object: %w", err))
	}

	return nil
}

// GetObject returns the content object for the given IRI. Returns an ErrNotFound error if the object
// is not in the store. A soft-deleted object is returned with its 'deleted' timestamp set.
func (s *Provider) GetObject(objectIRI *url.URL) (*vocab.ObjectType, error) { //nolint: dupl // false positive
	logger.Debug("Retrieving object", logfields.WithServiceName(s.serviceName), logfields.WithObjectIRI(objectIRI))

	objectBytes, err := s.objectStore.Get(objectIRI.String())
	if err != nil {
		if errors.Is(err, ariesstorage.ErrDataNotFound) {
			return nil, spi.ErrNotFound
		}

		return nil,
			petrelerrors.NewTransient(fmt.Errorf("unexpected failure while getting object from store: %w", err))
	}

	var object vocab.ObjectType

	err = json.Unmarshal(objectBytes, &object)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal object bytes: %w", err)
	}

	return &object, nil
}

// DeleteObject marks the content object with the given IRI as deleted. The object is retained so
// that subsequent GetObject calls return it with the 'deleted' timestamp set.
func (s *Provider) DeleteObject(objectIRI *url.URL) error {
	logger.Debug("Deleting object", logfields.WithServiceName(s.serviceName), logfields.WithObjectIRI(objectIRI))

	objectBytes, err := s.objectStore.Get(objectIRI.String())
	if err != nil {
		if errors.Is(err, ariesstorage.ErrDataNotFound) {
			return spi.ErrNotFound
		}

		return petrelerrors.NewTransient(fmt.Errorf("unexpected failure while getting object from store: %w", err))
	}

	object := &vocab.ObjectType{}

	if err := json.Unmarshal(objectBytes, object); err != nil {
		return fmt.Errorf("failed to unmarshal object bytes: %w", err)
	}

	if object.Deleted() != nil {
		return nil
	}

	now := time.Now()

	object.SetDeleted(&now)

	updatedBytes, err := json.Marshal(object)
	if err != nil {
		return fmt.Errorf("failed to marshal object: %w", err)
	}

	if err := s.objectStore.Put(objectIRI.String(), updatedBytes, objectTags(object)...); err != nil {
		return petrelerrors.NewTransient(fmt.Errorf("failed to store object: %w", err))
	}

	return nil
}

// AddActivity adds the given activity to the activity store.
func (s *Provider) AddActivity(activity *vocab.ActivityType) error {
	logger.Debug("Storing activity", logfields.WithServiceName(s.serviceName),
		logfields.WithActivityType(activity.Type().String()), logfields.WithActivityID(activity.ID()))

	activityBytes, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	err = s.activityStore.Put(activity.ID().String(), activityBytes, activityTags(activity, true)...)
	if err != nil {
		return petrelerrors.NewTransient(fmt.Errorf("failed to store activity: %w", err))
	}

	return nil
}

// GetActivity returns the activity for the given ID from the activity store
// or an ErrNotFound error if it wasn't found.
func (s *Provider) GetActivity(activityID *url.URL) (*vocab.ActivityType, error) { //nolint: dupl // false positive
	logger.Debug("Retrieving activity", logfields.WithServiceName(s.serviceName),
		logfields.WithActivityID(activityID))

	activityBytes, err := s.activityStore.Get(activityID.String())
	if err != nil {
		if errors.Is(err, ariesstorage.ErrDataNotFound) {
			return nil, spi.ErrNotFound
		}

		return nil,
			petrelerrors.NewTransient(fmt.Errorf("unexpected failure while getting activity from store: %w", err))
	}

	var activity vocab.ActivityType

	err = json.Unmarshal(activityBytes, &activity)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal activity bytes: %w", err)
	}

	return &activity, nil
}

// DeleteActivity marks the activity with the given IRI as deleted and removes any reference
// edges that point to it, so that it no longer appears in queries.
func (s *Provider) DeleteActivity(activityIRI *url.URL) error {
	logger.Debug("Deleting activity", logfields.WithServiceName(s.serviceName),
		logfields.WithActivityID(activityIRI))

	activityBytes, err := s.activityStore.Get(activityIRI.String())
	if err != nil {
		if errors.Is(err, ariesstorage.ErrDataNotFound) {
			return spi.ErrNotFound
		}

		return petrelerrors.NewTransient(fmt.Errorf("unexpected failure while getting activity from store: %w", err))
	}

	activity := &vocab.ActivityType{}

	if err := json.Unmarshal(activityBytes, activity); err != nil {
		return fmt.Errorf("failed to unmarshal activity bytes: %w", err)
	}

	if activity.Deleted() == nil {
		now := time.Now()

		activity.SetDeleted(&now)
	}

	updatedBytes, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	// The 'Activity' tag is dropped so that the activity no longer appears in queries.
	err = s.activityStore.Put(activityIRI.String(), updatedBytes, activityTags(activity, false)...)
	if err != nil {
		return petrelerrors.NewTransient(fmt.Errorf("failed to store activity: %w", err))
	}

	return s.deleteActivityReferences(activityIRI)
}

// QueryActivities queries the activity store using the provided criteria
// and returns a results iterator.
func (s *Provider) QueryActivities(query *spi.Criteria, opts ...spi.QueryOpt) (spi.ActivityIterator, error) {
	logger.Debug("Querying activities", logfields.WithServiceName(s.serviceName), logfields.WithQuery(query))

	if query != nil && query.ReferenceType != "" && query.ObjectIRI != nil {
		return s.queryActivitiesByRef(query.ReferenceType, query, opts...)
	}

	queryExpression, err := s.activityQueryExpression(query)
	if err != nil {
		return nil, err
	}

	options := storeutil.GetQueryOptions(opts...)

	iterator, err := s.activityStore.Query(queryExpression,
		ariesstorage.WithSortOrder(&ariesstorage.SortOptions{
			Order:   ariesstorage.SortOrder(options.SortOrder),
			TagName: timeAddedTagName,
		}),
		ariesstorage.WithPageSize(options.PageSize),
		ariesstorage.WithInitialPageNum(options.PageNumber))
	if err != nil {
		return nil, petrelerrors.NewTransient(fmt.Errorf("failed to query store: %w", err))
	}

	return &activityIterator{ariesIterator: iterator}, nil
}

// AddProcessed inserts the given activity IRI into the processed set. Returns true if the IRI was
// not already in the set.
func (s *Provider) AddProcessed(activityIRI *url.URL) (bool, error) {
	_, err := s.processedStore.Get(activityIRI.String())
	if err == nil {
		return false, nil
	}

	if !errors.Is(err, ariesstorage.ErrDataNotFound) {
		return false, petrelerrors.NewTransient(fmt.Errorf("unexpected failure while checking processed set: %w", err))
	}

	expiryTime := time.Now().Add(s.processedEntryLifespan).Unix()

	docBytes, err := json.Marshal(&processedDoc{
		ActivityIRI: activityIRI.String(),
		ExpiryTime:  expiryTime,
	})
	if err != nil {
		return false, fmt.Errorf("failed to marshal processed entry: %w", err)
	}

	err = s.processedStore.Put(activityIRI.String(), docBytes,
		ariesstorage.Tag{
			Name:  expiryTimeTagName,
			Value: strconv.FormatInt(expiryTime, 10),
		})
	if err != nil {
		return false, petrelerrors.NewTransient(fmt.Errorf("failed to store processed entry: %w", err))
	}

	return true, nil
}

// IsProcessed returns true if the given activity IRI is in the processed set.
func (s *Provider) IsProcessed(activityIRI *url.URL) (bool, error) {
	_, err := s.processedStore.Get(activityIRI.String())
	if err == nil {
		return true, nil
	}

	if errors.Is(err, ariesstorage.ErrDataNotFound) {
		return false, nil
	}

	return false, petrelerrors.NewTransient(fmt.Errorf("unexpected failure while checking processed set: %w", err))
}

// PutFollow stores the given follow relationship, replacing any existing relationship for the
// same (follower, followed) pair.
func (s *Provider) PutFollow(follow *spi.Follow) error {
	logger.Debug("Storing follow", logfields.WithServiceName(s.serviceName),
		logfields.WithFollowerIRI(follow.Follower), logfields.WithFollowedIRI(follow.Followed))

	doc := newFollowDoc(follow)

	followBytes, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal follow: %w", err)
	}

	err = s.followStore.Put(getFollowKey(doc.Follower, doc.Followed), followBytes, followDocTags(doc)...)
	if err != nil {
		return petrelerrors.NewTransient(fmt.Errorf("failed to store follow: %w", err))
	}

	return nil
}

// GetFollow returns the follow relationship for the given pair. Returns an ErrNotFound error
// if the relationship is not in the store.
func (s *Provider) GetFollow(followerIRI, followedIRI *url.URL) (*spi.Follow, error) {
	followBytes, err := s.followStore.Get(getFollowKey(followerIRI.String(), followedIRI.String()))
	if err != nil {
		if errors.Is(err, ariesstorage.ErrDataNotFound) {
			return nil, spi.ErrNotFound
		}

		return nil,
			petrelerrors.NewTransient(fmt.Errorf("unexpected failure while getting follow from store: %w", err))
	}

	var doc followDoc

	if err := json.Unmarshal(followBytes, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal follow bytes: %w", err)
	}

	return doc.toFollow()
}

// DeleteFollow removes the follow relationship for the given pair.
func (s *Provider) DeleteFollow(followerIRI, followedIRI *url.URL) error {
	logger.Debug("Deleting follow", logfields.WithServiceName(s.serviceName),
		logfields.WithFollowerIRI(followerIRI), logfields.WithFollowedIRI(followedIRI))

	key := getFollowKey(followerIRI.String(), followedIRI.String())

	_, err := s.followStore.Get(key)
	if err != nil {
		if errors.Is(err, ariesstorage.ErrDataNotFound) {
			return spi.ErrNotFound
		}

		return petrelerrors.NewTransient(fmt.Errorf("unexpected failure while getting follow from store: %w", err))
	}

	if err := s.followStore.Delete(key); err != nil {
		return petrelerrors.NewTransient(fmt.Errorf("failed to delete follow: %w", err))
	}

	return nil
}

// WithFollowPair invokes fn while holding an exclusive lock on the given (follower, followed) pair.
func (s *Provider) WithFollowPair(followerIRI, followedIRI *url.URL, fn func() error) error {
	return s.pairLock.Execute(followerIRI, followedIRI, fn)
}

// AddReference adds a reference edge of the given type to the given object.
func (s *Provider) AddReference(referenceType spi.ReferenceType, objectIRI, referenceIRI *url.URL,
	refMetaDataOpts ...spi.RefMetadataOpt) error {
	logger.Debug("Adding reference", logfields.WithServiceName(s.serviceName),
		logfields.WithType(string(referenceType)), logfields.WithObjectIRI(objectIRI),
		logfields.WithReferenceIRI(referenceIRI))

	if err := validateStoredRefType(referenceType); err != nil {
		return err
	}

	valueBytes, err := json.Marshal(referenceIRI.String())
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	tags := determineTags(referenceType, objectIRI, referenceIRI, refMetaDataOpts)

	err = s.referenceStore.Put(getRefKey(referenceType, objectIRI.String(), referenceIRI.String()),
		valueBytes, tags...)
	if err != nil {
		return petrelerrors.NewTransient(fmt.Errorf("failed to store reference: %w", err))
	}

	return nil
}

// DeleteReference deletes the reference edge of the given type from the given object.
func (s *Provider) DeleteReference(referenceType spi.ReferenceType, objectIRI, referenceIRI *url.URL) error {
	logger.Debug("Deleting reference", logfields.WithServiceName(s.serviceName),
		logfields.WithType(string(referenceType)), logfields.WithObjectIRI(objectIRI),
		logfields.WithReferenceIRI(referenceIRI))

	if err := validateStoredRefType(referenceType); err != nil {
		return err
	}

	key := getRefKey(referenceType, objectIRI.String(), referenceIRI.String())

	_, err := s.referenceStore.Get(key)
	if err != nil {
		if errors.Is(err, ariesstorage.ErrDataNotFound) {
			return spi.ErrNotFound
		}

		return petrelerrors.NewTransient(fmt.Errorf("unexpected failure while getting reference: %w", err))
	}

	if err := s.referenceStore.Delete(key); err != nil {
		return petrelerrors.NewTransient(fmt.Errorf("failed to delete reference: %w", err))
	}

	return nil
}

// QueryReferences returns the references of the given type according to the given query.
// Follower and Following references are derived from the follow relationships and only
// include accepted follows.
func (s *Provider) QueryReferences(referenceType spi.ReferenceType, query *spi.Criteria,
	opts ...spi.QueryOpt) (spi.ReferenceIterator, error) {
	logger.Debug("Querying references", logfields.WithServiceName(s.serviceName),
		logfields.WithType(string(referenceType)), logfields.WithQuery(query))

	if query == nil || query.ObjectIRI == nil {
		return nil, fmt.Errorf("object IRI is required")
	}

	if referenceType == spi.Follower || referenceType == spi.Following {
		return s.queryFollowReferences(referenceType, query, opts...)
	}

	if err := validateStoredRefType(referenceType); err != nil {
		return nil, err
	}

	options := storeutil.GetQueryOptions(opts...)

	// If no reference IRI is set, then grab all references associated with the object IRI.
	if query.ReferenceIRI == nil {
		queryExpression, err := s.generateQueryExpression(referenceType, query)
		if err != nil {
			return nil, err
		}

		iterator, errQuery := s.referenceStore.Query(
			queryExpression,
			ariesstorage.WithSortOrder(&ariesstorage.SortOptions{
				Order:   ariesstorage.SortOrder(options.SortOrder),
				TagName: timeAddedTagName,
			}),
			ariesstorage.WithPageSize(options.PageSize),
			ariesstorage.WithInitialPageNum(options.PageNumber),
		)
		if errQuery != nil {
			return nil, petrelerrors.NewTransient(fmt.Errorf("failed to query store: %w", errQuery))
		}

		return &referenceIterator{ariesIterator: iterator}, nil
	}

	// Otherwise, if there is a reference IRI,
	// then we should only grab the reference associated with the object IRI and reference IRI.
	retrievedURLBytes, err := s.referenceStore.Get(
		getRefKey(referenceType, query.ObjectIRI.String(), query.ReferenceIRI.String()))
	if err != nil {
		if errors.Is(err, ariesstorage.ErrDataNotFound) {
			return memstore.NewReferenceIterator(nil, 0), nil
		}

		return nil, petrelerrors.NewTransient(fmt.Errorf("unexpected failure while getting reference: %w", err))
	}

	var urlStr string

	err = json.Unmarshal(retrievedURLBytes, &urlStr)
	if err != nil {
		return nil, fmt.Errorf("unmarshal URL: %w", err)
	}

	retrievedURL, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL from storage: %w", err)
	}

	return memstore.NewReferenceIterator([]*url.URL{retrievedURL}, 1), nil
}

// ReassignIRI rewrites every stored occurrence of oldIRI to newIRI: the actor entry, both sides
// of follow relationships, reference edges, and the actor/attribution fields of stored activities
// and objects.
func (s *Provider) ReassignIRI(oldIRI, newIRI *url.URL) error {
	logger.Debug("Reassigning IRI", logfields.WithServiceName(s.serviceName),
		logfields.WithURI(oldIRI), logfields.WithTargetIRI(newIRI))

	if err := s.reassignActor(oldIRI, newIRI); err != nil {
		return fmt.Errorf("reassign actor: %w", err)
	}

	if err := s.reassignFollows(oldIRI, newIRI); err != nil {
		return fmt.Errorf("reassign follows: %w", err)
	}

	if err := s.reassignReferences(oldIRI, newIRI); err != nil {
		return fmt.Errorf("reassign references: %w", err)
	}

	if err := s.reassignDocs(s.activityStore, actorIRITagName, oldIRI, newIRI); err != nil {
		return fmt.Errorf("reassign activities: %w", err)
	}

	if err := s.reassignDocs(s.objectStore, attributedToTagName, oldIRI, newIRI); err != nil {
		return fmt.Errorf("reassign objects: %w", err)
	}

	return nil
}

func (s *Provider) queryActivitiesByRef(refType spi.ReferenceType, query *spi.Criteria,
	opts ...spi.QueryOpt) (spi.ActivityIterator, error) {
	iterator, err := s.QueryReferences(refType, query, opts...)
	if err != nil {
		return nil, err
	}

	options := storeutil.GetQueryOptions(opts...)

	refs, err := storeutil.ReadReferences(iterator, options.PageSize)
	if err != nil {
		return nil, err
	}

	// The total item count from the activity iterator should reflect the total items from the original reference query,
	// regardless of page settings.
	totalItems, err := iterator.TotalItems()
	if err != nil {
		return nil,
			petrelerrors.NewTransient(fmt.Errorf("failed to get total items from reference iterator: %w", err))
	}

	if len(refs) == 0 {
		return memstore.NewActivityIterator(nil, totalItems), nil
	}

	activityIDs := make([]string, len(refs))

	for i, ref := range refs {
		activityIDs[i] = ref.String()
	}

	activitiesBytes, err := s.activityStore.GetBulk(activityIDs...)
	if err != nil {
		return nil, petrelerrors.NewTransient(fmt.Errorf("unexpected failure while getting activities: %w", err))
	}

	var activities []*vocab.ActivityType

	for _, activityBytes := range activitiesBytes {
		if activityBytes != nil {
			var activity vocab.ActivityType

			err = json.Unmarshal(activityBytes, &activity)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal activity bytes: %w", err)
			}

			activities = append(activities, &activity)
		}
	}

	return memstore.NewActivityIterator(activities, totalItems), nil
}

func (s *Provider) queryFollowReferences(refType spi.ReferenceType, query *spi.Criteria,
	opts ...spi.QueryOpt) (spi.ReferenceIterator, error) {
	if query.ReferenceIRI != nil {
		return s.getFollowReference(refType, query.ObjectIRI, query.ReferenceIRI)
	}

	if !s.multipleTagQueryCapable {
		return nil, errors.New("cannot run query since the underlying storage provider does not support " +
			"querying with multiple tags")
	}

	tagName := followedIRITagName
	if refType == spi.Following {
		tagName = followerIRITagName
	}

	options := storeutil.GetQueryOptions(opts...)

	iterator, err := s.followStore.Query(
		fmt.Sprintf("%s:%s&&%s:%s", tagName, encodeIRI(query.ObjectIRI.String()),
			statusTagName, spi.FollowAccepted),
		ariesstorage.WithSortOrder(&ariesstorage.SortOptions{
			Order:   ariesstorage.SortOrder(options.SortOrder),
			TagName: timeAddedTagName,
		}),
		ariesstorage.WithPageSize(options.PageSize),
		ariesstorage.WithInitialPageNum(options.PageNumber),
	)
	if err != nil {
		return nil, petrelerrors.NewTransient(fmt.Errorf("failed to query store: %w", err))
	}

	return &followReferenceIterator{ariesIterator: iterator, refType: refType}, nil
}

func (s *Provider) getFollowReference(refType spi.ReferenceType, objectIRI,
	referenceIRI *url.URL) (spi.ReferenceIterator, error) {
	followerIRI, followedIRI := referenceIRI, objectIRI

	if refType == spi.Following {
		followerIRI, followedIRI = objectIRI, referenceIRI
	}

	followBytes, err := s.followStore.Get(getFollowKey(followerIRI.String(), followedIRI.String()))
	if err != nil {
		if errors.Is(err, ariesstorage.ErrDataNotFound) {
			return memstore.NewReferenceIterator(nil, 0), nil
		}

		return nil, petrelerrors.NewTransient(fmt.Errorf("unexpected failure while getting follow: %w", err))
	}

	var doc followDoc

	if err := json.Unmarshal(followBytes, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal follow bytes: %w", err)
	}

	if doc.Status != string(spi.FollowAccepted) {
		return memstore.NewReferenceIterator(nil, 0), nil
	}

	return memstore.NewReferenceIterator([]*url.URL{referenceIRI}, 1), nil
}

func (s *Provider) deleteActivityReferences(activityIRI *url.URL) error {
	it, err := s.referenceStore.Query(fmt.Sprintf("%s:%s", refIRITagName, encodeIRI(activityIRI.String())))
	if err != nil {
		return petrelerrors.NewTransient(fmt.Errorf("failed to query references: %w", err))
	}

	defer closeIterator(it)

	var operations []ariesstorage.Operation

	for {
		ok, err := it.Next()
		if err != nil {
			return petrelerrors.NewTransient(fmt.Errorf("failed to get next reference: %w", err))
		}

		if !ok {
			break
		}

		key, err := it.Key()
		if err != nil {
			return petrelerrors.NewTransient(fmt.Errorf("failed to get reference key: %w", err))
		}

		operations = append(operations, ariesstorage.Operation{Key: key})
	}

	if len(operations) == 0 {
		return nil
	}

	if err := s.referenceStore.Batch(operations); err != nil {
		return petrelerrors.NewTransient(fmt.Errorf("failed to delete references: %w", err))
	}

	return nil
}

func (s *Provider) reassignActor(oldIRI, newIRI *url.URL) error {
	actorBytes, err := s.actorStore.Get(oldIRI.String())
	if err != nil {
		if errors.Is(err, ariesstorage.ErrDataNotFound) {
			return nil
		}

		return petrelerrors.NewTransient(fmt.Errorf("unexpected failure while getting actor from store: %w", err))
	}

	updatedBytes, _, err := replaceIRIInDoc(actorBytes, oldIRI.String(), newIRI.String())
	if err != nil {
		return err
	}

	err = s.actorStore.Batch([]ariesstorage.Operation{
		{Key: oldIRI.String()},
		{Key: newIRI.String(), Value: updatedBytes},
	})
	if err != nil {
		return petrelerrors.NewTransient(fmt.Errorf("failed to store actor: %w", err))
	}

	return nil
}

func (s *Provider) reassignFollows(oldIRI, newIRI *url.URL) error {
	for _, tagName := range []string{followerIRITagName, followedIRITagName} {
		operations, err := s.followRewriteOps(tagName, oldIRI, newIRI)
		if err != nil {
			return err
		}

		if len(operations) == 0 {
			continue
		}

		if err := s.followStore.Batch(operations); err != nil {
			return petrelerrors.NewTransient(fmt.Errorf("failed to update follows: %w", err))
		}
	}

	return nil
}

func (s *Provider) followRewriteOps(tagName string, oldIRI, newIRI *url.URL) ([]ariesstorage.Operation, error) {
	it, err := s.followStore.Query(fmt.Sprintf("%s:%s", tagName, encodeIRI(oldIRI.String())))
	if err != nil {
		return nil, petrelerrors.NewTransient(fmt.Errorf("failed to query follows: %w", err))
	}

	defer closeIterator(it)

	var operations []ariesstorage.Operation

	for {
		ok, err := it.Next()
		if err != nil {
			return nil, petrelerrors.NewTransient(fmt.Errorf("failed to get next follow: %w", err))
		}

		if !ok {
			break
		}

		key, err := it.Key()
		if err != nil {
			return nil, petrelerrors.NewTransient(fmt.Errorf("failed to get follow key: %w", err))
		}

		followBytes, err := it.Value()
		if err != nil {
			return nil, petrelerrors.NewTransient(fmt.Errorf("failed to get follow value: %w", err))
		}

		var doc followDoc

		if err := json.Unmarshal(followBytes, &doc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal follow bytes: %w", err)
		}

		if doc.Follower == oldIRI.String() {
			doc.Follower = newIRI.String()
		}

		if doc.Followed == oldIRI.String() {
			doc.Followed = newIRI.String()
		}

		if doc.ActivityIRI == oldIRI.String() {
			doc.ActivityIRI = newIRI.String()
		}

		updatedBytes, err := json.Marshal(&doc)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal follow: %w", err)
		}

		operations = append(operations,
			ariesstorage.Operation{Key: key},
			ariesstorage.Operation{
				Key:   getFollowKey(doc.Follower, doc.Followed),
				Value: updatedBytes,
				Tags:  followDocTags(&doc),
			},
		)
	}

	return operations, nil
}

func (s *Provider) reassignReferences(oldIRI, newIRI *url.URL) error {
	for _, tagName := range []string{objectIRITagName, refIRITagName} {
		operations, err := s.referenceRewriteOps(tagName, oldIRI, newIRI)
		if err != nil {
			return err
		}

		if len(operations) == 0 {
			continue
		}

		if err := s.referenceStore.Batch(operations); err != nil {
			return petrelerrors.NewTransient(fmt.Errorf("failed to update references: %w", err))
		}
	}

	return nil
}

//nolint:gocyclo,cyclop
func (s *Provider) referenceRewriteOps(tagName string, oldIRI, newIRI *url.URL) ([]ariesstorage.Operation, error) {
	it, err := s.referenceStore.Query(fmt.Sprintf("%s:%s", tagName, encodeIRI(oldIRI.String())))
	if err != nil {
		return nil, petrelerrors.NewTransient(fmt.Errorf("failed to query references: %w", err))
	}

	defer closeIterator(it)

	var operations []ariesstorage.Operation

	for {
		ok, err := it.Next()
		if err != nil {
			return nil, petrelerrors.NewTransient(fmt.Errorf("failed to get next reference: %w", err))
		}

		if !ok {
			break
		}

		key, err := it.Key()
		if err != nil {
			return nil, petrelerrors.NewTransient(fmt.Errorf("failed to get reference key: %w", err))
		}

		valueBytes, err := it.Value()
		if err != nil {
			return nil, petrelerrors.NewTransient(fmt.Errorf("failed to get reference value: %w", err))
		}

		tags, err := it.Tags()
		if err != nil {
			return nil, petrelerrors.NewTransient(fmt.Errorf("failed to get reference tags: %w", err))
		}

		var refIRIStr string

		if err := json.Unmarshal(valueBytes, &refIRIStr); err != nil {
			return nil, fmt.Errorf("unmarshal URL: %w", err)
		}

		var refType, objectIRIStr string

		for _, tag := range tags {
			if tag.Name == refTypeTagName {
				refType = tag.Value
			}

			if tag.Name == objectIRITagName {
				objectIRIStr, err = decodeIRI(tag.Value)
				if err != nil {
					return nil, fmt.Errorf("decode object IRI: %w", err)
				}
			}
		}

		if objectIRIStr == oldIRI.String() {
			objectIRIStr = newIRI.String()
		}

		if refIRIStr == oldIRI.String() {
			refIRIStr = newIRI.String()
		}

		newValueBytes, err := json.Marshal(refIRIStr)
		if err != nil {
			return nil, fmt.Errorf("marshal: %w", err)
		}

		newTags := make([]ariesstorage.Tag, len(tags))

		for i, tag := range tags {
			switch tag.Name {
			case objectIRITagName:
				tag.Value = encodeIRI(objectIRIStr)
			case refIRITagName:
				tag.Value = encodeIRI(refIRIStr)
			}

			newTags[i] = tag
		}

		operations = append(operations,
			ariesstorage.Operation{Key: key},
			ariesstorage.Operation{
				Key:   getRefKey(spi.ReferenceType(refType), objectIRIStr, refIRIStr),
				Value: newValueBytes,
				Tags:  newTags,
			},
		)
	}

	return operations, nil
}

func (s *Provider) reassignDocs(store ariesstorage.Store, tagName string, oldIRI, newIRI *url.URL) error {
	it, err := store.Query(fmt.Sprintf("%s:%s", tagName, encodeIRI(oldIRI.String())))
	if err != nil {
		return petrelerrors.NewTransient(fmt.Errorf("failed to query store: %w", err))
	}

	defer closeIterator(it)

	var operations []ariesstorage.Operation

	for {
		ok, err := it.Next()
		if err != nil {
			return petrelerrors.NewTransient(fmt.Errorf("failed to get next document: %w", err))
		}

		if !ok {
			break
		}

		key, err := it.Key()
		if err != nil {
			return petrelerrors.NewTransient(fmt.Errorf("failed to get document key: %w", err))
		}

		docBytes, err := it.Value()
		if err != nil {
			return petrelerrors.NewTransient(fmt.Errorf("failed to get document value: %w", err))
		}

		tags, err := it.Tags()
		if err != nil {
			return petrelerrors.NewTransient(fmt.Errorf("failed to get document tags: %w", err))
		}

		updatedBytes, changed, err := replaceIRIInDoc(docBytes, oldIRI.String(), newIRI.String())
		if err != nil {
			return err
		}

		if !changed {
			continue
		}

		newTags := make([]ariesstorage.Tag, len(tags))

		for i, tag := range tags {
			if tag.Name == tagName && tag.Value == encodeIRI(oldIRI.String()) {
				tag.Value = encodeIRI(newIRI.String())
			}

			newTags[i] = tag
		}

		operations = append(operations, ariesstorage.Operation{Key: key, Value: updatedBytes, Tags: newTags})
	}

	if len(operations) == 0 {
		return nil
	}

	if err := store.Batch(operations); err != nil {
		return petrelerrors.NewTransient(fmt.Errorf("failed to update documents: %w", err))
	}

	return nil
}

func (s *Provider) activityQueryExpression(query *spi.Criteria) (string, error) {
	if query == nil || len(query.Types) == 0 {
		return activityTag, nil
	}

	if len(query.Types) > 1 {
		return "", errors.New("unsupported query criteria")
	}

	if !s.multipleTagQueryCapable {
		return "", errors.New("cannot run query since the underlying storage provider does not support " +
			"querying with multiple tags")
	}

	return fmt.Sprintf("%s&&%s:%s", activityTag, activityTypeTagName, query.Types[0]), nil
}

func (s *Provider) generateQueryExpression(referenceType spi.ReferenceType, query *spi.Criteria) (string, error) {
	if !s.multipleTagQueryCapable {
		return "", errors.New("cannot run query since the underlying storage provider does not support " +
			"querying with multiple tags")
	}

	queryExpression := fmt.Sprintf("%s:%s&&%s:%s", refTypeTagName, referenceType, objectIRITagName,
		encodeIRI(query.ObjectIRI.String()))

	if len(query.Types) > 0 {
		queryExpression += fmt.Sprintf("&&%s:%s", activityTypeTagName, query.Types[0])
	}

	return queryExpression, nil
}

type activityIterator struct {
	ariesIterator ariesstorage.Iterator
}

func (a *activityIterator) TotalItems() (int, error) {
	return a.ariesIterator.TotalItems()
}

func (a *activityIterator) Next() (*vocab.ActivityType, error) {
	areMoreResults, err := a.ariesIterator.Next()
	if err != nil {
		return nil, petrelerrors.NewTransient(fmt.Errorf("failed to determine if there are more results: %w", err))
	}

	if areMoreResults {
		activityBytes, err := a.ariesIterator.Value()
		if err != nil {
			return nil, petrelerrors.NewTransient(fmt.Errorf("failed to get value: %w", err))
		}

		var activity vocab.ActivityType

		err = json.Unmarshal(activityBytes, &activity)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal activity bytes: %w", err)
		}

		return &activity, nil
	}

	return nil, spi.ErrNotFound
}

func (a *activityIterator) Close() error {
	return a.ariesIterator.Close()
}

type referenceIterator struct {
	ariesIterator ariesstorage.Iterator
}

func (r *referenceIterator) TotalItems() (int, error) {
	return r.ariesIterator.TotalItems()
}

func (r *referenceIterator) Next() (*url.URL, error) {
	areMoreResults, err := r.ariesIterator.Next()
	if err != nil {
		return nil, petrelerrors.NewTransient(fmt.Errorf("failed to determine if there are more results: %w", err))
	}

	if areMoreResults {
		urlBytes, err := r.ariesIterator.Value()
		if err != nil {
			return nil, petrelerrors.NewTransient(fmt.Errorf("failed to get value: %w", err))
		}

		var urlStr string

		err = json.Unmarshal(urlBytes, &urlStr)
		if err != nil {
			return nil, fmt.Errorf("unmarshal URL: %w", err)
		}

		retrievedURL, err := url.Parse(urlStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse stored value as a URL: %w", err)
		}

		return retrievedURL, nil
	}

	return nil, spi.ErrNotFound
}

func (r *referenceIterator) Close() error {
	return r.ariesIterator.Close()
}

type followReferenceIterator struct {
	ariesIterator ariesstorage.Iterator
	refType       spi.ReferenceType
}

func (r *followReferenceIterator) TotalItems() (int, error) {
	return r.ariesIterator.TotalItems()
}

func (r *followReferenceIterator) Next() (*url.URL, error) {
	areMoreResults, err := r.ariesIterator.Next()
	if err != nil {
		return nil, petrelerrors.NewTransient(fmt.Errorf("failed to determine if there are more results: %w", err))
	}

	if !areMoreResults {
		return nil, spi.ErrNotFound
	}

	followBytes, err := r.ariesIterator.Value()
	if err != nil {
		return nil, petrelerrors.NewTransient(fmt.Errorf("failed to get value: %w", err))
	}

	var doc followDoc

	if err := json.Unmarshal(followBytes, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal follow bytes: %w", err)
	}

	iriStr := doc.Follower
	if r.refType == spi.Following {
		iriStr = doc.Followed
	}

	iri, err := url.Parse(iriStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored value as a URL: %w", err)
	}

	return iri, nil
}

func (r *followReferenceIterator) Close() error {
	return r.ariesIterator.Close()
}

type followDoc struct {
	Follower    string    `json:"follower"`
	Followed    string    `json:"followed"`
	ActivityIRI string    `json:"activity,omitempty"`
	Status      string    `json:"status"`
	Created     time.Time `json:"created"`
	Updated     time.Time `json:"updated"`
}

func newFollowDoc(follow *spi.Follow) *followDoc {
	doc := &followDoc{
		Follower: follow.Follower.String(),
		Followed: follow.Followed.String(),
		Status:   string(follow.Status),
		Created:  follow.Created,
		Updated:  follow.Updated,
	}

	if follow.ActivityIRI != nil {
		doc.ActivityIRI = follow.ActivityIRI.String()
	}

	return doc
}

func (d *followDoc) toFollow() (*spi.Follow, error) {
	follower, err := url.Parse(d.Follower)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored value as a URL: %w", err)
	}

	followed, err := url.Parse(d.Followed)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored value as a URL: %w", err)
	}

	follow := &spi.Follow{
		Follower: follower,
		Followed: followed,
		Status:   spi.FollowStatus(d.Status),
		Created:  d.Created,
		Updated:  d.Updated,
	}

	if d.ActivityIRI != "" {
		activityIRI, err := url.Parse(d.ActivityIRI)
		if err != nil {
			return nil, fmt.Errorf("failed to parse stored value as a URL: %w", err)
		}

		follow.ActivityIRI = activityIRI
	}

	return follow, nil
}

type processedDoc struct {
	ActivityIRI string `json:"activityIRI"`
	ExpiryTime  int64  `json:"expiryTime"`
}

type stores struct {
	activities ariesstorage.Store
	reference  ariesstorage.Store
	actor      ariesstorage.Store
	object     ariesstorage.Store
	follow     ariesstorage.Store
	processed  ariesstorage.Store
}

func openStores(provider ariesstorage.Provider) (stores, error) {
	activityStore, err := openStore(provider, activityStoreName,
		activityTag, timeAddedTagName, activityTypeTagName, actorIRITagName)
	if err != nil {
		return stores{}, err
	}

	referenceStore, err := openStore(provider, refStoreName,
		refTypeTagName, objectIRITagName, refIRITagName, timeAddedTagName, activityTypeTagName)
	if err != nil {
		return stores{}, err
	}

	actorStore, err := provider.OpenStore(actorStoreName)
	if err != nil {
		return stores{}, fmt.Errorf("failed to open actor store: %w", err)
	}

	objectStore, err := openStore(provider, objectStoreName, attributedToTagName, timeAddedTagName)
	if err != nil {
		return stores{}, err
	}

	followStore, err := openStore(provider, followStoreName,
		followerIRITagName, followedIRITagName, statusTagName, timeAddedTagName)
	if err != nil {
		return stores{}, err
	}

	processedStore, err := openStore(provider, processedStoreName, expiryTimeTagName)
	if err != nil {
		return stores{}, err
	}

	return stores{
		activities: activityStore,
		reference:  referenceStore,
		actor:      actorStore,
		object:     objectStore,
		follow:     followStore,
		processed:  processedStore,
	}, nil
}

func openStore(provider ariesstorage.Provider, name string, tagNames ...string) (ariesstorage.Store, error) {
	store, err := provider.OpenStore(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", name, err)
	}

	err = provider.SetStoreConfig(name, ariesstorage.StoreConfiguration{TagNames: tagNames})
	if err != nil {
		return nil, fmt.Errorf("failed to set store configuration on %s store: %w", name, err)
	}

	return store, nil
}

func activityTags(activity *vocab.ActivityType, includeMarker bool) []ariesstorage.Tag {
	tags := []ariesstorage.Tag{
		{
			Name:  timeAddedTagName,
			Value: strconv.FormatInt(time.Now().UnixNano(), 10),
		},
		{
			Name:  activityTypeTagName,
			Value: activity.Type().String(),
		},
	}

	if includeMarker {
		tags = append([]ariesstorage.Tag{{Name: activityTag}}, tags...)
	}

	if activity.Actor() != nil {
		tags = append(tags, ariesstorage.Tag{
			Name:  actorIRITagName,
			Value: encodeIRI(activity.Actor().String()),
		})
	}

	return tags
}

func objectTags(object *vocab.ObjectType) []ariesstorage.Tag {
	tags := []ariesstorage.Tag{
		{
			Name:  timeAddedTagName,
			Value: strconv.FormatInt(time.Now().UnixNano(), 10),
		},
	}

	if object.AttributedTo() != nil {
		tags = append(tags, ariesstorage.Tag{
			Name:  attributedToTagName,
			Value: encodeIRI(object.AttributedTo().String()),
		})
	}

	return tags
}

func followDocTags(doc *followDoc) []ariesstorage.Tag {
	return []ariesstorage.Tag{
		{
			Name:  followerIRITagName,
			Value: encodeIRI(doc.Follower),
		},
		{
			Name:  followedIRITagName,
			Value: encodeIRI(doc.Followed),
		},
		{
			Name:  statusTagName,
			Value: doc.Status,
		},
		{
			Name:  timeAddedTagName,
			Value: strconv.FormatInt(time.Now().UnixNano(), 10),
		},
	}
}

func determineTags(referenceType spi.ReferenceType, objectIRI, referenceIRI *url.URL,
	refMetaDataOpts []spi.RefMetadataOpt) []ariesstorage.Tag {
	refMetadata := storeutil.GetRefMetadata(refMetaDataOpts...)

	tags := []ariesstorage.Tag{
		{
			Name:  refTypeTagName,
			Value: string(referenceType),
		},
		{
			Name:  objectIRITagName,
			Value: encodeIRI(objectIRI.String()),
		},
		{
			Name:  refIRITagName,
			Value: encodeIRI(referenceIRI.String()),
		},
		{
			Name:  timeAddedTagName,
			Value: strconv.FormatInt(time.Now().UnixNano(), 10),
		},
	}

	if refMetadata.ActivityType != "" {
		tags = append(tags, ariesstorage.Tag{Name: activityTypeTagName, Value: string(refMetadata.ActivityType)})
	}

	return tags
}

// validateStoredRefType ensures that the given reference type is one that is maintained
// directly in the reference store. Follower and Following edges are derived from the
// follow relationships and may not be written directly.
func validateStoredRefType(refType spi.ReferenceType) error {
	switch refType {
	case spi.Inbox, spi.Outbox, spi.Liked, spi.Blocked:
		return nil
	case spi.Follower, spi.Following:
		return fmt.Errorf("references of type %s are derived from follow relationships", refType)
	default:
		return fmt.Errorf("unsupported reference type: %s", refType)
	}
}

func replaceIRIInDoc(docBytes []byte, oldIRI, newIRI string) ([]byte, bool, error) {
	var doc vocab.Document

	if err := json.Unmarshal(docBytes, &doc); err != nil {
		return nil, false, fmt.Errorf("unmarshal document: %w", err)
	}

	if !storeutil.ReplaceIRI(doc, oldIRI, newIRI) {
		return docBytes, false, nil
	}

	updatedBytes, err := json.Marshal(doc)
	if err != nil {
		return nil, false, fmt.Errorf("marshal document: %w", err)
	}

	return updatedBytes, true, nil
}

func closeIterator(it ariesstorage.Iterator) {
	if err := it.Close(); err != nil {
		logger.Warn("Error closing iterator", logfields.WithError(err))
	}
}

func encodeIRI(iri string) string {
	return base64.RawStdEncoding.EncodeToString([]byte(iri))
}

func decodeIRI(encoded string) (string, error) {
	iriBytes, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}

	return string(iriBytes), nil
}

func getRefKey(referenceType spi.ReferenceType, objectIRI, referenceIRI string) string {
	return fmt.Sprintf("%s-%s-%s", strings.ToLower(string(referenceType)), objectIRI, referenceIRI)
}

func getFollowKey(followerIRI, followedIRI string) string {
	return fmt.Sprintf("%s-%s", followerIRI, followedIRI)
}
