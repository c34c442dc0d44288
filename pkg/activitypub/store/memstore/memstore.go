/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package memstore

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/petrel-fed/petrel/internal/pkg/log"
	"github.com/petrel-fed/petrel/pkg/activitypub/store/spi"
	"github.com/petrel-fed/petrel/pkg/activitypub/store/storeutil"
	"github.com/petrel-fed/petrel/pkg/activitypub/vocab"
)

var logger = log.New("activitypub-memstore")

// Store implements an in-memory ActivityPub store.
type Store struct {
	serviceName     string
	activityStore   *activityStore
	referenceStores map[spi.ReferenceType]*referenceStore
	followStore     *followStore
	actorStore      map[string]*vocab.ActorType
	objectStore     map[string]*vocab.ObjectType
	processed       map[string]time.Time
	pairLock        *storeutil.PairLock
	mutex           sync.RWMutex
}

// New returns a new in-memory ActivityPub store.
func New(serviceName string) *Store {
	return &Store{
		serviceName:   serviceName,
		activityStore: newActivityStore(),
		referenceStores: map[spi.ReferenceType]*referenceStore{
			spi.Inbox:   newReferenceStore(),
			spi.Outbox:  newReferenceStore(),
			spi.Liked:   newReferenceStore(),
			spi.Blocked: newReferenceStore(),
		},
		followStore: newFollowStore(),
		actorStore:  make(map[string]*vocab.ActorType),
		objectStore: make(map[string]*vocab.ObjectType),
		processed:   make(map[string]time.Time),
		pairLock:    storeutil.NewPairLock(),
	}
}

// PutActor stores the given actor, replacing any existing actor with the same ID.
func (s *Store) PutActor(actor *vocab.ActorType) error {
	logger.Debug("Storing actor", logfields.WithServiceName(s.serviceName), logfields.WithActorIRI(actor.ID()))

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.actorStore[actor.ID().String()] = actor

	return nil
}

// GetActor returns the actor for the given IRI. Returns ErrNotFound if the actor is not in the store.
func (s *Store) GetActor(iri *url.URL) (*vocab.ActorType, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	a, ok := s.actorStore[iri.String()]
	if !ok {
		return nil, spi.ErrNotFound
	}

	return a, nil
}

// PutObject stores the given content object, replacing any existing object with the same ID.
func (s *Store) PutObject(object *vocab.ObjectType) error {
	logger.Debug("Storing object", logfields.WithServiceName(s.serviceName), logfields.WithObjectIRI(object.ID()))

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.objectStore[object.ID().String()] = object

	return nil
}

// GetObject returns the content object for the given IRI, or ErrNotFound if it is not
// in the store. A soft-deleted object is returned with its 'deleted' timestamp set.
func (s *Store) GetObject(objectIRI *url.URL) (*vocab.ObjectType, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	o, ok := s.objectStore[objectIRI.String()]
	if !ok {
		return nil, spi.ErrNotFound
	}

	return o, nil
}

// DeleteObject marks the content object with the given IRI as deleted. The object is
// retained so that subsequent GetObject calls return it with the 'deleted' timestamp set.
func (s *Store) DeleteObject(objectIRI *url.URL) error {
	logger.Debug("Deleting object", logfields.WithServiceName(s.serviceName), logfields.WithObjectIRI(objectIRI))

	s.mutex.Lock()
	defer s.mutex.Unlock()

	o, ok := s.objectStore[objectIRI.String()]
	if !ok {
		return spi.ErrNotFound
	}

	if o.Deleted() == nil {
		now := time.Now()

		o.SetDeleted(&now)
	}

	return nil
}

// AddActivity adds the given activity to the activity store, replacing any existing
// activity with the same ID.
func (s *Store) AddActivity(activity *vocab.ActivityType) error {
	logger.Debug("Storing activity", logfields.WithServiceName(s.serviceName),
		logfields.WithActivityType(activity.Type().String()), logfields.WithActivityID(activity.ID()))

	return s.activityStore.put(activity)
}

// GetActivity returns the activity for the given IRI or ErrNotFound if it wasn't found.
func (s *Store) GetActivity(activityIRI *url.URL) (*vocab.ActivityType, error) {
	return s.activityStore.get(activityIRI.String())
}

// DeleteActivity marks the activity with the given IRI as deleted and removes the
// inbox/outbox references to it.
func (s *Store) DeleteActivity(activityIRI *url.URL) error {
	logger.Debug("Deleting activity", logfields.WithServiceName(s.serviceName),
		logfields.WithActivityID(activityIRI))

	if err := s.activityStore.markDeleted(activityIRI.String()); err != nil {
		return err
	}

	s.referenceStores[spi.Inbox].deleteByReference(activityIRI)
	s.referenceStores[spi.Outbox].deleteByReference(activityIRI)

	return nil
}

// QueryActivities queries the activity store using the provided criteria
// and returns a results iterator.
func (s *Store) QueryActivities(query *spi.Criteria, opts ...spi.QueryOpt) (spi.ActivityIterator, error) {
	logger.Debug("Querying activities", logfields.WithServiceName(s.serviceName), logfields.WithQuery(query))

	if query != nil && query.ReferenceType != "" && query.ObjectIRI != nil {
		return s.queryActivitiesByRef(query.ReferenceType, query, opts...)
	}

	return s.activityStore.query(query, opts...)
}

// AddProcessed inserts the given activity IRI into the processed set. Returns true
// if the IRI was not already in the set.
func (s *Store) AddProcessed(activityIRI *url.URL) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.processed[activityIRI.String()]; ok {
		return false, nil
	}

	s.processed[activityIRI.String()] = time.Now()

	return true, nil
}

// IsProcessed returns true if the given activity IRI is in the processed set.
func (s *Store) IsProcessed(activityIRI *url.URL) (bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	_, ok := s.processed[activityIRI.String()]

	return ok, nil
}

// PutFollow stores the given follow relationship, replacing any existing relationship
// for the same (follower, followed) pair.
func (s *Store) PutFollow(follow *spi.Follow) error {
	logger.Debug("Storing follow", logfields.WithServiceName(s.serviceName),
		logfields.WithFollowerIRI(follow.Follower), logfields.WithFollowedIRI(follow.Followed))

	return s.followStore.put(follow)
}

// GetFollow returns the follow relationship for the given pair, or ErrNotFound.
func (s *Store) GetFollow(followerIRI, followedIRI *url.URL) (*spi.Follow, error) {
	return s.followStore.get(followerIRI, followedIRI)
}

// DeleteFollow removes the follow relationship for the given pair.
func (s *Store) DeleteFollow(followerIRI, followedIRI *url.URL) error {
	logger.Debug("Deleting follow", logfields.WithServiceName(s.serviceName),
		logfields.WithFollowerIRI(followerIRI), logfields.WithFollowedIRI(followedIRI))

	return s.followStore.delete(followerIRI, followedIRI)
}

// WithFollowPair invokes fn while holding an exclusive lock on the given
// (follower, followed) pair.
func (s *Store) WithFollowPair(followerIRI, followedIRI *url.URL, fn func() error) error {
	return s.pairLock.Execute(followerIRI, followedIRI, fn)
}

// AddReference adds a reference edge of the given type to the given object.
func (s *Store) AddReference(refType spi.ReferenceType, objectIRI, referenceIRI *url.URL,
	refMetaDataOpts ...spi.RefMetadataOpt) error {
	logger.Debug("Adding reference", logfields.WithServiceName(s.serviceName),
		logfields.WithType(string(refType)), logfields.WithObjectIRI(objectIRI),
		logfields.WithReferenceIRI(referenceIRI))

	refStore, err := s.referenceStore(refType)
	if err != nil {
		return err
	}

	refStore.put(objectIRI, referenceIRI, storeutil.GetRefMetadata(refMetaDataOpts...))

	return nil
}

// DeleteReference deletes the reference edge of the given type from the given object.
func (s *Store) DeleteReference(refType spi.ReferenceType, objectIRI, referenceIRI *url.URL) error {
	logger.Debug("Deleting reference", logfields.WithServiceName(s.serviceName),
		logfields.WithType(string(refType)), logfields.WithObjectIRI(objectIRI),
		logfields.WithReferenceIRI(referenceIRI))

	refStore, err := s.referenceStore(refType)
	if err != nil {
		return err
	}

	return refStore.delete(objectIRI, referenceIRI)
}

// QueryReferences returns the references of the given type according to the given
// criteria. Follower and Following references are derived from the follow
// relationships and only include accepted follows.
func (s *Store) QueryReferences(refType spi.ReferenceType, query *spi.Criteria,
	opts ...spi.QueryOpt) (spi.ReferenceIterator, error) {
	logger.Debug("Querying references", logfields.WithServiceName(s.serviceName),
		logfields.WithType(string(refType)), logfields.WithQuery(query))

	if query == nil || query.ObjectIRI == nil {
		return nil, fmt.Errorf("object IRI is required")
	}

	var refs []*url.URL

	switch refType {
	case spi.Follower:
		refs = s.followStore.followersOf(query.ObjectIRI)
	case spi.Following:
		refs = s.followStore.followedBy(query.ObjectIRI)
	default:
		refStore, err := s.referenceStore(refType)
		if err != nil {
			return nil, err
		}

		refs = refStore.query(query)
	}

	if query.ReferenceIRI != nil {
		refs = filterByIRI(refs, query.ReferenceIRI)
	}

	results, totalItems := pageReferences(refs, opts...)

	return NewReferenceIterator(results, totalItems), nil
}

// ReassignIRI rewrites every stored occurrence of oldIRI to newIRI: the actor entry,
// both sides of follow relationships, reference edges, and the IRI fields of stored
// activities and objects.
func (s *Store) ReassignIRI(oldIRI, newIRI *url.URL) error {
	logger.Debug("Reassigning IRI", logfields.WithServiceName(s.serviceName),
		logfields.WithURI(oldIRI), logfields.WithTargetIRI(newIRI))

	oldID, newID := oldIRI.String(), newIRI.String()

	if err := s.reassignActor(oldID, newID); err != nil {
		return fmt.Errorf("reassign actor: %w", err)
	}

	if err := s.reassignObjects(oldID, newID); err != nil {
		return fmt.Errorf("reassign objects: %w", err)
	}

	if err := s.activityStore.replaceIRI(oldID, newID); err != nil {
		return fmt.Errorf("reassign activities: %w", err)
	}

	s.followStore.replaceIRI(oldID, newID)

	for _, refStore := range s.referenceStores {
		refStore.replaceIRI(oldID, newID)
	}

	return nil
}

func (s *Store) referenceStore(refType spi.ReferenceType) (*referenceStore, error) {
	switch refType {
	case spi.Follower, spi.Following:
		return nil, fmt.Errorf("references of type %s are derived from follow relationships", refType)
	default:
		refStore, ok := s.referenceStores[refType]
		if !ok {
			return nil, fmt.Errorf("unsupported reference type: %s", refType)
		}

		return refStore, nil
	}
}

func (s *Store) reassignActor(oldIRI, newIRI string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	actor, ok := s.actorStore[oldIRI]
	if !ok {
		return nil
	}

	updated := &vocab.ActorType{}

	changed, err := rewriteDoc(actor, updated, oldIRI, newIRI)
	if err != nil {
		return err
	}

	if !changed {
		updated = actor
	}

	delete(s.actorStore, oldIRI)

	s.actorStore[newIRI] = updated

	return nil
}

func (s *Store) reassignObjects(oldIRI, newIRI string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for id, object := range s.objectStore {
		updated := &vocab.ObjectType{}

		changed, err := rewriteDoc(object, updated, oldIRI, newIRI)
		if err != nil {
			return err
		}

		if changed {
			s.objectStore[id] = updated
		}
	}

	return nil
}

func (s *Store) queryActivitiesByRef(refType spi.ReferenceType, query *spi.Criteria,
	opts ...spi.QueryOpt) (spi.ActivityIterator, error) {
	it, err := s.QueryReferences(refType, query, opts...)
	if err != nil {
		return nil, err
	}

	options := storeutil.GetQueryOptions(opts...)

	refs, err := storeutil.ReadReferences(it, options.PageSize)
	if err != nil {
		return nil, err
	}

	totalItems, err := it.TotalItems()
	if err != nil {
		return nil, err
	}

	activities := make([]*vocab.ActivityType, 0, len(refs))

	for _, ref := range refs {
		a, err := s.activityStore.get(ref.String())
		if err != nil {
			if errors.Is(err, spi.ErrNotFound) {
				continue
			}

			return nil, err
		}

		activities = append(activities, a)
	}

	return NewActivityIterator(activities, totalItems), nil
}

type activityStore struct {
	mutex   sync.RWMutex
	entries []*vocab.ActivityType
	byID    map[string]int
}

func newActivityStore() *activityStore {
	return &activityStore{
		byID: make(map[string]int),
	}
}

func (s *activityStore) put(activity *vocab.ActivityType) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	id := activity.ID().String()

	if idx, ok := s.byID[id]; ok {
		s.entries[idx] = activity

		return nil
	}

	s.entries = append(s.entries, activity)
	s.byID[id] = len(s.entries) - 1

	return nil
}

func (s *activityStore) get(activityID string) (*vocab.ActivityType, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	idx, ok := s.byID[activityID]
	if !ok {
		return nil, spi.ErrNotFound
	}

	return s.entries[idx], nil
}

func (s *activityStore) markDeleted(activityID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	idx, ok := s.byID[activityID]
	if !ok {
		return spi.ErrNotFound
	}

	a := s.entries[idx]

	if a.Deleted() == nil {
		now := time.Now()

		a.SetDeleted(&now)
	}

	return nil
}

func (s *activityStore) query(query *spi.Criteria, opts ...spi.QueryOpt) (spi.ActivityIterator, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var results []*vocab.ActivityType

	for _, a := range s.entries {
		if a.Deleted() != nil {
			continue
		}

		if query != nil && len(query.Types) > 0 && !a.Type().IsAny(query.Types...) {
			continue
		}

		results = append(results, a)
	}

	options := storeutil.GetQueryOptions(opts...)

	totalItems := len(results)

	if options.SortOrder == spi.SortDescending {
		reverseSort(results)
	}

	startIdx := getStartIndex(totalItems, options)
	if startIdx == -1 {
		return NewActivityIterator(nil, totalItems), nil
	}

	return NewActivityIterator(results[startIdx:], totalItems), nil
}

func (s *activityStore) replaceIRI(oldIRI, newIRI string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for i, a := range s.entries {
		updated := &vocab.ActivityType{}

		changed, err := rewriteDoc(a, updated, oldIRI, newIRI)
		if err != nil {
			return err
		}

		if changed {
			s.entries[i] = updated
		}
	}

	return nil
}

type reference struct {
	iri          *url.URL
	activityType vocab.Type
}

type referenceStore struct {
	mutex        sync.RWMutex
	refsByObject map[string][]*reference
}

func newReferenceStore() *referenceStore {
	return &referenceStore{
		refsByObject: make(map[string][]*reference),
	}
}

func (s *referenceStore) put(objectIRI, referenceIRI *url.URL, metadata *spi.RefMetadata) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	refs := s.refsByObject[objectIRI.String()]

	for _, ref := range refs {
		if ref.iri.String() == referenceIRI.String() {
			ref.activityType = metadata.ActivityType

			return
		}
	}

	s.refsByObject[objectIRI.String()] = append(refs,
		&reference{iri: referenceIRI, activityType: metadata.ActivityType})
}

func (s *referenceStore) delete(objectIRI, referenceIRI *url.URL) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	refs := s.refsByObject[objectIRI.String()]

	for i, ref := range refs {
		if ref.iri.String() == referenceIRI.String() {
			s.refsByObject[objectIRI.String()] = append(refs[0:i], refs[i+1:]...)

			return nil
		}
	}

	return spi.ErrNotFound
}

func (s *referenceStore) deleteByReference(referenceIRI *url.URL) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for objectIRI, refs := range s.refsByObject {
		var remaining []*reference

		for _, ref := range refs {
			if ref.iri.String() != referenceIRI.String() {
				remaining = append(remaining, ref)
			}
		}

		s.refsByObject[objectIRI] = remaining
	}
}

func (s *referenceStore) query(query *spi.Criteria) []*url.URL {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var results []*url.URL

	for _, ref := range s.refsByObject[query.ObjectIRI.String()] {
		if len(query.Types) > 0 && !containsType(query.Types, ref.activityType) {
			continue
		}

		results = append(results, ref.iri)
	}

	return results
}

func (s *referenceStore) replaceIRI(oldIRI, newIRI string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if refs, ok := s.refsByObject[oldIRI]; ok {
		delete(s.refsByObject, oldIRI)

		s.refsByObject[newIRI] = append(s.refsByObject[newIRI], refs...)
	}

	for _, refs := range s.refsByObject {
		for _, ref := range refs {
			if ref.iri.String() == oldIRI {
				ref.iri = vocab.MustParseURL(newIRI)
			}
		}
	}
}

type followStore struct {
	mutex   sync.RWMutex
	follows []*spi.Follow
	byKey   map[string]*spi.Follow
}

func newFollowStore() *followStore {
	return &followStore{
		byKey: make(map[string]*spi.Follow),
	}
}

func followKey(followerIRI, followedIRI fmt.Stringer) string {
	return followerIRI.String() + "|" + followedIRI.String()
}

func (s *followStore) put(follow *spi.Follow) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	f := *follow

	key := followKey(f.Follower, f.Followed)

	if existing, ok := s.byKey[key]; ok {
		*existing = f

		return nil
	}

	s.follows = append(s.follows, &f)
	s.byKey[key] = &f

	return nil
}

func (s *followStore) get(followerIRI, followedIRI *url.URL) (*spi.Follow, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	follow, ok := s.byKey[followKey(followerIRI, followedIRI)]
	if !ok {
		return nil, spi.ErrNotFound
	}

	f := *follow

	return &f, nil
}

func (s *followStore) delete(followerIRI, followedIRI *url.URL) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	key := followKey(followerIRI, followedIRI)

	follow, ok := s.byKey[key]
	if !ok {
		return spi.ErrNotFound
	}

	delete(s.byKey, key)

	for i, f := range s.follows {
		if f == follow {
			s.follows = append(s.follows[0:i], s.follows[i+1:]...)

			break
		}
	}

	return nil
}

func (s *followStore) followersOf(actorIRI *url.URL) []*url.URL {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var refs []*url.URL

	for _, f := range s.follows {
		if f.Status == spi.FollowAccepted && f.Followed.String() == actorIRI.String() {
			refs = append(refs, f.Follower)
		}
	}

	return refs
}

func (s *followStore) followedBy(actorIRI *url.URL) []*url.URL {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var refs []*url.URL

	for _, f := range s.follows {
		if f.Status == spi.FollowAccepted && f.Follower.String() == actorIRI.String() {
			refs = append(refs, f.Followed)
		}
	}

	return refs
}

func (s *followStore) replaceIRI(oldIRI, newIRI string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	newURL := vocab.MustParseURL(newIRI)

	for _, f := range s.follows {
		key := followKey(f.Follower, f.Followed)

		changed := false

		if f.Follower.String() == oldIRI {
			f.Follower = newURL
			changed = true
		}

		if f.Followed.String() == oldIRI {
			f.Followed = newURL
			changed = true
		}

		if f.ActivityIRI != nil && f.ActivityIRI.String() == oldIRI {
			f.ActivityIRI = newURL
		}

		if changed {
			delete(s.byKey, key)

			s.byKey[followKey(f.Follower, f.Followed)] = f
		}
	}
}

func rewriteDoc(obj, target interface{}, oldIRI, newIRI string) (bool, error) {
	doc, err := vocab.MarshalToDoc(obj)
	if err != nil {
		return false, fmt.Errorf("marshal: %w", err)
	}

	if !storeutil.ReplaceIRI(doc, oldIRI, newIRI) {
		return false, nil
	}

	if err := vocab.UnmarshalFromDoc(doc, target); err != nil {
		return false, fmt.Errorf("unmarshal: %w", err)
	}

	return true, nil
}

func filterByIRI(refs []*url.URL, iri *url.URL) []*url.URL {
	var results []*url.URL

	for _, ref := range refs {
		if ref.String() == iri.String() {
			results = append(results, ref)
		}
	}

	return results
}

func containsType(types []vocab.Type, t vocab.Type) bool {
	for _, qt := range types {
		if qt == t {
			return true
		}
	}

	return false
}

func pageReferences(refs []*url.URL, opts ...spi.QueryOpt) ([]*url.URL, int) {
	options := storeutil.GetQueryOptions(opts...)

	totalItems := len(refs)

	if options.SortOrder == spi.SortDescending {
		reverseSort(refs)
	}

	startIdx := getStartIndex(totalItems, options)
	if startIdx == -1 {
		return nil, totalItems
	}

	return refs[startIdx:], totalItems
}

func getStartIndex(totalItems int, options *spi.QueryOptions) int {
	if options.PageSize <= 0 || options.PageNumber < 0 {
		return 0
	}

	startIdx := options.PageNumber * options.PageSize
	if startIdx >= totalItems {
		return -1
	}

	return startIdx
}

func reverseSort(results interface{}) {
	sort.SliceStable(results, func(i, j int) bool { return i > j }) //nolint:gocritic
}
