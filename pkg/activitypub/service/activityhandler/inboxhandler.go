/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package activityhandler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	logfields "github.com/petrel-fed/petrel/internal/pkg/log"
	service "github.com/petrel-fed/petrel/pkg/activitypub/service/spi"
	store "github.com/petrel-fed/petrel/pkg/activitypub/store/spi"
	"github.com/petrel-fed/petrel/pkg/activitypub/vocab"
	petrelerrors "github.com/petrel-fed/petrel/pkg/errors"
	"github.com/petrel-fed/petrel/pkg/iri"
)

type handlerFunc func(ctx context.Context, activity *vocab.ActivityType) error

// Inbox handles activities that were received in the inbox of a local actor.
// Each supported activity type is bound to its handler in a registry, so that
// the set of supported types is explicit and additional types may be registered
// without touching the dispatch path.
type Inbox struct {
	*handler
	*service.Handlers

	outbox   service.Outbox
	registry map[vocab.Type]handlerFunc
}

// NewInbox returns a new inbox activity handler.
func NewInbox(cfg *Config, s store.Store, outbox service.Outbox, client activityPubClient,
	opts ...service.HandlerOpt) *Inbox {
	options := &service.Handlers{}

	for _, opt := range opts {
		opt(options)
	}

	if options.Moderator == nil {
		options.Moderator = NewModerator()
	}

	h := &Inbox{
		Handlers: options,
		outbox:   outbox,
	}

	h.handler = newHandler("inbox-activity-handler", cfg, s, client)

	h.registry = map[vocab.Type]handlerFunc{
		vocab.TypeFollow:   h.handleFollow,
		vocab.TypeAccept:   h.handleAccept,
		vocab.TypeReject:   h.handleReject,
		vocab.TypeUndo:     h.handleUndo,
		vocab.TypeCreate:   h.handleCreate,
		vocab.TypeUpdate:   h.handleUpdate,
		vocab.TypeDelete:   h.handleDelete,
		vocab.TypeLike:     h.handleLike,
		vocab.TypeAnnounce: h.handleAnnounce,
		vocab.TypeBlock:    h.handleBlock,
		vocab.TypeFlag:     h.handleFlag,
		vocab.TypeMove:     h.handleMove,
	}

	return h
}

// HandleActivity dispatches the activity to the handler registered for its type.
func (h *Inbox) HandleActivity(ctx context.Context, activity *vocab.ActivityType) error {
	if activity.Actor() == nil {
		return petrelerrors.NewBadRequestf("no actor specified in activity [%s]", activity.ID())
	}

	for _, t := range activity.Type().Types() {
		if handle, ok := h.registry[t]; ok {
			return handle(ctx, activity)
		}
	}

	return petrelerrors.NewBadRequestf("unsupported activity type: %s", activity.Type())
}

// handleFollow upserts the follow relationship and replies with an Accept. A
// duplicate Follow for a relationship that already exists re-sends the Accept,
// so that a follower whose first Accept was lost eventually receives one.
func (h *Inbox) handleFollow(ctx context.Context, follow *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Follow' activity", logfields.WithActivityID(follow.ID()))

	followerIRI := follow.Actor()

	followedIRI := follow.Object().IRI()
	if followedIRI == nil {
		return petrelerrors.NewBadRequestf("no IRI specified in 'object' field of the 'Follow' activity [%s]",
			follow.ID())
	}

	followed, err := h.localActor(followedIRI)
	if err != nil {
		return fmt.Errorf("resolve followed actor [%s]: %w", followedIRI, err)
	}

	// Store the follower's actor document so that the followers collection can
	// be displayed without a remote fetch.
	if actor, err := h.resolveActor(followerIRI); err != nil {
		h.logger.Warn("Unable to resolve follower actor", logfields.WithActorIRI(followerIRI),
			logfields.WithError(err))
	} else if err := h.store.PutActor(actor); err != nil {
		h.logger.Warn("Unable to store follower actor", logfields.WithActorIRI(followerIRI),
			logfields.WithError(err))
	}

	return h.store.WithFollowPair(followerIRI, followed.ID().URL(), func() error {
		now := time.Now()

		f, err := h.store.GetFollow(followerIRI, followed.ID().URL())
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				return petrelerrors.NewTransient(fmt.Errorf("retrieve follow relationship: %w", err))
			}

			f = &store.Follow{
				Follower:    iri.NormalizeURL(followerIRI),
				Followed:    followed.ID().URL(),
				ActivityIRI: follow.ID().URL(),
				Status:      store.FollowPending,
				Created:     now,
			}

			if err := h.store.PutFollow(f); err != nil {
				return petrelerrors.NewTransient(fmt.Errorf("store follow relationship: %w", err))
			}
		} else {
			h.logger.Info("Duplicate 'Follow' activity. Re-sending 'Accept'.",
				logfields.WithFollowerIRI(followerIRI), logfields.WithFollowedIRI(followedIRI))
		}

		accept := vocab.NewAcceptActivity(
			vocab.NewObjectProperty(vocab.WithActivity(follow)),
			vocab.WithActor(followed.ID().URL()),
			vocab.WithTo(followerIRI),
		)

		if _, err := h.outbox.Post(ctx, accept); err != nil {
			return fmt.Errorf("reply with 'Accept' to [%s]: %w", followerIRI, err)
		}

		f.Status = store.FollowAccepted
		f.Updated = now

		if err := h.store.PutFollow(f); err != nil {
			return petrelerrors.NewTransient(fmt.Errorf("update follow relationship: %w", err))
		}

		h.notify(follow)

		return nil
	})
}

// handleAccept marks a local actor's outbound follow request as accepted.
func (h *Inbox) handleAccept(_ context.Context, accept *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Accept' activity", logfields.WithActivityID(accept.ID()))

	follow, err := h.innerFollow(accept, "Accept")
	if err != nil {
		return err
	}

	followerIRI := follow.Actor()

	if !h.isLocal(followerIRI) {
		h.logger.Info("Ignoring 'Accept' since the actor of the 'Follow' is not an actor of this instance",
			logfields.WithActivityID(accept.ID()), logfields.WithActorIRI(followerIRI))

		return nil
	}

	followedIRI := accept.Actor()

	return h.store.WithFollowPair(followerIRI, followedIRI, func() error {
		f, err := h.store.GetFollow(followerIRI, followedIRI)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				h.logger.Info("No follow request found for 'Accept' activity",
					logfields.WithActivityID(accept.ID()), logfields.WithFollowerIRI(followerIRI),
					logfields.WithFollowedIRI(followedIRI))

				return nil
			}

			return petrelerrors.NewTransient(fmt.Errorf("retrieve follow relationship: %w", err))
		}

		f.Status = store.FollowAccepted
		f.Updated = time.Now()

		if err := h.store.PutFollow(f); err != nil {
			return petrelerrors.NewTransient(fmt.Errorf("update follow relationship: %w", err))
		}

		h.notify(accept)

		return nil
	})
}

// handleReject deletes a local actor's pending follow request.
func (h *Inbox) handleReject(_ context.Context, reject *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Reject' activity", logfields.WithActivityID(reject.ID()))

	follow, err := h.innerFollow(reject, "Reject")
	if err != nil {
		return err
	}

	followerIRI := follow.Actor()

	if !h.isLocal(followerIRI) {
		h.logger.Info("Ignoring 'Reject' since the actor of the 'Follow' is not an actor of this instance",
			logfields.WithActivityID(reject.ID()), logfields.WithActorIRI(followerIRI))

		return nil
	}

	followedIRI := reject.Actor()

	return h.store.WithFollowPair(followerIRI, followedIRI, func() error {
		if err := h.store.DeleteFollow(followerIRI, followedIRI); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				h.logger.Info("No follow request found for 'Reject' activity",
					logfields.WithActivityID(reject.ID()), logfields.WithFollowerIRI(followerIRI),
					logfields.WithFollowedIRI(followedIRI))

				return nil
			}

			return petrelerrors.NewTransient(fmt.Errorf("delete follow relationship: %w", err))
		}

		h.logger.Info("Follow request was rejected", logfields.WithFollowerIRI(followerIRI),
			logfields.WithFollowedIRI(followedIRI))

		h.notify(reject)

		return nil
	})
}

// innerFollow returns the Follow activity in the 'object' field of an Accept or
// Reject activity.
func (h *Inbox) innerFollow(activity *vocab.ActivityType, activityType string) (*vocab.ActivityType, error) {
	follow := activity.Object().Activity()
	if follow == nil || !follow.Type().Is(vocab.TypeFollow) {
		return nil, petrelerrors.NewBadRequestf("the 'object' field of the '%s' activity [%s] must be a 'Follow' activity",
			activityType, activity.ID())
	}

	if follow.Actor() == nil {
		return nil, petrelerrors.NewBadRequestf("no actor specified in the 'Follow' activity of the '%s' activity [%s]",
			activityType, activity.ID())
	}

	return follow, nil
}

// handleUndo reverses the effect of a previous activity by the same actor.
func (h *Inbox) handleUndo(_ context.Context, undo *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Undo' activity", logfields.WithActivityID(undo.ID()))

	inner := undo.Object().Activity()
	if inner == nil {
		return petrelerrors.NewBadRequestf("no activity specified in the 'object' field of the 'Undo' activity [%s]",
			undo.ID())
	}

	if inner.Actor() == nil || !iri.Equal(inner.Actor().String(), undo.Actor().String()) {
		return petrelerrors.NewBadRequestf(
			"the actor of the 'Undo' activity [%s] is not the same as the actor of the original activity", undo.ID())
	}

	switch {
	case inner.Type().Is(vocab.TypeFollow):
		return h.undoFollow(undo, inner)
	case inner.Type().Is(vocab.TypeLike):
		return h.undoLike(undo, inner)
	case inner.Type().Is(vocab.TypeAnnounce):
		return h.undoActivity(undo, inner)
	case inner.Type().Is(vocab.TypeBlock):
		return h.undoBlock(undo, inner)
	case inner.Type().Is(vocab.TypeCreate):
		return h.undoCreate(undo, inner)
	default:
		h.logger.Warn("Ignoring 'Undo' of unsupported activity type",
			logfields.WithActivityID(undo.ID()), logfields.WithType(inner.Type().String()))

		return nil
	}
}

func (h *Inbox) undoFollow(undo, follow *vocab.ActivityType) error {
	followedIRI := follow.Object().IRI()
	if followedIRI == nil {
		return petrelerrors.NewBadRequestf("no IRI specified in 'object' field of the 'Follow' activity in 'Undo' [%s]",
			undo.ID())
	}

	followerIRI := undo.Actor()

	return h.store.WithFollowPair(followerIRI, followedIRI, func() error {
		if err := h.store.DeleteFollow(followerIRI, followedIRI); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				h.logger.Info("No follow relationship found for 'Undo' activity",
					logfields.WithActivityID(undo.ID()), logfields.WithFollowerIRI(followerIRI),
					logfields.WithFollowedIRI(followedIRI))

				return nil
			}

			return petrelerrors.NewTransient(fmt.Errorf("delete follow relationship: %w", err))
		}

		h.notify(undo)

		return nil
	})
}

func (h *Inbox) undoLike(undo, like *vocab.ActivityType) error {
	if objIRI := objectIRI(like); objIRI != nil {
		if err := h.store.DeleteReference(store.Liked, undo.Actor(), objIRI); err != nil &&
			!errors.Is(err, store.ErrNotFound) {
			return petrelerrors.NewTransient(fmt.Errorf("delete liked reference: %w", err))
		}
	}

	return h.undoActivity(undo, like)
}

func (h *Inbox) undoBlock(undo, block *vocab.ActivityType) error {
	blockedIRI := block.Object().IRI()
	if blockedIRI == nil {
		return petrelerrors.NewBadRequestf("no IRI specified in 'object' field of the 'Block' activity in 'Undo' [%s]",
			undo.ID())
	}

	if err := h.store.DeleteReference(store.Blocked, undo.Actor(), blockedIRI); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.logger.Info("No block found for 'Undo' activity", logfields.WithActivityID(undo.ID()),
				logfields.WithObjectIRI(blockedIRI))

			return nil
		}

		return petrelerrors.NewTransient(fmt.Errorf("delete block of [%s] by [%s]: %w", blockedIRI, undo.Actor(), err))
	}

	h.notify(undo)

	return nil
}

// undoCreate soft-deletes the object that was created by the inner activity.
// The actor match performed by handleUndo guarantees that only the author can
// retract the object this way.
func (h *Inbox) undoCreate(undo, create *vocab.ActivityType) error {
	objIRI := objectIRI(create)
	if objIRI == nil {
		return petrelerrors.NewBadRequestf("no object specified in the 'Create' activity in 'Undo' [%s]", undo.ID())
	}

	if err := h.store.DeleteObject(objIRI); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.logger.Info("No object found for 'Undo' of 'Create'", logfields.WithActivityID(undo.ID()),
				logfields.WithObjectIRI(objIRI))

			return nil
		}

		return petrelerrors.NewTransient(fmt.Errorf("delete object [%s]: %w", objIRI, err))
	}

	h.notify(undo)

	return nil
}

func (h *Inbox) undoActivity(undo, inner *vocab.ActivityType) error {
	if inner.ID() == nil {
		return petrelerrors.NewBadRequestf("no ID specified in the activity in the 'object' field of 'Undo' [%s]",
			undo.ID())
	}

	if err := h.store.DeleteActivity(inner.ID().URL()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.logger.Info("No activity found for 'Undo'", logfields.WithActivityID(undo.ID()),
				logfields.WithObjectIRI(inner.ID().URL()))

			return nil
		}

		return petrelerrors.NewTransient(fmt.Errorf("delete activity [%s]: %w", inner.ID(), err))
	}

	h.notify(undo)

	return nil
}

// handleCreate stores the content object carried by the activity.
func (h *Inbox) handleCreate(_ context.Context, create *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Create' activity", logfields.WithActivityID(create.ID()))

	obj := create.Object().Object()
	if obj == nil || obj.ID() == nil {
		return petrelerrors.NewBadRequestf("no object with an ID specified in 'Create' activity [%s]", create.ID())
	}

	obj.SetAttributedTo(create.Actor())

	if err := h.store.PutObject(obj); err != nil {
		return petrelerrors.NewTransient(fmt.Errorf("store object [%s]: %w", obj.ID(), err))
	}

	if inReplyTo := obj.InReplyTo().URL(); inReplyTo != nil {
		h.fetchIfUnknown(inReplyTo)
	}

	h.notify(create)

	return nil
}

// handleUpdate replaces a stored content object. Only the owner of the object
// may update it.
func (h *Inbox) handleUpdate(_ context.Context, update *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Update' activity", logfields.WithActivityID(update.ID()))

	obj := update.Object().Object()
	if obj == nil || obj.ID() == nil {
		return petrelerrors.NewBadRequestf("no object with an ID specified in 'Update' activity [%s]", update.ID())
	}

	if obj.AttributedTo().URL() != nil && !iri.Equal(obj.AttributedTo().String(), update.Actor().String()) {
		return petrelerrors.NewUnauthorizedf("the object in 'Update' activity [%s] is not attributed to the actor [%s]",
			update.ID(), update.Actor())
	}

	stored, err := h.store.GetObject(obj.ID().URL())
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return petrelerrors.NewTransient(fmt.Errorf("retrieve object [%s]: %w", obj.ID(), err))
	}

	if stored != nil && stored.AttributedTo().URL() != nil &&
		!iri.Equal(stored.AttributedTo().String(), update.Actor().String()) {
		return petrelerrors.NewUnauthorizedf("the actor [%s] does not own the object in 'Update' activity [%s]",
			update.Actor(), update.ID())
	}

	obj.SetAttributedTo(update.Actor())

	if err := h.store.PutObject(obj); err != nil {
		return petrelerrors.NewTransient(fmt.Errorf("store object [%s]: %w", obj.ID(), err))
	}

	h.notify(update)

	return nil
}

// handleDelete soft-deletes a stored content object. An unknown object is a
// no-op so that deletes of objects this instance never saw are acknowledged.
func (h *Inbox) handleDelete(_ context.Context, del *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Delete' activity", logfields.WithActivityID(del.ID()))

	objIRI := objectIRI(del)
	if objIRI == nil {
		return petrelerrors.NewBadRequestf("no object specified in 'Delete' activity [%s]", del.ID())
	}

	stored, err := h.store.GetObject(objIRI)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.logger.Debug("Ignoring 'Delete' of unknown object", logfields.WithActivityID(del.ID()),
				logfields.WithObjectIRI(objIRI))

			return nil
		}

		return petrelerrors.NewTransient(fmt.Errorf("retrieve object [%s]: %w", objIRI, err))
	}

	if stored.AttributedTo().URL() != nil && !iri.Equal(stored.AttributedTo().String(), del.Actor().String()) {
		return petrelerrors.NewUnauthorizedf("the actor [%s] does not own the object in 'Delete' activity [%s]",
			del.Actor(), del.ID())
	}

	if err := h.store.DeleteObject(objIRI); err != nil {
		return petrelerrors.NewTransient(fmt.Errorf("delete object [%s]: %w", objIRI, err))
	}

	h.notify(del)

	return nil
}

// handleLike records a Like of an object. The target object is fetched and
// stored if it is not known locally.
func (h *Inbox) handleLike(_ context.Context, like *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Like' activity", logfields.WithActivityID(like.ID()))

	objIRI := objectIRI(like)
	if objIRI == nil {
		return petrelerrors.NewBadRequestf("no object specified in 'Like' activity [%s]", like.ID())
	}

	if err := h.store.AddReference(store.Liked, like.Actor(), objIRI,
		store.WithActivityType(vocab.TypeLike)); err != nil {
		return petrelerrors.NewTransient(fmt.Errorf("store like of [%s] by [%s]: %w", objIRI, like.Actor(), err))
	}

	h.fetchIfUnknown(objIRI)

	h.notify(like)

	return nil
}

// handleAnnounce records an Announce (share) of an object.
func (h *Inbox) handleAnnounce(_ context.Context, announce *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Announce' activity", logfields.WithActivityID(announce.ID()))

	objIRI := objectIRI(announce)
	if objIRI == nil {
		return petrelerrors.NewBadRequestf("no object specified in 'Announce' activity [%s]", announce.ID())
	}

	h.fetchIfUnknown(objIRI)

	h.notify(announce)

	return nil
}

// handleBlock records that the actor has blocked the object actor. Blocks have
// no side effects beyond the record.
func (h *Inbox) handleBlock(_ context.Context, block *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Block' activity", logfields.WithActivityID(block.ID()))

	blockedIRI := block.Object().IRI()
	if blockedIRI == nil {
		return petrelerrors.NewBadRequestf("no IRI specified in 'object' field of the 'Block' activity [%s]",
			block.ID())
	}

	if err := h.store.AddReference(store.Blocked, block.Actor(), blockedIRI); err != nil {
		return petrelerrors.NewTransient(fmt.Errorf("store block of [%s] by [%s]: %w", blockedIRI, block.Actor(), err))
	}

	h.notify(block)

	return nil
}

// handleFlag forwards the activity to the moderator.
func (h *Inbox) handleFlag(ctx context.Context, flag *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Flag' activity", logfields.WithActivityID(flag.ID()))

	if err := h.Moderator.HandleFlag(ctx, flag); err != nil {
		return fmt.Errorf("moderator: %w", err)
	}

	h.notify(flag)

	return nil
}

// handleMove migrates an actor to a new IRI by rewriting every stored
// occurrence of the old IRI. The rewrite is idempotent, so a redelivered Move
// is harmless.
func (h *Inbox) handleMove(_ context.Context, move *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Move' activity", logfields.WithActivityID(move.ID()))

	oldIRI := move.Actor()

	targetIRI := move.Target().IRI()
	if targetIRI == nil {
		return petrelerrors.NewBadRequestf("no target specified in 'Move' activity [%s]", move.ID())
	}

	if originIRI := move.Origin().IRI(); originIRI != nil && !iri.Equal(originIRI.String(), oldIRI.String()) {
		return petrelerrors.NewBadRequestf("the origin of 'Move' activity [%s] does not match the actor", move.ID())
	}

	return h.store.WithFollowPair(oldIRI, targetIRI, func() error {
		if err := h.store.ReassignIRI(oldIRI, targetIRI); err != nil {
			return petrelerrors.NewTransient(fmt.Errorf("reassign IRI [%s] to [%s]: %w", oldIRI, targetIRI, err))
		}

		h.logger.Info("Actor was moved", logfields.WithActorIRI(oldIRI), logfields.WithTargetIRI(targetIRI))

		h.notify(move)

		return nil
	})
}

// fetchIfUnknown fetches and stores the given object if it is not in the local
// store. A failed fetch is logged but does not fail the activity, since the
// object may be fetched on demand later.
func (h *Inbox) fetchIfUnknown(objIRI *url.URL) {
	_, err := h.store.GetObject(objIRI)
	if err == nil || !errors.Is(err, store.ErrNotFound) {
		return
	}

	if _, err := h.client.FetchAndStoreObject(objIRI); err != nil {
		h.logger.Warn("Unable to fetch object", logfields.WithObjectIRI(objIRI), logfields.WithError(err))
	}
}

// objectIRI returns the IRI of the object of the given activity. The object may
// be given as an IRI or as an embedded object with an ID.
func objectIRI(activity *vocab.ActivityType) *url.URL {
	if objIRI := activity.Object().IRI(); objIRI != nil {
		return objIRI
	}

	if obj := activity.Object().Object(); obj != nil && obj.ID() != nil {
		return obj.ID().URL()
	}

	return nil
}
