/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package activityhandler

import (
	"context"
	"errors"
	"fmt"
	"time"

	logfields "github.com/petrel-fed/petrel/internal/pkg/log"
	store "github.com/petrel-fed/petrel/pkg/activitypub/store/spi"
	"github.com/petrel-fed/petrel/pkg/activitypub/vocab"
	petrelerrors "github.com/petrel-fed/petrel/pkg/errors"
	"github.com/petrel-fed/petrel/pkg/iri"
)

// Outbox handles activities that were posted to the outbox of a local actor,
// applying their local side effects before the activity is delivered.
type Outbox struct {
	*handler

	registry map[vocab.Type]handlerFunc
}

// NewOutbox returns a new outbox activity handler.
func NewOutbox(cfg *Config, s store.Store, client activityPubClient) *Outbox {
	h := &Outbox{}

	h.handler = newHandler("outbox-activity-handler", cfg, s, client)

	h.registry = map[vocab.Type]handlerFunc{
		vocab.TypeFollow: h.handleFollow,
		vocab.TypeUndo:   h.handleUndo,
		vocab.TypeLike:   h.handleLike,
	}

	return h
}

// HandleActivity applies the local side effects of the activity. Activity types
// with no local side effects are simply published to subscribers.
func (h *Outbox) HandleActivity(ctx context.Context, activity *vocab.ActivityType) error {
	for _, t := range activity.Type().Types() {
		if handle, ok := h.registry[t]; ok {
			return handle(ctx, activity)
		}
	}

	h.notify(activity)

	return nil
}

// handleFollow records the local actor's follow request as pending. The
// relationship becomes accepted when the remote actor replies with an Accept.
func (h *Outbox) handleFollow(_ context.Context, follow *vocab.ActivityType) error {
	followedIRI := follow.Object().IRI()
	if followedIRI == nil {
		return petrelerrors.NewBadRequestf("no IRI specified in 'object' field of the 'Follow' activity [%s]",
			follow.ID())
	}

	followerIRI := follow.Actor()

	return h.store.WithFollowPair(followerIRI, followedIRI, func() error {
		_, err := h.store.GetFollow(followerIRI, followedIRI)
		if err == nil {
			h.logger.Info("Follow relationship already exists", logfields.WithFollowerIRI(followerIRI),
				logfields.WithFollowedIRI(followedIRI))

			return nil
		}

		if !errors.Is(err, store.ErrNotFound) {
			return petrelerrors.NewTransient(fmt.Errorf("retrieve follow relationship: %w", err))
		}

		now := time.Now()

		err = h.store.PutFollow(&store.Follow{
			Follower:    iri.NormalizeURL(followerIRI),
			Followed:    iri.NormalizeURL(followedIRI),
			ActivityIRI: follow.ID().URL(),
			Status:      store.FollowPending,
			Created:     now,
		})
		if err != nil {
			return petrelerrors.NewTransient(fmt.Errorf("store follow relationship: %w", err))
		}

		h.notify(follow)

		return nil
	})
}

// handleUndo reverses the local side effects of a previous activity by the
// same actor.
func (h *Outbox) handleUndo(_ context.Context, undo *vocab.ActivityType) error {
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
		followedIRI := inner.Object().IRI()
		if followedIRI == nil {
			return petrelerrors.NewBadRequestf("no IRI specified in 'object' field of the 'Follow' activity in 'Undo' [%s]",
				undo.ID())
		}

		return h.store.WithFollowPair(undo.Actor(), followedIRI, func() error {
			if err := h.store.DeleteFollow(undo.Actor(), followedIRI); err != nil && !errors.Is(err, store.ErrNotFound) {
				return petrelerrors.NewTransient(fmt.Errorf("delete follow relationship: %w", err))
			}

			h.notify(undo)

			return nil
		})

	case inner.Type().Is(vocab.TypeLike):
		if objIRI := objectIRI(inner); objIRI != nil {
			if err := h.store.DeleteReference(store.Liked, undo.Actor(), objIRI); err != nil &&
				!errors.Is(err, store.ErrNotFound) {
				return petrelerrors.NewTransient(fmt.Errorf("delete liked reference: %w", err))
			}
		}

		fallthrough

	case inner.Type().Is(vocab.TypeAnnounce):
		if inner.ID() != nil {
			if err := h.store.DeleteActivity(inner.ID().URL()); err != nil && !errors.Is(err, store.ErrNotFound) {
				return petrelerrors.NewTransient(fmt.Errorf("delete activity [%s]: %w", inner.ID(), err))
			}
		}

		h.notify(undo)

		return nil

	default:
		h.logger.Warn("Ignoring 'Undo' of unsupported activity type",
			logfields.WithActivityID(undo.ID()), logfields.WithType(inner.Type().String()))

		return nil
	}
}

// handleLike adds the liked object to the actor's liked collection.
func (h *Outbox) handleLike(_ context.Context, like *vocab.ActivityType) error {
	objIRI := objectIRI(like)
	if objIRI == nil {
		return petrelerrors.NewBadRequestf("no object specified in 'Like' activity [%s]", like.ID())
	}

	if err := h.store.AddReference(store.Liked, like.Actor(), objIRI,
		store.WithActivityType(vocab.TypeLike)); err != nil {
		return petrelerrors.NewTransient(fmt.Errorf("add object [%s] to liked collection: %w", objIRI, err))
	}

	h.notify(like)

	return nil
}
