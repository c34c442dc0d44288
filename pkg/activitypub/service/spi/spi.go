/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package spi

import (
	"context"
	"net/url"

	"github.com/petrel-fed/petrel/pkg/activitypub/vocab"
)

// ActivityHandler handles an ActivityPub activity that was received in the inbox
// or posted to the outbox.
type ActivityHandler interface {
	// HandleActivity handles the given activity. The returned error is classified
	// by the caller: a transient error causes the message to be redelivered, any
	// other error is logged and the message is acknowledged.
	HandleActivity(ctx context.Context, activity *vocab.ActivityType) error
}

// Outbox posts locally authored activities so that they are delivered to their
// recipients.
type Outbox interface {
	// Post adds the activity to the outbox and delivers it to its recipients,
	// excluding the given IRIs. If the activity has no ID then an ID is assigned.
	// Returns the ID of the posted activity.
	Post(ctx context.Context, activity *vocab.ActivityType, exclude ...*url.URL) (*url.URL, error)
}

// Moderator processes Flag activities. Implementations may open moderation
// cases, notify administrators, etc.
type Moderator interface {
	HandleFlag(ctx context.Context, activity *vocab.ActivityType) error
}

// UndeliverableActivityHandler is notified of activities that could not be
// delivered to a target after all redelivery attempts were exhausted.
type UndeliverableActivityHandler interface {
	HandleUndeliverableActivity(ctx context.Context, activity *vocab.ActivityType, toURL string)
}

// Handlers holds the pluggable handlers of an ActivityPub service.
type Handlers struct {
	Moderator            Moderator
	UndeliverableHandler UndeliverableActivityHandler
}

// HandlerOpt sets a pluggable handler.
type HandlerOpt func(options *Handlers)

// WithModerator sets the handler for Flag activities.
func WithModerator(moderator Moderator) HandlerOpt {
	return func(options *Handlers) {
		options.Moderator = moderator
	}
}

// WithUndeliverableHandler sets the handler for undeliverable activities.
func WithUndeliverableHandler(handler UndeliverableActivityHandler) HandlerOpt {
	return func(options *Handlers) {
		options.UndeliverableHandler = handler
	}
}
