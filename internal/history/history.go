/*
Package history tracks which mailbox messages have already produced a
notification.
*/
package history

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Store is a persisted set of delivered message IDs.
type Store interface {
	Contains(ctx context.Context, id string) (bool, error)
	// Insert adds id to the set. Inserting an existing id is a no-op.
	Insert(ctx context.Context, id string) error
	Close() error
}

// Tracker is the only reader and writer of the delivered set.
type Tracker struct {
	store  Store
	logger zerolog.Logger
}

func NewTracker(store Store, logger zerolog.Logger) *Tracker {
	return &Tracker{
		store:  store,
		logger: logger.With().Str("component", "history").Logger(),
	}
}

// AlreadyDelivered reports whether a notification was already sent for id.
func (t *Tracker) AlreadyDelivered(ctx context.Context, id string) (bool, error) {
	ok, err := t.store.Contains(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to look up message %s: %w", id, err)
	}
	return ok, nil
}

// RecordDelivered marks id as delivered. Call it only after a successful send.
func (t *Tracker) RecordDelivered(ctx context.Context, id string) error {
	if err := t.store.Insert(ctx, id); err != nil {
		return fmt.Errorf("failed to record message %s: %w", id, err)
	}
	t.logger.Debug().Str("message_id", id).Msg("delivery recorded")
	return nil
}

func (t *Tracker) Close() error {
	return t.store.Close()
}
