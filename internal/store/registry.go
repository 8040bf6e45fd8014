package store

import (
	"context"
	"log/slog"

	"github.com/m3rciful/cbtbot/core/logger"
)

// Registry is the append-only set of recipients that receive broadcasts.
type Registry struct {
	store *Store
}

// NewRegistry wraps the recipient table of s.
func NewRegistry(s *Store) *Registry {
	return &Registry{store: s}
}

// Register records id. Repeated calls are no-ops.
func (r *Registry) Register(ctx context.Context, id int64) error {
	created, err := r.store.RegisterRecipient(ctx, id)
	if err != nil {
		return err
	}
	if created {
		logger.Info(ctx, "store", "recipient.registered", slog.Int64("recipient_id", id))
	}
	return nil
}

// All returns every registered recipient.
func (r *Registry) All(ctx context.Context) ([]int64, error) {
	return r.store.ListRecipientIDs(ctx)
}

// Count returns the number of registered recipients.
func (r *Registry) Count(ctx context.Context) (int, error) {
	return r.store.CountRecipients(ctx)
}
