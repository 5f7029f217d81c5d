// Package outbox keeps the failed-send journal and drains queued retries
// back through the messenger.
package outbox

import (
	"context"

	"github.com/creativecareer/ccai/internal/delivery"
	"github.com/creativecareer/ccai/internal/store"
)

// Journal records failed sends in the session database.
type Journal struct {
	db *store.DB
}

// NewJournal creates a journal on db.
func NewJournal(db *store.DB) *Journal {
	return &Journal{db: db}
}

// RecordFailure implements messenger.Journal.
func (j *Journal) RecordFailure(ctx context.Context, f *delivery.SendError) error {
	return j.db.RecordFailure(ctx, store.FailedSend{
		TempID:         string(f.TempID),
		ConversationID: f.Draft.ConversationID,
		SenderID:       f.Draft.SenderID,
		ReceiverID:     f.Draft.ReceiverID,
		Content:        f.Draft.Content,
		Reason:         f.Reason,
	})
}

// List returns journal rows, optionally filtered by status.
func (j *Journal) List(ctx context.Context, statuses ...string) ([]store.FailedSend, error) {
	return j.db.FailedSends(ctx, statuses...)
}

// Queue marks tempID for retry.
func (j *Journal) Queue(ctx context.Context, tempID string) error {
	return j.db.QueueRetry(ctx, tempID)
}
