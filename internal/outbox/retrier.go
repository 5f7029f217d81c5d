package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/creativecareer/ccai/internal/bus"
	"github.com/creativecareer/ccai/internal/chat"
	"github.com/creativecareer/ccai/internal/delivery"
	"github.com/creativecareer/ccai/internal/store"
	"go.uber.org/zap"
)

// KindRetryResent is published when a queued retry goes out again.
const KindRetryResent = "delivery.resent"

// DefaultInterval is how often the retrier looks at the queue.
const DefaultInterval = 500 * time.Millisecond

// Resender is the messenger as seen by the retrier.
type Resender interface {
	ReadyFor(conversationID string) bool
	Resend(conversationID, content string) (chat.TempID, error)
}

// Retrier polls the journal for queued retries and resends each one once
// its conversation is open, the connection is up and nothing else is in
// flight.
type Retrier struct {
	db       *store.DB
	sender   Resender
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRetrier creates a retrier. interval of zero uses DefaultInterval.
func NewRetrier(db *store.DB, sender Resender, b *bus.Bus, logger *zap.Logger, interval time.Duration) *Retrier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Retrier{
		db:       db,
		sender:   sender,
		bus:      b,
		logger:   logger,
		interval: interval,
	}
}

// Start begins polling.
func (r *Retrier) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.loop(ctx, r.done)
}

// Stop stops polling and waits for the loop to exit.
func (r *Retrier) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (r *Retrier) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.processQueued(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Retrier) processQueued(ctx context.Context) {
	queued, err := r.db.QueuedRetries(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("failed to read retry queue", zap.Error(err))
		}
		return
	}

	for _, entry := range queued {
		if !r.sender.ReadyFor(entry.ConversationID) {
			continue
		}

		tempID, err := r.sender.Resend(entry.ConversationID, entry.Content)
		var se *delivery.SendError
		switch {
		case err == nil, errors.As(err, &se):
			// A send that failed again has been journaled under its new
			// tempId, so the original row is settled either way.
			if err := r.db.MarkResent(ctx, entry.TempID, string(tempID)); err != nil {
				r.logger.Error("failed to mark resent", zap.String("temp_id", entry.TempID), zap.Error(err))
			}
			r.logger.Info("retry resent", zap.String("temp_id", entry.TempID), zap.String("resent_temp_id", string(tempID)))
			if r.bus != nil {
				r.bus.Emit(KindRetryResent, map[string]string{"temp_id": entry.TempID, "resent_temp_id": string(tempID)})
			}
		case errors.Is(err, delivery.ErrEmptyContent):
			if err := r.db.MarkRetryFailed(ctx, entry.TempID, err.Error()); err != nil {
				r.logger.Error("failed to mark retry failed", zap.String("temp_id", entry.TempID), zap.Error(err))
			}
		default:
			r.logger.Debug("retry deferred", zap.String("temp_id", entry.TempID), zap.Error(err))
		}
	}
}
