package store

import "time"

// Journal statuses of a failed send.
const (
	StatusFailed = "failed"
	StatusQueued = "queued"
	StatusResent = "resent"
)

// FailedSend is a journaled send that the server rejected or that was
// outstanding when the connection was lost.
type FailedSend struct {
	ID             int64
	TempID         string
	ConversationID string
	SenderID       string
	ReceiverID     string
	Content        string
	Reason         string
	Status         string // failed, queued, resent
	ResentTempID   string
	Attempts       int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
