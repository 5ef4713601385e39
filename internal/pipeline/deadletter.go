package pipeline

import (
	"context"
	"time"
)

// DropReport describes one dropped event for the dead-letter sink.
type DropReport struct {
	Reason    Reason    `json:"reason"`
	Error     string    `json:"error"`
	UserID    string    `json:"user_id,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	Payload   string    `json:"payload"`
	DroppedAt time.Time `json:"dropped_at"`
}

func newDropReport(de *DropError, messageID string, raw []byte, at time.Time) DropReport {
	return DropReport{
		Reason:    de.Reason,
		Error:     de.Error(),
		UserID:    de.UserID,
		MessageID: messageID,
		Payload:   string(raw),
		DroppedAt: at.UTC(),
	}
}

// DiscardDeadLetters drops reports on the floor. Workers without a
// dead-letter topic use it; drops are still logged and counted.
type DiscardDeadLetters struct{}

func (DiscardDeadLetters) DeadLetter(context.Context, DropReport) error { return nil }
