package record

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"certprint/internal/task"
)

const (
	OutcomeSuccess = 0
	OutcomeFailure = 1

	maxColumnRunes = 255
)

// Record is the write-once outcome of one run.
type Record struct {
	ID              uuid.UUID `json:"id"`
	Subject         string    `json:"user_account"`
	DisplayName     string    `json:"name"`
	Category        string    `json:"type"`
	OutcomeCode     int       `json:"status"`
	ErrorDescriptor string    `json:"error_msg"`
	TraceID         string    `json:"trace_id"`
	CreatedAt       time.Time `json:"creation_date"`
}

// Sink stores outcome records. Callers log failures and carry on.
type Sink interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}

// FromTask builds the record of a finished task.
func FromTask(t task.Task, now time.Time) Record {
	rec := Record{
		ID:          uuid.New(),
		Subject:     t.Subject,
		DisplayName: t.DisplayName,
		Category:    t.Category.Label(),
		OutcomeCode: OutcomeSuccess,
		TraceID:     t.TraceID,
		CreatedAt:   now,
	}
	if !t.Success {
		rec.OutcomeCode = OutcomeFailure
		rec.ErrorDescriptor = truncate(fmt.Sprintf("%s:%s", t.ErrorKind, t.ErrorMessage), maxColumnRunes)
	}
	return rec
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
