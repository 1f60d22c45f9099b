package watermark

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Key is the fixed identifier of the singleton watermark record.
const Key = "offline-since"

// timestampLayout matches JavaScript's Date.toISOString, the format existing
// tables were written with.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// ErrConflict reports that a conditional write lost to a concurrent writer.
var ErrConflict = errors.New("watermark changed concurrently")

// Watermark records the instant the server was first observed with no players.
type Watermark struct {
	Key   string `json:"key" dynamodbav:"key"`
	Value string `json:"value" dynamodbav:"value"`
}

// New returns the watermark for ts.
func New(ts time.Time) Watermark {
	return Watermark{Key: Key, Value: ts.UTC().Format(timestampLayout)}
}

// Since parses the stored timestamp.
func (w Watermark) Since() (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, w.Value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse watermark %q: %w", w.Value, err)
	}
	return ts, nil
}

// Store persists the single watermark record.
//
// Put is an unconditional upsert. Create and DeleteIf are conditional and
// return ErrConflict when the stored record does not match their precondition,
// which keeps overlapping watchdog ticks from double-registering or
// double-stopping.
type Store interface {
	Get(ctx context.Context) (Watermark, bool, error)
	Put(ctx context.Context, ts time.Time) error
	Delete(ctx context.Context) error

	// Create writes the watermark only if none exists.
	Create(ctx context.Context, ts time.Time) error
	// DeleteIf removes the watermark only if it still holds expected.Value.
	DeleteIf(ctx context.Context, expected Watermark) error
}
