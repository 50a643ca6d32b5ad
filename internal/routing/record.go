// Package routing persists the mapping from an origin message to the
// per-recipient threads it was relayed into.
package routing

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no record matches a lookup.
var ErrNotFound = errors.New("routing record not found")

// ThreadRef identifies one message thread: the conversation it lives in and
// the timestamp of its root message.
type ThreadRef struct {
	Channel string `json:"channel"`
	TS      string `json:"ts"`
}

func (r ThreadRef) String() string { return r.Channel + "/" + r.TS }

// IsZero reports whether the ref is unset.
func (r ThreadRef) IsZero() bool { return r.Channel == "" && r.TS == "" }

// Delivery is one successful relay of an origin message to a recipient.
type Delivery struct {
	Recipient string    `json:"recipient"`
	Endpoint  string    `json:"endpoint"`
	Thread    ThreadRef `json:"thread"`
}

// Record links an origin message to its derived threads.
type Record struct {
	OriginKey     string     `json:"origin_key"`
	OriginChannel string     `json:"origin_channel"`
	Deliveries    []Delivery `json:"deliveries"`
	Unresolved    []string   `json:"unresolved"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// DeliveryFor returns the delivery whose derived thread is ref.
func (r *Record) DeliveryFor(ref ThreadRef) (Delivery, bool) {
	for _, d := range r.Deliveries {
		if d.Thread == ref {
			return d, true
		}
	}
	return Delivery{}, false
}

// Store is the durable record set. Put is a whole-record upsert that never
// rewrites CreatedAt; on return rec.CreatedAt holds the stored value.
type Store interface {
	Put(ctx context.Context, rec *Record) error
	Get(ctx context.Context, originKey string) (*Record, error)
	FindByDerivedThread(ctx context.Context, ref ThreadRef) (*Record, error)
	Close() error
}

// StorageError wraps a failure of the storage layer itself.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("routing store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageError reports whether err carries a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
