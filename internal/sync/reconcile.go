// Package sync folds change events into in-memory collections. The fold
// is idempotent: replaying an INSERT whose id is already present (the
// echo of a write that already landed locally) is a no-op, so local and
// remote application of the same mutation never double up.
package sync

import (
	"encoding/json"
	"fmt"

	"github.com/apfiles/apfiles/internal/store"
)

// Record is anything with a stable identity.
type Record interface {
	Key() string
}

// Event is a decoded change event for one record type.
type Event[T Record] struct {
	Type store.EventType
	New  *T
	Old  *T
}

// Outcome classifies what Apply did with an event.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate" // INSERT for an id already present
	OutcomeSkipped   Outcome = "skipped"   // DELETE for an id already gone
)

// Decode turns a wire envelope into a typed event, rejecting envelopes
// whose payloads are missing or malformed for their event type.
func Decode[T Record](ev store.ChangeEvent) (Event[T], error) {
	out := Event[T]{Type: ev.Type}

	if !ev.Type.Valid() {
		return out, fmt.Errorf("unknown event type %q", ev.Type)
	}

	if ev.Type == store.EventInsert || ev.Type == store.EventUpdate {
		if len(ev.NewRecord) == 0 {
			return out, fmt.Errorf("%s event without new record", ev.Type)
		}
		var rec T
		if err := json.Unmarshal(ev.NewRecord, &rec); err != nil {
			return out, fmt.Errorf("decode new record: %w", err)
		}
		out.New = &rec
	}

	if ev.Type == store.EventUpdate || ev.Type == store.EventDelete {
		if len(ev.OldRecord) == 0 {
			if ev.Type == store.EventDelete {
				return out, fmt.Errorf("DELETE event without old record")
			}
		} else {
			var rec T
			if err := json.Unmarshal(ev.OldRecord, &rec); err != nil {
				return out, fmt.Errorf("decode old record: %w", err)
			}
			out.Old = &rec
		}
	}

	return out, nil
}

// Apply folds one event into items and returns the resulting collection.
// Events must be applied in delivery order for a given record type.
//
//   - INSERT appends, unless the id is already present.
//   - UPDATE replaces the matching record wholesale (the remote record is
//     authoritative, no field merge); a record unknown locally is
//     appended, since the update proves it exists upstream.
//   - DELETE removes the record matching the old id.
func Apply[T Record](items []T, ev Event[T]) ([]T, Outcome) {
	switch ev.Type {
	case store.EventInsert:
		for i := range items {
			if items[i].Key() == (*ev.New).Key() {
				return items, OutcomeDuplicate
			}
		}
		return append(items, *ev.New), OutcomeApplied

	case store.EventUpdate:
		for i := range items {
			if items[i].Key() == (*ev.New).Key() {
				items[i] = *ev.New
				return items, OutcomeApplied
			}
		}
		return append(items, *ev.New), OutcomeApplied

	case store.EventDelete:
		for i := range items {
			if items[i].Key() == (*ev.Old).Key() {
				return append(items[:i], items[i+1:]...), OutcomeApplied
			}
		}
		return items, OutcomeSkipped
	}

	return items, OutcomeSkipped
}
