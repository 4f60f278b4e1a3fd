// Package store defines the persistence adapter capability set shared by
// the local and remote backends. The facade is handed one implementation
// at construction and never branches on which one it got.
package store

import (
	"context"
	"encoding/json"

	"github.com/apfiles/apfiles/internal/domain/request"
	"github.com/apfiles/apfiles/internal/domain/user"
)

type Table string

const (
	TableUsers    Table = "users"
	TableRequests Table = "requests"
)

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

func (t EventType) Valid() bool {
	return t == EventInsert || t == EventUpdate || t == EventDelete
}

// ChangeEvent is the wire envelope for one insert, update or delete that
// happened in the backing store. NewRecord is set for INSERT and UPDATE,
// OldRecord for UPDATE and DELETE. Payloads stay raw until the consumer
// decodes them for the table they belong to.
type ChangeEvent struct {
	Table     Table           `json:"table"`
	Type      EventType       `json:"eventType"`
	NewRecord json.RawMessage `json:"newRecord,omitempty"`
	OldRecord json.RawMessage `json:"oldRecord,omitempty"`
}

// OnChange receives change events in delivery order. Implementations must
// not call it concurrently for the same table.
type OnChange func(ChangeEvent)

// CancelFunc tears down a subscription and releases its connection.
// Safe to call more than once.
type CancelFunc func()

// Store is the persistence adapter contract. Every mutation is attempted
// exactly once; a failed call leaves the backend and the caller's state
// untouched. Mutations are observed through the subscription: the local
// backend emits events synchronously before the mutation returns, the
// remote backend pushes them over its change feed.
type Store interface {
	FetchUsers(ctx context.Context) ([]user.User, error)
	FetchRequests(ctx context.Context) ([]request.RequestItem, error)

	UpsertUser(ctx context.Context, u user.User) error
	UpdateUser(ctx context.Context, id string, patch user.Patch) error
	DeleteUser(ctx context.Context, id string) error

	InsertRequest(ctx context.Context, r request.RequestItem) error
	UpdateRequest(ctx context.Context, id string, patch request.Patch) error
	// DeleteRequestsByUser bulk-deletes every request owned by userID.
	// Issued by the facade as the first step of the user-delete cascade.
	DeleteRequestsByUser(ctx context.Context, userID string) error

	// SyncOwner rewrites the denormalized userName/userPhone columns on
	// every request owned by userID.
	SyncOwner(ctx context.Context, userID, name, phone string) error

	Subscribe(ctx context.Context, fn OnChange) (CancelFunc, error)
	Close()
}
