// Package local persists whole collections as JSON blobs on disk.
// Reads degrade to an empty collection when a blob is missing or
// unparsable; writes overwrite the blob wholesale, so a crash mid-write
// may corrupt it. Both are accepted behaviours of this mode.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/apfiles/apfiles/internal/domain/request"
	"github.com/apfiles/apfiles/internal/domain/user"
	"github.com/apfiles/apfiles/internal/store"
)

const (
	usersKey    = "apfiles_users"
	requestsKey = "apfiles_requests"
)

type Store struct {
	dir string
	log *slog.Logger

	mu sync.Mutex
	fn store.OnChange
}

func New(dir string, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir, log: log}, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// loadCollection reads the blob stored under key. Absence and malformed
// content are both treated as an empty collection, never an error.
func loadCollection[T any](s *Store, key string) []T {
	b, err := os.ReadFile(s.path(key))
	if err != nil {
		return nil
	}

	var items []T
	if err := json.Unmarshal(b, &items); err != nil {
		s.log.Warn("discarding unparsable collection", "key", key, "err", err)
		return nil
	}
	return items
}

func saveCollection[T any](s *Store, key string, items []T) error {
	if items == nil {
		items = []T{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(key), b, 0o644)
}

// emit delivers a change event to the subscriber, synchronously, so the
// caller of a mutation observes the new state before the call returns.
func (s *Store) emit(table store.Table, typ store.EventType, newRec, oldRec any) {
	if s.fn == nil {
		return
	}

	ev := store.ChangeEvent{Table: table, Type: typ}
	if newRec != nil {
		b, err := json.Marshal(newRec)
		if err != nil {
			s.log.Error("marshal change event", "table", table, "err", err)
			return
		}
		ev.NewRecord = b
	}
	if oldRec != nil {
		b, err := json.Marshal(oldRec)
		if err != nil {
			s.log.Error("marshal change event", "table", table, "err", err)
			return
		}
		ev.OldRecord = b
	}
	s.fn(ev)
}

func (s *Store) FetchUsers(ctx context.Context) ([]user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return loadCollection[user.User](s, usersKey), nil
}

func (s *Store) FetchRequests(ctx context.Context) ([]request.RequestItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return loadCollection[request.RequestItem](s, requestsKey), nil
}

func (s *Store) UpsertUser(ctx context.Context, u user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := loadCollection[user.User](s, usersKey)
	idx := -1
	for i := range users {
		if users[i].ID == u.ID {
			idx = i
			break
		}
	}

	if idx >= 0 {
		old := users[idx]
		users[idx] = u
		if err := saveCollection(s, usersKey, users); err != nil {
			return err
		}
		s.emit(store.TableUsers, store.EventUpdate, u, old)
		return nil
	}

	users = append(users, u)
	if err := saveCollection(s, usersKey, users); err != nil {
		return err
	}
	s.emit(store.TableUsers, store.EventInsert, u, nil)
	return nil
}

func (s *Store) UpdateUser(ctx context.Context, id string, patch user.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := loadCollection[user.User](s, usersKey)
	for i := range users {
		if users[i].ID != id {
			continue
		}
		old := users[i]
		users[i] = patch.ApplyTo(old)
		if err := saveCollection(s, usersKey, users); err != nil {
			return err
		}
		s.emit(store.TableUsers, store.EventUpdate, users[i], old)
		return nil
	}
	return user.ErrNotFound
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := loadCollection[user.User](s, usersKey)
	kept := users[:0]
	var removed []user.User
	for _, u := range users {
		if u.ID == id {
			removed = append(removed, u)
			continue
		}
		kept = append(kept, u)
	}
	if len(removed) == 0 {
		return nil
	}
	if err := saveCollection(s, usersKey, kept); err != nil {
		return err
	}
	for _, u := range removed {
		s.emit(store.TableUsers, store.EventDelete, nil, u)
	}
	return nil
}

func (s *Store) InsertRequest(ctx context.Context, r request.RequestItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := loadCollection[request.RequestItem](s, requestsKey)
	items = append(items, r)
	if err := saveCollection(s, requestsKey, items); err != nil {
		return err
	}
	s.emit(store.TableRequests, store.EventInsert, r, nil)
	return nil
}

func (s *Store) UpdateRequest(ctx context.Context, id string, patch request.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := loadCollection[request.RequestItem](s, requestsKey)
	for i := range items {
		if items[i].ID != id {
			continue
		}
		old := items[i]
		items[i] = patch.ApplyTo(old)
		if err := saveCollection(s, requestsKey, items); err != nil {
			return err
		}
		s.emit(store.TableRequests, store.EventUpdate, items[i], old)
		return nil
	}
	return request.ErrNotFound
}

func (s *Store) DeleteRequestsByUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := loadCollection[request.RequestItem](s, requestsKey)
	kept := items[:0]
	var removed []request.RequestItem
	for _, r := range items {
		if r.UserID == userID {
			removed = append(removed, r)
			continue
		}
		kept = append(kept, r)
	}
	if len(removed) == 0 {
		return nil
	}
	if err := saveCollection(s, requestsKey, kept); err != nil {
		return err
	}
	for _, r := range removed {
		s.emit(store.TableRequests, store.EventDelete, nil, r)
	}
	return nil
}

func (s *Store) SyncOwner(ctx context.Context, userID, name, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := loadCollection[request.RequestItem](s, requestsKey)
	type change struct{ old, updated request.RequestItem }
	var changes []change
	for i := range items {
		if items[i].UserID != userID {
			continue
		}
		old := items[i]
		items[i].UserName = name
		items[i].UserPhone = phone
		changes = append(changes, change{old: old, updated: items[i]})
	}
	if len(changes) == 0 {
		return nil
	}
	if err := saveCollection(s, requestsKey, items); err != nil {
		return err
	}
	for _, c := range changes {
		s.emit(store.TableRequests, store.EventUpdate, c.updated, c.old)
	}
	return nil
}

func (s *Store) Subscribe(ctx context.Context, fn store.OnChange) (store.CancelFunc, error) {
	if fn == nil {
		return nil, errors.New("local: nil change callback")
	}
	s.mu.Lock()
	s.fn = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		s.fn = nil
		s.mu.Unlock()
	}, nil
}

func (s *Store) Close() {}
