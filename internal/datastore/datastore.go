// Package datastore is the single entry point the view layer calls. It
// owns the authoritative in-memory collections of users and requests for
// the process lifetime; every mutation goes through the injected
// persistence adapter, and all in-memory state flows back in through the
// adapter's change feed. The facade itself never branches on which
// backend it was given.
package datastore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/apfiles/apfiles/internal/domain/request"
	"github.com/apfiles/apfiles/internal/domain/user"
	"github.com/apfiles/apfiles/internal/observability"
	"github.com/apfiles/apfiles/internal/store"
	syncx "github.com/apfiles/apfiles/internal/sync"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrPhoneTaken  = errors.New("phone number already registered")
	ErrUnknownUser = errors.New("request owner does not exist")
)

// Snapshot is a value copy of both collections, handed to subscribers on
// every change.
type Snapshot struct {
	Users    []user.User
	Requests []request.RequestItem
}

type Subscriber func(Snapshot)

type DataStore struct {
	store  store.Store
	log    *slog.Logger
	prom   *observability.Prom
	tracer trace.Tracer

	mu       sync.RWMutex
	users    []user.User
	requests []request.RequestItem
	subs     map[int]Subscriber
	nextSub  int

	cancel store.CancelFunc
}

func New(st store.Store, log *slog.Logger, prom *observability.Prom) *DataStore {
	return &DataStore{
		store:  st,
		log:    log,
		prom:   prom,
		tracer: otel.Tracer("datastore"),
		subs:   make(map[int]Subscriber),
	}
}

// Open loads both collections from the backend and opens the change
// feed. Mutations issued before Open has returned are not supported.
func (d *DataStore) Open(ctx context.Context) error {
	users, err := d.store.FetchUsers(ctx)
	if err != nil {
		return fmt.Errorf("fetch users: %w", err)
	}
	requests, err := d.store.FetchRequests(ctx)
	if err != nil {
		return fmt.Errorf("fetch requests: %w", err)
	}

	d.mu.Lock()
	d.users = users
	d.requests = requests
	d.mu.Unlock()

	cancel, err := d.store.Subscribe(ctx, d.onChange)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	d.cancel = cancel

	d.log.Info("datastore opened", "users", len(users), "requests", len(requests))
	return nil
}

// Close tears down the change feed. The backend outlives the process;
// the in-memory collections do not.
func (d *DataStore) Close() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

// onChange folds one change event into the owning collection. Events for
// one table arrive in delivery order; folding is idempotent, so the echo
// of a write that already landed locally is a no-op.
func (d *DataStore) onChange(ev store.ChangeEvent) {
	var outcome syncx.Outcome

	switch ev.Table {
	case store.TableUsers:
		decoded, err := syncx.Decode[user.User](ev)
		if err != nil {
			d.log.Warn("rejecting user change event", "type", ev.Type, "err", err)
			d.prom.CountChangeEvent(string(ev.Table), string(ev.Type), "rejected")
			return
		}
		d.mu.Lock()
		d.users, outcome = syncx.Apply(d.users, decoded)
		d.mu.Unlock()

	case store.TableRequests:
		decoded, err := syncx.Decode[request.RequestItem](ev)
		if err != nil {
			d.log.Warn("rejecting request change event", "type", ev.Type, "err", err)
			d.prom.CountChangeEvent(string(ev.Table), string(ev.Type), "rejected")
			return
		}
		d.mu.Lock()
		d.requests, outcome = syncx.Apply(d.requests, decoded)
		d.mu.Unlock()

	default:
		d.log.Warn("rejecting change event for unknown table", "table", ev.Table)
		d.prom.CountChangeEvent(string(ev.Table), string(ev.Type), "rejected")
		return
	}

	d.prom.CountChangeEvent(string(ev.Table), string(ev.Type), string(outcome))
	d.notify()
}

// Subscribe registers a view-layer callback invoked with a fresh
// snapshot after every folded change. The returned func unregisters it.
func (d *DataStore) Subscribe(fn Subscriber) func() {
	d.mu.Lock()
	id := d.nextSub
	d.nextSub++
	d.subs[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}
}

func (d *DataStore) notify() {
	d.mu.RLock()
	snap := d.snapshotLocked()
	subs := make([]Subscriber, 0, len(d.subs))
	for _, fn := range d.subs {
		subs = append(subs, fn)
	}
	d.mu.RUnlock()

	for _, fn := range subs {
		fn(snap)
	}
}

func (d *DataStore) snapshotLocked() Snapshot {
	return Snapshot{
		Users:    append([]user.User(nil), d.users...),
		Requests: append([]request.RequestItem(nil), d.requests...),
	}
}

func (d *DataStore) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshotLocked()
}

func (d *DataStore) Users() []user.User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]user.User(nil), d.users...)
}

func (d *DataStore) Requests() []request.RequestItem {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]request.RequestItem(nil), d.requests...)
}

func (d *DataStore) UserByID(id string) (user.User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, u := range d.users {
		if u.ID == id {
			return u, true
		}
	}
	return user.User{}, false
}

func (d *DataStore) UserByPhone(phone string) (user.User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, u := range d.users {
		if u.PhoneNumber == phone {
			return u, true
		}
	}
	return user.User{}, false
}

// RegisterUser creates a student account. Phone uniqueness is enforced
// here, against the facade's collections; the remote schema backs this
// up with a UNIQUE constraint.
func (d *DataStore) RegisterUser(ctx context.Context, reg user.RegisterRequest) (user.User, error) {
	u := user.User{
		ID:          uuid.NewString(),
		FullName:    reg.FullName,
		PhoneNumber: reg.PhoneNumber,
		Role:        user.RoleStudent,
	}

	err := d.prom.ObserveMutation("register_user", func() error {
		ctx, span := d.tracer.Start(ctx, "datastore.RegisterUser")
		defer span.End()

		if other, ok := d.UserByPhone(u.PhoneNumber); ok && other.ID != u.ID {
			return ErrPhoneTaken
		}
		return d.store.UpsertUser(ctx, u)
	})
	if err != nil {
		return user.User{}, err
	}
	return u, nil
}

// SaveUser upserts a fully-formed user record (used for the builder
// account bootstrap).
func (d *DataStore) SaveUser(ctx context.Context, u user.User) error {
	return d.prom.ObserveMutation("save_user", func() error {
		ctx, span := d.tracer.Start(ctx, "datastore.SaveUser")
		defer span.End()

		if other, ok := d.UserByPhone(u.PhoneNumber); ok && other.ID != u.ID {
			return ErrPhoneTaken
		}
		return d.store.UpsertUser(ctx, u)
	})
}

// UpdateUserPartial applies a partial update and, when the patch touches
// a denormalized field, propagates the new name/phone to every request
// the user owns. The propagation is eventually consistent: in remote
// mode a reader may briefly see the user updated but the requests stale.
func (d *DataStore) UpdateUserPartial(ctx context.Context, id string, patch user.Patch) error {
	return d.prom.ObserveMutation("update_user", func() error {
		ctx, span := d.tracer.Start(ctx, "datastore.UpdateUserPartial")
		defer span.End()

		if patch.Empty() {
			return nil
		}

		current, ok := d.UserByID(id)
		if !ok {
			return user.ErrNotFound
		}
		if patch.PhoneNumber != nil {
			if other, taken := d.UserByPhone(*patch.PhoneNumber); taken && other.ID != id {
				return ErrPhoneTaken
			}
		}

		if err := d.store.UpdateUser(ctx, id, patch); err != nil {
			return err
		}

		if !patch.TouchesIdentity() {
			return nil
		}
		updated := patch.ApplyTo(current)
		return d.SyncUserToRequests(ctx, id, updated.FullName, updated.PhoneNumber)
	})
}

// SyncUserToRequests rewrites the denormalized owner fields on every
// request owned by userID.
func (d *DataStore) SyncUserToRequests(ctx context.Context, userID, name, phone string) error {
	if err := d.store.SyncOwner(ctx, userID, name, phone); err != nil {
		return fmt.Errorf("propagate owner fields: %w", err)
	}
	return nil
}

// DeleteUser removes the user and every request it owns. The two steps
// are sequential, not transactional: if the user delete fails after the
// request delete succeeded, the requests are gone and the user remains.
// Re-running DeleteUser is the compensating action.
func (d *DataStore) DeleteUser(ctx context.Context, id string) error {
	return d.prom.ObserveMutation("delete_user", func() error {
		ctx, span := d.tracer.Start(ctx, "datastore.DeleteUser")
		defer span.End()

		if err := d.store.DeleteRequestsByUser(ctx, id); err != nil {
			return fmt.Errorf("cascade requests: %w", err)
		}
		if err := d.store.DeleteUser(ctx, id); err != nil {
			return fmt.Errorf("delete user after cascade: %w", err)
		}
		return nil
	})
}

// AddRequest files a material request for userID, capturing the owner's
// current name and phone as the denormalized copy.
func (d *DataStore) AddRequest(ctx context.Context, userID string, req request.CreateRequest) (request.RequestItem, error) {
	var item request.RequestItem

	err := d.prom.ObserveMutation("add_request", func() error {
		ctx, span := d.tracer.Start(ctx, "datastore.AddRequest")
		defer span.End()

		owner, ok := d.UserByID(userID)
		if !ok {
			return ErrUnknownUser
		}

		item = request.RequestItem{
			ID:               uuid.NewString(),
			UserID:           owner.ID,
			UserName:         owner.FullName,
			UserPhone:        owner.PhoneNumber,
			Subject:          req.Subject,
			Unit:             req.Unit,
			Type:             req.Type,
			MaterialCategory: req.MaterialCategory,
			AttachedFileName: req.AttachedFileName,
			Description:      req.Description,
			Status:           request.StatusPending,
			CreatedAt:        time.Now().UnixMilli(),
		}
		return d.store.InsertRequest(ctx, item)
	})
	if err != nil {
		return request.RequestItem{}, err
	}
	return item, nil
}

// UpdateRequest applies a partial update to one request.
func (d *DataStore) UpdateRequest(ctx context.Context, id string, patch request.Patch) error {
	return d.prom.ObserveMutation("update_request", func() error {
		ctx, span := d.tracer.Start(ctx, "datastore.UpdateRequest")
		defer span.End()

		if patch.Empty() {
			return nil
		}
		return d.store.UpdateRequest(ctx, id, patch)
	})
}
