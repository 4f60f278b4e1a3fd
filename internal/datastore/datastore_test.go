package datastore_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/apfiles/apfiles/internal/datastore"
	"github.com/apfiles/apfiles/internal/domain/request"
	"github.com/apfiles/apfiles/internal/domain/user"
	"github.com/apfiles/apfiles/internal/observability"
	"github.com/apfiles/apfiles/internal/store/local"
	"github.com/prometheus/client_golang/prometheus"
)

func newDataStore(t *testing.T) *datastore.DataStore {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := local.New(t.TempDir(), log)
	if err != nil {
		t.Fatalf("new local store: %v", err)
	}

	ds := datastore.New(st, log, observability.NewProm(prometheus.NewRegistry()))
	if err := ds.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(ds.Close)

	return ds
}

func registerStudent(t *testing.T, ds *datastore.DataStore, name, phone string) user.User {
	t.Helper()
	u, err := ds.RegisterUser(context.Background(), user.RegisterRequest{
		FullName:    name,
		PhoneNumber: phone,
	})
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return u
}

func TestRegisterThenSubmitRequest(t *testing.T) {
	ds := newDataStore(t)
	ctx := context.Background()

	before := time.Now().UnixMilli()
	ann := registerStudent(t, ds, "Ann Lee", "0501234567")

	if ann.Role != user.RoleStudent {
		t.Fatalf("registered role = %q, want STUDENT", ann.Role)
	}
	if got, ok := ds.UserByPhone("0501234567"); !ok || got.ID != ann.ID {
		t.Fatalf("registered user not visible by phone: %+v ok=%v", got, ok)
	}

	item, err := ds.AddRequest(ctx, ann.ID, request.CreateRequest{
		Subject: request.SubjectMath,
		Unit:    "Unit 3",
		Type:    request.TypeNotes,
	})
	if err != nil {
		t.Fatalf("add request: %v", err)
	}

	if item.Status != request.StatusPending {
		t.Fatalf("new request status = %q, want PENDING", item.Status)
	}
	if item.UserName != "Ann Lee" || item.UserPhone != "0501234567" {
		t.Fatalf("owner fields not denormalized: %+v", item)
	}
	if item.CreatedAt < before {
		t.Fatalf("createdAt %d predates registration time %d", item.CreatedAt, before)
	}

	reqs := ds.Requests()
	if len(reqs) != 1 || reqs[0].ID != item.ID {
		t.Fatalf("request not in collection: %+v", reqs)
	}
}

func TestUpdateUserPropagatesToOwnRequestsOnly(t *testing.T) {
	ds := newDataStore(t)
	ctx := context.Background()

	ann := registerStudent(t, ds, "Ann Lee", "0501234567")
	bo := registerStudent(t, ds, "Bo Chen", "0509999999")

	for _, id := range []string{ann.ID, bo.ID} {
		if _, err := ds.AddRequest(ctx, id, request.CreateRequest{
			Subject: request.SubjectMath,
			Unit:    "Unit 1",
			Type:    request.TypeNotes,
		}); err != nil {
			t.Fatalf("add request for %s: %v", id, err)
		}
	}

	newName := "Ann Park"
	if err := ds.UpdateUserPartial(ctx, ann.ID, user.Patch{FullName: &newName}); err != nil {
		t.Fatalf("update user: %v", err)
	}

	for _, r := range ds.Requests() {
		switch r.UserID {
		case ann.ID:
			if r.UserName != "Ann Park" {
				t.Fatalf("owner rename not propagated: %+v", r)
			}
			if r.UserPhone != "0501234567" {
				t.Fatalf("untouched phone changed: %+v", r)
			}
		case bo.ID:
			if r.UserName != "Bo Chen" {
				t.Fatalf("other user's request disturbed: %+v", r)
			}
		}
	}
}

func TestRoleOnlyPatchLeavesRequestsUntouched(t *testing.T) {
	ds := newDataStore(t)
	ctx := context.Background()

	ann := registerStudent(t, ds, "Ann Lee", "0501234567")
	if _, err := ds.AddRequest(ctx, ann.ID, request.CreateRequest{
		Subject: request.SubjectScience,
		Unit:    "Unit 2",
		Type:    request.TypeUpload,
	}); err != nil {
		t.Fatalf("add request: %v", err)
	}

	role := user.RoleBuilder
	if err := ds.UpdateUserPartial(ctx, ann.ID, user.Patch{Role: &role}); err != nil {
		t.Fatalf("update role: %v", err)
	}

	got, _ := ds.UserByID(ann.ID)
	if got.Role != user.RoleBuilder {
		t.Fatalf("role not updated: %+v", got)
	}

	reqs := ds.Requests()
	if reqs[0].UserName != "Ann Lee" || reqs[0].UserPhone != "0501234567" {
		t.Fatalf("role-only patch touched denormalized fields: %+v", reqs[0])
	}
}

func TestDeleteUserCascades(t *testing.T) {
	ds := newDataStore(t)
	ctx := context.Background()

	ann := registerStudent(t, ds, "Ann Lee", "0501234567")
	bo := registerStudent(t, ds, "Bo Chen", "0509999999")

	for i := 0; i < 2; i++ {
		if _, err := ds.AddRequest(ctx, ann.ID, request.CreateRequest{
			Subject: request.SubjectHistory,
			Unit:    "Unit 4",
			Type:    request.TypeNotes,
		}); err != nil {
			t.Fatalf("add request: %v", err)
		}
	}
	if _, err := ds.AddRequest(ctx, bo.ID, request.CreateRequest{
		Subject: request.SubjectMath,
		Unit:    "Unit 1",
		Type:    request.TypeNotes,
	}); err != nil {
		t.Fatalf("add request: %v", err)
	}

	if err := ds.DeleteUser(ctx, ann.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}

	if _, ok := ds.UserByID(ann.ID); ok {
		t.Fatalf("deleted user still present")
	}
	reqs := ds.Requests()
	if len(reqs) != 1 || reqs[0].UserID != bo.ID {
		t.Fatalf("cascade removed wrong requests: %+v", reqs)
	}
}

func TestDuplicatePhoneRejected(t *testing.T) {
	ds := newDataStore(t)
	ctx := context.Background()

	registerStudent(t, ds, "Ann Lee", "0501234567")

	_, err := ds.RegisterUser(ctx, user.RegisterRequest{
		FullName:    "Impostor",
		PhoneNumber: "0501234567",
	})
	if !errors.Is(err, datastore.ErrPhoneTaken) {
		t.Fatalf("got %v, want ErrPhoneTaken", err)
	}
	if len(ds.Users()) != 1 {
		t.Fatalf("rejected registration changed the collection")
	}

	bo := registerStudent(t, ds, "Bo Chen", "0509999999")
	phone := "0501234567"
	if err := ds.UpdateUserPartial(ctx, bo.ID, user.Patch{PhoneNumber: &phone}); !errors.Is(err, datastore.ErrPhoneTaken) {
		t.Fatalf("got %v, want ErrPhoneTaken on patch", err)
	}
}

func TestAddRequestForUnknownUserRejected(t *testing.T) {
	ds := newDataStore(t)

	_, err := ds.AddRequest(context.Background(), "nope", request.CreateRequest{
		Subject: request.SubjectMath,
		Unit:    "Unit 1",
		Type:    request.TypeNotes,
	})
	if !errors.Is(err, datastore.ErrUnknownUser) {
		t.Fatalf("got %v, want ErrUnknownUser", err)
	}
	if len(ds.Requests()) != 0 {
		t.Fatalf("rejected request was stored")
	}
}

func TestUpdateUnknownUserReturnsNotFound(t *testing.T) {
	ds := newDataStore(t)

	name := "Ghost"
	err := ds.UpdateUserPartial(context.Background(), "nope", user.Patch{FullName: &name})
	if !errors.Is(err, user.ErrNotFound) {
		t.Fatalf("got %v, want user.ErrNotFound", err)
	}
}

func TestSubscriberSeesSnapshots(t *testing.T) {
	ds := newDataStore(t)

	var last datastore.Snapshot
	var calls int
	unsub := ds.Subscribe(func(s datastore.Snapshot) {
		last = s
		calls++
	})
	defer unsub()

	ann := registerStudent(t, ds, "Ann Lee", "0501234567")
	if calls == 0 {
		t.Fatalf("subscriber not invoked after mutation")
	}
	if len(last.Users) != 1 || last.Users[0].ID != ann.ID {
		t.Fatalf("snapshot missing registered user: %+v", last.Users)
	}

	// snapshots are copies: mutating one must not leak into the facade
	last.Users[0].FullName = "Mangled"
	if got, _ := ds.UserByID(ann.ID); got.FullName != "Ann Lee" {
		t.Fatalf("snapshot mutation leaked into facade: %+v", got)
	}

	before := calls
	unsub()
	registerStudent(t, ds, "Bo Chen", "0509999999")
	if calls != before {
		t.Fatalf("unsubscribed callback still invoked")
	}
}
