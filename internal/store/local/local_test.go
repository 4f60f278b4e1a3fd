package local_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/apfiles/apfiles/internal/domain/request"
	"github.com/apfiles/apfiles/internal/domain/user"
	"github.com/apfiles/apfiles/internal/store"
	"github.com/apfiles/apfiles/internal/store/local"
)

func newStore(t *testing.T) (*local.Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := local.New(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s, dir
}

func TestRoundTrip(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	u := user.User{ID: "u1", FullName: "Ann Lee", PhoneNumber: "0501234567", Role: user.RoleStudent}
	if err := s.UpsertUser(ctx, u); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	users, err := s.FetchUsers(ctx)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(users) != 1 || users[0] != u {
		t.Fatalf("round trip mismatch: %+v", users)
	}
}

func TestMissingBlobReadsAsEmpty(t *testing.T) {
	s, _ := newStore(t)

	users, err := s.FetchUsers(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(users) != 0 {
		t.Fatalf("expected empty collection, got %+v", users)
	}
}

func TestCorruptBlobReadsAsEmpty(t *testing.T) {
	s, dir := newStore(t)

	path := filepath.Join(dir, "apfiles_requests.json")
	if err := os.WriteFile(path, []byte(`{"not":"a list"`), 0o644); err != nil {
		t.Fatalf("write corrupt blob: %v", err)
	}

	items, err := s.FetchRequests(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected empty collection, got %+v", items)
	}
}

func TestMutationsEmitSynchronously(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	var events []store.ChangeEvent
	cancel, err := s.Subscribe(ctx, func(ev store.ChangeEvent) {
		events = append(events, ev)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	u := user.User{ID: "u1", FullName: "Ann Lee", PhoneNumber: "0501234567", Role: user.RoleStudent}
	if err := s.UpsertUser(ctx, u); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// the event must have been delivered before UpsertUser returned
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Table != store.TableUsers || events[0].Type != store.EventInsert {
		t.Fatalf("unexpected event: %+v", events[0])
	}

	if err := s.UpsertUser(ctx, u); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if len(events) != 2 || events[1].Type != store.EventUpdate {
		t.Fatalf("upsert of existing id should emit UPDATE, got %+v", events)
	}
}

func TestDeleteRequestsByUserEmitsPerRow(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	for _, r := range []request.RequestItem{
		{ID: "r1", UserID: "u1", Subject: request.SubjectMath, Status: request.StatusPending},
		{ID: "r2", UserID: "u1", Subject: request.SubjectEnglish, Status: request.StatusPending},
		{ID: "r3", UserID: "u2", Subject: request.SubjectMath, Status: request.StatusPending},
	} {
		if err := s.InsertRequest(ctx, r); err != nil {
			t.Fatalf("insert %s: %v", r.ID, err)
		}
	}

	var deletes int
	cancel, err := s.Subscribe(ctx, func(ev store.ChangeEvent) {
		if ev.Type == store.EventDelete {
			deletes++
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if err := s.DeleteRequestsByUser(ctx, "u1"); err != nil {
		t.Fatalf("delete by user: %v", err)
	}
	if deletes != 2 {
		t.Fatalf("got %d DELETE events, want 2", deletes)
	}

	items, err := s.FetchRequests(ctx)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 1 || items[0].ID != "r3" {
		t.Fatalf("other user's request should survive, got %+v", items)
	}
}

func TestUpdateUnknownIDReturnsNotFound(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	name := "Ann Park"
	if err := s.UpdateUser(ctx, "missing", user.Patch{FullName: &name}); !errors.Is(err, user.ErrNotFound) {
		t.Fatalf("got %v, want user.ErrNotFound", err)
	}
	if err := s.UpdateRequest(ctx, "missing", request.Patch{Unit: &name}); !errors.Is(err, request.ErrNotFound) {
		t.Fatalf("got %v, want request.ErrNotFound", err)
	}
}

func TestStateSurvivesReopen(t *testing.T) {
	s, dir := newStore(t)
	ctx := context.Background()

	u := user.User{ID: "u1", FullName: "Ann Lee", PhoneNumber: "0501234567", Role: user.RoleStudent}
	if err := s.UpsertUser(ctx, u); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	reopened, err := local.New(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	users, err := reopened.FetchUsers(ctx)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(users) != 1 || users[0] != u {
		t.Fatalf("state lost across reopen: %+v", users)
	}
}
