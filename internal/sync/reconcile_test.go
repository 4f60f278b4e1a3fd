package sync_test

import (
	"encoding/json"
	"testing"

	"github.com/apfiles/apfiles/internal/domain/user"
	"github.com/apfiles/apfiles/internal/store"
	syncx "github.com/apfiles/apfiles/internal/sync"
)

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func decodeUser(t *testing.T, ev store.ChangeEvent) syncx.Event[user.User] {
	t.Helper()
	decoded, err := syncx.Decode[user.User](ev)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return decoded
}

func TestApply_InsertThenDuplicateInsertIsNoop(t *testing.T) {
	u := user.User{ID: "u1", FullName: "Ann Lee", PhoneNumber: "0501234567", Role: user.RoleStudent}

	ev := decodeUser(t, store.ChangeEvent{
		Table:     store.TableUsers,
		Type:      store.EventInsert,
		NewRecord: mustJSON(t, u),
	})

	items, outcome := syncx.Apply(nil, ev)
	if outcome != syncx.OutcomeApplied {
		t.Fatalf("first insert outcome = %q, want applied", outcome)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items after insert, want 1", len(items))
	}

	items, outcome = syncx.Apply(items, ev)
	if outcome != syncx.OutcomeDuplicate {
		t.Fatalf("replayed insert outcome = %q, want duplicate", outcome)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items after replay, want 1", len(items))
	}
	if items[0] != u {
		t.Fatalf("record mutated by duplicate insert: %+v", items[0])
	}
}

func TestApply_UpdateReplacesWholesale(t *testing.T) {
	items := []user.User{
		{ID: "u1", FullName: "Ann Lee", PhoneNumber: "0501234567", Role: user.RoleStudent},
		{ID: "u2", FullName: "Bo Chen", PhoneNumber: "0509999999", Role: user.RoleStudent},
	}

	updated := user.User{ID: "u1", FullName: "Ann Park", PhoneNumber: "0501234567", Role: user.RoleStudent}
	ev := decodeUser(t, store.ChangeEvent{
		Table:     store.TableUsers,
		Type:      store.EventUpdate,
		NewRecord: mustJSON(t, updated),
		OldRecord: mustJSON(t, items[0]),
	})

	items, outcome := syncx.Apply(items, ev)
	if outcome != syncx.OutcomeApplied {
		t.Fatalf("outcome = %q, want applied", outcome)
	}
	if items[0] != updated {
		t.Fatalf("got %+v, want wholesale replacement %+v", items[0], updated)
	}
	if items[1].ID != "u2" {
		t.Fatalf("unrelated record disturbed: %+v", items[1])
	}
}

func TestApply_UpdateForUnknownRecordAppends(t *testing.T) {
	remote := user.User{ID: "u9", FullName: "Remote Writer", PhoneNumber: "0500000009", Role: user.RoleStudent}
	ev := decodeUser(t, store.ChangeEvent{
		Table:     store.TableUsers,
		Type:      store.EventUpdate,
		NewRecord: mustJSON(t, remote),
	})

	items, outcome := syncx.Apply(nil, ev)
	if outcome != syncx.OutcomeApplied {
		t.Fatalf("outcome = %q, want applied", outcome)
	}
	if len(items) != 1 || items[0] != remote {
		t.Fatalf("update for unknown record should append, got %+v", items)
	}
}

func TestApply_DeleteRemovesAndReplaySkips(t *testing.T) {
	u := user.User{ID: "u1", FullName: "Ann Lee", PhoneNumber: "0501234567", Role: user.RoleStudent}
	ev := decodeUser(t, store.ChangeEvent{
		Table:     store.TableUsers,
		Type:      store.EventDelete,
		OldRecord: mustJSON(t, u),
	})

	items, outcome := syncx.Apply([]user.User{u}, ev)
	if outcome != syncx.OutcomeApplied {
		t.Fatalf("outcome = %q, want applied", outcome)
	}
	if len(items) != 0 {
		t.Fatalf("got %d items after delete, want 0", len(items))
	}

	items, outcome = syncx.Apply(items, ev)
	if outcome != syncx.OutcomeSkipped {
		t.Fatalf("replayed delete outcome = %q, want skipped", outcome)
	}
	if len(items) != 0 {
		t.Fatalf("replayed delete changed the collection: %+v", items)
	}
}

func TestDecode_RejectsMalformedEnvelopes(t *testing.T) {
	cases := []struct {
		name string
		ev   store.ChangeEvent
	}{
		{"unknown type", store.ChangeEvent{Type: "TRUNCATE"}},
		{"insert without payload", store.ChangeEvent{Type: store.EventInsert}},
		{"delete without old record", store.ChangeEvent{Type: store.EventDelete}},
		{"unparsable payload", store.ChangeEvent{Type: store.EventInsert, NewRecord: json.RawMessage(`{"id":`)}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := syncx.Decode[user.User](tc.ev); err == nil {
				t.Fatalf("expected decode error for %s", tc.name)
			}
		})
	}
}
