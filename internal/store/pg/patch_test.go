package pg

import (
	"reflect"
	"testing"

	"github.com/apfiles/apfiles/internal/domain/user"
)

func TestSetClausesSkipsNilFields(t *testing.T) {
	name := "Ann Park"
	role := user.RoleBuilder

	sets, args := setClauses(2,
		clause{`"fullName"`, strPtrArg(&name)},
		clause{`"phoneNumber"`, strPtrArg(nil)},
		clause{"role", rolePtrArg(&role)},
	)

	wantSets := []string{`"fullName" = $2`, "role = $3"}
	if !reflect.DeepEqual(sets, wantSets) {
		t.Fatalf("sets = %v, want %v", sets, wantSets)
	}

	wantArgs := []any{"Ann Park", "BUILDER"}
	if !reflect.DeepEqual(args, wantArgs) {
		t.Fatalf("args = %v, want %v", args, wantArgs)
	}
}

func TestSetClausesEmptyPatch(t *testing.T) {
	sets, args := setClauses(2,
		clause{`"fullName"`, strPtrArg(nil)},
		clause{"role", rolePtrArg(nil)},
	)
	if len(sets) != 0 || len(args) != 0 {
		t.Fatalf("empty patch should produce no clauses, got %v / %v", sets, args)
	}
}
