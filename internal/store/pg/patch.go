package pg

import (
	"fmt"

	"github.com/apfiles/apfiles/internal/domain/request"
	"github.com/apfiles/apfiles/internal/domain/user"
)

// clause pairs a column with its patch value. A nil value means the
// field was omitted from the patch and the column is left untouched.
type clause struct {
	column string
	value  any
}

// setClauses builds the SET fragments and args for a partial update.
// Placeholder numbering starts at start ($1 is reserved for the row id).
func setClauses(start int, clauses ...clause) ([]string, []any) {
	var sets []string
	var args []any

	pos := start
	for _, c := range clauses {
		if c.value == nil {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", c.column, pos))
		args = append(args, c.value)
		pos++
	}
	return sets, args
}

func strPtrArg(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func rolePtrArg(p *user.Role) any {
	if p == nil {
		return nil
	}
	return string(*p)
}

func statusPtrArg(p *request.Status) any {
	if p == nil {
		return nil
	}
	return string(*p)
}

func categoryPtrArg(p *request.MaterialCategory) any {
	if p == nil {
		return nil
	}
	return string(*p)
}
