// Package pg is the remote persistence adapter: per-row CRUD against
// Postgres plus a change feed built on LISTEN/NOTIFY. Row triggers
// (deploy/schema.sql) publish a JSON envelope for every insert, update
// and delete, so subscribers see every writer's mutations, including an
// echo of their own.
package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/apfiles/apfiles/internal/domain/request"
	"github.com/apfiles/apfiles/internal/domain/user"
	"github.com/apfiles/apfiles/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const changeChannel = "apfiles_changes"

type Store struct {
	pool    *pgxpool.Pool
	connStr string
	log     *slog.Logger
}

func New(ctx context.Context, connStr string, log *slog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &Store{pool: pool, connStr: connStr, log: log}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) FetchUsers(ctx context.Context) ([]user.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, "fullName", "phoneNumber", role FROM users`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []user.User
	for rows.Next() {
		var u user.User
		if err := rows.Scan(&u.ID, &u.FullName, &u.PhoneNumber, &u.Role); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) FetchRequests(ctx context.Context) ([]request.RequestItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, "userId", "userName", "userPhone", subject, unit, type,
		        COALESCE("materialCategory", ''), COALESCE("attachedFileName", ''),
		        COALESCE(description, ''), status, "createdAt"
		 FROM requests
		 ORDER BY "createdAt" ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []request.RequestItem
	for rows.Next() {
		var r request.RequestItem
		err := rows.Scan(&r.ID, &r.UserID, &r.UserName, &r.UserPhone, &r.Subject,
			&r.Unit, &r.Type, &r.MaterialCategory, &r.AttachedFileName,
			&r.Description, &r.Status, &r.CreatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) UpsertUser(ctx context.Context, u user.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, "fullName", "phoneNumber", role)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		 SET "fullName" = EXCLUDED."fullName",
		     "phoneNumber" = EXCLUDED."phoneNumber",
		     role = EXCLUDED.role`,
		u.ID, u.FullName, u.PhoneNumber, u.Role)
	return err
}

func (s *Store) UpdateUser(ctx context.Context, id string, patch user.Patch) error {
	sets, args := setClauses(2,
		clause{`"fullName"`, strPtrArg(patch.FullName)},
		clause{`"phoneNumber"`, strPtrArg(patch.PhoneNumber)},
		clause{"role", rolePtrArg(patch.Role)},
	)
	if len(sets) == 0 {
		return nil
	}

	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE users SET %s WHERE id = $1`, strings.Join(sets, ", ")),
		append([]any{id}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return user.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return s.deleteWhere(ctx, "users", "id", id)
}

func (s *Store) InsertRequest(ctx context.Context, r request.RequestItem) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO requests
		   (id, "userId", "userName", "userPhone", subject, unit, type,
		    "materialCategory", "attachedFileName", description, status, "createdAt")
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11, $12)`,
		r.ID, r.UserID, r.UserName, r.UserPhone, r.Subject, r.Unit, r.Type,
		string(r.MaterialCategory), r.AttachedFileName, r.Description, r.Status, r.CreatedAt)
	return err
}

func (s *Store) UpdateRequest(ctx context.Context, id string, patch request.Patch) error {
	sets, args := setClauses(2,
		clause{`"userName"`, strPtrArg(patch.UserName)},
		clause{`"userPhone"`, strPtrArg(patch.UserPhone)},
		clause{"unit", strPtrArg(patch.Unit)},
		clause{`"materialCategory"`, categoryPtrArg(patch.MaterialCategory)},
		clause{`"attachedFileName"`, strPtrArg(patch.AttachedFileName)},
		clause{"description", strPtrArg(patch.Description)},
		clause{"status", statusPtrArg(patch.Status)},
	)
	if len(sets) == 0 {
		return nil
	}

	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE requests SET %s WHERE id = $1`, strings.Join(sets, ", ")),
		append([]any{id}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return request.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteRequestsByUser(ctx context.Context, userID string) error {
	return s.deleteWhere(ctx, "requests", "userId", userID)
}

// SyncOwner relies on the backend applying the rewrite to all matching
// rows in one statement.
func (s *Store) SyncOwner(ctx context.Context, userID, name, phone string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE requests SET "userName" = $2, "userPhone" = $3 WHERE "userId" = $1`,
		userID, name, phone)
	return err
}

// deleteWhere bulk-deletes rows matching a single column equality.
// Table and column names come from compiled-in call sites only.
func (s *Store) deleteWhere(ctx context.Context, table, column string, value any) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE %q = $1`, table, column), value)
	return err
}

// Subscribe opens a dedicated LISTEN connection and delivers decoded
// change envelopes to fn in notification order until cancelled.
func (s *Store) Subscribe(ctx context.Context, fn store.OnChange) (store.CancelFunc, error) {
	if fn == nil {
		return nil, errors.New("pg: nil change callback")
	}

	subCtx, cancel := context.WithCancel(ctx)

	conn, err := pgx.Connect(subCtx, s.connStr)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open listen connection: %w", err)
	}

	if _, err := conn.Exec(subCtx, "LISTEN "+changeChannel); err != nil {
		cancel()
		conn.Close(context.Background())
		return nil, fmt.Errorf("listen %s: %w", changeChannel, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer conn.Close(context.Background())

		for {
			n, err := conn.WaitForNotification(subCtx)
			if err != nil {
				if subCtx.Err() != nil {
					return
				}
				s.log.Error("change feed closed", "err", err)
				return
			}

			var ev store.ChangeEvent
			if err := json.Unmarshal([]byte(n.Payload), &ev); err != nil {
				s.log.Warn("dropping undecodable change event", "err", err)
				continue
			}
			if !ev.Type.Valid() {
				s.log.Warn("dropping change event with unknown type", "type", ev.Type, "table", ev.Table)
				continue
			}
			fn(ev)
		}
	}()

	return func() {
		cancel()
		<-done
	}, nil
}
