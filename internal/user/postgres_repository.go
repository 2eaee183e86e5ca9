package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/christopherjohns/groupchat/internal/common"
	"github.com/christopherjohns/groupchat/internal/dbx"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgUniqueViolation is the SQLSTATE for unique constraint violations.
const pgUniqueViolation = "23505"

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, u *User) error {
	query :=
		`INSERT INTO users (username, password_hash)
		 VALUES ($1, $2)
		 RETURNING created_at
		 `

	err := r.db.QueryRowContext(ctx, query, u.Username, u.PasswordHash).Scan(&u.CreatedAt)
	if err != nil {
		if isPGUniqueViolation(err) {
			return fmt.Errorf("create user %q: %w", u.Username, common.ErrDuplicateUsername)
		}
		return fmt.Errorf("db error: %w: %w", common.ErrStorageUnavailable, err)
	}
	return nil
}

func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	query :=
		`SELECT username, password_hash, created_at FROM users
		 WHERE username = $1
		 `

	u := &User{}
	err := r.db.QueryRowContext(ctx, query, username).Scan(&u.Username, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrUserNotFound
		}
		return nil, fmt.Errorf("db error: %w: %w", common.ErrStorageUnavailable, err)
	}
	return u, nil
}

// isPGUniqueViolation reports whether err is a PostgreSQL unique constraint violation.
func isPGUniqueViolation(err error) bool {
	var pge *pgconn.PgError
	if errors.As(err, &pge) {
		return pge.Code == pgUniqueViolation
	}
	return false
}
