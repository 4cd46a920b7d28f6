package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	ErrDuplicate = errors.New("duplicate record")
	ErrNotFound  = errors.New("record not found")
	// ErrStaleStatus means a guarded status update matched no row: the
	// entity was already moved past the expected status by someone else.
	ErrStaleStatus = errors.New("stale status")
)

// Postgres class 23 integrity constraint violations.
// https://github.com/jackc/pgerrcode/blob/master/errcode.go
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// Store is the storage layer for the settlement pipeline. All uniqueness
// invariants live in the schema; Store maps driver errors to domain errors.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for transaction composition in tests.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return ErrDuplicate
		case foreignKeyViolation:
			return err
		}
	}
	return err
}
