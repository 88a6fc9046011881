package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gochat/models"
)

// ErrUnavailable indicates a storage-engine-level failure (quota,
// corruption, unreachable file). Callers degrade to remote-only
// operation rather than treating it as data absence. Absence itself is
// always an empty result, never an error.
var ErrUnavailable = errors.New("storage: unavailable")

func validateKind(kind string) error {
	if !models.ValidKind(kind) {
		return fmt.Errorf("invalid message kind %q", kind)
	}
	return nil
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func nullInt64(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}

func stringValue(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return ns.String
}

func int64Value(ni sql.NullInt64) int64 {
	if !ni.Valid {
		return 0
	}
	return ni.Int64
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
