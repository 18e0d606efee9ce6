package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Transaction failure reasons that are worth retrying.
const (
	ReasonUniqueViolation      = "unique_violation"
	ReasonSerializationFailure = "serialization_failure"
	ReasonDeadlock             = "deadlock"
	ReasonLockTimeout          = "lock_timeout"
	ReasonBusy                 = "busy"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	// PostgreSQL (error code 23505)
	if hasPGCode(err, "23505") {
		return true
	}
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// ClassifyTxErr returns the retry reason for err, or "" when err is not transient.
func ClassifyTxErr(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case IsDuplicateKeyErr(err):
		return ReasonUniqueViolation
	case hasPGCode(err, "40001"):
		return ReasonSerializationFailure
	case hasPGCode(err, "40P01"), strings.Contains(err.Error(), "Error 1213"):
		return ReasonDeadlock
	case hasPGCode(err, "55P03"), strings.Contains(err.Error(), "Error 1205"):
		return ReasonLockTimeout
	case strings.Contains(err.Error(), "database is locked"),
		strings.Contains(err.Error(), "database table is locked"):
		return ReasonBusy
	}
	return ""
}

// IsRetryableTxErr reports whether re-running the whole transaction may succeed.
func IsRetryableTxErr(err error) bool {
	return ClassifyTxErr(err) != ""
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
