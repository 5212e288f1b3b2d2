package records

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrNotFound reports that no record matched. It is a query outcome, not a fault.
	ErrNotFound = errors.New("records: not found")
	// ErrConstraintViolation reports a rejected write (uniqueness, not-null).
	ErrConstraintViolation = errors.New("records: constraint violation")
	// ErrNoEligibleFields reports that no proposed change survived the whitelist.
	ErrNoEligibleFields = errors.New("records: no eligible fields")
	// ErrInvalidInput reports input that failed validation before reaching the store.
	ErrInvalidInput = errors.New("records: invalid input")
	// ErrReservedColumn reports a whitelist that names an identity or predicate column.
	ErrReservedColumn = errors.New("records: reserved column in whitelist")

	errMissingRunner = errors.New("records: runner is required")
	errMissingSchema = errors.New("records: schema table and row constructor are required")
)

// StoreError carries a stable code of the form records.<operation>.<reason>.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

// Code exposes the stable error code, safe to return to clients.
func (e *StoreError) Code() string {
	return e.code
}

func newStoreError(operation, reason string, cause error) error {
	code := fmt.Sprintf("records.%s.%s", operation, reason)
	return &StoreError{code: code, err: cause}
}

// classify maps a driver or gorm error onto the store's taxonomy and returns
// the reason used in the error code.
func classify(err error) (string, error) {
	switch {
	case err == nil:
		return "", nil
	case errors.Is(err, ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return "not_found", ErrNotFound
	case isConnectFailure(err):
		return "connect_failed", err
	case errors.Is(err, ErrNoEligibleFields):
		return "no_eligible_fields", err
	case errors.Is(err, ErrConstraintViolation):
		return "constraint_violation", err
	case IsConstraintViolation(err):
		return "constraint_violation", fmt.Errorf("%w: %v", ErrConstraintViolation, err)
	default:
		return "query_failed", err
	}
}

// connectFailure is implemented by gateway errors raised before any
// statement ran.
type connectFailure interface {
	ConnectFailure() string
}

func isConnectFailure(err error) bool {
	var failure connectFailure
	return errors.As(err, &failure)
}

// IsConstraintViolation recognises uniqueness and not-null failures from
// PostgreSQL (SQLSTATE) and SQLite (message text).
func IsConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation, pgerrcode.NotNullViolation, pgerrcode.CheckViolation:
			return true
		}
		return false
	}
	message := err.Error()
	return strings.Contains(message, "UNIQUE constraint failed") ||
		strings.Contains(message, "NOT NULL constraint failed") ||
		strings.Contains(message, "CHECK constraint failed")
}
