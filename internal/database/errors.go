package database

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// FailureKind classifies why a connection could not be obtained.
type FailureKind string

const (
	// MissingCredential means a required secret was absent; no I/O was attempted.
	MissingCredential FailureKind = "missing_credential"
	// Unreachable means the server could not be reached in time.
	Unreachable FailureKind = "unreachable"
	// AuthRejected means the server refused the supplied credentials.
	AuthRejected FailureKind = "auth_rejected"
)

// ErrConnect matches every ConnectError via errors.Is.
var ErrConnect = errors.New("database: connect failure")

var (
	errMissingDriver   = errors.New("database: driver is required")
	errMissingPath     = errors.New("database: sqlite path is required")
	errMissingPassword = errors.New("database: password is not set")
)

// ConnectError is returned when the gateway cannot hand out a connection.
type ConnectError struct {
	Kind FailureKind
	Err  error
}

func (e *ConnectError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("database: connect failure (%s)", e.Kind)
	}
	return fmt.Sprintf("database: connect failure (%s): %v", e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Is lets callers test errors.Is(err, ErrConnect).
func (e *ConnectError) Is(target error) bool {
	return target == ErrConnect
}

// ConnectFailure exposes the kind to packages that cannot import this one.
func (e *ConnectError) ConnectFailure() string {
	return string(e.Kind)
}

// FailureKindOf returns the kind of a ConnectError anywhere in err's chain.
func FailureKindOf(err error) (FailureKind, bool) {
	var connectErr *ConnectError
	if errors.As(err, &connectErr) {
		return connectErr.Kind, true
	}
	return "", false
}

func classifyConnectError(err error) error {
	if err == nil {
		return nil
	}
	var existing *ConnectError
	if errors.As(err, &existing) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.InvalidPassword, pgerrcode.InvalidAuthorizationSpecification:
			return &ConnectError{Kind: AuthRejected, Err: err}
		}
	}
	return &ConnectError{Kind: Unreachable, Err: err}
}
