// Package users manages password accounts on top of the generic record store.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/matebook/internal/auth"
	"github.com/MarcoPoloResearchLab/matebook/internal/records"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrUsernameTaken indicates another account already uses the username.
	ErrUsernameTaken = fmt.Errorf("%w: username already registered", records.ErrConstraintViolation)
	// ErrEmailTaken indicates another account already uses the email.
	ErrEmailTaken = fmt.Errorf("%w: email already registered", records.ErrConstraintViolation)
	// ErrInvalidCredentials indicates the username or password did not match.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrInactiveUser indicates the account exists but is disabled.
	ErrInactiveUser = errors.New("users: inactive user")

	errMissingRunner = errors.New("users: runner is required")
	errClearPassword = errors.New("password cannot be cleared")
)

var noOpLogger = zap.NewNop()

// ServiceError wraps failures raised by the service itself with a stable code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew   = "users.service.new"
	opCreate       = "users.create"
	opUpdate       = "users.update"
	opAuthenticate = "users.authenticate"
	opHashPassword = "users.hash_password"
	opCheckTaken   = "users.check_taken"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies required for account management.
type ServiceConfig struct {
	Runner records.Runner
	Logger *zap.Logger
}

// Service manages accounts and password authentication.
type Service struct {
	store  *records.Store[User, UserCreate, UserUpdate]
	logger *zap.Logger
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Runner == nil {
		return nil, newServiceError(opServiceNew, "missing_runner", errMissingRunner)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	store, err := records.NewStore[User, UserCreate, UserUpdate](records.StoreConfig[User, UserCreate]{
		Runner: cfg.Runner,
		Schema: records.Schema[User, UserCreate]{
			Table:   tableUsers,
			Columns: mutableColumns,
			NewRow:  newUser,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, newServiceError(opServiceNew, "invalid_schema", err)
	}
	return &Service{store: store, logger: logger}, nil
}

// Create registers an account. Taken usernames and emails fail with
// ErrUsernameTaken and ErrEmailTaken.
func (s *Service) Create(ctx context.Context, input UserCreate) (User, error) {
	input = input.normalized()
	if err := records.Validate(input); err != nil {
		return User{}, newServiceError(opCreate, "invalid_input", err)
	}
	if err := s.ensureAvailable(ctx, input.Username, input.Email, 0); err != nil {
		return User{}, err
	}
	hashed, err := auth.HashPassword(input.Password)
	if err != nil {
		s.logError(opHashPassword, "hash_failed", err)
		return User{}, newServiceError(opCreate, "hash_failed", err)
	}
	return s.store.Create(ctx, input, func(row *User) {
		row.HashedPassword = hashed
	})
}

// Get returns the account with id.
func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	return s.store.Get(ctx, id)
}

// GetByUsername returns the account registered under username.
func (s *Service) GetByUsername(ctx context.Context, username string) (User, error) {
	return s.store.FindOne(ctx, equals(columnUsername, strings.TrimSpace(username)))
}

// GetByEmail returns the account registered under email.
func (s *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	return s.store.FindOne(ctx, equals(columnEmail, strings.TrimSpace(email)))
}

// Authenticate returns the active account matching username and password.
func (s *Service) Authenticate(ctx context.Context, username, password string) (User, error) {
	user, err := s.GetByUsername(ctx, username)
	if errors.Is(err, records.ErrNotFound) {
		auth.RejectPassword(password)
		return User{}, newServiceError(opAuthenticate, "invalid_credentials", ErrInvalidCredentials)
	}
	if err != nil {
		return User{}, err
	}
	if !auth.VerifyPassword(user.HashedPassword, password) {
		return User{}, newServiceError(opAuthenticate, "invalid_credentials", ErrInvalidCredentials)
	}
	if !user.IsActive {
		return User{}, newServiceError(opAuthenticate, "inactive_user", ErrInactiveUser)
	}
	return user, nil
}

// Update applies the fields input explicitly sets. A new password replaces the
// stored hash.
func (s *Service) Update(ctx context.Context, id int64, input UserUpdate) (User, error) {
	input = input.normalized()
	if err := records.Validate(input); err != nil {
		return User{}, newServiceError(opUpdate, "invalid_input", err)
	}
	extra := records.Changes{}
	if input.Password.Set {
		if input.Password.Value == nil {
			return User{}, newServiceError(opUpdate, "invalid_input", fmt.Errorf("%w: %v", records.ErrInvalidInput, errClearPassword))
		}
		hashed, err := auth.HashPassword(*input.Password.Value)
		if err != nil {
			s.logError(opHashPassword, "hash_failed", err)
			return User{}, newServiceError(opUpdate, "hash_failed", err)
		}
		extra[columnHashedPassword] = hashed
	}
	if input.Email.Set && input.Email.Value != nil {
		if err := s.ensureAvailable(ctx, "", input.Email.Value, id); err != nil {
			return User{}, err
		}
	}
	return s.store.Update(ctx, id, input, extra)
}

func (s *Service) ensureAvailable(ctx context.Context, username string, email *string, ownerID int64) error {
	if username != "" {
		existing, err := s.GetByUsername(ctx, username)
		if err == nil && existing.ID != ownerID {
			return newServiceError(opCheckTaken, "username_taken", ErrUsernameTaken)
		}
		if err != nil && !errors.Is(err, records.ErrNotFound) {
			return err
		}
	}
	if email != nil {
		existing, err := s.GetByEmail(ctx, *email)
		if err == nil && existing.ID != ownerID {
			return newServiceError(opCheckTaken, "email_taken", ErrEmailTaken)
		}
		if err != nil && !errors.Is(err, records.ErrNotFound) {
			return err
		}
	}
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("user service error", attrs...)
}

func equals(column, value string) records.Filter {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(column+" = ?", value)
	}
}
