// Package students manages directory entries on top of the generic record
// store.
package students

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/matebook/internal/records"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingRunner = errors.New("students: runner is required")
	errBlankName     = errors.New("name must not be blank")
)

var noOpLogger = zap.NewNop()

// byNameWhitelist guards UpdateByName. The predicate column is reserved so a
// caller cannot rename the entry it addresses. The avatar URL is owned by the
// upload flow and the folded name follows the name, so neither is writable.
var byNameWhitelist = records.MustWhitelist([]string{
	ColumnEmail,
	ColumnPhone,
	ColumnAddress,
	ColumnWeChat,
	ColumnQQ,
	ColumnPosition,
	ColumnComments,
}, ColumnName)

const byNamePredicate = ColumnName + " = ?"

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
	opServiceNew   = "students.service.new"
	opCreate       = "students.create"
	opUpdate       = "students.update"
	opUpdateByName = "students.update_by_name"
	opRemoveByName = "students.remove_by_name"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig wires the service to a unit-of-work runner.
type ServiceConfig struct {
	Runner records.Runner
	Logger *zap.Logger
}

// Service exposes directory operations.
type Service struct {
	store  *records.Store[Student, StudentCreate, StudentUpdate]
	logger *zap.Logger
}

// NewService constructs the directory service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Runner == nil {
		return nil, newServiceError(opServiceNew, "missing_runner", errMissingRunner)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	store, err := records.NewStore[Student, StudentCreate, StudentUpdate](records.StoreConfig[Student, StudentCreate]{
		Runner: cfg.Runner,
		Schema: records.Schema[Student, StudentCreate]{
			Table:   tableStudents,
			Columns: mutableColumns,
			NewRow:  newStudent,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, newServiceError(opServiceNew, "invalid_schema", err)
	}
	return &Service{store: store, logger: logger}, nil
}

// List returns entries matching filter, ordered by identity.
func (s *Service) List(ctx context.Context, page records.Page, filter Filter) ([]Student, error) {
	return s.store.GetMulti(ctx, page, filter.scopes()...)
}

// Get returns one entry or an error wrapping records.ErrNotFound.
func (s *Service) Get(ctx context.Context, id int64) (Student, error) {
	return s.store.Get(ctx, id)
}

// Create validates input and stores a new entry. Values are stored as sent.
// avatarURL is stored verbatim and may be nil.
func (s *Service) Create(ctx context.Context, input StudentCreate, avatarURL *string) (Student, error) {
	input = input.normalized()
	if err := records.Validate(input); err != nil {
		return Student{}, newServiceError(opCreate, "invalid_input", err)
	}
	if isBlank(input.Name) {
		return Student{}, newServiceError(opCreate, "invalid_input", fmt.Errorf("%w: %v", records.ErrInvalidInput, errBlankName))
	}
	return s.store.Create(ctx, input, func(row *Student) {
		row.AvatarURL = avatarURL
	})
}

// Update applies the fields input explicitly sets. The avatar URL changes only
// when avatarURL is non-nil; there is no way to clear it here.
func (s *Service) Update(ctx context.Context, id int64, input StudentUpdate, avatarURL *string) (Student, error) {
	updated, _, err := s.UpdateWithAvatar(ctx, id, input, avatarURL)
	return updated, err
}

// UpdateWithAvatar behaves like Update and also returns the avatar URL the
// update displaced, read in the same transaction as the write. It is nil when
// no new avatar was given or the old one is unchanged.
func (s *Service) UpdateWithAvatar(ctx context.Context, id int64, input StudentUpdate, avatarURL *string) (Student, *string, error) {
	input = input.normalized()
	if err := records.Validate(input); err != nil {
		return Student{}, nil, newServiceError(opUpdate, "invalid_input", err)
	}
	if input.Name.Set && (input.Name.Value == nil || isBlank(*input.Name.Value)) {
		return Student{}, nil, newServiceError(opUpdate, "invalid_input", fmt.Errorf("%w: %v", records.ErrInvalidInput, errBlankName))
	}
	extra := records.Changes{}
	if input.Name.Set {
		extra[columnNameFolded] = FoldName(*input.Name.Value)
	}
	if avatarURL != nil {
		extra[ColumnAvatarURL] = *avatarURL
	}
	previous, updated, err := s.store.UpdateWithPrevious(ctx, id, input, extra)
	if err != nil {
		return Student{}, nil, err
	}
	if avatarURL == nil || previous.AvatarURL == nil || *previous.AvatarURL == *avatarURL {
		return updated, nil, nil
	}
	return updated, previous.AvatarURL, nil
}

// Remove deletes the entry and returns its last state.
func (s *Service) Remove(ctx context.Context, id int64) (Student, error) {
	return s.store.Remove(ctx, id)
}

// UpdateByName applies changes to every entry called exactly name through the
// whitelisted dynamic update. Keys outside the whitelist, including name and
// id, are dropped and reported.
func (s *Service) UpdateByName(ctx context.Context, name string, changes records.Changes) (records.UpdateResult, error) {
	if isBlank(name) {
		return records.UpdateResult{}, newServiceError(opUpdateByName, "invalid_input", fmt.Errorf("%w: %v", records.ErrInvalidInput, errBlankName))
	}
	return s.store.UpdateWhere(ctx, byNameWhitelist, changes, byNamePredicate, name)
}

// RemoveByName deletes every entry called exactly name and returns their last
// states in identity order. No match wraps records.ErrNotFound.
func (s *Service) RemoveByName(ctx context.Context, name string) ([]Student, error) {
	if isBlank(name) {
		return nil, newServiceError(opRemoveByName, "invalid_input", fmt.Errorf("%w: %v", records.ErrInvalidInput, errBlankName))
	}
	return s.store.RemoveWhere(ctx, byNamePredicate, name)
}

func (f Filter) scopes() []records.Filter {
	filters := make([]records.Filter, 0, 3)
	if name := strings.TrimSpace(f.Name); name != "" {
		pattern := "%" + escapeLike(FoldName(name)) + "%"
		filters = append(filters, func(db *gorm.DB) *gorm.DB {
			return db.Where(columnNameFolded+" LIKE ? ESCAPE '\\'", pattern)
		})
	}
	if position := strings.TrimSpace(f.Position); position != "" {
		filters = append(filters, func(db *gorm.DB) *gorm.DB {
			return db.Where(ColumnPosition+" = ?", position)
		})
	}
	if email := strings.TrimSpace(f.Email); email != "" {
		filters = append(filters, func(db *gorm.DB) *gorm.DB {
			return db.Where(ColumnEmail+" = ?", email)
		})
	}
	return filters
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(value string) string {
	return likeEscaper.Replace(value)
}
