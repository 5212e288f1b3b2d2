package records

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opGet         = "get"
	opGetMulti    = "get_multi"
	opFindOne     = "find_one"
	opCreate      = "create"
	opUpdate      = "update"
	opUpdateWhere = "update_where"
	opRemove      = "remove"
	opRemoveWhere = "remove_where"
)

var noOpLogger = zap.NewNop()

// Schema describes the table a Store manages.
type Schema[R Record, C any] struct {
	// Table is the physical table name used by the dynamic update path.
	Table string
	// Columns lists the columns Update may modify.
	Columns []string
	// NewRow maps a create input onto a fresh row.
	NewRow func(C) R
}

// StoreConfig wires a Store to its runner.
type StoreConfig[R Record, C any] struct {
	Runner Runner
	Schema Schema[R, C]
	Logger *zap.Logger
}

// UpdateResult reports the outcome of a whitelist-driven update.
type UpdateResult struct {
	RowsAffected int64
	Columns      []string
	Dropped      []string
}

// Store provides get/get-multi/create/update/remove over one table. R is the
// row shape, C the create input and U the update input.
type Store[R Record, C any, U ChangeSet] struct {
	runner    Runner
	schema    Schema[R, C]
	whitelist Whitelist
	logger    *zap.Logger
}

// NewStore validates the schema and builds its update whitelist.
func NewStore[R Record, C any, U ChangeSet](cfg StoreConfig[R, C]) (*Store[R, C, U], error) {
	if cfg.Runner == nil {
		return nil, errMissingRunner
	}
	if cfg.Schema.Table == "" || cfg.Schema.NewRow == nil {
		return nil, errMissingSchema
	}
	whitelist, err := NewWhitelist(cfg.Schema.Columns)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store[R, C, U]{
		runner:    cfg.Runner,
		schema:    cfg.Schema,
		whitelist: whitelist,
		logger:    logger,
	}, nil
}

// Get returns the record with the given identity.
func (s *Store[R, C, U]) Get(ctx context.Context, id int64) (R, error) {
	var row R
	err := s.runner.Do(ctx, func(tx *gorm.DB) error {
		return tx.Take(&row, id).Error
	})
	if err != nil {
		var zero R
		return zero, s.fail(opGet, err, zap.Int64("id", id))
	}
	return row, nil
}

// GetMulti returns records matching every filter, ordered by identity, after
// applying the page window.
func (s *Store[R, C, U]) GetMulti(ctx context.Context, page Page, filters ...Filter) ([]R, error) {
	page = page.normalized()
	rows := make([]R, 0)
	err := s.runner.Do(ctx, func(tx *gorm.DB) error {
		return tx.Scopes(asScopes(filters)...).
			Order(clause.OrderByColumn{Column: clause.Column{Name: IDColumn}}).
			Offset(page.Skip).
			Limit(page.Limit).
			Find(&rows).Error
	})
	if err != nil {
		return nil, s.fail(opGetMulti, err, zap.Int("skip", page.Skip), zap.Int("limit", page.Limit))
	}
	return rows, nil
}

// FindOne returns the lowest-identity record matching every filter.
func (s *Store[R, C, U]) FindOne(ctx context.Context, filters ...Filter) (R, error) {
	var row R
	err := s.runner.Do(ctx, func(tx *gorm.DB) error {
		return tx.Scopes(asScopes(filters)...).
			Order(clause.OrderByColumn{Column: clause.Column{Name: IDColumn}}).
			Take(&row).Error
	})
	if err != nil {
		var zero R
		return zero, s.fail(opFindOne, err)
	}
	return row, nil
}

// Create inserts a row built from input. Decorators set side fields that are
// not part of the create input. The stored row is re-read before returning.
func (s *Store[R, C, U]) Create(ctx context.Context, input C, decorators ...func(*R)) (R, error) {
	row := s.schema.NewRow(input)
	for _, decorate := range decorators {
		decorate(&row)
	}
	var stored R
	err := s.runner.Do(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return tx.Take(&stored, row.RecordID()).Error
	})
	if err != nil {
		var zero R
		return zero, s.fail(opCreate, err)
	}
	return stored, nil
}

// Update applies the columns input explicitly sets, plus extra side columns,
// to the record. Columns absent from both keep their value. An empty change
// set returns the record untouched.
func (s *Store[R, C, U]) Update(ctx context.Context, id int64, input U, extra Changes) (R, error) {
	_, stored, err := s.UpdateWithPrevious(ctx, id, input, extra)
	return stored, err
}

// UpdateWithPrevious behaves like Update and also returns the row as it was
// read under the lock, before the change was applied.
func (s *Store[R, C, U]) UpdateWithPrevious(ctx context.Context, id int64, input U, extra Changes) (R, R, error) {
	changes := input.Changes().Merge(extra)
	var previous, stored R
	err := s.runner.Do(ctx, func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&previous, id).Error; err != nil {
			return err
		}
		if len(changes) == 0 {
			stored = previous
			return nil
		}
		assignment, err := BuildAssignments(s.whitelist, changes)
		s.reportDropped(opUpdate, assignment.Dropped, zap.Int64("id", id))
		if errors.Is(err, ErrNoEligibleFields) {
			stored = previous
			return nil
		}
		if _, err := assignment.Exec(tx, s.schema.Table, IDColumn+" = ?", id); err != nil {
			return err
		}
		return tx.Take(&stored, id).Error
	})
	if err != nil {
		var zero R
		return zero, zero, s.fail(opUpdate, err, zap.Int64("id", id))
	}
	return previous, stored, nil
}

// UpdateWhere is the raw dynamic update: changes are reduced to whitelist and
// applied to every row matching predicate. The predicate must be a code
// constant whose columns are reserved in the whitelist. Zero affected rows is
// reported as ErrNotFound; a change set with no whitelisted key executes no
// statement and returns ErrNoEligibleFields.
func (s *Store[R, C, U]) UpdateWhere(ctx context.Context, whitelist Whitelist, changes Changes, predicate string, args ...any) (UpdateResult, error) {
	assignment, err := BuildAssignments(whitelist, changes)
	s.reportDropped(opUpdateWhere, assignment.Dropped)
	result := UpdateResult{Columns: assignment.Columns, Dropped: assignment.Dropped}
	if err != nil {
		return result, newStoreError(opUpdateWhere, "no_eligible_fields", err)
	}

	err = s.runner.Do(ctx, func(tx *gorm.DB) error {
		affected, err := assignment.Exec(tx, s.schema.Table, predicate, args...)
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrNotFound
		}
		result.RowsAffected = affected
		return nil
	})
	if err != nil {
		return result, s.fail(opUpdateWhere, err)
	}
	return result, nil
}

// Remove deletes the record and returns its last state.
func (s *Store[R, C, U]) Remove(ctx context.Context, id int64) (R, error) {
	var snapshot R
	err := s.runner.Do(ctx, func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&snapshot, id).Error; err != nil {
			return err
		}
		result := tx.Delete(&snapshot)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		var zero R
		return zero, s.fail(opRemove, err, zap.Int64("id", id))
	}
	return snapshot, nil
}

// RemoveWhere deletes every row matching predicate and returns their last
// state in identity order. The predicate must be a code constant. No match is
// reported as ErrNotFound.
func (s *Store[R, C, U]) RemoveWhere(ctx context.Context, predicate string, args ...any) ([]R, error) {
	snapshots := make([]R, 0)
	err := s.runner.Do(ctx, func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(predicate, args...).
			Order(clause.OrderByColumn{Column: clause.Column{Name: IDColumn}}).
			Find(&snapshots).Error
		if err != nil {
			return err
		}
		if len(snapshots) == 0 {
			return ErrNotFound
		}
		var model R
		return tx.Where(predicate, args...).Delete(&model).Error
	})
	if err != nil {
		return nil, s.fail(opRemoveWhere, err)
	}
	return snapshots, nil
}

func (s *Store[R, C, U]) fail(operation string, err error, fields ...zap.Field) error {
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return err
	}
	reason, classified := classify(err)
	if !errors.Is(classified, ErrNotFound) {
		s.logError(operation, reason, err, fields...)
	}
	return newStoreError(operation, reason, classified)
}

func (s *Store[R, C, U]) reportDropped(operation string, dropped []string, fields ...zap.Field) {
	if len(dropped) == 0 {
		return
	}
	attrs := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("table", s.schema.Table),
		zap.Strings("dropped_columns", dropped),
	}, fields...)
	s.logger.Warn("update skipped non-whitelisted columns", attrs...)
}

func (s *Store[R, C, U]) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("table", s.schema.Table),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("record store error", attrs...)
}

func asScopes(filters []Filter) []func(*gorm.DB) *gorm.DB {
	scopes := make([]func(*gorm.DB) *gorm.DB, 0, len(filters))
	for _, filter := range filters {
		if filter != nil {
			scopes = append(scopes, filter)
		}
	}
	return scopes
}
