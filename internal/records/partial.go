package records

import (
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"
)

// Whitelist is the fixed set of columns a dynamic update may modify.
type Whitelist struct {
	columns map[string]struct{}
}

// NewWhitelist builds a whitelist from columns. It fails when a column is the
// identity, the creation timestamp, or one of the reserved predicate columns.
func NewWhitelist(columns []string, reserved ...string) (Whitelist, error) {
	blocked := map[string]struct{}{IDColumn: {}, CreatedAtColumn: {}}
	for _, column := range reserved {
		blocked[strings.ToLower(strings.TrimSpace(column))] = struct{}{}
	}
	allowed := make(map[string]struct{}, len(columns))
	for _, column := range columns {
		normalized := strings.ToLower(strings.TrimSpace(column))
		if normalized == "" {
			continue
		}
		if _, ok := blocked[normalized]; ok {
			return Whitelist{}, fmt.Errorf("%w: %s", ErrReservedColumn, normalized)
		}
		allowed[normalized] = struct{}{}
	}
	return Whitelist{columns: allowed}, nil
}

// MustWhitelist is NewWhitelist for package-level declarations.
func MustWhitelist(columns []string, reserved ...string) Whitelist {
	whitelist, err := NewWhitelist(columns, reserved...)
	if err != nil {
		panic(err)
	}
	return whitelist
}

// Allows reports whether column may be updated.
func (w Whitelist) Allows(column string) bool {
	_, ok := w.columns[column]
	return ok
}

// Columns returns the whitelisted columns in sorted order.
func (w Whitelist) Columns() []string {
	columns := make([]string, 0, len(w.columns))
	for column := range w.columns {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	return columns
}

// Assignment is a parameterized SET fragment with its ordered arguments.
type Assignment struct {
	Fragment string
	Args     []any
	Columns  []string
	Dropped  []string
}

// BuildAssignments keeps the whitelisted keys of changes, in sorted order, as
// "column = ?" terms. Keys outside the whitelist are reported in Dropped.
// When nothing survives it returns ErrNoEligibleFields together with the
// partial Assignment so callers can still report what was dropped.
func BuildAssignments(whitelist Whitelist, changes Changes) (Assignment, error) {
	keys := make([]string, 0, len(changes))
	for key := range changes {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	assignment := Assignment{}
	terms := make([]string, 0, len(keys))
	for _, key := range keys {
		if !whitelist.Allows(key) {
			assignment.Dropped = append(assignment.Dropped, key)
			continue
		}
		terms = append(terms, key+" = ?")
		assignment.Args = append(assignment.Args, changes[key])
		assignment.Columns = append(assignment.Columns, key)
	}
	if len(terms) == 0 {
		return assignment, ErrNoEligibleFields
	}
	assignment.Fragment = strings.Join(terms, ", ")
	return assignment, nil
}

// Exec runs UPDATE table SET fragment WHERE predicate and returns the number
// of affected rows. table and predicate must be code constants.
func (a Assignment) Exec(tx *gorm.DB, table, predicate string, predicateArgs ...any) (int64, error) {
	if a.Fragment == "" {
		return 0, ErrNoEligibleFields
	}
	statement := fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, a.Fragment, predicate)
	args := make([]any, 0, len(a.Args)+len(predicateArgs))
	args = append(args, a.Args...)
	args = append(args, predicateArgs...)
	result := tx.Exec(statement, args...)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
