// Package records implements a generic typed CRUD store over gorm with
// exclude-unset partial updates and a whitelist-based SET clause builder.
package records

import (
	"context"

	"gorm.io/gorm"
)

const (
	// IDColumn is the identity column shared by every record table.
	IDColumn = "id"
	// CreatedAtColumn is assigned by the store on create and never updated.
	CreatedAtColumn = "created_at"

	// DefaultLimit applies when a page does not specify a limit.
	DefaultLimit = 100
	// MaxLimit bounds every multi-record read.
	MaxLimit = 200
)

// Record is a persisted row with a store-assigned integer identity.
type Record interface {
	RecordID() int64
}

// Changes is a sparse column to value mapping. A nil value clears the column.
type Changes map[string]any

// ChangeSet renders an update input into the columns it explicitly sets.
type ChangeSet interface {
	Changes() Changes
}

// Filter narrows a query. Filters compose with logical AND.
type Filter func(*gorm.DB) *gorm.DB

// Runner executes one unit of work inside a single transaction.
type Runner interface {
	Do(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Page selects a window of an identity-ordered result set.
type Page struct {
	Skip  int
	Limit int
}

func (p Page) normalized() Page {
	if p.Skip < 0 {
		p.Skip = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}

// Merge returns a new change set holding the union of both, with other
// taking precedence.
func (c Changes) Merge(other Changes) Changes {
	merged := make(Changes, len(c)+len(other))
	for column, value := range c {
		merged[column] = value
	}
	for column, value := range other {
		merged[column] = value
	}
	return merged
}
