package records

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testRecord struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Name      string    `gorm:"column:name;not null"`
	Email     *string   `gorm:"column:email;uniqueIndex"`
	Phone     *string   `gorm:"column:phone"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (testRecord) TableName() string {
	return "test_records"
}

func (r testRecord) RecordID() int64 {
	return r.ID
}

type testCreate struct {
	Name  string
	Email *string
	Phone *string
}

type testUpdate struct {
	Name  Field[string]
	Email Field[string]
	Phone Field[string]
}

func (u testUpdate) Changes() Changes {
	changes := Changes{}
	u.Name.Put(changes, "name")
	u.Email.Put(changes, "email")
	u.Phone.Put(changes, "phone")
	return changes
}

// txRunner runs each unit of work in a gorm transaction and counts calls.
type txRunner struct {
	db    *gorm.DB
	calls int
}

func (r *txRunner) Do(ctx context.Context, fn func(tx *gorm.DB) error) error {
	r.calls++
	return r.db.WithContext(ctx).Transaction(fn)
}

func newTestStore(t *testing.T, logger *zap.Logger) (*Store[testRecord, testCreate, testUpdate], *txRunner) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "records.db")), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(&testRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	runner := &txRunner{db: db}
	store, err := NewStore[testRecord, testCreate, testUpdate](StoreConfig[testRecord, testCreate]{
		Runner: runner,
		Schema: Schema[testRecord, testCreate]{
			Table:   "test_records",
			Columns: []string{"name", "email", "phone"},
			NewRow: func(in testCreate) testRecord {
				return testRecord{Name: in.Name, Email: in.Email, Phone: in.Phone}
			},
		},
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return store, runner
}

func stringPointer(value string) *string {
	return &value
}
