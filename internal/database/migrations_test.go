package database

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/matebook/internal/students"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMigrateImportsLegacyNoteTable(testContext *testing.T) {
	gateway, err := Open(context.Background(), Config{
		Driver: DriverSQLite,
		Path:   filepath.Join(testContext.TempDir(), "legacy.db"),
	}, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open gateway: %v", err)
	}
	defer gateway.Close()
	database := gateway.DB()

	createLegacy := `CREATE TABLE note (
		name TEXT,
		tel TEXT,
		wechat_id TEXT,
		qq_id TEXT,
		personal_motto TEXT,
		comment_on_me TEXT,
		photo_url TEXT
	)`
	if err := database.Exec(createLegacy).Error; err != nil {
		testContext.Fatalf("failed to create legacy table: %v", err)
	}
	insertLegacy := `INSERT INTO note (name, tel, wechat_id, qq_id, personal_motto, comment_on_me, photo_url) VALUES (?, ?, ?, ?, ?, ?, ?)`
	if err := database.Exec(insertLegacy, "Li Wei", "13800000000", "liwei", "10001", "Stay curious", "Great teammate", "https://cdn.example.com/li.png").Error; err != nil {
		testContext.Fatalf("failed to insert legacy row: %v", err)
	}
	if err := database.Exec(insertLegacy, "  ", nil, nil, nil, nil, nil, nil).Error; err != nil {
		testContext.Fatalf("failed to insert blank legacy row: %v", err)
	}
	if err := database.Exec(insertLegacy, "Anna", nil, nil, nil, "Carpe diem", nil, nil).Error; err != nil {
		testContext.Fatalf("failed to insert legacy row: %v", err)
	}
	if err := database.Exec(insertLegacy, "Ängel", "+86 138 0000 0000 ext 42", nil, nil, nil, nil, nil).Error; err != nil {
		testContext.Fatalf("failed to insert legacy row: %v", err)
	}

	core, logs := observer.New(zapcore.InfoLevel)
	if err := Migrate(database, zap.New(core)); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	importLogs := logs.FilterMessage("legacy directory imported").All()
	if len(importLogs) != 1 {
		testContext.Fatalf("expected one import summary, got %d", len(importLogs))
	}
	summary := importLogs[0].ContextMap()
	if summary["imported"] != int64(3) || summary["skipped"] != int64(1) || summary["truncated"] != int64(1) {
		testContext.Fatalf("unexpected import summary %v", summary)
	}

	var imported []students.Student
	if err := database.Order("id").Find(&imported).Error; err != nil {
		testContext.Fatalf("failed to load imported students: %v", err)
	}
	if len(imported) != 3 {
		testContext.Fatalf("expected 3 imported students, got %d", len(imported))
	}

	first := imported[0]
	if first.Name != "Li Wei" || first.Phone == nil || *first.Phone != "13800000000" {
		testContext.Fatalf("unexpected first import %+v", first)
	}
	if first.WeChat == nil || *first.WeChat != "liwei" || first.QQ == nil || *first.QQ != "10001" {
		testContext.Fatalf("expected messenger ids to be carried over, got %+v", first)
	}
	if first.AvatarURL == nil || *first.AvatarURL != "https://cdn.example.com/li.png" {
		testContext.Fatalf("expected photo url to become avatar url, got %v", first.AvatarURL)
	}
	if first.Comments == nil || !strings.Contains(*first.Comments, "Great teammate") || !strings.Contains(*first.Comments, "Stay curious") {
		testContext.Fatalf("expected comment and motto to be merged, got %v", first.Comments)
	}
	if first.CreatedAt.IsZero() {
		testContext.Fatalf("expected created_at to be assigned")
	}

	second := imported[1]
	if second.Comments == nil || *second.Comments != "Motto: Carpe diem" {
		testContext.Fatalf("expected motto-only comment, got %v", second.Comments)
	}

	third := imported[2]
	if third.Phone == nil || *third.Phone != "+86 138 0000 0000 ex" {
		testContext.Fatalf("expected phone cut to 20 runes, got %v", third.Phone)
	}
	if third.NameFolded != "ängel" {
		testContext.Fatalf("expected folded name, got %q", third.NameFolded)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationImportLegacyNoteTable).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	if err := Migrate(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to re-apply migrations: %v", err)
	}
	var count int64
	if err := database.Model(&students.Student{}).Count(&count).Error; err != nil {
		testContext.Fatalf("failed to count students: %v", err)
	}
	if count != 3 {
		testContext.Fatalf("expected migration to run once, got %d students", count)
	}
}

func TestMigrateWithoutLegacyTable(testContext *testing.T) {
	gateway, err := Open(context.Background(), Config{
		Driver: DriverSQLite,
		Path:   filepath.Join(testContext.TempDir(), "fresh.db"),
	}, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open gateway: %v", err)
	}
	defer gateway.Close()

	if err := Migrate(gateway.DB(), zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}
	var record migrationRecord
	if err := gateway.DB().Where("name = ?", migrationImportLegacyNoteTable).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration to be recorded even without legacy data: %v", err)
	}
}

func TestMergeLegacyComments(testContext *testing.T) {
	comment := "Kind"
	blank := "   "
	if merged := mergeLegacyComments(nil, nil); merged != nil {
		testContext.Fatalf("expected nil, got %q", *merged)
	}
	if merged := mergeLegacyComments(&comment, &blank); merged == nil || *merged != "Kind" {
		testContext.Fatalf("expected comment only, got %v", merged)
	}
	if got, cut := truncate("ab中文", 3); got != "ab中" || !cut {
		testContext.Fatalf("expected rune-aware truncation, got %q (cut %v)", got, cut)
	}
	if got, cut := truncate("ab中", 3); got != "ab中" || cut {
		testContext.Fatalf("expected value within limit to be kept, got %q (cut %v)", got, cut)
	}
}

func TestMigrateBackfillsFoldedNames(testContext *testing.T) {
	gateway, err := Open(context.Background(), Config{
		Driver: DriverSQLite,
		Path:   filepath.Join(testContext.TempDir(), "backfill.db"),
	}, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open gateway: %v", err)
	}
	defer gateway.Close()
	database := gateway.DB()

	if err := Migrate(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}
	insert := `INSERT INTO students (name, name_folded, created_at) VALUES (?, '', ?)`
	if err := database.Exec(insert, "Öland", time.Now().UTC()).Error; err != nil {
		testContext.Fatalf("failed to insert unfolded row: %v", err)
	}
	if err := database.Where("name = ?", migrationBackfillNameFolded).Delete(&migrationRecord{}).Error; err != nil {
		testContext.Fatalf("failed to reset migration record: %v", err)
	}

	if err := Migrate(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to re-apply migrations: %v", err)
	}
	var row students.Student
	if err := database.Where("name = ?", "Öland").Take(&row).Error; err != nil {
		testContext.Fatalf("failed to load row: %v", err)
	}
	if row.NameFolded != "öland" {
		testContext.Fatalf("expected folded name to be backfilled, got %q", row.NameFolded)
	}
}
