package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/matebook/internal/students"
	"github.com/MarcoPoloResearchLab/matebook/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationImportLegacyNoteTable = "2026-10-01_import_legacy_note_table"
	migrationBackfillNameFolded    = "2026-10-18_backfill_student_name_folded"

	legacyNoteTable  = "note"
	legacyImportSize = 100
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB, *zap.Logger) error
}

// Migrate brings the schema up to date and applies pending one-shot
// migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&students.Student{}, &users.User{}, &migrationRecord{}); err != nil {
		return fmt.Errorf("database: auto migrate: %w", err)
	}
	return applyMigrations(db, logger)
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationImportLegacyNoteTable, apply: importLegacyNoteTable},
		{name: migrationBackfillNameFolded, apply: backfillNameFolded},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx, logger); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return fmt.Errorf("database: migration %s: %w", migration.name, err)
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

// legacyNote is the row shape of the directory table kept by earlier
// deployments.
type legacyNote struct {
	Name          string  `gorm:"column:name"`
	Tel           *string `gorm:"column:tel"`
	WeChatID      *string `gorm:"column:wechat_id"`
	QQID          *string `gorm:"column:qq_id"`
	PersonalMotto *string `gorm:"column:personal_motto"`
	CommentOnMe   *string `gorm:"column:comment_on_me"`
	PhotoURL      *string `gorm:"column:photo_url"`
}

func importLegacyNoteTable(db *gorm.DB, logger *zap.Logger) error {
	if !db.Migrator().HasTable(legacyNoteTable) {
		return nil
	}
	var notes []legacyNote
	if err := db.Table(legacyNoteTable).Find(&notes).Error; err != nil {
		return err
	}

	rows := make([]students.Student, 0, len(notes))
	skipped := 0
	truncated := 0
	for _, note := range notes {
		name, nameCut := truncate(strings.TrimSpace(note.Name), 100)
		if name == "" {
			skipped++
			continue
		}
		phone, phoneCut := truncateOptional(note.Tel, 20)
		wechat, wechatCut := truncateOptional(note.WeChatID, 100)
		qq, qqCut := truncateOptional(note.QQID, 20)
		avatar, avatarCut := truncateOptional(note.PhotoURL, 512)
		if nameCut || phoneCut || wechatCut || qqCut || avatarCut {
			truncated++
		}
		rows = append(rows, students.Student{
			Name:       name,
			NameFolded: students.FoldName(name),
			Phone:      phone,
			WeChat:     wechat,
			QQ:         qq,
			Comments:   mergeLegacyComments(note.CommentOnMe, note.PersonalMotto),
			AvatarURL:  avatar,
		})
	}
	if len(rows) > 0 {
		if err := db.CreateInBatches(&rows, legacyImportSize).Error; err != nil {
			return err
		}
	}
	logger.Info("legacy directory imported",
		zap.Int("imported", len(rows)),
		zap.Int("skipped", skipped),
		zap.Int("truncated", truncated))
	return nil
}

// backfillNameFolded fills the folded name of entries written before the
// column existed.
func backfillNameFolded(db *gorm.DB, logger *zap.Logger) error {
	var rows []students.Student
	if err := db.Where("name_folded = ?", "").Find(&rows).Error; err != nil {
		return err
	}
	for _, row := range rows {
		folded := students.FoldName(row.Name)
		if err := db.Model(&students.Student{}).Where("id = ?", row.ID).Update("name_folded", folded).Error; err != nil {
			return err
		}
	}
	logger.Info("student folded names backfilled", zap.Int("updated", len(rows)))
	return nil
}

func mergeLegacyComments(comment, motto *string) *string {
	commentText := optionalText(comment)
	mottoText := optionalText(motto)
	switch {
	case commentText == "" && mottoText == "":
		return nil
	case mottoText == "":
		return &commentText
	case commentText == "":
		merged := "Motto: " + mottoText
		return &merged
	default:
		merged := commentText + "\n\nMotto: " + mottoText
		return &merged
	}
}

func optionalText(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}

func truncateOptional(value *string, limit int) (*string, bool) {
	text := optionalText(value)
	if text == "" {
		return nil, false
	}
	text, cut := truncate(text, limit)
	return &text, cut
}

// truncate keeps at most limit runes of value and reports whether any were
// cut.
func truncate(value string, limit int) (string, bool) {
	runes := []rune(value)
	if len(runes) <= limit {
		return value, false
	}
	return string(runes[:limit]), true
}
