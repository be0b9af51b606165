package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillSearchEntries = "2026-06-18_backfill_search_entries"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillSearchEntries, apply: backfillSearchEntries},
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
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillSearchEntries seeds the search index for notes created before the
// index table existed.
func backfillSearchEntries(db *gorm.DB) error {
	const insert = `
		INSERT INTO search_entries (doc_id, title, plain_text, folder_id, updated_at_s)
		SELECT n.doc_id, n.title, n.plain_text, n.folder_id, n.updated_at_s
		FROM notes n
		WHERE n.doc_id NOT IN (SELECT doc_id FROM search_entries);`
	return db.Exec(insert).Error
}
