// Package database opens the daemon's embedded SQLite store and keeps its
// schema current.
package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/inkwellhq/inkwell-sync/internal/model"
)

// OpenSQLite establishes a SQLite connection, performs schema migrations,
// and recovers state left behind by an unclean shutdown.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&model.Note{}, &model.Folder{}, &model.NoteUpdate{}, &model.SyncRecord{},
		&model.PendingImageUpload{}, &model.SyncErrorRecord{}, &model.AppState{},
		&model.SearchEntry{}, &migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := recoverStuckUploads(db); err != nil && logger != nil {
		logger.Warn("upload recovery failed", zap.Error(err))
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}
	return db, nil
}

// recoverStuckUploads requeues uploads that were mid-flight when the previous
// process died. Entries marked uploading are otherwise invisible to the due
// query and would never retry.
func recoverStuckUploads(db *gorm.DB) error {
	return db.Model(&model.PendingImageUpload{}).
		Where("status = ?", model.UploadStatusUploading.String()).
		Update("status", model.UploadStatusPending.String()).Error
}
