package database

import (
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/inkwellhq/inkwell-sync/internal/model"
)

func TestApplyMigrationsBackfillsSearchEntries(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&model.Note{}, &model.SearchEntry{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	note := model.Note{
		DocID:            "doc-legacy",
		Title:            "Legacy note",
		PlainText:        "written before the index existed",
		FolderID:         "main",
		TagsJSON:         "[]",
		CircleIDsJSON:    "[]",
		RecipientsJSON:   "[]",
		CreatedAtSeconds: 1700000000,
		UpdatedAtSeconds: 1700000100,
	}
	if err := database.Create(&note).Error; err != nil {
		testContext.Fatalf("failed to insert note: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var entry model.SearchEntry
	if err := database.Where("doc_id = ?", note.DocID).Take(&entry).Error; err != nil {
		testContext.Fatalf("expected backfilled search entry: %v", err)
	}
	if entry.Title != note.Title || entry.PlainText != note.PlainText {
		testContext.Fatalf("unexpected entry state: %+v", entry)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationBackfillSearchEntries).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	// Applying twice is a no-op and must not duplicate the entry.
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("second apply failed: %v", err)
	}
	var count int64
	if err := database.Model(&model.SearchEntry{}).Count(&count).Error; err != nil {
		testContext.Fatalf("failed to count entries: %v", err)
	}
	if count != 1 {
		testContext.Fatalf("expected one entry, got %d", count)
	}
}

func TestOpenSQLiteRecoversStuckUploads(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "recovery.db")

	seed, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := seed.AutoMigrate(&model.PendingImageUpload{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	upload := model.PendingImageUpload{
		UploadID:         "up-stuck",
		DocID:            "doc-1",
		Blob:             []byte{1},
		ContentType:      "image/png",
		Status:           model.UploadStatusUploading.String(),
		CreatedAtSeconds: 1700000000,
	}
	if err := seed.Create(&upload).Error; err != nil {
		testContext.Fatalf("failed to seed upload: %v", err)
	}

	database, err := OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}

	var recovered model.PendingImageUpload
	if err := database.Where("upload_id = ?", upload.UploadID).Take(&recovered).Error; err != nil {
		testContext.Fatalf("failed to reload upload: %v", err)
	}
	if recovered.Status != model.UploadStatusPending.String() {
		testContext.Fatalf("expected upload requeued, got %q", recovered.Status)
	}
}
