// Package localstore is the gorm-backed implementation of the engine's local
// capability interface: notes, folders, the append-only CRDT update log,
// per-entity sync records, the attachment retry queue, sync errors, the pull
// watermark, and the search index.
package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/inkwellhq/inkwell-sync/internal/model"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ErrNotFound indicates that the requested row does not exist.
var ErrNotFound = errors.New("localstore: not found")

const (
	opStoreNew      = "localstore.new"
	opGetNote       = "localstore.get_note"
	opUpsertNote    = "localstore.upsert_note"
	opDeleteNote    = "localstore.delete_note"
	opListFolder    = "localstore.list_notes_in_folder"
	opGetFolder     = "localstore.get_folder"
	opUpsertFolder  = "localstore.upsert_folder"
	opDeleteFolder  = "localstore.delete_folder"
	opEnsureMain    = "localstore.ensure_main_folder"
	reasonQueryFail = "query_failed"
	reasonSaveFail  = "save_failed"
)

// StoreError carries an operation.reason code alongside the cause.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code.
func (e *StoreError) Code() string {
	return e.code
}

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// StoreConfig describes the dependencies of a Store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Store provides keyed access to every locally persisted table.
type Store struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewStore validates the configuration and returns a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{db: cfg.Database, clock: clock, logger: logger}, nil
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("local store error", attrs...)
}

// GetNote loads a note row by document id.
func (s *Store) GetNote(ctx context.Context, docID model.NoteID) (model.Note, error) {
	var note model.Note
	err := s.db.WithContext(ctx).Where("doc_id = ?", docID.String()).Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Note{}, fmt.Errorf("%w: note %s", ErrNotFound, docID.String())
	}
	if err != nil {
		s.logError(opGetNote, reasonQueryFail, err, zap.String("doc_id", docID.String()))
		return model.Note{}, newStoreError(opGetNote, reasonQueryFail, err)
	}
	return note, nil
}

// UpsertNote saves a note row.
func (s *Store) UpsertNote(ctx context.Context, note model.Note) error {
	if err := s.db.WithContext(ctx).Save(&note).Error; err != nil {
		s.logError(opUpsertNote, reasonSaveFail, err, zap.String("doc_id", note.DocID))
		return newStoreError(opUpsertNote, reasonSaveFail, err)
	}
	return nil
}

// DeleteNote removes a note row. Missing rows are not an error.
func (s *Store) DeleteNote(ctx context.Context, docID model.NoteID) error {
	if err := s.db.WithContext(ctx).Where("doc_id = ?", docID.String()).Delete(&model.Note{}).Error; err != nil {
		s.logError(opDeleteNote, reasonSaveFail, err, zap.String("doc_id", docID.String()))
		return newStoreError(opDeleteNote, reasonSaveFail, err)
	}
	return nil
}

// ListNotesInFolder returns every note owned by the folder, via the folder
// index rather than a full scan.
func (s *Store) ListNotesInFolder(ctx context.Context, folderID model.FolderID) ([]model.Note, error) {
	var notes []model.Note
	if err := s.db.WithContext(ctx).Where("folder_id = ?", folderID.String()).Find(&notes).Error; err != nil {
		s.logError(opListFolder, reasonQueryFail, err, zap.String("folder_id", folderID.String()))
		return nil, newStoreError(opListFolder, reasonQueryFail, err)
	}
	return notes, nil
}

// GetFolder loads a folder row.
func (s *Store) GetFolder(ctx context.Context, folderID model.FolderID) (model.Folder, error) {
	var folder model.Folder
	err := s.db.WithContext(ctx).Where("folder_id = ?", folderID.String()).Take(&folder).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Folder{}, fmt.Errorf("%w: folder %s", ErrNotFound, folderID.String())
	}
	if err != nil {
		s.logError(opGetFolder, reasonQueryFail, err, zap.String("folder_id", folderID.String()))
		return model.Folder{}, newStoreError(opGetFolder, reasonQueryFail, err)
	}
	return folder, nil
}

// UpsertFolder saves a folder row.
func (s *Store) UpsertFolder(ctx context.Context, folder model.Folder) error {
	if err := s.db.WithContext(ctx).Save(&folder).Error; err != nil {
		s.logError(opUpsertFolder, reasonSaveFail, err, zap.String("folder_id", folder.FolderID))
		return newStoreError(opUpsertFolder, reasonSaveFail, err)
	}
	return nil
}

// DeleteFolder removes a folder row. Missing rows are not an error.
func (s *Store) DeleteFolder(ctx context.Context, folderID model.FolderID) error {
	if err := s.db.WithContext(ctx).Where("folder_id = ?", folderID.String()).Delete(&model.Folder{}).Error; err != nil {
		s.logError(opDeleteFolder, reasonSaveFail, err, zap.String("folder_id", folderID.String()))
		return newStoreError(opDeleteFolder, reasonSaveFail, err)
	}
	return nil
}

// EnsureMainFolder creates the distinguished main folder if it is missing.
func (s *Store) EnsureMainFolder(ctx context.Context) error {
	folder := model.Folder{FolderID: model.MainFolderID.String(), Name: "Notes"}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&folder).Error
	if err != nil {
		s.logError(opEnsureMain, reasonSaveFail, err)
		return newStoreError(opEnsureMain, reasonSaveFail, err)
	}
	return nil
}

// DecodeTags parses the tags column of a note row.
func DecodeTags(tagsJSON string) []string {
	if tagsJSON == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
		return nil
	}
	return tags
}

// EncodeTags serializes tags for the tags column.
func EncodeTags(tags []string) string {
	if tags == nil {
		tags = []string{}
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}
