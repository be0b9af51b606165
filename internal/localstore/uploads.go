package localstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/inkwellhq/inkwell-sync/internal/model"
)

const (
	opCreateUpload   = "localstore.create_pending_upload"
	opGetUpload      = "localstore.get_pending_upload"
	opListDueUploads = "localstore.list_due_uploads"
	opUpdateUpload   = "localstore.update_pending_upload"
	opDeleteUpload   = "localstore.delete_pending_upload"
	opDeleteUploads  = "localstore.delete_uploads_for_note"
)

// CreatePendingUpload enqueues a new attachment upload.
func (s *Store) CreatePendingUpload(ctx context.Context, upload model.PendingImageUpload) error {
	if upload.CreatedAtSeconds == 0 {
		upload.CreatedAtSeconds = s.clock().UTC().Unix()
	}
	if upload.Status == "" {
		upload.Status = model.UploadStatusPending.String()
	}
	if err := s.db.WithContext(ctx).Create(&upload).Error; err != nil {
		s.logError(opCreateUpload, reasonSaveFail, err, zap.String("upload_id", upload.UploadID))
		return newStoreError(opCreateUpload, reasonSaveFail, err)
	}
	return nil
}

// GetPendingUpload loads one queue entry, or ErrNotFound.
func (s *Store) GetPendingUpload(ctx context.Context, uploadID string) (model.PendingImageUpload, error) {
	var upload model.PendingImageUpload
	err := s.db.WithContext(ctx).Where("upload_id = ?", uploadID).Take(&upload).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.PendingImageUpload{}, fmt.Errorf("%w: upload %s", ErrNotFound, uploadID)
	}
	if err != nil {
		s.logError(opGetUpload, reasonQueryFail, err, zap.String("upload_id", uploadID))
		return model.PendingImageUpload{}, newStoreError(opGetUpload, reasonQueryFail, err)
	}
	return upload, nil
}

// ListDueUploads returns queue entries whose retry deadline has elapsed,
// oldest first. Entries mid-flight are excluded.
func (s *Store) ListDueUploads(ctx context.Context, now time.Time) ([]model.PendingImageUpload, error) {
	var uploads []model.PendingImageUpload
	if err := s.db.WithContext(ctx).
		Where("status <> ? AND next_retry_s <= ?", model.UploadStatusUploading.String(), now.UTC().Unix()).
		Order("created_at_s ASC").
		Find(&uploads).Error; err != nil {
		s.logError(opListDueUploads, reasonQueryFail, err)
		return nil, newStoreError(opListDueUploads, reasonQueryFail, err)
	}
	return uploads, nil
}

// UpdatePendingUpload saves queue-entry state transitions.
func (s *Store) UpdatePendingUpload(ctx context.Context, upload model.PendingImageUpload) error {
	if err := s.db.WithContext(ctx).Save(&upload).Error; err != nil {
		s.logError(opUpdateUpload, reasonSaveFail, err, zap.String("upload_id", upload.UploadID))
		return newStoreError(opUpdateUpload, reasonSaveFail, err)
	}
	return nil
}

// DeletePendingUpload removes a queue entry after a successful upload.
func (s *Store) DeletePendingUpload(ctx context.Context, uploadID string) error {
	if err := s.db.WithContext(ctx).
		Where("upload_id = ?", uploadID).
		Delete(&model.PendingImageUpload{}).Error; err != nil {
		s.logError(opDeleteUpload, reasonSaveFail, err, zap.String("upload_id", uploadID))
		return newStoreError(opDeleteUpload, reasonSaveFail, err)
	}
	return nil
}

// DeleteUploadsForNote drops every queued upload owned by a deleted note.
func (s *Store) DeleteUploadsForNote(ctx context.Context, docID model.NoteID) error {
	if err := s.db.WithContext(ctx).
		Where("doc_id = ?", docID.String()).
		Delete(&model.PendingImageUpload{}).Error; err != nil {
		s.logError(opDeleteUploads, reasonSaveFail, err, zap.String("doc_id", docID.String()))
		return newStoreError(opDeleteUploads, reasonSaveFail, err)
	}
	return nil
}
