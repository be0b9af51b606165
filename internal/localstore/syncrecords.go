package localstore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/inkwellhq/inkwell-sync/internal/model"
)

const (
	opGetSyncRecord    = "localstore.get_sync_record"
	opUpsertSyncRecord = "localstore.upsert_sync_record"
	opDeleteSyncRecord = "localstore.delete_sync_record"
	opListPending      = "localstore.list_pending_sync_records"
	opCountUnsynced    = "localstore.count_unsynced"
	opMarkSynced       = "localstore.mark_synced"
)

// GetSyncRecord loads the sync record for one entity, or ErrNotFound.
func (s *Store) GetSyncRecord(ctx context.Context, kind model.EntityKind, localID string) (model.SyncRecord, error) {
	var record model.SyncRecord
	err := s.db.WithContext(ctx).
		Where("entity_kind = ? AND local_id = ?", kind.String(), localID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.SyncRecord{}, fmt.Errorf("%w: sync record %s/%s", ErrNotFound, kind.String(), localID)
	}
	if err != nil {
		s.logError(opGetSyncRecord, reasonQueryFail, err,
			zap.String("entity_kind", kind.String()),
			zap.String("local_id", localID))
		return model.SyncRecord{}, newStoreError(opGetSyncRecord, reasonQueryFail, err)
	}
	return record, nil
}

// UpsertSyncRecord saves a sync record.
func (s *Store) UpsertSyncRecord(ctx context.Context, record model.SyncRecord) error {
	if err := s.db.WithContext(ctx).Save(&record).Error; err != nil {
		s.logError(opUpsertSyncRecord, reasonSaveFail, err,
			zap.String("entity_kind", record.EntityKind),
			zap.String("local_id", record.LocalID))
		return newStoreError(opUpsertSyncRecord, reasonSaveFail, err)
	}
	return nil
}

// DeleteSyncRecord removes the sync record for one entity.
func (s *Store) DeleteSyncRecord(ctx context.Context, kind model.EntityKind, localID string) error {
	if err := s.db.WithContext(ctx).
		Where("entity_kind = ? AND local_id = ?", kind.String(), localID).
		Delete(&model.SyncRecord{}).Error; err != nil {
		s.logError(opDeleteSyncRecord, reasonSaveFail, err,
			zap.String("entity_kind", kind.String()),
			zap.String("local_id", localID))
		return newStoreError(opDeleteSyncRecord, reasonSaveFail, err)
	}
	return nil
}

// ListPendingSyncRecords returns records with status pending, optionally
// filtered by entity kind. An empty kind returns both.
func (s *Store) ListPendingSyncRecords(ctx context.Context, kind model.EntityKind) ([]model.SyncRecord, error) {
	query := s.db.WithContext(ctx).Where("sync_status = ?", model.SyncStatusPending.String())
	if kind != "" {
		query = query.Where("entity_kind = ?", kind.String())
	}
	var records []model.SyncRecord
	if err := query.Order("local_id ASC").Find(&records).Error; err != nil {
		s.logError(opListPending, reasonQueryFail, err, zap.String("entity_kind", kind.String()))
		return nil, newStoreError(opListPending, reasonQueryFail, err)
	}
	return records, nil
}

// CountUnsynced reports how many entities are not in the synced state; this
// backs the user-visible pending indicator.
func (s *Store) CountUnsynced(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&model.SyncRecord{}).
		Where("sync_status <> ?", model.SyncStatusSynced.String()).
		Count(&count).Error; err != nil {
		s.logError(opCountUnsynced, reasonQueryFail, err)
		return 0, newStoreError(opCountUnsynced, reasonQueryFail, err)
	}
	return count, nil
}

// MarkSyncedInput carries the reconciliation outcome stamped onto a record.
// ContentHash and EncryptedKeyHeader are optional: when empty, the previously
// stored value is preserved.
type MarkSyncedInput struct {
	EntityKind         model.EntityKind
	LocalID            string
	RemoteFileID       model.RemoteFileID
	VersionTag         model.VersionTag
	ContentHash        string
	EncryptedKeyHeader string
}

// MarkSynced atomically flips a record to synced, stamps the last-synced
// time, and records the remote identifier and version tag from the write.
func (s *Store) MarkSynced(ctx context.Context, input MarkSyncedInput) error {
	syncedAt := s.clock().UTC().Unix()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record model.SyncRecord
		err := tx.Where("entity_kind = ? AND local_id = ?", input.EntityKind.String(), input.LocalID).
			Take(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			record = model.SyncRecord{
				EntityKind: input.EntityKind.String(),
				LocalID:    input.LocalID,
			}
		} else if err != nil {
			return err
		}
		record.RemoteFileID = input.RemoteFileID.String()
		record.VersionTag = input.VersionTag.String()
		if input.ContentHash != "" {
			record.ContentHash = input.ContentHash
		}
		if input.EncryptedKeyHeader != "" {
			record.EncryptedKeyHeader = input.EncryptedKeyHeader
		}
		record.SyncStatus = model.SyncStatusSynced.String()
		record.LastSyncedSeconds = syncedAt
		return tx.Save(&record).Error
	})
	if err != nil {
		s.logError(opMarkSynced, reasonSaveFail, err,
			zap.String("entity_kind", input.EntityKind.String()),
			zap.String("local_id", input.LocalID))
		return newStoreError(opMarkSynced, reasonSaveFail, err)
	}
	return nil
}
