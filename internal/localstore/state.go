package localstore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/inkwellhq/inkwell-sync/internal/model"
)

const (
	opLoadWatermark  = "localstore.load_watermark"
	opStoreWatermark = "localstore.store_watermark"
	opRecordError    = "localstore.record_sync_error"
	opClearError     = "localstore.clear_sync_error"
	opListErrors     = "localstore.list_sync_errors"
	opUpsertSearch   = "localstore.upsert_search_entry"
	opDeleteSearch   = "localstore.delete_search_entry"
	opEnsureReplica  = "localstore.ensure_replica_id"

	watermarkStateKey = "sync.last_sync_time"
	replicaStateKey   = "sync.replica_id"
)

// LoadWatermark returns the persisted pull watermark. The boolean reports
// whether a watermark has ever been stored.
func (s *Store) LoadWatermark(ctx context.Context) (time.Time, bool, error) {
	var row model.AppState
	err := s.db.WithContext(ctx).Where("key = ?", watermarkStateKey).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		s.logError(opLoadWatermark, reasonQueryFail, err)
		return time.Time{}, false, newStoreError(opLoadWatermark, reasonQueryFail, err)
	}
	seconds, err := strconv.ParseInt(row.Value, 10, 64)
	if err != nil {
		s.logError(opLoadWatermark, "watermark_parse_failed", err, zap.String("value", row.Value))
		return time.Time{}, false, newStoreError(opLoadWatermark, "watermark_parse_failed", err)
	}
	return time.Unix(seconds, 0).UTC(), true, nil
}

// StoreWatermark persists the pull watermark. Called only after a whole sync
// cycle completed without a pass-level failure.
func (s *Store) StoreWatermark(ctx context.Context, watermark time.Time) error {
	row := model.AppState{
		Key:   watermarkStateKey,
		Value: strconv.FormatInt(watermark.UTC().Unix(), 10),
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		s.logError(opStoreWatermark, reasonSaveFail, err)
		return newStoreError(opStoreWatermark, reasonSaveFail, err)
	}
	return nil
}

// EnsureReplicaID returns the persisted CRDT actor identifier, minting one on
// first run. The identifier must stay stable across restarts; operations
// authored under a new actor would not dedupe against the old ones.
func (s *Store) EnsureReplicaID(ctx context.Context) (string, error) {
	var row model.AppState
	err := s.db.WithContext(ctx).Where("key = ?", replicaStateKey).Take(&row).Error
	if err == nil {
		return row.Value, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opEnsureReplica, reasonQueryFail, err)
		return "", newStoreError(opEnsureReplica, reasonQueryFail, err)
	}

	replicaID, err := model.NewUUIDProvider().NewID()
	if err != nil {
		s.logError(opEnsureReplica, "id_mint_failed", err)
		return "", newStoreError(opEnsureReplica, "id_mint_failed", err)
	}
	row = model.AppState{Key: replicaStateKey, Value: replicaID}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		s.logError(opEnsureReplica, reasonSaveFail, err)
		return "", newStoreError(opEnsureReplica, reasonSaveFail, err)
	}
	s.logger.Info("minted replica id", zap.String("replica_id", replicaID))
	return replicaID, nil
}

// RecordSyncError upserts the latest failure for an entity and operation,
// incrementing the retry count on repeats.
func (s *Store) RecordSyncError(ctx context.Context, kind model.EntityKind, entityID string, operation model.SyncOperation, message string) error {
	recordedAt := s.clock().UTC().Unix()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row model.SyncErrorRecord
		err := tx.Where("entity_kind = ? AND entity_id = ? AND operation = ?",
			kind.String(), entityID, operation.String()).
			Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			row = model.SyncErrorRecord{
				EntityKind: kind.String(),
				EntityID:   entityID,
				Operation:  operation.String(),
			}
		} else if err != nil {
			return err
		} else {
			row.RetryCount++
		}
		row.ErrorMessage = message
		row.RecordedAtSeconds = recordedAt
		return tx.Save(&row).Error
	})
	if err != nil {
		s.logError(opRecordError, reasonSaveFail, err,
			zap.String("entity_kind", kind.String()),
			zap.String("entity_id", entityID),
			zap.String("sync_operation", operation.String()))
		return newStoreError(opRecordError, reasonSaveFail, err)
	}
	return nil
}

// ClearSyncError removes the failure record once the operation succeeds.
func (s *Store) ClearSyncError(ctx context.Context, kind model.EntityKind, entityID string, operation model.SyncOperation) error {
	if err := s.db.WithContext(ctx).
		Where("entity_kind = ? AND entity_id = ? AND operation = ?",
			kind.String(), entityID, operation.String()).
		Delete(&model.SyncErrorRecord{}).Error; err != nil {
		s.logError(opClearError, reasonSaveFail, err,
			zap.String("entity_kind", kind.String()),
			zap.String("entity_id", entityID))
		return newStoreError(opClearError, reasonSaveFail, err)
	}
	return nil
}

// ListSyncErrors returns every recorded failure, most recent first.
func (s *Store) ListSyncErrors(ctx context.Context) ([]model.SyncErrorRecord, error) {
	var rows []model.SyncErrorRecord
	if err := s.db.WithContext(ctx).Order("recorded_at_s DESC").Find(&rows).Error; err != nil {
		s.logError(opListErrors, reasonQueryFail, err)
		return nil, newStoreError(opListErrors, reasonQueryFail, err)
	}
	return rows, nil
}

// UpsertSearchEntry keeps the search index aligned with derived CRDT state.
func (s *Store) UpsertSearchEntry(ctx context.Context, entry model.SearchEntry) error {
	if err := s.db.WithContext(ctx).Save(&entry).Error; err != nil {
		s.logError(opUpsertSearch, reasonSaveFail, err, zap.String("doc_id", entry.DocID))
		return newStoreError(opUpsertSearch, reasonSaveFail, err)
	}
	return nil
}

// DeleteSearchEntry removes a note's search-index row.
func (s *Store) DeleteSearchEntry(ctx context.Context, docID model.NoteID) error {
	if err := s.db.WithContext(ctx).
		Where("doc_id = ?", docID.String()).
		Delete(&model.SearchEntry{}).Error; err != nil {
		s.logError(opDeleteSearch, reasonSaveFail, err, zap.String("doc_id", docID.String()))
		return newStoreError(opDeleteSearch, reasonSaveFail, err)
	}
	return nil
}
