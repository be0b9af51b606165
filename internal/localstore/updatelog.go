package localstore

import (
	"context"
	"encoding/base64"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/inkwellhq/inkwell-sync/internal/model"
)

const (
	opAppendUpdate   = "localstore.append_update"
	opListUpdates    = "localstore.list_updates"
	opReplaceUpdates = "localstore.replace_updates"
	opClearUpdates   = "localstore.clear_updates"
	orderUpdateIDAsc = "update_id ASC"
)

// AppendUpdate adds one CRDT fragment to the end of a note's update log.
func (s *Store) AppendUpdate(ctx context.Context, docID model.NoteID, fragment []byte) error {
	row := model.NoteUpdate{
		DocID:            docID.String(),
		FragmentB64:      base64.StdEncoding.EncodeToString(fragment),
		AppliedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.logError(opAppendUpdate, reasonSaveFail, err, zap.String("doc_id", docID.String()))
		return newStoreError(opAppendUpdate, reasonSaveFail, err)
	}
	return nil
}

// ListUpdates returns a note's fragment sequence in insertion order.
func (s *Store) ListUpdates(ctx context.Context, docID model.NoteID) ([][]byte, error) {
	var rows []model.NoteUpdate
	if err := s.db.WithContext(ctx).
		Where("doc_id = ?", docID.String()).
		Order(orderUpdateIDAsc).
		Find(&rows).Error; err != nil {
		s.logError(opListUpdates, reasonQueryFail, err, zap.String("doc_id", docID.String()))
		return nil, newStoreError(opListUpdates, reasonQueryFail, err)
	}
	fragments := make([][]byte, 0, len(rows))
	for _, row := range rows {
		decoded, err := base64.StdEncoding.DecodeString(row.FragmentB64)
		if err != nil {
			s.logError(opListUpdates, "fragment_decode_failed", err,
				zap.String("doc_id", docID.String()),
				zap.Int64("update_id", row.UpdateID))
			return nil, newStoreError(opListUpdates, "fragment_decode_failed", err)
		}
		fragments = append(fragments, decoded)
	}
	return fragments, nil
}

// ReplaceUpdates atomically swaps a note's entire log for the single
// canonical fragment produced by a merge.
func (s *Store) ReplaceUpdates(ctx context.Context, docID model.NoteID, fragment []byte) error {
	appliedAt := s.clock().UTC().Unix()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("doc_id = ?", docID.String()).Delete(&model.NoteUpdate{}).Error; err != nil {
			return err
		}
		return tx.Create(&model.NoteUpdate{
			DocID:            docID.String(),
			FragmentB64:      base64.StdEncoding.EncodeToString(fragment),
			AppliedAtSeconds: appliedAt,
		}).Error
	})
	if err != nil {
		s.logError(opReplaceUpdates, reasonSaveFail, err, zap.String("doc_id", docID.String()))
		return newStoreError(opReplaceUpdates, reasonSaveFail, err)
	}
	return nil
}

// ClearUpdates drops a note's entire update log.
func (s *Store) ClearUpdates(ctx context.Context, docID model.NoteID) error {
	if err := s.db.WithContext(ctx).Where("doc_id = ?", docID.String()).Delete(&model.NoteUpdate{}).Error; err != nil {
		s.logError(opClearUpdates, reasonSaveFail, err, zap.String("doc_id", docID.String()))
		return newStoreError(opClearUpdates, reasonSaveFail, err)
	}
	return nil
}
