package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/inkwellhq/inkwell-sync/internal/broadcast"
	"github.com/inkwellhq/inkwell-sync/internal/crdt"
	"github.com/inkwellhq/inkwell-sync/internal/fingerprint"
	"github.com/inkwellhq/inkwell-sync/internal/localstore"
	"github.com/inkwellhq/inkwell-sync/internal/model"
	"github.com/inkwellhq/inkwell-sync/internal/remote"
)

// ErrConflictUnresolved indicates a version conflict that survived the single
// merge-and-retry attempt. The record is left in the conflict state.
var ErrConflictUnresolved = errors.New("syncer: version conflict persisted after retry")

// pushFolder reconciles one pending folder record. A missing local row means
// the folder was deleted locally, so the remote copy is deleted too.
func (s *Service) pushFolder(ctx context.Context, record model.SyncRecord) error {
	folderID := model.FolderID(record.LocalID)

	folder, err := s.store.GetFolder(ctx, folderID)
	if errors.Is(err, localstore.ErrNotFound) {
		return s.pushFolderDeletion(ctx, record)
	}
	if err != nil {
		return err
	}

	content := remote.FolderContent{FolderID: folderID.String(), Name: folder.Name}
	var receipt remote.FolderPushReceipt
	if record.RemoteFileID == "" {
		receipt, err = s.folders.Create(ctx, content)
	} else {
		receipt, err = s.folders.Update(ctx, model.RemoteFileID(record.RemoteFileID), model.VersionTag(record.VersionTag), content)
	}
	if err != nil {
		return err
	}
	if receipt.Conflict != nil {
		// Retry once against the fresh tag; folder content has no CRDT state
		// to merge, so the local name simply overwrites.
		fresh := receipt.Conflict
		receipt, err = s.folders.Update(ctx, fresh.FileID, fresh.VersionTag, content)
		if err != nil {
			return err
		}
		if receipt.Conflict != nil {
			return s.markConflict(ctx, record)
		}
	}

	if err := s.store.MarkSynced(ctx, localstore.MarkSyncedInput{
		EntityKind:   model.EntityKindFolder,
		LocalID:      folderID.String(),
		RemoteFileID: receipt.FileID,
		VersionTag:   receipt.VersionTag,
		ContentHash:  fingerprint.FolderHash(folder.Name),
	}); err != nil {
		return err
	}
	return s.store.ClearSyncError(ctx, model.EntityKindFolder, folderID.String(), model.SyncOperationPush)
}

func (s *Service) pushFolderDeletion(ctx context.Context, record model.SyncRecord) error {
	if record.RemoteFileID != "" {
		if err := s.folders.Delete(ctx, model.RemoteFileID(record.RemoteFileID)); err != nil {
			return err
		}
	}
	if err := s.store.DeleteSyncRecord(ctx, model.EntityKindFolder, record.LocalID); err != nil {
		return err
	}
	return s.store.ClearSyncError(ctx, model.EntityKindFolder, record.LocalID, model.SyncOperationPush)
}

// pushNote reconciles one pending note record. The fragment log collapses to
// one canonical fragment first; if the content hash matches the last synced
// hash the record flips back to synced without any remote call. A version
// conflict triggers exactly one merge-and-retry.
func (s *Service) pushNote(ctx context.Context, record model.SyncRecord) error {
	docID := model.NoteID(record.LocalID)

	note, err := s.store.GetNote(ctx, docID)
	if errors.Is(err, localstore.ErrNotFound) {
		return s.pushNoteDeletion(ctx, record)
	}
	if err != nil {
		return err
	}

	fragments, err := s.store.ListUpdates(ctx, docID)
	if err != nil {
		return err
	}
	canonical, err := s.canonicalFragment(fragments)
	if err != nil {
		return err
	}
	metadata := metadataFromNoteRow(note)
	contentHash, err := fingerprint.NoteHash(metadata, canonical)
	if err != nil {
		return err
	}

	if record.RemoteFileID != "" && contentHash == record.ContentHash {
		if record.SyncStatus != model.SyncStatusSynced.String() {
			// Nothing changed since the last reconciliation; flip the local
			// bookkeeping without a remote round trip. Hash and key header
			// stay as stored.
			if err := s.store.MarkSynced(ctx, localstore.MarkSyncedInput{
				EntityKind:   model.EntityKindNote,
				LocalID:      docID.String(),
				RemoteFileID: model.RemoteFileID(record.RemoteFileID),
				VersionTag:   model.VersionTag(record.VersionTag),
			}); err != nil {
				return err
			}
			return s.store.ClearSyncError(ctx, model.EntityKindNote, docID.String(), model.SyncOperationPush)
		}
		return nil
	}

	content := remote.NoteContent{DocID: docID.String(), Metadata: metadata, Fragment: canonical}
	var receipt remote.NotePushReceipt
	if record.RemoteFileID == "" {
		receipt, err = s.notes.Create(ctx, content)
	} else {
		receipt, err = s.notes.Update(ctx, model.RemoteFileID(record.RemoteFileID), model.VersionTag(record.VersionTag), record.EncryptedKeyHeader, content)
	}
	if err != nil {
		return err
	}

	finalFragment := canonical
	if receipt.Conflict != nil {
		receipt, finalFragment, err = s.retryNotePush(ctx, docID, metadata, record, receipt.Conflict)
		if err != nil {
			return err
		}
		contentHash, err = fingerprint.NoteHash(metadata, finalFragment)
		if err != nil {
			return err
		}
	}

	if err := s.store.MarkSynced(ctx, localstore.MarkSyncedInput{
		EntityKind:         model.EntityKindNote,
		LocalID:            docID.String(),
		RemoteFileID:       receipt.FileID,
		VersionTag:         receipt.VersionTag,
		ContentHash:        contentHash,
		EncryptedKeyHeader: receipt.KeyHeader,
	}); err != nil {
		return err
	}
	return s.store.ClearSyncError(ctx, model.EntityKindNote, docID.String(), model.SyncOperationPush)
}

func (s *Service) pushNoteDeletion(ctx context.Context, record model.SyncRecord) error {
	if record.RemoteFileID != "" {
		if err := s.notes.Delete(ctx, model.RemoteFileID(record.RemoteFileID)); err != nil {
			return err
		}
	}
	docID := model.NoteID(record.LocalID)
	if err := s.removeLocalNote(ctx, docID); err != nil {
		return err
	}
	return s.store.ClearSyncError(ctx, model.EntityKindNote, docID.String(), model.SyncOperationPush)
}

// retryNotePush merges the fresh remote payload into the local log, persists
// the merged state, and retries the write exactly once under the fresh tag.
func (s *Service) retryNotePush(ctx context.Context, docID model.NoteID, metadata model.NoteMetadata, record model.SyncRecord, fresh *remote.RemoteNote) (remote.NotePushReceipt, []byte, error) {
	payload, err := s.notes.FetchPayload(ctx, fresh.FileID, fresh.KeyHeader)
	if err != nil {
		return remote.NotePushReceipt{}, nil, err
	}
	fragments, err := s.store.ListUpdates(ctx, docID)
	if err != nil {
		return remote.NotePushReceipt{}, nil, err
	}
	merged, err := crdt.Merge(s.replicaID, fragments, payload)
	if err != nil {
		return remote.NotePushReceipt{}, nil, err
	}
	if err := s.store.ReplaceUpdates(ctx, docID, merged); err != nil {
		return remote.NotePushReceipt{}, nil, err
	}
	plainText, err := s.derivePlainText(merged)
	if err != nil {
		return remote.NotePushReceipt{}, nil, err
	}
	if note, err := s.store.GetNote(ctx, docID); err == nil {
		note.PlainText = plainText
		if err := s.store.UpsertNote(ctx, note); err != nil {
			return remote.NotePushReceipt{}, nil, err
		}
		if err := s.store.UpsertSearchEntry(ctx, model.SearchEntry{
			DocID:            docID.String(),
			Title:            note.Title,
			PlainText:        plainText,
			FolderID:         note.FolderID,
			UpdatedAtSeconds: note.UpdatedAtSeconds,
		}); err != nil {
			return remote.NotePushReceipt{}, nil, err
		}
	}
	s.hub.Publish(broadcast.Message{
		Kind:      broadcast.KindDocumentUpdated,
		DocID:     docID.String(),
		Timestamp: s.clock(),
	})

	content := remote.NoteContent{DocID: docID.String(), Metadata: metadata, Fragment: merged}
	receipt, err := s.notes.Update(ctx, fresh.FileID, fresh.VersionTag, fresh.KeyHeader, content)
	if err != nil {
		return remote.NotePushReceipt{}, nil, err
	}
	if receipt.Conflict != nil {
		return remote.NotePushReceipt{}, nil, s.markConflict(ctx, record)
	}
	return receipt, merged, nil
}

func (s *Service) markConflict(ctx context.Context, record model.SyncRecord) error {
	record.SyncStatus = model.SyncStatusConflict.String()
	if err := s.store.UpsertSyncRecord(ctx, record); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s/%s", ErrConflictUnresolved, record.EntityKind, record.LocalID)
}

// canonicalFragment collapses the fragment log into one canonical fragment.
// An empty or fully tombstoned log yields a fresh empty fragment, which keeps
// long deletion histories from inflating the pushed payload.
func (s *Service) canonicalFragment(fragments [][]byte) ([]byte, error) {
	var canonical []byte
	err := crdt.WithDocument(s.replicaID, func(doc *crdt.Document) error {
		for _, fragment := range fragments {
			if err := doc.Apply(fragment); err != nil {
				return err
			}
		}
		if doc.Empty() {
			return crdt.WithDocument(s.replicaID, func(empty *crdt.Document) error {
				encoded, err := empty.Encode()
				if err != nil {
					return err
				}
				canonical = encoded
				return nil
			})
		}
		encoded, err := doc.Encode()
		if err != nil {
			return err
		}
		canonical = encoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return canonical, nil
}
