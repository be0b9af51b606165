package syncer

import (
	"context"
	"errors"

	"github.com/inkwellhq/inkwell-sync/internal/broadcast"
	"github.com/inkwellhq/inkwell-sync/internal/crdt"
	"github.com/inkwellhq/inkwell-sync/internal/fingerprint"
	"github.com/inkwellhq/inkwell-sync/internal/localstore"
	"github.com/inkwellhq/inkwell-sync/internal/model"
	"github.com/inkwellhq/inkwell-sync/internal/remote"
)

// handleRemoteFolder applies one live folder change. Folder writes carry no
// CRDT state, so the remote copy wins outright.
func (s *Service) handleRemoteFolder(ctx context.Context, change remote.Change) error {
	folderID, err := model.NewFolderID(change.UniqueID)
	if err != nil {
		return err
	}

	record, err := s.store.GetSyncRecord(ctx, model.EntityKindFolder, folderID.String())
	if err != nil && !errors.Is(err, localstore.ErrNotFound) {
		return err
	}
	if err == nil && change.VersionTag != "" && record.VersionTag == change.VersionTag.String() {
		return nil
	}

	name := change.Name
	fileID := change.FileID
	versionTag := change.VersionTag
	if name == "" || fileID == "" {
		fresh, err := s.folders.FetchByUniqueID(ctx, folderID.String())
		if err != nil {
			return err
		}
		if fresh == nil {
			return nil
		}
		name = fresh.Name
		fileID = fresh.FileID
		versionTag = fresh.VersionTag
	}

	if err := s.store.UpsertFolder(ctx, model.Folder{FolderID: folderID.String(), Name: name}); err != nil {
		return err
	}
	if err := s.store.MarkSynced(ctx, localstore.MarkSyncedInput{
		EntityKind:   model.EntityKindFolder,
		LocalID:      folderID.String(),
		RemoteFileID: fileID,
		VersionTag:   versionTag,
		ContentHash:  fingerprint.FolderHash(name),
	}); err != nil {
		return err
	}
	return s.store.ClearSyncError(ctx, model.EntityKindFolder, folderID.String(), model.SyncOperationPull)
}

// handleDeletedFolder applies a folder tombstone: the folder's notes are
// removed first, then the folder itself. The main folder is never deleted.
func (s *Service) handleDeletedFolder(ctx context.Context, change remote.Change) error {
	folderID, err := model.NewFolderID(change.UniqueID)
	if err != nil {
		return err
	}
	if folderID == model.MainFolderID {
		s.logger.Warn("ignoring tombstone for main folder")
		return nil
	}

	notes, err := s.store.ListNotesInFolder(ctx, folderID)
	if err != nil {
		return err
	}
	for _, note := range notes {
		docID := model.NoteID(note.DocID)
		if err := s.removeLocalNote(ctx, docID); err != nil {
			return err
		}
		s.hub.Publish(broadcast.Message{
			Kind:      broadcast.KindDocumentUpdated,
			DocID:     docID.String(),
			Timestamp: s.clock(),
		})
	}

	if err := s.store.DeleteFolder(ctx, folderID); err != nil {
		return err
	}
	if err := s.store.DeleteSyncRecord(ctx, model.EntityKindFolder, folderID.String()); err != nil {
		return err
	}
	return s.store.ClearSyncError(ctx, model.EntityKindFolder, folderID.String(), model.SyncOperationPull)
}

// handleRemoteNote applies one live note change. A matching version tag
// short-circuits before any payload fetch. Otherwise the remote payload is
// merged with the local fragment log, the log collapses to the merged
// fragment, and derived rows follow.
func (s *Service) handleRemoteNote(ctx context.Context, change remote.Change) error {
	docID, err := model.NewNoteID(change.UniqueID)
	if err != nil {
		return err
	}

	record, err := s.store.GetSyncRecord(ctx, model.EntityKindNote, docID.String())
	if err != nil && !errors.Is(err, localstore.ErrNotFound) {
		return err
	}
	recordFound := err == nil
	if recordFound && change.VersionTag != "" && record.VersionTag == change.VersionTag.String() {
		return nil
	}

	fresh, err := s.notes.FetchByUniqueID(ctx, docID.String())
	if err != nil {
		return err
	}
	if fresh == nil {
		// Vanished between feed read and fetch; the tombstone will follow.
		return nil
	}
	payload, err := s.notes.FetchPayload(ctx, fresh.FileID, fresh.KeyHeader)
	if err != nil {
		return err
	}

	var localFragments [][]byte
	if recordFound {
		localFragments, err = s.store.ListUpdates(ctx, docID)
		if err != nil {
			return err
		}
	}
	merged, err := crdt.Merge(s.replicaID, localFragments, payload)
	if err != nil {
		return err
	}
	plainText, err := s.derivePlainText(merged)
	if err != nil {
		return err
	}

	row := noteRowFromMetadata(docID, fresh.Metadata, plainText)
	existing, getErr := s.store.GetNote(ctx, docID)
	if getErr == nil && existing.CreatedAtSeconds > 0 {
		row.CreatedAtSeconds = existing.CreatedAtSeconds
	} else if getErr != nil && !errors.Is(getErr, localstore.ErrNotFound) {
		return getErr
	}
	if row.CreatedAtSeconds == 0 {
		row.CreatedAtSeconds = s.clock().UTC().Unix()
	}
	if row.UpdatedAtSeconds == 0 {
		row.UpdatedAtSeconds = s.clock().UTC().Unix()
	}

	if err := s.store.UpsertNote(ctx, row); err != nil {
		return err
	}
	if err := s.store.ReplaceUpdates(ctx, docID, merged); err != nil {
		return err
	}
	if err := s.store.UpsertSearchEntry(ctx, model.SearchEntry{
		DocID:            docID.String(),
		Title:            row.Title,
		PlainText:        plainText,
		FolderID:         row.FolderID,
		UpdatedAtSeconds: row.UpdatedAtSeconds,
	}); err != nil {
		return err
	}
	contentHash, err := fingerprint.NoteHash(fresh.Metadata, merged)
	if err != nil {
		return err
	}
	if err := s.store.MarkSynced(ctx, localstore.MarkSyncedInput{
		EntityKind:         model.EntityKindNote,
		LocalID:            docID.String(),
		RemoteFileID:       fresh.FileID,
		VersionTag:         fresh.VersionTag,
		ContentHash:        contentHash,
		EncryptedKeyHeader: fresh.KeyHeader,
	}); err != nil {
		return err
	}

	s.hub.Publish(broadcast.Message{
		Kind:      broadcast.KindDocumentUpdated,
		DocID:     docID.String(),
		Timestamp: s.clock(),
	})
	return s.store.ClearSyncError(ctx, model.EntityKindNote, docID.String(), model.SyncOperationPull)
}

// handleDeletedNote applies a note tombstone.
func (s *Service) handleDeletedNote(ctx context.Context, change remote.Change) error {
	docID, err := model.NewNoteID(change.UniqueID)
	if err != nil {
		return err
	}
	if err := s.removeLocalNote(ctx, docID); err != nil {
		return err
	}
	s.hub.Publish(broadcast.Message{
		Kind:      broadcast.KindDocumentUpdated,
		DocID:     docID.String(),
		Timestamp: s.clock(),
	})
	return s.store.ClearSyncError(ctx, model.EntityKindNote, docID.String(), model.SyncOperationPull)
}

// removeLocalNote drops every local trace of a note: the row, its fragment
// log, queued uploads, the search entry, and the sync record.
func (s *Service) removeLocalNote(ctx context.Context, docID model.NoteID) error {
	if err := s.store.DeleteSearchEntry(ctx, docID); err != nil {
		return err
	}
	if err := s.store.ClearUpdates(ctx, docID); err != nil {
		return err
	}
	if err := s.store.DeleteUploadsForNote(ctx, docID); err != nil {
		return err
	}
	if err := s.store.DeleteNote(ctx, docID); err != nil {
		return err
	}
	return s.store.DeleteSyncRecord(ctx, model.EntityKindNote, docID.String())
}

func (s *Service) derivePlainText(fragment []byte) (string, error) {
	var plainText string
	err := crdt.WithDocument(s.replicaID, func(doc *crdt.Document) error {
		if err := doc.Apply(fragment); err != nil {
			return err
		}
		text, err := doc.PlainText()
		if err != nil {
			return err
		}
		plainText = text
		return nil
	})
	if err != nil {
		return "", err
	}
	return plainText, nil
}

func noteRowFromMetadata(docID model.NoteID, metadata model.NoteMetadata, plainText string) model.Note {
	return model.Note{
		DocID:            docID.String(),
		Title:            metadata.Title,
		PlainText:        plainText,
		FolderID:         metadata.FolderID.String(),
		TagsJSON:         localstore.EncodeTags(metadata.Tags),
		CreatedAtSeconds: metadata.CreatedAtSeconds,
		UpdatedAtSeconds: metadata.UpdatedAtSeconds,
		ExcludeFromAI:    metadata.ExcludeFromAI,
		IsPinned:         metadata.IsPinned,
		CircleIDsJSON:    localstore.EncodeTags(metadata.CircleIDs),
		RecipientsJSON:   localstore.EncodeTags(metadata.Recipients),
		LastEditedBy:     metadata.LastEditedBy,
	}
}

func metadataFromNoteRow(note model.Note) model.NoteMetadata {
	return model.NoteMetadata{
		Title:            note.Title,
		FolderID:         model.FolderID(note.FolderID),
		Tags:             localstore.DecodeTags(note.TagsJSON),
		CreatedAtSeconds: note.CreatedAtSeconds,
		UpdatedAtSeconds: note.UpdatedAtSeconds,
		ExcludeFromAI:    note.ExcludeFromAI,
		IsPinned:         note.IsPinned,
		CircleIDs:        localstore.DecodeTags(note.CircleIDsJSON),
		Recipients:       localstore.DecodeTags(note.RecipientsJSON),
		LastEditedBy:     note.LastEditedBy,
	}
}
