package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/inkwellhq/inkwell-sync/internal/broadcast"
	"github.com/inkwellhq/inkwell-sync/internal/localstore"
	"github.com/inkwellhq/inkwell-sync/internal/model"
)

const (
	skipReasonInFlight = "sync_in_progress"
	skipReasonOffline  = "offline"
)

// Sync runs one full reconciliation pass. A pass already in flight or an
// unreachable remote makes this a no-op; the returned report says which.
// The pass order is fixed: flush request, pull folders, pull notes, push
// folders, push notes, attachment uploads, watermark checkpoint. Per-entity
// failures are recorded and isolated; only infrastructure failures abort the
// pass and surface as an error.
func (s *Service) Sync(ctx context.Context) (Report, error) {
	s.mu.Lock()
	if s.status == StatusSyncing {
		s.mu.Unlock()
		return Report{Skipped: true, SkipReason: skipReasonInFlight}, nil
	}
	s.status = StatusSyncing
	s.mu.Unlock()

	if !s.connectivity.Online(ctx) {
		s.setStatus(StatusIdle)
		s.logger.Debug("skipping sync pass, remote unreachable")
		return Report{Skipped: true, SkipReason: skipReasonOffline}, nil
	}

	report, err := s.runPass(ctx)
	if err != nil {
		s.setStatus(StatusError)
		s.logError(opSyncPass, "pass_failed", err)
		return report, err
	}
	s.setStatus(StatusIdle)
	s.logger.Info("sync pass complete",
		zap.Int("folders_pulled", report.FoldersPulled),
		zap.Int("notes_pulled", report.NotesPulled),
		zap.Int("folders_pushed", report.FoldersPushed),
		zap.Int("notes_pushed", report.NotesPushed),
		zap.Int("uploads_sent", report.UploadsSent),
		zap.Int("entity_errors", report.EntityErrors))
	return report, nil
}

func (s *Service) setStatus(status Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *Service) runPass(ctx context.Context) (Report, error) {
	var report Report
	cycleStart := s.clock().UTC()

	// Ask open editors to persist unsaved fragments, then give them a moment
	// before the log is read.
	s.hub.Publish(broadcast.Message{Kind: broadcast.KindFlushRequested, Timestamp: cycleStart})
	select {
	case <-ctx.Done():
		return report, ctx.Err()
	case <-time.After(s.flushGrace):
	}

	watermark, haveWatermark, err := s.store.LoadWatermark(ctx)
	if err != nil {
		return report, newServiceError(opSyncPass, "watermark_load_failed", err)
	}
	batch, err := s.readChangeFeed(ctx, watermark, haveWatermark)
	if err != nil {
		return report, err
	}

	s.applyRemoteChanges(ctx, batch, &report)
	if err := s.pushPendingFolders(ctx, &report); err != nil {
		return report, err
	}
	if err := s.pushPendingNotes(ctx, &report); err != nil {
		return report, err
	}
	sent, uploadFailures := s.processUploads(ctx)
	report.UploadsSent = sent
	report.EntityErrors += len(uploadFailures)
	report.Errors = append(report.Errors, uploadFailures...)

	// The watermark only advances after a fully clean pass so failed entities
	// are re-seen next time.
	if report.EntityErrors == 0 {
		if err := s.store.StoreWatermark(ctx, cycleStart); err != nil {
			return report, newServiceError(opSyncPass, "watermark_store_failed", err)
		}
	}
	return report, nil
}

// applyRemoteChanges applies pulled changes, folders before the notes that
// reference them, isolating failures per entity.
func (s *Service) applyRemoteChanges(ctx context.Context, batch changeBatch, report *Report) {
	for _, change := range batch.Folders {
		var err error
		if change.Deleted {
			err = s.handleDeletedFolder(ctx, change)
		} else {
			err = s.handleRemoteFolder(ctx, change)
		}
		if err != nil {
			report.EntityErrors++
			report.Errors = append(report.Errors, fmt.Sprintf("pull folder %s: %v", change.UniqueID, err))
			s.recordEntityError(ctx, model.EntityKindFolder, change.UniqueID, model.SyncOperationPull, err)
			s.logError(opPull, "folder_change_failed", err, zap.String("folder_id", change.UniqueID))
			continue
		}
		report.FoldersPulled++
	}
	for _, change := range batch.Notes {
		var err error
		if change.Deleted {
			err = s.handleDeletedNote(ctx, change)
		} else {
			err = s.handleRemoteNote(ctx, change)
		}
		if err != nil {
			report.EntityErrors++
			report.Errors = append(report.Errors, fmt.Sprintf("pull note %s: %v", change.UniqueID, err))
			s.recordEntityError(ctx, model.EntityKindNote, change.UniqueID, model.SyncOperationPull, err)
			s.logError(opPull, "note_change_failed", err, zap.String("doc_id", change.UniqueID))
			continue
		}
		report.NotesPulled++
	}
}

// pushPendingFolders pushes folders sequentially; the remote creates are cheap
// and notes pushed afterwards may depend on them existing.
func (s *Service) pushPendingFolders(ctx context.Context, report *Report) error {
	records, err := s.store.ListPendingSyncRecords(ctx, model.EntityKindFolder)
	if err != nil {
		return newServiceError(opPush, "list_pending_folders_failed", err)
	}
	for _, record := range records {
		if err := s.pushFolder(ctx, record); err != nil {
			report.EntityErrors++
			report.Errors = append(report.Errors, fmt.Sprintf("push folder %s: %v", record.LocalID, err))
			s.recordEntityError(ctx, model.EntityKindFolder, record.LocalID, model.SyncOperationPush, err)
			s.logError(opPush, "folder_push_failed", err, zap.String("folder_id", record.LocalID))
			continue
		}
		report.FoldersPushed++
	}
	return nil
}

// pushPendingNotes fans note pushes out over a bounded worker group. A failed
// push is recorded against its note and never takes down its siblings.
func (s *Service) pushPendingNotes(ctx context.Context, report *Report) error {
	records, err := s.store.ListPendingSyncRecords(ctx, model.EntityKindNote)
	if err != nil {
		return newServiceError(opPush, "list_pending_notes_failed", err)
	}

	var reportMu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.pushParallel)
	for _, record := range records {
		record := record
		group.Go(func() error {
			if err := s.pushNote(groupCtx, record); err != nil {
				reportMu.Lock()
				report.EntityErrors++
				report.Errors = append(report.Errors, fmt.Sprintf("push note %s: %v", record.LocalID, err))
				reportMu.Unlock()
				s.recordEntityError(groupCtx, model.EntityKindNote, record.LocalID, model.SyncOperationPush, err)
				s.logError(opPush, "note_push_failed", err, zap.String("doc_id", record.LocalID))
				return nil
			}
			reportMu.Lock()
			report.NotesPushed++
			reportMu.Unlock()
			return nil
		})
	}
	return group.Wait()
}

// SyncNote pushes a single note immediately, bypassing the full pass. Used
// after a debounced local save. A pass in flight or an unreachable remote
// makes this a no-op.
func (s *Service) SyncNote(ctx context.Context, docID model.NoteID) error {
	s.mu.Lock()
	if s.status == StatusSyncing {
		s.mu.Unlock()
		return nil
	}
	s.status = StatusSyncing
	s.mu.Unlock()

	if !s.connectivity.Online(ctx) {
		s.setStatus(StatusIdle)
		return nil
	}

	record, err := s.store.GetSyncRecord(ctx, model.EntityKindNote, docID.String())
	if errors.Is(err, localstore.ErrNotFound) {
		record = model.SyncRecord{
			EntityKind: model.EntityKindNote.String(),
			LocalID:    docID.String(),
			SyncStatus: model.SyncStatusPending.String(),
		}
		err = nil
	}
	if err == nil {
		err = s.pushNote(ctx, record)
	}
	if err != nil {
		s.setStatus(StatusError)
		s.recordEntityError(ctx, model.EntityKindNote, docID.String(), model.SyncOperationPush, err)
		return newServiceError(opSyncNote, "push_failed", err)
	}
	s.setStatus(StatusIdle)
	return nil
}

// Kick requests a sync pass from the Run loop without waiting for the next
// tick. Kicks collapse while a pass is pending.
func (s *Service) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run drives periodic passes until the context is done. Kicked passes run
// between ticks; pass failures are logged and the loop keeps going.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-s.kick:
		}
		if _, err := s.Sync(ctx); err != nil {
			s.logger.Warn("periodic sync pass failed", zap.Error(err))
		}
	}
}
