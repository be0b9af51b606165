package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/inkwellhq/inkwell-sync/internal/broadcast"
	"github.com/inkwellhq/inkwell-sync/internal/crdt"
	"github.com/inkwellhq/inkwell-sync/internal/localstore"
	"github.com/inkwellhq/inkwell-sync/internal/model"
)

const (
	uploadBackoffBase = 30 * time.Second
	uploadBackoffMax  = time.Hour
)

// errUploadNotReady marks a queue entry whose note has no remote file yet.
// The entry stays queued without burning a retry.
var errUploadNotReady = errors.New("syncer: note not pushed yet")

// processUploads drains the due slice of the attachment queue. Failures are
// isolated per entry and scheduled for a backed-off retry; the returned slice
// carries one message per failure.
func (s *Service) processUploads(ctx context.Context) (int, []string) {
	if s.attachments == nil {
		return 0, nil
	}
	due, err := s.store.ListDueUploads(ctx, s.clock())
	if err != nil {
		s.logError(opUploads, "list_due_failed", err)
		return 0, []string{fmt.Sprintf("list due uploads: %v", err)}
	}

	sent := 0
	var failures []string
	for _, upload := range due {
		err := s.processUpload(ctx, upload)
		if errors.Is(err, errUploadNotReady) {
			continue
		}
		if err != nil {
			s.failUpload(ctx, upload, err)
			failures = append(failures, fmt.Sprintf("upload %s for note %s: %v", upload.UploadID, upload.DocID, err))
			continue
		}
		sent++
	}
	return sent, failures
}

// processUpload attaches one queued blob and rewrites the note's pending image
// marker to the permanent attachment locator.
func (s *Service) processUpload(ctx context.Context, upload model.PendingImageUpload) error {
	docID := model.NoteID(upload.DocID)

	record, err := s.store.GetSyncRecord(ctx, model.EntityKindNote, docID.String())
	if errors.Is(err, localstore.ErrNotFound) {
		return errUploadNotReady
	}
	if err != nil {
		return err
	}
	if record.RemoteFileID == "" {
		return errUploadNotReady
	}
	fileID := model.RemoteFileID(record.RemoteFileID)

	upload.Status = model.UploadStatusUploading.String()
	if err := s.store.UpdatePendingUpload(ctx, upload); err != nil {
		return err
	}

	payloadKey, err := s.attachments.AttachPayload(ctx, fileID, upload.Blob, upload.ContentType)
	if err != nil {
		return err
	}

	rewritten, found, err := s.rewriteImageMarker(ctx, docID, upload.UploadID, fileID, payloadKey)
	if err != nil {
		return err
	}
	if found {
		if err := s.store.ReplaceUpdates(ctx, docID, rewritten); err != nil {
			return err
		}
		// The rewrite changed the note's content, so the next pass re-pushes.
		record.SyncStatus = model.SyncStatusPending.String()
		if err := s.store.UpsertSyncRecord(ctx, record); err != nil {
			return err
		}
		s.hub.Publish(broadcast.Message{
			Kind:      broadcast.KindDocumentUpdated,
			DocID:     docID.String(),
			Timestamp: s.clock(),
		})
	} else {
		// The image was removed from the note while the upload was queued.
		s.logger.Debug("upload marker no longer present",
			zap.String("upload_id", upload.UploadID),
			zap.String("doc_id", docID.String()))
	}

	if err := s.store.DeletePendingUpload(ctx, upload.UploadID); err != nil {
		return err
	}
	return s.store.ClearSyncError(ctx, model.EntityKindNote, docID.String(), model.SyncOperationUpload)
}

func (s *Service) rewriteImageMarker(ctx context.Context, docID model.NoteID, uploadID string, fileID model.RemoteFileID, payloadKey string) ([]byte, bool, error) {
	fragments, err := s.store.ListUpdates(ctx, docID)
	if err != nil {
		return nil, false, err
	}
	var rewritten []byte
	var found bool
	err = crdt.WithDocument(s.replicaID, func(doc *crdt.Document) error {
		for _, fragment := range fragments {
			if err := doc.Apply(fragment); err != nil {
				return err
			}
		}
		matched, err := doc.RewriteImageSource(
			crdt.PendingImageMarker(uploadID),
			crdt.AttachmentLocator(fileID.String(), payloadKey))
		if err != nil {
			return err
		}
		found = matched
		if !found {
			return nil
		}
		encoded, err := doc.Encode()
		if err != nil {
			return err
		}
		rewritten = encoded
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return rewritten, found, nil
}

func (s *Service) failUpload(ctx context.Context, upload model.PendingImageUpload, cause error) {
	upload.RetryCount++
	upload.Status = model.UploadStatusFailed.String()
	upload.NextRetrySeconds = s.clock().UTC().Add(uploadBackoff(upload.RetryCount)).Unix()
	if err := s.store.UpdatePendingUpload(ctx, upload); err != nil {
		s.logError(opUploads, "fail_state_save_failed", err, zap.String("upload_id", upload.UploadID))
	}
	s.recordEntityError(ctx, model.EntityKindNote, upload.DocID, model.SyncOperationUpload, cause)
	s.logError(opUploads, "attach_failed", cause,
		zap.String("upload_id", upload.UploadID),
		zap.Int64("retry_count", upload.RetryCount))
}

func uploadBackoff(retryCount int64) time.Duration {
	backoff := uploadBackoffBase
	for i := int64(1); i < retryCount; i++ {
		backoff *= 2
		if backoff >= uploadBackoffMax {
			return uploadBackoffMax
		}
	}
	return backoff
}
