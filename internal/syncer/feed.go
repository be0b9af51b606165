package syncer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/inkwellhq/inkwell-sync/internal/model"
	"github.com/inkwellhq/inkwell-sync/internal/remote"
)

// changeBatch is one pull window's worth of remote changes, split by kind so
// folders can be applied before the notes that reference them.
type changeBatch struct {
	Folders []remote.Change
	Notes   []remote.Change
}

// readChangeFeed drains the push-notification inbox, then pages through the
// change feed for folders and notes since the watermark. The query window is
// widened below the watermark by the skew buffer; processing is idempotent, so
// re-seeing a change is cheaper than missing one stamped by a device whose
// clock runs behind.
func (s *Service) readChangeFeed(ctx context.Context, watermark time.Time, haveWatermark bool) (changeBatch, error) {
	if err := s.feed.DrainInbox(ctx); err != nil {
		s.logger.Warn("inbox drain failed, feed may lag behind notifications", zap.Error(err))
	}

	var since time.Time
	if haveWatermark {
		since = watermark.Add(-s.skewBuffer)
	}

	folders, err := s.readKind(ctx, model.EntityKindFolder, since)
	if err != nil {
		return changeBatch{}, newServiceError(opPull, "folder_feed_failed", err)
	}
	notes, err := s.readKind(ctx, model.EntityKindNote, since)
	if err != nil {
		return changeBatch{}, newServiceError(opPull, "note_feed_failed", err)
	}
	return changeBatch{Folders: folders, Notes: notes}, nil
}

func (s *Service) readKind(ctx context.Context, kind model.EntityKind, since time.Time) ([]remote.Change, error) {
	var changes []remote.Change
	cursor := ""
	for {
		page, err := s.feed.Query(ctx, kind, since, cursor, s.feedPageSize)
		if err != nil {
			return nil, err
		}
		changes = append(changes, page.Changes...)
		if page.NextCursor == "" || len(page.Changes) < s.feedPageSize {
			return changes, nil
		}
		cursor = page.NextCursor
	}
}
