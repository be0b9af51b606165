// Package syncer reconciles the local database with the remote file store:
// pulling remote changes through the change feed, pushing pending local
// entities, and draining the attachment upload queue. One Service instance
// owns the whole cycle; all state lives on the instance.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/inkwellhq/inkwell-sync/internal/broadcast"
	"github.com/inkwellhq/inkwell-sync/internal/localstore"
	"github.com/inkwellhq/inkwell-sync/internal/model"
	"github.com/inkwellhq/inkwell-sync/internal/remote"
)

var (
	errMissingStore        = errors.New("local store is required")
	errMissingFolderStore  = errors.New("remote folder store is required")
	errMissingNoteStore    = errors.New("remote note store is required")
	errMissingFeed         = errors.New("remote change feed is required")
	errMissingReplica      = errors.New("replica id is required")
	errMissingConnectivity = errors.New("connectivity probe is required")

	noOpLogger = zap.NewNop()
)

const (
	opServiceNew = "syncer.new"
	opSyncPass   = "syncer.sync"
	opSyncNote   = "syncer.sync_note"
	opPull       = "syncer.pull"
	opPush       = "syncer.push"
	opUploads    = "syncer.uploads"

	defaultSkewBuffer   = 15 * time.Minute
	defaultFlushGrace   = 200 * time.Millisecond
	defaultFeedPageSize = 200
	defaultPushParallel = 5
)

// ServiceError carries an operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Status is the orchestrator's externally visible state.
type Status string

const (
	// StatusIdle means no pass is in flight and the last one succeeded.
	StatusIdle Status = "idle"
	// StatusSyncing means a pass is in flight.
	StatusSyncing Status = "syncing"
	// StatusError means the last pass hit a pass-level failure.
	StatusError Status = "error"
)

// Report summarizes one sync pass. Errors carries one human-readable entry
// per failed entity and is populated on every exit, clean or not.
type Report struct {
	Skipped       bool
	SkipReason    string
	FoldersPulled int
	NotesPulled   int
	FoldersPushed int
	NotesPushed   int
	UploadsSent   int
	EntityErrors  int
	Errors        []string
}

// ServiceConfig describes the dependencies of a Service.
type ServiceConfig struct {
	Store        *localstore.Store
	Folders      remote.FolderStore
	Notes        remote.NoteStore
	Attachments  remote.AttachmentStore
	Feed         remote.ChangeFeed
	Connectivity remote.Connectivity
	Hub          *broadcast.Hub
	ReplicaID    string
	Clock        func() time.Time
	Logger       *zap.Logger

	// SkewBuffer widens the pull window below the watermark to absorb clock
	// drift between devices.
	SkewBuffer   time.Duration
	FlushGrace   time.Duration
	FeedPageSize int
	PushParallel int
}

// Service runs the reconciliation cycle. Exactly one pass is in flight at a
// time; re-entrant invocations are no-ops.
type Service struct {
	store        *localstore.Store
	folders      remote.FolderStore
	notes        remote.NoteStore
	attachments  remote.AttachmentStore
	feed         remote.ChangeFeed
	connectivity remote.Connectivity
	hub          *broadcast.Hub
	replicaID    string
	clock        func() time.Time
	logger       *zap.Logger

	skewBuffer   time.Duration
	flushGrace   time.Duration
	feedPageSize int
	pushParallel int

	kick chan struct{}

	mu     sync.Mutex
	status Status
}

// NewService validates the configuration and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.Folders == nil {
		return nil, newServiceError(opServiceNew, "missing_folders", errMissingFolderStore)
	}
	if cfg.Notes == nil {
		return nil, newServiceError(opServiceNew, "missing_notes", errMissingNoteStore)
	}
	if cfg.Feed == nil {
		return nil, newServiceError(opServiceNew, "missing_feed", errMissingFeed)
	}
	if cfg.Connectivity == nil {
		return nil, newServiceError(opServiceNew, "missing_connectivity", errMissingConnectivity)
	}
	if cfg.ReplicaID == "" {
		return nil, newServiceError(opServiceNew, "missing_replica", errMissingReplica)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	hub := cfg.Hub
	if hub == nil {
		hub = broadcast.NewHub()
	}
	skewBuffer := cfg.SkewBuffer
	if skewBuffer <= 0 {
		skewBuffer = defaultSkewBuffer
	}
	flushGrace := cfg.FlushGrace
	if flushGrace <= 0 {
		flushGrace = defaultFlushGrace
	}
	feedPageSize := cfg.FeedPageSize
	if feedPageSize <= 0 {
		feedPageSize = defaultFeedPageSize
	}
	pushParallel := cfg.PushParallel
	if pushParallel <= 0 {
		pushParallel = defaultPushParallel
	}
	return &Service{
		store:        cfg.Store,
		folders:      cfg.Folders,
		notes:        cfg.Notes,
		attachments:  cfg.Attachments,
		feed:         cfg.Feed,
		connectivity: cfg.Connectivity,
		hub:          hub,
		replicaID:    cfg.ReplicaID,
		clock:        clock,
		logger:       logger,
		skewBuffer:   skewBuffer,
		flushGrace:   flushGrace,
		feedPageSize: feedPageSize,
		pushParallel: pushParallel,
		kick:         make(chan struct{}, 1),
		status:       StatusIdle,
	}, nil
}

// Status reports the orchestrator state.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("sync engine error", attrs...)
}

func (s *Service) recordEntityError(ctx context.Context, kind model.EntityKind, entityID string, operation model.SyncOperation, cause error) {
	if err := s.store.RecordSyncError(ctx, kind, entityID, operation, cause.Error()); err != nil {
		s.logError(opSyncPass, "record_error_failed", err,
			zap.String("entity_kind", kind.String()),
			zap.String("entity_id", entityID))
	}
}
