package model

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

// MainFolderID is the distinguished folder that always exists locally. It is
// never deleted and never removed by a remote tombstone.
const MainFolderID = FolderID("main")

var (
	// ErrInvalidNoteID indicates that a note identifier is empty or exceeds storage bounds.
	ErrInvalidNoteID = errors.New("model: invalid note id")
	// ErrInvalidFolderID indicates that a folder identifier is empty or exceeds storage bounds.
	ErrInvalidFolderID = errors.New("model: invalid folder id")
	// ErrInvalidRemoteFileID indicates that a remote file identifier is empty.
	ErrInvalidRemoteFileID = errors.New("model: invalid remote file id")
	// ErrInvalidVersionTag indicates that a version tag is empty.
	ErrInvalidVersionTag = errors.New("model: invalid version tag")
	// ErrInvalidEntityKind indicates an unknown entity kind.
	ErrInvalidEntityKind = errors.New("model: invalid entity kind")
	// ErrInvalidSyncStatus indicates an unknown sync status.
	ErrInvalidSyncStatus = errors.New("model: invalid sync status")
)

// NoteID represents a validated note document identifier.
type NoteID string

// NewNoteID validates raw input and returns a NoteID.
func NewNoteID(rawInput string) (NoteID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNoteID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidNoteID, maxIdentifierLength)
	}
	return NoteID(trimmed), nil
}

// String returns the underlying string identifier.
func (id NoteID) String() string {
	return string(id)
}

// FolderID represents a validated folder identifier.
type FolderID string

// NewFolderID validates raw input and returns a FolderID.
func NewFolderID(rawInput string) (FolderID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidFolderID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidFolderID, maxIdentifierLength)
	}
	return FolderID(trimmed), nil
}

// String returns the underlying string identifier.
func (id FolderID) String() string {
	return string(id)
}

// RemoteFileID is the remote store's identifier for a pushed entity. An empty
// value on a sync record means the entity has never been created remotely.
type RemoteFileID string

// NewRemoteFileID validates raw input and returns a RemoteFileID.
func NewRemoteFileID(rawInput string) (RemoteFileID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRemoteFileID)
	}
	return RemoteFileID(trimmed), nil
}

// String returns the underlying string identifier.
func (id RemoteFileID) String() string {
	return string(id)
}

// VersionTag is the opaque optimistic-concurrency token issued by the remote
// store on every write.
type VersionTag string

// NewVersionTag validates raw input and returns a VersionTag.
func NewVersionTag(rawInput string) (VersionTag, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidVersionTag)
	}
	return VersionTag(trimmed), nil
}

// String returns the underlying token value.
func (tag VersionTag) String() string {
	return string(tag)
}

// EntityKind discriminates the two syncable entity types.
type EntityKind string

const (
	// EntityKindNote marks a note sync record.
	EntityKindNote EntityKind = "note"
	// EntityKindFolder marks a folder sync record.
	EntityKindFolder EntityKind = "folder"
)

// ParseEntityKind validates raw input and returns an EntityKind.
func ParseEntityKind(rawInput string) (EntityKind, error) {
	switch EntityKind(strings.ToLower(strings.TrimSpace(rawInput))) {
	case EntityKindNote:
		return EntityKindNote, nil
	case EntityKindFolder:
		return EntityKindFolder, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEntityKind, rawInput)
	}
}

// String returns the kind marker.
func (kind EntityKind) String() string {
	return string(kind)
}

// SyncStatus enumerates per-entity sync states.
type SyncStatus string

const (
	// SyncStatusPending marks local changes awaiting a push.
	SyncStatusPending SyncStatus = "pending"
	// SyncStatusSynced marks an entity whose content hash matches the remote.
	SyncStatusSynced SyncStatus = "synced"
	// SyncStatusConflict marks an unresolved version conflict.
	SyncStatusConflict SyncStatus = "conflict"
	// SyncStatusError marks an entity whose last sync attempt failed.
	SyncStatusError SyncStatus = "error"
)

// ParseSyncStatus validates raw input and returns a SyncStatus.
func ParseSyncStatus(rawInput string) (SyncStatus, error) {
	switch SyncStatus(strings.ToLower(strings.TrimSpace(rawInput))) {
	case SyncStatusPending:
		return SyncStatusPending, nil
	case SyncStatusSynced:
		return SyncStatusSynced, nil
	case SyncStatusConflict:
		return SyncStatusConflict, nil
	case SyncStatusError:
		return SyncStatusError, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSyncStatus, rawInput)
	}
}

// String returns the status marker.
func (status SyncStatus) String() string {
	return string(status)
}

// UploadStatus enumerates pending image upload states.
type UploadStatus string

const (
	// UploadStatusPending marks an upload awaiting its first attempt.
	UploadStatusPending UploadStatus = "pending"
	// UploadStatusUploading marks an upload whose attach call is in flight.
	UploadStatusUploading UploadStatus = "uploading"
	// UploadStatusFailed marks an upload waiting out its backoff deadline.
	UploadStatusFailed UploadStatus = "failed"
)

// String returns the status marker.
func (status UploadStatus) String() string {
	return string(status)
}

// SyncOperation tags the phase during which a sync error was recorded.
type SyncOperation string

const (
	// SyncOperationPush covers local-to-remote write failures.
	SyncOperationPush SyncOperation = "push"
	// SyncOperationPull covers remote-change processing failures.
	SyncOperationPull SyncOperation = "pull"
	// SyncOperationUpload covers attachment upload failures.
	SyncOperationUpload SyncOperation = "upload"
)

// String returns the operation marker.
func (op SyncOperation) String() string {
	return string(op)
}

// NoteMetadata carries the sync-relevant metadata of a note. Created and
// updated timestamps are excluded from content fingerprints.
type NoteMetadata struct {
	Title            string
	FolderID         FolderID
	Tags             []string
	CreatedAtSeconds int64
	UpdatedAtSeconds int64
	ExcludeFromAI    bool
	IsPinned         bool
	CircleIDs        []string
	Recipients       []string
	LastEditedBy     string
}
