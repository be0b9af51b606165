// Package remote declares the capability interfaces the sync engine consumes
// from the multi-device file store. Implementations live in subpackages; the
// engine depends only on these contracts.
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/inkwellhq/inkwell-sync/internal/model"
)

// ErrNotFound indicates the remote store has no such entity.
var ErrNotFound = errors.New("remote: not found")

// FolderContent is the pushed representation of a folder.
type FolderContent struct {
	FolderID string
	Name     string
}

// RemoteFolder is the remote store's view of a folder.
type RemoteFolder struct {
	UniqueID   string
	Name       string
	FileID     model.RemoteFileID
	VersionTag model.VersionTag
	UpdatedAt  time.Time
}

// NoteContent is the pushed representation of a note: metadata plus the
// canonical CRDT fragment.
type NoteContent struct {
	DocID    string
	Metadata model.NoteMetadata
	Fragment []byte
}

// RemoteNote is the remote store's view of a note. The CRDT payload is
// fetched separately via FetchPayload.
type RemoteNote struct {
	UniqueID   string
	FileID     model.RemoteFileID
	VersionTag model.VersionTag
	Metadata   model.NoteMetadata
	KeyHeader  string
	UpdatedAt  time.Time
}

// FolderPushReceipt reports the outcome of a folder write. A non-nil Conflict
// means the remote rejected the write and carries the fresh remote state; the
// caller decides whether and how to retry.
type FolderPushReceipt struct {
	FileID     model.RemoteFileID
	VersionTag model.VersionTag
	Conflict   *RemoteFolder
}

// NotePushReceipt reports the outcome of a note write. A non-nil Conflict
// means the optimistic-concurrency check failed and carries the fresh remote
// state for a merge-and-retry decision by the caller.
type NotePushReceipt struct {
	FileID     model.RemoteFileID
	VersionTag model.VersionTag
	KeyHeader  string
	Conflict   *RemoteNote
}

// FolderStore is the remote write surface for folders.
type FolderStore interface {
	Create(ctx context.Context, content FolderContent) (FolderPushReceipt, error)
	Update(ctx context.Context, fileID model.RemoteFileID, versionTag model.VersionTag, content FolderContent) (FolderPushReceipt, error)
	Delete(ctx context.Context, fileID model.RemoteFileID) error
	FetchByUniqueID(ctx context.Context, folderID string) (*RemoteFolder, error)
}

// NoteStore is the remote write surface for notes.
type NoteStore interface {
	Create(ctx context.Context, content NoteContent) (NotePushReceipt, error)
	Update(ctx context.Context, fileID model.RemoteFileID, versionTag model.VersionTag, keyHeader string, content NoteContent) (NotePushReceipt, error)
	Delete(ctx context.Context, fileID model.RemoteFileID) error
	FetchByUniqueID(ctx context.Context, docID string) (*RemoteNote, error)
	FetchPayload(ctx context.Context, fileID model.RemoteFileID, keyHeader string) ([]byte, error)
}

// AttachmentStore attaches binary payloads to an already-created remote file.
type AttachmentStore interface {
	AttachPayload(ctx context.Context, fileID model.RemoteFileID, blob []byte, contentType string) (string, error)
}

// Change is one entry in the remote change feed. Deleted entries are
// tombstones.
type Change struct {
	UniqueID   string
	FileID     model.RemoteFileID
	Kind       model.EntityKind
	VersionTag model.VersionTag
	Name       string
	UpdatedAt  time.Time
	Deleted    bool
}

// ChangePage is one cursor-paginated slice of the change feed. An empty
// NextCursor or a short page ends pagination.
type ChangePage struct {
	Changes    []Change
	NextCursor string
}

// ChangeFeed exposes the remote change history and the push-notification
// inbox side channel.
type ChangeFeed interface {
	Query(ctx context.Context, kind model.EntityKind, since time.Time, cursor string, pageSize int) (ChangePage, error)
	DrainInbox(ctx context.Context) error
}

// Connectivity gates sync passes on network reachability.
type Connectivity interface {
	Online(ctx context.Context) bool
}

// ChangeEvent is one push-delivered notification about a remote entity; the
// debouncer collapses bursts of these per unique id.
type ChangeEvent struct {
	UniqueID   string           `json:"uniqueId"`
	Kind       model.EntityKind `json:"kind"`
	VersionTag model.VersionTag `json:"versionTag"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}
