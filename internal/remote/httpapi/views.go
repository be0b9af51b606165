package httpapi

import (
	"context"

	"github.com/inkwellhq/inkwell-sync/internal/model"
	"github.com/inkwellhq/inkwell-sync/internal/remote"
)

// Folders returns the remote.FolderStore view of the client.
func (c *Client) Folders() remote.FolderStore {
	return folderAPI{client: c}
}

// Notes returns the remote.NoteStore view of the client.
func (c *Client) Notes() remote.NoteStore {
	return noteAPI{client: c}
}

type folderAPI struct {
	client *Client
}

func (a folderAPI) Create(ctx context.Context, content remote.FolderContent) (remote.FolderPushReceipt, error) {
	return a.client.CreateFolder(ctx, content)
}

func (a folderAPI) Update(ctx context.Context, fileID model.RemoteFileID, versionTag model.VersionTag, content remote.FolderContent) (remote.FolderPushReceipt, error) {
	return a.client.UpdateFolder(ctx, fileID, versionTag, content)
}

func (a folderAPI) Delete(ctx context.Context, fileID model.RemoteFileID) error {
	return a.client.DeleteFile(ctx, fileID)
}

func (a folderAPI) FetchByUniqueID(ctx context.Context, folderID string) (*remote.RemoteFolder, error) {
	return a.client.FetchFolderByUniqueID(ctx, folderID)
}

type noteAPI struct {
	client *Client
}

func (a noteAPI) Create(ctx context.Context, content remote.NoteContent) (remote.NotePushReceipt, error) {
	return a.client.CreateNote(ctx, content)
}

func (a noteAPI) Update(ctx context.Context, fileID model.RemoteFileID, versionTag model.VersionTag, keyHeader string, content remote.NoteContent) (remote.NotePushReceipt, error) {
	return a.client.UpdateNote(ctx, fileID, versionTag, keyHeader, content)
}

func (a noteAPI) Delete(ctx context.Context, fileID model.RemoteFileID) error {
	return a.client.DeleteFile(ctx, fileID)
}

func (a noteAPI) FetchByUniqueID(ctx context.Context, docID string) (*remote.RemoteNote, error) {
	return a.client.FetchNoteByUniqueID(ctx, docID)
}

func (a noteAPI) FetchPayload(ctx context.Context, fileID model.RemoteFileID, keyHeader string) ([]byte, error) {
	return a.client.FetchPayload(ctx, fileID, keyHeader)
}
