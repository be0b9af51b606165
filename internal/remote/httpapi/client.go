// Package httpapi implements the remote capability interfaces over the file
// store's JSON HTTP API.
package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/inkwellhq/inkwell-sync/internal/model"
	"github.com/inkwellhq/inkwell-sync/internal/remote"
)

var (
	errMissingBaseURL = errors.New("httpapi: base url is required")
	noOpLogger        = zap.NewNop()
)

// ErrRemoteStatus indicates a non-success HTTP status from the file store.
var ErrRemoteStatus = errors.New("httpapi: unexpected remote status")

// ClientConfig describes one file-store connection.
type ClientConfig struct {
	BaseURL     string
	AccessToken string
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// Client talks to the remote file store. It implements remote.FolderStore,
// remote.NoteStore, remote.AttachmentStore, remote.ChangeFeed, and
// remote.Connectivity.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewClient validates the configuration and returns a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Client{
		baseURL:     baseURL,
		accessToken: cfg.AccessToken,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

type fileEnvelope struct {
	FileID     string            `json:"fileId"`
	UniqueID   string            `json:"uniqueId"`
	Kind       string            `json:"kind"`
	VersionTag string            `json:"versionTag"`
	Name       string            `json:"name,omitempty"`
	Metadata   *metadataEnvelope `json:"metadata,omitempty"`
	KeyHeader  string            `json:"keyHeader,omitempty"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

type metadataEnvelope struct {
	Title         string   `json:"title"`
	FolderID      string   `json:"folderId"`
	Tags          []string `json:"tags"`
	CreatedAtS    int64    `json:"createdAtS"`
	UpdatedAtS    int64    `json:"updatedAtS"`
	ExcludeFromAI bool     `json:"excludeFromAI"`
	IsPinned      bool     `json:"isPinned"`
	CircleIDs     []string `json:"circleIds,omitempty"`
	Recipients    []string `json:"recipients,omitempty"`
	LastEditedBy  string   `json:"lastEditedBy,omitempty"`
}

type writeRequest struct {
	UniqueID   string            `json:"uniqueId"`
	Kind       string            `json:"kind"`
	Name       string            `json:"name,omitempty"`
	Metadata   *metadataEnvelope `json:"metadata,omitempty"`
	PayloadB64 string            `json:"payloadB64,omitempty"`
	VersionTag string            `json:"versionTag,omitempty"`
	KeyHeader  string            `json:"keyHeader,omitempty"`
}

func metadataToEnvelope(metadata model.NoteMetadata) *metadataEnvelope {
	return &metadataEnvelope{
		Title:         metadata.Title,
		FolderID:      metadata.FolderID.String(),
		Tags:          metadata.Tags,
		CreatedAtS:    metadata.CreatedAtSeconds,
		UpdatedAtS:    metadata.UpdatedAtSeconds,
		ExcludeFromAI: metadata.ExcludeFromAI,
		IsPinned:      metadata.IsPinned,
		CircleIDs:     metadata.CircleIDs,
		Recipients:    metadata.Recipients,
		LastEditedBy:  metadata.LastEditedBy,
	}
}

func envelopeToMetadata(envelope *metadataEnvelope) model.NoteMetadata {
	if envelope == nil {
		return model.NoteMetadata{}
	}
	return model.NoteMetadata{
		Title:            envelope.Title,
		FolderID:         model.FolderID(envelope.FolderID),
		Tags:             envelope.Tags,
		CreatedAtSeconds: envelope.CreatedAtS,
		UpdatedAtSeconds: envelope.UpdatedAtS,
		ExcludeFromAI:    envelope.ExcludeFromAI,
		IsPinned:         envelope.IsPinned,
		CircleIDs:        envelope.CircleIDs,
		Recipients:       envelope.Recipients,
		LastEditedBy:     envelope.LastEditedBy,
	}
}

func envelopeToRemoteFolder(envelope fileEnvelope) *remote.RemoteFolder {
	return &remote.RemoteFolder{
		UniqueID:   envelope.UniqueID,
		Name:       envelope.Name,
		FileID:     model.RemoteFileID(envelope.FileID),
		VersionTag: model.VersionTag(envelope.VersionTag),
		UpdatedAt:  envelope.UpdatedAt,
	}
}

func envelopeToRemoteNote(envelope fileEnvelope) *remote.RemoteNote {
	return &remote.RemoteNote{
		UniqueID:   envelope.UniqueID,
		FileID:     model.RemoteFileID(envelope.FileID),
		VersionTag: model.VersionTag(envelope.VersionTag),
		Metadata:   envelopeToMetadata(envelope.Metadata),
		KeyHeader:  envelope.KeyHeader,
		UpdatedAt:  envelope.UpdatedAt,
	}
}

// CreateFolder pushes a new folder file.
func (c *Client) CreateFolder(ctx context.Context, content remote.FolderContent) (remote.FolderPushReceipt, error) {
	request := writeRequest{
		UniqueID: content.FolderID,
		Kind:     model.EntityKindFolder.String(),
		Name:     content.Name,
	}
	envelope, conflict, err := c.writeFile(ctx, http.MethodPost, "/v1/files", request)
	if err != nil {
		return remote.FolderPushReceipt{}, err
	}
	if conflict != nil {
		return remote.FolderPushReceipt{Conflict: envelopeToRemoteFolder(*conflict)}, nil
	}
	return remote.FolderPushReceipt{
		FileID:     model.RemoteFileID(envelope.FileID),
		VersionTag: model.VersionTag(envelope.VersionTag),
	}, nil
}

// UpdateFolder patches an existing folder file under its version tag.
func (c *Client) UpdateFolder(ctx context.Context, fileID model.RemoteFileID, versionTag model.VersionTag, content remote.FolderContent) (remote.FolderPushReceipt, error) {
	request := writeRequest{
		UniqueID:   content.FolderID,
		Kind:       model.EntityKindFolder.String(),
		Name:       content.Name,
		VersionTag: versionTag.String(),
	}
	envelope, conflict, err := c.writeFile(ctx, http.MethodPatch, "/v1/files/"+url.PathEscape(fileID.String()), request)
	if err != nil {
		return remote.FolderPushReceipt{}, err
	}
	if conflict != nil {
		return remote.FolderPushReceipt{Conflict: envelopeToRemoteFolder(*conflict)}, nil
	}
	return remote.FolderPushReceipt{
		FileID:     model.RemoteFileID(envelope.FileID),
		VersionTag: model.VersionTag(envelope.VersionTag),
	}, nil
}

// CreateNote pushes a new note file with its canonical fragment.
func (c *Client) CreateNote(ctx context.Context, content remote.NoteContent) (remote.NotePushReceipt, error) {
	request := writeRequest{
		UniqueID:   content.DocID,
		Kind:       model.EntityKindNote.String(),
		Metadata:   metadataToEnvelope(content.Metadata),
		PayloadB64: base64.StdEncoding.EncodeToString(content.Fragment),
	}
	envelope, conflict, err := c.writeFile(ctx, http.MethodPost, "/v1/files", request)
	if err != nil {
		return remote.NotePushReceipt{}, err
	}
	if conflict != nil {
		return remote.NotePushReceipt{Conflict: envelopeToRemoteNote(*conflict)}, nil
	}
	return remote.NotePushReceipt{
		FileID:     model.RemoteFileID(envelope.FileID),
		VersionTag: model.VersionTag(envelope.VersionTag),
		KeyHeader:  envelope.KeyHeader,
	}, nil
}

// UpdateNote patches an existing note file under its version tag, reusing the
// cached key header to avoid a redundant header fetch.
func (c *Client) UpdateNote(ctx context.Context, fileID model.RemoteFileID, versionTag model.VersionTag, keyHeader string, content remote.NoteContent) (remote.NotePushReceipt, error) {
	request := writeRequest{
		UniqueID:   content.DocID,
		Kind:       model.EntityKindNote.String(),
		Metadata:   metadataToEnvelope(content.Metadata),
		PayloadB64: base64.StdEncoding.EncodeToString(content.Fragment),
		VersionTag: versionTag.String(),
		KeyHeader:  keyHeader,
	}
	envelope, conflict, err := c.writeFile(ctx, http.MethodPatch, "/v1/files/"+url.PathEscape(fileID.String()), request)
	if err != nil {
		return remote.NotePushReceipt{}, err
	}
	if conflict != nil {
		return remote.NotePushReceipt{Conflict: envelopeToRemoteNote(*conflict)}, nil
	}
	return remote.NotePushReceipt{
		FileID:     model.RemoteFileID(envelope.FileID),
		VersionTag: model.VersionTag(envelope.VersionTag),
		KeyHeader:  envelope.KeyHeader,
	}, nil
}

// DeleteFile removes a remote file.
func (c *Client) DeleteFile(ctx context.Context, fileID model.RemoteFileID) error {
	response, err := c.do(ctx, http.MethodDelete, "/v1/files/"+url.PathEscape(fileID.String()), nil)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode == http.StatusNotFound {
		return nil
	}
	return checkStatus(response)
}

// FetchFolderByUniqueID looks a folder up by its stable unique id.
func (c *Client) FetchFolderByUniqueID(ctx context.Context, folderID string) (*remote.RemoteFolder, error) {
	envelope, err := c.lookup(ctx, model.EntityKindFolder, folderID)
	if err != nil {
		return nil, err
	}
	if envelope == nil {
		return nil, nil
	}
	return envelopeToRemoteFolder(*envelope), nil
}

// FetchNoteByUniqueID looks a note up by its stable document id.
func (c *Client) FetchNoteByUniqueID(ctx context.Context, docID string) (*remote.RemoteNote, error) {
	envelope, err := c.lookup(ctx, model.EntityKindNote, docID)
	if err != nil {
		return nil, err
	}
	if envelope == nil {
		return nil, nil
	}
	return envelopeToRemoteNote(*envelope), nil
}

// FetchPayload downloads a note's CRDT payload bytes.
func (c *Client) FetchPayload(ctx context.Context, fileID model.RemoteFileID, keyHeader string) ([]byte, error) {
	path := "/v1/files/" + url.PathEscape(fileID.String()) + "/payload"
	response, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()
	if response.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err := checkStatus(response); err != nil {
		return nil, err
	}
	var payload struct {
		PayloadB64 string `json:"payloadB64"`
	}
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(payload.PayloadB64)
}

// AttachPayload uploads an attachment blob to an existing remote file.
func (c *Client) AttachPayload(ctx context.Context, fileID model.RemoteFileID, blob []byte, contentType string) (string, error) {
	request := struct {
		BlobB64     string `json:"blobB64"`
		ContentType string `json:"contentType"`
	}{
		BlobB64:     base64.StdEncoding.EncodeToString(blob),
		ContentType: contentType,
	}
	path := "/v1/files/" + url.PathEscape(fileID.String()) + "/attachments"
	response, err := c.do(ctx, http.MethodPost, path, request)
	if err != nil {
		return "", err
	}
	defer response.Body.Close()
	if err := checkStatus(response); err != nil {
		return "", err
	}
	var receipt struct {
		PayloadKey string `json:"payloadKey"`
	}
	if err := json.NewDecoder(response.Body).Decode(&receipt); err != nil {
		return "", err
	}
	return receipt.PayloadKey, nil
}

// Query pages through the change feed for one entity kind.
func (c *Client) Query(ctx context.Context, kind model.EntityKind, since time.Time, cursor string, pageSize int) (remote.ChangePage, error) {
	values := url.Values{}
	values.Set("kind", kind.String())
	values.Set("since", strconv.FormatInt(since.UTC().Unix(), 10))
	values.Set("limit", strconv.Itoa(pageSize))
	if cursor != "" {
		values.Set("cursor", cursor)
	}
	response, err := c.do(ctx, http.MethodGet, "/v1/changes?"+values.Encode(), nil)
	if err != nil {
		return remote.ChangePage{}, err
	}
	defer response.Body.Close()
	if err := checkStatus(response); err != nil {
		return remote.ChangePage{}, err
	}

	var page struct {
		Changes []struct {
			UniqueID   string    `json:"uniqueId"`
			FileID     string    `json:"fileId"`
			Kind       string    `json:"kind"`
			VersionTag string    `json:"versionTag"`
			Name       string    `json:"name,omitempty"`
			UpdatedAt  time.Time `json:"updatedAt"`
			Deleted    bool      `json:"deleted"`
		} `json:"changes"`
		NextCursor string `json:"nextCursor"`
	}
	if err := json.NewDecoder(response.Body).Decode(&page); err != nil {
		return remote.ChangePage{}, err
	}

	changes := make([]remote.Change, 0, len(page.Changes))
	for _, change := range page.Changes {
		entityKind, err := model.ParseEntityKind(change.Kind)
		if err != nil {
			c.logger.Warn("skipping change with unknown kind",
				zap.String("unique_id", change.UniqueID),
				zap.String("kind", change.Kind))
			continue
		}
		changes = append(changes, remote.Change{
			UniqueID:   change.UniqueID,
			FileID:     model.RemoteFileID(change.FileID),
			Kind:       entityKind,
			VersionTag: model.VersionTag(change.VersionTag),
			Name:       change.Name,
			UpdatedAt:  change.UpdatedAt,
			Deleted:    change.Deleted,
		})
	}
	return remote.ChangePage{Changes: changes, NextCursor: page.NextCursor}, nil
}

// DrainInbox asks the store to fold queued push notifications into the feed.
func (c *Client) DrainInbox(ctx context.Context) error {
	response, err := c.do(ctx, http.MethodPost, "/v1/inbox/drain", nil)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	return checkStatus(response)
}

// Online probes reachability with a cheap ping.
func (c *Client) Online(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	response, err := c.do(probeCtx, http.MethodGet, "/v1/ping", nil)
	if err != nil {
		return false
	}
	defer response.Body.Close()
	return response.StatusCode < http.StatusInternalServerError
}

func (c *Client) lookup(ctx context.Context, kind model.EntityKind, uniqueID string) (*fileEnvelope, error) {
	values := url.Values{}
	values.Set("kind", kind.String())
	values.Set("uniqueId", uniqueID)
	response, err := c.do(ctx, http.MethodGet, "/v1/files/lookup?"+values.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()
	if response.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err := checkStatus(response); err != nil {
		return nil, err
	}
	var envelope fileEnvelope
	if err := json.NewDecoder(response.Body).Decode(&envelope); err != nil {
		return nil, err
	}
	return &envelope, nil
}

// writeFile performs a create or patch. A 409 response decodes the fresh
// remote state and surfaces it as a conflict rather than an error.
func (c *Client) writeFile(ctx context.Context, method, path string, request writeRequest) (fileEnvelope, *fileEnvelope, error) {
	response, err := c.do(ctx, method, path, request)
	if err != nil {
		return fileEnvelope{}, nil, err
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusConflict {
		var fresh fileEnvelope
		if err := json.NewDecoder(response.Body).Decode(&fresh); err != nil {
			return fileEnvelope{}, nil, err
		}
		return fileEnvelope{}, &fresh, nil
	}
	if err := checkStatus(response); err != nil {
		return fileEnvelope{}, nil, err
	}
	var envelope fileEnvelope
	if err := json.NewDecoder(response.Body).Decode(&envelope); err != nil {
		return fileEnvelope{}, nil, err
	}
	return envelope, nil, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
	return c.httpClient.Do(request)
}

func checkStatus(response *http.Response) error {
	if response.StatusCode >= http.StatusOK && response.StatusCode < http.StatusMultipleChoices {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(response.Body, 512))
	return fmt.Errorf("%w: %d %s", ErrRemoteStatus, response.StatusCode, strings.TrimSpace(string(body)))
}
