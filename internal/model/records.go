package model

// Note models the locally persisted note row. The authoritative body lives in
// the append-only NoteUpdate log; PlainText is denormalized for search and
// previews.
type Note struct {
	DocID            string `gorm:"column:doc_id;primaryKey;size:190;not null"`
	Title            string `gorm:"column:title;type:text;not null;default:''"`
	PlainText        string `gorm:"column:plain_text;type:text;not null;default:''"`
	FolderID         string `gorm:"column:folder_id;size:190;not null;index:idx_notes_folder"`
	TagsJSON         string `gorm:"column:tags_json;type:text;not null;default:'[]'"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
	ExcludeFromAI    bool   `gorm:"column:exclude_from_ai;not null;default:false"`
	IsPinned         bool   `gorm:"column:is_pinned;not null;default:false"`
	CircleIDsJSON    string `gorm:"column:circle_ids_json;type:text;not null;default:'[]'"`
	RecipientsJSON   string `gorm:"column:recipients_json;type:text;not null;default:'[]'"`
	LastEditedBy     string `gorm:"column:last_edited_by;size:190;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// Folder models a locally persisted folder row.
type Folder struct {
	FolderID string `gorm:"column:folder_id;primaryKey;size:190;not null"`
	Name     string `gorm:"column:name;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Folder) TableName() string {
	return "folders"
}

// NoteUpdate stores one append-only CRDT update fragment for a note. The full
// per-note sequence replayed in insertion order reconstructs the document.
type NoteUpdate struct {
	UpdateID         int64  `gorm:"column:update_id;primaryKey;autoIncrement"`
	DocID            string `gorm:"column:doc_id;size:190;not null;index:idx_note_updates_doc"`
	FragmentB64      string `gorm:"column:fragment_b64;type:text;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (NoteUpdate) TableName() string {
	return "note_crdt_updates"
}

// SyncRecord tracks per-entity sync state. An empty RemoteFileID means the
// entity has never been successfully created remotely, so its first push must
// create rather than patch. SyncStatus "synced" implies ContentHash reflects
// exactly the last pushed or pulled content.
type SyncRecord struct {
	EntityKind         string `gorm:"column:entity_kind;primaryKey;size:16;not null"`
	LocalID            string `gorm:"column:local_id;primaryKey;size:190;not null"`
	RemoteFileID       string `gorm:"column:remote_file_id;size:190;not null;default:'';index:idx_sync_records_remote"`
	VersionTag         string `gorm:"column:version_tag;size:190;not null;default:''"`
	ContentHash        string `gorm:"column:content_hash;size:64;not null;default:''"`
	LastSyncedSeconds  int64  `gorm:"column:last_synced_s;not null;default:0"`
	SyncStatus         string `gorm:"column:sync_status;size:16;not null;index:idx_sync_records_status"`
	EncryptedKeyHeader string `gorm:"column:encrypted_key_header;type:text;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (SyncRecord) TableName() string {
	return "sync_records"
}

// PendingImageUpload is a durable retry-queue entry for an image attachment
// that has no remote counterpart yet.
type PendingImageUpload struct {
	UploadID         string `gorm:"column:upload_id;primaryKey;size:190;not null"`
	DocID            string `gorm:"column:doc_id;size:190;not null;index:idx_pending_uploads_doc"`
	Blob             []byte `gorm:"column:blob;not null"`
	ContentType      string `gorm:"column:content_type;size:190;not null"`
	Status           string `gorm:"column:status;size:16;not null"`
	RetryCount       int64  `gorm:"column:retry_count;not null;default:0"`
	NextRetrySeconds int64  `gorm:"column:next_retry_s;not null;default:0;index:idx_pending_uploads_retry"`
	PayloadKey       string `gorm:"column:payload_key;size:190;not null;default:''"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (PendingImageUpload) TableName() string {
	return "pending_image_uploads"
}

// SyncErrorRecord captures the latest failure for an entity and operation.
// Cleared the next time the same entity and operation succeed.
type SyncErrorRecord struct {
	EntityKind        string `gorm:"column:entity_kind;primaryKey;size:16;not null"`
	EntityID          string `gorm:"column:entity_id;primaryKey;size:190;not null"`
	Operation         string `gorm:"column:operation;primaryKey;size:16;not null"`
	ErrorMessage      string `gorm:"column:error_message;type:text;not null"`
	RetryCount        int64  `gorm:"column:retry_count;not null;default:0"`
	RecordedAtSeconds int64  `gorm:"column:recorded_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (SyncErrorRecord) TableName() string {
	return "sync_errors"
}

// AppState is a keyed value row for engine-level state such as the pull
// watermark.
type AppState struct {
	Key   string `gorm:"column:key;primaryKey;size:190;not null"`
	Value string `gorm:"column:value;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (AppState) TableName() string {
	return "app_state"
}

// SearchEntry is the denormalized search-index row derived from CRDT state.
type SearchEntry struct {
	DocID            string `gorm:"column:doc_id;primaryKey;size:190;not null"`
	Title            string `gorm:"column:title;type:text;not null;default:''"`
	PlainText        string `gorm:"column:plain_text;type:text;not null;default:''"`
	FolderID         string `gorm:"column:folder_id;size:190;not null;index:idx_search_entries_folder"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (SearchEntry) TableName() string {
	return "search_entries"
}
