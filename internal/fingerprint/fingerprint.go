// Package fingerprint derives deterministic content hashes used to detect
// that nothing materially changed and skip remote round-trips.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/inkwellhq/inkwell-sync/internal/model"
)

// blobAbsentSentinel stands in for a missing CRDT blob so that "no blob" and
// "empty blob" hash differently from each other and from real content.
const blobAbsentSentinel = "\x00inkwell:no-blob\x00"

// canonicalMetadata is the hashed projection of note metadata. Created and
// updated timestamps are deliberately excluded: they move on every touch and
// would defeat deduplication. Field order is fixed by the struct; tags are
// sorted before serialization.
type canonicalMetadata struct {
	Title         string   `json:"title"`
	FolderID      string   `json:"folderId"`
	Tags          []string `json:"tags"`
	ExcludeFromAI bool     `json:"excludeFromAI"`
	IsPinned      bool     `json:"isPinned"`
}

// NoteHash fingerprints note metadata plus the canonical CRDT blob bytes.
func NoteHash(metadata model.NoteMetadata, crdtBlob []byte) (string, error) {
	tags := append([]string(nil), metadata.Tags...)
	sort.Strings(tags)
	if tags == nil {
		tags = []string{}
	}

	canonical, err := json.Marshal(canonicalMetadata{
		Title:         metadata.Title,
		FolderID:      metadata.FolderID.String(),
		Tags:          tags,
		ExcludeFromAI: metadata.ExcludeFromAI,
		IsPinned:      metadata.IsPinned,
	})
	if err != nil {
		return "", err
	}

	digest := sha256.New()
	digest.Write(canonical)
	if crdtBlob == nil {
		digest.Write([]byte(blobAbsentSentinel))
	} else {
		digest.Write(crdtBlob)
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}

// FolderHash fingerprints the sync-relevant fields of a folder.
func FolderHash(name string) string {
	sum := sha256.Sum256([]byte("folder\x00" + name))
	return hex.EncodeToString(sum[:])
}
