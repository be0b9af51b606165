package fingerprint

import (
	"testing"

	"github.com/inkwellhq/inkwell-sync/internal/model"
)

func baseMetadata() model.NoteMetadata {
	return model.NoteMetadata{
		Title:            "Test Note",
		FolderID:         model.MainFolderID,
		Tags:             []string{},
		CreatedAtSeconds: 1672531200, // 2023-01-01
		UpdatedAtSeconds: 1672531200,
		ExcludeFromAI:    false,
	}
}

func TestNoteHashIgnoresTimestamps(testContext *testing.T) {
	blob := []byte{1, 2, 3}
	original := mustNoteHash(testContext, baseMetadata(), blob)

	touched := baseMetadata()
	touched.CreatedAtSeconds = 1704067200 // 2024-01-01
	touched.UpdatedAtSeconds = 1704067200
	if mustNoteHash(testContext, touched, blob) != original {
		testContext.Fatalf("expected hash to be invariant under timestamp-only changes")
	}
}

func TestNoteHashChangesWithMaterialFields(testContext *testing.T) {
	blob := []byte{1, 2, 3}
	original := mustNoteHash(testContext, baseMetadata(), blob)

	retitled := baseMetadata()
	retitled.Title = "Renamed Note"
	if mustNoteHash(testContext, retitled, blob) == original {
		testContext.Fatalf("expected title change to alter the hash")
	}

	tagged := baseMetadata()
	tagged.Tags = []string{"work"}
	if mustNoteHash(testContext, tagged, blob) == original {
		testContext.Fatalf("expected tag change to alter the hash")
	}

	if mustNoteHash(testContext, baseMetadata(), []byte{1, 2, 4}) == original {
		testContext.Fatalf("expected blob change to alter the hash")
	}
}

func TestNoteHashIsStableUnderTagOrder(testContext *testing.T) {
	first := baseMetadata()
	first.Tags = []string{"beta", "alpha"}
	second := baseMetadata()
	second.Tags = []string{"alpha", "beta"}
	if mustNoteHash(testContext, first, nil) != mustNoteHash(testContext, second, nil) {
		testContext.Fatalf("expected tag order to be canonicalized before hashing")
	}
}

func TestNoteHashDistinguishesMissingAndEmptyBlob(testContext *testing.T) {
	missing := mustNoteHash(testContext, baseMetadata(), nil)
	empty := mustNoteHash(testContext, baseMetadata(), []byte{})
	if missing == empty {
		testContext.Fatalf("expected missing blob sentinel to differ from empty blob")
	}
}

func TestFolderHashTracksName(testContext *testing.T) {
	if FolderHash("Inbox") == FolderHash("Archive") {
		testContext.Fatalf("expected distinct folder names to hash differently")
	}
	if FolderHash("Inbox") != FolderHash("Inbox") {
		testContext.Fatalf("expected folder hash to be deterministic")
	}
}

func mustNoteHash(testContext *testing.T, metadata model.NoteMetadata, blob []byte) string {
	testContext.Helper()
	hash, err := NoteHash(metadata, blob)
	if err != nil {
		testContext.Fatalf("hash failed: %v", err)
	}
	return hash
}
