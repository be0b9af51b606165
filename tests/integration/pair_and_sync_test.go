package integration_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/inkwellhq/inkwell-sync/internal/auth"
	"github.com/inkwellhq/inkwell-sync/internal/broadcast"
	"github.com/inkwellhq/inkwell-sync/internal/crdt"
	"github.com/inkwellhq/inkwell-sync/internal/localstore"
	"github.com/inkwellhq/inkwell-sync/internal/model"
	"github.com/inkwellhq/inkwell-sync/internal/remote/httpapi"
	"github.com/inkwellhq/inkwell-sync/internal/server"
	"github.com/inkwellhq/inkwell-sync/internal/syncer"
)

const (
	pairingSecret   = "integration-secret"
	remoteDocID     = "doc-remote"
	remoteFileID    = "file-remote"
	jsonContentType = "application/json"
)

// stubFileStore is a minimal in-memory rendition of the remote file store
// API: one pre-existing note, a change feed that reports it, and the ping and
// inbox endpoints a sync pass touches.
func stubFileStore(testContext *testing.T, payload []byte) *httptest.Server {
	testContext.Helper()

	envelope := map[string]any{
		"fileId":     remoteFileID,
		"uniqueId":   remoteDocID,
		"kind":       "note",
		"versionTag": "v42",
		"keyHeader":  "kh-remote",
		"updatedAt":  time.Now().UTC().Format(time.RFC3339),
		"metadata": map[string]any{
			"title":      "Remote note",
			"folderId":   model.MainFolderID.String(),
			"tags":       []string{"inbox"},
			"createdAtS": time.Now().Unix() - 60,
			"updatedAtS": time.Now().Unix(),
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/inbox/drain", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/changes", func(w http.ResponseWriter, r *http.Request) {
		response := map[string]any{"changes": []any{}, "nextCursor": ""}
		if r.URL.Query().Get("kind") == "note" {
			response["changes"] = []any{map[string]any{
				"uniqueId":   remoteDocID,
				"fileId":     remoteFileID,
				"kind":       "note",
				"versionTag": "v42",
				"updatedAt":  time.Now().UTC().Format(time.RFC3339),
				"deleted":    false,
			}}
		}
		writeJSON(testContext, w, response)
	})
	mux.HandleFunc("/v1/files/lookup", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("uniqueId") != remoteDocID {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(testContext, w, envelope)
	})
	mux.HandleFunc("/v1/files/"+remoteFileID+"/payload", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(testContext, w, map[string]any{
			"payloadB64": base64.StdEncoding.EncodeToString(payload),
		})
	})

	stub := httptest.NewServer(mux)
	testContext.Cleanup(stub.Close)
	return stub
}

func writeJSON(testContext *testing.T, w http.ResponseWriter, body any) {
	testContext.Helper()
	w.Header().Set("Content-Type", jsonContentType)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		testContext.Errorf("failed to encode response: %v", err)
	}
}

func TestPairAndSyncFlow(testContext *testing.T) {
	gin.SetMode(gin.TestMode)

	var fragment []byte
	err := crdt.WithDocument("replica-remote", func(doc *crdt.Document) error {
		paragraphID, err := doc.Insert(crdt.NodeInput{Kind: crdt.KindParagraph, Order: "a"})
		if err != nil {
			return err
		}
		if _, err := doc.Insert(crdt.NodeInput{Parent: paragraphID, Kind: crdt.KindText, Text: "hello from another device", Order: "a"}); err != nil {
			return err
		}
		encoded, err := doc.Encode()
		if err != nil {
			return err
		}
		fragment = encoded
		return nil
	})
	if err != nil {
		testContext.Fatalf("failed to build fragment: %v", err)
	}

	fileStore := stubFileStore(testContext, fragment)

	db, err := gorm.Open(sqlite.Open("file:integration?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&model.Note{}, &model.Folder{}, &model.NoteUpdate{}, &model.SyncRecord{},
		&model.PendingImageUpload{}, &model.SyncErrorRecord{}, &model.AppState{},
		&model.SearchEntry{},
	); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}

	store, err := localstore.NewStore(localstore.StoreConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to build store: %v", err)
	}
	if err := store.EnsureMainFolder(context.Background()); err != nil {
		testContext.Fatalf("failed to ensure main folder: %v", err)
	}

	client, err := httpapi.NewClient(httpapi.ClientConfig{BaseURL: fileStore.URL})
	if err != nil {
		testContext.Fatalf("failed to build remote client: %v", err)
	}

	hub := broadcast.NewHub()
	testContext.Cleanup(hub.Close)

	service, err := syncer.NewService(syncer.ServiceConfig{
		Store:        store,
		Folders:      client.Folders(),
		Notes:        client.Notes(),
		Attachments:  client,
		Feed:         client,
		Connectivity: client,
		Hub:          hub,
		ReplicaID:    "replica-local",
		FlushGrace:   time.Millisecond,
	})
	if err != nil {
		testContext.Fatalf("failed to build sync service: %v", err)
	}

	tokens, err := auth.NewControlTokens(auth.ControlTokensConfig{
		SigningSecret: []byte(pairingSecret),
	})
	if err != nil {
		testContext.Fatalf("failed to build token service: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens: tokens,
		Syncer: service,
		Store:  store,
		Hub:    hub,
		Logger: zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}
	controlServer := httptest.NewServer(handler)
	defer controlServer.Close()

	// Pair for a bearer token.
	pairBody, _ := json.Marshal(map[string]string{
		"pairing_secret": pairingSecret,
		"client_name":    "integration",
	})
	pairResp, err := http.Post(controlServer.URL+"/v1/auth/pair", jsonContentType, bytes.NewReader(pairBody))
	if err != nil {
		testContext.Fatalf("pair request failed: %v", err)
	}
	defer pairResp.Body.Close()
	if pairResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected pair status: %d", pairResp.StatusCode)
	}
	var pairResult struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(pairResp.Body).Decode(&pairResult); err != nil {
		testContext.Fatalf("failed to decode pair response: %v", err)
	}

	// Trigger a pass; it should pull the remote note cleanly.
	runReq, _ := http.NewRequest(http.MethodPost, controlServer.URL+"/v1/sync/run", http.NoBody)
	runReq.Header.Set("Authorization", "Bearer "+pairResult.AccessToken)
	runResp, err := http.DefaultClient.Do(runReq)
	if err != nil {
		testContext.Fatalf("run request failed: %v", err)
	}
	defer runResp.Body.Close()
	if runResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected run status: %d", runResp.StatusCode)
	}
	var runResult struct {
		Skipped      bool `json:"skipped"`
		NotesPulled  int  `json:"notes_pulled"`
		EntityErrors int  `json:"entity_errors"`
	}
	if err := json.NewDecoder(runResp.Body).Decode(&runResult); err != nil {
		testContext.Fatalf("failed to decode run response: %v", err)
	}
	if runResult.Skipped || runResult.NotesPulled != 1 || runResult.EntityErrors != 0 {
		testContext.Fatalf("unexpected run result: %+v", runResult)
	}

	// The note is materialized locally with derived plain text.
	note, err := store.GetNote(context.Background(), model.NoteID(remoteDocID))
	if err != nil {
		testContext.Fatalf("expected pulled note locally: %v", err)
	}
	if note.Title != "Remote note" || note.PlainText == "" {
		testContext.Fatalf("unexpected note state: %+v", note)
	}

	// The watermark advanced after the clean pass.
	statusReq, _ := http.NewRequest(http.MethodGet, controlServer.URL+"/v1/sync/status", http.NoBody)
	statusReq.Header.Set("Authorization", "Bearer "+pairResult.AccessToken)
	statusResp, err := http.DefaultClient.Do(statusReq)
	if err != nil {
		testContext.Fatalf("status request failed: %v", err)
	}
	defer statusResp.Body.Close()
	if statusResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected status code: %d", statusResp.StatusCode)
	}
	var statusResult struct {
		Status           string `json:"status"`
		WatermarkPresent bool   `json:"watermark_present"`
	}
	if err := json.NewDecoder(statusResp.Body).Decode(&statusResult); err != nil {
		testContext.Fatalf("failed to decode status response: %v", err)
	}
	if statusResult.Status != "idle" || !statusResult.WatermarkPresent {
		testContext.Fatalf("unexpected status result: %+v", statusResult)
	}
}
