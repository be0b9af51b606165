// Package server exposes the daemon's local control API: pairing, sync
// status and triggers, the error list, and a server-sent event stream that
// mirrors the in-process broadcast hub.
package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/inkwellhq/inkwell-sync/internal/auth"
	"github.com/inkwellhq/inkwell-sync/internal/broadcast"
	"github.com/inkwellhq/inkwell-sync/internal/localstore"
	"github.com/inkwellhq/inkwell-sync/internal/model"
	"github.com/inkwellhq/inkwell-sync/internal/syncer"
)

const clientNameContextKey = "inkwell_client_name"

var (
	errMissingTokens = errors.New("control token service required")
	errMissingSyncer = errors.New("sync service required")
	errMissingStore  = errors.New("local store required")
	errMissingHub    = errors.New("broadcast hub required")
	errInvalidBearer = errors.New("authorization header missing or invalid")
)

// Dependencies wires the control API to the rest of the daemon.
type Dependencies struct {
	Tokens *auth.ControlTokens
	Syncer *syncer.Service
	Store  *localstore.Store
	Hub    *broadcast.Hub
	Logger *zap.Logger
}

// NewHTTPHandler builds the control-API router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokens
	}
	if deps.Syncer == nil {
		return nil, errMissingSyncer
	}
	if deps.Store == nil {
		return nil, errMissingStore
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens: deps.Tokens,
		syncer: deps.Syncer,
		store:  deps.Store,
		hub:    deps.Hub,
		logger: logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.POST("/v1/auth/pair", handler.handlePair)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/v1/sync/status", handler.handleStatus)
	protected.POST("/v1/sync/run", handler.handleRun)
	protected.POST("/v1/notes/:docId/sync", handler.handleNoteSync)
	protected.GET("/v1/sync/errors", handler.handleErrors)
	protected.GET("/v1/events", handler.handleEvents)

	return router, nil
}

type httpHandler struct {
	tokens *auth.ControlTokens
	syncer *syncer.Service
	store  *localstore.Store
	hub    *broadcast.Hub
	logger *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type pairRequestPayload struct {
	PairingSecret string `json:"pairing_secret"`
	ClientName    string `json:"client_name"`
}

type pairResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handlePair(c *gin.Context) {
	var request pairRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.ClientName) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	token, expiresIn, err := h.tokens.Pair(request.PairingSecret, request.ClientName)
	if err != nil {
		h.logger.Warn("pairing rejected", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, pairResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type statusResponsePayload struct {
	Status           string `json:"status"`
	PendingCount     int64  `json:"pending_count"`
	LastSyncSeconds  int64  `json:"last_sync_s"`
	WatermarkPresent bool   `json:"watermark_present"`
}

func (h *httpHandler) handleStatus(c *gin.Context) {
	pending, err := h.store.CountUnsynced(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to count unsynced entities", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status_failed"})
		return
	}
	watermark, found, err := h.store.LoadWatermark(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to load watermark", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status_failed"})
		return
	}
	response := statusResponsePayload{
		Status:           string(h.syncer.Status()),
		PendingCount:     pending,
		WatermarkPresent: found,
	}
	if found {
		response.LastSyncSeconds = watermark.Unix()
	}
	c.JSON(http.StatusOK, response)
}

type runResponsePayload struct {
	Skipped       bool     `json:"skipped"`
	SkipReason    string   `json:"skip_reason,omitempty"`
	FoldersPulled int      `json:"folders_pulled"`
	NotesPulled   int      `json:"notes_pulled"`
	FoldersPushed int      `json:"folders_pushed"`
	NotesPushed   int      `json:"notes_pushed"`
	UploadsSent   int      `json:"uploads_sent"`
	EntityErrors  int      `json:"entity_errors"`
	Errors        []string `json:"errors,omitempty"`
}

func (h *httpHandler) handleRun(c *gin.Context) {
	report, err := h.syncer.Sync(c.Request.Context())
	if err != nil {
		h.logger.Error("manual sync pass failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync_failed"})
		return
	}
	c.JSON(http.StatusOK, runResponsePayload{
		Skipped:       report.Skipped,
		SkipReason:    report.SkipReason,
		FoldersPulled: report.FoldersPulled,
		NotesPulled:   report.NotesPulled,
		FoldersPushed: report.FoldersPushed,
		NotesPushed:   report.NotesPushed,
		UploadsSent:   report.UploadsSent,
		EntityErrors:  report.EntityErrors,
		Errors:        report.Errors,
	})
}

func (h *httpHandler) handleNoteSync(c *gin.Context) {
	docID, err := model.NewNoteID(c.Param("docId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_doc_id"})
		return
	}
	if err := h.syncer.SyncNote(c.Request.Context(), docID); err != nil {
		h.logger.Error("note fast-path sync failed", zap.Error(err), zap.String("doc_id", docID.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type syncErrorPayload struct {
	EntityKind        string `json:"entity_kind"`
	EntityID          string `json:"entity_id"`
	Operation         string `json:"operation"`
	ErrorMessage      string `json:"error_message"`
	RetryCount        int64  `json:"retry_count"`
	RecordedAtSeconds int64  `json:"recorded_at_s"`
}

func (h *httpHandler) handleErrors(c *gin.Context) {
	rows, err := h.store.ListSyncErrors(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list sync errors", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	payload := make([]syncErrorPayload, 0, len(rows))
	for _, row := range rows {
		payload = append(payload, syncErrorPayload{
			EntityKind:        row.EntityKind,
			EntityID:          row.EntityID,
			Operation:         row.Operation,
			ErrorMessage:      row.ErrorMessage,
			RetryCount:        row.RetryCount,
			RecordedAtSeconds: row.RecordedAtSeconds,
		})
	}
	c.JSON(http.StatusOK, gin.H{"errors": payload})
}

// handleEvents streams hub messages as server-sent events until the client
// disconnects.
func (h *httpHandler) handleEvents(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming_unsupported"})
		return
	}

	stream, cancel := h.hub.Subscribe(c.Request.Context())
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case message, open := <-stream:
			if !open {
				return
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: {\"docId\":%q,\"timestamp\":%d}\n\n",
				message.Kind, message.DocID, message.Timestamp.Unix())
			flusher.Flush()
		}
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	clientName, err := h.tokens.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrMissingToken) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidBearer.Error()})
			return
		}
		// Expired tokens are routine client churn, not an attack signal.
		if errors.Is(err, auth.ErrExpiredToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(clientNameContextKey, clientName)
	c.Next()
}
