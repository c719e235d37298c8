// Package api exposes the sync core to the local POS UI: a REST surface
// over the queue and a WebSocket hub for live sync events. The listener
// binds to localhost only; there is no auth layer.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	apperrors "github.com/openpharm/posync/internal/errors"
	"github.com/openpharm/posync/internal/logging"
	"github.com/openpharm/posync/internal/models"
	syncmgr "github.com/openpharm/posync/internal/sync"
)

// SyncController is the slice of the sync manager the handlers use.
type SyncController interface {
	Enqueue(op models.OperationType, endpoint string,
		payload, metadata map[string]interface{}, priority models.Priority) string
	GetStatus() syncmgr.Status
	ListItems() []*models.SyncItem
	GetItem(id string) (*models.SyncItem, bool)
	RetryItem(id string) error
	ResolveConflict(id, winner string) error
	ClearFailedItems() int
	ClearQueue()
}

// Server holds the handler dependencies.
type Server struct {
	manager SyncController
	hub     *WSHub
}

// NewServer creates a Server over the given manager and hub.
func NewServer(manager SyncController, hub *WSHub) *Server {
	return &Server{manager: manager, hub: hub}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/api/health", s.handleHealth)
	r.Route("/api/sync", func(r chi.Router) {
		r.Post("/items", s.handleEnqueue)
		r.Get("/items", s.handleListItems)
		r.Get("/items/{id}", s.handleGetItem)
		r.Post("/items/{id}/retry", s.handleRetryItem)
		r.Post("/items/{id}/resolve", s.handleResolveConflict)
		r.Get("/status", s.handleStatus)
		r.Post("/failed/clear", s.handleClearFailed)
		r.Post("/queue/clear", s.handleClearQueue)
	})
	r.Get("/ws", HandleWebSocket(s.hub))

	return r
}

type enqueueRequest struct {
	Operation string                 `json:"operation"`
	Endpoint  string                 `json:"endpoint"`
	Payload   map[string]interface{} `json:"payload"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Priority  string                 `json:"priority,omitempty"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, apperrors.ErrInvalid, "invalid request body")
		return
	}
	if req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, apperrors.ErrInvalid, "endpoint is required")
		return
	}

	op := models.OperationType(req.Operation)
	if !op.Valid() {
		writeError(w, http.StatusBadRequest, apperrors.ErrInvalid, "unknown operation type")
		return
	}

	priority := models.Priority(req.Priority)
	if req.Priority == "" {
		priority = models.PriorityMedium
	} else if !priority.Valid() {
		writeError(w, http.StatusBadRequest, apperrors.ErrInvalid, "unknown priority")
		return
	}

	id := s.manager.Enqueue(op, req.Endpoint, req.Payload, req.Metadata, priority)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"item_id": id,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.GetStatus())
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items := s.manager.ListItems()
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := make([]*models.SyncItem, 0, len(items))
		for _, item := range items {
			if string(item.Status) == status {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	item, ok := s.manager.GetItem(id)
	if !ok {
		writeError(w, http.StatusNotFound, apperrors.ErrItemNotFound, "sync item not found")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleRetryItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.manager.RetryItem(id); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"item_id": id,
	})
}

type resolveRequest struct {
	Winner string `json:"winner"`
}

func (s *Server) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, apperrors.ErrInvalid, "invalid request body")
		return
	}
	if err := s.manager.ResolveConflict(id, req.Winner); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"item_id": id,
		"winner":  req.Winner,
	})
}

func (s *Server) handleClearFailed(w http.ResponseWriter, r *http.Request) {
	cleared := s.manager.ClearFailedItems()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"cleared": cleared,
	})
}

func (s *Server) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	s.manager.ClearQueue()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UnixMilli(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to encode API response", err, nil)
	}
}

func writeError(w http.ResponseWriter, status int, code apperrors.ErrorCode, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": message,
		"code":  string(code),
	})
}

// writeAppError maps application error codes to HTTP statuses.
func writeAppError(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		writeError(w, http.StatusInternalServerError, apperrors.ErrInternal, err.Error())
		return
	}

	status := http.StatusInternalServerError
	switch appErr.Code {
	case apperrors.ErrItemNotFound, apperrors.ErrNotFound:
		status = http.StatusNotFound
	case apperrors.ErrInvalid:
		status = http.StatusBadRequest
	case apperrors.ErrItemNotParked, apperrors.ErrItemNotInFlight:
		status = http.StatusConflict
	}
	writeError(w, status, appErr.Code, appErr.Message)
}
