package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"skipline/internal/models"
	"skipline/internal/store"
	"skipline/internal/ticketing"

	"github.com/google/uuid"
)

type Handler struct {
	service        *ticketing.Service
	vapidPublicKey string
}

type Options struct {
	VAPIDPublicKey string
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
	Entry     *models.Entry `json:"entry,omitempty"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type queueRequest struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	Category         string `json:"category"`
	MaxCapacity      int    `json:"max_capacity"`
	PerPersonMinutes int    `json:"per_person_minutes"`
}

type updateQueueRequest struct {
	Name             *string `json:"name"`
	Description      *string `json:"description"`
	Category         *string `json:"category"`
	MaxCapacity      *int    `json:"max_capacity"`
	PerPersonMinutes *int    `json:"per_person_minutes"`
	Active           *bool   `json:"active"`
}

type joinRequest struct {
	HolderName string `json:"holder_name"`
	Phone      string `json:"phone"`
	Email      string `json:"email"`
	Notes      string `json:"notes"`
}

type subscribeRequest struct {
	Endpoint string          `json:"endpoint"`
	Keys     models.PushKeys `json:"keys"`
	Channel  string          `json:"channel"`
}

type queueDetail struct {
	Queue   models.Queue `json:"queue"`
	Waiting int          `json:"waiting"`
	Called  int          `json:"called"`
}

func NewHandler(service *ticketing.Service, options Options) *Handler {
	return &Handler{
		service:        service,
		vapidPublicKey: strings.TrimSpace(options.VAPIDPublicKey),
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/queues", h.handleQueues)
	mux.HandleFunc("/api/queues/", h.handleQueueRoutes)
	mux.HandleFunc("/api/notifications/vapid-public-key", h.handleVAPIDKey)
	mux.HandleFunc("/api/notifications/subscribe", h.handleSubscribe)
	mux.HandleFunc("/api/notifications/unsubscribe", h.handleUnsubscribe)
	mux.HandleFunc("/api/admin/queues", h.handleCreateQueue)
	mux.HandleFunc("/api/admin/queues/", h.handleAdminQueueRoutes)
	mux.HandleFunc("/api/admin/entries/", h.handleAdminEntryRoutes)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleQueues(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	queues, err := h.service.ListActiveQueues(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if queues == nil {
		queues = []models.Queue{}
	}
	writeJSON(w, http.StatusOK, queues)
}

// handleQueueRoutes serves the public per-queue paths:
//
//	GET    /api/queues/{id}
//	POST   /api/queues/{id}/join
//	GET    /api/queues/{id}/position/{phone}
//	DELETE /api/queues/{id}/entries/{entryId}
func (h *Handler) handleQueueRoutes(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/api/queues/")
	if len(parts) == 0 || !isValidUUID(parts[0]) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "queue id must be a UUID")
		return
	}
	queueID := parts[0]

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleQueueDetail(w, r, queueID)
	case len(parts) == 2 && parts[1] == "join":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleJoin(w, r, queueID)
	case len(parts) == 3 && parts[1] == "position":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handlePosition(w, r, queueID, parts[2])
	case len(parts) == 3 && parts[1] == "entries":
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleLeave(w, r, queueID, parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleQueueDetail(w http.ResponseWriter, r *http.Request, queueID string) {
	queue, err := h.service.GetQueue(r.Context(), queueID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	entries, err := h.service.ActiveEntries(r.Context(), queueID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	detail := queueDetail{Queue: queue}
	for _, entry := range entries {
		switch entry.Status {
		case models.StatusWaiting:
			detail.Waiting++
		case models.StatusCalled:
			detail.Called++
		}
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request, queueID string) {
	var req joinRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	input := ticketing.JoinRequest{
		QueueID:    queueID,
		HolderName: req.HolderName,
		Phone:      req.Phone,
		Email:      req.Email,
		Notes:      req.Notes,
	}
	if session, ok := sessionFromContext(r.Context()); ok {
		input.UserID = session.UserID
	}
	entry, err := h.service.Join(r.Context(), input)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *Handler) handlePosition(w http.ResponseWriter, r *http.Request, queueID, phone string) {
	if !ticketing.ValidPhone(phone) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "phone must be 10 digits")
		return
	}
	position, err := h.service.Lookup(r.Context(), queueID, phone)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, position)
}

func (h *Handler) handleLeave(w http.ResponseWriter, r *http.Request, queueID, entryID string) {
	if !isValidUUID(entryID) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "entry id must be a UUID")
		return
	}
	if err := h.service.CancelInQueue(r.Context(), queueID, entryID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleVAPIDKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.vapidPublicKey == "" {
		writeError(w, requestIDFromRequest(r), http.StatusServiceUnavailable, "push_unavailable", "push notifications are not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.vapidPublicKey})
}

func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	var req subscribeRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	sub := models.PushSubscription{
		UserID:   session.UserID,
		Endpoint: strings.TrimSpace(req.Endpoint),
		Keys:     req.Keys,
		Channel:  strings.TrimSpace(req.Channel),
	}
	if err := h.service.SaveSubscription(r.Context(), sub); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	if err := h.service.RemoveSubscription(r.Context(), session.UserID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCreateQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	var req queueRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	queue, err := h.service.CreateQueue(r.Context(), session.UserID, ticketing.QueueConfig{
		Name:             req.Name,
		Description:      req.Description,
		Category:         req.Category,
		MaxCapacity:      req.MaxCapacity,
		PerPersonMinutes: req.PerPersonMinutes,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, queue)
}

// handleAdminQueueRoutes serves the owner paths under /api/admin/queues/{id}.
func (h *Handler) handleAdminQueueRoutes(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	parts := pathParts(r.URL.Path, "/api/admin/queues/")
	if len(parts) == 0 || !isValidUUID(parts[0]) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "queue id must be a UUID")
		return
	}
	queueID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodPut:
			h.handleUpdateQueue(w, r, queueID, session.UserID)
		case http.MethodDelete:
			if err := h.service.DeactivateQueue(r.Context(), queueID, session.UserID); err != nil {
				h.writeServiceError(w, r, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}
	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch parts[1] {
	case "entries":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		entries, err := h.service.ListEntries(r.Context(), queueID, session.UserID)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		if entries == nil {
			entries = []models.Entry{}
		}
		writeJSON(w, http.StatusOK, entries)
	case "call-next":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		entry, err := h.service.CallNext(r.Context(), queueID, session.UserID)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	case "stats":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if _, err := h.service.RequireQueueOwner(r.Context(), queueID, session.UserID); err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		stats, err := h.service.Stats(r.Context(), queueID)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	case "join-url":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if _, err := h.service.RequireQueueOwner(r.Context(), queueID, session.UserID); err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"join_url": h.service.JoinURL(queueID)})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleUpdateQueue(w http.ResponseWriter, r *http.Request, queueID, ownerID string) {
	var req updateQueueRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	queue, err := h.service.UpdateQueue(r.Context(), queueID, ownerID, ticketing.QueueUpdate{
		Name:             req.Name,
		Description:      req.Description,
		Category:         req.Category,
		MaxCapacity:      req.MaxCapacity,
		PerPersonMinutes: req.PerPersonMinutes,
		Active:           req.Active,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queue)
}

// handleAdminEntryRoutes serves /api/admin/entries/{id}/{action} for the
// owner of the entry's queue.
func (h *Handler) handleAdminEntryRoutes(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	parts := pathParts(r.URL.Path, "/api/admin/entries/")
	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	entryID, action := parts[0], parts[1]
	if !isValidUUID(entryID) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "entry id must be a UUID")
		return
	}
	wantMethod := http.MethodPost
	if action == "history" {
		wantMethod = http.MethodGet
	}
	if r.Method != wantMethod {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, err := h.service.RequireEntryOwner(r.Context(), entryID, session.UserID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	switch action {
	case "served":
		entry, err := h.service.MarkServed(r.Context(), entryID)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	case "missed":
		entry, err := h.service.MarkMissed(r.Context(), entryID)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	case "skip-to":
		if err := h.service.SkipTo(r.Context(), entryID); err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case "history":
		history, err := h.service.EntryHistory(r.Context(), entryID)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, history)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func pathParts(path, prefix string) []string {
	trimmed := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	response := errorResponse{
		RequestID: requestIDFromRequest(r),
		Error:     responseError{Code: code, Message: msg},
	}
	var existing *store.AlreadyInQueueError
	if errors.As(err, &existing) {
		response.Entry = &existing.Entry
	}
	writeJSON(w, status, response)
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrQueueNotFound):
		return http.StatusNotFound, "queue_not_found", "queue not found"
	case errors.Is(err, store.ErrEntryNotFound):
		return http.StatusNotFound, "entry_not_found", "entry not found"
	case errors.Is(err, store.ErrSubscriptionNotFound):
		return http.StatusNotFound, "subscription_not_found", "subscription not found"
	case errors.Is(err, store.ErrAlreadyInQueue):
		return http.StatusConflict, "already_in_queue", "phone already holds a place in this queue"
	case errors.Is(err, store.ErrQueueFull):
		return http.StatusConflict, "queue_full", "queue is full"
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", "entry status does not allow this action"
	case errors.Is(err, store.ErrNothingWaiting):
		return http.StatusConflict, "nothing_waiting", "no one is waiting"
	case errors.Is(err, store.ErrNotOwner):
		return http.StatusForbidden, "access_denied", "queue belongs to another owner"
	case errors.Is(err, store.ErrQueueInactive):
		return http.StatusServiceUnavailable, "queue_inactive", "queue is not accepting entries"
	case errors.Is(err, store.ErrInvalidInput):
		msg := strings.TrimPrefix(err.Error(), store.ErrInvalidInput.Error()+": ")
		return http.StatusBadRequest, "invalid_request", msg
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
