// Package api exposes the trigger webhooks, task actions and manual pass
// runs over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"care-reminders/internal/logging"
	"care-reminders/internal/model"
	"care-reminders/internal/service"
)

// Handler serves the HTTP surface of the reminder service.
type Handler struct {
	reminders *service.ReminderService
	triggers  *service.TriggerService
	actions   *service.TaskService
	now       func() time.Time
}

func NewHandler(reminders *service.ReminderService, triggers *service.TriggerService, actions *service.TaskService) *Handler {
	return &Handler{reminders: reminders, triggers: triggers, actions: actions, now: time.Now}
}

// Router wires every route.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(logRequests)

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/hooks/groups/{groupID}", h.groupHook).Methods(http.MethodPost)
	r.HandleFunc("/hooks/groups/{groupID}/tasks/{taskID}", h.taskHook).Methods(http.MethodPost)
	r.HandleFunc("/groups/{groupID}/tasks", h.createTask).Methods(http.MethodPost)
	r.HandleFunc("/groups/{groupID}/tasks/{taskID}", h.updateTask).Methods(http.MethodPut)
	r.HandleFunc("/groups/{groupID}/tasks/{taskID}/complete", h.completeTask).Methods(http.MethodPost)
	r.HandleFunc("/groups/{groupID}/join", h.requestJoin).Methods(http.MethodPost)
	r.HandleFunc("/passes/{pass}", h.runPass).Methods(http.MethodPost)
	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type groupHookRequest struct {
	Before *model.Group `json:"before"`
	After  *model.Group `json:"after"`
}

func (h *Handler) groupHook(w http.ResponseWriter, r *http.Request) {
	var req groupHookRequest
	if !decode(w, r, &req) {
		return
	}
	sent, err := h.triggers.OnGroupUpdated(r.Context(), service.GroupChange{
		GroupID: mux.Vars(r)["groupID"],
		Before:  req.Before,
		After:   req.After,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"sent": sent})
}

type taskHookRequest struct {
	Before *model.Task `json:"before"`
	After  *model.Task `json:"after"`
}

// taskHook handles both creates (before is null) and updates.
func (h *Handler) taskHook(w http.ResponseWriter, r *http.Request) {
	var req taskHookRequest
	if !decode(w, r, &req) {
		return
	}
	vars := mux.Vars(r)
	change := service.TaskChange{GroupID: vars["groupID"], TaskID: vars["taskID"], Before: req.Before, After: req.After}

	var (
		sent int
		err  error
	)
	if req.Before == nil {
		sent, err = h.triggers.OnTaskCreated(r.Context(), change)
	} else {
		sent, err = h.triggers.OnTaskUpdated(r.Context(), change)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"sent": sent})
}

type createTaskRequest struct {
	service.TaskInput
	CreatedBy string `json:"createdBy"`
}

func (h *Handler) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !decode(w, r, &req) {
		return
	}
	task, err := h.actions.CreateTask(r.Context(), mux.Vars(r)["groupID"], req.CreatedBy, req.TaskInput)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (h *Handler) updateTask(w http.ResponseWriter, r *http.Request) {
	var req service.TaskInput
	if !decode(w, r, &req) {
		return
	}
	vars := mux.Vars(r)
	task, err := h.actions.UpdateTask(r.Context(), vars["groupID"], vars["taskID"], req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type completeRequest struct {
	UserID        string `json:"userId"`
	OccurrenceKey string `json:"occurrenceKey"`
}

func (h *Handler) completeTask(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if !decode(w, r, &req) {
		return
	}
	vars := mux.Vars(r)
	task, err := h.actions.CompleteTask(r.Context(), vars["groupID"], vars["taskID"], req.UserID, req.OccurrenceKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type joinRequest struct {
	UserID string `json:"userId"`
}

func (h *Handler) requestJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !decode(w, r, &req) {
		return
	}
	group, err := h.actions.RequestJoin(r.Context(), mux.Vars(r)["groupID"], req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

// runPass runs a pass immediately. An "at" query parameter (RFC 3339)
// replaces the current time.
func (h *Handler) runPass(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	if at := r.URL.Query().Get("at"); at != "" {
		parsed, err := time.Parse(time.RFC3339, at)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "at must be an RFC 3339 time"})
			return
		}
		now = parsed
	}

	pass := mux.Vars(r)["pass"]
	switch pass {
	case service.PassUpcoming, service.PassMissed, service.PassDaily:
	default:
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown pass " + pass})
		return
	}
	report, err := h.reminders.Run(r.Context(), pass, now)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type errorResponse struct {
	Error string `json:"error"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		logging.Logger.WithError(err).Error("request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Logger.WithError(err).Warn("encode response")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logging.Logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Info("http request")
	})
}
