package handler

import (
	"log/slog"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"arbor/internal/config"
	"arbor/internal/httputil"
	"arbor/internal/session"
)

// SessionHandler handles conversation session HTTP requests
type SessionHandler struct {
	sessions *session.Registry
	logger   *slog.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions *session.Registry, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		logger:   logger,
	}
}

// CreateSessionRequest is the payload for creating a session
type CreateSessionRequest struct {
	Title string `json:"title"`
}

// Validate implements request validation
func (r CreateSessionRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Length(0, config.MaxSessionTitleLength)),
	)
}

// UpdateSessionRequest is the payload for renaming a session
type UpdateSessionRequest struct {
	Title httputil.OptionalString `json:"title"`
}

// SetActiveNodeRequest moves or clears the session's active pointer
type SetActiveNodeRequest struct {
	NodeID *string `json:"nodeId"`
}

// Create creates a new conversation session
// POST /api/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	title := req.Title
	if title == "" {
		title = "New conversation"
	}
	sess := h.sessions.Create(title)

	h.logger.Info("session created", "session_id", sess.ID, "title", title)

	httputil.RespondJSON(w, http.StatusCreated, sess.Meta())
}

// List retrieves all sessions, newest first
// GET /api/sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, h.sessions.List())
}

// Get retrieves one session's metadata
// GET /api/sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, sess.Meta())
}

// Update renames a session
// PATCH /api/sessions/{id}
func (h *SessionHandler) Update(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}

	var req UpdateSessionRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Title.Present {
		title := ""
		if req.Title.Value != nil {
			title = *req.Title.Value
		}
		sess.SetTitle(title)
	}

	httputil.RespondJSON(w, http.StatusOK, sess.Meta())
}

// Delete removes a session
// DELETE /api/sessions/{id}
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.sessions.Delete(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

// SetActiveNode moves the session's active pointer
// PUT /api/sessions/{id}/active-node
func (h *SessionHandler) SetActiveNode(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}

	var req SetActiveNodeRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if !sess.SetActiveTargetID(req.NodeID) {
		httputil.RespondError(w, http.StatusNotFound, "node not found in session")
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]*string{"activeTargetId": sess.ActiveTargetID()})
}
