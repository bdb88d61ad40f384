package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"arbor/internal/domain"
	"arbor/internal/httputil"
	"arbor/internal/repository/postgres"
	"arbor/internal/session"
	"arbor/internal/snapshot"
)

// SnapshotHandler handles export, import, and the optional archive
type SnapshotHandler struct {
	sessions *session.Registry
	archive  *postgres.SnapshotArchive // nil when no database is configured
	logger   *slog.Logger
}

// NewSnapshotHandler creates a new snapshot handler
func NewSnapshotHandler(sessions *session.Registry, archive *postgres.SnapshotArchive, logger *slog.Logger) *SnapshotHandler {
	return &SnapshotHandler{
		sessions: sessions,
		archive:  archive,
		logger:   logger,
	}
}

// Export downloads the session as a snapshot file
// GET /api/sessions/{id}/export
func (h *SnapshotHandler) Export(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}

	snap := sess.Export()
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", snapshot.Filename(snap.ExportedAt)))
	httputil.RespondJSON(w, http.StatusOK, snap)
}

// Import replaces the session's tree with an uploaded snapshot
// POST /api/sessions/{id}/import
func (h *SnapshotHandler) Import(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}

	var snap snapshot.Snapshot
	if err := httputil.ParseJSON(w, r, &snap); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid snapshot file")
		return
	}

	if err := sess.Import(snap); err != nil {
		handleError(w, err)
		return
	}

	h.logger.Info("snapshot imported", "session_id", sess.ID)

	httputil.RespondJSON(w, http.StatusOK, sess.Meta())
}

// requireArchive returns the archive or an unavailable error
func (h *SnapshotHandler) requireArchive() (*postgres.SnapshotArchive, error) {
	if h.archive == nil {
		return nil, &domain.UnavailableError{Message: "snapshot archive is not configured"}
	}
	return h.archive, nil
}

// Archive persists the session's current snapshot
// POST /api/sessions/{id}/archive
func (h *SnapshotHandler) Archive(w http.ResponseWriter, r *http.Request) {
	archive, err := h.requireArchive()
	if err != nil {
		handleError(w, err)
		return
	}
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}

	snap := sess.Export()
	body, err := json.Marshal(snap)
	if err != nil {
		handleError(w, err)
		return
	}

	record, err := archive.Save(r.Context(), sess.ID, sess.Title(), body)
	if err != nil {
		handleError(w, err)
		return
	}

	h.logger.Info("snapshot archived", "session_id", sess.ID, "snapshot_id", record.ID)

	httputil.RespondJSON(w, http.StatusCreated, record)
}

// ListArchived lists archived snapshots for a session, newest first
// GET /api/sessions/{id}/archive
func (h *SnapshotHandler) ListArchived(w http.ResponseWriter, r *http.Request) {
	archive, err := h.requireArchive()
	if err != nil {
		handleError(w, err)
		return
	}

	records, err := archive.List(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}
	if records == nil {
		records = []postgres.ArchivedSnapshot{}
	}

	httputil.RespondJSON(w, http.StatusOK, records)
}

// Restore loads an archived snapshot into a new session. The body goes
// through the codec, so version gating and dangling-parent repair
// apply exactly as on file import.
// POST /api/snapshots/{snapshotID}/restore
func (h *SnapshotHandler) Restore(w http.ResponseWriter, r *http.Request) {
	archive, err := h.requireArchive()
	if err != nil {
		handleError(w, err)
		return
	}

	record, err := archive.Get(r.Context(), r.PathValue("snapshotID"))
	if err != nil {
		handleError(w, err)
		return
	}

	snap, err := snapshot.Decode(record.Snapshot)
	if err != nil {
		handleError(w, err)
		return
	}

	sess := h.sessions.Create(record.Title)
	if err := sess.Import(snap); err != nil {
		h.sessions.Delete(sess.ID)
		handleError(w, err)
		return
	}

	h.logger.Info("snapshot restored", "snapshot_id", record.ID, "session_id", sess.ID)

	httputil.RespondJSON(w, http.StatusCreated, sess.Meta())
}

// DeleteArchived removes an archived snapshot
// DELETE /api/snapshots/{snapshotID}
func (h *SnapshotHandler) DeleteArchived(w http.ResponseWriter, r *http.Request) {
	archive, err := h.requireArchive()
	if err != nil {
		handleError(w, err)
		return
	}

	if err := archive.Delete(r.Context(), r.PathValue("snapshotID")); err != nil {
		handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
