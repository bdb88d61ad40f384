package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"arbor/internal/handler/sse"
	"arbor/internal/httputil"
	"arbor/internal/service/streaming"
)

// StreamHandler handles turn creation, the SSE stream feed, and
// interrupts
type StreamHandler struct {
	service   *streaming.Service
	sseConfig *sse.Config
	logger    *slog.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(service *streaming.Service, sseConfig *sse.Config, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{
		service:   service,
		sseConfig: sseConfig,
		logger:    logger,
	}
}

// CreateTurn creates a user turn and starts its assistant reply
// POST /api/sessions/{id}/turns
func (h *StreamHandler) CreateTurn(w http.ResponseWriter, r *http.Request) {
	var req streaming.CreateTurnRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.SessionID = r.PathValue("id")

	resp, err := h.service.CreateTurn(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, resp)
}

// Interrupt cancels the in-flight stream for a node
// POST /api/sessions/{id}/nodes/{nodeID}/interrupt
func (h *StreamHandler) Interrupt(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Interrupt(r.PathValue("nodeID")); err != nil {
		handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stream feeds a node's SSE events to the client, replaying everything
// already published before switching to live events. Reconnecting
// clients therefore never miss deltas.
// GET /api/sessions/{id}/nodes/{nodeID}/stream
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	nodeID := r.PathValue("nodeID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, replay, unsubscribe, err := h.service.Subscribe(nodeID)
	if err != nil {
		handleError(w, err)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Debug("SSE stream established", "node_id", nodeID)

	// Catch-up replay before live events
	for _, event := range replay {
		if _, err := fmt.Fprint(w, event); err != nil {
			return
		}
	}
	flusher.Flush()

	// Keep-alives come from the same loop as event writes; the
	// ResponseWriter is not safe for concurrent writers
	keepAliveWriter := sse.NewSSEKeepAliveWriter(w, flusher)
	keepAlive := time.NewTicker(h.sseConfig.KeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				// Stream finished; terminal event already written
				return
			}
			if _, err := fmt.Fprint(w, event); err != nil {
				h.logger.Debug("SSE write failed, client gone", "node_id", nodeID)
				return
			}
			flusher.Flush()

		case <-keepAlive.C:
			if err := keepAliveWriter.WriteKeepAlive(); err != nil {
				h.logger.Warn("keep-alive write failed, stopping", "node_id", nodeID, "error", err)
				return
			}

		case <-r.Context().Done():
			h.logger.Debug("SSE client disconnected", "node_id", nodeID)
			return
		}
	}
}
