package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"arbor/internal/httputil"
	"arbor/internal/session"
	"arbor/internal/tree"
)

// NodeHandler handles tree reads and node mutations for one session's
// conversation tree
type NodeHandler struct {
	sessions *session.Registry
	logger   *slog.Logger
}

// NewNodeHandler creates a new node handler
func NewNodeHandler(sessions *session.Registry, logger *slog.Logger) *NodeHandler {
	return &NodeHandler{
		sessions: sessions,
		logger:   logger,
	}
}

// TreeResponse is the full graph view: nodes plus derived edges and
// roots for the diagram renderer
type TreeResponse struct {
	Nodes map[string]tree.Node `json:"nodes"`
	Edges []tree.Edge          `json:"edges"`
	Roots []string             `json:"roots"`
}

// EditNodeRequest carries the overridden fields for an edit; absent
// fields keep the original's values
type EditNodeRequest struct {
	Content          json.RawMessage     `json:"content"`
	ReasoningContent *string             `json:"reasoningContent"`
	TokenLogprobs    []tree.TokenLogprob `json:"tokenLogprobs"`
}

// ReparentNodeRequest names the new parent for a reparent operation
type ReparentNodeRequest struct {
	NewParentID string `json:"newParentId"`
}

// GetTree returns the full node/edge/root view
// GET /api/sessions/{id}/tree
func (h *NodeHandler) GetTree(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}

	var resp TreeResponse
	sess.View(func(store *tree.Store) {
		resp = TreeResponse{
			Nodes: store.Nodes(),
			Edges: store.Edges(),
			Roots: store.Roots(),
		}
	})
	httputil.RespondJSON(w, http.StatusOK, resp)
}

// GetActivePath returns the compiled path to the effective tip
// GET /api/sessions/{id}/path
func (h *NodeHandler) GetActivePath(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, sess.ActivePath())
}

// GetPath returns the compiled path to a specific node. An unknown
// node yields an empty path, not an error.
// GET /api/sessions/{id}/nodes/{nodeID}/path
func (h *NodeHandler) GetPath(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}

	var path []tree.Turn
	sess.View(func(store *tree.Store) {
		path = store.PathTo(r.PathValue("nodeID"))
	})
	httputil.RespondJSON(w, http.StatusOK, path)
}

// Edit replaces a node with an edited clone, branching the timeline
// POST /api/sessions/{id}/nodes/{nodeID}/edit
func (h *NodeHandler) Edit(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}

	var req EditNodeRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	patch := tree.EditPatch{
		ReasoningContent: req.ReasoningContent,
		TokenLogprobs:    req.TokenLogprobs,
	}
	if len(req.Content) > 0 {
		content, err := tree.DecodeContent(req.Content)
		if err != nil {
			httputil.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		patch.Content = content
	}

	nodeID := r.PathValue("nodeID")
	var clone tree.Node
	var ok bool
	sess.Mutate(func(store *tree.Store) {
		var cloneID string
		if cloneID, ok = store.ReplaceNodeWithEditedClone(nodeID, patch); ok {
			clone, _ = store.Get(cloneID)
		}
	})
	if !ok {
		httputil.RespondError(w, http.StatusNotFound, "node not found in session")
		return
	}

	// The edited clone is the new tip of its timeline
	sess.SetActiveTargetID(&clone.ID)

	h.logger.Info("node edited", "session_id", sess.ID, "node_id", nodeID, "clone_id", clone.ID)

	httputil.RespondJSON(w, http.StatusOK, clone)
}

// Clone duplicates a node as a sibling
// POST /api/sessions/{id}/nodes/{nodeID}/clone
func (h *NodeHandler) Clone(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}

	var dup tree.Node
	var ok bool
	sess.Mutate(func(store *tree.Store) {
		var dupID string
		if dupID, ok = store.CloneNode(r.PathValue("nodeID")); ok {
			dup, _ = store.Get(dupID)
		}
	})
	if !ok {
		httputil.RespondError(w, http.StatusNotFound, "node not found in session")
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, dup)
}

// Delete splices a node out of the tree. Unknown ids are a no-op at
// the engine level; the handler still returns 204 so deletes are
// idempotent from the UI's perspective.
// DELETE /api/sessions/{id}/nodes/{nodeID}
func (h *NodeHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}

	sess.MutateAndReconcile(func(store *tree.Store) {
		store.RemoveNode(r.PathValue("nodeID"))
	})
	w.WriteHeader(http.StatusNoContent)
}

// Reparent moves a node under a new parent; illegal moves (cycles,
// unknown ids) are silent no-ops, so the response always reflects the
// resulting parent
// POST /api/sessions/{id}/nodes/{nodeID}/reparent
func (h *NodeHandler) Reparent(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}

	var req ReparentNodeRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	nodeID := r.PathValue("nodeID")
	var node tree.Node
	var found bool
	sess.Mutate(func(store *tree.Store) {
		store.ReparentNode(nodeID, req.NewParentID)
		node, found = store.Get(nodeID)
	})
	if !found {
		httputil.RespondError(w, http.StatusNotFound, "node not found in session")
		return
	}

	httputil.RespondJSON(w, http.StatusOK, node)
}

// Detach splits a node off into a new root (UI edge deletion)
// POST /api/sessions/{id}/nodes/{nodeID}/detach
func (h *NodeHandler) Detach(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}

	nodeID := r.PathValue("nodeID")
	var node tree.Node
	var found bool
	sess.Mutate(func(store *tree.Store) {
		store.SplitBranch(nodeID)
		node, found = store.Get(nodeID)
	})
	if !found {
		httputil.RespondError(w, http.StatusNotFound, "node not found in session")
		return
	}

	httputil.RespondJSON(w, http.StatusOK, node)
}

// CanReparent reports whether a proposed reparent would be legal; the
// diagram UI calls this while dragging an edge
// GET /api/sessions/{id}/nodes/{nodeID}/can-reparent?newParentId=...
func (h *NodeHandler) CanReparent(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}

	newParentID := r.URL.Query().Get("newParentId")
	var allowed bool
	sess.View(func(store *tree.Store) {
		allowed = store.CanReparent(newParentID, r.PathValue("nodeID"))
	})

	httputil.RespondJSON(w, http.StatusOK, map[string]bool{"canReparent": allowed})
}
