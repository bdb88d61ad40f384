package tree

import (
	"fmt"
	"sort"
	"time"

	"arbor/internal/domain"

	"github.com/google/uuid"
)

// ParentNotFoundError reports an assistant turn created under a parent
// id that does not resolve. Unlike user-turn creation, which treats a
// missing parent as a legitimate detach, this is a caller bug.
type ParentNotFoundError struct {
	ParentID string
}

func (e *ParentNotFoundError) Error() string {
	return fmt.Sprintf("parent node %s not found", e.ParentID)
}

// Is allows errors.Is() to match against domain.ErrNotFound
func (e *ParentNotFoundError) Is(target error) bool {
	return target == domain.ErrNotFound
}

// Edge is a derived parent link: ToID's parent is FromID. Edges are
// recomputed from the node map on every mutation, never stored
// authoritatively.
type Edge struct {
	FromID string `json:"fromId"`
	ToID   string `json:"toId"`
}

// AppendDelta carries one streaming increment for a node.
type AppendDelta struct {
	Content       string
	Reasoning     string
	TokenLogprobs []TokenLogprob
}

// EditPatch carries the overridden fields for an edit. Nil fields fall
// back to the original node's values.
type EditPatch struct {
	Content          Content
	ReasoningContent *string
	TokenLogprobs    []TokenLogprob
}

// Store holds the node map for one conversation and keeps the derived
// edge and root sets consistent across mutations. It is not
// synchronized; serializing callers is the session layer's job.
type Store struct {
	nodes     map[string]*Node
	edges     []Edge
	roots     []string
	lastStamp int64
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{nodes: make(map[string]*Node)}
}

// Restore builds a store from an existing node set, nulling parent
// references that do not resolve within the set. Snapshot import and
// archive restore go through here.
func Restore(nodes map[string]Node) *Store {
	s := NewStore()
	for id, n := range nodes {
		node := n.Clone()
		node.ID = id
		if node.ParentID != nil {
			if _, ok := nodes[*node.ParentID]; !ok {
				node.ParentID = nil
			}
		}
		if node.CreatedAt > s.lastStamp {
			s.lastStamp = node.CreatedAt
		}
		s.nodes[id] = &node
	}
	s.recompute()
	return s
}

// stamp returns a creation timestamp in unix milliseconds, strictly
// increasing within this store so ordering ties cannot occur between
// nodes created in the same millisecond.
func (s *Store) stamp() int64 {
	now := time.Now().UnixMilli()
	if now <= s.lastStamp {
		now = s.lastStamp + 1
	}
	s.lastStamp = now
	return now
}

func (s *Store) insert(n Node) string {
	n.ID = uuid.New().String()
	n.CreatedAt = s.stamp()
	s.nodes[n.ID] = &n
	s.recompute()
	return n.ID
}

// CreateSystemMessage inserts a system node with no parent.
func (s *Store) CreateSystemMessage(text string) string {
	return s.insert(Node{Role: RoleSystem, Content: Text(text)})
}

// CreateUserAfter inserts a user node under parentID. If parentID is
// nil or does not resolve the node becomes a root; this path never
// fails.
func (s *Store) CreateUserAfter(parentID *string, content Content) string {
	var parent *string
	if parentID != nil {
		if _, ok := s.nodes[*parentID]; ok {
			id := *parentID
			parent = &id
		}
	}
	return s.insert(Node{Role: RoleUser, Content: cloneContent(content), ParentID: parent})
}

// CreateAssistantAfter inserts a draft assistant node under parentID.
// A missing parent is a ParentNotFoundError, not a detach.
func (s *Store) CreateAssistantAfter(parentID string) (string, error) {
	if _, ok := s.nodes[parentID]; !ok {
		return "", &ParentNotFoundError{ParentID: parentID}
	}
	id := parentID
	return s.insert(Node{Role: RoleAssistant, Content: Text(""), Status: StatusDraft, ParentID: &id}), nil
}

// AppendToNode applies one streaming delta: content merges into the
// trailing text run, reasoning concatenates, logprobs append. Unknown
// id is a no-op.
func (s *Store) AppendToNode(id string, delta AppendDelta) {
	n, ok := s.nodes[id]
	if !ok {
		return
	}
	n.Content = appendText(n.Content, delta.Content)
	n.ReasoningContent += delta.Reasoning
	n.TokenLogprobs = append(n.TokenLogprobs, delta.TokenLogprobs...)
	s.recompute()
}

// SetNodeStatus overwrites a node's status; no-op on unknown id.
func (s *Store) SetNodeStatus(id string, status Status) {
	n, ok := s.nodes[id]
	if !ok {
		return
	}
	n.Status = status
	s.recompute()
}

// SetNodeContent overwrites a node's content, and its logprobs when
// provided; no-op on unknown id.
func (s *Store) SetNodeContent(id string, content Content, logprobs []TokenLogprob) {
	n, ok := s.nodes[id]
	if !ok {
		return
	}
	n.Content = cloneContent(content)
	if logprobs != nil {
		n.TokenLogprobs = make([]TokenLogprob, len(logprobs))
		copy(n.TokenLogprobs, logprobs)
	}
	s.recompute()
}

// CloneNode duplicates a node as a sibling (same parent, fresh id and
// timestamp). Returns false if sourceID is unknown.
func (s *Store) CloneNode(sourceID string) (string, bool) {
	src, ok := s.nodes[sourceID]
	if !ok {
		return "", false
	}
	dup := src.Clone()
	return s.insert(dup), true
}

// ReplaceNodeWithEditedClone implements edit-as-new-branch: a new node
// carrying the edited fields is attached under the original's parent,
// every child of the original is re-parented onto it, and it is marked
// final. The original is left untouched and keeps no children, so the
// old timeline stays reachable by anyone pointing at it directly.
// Returns false if id is unknown.
func (s *Store) ReplaceNodeWithEditedClone(id string, patch EditPatch) (string, bool) {
	orig, ok := s.nodes[id]
	if !ok {
		return "", false
	}
	edited := orig.Clone()
	if patch.Content != nil {
		edited.Content = cloneContent(patch.Content)
	}
	if patch.ReasoningContent != nil {
		edited.ReasoningContent = *patch.ReasoningContent
	}
	if patch.TokenLogprobs != nil {
		edited.TokenLogprobs = make([]TokenLogprob, len(patch.TokenLogprobs))
		copy(edited.TokenLogprobs, patch.TokenLogprobs)
	}
	edited.Status = StatusFinal
	newID := s.insert(edited)
	for _, child := range s.nodes {
		if child.ParentID != nil && *child.ParentID == id {
			parent := newID
			child.ParentID = &parent
		}
	}
	s.recompute()
	return newID, true
}

// RemoveNode splices a node out: each direct child is re-parented to
// the removed node's own parent, or becomes a root when it had none.
// No-op on unknown id.
func (s *Store) RemoveNode(id string) {
	n, ok := s.nodes[id]
	if !ok {
		return
	}
	for _, child := range s.nodes {
		if child.ParentID != nil && *child.ParentID == id {
			if n.ParentID != nil {
				parent := *n.ParentID
				child.ParentID = &parent
			} else {
				child.ParentID = nil
			}
		}
	}
	delete(s.nodes, id)
	s.recompute()
}

// ReparentNode moves targetID under newParentID, but only when both
// ids resolve and the move would not create a cycle. Illegal moves are
// silent no-ops; callers that need to know call CanReparent first.
func (s *Store) ReparentNode(targetID, newParentID string) {
	if !s.CanReparent(newParentID, targetID) {
		return
	}
	parent := newParentID
	s.nodes[targetID].ParentID = &parent
	s.recompute()
}

// SplitBranch detaches a node from its parent, turning it into a new
// root. No-op on unknown id.
func (s *Store) SplitBranch(childID string) {
	n, ok := s.nodes[childID]
	if !ok {
		return
	}
	n.ParentID = nil
	s.recompute()
}

// CanReparent reports whether childID may be moved under parentID:
// both must resolve, be distinct, and childID must not already be an
// ancestor of parentID.
func (s *Store) CanReparent(parentID, childID string) bool {
	if parentID == childID {
		return false
	}
	if _, ok := s.nodes[parentID]; !ok {
		return false
	}
	if _, ok := s.nodes[childID]; !ok {
		return false
	}
	return !s.isAncestor(childID, parentID)
}

// isAncestor walks the parent chain from nodeID looking for
// ancestorID. O(depth); the graph is a forest by construction so the
// walk terminates, but a seen set guards it anyway.
func (s *Store) isAncestor(ancestorID, nodeID string) bool {
	seen := make(map[string]bool)
	cur := s.nodes[nodeID]
	for cur != nil && cur.ParentID != nil && !seen[cur.ID] {
		seen[cur.ID] = true
		if *cur.ParentID == ancestorID {
			return true
		}
		cur = s.nodes[*cur.ParentID]
	}
	return false
}

// Get returns a copy of the node; the bool reports existence.
func (s *Store) Get(id string) (Node, bool) {
	n, ok := s.nodes[id]
	if !ok {
		return Node{}, false
	}
	return n.Clone(), true
}

// Len returns the number of nodes
func (s *Store) Len() int {
	return len(s.nodes)
}

// Nodes returns a deep copy of the node map
func (s *Store) Nodes() map[string]Node {
	out := make(map[string]Node, len(s.nodes))
	for id, n := range s.nodes {
		out[id] = n.Clone()
	}
	return out
}

// Edges returns a copy of the derived edge list
func (s *Store) Edges() []Edge {
	out := make([]Edge, len(s.edges))
	copy(out, s.edges)
	return out
}

// Roots returns a copy of the derived root id list
func (s *Store) Roots() []string {
	out := make([]string, len(s.roots))
	copy(out, s.roots)
	return out
}

// recompute rebuilds the derived edge and root sets from the node map
// as one consistent snapshot. Ordered by creation time (ties by id) so
// reads are deterministic.
func (s *Store) recompute() {
	ids := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := s.nodes[ids[i]], s.nodes[ids[j]]
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		return a.ID < b.ID
	})

	edges := make([]Edge, 0, len(ids))
	roots := make([]string, 0)
	for _, id := range ids {
		n := s.nodes[id]
		if n.ParentID != nil {
			if _, ok := s.nodes[*n.ParentID]; ok {
				edges = append(edges, Edge{FromID: *n.ParentID, ToID: id})
				continue
			}
		}
		roots = append(roots, id)
	}
	s.edges = edges
	s.roots = roots
}
