package tree

import (
	"encoding/json"
	"fmt"
)

// Turn is one entry of a compiled linear path, the exact shape the
// model-invocation layer and the transcript renderer consume.
type Turn struct {
	ID        string
	Role      Role
	Content   Content
	Reasoning string
	Status    Status
}

type turnAlias struct {
	ID        string          `json:"id"`
	Role      Role            `json:"role"`
	Content   json.RawMessage `json:"content"`
	Reasoning string          `json:"reasoning,omitempty"`
	Status    Status          `json:"status,omitempty"`
}

// MarshalJSON implements json.Marshaler
func (t Turn) MarshalJSON() ([]byte, error) {
	content, err := EncodeContent(t.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to encode content of turn %s: %w", t.ID, err)
	}
	return json.Marshal(turnAlias{
		ID:        t.ID,
		Role:      t.Role,
		Content:   content,
		Reasoning: t.Reasoning,
		Status:    t.Status,
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (t *Turn) UnmarshalJSON(data []byte) error {
	var alias turnAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	content, err := DecodeContent(alias.Content)
	if err != nil {
		return err
	}
	t.ID = alias.ID
	t.Role = alias.Role
	t.Content = content
	t.Reasoning = alias.Reasoning
	t.Status = alias.Status
	return nil
}

func turnOf(n *Node) Turn {
	return Turn{
		ID:        n.ID,
		Role:      n.Role,
		Content:   cloneContent(n.Content),
		Reasoning: n.ReasoningContent,
		Status:    n.Status,
	}
}

// PathTo walks parent links from id up to a root and returns the turns
// in root-to-leaf order. Unknown id yields an empty path. A seen set
// guards the walk against cycles, which are structurally impossible
// but must not hang the caller if state is ever corrupted.
func (s *Store) PathTo(id string) []Turn {
	seen := make(map[string]bool)
	var reversed []Turn
	cur, ok := s.nodes[id]
	for ok && !seen[cur.ID] {
		seen[cur.ID] = true
		reversed = append(reversed, turnOf(cur))
		if cur.ParentID == nil {
			break
		}
		cur, ok = s.nodes[*cur.ParentID]
	}
	path := make([]Turn, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		path = append(path, reversed[i])
	}
	return path
}

// ActivePath compiles the path to the effective tip: the explicit
// active pointer when set and valid, otherwise the newest leaf.
func (s *Store) ActivePath(activeTargetID *string) []Turn {
	if activeTargetID != nil {
		if _, ok := s.nodes[*activeTargetID]; ok {
			return s.PathTo(*activeTargetID)
		}
	}
	tip, ok := s.NewestLeaf()
	if !ok {
		return []Turn{}
	}
	return s.PathTo(tip)
}

// NewestLeaf returns the id of the most recently created leaf node
// (no node lists it as parent), tie-broken by id for determinism.
// When no leaves exist, which only happens on an empty store given
// the forest invariant, it falls back to the newest node overall.
func (s *Store) NewestLeaf() (string, bool) {
	if len(s.nodes) == 0 {
		return "", false
	}
	hasChild := make(map[string]bool, len(s.nodes))
	for _, n := range s.nodes {
		if n.ParentID != nil {
			hasChild[*n.ParentID] = true
		}
	}
	newer := func(candidate, best *Node) bool {
		if best == nil {
			return true
		}
		if candidate.CreatedAt != best.CreatedAt {
			return candidate.CreatedAt > best.CreatedAt
		}
		return candidate.ID > best.ID
	}
	var bestLeaf, bestAny *Node
	for _, n := range s.nodes {
		if newer(n, bestAny) {
			bestAny = n
		}
		if !hasChild[n.ID] && newer(n, bestLeaf) {
			bestLeaf = n
		}
	}
	if bestLeaf != nil {
		return bestLeaf.ID, true
	}
	return bestAny.ID, true
}
