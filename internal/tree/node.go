package tree

import (
	"encoding/json"
	"fmt"
)

// Role identifies who authored a turn
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Status tracks a node's streaming lifecycle. The zero value means the
// node has never streamed (system and user nodes stay there).
type Status string

const (
	StatusDraft     Status = "draft"
	StatusStreaming Status = "streaming"
	StatusFinal     Status = "final"
	StatusError     Status = "error"
)

// TokenLogprob is a per-token probability annotation attached to
// assistant content during streaming.
type TokenLogprob struct {
	Token   string  `json:"token"`
	Logprob float64 `json:"logprob"`
}

// Node is a single conversational turn. ParentID is the only
// structural field; edges and roots are derived from it.
type Node struct {
	ID               string
	Role             Role
	Content          Content
	ReasoningContent string
	CreatedAt        int64 // unix milliseconds, monotonic within a store
	Status           Status
	ParentID         *string
	TokenLogprobs    []TokenLogprob
}

// nodeAlias is the wire shape of a node; Content goes through the
// union codec, everything else maps directly.
type nodeAlias struct {
	ID               string          `json:"id"`
	Role             Role            `json:"role"`
	Content          json.RawMessage `json:"content"`
	ReasoningContent string          `json:"reasoningContent,omitempty"`
	CreatedAt        int64           `json:"createdAt"`
	Status           Status          `json:"status,omitempty"`
	ParentID         *string         `json:"parentId"`
	TokenLogprobs    []TokenLogprob  `json:"tokenLogprobs,omitempty"`
}

// MarshalJSON implements json.Marshaler
func (n Node) MarshalJSON() ([]byte, error) {
	content, err := EncodeContent(n.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to encode content of node %s: %w", n.ID, err)
	}
	return json.Marshal(nodeAlias{
		ID:               n.ID,
		Role:             n.Role,
		Content:          content,
		ReasoningContent: n.ReasoningContent,
		CreatedAt:        n.CreatedAt,
		Status:           n.Status,
		ParentID:         n.ParentID,
		TokenLogprobs:    n.TokenLogprobs,
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (n *Node) UnmarshalJSON(data []byte) error {
	var alias nodeAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	content, err := DecodeContent(alias.Content)
	if err != nil {
		return fmt.Errorf("failed to decode content of node %s: %w", alias.ID, err)
	}
	n.ID = alias.ID
	n.Role = alias.Role
	n.Content = content
	n.ReasoningContent = alias.ReasoningContent
	n.CreatedAt = alias.CreatedAt
	n.Status = alias.Status
	n.ParentID = alias.ParentID
	n.TokenLogprobs = alias.TokenLogprobs
	return nil
}

// Clone returns a deep copy that shares no mutable state with the
// receiver.
func (n Node) Clone() Node {
	out := n
	out.Content = cloneContent(n.Content)
	if n.ParentID != nil {
		parent := *n.ParentID
		out.ParentID = &parent
	}
	if n.TokenLogprobs != nil {
		out.TokenLogprobs = make([]TokenLogprob, len(n.TokenLogprobs))
		copy(out.TokenLogprobs, n.TokenLogprobs)
	}
	return out
}
