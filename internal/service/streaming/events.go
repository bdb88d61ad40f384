package streaming

import (
	"encoding/json"
	"fmt"

	"arbor/internal/tree"
)

// SSE event type constants
const (
	SSEEventNodeStart    = "node_start"    // Assistant node streaming has begun
	SSEEventNodeDelta    = "node_delta"    // Incremental content/reasoning/logprobs
	SSEEventNodeComplete = "node_complete" // Node finished successfully
	SSEEventNodeError    = "node_error"    // Node streaming failed or was interrupted
)

// NodeStartEvent signals that streaming has begun for an assistant node
type NodeStartEvent struct {
	NodeID string `json:"nodeId"`
	Model  string `json:"model"`
}

// NodeDeltaEvent contains one streaming increment
type NodeDeltaEvent struct {
	NodeID         string              `json:"nodeId"`
	ContentDelta   *string             `json:"contentDelta,omitempty"`
	ReasoningDelta *string             `json:"reasoningDelta,omitempty"`
	TokenLogprobs  []tree.TokenLogprob `json:"tokenLogprobs,omitempty"`
}

// NodeCompleteEvent signals that the node has finished successfully
type NodeCompleteEvent struct {
	NodeID       string `json:"nodeId"`
	StopReason   string `json:"stopReason"`
	InputTokens  int    `json:"inputTokens"`
	OutputTokens int    `json:"outputTokens"`
}

// NodeErrorEvent signals that streaming failed or was interrupted
type NodeErrorEvent struct {
	NodeID      string `json:"nodeId"`
	Error       string `json:"error"`
	IsCancelled bool   `json:"isCancelled,omitempty"` // True if user interrupted (don't show error toast)
}

// FormatSSE formats an SSE event for transmission
// Returns a string in SSE format:
//
//	event: event_name
//	data: {"field": "value"}
//	\n
func FormatSSE(eventType string, data interface{}) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal SSE event data: %w", err)
	}

	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, jsonData), nil
}
