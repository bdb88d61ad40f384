// Package provider defines the model-invocation boundary: a linear
// turn sequence goes in, a stream of deltas comes out. The tree engine
// never sees providers; the streaming service sits between them.
package provider

import (
	"context"

	"arbor/internal/tree"
)

// Params are the generation knobs the UI exposes.
type Params struct {
	MaxTokens int
	Reasoning bool
	Logprobs  bool
}

// GetMaxTokens returns MaxTokens or the given default when unset.
func (p Params) GetMaxTokens(def int) int {
	if p.MaxTokens > 0 {
		return p.MaxTokens
	}
	return def
}

// Request is one generation call: the compiled path plus parameters.
type Request struct {
	Turns  []tree.Turn
	Model  string
	Params Params
}

// Metadata is the final accounting attached to the last stream event.
type Metadata struct {
	Model        string
	StopReason   string
	InputTokens  int
	OutputTokens int
}

// StreamEvent is one increment of a streaming response. Exactly one
// field group is set: a delta (content/reasoning/logprobs), the final
// metadata, or a terminal error.
type StreamEvent struct {
	ContentDelta   *string
	ReasoningDelta *string
	TokenLogprobs  []tree.TokenLogprob
	Metadata       *Metadata
	Err            error
}

// Provider generates streaming completions for the models it supports.
type Provider interface {
	// Name returns the provider name used in capability lookups.
	Name() string

	// SupportsModel reports whether this provider serves the model.
	SupportsModel(model string) bool

	// Stream starts a generation. The returned channel is closed when
	// the stream ends; a terminal error arrives as the last event.
	// Cancelling ctx stops the stream.
	Stream(ctx context.Context, req *Request) (<-chan StreamEvent, error)
}
