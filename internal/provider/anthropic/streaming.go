package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"arbor/internal/provider"
)

// Stream generates a streaming response from Claude.
// Returns a channel that emits StreamEvents as deltas arrive from the API.
func (p *Provider) Stream(ctx context.Context, req *provider.Request) (<-chan provider.StreamEvent, error) {
	if !p.SupportsModel(req.Model) {
		return nil, fmt.Errorf("model '%s' is not supported by Anthropic provider", req.Model)
	}

	messages, system, err := convertTurns(req.Turns)
	if err != nil {
		return nil, fmt.Errorf("failed to convert turns: %w", err)
	}

	apiParams := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(req.Params.GetMaxTokens(4096)),
	}
	if len(system) > 0 {
		apiParams.System = system
	}
	if req.Params.Reasoning {
		// Thinking budget must leave room for the answer
		budget := int64(req.Params.GetMaxTokens(4096)) / 2
		if budget >= 1024 {
			apiParams.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
		}
	}

	eventChan := make(chan provider.StreamEvent, 10) // Buffered to prevent blocking

	go func() {
		defer close(eventChan)

		stream := p.client.Messages.NewStreaming(ctx, apiParams)

		// Accumulator for final message metadata
		message := anthropic.Message{}

		for stream.Next() {
			event := stream.Current()

			if err := message.Accumulate(event); err != nil {
				eventChan <- provider.StreamEvent{Err: fmt.Errorf("failed to accumulate message: %w", err)}
				return
			}

			streamEvent, ok := transformStreamEvent(event)
			if !ok {
				continue
			}

			select {
			case <-ctx.Done():
				eventChan <- provider.StreamEvent{Err: ctx.Err()}
				return
			case eventChan <- streamEvent:
			}
		}

		if err := stream.Err(); err != nil {
			eventChan <- provider.StreamEvent{Err: fmt.Errorf("anthropic streaming error: %w", err)}
			return
		}

		eventChan <- provider.StreamEvent{
			Metadata: &provider.Metadata{
				Model:        string(message.Model),
				StopReason:   string(message.StopReason),
				InputTokens:  int(message.Usage.InputTokens),
				OutputTokens: int(message.Usage.OutputTokens),
			},
		}
	}()

	return eventChan, nil
}

// transformStreamEvent converts an Anthropic streaming event to a
// StreamEvent. Events that carry no delta (message_start, block
// boundaries, message_stop) report ok=false and are skipped.
func transformStreamEvent(event anthropic.MessageStreamEventUnion) (provider.StreamEvent, bool) {
	switch e := event.AsAny().(type) {
	case anthropic.ContentBlockDeltaEvent:
		switch e.Delta.Type {
		case "text_delta":
			text := e.Delta.Text
			return provider.StreamEvent{ContentDelta: &text}, true
		case "thinking_delta":
			thinking := e.Delta.Thinking
			return provider.StreamEvent{ReasoningDelta: &thinking}, true
		}
		return provider.StreamEvent{}, false

	default:
		return provider.StreamEvent{}, false
	}
}
