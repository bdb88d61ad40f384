// Package lorem is a mock provider that streams lorem ipsum text.
// Used for development and testing without real API keys.
package lorem

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	loremgen "github.com/bozaro/golorem"

	"arbor/internal/provider"
	"arbor/internal/tree"
)

// Provider generates lorem ipsum responses word by word.
type Provider struct {
	generator *loremgen.Lorem
}

// NewProvider creates a new lorem ipsum provider.
func NewProvider() *Provider {
	return &Provider{generator: loremgen.New()}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "lorem"
}

// SupportsModel returns true if the model name starts with "lorem-".
// Example models: "lorem-fast", "lorem-medium", "lorem-slow"
func (p *Provider) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "lorem-")
}

// getStreamDelay returns the delay between words based on the model name.
// - lorem-slow: 2 words/second
// - lorem-fast: 30 words/second
// - lorem-medium and default: 10 words/second
func getStreamDelay(model string) time.Duration {
	if strings.Contains(model, "slow") {
		return 500 * time.Millisecond
	}
	if strings.Contains(model, "fast") {
		return 33 * time.Millisecond
	}
	return 100 * time.Millisecond
}

// Stream emits a reasoning phase (when enabled) followed by the main
// text, one word at a time with model-specific pacing.
func (p *Provider) Stream(ctx context.Context, req *provider.Request) (<-chan provider.StreamEvent, error) {
	if !p.SupportsModel(req.Model) {
		return nil, fmt.Errorf("model '%s' is not supported by lorem provider", req.Model)
	}

	maxTokens := req.Params.GetMaxTokens(64)
	delay := getStreamDelay(req.Model)
	inputTokens := estimateTokens(req.Turns)

	eventChan := make(chan provider.StreamEvent, 10)

	go func() {
		defer close(eventChan)

		outputTokens := 0

		if req.Params.Reasoning {
			sent, err := p.streamWords(ctx, eventChan, p.generator.Sentence(8, 12), delay, false, func(w string) provider.StreamEvent {
				d := w
				return provider.StreamEvent{ReasoningDelta: &d}
			})
			if err != nil {
				eventChan <- provider.StreamEvent{Err: err}
				return
			}
			outputTokens += sent
		}

		text := p.generateTextWords(maxTokens)
		sent, err := p.streamWords(ctx, eventChan, text, delay, req.Params.Logprobs, func(w string) provider.StreamEvent {
			d := w
			return provider.StreamEvent{ContentDelta: &d}
		})
		if err != nil {
			eventChan <- provider.StreamEvent{Err: err}
			return
		}
		outputTokens += sent

		eventChan <- provider.StreamEvent{
			Metadata: &provider.Metadata{
				Model:        req.Model,
				StopReason:   "end_turn",
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
			},
		}
	}()

	return eventChan, nil
}

// streamWords emits text word by word, optionally attaching a fake
// logprob per word. Returns the number of words sent.
func (p *Provider) streamWords(ctx context.Context, eventChan chan<- provider.StreamEvent, text string, delay time.Duration, logprobs bool, build func(string) provider.StreamEvent) (int, error) {
	words := strings.Fields(text)
	for i, word := range words {
		select {
		case <-ctx.Done():
			return i, ctx.Err()
		default:
		}

		ev := build(word + " ")
		if logprobs {
			// Deterministic pseudo-logprob derived from word length
			ev.TokenLogprobs = []tree.TokenLogprob{{
				Token:   word,
				Logprob: -math.Log(float64(len(word)) + 1),
			}}
		}
		eventChan <- ev

		time.Sleep(delay)
	}
	return len(words), nil
}

// generateTextWords generates lorem ipsum text with approximately targetWords words.
func (p *Provider) generateTextWords(targetWords int) string {
	var sb strings.Builder
	wordCount := 0
	for wordCount < targetWords {
		sentence := p.generator.Sentence(5, 15)
		sb.WriteString(sentence)
		sb.WriteString(" ")
		wordCount += len(strings.Fields(sentence))
	}
	return strings.TrimSpace(sb.String())
}

// estimateTokens estimates input tokens from word count.
func estimateTokens(turns []tree.Turn) int {
	total := 0
	for _, t := range turns {
		total += len(strings.Fields(tree.PlainText(t.Content)))
	}
	return total
}
