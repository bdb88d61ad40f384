package lorem

import (
	"context"
	"strings"
	"testing"

	"arbor/internal/provider"
	"arbor/internal/tree"
)

func collect(t *testing.T, ch <-chan provider.StreamEvent) (content, reasoning string, logprobs int, meta *provider.Metadata, errs []error) {
	t.Helper()
	for ev := range ch {
		if ev.ContentDelta != nil {
			content += *ev.ContentDelta
		}
		if ev.ReasoningDelta != nil {
			reasoning += *ev.ReasoningDelta
		}
		logprobs += len(ev.TokenLogprobs)
		if ev.Metadata != nil {
			meta = ev.Metadata
		}
		if ev.Err != nil {
			errs = append(errs, ev.Err)
		}
	}
	return
}

func TestStream(t *testing.T) {
	p := NewProvider()

	req := &provider.Request{
		Turns:  []tree.Turn{{Role: tree.RoleUser, Content: tree.Text("hello there")}},
		Model:  "lorem-fast",
		Params: provider.Params{MaxTokens: 5},
	}
	ch, err := p.Stream(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}

	content, reasoning, logprobs, meta, errs := collect(t, ch)
	if len(errs) > 0 {
		t.Fatalf("unexpected stream errors: %v", errs)
	}
	if strings.TrimSpace(content) == "" {
		t.Error("expected content deltas")
	}
	if reasoning != "" {
		t.Errorf("reasoning not requested but got %q", reasoning)
	}
	if logprobs != 0 {
		t.Errorf("logprobs not requested but got %d entries", logprobs)
	}
	if meta == nil {
		t.Fatal("expected final metadata")
	}
	if meta.StopReason != "end_turn" || meta.Model != "lorem-fast" {
		t.Errorf("unexpected metadata: %+v", meta)
	}
	if meta.InputTokens != 2 {
		t.Errorf("expected 2 input tokens, got %d", meta.InputTokens)
	}
}

func TestStreamWithReasoningAndLogprobs(t *testing.T) {
	p := NewProvider()

	ch, err := p.Stream(context.Background(), &provider.Request{
		Model:  "lorem-fast",
		Params: provider.Params{MaxTokens: 5, Reasoning: true, Logprobs: true},
	})
	if err != nil {
		t.Fatal(err)
	}

	content, reasoning, logprobs, meta, errs := collect(t, ch)
	if len(errs) > 0 {
		t.Fatalf("unexpected stream errors: %v", errs)
	}
	if strings.TrimSpace(reasoning) == "" {
		t.Error("expected reasoning deltas")
	}
	if logprobs == 0 {
		t.Error("expected logprob entries on content deltas")
	}
	if content == "" || meta == nil {
		t.Error("expected content and metadata")
	}
}

func TestStreamCancellation(t *testing.T) {
	p := NewProvider()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := p.Stream(ctx, &provider.Request{
		Model:  "lorem-slow",
		Params: provider.Params{MaxTokens: 100},
	})
	if err != nil {
		t.Fatal(err)
	}

	cancel()

	_, _, _, meta, errs := collect(t, ch)
	if len(errs) == 0 {
		t.Fatal("expected a cancellation error event")
	}
	if meta != nil {
		t.Error("cancelled stream must not emit final metadata")
	}
}

func TestSupportsModel(t *testing.T) {
	p := NewProvider()
	tests := []struct {
		model    string
		expected bool
	}{
		{"lorem-fast", true},
		{"lorem-slow", true},
		{"claude-sonnet", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := p.SupportsModel(tt.model); got != tt.expected {
			t.Errorf("SupportsModel(%q) = %v, expected %v", tt.model, got, tt.expected)
		}
	}
}

func TestStreamRejectsUnsupportedModel(t *testing.T) {
	p := NewProvider()
	if _, err := p.Stream(context.Background(), &provider.Request{Model: "gpt-4"}); err == nil {
		t.Fatal("expected error for unsupported model")
	}
}
