package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"arbor/internal/domain"
	"arbor/internal/provider"
	"arbor/internal/session"
	"arbor/internal/tree"
)

// stubProvider streams a fixed word sequence, or blocks until
// cancelled when blocking is set.
type stubProvider struct {
	words    []string
	blocking bool
}

func (p *stubProvider) Name() string                  { return "stub" }
func (p *stubProvider) SupportsModel(model string) bool { return strings.HasPrefix(model, "stub-") }

func (p *stubProvider) Stream(ctx context.Context, req *provider.Request) (<-chan provider.StreamEvent, error) {
	ch := make(chan provider.StreamEvent, 10)
	go func() {
		defer close(ch)
		if p.blocking {
			<-ctx.Done()
			ch <- provider.StreamEvent{Err: ctx.Err()}
			return
		}
		for _, w := range p.words {
			d := w
			ch <- provider.StreamEvent{ContentDelta: &d}
		}
		ch <- provider.StreamEvent{
			Metadata: &provider.Metadata{Model: req.Model, StopReason: "end_turn", OutputTokens: len(p.words)},
		}
	}()
	return ch, nil
}

func newTestService(p provider.Provider) (*Service, *session.Registry) {
	sessions := session.NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(sessions, provider.NewRegistry(p), NewRegistry(time.Minute), "stub-default", logger)
	return svc, sessions
}

// waitForStatus polls the node until it reaches the wanted status.
func waitForStatus(t *testing.T, sess *session.Session, nodeID string, want tree.Status) tree.Node {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var node tree.Node
		var ok bool
		sess.View(func(store *tree.Store) {
			node, ok = store.Get(nodeID)
		})
		if ok && node.Status == want {
			return node
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("node %s never reached status %q", nodeID, want)
	return tree.Node{}
}

func TestCreateTurnStreamsToCompletion(t *testing.T) {
	svc, sessions := newTestService(&stubProvider{words: []string{"Hel", "lo"}})
	sess := sessions.Create("test")

	resp, err := svc.CreateTurn(context.Background(), &CreateTurnRequest{
		SessionID: sess.ID,
		Content:   json.RawMessage(`"hi"`),
	})
	if err != nil {
		t.Fatalf("CreateTurn failed: %v", err)
	}

	if resp.UserNode.Role != tree.RoleUser || resp.AssistantNode.Role != tree.RoleAssistant {
		t.Errorf("unexpected roles: %+v", resp)
	}
	if resp.AssistantNode.Status != tree.StatusDraft {
		t.Errorf("assistant node should start as draft, got %q", resp.AssistantNode.Status)
	}
	if !strings.Contains(resp.StreamURL, resp.AssistantNode.ID) {
		t.Errorf("stream URL should reference the assistant node: %s", resp.StreamURL)
	}
	if active := sess.ActiveTargetID(); active == nil || *active != resp.AssistantNode.ID {
		t.Errorf("active pointer should move to the assistant node, got %v", active)
	}

	node := waitForStatus(t, sess, resp.AssistantNode.ID, tree.StatusFinal)
	if got := tree.PlainText(node.Content); got != "Hello" {
		t.Errorf("expected streamed content %q, got %q", "Hello", got)
	}
}

func TestCreateTurnEmitsSSEEvents(t *testing.T) {
	svc, sessions := newTestService(&stubProvider{words: []string{"a", "b"}})
	sess := sessions.Create("test")

	resp, err := svc.CreateTurn(context.Background(), &CreateTurnRequest{
		SessionID: sess.ID,
		Content:   json.RawMessage(`"hi"`),
	})
	if err != nil {
		t.Fatal(err)
	}

	ch, replay, unsubscribe, err := svc.Subscribe(resp.AssistantNode.ID)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer unsubscribe()

	var events []string
	events = append(events, replay...)
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				goto done
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("stream never closed")
		}
	}
done:
	all := strings.Join(events, "")
	for _, want := range []string{"event: node_start", "event: node_delta", "event: node_complete"} {
		if !strings.Contains(all, want) {
			t.Errorf("expected %q in SSE output:\n%s", want, all)
		}
	}
	if strings.Contains(all, "event: node_error") {
		t.Errorf("unexpected error event:\n%s", all)
	}
}

func TestInterrupt(t *testing.T) {
	svc, sessions := newTestService(&stubProvider{blocking: true})
	sess := sessions.Create("test")

	resp, err := svc.CreateTurn(context.Background(), &CreateTurnRequest{
		SessionID: sess.ID,
		Content:   json.RawMessage(`"hi"`),
	})
	if err != nil {
		t.Fatal(err)
	}

	// Wait for streaming to actually start before interrupting
	waitForStatus(t, sess, resp.AssistantNode.ID, tree.StatusStreaming)

	if err := svc.Interrupt(resp.AssistantNode.ID); err != nil {
		t.Fatalf("interrupt failed: %v", err)
	}

	waitForStatus(t, sess, resp.AssistantNode.ID, tree.StatusError)

	// Catch-up replay carries the cancellation marker
	_, replay, unsubscribe, err := svc.Subscribe(resp.AssistantNode.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer unsubscribe()
	all := strings.Join(replay, "")
	if !strings.Contains(all, "event: node_error") || !strings.Contains(all, `"isCancelled":true`) {
		t.Errorf("expected cancelled error event in replay:\n%s", all)
	}
}

func TestCreateTurnValidation(t *testing.T) {
	svc, sessions := newTestService(&stubProvider{})
	sess := sessions.Create("test")

	tests := []struct {
		name string
		req  CreateTurnRequest
	}{
		{"missing content", CreateTurnRequest{SessionID: sess.ID}},
		{"malformed content", CreateTurnRequest{SessionID: sess.ID, Content: json.RawMessage(`{"x":1}`)}},
		{"unsupported model", CreateTurnRequest{SessionID: sess.ID, Content: json.RawMessage(`"hi"`), Model: "gpt-4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateTurn(context.Background(), &tt.req)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}

	t.Run("unknown session", func(t *testing.T) {
		_, err := svc.CreateTurn(context.Background(), &CreateTurnRequest{
			SessionID: "no-such-session",
			Content:   json.RawMessage(`"hi"`),
		})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected not-found error, got %v", err)
		}
	})
}

func TestSubscribeUnknownNode(t *testing.T) {
	svc, _ := newTestService(&stubProvider{})
	if _, _, _, err := svc.Subscribe("ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected not-found error, got %v", err)
	}
	if err := svc.Interrupt("ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected not-found error, got %v", err)
	}
}
