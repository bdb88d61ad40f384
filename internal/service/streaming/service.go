// Package streaming orchestrates "send a message": it creates the user
// and assistant nodes, compiles the conversation path, and runs the
// provider stream into the tree in a background goroutine while
// fanning SSE events out to connected clients.
package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"arbor/internal/config"
	"arbor/internal/domain"
	"arbor/internal/provider"
	"arbor/internal/session"
	"arbor/internal/tree"
)

// Service implements turn creation and streaming orchestration.
type Service struct {
	sessions     *session.Registry
	providers    *provider.Registry
	streams      *Registry
	defaultModel string
	logger       *slog.Logger
}

// NewService creates a new streaming service.
func NewService(
	sessions *session.Registry,
	providers *provider.Registry,
	streams *Registry,
	defaultModel string,
	logger *slog.Logger,
) *Service {
	return &Service{
		sessions:     sessions,
		providers:    providers,
		streams:      streams,
		defaultModel: defaultModel,
		logger:       logger,
	}
}

// CreateTurnRequest is the payload for creating a user turn plus its
// streaming assistant reply.
type CreateTurnRequest struct {
	SessionID string          `json:"-"`
	ParentID  *string         `json:"parentId"`
	Content   json.RawMessage `json:"content"`
	Model     string          `json:"model"`
	Reasoning bool            `json:"reasoning"`
	Logprobs  bool            `json:"logprobs"`
	MaxTokens int             `json:"maxTokens"`
}

// Validate implements request validation using ozzo-validation.
func (r CreateTurnRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Content, validation.Required),
		validation.Field(&r.MaxTokens, validation.Min(0), validation.Max(config.MaxCompletionTokens)),
	)
}

// CreateTurnResponse returns both created nodes so the client can
// render the user turn and connect to the assistant's SSE stream.
type CreateTurnResponse struct {
	UserNode      tree.Node `json:"userNode"`
	AssistantNode tree.Node `json:"assistantNode"`
	StreamURL     string    `json:"streamUrl"`
}

// CreateTurn creates a user node and a draft assistant node, moves the
// active pointer to the assistant node, and starts streaming into it.
func (s *Service) CreateTurn(ctx context.Context, req *CreateTurnRequest) (*CreateTurnResponse, error) {
	// Normalize empty string to nil for parentId
	if req.ParentID != nil && *req.ParentID == "" {
		req.ParentID = nil
	}

	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	content, err := tree.DecodeContent(req.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	sess, err := s.sessions.Get(req.SessionID)
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = s.defaultModel
	}
	llmProvider, err := s.providers.ForModel(model)
	if err != nil {
		return nil, err
	}

	var userNode, assistantNode tree.Node
	var path []tree.Turn
	err = sess.MutateErr(func(store *tree.Store) error {
		userID := store.CreateUserAfter(req.ParentID, content)
		assistantID, err := store.CreateAssistantAfter(userID)
		if err != nil {
			return err
		}
		userNode, _ = store.Get(userID)
		assistantNode, _ = store.Get(assistantID)
		// Compile the model context up to the user turn; the draft
		// assistant node must not be part of its own prompt
		path = store.PathTo(userID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sess.SetActiveTargetID(&assistantNode.ID)

	s.logger.Info("user turn created",
		"session_id", req.SessionID,
		"user_node_id", userNode.ID,
		"parent_id", req.ParentID,
	)
	s.logger.Info("assistant node created with draft status",
		"session_id", req.SessionID,
		"assistant_node_id", assistantNode.ID,
		"model", model,
	)

	generateReq := &provider.Request{
		Turns: path,
		Model: model,
		Params: provider.Params{
			MaxTokens: req.MaxTokens,
			Reasoning: req.Reasoning,
			Logprobs:  req.Logprobs,
		},
	}

	// Register the stream before returning so SSE clients can connect
	// without racing the background goroutine
	streamCtx, cancel := context.WithCancel(context.Background())
	stream := s.streams.Register(assistantNode.ID, cancel)

	// Use context.Background() so streaming survives the HTTP request
	// that started it
	go s.run(streamCtx, sess, stream, llmProvider, generateReq, assistantNode.ID)

	return &CreateTurnResponse{
		UserNode:      userNode,
		AssistantNode: assistantNode,
		StreamURL:     fmt.Sprintf("/api/sessions/%s/nodes/%s/stream", req.SessionID, assistantNode.ID),
	}, nil
}

// run drives one provider stream into the tree. It owns the node's
// status transitions: draft -> streaming -> final, or -> error on
// failure and interrupt.
func (s *Service) run(ctx context.Context, sess *session.Session, stream *Stream, p provider.Provider, req *provider.Request, nodeID string) {
	defer s.streams.Release(nodeID)

	events, err := p.Stream(ctx, req)
	if err != nil {
		s.logger.Error("failed to start provider stream",
			"error", err,
			"node_id", nodeID,
			"model", req.Model,
		)
		s.fail(sess, stream, nodeID, err, false)
		return
	}

	sess.Mutate(func(store *tree.Store) {
		store.SetNodeStatus(nodeID, tree.StatusStreaming)
	})
	s.publish(stream, SSEEventNodeStart, NodeStartEvent{NodeID: nodeID, Model: req.Model})

	var meta *provider.Metadata
	for ev := range events {
		if ev.Err != nil {
			cancelled := ctx.Err() != nil
			s.fail(sess, stream, nodeID, ev.Err, cancelled)
			return
		}
		if ev.Metadata != nil {
			meta = ev.Metadata
			continue
		}

		delta := tree.AppendDelta{TokenLogprobs: ev.TokenLogprobs}
		if ev.ContentDelta != nil {
			delta.Content = *ev.ContentDelta
		}
		if ev.ReasoningDelta != nil {
			delta.Reasoning = *ev.ReasoningDelta
		}
		sess.Mutate(func(store *tree.Store) {
			store.AppendToNode(nodeID, delta)
		})
		s.publish(stream, SSEEventNodeDelta, NodeDeltaEvent{
			NodeID:         nodeID,
			ContentDelta:   ev.ContentDelta,
			ReasoningDelta: ev.ReasoningDelta,
			TokenLogprobs:  ev.TokenLogprobs,
		})
	}

	sess.Mutate(func(store *tree.Store) {
		store.SetNodeStatus(nodeID, tree.StatusFinal)
	})

	complete := NodeCompleteEvent{NodeID: nodeID, StopReason: "end_turn"}
	if meta != nil {
		complete.StopReason = meta.StopReason
		complete.InputTokens = meta.InputTokens
		complete.OutputTokens = meta.OutputTokens
	}
	s.publish(stream, SSEEventNodeComplete, complete)

	s.logger.Info("streaming complete",
		"node_id", nodeID,
		"stop_reason", complete.StopReason,
		"output_tokens", complete.OutputTokens,
	)
}

// fail marks the node errored and emits the terminal error event. The
// provider stopping on cancellation does not change status by itself;
// this is where the caller-side transition happens.
func (s *Service) fail(sess *session.Session, stream *Stream, nodeID string, err error, cancelled bool) {
	sess.Mutate(func(store *tree.Store) {
		store.SetNodeStatus(nodeID, tree.StatusError)
	})
	s.publish(stream, SSEEventNodeError, NodeErrorEvent{
		NodeID:      nodeID,
		Error:       err.Error(),
		IsCancelled: cancelled,
	})
	if !cancelled {
		s.logger.Error("streaming failed", "node_id", nodeID, "error", err)
	} else {
		s.logger.Info("streaming interrupted", "node_id", nodeID)
	}
}

func (s *Service) publish(stream *Stream, eventType string, data interface{}) {
	formatted, err := FormatSSE(eventType, data)
	if err != nil {
		s.logger.Error("failed to format SSE event", "error", err, "event", eventType)
		return
	}
	stream.Publish(formatted)
}

// Interrupt cancels the in-flight stream for nodeID.
func (s *Service) Interrupt(nodeID string) error {
	stream, ok := s.streams.Get(nodeID)
	if !ok {
		return &domain.NotFoundError{Message: "no active stream for node " + nodeID}
	}
	stream.Cancel()
	return nil
}

// Subscribe attaches a consumer to the stream for nodeID.
func (s *Service) Subscribe(nodeID string) (<-chan string, []string, func(), error) {
	stream, ok := s.streams.Get(nodeID)
	if !ok {
		return nil, nil, nil, &domain.NotFoundError{Message: "no active stream for node " + nodeID}
	}
	ch, replay, unsubscribe := stream.Subscribe()
	return ch, replay, unsubscribe, nil
}
