package chat

import (
	"context"
	"time"

	"github.com/vnstockai/chat-gateway/internal/agent"
	"github.com/vnstockai/chat-gateway/internal/observability"
	"github.com/vnstockai/chat-gateway/internal/ui"
)

// CycleRunner runs one orchestration cycle; implemented by agent.Orchestrator
type CycleRunner interface {
	Run(ctx context.Context, history []agent.ConversationTurn, cycleID string) (*agent.AgentOutcome, error)
}

// Service is the stateless per-request façade: one orchestration cycle plus
// the intent-to-instruction mapping and suggestion generation.
type Service struct {
	runner         CycleRunner
	requestTimeout time.Duration
}

// NewService creates the chat service
func NewService(runner CycleRunner, requestTimeout time.Duration) *Service {
	return &Service{
		runner:         runner,
		requestTimeout: requestTimeout,
	}
}

// HandleChat processes one validated chat request into a response. Tool and
// payload failures degrade the answer; the returned error is non-nil only for
// infrastructure failures (the handler turns those into a 500).
func (s *Service) HandleChat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	cycleID := observability.NewCycleID()
	logger := observability.WithCycleID(cycleID)
	metrics := observability.NewCycleMetrics(cycleID)
	metrics.RecordCycleStart()

	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	outcome, err := s.runner.Run(ctx, req.Messages, cycleID)
	if err != nil {
		metrics.RecordCycleEnd("failed")
		return nil, err
	}

	effects := []ui.Instruction{}
	instruction, mapErr := ui.Map(outcome.Intent, outcome.Payload, outcome.Reply)
	if mapErr != nil {
		// Reply is preserved; only the instruction is dropped.
		metrics.RecordError("payload_shape_mismatch", "chat")
	}
	if instruction != nil {
		effects = append(effects, *instruction)
	}

	suggestions := ui.GenerateSuggestions(outcome.Reply, req.LastUserMessage(), outcome.Intent)

	logger.Info().
		Str("intent", outcome.Intent).
		Int("ui_effects", len(effects)).
		Int("tool_calls", len(outcome.ToolResults)).
		Int("skipped_calls", len(outcome.SkippedCalls)).
		Msg("chat request handled")

	metrics.RecordCycleEnd("done")
	return &ChatResponse{
		Reply:              outcome.Reply,
		UIEffects:          effects,
		SuggestionMessages: suggestions,
		RawAgentOutput:     rawOutput(outcome),
	}, nil
}

// rawOutput assembles the diagnostic object exposed to the caller. Payloads
// of successful calls are included whole; they are already opaque structured
// data and the caller may want them for debugging.
func rawOutput(outcome *agent.AgentOutcome) map[string]any {
	results := make([]map[string]any, 0, len(outcome.ToolResults))
	for _, r := range outcome.ToolResults {
		entry := map[string]any{
			"tool": r.Request.Name,
			"ok":   r.OK,
		}
		if r.OK {
			entry["payload"] = r.Payload
		} else {
			entry["error_kind"] = r.ErrKind
			entry["error"] = r.ErrMsg
		}
		results = append(results, entry)
	}

	raw := map[string]any{
		"cycle_id":     outcome.CycleID,
		"intent":       outcome.Intent,
		"tool_results": results,
	}
	if len(outcome.SkippedCalls) > 0 {
		raw["skipped_calls"] = outcome.SkippedCalls
	}
	return raw
}
