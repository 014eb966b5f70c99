package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vnstockai/chat-gateway/internal/mcp"
	"github.com/vnstockai/chat-gateway/internal/observability"
)

// CycleState names the steps of one orchestration cycle. Every cycle reaches
// StateDone or StateFailed.
type CycleState string

// degradedReply is the answer of last resort when no pass produced usable text
const degradedReply = "Xin lỗi, tôi chưa lấy được dữ liệu cần thiết. Vui lòng thử lại."

const (
	StateReceived    CycleState = "RECEIVED"
	StatePlanned     CycleState = "PLANNED"
	StateDispatched  CycleState = "DISPATCHED"
	StateSynthesized CycleState = "SYNTHESIZED"
	StateDone        CycleState = "DONE"
	StateFailed      CycleState = "FAILED"
)

// Orchestrator drives one cycle per chat request: validate history, let the
// planner choose tool calls, dispatch them, and fold the results into a single
// AgentOutcome. Collaborators are injected; cycles share only the catalog.
type Orchestrator struct {
	planner    Planner
	dispatcher Dispatcher
	catalog    CatalogAPI
}

// NewOrchestrator wires an orchestrator from its collaborators
func NewOrchestrator(planner Planner, dispatcher Dispatcher, catalog CatalogAPI) *Orchestrator {
	return &Orchestrator{
		planner:    planner,
		dispatcher: dispatcher,
		catalog:    catalog,
	}
}

// Run executes one orchestration cycle. Partial tool failures degrade the
// reply; only conversation-shape errors and infrastructure failures return a
// non-nil error.
func (o *Orchestrator) Run(ctx context.Context, history []ConversationTurn, cycleID string) (*AgentOutcome, error) {
	logger := observability.WithCycleID(cycleID)
	metrics := observability.NewCycleMetrics(cycleID)

	state := StateReceived
	if err := validateHistory(history); err != nil {
		o.logState(logger, StateFailed, state)
		return nil, err
	}

	// Catalog must exist before planning; one retry lives inside Load.
	if err := o.catalog.EnsureFresh(ctx); err != nil {
		metrics.RecordError("catalog_unavailable", "orchestrator")
		o.logState(logger, StateFailed, state)
		return nil, err
	}

	metrics.RecordPlannerStart()
	plan, err := o.planner.Plan(ctx, history, o.catalog.All())
	metrics.RecordPlannerEnd("plan", err == nil)
	if err != nil {
		metrics.RecordError("planner_unavailable", "orchestrator")
		o.logState(logger, StateFailed, state)
		return nil, err
	}
	state = StatePlanned

	requests, skipped := o.resolveCalls(ctx, logger, plan.Calls)

	var results []mcp.ToolCallResult
	if len(requests) > 0 {
		results = o.dispatcher.DispatchAll(ctx, requests)
		state = StateDispatched
		logger.Debug().
			Int("requests", len(requests)).
			Int("failed", countFailed(results)).
			Msg("tool calls dispatched")
	}

	metrics.RecordPlannerStart()
	synthesis, err := o.planner.Synthesize(ctx, history, results)
	metrics.RecordPlannerEnd("synthesize", err == nil)
	if err != nil {
		// When the cycle deadline expired mid-flight, synthesis cannot run
		// but the completed tool results are still worth answering with.
		if ctx.Err() != nil {
			logger.Warn().Err(err).Msg("deadline elapsed before synthesis, returning degraded outcome")
			o.logState(logger, StateDone, state)
			return &AgentOutcome{
				Reply:        firstNonBlank(plan.ProvisionalReply, degradedReply),
				Intent:       IntentNone,
				ToolResults:  results,
				SkippedCalls: skipped,
				CycleID:      cycleID,
			}, nil
		}
		metrics.RecordError("planner_unavailable", "orchestrator")
		o.logState(logger, StateFailed, state)
		return nil, err
	}
	state = StateSynthesized

	reply := firstNonBlank(synthesis.Reply, plan.ProvisionalReply, degradedReply)

	outcome := &AgentOutcome{
		Reply:        reply,
		Intent:       synthesis.Intent,
		Payload:      synthesis.Payload,
		ToolResults:  results,
		SkippedCalls: skipped,
		CycleID:      cycleID,
	}

	o.logState(logger, StateDone, state)
	return outcome, nil
}

// resolveCalls checks every planned name against the catalog. On the first
// unknown name the catalog is refreshed once for the whole cycle; names still
// unknown afterwards are dropped and annotated, never fatal.
func (o *Orchestrator) resolveCalls(ctx context.Context, logger zerolog.Logger, calls []mcp.ToolCallRequest) ([]mcp.ToolCallRequest, []SkippedCall) {
	var requests []mcp.ToolCallRequest
	var skipped []SkippedCall
	refreshed := false

	for _, call := range calls {
		descriptor, err := o.catalog.Get(call.Name)
		if err != nil && !refreshed {
			refreshed = true
			logger.Info().Str("tool", call.Name).Msg("unknown tool, refreshing catalog once")
			if loadErr := o.catalog.Load(ctx); loadErr != nil {
				logger.Warn().Err(loadErr).Msg("catalog refresh failed")
			}
			descriptor, err = o.catalog.Get(call.Name)
		}
		if err != nil {
			logger.Warn().Str("tool", call.Name).Msg("dropping call to unknown tool")
			skipped = append(skipped, SkippedCall{
				Name:   call.Name,
				Reason: fmt.Sprintf("unknown tool %q", call.Name),
			})
			continue
		}

		call.Args = descriptor.NormalizeArgs(call.Args)
		requests = append(requests, call)
	}

	return requests, skipped
}

func (o *Orchestrator) logState(logger zerolog.Logger, terminal, last CycleState) {
	logger.Debug().
		Str("terminal", string(terminal)).
		Str("last_step", string(last)).
		Msg("orchestration cycle finished")
}

func validateHistory(history []ConversationTurn) error {
	if len(history) == 0 {
		return fmt.Errorf("%w: messages must not be empty", ErrInvalidConversation)
	}
	last := history[len(history)-1]
	if last.Role != RoleUser {
		return fmt.Errorf("%w: last turn must come from the user", ErrInvalidConversation)
	}
	if strings.TrimSpace(last.Content) == "" {
		return fmt.Errorf("%w: last user turn is empty", ErrInvalidConversation)
	}
	return nil
}

func firstNonBlank(candidates ...string) string {
	for _, c := range candidates {
		if strings.TrimSpace(c) != "" {
			return c
		}
	}
	return ""
}

func countFailed(results []mcp.ToolCallResult) int {
	failed := 0
	for _, r := range results {
		if !r.OK {
			failed++
		}
	}
	return failed
}
