package agent

import (
	"context"
	"errors"

	"github.com/vnstockai/chat-gateway/internal/mcp"
)

// Role of one conversation turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ConversationTurn is one message of the history supplied whole by the caller.
// Nothing is persisted between requests.
type ConversationTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Intent tags the synthesizer may emit. The set is closed; the UI mapper
// ignores anything outside it.
const (
	IntentNone           = "none"
	IntentMarketOverview = "show_market_overview"
	IntentBuyStock       = "buy_stock"
	IntentViewNews       = "view_news"
	IntentStockDetail    = "stock_detail"
)

// SkippedCall records a planned call that was dropped before dispatch
type SkippedCall struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// AgentOutcome is the terminal product of one orchestration cycle
type AgentOutcome struct {
	Reply        string
	Intent       string
	Payload      map[string]any
	ToolResults  []mcp.ToolCallResult
	SkippedCalls []SkippedCall
	CycleID      string
}

// PlanResult is what the reasoning capability produces from history + catalog
type PlanResult struct {
	Calls            []mcp.ToolCallRequest
	ProvisionalReply string
}

// Synthesis is the reasoning capability's final answer for one cycle
type Synthesis struct {
	Reply   string
	Intent  string
	Payload map[string]any
}

var (
	// ErrInvalidConversation marks malformed or empty input history
	ErrInvalidConversation = errors.New("invalid conversation")

	// ErrPlannerUnavailable marks an unreachable reasoning capability;
	// fatal for the whole cycle.
	ErrPlannerUnavailable = errors.New("reasoning capability unavailable")
)

// Planner is the opaque reasoning capability: given history and a tool
// catalog it produces tool-call requests, and given tool results it produces
// the final reply with an abstract intent.
type Planner interface {
	Plan(ctx context.Context, history []ConversationTurn, tools []mcp.ToolDescriptor) (PlanResult, error)
	Synthesize(ctx context.Context, history []ConversationTurn, results []mcp.ToolCallResult) (Synthesis, error)
}

// Dispatcher fans tool calls out and returns one result per request in order
type Dispatcher interface {
	DispatchAll(ctx context.Context, requests []mcp.ToolCallRequest) []mcp.ToolCallResult
}

// CatalogAPI is the orchestrator's view of the shared tool catalog
type CatalogAPI interface {
	EnsureFresh(ctx context.Context) error
	Load(ctx context.Context) error
	Get(name string) (mcp.ToolDescriptor, error)
	All() []mcp.ToolDescriptor
}
