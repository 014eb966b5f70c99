package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/vnstockai/chat-gateway/internal/config"
	"github.com/vnstockai/chat-gateway/internal/mcp"
	"github.com/vnstockai/chat-gateway/internal/observability"
	"github.com/vnstockai/chat-gateway/internal/resilience"
)

const plannerSystemPrompt = `Bạn là một assistant chuyên về thị trường chứng khoán Việt Nam.
Bạn có thể dùng các tools để lấy dữ liệu THỰC TẾ: thông tin công ty, giá cổ phiếu,
báo cáo tài chính, quỹ đầu tư, bảng giá, tin tức, giá vàng và tỷ giá.
KHÔNG BAO GIỜ tự tạo hoặc đoán dữ liệu; nếu cần số liệu, hãy gọi tool phù hợp.
Luôn trả lời bằng tiếng Việt.`

const synthesisInstruction = `Dựa trên hội thoại và kết quả tools ở trên, trả về DUY NHẤT một JSON object:
{"reply": "<câu trả lời tiếng Việt cho người dùng>",
 "intent": "<một trong: show_market_overview, buy_stock, view_news, stock_detail, none>",
 "payload": {<dữ liệu cho intent, ví dụ symbol và currentPrice cho buy_stock; {} nếu không có>}}
Nếu một tool thất bại, giải thích trong reply rằng dữ liệu đó không lấy được.
Dùng intent "none" khi không có hành động UI nào phù hợp.`

// OpenAIPlanner implements Planner against any OpenAI-compatible
// chat-completions API with function calling.
type OpenAIPlanner struct {
	api     *openai.Client
	model   string
	timeout time.Duration
	breaker *resilience.CircuitBreaker
}

// NewOpenAIPlanner creates the reasoning capability client from configuration
func NewOpenAIPlanner(cfg *config.Config) *OpenAIPlanner {
	apiCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		apiCfg.BaseURL = cfg.OpenAIBaseURL
	}

	return &OpenAIPlanner{
		api:     openai.NewClientWithConfig(apiCfg),
		model:   cfg.OpenAIModel,
		timeout: cfg.LLMTimeout,
		breaker: resilience.NewCircuitBreaker(
			"llm",
			cfg.CircuitBreakerMaxFailures,
			cfg.CircuitBreakerResetTimeout,
		),
	}
}

// Plan asks the model which catalog operations to invoke for this history.
// Zero tool calls with a text answer is a valid plan.
func (p *OpenAIPlanner) Plan(ctx context.Context, history []ConversationTurn, tools []mcp.ToolDescriptor) (PlanResult, error) {
	req := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: toOpenAIMessages(history),
	}
	if len(tools) > 0 {
		req.Tools = toOpenAITools(tools)
		req.ToolChoice = "auto"
	}

	resp, err := p.complete(ctx, req)
	if err != nil {
		return PlanResult{}, err
	}

	choice := resp.Choices[0].Message

	plan := PlanResult{ProvisionalReply: choice.Content}
	for _, tc := range choice.ToolCalls {
		args := map[string]any{}
		if raw := strings.TrimSpace(tc.Function.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				// Malformed arguments are the model's fault, not an
				// infrastructure failure; drop just this call.
				logger := observability.GetLogger()
				logger.Warn().
					Str("tool", tc.Function.Name).
					Err(err).
					Msg("dropping tool call with unparseable arguments")
				continue
			}
		}
		plan.Calls = append(plan.Calls, mcp.ToolCallRequest{
			Name: tc.Function.Name,
			Args: args,
		})
	}

	return plan, nil
}

// Synthesize gives the model the history plus every tool result and asks for
// the final reply with an abstract intent tag.
func (p *OpenAIPlanner) Synthesize(ctx context.Context, history []ConversationTurn, results []mcp.ToolCallResult) (Synthesis, error) {
	messages := toOpenAIMessages(history)

	if len(results) > 0 {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: "Kết quả tools:\n" + renderResults(results),
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: synthesisInstruction,
	})

	req := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: messages,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := p.complete(ctx, req)
	if err != nil {
		return Synthesis{}, err
	}

	content := resp.Choices[0].Message.Content

	var parsed struct {
		Reply   string         `json:"reply"`
		Intent  string         `json:"intent"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil || parsed.Reply == "" {
		// The model ignored the format; treat the whole output as the reply.
		return Synthesis{Reply: content, Intent: IntentNone}, nil
	}

	if parsed.Intent == "" {
		parsed.Intent = IntentNone
	}
	return Synthesis{Reply: parsed.Reply, Intent: parsed.Intent, Payload: parsed.Payload}, nil
}

// HealthCheck verifies the LLM endpoint answers a model listing
func (p *OpenAIPlanner) HealthCheck(ctx context.Context) (bool, error) {
	if _, err := p.api.ListModels(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (p *OpenAIPlanner) complete(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var resp openai.ChatCompletionResponse
	err := p.breaker.Call(func() error {
		var callErr error
		resp, callErr = p.api.CreateChatCompletion(ctx, req)
		return callErr
	})

	observability.UpdateCircuitBreakerState("llm", int(p.breaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures("llm")
		return openai.ChatCompletionResponse{}, fmt.Errorf("%w: %v", ErrPlannerUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return openai.ChatCompletionResponse{}, fmt.Errorf("%w: no choices in response", ErrPlannerUnavailable)
	}
	return resp, nil
}

func toOpenAIMessages(history []ConversationTurn) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: plannerSystemPrompt,
	})
	for _, turn := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(turn.Role),
			Content: turn.Content,
		})
	}
	return messages
}

// toOpenAITools converts catalog descriptors into function-calling tools
func toOpenAITools(tools []mcp.ToolDescriptor) []openai.Tool {
	converted := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		properties := make(map[string]any, len(t.Params))
		var required []string
		for name, spec := range t.Params {
			prop := map[string]any{"type": spec.Type}
			if spec.Description != "" {
				prop["description"] = spec.Description
			}
			if spec.Type == "array" {
				itemType := spec.ItemType
				if itemType == "" {
					itemType = "string"
				}
				prop["items"] = map[string]any{"type": itemType}
			}
			properties[name] = prop
			if spec.Required {
				required = append(required, name)
			}
		}

		converted = append(converted, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters: map[string]any{
					"type":       "object",
					"properties": properties,
					"required":   required,
				},
			},
		})
	}
	return converted
}

// renderResults serializes tool results for the synthesis prompt
func renderResults(results []mcp.ToolCallResult) string {
	var b strings.Builder
	for _, r := range results {
		if r.OK {
			payload, err := json.Marshal(r.Payload)
			if err != nil {
				payload = []byte(fmt.Sprintf("%v", r.Payload))
			}
			fmt.Fprintf(&b, "- %s: %s\n", r.Request.Name, payload)
		} else {
			fmt.Fprintf(&b, "- %s: LỖI (%s): %s\n", r.Request.Name, r.ErrKind, r.ErrMsg)
		}
	}
	return b.String()
}
