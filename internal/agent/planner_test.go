package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vnstockai/chat-gateway/internal/config"
	"github.com/vnstockai/chat-gateway/internal/mcp"
)

// completionServer fakes the chat-completions endpoint with a scripted message
func completionServer(t *testing.T, message map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{"index": 0, "message": message, "finish_reason": "stop"}},
		})
	}))
}

func plannerFor(url string) *OpenAIPlanner {
	return NewOpenAIPlanner(&config.Config{
		OpenAIAPIKey:               "test-key",
		OpenAIBaseURL:              url,
		OpenAIModel:                "gpt-4o-mini",
		LLMTimeout:                 5 * time.Second,
		CircuitBreakerMaxFailures:  5,
		CircuitBreakerResetTimeout: time.Second,
	})
}

func TestPlan_ToolCalls(t *testing.T) {
	srv := completionServer(t, map[string]any{
		"role": "assistant",
		"tool_calls": []map[string]any{
			{
				"id":   "call_1",
				"type": "function",
				"function": map[string]any{
					"name":      "stock_price",
					"arguments": `{"symbol":"VNM"}`,
				},
			},
		},
	})
	defer srv.Close()

	planner := plannerFor(srv.URL)
	plan, err := planner.Plan(context.Background(), []ConversationTurn{
		{Role: RoleUser, Content: "giá VNM?"},
	}, []mcp.ToolDescriptor{{Name: "stock_price"}})
	if err != nil {
		t.Fatalf("Plan() failed: %v", err)
	}

	if len(plan.Calls) != 1 {
		t.Fatalf("Expected 1 planned call, got %d", len(plan.Calls))
	}
	if plan.Calls[0].Name != "stock_price" {
		t.Errorf("Expected call to 'stock_price', got '%s'", plan.Calls[0].Name)
	}
	if plan.Calls[0].Args["symbol"] != "VNM" {
		t.Errorf("Expected symbol 'VNM', got %v", plan.Calls[0].Args["symbol"])
	}
}

func TestPlan_DropsUnparseableArguments(t *testing.T) {
	srv := completionServer(t, map[string]any{
		"role": "assistant",
		"tool_calls": []map[string]any{
			{
				"id":       "call_1",
				"type":     "function",
				"function": map[string]any{"name": "stock_price", "arguments": "{broken"},
			},
			{
				"id":       "call_2",
				"type":     "function",
				"function": map[string]any{"name": "market_overview", "arguments": "{}"},
			},
		},
	})
	defer srv.Close()

	planner := plannerFor(srv.URL)
	plan, err := planner.Plan(context.Background(), []ConversationTurn{
		{Role: RoleUser, Content: "giá VNM và thị trường?"},
	}, nil)
	if err != nil {
		t.Fatalf("Plan() failed: %v", err)
	}

	if len(plan.Calls) != 1 {
		t.Fatalf("Expected the broken call to be dropped, got %d calls", len(plan.Calls))
	}
	if plan.Calls[0].Name != "market_overview" {
		t.Errorf("Expected surviving call 'market_overview', got '%s'", plan.Calls[0].Name)
	}
}

func TestPlan_TextOnlyAnswer(t *testing.T) {
	srv := completionServer(t, map[string]any{
		"role":    "assistant",
		"content": "Chào bạn, tôi giúp gì được?",
	})
	defer srv.Close()

	planner := plannerFor(srv.URL)
	plan, err := planner.Plan(context.Background(), []ConversationTurn{
		{Role: RoleUser, Content: "xin chào"},
	}, nil)
	if err != nil {
		t.Fatalf("Plan() failed: %v", err)
	}

	if len(plan.Calls) != 0 {
		t.Errorf("Expected no calls, got %d", len(plan.Calls))
	}
	if plan.ProvisionalReply != "Chào bạn, tôi giúp gì được?" {
		t.Errorf("Expected provisional reply, got '%s'", plan.ProvisionalReply)
	}
}

func TestSynthesize_ParsesStructuredAnswer(t *testing.T) {
	srv := completionServer(t, map[string]any{
		"role":    "assistant",
		"content": `{"reply":"VNM đang ở 65.400 đồng.","intent":"stock_detail","payload":{"symbol":"VNM"}}`,
	})
	defer srv.Close()

	planner := plannerFor(srv.URL)
	synthesis, err := planner.Synthesize(context.Background(), []ConversationTurn{
		{Role: RoleUser, Content: "giá VNM?"},
	}, []mcp.ToolCallResult{
		mcp.Success(mcp.ToolCallRequest{Name: "stock_price"}, map[string]any{"price": 65400.0}),
	})
	if err != nil {
		t.Fatalf("Synthesize() failed: %v", err)
	}

	if synthesis.Reply != "VNM đang ở 65.400 đồng." {
		t.Errorf("Expected parsed reply, got '%s'", synthesis.Reply)
	}
	if synthesis.Intent != IntentStockDetail {
		t.Errorf("Expected intent '%s', got '%s'", IntentStockDetail, synthesis.Intent)
	}
	if synthesis.Payload["symbol"] != "VNM" {
		t.Errorf("Expected payload symbol 'VNM', got %v", synthesis.Payload["symbol"])
	}
}

func TestSynthesize_LenientOnPlainText(t *testing.T) {
	srv := completionServer(t, map[string]any{
		"role":    "assistant",
		"content": "Xin lỗi, tôi không lấy được dữ liệu.",
	})
	defer srv.Close()

	planner := plannerFor(srv.URL)
	synthesis, err := planner.Synthesize(context.Background(), []ConversationTurn{
		{Role: RoleUser, Content: "giá VNM?"},
	}, nil)
	if err != nil {
		t.Fatalf("Synthesize() failed: %v", err)
	}

	if synthesis.Reply != "Xin lỗi, tôi không lấy được dữ liệu." {
		t.Errorf("Expected content used as reply, got '%s'", synthesis.Reply)
	}
	if synthesis.Intent != IntentNone {
		t.Errorf("Expected intent '%s', got '%s'", IntentNone, synthesis.Intent)
	}
}

func TestPlan_EndpointDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	planner := plannerFor(srv.URL)
	_, err := planner.Plan(context.Background(), []ConversationTurn{
		{Role: RoleUser, Content: "giá VNM?"},
	}, nil)
	if !errors.Is(err, ErrPlannerUnavailable) {
		t.Errorf("Expected ErrPlannerUnavailable, got %v", err)
	}
}
