package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vnstockai/chat-gateway/internal/agent"
	"github.com/vnstockai/chat-gateway/internal/mcp"
)

// fakeRunner returns a scripted outcome or error for every cycle
type fakeRunner struct {
	outcome *agent.AgentOutcome
	err     error
}

func (f *fakeRunner) Run(ctx context.Context, history []agent.ConversationTurn, cycleID string) (*agent.AgentOutcome, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := *f.outcome
	out.CycleID = cycleID
	return &out, nil
}

func newTestServer(runner CycleRunner) *httptest.Server {
	service := NewService(runner, 5*time.Second)
	return httptest.NewServer(NewHandler(service).Routes())
}

func postChat(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	resp, err := http.Post(url+"/chat", "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST /chat failed: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp, decoded
}

func chatBody(content string) map[string]any {
	return map[string]any{
		"messages": []map[string]string{{"role": "user", "content": content}},
	}
}

func TestHandleChat_Success(t *testing.T) {
	runner := &fakeRunner{outcome: &agent.AgentOutcome{
		Reply:  "VNM đang ở 65.400 đồng.",
		Intent: agent.IntentStockDetail,
		Payload: map[string]any{
			"symbol": "VNM",
			"price":  65400.0,
		},
		ToolResults: []mcp.ToolCallResult{
			mcp.Success(mcp.ToolCallRequest{Name: "stock_price"}, map[string]any{"price": 65400.0}),
		},
	}}
	srv := newTestServer(runner)
	defer srv.Close()

	resp, body := postChat(t, srv.URL, chatBody("giá VNM hôm nay?"))

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if body["reply"] != "VNM đang ở 65.400 đồng." {
		t.Errorf("Expected reply text, got %v", body["reply"])
	}

	effects, ok := body["ui_effects"].([]any)
	if !ok || len(effects) != 1 {
		t.Fatalf("Expected 1 ui effect, got %v", body["ui_effects"])
	}
	effect := effects[0].(map[string]any)
	if effect["type"] != "OPEN_STOCK_DETAIL" {
		t.Errorf("Expected OPEN_STOCK_DETAIL effect, got %v", effect["type"])
	}

	if _, ok := body["suggestion_messages"].([]any); !ok {
		t.Error("Expected suggestion_messages in response")
	}

	raw, ok := body["raw_agent_output"].(map[string]any)
	if !ok {
		t.Fatal("Expected raw_agent_output in response")
	}
	if raw["intent"] != agent.IntentStockDetail {
		t.Errorf("Expected raw intent '%s', got %v", agent.IntentStockDetail, raw["intent"])
	}
}

func TestHandleChat_EmptyMessages(t *testing.T) {
	srv := newTestServer(&fakeRunner{outcome: &agent.AgentOutcome{Reply: "x"}})
	defer srv.Close()

	resp, body := postChat(t, srv.URL, map[string]any{"messages": []any{}})

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
	if body["error"] == "" {
		t.Error("Expected an error message")
	}
}

func TestHandleChat_MalformedBody(t *testing.T) {
	srv := newTestServer(&fakeRunner{outcome: &agent.AgentOutcome{Reply: "x"}})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/chat", "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("POST /chat failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
}

func TestHandleChat_InfrastructureFailure(t *testing.T) {
	runner := &fakeRunner{err: fmt.Errorf("%w: connection refused", agent.ErrPlannerUnavailable)}
	srv := newTestServer(runner)
	defer srv.Close()

	resp, _ := postChat(t, srv.URL, chatBody("giá VNM?"))

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", resp.StatusCode)
	}
}

func TestHandleChat_InvalidConversationFromRunner(t *testing.T) {
	runner := &fakeRunner{err: fmt.Errorf("%w: empty history", agent.ErrInvalidConversation)}
	srv := newTestServer(runner)
	defer srv.Close()

	resp, _ := postChat(t, srv.URL, chatBody("giá VNM?"))

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
}

func TestHandleChat_PartialToolFailureStaysOK(t *testing.T) {
	runner := &fakeRunner{outcome: &agent.AgentOutcome{
		Reply:  "Tôi lấy được một phần dữ liệu.",
		Intent: agent.IntentNone,
		ToolResults: []mcp.ToolCallResult{
			mcp.Success(mcp.ToolCallRequest{Name: "stock_price"}, map[string]any{"price": 65400.0}),
			mcp.Failure(mcp.ToolCallRequest{Name: "stock_news"}, mcp.ErrKindRemoteUnavailable, "connection refused"),
		},
	}}
	srv := newTestServer(runner)
	defer srv.Close()

	resp, body := postChat(t, srv.URL, chatBody("giá và tin VNM?"))

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200 for partial failure, got %d", resp.StatusCode)
	}

	raw := body["raw_agent_output"].(map[string]any)
	results := raw["tool_results"].([]any)
	if len(results) != 2 {
		t.Fatalf("Expected 2 tool results, got %d", len(results))
	}
	failed := results[1].(map[string]any)
	if failed["ok"] != false {
		t.Error("Expected second result to be marked failed")
	}
	if failed["error_kind"] != mcp.ErrKindRemoteUnavailable {
		t.Errorf("Expected error kind '%s', got %v", mcp.ErrKindRemoteUnavailable, failed["error_kind"])
	}
}

func TestHandleChat_MalformedPayloadDropsInstruction(t *testing.T) {
	// buy_stock without a price cannot build an instruction; the reply survives
	runner := &fakeRunner{outcome: &agent.AgentOutcome{
		Reply:   "Bạn muốn mua MWG?",
		Intent:  agent.IntentBuyStock,
		Payload: map[string]any{"symbol": "MWG"},
	}}
	srv := newTestServer(runner)
	defer srv.Close()

	resp, body := postChat(t, srv.URL, chatBody("mua MWG"))

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if body["reply"] != "Bạn muốn mua MWG?" {
		t.Errorf("Expected reply preserved, got %v", body["reply"])
	}
	effects, ok := body["ui_effects"].([]any)
	if !ok {
		t.Fatal("Expected ui_effects to be a list")
	}
	if len(effects) != 0 {
		t.Errorf("Expected no ui effects for malformed payload, got %v", effects)
	}
}

func TestHandleChat_NoIntentEmptyEffects(t *testing.T) {
	runner := &fakeRunner{outcome: &agent.AgentOutcome{
		Reply:  "Chào bạn!",
		Intent: agent.IntentNone,
	}}
	srv := newTestServer(runner)
	defer srv.Close()

	resp, body := postChat(t, srv.URL, chatBody("xin chào"))

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	effects, ok := body["ui_effects"].([]any)
	if !ok {
		t.Fatal("Expected ui_effects to be a list, not null")
	}
	if len(effects) != 0 {
		t.Errorf("Expected empty ui_effects, got %v", effects)
	}
}
