package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vnstockai/chat-gateway/internal/config"
)

func testConfig(url string) *config.Config {
	return &config.Config{
		MCPServerURL:               url,
		MCPTimeout:                 5 * time.Second,
		MCPRateLimit:               1000,
		MCPRateBurst:               1000,
		CircuitBreakerMaxFailures:  5,
		CircuitBreakerResetTimeout: time.Second,
	}
}

// testToolServer fakes the JSON-RPC endpoint: initialize handshake, session
// header, tools/list and a pluggable tools/call handler.
func testToolServer(t *testing.T, onCall func(name string, args map[string]any) (string, bool)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string         `json:"method"`
			ID     int64          `json:"id"`
			Params map[string]any `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("server failed to decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		switch req.Method {
		case "initialize":
			w.Header().Set("mcp-session-id", "session-123")
			writeRPC(w, req.ID, map[string]any{"protocolVersion": protocolVersion})

		case "notifications/initialized":
			w.WriteHeader(http.StatusAccepted)

		case "tools/list":
			if r.Header.Get("mcp-session-id") != "session-123" {
				t.Error("Expected session header on tools/list")
			}
			writeRPC(w, req.ID, map[string]any{
				"tools": []map[string]any{
					{
						"name":        "stock_price",
						"description": "Current price for a ticker",
						"inputSchema": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"symbol":   map[string]any{"type": "string"},
								"interval": map[string]any{"type": "string", "default": "1D"},
							},
							"required": []string{"symbol"},
						},
					},
					{
						"name":        "market_overview",
						"description": "Index snapshot",
						"inputSchema": map[string]any{"type": "object"},
					},
				},
			})

		case "tools/call":
			name, _ := req.Params["name"].(string)
			args, _ := req.Params["arguments"].(map[string]any)
			text, isError := onCall(name, args)
			writeRPC(w, req.ID, map[string]any{
				"content": []map[string]any{{"type": "text", "text": text}},
				"isError": isError,
			})

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func writeRPC(w http.ResponseWriter, id int64, result any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

func TestClient_ListTools(t *testing.T) {
	srv := testToolServer(t, nil)
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools() failed: %v", err)
	}

	if len(tools) != 2 {
		t.Fatalf("Expected 2 tools, got %d", len(tools))
	}
	if tools[0].Name != "stock_price" {
		t.Errorf("Expected tool 'stock_price', got '%s'", tools[0].Name)
	}
	symbol, ok := tools[0].Params["symbol"]
	if !ok {
		t.Fatal("Expected 'symbol' parameter on stock_price")
	}
	if !symbol.Required {
		t.Error("Expected 'symbol' to be required")
	}
	if symbol.Type != "string" {
		t.Errorf("Expected 'symbol' type string, got '%s'", symbol.Type)
	}
	if interval := tools[0].Params["interval"]; interval.Required {
		t.Error("Expected 'interval' to be optional")
	}
}

func TestClient_SessionReuse(t *testing.T) {
	initializes := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			ID     int64  `json:"id"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		switch req.Method {
		case "initialize":
			initializes++
			w.Header().Set("mcp-session-id", "session-123")
			writeRPC(w, req.ID, map[string]any{})
		case "notifications/initialized":
			w.WriteHeader(http.StatusAccepted)
		default:
			writeRPC(w, req.ID, map[string]any{"tools": []any{}})
		}
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	for i := 0; i < 3; i++ {
		if _, err := client.ListTools(context.Background()); err != nil {
			t.Fatalf("ListTools() call %d failed: %v", i, err)
		}
	}

	if initializes != 1 {
		t.Errorf("Expected 1 initialize for 3 calls, got %d", initializes)
	}
}

func TestClient_CallTool_Success(t *testing.T) {
	srv := testToolServer(t, func(name string, args map[string]any) (string, bool) {
		if name != "stock_price" {
			t.Errorf("Expected call to 'stock_price', got '%s'", name)
		}
		if args["symbol"] != "VNM" {
			t.Errorf("Expected symbol 'VNM', got %v", args["symbol"])
		}
		return `{"symbol":"VNM","price":65400}`, false
	})
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	result := client.CallTool(context.Background(), ToolCallRequest{
		Name: "stock_price",
		Args: map[string]any{"symbol": "VNM"},
	})

	if !result.OK {
		t.Fatalf("Expected success, got failure: %s", result.ErrMsg)
	}
	payload, ok := result.Payload.(map[string]any)
	if !ok {
		t.Fatalf("Expected decoded JSON payload, got %T", result.Payload)
	}
	if payload["symbol"] != "VNM" {
		t.Errorf("Expected payload symbol 'VNM', got %v", payload["symbol"])
	}
}

func TestClient_CallTool_ToolError(t *testing.T) {
	srv := testToolServer(t, func(name string, args map[string]any) (string, bool) {
		return "symbol XYZ not found", true
	})
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	result := client.CallTool(context.Background(), ToolCallRequest{Name: "stock_price"})

	if result.OK {
		t.Fatal("Expected failure for isError result")
	}
	if result.ErrKind != ErrKindToolError {
		t.Errorf("Expected error kind '%s', got '%s'", ErrKindToolError, result.ErrKind)
	}
	if result.ErrMsg != "symbol XYZ not found" {
		t.Errorf("Expected tool error message, got '%s'", result.ErrMsg)
	}
}

func TestClient_CallTool_RemoteUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	client := NewClient(testConfig(srv.URL))
	result := client.CallTool(context.Background(), ToolCallRequest{Name: "stock_price"})

	if result.OK {
		t.Fatal("Expected failure when server is down")
	}
	if result.ErrKind != ErrKindRemoteUnavailable {
		t.Errorf("Expected error kind '%s', got '%s'", ErrKindRemoteUnavailable, result.ErrKind)
	}
}

func TestClient_CallTool_Timeout(t *testing.T) {
	srv := testToolServer(t, func(name string, args map[string]any) (string, bool) {
		time.Sleep(200 * time.Millisecond)
		return "{}", false
	})
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Let the handshake finish before the deadline pressure hits the call
	if err := client.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	result := client.CallTool(ctx, ToolCallRequest{Name: "stock_price"})
	if result.OK {
		t.Fatal("Expected failure on deadline")
	}
	if result.ErrKind != ErrKindTimeout {
		t.Errorf("Expected error kind '%s', got '%s'", ErrKindTimeout, result.ErrKind)
	}
}

func TestClient_EndpointFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/mcp" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req struct {
			Method string `json:"method"`
			ID     int64  `json:"id"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		switch req.Method {
		case "initialize":
			w.Header().Set("mcp-session-id", "session-123")
			writeRPC(w, req.ID, map[string]any{})
		case "notifications/initialized":
			w.WriteHeader(http.StatusAccepted)
		default:
			writeRPC(w, req.ID, map[string]any{"tools": []any{}})
		}
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	if _, err := client.ListTools(context.Background()); err != nil {
		t.Fatalf("Expected fallback to root endpoint, got %v", err)
	}
}

func TestClient_SSEResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			ID     int64  `json:"id"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		switch req.Method {
		case "initialize":
			w.Header().Set("mcp-session-id", "session-123")
			writeRPC(w, req.ID, map[string]any{})
		case "notifications/initialized":
			w.WriteHeader(http.StatusAccepted)
		default:
			w.Header().Set("Content-Type", "text/event-stream")
			body := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"tools":[{"name":"stock_price","inputSchema":{"type":"object"}}]}}`, req.ID)
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", body)
		}
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools() over SSE failed: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "stock_price" {
		t.Errorf("Expected 1 tool 'stock_price' from SSE body, got %v", tools)
	}
}

func TestParseSSE(t *testing.T) {
	data, err := parseSSE(strings.NewReader("event: message\ndata: {\"ok\":true}\n\n"))
	if err != nil {
		t.Fatalf("parseSSE() failed: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Errorf("Expected data frame payload, got '%s'", data)
	}

	if _, err := parseSSE(strings.NewReader("event: ping\n\n")); err == nil {
		t.Error("Expected error when stream has no data frame")
	}
}
