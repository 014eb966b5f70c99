package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/vnstockai/chat-gateway/internal/config"
	"github.com/vnstockai/chat-gateway/internal/observability"
	"github.com/vnstockai/chat-gateway/internal/resilience"
)

// ErrRemoteUnavailable marks transport-level failures of the tool server:
// connection errors, timeouts, open circuit. Callers decide whether it is fatal.
var ErrRemoteUnavailable = errors.New("remote tool server unavailable")

const protocolVersion = "2024-11-05"

// The server mounts the JSON-RPC endpoint at /mcp or at the root depending on
// deployment; try in order and fall through on 404.
var endpointsToTry = []string{"/mcp", "/"}

// Client issues JSON-RPC 2.0 calls against the vnstock MCP server over HTTP.
// It owns the per-call timeout; retries are the dispatcher's policy.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *resilience.CircuitBreaker

	mu        sync.RWMutex
	sessionID string

	nextID atomic.Int64
}

// NewClient creates a tool server client from configuration
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.MCPServerURL, "/"),
		timeout:    cfg.MCPTimeout,
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(rate.Limit(cfg.MCPRateLimit), cfg.MCPRateBurst),
		breaker: resilience.NewCircuitBreaker(
			"mcp",
			cfg.CircuitBreakerMaxFailures,
			cfg.CircuitBreakerResetTimeout,
		),
	}
}

// Initialize opens a session with the tool server and stores the session ID
// from the mcp-session-id response header. Safe to call repeatedly; an
// existing session is reused.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.RLock()
	if c.sessionID != "" {
		c.mu.RUnlock()
		return nil
	}
	c.mu.RUnlock()

	payload := rpcRequest{
		Jsonrpc: "2.0",
		Method:  "initialize",
		ID:      c.nextID.Add(1),
		Params: map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{},
			"clientInfo": map[string]any{
				"name":    "chat-gateway",
				"version": "1.0.0",
			},
		},
	}

	resp, headers, err := c.post(ctx, payload, "")
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("%w: initialize failed: %s", ErrRemoteUnavailable, resp.Error.Message)
	}

	sessionID := headers.Get("mcp-session-id")
	if sessionID == "" {
		sessionID = headers.Get("Mcp-Session-Id")
	}
	if sessionID == "" {
		return fmt.Errorf("%w: no session ID in initialize response", ErrRemoteUnavailable)
	}

	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()

	// Initialized notification per the MCP handshake; failures here are
	// logged but do not invalidate the session.
	note := rpcRequest{Jsonrpc: "2.0", Method: "notifications/initialized", Params: map[string]any{}}
	if _, _, err := c.post(ctx, note, sessionID); err != nil {
		logger := observability.GetLogger()
		logger.Warn().Err(err).Msg("initialized notification failed")
	}

	return nil
}

// ListTools fetches the full operation list from the tool server
func (c *Client) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	result, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	var list wireToolList
	if err := json.Unmarshal(result, &list); err != nil {
		return nil, fmt.Errorf("%w: malformed tools/list result: %v", ErrRemoteUnavailable, err)
	}

	descriptors := make([]ToolDescriptor, 0, len(list.Tools))
	for _, t := range list.Tools {
		if t.Name == "" {
			continue
		}
		descriptors = append(descriptors, descriptorFromWire(t))
	}
	return descriptors, nil
}

// CallTool invokes one remote operation and always returns a ToolCallResult:
// transport failures and tool-level errors become failed results, never a hang
// or a panic past this boundary.
func (c *Client) CallTool(ctx context.Context, req ToolCallRequest) ToolCallResult {
	start := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		observability.RecordToolInvocation(req.Name, false, time.Since(start))
		return Failure(req, ErrKindTimeout, err.Error())
	}

	args := req.Args
	if args == nil {
		args = map[string]any{}
	}
	result, err := c.call(ctx, "tools/call", map[string]any{
		"name":      req.Name,
		"arguments": args,
	})
	if err != nil {
		observability.RecordToolInvocation(req.Name, false, time.Since(start))
		kind := ErrKindRemoteUnavailable
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = ErrKindTimeout
		}
		var rpcErr *toolError
		if errors.As(err, &rpcErr) {
			kind = ErrKindToolError
		}
		return Failure(req, kind, err.Error())
	}

	payload := decodeCallResult(result)
	if cr, ok := payload.(wireCallResult); ok && cr.IsError {
		observability.RecordToolInvocation(req.Name, false, time.Since(start))
		return Failure(req, ErrKindToolError, joinContent(cr.Content))
	}

	observability.RecordToolInvocation(req.Name, true, time.Since(start))
	return Success(req, payload)
}

// HealthCheck reports whether the tool server answers a listing call
func (c *Client) HealthCheck(ctx context.Context) (bool, error) {
	if _, err := c.ListTools(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// toolError is a JSON-RPC error returned by the server for one call
type toolError struct {
	code    int
	message string
}

func (e *toolError) Error() string {
	return fmt.Sprintf("tool server error %d: %s", e.code, e.message)
}

// call performs one JSON-RPC exchange with timeout, session handling and
// circuit breaker protection.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := c.Initialize(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	sessionID := c.sessionID
	c.mu.RUnlock()

	payload := rpcRequest{
		Jsonrpc: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	}

	var resp *rpcResponse
	err := c.breaker.Call(func() error {
		var callErr error
		resp, _, callErr = c.post(ctx, payload, sessionID)
		return callErr
	})

	observability.UpdateCircuitBreakerState("mcp", int(c.breaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures("mcp")
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
		}
		return nil, err
	}

	if resp.Error != nil {
		// The server dropped the session; a fresh initialize fixes the next call.
		if strings.Contains(strings.ToLower(resp.Error.Message), "session") {
			c.mu.Lock()
			c.sessionID = ""
			c.mu.Unlock()
		}
		return nil, &toolError{code: resp.Error.Code, message: resp.Error.Message}
	}

	return resp.Result, nil
}

// post sends one HTTP request, trying each mount point, and parses either a
// plain JSON or an SSE-framed body.
func (c *Client) post(ctx context.Context, payload rpcRequest, sessionID string) (*rpcResponse, http.Header, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var lastErr error
	for i, endpoint := range endpointsToTry {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json, text/event-stream")
		if sessionID != "" {
			req.Header.Set("mcp-session-id", sessionID)
		}

		httpResp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
		}

		if httpResp.StatusCode == http.StatusNotFound && i < len(endpointsToTry)-1 {
			httpResp.Body.Close()
			lastErr = fmt.Errorf("%w: status 404 at %s", ErrRemoteUnavailable, endpoint)
			continue
		}

		defer httpResp.Body.Close()

		if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusAccepted {
			return nil, nil, fmt.Errorf("%w: status %d", ErrRemoteUnavailable, httpResp.StatusCode)
		}

		// Notifications get no meaningful body
		if payload.ID == 0 {
			io.Copy(io.Discard, httpResp.Body)
			return &rpcResponse{}, httpResp.Header, nil
		}

		var resp rpcResponse
		contentType := strings.ToLower(httpResp.Header.Get("Content-Type"))
		if strings.Contains(contentType, "text/event-stream") {
			data, err := parseSSE(httpResp.Body)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return nil, nil, fmt.Errorf("%w: malformed SSE payload: %v", ErrRemoteUnavailable, err)
			}
		} else {
			if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
				return nil, nil, fmt.Errorf("%w: malformed response: %v", ErrRemoteUnavailable, err)
			}
		}

		return &resp, httpResp.Header, nil
	}

	return nil, nil, lastErr
}

// parseSSE extracts the first data frame of a text/event-stream body
func parseSSE(r io.Reader) ([]byte, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			return []byte(strings.TrimPrefix(line, "data: ")), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New("no data frame in event stream")
}

// decodeCallResult unwraps a tools/call result: text content blocks are joined
// and decoded as JSON when possible, otherwise returned as plain text.
func decodeCallResult(raw json.RawMessage) any {
	var cr wireCallResult
	if err := json.Unmarshal(raw, &cr); err == nil && len(cr.Content) > 0 {
		if cr.IsError {
			return cr
		}
		text := joinContent(cr.Content)
		var structured any
		if err := json.Unmarshal([]byte(text), &structured); err == nil {
			return structured
		}
		return text
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err == nil {
		return generic
	}
	return string(raw)
}

func joinContent(blocks []wireContent) string {
	texts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Text != "" {
			texts = append(texts, b.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func descriptorFromWire(t wireTool) ToolDescriptor {
	required := make(map[string]bool, len(t.InputSchema.Required))
	for _, name := range t.InputSchema.Required {
		required[name] = true
	}

	params := make(map[string]ParamSpec, len(t.InputSchema.Properties))
	for name, p := range t.InputSchema.Properties {
		spec := ParamSpec{
			Type:        p.Type,
			Description: p.Description,
			Required:    required[name],
			Default:     p.Default,
		}
		if p.Items != nil {
			spec.ItemType = p.Items.Type
		}
		params[name] = spec
	}

	return ToolDescriptor{
		Name:        t.Name,
		Description: t.Description,
		Params:      params,
	}
}
