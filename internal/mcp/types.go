package mcp

import "encoding/json"

// ParamSpec describes one argument of a remote tool
type ParamSpec struct {
	Type        string // "string", "integer", "number", "boolean", "array"
	ItemType    string // element type when Type is "array"
	Description string
	Required    bool
	Default     any
}

// ToolDescriptor describes one remote operation from the tool server.
// Immutable once loaded.
type ToolDescriptor struct {
	Name        string
	Description string
	Params      map[string]ParamSpec
}

// ToolCallRequest is one planned invocation of a remote tool
type ToolCallRequest struct {
	Name string
	Args map[string]any
}

// Error kinds recorded on failed ToolCallResults
const (
	ErrKindRemoteUnavailable = "remote_unavailable"
	ErrKindToolError         = "tool_error"
	ErrKindTimeout           = "timed_out"
	ErrKindUnknownTool       = "unknown_tool"
)

// ToolCallResult is the tagged success/failure outcome of one ToolCallRequest.
// Exactly one result exists per request within an orchestration cycle.
type ToolCallResult struct {
	Request ToolCallRequest
	OK      bool
	Payload any    // structured payload on success
	ErrKind string // one of the ErrKind constants on failure
	ErrMsg  string
}

// Failure builds a failed result for a request
func Failure(req ToolCallRequest, kind, msg string) ToolCallResult {
	return ToolCallResult{Request: req, OK: false, ErrKind: kind, ErrMsg: msg}
}

// Success builds a successful result for a request
func Success(req ToolCallRequest, payload any) ToolCallResult {
	return ToolCallResult{Request: req, OK: true, Payload: payload}
}

// wire types for the JSON-RPC exchange

type rpcRequest struct {
	Jsonrpc string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      int64  `json:"id,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type wireSchema struct {
	Type       string                `json:"type"`
	Properties map[string]wireParam  `json:"properties"`
	Required   []string              `json:"required"`
}

type wireParam struct {
	Type        string     `json:"type"`
	Description string     `json:"description"`
	Default     any        `json:"default"`
	Items       *wireParam `json:"items"`
}

type wireTool struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	InputSchema wireSchema `json:"inputSchema"`
}

type wireToolList struct {
	Tools []wireTool `json:"tools"`
}

// content block of a tools/call result
type wireContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type wireCallResult struct {
	Content []wireContent `json:"content"`
	IsError bool          `json:"isError"`
}
