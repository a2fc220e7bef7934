package mcp

import "encoding/json"

// JSON-RPC 2.0 types

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id,omitempty"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	ErrCodeParse          = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternal       = -32603
)

// MCP Protocol types

type InitializeParams struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ClientInfo      ClientInfo   `json:"clientInfo"`
}

type Capabilities struct {
	Roots    *RootsCapability    `json:"roots,omitempty"`
	Sampling *SamplingCapability `json:"sampling,omitempty"`
}

type RootsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

type SamplingCapability struct{}

type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ServerInfo         `json:"serverInfo"`
}

type ServerCapabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Tool definitions

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Items       *Items   `json:"items,omitempty"`
}

type Items struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

type ToolsListResult struct {
	Tools []Tool `json:"tools"`
}

type ToolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type ToolCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Thought tool input types. Pointer fields are required so that a missing
// key can be told apart from a zero value.

type ProcessThoughtInput struct {
	Thought               *string  `json:"thought" validate:"required"`
	ThoughtNumber         *int     `json:"thoughtNumber" validate:"required"`
	TotalThoughts         *int     `json:"totalThoughts" validate:"required"`
	NextThoughtNeeded     *bool    `json:"nextThoughtNeeded" validate:"required"`
	Stage                 *string  `json:"stage" validate:"required"`
	Tags                  []string `json:"tags,omitempty"`
	AxiomsUsed            []string `json:"axiomsUsed,omitempty"`
	AssumptionsChallenged []string `json:"assumptionsChallenged,omitempty"`
}

type SessionFileInput struct {
	FilePath string `json:"filePath" validate:"required"`
}

type ListArchivesInput struct {
	Limit int `json:"limit,omitempty" validate:"gte=0,lte=1000"`
}

type RestoreArchiveInput struct {
	ArchiveID *int64 `json:"archiveId" validate:"required,gt=0"`
}

// Tool results

// FailureResult is the body of a tool call that failed.
type FailureResult struct {
	Error     string `json:"error"`
	Status    string `json:"status"`
	Retryable bool   `json:"retryable"`
}

// AckResult is the body of a tool call that has no other output.
type AckResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
