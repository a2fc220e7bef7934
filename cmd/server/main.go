package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"

	"github.com/mfenderov/seqthink/internal/archive"
	"github.com/mfenderov/seqthink/internal/config"
	"github.com/mfenderov/seqthink/internal/mcp"
	"github.com/mfenderov/seqthink/internal/storage"
)

var Version = "dev"

const protocolVersion = "2024-11-05"

func main() {
	// Stdout carries protocol frames only.
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "seqthink",
	})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", "err", err)
	}
	logger.SetLevel(cfg.Level())

	handler, cleanup, err := newHandler(cfg, logger)
	if err != nil {
		logger.Fatal("failed to start", "err", err)
	}
	defer cleanup()

	logger.Info("serving on stdio", "session", cfg.SessionPath(), "archive", cfg.Archive.Enabled)

	server := NewServer(handler, os.Stdin, os.Stdout, logger)
	if err := server.Run(); err != nil {
		logger.Error("server error", "err", err)
		cleanup()
		os.Exit(1)
	}
}

// newHandler opens the session store and, when enabled, the archive.
func newHandler(cfg *config.Config, logger *log.Logger) (*mcp.Handler, func(), error) {
	opts := []storage.Option{
		storage.WithStages(cfg.StageSet()),
		storage.WithLockTimeout(cfg.Timeout()),
		storage.WithLogger(logger),
	}

	var arch *archive.Archive
	if cfg.Archive.Enabled {
		a, err := archive.Open(cfg.ArchivePath(), archive.WithLogger(logger))
		if err != nil {
			// The archive is optional; run without it.
			logger.Warn("session archive unavailable", "path", cfg.ArchivePath(), "err", err)
		} else {
			arch = a
			opts = append(opts, storage.WithArchiver(a))
		}
	}

	cleanup := func() {
		if arch != nil {
			arch.Close()
			arch = nil
		}
	}

	store, err := storage.Open(cfg.SessionPath(), opts...)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to open session: %w", err)
	}

	handler := mcp.NewHandler(store).WithLogger(logger)
	if arch != nil {
		handler.WithArchive(arch)
	}
	return handler, cleanup, nil
}

// Server handles MCP JSON-RPC communication over line-delimited streams.
type Server struct {
	handler     *mcp.Handler
	in          io.Reader
	out         io.Writer
	logger      *log.Logger
	initialized bool
}

// NewServer creates a server reading requests from in and writing responses to out.
func NewServer(handler *mcp.Handler, in io.Reader, out io.Writer, logger *log.Logger) *Server {
	return &Server{handler: handler, in: in, out: out, logger: logger}
}

// Run starts the server's main loop. It returns when in is exhausted.
func (s *Server) Run() error {
	scanner := bufio.NewScanner(s.in)

	// Increase buffer size for large requests
	const maxScannerSize = 10 * 1024 * 1024 // 10MB
	buf := make([]byte, maxScannerSize)
	scanner.Buffer(buf, maxScannerSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req mcp.Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.sendError(nil, mcp.ErrCodeParse, "Parse error", err.Error())
			continue
		}

		s.handleRequest(&req)
	}

	return scanner.Err()
}

func (s *Server) handleRequest(req *mcp.Request) {
	s.logger.Debug("request", "method", req.Method, "id", req.ID)

	switch req.Method {
	case "initialize":
		s.handleInitialize(req)
	case "notifications/initialized":
		s.initialized = true
		// No response for notifications
	case "ping":
		s.sendResult(req.ID, struct{}{})
	case "tools/list":
		s.handleToolsList(req)
	case "tools/call":
		s.handleToolsCall(req)
	default:
		if req.ID == nil {
			// Unknown notification
			return
		}
		s.sendError(req.ID, mcp.ErrCodeMethodNotFound, "Method not found", req.Method)
	}
}

func (s *Server) handleInitialize(req *mcp.Request) {
	result := mcp.InitializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities: mcp.ServerCapabilities{
			Tools: &mcp.ToolsCapability{},
		},
		ServerInfo: mcp.ServerInfo{
			Name:    "sequential-thinking",
			Version: Version,
		},
	}

	s.sendResult(req.ID, result)
}

func (s *Server) handleToolsList(req *mcp.Request) {
	result := mcp.ToolsListResult{
		Tools: s.handler.Tools(),
	}
	s.sendResult(req.ID, result)
}

func (s *Server) handleToolsCall(req *mcp.Request) {
	var params mcp.ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.sendError(req.ID, mcp.ErrCodeInvalidParams, "Invalid params", err.Error())
		return
	}

	result, err := s.handler.CallTool(params.Name, params.Arguments)
	if err != nil {
		s.logger.Warn("tool call rejected", "tool", params.Name, "err", err)
		s.sendResult(req.ID, &mcp.ToolCallResult{
			Content: []mcp.ContentBlock{{Type: "text", Text: err.Error()}},
			IsError: true,
		})
		return
	}

	s.sendResult(req.ID, result)
}

func (s *Server) sendResult(id, result any) {
	resp := mcp.Response{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
	s.send(resp)
}

func (s *Server) sendError(id any, code int, message string, data any) {
	resp := mcp.Response{
		JSONRPC: "2.0",
		ID:      id,
		Error: &mcp.Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
	s.send(resp)
}

func (s *Server) send(resp mcp.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to marshal response", "err", err)
		return
	}
	data = append(data, '\n')
	if _, err := s.out.Write(data); err != nil {
		s.logger.Error("failed to write response", "err", err)
	}
}
