package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/runbox/config"
	"github.com/isdmx/runbox/execservice"
	"github.com/isdmx/runbox/sandbox"
)

// ToolName is the single tool this server exposes
const ToolName = "execute_sandboxed_code"

const serverVersion = "1.0.0"

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	runner    execservice.CodeRunner
	mcpServer *server.MCPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, runner execservice.CodeRunner) (*MCPServer, error) {
	s := &MCPServer{
		config: cfg,
		logger: logger,
		runner: runner,
	}

	s.mcpServer = server.NewMCPServer("runbox-executor", serverVersion, server.WithToolCapabilities(false))

	// Register the execute_sandboxed_code tool
	s.registerExecuteSandboxedCodeTool()

	return s, nil
}

// registerExecuteSandboxedCodeTool registers the execute_sandboxed_code tool
func (s *MCPServer) registerExecuteSandboxedCodeTool() {
	tool := mcp.Tool{
		Name: ToolName,
		Description: fmt.Sprintf("Execute untrusted code in a disposable sandbox with no network, "+
			"a read-only filesystem and a %d second deadline", s.config.Sandbox.TimeoutSec),
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "User-provided source code",
				},
			},
			Required: []string{"code"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleExecuteSandboxedCode)
}

// handleExecuteSandboxedCode handles the execute_sandboxed_code tool
func (s *MCPServer) handleExecuteSandboxedCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}
	if code == "" {
		return mcp.NewToolResultError(execservice.MsgNoCode), nil
	}

	result, err := s.runner.Run(context.WithoutCancel(ctx), code)
	if err != nil {
		if errors.Is(err, sandbox.ErrTimeout) {
			return mcp.NewToolResultError(execservice.MsgTimeout), nil
		}
		s.logger.Error("sandbox execution failed", zap.Error(err))
		return mcp.NewToolResultError(execservice.MsgExecutionFailure), nil
	}

	resultJSON, err := json.Marshal(execservice.ExecuteResponse{Output: result.Stdout, Error: result.Stderr})
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(resultJSON),
			},
		},
	}, nil
}

// HTTPHandler returns the streamable HTTP transport. The caller mounts it
// behind the shared-secret middleware; the transport itself has no auth.
func (s *MCPServer) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcpServer, server.WithStateLess(true))
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
