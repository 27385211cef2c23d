// Package mcp exposes read-only triage tools to AI agents over the Model
// Context Protocol.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/triage-review-server/internal/domain"
)

const (
	serverName    = "triage-review-mcp-server"
	serverVersion = "v0.1.0"
)

// Server represents the triage MCP server
type Server struct {
	mcpServer *mcp.Server
	tools     *Tools
	toolNames []string
	logger    *logrus.Logger
}

// NewServer creates a new MCP server and registers the available tools
func NewServer(tools *Tools, logger *logrus.Logger) (*Server, error) {
	if tools == nil {
		return nil, errors.New("tools are required")
	}

	serverInfo := &mcp.Implementation{
		Name:    serverName,
		Version: serverVersion,
	}

	server := &Server{
		mcpServer: mcp.NewServer(serverInfo, nil),
		tools:     tools,
		logger:    logger,
	}
	server.registerTools()

	return server, nil
}

// ToolNames lists the registered tools in registration order.
func (s *Server) ToolNames() []string {
	return append([]string(nil), s.toolNames...)
}

// Start runs the server on stdio until ctx is cancelled or the client disconnects
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("tools", s.toolNames).Info("Starting triage MCP server on stdio")

	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

func (s *Server) registerTools() {
	s.addTool(&mcp.Tool{
		Name:        "classify_risk",
		Description: "Classify intake answers as high risk or not and list the clinical alerts. Optionally computes BMI.",
		InputSchema: objectSchema(map[string]*jsonschema.Schema{
			"is_pregnant":           {Type: "boolean", Description: "Pregnant or breastfeeding"},
			"has_active_malignancy": {Type: "boolean", Description: "Active malignancy"},
			"has_pancreatitis":      {Type: "boolean", Description: "History of pancreatitis"},
			"uses_insulin":          {Type: "boolean", Description: "Current insulin use"},
			"weight_kg":             {Type: "number", Description: "Weight in kilograms"},
			"height_cm":             {Type: "number", Description: "Height in centimetres"},
		}),
	}, toolHandler(s.logger, "classify_risk", s.tools.ClassifyRisk))

	if s.tools.tasks != nil {
		s.addTool(&mcp.Tool{
			Name:        "list_open_tasks",
			Description: "List a clinician's open review tasks ordered by due date, priority and creation time.",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"clinician_id": {Type: "string", Description: "Clinician identifier"},
			}, "clinician_id"),
		}, toolHandler(s.logger, "list_open_tasks", s.tools.ListOpenTasks))
	}

	if s.tools.reviews != nil {
		s.addTool(&mcp.Tool{
			Name:        "get_review_status",
			Description: "Get the status and verdict of a peer review record. Completed records are locked.",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"record_id": {Type: "string", Description: "Peer review record identifier"},
			}, "record_id"),
		}, toolHandler(s.logger, "get_review_status", s.tools.GetReviewStatus))
	}

	s.logger.WithField("tool_count", len(s.toolNames)).Info("Successfully registered all tools")
}

func (s *Server) addTool(tool *mcp.Tool, handler mcp.ToolHandler) {
	s.mcpServer.AddTool(tool, handler)
	s.toolNames = append(s.toolNames, tool.Name)
	s.logger.WithField("tool_name", tool.Name).Debug("Registered MCP tool")
}

func objectSchema(properties map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}

// toolHandler adapts a typed tool function to the SDK handler signature.
// Tool failures are reported as error results so the agent can read them.
func toolHandler[In, Out any](logger *logrus.Logger, name string, fn func(context.Context, In) (Out, error)) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		entry := logger.WithField("tool", name)
		entry.Debug("Tool invoked")

		var params In
		if err := decodeArguments(req.Params.Arguments, &params); err != nil {
			return errorResult(err), nil
		}

		out, err := fn(ctx, params)
		if err != nil {
			entry.WithError(err).Warn("Tool call failed")
			return errorResult(err), nil
		}
		return jsonResult(out)
	}
}

// decodeArguments converts the raw tool arguments into params.
func decodeArguments(arguments any, params any) error {
	raw, err := json.Marshal(arguments)
	if err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, params); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(raw)}},
	}, nil
}

func errorResult(err error) *mcp.CallToolResult {
	var validation *domain.ValidationError
	var notFound *domain.NotFoundError

	code := domain.ErrCodeInternalServer
	switch {
	case errors.As(err, &validation):
		code = domain.ErrCodeValidation
	case errors.As(err, &notFound), errors.Is(err, domain.ErrNotFound):
		code = domain.ErrCodeNotFound
	case errors.Is(err, context.DeadlineExceeded):
		code = domain.ErrCodeTimeout
	}

	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("%s: %v", code, err)}},
	}
}
