// Package mcpserver exposes the bridge's service-call tool and prompt over the
// Model Context Protocol.
package mcpserver

import (
	"context"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/homenavi/llm-service-bridge/internal/llmapi"
)

const (
	serverName = "llm-service-bridge"
	// PromptName is the MCP prompt carrying the device-resolution instructions.
	PromptName = "homenavi_services"
)

// CallServiceInput is the MCP argument shape of the service-call tool.
type CallServiceInput struct {
	Service      string         `json:"service" jsonschema:"fully-qualified service in domain.service form, e.g. light.turn_on"`
	TargetDevice string         `json:"target_device" jsonschema:"exact entity_id taken from the device list"`
	ExtraArgs    map[string]any `json:"extra_args,omitempty" jsonschema:"optional service data such as brightness or temperature"`
}

// CallServiceOutput mirrors the result mapping returned to the LLM.
type CallServiceOutput struct {
	Result  string `json:"result" jsonschema:"success or error"`
	Service string `json:"service,omitempty"`
	Target  string `json:"target,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type Server struct {
	registry *llmapi.Registry
	server   *mcp.Server
}

// New builds an MCP server backed by the services API in reg.
func New(reg *llmapi.Registry, version string) *Server {
	s := &Server{
		registry: reg,
		server:   mcp.NewServer(&mcp.Implementation{Name: serverName, Version: version}, nil),
	}
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        llmapi.ServiceToolName,
		Description: llmapi.ServiceToolDescription,
	}, s.callService)
	s.server.AddPrompt(&mcp.Prompt{
		Name:        PromptName,
		Description: "Instructions for resolving devices and calling " + llmapi.ServiceToolName,
	}, s.prompt)
	return s
}

// MCP returns the underlying protocol server.
func (s *Server) MCP() *mcp.Server { return s.server }

// Handler serves MCP over streamable HTTP.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.server }, nil)
}

func (s *Server) instance(ctx context.Context) (*llmapi.Instance, error) {
	api, ok := s.registry.Get(llmapi.ServicesAPIID)
	if !ok {
		return nil, fmt.Errorf("llm api %s is not registered", llmapi.ServicesAPIID)
	}
	return api.Instance(ctx, llmapi.Context{Platform: "mcp"})
}

func (s *Server) callService(ctx context.Context, _ *mcp.CallToolRequest, in CallServiceInput) (*mcp.CallToolResult, CallServiceOutput, error) {
	inst, err := s.instance(ctx)
	if err != nil {
		return nil, CallServiceOutput{}, err
	}
	args := map[string]any{
		"service":       in.Service,
		"target_device": in.TargetDevice,
	}
	if len(in.ExtraArgs) > 0 {
		args["extra_args"] = in.ExtraArgs
	}
	out, err := inst.CallTool(ctx, llmapi.ToolInput{Name: llmapi.ServiceToolName, Args: args})
	if err != nil {
		return nil, CallServiceOutput{}, err
	}
	return nil, outputFromMap(out), nil
}

func (s *Server) prompt(ctx context.Context, _ *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	inst, err := s.instance(ctx)
	if err != nil {
		return nil, err
	}
	return &mcp.GetPromptResult{
		Description: llmapi.ServicesAPIName,
		Messages: []*mcp.PromptMessage{
			{Role: "user", Content: &mcp.TextContent{Text: inst.Prompt}},
		},
	}, nil
}

func outputFromMap(m map[string]any) CallServiceOutput {
	str := func(k string) string {
		s, _ := m[k].(string)
		return s
	}
	return CallServiceOutput{
		Result:  str("result"),
		Service: str("service"),
		Target:  str("target"),
		Message: str("message"),
		Error:   str("error"),
	}
}
