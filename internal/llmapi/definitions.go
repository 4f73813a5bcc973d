package llmapi

// ToolDefinition is a tool in the function-calling format most LLM providers accept.
type ToolDefinition struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction is the name, description and JSON schema of a tool.
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Definition converts a tool descriptor into its function-calling form.
func (t Tool) Definition() ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: ToolFunction{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		},
	}
}

// ToolInput is a single tool invocation from the orchestration layer.
type ToolInput struct {
	Name string         `json:"tool_name"`
	Args map[string]any `json:"tool_args"`
}

// Context describes the conversation a tool call originates from.
type Context struct {
	Platform string `json:"platform,omitempty"`
	Language string `json:"language,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	// Role is taken from the caller's credentials, never from the request body.
	Role string `json:"-"`
}
