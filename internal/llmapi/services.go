package llmapi

import (
	"context"
	"log/slog"

	"github.com/homenavi/llm-service-bridge/internal/servicecall"
)

const (
	ServicesAPIID   = "homenavi_llm_services"
	ServicesAPIName = "Homenavi LLM Services"
	ServiceToolName = "HassCallService"
)

// ServiceToolDescription tells the LLM how and when to call the service tool.
const ServiceToolDescription = "Calls a Home Assistant service to control a specific device. " +
	"You MUST provide the exact entity_id from the device list in the system prompt. " +
	"Use this tool after identifying the correct device from the user's natural language request. " +
	"For example: if user says 'turn on the lamp', find the entity_id containing 'lamp' from the device list, " +
	"then call this tool with service='light.turn_on' and target_device='light.lamp_entity_id'."

// ServicesPrompt is the system-prompt fragment shipped with every instance.
const ServicesPrompt = "You have access to the " + ServiceToolName + " tool to control Home Assistant devices. " +
	"CRITICAL: The device list in the system prompt contains all available devices with their entity_ids. " +
	"When the user asks to control a device, YOU MUST: " +
	"1. Search the device list for a matching entity based on the user's natural language (e.g., 'lamp', 'bedroom light') " +
	"2. Identify the correct entity_id from that list " +
	"3. Call " + ServiceToolName + " with the exact entity_id you found " +
	"NEVER ask the user for an entity_id - always find it yourself from the provided device list."

// ServiceTool is the static descriptor of the service-call tool.
var ServiceTool = Tool{
	Name:         ServiceToolName,
	Description:  ServiceToolDescription,
	RequiredRole: "resident",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"service": map[string]any{
				"type":        "string",
				"description": "Fully-qualified service in 'domain.service' form, e.g. 'light.turn_on'",
			},
			"target_device": map[string]any{
				"type":        "string",
				"description": "Exact entity_id from the device list, e.g. 'light.living_room_lamp'",
			},
		},
		"required": []string{"service", "target_device"},
	},
}

// ServicesAPI exposes the service-call tool.
type ServicesAPI struct {
	handler *servicecall.Handler
}

func NewServicesAPI(h *servicecall.Handler) *ServicesAPI {
	return &ServicesAPI{handler: h}
}

func (a *ServicesAPI) ID() string   { return ServicesAPIID }
func (a *ServicesAPI) Name() string { return ServicesAPIName }

func (a *ServicesAPI) Instance(_ context.Context, llmCtx Context) (*Instance, error) {
	inst := NewInstance(ServicesAPIID, ServicesPrompt, llmCtx)
	inst.Register(ServiceTool, a.callService)
	return inst, nil
}

func (a *ServicesAPI) callService(ctx context.Context, args map[string]any, _ Context) (map[string]any, error) {
	return a.handler.Handle(ctx, servicecall.RequestFromArgs(args)).Map(), nil
}

// EnsureRegistered registers the services API once per registry. It reports
// whether this call added it.
func EnsureRegistered(reg *Registry, h *servicecall.Handler) bool {
	if _, exists := reg.Get(ServicesAPIID); exists {
		return false
	}
	if !reg.Register(NewServicesAPI(h)) {
		return false
	}
	slog.Info("llm api registered", "api_id", ServicesAPIID, "name", ServicesAPIName)
	return true
}
