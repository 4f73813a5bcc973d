package llmapi_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/homenavi/llm-service-bridge/internal/llmapi"
	"github.com/homenavi/llm-service-bridge/internal/servicecall"
)

func newHandler(calls *int) *servicecall.Handler {
	bus := servicecall.BusFunc(func(context.Context, string, string, map[string]any, bool) error {
		*calls++
		return nil
	})
	return servicecall.NewHandler(nil, bus)
}

func TestEnsureRegistered_Idempotent(t *testing.T) {
	var calls int
	reg := llmapi.NewRegistry()
	h := newHandler(&calls)

	if !llmapi.EnsureRegistered(reg, h) {
		t.Fatal("first EnsureRegistered() = false, want true")
	}
	if llmapi.EnsureRegistered(reg, h) {
		t.Fatal("second EnsureRegistered() = true, want false")
	}

	apis := reg.APIs()
	if len(apis) != 1 {
		t.Fatalf("registry holds %d APIs, want 1", len(apis))
	}
	if apis[0].ID() != llmapi.ServicesAPIID {
		t.Errorf("API id = %s, want %s", apis[0].ID(), llmapi.ServicesAPIID)
	}
}

func TestRegistry_ConcurrentRegister(t *testing.T) {
	var calls int
	reg := llmapi.NewRegistry()
	h := newHandler(&calls)

	var wg sync.WaitGroup
	added := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			added <- reg.Register(llmapi.NewServicesAPI(h))
		}()
	}
	wg.Wait()
	close(added)

	n := 0
	for ok := range added {
		if ok {
			n++
		}
	}
	if n != 1 {
		t.Errorf("%d registrations succeeded, want 1", n)
	}
	if got := len(reg.APIs()); got != 1 {
		t.Errorf("registry holds %d APIs, want 1", got)
	}
}

func TestServicesAPI_Instance(t *testing.T) {
	var calls int
	api := llmapi.NewServicesAPI(newHandler(&calls))

	inst, err := api.Instance(context.Background(), llmapi.Context{Platform: "bedrock"})
	if err != nil {
		t.Fatalf("Instance() error = %v", err)
	}
	if !strings.Contains(inst.Prompt, "NEVER ask the user for an entity_id") {
		t.Errorf("prompt missing device-resolution instruction: %q", inst.Prompt)
	}

	defs := inst.Definitions()
	if len(defs) != 1 {
		t.Fatalf("Definitions() returned %d tools, want 1", len(defs))
	}
	fn := defs[0].Function
	if defs[0].Type != "function" || fn.Name != llmapi.ServiceToolName {
		t.Errorf("definition = %+v", defs[0])
	}
	required, _ := fn.Parameters["required"].([]string)
	if len(required) != 2 || required[0] != "service" || required[1] != "target_device" {
		t.Errorf("required = %v, want [service target_device]", required)
	}
}

func TestInstance_CallTool(t *testing.T) {
	var calls int
	api := llmapi.NewServicesAPI(newHandler(&calls))

	tests := []struct {
		name       string
		role       string
		input      llmapi.ToolInput
		wantErr    error
		wantResult string
		wantCalls  int
	}{
		{
			name: "resident turns on a light",
			role: "resident",
			input: llmapi.ToolInput{Name: llmapi.ServiceToolName, Args: map[string]any{
				"service": "light.turn_on", "target_device": "light.lamp", "brightness": 120,
			}},
			wantResult: "success",
			wantCalls:  1,
		},
		{
			name: "validation failure is a result, not an error",
			role: "admin",
			input: llmapi.ToolInput{Name: llmapi.ServiceToolName, Args: map[string]any{
				"service": "light",
			}},
			wantResult: "error",
		},
		{
			name:       "nil args",
			input:      llmapi.ToolInput{Name: llmapi.ServiceToolName},
			wantResult: "error",
		},
		{
			name:    "unknown tool",
			role:    "admin",
			input:   llmapi.ToolInput{Name: "HassDeleteEverything"},
			wantErr: llmapi.ErrUnknownTool,
		},
		{
			name: "user role cannot control devices",
			role: "user",
			input: llmapi.ToolInput{Name: llmapi.ServiceToolName, Args: map[string]any{
				"service": "light.turn_on", "target_device": "light.lamp",
			}},
			wantErr: llmapi.ErrInsufficientRole,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls = 0
			inst, err := api.Instance(context.Background(), llmapi.Context{Role: tt.role})
			if err != nil {
				t.Fatalf("Instance() error = %v", err)
			}

			out, err := inst.CallTool(context.Background(), tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("CallTool() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("CallTool() error = %v", err)
			}
			if out["result"] != tt.wantResult {
				t.Errorf("result = %v, want %s (%v)", out["result"], tt.wantResult, out)
			}
			if calls != tt.wantCalls {
				t.Errorf("bus calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestDefinitions_FilteredByRole(t *testing.T) {
	var calls int
	api := llmapi.NewServicesAPI(newHandler(&calls))
	inst, _ := api.Instance(context.Background(), llmapi.Context{Role: "user"})
	if defs := inst.Definitions(); len(defs) != 0 {
		t.Errorf("user role sees %d tools, want 0", len(defs))
	}
}
