package httpapi_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/homenavi/llm-service-bridge/internal/config"
	"github.com/homenavi/llm-service-bridge/internal/httpapi"
	"github.com/homenavi/llm-service-bridge/internal/llmapi"
	"github.com/homenavi/llm-service-bridge/internal/observability"
	"github.com/homenavi/llm-service-bridge/internal/servicecall"
)

type recordingBus struct {
	mu    sync.Mutex
	calls []string
}

func (b *recordingBus) Dispatch(_ context.Context, domain, action string, _ map[string]any, _ bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, domain+"."+action)
	return nil
}

func (b *recordingBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func newRouter(t *testing.T, keyPath string) (http.Handler, *recordingBus) {
	t.Helper()
	bus := &recordingBus{}
	reg := llmapi.NewRegistry()
	llmapi.EnsureRegistered(reg, servicecall.NewHandler(nil, bus))

	cfg := &config.Config{Port: "8097", JWTPublicKeyPath: keyPath}
	h := httpapi.NewHandler(reg, nil, config.BusHass)
	return httpapi.NewRouter(h, cfg, nil, nil), bus
}

func do(t *testing.T, router http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return out
}

func TestHealth(t *testing.T) {
	router, _ := newRouter(t, "/nonexistent/key.pem")

	w := do(t, router, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Health() status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decode(t, w)
	if resp["status"] != "ok" || resp["service"] != "llm-service-bridge" {
		t.Errorf("Health() = %v", resp)
	}
	if resp["bus"] != "hass" || resp["apis"] != float64(1) {
		t.Errorf("Health() bus/apis = %v/%v", resp["bus"], resp["apis"])
	}
}

func TestCORSMiddleware(t *testing.T) {
	router, _ := newRouter(t, "/nonexistent/key.pem")

	w := do(t, router, http.MethodOptions, "/api/llm/apis", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("OPTIONS request status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("CORS header = %v, want *", got)
	}
}

func TestListAndGetAPI(t *testing.T) {
	router, _ := newRouter(t, "/nonexistent/key.pem")

	w := do(t, router, http.MethodGet, "/api/llm/apis", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("ListAPIs status = %d", w.Code)
	}
	apis, _ := decode(t, w)["apis"].([]any)
	if len(apis) != 1 {
		t.Fatalf("apis = %v, want one entry", apis)
	}
	first, _ := apis[0].(map[string]any)
	if first["id"] != llmapi.ServicesAPIID || first["name"] != llmapi.ServicesAPIName {
		t.Errorf("api = %v", first)
	}

	w = do(t, router, http.MethodGet, "/api/llm/apis/"+llmapi.ServicesAPIID, "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GetAPI status = %d", w.Code)
	}
	resp := decode(t, w)
	if resp["prompt"] != llmapi.ServicesPrompt {
		t.Errorf("prompt mismatch: %v", resp["prompt"])
	}
	tools, _ := resp["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("tools = %v, want one", tools)
	}
	fn, _ := tools[0].(map[string]any)["function"].(map[string]any)
	if fn["name"] != llmapi.ServiceToolName {
		t.Errorf("tool name = %v", fn["name"])
	}

	w = do(t, router, http.MethodGet, "/api/llm/apis/missing", "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("GetAPI(missing) status = %d, want 404", w.Code)
	}
}

func TestCallTool(t *testing.T) {
	path := "/api/llm/apis/" + llmapi.ServicesAPIID + "/tools/" + llmapi.ServiceToolName

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantResult string
		wantError  string
	}{
		{
			name:       "success",
			path:       path,
			body:       `{"tool_args":{"service":"light.turn_on","target_device":"light.lamp","brightness":80}}`,
			wantStatus: http.StatusOK,
			wantResult: "success",
		},
		{
			name:       "rejected domain is still a 200 result",
			path:       path,
			body:       `{"tool_args":{"service":"alarm.disarm","target_device":"alarm.home"}}`,
			wantStatus: http.StatusOK,
			wantResult: "error",
			wantError:  "domain 'alarm' is not allowed",
		},
		{
			name:       "missing parameters",
			path:       path,
			body:       `{"tool_args":{}}`,
			wantStatus: http.StatusOK,
			wantResult: "error",
			wantError:  "missing required parameters: service and target_device",
		},
		{
			name:       "bad json",
			path:       path,
			body:       `{"tool_args":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown api",
			path:       "/api/llm/apis/nope/tools/" + llmapi.ServiceToolName,
			body:       `{"tool_args":{}}`,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "unknown tool",
			path:       "/api/llm/apis/" + llmapi.ServicesAPIID + "/tools/Nope",
			body:       `{"tool_args":{}}`,
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newRouter(t, "/nonexistent/key.pem")
			w := do(t, router, http.MethodPost, tt.path, tt.body, "")
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantResult == "" {
				return
			}
			resp := decode(t, w)
			if resp["result"] != tt.wantResult {
				t.Errorf("result = %v, want %s", resp["result"], tt.wantResult)
			}
			if tt.wantError != "" && resp["error"] != tt.wantError {
				t.Errorf("error = %v, want %s", resp["error"], tt.wantError)
			}
		})
	}
}

func writePublicKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "jwt_public.pem")
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return key, path
}

func signToken(t *testing.T, key *rsa.PrivateKey, role string) string {
	t.Helper()
	claims := httpapi.Claims{
		Role: role,
		Name: "Test",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestProtectedEndpoints(t *testing.T) {
	key, keyPath := writePublicKey(t)
	router, bus := newRouter(t, keyPath)
	path := "/api/llm/apis/" + llmapi.ServicesAPIID + "/tools/" + llmapi.ServiceToolName
	body := `{"tool_args":{"service":"switch.turn_off","target_device":"switch.fan"}}`

	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{name: "no token", token: "", wantStatus: http.StatusUnauthorized},
		{name: "garbage token", token: "not-a-jwt", wantStatus: http.StatusUnauthorized},
		{name: "user role", token: signToken(t, key, "user"), wantStatus: http.StatusForbidden},
		{name: "resident role", token: signToken(t, key, "resident"), wantStatus: http.StatusOK},
		{name: "admin role", token: signToken(t, key, "admin"), wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodPost, path, body, tt.token)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}

	if got := bus.count(); got != 2 {
		t.Errorf("bus received %d calls, want 2", got)
	}

	if w := do(t, router, http.MethodGet, "/health", "", ""); w.Code != http.StatusOK {
		t.Errorf("health must stay public, status = %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := llmapi.NewRegistry()
	metrics := observability.NewMetrics("llm-service-bridge")
	llmapi.EnsureRegistered(reg, servicecall.NewHandler(nil, &recordingBus{}, servicecall.WithObserver(metrics)))

	cfg := &config.Config{JWTPublicKeyPath: "/nonexistent/key.pem"}
	router := httpapi.NewRouter(httpapi.NewHandler(reg, nil, config.BusMQTT), cfg, metrics, nil)

	path := "/api/llm/apis/" + llmapi.ServicesAPIID + "/tools/" + llmapi.ServiceToolName
	do(t, router, http.MethodPost, path, `{"tool_args":{"service":"fan.turn_on","target_device":"fan.attic"}}`, "")

	w := do(t, router, http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	text := w.Body.String()
	if !strings.Contains(text, `service_calls_total{domain="fan",outcome="success",service="llm-service-bridge"} 1`) {
		t.Errorf("service call counter missing:\n%s", text)
	}
}
