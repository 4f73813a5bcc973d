package httpapi

import (
	"crypto/rsa"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/homenavi/llm-service-bridge/internal/config"
	"github.com/homenavi/llm-service-bridge/internal/observability"
)

// NewRouter creates the HTTP router. metrics may be nil.
func NewRouter(h *Handler, cfg *config.Config, metrics *observability.Metrics, tracer oteltrace.Tracer) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CORSMiddleware)
	if metrics != nil {
		r.Use(metrics.Middleware(tracer))
		r.Handle("/metrics", metrics.Handler())
	}

	r.Get("/health", h.Health)

	pubKey, err := loadRSAPublicKey(cfg.JWTPublicKeyPath)
	if err != nil {
		slog.Warn("jwt public key not loaded, api routes are unauthenticated", "path", cfg.JWTPublicKeyPath, "error", err)
		pubKey = nil
	}

	r.Group(func(r chi.Router) {
		if pubKey != nil {
			r.Use(JWTAuthMiddleware(pubKey))
			r.Use(RequireRoleMiddleware("resident"))
		}

		r.Get("/api/llm/apis", h.ListAPIs)
		r.Get("/api/llm/apis/{id}", h.GetAPI)
		r.Post("/api/llm/apis/{id}/tools/{tool}", h.CallTool)

		if h.mcp != nil {
			r.Handle("/mcp", h.mcp)
		}
	})

	return r
}

func loadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return jwt.ParseRSAPublicKeyFromPEM(keyData)
}

// CORSMiddleware handles CORS
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Mcp-Session-Id")
		w.Header().Set("Access-Control-Expose-Headers", "Mcp-Session-Id, Trace-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
