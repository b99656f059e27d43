// Package workerserver exposes specialist workers over HTTP so a Remote
// provider in another process can reach them.
package workerserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lucasnoah/relayfactory/internal/contract"
	"github.com/lucasnoah/relayfactory/internal/provider"
)

// BasePath prefixes every route.
const BasePath = "/v1"

// Config for the worker HTTP handler.
type Config struct {
	Providers   provider.Registry // roles served by this process
	Secret      []byte            // HS256 secret; empty disables authentication
	CallTimeout time.Duration
	Logger      *slog.Logger
	Version     string
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// apiError is the error envelope returned for non-200 answers.
type apiError struct {
	status int
	Body   errorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

func newAPIError(status int, code, message string) *apiError {
	return &apiError{status: status, Body: errorBody{Code: code, Message: message}}
}

type claimsKey struct{}

// New returns the HTTP handler.
func New(cfg Config) (http.Handler, error) {
	if len(cfg.Providers) == 0 {
		return nil, errors.New("workerserver: no roles to serve")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(cfg.Logger))
	router.Use(newAuthMiddleware(cfg.Secret))

	hcfg := huma.DefaultConfig("relay worker API", cfg.Version)
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, BasePath)

	registerHealth(group)
	registerRoles(group, cfg.Providers)
	registerInvoke(group, cfg)
	return router, nil
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type rolesBody struct {
	Roles []string `json:"roles"`
}

func registerRoles(api huma.API, providers provider.Registry) {
	roles := make([]string, 0, len(providers))
	for role := range providers {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	huma.Register(api, huma.Operation{
		OperationID: "list-roles",
		Method:      http.MethodGet,
		Path:        "/roles",
		Summary:     "Roles served by this worker",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body rolesBody `json:"body"`
	}, error) {
		return &struct {
			Body rolesBody `json:"body"`
		}{Body: rolesBody{Roles: roles}}, nil
	})
}

type invokeInput struct {
	RawBody []byte `contentType:"application/json"`
}

func registerInvoke(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "invoke",
		Method:      http.MethodPost,
		Path:        "/invoke",
		Summary:     "Run one task envelope",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *invokeInput) (*struct {
		Body contract.AgentResult `json:"body"`
	}, error) {
		var env contract.TaskEnvelope
		if err := contract.DecodeStrict(input.RawBody, &env); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_envelope", fmt.Sprintf("decode envelope: %v", err))
		}
		if claims, ok := ctx.Value(claimsKey{}).(*provider.Claims); ok {
			if claims.Role != env.TargetRole || claims.ID != env.CorrelationID {
				return nil, newAPIError(http.StatusUnauthorized, "token_mismatch", "token was not issued for this envelope")
			}
		}

		res := invoke(ctx, cfg, env)
		cfg.Logger.Info("invoke",
			"correlation_id", env.CorrelationID,
			"task_type", env.TaskType,
			"role", env.TargetRole,
			"success", res.Success,
			"error", res.Error,
		)
		return &struct {
			Body contract.AgentResult `json:"body"`
		}{Body: res}, nil
	})
}

// invoke answers every well-formed request with an AgentResult, including
// failures, so the caller never mistakes a business failure for a
// transport one.
func invoke(ctx context.Context, cfg Config, env contract.TaskEnvelope) contract.AgentResult {
	if err := env.Validate(); err != nil {
		return contract.Failed(env, contract.ErrInvalidEnvelope)
	}
	p, ok := cfg.Providers.Lookup(env.TargetRole)
	if !ok {
		return contract.Failed(env, contract.ErrUnknownRole)
	}
	return p.Invoke(ctx, env, cfg.CallTimeout)
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// newAuthMiddleware verifies the bearer token on every route except health.
func newAuthMiddleware(secret []byte) func(http.Handler) http.Handler {
	healthPath := BasePath + "/health"
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if len(secret) == 0 || req.URL.Path == healthPath || !strings.HasPrefix(req.URL.Path, BasePath) {
				next.ServeHTTP(w, req)
				return
			}
			token, ok := bearerToken(req.Header.Get("Authorization"))
			if !ok {
				respondError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "bearer token required"))
				return
			}
			claims, err := provider.VerifyToken(secret, token)
			if err != nil {
				respondError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials"))
				return
			}
			ctx := context.WithValue(req.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}

func respondError(w http.ResponseWriter, err *apiError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.status)
	_ = json.NewEncoder(w).Encode(err)
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, req)
			logger.Debug("request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", ww.Status(),
				"correlation_id", req.Header.Get(provider.HeaderCorrelationID),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	if logger != nil {
		logger.Info("worker server listening", "addr", ln.Addr().String())
	}

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}
