package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/tooboredtocode/jwt-forward-auth/internal/lifecycle"
	"github.com/tooboredtocode/jwt-forward-auth/internal/runtime"
	"github.com/tooboredtocode/jwt-forward-auth/internal/validator"
)

// Handler serves /healthz, /readyz, and the /auth sub-authorization
// endpoints.
type Handler struct {
	orchestrator *runtime.Orchestrator
	log          *slog.Logger
}

// NewHandler builds the top-level mux for the service.
func NewHandler(orchestrator *runtime.Orchestrator, log *slog.Logger) http.Handler {
	h := &Handler{orchestrator: orchestrator, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /readyz", h.handleReadyz)
	mux.HandleFunc("GET /auth/{$}", h.handleListOrAuth)
	mux.HandleFunc("/auth/{name}", h.handleAuth)

	return normalizeTrailingSlash(mux)
}

// normalizeTrailingSlash trims a single trailing slash before routing,
// except for the bare "/auth/" listing endpoint.
func normalizeTrailingSlash(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/" && strings.HasSuffix(r.URL.Path, "/") && len(r.URL.Path) > 1 {
			r.URL.Path = strings.TrimSuffix(r.URL.Path, "/")
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) handleReadyz(w http.ResponseWriter, r *http.Request) {
	switch h.orchestrator.Lifecycle().Load() {
	case lifecycle.Starting:
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("Starting"))
	case lifecycle.Running:
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	default:
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Faulty configuration"))
	}
}

// handleListOrAuth serves GET /auth/ — the validator listing endpoint.
func (h *Handler) handleListOrAuth(w http.ResponseWriter, r *http.Request) {
	names := h.orchestrator.Snapshot().Validators.Keys()
	sort.Strings(names)

	if r.Header.Get("Accept") == "application/json" {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(names)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if len(names) == 0 {
		_, _ = w.Write([]byte("No validators available"))
		return
	}
	_, _ = w.Write([]byte(strings.Join(names, "\n")))
}

// handleAuth is the authorization decision endpoint, ANY /auth/<name>.
func (h *Handler) handleAuth(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	requestID := uuid.NewString()
	log := h.log.With("request_id", requestID, "validator", name)

	v, ok := h.orchestrator.Snapshot().Validators.Get(name)
	if !ok {
		log.Debug("unknown validator")
		unauthorized(w, "Token could not be validated")
		return
	}

	headerPresent := headerPresentInRequest(r, v.Config.Header)
	if !headerPresent {
		log.Debug("header not present", "header", v.Config.Header)
		unauthorized(w, "Header "+v.Config.Header+" not found")
		return
	}
	headerValue := r.Header.Get(v.Config.Header)

	token, err := v.ExtractToken(headerValue, true)
	if err != nil {
		if errors.Is(err, validator.ErrHeaderNotUTF8) {
			log.Debug("header value not valid utf-8")
			unauthorized(w, "Token is not valid UTF-8")
			return
		}
		log.Debug("token could not be decoded", "error", err)
		unauthorized(w, "Token could not be decoded")
		return
	}

	h.maybeTriggerBackgroundRefresh(r.Context(), v)

	claims, err := v.Authority.Validate(r.Context(), token)
	if err != nil {
		log.Debug("token validation failed", "error", err)
		unauthorized(w, "Token isn't valid")
		return
	}

	headers, err := validator.Enforce(v.Config, claims)
	if err != nil {
		log.Debug("required claim enforcement failed", "error", err)
		unauthorized(w, err.Error())
		return
	}

	for name, value := range headers {
		w.Header().Set(name, value)
	}
	w.WriteHeader(http.StatusOK)
}

func headerPresentInRequest(r *http.Request, name string) bool {
	_, ok := r.Header[http.CanonicalHeaderKey(name)]
	return ok
}

// maybeTriggerBackgroundRefresh fires a detached JWKS refresh when the
// authority's key set hasn't been refreshed within its update_interval.
// The triggering request proceeds with whatever JWKS it already has; the
// refresh is not awaited.
func (h *Handler) maybeTriggerBackgroundRefresh(ctx context.Context, v *validator.Validator) {
	entry := v.Authority
	if entry == nil {
		return
	}
	go entry.RefreshIfDue(detachedContext(ctx))
}

// detachedContext strips cancellation from ctx so a fire-and-forget
// background refresh isn't killed when the triggering request ends.
func detachedContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func unauthorized(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(body))
}
