package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/tooboredtocode/jwt-forward-auth/internal/clock"
	"github.com/tooboredtocode/jwt-forward-auth/internal/runtime"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

type testSetup struct {
	priv       *rsa.PrivateKey
	jwksServer *httptest.Server
	handler    http.Handler
	orch       *runtime.Orchestrator
	configPath string
}

func newTestSetup(t *testing.T, configYAML string) *testSetup {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pub, err := jwk.FromRaw(priv.PublicKey)
	if err != nil {
		t.Fatalf("jwk.FromRaw: %v", err)
	}
	_ = pub.Set(jwk.KeyIDKey, "kid-1")
	_ = pub.Set(jwk.AlgorithmKey, jwa.RS256)
	set := jwk.NewSet()
	_ = set.AddKey(pub)

	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(jwksServer.Close)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := fmt.Sprintf(configYAML, jwksServer.URL)
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	clk := clock.NewSystemClock()
	orch, err := runtime.New(context.Background(), path, jwksServer.Client(), clk, discardLogger())
	if err != nil {
		t.Fatalf("runtime.New: %v", err)
	}
	t.Cleanup(func() { _ = orch.Close() })

	return &testSetup{
		priv:       priv,
		jwksServer: jwksServer,
		handler:    NewHandler(orch, discardLogger()),
		orch:       orch,
		configPath: path,
	}
}

func (s *testSetup) sign(t *testing.T, claims map[string]any) string {
	t.Helper()
	tok := jwt.New()
	for k, v := range claims {
		if err := tok.Set(k, v); err != nil {
			t.Fatalf("set claim %s: %v", k, err)
		}
	}
	signingKey, err := jwk.FromRaw(s.priv)
	if err != nil {
		t.Fatalf("jwk.FromRaw: %v", err)
	}
	_ = signingKey.Set(jwk.KeyIDKey, "kid-1")
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, signingKey))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return string(signed)
}

const happyPathConfig = `
authorities:
  a1:
    jwks_url: %q
validators:
  v1:
    authority: a1
    header: Authorization
    header_prefix: "Bearer "
    required_claims:
      - sub
    map_claims:
      sub: X-User
`

func TestHandler_HappyPath(t *testing.T) {
	s := newTestSetup(t, happyPathConfig)

	token := s.sign(t, map[string]any{"sub": "alice", "exp": time.Now().Add(time.Hour).Unix()})
	req := httptest.NewRequest(http.MethodGet, "/auth/v1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	s.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-User"); got != "alice" {
		t.Fatalf("expected X-User: alice, got %q", got)
	}
}

const templateInheritanceConfig = `
authorities:
  a1:
    jwks_url: %q
validator_templates:
  t:
    authority: a1
    header: Authorization
    required_claims:
      - name: iss
        value: "https://x"
validators:
  v:
    template: t
    required_claims:
      - sub
`

func TestHandler_TemplateInheritance(t *testing.T) {
	s := newTestSetup(t, templateInheritanceConfig)

	token := s.sign(t, map[string]any{"sub": "alice", "iss": "https://x"})
	req := httptest.NewRequest(http.MethodGet, "/auth/v", nil)
	req.Header.Set("Authorization", token)
	rec := httptest.NewRecorder()

	s.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_MissingHeader(t *testing.T) {
	s := newTestSetup(t, happyPathConfig)

	req := httptest.NewRequest(http.MethodGet, "/auth/v1", nil)
	rec := httptest.NewRecorder()

	s.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec.Body.String() != "Header Authorization not found" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
}

const audConfig = `
authorities:
  a1:
    jwks_url: %q
validators:
  v1:
    authority: a1
    header: Authorization
    required_claims:
      - name: aud
        value: api.example
`

func TestHandler_WrongAudience(t *testing.T) {
	s := newTestSetup(t, audConfig)

	token := s.sign(t, map[string]any{"aud": []any{"other"}})
	req := httptest.NewRequest(http.MethodGet, "/auth/v1", nil)
	req.Header.Set("Authorization", token)
	rec := httptest.NewRecorder()

	s.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec.Body.String() != "Token doesn't match required audience" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
}

const groupsConfig = `
authorities:
  a1:
    jwks_url: %q
validators:
  v1:
    authority: a1
    header: Authorization
    required_claims:
      - groups
`

func TestHandler_ArrayValuedCustomClaimRejected(t *testing.T) {
	s := newTestSetup(t, groupsConfig)

	token := s.sign(t, map[string]any{"groups": []any{"admin"}})
	req := httptest.NewRequest(http.MethodGet, "/auth/v1", nil)
	req.Header.Set("Authorization", token)
	rec := httptest.NewRecorder()

	s.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec.Body.String() != "Token contains invalid claim" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
}

func TestHandler_UnknownValidator(t *testing.T) {
	s := newTestSetup(t, happyPathConfig)

	req := httptest.NewRequest(http.MethodGet, "/auth/nope", nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec.Body.String() != "Token could not be validated" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
}

func TestHandler_ListValidators_Text(t *testing.T) {
	s := newTestSetup(t, happyPathConfig)

	req := httptest.NewRequest(http.MethodGet, "/auth/", nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "v1" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
}

func TestHandler_ListValidators_JSON(t *testing.T) {
	s := newTestSetup(t, happyPathConfig)

	req := httptest.NewRequest(http.MethodGet, "/auth/", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var names []string
	if err := json.Unmarshal(rec.Body.Bytes(), &names); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(names) != 1 || names[0] != "v1" {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestHandler_Healthz(t *testing.T) {
	s := newTestSetup(t, happyPathConfig)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("unexpected healthz response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestHandler_Readyz_ReflectsLifecycle(t *testing.T) {
	s := newTestSetup(t, happyPathConfig)
	waitUntil(t, time.Second, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		return rec.Code == http.StatusOK
	})
}

func TestHandler_ReloadToFaultyConfig(t *testing.T) {
	s := newTestSetup(t, happyPathConfig)
	waitUntil(t, time.Second, func() bool { return s.orch.Lifecycle().Load().String() == "Running" })

	token := s.sign(t, map[string]any{"sub": "alice"})
	okReq := httptest.NewRequest(http.MethodGet, "/auth/v1", nil)
	okReq.Header.Set("Authorization", "Bearer "+token)
	okRec := httptest.NewRecorder()
	s.handler.ServeHTTP(okRec, okReq)
	if okRec.Code != http.StatusOK {
		t.Fatalf("expected initial 200, got %d", okRec.Code)
	}

	broken := fmt.Sprintf(`
authorities:
  a1:
    jwks_url: %q
validator_templates:
  a:
    template: b
  b:
    template: a
validators:
  v1:
    template: a
`, s.jwksServer.URL)
	if err := os.WriteFile(s.configPath, []byte(broken), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool { return s.orch.Lifecycle().Load().String() == "FaultyConfig" })

	readyReq := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	readyRec := httptest.NewRecorder()
	s.handler.ServeHTTP(readyRec, readyReq)
	if readyRec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 from readyz, got %d", readyRec.Code)
	}

	authReq := httptest.NewRequest(http.MethodGet, "/auth/v1", nil)
	authReq.Header.Set("Authorization", "Bearer "+token)
	authRec := httptest.NewRecorder()
	s.handler.ServeHTTP(authRec, authReq)
	if authRec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after faulty reload, got %d", authRec.Code)
	}
}
