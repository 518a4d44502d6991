package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/magic/internal/graph"
	"github.com/starford/magic/internal/magic"
	"github.com/starford/magic/internal/models"
	"github.com/starford/magic/internal/provider"
	"github.com/starford/magic/internal/testutil"
)

type staticSettings provider.Settings

func (s staticSettings) Snapshot() provider.Settings { return provider.Settings(s) }

type apiEnv struct {
	graph    *graph.Graph
	router   http.Handler
	llmCalls *atomic.Int32
}

// testEnv sets up a seeded graph, a fake OpenAI endpoint and the router.
// An empty authToken means disabled mode.
func testEnv(t *testing.T, authToken string) apiEnv {
	t.Helper()
	return testEnvWithSSE(t, authToken, nil)
}

func testEnvWithSSE(t *testing.T, authToken string, sseHandler http.Handler) apiEnv {
	t.Helper()

	var calls atomic.Int32
	llm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Generated."}}]}`))
	}))
	t.Cleanup(llm.Close)

	g := testutil.TestGraph(t, testutil.TemplateSeed)
	cmd := magic.NewCommand(magic.Config{
		Graph:     g,
		Generator: provider.NewDispatcher(),
		Settings:  staticSettings{Provider: provider.OpenAI, Endpoint: llm.URL, Model: "m", MaxTokens: 10},
		Notifier:  magic.Fanout{},
	})
	router := NewRouter(NewService(g, cmd), authToken != "", authToken, sseHandler)
	return apiEnv{graph: g, router: router, llmCalls: &calls}
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestGetBlock(t *testing.T) {
	env := testEnv(t, "")

	w := do(t, env.router, http.MethodGet, "/blocks/30", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var b BlockDTO
	if err := json.Unmarshal(w.Body.Bytes(), &b); err != nil {
		t.Fatal(err)
	}
	if b.ID != 30 || len(b.Children) != 2 || len(b.Refs) != 2 {
		t.Fatalf("block = %+v", b)
	}
	if b.Refs[0].Kind != "tag" || b.Refs[1].Kind != "plain" {
		t.Errorf("ref kinds = %q, %q", b.Refs[0].Kind, b.Refs[1].Kind)
	}
}

func TestGetBlock_NotFoundAndBadID(t *testing.T) {
	env := testEnv(t, "")

	if w := do(t, env.router, http.MethodGet, "/blocks/999", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing block = %d, want 404", w.Code)
	}
	if w := do(t, env.router, http.MethodGet, "/blocks/abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad id = %d, want 400", w.Code)
	}
}

func TestPutBlock_InvalidatesCache(t *testing.T) {
	env := testEnv(t, "")

	// Warm the cache.
	if w := do(t, env.router, http.MethodGet, "/blocks/31", nil); w.Code != http.StatusOK {
		t.Fatalf("get = %d", w.Code)
	}

	w := do(t, env.router, http.MethodPut, "/blocks/31", BlockDTO{Text: "Hello"})
	if w.Code != http.StatusOK {
		t.Fatalf("put = %d, body = %s", w.Code, w.Body.String())
	}
	b, err := env.graph.Lookup(context.Background(), 31)
	if err != nil || b.Text != "Hello" {
		t.Errorf("after put: %+v, %v", b, err)
	}
}

func TestPutBlock_RejectsBadRef(t *testing.T) {
	env := testEnv(t, "")

	w := do(t, env.router, http.MethodPut, "/blocks/40", BlockDTO{
		Refs: []graph.SeedRef{{ID: 1, To: 1, Kind: "weird"}},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGetAlias(t *testing.T) {
	env := testEnv(t, "")

	w := do(t, env.router, http.MethodGet, "/aliases/Magic", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var a AliasResponse
	_ = json.Unmarshal(w.Body.Bytes(), &a)
	if a.BlockID != 1 {
		t.Errorf("alias = %+v", a)
	}

	if w := do(t, env.router, http.MethodGet, "/aliases/Nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing alias = %d, want 404", w.Code)
	}
}

func TestPreview(t *testing.T) {
	env := testEnv(t, "")

	w := do(t, env.router, http.MethodPost, "/blocks/30/preview", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var p PreviewResponse
	_ = json.Unmarshal(w.Body.Bytes(), &p)
	if p.TemplateID != 20 || p.System != "You are helpful. Be concise." || p.User != "Hi\nthere\n" {
		t.Errorf("preview = %+v", p)
	}
	if env.llmCalls.Load() != 0 {
		t.Error("preview called the provider")
	}
}

func TestPreview_NoTemplate(t *testing.T) {
	env := testEnv(t, "")

	w := do(t, env.router, http.MethodPost, "/preview", GenerateRequest{BlockID: 31})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	if !strings.Contains(w.Body.String(), "No AI template found") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestGenerate(t *testing.T) {
	env := testEnv(t, "")

	w := do(t, env.router, http.MethodPost, "/generate", GenerateRequest{CursorBlockID: 30})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var out GenerateResponse
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	if out.Level != models.LevelSuccess || out.Text != "Generated." || out.InvocationID == "" {
		t.Errorf("outcome = %+v", out)
	}
	if env.llmCalls.Load() != 1 {
		t.Errorf("provider calls = %d, want 1", env.llmCalls.Load())
	}
}

func TestGenerateBlock_NoTemplate(t *testing.T) {
	env := testEnv(t, "")

	w := do(t, env.router, http.MethodPost, "/blocks/32/generate", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	var out GenerateResponse
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	if out.Level != models.LevelError || out.Message != "No AI template found" {
		t.Errorf("outcome = %+v", out)
	}
	if env.llmCalls.Load() != 0 {
		t.Error("provider must not be called without a template")
	}
}

func TestGenerate_InvalidBody(t *testing.T) {
	env := testEnv(t, "")

	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader("{"))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	env := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/blocks/30", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authed get = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	env := testEnv(t, "secret123")

	w := do(t, env.router, http.MethodPost, "/blocks/30/generate", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
	if env.llmCalls.Load() != 0 {
		t.Error("unauthorized request reached the provider")
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	env := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/blocks/30", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

// stubSSE writes headers and blocks until the request context is done.
var stubSSE = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestSSEEvents_AuthProtected(t *testing.T) {
	env := testEnvWithSSE(t, "secret", stubSSE)

	w := do(t, env.router, http.MethodGet, "/events", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	env := testEnvWithSSE(t, "tok", stubSSE)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}

func TestAuthMiddleware_QueryTokenOnlyForGet(t *testing.T) {
	env := testEnv(t, "secret123")

	if w := do(t, env.router, http.MethodGet, "/blocks/30?access_token=secret123", nil); w.Code != http.StatusOK {
		t.Errorf("GET with query token = %d, want 200", w.Code)
	}
	if w := do(t, env.router, http.MethodPost, "/blocks/30/generate?access_token=secret123", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("POST with query token = %d, want 401", w.Code)
	}
}

func TestPutBlock_RejectsRefOfAnotherBlock(t *testing.T) {
	env := testEnv(t, "")

	// Ref 300 is block 30's tag reference.
	w := do(t, env.router, http.MethodPut, "/blocks/40", BlockDTO{
		Refs: []graph.SeedRef{{ID: 300, To: 1, Kind: "plain"}},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}

	w = do(t, env.router, http.MethodPost, "/blocks/30/preview", nil)
	if w.Code != http.StatusOK {
		t.Errorf("block 30 lost its template: status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestPutBlock_RejectsDuplicateRefIDs(t *testing.T) {
	env := testEnv(t, "")

	w := do(t, env.router, http.MethodPut, "/blocks/40", BlockDTO{
		Refs: []graph.SeedRef{{ID: 900, To: 1}, {ID: 900, To: 2}},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
