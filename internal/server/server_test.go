package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nevindra/pgagent"
	"github.com/nevindra/pgagent/provider/gemini"
	"github.com/nevindra/pgagent/store/sqlite"
)

type stubEmbedder struct{}

func (stubEmbedder) Name() string { return "openai" }
func (stubEmbedder) Embed(_ context.Context, _, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1, 0.5}, nil
}

type stubChat struct {
	err error
}

func (stubChat) Name() string { return "openai" }
func (c stubChat) Chat(_ context.Context, req pgagent.ChatRequest) (pgagent.ChatResponse, error) {
	if c.err != nil {
		return pgagent.ChatResponse{}, c.err
	}
	last := req.Messages[len(req.Messages)-1]
	return pgagent.ChatResponse{Content: "echo: " + last.Content}, nil
}

func newTestServer(t *testing.T, chat stubChat) (*Server, *pgagent.Orchestrator) {
	t.Helper()
	mem, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { mem.Close() })

	gw := pgagent.NewGateway()
	gw.RegisterEmbedder(stubEmbedder{})
	gw.RegisterChat(chat)
	orch := pgagent.NewOrchestrator(gw, mem, pgagent.NewSessionStore())
	return New(orch), orch
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, stubChat{})
	rec := do(t, s.Handler(), http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, map[string]string{"status": "ok", "service": "pgagent"}, decode[map[string]string](t, rec))
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t, stubChat{})
	rec := do(t, s.Handler(), http.MethodOptions, "/api/chat", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSettingsRoundTrip(t *testing.T) {
	s, _ := newTestServer(t, stubChat{})
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/settings", map[string]any{"key": "search_limit", "value": 7})
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string]any](t, rec)
	assert.Equal(t, true, got["success"])
	assert.Equal(t, "search_limit", got["key"])

	rec = do(t, h, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	settings := decode[map[string]any](t, rec)
	assert.Equal(t, float64(7), settings["search_limit"])
	assert.Equal(t, "openai", settings["chat_provider"])
}

func TestSetSettingRequiresKey(t *testing.T) {
	s, _ := newTestServer(t, stubChat{})
	rec := do(t, s.Handler(), http.MethodPost, "/api/settings", map[string]any{"value": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvalidJSONBody(t *testing.T) {
	s, _ := newTestServer(t, stubChat{})
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["error"], "invalid JSON")
}

func TestMemoriesLifecycle(t *testing.T) {
	s, _ := newTestServer(t, stubChat{})
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/memories", map[string]string{"content": "I prefer dark roast coffee"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	id := decode[map[string]string](t, rec)["memory_id"]
	require.NotEmpty(t, id)

	rec = do(t, h, http.MethodGet, "/api/memories", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Memories []pgagent.Memory `json:"memories"`
		Limit    int              `json:"limit"`
		Offset   int              `json:"offset"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 50, list.Limit)
	assert.Equal(t, 0, list.Offset)
	require.Len(t, list.Memories, 1)
	assert.Equal(t, id, list.Memories[0].ID)
	assert.Equal(t, "preference", list.Memories[0].Category)

	rec = do(t, h, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), decode[pgagent.Stats](t, rec).TotalMemories)

	rec = do(t, h, http.MethodDelete, "/api/memories/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]bool{"success": true}, decode[map[string]bool](t, rec))

	rec = do(t, h, http.MethodDelete, "/api/memories/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Memory not found", decode[map[string]string](t, rec)["error"])
}

func TestStoreMemoryRequiresContent(t *testing.T) {
	s, _ := newTestServer(t, stubChat{})
	rec := do(t, s.Handler(), http.MethodPost, "/api/memories", map[string]string{"content": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListMemoriesRejectsBadLimit(t *testing.T) {
	s, _ := newTestServer(t, stubChat{})
	rec := do(t, s.Handler(), http.MethodGet, "/api/memories?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, s.Handler(), http.MethodGet, "/api/memories?offset=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatTurn(t *testing.T) {
	s, orch := newTestServer(t, stubChat{})
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/chat", map[string]string{"message": "hello", "session_id": "abc"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[map[string]any](t, rec)
	assert.Equal(t, "echo: hello", res["response"])
	assert.Equal(t, []any{}, res["memories_used"])
	assert.Equal(t, false, res["memory_saved"])
	assert.Len(t, orch.Sessions().History("abc"), 2)

	rec = do(t, h, http.MethodPost, "/api/chat/clear?session_id=abc", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, orch.Sessions().History("abc"))
}

func TestChatDefaultSession(t *testing.T) {
	s, orch := newTestServer(t, stubChat{})
	rec := do(t, s.Handler(), http.MethodPost, "/api/chat", map[string]string{"message": "hi"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, orch.Sessions().History("default"), 2)

	do(t, s.Handler(), http.MethodPost, "/api/chat/clear", nil)
	assert.Empty(t, orch.Sessions().History("default"))
}

func TestChatCapturesMemory(t *testing.T) {
	s, orch := newTestServer(t, stubChat{})
	rec := do(t, s.Handler(), http.MethodPost, "/api/chat",
		map[string]string{"message": "Remember that I prefer tabs over spaces"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["memory_saved"])

	st, err := orch.Memory().Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.TotalMemories)
}

func TestChatEmptyMessage(t *testing.T) {
	s, _ := newTestServer(t, stubChat{})
	rec := do(t, s.Handler(), http.MethodPost, "/api/chat", map[string]string{"message": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatProviderFailure(t *testing.T) {
	s, orch := newTestServer(t, stubChat{err: errors.New("upstream down")})
	rec := do(t, s.Handler(), http.MethodPost, "/api/chat", map[string]string{"message": "hello", "session_id": "x"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["error"], "upstream down")
	assert.Empty(t, orch.Sessions().History("x"))
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, stubChat{})
	h := s.Handler()
	do(t, h, http.MethodGet, "/api/health", nil)
	do(t, h, http.MethodPost, "/api/chat", map[string]string{"message": "hello"})

	rec := do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `pgagent_http_requests_total{method="GET",route="GET /api/health",status="200"} 1`)
	assert.Contains(t, body, `pgagent_turns_total{outcome="ok"} 1`)
	assert.Contains(t, body, "pgagent_active_sessions 1")
}

func TestChatWebSocket(t *testing.T) {
	s, _ := newTestServer(t, stubChat{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/chat/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"message": "hello", "session_id": "ws"}))
	var res pgagent.TurnResult
	require.NoError(t, conn.ReadJSON(&res))
	assert.Equal(t, "echo: hello", res.Reply)

	// errors are reported in-band and the connection stays usable
	require.NoError(t, conn.WriteJSON(map[string]string{"message": ""}))
	var errMsg map[string]string
	require.NoError(t, conn.ReadJSON(&errMsg))
	assert.Contains(t, errMsg["error"], "empty message")

	require.NoError(t, conn.WriteJSON(map[string]string{"message": "again", "session_id": "ws"}))
	require.NoError(t, conn.ReadJSON(&res))
	assert.Equal(t, "echo: again", res.Reply)
}

func TestListenAndServeShutsDownOnCancel(t *testing.T) {
	s, _ := newTestServer(t, stubChat{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()
	cancel()
	assert.NoError(t, <-done)
}

func TestChatErrorDoesNotExposeProviderKey(t *testing.T) {
	mem, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { mem.Close() })
	require.NoError(t, mem.SetSetting(context.Background(), pgagent.SettingChatProvider, "gemini"))

	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()

	gw := pgagent.NewGateway()
	gw.RegisterEmbedder(stubEmbedder{})
	gw.RegisterChat(gemini.New("SECRET-KEY-123", gemini.WithBaseURL(down.URL)))
	s := New(pgagent.NewOrchestrator(gw, mem, pgagent.NewSessionStore()))

	rec := do(t, s.Handler(), http.MethodPost, "/api/chat", map[string]string{"message": "hello"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "SECRET-KEY-123")
	assert.NotContains(t, rec.Body.String(), down.URL)
	assert.Contains(t, rec.Body.String(), "gemini: request failed")
}
