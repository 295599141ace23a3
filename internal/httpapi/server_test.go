package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/samantha-chat/internal/companion"
	"github.com/ent0n29/samantha-chat/internal/config"
	"github.com/ent0n29/samantha-chat/internal/llm"
	"github.com/ent0n29/samantha-chat/internal/memory"
	"github.com/ent0n29/samantha-chat/internal/observability"
	"github.com/ent0n29/samantha-chat/internal/protocol"
)

var metricsSeq atomic.Int64

// newTestMetrics registers under a fresh namespace; promauto uses the default
// registry and panics on duplicates.
func newTestMetrics(t *testing.T) (*observability.Metrics, string) {
	t.Helper()
	ns := fmt.Sprintf("test_httpapi_%d_%d", time.Now().UnixNano()%1_000_000, metricsSeq.Add(1))
	return observability.NewMetrics(ns), ns
}

func testConfig() config.Config {
	return config.Config{HistoryDefaultLimit: 50, HistoryMaxLimit: 1000}
}

type failingProvider struct{}

func (failingProvider) Name() string { return "failing" }

func (failingProvider) Generate(context.Context, string) (string, error) {
	return "", &llm.ProviderError{Provider: "failing", StatusCode: 401, Err: errors.New("API key not valid")}
}

type brokenStore struct {
	memory.Store
	appendErr error
	recentErr error
	pingErr   error
}

func (s brokenStore) Append(ctx context.Context, r memory.Record) (memory.Record, error) {
	if s.appendErr != nil {
		return memory.Record{}, s.appendErr
	}
	return s.Store.Append(ctx, r)
}

func (s brokenStore) Recent(ctx context.Context, userID int64, limit int) ([]memory.Record, error) {
	if s.recentErr != nil {
		return nil, s.recentErr
	}
	return s.Store.Recent(ctx, userID, limit)
}

func (s brokenStore) Ping(ctx context.Context) error {
	if s.pingErr != nil {
		return s.pingErr
	}
	return s.Store.Ping(ctx)
}

func newTestServer(t *testing.T, cfg config.Config, provider llm.Provider, store memory.Store) *httptest.Server {
	t.Helper()
	metrics, _ := newTestMetrics(t)
	svc := companion.NewService(provider, store, metrics)
	ts := httptest.NewServer(New(cfg, svc, metrics).Router())
	t.Cleanup(ts.Close)
	return ts
}

func postChat(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	res, err := http.Post(url+"/chat", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /chat error = %v", err)
	}
	defer res.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode /chat response: %v", err)
	}
	return res, out
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	res, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	defer res.Body.Close()
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return res
}

func TestRootAndHealth(t *testing.T) {
	store := brokenStore{Store: memory.NewInMemoryStore(), pingErr: errors.New("down"), recentErr: errors.New("down")}
	ts := newTestServer(t, testConfig(), failingProvider{}, store)

	var root map[string]string
	if res := getJSON(t, ts.URL+"/", &root); res.StatusCode != http.StatusOK {
		t.Fatalf("GET / status = %d", res.StatusCode)
	}
	if root["message"] != "Samantha AI API" || root["version"] != "1.0.0" || root["status"] != "running" {
		t.Fatalf("GET / body = %v", root)
	}

	var health map[string]string
	if res := getJSON(t, ts.URL+"/health", &health); res.StatusCode != http.StatusOK {
		t.Fatalf("GET /health status = %d", res.StatusCode)
	}
	if health["status"] != "healthy" {
		t.Fatalf("status = %q, want healthy", health["status"])
	}
	if _, err := time.Parse(time.RFC3339Nano, health["timestamp"]); err != nil {
		t.Fatalf("timestamp %q not RFC 3339: %v", health["timestamp"], err)
	}
}

func TestChatAndHistoryRoundTrip(t *testing.T) {
	ts := newTestServer(t, testConfig(), llm.NewMockProvider(), memory.NewInMemoryStore())

	res, out := postChat(t, ts.URL, `{"message":"我今天很开心！"}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("POST /chat status = %d", res.StatusCode)
	}
	if out["emotion"] != "happy" {
		t.Fatalf("emotion = %v, want happy", out["emotion"])
	}
	if s, _ := out["response"].(string); s == "" {
		t.Fatalf("empty response: %v", out)
	}

	var items []map[string]string
	if res := getJSON(t, ts.URL+"/history/1", &items); res.StatusCode != http.StatusOK {
		t.Fatalf("GET /history status = %d", res.StatusCode)
	}
	if len(items) != 1 {
		t.Fatalf("len(history) = %d, want 1", len(items))
	}
	got := items[0]
	if got["message"] != "我今天很开心！" || got["emotion"] != "happy" || got["response"] != out["response"] {
		t.Fatalf("history item = %v", got)
	}
	created, err := time.Parse(time.RFC3339Nano, got["created_at"])
	if err != nil {
		t.Fatalf("created_at %q: %v", got["created_at"], err)
	}
	if created.Location() != time.UTC {
		t.Fatalf("created_at not UTC: %q", got["created_at"])
	}
}

func TestHistoryNewestFirstAndClamped(t *testing.T) {
	cfg := testConfig()
	cfg.HistoryMaxLimit = 2
	ts := newTestServer(t, cfg, llm.NewMockProvider(), memory.NewInMemoryStore())

	for _, msg := range []string{"one", "two", "three"} {
		if res, _ := postChat(t, ts.URL, `{"message":"`+msg+`","user_id":5}`); res.StatusCode != http.StatusOK {
			t.Fatalf("POST /chat status = %d", res.StatusCode)
		}
	}

	var items []map[string]string
	getJSON(t, ts.URL+"/history/5?limit=10", &items)
	if len(items) != 2 {
		t.Fatalf("len(history) = %d, want 2 (clamped)", len(items))
	}
	if items[0]["message"] != "three" || items[1]["message"] != "two" {
		t.Fatalf("history order = %v", items)
	}

	items = nil
	getJSON(t, ts.URL+"/history/5?limit=0", &items)
	if len(items) != 0 {
		t.Fatalf("limit=0 returned %d rows", len(items))
	}
}

func TestChatFallsBackWhenProviderFails(t *testing.T) {
	ts := newTestServer(t, testConfig(), failingProvider{}, memory.NewInMemoryStore())

	res, out := postChat(t, ts.URL, `{"message":"hello","user_id":2}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	if out["emotion"] != companion.FallbackEmotion {
		t.Fatalf("emotion = %v, want neutral", out["emotion"])
	}
	if out["response"] != companion.FallbackResponse {
		t.Fatalf("response = %v, want fallback apology", out["response"])
	}
}

func TestChatSurvivesStoreWriteFailure(t *testing.T) {
	store := brokenStore{Store: memory.NewInMemoryStore(), appendErr: errors.New("database is locked")}
	ts := newTestServer(t, testConfig(), llm.NewMockProvider(), store)

	res, out := postChat(t, ts.URL, `{"message":"still here?"}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	if s, _ := out["response"].(string); s == "" {
		t.Fatalf("empty response")
	}
}

func TestChatRejectsMalformedRequests(t *testing.T) {
	ts := newTestServer(t, testConfig(), llm.NewMockProvider(), memory.NewInMemoryStore())

	cases := map[string]string{
		"empty body":         ``,
		"missing message":    `{}`,
		"null message":       `{"message":null}`,
		"numeric message":    `{"message":5}`,
		"string user id":     `{"message":"hi","user_id":"abc"}`,
		"fractional user id": `{"message":"hi","user_id":2.5}`,
		"null user id":       `{"message":"hi","user_id":null}`,
		"bool user id":       `{"message":"hi","user_id":true}`,
		"not json":           `hello`,
		"truncated json":     `{"message":"hi"`,
		"trailing garbage":   `{"message":"hi"} trailing`,
		"two objects":        `{"message":"hi"}{"message":"again"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			res, out := postChat(t, ts.URL, body)
			if res.StatusCode != http.StatusUnprocessableEntity {
				t.Fatalf("status = %d, want 422", res.StatusCode)
			}
			if out["code"] != "invalid_request" {
				t.Fatalf("code = %v, want invalid_request", out["code"])
			}
		})
	}
}

func TestChatTruncatedBodyIsNotReportedEmpty(t *testing.T) {
	ts := newTestServer(t, testConfig(), llm.NewMockProvider(), memory.NewInMemoryStore())

	_, out := postChat(t, ts.URL, `{"message":"hi"`)
	if out["error"] == "request body is required" {
		t.Fatalf("truncated body reported as empty: %v", out)
	}
}

func TestChatCoercesUserID(t *testing.T) {
	cases := map[string]string{
		"integer string": `{"message":"hi","user_id":"2"}`,
		"integral float": `{"message":"hi","user_id":2.0}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			store := memory.NewInMemoryStore()
			ts := newTestServer(t, testConfig(), llm.NewMockProvider(), store)

			res, out := postChat(t, ts.URL, body)
			if res.StatusCode != http.StatusOK {
				t.Fatalf("status = %d body = %v, want 200", res.StatusCode, out)
			}
			rows, err := store.Recent(context.Background(), 2, 10)
			if err != nil {
				t.Fatalf("Recent() error = %v", err)
			}
			if len(rows) != 1 || rows[0].Message != "hi" {
				t.Fatalf("rows for user 2 = %+v, want the stored turn", rows)
			}
		})
	}
}

func TestHistoryEmptyIsArray(t *testing.T) {
	ts := newTestServer(t, testConfig(), llm.NewMockProvider(), memory.NewInMemoryStore())

	res, err := http.Get(ts.URL + "/history/424242")
	if err != nil {
		t.Fatalf("GET /history error = %v", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if strings.TrimSpace(string(body)) != "[]" {
		t.Fatalf("body = %q, want []", body)
	}
}

func TestHistoryRejectsBadParams(t *testing.T) {
	ts := newTestServer(t, testConfig(), llm.NewMockProvider(), memory.NewInMemoryStore())

	for _, path := range []string{"/history/abc", "/history/1?limit=ten", "/history/1?limit=-1"} {
		res := getJSON(t, ts.URL+path, nil)
		if res.StatusCode != http.StatusUnprocessableEntity {
			t.Fatalf("GET %s status = %d, want 422", path, res.StatusCode)
		}
	}
}

func TestHistoryStoreFailureIs500(t *testing.T) {
	store := brokenStore{Store: memory.NewInMemoryStore(), recentErr: errors.New("disk I/O error")}
	ts := newTestServer(t, testConfig(), llm.NewMockProvider(), store)

	var out errorResponse
	res := getJSON(t, ts.URL+"/history/1", &out)
	if res.StatusCode != http.StatusInternalServerError || out.Code != "internal_error" {
		t.Fatalf("status = %d code = %q, want 500 internal_error", res.StatusCode, out.Code)
	}
}

func TestReadyz(t *testing.T) {
	ok := newTestServer(t, testConfig(), llm.NewMockProvider(), memory.NewInMemoryStore())
	var body map[string]string
	if res := getJSON(t, ok.URL+"/readyz", &body); res.StatusCode != http.StatusOK || body["store"] != "memory" || body["status"] != "ready" {
		t.Fatalf("GET /readyz = %d %v", res.StatusCode, body)
	}

	down := newTestServer(t, testConfig(), llm.NewMockProvider(), brokenStore{Store: memory.NewInMemoryStore(), pingErr: errors.New("gone")})
	if res := getJSON(t, down.URL+"/readyz", nil); res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("GET /readyz with failing store = %d, want 503", res.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, testConfig(), llm.NewMockProvider(), memory.NewInMemoryStore())

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "content-type, x-custom-header")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /chat error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	if got := res.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("Allow-Origin = %q", got)
	}
	if got := res.Header.Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Fatalf("Allow-Credentials = %q, want true", got)
	}
	if got := strings.ToLower(res.Header.Get("Access-Control-Allow-Headers")); !strings.Contains(got, "content-type") || !strings.Contains(got, "x-custom-header") {
		t.Fatalf("Allow-Headers = %q", got)
	}
	if got := res.Header.Get("Access-Control-Allow-Methods"); got != "POST" {
		t.Fatalf("Allow-Methods = %q, want POST", got)
	}
}

func TestCORSActualRequestEchoesOrigin(t *testing.T) {
	ts := newTestServer(t, testConfig(), llm.NewMockProvider(), memory.NewInMemoryStore())

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	req.Header.Set("Origin", "https://app.example.com")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	res.Body.Close()
	if got := res.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("Allow-Origin = %q", got)
	}
	if got := res.Header.Get("Access-Control-Expose-Headers"); !strings.EqualFold(got, "X-Request-Id") {
		t.Fatalf("Expose-Headers = %q", got)
	}
}

func TestRequestIDHeader(t *testing.T) {
	ts := newTestServer(t, testConfig(), llm.NewMockProvider(), memory.NewInMemoryStore())

	res := getJSON(t, ts.URL+"/health", nil)
	if res.Header.Get("X-Request-ID") == "" {
		t.Fatalf("missing X-Request-ID")
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	res2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	res2.Body.Close()
	if res2.Header.Get("X-Request-ID") != "abc-123" {
		t.Fatalf("X-Request-ID = %q, want abc-123", res2.Header.Get("X-Request-ID"))
	}
}

type panickingService struct{ ChatService }

func (panickingService) Chat(context.Context, companion.ChatInput) companion.ChatOutput {
	panic("boom")
}

func TestPanicBecomesJSON500(t *testing.T) {
	metrics, _ := newTestMetrics(t)
	ts := httptest.NewServer(New(testConfig(), panickingService{}, metrics).Router())
	defer ts.Close()

	res, out := postChat(t, ts.URL, `{"message":"hi"}`)
	if res.StatusCode != http.StatusInternalServerError || out["code"] != "internal_error" {
		t.Fatalf("status = %d body = %v, want 500 internal_error", res.StatusCode, out)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q, want application/json", ct)
	}

	// The server keeps serving after a recovered panic.
	if res := getJSON(t, ts.URL+"/health", nil); res.StatusCode != http.StatusOK {
		t.Fatalf("GET /health after panic = %d", res.StatusCode)
	}
}

func TestMetricsAndPerfEndpoints(t *testing.T) {
	metrics, ns := newTestMetrics(t)
	svc := companion.NewService(llm.NewMockProvider(), memory.NewInMemoryStore(), metrics)
	ts := httptest.NewServer(New(testConfig(), svc, metrics).Router())
	defer ts.Close()

	if res, _ := postChat(t, ts.URL, `{"message":"hi"}`); res.StatusCode != http.StatusOK {
		t.Fatalf("POST /chat status = %d", res.StatusCode)
	}

	res, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	for _, name := range []string{ns + "_chat_turns_total", ns + "_provider_calls_total", ns + "_http_requests_total"} {
		if !bytes.Contains(body, []byte(name)) {
			t.Fatalf("/metrics missing %s", name)
		}
	}

	var snap observability.StageSnapshot
	getJSON(t, ts.URL+"/v1/perf/latency", &snap)
	stages := map[string]bool{}
	for _, s := range snap.Stages {
		stages[s.Stage] = true
	}
	for _, want := range []string{observability.StageClassify, observability.StageGenerate, observability.StagePersist, observability.StageChatTotal} {
		if !stages[want] {
			t.Fatalf("perf snapshot missing stage %q: %+v", want, snap.Stages)
		}
	}
}

func TestChatWebSocket(t *testing.T) {
	store := memory.NewInMemoryStore()
	ts := newTestServer(t, testConfig(), llm.NewMockProvider(), store)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"nope"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	var errEvent protocol.ErrorEvent
	if err := conn.ReadJSON(&errEvent); err != nil {
		t.Fatalf("read error event: %v", err)
	}
	if errEvent.Type != protocol.TypeErrorEvent || errEvent.Code != "invalid_client_message" {
		t.Fatalf("error event = %+v", errEvent)
	}

	if err := conn.WriteJSON(map[string]any{"type": "client_control", "action": "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	var pong protocol.SystemEvent
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if pong.Code != "pong" {
		t.Fatalf("system event = %+v, want pong", pong)
	}

	if err := conn.WriteJSON(map[string]any{"type": "chat_message", "request_id": "r-1", "message": "我今天很开心！", "user_id": 9}); err != nil {
		t.Fatalf("write chat: %v", err)
	}
	var reply protocol.ChatReply
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply.Type != protocol.TypeChatReply || reply.Emotion != "happy" || reply.UserID != 9 || reply.RequestID != "r-1" {
		t.Fatalf("reply = %+v", reply)
	}
	if reply.Response == "" {
		t.Fatalf("empty websocket response")
	}

	history, err := store.Recent(context.Background(), 9, 10)
	if err != nil || len(history) != 1 {
		t.Fatalf("history after websocket turn = %v, %v", history, err)
	}
}

type slowProvider struct {
	llm.Provider
	delay time.Duration
}

func (p slowProvider) Generate(ctx context.Context, prompt string) (string, error) {
	time.Sleep(p.delay)
	return p.Provider.Generate(ctx, prompt)
}

func TestChatWebSocketKeepsFrameOrder(t *testing.T) {
	provider := slowProvider{Provider: llm.NewMockProvider(), delay: 50 * time.Millisecond}
	ts := newTestServer(t, testConfig(), provider, memory.NewInMemoryStore())

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	frames := []string{
		`{"type":"chat_message","request_id":"first","message":"hello"}`,
		`{"type":"client_control","action":"ping"}`,
		`{"type":"nope"}`,
		`{"type":"chat_message","request_id":"second","message":"again"}`,
	}
	for _, f := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			t.Fatalf("write %s: %v", f, err)
		}
	}

	want := []string{"chat_reply:first", "system_event:pong", "error_event:invalid_client_message", "chat_reply:second"}
	for i, w := range want {
		var frame struct {
			Type      string `json:"type"`
			Code      string `json:"code"`
			RequestID string `json:"request_id"`
		}
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read frame %d: %v", i, err)
		}
		got := frame.Type + ":" + frame.Code
		if frame.Type == "chat_reply" {
			got = frame.Type + ":" + frame.RequestID
		}
		if got != w {
			t.Fatalf("frame %d = %s, want %s", i, got, w)
		}
	}
}
