package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openclaw/a2a"
	"github.com/openclaw/a2a/convstore"
	"github.com/openclaw/a2a/logstore"
	"github.com/openclaw/a2a/runtime"
	"github.com/openclaw/a2a/tokenstore"
)

type captureHook struct {
	mu      sync.Mutex
	entries []logrus.Fields
}

func (h *captureHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *captureHook) Fire(e *logrus.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	fields := logrus.Fields{}
	for k, v := range e.Data {
		fields[k] = v
	}
	h.entries = append(h.entries, fields)
	return nil
}

func (h *captureHook) find(event string) logrus.Fields {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, fields := range h.entries {
		if fields[logstore.FieldEvent] == event {
			return fields
		}
	}
	return nil
}

type mockCalls struct {
	mu        sync.Mutex
	tracked   []string
	untracked []string
}

func (m *mockCalls) Track(convID string, _ a2a.CallerInfo, _ string, _ a2a.NotifyLevel, _ string) {
	m.mu.Lock()
	m.tracked = append(m.tracked, convID)
	m.mu.Unlock()
}

func (m *mockCalls) Untrack(convID string) {
	m.mu.Lock()
	m.untracked = append(m.untracked, convID)
	m.mu.Unlock()
}

type fixture struct {
	server  *Server
	ts      *httptest.Server
	tokens  *tokenstore.Store
	convs   *convstore.Store
	backend *runtime.Mock
	calls   *mockCalls
	logs    *captureHook
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	tokens, err := tokenstore.Open(filepath.Join(dir, "tokens.json"))
	if err != nil {
		t.Fatalf("tokenstore.Open() error = %v", err)
	}
	convs, err := convstore.Open(filepath.Join(dir, "conversations.db"))
	if err != nil {
		t.Fatalf("convstore.Open() error = %v", err)
	}
	t.Cleanup(func() { convs.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logs := &captureHook{}
	logger.AddHook(logs)
	log := logger.WithField("component", "server")

	backend := &runtime.Mock{}
	agent := runtime.NewAdapterWith(log, "Dana", true, backend)
	calls := &mockCalls{}

	cfg := &a2a.Config{
		ListenAddr:   "127.0.0.1:0",
		RuntimeMode:  a2a.RuntimeGeneric,
		MinTurns:     8,
		MaxTurns:     30,
		MaxTimeout:   65 * time.Second,
		OwnerName:    "Dana",
		SystemPrompt: "be helpful",
	}

	srv := New(cfg, tokens, convs, agent, calls, log)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &fixture{server: srv, ts: ts, tokens: tokens, convs: convs, backend: backend, calls: calls, logs: logs}
}

func (f *fixture) createToken(t *testing.T, spec tokenstore.Spec) string {
	t.Helper()
	if spec.Name == "" {
		spec.Name = "Kit"
	}
	if spec.Tier == "" {
		spec.Tier = a2a.TierFriends
	}
	wire, _, err := f.tokens.Create(spec)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return wire
}

func (f *fixture) post(t *testing.T, path, bearer string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, f.ts.URL+path, bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func TestPing(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.ts.URL + a2a.APIPrefix + "/ping")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body a2a.PingResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if !body.Pong || body.Timestamp == "" {
		t.Errorf("ping body = %+v", body)
	}
}

func TestStatus_Unauthenticated(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.ts.URL + a2a.APIPrefix + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body a2a.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if !body.A2A || body.Version != a2a.Version {
		t.Errorf("status body = %+v", body)
	}
	if len(body.Capabilities) == 0 || body.RateLimits["per_minute"] == 0 {
		t.Errorf("status body missing capabilities or limits: %+v", body)
	}
}

func TestInvoke_MissingToken(t *testing.T) {
	f := newFixture(t)
	resp, body := f.post(t, a2a.APIPrefix+"/invoke", "", a2a.InvokeRequest{Message: "hi"}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if body["error"] != "missing_token" {
		t.Errorf("error = %v", body["error"])
	}
	if body["hint"] == "" || body["hint"] == nil {
		t.Error("error body must carry a hint")
	}
}

func TestInvoke_UnknownToken(t *testing.T) {
	f := newFixture(t)
	resp, body := f.post(t, a2a.APIPrefix+"/invoke", "fed_bogus", a2a.InvokeRequest{Message: "hi"}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if body["error"] != "token_invalid_or_expired" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestInvoke_RevokedToken(t *testing.T) {
	f := newFixture(t)
	wire := f.createToken(t, tokenstore.Spec{})
	tok := f.tokens.List()[0]
	if err := f.tokens.Revoke(tok.ID); err != nil {
		t.Fatal(err)
	}
	resp, body := f.post(t, a2a.APIPrefix+"/invoke", wire, a2a.InvokeRequest{Message: "hi"}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if body["error"] != "token_revoked" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestInvoke_MissingMessage(t *testing.T) {
	f := newFixture(t)
	wire := f.createToken(t, tokenstore.Spec{})
	resp, body := f.post(t, a2a.APIPrefix+"/invoke", wire, a2a.InvokeRequest{Message: "   "}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if body["error"] != "missing_message" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestInvoke_HappyPath(t *testing.T) {
	f := newFixture(t)
	wire := f.createToken(t, tokenstore.Spec{MaxCalls: intPtr(10)})
	f.backend.RunTurnFunc = func(_ context.Context, req runtime.TurnRequest) (string, error) {
		if req.Prompt != "be helpful" {
			t.Errorf("Prompt = %q", req.Prompt)
		}
		return "happy to chat" + `<collab_state>{"phase": "explore", "overlap_score": 0.4}</collab_state>`, nil
	}

	resp, body := f.post(t, a2a.APIPrefix+"/invoke", wire, a2a.InvokeRequest{
		Message: "hello there",
		Caller:  &a2a.CallerInfo{Name: "Kit"},
	}, map[string]string{"x-trace-id": "tr_given"})

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %v", resp.StatusCode, body)
	}
	if resp.Header.Get("x-trace-id") != "tr_given" {
		t.Errorf("x-trace-id header = %q, want echo", resp.Header.Get("x-trace-id"))
	}
	if body["trace_id"] != "tr_given" {
		t.Errorf("trace_id = %v, want echo of header", body["trace_id"])
	}
	if body["success"] != true {
		t.Errorf("success = %v", body["success"])
	}
	if got := body["response"]; got != "happy to chat" {
		t.Errorf("response = %q, want collab block stripped", got)
	}
	if body["can_continue"] != true {
		t.Errorf("can_continue = %v", body["can_continue"])
	}
	if body["tokens_remaining"] != float64(9) {
		t.Errorf("tokens_remaining = %v, want 9", body["tokens_remaining"])
	}

	convID, _ := body["conversation_id"].(string)
	if !strings.HasPrefix(convID, "conv_") {
		t.Fatalf("conversation_id = %q", convID)
	}

	conv, err := f.convs.Get(convID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if conv.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want inbound+outbound", conv.MessageCount)
	}
	if conv.Messages[1].Content != "happy to chat" {
		t.Errorf("outbound content = %q, want clean text", conv.Messages[1].Content)
	}
	if conv.CollabState == nil || conv.CollabState.Phase != "explore" {
		t.Errorf("CollabState = %+v, want persisted patch", conv.CollabState)
	}
	if len(f.calls.tracked) != 1 || f.calls.tracked[0] != convID {
		t.Errorf("monitor tracked = %v", f.calls.tracked)
	}
}

func TestInvoke_ResumesConversation(t *testing.T) {
	f := newFixture(t)
	wire := f.createToken(t, tokenstore.Spec{})

	_, first := f.post(t, a2a.APIPrefix+"/invoke", wire, a2a.InvokeRequest{Message: "turn one"}, nil)
	convID := first["conversation_id"].(string)

	_, second := f.post(t, a2a.APIPrefix+"/invoke", wire, a2a.InvokeRequest{
		Message:        "turn two",
		ConversationID: convID,
	}, nil)
	if second["conversation_id"] != convID {
		t.Errorf("conversation_id = %v, want %q", second["conversation_id"], convID)
	}

	conv, err := f.convs.Get(convID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if conv.MessageCount != 4 {
		t.Errorf("MessageCount = %d, want 4 after two turns", conv.MessageCount)
	}
}

func TestInvoke_CrossTokenConversationRejected(t *testing.T) {
	f := newFixture(t)
	wireA := f.createToken(t, tokenstore.Spec{Name: "Alpha"})
	wireB := f.createToken(t, tokenstore.Spec{Name: "Beta"})

	_, first := f.post(t, a2a.APIPrefix+"/invoke", wireA, a2a.InvokeRequest{Message: "mine"}, nil)
	convID := first["conversation_id"].(string)

	resp, body := f.post(t, a2a.APIPrefix+"/invoke", wireB, a2a.InvokeRequest{
		Message:        "stealing",
		ConversationID: convID,
	}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	if body["error"] != "permission_denied" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestInvoke_UnknownConversationIDStartsFresh(t *testing.T) {
	f := newFixture(t)
	wire := f.createToken(t, tokenstore.Spec{})

	_, body := f.post(t, a2a.APIPrefix+"/invoke", wire, a2a.InvokeRequest{
		Message:        "hi",
		ConversationID: "conv_never_seen",
	}, nil)
	if body["success"] != true {
		t.Fatalf("body = %v", body)
	}
	if body["conversation_id"] == "conv_never_seen" {
		t.Error("unknown conversation id must yield a fresh conversation")
	}
}

func TestInvoke_CloseSignalRespectsMinTurns(t *testing.T) {
	f := newFixture(t)
	f.server.config.MinTurns = 2
	wire := f.createToken(t, tokenstore.Spec{})
	f.backend.RunTurnFunc = func(context.Context, runtime.TurnRequest) (string, error) {
		return `bye<collab_state>{"close_signal": true}</collab_state>`, nil
	}

	// Turn 1: close signal present but below min turns.
	_, first := f.post(t, a2a.APIPrefix+"/invoke", wire, a2a.InvokeRequest{Message: "one"}, nil)
	if first["can_continue"] != true {
		t.Errorf("turn 1 can_continue = %v, want true below min turns", first["can_continue"])
	}

	convID := first["conversation_id"].(string)
	_, second := f.post(t, a2a.APIPrefix+"/invoke", wire, a2a.InvokeRequest{
		Message:        "two",
		ConversationID: convID,
	}, nil)
	if second["can_continue"] != false {
		t.Errorf("turn 2 can_continue = %v, want false at min turns with close signal", second["can_continue"])
	}
}

func TestInvoke_RateLimited(t *testing.T) {
	f := newFixture(t)
	wire := f.createToken(t, tokenstore.Spec{
		RateLimits: &tokenstore.RateLimits{PerMinute: 1, PerHour: 100, PerDay: 100},
	})

	if resp, _ := f.post(t, a2a.APIPrefix+"/invoke", wire, a2a.InvokeRequest{Message: "one"}, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("first call status = %d", resp.StatusCode)
	}
	resp, body := f.post(t, a2a.APIPrefix+"/invoke", wire, a2a.InvokeRequest{Message: "two"}, nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second call status = %d, want 429", resp.StatusCode)
	}
	if body["error"] != "rate_limited" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestInvoke_MaxCallsExhausted(t *testing.T) {
	f := newFixture(t)
	wire := f.createToken(t, tokenstore.Spec{MaxCalls: intPtr(1)})

	_, first := f.post(t, a2a.APIPrefix+"/invoke", wire, a2a.InvokeRequest{Message: "one"}, nil)
	if first["tokens_remaining"] != float64(0) {
		t.Errorf("tokens_remaining = %v, want 0", first["tokens_remaining"])
	}
	resp, _ := f.post(t, a2a.APIPrefix+"/invoke", wire, a2a.InvokeRequest{Message: "two"}, nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 after quota", resp.StatusCode)
	}
}

func TestInvoke_ConcurrentCallsObeyMaxCalls(t *testing.T) {
	f := newFixture(t)
	wire := f.createToken(t, tokenstore.Spec{MaxCalls: intPtr(3)})

	const callers = 8
	start := make(chan struct{})
	results := make(chan int, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			<-start
			data, err := json.Marshal(a2a.InvokeRequest{Message: fmt.Sprintf("call %d", n)})
			if err != nil {
				results <- 0
				return
			}
			req, err := http.NewRequest(http.MethodPost, f.ts.URL+a2a.APIPrefix+"/invoke", bytes.NewReader(data))
			if err != nil {
				results <- 0
				return
			}
			req.Header.Set("Authorization", "Bearer "+wire)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				results <- 0
				return
			}
			resp.Body.Close()
			results <- resp.StatusCode
		}(i)
	}
	close(start)
	wg.Wait()
	close(results)

	counts := map[int]int{}
	for code := range results {
		counts[code]++
	}
	if counts[http.StatusOK] != 3 {
		t.Errorf("successes = %d, want exactly max_calls", counts[http.StatusOK])
	}
	if counts[http.StatusTooManyRequests] != callers-3 {
		t.Errorf("rate limited = %d, want %d", counts[http.StatusTooManyRequests], callers-3)
	}
	if tok := f.tokens.List()[0]; tok.CallsMade != 3 {
		t.Errorf("CallsMade = %d, want the max_calls cap", tok.CallsMade)
	}
}

func TestEnd_ConcludesAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	wire := f.createToken(t, tokenstore.Spec{})
	f.backend.SummarizeFunc = func(context.Context, runtime.SummaryRequest) (*a2a.Summary, error) {
		return &a2a.Summary{Summary: "they talked"}, nil
	}

	_, inv := f.post(t, a2a.APIPrefix+"/invoke", wire, a2a.InvokeRequest{Message: "hi"}, nil)
	convID := inv["conversation_id"].(string)

	resp, body := f.post(t, a2a.APIPrefix+"/end", wire, a2a.EndRequest{ConversationID: convID}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %v", resp.StatusCode, body)
	}
	if body["status"] != "concluded" || body["summary"] != "they talked" {
		t.Errorf("end body = %v", body)
	}
	if len(f.calls.untracked) != 1 || f.calls.untracked[0] != convID {
		t.Errorf("monitor untracked = %v", f.calls.untracked)
	}

	resp, body = f.post(t, a2a.APIPrefix+"/end", wire, a2a.EndRequest{ConversationID: convID}, nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "concluded" {
		t.Errorf("second end = %d %v, want idempotent success", resp.StatusCode, body)
	}
}

func TestEnd_Validation(t *testing.T) {
	f := newFixture(t)
	wireA := f.createToken(t, tokenstore.Spec{Name: "Alpha"})
	wireB := f.createToken(t, tokenstore.Spec{Name: "Beta"})

	resp, body := f.post(t, a2a.APIPrefix+"/end", wireA, a2a.EndRequest{}, nil)
	if resp.StatusCode != http.StatusBadRequest || body["error"] != "missing_conversation_id" {
		t.Errorf("empty id = %d %v", resp.StatusCode, body["error"])
	}

	resp, body = f.post(t, a2a.APIPrefix+"/end", wireA, a2a.EndRequest{ConversationID: "conv_nope"}, nil)
	if resp.StatusCode != http.StatusNotFound || body["error"] != "conversation_not_found" {
		t.Errorf("unknown id = %d %v", resp.StatusCode, body["error"])
	}

	_, inv := f.post(t, a2a.APIPrefix+"/invoke", wireA, a2a.InvokeRequest{Message: "hi"}, nil)
	convID := inv["conversation_id"].(string)
	resp, body = f.post(t, a2a.APIPrefix+"/end", wireB, a2a.EndRequest{ConversationID: convID}, nil)
	if resp.StatusCode != http.StatusForbidden || body["error"] != "permission_denied" {
		t.Errorf("cross-token end = %d %v", resp.StatusCode, body["error"])
	}
}

func TestInvoke_AssignsTraceWhenAbsent(t *testing.T) {
	f := newFixture(t)
	wire := f.createToken(t, tokenstore.Spec{})
	resp, body := f.post(t, a2a.APIPrefix+"/invoke", wire, a2a.InvokeRequest{Message: "hi"}, nil)

	traceID, _ := body["trace_id"].(string)
	if !strings.HasPrefix(traceID, "tr_") {
		t.Errorf("trace_id = %q, want generated tr_ id", traceID)
	}
	if resp.Header.Get("x-trace-id") != traceID {
		t.Errorf("header trace %q != body trace %q", resp.Header.Get("x-trace-id"), traceID)
	}
	reqID, _ := body["request_id"].(string)
	if !strings.HasPrefix(reqID, "req_") {
		t.Errorf("request_id = %q", reqID)
	}
}

func TestInvoke_SuccessLogCarriesRequestID(t *testing.T) {
	f := newFixture(t)
	wire := f.createToken(t, tokenstore.Spec{})

	_, body := f.post(t, a2a.APIPrefix+"/invoke", wire, a2a.InvokeRequest{Message: "hi"},
		map[string]string{"x-trace-id": "tr_corr"})

	reqID, _ := body["request_id"].(string)
	if reqID == "" {
		t.Fatal("response missing request_id")
	}
	fields := f.logs.find("invoke_completed")
	if fields == nil {
		t.Fatal("no invoke_completed event logged")
	}
	if fields[logstore.FieldTraceID] != "tr_corr" {
		t.Errorf("trace_id = %v, want tr_corr", fields[logstore.FieldTraceID])
	}
	if fields[logstore.FieldRequestID] != reqID {
		t.Errorf("request_id = %v, want %q", fields[logstore.FieldRequestID], reqID)
	}
}

func TestInvoke_RuntimeFailureStillSucceeds(t *testing.T) {
	f := newFixture(t)
	wire := f.createToken(t, tokenstore.Spec{})
	f.backend.RunTurnFunc = func(context.Context, runtime.TurnRequest) (string, error) {
		return "", fmt.Errorf("agent down")
	}

	resp, body := f.post(t, a2a.APIPrefix+"/invoke", wire, a2a.InvokeRequest{
		Message: "hello",
		Caller:  &a2a.CallerInfo{Name: "Kit"},
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 via deterministic fallback", resp.StatusCode)
	}
	response, _ := body["response"].(string)
	if !strings.HasSuffix(response, "?") {
		t.Errorf("fallback response = %q, want a question", response)
	}
}

func intPtr(n int) *int { return &n }
