package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kadaliao/claude-relay-service/pkg/account"
	"github.com/kadaliao/claude-relay-service/pkg/scheduler"
	"github.com/kadaliao/claude-relay-service/pkg/scheduler/strategies"
	"github.com/kadaliao/claude-relay-service/pkg/store"
	"github.com/kadaliao/claude-relay-service/pkg/token"
	"github.com/kadaliao/claude-relay-service/pkg/transport"
	"github.com/kadaliao/claude-relay-service/pkg/upstream"
	"github.com/kadaliao/claude-relay-service/pkg/usage"
)

// captureSink collects recorded usage events for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []usage.Event
}

func (s *captureSink) Store(ctx context.Context, ev *usage.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *ev)
	return nil
}

func (s *captureSink) Close() error { return nil }

func (s *captureSink) Events() []usage.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]usage.Event(nil), s.events...)
}

type relayFixture struct {
	forwarder *Forwarder
	pool      *scheduler.Pool
	store     *store.Store
	sink      *captureSink
	recorder  *usage.Recorder

	calls  atomic.Int32
	mu     sync.Mutex
	tokens []string
}

// newRelayFixture wires a forwarder over a real store and pool against a
// fake upstream. Credentials are fresh so no refresh traffic occurs.
func newRelayFixture(t *testing.T, config *Config, handler http.HandlerFunc, accounts ...account.Account) *relayFixture {
	t.Helper()

	f := &relayFixture{sink: &captureSink{}}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		f.mu.Lock()
		f.tokens = append(f.tokens, r.Header.Get("Authorization"))
		f.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	cipher, err := store.NewCipher("relay-test-master-key")
	if err != nil {
		t.Fatalf("NewCipher() error = %v", err)
	}
	st, err := store.Open(&store.Config{
		Path:        filepath.Join(t.TempDir(), "relay.db"),
		BusyTimeout: time.Second,
	}, cipher)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	for _, acc := range accounts {
		if err := st.PutAccount(ctx, acc); err != nil {
			t.Fatalf("PutAccount(%s) error = %v", acc.ID, err)
		}
	}

	pool := scheduler.NewPool(st, strategies.NewRoundRobin(), 0)
	if err := pool.Reload(ctx); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	registry := upstream.NewRegistry(upstream.NewClaude(upstream.ClaudeConfig{
		BaseURL:  server.URL,
		TokenURL: server.URL + "/oauth/token",
		ClientID: "test-client",
	}))

	transports := transport.NewPool(nil)
	t.Cleanup(transports.Close)

	tokens := token.NewManager(st, pool, transports, registry, nil)
	recorder := usage.NewRecorder(f.sink, &usage.Config{
		Enabled:      true,
		AsyncBuffer:  64,
		WriteTimeout: time.Second,
	})
	t.Cleanup(func() { recorder.Close() })

	f.store = st
	f.pool = pool
	f.recorder = recorder
	f.forwarder = NewForwarder(pool, tokens, transports, registry, recorder, nil, config)
	return f
}

func relayAccount(id string) account.Account {
	return account.Account{
		ID:       id,
		Platform: account.PlatformClaude,
		Name:     "account " + id,
		Status:   account.StatusNormal,
		Credential: account.Credential{
			AccessToken:  "tok-" + id,
			RefreshToken: "refresh-" + id,
			ExpiresAt:    time.Now().Add(time.Hour),
		},
	}
}

func (f *relayFixture) forward(body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	rr := httptest.NewRecorder()
	f.forwarder.Forward(rr, req, []account.Platform{account.PlatformClaude})
	return rr
}

// drainedEvents closes the recorder and returns everything it captured.
func (f *relayFixture) drainedEvents(t *testing.T) []usage.Event {
	t.Helper()
	if err := f.recorder.Close(); err != nil {
		t.Fatalf("recorder Close() error = %v", err)
	}
	return f.sink.Events()
}

func accountStatus(t *testing.T, pool *scheduler.Pool, id string) account.Status {
	t.Helper()
	for _, s := range pool.Snapshot() {
		if s.ID == id {
			return s.Status
		}
	}
	t.Fatalf("account %s not in snapshot", id)
	return ""
}

func TestForwardNonStreaming(t *testing.T) {
	upstreamBody := `{"id":"msg_01","model":"claude-sonnet-4-5","usage":{"input_tokens":12,"output_tokens":34,"cache_creation_input_tokens":5,"cache_read_input_tokens":6}}`
	f := newRelayFixture(t, nil, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, upstreamBody)
	}, relayAccount("acc-1"))

	rr := f.forward(`{"model":"claude-sonnet-4-5","messages":[]}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if got := rr.Body.String(); got != upstreamBody {
		t.Errorf("body = %q, want upstream body unchanged", got)
	}

	// The account's bearer token replaced anything client-supplied.
	f.mu.Lock()
	auth := f.tokens[0]
	f.mu.Unlock()
	if auth != "Bearer tok-acc-1" {
		t.Errorf("upstream Authorization = %q, want Bearer tok-acc-1", auth)
	}

	events := f.drainedEvents(t)
	if len(events) != 1 {
		t.Fatalf("recorded %d usage events, want 1", len(events))
	}
	ev := events[0]
	if !ev.Success {
		t.Error("usage event Success = false, want true")
	}
	if ev.Model != "claude-sonnet-4-5" {
		t.Errorf("usage event model = %q, want claude-sonnet-4-5", ev.Model)
	}
	if ev.InputTokens != 12 || ev.OutputTokens != 34 || ev.CacheCreateTokens != 5 || ev.CacheReadTokens != 6 {
		t.Errorf("usage tokens = %d/%d/%d/%d, want 12/34/5/6",
			ev.InputTokens, ev.OutputTokens, ev.CacheCreateTokens, ev.CacheReadTokens)
	}
}

func TestForwardStreaming(t *testing.T) {
	sse := strings.Join([]string{
		`event: message_start`,
		`data: {"type":"message_start","message":{"model":"claude-sonnet-4-5","usage":{"input_tokens":25,"cache_creation_input_tokens":3,"cache_read_input_tokens":7}}}`,
		``,
		`event: message_delta`,
		`data: {"type":"message_delta","usage":{"output_tokens":42}}`,
		``,
		`event: message_stop`,
		`data: {"type":"message_stop"}`,
		``,
	}, "\n") + "\n"

	var acceptHeader atomic.Value
	f := newRelayFixture(t, nil, func(w http.ResponseWriter, r *http.Request) {
		acceptHeader.Store(r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		fmt.Fprint(w, sse)
	}, relayAccount("acc-1"))

	rr := f.forward(`{"model":"claude-sonnet-4-5","stream":true,"messages":[]}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	if got := rr.Body.String(); got != sse {
		t.Errorf("body = %q, want SSE stream relayed verbatim", got)
	}
	if got, _ := acceptHeader.Load().(string); got != "text/event-stream" {
		t.Errorf("upstream Accept = %q, want text/event-stream", got)
	}

	events := f.drainedEvents(t)
	if len(events) != 1 {
		t.Fatalf("recorded %d usage events, want 1", len(events))
	}
	ev := events[0]
	if ev.InputTokens != 25 || ev.OutputTokens != 42 || ev.CacheCreateTokens != 3 || ev.CacheReadTokens != 7 {
		t.Errorf("usage tokens = %d/%d/%d/%d, want 25/42/3/7",
			ev.InputTokens, ev.OutputTokens, ev.CacheCreateTokens, ev.CacheReadTokens)
	}
	if ev.Model != "claude-sonnet-4-5" {
		t.Errorf("usage event model = %q, want claude-sonnet-4-5", ev.Model)
	}
}

func TestForwardRateLimitFailover(t *testing.T) {
	var first atomic.Bool
	first.Store(true)
	handler := func(w http.ResponseWriter, r *http.Request) {
		if first.CompareAndSwap(true, false) {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_01","model":"claude-sonnet-4-5"}`)
	}
	f := newRelayFixture(t, nil, handler, relayAccount("acc-1"), relayAccount("acc-2"))

	rr := f.forward(`{"model":"claude-sonnet-4-5","messages":[]}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 after failover, body %s", rr.Code, rr.Body.String())
	}
	if got := f.calls.Load(); got != 2 {
		t.Fatalf("upstream called %d times, want 2", got)
	}

	// The retry went through a different account.
	f.mu.Lock()
	distinct := f.tokens[0] != f.tokens[1]
	f.mu.Unlock()
	if !distinct {
		t.Error("retry reused the rate-limited account")
	}

	// Exactly one account is cooling down.
	limited := 0
	for _, s := range f.pool.Snapshot() {
		if s.Status == account.StatusRateLimited {
			limited++
			if remaining := time.Until(s.CooldownUntil); remaining <= 0 || remaining > 7*time.Second {
				t.Errorf("cooldown remaining = %s, want within (0, 7s]", remaining)
			}
		}
	}
	if limited != 1 {
		t.Errorf("rate-limited accounts = %d, want 1", limited)
	}

	// One failed attempt plus one success.
	events := f.drainedEvents(t)
	if len(events) != 2 {
		t.Fatalf("recorded %d usage events, want 2", len(events))
	}
}

func TestForwardAuthFailureFailover(t *testing.T) {
	var first atomic.Bool
	first.Store(true)
	f := newRelayFixture(t, nil, func(w http.ResponseWriter, r *http.Request) {
		if first.CompareAndSwap(true, false) {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid bearer token"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_01"}`)
	}, relayAccount("acc-1"), relayAccount("acc-2"))

	rr := f.forward(`{"model":"claude-sonnet-4-5","messages":[]}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 after failover", rr.Code)
	}

	errored := 0
	for _, s := range f.pool.Snapshot() {
		if s.Status == account.StatusError {
			errored++
		}
	}
	if errored != 1 {
		t.Errorf("errored accounts = %d, want 1", errored)
	}
}

func TestForwardServerErrorFailover(t *testing.T) {
	var first atomic.Bool
	first.Store(true)
	f := newRelayFixture(t, nil, func(w http.ResponseWriter, r *http.Request) {
		if first.CompareAndSwap(true, false) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_01"}`)
	}, relayAccount("acc-1"), relayAccount("acc-2"))

	rr := f.forward(`{"model":"claude-sonnet-4-5","messages":[]}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 after failover", rr.Code)
	}

	// Server errors do not poison account status.
	for _, s := range f.pool.Snapshot() {
		if s.Status != account.StatusNormal {
			t.Errorf("account %s status = %s, want normal", s.ID, s.Status)
		}
	}
}

func TestForwardNonRetryablePassthrough(t *testing.T) {
	upstreamBody := `{"type":"error","error":{"type":"invalid_request_error","message":"max_tokens is required"}}`
	f := newRelayFixture(t, nil, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, upstreamBody)
	}, relayAccount("acc-1"), relayAccount("acc-2"))

	rr := f.forward(`{"model":"claude-sonnet-4-5"}`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 passed through", rr.Code)
	}
	if got := rr.Body.String(); got != upstreamBody {
		t.Errorf("body = %q, want upstream error body unchanged", got)
	}
	if got := f.calls.Load(); got != 1 {
		t.Errorf("upstream called %d times, want 1 (request-shaped errors never retry)", got)
	}
	if got := accountStatus(t, f.pool, "acc-1"); got != account.StatusNormal {
		t.Errorf("acc-1 status = %s, want normal", got)
	}

	events := f.drainedEvents(t)
	if len(events) != 1 || events[0].Success {
		t.Errorf("events = %+v, want one failed event", events)
	}
}

func TestForwardNoAccountAvailable(t *testing.T) {
	f := newRelayFixture(t, nil, func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream called with empty pool")
	})

	rr := f.forward(`{"model":"claude-sonnet-4-5"}`)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
}

func TestForwardAllAccountsCooling(t *testing.T) {
	acc := relayAccount("acc-1")
	acc.Status = account.StatusRateLimited
	acc.CooldownUntil = time.Now().Add(30 * time.Second)
	f := newRelayFixture(t, nil, func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream called while all accounts cooling")
	}, acc)

	rr := f.forward(`{"model":"claude-sonnet-4-5"}`)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing on cooldown response")
	}
}

func TestForwardExhaustedOnRateLimit(t *testing.T) {
	f := newRelayFixture(t, nil, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}, relayAccount("acc-1"))

	rr := f.forward(`{"model":"claude-sonnet-4-5"}`)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 when the only account rate limits", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "5" {
		t.Errorf("Retry-After = %q, want 5", got)
	}
}

func TestForwardBodyTooLarge(t *testing.T) {
	f := newRelayFixture(t, &Config{MaxAttempts: 3, MaxBodyBytes: 16}, func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream called for oversized body")
	}, relayAccount("acc-1"))

	rr := f.forward(`{"model":"claude-sonnet-4-5","messages":[{"role":"user","content":"hi"}]}`)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rr.Code)
	}
	if got := f.calls.Load(); got != 0 {
		t.Errorf("upstream called %d times, want 0", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name   string
		header string
		min    time.Duration
		max    time.Duration
	}{
		{name: "empty", header: "", min: 0, max: 0},
		{name: "seconds", header: "30", min: 30 * time.Second, max: 30 * time.Second},
		{name: "garbage", header: "soon", min: 0, max: 0},
		{
			name:   "http date",
			header: time.Now().Add(time.Minute).UTC().Format(http.TimeFormat),
			min:    50 * time.Second,
			max:    time.Minute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseRetryAfter(tt.header)
			if got < tt.min || got > tt.max {
				t.Errorf("parseRetryAfter(%q) = %s, want within [%s, %s]", tt.header, got, tt.min, tt.max)
			}
		})
	}
}

func TestWantsStream(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{name: "stream true", body: `{"stream":true}`, want: true},
		{name: "stream false", body: `{"stream":false}`, want: false},
		{name: "absent", body: `{"model":"claude-sonnet-4-5"}`, want: false},
		{name: "invalid json", body: `not json`, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := wantsStream([]byte(tt.body)); got != tt.want {
				t.Errorf("wantsStream(%q) = %v, want %v", tt.body, got, tt.want)
			}
		})
	}
}

func TestForwardClientCancelDuringUpstream(t *testing.T) {
	entered := make(chan struct{})
	f := newRelayFixture(t, nil, func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-r.Context().Done()
	}, relayAccount("acc-1"))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-entered
		cancel()
	}()

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"model":"claude-sonnet-4-5"}`))
	req = req.WithContext(ctx)
	rr := httptest.NewRecorder()
	f.forwarder.Forward(rr, req, []account.Platform{account.PlatformClaude})

	// An attempt that reached the upstream still produces its accounting.
	events := f.drainedEvents(t)
	if len(events) != 1 {
		t.Fatalf("recorded %d usage events, want 1", len(events))
	}
	if events[0].Success {
		t.Error("event Success = true, want false after cancellation")
	}
	if events[0].AccountID != "acc-1" {
		t.Errorf("event AccountID = %q, want acc-1", events[0].AccountID)
	}
	if got := f.calls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
}

// abortingWriter drops the client connection after a fixed number of
// body writes, simulating an abort mid-stream.
type abortingWriter struct {
	*httptest.ResponseRecorder
	writes int
	limit  int
}

func (w *abortingWriter) Write(p []byte) (int, error) {
	w.writes++
	if w.writes > w.limit {
		return 0, errors.New("broken pipe")
	}
	return w.ResponseRecorder.Write(p)
}

func TestForwardClientAbortMidStream(t *testing.T) {
	handlerDone := make(chan struct{})
	f := newRelayFixture(t, nil, func(w http.ResponseWriter, r *http.Request) {
		defer close(handlerDone)
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		fmt.Fprint(w, "event: message_start\n")
		fmt.Fprint(w, `data: {"type":"message_start","message":{"model":"claude-sonnet-4-5","usage":{"input_tokens":9}}}`+"\n\n")
		fl.Flush()
		for {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
			if _, err := fmt.Fprint(w, "event: message_delta\ndata: {\"type\":\"message_delta\",\"usage\":{\"output_tokens\":1}}\n\n"); err != nil {
				return
			}
			fl.Flush()
		}
	}, relayAccount("acc-1"))

	// The first three writes carry the message_start block; the next
	// line dies on the client connection.
	w := &abortingWriter{ResponseRecorder: httptest.NewRecorder(), limit: 3}
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"model":"claude-sonnet-4-5","stream":true}`))
	f.forwarder.Forward(w, req, []account.Platform{account.PlatformClaude})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 before the abort", w.Code)
	}

	// Closing the response body cancels the upstream request.
	select {
	case <-handlerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream handler not cancelled after client abort")
	}

	events := f.drainedEvents(t)
	if len(events) != 1 {
		t.Fatalf("recorded %d usage events, want 1", len(events))
	}
	ev := events[0]
	if ev.Success {
		t.Error("event Success = true, want false after abort")
	}
	if ev.InputTokens != 9 {
		t.Errorf("event InputTokens = %d, want the partial count 9", ev.InputTokens)
	}
	if got := f.calls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1 (no retry after abort)", got)
	}
}
