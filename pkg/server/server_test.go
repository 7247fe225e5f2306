package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kadaliao/claude-relay-service/pkg/account"
	"github.com/kadaliao/claude-relay-service/pkg/config"
	"github.com/kadaliao/claude-relay-service/pkg/scheduler"
	"github.com/kadaliao/claude-relay-service/pkg/scheduler/strategies"
	"github.com/kadaliao/claude-relay-service/pkg/store"
)

func newTestServer(t *testing.T, accounts ...account.Account) (*Server, *store.Store) {
	t.Helper()

	cipher, err := store.NewCipher("server-test-master-key")
	if err != nil {
		t.Fatalf("NewCipher() error = %v", err)
	}
	st, err := store.Open(&store.Config{
		Path:        filepath.Join(t.TempDir(), "server.db"),
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

	cfg := config.Default()
	srv := NewServer(&cfg.Server, &cfg.Telemetry.Metrics, nil, pool, st, nil)
	return srv, st
}

func serverAccount(id string, status account.Status) account.Account {
	return account.Account{
		ID:       id,
		Platform: account.PlatformClaude,
		Name:     "account " + id,
		Status:   status,
		Credential: account.Credential{
			AccessToken:  "tok-" + id,
			RefreshToken: "refresh-" + id,
			ExpiresAt:    time.Now().Add(time.Hour),
		},
	}
}

func doRequest(t *testing.T, srv *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t,
		serverAccount("acc-1", account.StatusNormal),
		serverAccount("acc-2", account.StatusError),
	)

	rr := doRequest(t, srv, http.MethodGet, "/healthz")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var body struct {
		Status    string `json:"status"`
		Accounts  int    `json:"accounts"`
		Available int    `json:"accounts_available"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Status != "ok" || body.Accounts != 2 || body.Available != 1 {
		t.Errorf("body = %+v, want ok/2/1", body)
	}
}

func TestHealthzEmptyPool(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doRequest(t, srv, http.MethodGet, "/healthz")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for empty pool", rr.Code)
	}
}

func TestAdminListAccounts(t *testing.T) {
	srv, _ := newTestServer(t, serverAccount("acc-1", account.StatusNormal))

	rr := doRequest(t, srv, http.MethodGet, "/admin/accounts")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var states []scheduler.AccountState
	if err := json.Unmarshal(rr.Body.Bytes(), &states); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(states) != 1 || states[0].ID != "acc-1" {
		t.Errorf("states = %+v, want one entry for acc-1", states)
	}

	// Credential material never leaks through the admin surface.
	for _, field := range []string{"tok-acc-1", "refresh-acc-1", "access_token", "api_key"} {
		if strings.Contains(rr.Body.String(), field) {
			t.Errorf("admin response contains %q", field)
		}
	}
}

func TestAdminPauseResume(t *testing.T) {
	srv, st := newTestServer(t, serverAccount("acc-1", account.StatusNormal))
	ctx := context.Background()

	rr := doRequest(t, srv, http.MethodPost, "/admin/accounts/acc-1/pause")
	if rr.Code != http.StatusOK {
		t.Fatalf("pause status = %d, want 200", rr.Code)
	}

	acc, err := st.GetAccount(ctx, "acc-1")
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if acc.Status != account.StatusPaused {
		t.Errorf("status after pause = %s, want paused", acc.Status)
	}

	rr = doRequest(t, srv, http.MethodPost, "/admin/accounts/acc-1/resume")
	if rr.Code != http.StatusOK {
		t.Fatalf("resume status = %d, want 200", rr.Code)
	}

	acc, err = st.GetAccount(ctx, "acc-1")
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if acc.Status != account.StatusNormal {
		t.Errorf("status after resume = %s, want normal", acc.Status)
	}
}

func TestAdminPauseUnknownAccount(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doRequest(t, srv, http.MethodPost, "/admin/accounts/ghost/pause")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestAdminUsage(t *testing.T) {
	srv, st := newTestServer(t, serverAccount("acc-1", account.StatusNormal))
	ctx := context.Background()

	err := st.InsertUsage(ctx, store.UsageRecord{
		RequestID:    "r1",
		AccountID:    "acc-1",
		Platform:     account.PlatformClaude,
		Model:        "claude-sonnet-4-5",
		InputTokens:  10,
		OutputTokens: 20,
		Success:      true,
		Timestamp:    time.Now(),
	})
	if err != nil {
		t.Fatalf("InsertUsage() error = %v", err)
	}

	rr := doRequest(t, srv, http.MethodGet, "/admin/usage")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var totals []store.UsageTotals
	if err := json.Unmarshal(rr.Body.Bytes(), &totals); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(totals) != 1 || totals[0].AccountID != "acc-1" || totals[0].InputTokens != 10 {
		t.Errorf("totals = %+v, want one row for acc-1", totals)
	}
}

func TestAdminUsageEmpty(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doRequest(t, srv, http.MethodGet, "/admin/usage")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if got := rr.Body.String(); got != "[]\n" {
		t.Errorf("body = %q, want empty JSON array", got)
	}
}

func TestAdminUsageBadSince(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doRequest(t, srv, http.MethodGet, "/admin/usage?since=yesterday")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}
