package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/kadaliao/claude-relay-service/pkg/account"
)

func openTestStore(t *testing.T, masterKey string, path string) *Store {
	t.Helper()

	cipher, err := NewCipher(masterKey)
	if err != nil {
		t.Fatalf("NewCipher() error = %v", err)
	}

	cfg := DefaultConfig()
	cfg.Path = path

	st, err := Open(cfg, cipher)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testAccount(id string) account.Account {
	return account.Account{
		ID:       id,
		Platform: account.PlatformClaude,
		Name:     "test-" + id,
		Credential: account.Credential{
			AccessToken:  "at-" + id,
			RefreshToken: "rt-" + id,
			ExpiresAt:    time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		},
		Status:   account.StatusNormal,
		Priority: 1,
	}
}

func TestStorePutGetAccount(t *testing.T) {
	st := openTestStore(t, "master", filepath.Join(t.TempDir(), "accounts.db"))
	ctx := context.Background()

	acc := testAccount("acc-1")
	acc.Proxy = account.ProxyConfig{Scheme: "socks5", Host: "10.0.0.5", Port: 1080}
	if err := st.PutAccount(ctx, acc); err != nil {
		t.Fatalf("PutAccount() error = %v", err)
	}

	got, err := st.GetAccount(ctx, "acc-1")
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if got.Platform != account.PlatformClaude {
		t.Errorf("Platform = %q, want %q", got.Platform, account.PlatformClaude)
	}
	if got.Name != "test-acc-1" {
		t.Errorf("Name = %q, want %q", got.Name, "test-acc-1")
	}
	if got.Proxy.Host != "10.0.0.5" {
		t.Errorf("Proxy.Host = %q, want %q", got.Proxy.Host, "10.0.0.5")
	}

	// Metadata reads never carry credential material.
	if got.Credential.AccessToken != "" || got.Credential.RefreshToken != "" {
		t.Error("GetAccount() returned credential material")
	}
}

func TestStoreGetAccountNotFound(t *testing.T) {
	st := openTestStore(t, "master", filepath.Join(t.TempDir(), "accounts.db"))

	_, err := st.GetAccount(context.Background(), "missing")
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("GetAccount() error = %v, want *NotFoundError", err)
	}
	if notFound.AccountID != "missing" {
		t.Errorf("AccountID = %q, want %q", notFound.AccountID, "missing")
	}
}

func TestStoreCredentialRoundTrip(t *testing.T) {
	st := openTestStore(t, "master", filepath.Join(t.TempDir(), "accounts.db"))
	ctx := context.Background()

	acc := testAccount("acc-1")
	if err := st.PutAccount(ctx, acc); err != nil {
		t.Fatalf("PutAccount() error = %v", err)
	}

	cred, err := st.GetCredential(ctx, "acc-1")
	if err != nil {
		t.Fatalf("GetCredential() error = %v", err)
	}
	if cred.AccessToken != "at-acc-1" {
		t.Errorf("AccessToken = %q, want %q", cred.AccessToken, "at-acc-1")
	}
	if cred.RefreshToken != "rt-acc-1" {
		t.Errorf("RefreshToken = %q, want %q", cred.RefreshToken, "rt-acc-1")
	}
}

func TestStoreUpdateCredential(t *testing.T) {
	st := openTestStore(t, "master", filepath.Join(t.TempDir(), "accounts.db"))
	ctx := context.Background()

	if err := st.PutAccount(ctx, testAccount("acc-1")); err != nil {
		t.Fatalf("PutAccount() error = %v", err)
	}

	refreshedAt := time.Now().UTC().Truncate(time.Second)
	next := account.Credential{
		AccessToken:  "at-new",
		RefreshToken: "rt-new",
		ExpiresAt:    refreshedAt.Add(time.Hour),
	}
	if err := st.UpdateCredential(ctx, "acc-1", next, refreshedAt); err != nil {
		t.Fatalf("UpdateCredential() error = %v", err)
	}

	cred, err := st.GetCredential(ctx, "acc-1")
	if err != nil {
		t.Fatalf("GetCredential() error = %v", err)
	}
	if cred.AccessToken != "at-new" {
		t.Errorf("AccessToken = %q, want %q", cred.AccessToken, "at-new")
	}

	acc, err := st.GetAccount(ctx, "acc-1")
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if !acc.LastRefreshAt.Equal(refreshedAt) {
		t.Errorf("LastRefreshAt = %v, want %v", acc.LastRefreshAt, refreshedAt)
	}

	if err := st.UpdateCredential(ctx, "missing", next, refreshedAt); err == nil {
		t.Error("UpdateCredential() on missing account succeeded")
	}
}

func TestStoreUndecryptableCredential(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.db")
	ctx := context.Background()

	st := openTestStore(t, "original-key", path)
	if err := st.PutAccount(ctx, testAccount("acc-1")); err != nil {
		t.Fatalf("PutAccount() error = %v", err)
	}
	st.Close()

	// Reopen with a different master key: the stored blob must fail
	// decryption with a typed error naming the account.
	reopened := openTestStore(t, "different-key", path)

	_, err := reopened.GetCredential(ctx, "acc-1")
	var encErr *EncryptionError
	if !errors.As(err, &encErr) {
		t.Fatalf("GetCredential() error = %v, want *EncryptionError", err)
	}
	if encErr.AccountID != "acc-1" {
		t.Errorf("EncryptionError.AccountID = %q, want %q", encErr.AccountID, "acc-1")
	}

	// Metadata stays readable even when the credential does not decrypt.
	if _, err := reopened.GetAccount(ctx, "acc-1"); err != nil {
		t.Errorf("GetAccount() error = %v", err)
	}
}

func TestStoreListAccounts(t *testing.T) {
	st := openTestStore(t, "master", filepath.Join(t.TempDir(), "accounts.db"))
	ctx := context.Background()

	claude := testAccount("acc-1")
	console := testAccount("acc-2")
	console.Platform = account.PlatformClaudeConsole
	console.Credential = account.Credential{APIKey: "sk-test"}

	for _, acc := range []account.Account{claude, console} {
		if err := st.PutAccount(ctx, acc); err != nil {
			t.Fatalf("PutAccount(%s) error = %v", acc.ID, err)
		}
	}

	all, err := st.ListAccounts(ctx, "")
	if err != nil {
		t.Fatalf("ListAccounts() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListAccounts() returned %d accounts, want 2", len(all))
	}

	filtered, err := st.ListAccounts(ctx, account.PlatformClaudeConsole)
	if err != nil {
		t.Fatalf("ListAccounts(console) error = %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != "acc-2" {
		t.Errorf("ListAccounts(console) = %v, want just acc-2", filtered)
	}
}

func TestStoreUpdateStatus(t *testing.T) {
	st := openTestStore(t, "master", filepath.Join(t.TempDir(), "accounts.db"))
	ctx := context.Background()

	if err := st.PutAccount(ctx, testAccount("acc-1")); err != nil {
		t.Fatalf("PutAccount() error = %v", err)
	}

	until := time.Now().Add(time.Minute).UTC().Truncate(time.Second)
	if err := st.UpdateStatus(ctx, "acc-1", account.StatusRateLimited, until); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}

	acc, err := st.GetAccount(ctx, "acc-1")
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if acc.Status != account.StatusRateLimited {
		t.Errorf("Status = %q, want %q", acc.Status, account.StatusRateLimited)
	}
	if !acc.CooldownUntil.Equal(until) {
		t.Errorf("CooldownUntil = %v, want %v", acc.CooldownUntil, until)
	}

	// Clearing the status clears the cooldown.
	if err := st.UpdateStatus(ctx, "acc-1", account.StatusNormal, time.Time{}); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	acc, _ = st.GetAccount(ctx, "acc-1")
	if !acc.CooldownUntil.IsZero() {
		t.Errorf("CooldownUntil = %v, want zero", acc.CooldownUntil)
	}
}

func TestStoreDeleteAccount(t *testing.T) {
	st := openTestStore(t, "master", filepath.Join(t.TempDir(), "accounts.db"))
	ctx := context.Background()

	if err := st.PutAccount(ctx, testAccount("acc-1")); err != nil {
		t.Fatalf("PutAccount() error = %v", err)
	}
	if err := st.DeleteAccount(ctx, "acc-1"); err != nil {
		t.Fatalf("DeleteAccount() error = %v", err)
	}

	var notFound *NotFoundError
	if _, err := st.GetAccount(ctx, "acc-1"); !errors.As(err, &notFound) {
		t.Errorf("GetAccount() after delete error = %v, want *NotFoundError", err)
	}
	if err := st.DeleteAccount(ctx, "acc-1"); !errors.As(err, &notFound) {
		t.Errorf("DeleteAccount() twice error = %v, want *NotFoundError", err)
	}
}

func TestStoreUsage(t *testing.T) {
	st := openTestStore(t, "master", filepath.Join(t.TempDir(), "accounts.db"))
	ctx := context.Background()
	now := time.Now().UTC()

	records := []UsageRecord{
		{RequestID: "r1", AccountID: "acc-1", Platform: account.PlatformClaude, Model: "claude-sonnet-4", InputTokens: 100, OutputTokens: 50, Success: true, Timestamp: now},
		{RequestID: "r2", AccountID: "acc-1", Platform: account.PlatformClaude, Model: "claude-sonnet-4", InputTokens: 10, OutputTokens: 5, CacheReadTokens: 80, Success: true, Timestamp: now},
		{RequestID: "r3", AccountID: "acc-2", Platform: account.PlatformOpenAI, InputTokens: 7, OutputTokens: 3, Success: false, Timestamp: now.Add(-48 * time.Hour)},
	}
	for _, rec := range records {
		if err := st.InsertUsage(ctx, rec); err != nil {
			t.Fatalf("InsertUsage(%s) error = %v", rec.RequestID, err)
		}
	}

	totals, err := st.UsageByAccount(ctx, time.Time{})
	if err != nil {
		t.Fatalf("UsageByAccount() error = %v", err)
	}
	if len(totals) != 2 {
		t.Fatalf("UsageByAccount() returned %d rows, want 2", len(totals))
	}
	if totals[0].AccountID != "acc-1" || totals[0].Requests != 2 {
		t.Errorf("totals[0] = %+v, want acc-1 with 2 requests", totals[0])
	}
	if totals[0].InputTokens != 110 || totals[0].OutputTokens != 55 || totals[0].CacheReadTokens != 80 {
		t.Errorf("totals[0] token sums = %+v", totals[0])
	}

	// Purge the old row only.
	n, err := st.PurgeUsageBefore(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeUsageBefore() error = %v", err)
	}
	if n != 1 {
		t.Errorf("PurgeUsageBefore() deleted %d rows, want 1", n)
	}

	totals, err = st.UsageByAccount(ctx, time.Time{})
	if err != nil {
		t.Fatalf("UsageByAccount() error = %v", err)
	}
	if len(totals) != 1 {
		t.Errorf("after purge %d accounts remain, want 1", len(totals))
	}
}
