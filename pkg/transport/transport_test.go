package transport

import (
	"net/http"
	"testing"

	"github.com/kadaliao/claude-relay-service/pkg/account"
)

func httpProxy(host string) account.ProxyConfig {
	return account.ProxyConfig{Scheme: "http", Host: host, Port: 8080}
}

func TestClientForCachesByAccount(t *testing.T) {
	pool := NewPool(nil)
	defer pool.Close()

	acc := &account.Account{ID: "acc-1"}

	first, err := pool.ClientFor(acc)
	if err != nil {
		t.Fatalf("ClientFor() error = %v", err)
	}
	second, err := pool.ClientFor(acc)
	if err != nil {
		t.Fatalf("ClientFor() error = %v", err)
	}
	if first != second {
		t.Error("ClientFor() returned distinct clients for unchanged proxy")
	}
}

func TestClientForRebuildsOnProxyChange(t *testing.T) {
	pool := NewPool(nil)
	defer pool.Close()

	acc := &account.Account{ID: "acc-1", Proxy: httpProxy("proxy-a.internal")}

	first, err := pool.ClientFor(acc)
	if err != nil {
		t.Fatalf("ClientFor() error = %v", err)
	}

	acc.Proxy = httpProxy("proxy-b.internal")
	second, err := pool.ClientFor(acc)
	if err != nil {
		t.Fatalf("ClientFor() after proxy change error = %v", err)
	}
	if first == second {
		t.Error("ClientFor() reused cached client across a proxy change")
	}
}

func TestClientForIsolatesAccounts(t *testing.T) {
	pool := NewPool(nil)
	defer pool.Close()

	first, err := pool.ClientFor(&account.Account{ID: "acc-1"})
	if err != nil {
		t.Fatalf("ClientFor(acc-1) error = %v", err)
	}
	second, err := pool.ClientFor(&account.Account{ID: "acc-2"})
	if err != nil {
		t.Fatalf("ClientFor(acc-2) error = %v", err)
	}
	if first == second {
		t.Error("ClientFor() shared one client across accounts")
	}
}

func TestClientForProxyWiring(t *testing.T) {
	tests := []struct {
		name    string
		proxy   account.ProxyConfig
		wantErr bool
	}{
		{name: "direct", proxy: account.ProxyConfig{}},
		{name: "http proxy", proxy: httpProxy("proxy.internal")},
		{name: "socks5 proxy", proxy: account.ProxyConfig{Scheme: "socks5", Host: "proxy.internal", Port: 1080}},
		{
			name:  "socks5 with auth",
			proxy: account.ProxyConfig{Scheme: "socks5", Host: "proxy.internal", Port: 1080, Username: "u", Password: "p"},
		},
		{name: "unsupported scheme", proxy: account.ProxyConfig{Scheme: "ftp", Host: "proxy.internal", Port: 21}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := NewPool(nil)
			defer pool.Close()

			client, err := pool.ClientFor(&account.Account{ID: "acc-1", Proxy: tt.proxy})
			if tt.wantErr {
				if err == nil {
					t.Fatal("ClientFor() succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ClientFor() error = %v", err)
			}

			tr, ok := client.Transport.(*http.Transport)
			if !ok {
				t.Fatalf("transport type = %T, want *http.Transport", client.Transport)
			}
			switch tt.proxy.Scheme {
			case "http", "https":
				if tr.Proxy == nil {
					t.Error("http proxy not wired into transport")
				}
			case "socks5":
				if tr.DialContext == nil {
					t.Error("socks5 dialer not wired into transport")
				}
			default:
				if tr.Proxy != nil {
					t.Error("direct transport has a proxy set")
				}
			}
		})
	}
}

func TestInvalidate(t *testing.T) {
	pool := NewPool(nil)
	defer pool.Close()

	acc := &account.Account{ID: "acc-1"}
	first, err := pool.ClientFor(acc)
	if err != nil {
		t.Fatalf("ClientFor() error = %v", err)
	}

	pool.Invalidate(acc.ID)

	second, err := pool.ClientFor(acc)
	if err != nil {
		t.Fatalf("ClientFor() after Invalidate error = %v", err)
	}
	if first == second {
		t.Error("ClientFor() returned the invalidated client")
	}
}

func TestFingerprint(t *testing.T) {
	tests := []struct {
		name  string
		proxy account.ProxyConfig
		want  string
	}{
		{name: "direct", proxy: account.ProxyConfig{}, want: "direct"},
		{
			name:  "http",
			proxy: httpProxy("proxy.internal"),
			want:  "http://@proxy.internal:8080",
		},
		{
			name:  "socks5 with user",
			proxy: account.ProxyConfig{Scheme: "socks5", Host: "proxy.internal", Port: 1080, Username: "relay"},
			want:  "socks5://relay@proxy.internal:1080",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.proxy.Fingerprint(); got != tt.want {
				t.Errorf("Fingerprint() = %q, want %q", got, tt.want)
			}
		})
	}
}
