package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	xproxy "golang.org/x/net/proxy"

	"github.com/kadaliao/claude-relay-service/pkg/account"
)

// Config contains connection pooling settings shared by all clients.
type Config struct {
	// Timeout is the overall request timeout. Zero means no client-level
	// timeout (streaming relays rely on context cancellation instead).
	Timeout time.Duration

	// MaxIdleConns is the total idle connection cap per client.
	MaxIdleConns int

	// MaxIdleConnsPerHost is the per-host idle connection cap.
	MaxIdleConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept pooled.
	IdleConnTimeout time.Duration
}

// DefaultConfig returns the default transport configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
}

// Pool caches one *http.Client per (account, proxy configuration) pair.
//
// A cache entry is keyed by account id and remembers the proxy fingerprint
// it was built for; when an account's proxy configuration changes, the
// stale client is closed and a new one is built.
type Pool struct {
	config *Config
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*entry
}

// entry is one cached client together with the fingerprint it was built for.
type entry struct {
	fingerprint string
	client      *http.Client
}

// NewPool creates a transport pool.
func NewPool(config *Config) *Pool {
	if config == nil {
		config = DefaultConfig()
	}
	return &Pool{
		config:  config,
		logger:  slog.Default().With("component", "transport"),
		clients: make(map[string]*entry),
	}
}

// ClientFor returns the pooled client for an account, building or
// rebuilding it when the account's proxy configuration changed.
func (p *Pool) ClientFor(acc *account.Account) (*http.Client, error) {
	fingerprint := acc.Proxy.Fingerprint()

	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.clients[acc.ID]; ok {
		if e.fingerprint == fingerprint {
			return e.client, nil
		}
		// Proxy changed: drop pooled connections on the stale client.
		e.client.CloseIdleConnections()
		p.logger.Info("rebuilding client after proxy change",
			"account_id", acc.ID,
			"proxy", fingerprint,
		)
	}

	client, err := p.build(acc.Proxy)
	if err != nil {
		return nil, err
	}

	p.clients[acc.ID] = &entry{fingerprint: fingerprint, client: client}
	return client, nil
}

// Invalidate drops the cached client for an account.
func (p *Pool) Invalidate(accountID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.clients[accountID]; ok {
		e.client.CloseIdleConnections()
		delete(p.clients, accountID)
	}
}

// Close drops all cached clients and their pooled connections.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, e := range p.clients {
		e.client.CloseIdleConnections()
		delete(p.clients, id)
	}
}

// build constructs a client for one proxy configuration.
func (p *Pool) build(proxyCfg account.ProxyConfig) (*http.Client, error) {
	tr := &http.Transport{
		MaxIdleConns:        p.config.MaxIdleConns,
		MaxIdleConnsPerHost: p.config.MaxIdleConnsPerHost,
		IdleConnTimeout:     p.config.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}

	if proxyCfg.Enabled() {
		switch proxyCfg.Scheme {
		case "http", "https":
			tr.Proxy = http.ProxyURL(proxyCfg.URL())

		case "socks5":
			dialContext, err := socks5DialContext(proxyCfg)
			if err != nil {
				return nil, err
			}
			tr.DialContext = dialContext

		default:
			return nil, fmt.Errorf("unsupported proxy scheme %q", proxyCfg.Scheme)
		}
	}

	return &http.Client{
		Transport: tr,
		Timeout:   p.config.Timeout,
	}, nil
}

// socks5DialContext returns a DialContext routed through a SOCKS5 proxy
// with optional basic authentication.
func socks5DialContext(proxyCfg account.ProxyConfig) (func(ctx context.Context, network, addr string) (net.Conn, error), error) {
	var auth *xproxy.Auth
	if proxyCfg.Username != "" {
		auth = &xproxy.Auth{
			User:     proxyCfg.Username,
			Password: proxyCfg.Password,
		}
	}

	addr := fmt.Sprintf("%s:%d", proxyCfg.Host, proxyCfg.Port)
	dialer, err := xproxy.SOCKS5("tcp", addr, auth, xproxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create socks5 dialer: %w", err)
	}

	if cd, ok := dialer.(xproxy.ContextDialer); ok {
		return cd.DialContext, nil
	}

	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return dialer.Dial(network, addr)
	}, nil
}
