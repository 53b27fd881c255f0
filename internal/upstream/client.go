// Package upstream wraps the single HTTP client configuration and the
// three-endpoint fallback dance used to reach the upstream Cloud Code
// service (C5).
package upstream

import (
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const (
	connectTimeout  = 20 * time.Second
	totalTimeout    = 10 * time.Minute
	maxIdlePerHost  = 16
	idleConnTimeout = 90 * time.Second
	tcpKeepAlive    = 60 * time.Second

	DefaultUserAgent = "antigravity-proxy-go/1.0.0"
)

// Endpoint base URLs, tried in order: Sandbox, Daily, Prod.
var Endpoints = []string{
	"https://autopush-cloudcode-pa.sandbox.googleapis.com",
	"https://daily-cloudcode-pa.googleapis.com",
	"https://cloudcode-pa.googleapis.com",
}

// NewHTTPClient builds an *http.Client tuned per spec §4.5, optionally
// routed through proxyURL (empty means no proxy).
func NewHTTPClient(proxyURL string) (*http.Client, error) {
	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: tcpKeepAlive,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConnsPerHost: maxIdlePerHost,
		IdleConnTimeout:     idleConnTimeout,
	}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, err
		}
		transport.Proxy = http.ProxyURL(u)
	}
	return &http.Client{
		Transport: transport,
		Timeout:   totalTimeout,
	}, nil
}

// ClientCache caches one *http.Client per proxy-entry-id so accounts that
// share an outbound proxy binding share a connection pool, and accounts
// with no proxy share the zero-value cache entry.
type ClientCache struct {
	mu      sync.RWMutex
	clients map[string]*http.Client
}

func NewClientCache() *ClientCache {
	return &ClientCache{clients: make(map[string]*http.Client)}
}

// Get returns the cached client for proxyEntryID/proxyURL, constructing and
// caching one on first use.
func (c *ClientCache) Get(proxyEntryID, proxyURL string) (*http.Client, error) {
	key := proxyEntryID
	if key == "" {
		key = "__default__"
	}

	c.mu.RLock()
	client, ok := c.clients[key]
	c.mu.RUnlock()
	if ok {
		return client, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[key]; ok {
		return client, nil
	}
	client, err := NewHTTPClient(proxyURL)
	if err != nil {
		return nil, err
	}
	c.clients[key] = client
	return client, nil
}

// Drop evicts a cached client, e.g. when an account's proxy binding changes.
func (c *ClientCache) Drop(proxyEntryID string) {
	key := proxyEntryID
	if key == "" {
		key = "__default__"
	}
	c.mu.Lock()
	delete(c.clients, key)
	c.mu.Unlock()
}
