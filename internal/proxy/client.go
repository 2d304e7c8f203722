package proxy

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

const (
	connectTimeout  = 10 * time.Second
	idleConnTimeout = 90 * time.Second
	maxIdlePerHost  = 10
)

type clientKey struct {
	sslVerify bool
	timeout   time.Duration
}

// ClientFactory hands out one pooled HTTP client per unique
// (ssl_verify, timeout) tuple; routes sharing a tuple share the client and
// its connection pool. The total timeout is enforced as a response-header
// deadline so a streaming body is never cut off by it; body reads are
// bounded separately by the forwarder's idle read timeout.
type ClientFactory struct {
	clients map[clientKey]*http.Client
}

// NewClientFactory creates an empty factory. Get is called only during
// router construction, before any request traffic, so no locking is needed.
func NewClientFactory() *ClientFactory {
	return &ClientFactory{clients: make(map[clientKey]*http.Client)}
}

// Get returns the shared client for the tuple, building it on first use.
func (f *ClientFactory) Get(sslVerify bool, timeout time.Duration) *http.Client {
	key := clientKey{sslVerify: sslVerify, timeout: timeout}
	if c, ok := f.clients[key]; ok {
		return c
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: !sslVerify,
		},
		TLSHandshakeTimeout:   connectTimeout,
		MaxIdleConnsPerHost:   maxIdlePerHost,
		IdleConnTimeout:       idleConnTimeout,
		ResponseHeaderTimeout: timeout,
		ForceAttemptHTTP2:     true,
	}

	c := &http.Client{Transport: transport}
	f.clients[key] = c
	return c
}
