// Package nethttp implements the fetch.Transport contract with the standard
// net/http client, one pooled client per proxy.
package nethttp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tmorandi/stubborn/internal/fetch"
)

// defaultMaxBodyBytes caps how much of a response body one attempt reads.
const defaultMaxBodyBytes = 10 << 20

// Config controls the transport.
type Config struct {
	// MaxBodyBytes caps response body reads. Defaults to 10 MiB.
	MaxBodyBytes int64
	// FollowRedirects enables redirect chasing (default true via zero
	// value of DisableRedirects).
	DisableRedirects bool
}

// Transport issues single HTTP attempts. Clients are cached per proxy so
// connection pools survive across attempts through the same identity.
type Transport struct {
	cfg     Config
	mu      sync.Mutex
	clients map[string]*http.Client
}

// New builds a Transport.
func New(cfg Config) *Transport {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Transport{
		cfg:     cfg,
		clients: make(map[string]*http.Client),
	}
}

// Attempt performs one GET through the given proxy (or directly when proxy
// is empty). It returns a *fetch.TransportError for failures where no HTTP
// response was obtained.
func (t *Transport) Attempt(ctx context.Context, rawURL string, headers http.Header, proxy string, timeout time.Duration) (fetch.Response, error) {
	client, err := t.client(proxy)
	if err != nil {
		return fetch.Response{}, &fetch.TransportError{Kind: fetch.TransportConnect, Message: err.Error()}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fetch.Response{}, &fetch.TransportError{Kind: fetch.TransportConnect, Message: fmt.Sprintf("build request: %v", err)}
	}
	for k, vs := range headers {
		req.Header[k] = append([]string(nil), vs...)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fetch.Response{}, classifyError(err)
	}
	defer resp.Body.Close() //nolint:errcheck // read side already handled

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.cfg.MaxBodyBytes))
	if err != nil {
		return fetch.Response{}, classifyError(err)
	}

	return fetch.Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Body:       body,
	}, nil
}

func (t *Transport) client(proxy string) (*http.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.clients[proxy]; ok {
		return c, nil
	}

	inner := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy %q: %w", proxy, err)
		}
		inner.Proxy = http.ProxyURL(proxyURL)
	}

	client := &http.Client{Transport: inner}
	if t.cfg.DisableRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	t.clients[proxy] = client
	return client, nil
}

// classifyError maps wire failures onto the transport error taxonomy.
func classifyError(err error) *fetch.TransportError {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return &fetch.TransportError{Kind: fetch.TransportTimeout, Message: err.Error()}
	case isTLSError(err):
		return &fetch.TransportError{Kind: fetch.TransportTLS, Message: err.Error()}
	default:
		return &fetch.TransportError{Kind: fetch.TransportConnect, Message: err.Error()}
	}
}

func isTLSError(err error) bool {
	var (
		recordErr tls.RecordHeaderError
		certErr   *tls.CertificateVerificationError
	)
	if errors.As(err, &recordErr) || errors.As(err, &certErr) {
		return true
	}
	return strings.Contains(err.Error(), "tls:") || strings.Contains(err.Error(), "x509:")
}
