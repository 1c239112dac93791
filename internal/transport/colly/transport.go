// Package colly implements the fetch.Transport contract with a gocolly
// collector per attempt.
package colly

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/tmorandi/stubborn/internal/fetch"
)

// Config controls collector behavior.
type Config struct {
	// MaxBodyBytes caps response body reads. Defaults to 10 MiB.
	MaxBodyBytes int
}

// Transport issues single attempts through cloned colly collectors. The
// base collector carries the settings shared by every attempt; each attempt
// clones it so per-attempt proxy and header state never leaks.
type Transport struct {
	cfg  Config
	base *colly.Collector
}

// New builds a Transport.
func New(cfg Config) *Transport {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	c.MaxBodySize = cfg.MaxBodyBytes
	return &Transport{cfg: cfg, base: c}
}

// Attempt performs one GET via a cloned collector.
func (t *Transport) Attempt(ctx context.Context, rawURL string, headers http.Header, proxy string, timeout time.Duration) (fetch.Response, error) {
	collector := t.base.Clone()
	collector.IgnoreRobotsTxt = true
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	collector.MaxBodySize = t.cfg.MaxBodyBytes
	if timeout > 0 {
		collector.SetRequestTimeout(timeout)
	}

	inner := &http.Transport{}
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return fetch.Response{}, &fetch.TransportError{
				Kind:    fetch.TransportConnect,
				Message: fmt.Sprintf("parse proxy %q: %v", proxy, err),
			}
		}
		inner.Proxy = http.ProxyURL(proxyURL)
	}
	collector.WithTransport(&contextTransport{ctx: ctx, base: inner})

	collector.OnRequest(func(r *colly.Request) {
		for k, vs := range headers {
			for i, v := range vs {
				if i == 0 {
					r.Headers.Set(k, v)
				} else {
					r.Headers.Add(k, v)
				}
			}
		}
	})

	var (
		result   fetch.Response
		captured bool
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		result = fetch.Response{
			StatusCode: r.StatusCode,
			Headers:    cloneHeaders(r.Headers),
			Body:       append([]byte(nil), r.Body...),
		}
		captured = true
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			result = fetch.Response{
				StatusCode: r.StatusCode,
				Headers:    cloneHeaders(r.Headers),
				Body:       append([]byte(nil), r.Body...),
			}
			captured = true
			return
		}
		fetchErr = err
	})

	visitErr := collector.Visit(rawURL)
	collector.Wait()

	if captured {
		return result, nil
	}
	if fetchErr == nil {
		fetchErr = visitErr
	}
	if fetchErr == nil {
		fetchErr = errors.New("no response captured")
	}
	return fetch.Response{}, classifyError(ctx, fetchErr)
}

// contextTransport threads the attempt context into colly's requests so a
// canceled fetch aborts the wire call.
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.WithContext(t.ctx))
}

func cloneHeaders(h *http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}

func classifyError(ctx context.Context, err error) *fetch.TransportError {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		ctx.Err() != nil,
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
