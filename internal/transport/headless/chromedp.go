// Package headless implements the fetch.Transport contract with a headless
// Chrome browser driven by chromedp.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/tmorandi/stubborn/internal/fetch"
)

// Config controls the headless transport.
type Config struct {
	// MaxParallel bounds concurrent browser tabs. Zero means unbounded.
	MaxParallel int
}

// Transport navigates with a shared browser allocator; each attempt gets its
// own tab context. A proxy requires its own allocator because Chrome fixes
// the proxy server at process start, so allocators are cached per proxy.
type Transport struct {
	cfg     Config
	limiter chan struct{}

	mu         sync.Mutex
	allocators map[string]allocEntry
}

type allocEntry struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a headless Transport.
func New(cfg Config) (*Transport, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	return &Transport{
		cfg:        cfg,
		limiter:    limiter,
		allocators: make(map[string]allocEntry),
	}, nil
}

// Close cancels all browser allocators.
func (t *Transport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for proxy, entry := range t.allocators {
		entry.cancel()
		delete(t.allocators, proxy)
	}
}

// Attempt navigates to the URL in a fresh tab and returns the rendered DOM
// with the document response's status and headers.
func (t *Transport) Attempt(ctx context.Context, rawURL string, headers http.Header, proxy string, timeout time.Duration) (fetch.Response, error) {
	if err := t.acquire(ctx); err != nil {
		return fetch.Response{}, &fetch.TransportError{Kind: fetch.TransportTimeout, Message: err.Error()}
	}
	defer t.release()

	taskCtx, taskCancel := chromedp.NewContext(t.allocator(proxy))
	defer taskCancel()

	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	taskCtx, cancel := context.WithTimeout(taskCtx, timeout)
	defer cancel()

	// Tie the tab's lifetime to the caller's context as well.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	var html string
	actions := []chromedp.Action{
		networkSetupAction(headers),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		kind := fetch.TransportConnect
		if taskCtx.Err() != nil {
			kind = fetch.TransportTimeout
		}
		return fetch.Response{}, &fetch.TransportError{Kind: kind, Message: fmt.Sprintf("chromedp run: %v", err)}
	}

	status, respHeaders := meta.snapshot()
	if status == 0 {
		status = http.StatusOK
	}
	if respHeaders == nil {
		respHeaders = http.Header{}
	}
	return fetch.Response{
		StatusCode: status,
		Headers:    respHeaders,
		Body:       []byte(html),
	}, nil
}

func (t *Transport) allocator(proxy string) context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.allocators[proxy]; ok {
		return entry.ctx
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if proxy != "" {
		opts = append(opts, chromedp.ProxyServer(proxy))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	t.allocators[proxy] = allocEntry{ctx: allocCtx, cancel: allocCancel}
	return allocCtx
}

func (t *Transport) acquire(ctx context.Context) error {
	if t.limiter == nil {
		return nil
	}
	select {
	case t.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (t *Transport) release() {
	if t.limiter == nil {
		return
	}
	select {
	case <-t.limiter:
	default:
	}
}

func networkSetupAction(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if ua := headers.Get("User-Agent"); ua != "" {
			if err := emulation.SetUserAgentOverride(ua).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// responseMeta captures the document response's status and headers from CDP
// network events.
type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: http.Header{}}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok {
		return
	}
	if resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range resp.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []interface{}:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.headers = headers
	m.mu.Unlock()
}

func (m *responseMeta) snapshot() (int, http.Header) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.headers.Clone()
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
