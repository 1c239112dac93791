package nethttp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmorandi/stubborn/internal/fetch"
)

func TestAttemptReturnsStatusHeadersBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Probe", "yes")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))
	defer srv.Close()

	tr := New(Config{})
	resp, err := tr.Attempt(context.Background(), srv.URL, nil, "", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, resp.StatusCode, "non-2xx statuses are data, not errors")
	assert.Equal(t, "yes", resp.Headers.Get("X-Probe"))
	assert.Equal(t, []byte("short and stout"), resp.Body)
}

func TestAttemptSendsHeaders(t *testing.T) {
	t.Parallel()

	var gotUA, gotLang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotLang = r.Header.Get("Accept-Language")
	}))
	defer srv.Close()

	tr := New(Config{})
	headers := http.Header{}
	headers.Set("User-Agent", "stubborn-test/1.0")
	headers.Set("Accept-Language", "en-US")
	_, err := tr.Attempt(context.Background(), srv.URL, headers, "", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "stubborn-test/1.0", gotUA)
	assert.Equal(t, "en-US", gotLang)
}

func TestAttemptTimeoutClassified(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	tr := New(Config{})
	_, err := tr.Attempt(context.Background(), srv.URL, nil, "", 100*time.Millisecond)
	require.Error(t, err)

	var terr *fetch.TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, fetch.TransportTimeout, terr.Kind)
}

func TestAttemptConnectFailureClassified(t *testing.T) {
	t.Parallel()

	tr := New(Config{})
	_, err := tr.Attempt(context.Background(), "http://127.0.0.1:1", nil, "", time.Second)
	require.Error(t, err)

	var terr *fetch.TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, fetch.TransportConnect, terr.Kind)
}

func TestAttemptBodyCapped(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 4096))
	}))
	defer srv.Close()

	tr := New(Config{MaxBodyBytes: 1024})
	resp, err := tr.Attempt(context.Background(), srv.URL, nil, "", 5*time.Second)
	require.NoError(t, err)
	assert.Len(t, resp.Body, 1024)
}

func TestAttemptCancellation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	tr := New(Config{})
	start := time.Now()
	_, err := tr.Attempt(ctx, srv.URL, nil, "", time.Minute)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second, "cancel must abort the in-flight attempt")
}

func TestClientReusedPerProxy(t *testing.T) {
	t.Parallel()

	tr := New(Config{})
	c1, err := tr.client("")
	require.NoError(t, err)
	c2, err := tr.client("")
	require.NoError(t, err)
	assert.Same(t, c1, c2)

	c3, err := tr.client("http://proxy:8080")
	require.NoError(t, err)
	assert.NotSame(t, c1, c3)

	_, err = tr.client("://bad proxy")
	assert.Error(t, err)
}
