package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/hnarchiver/internal/crawler"
)

func TestFetchReturnsBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "archiver-test", r.UserAgent())
		assert.Equal(t, "yes", r.Header.Get("X-Trace"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[1,2,3]`))
	}))
	t.Cleanup(server.Close)

	f := New(Config{UserAgent: "archiver-test", Timeout: time.Second, MaxConnsPerHost: 3})
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{
		URL:     server.URL + "/v0/topstories.json",
		Headers: http.Header{"X-Trace": {"yes"}},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []byte(`[1,2,3]`), resp.Body)
	assert.Equal(t, "application/json", resp.Headers.Get("Content-Type"))
}

func TestFetchRevisitsSameURL(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(server.Close)

	f := New(Config{Timeout: time.Second})
	for range 3 {
		_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: server.URL})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchNon2xxIsError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	f := New(Config{Timeout: time.Second})
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: server.URL + "/missing"})
	require.Error(t, err)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "gone\n", string(resp.Body))
}

func TestFetchKeepsBytesAsServed(t *testing.T) {
	t.Parallel()

	latin1 := []byte("caf\xe9")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		_, _ = w.Write(latin1)
	}))
	t.Cleanup(server.Close)

	f := New(Config{Timeout: time.Second})
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, latin1, resp.Body)
	assert.Equal(t, "text/html; charset=iso-8859-1", resp.Headers.Get("Content-Type"))
}

func TestFetchBodyLimit(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		size := 8
		if r.URL.Path == "/big" {
			size = 9
		}
		_, _ = w.Write(bytes.Repeat([]byte("x"), size))
	}))
	t.Cleanup(server.Close)

	f := New(Config{Timeout: time.Second, MaxBodyBytes: 8})

	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: server.URL + "/fits"})
	require.NoError(t, err)
	assert.Len(t, resp.Body, 8)

	resp, err = f.Fetch(context.Background(), crawler.FetchRequest{URL: server.URL + "/big"})
	require.ErrorIs(t, err, ErrBodyTooLarge)
	assert.Empty(t, resp.Body)
}

func TestFetchTimesOut(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	f := New(Config{Timeout: 50 * time.Millisecond})
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: server.URL})
	assert.Error(t, err)
}

func TestFetchHonoursContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := New(Config{Timeout: 5 * time.Second})
	_, err := f.Fetch(ctx, crawler.FetchRequest{URL: server.URL})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := crawler.FetchRequest{
		URL:     "https://example.com",
		Headers: http.Header{"X-Trace": {"yes"}},
	}
	var result crawler.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponseHeaders)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	assert.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	served := &http.Header{"X-Resp": {"ok"}, "Content-Type": {"text/html; charset=iso-8859-1"}}
	hooks.onResponseHeaders(&colly.Response{StatusCode: http.StatusOK, Headers: served})
	assert.Empty(t, served.Get("Content-Type"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Headers:    served,
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	require.NoError(t, fetchErr)
	assert.Equal(t, "body", string(result.Body))
	assert.Equal(t, "ok", result.Headers.Get("X-Resp"))
	assert.Equal(t, "text/html; charset=iso-8859-1", result.Headers.Get("Content-Type"))

	hooks.onError(nil, errors.New("boom"))
	assert.EqualError(t, fetchErr, "boom")

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("Bad Gateway"))
	var statusErr *StatusError
	require.ErrorAs(t, fetchErr, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
}

func TestCopyHeadersHandlesNil(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	collyReq := &colly.Request{Headers: &http.Header{}}
	f.copyHeaders(crawler.FetchRequest{}, collyReq)
	assert.Empty(t, *collyReq.Headers)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest         colly.RequestCallback
	onResponseHeaders colly.ResponseHeadersCallback
	onResponse        colly.ResponseCallback
	onError           colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponseHeaders(cb colly.ResponseHeadersCallback) {
	s.onResponseHeaders = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
