package collyfetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/urlfetch/internal/pipeline"
)

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"a":1}`))
	})
	mux.HandleFunc("/html", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title>Example</title></head><body></body></html>`))
	})
	mux.HandleFunc("/untitled", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><p>hi</p></body></html>`))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`<title>Not Found</title>`))
	})
	mux.HandleFunc("/plain", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hello"))
	})
	mux.HandleFunc("/broken-json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"a":`))
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetcherClassifiesResponses(t *testing.T) {
	t.Parallel()

	srv := newUpstream(t)
	f := New(Config{UserAgent: "urlfetch-test", Timeout: time.Second})

	testCases := []struct {
		path       string
		wantStatus pipeline.Status
		wantKind   pipeline.Kind
		wantCode   int
	}{
		{"/json", pipeline.StatusSuccess, pipeline.KindJSON, http.StatusOK},
		{"/html", pipeline.StatusSuccess, pipeline.KindHTML, http.StatusOK},
		{"/untitled", pipeline.StatusSuccess, pipeline.KindHTML, http.StatusOK},
		{"/missing", pipeline.StatusSkipped, "", http.StatusNotFound},
		{"/plain", pipeline.StatusSkipped, "", http.StatusOK},
		{"/broken-json", pipeline.StatusFailed, "", http.StatusOK},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			t.Parallel()

			out := f.Fetch(context.Background(), srv.URL+tc.path)
			require.Equal(t, tc.wantStatus, out.Status, "reason: %s", out.Reason)
			require.Equal(t, tc.wantKind, out.Kind)
			require.Equal(t, tc.wantCode, out.StatusCode)
			require.Equal(t, srv.URL+tc.path, out.URL)
			require.Positive(t, out.Duration)
		})
	}
}

func TestFetcherPayloads(t *testing.T) {
	t.Parallel()

	srv := newUpstream(t)
	f := New(Config{Timeout: time.Second})

	out := f.Fetch(context.Background(), srv.URL+"/json")
	require.Equal(t, map[string]any{"a": json.Number("1")}, out.Payload)

	out = f.Fetch(context.Background(), srv.URL+"/html")
	require.Equal(t, pipeline.HTMLContent{Title: "Example"}, out.Payload)

	out = f.Fetch(context.Background(), srv.URL+"/untitled")
	require.Equal(t, pipeline.HTMLContent{Title: pipeline.NoTitle}, out.Payload)

	out = f.Fetch(context.Background(), srv.URL+"/missing")
	require.Equal(t, "status code 404", out.Reason)
}

func TestFetcherTimeoutIsFailure(t *testing.T) {
	t.Parallel()

	srv := newUpstream(t)
	f := New(Config{Timeout: 50 * time.Millisecond})

	out := f.Fetch(context.Background(), srv.URL+"/slow")
	require.Equal(t, pipeline.StatusFailed, out.Status)
	require.NotEmpty(t, out.Reason)
	require.Less(t, out.Duration, time.Second)
}

func TestFetcherContextCancelIsFailure(t *testing.T) {
	t.Parallel()

	srv := newUpstream(t)
	f := New(Config{Timeout: 5 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	out := f.Fetch(ctx, srv.URL+"/slow")
	require.Equal(t, pipeline.StatusFailed, out.Status)
}

func TestFetcherTransportErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	deadURL := srv.URL
	srv.Close()

	f := New(Config{Timeout: time.Second})
	for _, raw := range []string{deadURL + "/gone", "", "not a url"} {
		out := f.Fetch(context.Background(), raw)
		require.Equal(t, pipeline.StatusFailed, out.Status, "url %q", raw)
		require.NotEmpty(t, out.Reason)
	}
}

func TestFetcherRevisitsDuplicateURLs(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[1,2,3]`))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{})
	for i := 0; i < 3; i++ {
		out := f.Fetch(context.Background(), srv.URL)
		require.Equal(t, pipeline.StatusSuccess, out.Status, "attempt %d: %s", i, out.Reason)
	}
	require.EqualValues(t, 3, hits.Load())
}

func TestFetcherSendsUserAgent(t *testing.T) {
	t.Parallel()

	gotUA := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA <- r.UserAgent()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{UserAgent: "urlfetch/1.0"})
	out := f.Fetch(context.Background(), srv.URL)
	require.Equal(t, pipeline.StatusSuccess, out.Status)
	require.Equal(t, "urlfetch/1.0", <-gotUA)
}

func TestFetcherConcurrentUse(t *testing.T) {
	t.Parallel()

	srv := newUpstream(t)
	f := New(Config{Timeout: time.Second})

	const n = 20
	results := make(chan pipeline.Outcome, n)
	for i := 0; i < n; i++ {
		path := "/json"
		if i%2 == 1 {
			path = "/html"
		}
		go func(u string) {
			results <- f.Fetch(context.Background(), u)
		}(fmt.Sprintf("%s%s?i=%d", srv.URL, path, i))
	}
	for i := 0; i < n; i++ {
		out := <-results
		require.Equal(t, pipeline.StatusSuccess, out.Status, out.Reason)
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	var (
		result   *colly.Response
		fetchErr error
	)
	hooks := &stubHooks{}
	configureCollectorHooks(hooks, &result, &fetchErr)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	resp := &colly.Response{StatusCode: http.StatusCreated, Body: []byte("body")}
	hooks.onResponse(resp)
	require.Same(t, resp, result)

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	require.Equal(t, defaultTimeout, f.cfg.Timeout)
	require.Equal(t, defaultMaxBodyBytes, f.cfg.MaxBodyBytes)
	require.True(t, f.baseCollector.AllowURLRevisit)
	require.True(t, f.baseCollector.ParseHTTPErrorResponse)
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
