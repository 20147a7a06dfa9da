package httputil

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetWithRetriesRecoversFromServerError(t *testing.T) {
	BaseBackoff = time.Millisecond
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing auth header")
		}
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	h := http.Header{}
	h.Set("Authorization", "Bearer tok")
	resp, err := GetWithRetries(context.Background(), srv.Client(), Request{URL: srv.URL, Header: h, Timeout: time.Second, Attempts: 3})
	if err != nil {
		t.Fatalf("GetWithRetries: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if string(b) != "ok" || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("body=%q calls=%d", b, calls)
	}
}

func TestGetWithRetriesReturnsClientErrorImmediately(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	resp, err := GetWithRetries(context.Background(), nil, Request{URL: srv.URL, Attempts: 3})
	if err != nil {
		t.Fatalf("GetWithRetries: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound || atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("status=%d calls=%d", resp.StatusCode, calls)
	}
}

func TestGetWithRetriesTimesOut(t *testing.T) {
	BaseBackoff = time.Millisecond
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := GetWithRetries(context.Background(), nil, Request{URL: srv.URL, Timeout: 20 * time.Millisecond, Attempts: 2})
	if err == nil {
		t.Fatal("expected timeout error")
	}
}
