package processors

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"videoQA/core"
)

func TestRemoteContextProviderFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/frame_context/demo" {
			http.NotFound(w, r)
			return
		}
		core.WriteJSON(w, http.StatusOK, core.FrameContextResponse{
			VideoID: "demo",
			Records: []core.FrameContextRecord{{Filename: "a.png", TimestampSec: 1.5, Caption: "intro"}},
		})
	}))
	defer srv.Close()

	provider := NewRemoteContextProvider(srv.URL, 5*time.Second)
	records, err := provider.FrameContext(context.Background(), "demo")
	if err != nil {
		t.Fatalf("FrameContext failed: %v", err)
	}
	if len(records) != 1 || records[0].Caption != "intro" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestRemoteContextProviderNotFound(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.NotFound(w, r)
	}))
	defer srv.Close()

	provider := NewRemoteContextProvider(srv.URL, 5*time.Second)
	_, err := provider.FrameContext(context.Background(), "missing")
	var nf *core.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if calls != 1 {
		t.Errorf("404 must not be retried, got %d calls", calls)
	}
}

func TestRemoteContextProviderRetriesTransientFailure(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		core.WriteJSON(w, http.StatusOK, core.FrameContextResponse{VideoID: "demo"})
	}))
	defer srv.Close()

	provider := NewRemoteContextProvider(srv.URL, 5*time.Second)
	if _, err := provider.FrameContext(context.Background(), "demo"); err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestRemoteContextProviderGivesUp(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	provider := NewRemoteContextProvider(srv.URL, 5*time.Second)
	_, err := provider.FrameContext(context.Background(), "demo")
	var ue *core.UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if calls != remoteFetchAttempts {
		t.Errorf("expected %d attempts, got %d", remoteFetchAttempts, calls)
	}
}
