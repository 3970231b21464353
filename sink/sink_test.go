package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/releasedeploy/horosafe"
	"github.com/hazyhaar/releasedeploy/validation"
)

func sampleEvent() Event {
	return Event{
		Kind:    KindState,
		Row:     "row-0",
		URL:     "edd-release-deploy://o/r/v1/f.zip",
		Visible: true,
		State: validation.State{
			Status:  validation.StatusReady,
			URL:     "edd-release-deploy://o/r/v1/f.zip",
			Result:  &validation.Result{Size: 1024, Exists: true},
			Attempt: 1,
		},
		At: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestStdout(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	if err := s.Send(context.Background(), sampleEvent()); err != nil {
		t.Fatal(err)
	}
	if err := s.Send(context.Background(), Event{Kind: KindURL, Row: "row-1", URL: "https://x"}); err != nil {
		t.Fatal(err)
	}

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	var got Event
	if err := json.Unmarshal(lines[0], &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Kind != KindState || got.State.Result == nil || got.State.Result.Size != 1024 {
		t.Errorf("decoded = %+v", got)
	}
}

func TestCallback(t *testing.T) {
	var n atomic.Int32
	c := NewCallback(func(_ context.Context, ev Event) error {
		n.Add(1)
		return nil
	})
	c.Send(context.Background(), sampleEvent())
	if n.Load() != 1 {
		t.Errorf("calls = %d", n.Load())
	}
	if err := NewCallback(nil).Send(context.Background(), sampleEvent()); err != nil {
		t.Errorf("nil callback: %v", err)
	}
}

func TestRouter_FanOutAndFirstError(t *testing.T) {
	errA := errors.New("a failed")
	var delivered atomic.Int32
	failing := NewCallback(func(context.Context, Event) error { return errA })
	ok := NewCallback(func(context.Context, Event) error {
		delivered.Add(1)
		return nil
	})

	r := NewRouter(nil, failing, ok, ok)
	err := r.Send(context.Background(), sampleEvent())
	if !errors.Is(err, errA) {
		t.Fatalf("err = %v, want %v", err, errA)
	}
	if delivered.Load() != 2 {
		t.Errorf("delivered = %d, want 2 despite the failing sink", delivered.Load())
	}
	if r.Len() != 3 {
		t.Errorf("Len = %d", r.Len())
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestWebhook_Delivers(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q", r.Header.Get("Content-Type"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w, err := NewWebhook(srv.URL, WithWebhookAllowPrivate())
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Send(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Row != "row-0" || got.State.Status != validation.StatusReady {
		t.Errorf("received %+v", got)
	}
}

func TestWebhook_Retries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w, err := NewWebhook(srv.URL, WithWebhookAllowPrivate(), WithWebhookBackoff(time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Send(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if hits.Load() != 3 {
		t.Errorf("hits = %d, want 3", hits.Load())
	}
}

func TestWebhook_Exhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w, _ := NewWebhook(srv.URL, WithWebhookAllowPrivate(),
		WithWebhookRetries(1), WithWebhookBackoff(time.Millisecond))
	if err := w.Send(context.Background(), sampleEvent()); err == nil {
		t.Fatal("expected error after retries")
	}
}

func TestWebhook_RejectsPrivateTarget(t *testing.T) {
	_, err := NewWebhook("http://127.0.0.1:9/hook")
	if !errors.Is(err, horosafe.ErrSSRF) {
		t.Fatalf("err = %v, want ErrSSRF", err)
	}
	if _, err := NewWebhook("ftp://example.com/hook"); !errors.Is(err, horosafe.ErrUnsafeScheme) {
		t.Fatalf("err = %v, want ErrUnsafeScheme", err)
	}
}
