package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"taskboard/internal/config"
	"taskboard/internal/domain"
	"taskboard/internal/engine"
	"taskboard/internal/seed"
)

type receivedHook struct {
	header http.Header
	body   []byte
}

func newHookReceiver(t *testing.T) (*httptest.Server, <-chan receivedHook) {
	t.Helper()
	ch := make(chan receivedHook, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ch <- receivedHook{header: r.Header.Clone(), body: body}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, ch
}

func newWebhookEngine(t *testing.T) *engine.Engine {
	t.Helper()
	ds, err := seed.Default(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return engine.New(ds, zerolog.Nop())
}

func TestWebhookDeliversSignedEvent(t *testing.T) {
	receiver, received := newHookReceiver(t)
	e := newWebhookEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := StartWebhookDispatcher(ctx, e, []config.WebhookConfig{{
		URL:    receiver.URL,
		Events: []string{"task_update"},
		Secret: "s3cret",
	}}, zerolog.Nop())
	if d == nil {
		t.Fatalf("expected dispatcher")
	}

	// comment_add is filtered out, so the first delivery is the status change.
	if _, err := e.AddComment(ctx, "t2", "hello", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := e.UpdateTaskStatus(ctx, "t5", domain.StatusInProgress); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-received:
		if got.header.Get("X-Taskboard-Event") != "task_update" || got.header.Get("X-Taskboard-Project") != "p2" {
			t.Fatalf("unexpected headers %v", got.header)
		}
		if sig := got.header.Get("X-Taskboard-Signature"); sig != sign(got.body, "s3cret") {
			t.Fatalf("signature mismatch: %s", sig)
		}
		var evt struct {
			ID   string      `json:"id"`
			Type string      `json:"type"`
			Data domain.Task `json:"data"`
		}
		if err := json.Unmarshal(got.body, &evt); err != nil {
			t.Fatalf("decode webhook: %v", err)
		}
		if evt.ID != got.header.Get("X-Taskboard-Delivery") || evt.Data.ID != "t5" {
			t.Fatalf("unexpected payload %+v", evt)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("webhook not delivered")
	}

	cancel()
	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("dispatcher did not stop")
	}
}

func TestWebhookProjectScope(t *testing.T) {
	receiver, received := newHookReceiver(t)
	e := newWebhookEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	StartWebhookDispatcher(ctx, e, []config.WebhookConfig{{URL: receiver.URL, Projects: []string{"p1"}}}, zerolog.Nop())
	if _, err := e.UpdateTaskStatus(ctx, "t5", domain.StatusDone); err != nil {
		t.Fatal(err)
	}
	if _, err := e.UpdateTaskStatus(ctx, "t2", domain.StatusInProgress); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-received:
		if got.header.Get("X-Taskboard-Project") != "p1" {
			t.Fatalf("expected p1 delivery only, got %s", got.header.Get("X-Taskboard-Project"))
		}
		if got.header.Get("X-Taskboard-Signature") != "" {
			t.Fatalf("unsigned hook must not carry a signature")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("webhook not delivered")
	}
}

func TestWebhookRetriesFailedDelivery(t *testing.T) {
	var calls atomic.Int32
	delivered := make(chan struct{}, 1)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "try again", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		delivered <- struct{}{}
	}))
	defer receiver.Close()

	e := newWebhookEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartWebhookDispatcher(ctx, e, []config.WebhookConfig{{URL: receiver.URL}}, zerolog.Nop())
	if _, err := e.CreateTask(ctx, engine.TaskCreateOptions{ProjectID: "p1", Title: "Sand walls"}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-delivered:
	case <-time.After(5 * time.Second):
		t.Fatalf("expected retried delivery, got %d calls", calls.Load())
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestWebhookDispatcherSkipsInactive(t *testing.T) {
	disabled := false
	d := StartWebhookDispatcher(context.Background(), newWebhookEngine(t), []config.WebhookConfig{
		{URL: "http://127.0.0.1:1/hook", Enabled: &disabled},
	}, zerolog.Nop())
	if d != nil {
		t.Fatalf("expected no dispatcher when every hook is disabled")
	}
}

func TestEventFilter(t *testing.T) {
	if !newEventFilter(nil).match("anything") {
		t.Fatalf("empty filter should match all")
	}
	f := newEventFilter([]string{" task_add ", ""})
	if !f.match("task_add") || f.match("task_update") {
		t.Fatalf("unexpected filter behaviour")
	}
}
