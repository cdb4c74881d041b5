package taskboardsdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"taskboard/internal/engine"
	"taskboard/internal/seed"
	"taskboard/internal/server"
)

func newTestClient(t *testing.T) (*Client, *engine.Engine) {
	t.Helper()
	ds, err := seed.Default(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	e := engine.New(ds, zerolog.Nop())
	handler, err := server.New(server.Config{
		Engine:     e,
		AllowReset: true,
		Heartbeat:  time.Hour,
		Logger:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL), e
}

func TestClientRoundTrip(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	if err := c.Health(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}
	projects, err := c.ListProjects(ctx)
	if err != nil || len(projects) != 2 {
		t.Fatalf("list projects: %v %d", err, len(projects))
	}
	task, err := c.CreateTask(ctx, CreateTaskInput{ProjectID: "p1", Title: "Tape edges", Dependencies: []string{"t3"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.ID != "t7" || task.Status != "todo" || task.Configuration.Priority != "medium" {
		t.Fatalf("unexpected task %+v", task)
	}

	_, err = c.UpdateTaskStatus(ctx, task.ID, "done")
	if !IsBlocked(err) {
		t.Fatalf("expected blocked, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict || apiErr.Details["unmet"] == nil {
		t.Fatalf("unexpected error %+v", err)
	}

	if _, err := c.UpdateTaskStatus(ctx, "t2", "done"); err != nil {
		t.Fatalf("update t2: %v", err)
	}
	todo, err := c.ListTasks(ctx, "p1", "todo")
	if err != nil || len(todo) != 2 {
		t.Fatalf("list todo: %v %d", err, len(todo))
	}

	if _, err := c.AddComment(ctx, "t2", "Bought it", ""); err != nil {
		t.Fatalf("comment: %v", err)
	}
	comments, err := c.ListComments(ctx, "t2")
	if err != nil || len(comments) != 2 || comments[1].Author != "Anonymous" {
		t.Fatalf("comments: %v %+v", err, comments)
	}

	events, err := c.Events(ctx, "p1", "task_update")
	if err != nil || len(events) != 1 || events[0].Data == nil || *events[0].Data.NewValue != "done" {
		t.Fatalf("events: %v %+v", err, events)
	}

	undo, err := c.Undo(ctx, "p1")
	if err != nil || undo.Task == nil || undo.Task.Status != "todo" {
		t.Fatalf("undo: %v %+v", err, undo)
	}
	_, err = c.Undo(ctx, "p1")
	if !errors.As(err, &apiErr) || apiErr.Code != "nothing_to_undo" {
		t.Fatalf("expected nothing_to_undo, got %v", err)
	}

	if err := c.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := c.GetTask(ctx, "t7"); err == nil {
		t.Fatalf("expected t7 gone after reset")
	}
}

func TestClientWatch(t *testing.T) {
	c, e := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan Notification, 4)
	done := make(chan error, 1)
	go func() {
		done <- c.Watch(ctx, "p2", func(n Notification) error {
			got <- n
			return nil
		})
	}()

	select {
	case n := <-got:
		if n.Type != "connected" {
			t.Fatalf("expected connected first, got %s", n.Type)
		}
	case <-ctx.Done():
		t.Fatalf("no connected frame")
	}
	if _, err := e.UpdateTaskStatus(ctx, "t5", "done"); err != nil {
		t.Fatal(err)
	}
	select {
	case n := <-got:
		var task Task
		if err := json.Unmarshal(n.Data, &task); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if n.Type != "task_update" || task.ID != "t5" || task.Status != "done" {
			t.Fatalf("unexpected notification %s %+v", n.Type, task)
		}
	case <-ctx.Done():
		t.Fatalf("no notification")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("watch did not return after cancel")
	}
}

func TestParseAPIErrorFallsBackToBody(t *testing.T) {
	err := parseAPIError(http.StatusBadGateway, []byte("upstream down"))
	if err.Code != "" || err.Error() != "api error: status=502 body=upstream down" {
		t.Fatalf("unexpected error %q", err.Error())
	}
}
