package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"taskboard/internal/config"
	"taskboard/internal/domain"
	"taskboard/internal/engine"
)

const customSeed = `projects:
  - id: p1
    name: Garden
    tasks:
      - id: t1
        title: Dig beds
        status: todo
`

func TestBuildDefaults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt, err := Build(ctx, "", nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := len(rt.Engine.ListProjects()); got != 2 {
		t.Fatalf("expected embedded seed, got %d projects", got)
	}
	if rt.Webhooks != nil {
		t.Fatalf("no webhooks configured, dispatcher should be nil")
	}
}

func TestBuildSeedRelativeToDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "board.yaml"), []byte(customSeed), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Seed.Path = "board.yaml"
	rt, err := Build(context.Background(), dir, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	projects := rt.Engine.ListProjects()
	if len(projects) != 1 || projects[0].Name != "Garden" {
		t.Fatalf("unexpected projects %+v", projects)
	}

	cfg.Seed.Path = "missing.yaml"
	if _, err := Build(context.Background(), dir, cfg, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for missing seed")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := config.Default()
	cfg.RateLimit.Enabled = true
	rt, err := Build(ctx, "", cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- rt.Serve(ctx, ln) }()

	base := "http://" + ln.Addr().String()
	res, err := http.Get(base + "/v0/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	io.Copy(io.Discard, res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}

	// An open stream must not hold up shutdown.
	stream, err := http.Get(base + "/v0/projects/p1/stream")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer stream.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("serve did not stop")
	}
}

func TestApplyIgnoresBadLevel(t *testing.T) {
	rt := &Runtime{logger: zerolog.Nop()}
	prev := zerolog.GlobalLevel()
	defer zerolog.SetGlobalLevel(prev)

	cfg := config.Default()
	cfg.Log.Level = "debug"
	rt.Apply(cfg)
	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Fatalf("expected debug, got %v", zerolog.GlobalLevel())
	}
	cfg.Log.Level = "loud"
	rt.Apply(cfg)
	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Fatalf("bad level must not change the global level")
	}
}

func TestEngineLogsCarryOneComponentField(t *testing.T) {
	prev := zerolog.GlobalLevel()
	defer zerolog.SetGlobalLevel(prev)
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	var buf bytes.Buffer
	rt, err := Build(context.Background(), "", nil, zerolog.New(&buf))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := rt.Engine.UpdateTaskStatus(context.Background(), "t3", domain.StatusDone); !errors.Is(err, engine.ErrBlocked) {
		t.Fatalf("expected blocked transition, got %v", err)
	}
	var line []byte
	for _, l := range bytes.Split(buf.Bytes(), []byte("\n")) {
		if bytes.Contains(l, []byte("transition blocked")) {
			line = l
		}
	}
	if line == nil {
		t.Fatalf("expected blocked log line, got %s", buf.String())
	}
	if n := bytes.Count(line, []byte(`"component"`)); n != 1 {
		t.Fatalf("expected one component field, got %d in %s", n, line)
	}
}
