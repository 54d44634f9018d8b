package heartbeat

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ehrlich-b/localgpt/internal/config"
	"github.com/ehrlich-b/localgpt/internal/llm"
	"github.com/ehrlich-b/localgpt/internal/paths"
	"github.com/ehrlich-b/localgpt/internal/session"
	"github.com/ehrlich-b/localgpt/internal/turn"
)

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	root := t.TempDir()
	p := &paths.Paths{
		ConfigDir:  filepath.Join(root, "config"),
		DataDir:    filepath.Join(root, "data"),
		StateDir:   filepath.Join(root, "state"),
		CacheDir:   filepath.Join(root, "cache"),
		RuntimeDir: filepath.Join(root, "runtime"),
		Workspace:  filepath.Join(root, "workspace"),
	}
	if err := p.EnsureDirs(); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.SandboxEnabled = false

	llmClient := llm.NewClient(llm.Config{Model: cfg.Model}, llm.NewTestProvider())
	store := session.NewStore(p.SessionsDir("test-agent"), p.SessionsMetaFile("test-agent"))
	engine := turn.New(p, cfg, llmClient, store, nil, nil)

	return New(p, cfg, engine)
}

func TestTickSkipsWithoutPendingTasks(t *testing.T) {
	r := newTestRunner(t)

	ev := r.Tick(context.Background())
	if ev.Status != StatusSkipped {
		t.Fatalf("expected skipped with no pending tasks, got %q", ev.Status)
	}
	if ev.Reason != "no pending tasks" {
		t.Fatalf("unexpected reason %q", ev.Reason)
	}
}

func TestTickSendsThenDeduplicates(t *testing.T) {
	r := newTestRunner(t)
	if err := os.WriteFile(r.Paths.PendingTasksFile(), []byte("- water the plants\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	first := r.Tick(context.Background())
	if first.Status != StatusSent {
		t.Fatalf("expected first tick sent, got %q (reason %q)", first.Status, first.Reason)
	}
	if first.Preview == "" {
		t.Fatalf("expected a reply preview on a sent event")
	}

	// The dummy provider replies deterministically, so the second tick's
	// reply matches the recorded one and lands inside the 24h window.
	second := r.Tick(context.Background())
	if second.Status != StatusSkipped {
		t.Fatalf("expected duplicate reply skipped, got %q", second.Status)
	}
}

func TestTickPublishesToSubscribers(t *testing.T) {
	r := newTestRunner(t)
	sub := r.Subscribe()

	ev := r.Tick(context.Background())
	select {
	case got := <-sub:
		if got.Status != ev.Status {
			t.Fatalf("subscriber saw %q, tick returned %q", got.Status, ev.Status)
		}
		if got.TS.IsZero() {
			t.Fatalf("event timestamp unset")
		}
	default:
		t.Fatalf("expected event delivered to subscriber")
	}
}

func TestNewPrefersCronSchedule(t *testing.T) {
	r := newTestRunner(t)
	if r.Schedule != nil {
		t.Fatalf("expected no schedule without heartbeat_cron")
	}

	cfg := r.Config
	cfg.HeartbeatCron = "*/5 * * * *"
	withCron := New(r.Paths, cfg, r.Engine)
	if withCron.Schedule == nil {
		t.Fatalf("expected cron schedule parsed from heartbeat_cron")
	}

	cfg.HeartbeatCron = "not a cron expr"
	broken := New(r.Paths, cfg, r.Engine)
	if broken.Schedule != nil {
		t.Fatalf("expected invalid heartbeat_cron to fall back to interval")
	}
	if broken.Interval <= 0 {
		t.Fatalf("fallback interval unset")
	}
}

func TestInActiveHours(t *testing.T) {
	r := newTestRunner(t)

	at := func(hour int) time.Time {
		return time.Date(2026, 3, 1, hour, 30, 0, 0, time.UTC)
	}

	r.Config.ActiveHoursFrom, r.Config.ActiveHoursTo = 9, 17
	if !r.inActiveHours(at(12)) {
		t.Fatalf("noon should be inside 9-17")
	}
	if r.inActiveHours(at(3)) {
		t.Fatalf("3am should be outside 9-17")
	}

	// Wrapping window: 22-06 covers late night and early morning.
	r.Config.ActiveHoursFrom, r.Config.ActiveHoursTo = 22, 6
	if !r.inActiveHours(at(23)) || !r.inActiveHours(at(2)) {
		t.Fatalf("23:00 and 02:00 should be inside 22-06")
	}
	if r.inActiveHours(at(12)) {
		t.Fatalf("noon should be outside 22-06")
	}
}
