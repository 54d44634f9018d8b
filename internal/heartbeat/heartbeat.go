// Package heartbeat drives unattended turns against PENDING.md on a
// fixed interval or a cron schedule, gated to active hours and deduplicated against the
// last reply, the way the teacher's timeline engine polls for due work.
package heartbeat

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ehrlich-b/localgpt/internal/config"
	"github.com/ehrlich-b/localgpt/internal/cron"
	"github.com/ehrlich-b/localgpt/internal/logger"
	"github.com/ehrlich-b/localgpt/internal/paths"
	"github.com/ehrlich-b/localgpt/internal/session"
	"github.com/ehrlich-b/localgpt/internal/turn"
	"github.com/go-git/go-git/v5"
)

// sessionKey is the fixed session every heartbeat turn runs under, kept
// separate from interactive ask/chat sessions.
const sessionKey = "heartbeat"

const heartbeatPrompt = "This is a scheduled heartbeat. Review PENDING.md and MEMORY.md. " +
	"If there is outstanding work you can make progress on, do it. If nothing needs attention, " +
	"reply with the literal token HEARTBEAT_OK."

const commitInstruction = " The workspace is a git repository: commit any changes you make with a short descriptive message."

const previewLen = 120

// Status classifies the outcome of one heartbeat tick.
type Status string

const (
	StatusOK      Status = "ok"      // model replied HEARTBEAT_OK
	StatusSkipped Status = "skipped" // nothing to do, or a duplicate reply
	StatusSent    Status = "sent"    // a fresh non-OK reply was recorded
	StatusError   Status = "error"
)

// Event is one heartbeat outcome, published to in-process subscribers.
type Event struct {
	TS         time.Time
	Status     Status
	DurationMS int64
	Preview    string
	Reason     string
}

// Runner ticks a heartbeat turn against an Engine's workspace.
type Runner struct {
	Engine   *turn.Engine
	Paths    *paths.Paths
	Config   config.Config
	Interval time.Duration
	Schedule *cron.Schedule // non-nil when heartbeat_cron is configured; overrides Interval

	mu   sync.Mutex
	subs []chan Event
}

// New builds a Runner. Config.HeartbeatCron, when set and parseable, takes
// precedence; otherwise Config.HeartbeatEvery is parsed as a duration,
// falling back to 15 minutes.
func New(p *paths.Paths, cfg config.Config, engine *turn.Engine) *Runner {
	r := &Runner{Engine: engine, Paths: p, Config: cfg}

	if cfg.HeartbeatCron != "" {
		sched, err := cron.Parse(cfg.HeartbeatCron)
		if err != nil {
			logger.Warn("invalid heartbeat_cron, falling back to heartbeat_interval", "expr", cfg.HeartbeatCron, "error", err)
		} else {
			r.Schedule = sched
		}
	}

	interval, err := time.ParseDuration(cfg.HeartbeatEvery)
	if err != nil || interval <= 0 {
		interval = 15 * time.Minute
	}
	r.Interval = interval
	return r
}

// Subscribe registers an in-process listener for heartbeat events. The
// returned channel is buffered; a slow consumer drops events rather than
// stalling the runner.
func (r *Runner) Subscribe() <-chan Event {
	ch := make(chan Event, 16)
	r.mu.Lock()
	r.subs = append(r.subs, ch)
	r.mu.Unlock()
	return ch
}

func (r *Runner) publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Run fires heartbeat turns until ctx is canceled: at each cron match when
// a schedule is configured, otherwise on the fixed interval. Out-of-hours
// fire times are skipped silently.
func (r *Runner) Run(ctx context.Context) error {
	if r.Schedule != nil {
		return r.runCron(ctx)
	}

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.fire(ctx)
		}
	}
}

func (r *Runner) runCron(ctx context.Context) error {
	for {
		next := r.Schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			r.fire(ctx)
		}
	}
}

func (r *Runner) fire(ctx context.Context) {
	if !r.inActiveHours(time.Now()) {
		return
	}
	ev := r.Tick(ctx)
	if ev.Status == StatusError {
		logger.Warn("heartbeat tick failed", "reason", ev.Reason)
	}
}

// inActiveHours reports whether hour t.Hour() falls within the
// configured active-hours window, which may wrap past midnight.
func (r *Runner) inActiveHours(t time.Time) bool {
	h := t.Hour()
	from, to := r.Config.ActiveHoursFrom, r.Config.ActiveHoursTo
	if from <= to {
		return h >= from && h <= to
	}
	return h >= from || h <= to
}

// Tick runs one heartbeat: skip if there are no pending tasks, otherwise
// run a turn and classify the reply. The resulting event is published to
// subscribers and returned.
func (r *Runner) Tick(ctx context.Context) Event {
	start := time.Now()
	done := func(status Status, preview, reason string) Event {
		ev := Event{
			TS:         start,
			Status:     status,
			DurationMS: time.Since(start).Milliseconds(),
			Preview:    preview,
			Reason:     reason,
		}
		r.publish(ev)
		return ev
	}

	if !r.hasPendingTasks() {
		return done(StatusSkipped, "", "no pending tasks")
	}

	prompt := heartbeatPrompt
	if r.workspaceIsGitRepo() {
		prompt += commitInstruction
	}

	reply, err := r.Engine.Run(ctx, sessionKey, prompt, nil)
	if err != nil {
		return done(StatusError, "", fmt.Sprintf("heartbeat turn: %v", err))
	}

	// Engine.Run suppresses HEARTBEAT_OK (and NO_REPLY) to an empty reply.
	if reply == "" {
		return done(StatusOK, "", "")
	}

	meta, err := r.Engine.Sessions.LoadMeta()
	if err != nil {
		return done(StatusError, "", fmt.Sprintf("load heartbeat meta: %v", err))
	}
	if session.IsDuplicateHeartbeat(meta, sessionKey, reply) {
		return done(StatusSkipped, preview(reply), "duplicate of last reply")
	}

	meta = session.RecordHeartbeat(meta, sessionKey, reply, time.Now())
	if err := r.Engine.Sessions.SaveMeta(meta); err != nil {
		return done(StatusError, preview(reply), fmt.Sprintf("save heartbeat meta: %v", err))
	}
	return done(StatusSent, preview(reply), "")
}

// hasPendingTasks reports whether the pending-tasks file has any
// non-whitespace content.
func (r *Runner) hasPendingTasks() bool {
	data, err := os.ReadFile(r.Paths.PendingTasksFile())
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) != ""
}

// workspaceIsGitRepo probes whether the workspace root is a git
// repository; when it is, the heartbeat prompt asks the model to commit
// its changes.
func (r *Runner) workspaceIsGitRepo() bool {
	_, err := git.PlainOpen(r.Paths.Workspace)
	return err == nil
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > previewLen {
		return s[:previewLen] + "…"
	}
	return s
}
