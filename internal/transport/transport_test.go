package transport

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ehrlich-b/localgpt/internal/config"
	"github.com/ehrlich-b/localgpt/internal/llm"
	"github.com/ehrlich-b/localgpt/internal/paths"
	"github.com/ehrlich-b/localgpt/internal/security/audit"
	"github.com/ehrlich-b/localgpt/internal/session"
	"github.com/ehrlich-b/localgpt/internal/turn"
)

func setup(t *testing.T) (*Client, context.CancelFunc) {
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
	for _, dir := range []string{p.ConfigDir, p.DataDir, p.StateDir, p.CacheDir, p.RuntimeDir, p.Workspace} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			t.Fatal(err)
		}
	}

	cfg := config.Default()
	cfg.SandboxEnabled = false
	llmClient := llm.NewClient(llm.Config{Model: cfg.Model}, llm.NewTestProvider())
	store := session.NewStore(p.SessionsDir("test-agent"), p.SessionsMetaFile("test-agent"))
	auditLog := audit.Open(filepath.Join(p.StateDir, "localgpt.audit.jsonl"))
	engine := turn.New(p, cfg, llmClient, store, nil, auditLog)

	sock := filepath.Join(root, "localgptd.sock")
	srv := NewServer(sock, engine)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := srv.ListenAndServe(ctx); err != nil {
			t.Logf("ListenAndServe: %v", err)
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(sock); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("daemon socket never appeared at %s", sock)
		}
		time.Sleep(5 * time.Millisecond)
	}

	return NewClient(sock), cancel
}

func TestClientAsk(t *testing.T) {
	client, cancel := setup(t)
	defer cancel()

	reply, err := client.Ask(context.Background(), "session-1", "hello there")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if reply == "" {
		t.Fatalf("expected non-empty reply")
	}
}

func TestClientAskRejectsEmptyPrompt(t *testing.T) {
	client, cancel := setup(t)
	defer cancel()

	if _, err := client.Ask(context.Background(), "session-1", ""); err == nil {
		t.Fatalf("expected error for empty prompt")
	}
}

func TestClientStatus(t *testing.T) {
	client, cancel := setup(t)
	defer cancel()

	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Model == "" {
		t.Fatalf("expected model in status response")
	}
}
