// Command localgptd is the LocalGPT daemon: it owns the Turn Engine, the
// heartbeat runner, and the memory watcher, and exposes them over a
// unix-socket HTTP transport for localgpt to talk to.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/ehrlich-b/localgpt/internal/config"
	"github.com/ehrlich-b/localgpt/internal/embedding"
	"github.com/ehrlich-b/localgpt/internal/heartbeat"
	"github.com/ehrlich-b/localgpt/internal/llm"
	"github.com/ehrlich-b/localgpt/internal/logger"
	"github.com/ehrlich-b/localgpt/internal/memory/index"
	"github.com/ehrlich-b/localgpt/internal/memory/watcher"
	"github.com/ehrlich-b/localgpt/internal/paths"
	"github.com/ehrlich-b/localgpt/internal/sandbox"
	"github.com/ehrlich-b/localgpt/internal/security/audit"
	"github.com/ehrlich-b/localgpt/internal/security/devicekey"
	"github.com/ehrlich-b/localgpt/internal/session"
	"github.com/ehrlich-b/localgpt/internal/transport"
	"github.com/ehrlich-b/localgpt/internal/turn"
	"github.com/spf13/cobra"
)

const defaultAgentID = "default"

func main() {
	// Sandbox re-exec entry points must be handled before cobra or any
	// runtime machinery spins up, same as in cmd/localgpt.
	if sandbox.IsSandboxChild(os.Args[0]) {
		sandbox.RunChild(os.Args[1:])
		return
	}
	if len(os.Args) > 1 && os.Args[1] == "_deny_init" {
		sandbox.DenyInit(os.Args[2:])
		return
	}

	var logFile string
	var logLevel string

	root := &cobra.Command{
		Use:   "localgptd",
		Short: "LocalGPT daemon — serves turns over a unix socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Init(logLevel, logFile); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			return run()
		},
	}
	root.Flags().StringVar(&logFile, "log-file", "", "log file path (default: stdout only)")
	root.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	p, err := paths.Resolve()
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	if err := p.EnsureDirs(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	cfg, err := config.Load(p.ConfigDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := devicekey.EnsureDeviceKey(p.DataDir); err != nil {
		return fmt.Errorf("ensure device key: %w", err)
	}

	llmClient := llm.NewClient(llm.Config{Model: cfg.Model, APIKey: cfg.APIKey, BaseURL: cfg.BaseURL})

	sessions := session.NewStore(p.SessionsDir(defaultAgentID), p.SessionsMetaFile(defaultAgentID))

	idx, err := openMemoryIndex(p, cfg)
	if err != nil {
		logger.Warn("memory index unavailable, memory_search disabled", "error", err)
	}
	if idx != nil {
		defer idx.Close()
	}

	auditLog := audit.Open(p.AuditLogFile())

	engine := turn.New(p, cfg, llmClient, sessions, idx, auditLog)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := writePIDFile(p.PIDFile()); err != nil {
		logger.Warn("write pid file", "error", err)
	}
	defer os.Remove(p.PIDFile())

	if idx != nil {
		if w, err := watcher.New(idx, []string{p.Workspace}); err != nil {
			logger.Warn("start memory watcher", "error", err)
		} else {
			if err := w.Start(); err != nil {
				logger.Warn("start memory watcher", "error", err)
			} else {
				defer w.Close()
			}
		}
	}

	hb := heartbeat.New(p, cfg, engine)
	hbEvents := hb.Subscribe()
	hbLog := logger.With("heartbeat")
	go func() {
		for ev := range hbEvents {
			hbLog.Info("tick", "status", string(ev.Status), "duration_ms", ev.DurationMS, "preview", ev.Preview, "reason", ev.Reason)
		}
	}()
	go func() {
		if err := hb.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("heartbeat runner stopped", "error", err)
		}
	}()

	srv := transport.NewServer(p.SocketFile(), engine)
	logger.Info("localgptd listening", "socket", p.SocketFile(), "model", cfg.Model)
	return srv.ListenAndServe(ctx)
}

func openMemoryIndex(p *paths.Paths, cfg config.Config) (*index.Index, error) {
	var embedder embedding.Embedder
	if cfg.EmbeddingProvider != "none" {
		e, err := embedding.NewFromProvider(cfg.EmbeddingProvider, cfg.EmbeddingModel, cfg.EmbeddingBaseURL)
		if err != nil {
			logger.Debug("no embedder configured, falling back to lexical-only search", "error", err)
		} else {
			embedder = embedding.NewCached(e, p.EmbeddingCacheDir())
		}
	}
	dsn := p.SearchIndexFile(defaultAgentID)
	if err := os.MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
		return nil, fmt.Errorf("create memory index dir: %w", err)
	}
	return index.Open(dsn, embedder)
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}
