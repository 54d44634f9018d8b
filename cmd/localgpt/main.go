// Command localgpt is the LocalGPT command-line interface: it talks to a
// running localgptd over its unix socket for ask/chat/daemon status, and
// touches the workspace directly for the local-only memory/config/policy/
// sandbox diagnostics.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ehrlich-b/localgpt/internal/config"
	"github.com/ehrlich-b/localgpt/internal/embedding"
	"github.com/ehrlich-b/localgpt/internal/memory/index"
	"github.com/ehrlich-b/localgpt/internal/paths"
	"github.com/ehrlich-b/localgpt/internal/sandbox"
	"github.com/ehrlich-b/localgpt/internal/security/audit"
	"github.com/ehrlich-b/localgpt/internal/security/devicekey"
	"github.com/ehrlich-b/localgpt/internal/security/policy"
	"github.com/ehrlich-b/localgpt/internal/transport"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const defaultAgentID = "default"

func main() {
	// The sandbox child re-execs this very binary with a sentinel argv[0];
	// that must be detected and handled before cobra, flag parsing, or any
	// other runtime machinery spins up.
	if sandbox.IsSandboxChild(os.Args[0]) {
		sandbox.RunChild(os.Args[1:])
		return
	}
	// _deny_init is the namespace/mount wrapper the linux backend re-execs
	// through; like the sentinel, it must run before cobra sees argv.
	if len(os.Args) > 1 && os.Args[1] == "_deny_init" {
		sandbox.DenyInit(os.Args[2:])
		return
	}

	root := &cobra.Command{
		Use:   "localgpt [prompt]",
		Short: "LocalGPT — local-first AI agent runtime",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return runAsk(cmd.Context(), strings.Join(args, " "))
		},
	}

	root.AddCommand(
		askCmd(),
		chatCmd(),
		daemonCmd(),
		memoryCmd(),
		configCmd(),
		policyCmd(),
		sandboxCmd(),
		initCmd(),
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolvePaths() (*paths.Paths, error) {
	p, err := paths.Resolve()
	if err != nil {
		return nil, fmt.Errorf("resolve paths: %w", err)
	}
	return p, nil
}

func transportClient() (*transport.Client, *paths.Paths, error) {
	p, err := resolvePaths()
	if err != nil {
		return nil, nil, err
	}
	return transport.NewClient(p.SocketFile()), p, nil
}

// ── ask / chat ──

func askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Submit one turn to the daemon and print its reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), strings.Join(args, " "))
		},
	}
}

func runAsk(ctx context.Context, prompt string) error {
	c, _, err := transportClient()
	if err != nil {
		return err
	}
	reply, err := c.Ask(ctx, "default", prompt)
	if err != nil {
		return fmt.Errorf("ask daemon (is localgptd running?): %w", err)
	}
	fmt.Println(reply)
	return nil
}

func chatCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive multi-turn conversation with the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := transportClient()
			if err != nil {
				return err
			}
			interactive := term.IsTerminal(int(os.Stdin.Fd()))
			if interactive {
				fmt.Println("localgpt chat: type a message, Ctrl-D to exit")
			}
			scanner := bufio.NewScanner(os.Stdin)
			for {
				if interactive {
					fmt.Print("> ")
				}
				if !scanner.Scan() {
					if interactive {
						fmt.Println()
					}
					return nil
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				reply, err := c.Ask(cmd.Context(), sessionID, line)
				if err != nil {
					fmt.Fprintf(os.Stderr, "error: %v\n", err)
					continue
				}
				fmt.Println(reply)
			}
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "default", "session key to converse under")
	return cmd
}

// ── daemon ──

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "daemon", Short: "Manage the localgptd background process"}
	cmd.AddCommand(daemonStartCmd(), daemonStopCmd(), daemonStatusCmd())
	return cmd
}

func daemonStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Launch localgptd in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := resolvePaths()
			if err != nil {
				return err
			}
			if err := p.EnsureDirs(); err != nil {
				return err
			}
			if pid, alive := readRunningPID(p.PIDFile()); alive {
				fmt.Printf("localgptd already running (pid %d)\n", pid)
				return nil
			}

			bin, err := daemonBinaryPath()
			if err != nil {
				return err
			}
			dcmd := exec.Command(bin)
			dcmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
			if err := dcmd.Start(); err != nil {
				return fmt.Errorf("start localgptd: %w", err)
			}
			fmt.Printf("localgptd started (pid %d)\n", dcmd.Process.Pid)
			return nil
		},
	}
}

func daemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running localgptd",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := resolvePaths()
			if err != nil {
				return err
			}
			pid, alive := readRunningPID(p.PIDFile())
			if !alive {
				fmt.Println("localgptd is not running")
				return nil
			}
			if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
				return fmt.Errorf("signal pid %d: %w", pid, err)
			}
			fmt.Printf("sent SIGTERM to pid %d\n", pid)
			return nil
		},
	}
}

func daemonStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether localgptd is running and reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := resolvePaths()
			if err != nil {
				return err
			}
			pid, alive := readRunningPID(p.PIDFile())
			if !alive {
				fmt.Println("localgptd: not running")
				return nil
			}
			fmt.Printf("localgptd: running (pid %d)\n", pid)

			c := transport.NewClient(p.SocketFile())
			ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
			defer cancel()
			status, err := c.Status(ctx)
			if err != nil {
				fmt.Printf("socket: unreachable (%v)\n", err)
				return nil
			}
			fmt.Printf("model: %s\nuptime: %s\n", status.Model, status.Uptime)
			return nil
		},
	}
}

func daemonBinaryPath() (string, error) {
	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve own executable: %w", err)
	}
	candidate := filepath.Join(filepath.Dir(self), "localgptd")
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}
	if p, err := exec.LookPath("localgptd"); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("localgptd binary not found next to %s or on $PATH", self)
}

func readRunningPID(pidFile string) (int, bool) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	if err := syscall.Kill(pid, 0); err != nil {
		return 0, false
	}
	return pid, true
}

// ── memory ──

func memoryCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "memory", Short: "Inspect and maintain the workspace memory index"}
	cmd.AddCommand(memorySearchCmd(), memoryReindexCmd(), memoryStatsCmd(), memoryRecentCmd())
	return cmd
}

func openLocalIndex(p *paths.Paths, cfg config.Config) (*index.Index, error) {
	var embedder embedding.Embedder
	if cfg.EmbeddingProvider != "none" {
		if e, err := embedding.NewFromProvider(cfg.EmbeddingProvider, cfg.EmbeddingModel, cfg.EmbeddingBaseURL); err == nil {
			embedder = embedding.NewCached(e, p.EmbeddingCacheDir())
		}
	}
	dsn := p.SearchIndexFile(defaultAgentID)
	if err := os.MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
		return nil, fmt.Errorf("create memory index dir: %w", err)
	}
	return index.Open(dsn, embedder)
}

func loadCfgAndPaths() (*paths.Paths, config.Config, error) {
	p, err := resolvePaths()
	if err != nil {
		return nil, config.Config{}, err
	}
	cfg, err := config.Load(p.ConfigDir)
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return p, cfg, nil
}

func memorySearchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the memory index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, cfg, err := loadCfgAndPaths()
			if err != nil {
				return err
			}
			idx, err := openLocalIndex(p, cfg)
			if err != nil {
				return fmt.Errorf("open memory index: %w", err)
			}
			defer idx.Close()

			results, err := idx.Search(strings.Join(args, " "), limit)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			if len(results) == 0 {
				fmt.Println("no matches")
				return nil
			}
			for _, r := range results {
				fmt.Printf("%s:%d-%d (score %.3f)\n%s\n\n", r.File, r.LineStart, r.LineEnd, r.Score, r.Content)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum results")
	return cmd
}

func memoryReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Force a full re-index of every markdown file in the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, cfg, err := loadCfgAndPaths()
			if err != nil {
				return err
			}
			idx, err := openLocalIndex(p, cfg)
			if err != nil {
				return fmt.Errorf("open memory index: %w", err)
			}
			defer idx.Close()

			var indexed int
			err = filepath.WalkDir(p.Workspace, func(path string, d os.DirEntry, err error) error {
				if err != nil || d.IsDir() || filepath.Ext(path) != ".md" {
					return nil
				}
				if ierr := idx.IndexFile(path, true); ierr != nil {
					fmt.Fprintf(os.Stderr, "index %s: %v\n", path, ierr)
					return nil
				}
				indexed++
				return nil
			})
			if err != nil {
				return fmt.Errorf("walk workspace: %w", err)
			}
			fmt.Printf("reindexed %d files\n", indexed)
			return nil
		},
	}
}

func memoryStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show memory index size and contents",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, cfg, err := loadCfgAndPaths()
			if err != nil {
				return err
			}
			idx, err := openLocalIndex(p, cfg)
			if err != nil {
				return fmt.Errorf("open memory index: %w", err)
			}
			defer idx.Close()

			stats, err := idx.Stats(p.SearchIndexFile(defaultAgentID))
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			fmt.Printf("files: %d\nchunks: %d\ndb size: %d bytes\n", stats.FileCount, stats.ChunkCount, stats.DBSizeBytes)
			return nil
		},
	}
}

func memoryRecentCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List the most recently modified daily-log files",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := resolvePaths()
			if err != nil {
				return err
			}
			entries, err := os.ReadDir(p.MemoryDir())
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("no memory/ directory yet")
					return nil
				}
				return fmt.Errorf("read memory dir: %w", err)
			}
			type fileInfo struct {
				name    string
				modTime time.Time
			}
			var files []fileInfo
			for _, e := range entries {
				if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
					continue
				}
				info, err := e.Info()
				if err != nil {
					continue
				}
				files = append(files, fileInfo{e.Name(), info.ModTime()})
			}
			sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })
			if n > 0 && len(files) > n {
				files = files[:n]
			}
			for _, f := range files {
				fmt.Printf("%s\t%s\n", f.name, f.modTime.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "n", 10, "number of daily logs to list")
	return cmd
}

// ── config ──

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect and edit the LocalGPT configuration"}
	cmd.AddCommand(configShowCmd(), configGetCmd(), configSetCmd(), configPathCmd(), configInitCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadCfgAndPaths()
			if err != nil {
				return err
			}
			fmt.Printf("model: %s\n", cfg.Model)
			fmt.Printf("base_url: %s\n", cfg.BaseURL)
			fmt.Printf("context_window: %d\n", cfg.ContextWindow)
			fmt.Printf("sandbox_level: %s\n", cfg.SandboxLevel)
			fmt.Printf("sandbox_enabled: %v\n", cfg.SandboxEnabled)
			fmt.Printf("suffix_enabled: %v\n", cfg.SuffixEnabled)
			fmt.Printf("heartbeat_interval: %s\n", cfg.HeartbeatEvery)
			fmt.Printf("active_hours: %d-%d\n", cfg.ActiveHoursFrom, cfg.ActiveHoursTo)
			fmt.Printf("embedding_provider: %s\n", cfg.EmbeddingProvider)
			fmt.Printf("sandbox_network_domains: %s\n", strings.Join(cfg.SandboxNetworkDomains, ","))
			return nil
		},
	}
}

func configGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print one configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadCfgAndPaths()
			if err != nil {
				return err
			}
			v, err := configField(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Println(v)
			return nil
		},
	}
}

func configSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Persist one configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, cfg, err := loadCfgAndPaths()
			if err != nil {
				return err
			}
			if err := setConfigField(&cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := config.Save(p.ConfigDir, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Printf("%s = %s\n", args[0], args[1])
			return nil
		},
	}
}

func configPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print resolved directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := resolvePaths()
			if err != nil {
				return err
			}
			fmt.Printf("config_dir: %s\n", p.ConfigDir)
			fmt.Printf("data_dir: %s\n", p.DataDir)
			fmt.Printf("state_dir: %s\n", p.StateDir)
			fmt.Printf("cache_dir: %s\n", p.CacheDir)
			fmt.Printf("runtime_dir: %s\n", p.RuntimeDir)
			fmt.Printf("workspace: %s\n", p.Workspace)
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config.yaml if one does not already exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := resolvePaths()
			if err != nil {
				return err
			}
			if err := p.EnsureDirs(); err != nil {
				return err
			}
			if _, err := os.Stat(p.ConfigFile()); err == nil {
				fmt.Println("config already exists:", p.ConfigFile())
				return nil
			}
			if err := config.Save(p.ConfigDir, config.Default()); err != nil {
				return fmt.Errorf("save default config: %w", err)
			}
			fmt.Println("wrote", p.ConfigFile())
			return nil
		},
	}
}

func configField(cfg config.Config, key string) (string, error) {
	switch key {
	case "model":
		return cfg.Model, nil
	case "base_url":
		return cfg.BaseURL, nil
	case "context_window":
		return strconv.Itoa(cfg.ContextWindow), nil
	case "sandbox_level":
		return cfg.SandboxLevel, nil
	case "sandbox_enabled":
		return strconv.FormatBool(cfg.SandboxEnabled), nil
	case "suffix_enabled":
		return strconv.FormatBool(cfg.SuffixEnabled), nil
	case "heartbeat_interval":
		return cfg.HeartbeatEvery, nil
	case "embedding_provider":
		return cfg.EmbeddingProvider, nil
	case "sandbox_network_domains":
		return strings.Join(cfg.SandboxNetworkDomains, ","), nil
	default:
		return "", fmt.Errorf("unknown config key %q", key)
	}
}

func setConfigField(cfg *config.Config, key, value string) error {
	switch key {
	case "model":
		cfg.Model = value
	case "base_url":
		cfg.BaseURL = value
	case "context_window":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("context_window must be an integer: %w", err)
		}
		cfg.ContextWindow = n
	case "sandbox_level":
		cfg.SandboxLevel = value
	case "sandbox_enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("sandbox_enabled must be true/false: %w", err)
		}
		cfg.SandboxEnabled = b
	case "suffix_enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("suffix_enabled must be true/false: %w", err)
		}
		cfg.SuffixEnabled = b
	case "heartbeat_interval":
		cfg.HeartbeatEvery = value
	case "embedding_provider":
		cfg.EmbeddingProvider = value
	case "sandbox_network_domains":
		if value == "" {
			cfg.SandboxNetworkDomains = nil
		} else {
			cfg.SandboxNetworkDomains = strings.Split(value, ",")
		}
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}

// ── policy ──

func policyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "policy", Short: "Manage the device-keyed security policy"}
	cmd.AddCommand(policySignCmd(), policyVerifyCmd(), policyAuditCmd(), policyStatusCmd())
	return cmd
}

func policySignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sign",
		Short: "Sign the workspace's LocalGPT.md with the local device key",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := resolvePaths()
			if err != nil {
				return err
			}
			if err := devicekey.EnsureDeviceKey(p.DataDir); err != nil {
				return fmt.Errorf("ensure device key: %w", err)
			}
			m, err := devicekey.SignPolicy(p.Workspace, p.DataDir, "cli")
			if err != nil {
				return fmt.Errorf("sign policy: %w", err)
			}
			if err := audit.Open(p.AuditLogFile()).Append(audit.Signed, m.ContentSHA256, "cli", ""); err != nil {
				return fmt.Errorf("record signing in audit log: %w", err)
			}
			fmt.Printf("signed at %s by %s\n", m.SignedAt, m.SignedBy)
			return nil
		},
	}
}

func policyVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify the workspace policy signature",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := resolvePaths()
			if err != nil {
				return err
			}
			ok, err := devicekey.VerifySignature(p.Workspace, p.DataDir)
			if err != nil {
				return fmt.Errorf("verify signature: %w", err)
			}
			if ok {
				fmt.Println("signature valid")
				return nil
			}
			fmt.Println("signature INVALID")
			os.Exit(1)
			return nil
		},
	}
}

func policyStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Run the full six-state policy verification and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := resolvePaths()
			if err != nil {
				return err
			}
			result := policy.Verify(p.Workspace, p.DataDir)
			fmt.Println("state:", result.State)
			for _, w := range result.Warnings {
				fmt.Println("warning:", w)
			}
			return nil
		},
	}
}

func policyAuditCmd() *cobra.Command {
	var n int
	var asJSON bool
	var filter string
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent audit log entries and verify the hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := resolvePaths()
			if err != nil {
				return err
			}
			log := audit.Open(p.AuditLogFile())
			entries, err := log.ReadAll()
			if err != nil {
				return fmt.Errorf("read audit log: %w", err)
			}
			broken, err := log.VerifyChain()
			if err != nil {
				return fmt.Errorf("verify chain: %w", err)
			}

			if filter != "" {
				var kept []audit.Entry
				for _, e := range entries {
					if string(e.Action) == filter {
						kept = append(kept, e)
					}
				}
				entries = kept
			}

			start := 0
			if n > 0 && len(entries) > n {
				start = len(entries) - n
			}
			entries = entries[start:]

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				for _, e := range entries {
					if err := enc.Encode(e); err != nil {
						return fmt.Errorf("encode entry: %w", err)
					}
				}
			} else {
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tACTION\tSOURCE")
				for _, e := range entries {
					fmt.Fprintf(w, "%s\t%s\t%s\n", e.TS, e.Action, e.Source)
				}
				w.Flush()
			}

			if len(broken) > 0 {
				fmt.Printf("chain BROKEN at entries: %v\n", broken)
			} else if !asJSON {
				fmt.Println("chain intact")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of recent entries to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit entries as JSON lines")
	cmd.Flags().StringVar(&filter, "filter", "", "only show entries with this action")
	return cmd
}

// ── sandbox ──

// networkPolicyFromConfig reports the sandbox network field config.yaml
// asks for, without actually starting a proxy — used by `sandbox status`,
// which only probes enforceability.
func networkPolicyFromConfig(cfg config.Config) sandbox.NetworkPolicy {
	if len(cfg.SandboxNetworkDomains) == 0 {
		return sandbox.DenyNetwork()
	}
	return sandbox.NetworkPolicy{Mode: sandbox.NetworkAllowProxy}
}

// buildNetworkPolicy starts a domain-filtering proxy when config.yaml
// configures sandbox_network_domains, returning allow-proxy pointed at it;
// the caller must invoke the returned closer once done. With no configured
// domains it returns deny and a nil closer.
func buildNetworkPolicy(cfg config.Config) (sandbox.NetworkPolicy, func(), error) {
	if len(cfg.SandboxNetworkDomains) == 0 {
		return sandbox.DenyNetwork(), nil, nil
	}
	proxy, err := sandbox.StartProxy(cfg.SandboxNetworkDomains)
	if err != nil {
		return sandbox.NetworkPolicy{}, nil, err
	}
	addr := fmt.Sprintf("127.0.0.1:%d", proxy.Port())
	return sandbox.AllowProxyNetwork(addr), proxy.Close, nil
}

func sandboxCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "sandbox", Short: "Inspect sandbox enforcement capability"}
	cmd.AddCommand(sandboxStatusCmd(), sandboxTestCmd())
	return cmd
}

func sandboxStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report the effective sandbox isolation level and whether it's enforceable",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, cfg, err := loadCfgAndPaths()
			if err != nil {
				return err
			}
			supported := sandbox.Detect()
			requested := sandbox.ParseLevel(cfg.SandboxLevel)
			effective := sandbox.EffectiveLevel(requested, supported)

			fmt.Printf("requested: %s\nsupported: %s\neffective: %s\n", requested, supported, effective)

			pol := sandbox.BuildPolicy(p.Workspace, effective, nil, nil, networkPolicyFromConfig(cfg), cfg.SandboxTimeout, cfg.MaxOutputBytes)
			enforcementErr, err := sandbox.Probe(pol)
			if err != nil {
				return fmt.Errorf("probe sandbox: %w", err)
			}
			if enforcementErr != nil {
				fmt.Println("enforcement: NOT available:", enforcementErr.Error())
			} else {
				fmt.Println("enforcement: available")
			}
			return nil
		},
	}
}

func sandboxTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Run canned allowed/denied commands through the sandbox and report the outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, cfg, err := loadCfgAndPaths()
			if err != nil {
				return err
			}
			effective := sandbox.EffectiveLevel(sandbox.ParseLevel(cfg.SandboxLevel), sandbox.Detect())
			netPolicy, closeProxy, err := buildNetworkPolicy(cfg)
			if err != nil {
				return fmt.Errorf("start sandbox network proxy: %w", err)
			}
			if closeProxy != nil {
				defer closeProxy()
			}
			pol := sandbox.BuildPolicy(p.Workspace, effective, nil, nil, netPolicy, 10, 4096)

			var exec sandbox.Executor
			cases := []struct {
				label   string
				command string
			}{
				{"read ~/.ssh (expect denied)", "ls -la ~/.ssh 2>&1"},
				{"write /tmp file (expect allowed)", "touch /tmp/localgpt-sandbox-test-$$ && echo ok"},
			}
			if netPolicy.Mode == sandbox.NetworkAllowProxy {
				cases = append(cases, struct {
					label   string
					command string
				}{"curl an allowed domain (expect allowed)", "curl -sS -o /dev/null -w '%{http_code}' https://" + cfg.SandboxNetworkDomains[0]})
			}
			for _, c := range cases {
				res, err := exec.Run(cmd.Context(), pol, c.command)
				if err != nil {
					fmt.Printf("%s: ERROR %v\n", c.label, err)
					continue
				}
				fmt.Printf("%s: exit=%d output=%q\n", c.label, res.ExitCode, strings.TrimSpace(res.Output))
			}
			return nil
		},
	}
}

// ── init ──

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Scaffold a fresh workspace (LocalGPT.md, MEMORY.md, memory/, .gitignore)",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := resolvePaths()
			if err != nil {
				return err
			}
			if err := p.EnsureDirs(); err != nil {
				return err
			}
			if err := os.MkdirAll(p.MemoryDir(), 0o700); err != nil {
				return fmt.Errorf("create memory dir: %w", err)
			}
			if err := os.MkdirAll(p.SkillsDir(), 0o700); err != nil {
				return fmt.Errorf("create skills dir: %w", err)
			}

			auditLog := audit.Open(p.AuditLogFile())
			if _, err := os.Stat(p.PolicyFile()); os.IsNotExist(err) {
				if err := writeIfAbsent(p.PolicyFile(), defaultPolicyTemplate); err != nil {
					return err
				}
				_ = auditLog.Append(audit.Created, devicekey.ContentSHA256(defaultPolicyTemplate), "cli", "workspace init")
			}
			if err := writeIfAbsent(p.MemoryFile(), "# Memory\n\nLong-lived facts the agent should always remember go here.\n"); err != nil {
				return err
			}
			if err := writeIfAbsent(filepath.Join(p.Workspace, ".gitignore"), "localgpt.device.key\n*.sqlite\n*.sqlite-*\n"); err != nil {
				return err
			}

			if err := devicekey.EnsureDeviceKey(p.DataDir); err != nil {
				return fmt.Errorf("ensure device key: %w", err)
			}
			if _, err := os.Stat(p.ManifestFile()); os.IsNotExist(err) {
				m, err := devicekey.SignPolicy(p.Workspace, p.DataDir, "cli")
				if err != nil {
					return fmt.Errorf("sign initial policy: %w", err)
				}
				_ = auditLog.Append(audit.Signed, m.ContentSHA256, "cli", "workspace init")
			}

			if _, err := os.Stat(p.ConfigFile()); os.IsNotExist(err) {
				if err := config.Save(p.ConfigDir, config.Default()); err != nil {
					return fmt.Errorf("save default config: %w", err)
				}
			}

			fmt.Println("initialized workspace:", p.Workspace)
			return nil
		},
	}
}

const defaultPolicyTemplate = `# LocalGPT Policy

This file defines what the agent is allowed to do in this workspace.
Edit it to restrict or grant capabilities; sign it with ` + "`localgpt policy sign`" + `
after every edit so the Turn Engine will trust the new content.

- Allowed: read and edit files in this workspace.
- Allowed: run read-only shell commands.
- Denied: network access outside what the configuration explicitly allows.
`

func writeIfAbsent(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
