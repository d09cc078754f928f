package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/cagehost/internal/audit"
	"github.com/nextlevelbuilder/cagehost/internal/config"
	"github.com/nextlevelbuilder/cagehost/internal/dispatcher"
	"github.com/nextlevelbuilder/cagehost/internal/gateway"
	"github.com/nextlevelbuilder/cagehost/internal/handlers"
	"github.com/nextlevelbuilder/cagehost/internal/proxy"
	"github.com/nextlevelbuilder/cagehost/internal/router"
	"github.com/nextlevelbuilder/cagehost/internal/sandbox"
	"github.com/nextlevelbuilder/cagehost/internal/scanner"
	"github.com/nextlevelbuilder/cagehost/internal/scheduler"
	"github.com/nextlevelbuilder/cagehost/internal/schema"
	"github.com/nextlevelbuilder/cagehost/internal/session"
	"github.com/nextlevelbuilder/cagehost/internal/store"
	"github.com/nextlevelbuilder/cagehost/internal/taint"
	"github.com/nextlevelbuilder/cagehost/internal/tracing"
	"github.com/nextlevelbuilder/cagehost/pkg/protocol"
)

func gatewayCmd() *cobra.Command {
	var (
		agentID string
		command string
	)
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Run the cagehost gateway: sandbox manager, dispatcher, scheduler, proxy, and completions HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(agentID, command)
		},
	}
	cmd.Flags().StringVar(&agentID, "agent-id", "default", "agent identity spawned for each completion turn")
	cmd.Flags().StringVar(&command, "agent-command", "", "command to exec as the sandboxed agent process (required)")
	return cmd
}

// runGateway wires every C-numbered component of the host together and
// blocks until SIGINT/SIGTERM, mirroring the shape (if not the breadth) of
// the teacher's runGateway(): structured logging first, config next, then
// stores, then the domain components, then the HTTP listener, then a
// signal-driven shutdown.
func runGateway(agentID, agentCommand string) error {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if agentCommand == "" {
		return fmt.Errorf("--agent-command is required")
	}

	shutdownTracing, err := tracing.Init(tracing.Config{Enabled: cfg.Tracing.Enabled, ServiceName: cfg.Tracing.ServiceName})
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	journal, memStore, convJournal, pgPool, err := openStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening stores: %w", err)
	}
	defer journal.Close()
	defer memStore.Close()
	defer convJournal.Close()
	if pgPool != nil {
		defer pgPool.Close()
	}

	sc := scanner.New(slog.Default())
	sc.SetThreshold(cfg.Scanner.Threshold)
	if cfg.Scanner.PatternFilePath != "" {
		if err := sc.WatchPatternFileJSON(cfg.Scanner.PatternFilePath); err != nil {
			slog.Warn("scanner pattern file watch disabled", "path", cfg.Scanner.PatternFilePath, "error", err)
		}
	}
	defer sc.Close()

	taintPolicy := taint.DefaultPolicy()
	if cfg.Taint.Threshold > 0 {
		taintPolicy.Threshold = cfg.Taint.Threshold
	}
	if len(cfg.Taint.GatedActions) > 0 {
		taintPolicy.Gated = make(map[protocol.Action]bool, len(cfg.Taint.GatedActions))
		for _, a := range cfg.Taint.GatedActions {
			taintPolicy.Gated[protocol.Action(a)] = true
		}
	}
	budget := taint.New(taintPolicy)

	canary := router.NewMemoryCanaryStore()
	rt := router.New(sc, budget, canary, journal)

	sandboxMgr, err := buildSandboxManager(cfg.Sandbox)
	if err != nil {
		return fmt.Errorf("building sandbox manager: %w", err)
	}

	dataDir := filepath.Dir(config.ExpandHome(cfg.Store.Path))
	if dataDir == "" || dataDir == "." {
		dataDir = config.ExpandHome("~/.cagehost/data")
	}
	workspaceBase := filepath.Join(dataDir, "workspaces")
	if err := os.MkdirAll(workspaceBase, 0o755); err != nil {
		return fmt.Errorf("creating workspace base: %w", err)
	}
	skillsDir := filepath.Join(dataDir, "skills", agentID)

	workspaceResolver := func(sessionID string) session.Workspace {
		id, err := session.Parse(sessionID)
		if err != nil {
			id, _ = session.Parse(sessionID + ":fallback:0")
		}
		return session.NewWorkspace(workspaceBase, agentID, "gateway", id)
	}

	// sched is wired into handlers.Deps below, but its own dispatch
	// callback needs gw — declared here and assigned once gw exists, so
	// the two components can reference each other (spec §4.10: scheduled
	// turns drive the same pipeline as an HTTP completion).
	var gw *gateway.Server
	sched := scheduler.New(
		func(ctx context.Context, job scheduler.CronJob) error {
			_, err := gw.RunCronTurn(ctx, job.AgentID+":"+job.ID, job.Prompt)
			return err
		},
		scheduler.WithActiveHours(resolveActiveHours(cfg.Scheduler)),
		scheduler.WithHeartbeat(time.Duration(cfg.Scheduler.HeartbeatMinutes)*time.Minute, cfg.Scheduler.HeartbeatOverride, nil),
		scheduler.WithLogger(slog.Default()))
	sched.Start(ctx)
	defer sched.Stop()

	dispatch := dispatcher.New(schema.Default(), budget, journal, handlers.Build(handlers.Deps{
		Memory:    memStore,
		Journal:   journal,
		Scheduler: sched,
		Workspace: workspaceResolver,
		SkillsDir: skillsDir,
		Log:       slog.Default(),
	}), dispatcher.WithLogger(slog.Default()))

	gw = gateway.NewServer(gateway.Deps{
		Router:        rt,
		Canary:        canary,
		Sandbox:       sandboxMgr,
		Conversation:  convJournal,
		Journal:       journal,
		Dispatcher:    dispatch,
		WorkspaceRoot: gateway.NewWorkspaceFactory(workspaceBase, agentID, "gateway"),
		SkillsDir:     skillsDir,
		AgentID:       agentID,
		Command:       agentCommand,
		Limits:        resolveSandboxLimits(cfg.Sandbox),
		Models:        []gateway.ModelInfo{{ID: agentID, Created: time.Now().Unix(), OwnedBy: "cagehost"}},
		Token:         cfg.Gateway.Token,
		RateRPS:       2,
		RateBurst:     5,
		Log:           slog.Default(),
	})

	var px *proxy.Proxy
	if cfg.Proxy.UpstreamBaseURL != "" {
		px = proxy.New(proxy.Config{
			UpstreamBaseURL: cfg.Proxy.UpstreamBaseURL,
			APIKey:          cfg.Proxy.APIKey,
			OAuthToken:      cfg.Proxy.OAuthToken,
		}, slog.Default())
		go func() {
			if err := px.ListenAndServe(cfg.Proxy.SocketPath); err != nil && ctx.Err() == nil {
				slog.Error("proxy listener exited", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	srv, listener, err := bindGateway(cfg.Gateway, gw.Mux())
	if err != nil {
		return fmt.Errorf("binding gateway listener: %w", err)
	}

	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		if shutdownTracing != nil {
			_ = shutdownTracing(shutdownCtx)
		}
		cancel()
	}()

	slog.Info("cagehost gateway starting", "version", Version, "mode", cfg.Gateway.Mode, "agent", agentID)
	if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// bindGateway starts the listener per config.GatewayConfig.Mode: a local
// stream socket (no auth boundary beyond OS permissions) or a loopback TCP
// port (bearer token enforced, validated at config load).
func bindGateway(cfg config.GatewayConfig, mux http.Handler) (*http.Server, net.Listener, error) {
	srv := &http.Server{Handler: mux}
	if cfg.Mode == "tcp" {
		ln, err := net.Listen("tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
		if err != nil {
			return nil, nil, err
		}
		return srv, ln, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.SocketPath), 0o755); err != nil {
		return nil, nil, err
	}
	_ = os.Remove(cfg.SocketPath)
	ln, err := net.Listen("unix", cfg.SocketPath)
	if err != nil {
		return nil, nil, err
	}
	return srv, ln, nil
}

// openStores selects the audit/memory/conversation backends per
// config.StoreConfig.Backend, mirroring the teacher's mode-based store
// creation (file-based vs. Postgres) generalized to this host's
// sqlite/postgres/memory trio.
func openStores(ctx context.Context, cfg *config.Config) (audit.Journal, store.MemoryStore, store.ConversationJournal, *pgxpool.Pool, error) {
	switch cfg.Store.Backend {
	case "postgres":
		if cfg.Store.DSN == "" {
			return nil, nil, nil, nil, fmt.Errorf("store backend postgres requires CAGEHOST_STORE_DSN")
		}
		pool, err := pgxpool.New(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return audit.NewPG(pool), store.NewPGMemory(pool), store.NewPGConversation(pool), pool, nil

	case "memory":
		return audit.NewMemory(0), store.NewMemoryKV(), store.NewMemoryConversationJournal(), nil, nil

	default: // "sqlite"
		path := config.ExpandHome(cfg.Store.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, nil, nil, err
		}
		j, err := audit.OpenSQLite(path)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		mem, err := store.OpenSQLiteMemory(path)
		if err != nil {
			j.Close()
			return nil, nil, nil, nil, err
		}
		conv, err := store.OpenSQLiteConversation(path)
		if err != nil {
			j.Close()
			mem.Close()
			return nil, nil, nil, nil, err
		}
		return j, mem, conv, nil, nil
	}
}

// buildSandboxManager registers the always-available subprocess backend
// plus whichever of the platform-native or container backends the config
// requests, in the order spec §4.2 implies (native isolation preferred,
// subprocess last-resort).
func buildSandboxManager(cfg config.SandboxConfig) (*sandbox.Manager, error) {
	var backends []sandbox.Backend

	switch cfg.Backend {
	case "container":
		if cfg.Image == "" {
			return nil, fmt.Errorf("sandbox backend container requires an image")
		}
		backends = append(backends, sandbox.NewContainerBackend(cfg.Image))
	case "namespace", "seatbelt":
		if b := sandbox.PlatformBackend(); b != nil {
			backends = append(backends, b)
		} else {
			return nil, fmt.Errorf("sandbox backend %q is not available on this platform", cfg.Backend)
		}
	case "subprocess":
		// handled by the unconditional append below
	case "":
		if b := sandbox.PlatformBackend(); b != nil {
			backends = append(backends, b)
		}
	default:
		return nil, fmt.Errorf("unknown sandbox backend %q", cfg.Backend)
	}

	backends = append(backends, sandbox.NewSubprocessBackend())
	mgr := sandbox.NewManager(backends...)
	if cfg.Backend != "" && cfg.Backend != "subprocess" {
		mgr.Forced = backends[0].Name()
	}
	return mgr, nil
}

func resolveSandboxLimits(cfg config.SandboxConfig) sandbox.Limits {
	limits := sandbox.DefaultLimits()
	if cfg.TimeoutSec > 0 {
		limits.Timeout = cfg.Timeout()
	}
	if cfg.MemoryMB > 0 {
		limits.MemoryMB = cfg.MemoryMB
	}
	if cfg.MaxPIDs > 0 {
		limits.MaxPIDs = cfg.MaxPIDs
	}
	return limits
}

// resolveActiveHours parses config.SchedulerConfig's "HH:MM" strings into
// the minute-of-day pair scheduler.ActiveHours expects, falling back to an
// unrestricted window when either bound is unset or unparsable.
func resolveActiveHours(cfg config.SchedulerConfig) scheduler.ActiveHours {
	start, startErr := parseClock(cfg.ActiveHoursStart)
	end, endErr := parseClock(cfg.ActiveHoursEnd)
	if startErr != nil || endErr != nil {
		return scheduler.AllDay()
	}
	tz := cfg.Timezone
	if tz == "" {
		tz = "UTC"
	}
	return scheduler.ActiveHours{Timezone: tz, StartMin: start, EndMin: end}
}

func parseClock(hhmm string) (int, error) {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("scheduler: invalid HH:MM %q", hhmm)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, err
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, err
	}
	return h*60 + m, nil
}
