package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/cagehost/internal/config"
	"github.com/nextlevelbuilder/cagehost/internal/sandbox"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the host's sandbox backends, store connectivity, and config",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

// runDoctor mirrors the teacher's runDoctor(): a short, human-readable
// report of version/platform, config status, then each subsystem's
// health, generalized from the teacher's provider/channel checks to this
// host's sandbox-backend/store checks.
func runDoctor() {
	fmt.Println("cagehost doctor")
	fmt.Printf("  Version: %s\n", Version)
	fmt.Printf("  OS:      %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:      %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:  %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (not found, using defaults)")
	} else {
		fmt.Println(" (ok)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("  Config validation error: %s\n", err)
	}

	fmt.Println()
	fmt.Println("  Sandbox backends:")
	checkBackend("subprocess", sandbox.NewSubprocessBackend())
	if b := sandbox.PlatformBackend(); b != nil {
		checkBackend(b.Name(), b)
	} else {
		fmt.Printf("    %-12s n/a on %s\n", "native:", runtime.GOOS)
	}
	if cfg.Sandbox.Image != "" {
		checkBackend("container", sandbox.NewContainerBackend(cfg.Sandbox.Image))
	}

	fmt.Println()
	fmt.Println("  Store:")
	checkStore(cfg.Store)

	fmt.Println()
	fmt.Println("  Gateway:")
	fmt.Printf("    %-12s %s\n", "Mode:", cfg.Gateway.Mode)
	if cfg.Gateway.Mode == "tcp" {
		fmt.Printf("    %-12s %s\n", "Token:", presence(cfg.Gateway.Token != ""))
	} else {
		fmt.Printf("    %-12s %s\n", "Socket:", cfg.Gateway.SocketPath)
	}

	fmt.Println()
	fmt.Println("  Proxy:")
	fmt.Printf("    %-12s %s\n", "Upstream:", cfg.Proxy.UpstreamBaseURL)
	fmt.Printf("    %-12s %s\n", "API key:", presence(cfg.Proxy.APIKey != "" || cfg.Proxy.OAuthToken != ""))
}

func checkBackend(name string, b sandbox.Backend) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	status := "NOT AVAILABLE"
	if b.IsAvailable(ctx) {
		status = "available"
	}
	fmt.Printf("    %-12s %s\n", name+":", status)
}

func checkStore(cfg config.StoreConfig) {
	fmt.Printf("    %-12s %s\n", "Backend:", cfg.Backend)
	if cfg.Backend != "postgres" {
		fmt.Printf("    %-12s %s\n", "Path:", config.ExpandHome(cfg.Path))
		return
	}
	if cfg.DSN == "" {
		fmt.Printf("    %-12s MISSING (set CAGEHOST_STORE_DSN)\n", "DSN:")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		fmt.Printf("    %-12s PING FAILED (%s)\n", "Status:", err)
		return
	}
	fmt.Printf("    %-12s connected\n", "Status:")
}

func presence(ok bool) string {
	if ok {
		return "configured"
	}
	return "MISSING"
}
