package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/units"
	"github.com/spf13/cobra"

	"github.com/shadefetch/shadefetch/internal/daemon"
	"github.com/shadefetch/shadefetch/internal/engine"
	"github.com/shadefetch/shadefetch/internal/privacy"
	"github.com/shadefetch/shadefetch/internal/settings"
	"github.com/shadefetch/shadefetch/internal/transport"
)

var (
	settingsPath string
	socketPath   string
	privacyMode  string
	targetDir    string
	filename     string
	rateLimit    string
)

var rootCmd = &cobra.Command{
	Use:     "fetchd",
	Short:   "Privacy-aware concurrent download engine",
	Version: "0.1.0",
	Long: `fetchd downloads URLs concurrently, optionally through a SOCKS
anonymity relay or a forward proxy, splitting large transfers into
parallel byte-range segments with pause/resume/cancel control.`,
}

func init() {
	home, _ := os.UserHomeDir()
	defaultSettings := filepath.Join(home, ".fetchd", "settings.json")
	defaultSocket := filepath.Join(home, ".fetchd", "fetchd.sock")

	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", defaultSettings, "path to the settings JSON document")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", defaultSocket, "path to the fetchd daemon's Unix socket")
	rootCmd.AddCommand(daemonCmd, addCmd, pauseCmd, resumeCmd, cancelCmd, rmCmd, lsCmd, clearCmd)

	addCmd.Flags().StringVar(&privacyMode, "privacy", "normal", "privacy mode: normal, proxy or relay")
	addCmd.Flags().StringVar(&targetDir, "dir", "", "target directory (defaults to the configured download folder)")
	addCmd.Flags().StringVar(&filename, "out", "", "output filename override")
	addCmd.Flags().StringVar(&rateLimit, "rate", "", "bandwidth limit for this download, e.g. --rate 10MiB (overrides the configured speed_limit)")
}

// daemonCmd runs the long-lived Engine that every other verb talks to over
// --socket. Exactly one instance should run per socket path; a second
// invocation against a path a live daemon is serving fails instead of
// taking over the socket.
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the fetchd daemon, serving the engine over --socket",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		defer eng.Stop()

		if dir := filepath.Dir(socketPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("fetchd: creating %s: %w", dir, err)
			}
		}

		srv := daemon.NewServer(eng)
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe(socketPath) }()

		fmt.Printf("fetchd daemon listening on %s\n", socketPath)
		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			return <-errCh
		}
	},
}

// client builds a daemon.Client against the configured --socket. It does
// not dial yet: a request only fails if the daemon isn't listening.
func client() *daemon.Client {
	return daemon.NewClient(socketPath)
}

// buildEngine constructs the Engine from the on-disk settings document;
// the engine reads settings at construction only.
func buildEngine() (*engine.Engine, error) {
	store, err := settings.New(settingsPath)
	if err != nil {
		return nil, fmt.Errorf("fetchd: loading settings: %w", err)
	}
	cfg := configFromSettings(store)
	if rateLimit != "" {
		bps, err := units.ParseStrictBytes(rateLimit)
		if err != nil {
			return nil, fmt.Errorf("fetchd: --rate %q: %w", rateLimit, err)
		}
		cfg.SpeedLimitBps = bps
	}
	provider := privacy.NewSettingsProvider(store)
	return engine.New(cfg, provider), nil
}

func configFromSettings(s *settings.Store) engine.Config {
	cfg := engine.DefaultConfig()
	cfg.MaxDownloads = settings.GetInt(s, "download", "max_downloads", cfg.MaxDownloads)
	cfg.ChunkEnabled = settings.GetBool(s, "download", "chunk_enabled", cfg.ChunkEnabled)
	cfg.ChunkCount = settings.GetInt(s, "download", "chunk_count", cfg.ChunkCount)
	cfg.ChunkMinSize = settings.GetInt64(s, "download", "chunk_min_size_mb", cfg.ChunkMinSize/(1024*1024)) * 1024 * 1024
	cfg.AutoExtract = settings.GetBool(s, "download", "auto_extract", cfg.AutoExtract)
	cfg.VerifyHash = settings.GetBool(s, "download", "verify_hash", cfg.VerifyHash)
	cfg.FileConflict = engine.ConflictPolicy(settings.GetString(s, "download", "file_conflict", string(cfg.FileConflict)))
	cfg.DownloadFolder = settings.GetString(s, "download", "download_folder", cfg.DownloadFolder)
	cfg.SpeedLimitBps = settings.GetInt64(s, "download", "speed_limit", 0)

	cfg.ConnectionTimeout = time.Duration(settings.GetInt(s, "connection", "connection_timeout_s", int(cfg.ConnectionTimeout/time.Second))) * time.Second
	cfg.RetryCount = settings.GetInt(s, "connection", "retry_count", cfg.RetryCount)
	cfg.RetryDelay = time.Duration(settings.GetInt(s, "connection", "retry_delay_s", int(cfg.RetryDelay/time.Second))) * time.Second

	cfg.UAType = transport.UserAgentType(settings.GetString(s, "security", "user_agent_type", string(cfg.UAType)))
	cfg.CustomUA = settings.GetString(s, "security", "custom_user_agent", "")
	cfg.SendReferer = settings.GetBool(s, "security", "send_referer", cfg.SendReferer)
	return cfg
}

func parsePrivacyMode(s string) engine.PrivacyMode {
	switch s {
	case "proxy":
		return engine.Proxy
	case "relay":
		return engine.Relay
	default:
		return engine.Normal
	}
}
