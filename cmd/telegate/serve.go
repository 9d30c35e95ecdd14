package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/telegate-bridge/telegate/internal/chatplatform"
	"github.com/telegate-bridge/telegate/internal/chatplatform/discord"
	"github.com/telegate-bridge/telegate/internal/chatplatform/slack"
	"github.com/telegate-bridge/telegate/internal/config"
	"github.com/telegate-bridge/telegate/internal/gateway"
	"github.com/telegate-bridge/telegate/internal/queue"
	"github.com/telegate-bridge/telegate/internal/store"
	"github.com/telegate-bridge/telegate/internal/supervisor"
	"github.com/telegate-bridge/telegate/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	var (
		configDir string
		stateDir  string
		logLevel  string
		storeDSN  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway daemon",
		Long:  "Connects to the configured chat platform, listens for inbound messages and commands, and dispatches Agent turns.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configDir, stateDir, logLevel, storeDSN)
		},
	}

	cmd.Flags().StringVarP(&configDir, "config", "c", ".", "directory containing config.yaml or config.json")
	cmd.Flags().StringVar(&stateDir, "state-dir", ".telegate", "directory for the queue, metrics DB, temp images, and logs")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn, or error")
	cmd.Flags().StringVar(&storeDSN, "store-mysql", "", "host:port/database of a shared MySQL-compatible server for the metrics store, instead of the local SQLite file")
	return cmd
}

func runServe(cmd *cobra.Command, configDir, stateDir, logLevel, storeDSN string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("telegate: load config: %w", err)
	}

	dirs := []string{stateDir, filepath.Join(stateDir, "queue"), filepath.Join(stateDir, "images")}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("telegate: create %s: %w", d, err)
		}
	}

	telemetry.Init(telemetry.Config{LogDir: stateDir, Level: logLevel})
	defer telemetry.Shutdown()

	q, err := queue.Open(filepath.Join(stateDir, "queue"))
	if err != nil {
		return fmt.Errorf("telegate: open queue: %w", err)
	}

	metrics, err := openStore(stateDir, storeDSN)
	if err != nil {
		return fmt.Errorf("telegate: open metrics store: %w", err)
	}
	defer metrics.Close()

	sup := supervisor.New(supervisor.ExecSpawner{}, os.Getenv("HOME"))

	adapter, err := createAdapter()
	if err != nil {
		return err
	}

	sched := gateway.New(cfg, q, sup, adapter, filepath.Join(stateDir, "images"), telemetry.ForComponent(telemetry.CompGateway)).WithStore(metrics)

	hk := gateway.NewHousekeeping(sched)
	hk.Start()
	defer hk.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := adapter.Connect(ctx); err != nil {
		return fmt.Errorf("telegate: connect: %w", err)
	}
	defer adapter.Close()

	inbound, err := adapter.Listen(ctx)
	if err != nil {
		return fmt.Errorf("telegate: listen: %w", err)
	}

	log.Printf("telegate: serving %d channel(s)", len(cfg.Channels))
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			if err := sched.HandleInbound(ctx, msg); err != nil {
				log.Printf("telegate: handle inbound: %v", err)
			}
		}
	}
}

// openStore opens the metrics store, per --store-mysql: a shared
// MySQL-compatible server at "host:port/database" when set, falling back
// to a local SQLite file under stateDir otherwise.
func openStore(stateDir, dsn string) (*store.Store, error) {
	if dsn == "" {
		return store.Open(filepath.Join(stateDir, "metrics.db"))
	}
	hostPort, database, ok := strings.Cut(dsn, "/")
	if !ok || database == "" {
		return nil, fmt.Errorf("--store-mysql %q: want host:port/database", dsn)
	}
	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		return nil, fmt.Errorf("--store-mysql %q: %w", dsn, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("--store-mysql %q: invalid port: %w", dsn, err)
	}
	return store.OpenMySQL(host, port, database)
}

// createAdapter builds a platform adapter from environment variables.
// TELEGATE_PLATFORM selects "slack" or "discord"; credentials follow each
// platform's own SDK conventions.
func createAdapter() (chatplatform.Adapter, error) {
	switch os.Getenv("TELEGATE_PLATFORM") {
	case "slack":
		return slack.New(slack.AdapterOpts{
			AppToken: os.Getenv("SLACK_APP_TOKEN"),
			BotToken: os.Getenv("SLACK_BOT_TOKEN"),
		})
	case "discord":
		return discord.New(discord.AdapterOpts{
			BotToken: os.Getenv("DISCORD_BOT_TOKEN"),
			GuildID:  os.Getenv("DISCORD_GUILD_ID"),
		})
	default:
		return nil, fmt.Errorf("telegate: unsupported or unset TELEGATE_PLATFORM (want \"slack\" or \"discord\")")
	}
}
