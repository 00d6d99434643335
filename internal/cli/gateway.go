package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/RelayClaw/RelayClaw/internal/agent"
	"github.com/RelayClaw/RelayClaw/internal/approval"
	"github.com/RelayClaw/RelayClaw/internal/bus"
	"github.com/RelayClaw/RelayClaw/internal/channels"
	"github.com/RelayClaw/RelayClaw/internal/config"
	"github.com/RelayClaw/RelayClaw/internal/guard"
	"github.com/RelayClaw/RelayClaw/internal/orchestrator"
	"github.com/RelayClaw/RelayClaw/internal/store"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the gateway (WhatsApp, Slack)",
	Run:   runGateway,
}

func runGateway(cmd *cobra.Command, args []string) {
	printHeader("🌐 RelayClaw Gateway")
	fmt.Println("Starting RelayClaw Gateway...")

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}

	permsFixed := false
	if configPath, err := config.ConfigPath(); err == nil {
		if fixed, err := config.FixPermissions(configPath); err == nil {
			permsFixed = fixed
		}
	}

	st, err := store.New(cfg.Paths.StatePath)
	if err != nil {
		fmt.Printf("Failed to init state store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	sinks := guard.MultiSink{st}
	mirror := guard.NewKafkaMirror(cfg.Audit.KafkaBrokers, cfg.Audit.KafkaTopic)
	if mirror != nil {
		sinks = append(sinks, mirror)
		defer mirror.Close()
	}

	g := guard.New(cfg.Guard.RateLimitPerHour, sinks)
	if permsFixed {
		g.Audit(guard.EventConfigPermsFixed, "config file permissions tightened to 0600")
	}

	messageBus := bus.New()
	transport := bus.NewTransport(messageBus, st)

	registry := agent.NewRegistry(func(workDir string) *agent.Session {
		return agent.NewSession(workDir, cfg.Agent.Binary, cfg.Agent.Timeout, cfg.Agent.ActivityGap, st)
	})
	approvals := approval.NewManager(st)
	orch := orchestrator.New(cfg, st, g, transport, registry, approvals)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	active := []channels.Channel{}
	if cfg.Channels.WhatsApp.Enabled {
		ch := channels.NewWhatsAppChannel(cfg.Channels.WhatsApp, messageBus)
		if err := ch.Start(ctx); err != nil {
			fmt.Printf("WhatsApp channel error: %v\n", err)
			os.Exit(1)
		}
		active = append(active, ch)
	}
	if cfg.Channels.Slack.Enabled {
		ch := channels.NewSlackChannel(cfg.Channels.Slack, messageBus)
		if err := ch.Start(ctx); err != nil {
			fmt.Printf("Slack channel error: %v\n", err)
			os.Exit(1)
		}
		active = append(active, ch)
	}
	if len(active) == 0 {
		fmt.Println("No channels enabled; enable WhatsApp or Slack in the config.")
		os.Exit(1)
	}

	go func() {
		if err := messageBus.DispatchOutbound(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Outbound dispatch stopped", "error", err)
		}
	}()
	go func() {
		if err := orch.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Orchestrator stopped", "error", err)
		}
	}()
	go purgeHandles(ctx, st, cfg.Gateway.DedupTTL)

	fmt.Println("Gateway running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down...")
	cancel()
	for _, ch := range active {
		if err := ch.Stop(); err != nil {
			slog.Warn("Channel stop failed", "channel", ch.Name(), "error", err)
		}
	}
	if sess := registry.Current(); sess != nil {
		sess.Shutdown()
	}
}

// purgeHandles expires old dedup ledger entries so the table stays bounded.
func purgeHandles(ctx context.Context, st *store.Store, ttl time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := st.PurgeHandles(ttl); err != nil {
				slog.Warn("Dedup purge failed", "error", err)
			} else if n > 0 {
				slog.Debug("Purged dedup handles", "count", n)
			}
		}
	}
}
