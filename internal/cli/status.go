package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/RelayClaw/RelayClaw/internal/config"
	"github.com/RelayClaw/RelayClaw/internal/store"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("🏷️ RelayClaw Version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway status",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("📊 RelayClaw Status")
		fmt.Printf("Version: %s\n", version)

		configPath, err := config.ConfigPath()
		if err == nil {
			if _, statErr := os.Stat(configPath); statErr == nil {
				fmt.Println("Config:  ✓ Found (" + configPath + ")")
			} else {
				fmt.Println("Config:  ✗ Not found (defaults apply)")
			}
		}

		cfg, err := config.Load()
		if err != nil {
			fmt.Printf("Config load error: %v\n", err)
			return
		}

		if cfg.Channels.WhatsApp.Enabled {
			fmt.Println("WhatsApp: ✓ Enabled")
			stateDir, _ := config.StateDir()
			if _, err := os.Stat(filepath.Join(stateDir, "whatsapp.db")); err == nil {
				fmt.Println("WhatsApp Link: ✓ Session found (no QR needed)")
			} else {
				fmt.Println("WhatsApp Link: ✗ Not paired yet (start the gateway to get a QR)")
			}
		} else {
			fmt.Println("WhatsApp: ✗ Disabled")
		}
		if cfg.Channels.Slack.Enabled {
			fmt.Println("Slack:    ✓ Enabled")
		} else {
			fmt.Println("Slack:    ✗ Disabled")
		}

		st, err := store.New(cfg.Paths.StatePath)
		if err != nil {
			fmt.Printf("State:    ✗ Unavailable (%v)\n", err)
			return
		}
		defer st.Close()

		if task, err := st.GetRunningTask(); err == nil && task != nil {
			fmt.Printf("Agent:    working for %s on %q\n",
				time.Since(task.StartedAt).Round(time.Second), task.Description)
		} else {
			fmt.Println("Agent:    idle")
		}
		if n, err := st.QueueLength(); err == nil {
			fmt.Printf("Queue:    %d waiting\n", n)
		}
	},
}
