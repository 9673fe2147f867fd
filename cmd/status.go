package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/crystaldolphin/whatscast/internal/config"
	"github.com/crystaldolphin/whatscast/internal/schedule"
	"github.com/crystaldolphin/whatscast/internal/session"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whatscast status",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfgPath := configPath
	if cfgPath == "" {
		cfgPath = config.ConfigPath()
	}

	fmt.Println(titleStyle.Render(logo + " whatscast Status"))
	fmt.Println()

	_, statErr := os.Stat(cfgPath)
	fmt.Printf("Config:    %s %s\n", cfgPath, mark(statErr == nil))

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("  (could not load config: %v)\n", err)
		return nil
	}

	driver, dsn := cfg.StorageDSN()
	if driver == "sqlite" {
		_, err := os.Stat(dsn)
		fmt.Printf("Storage:   sqlite %s %s\n", dsn, mark(err == nil))
	} else {
		fmt.Printf("Storage:   %s %s:%d/%s\n", driver, cfg.Storage.Host, cfg.Storage.Port, cfg.Storage.Database)
	}
	fmt.Printf("Bridge:    %s\n", cfg.Channels.WhatsApp.BridgeURL)
	fmt.Printf("Auth:      %s\n", onOff(cfg.Gateway.JWTSecret != "", "jwt", "open"))

	if cfg.Schedule.Enabled {
		entries, err := schedule.Load(cfg.SchedulePath())
		if err != nil {
			fmt.Printf("Schedule:  %s %s (%v)\n", cfg.SchedulePath(), mark(false), err)
		} else {
			fmt.Printf("Schedule:  %s %s (%d entries)\n", cfg.SchedulePath(), mark(true), len(entries))
		}
	} else {
		fmt.Printf("Schedule:  %s\n", dimStyle.Render("disabled"))
	}

	fmt.Println("\nNotifiers:")
	fmt.Printf("  %-10s %s\n", "telegram", notifierState(cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token != ""))
	fmt.Printf("  %-10s %s\n", "slack", notifierState(cfg.Channels.Slack.Enabled, cfg.Channels.Slack.BotToken != ""))
	fmt.Printf("  %-10s %s\n", "relay", notifierState(cfg.Relay.Enabled, cfg.Relay.URL != ""))

	client := newAPIClient(cfg)
	ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
	defer cancel()

	var st session.Status
	if err := client.get(ctx, "/api/whatsapp/check", &st); err != nil {
		fmt.Printf("\nGateway:   %s %s\n", client.base, mark(false))
		fmt.Println(dimStyle.Render("  (start it with: whatscast serve)"))
		return nil
	}
	fmt.Printf("\nGateway:   %s %s\n", client.base, mark(true))
	fmt.Printf("Session:   %s\n", stateStyle(st.State.String()))
	if st.IsReady {
		var info session.Info
		if err := client.get(ctx, "/api/whatsapp/info", &info); err == nil {
			fmt.Printf("Account:   %s (%s, %s)\n", info.PushName, info.WID, info.Platform)
		}
	}
	return nil
}

func onOff(on bool, yes, no string) string {
	if on {
		return yes
	}
	return no
}

func notifierState(enabled, configured bool) string {
	switch {
	case !enabled:
		return dimStyle.Render("disabled")
	case configured:
		return okStyle.Render("✓ enabled")
	default:
		return warnStyle.Render("enabled, not configured")
	}
}
