package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/crystaldolphin/whatscast/internal/container"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"gateway"},
	Short:   "Start the HTTP gateway",
	RunE:    runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", "", "Listen address (overrides gateway.addr)")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Gateway.Addr = serveAddr
	}
	log := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := container.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	fmt.Printf("%s Starting whatscast gateway on %s\n", logo, cfg.Gateway.Addr)
	var extras []string
	if c.Scheduler() != nil {
		extras = append(extras, "schedule")
	}
	if c.Relay() != nil {
		extras = append(extras, "relay")
	}
	if cfg.Channels.Telegram.Enabled {
		extras = append(extras, "telegram")
	}
	if cfg.Channels.Slack.Enabled {
		extras = append(extras, "slack")
	}
	if c.Heartbeat() != nil {
		extras = append(extras, "stale-session reminders")
	}
	if len(extras) > 0 {
		fmt.Printf("%s Enabled: %s\n", okStyle.Render("✓"), strings.Join(extras, ", "))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Server().Run(gctx) })
	g.Go(func() error { return c.Watcher().Run(gctx) })
	if s := c.Scheduler(); s != nil {
		g.Go(func() error { return s.Start(gctx) })
	}
	if r := c.Relay(); r != nil {
		g.Go(func() error { return r.Run(gctx) })
	}
	if hb := c.Heartbeat(); hb != nil {
		g.Go(func() error { return hb.Start(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		if c.Dispatcher().Cancel() {
			log.Info("serve: cancelled running campaign")
		}
		return nil
	})

	if cfg.Channels.WhatsApp.AutoInit {
		if err := c.Session().InitAuth(gctx); err != nil {
			log.Error("serve: auto init", "err", err)
		}
	}

	fmt.Printf("%s Gateway running. Press Ctrl+C to stop.\n", logo)

	err = g.Wait()
	c.Session().Shutdown()
	c.Events().Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("gateway: %w", err)
	}
	fmt.Println("\nShutdown complete.")
	return nil
}
