package container

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/crystaldolphin/whatscast/internal/config"
	"github.com/crystaldolphin/whatscast/internal/session"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	dir := t.TempDir()
	cfg.Storage.DSN = filepath.Join(dir, "whatscast.db")
	cfg.Schedule.Path = filepath.Join(dir, "schedules.yaml")
	cfg.Channels.WhatsApp.StaleAfterSec = 0
	return &cfg
}

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNew_WiresServices(t *testing.T) {
	c, err := New(context.Background(), testConfig(t), quietLog())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if c.Events() == nil || c.Store() == nil || c.Session() == nil || c.Dispatcher() == nil ||
		c.Server() == nil || c.Watcher() == nil {
		t.Fatalf("missing service: %+v", c)
	}
	if c.Scheduler() != nil || c.Relay() != nil || c.Heartbeat() != nil {
		t.Error("optional services must be nil when disabled")
	}
	if st := c.Session().State(); st != session.StateIdle {
		t.Errorf("session state = %s, want idle", st)
	}
	if c.Store().Dialect() != "sqlite" {
		t.Errorf("dialect = %q", c.Store().Dialect())
	}
}

func TestNew_OptionalServices(t *testing.T) {
	cfg := testConfig(t)
	cfg.Schedule.Enabled = true
	cfg.Relay.Enabled = true
	cfg.Channels.WhatsApp.StaleAfterSec = 300
	// Misconfigured notifiers are skipped, not fatal.
	cfg.Channels.Telegram.Enabled = true
	cfg.Channels.Slack.Enabled = true
	cfg.Channels.Slack.BotToken = "xoxb-test"

	c, err := New(context.Background(), cfg, quietLog())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()
	if c.Scheduler() == nil || c.Relay() == nil || c.Heartbeat() == nil {
		t.Error("expected scheduler, relay and heartbeat")
	}
}

func TestNew_BadStorage(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Driver = "oracle"
	if _, err := New(context.Background(), cfg, quietLog()); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}
