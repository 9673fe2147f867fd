// Package cmd implements the whatscast CLI using cobra.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/crystaldolphin/whatscast/internal/config"
)

const version = "0.1.0"
const logo = "📣"

var (
	configPath string
	serverURL  string
	apiToken   string
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "whatscast",
	Short: logo + " whatscast: WhatsApp broadcast gateway",
	Long:  logo + " whatscast pairs a WhatsApp session by QR and sends campaigns to your client directory",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return config.LoadDotEnv()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits on error.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = version

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Config file (default ~/.whatscast/config.json)")
	pf.StringVar(&serverURL, "server", "", "Gateway base URL (default derived from gateway.addr)")
	pf.StringVar(&apiToken, "token", "", "Bearer token for broadcast routes (default $"+tokenEnv+")")

	rootCmd.AddCommand(onboardCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(campaignsCmd)
	rootCmd.AddCommand(clientsCmd)
	rootCmd.AddCommand(scheduleCmd)
}

// loadConfig reads the config and installs its logger as the slog default.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(cfg.Log.Logger(os.Stderr))
	return cfg, nil
}
