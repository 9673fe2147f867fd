package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/crystaldolphin/whatscast/internal/config"
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize configuration and data directory",
	RunE:  runOnboard,
}

const sampleSchedules = `# Scheduled campaigns. Enable with schedule.enabled in config.json.
# A running gateway reloads this file on save.
schedules:
  - name: weekly-promo
    cron: "0 9 * * MON"
    tz: UTC
    message: "New arrivals this week!"
    disabled: true
`

const sampleEnv = `# Environment overrides (WHATSCAST_* or the deployment names below).
# PORT=3001
# FRONTEND_URL=http://localhost:3000
# JWT_SECRET=change-me
# DB_HOST=localhost
# DB_PORT=5432
# DB_USERNAME=whatscast
# DB_PASSWORD=
# DB_DATABASE=whatscast
`

func runOnboard(_ *cobra.Command, _ []string) error {
	cfgPath := configPath
	if cfgPath == "" {
		cfgPath = config.ConfigPath()
	}

	if _, err := os.Stat(cfgPath); err == nil {
		fmt.Printf("Config already exists at %s\n", cfgPath)
		fmt.Printf("Press Enter to refresh (keep existing values) or Ctrl+C to cancel: ")
		fmt.Scanln()
		existing, loadErr := config.Load(cfgPath)
		if loadErr != nil {
			def := config.DefaultConfig()
			existing = &def
		}
		if err := config.Save(existing, cfgPath); err != nil {
			return err
		}
		fmt.Printf("%s Config refreshed at %s\n", okStyle.Render("✓"), cfgPath)
	} else {
		cfg := config.DefaultConfig()
		if err := config.Save(&cfg, cfgPath); err != nil {
			return err
		}
		fmt.Printf("%s Created config at %s\n", okStyle.Render("✓"), cfgPath)
	}

	def := config.DefaultConfig()
	for _, dir := range []string{config.DataDir(), def.SessionDataPath()} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	fmt.Printf("%s Data directory at %s\n", okStyle.Render("✓"), config.DataDir())

	writeIfMissing(def.SchedulePath(), sampleSchedules)
	writeIfMissing(filepath.Join(config.DataDir(), ".env.example"), sampleEnv)

	fmt.Printf("\n%s whatscast is ready!\n\n", logo)
	fmt.Println("Next steps:")
	fmt.Printf("  1. Point channels.whatsapp.bridgeUrl in %s at your bridge\n", cfgPath)
	fmt.Println("  2. Start the gateway: whatscast serve")
	fmt.Println("  3. Pair the session:  whatscast login")
	fmt.Println(`  4. Send a campaign:   whatscast campaigns send -m "Hello!"`)
	return nil
}

func writeIfMissing(path, content string) {
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		fmt.Printf("  %s could not create %s: %v\n", warnStyle.Render("!"), path, err)
		return
	}
	fmt.Printf("  Created %s\n", path)
}
