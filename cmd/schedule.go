package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/crystaldolphin/whatscast/internal/broadcast"
	"github.com/crystaldolphin/whatscast/internal/schedule"
)

var scheduleCmd = &cobra.Command{
	Use:     "schedule",
	Aliases: []string{"cron"},
	Short:   "Manage scheduled campaigns",
}

func init() {
	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleCmd.AddCommand(scheduleAddCmd)
	scheduleCmd.AddCommand(scheduleRemoveCmd)
	scheduleCmd.AddCommand(scheduleEnableCmd)
	scheduleCmd.AddCommand(scheduleRunCmd)
}

// schedulePath returns the configured file; edits are picked up by a
// running gateway.
func schedulePath() (string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.SchedulePath(), nil
}

// ---- list ------------------------------------------------------------------

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled campaigns",
	RunE: func(_ *cobra.Command, _ []string) error {
		path, err := schedulePath()
		if err != nil {
			return err
		}
		entries, err := schedule.Load(path)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Printf("No scheduled campaigns in %s\n", path)
			return nil
		}
		now := time.Now()
		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			status := okStyle.Render("enabled")
			next := ""
			if e.Disabled {
				status = dimStyle.Render("disabled")
			} else if t, err := e.Next(now); err == nil {
				next = t.Local().Format("2006-01-02 15:04")
			}
			tz := e.TZ
			if tz == "" {
				tz = "local"
			}
			rows = append(rows, []string{
				e.Name, e.Cron, tz, status, next, filterCell(e.Filters), truncStr(e.Message, 30),
			})
		}
		fmt.Print(table([]string{"Name", "Schedule", "TZ", "Status", "Next run", "Filters", "Message"}, rows))
		return nil
	},
}

// ---- add -------------------------------------------------------------------

var (
	schedName    string
	schedCron    string
	schedTZ      string
	schedMessage string
	schedMedia   string
	schedCountry int64
	schedEvent   int64
	schedUser    int64
)

var scheduleAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a scheduled campaign",
	RunE: func(_ *cobra.Command, _ []string) error {
		e := schedule.Entry{
			Name:     schedName,
			Cron:     schedCron,
			TZ:       schedTZ,
			Campaign: broadcast.Campaign{Message: schedMessage},
		}
		if schedMedia != "" {
			e.Media = &broadcast.MediaPayload{URL: schedMedia}
		}
		if schedCountry != 0 {
			e.CountryID = &schedCountry
		}
		if schedEvent != 0 {
			e.EventID = &schedEvent
		}
		if schedUser != 0 {
			e.InitiatorID = &schedUser
		}
		if err := e.Validate(); err != nil {
			return err
		}

		path, err := schedulePath()
		if err != nil {
			return err
		}
		entries, err := schedule.Load(path)
		if err != nil {
			return err
		}
		if slices.ContainsFunc(entries, func(x schedule.Entry) bool { return x.Name == e.Name }) {
			return fmt.Errorf("schedule %q already exists", e.Name)
		}
		if err := schedule.Save(path, append(entries, e)); err != nil {
			return err
		}
		next, _ := e.Next(time.Now())
		fmt.Printf("%s Added %q, next run %s\n", okStyle.Render("✓"), e.Name, next.Local().Format("2006-01-02 15:04"))
		return nil
	},
}

func init() {
	f := scheduleAddCmd.Flags()
	f.StringVarP(&schedName, "name", "n", "", "Unique name")
	f.StringVar(&schedCron, "cron", "", `Cron expression, e.g. "0 9 * * MON" or "@daily"`)
	f.StringVar(&schedTZ, "tz", "", "IANA time zone for the cron expression")
	f.StringVarP(&schedMessage, "message", "m", "", "Message text")
	f.StringVar(&schedMedia, "media-url", "", "Attach media from a URL")
	f.Int64Var(&schedCountry, "country", 0, "Only clients from this country id")
	f.Int64Var(&schedEvent, "event", 0, "Only clients registered for this event id")
	f.Int64Var(&schedUser, "user", 0, "User id recorded as the initiator")
	_ = scheduleAddCmd.MarkFlagRequired("name")
	_ = scheduleAddCmd.MarkFlagRequired("cron")
}

// ---- remove / enable -------------------------------------------------------

var scheduleRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a scheduled campaign",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return editEntries(args[0], func(entries []schedule.Entry, i int) []schedule.Entry {
			return slices.Delete(entries, i, i+1)
		}, "Removed")
	},
}

var scheduleDisable bool

var scheduleEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable or disable a scheduled campaign",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		verb := "Enabled"
		if scheduleDisable {
			verb = "Disabled"
		}
		return editEntries(args[0], func(entries []schedule.Entry, i int) []schedule.Entry {
			entries[i].Disabled = scheduleDisable
			return entries
		}, verb)
	},
}

func init() {
	scheduleEnableCmd.Flags().BoolVar(&scheduleDisable, "disable", false, "Disable instead of enable")
}

func editEntries(name string, edit func([]schedule.Entry, int) []schedule.Entry, verb string) error {
	path, err := schedulePath()
	if err != nil {
		return err
	}
	entries, err := schedule.Load(path)
	if err != nil {
		return err
	}
	i := slices.IndexFunc(entries, func(e schedule.Entry) bool { return e.Name == name })
	if i < 0 {
		return fmt.Errorf("%w: %s", schedule.ErrUnknownEntry, name)
	}
	if err := schedule.Save(path, edit(entries, i)); err != nil {
		return err
	}
	fmt.Printf("%s %s %q\n", okStyle.Render("✓"), verb, name)
	return nil
}

// ---- run -------------------------------------------------------------------

var scheduleRunCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Run a scheduled campaign now through the running gateway",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client := newAPIClient(cfg)
		var sum broadcast.Summary
		err = client.post(cmd.Context(), "/api/broadcast/schedules/"+url.PathEscape(args[0])+"/run", nil, &sum)
		var apiErr *apiError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusNotFound || apiErr.Status == http.StatusMethodNotAllowed) && !strings.Contains(apiErr.Message, "unknown entry") {
			return errors.New("scheduling is disabled on the gateway (schedule.enabled)")
		}
		if err != nil {
			return err
		}
		printSummary(sum)
		return nil
	},
}
