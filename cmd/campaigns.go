package cmd

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/crystaldolphin/whatscast/internal/broadcast"
	"github.com/crystaldolphin/whatscast/internal/config"
	"github.com/crystaldolphin/whatscast/internal/store"
)

var campaignsCmd = &cobra.Command{
	Use:     "campaigns",
	Aliases: []string{"broadcast"},
	Short:   "Send campaigns and browse the broadcast log",
}

func init() {
	campaignsCmd.AddCommand(campaignsListCmd)
	campaignsCmd.AddCommand(campaignsShowCmd)
	campaignsCmd.AddCommand(campaignsSendCmd)
	campaignsCmd.AddCommand(campaignsCancelCmd)
}

// openStore opens the configured database for offline commands.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	driver, dsn := cfg.StorageDSN()
	return store.Open(ctx, driver, dsn, slog.Default())
}

// ---- list ------------------------------------------------------------------

var (
	listLimit  int
	listOffset int
)

var campaignsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent campaign summaries, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		list, err := st.ListSummaries(cmd.Context(), listLimit, listOffset)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No campaigns yet.")
			return nil
		}
		rows := make([][]string, 0, len(list))
		for _, s := range list {
			rows = append(rows, []string{
				strconv.FormatInt(s.ID, 10),
				s.SentAt.Local().Format("2006-01-02 15:04"),
				fmt.Sprintf("%d/%d", s.Sent, s.TotalRecipients),
				failedCell(s.Failed),
				summaryFilterCell(s),
				truncStr(s.Message, 40),
			})
		}
		fmt.Print(table([]string{"ID", "Sent at", "Sent", "Failed", "Filters", "Message"}, rows))
		return nil
	},
}

func init() {
	campaignsListCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "Maximum rows")
	campaignsListCmd.Flags().IntVar(&listOffset, "offset", 0, "Rows to skip")
}

func failedCell(n int) string {
	if n == 0 {
		return dimStyle.Render("0")
	}
	return errStyle.Render(strconv.Itoa(n))
}

func filterCell(f broadcast.Filters) string {
	return filterText(f, nil, nil)
}

// summaryFilterCell prefers the stored country and event titles.
func summaryFilterCell(s broadcast.Summary) string {
	return filterText(s.Filters, s.Country, s.Event)
}

func filterText(f broadcast.Filters, country, event *broadcast.FilterRef) string {
	var parts []string
	if p := filterPart("country", f.CountryID, country); p != "" {
		parts = append(parts, p)
	}
	if p := filterPart("event", f.EventID, event); p != "" {
		parts = append(parts, p)
	}
	if len(parts) == 0 {
		return dimStyle.Render("all")
	}
	return strings.Join(parts, " ")
}

func filterPart(kind string, id *int64, ref *broadcast.FilterRef) string {
	switch {
	case ref != nil:
		return kind + "=" + ref.Title
	case id != nil:
		return kind + "=" + strconv.FormatInt(*id, 10)
	}
	return ""
}

// ---- show ------------------------------------------------------------------

var campaignsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one campaign summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q", args[0])
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		s, err := st.GetSummary(cmd.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("campaign %d not found", id)
		}
		if err != nil {
			return err
		}
		printSummary(s)
		return nil
	},
}

func printSummary(s broadcast.Summary) {
	fmt.Println(titleStyle.Render(fmt.Sprintf("Campaign #%d", s.ID)))
	fmt.Printf("  Sent at:    %s\n", s.SentAt.Local().Format(time.RFC1123))
	fmt.Printf("  Filters:    %s\n", summaryFilterCell(s))
	fmt.Printf("  Recipients: %d\n", s.TotalRecipients)
	fmt.Printf("  Sent:       %s\n", okStyle.Render(strconv.Itoa(s.Sent)))
	fmt.Printf("  Failed:     %s\n", failedCell(s.Failed))
	if s.Cancelled {
		fmt.Printf("  Status:     %s\n", warnStyle.Render("cancelled"))
	}
	if s.InitiatorID != nil {
		fmt.Printf("  By user:    %d\n", *s.InitiatorID)
	}
	fmt.Printf("  Message:    %s\n", s.Message)
}

// ---- send ------------------------------------------------------------------

var (
	sendMessage   string
	sendMediaURL  string
	sendMediaPath string
	sendMediaFile string
	sendCountry   int64
	sendEvent     int64
	sendQuiet     bool
)

var campaignsSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a campaign through the running gateway",
	RunE:  runSend,
}

func init() {
	f := campaignsSendCmd.Flags()
	f.StringVarP(&sendMessage, "message", "m", "", "Message text")
	f.StringVar(&sendMediaURL, "media-url", "", "Attach media fetched by the bridge from a URL")
	f.StringVar(&sendMediaPath, "media-path", "", "Attach a file on the bridge host")
	f.StringVar(&sendMediaFile, "media-file", "", "Attach a local file, uploaded inline")
	f.Int64Var(&sendCountry, "country", 0, "Only clients from this country id")
	f.Int64Var(&sendEvent, "event", 0, "Only clients registered for this event id")
	f.BoolVarP(&sendQuiet, "quiet", "q", false, "Do not follow progress")
}

func buildCampaign() (broadcast.Campaign, error) {
	c := broadcast.Campaign{Message: sendMessage}
	if sendCountry != 0 {
		c.CountryID = &sendCountry
	}
	if sendEvent != 0 {
		c.EventID = &sendEvent
	}
	switch {
	case sendMediaFile != "":
		data, err := os.ReadFile(sendMediaFile)
		if err != nil {
			return c, fmt.Errorf("read media: %w", err)
		}
		c.Media = &broadcast.MediaPayload{
			Buffer:   base64.StdEncoding.EncodeToString(data),
			Mimetype: mime.TypeByExtension(filepath.Ext(sendMediaFile)),
			Filename: filepath.Base(sendMediaFile),
		}
	case sendMediaURL != "":
		c.Media = &broadcast.MediaPayload{URL: sendMediaURL}
	case sendMediaPath != "":
		c.Media = &broadcast.MediaPayload{Path: sendMediaPath}
	}
	if c.Message == "" && c.Media == nil {
		return c, errors.New("--message or a media flag is required")
	}
	return c, nil
}

func runSend(cmd *cobra.Command, _ []string) error {
	c, err := buildCampaign()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client := newAPIClient(cfg)

	ctx := cmd.Context()
	followCtx, stopFollow := context.WithCancel(ctx)
	defer stopFollow()
	followDone := make(chan struct{})
	if sendQuiet {
		close(followDone)
	} else {
		go func() {
			defer close(followDone)
			_ = client.stream(followCtx, "/api/broadcast/events", func(frame map[string]any) error {
				printProgress(frame)
				if frame["type"] == "finish" {
					return errStopStream
				}
				return nil
			})
		}()
		// The broadcast stream does not replay; let the subscription land first.
		time.Sleep(200 * time.Millisecond)
	}

	var sum broadcast.Summary
	sendErr := client.post(ctx, "/api/broadcast/send", c, &sum)
	if sendErr == nil && !sendQuiet {
		select {
		case <-followDone:
		case <-time.After(2 * time.Second):
		}
	}
	stopFollow()
	<-followDone
	if sendErr != nil {
		return sendErr
	}
	fmt.Println()
	printSummary(sum)
	return nil
}

func printProgress(frame map[string]any) {
	total, sent, failed := num(frame, "total"), num(frame, "sent"), num(frame, "failed")
	switch frame["type"] {
	case "start":
		fmt.Printf("%s Sending to %d recipients\n", logo, total)
	case "progress":
		cur, _ := frame["current"].(map[string]any)
		phone, _ := cur["phone"].(string)
		status := okStyle.Render("ok")
		if cur["status"] != broadcast.StatusOK {
			msg, _ := cur["error"].(string)
			status = errStyle.Render("failed") + " " + dimStyle.Render(msg)
		}
		fmt.Printf("  [%d/%d] %s %s\n", sent+failed, total, phone, status)
	case "finish":
		if cancelled, _ := frame["cancelled"].(bool); cancelled {
			fmt.Println(warnStyle.Render(fmt.Sprintf("Cancelled: %d sent, %d failed of %d", sent, failed, total)))
			return
		}
		fmt.Println(okStyle.Render(fmt.Sprintf("Done: %d sent, %d failed of %d", sent, failed, total)))
	}
}

func num(frame map[string]any, key string) int {
	f, _ := frame[key].(float64)
	return int(f)
}

// ---- cancel ----------------------------------------------------------------

var campaignsCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Stop the running campaign after the current recipient",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client := newAPIClient(cfg)
		var out struct {
			Cancelled bool `json:"cancelled"`
		}
		if err := client.post(cmd.Context(), "/api/broadcast/cancel", nil, &out); err != nil {
			return err
		}
		if !out.Cancelled {
			fmt.Println("No campaign is running.")
			return nil
		}
		fmt.Println(okStyle.Render("✓ Cancellation requested."))
		return nil
	},
}
