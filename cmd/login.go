package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/crystaldolphin/whatscast/internal/session"
)

var loginTimeout time.Duration

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Pair the WhatsApp session by scanning a QR code in the terminal",
	RunE:  runLogin,
}

func init() {
	loginCmd.Flags().DurationVar(&loginTimeout, "timeout", 3*time.Minute, "Give up after this long")
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client := newAPIClient(cfg)
	ctx, cancel := context.WithTimeout(cmd.Context(), loginTimeout)
	defer cancel()

	var st session.Status
	if err := client.get(ctx, "/api/whatsapp/check", &st); err != nil {
		return err
	}
	if st.IsReady {
		fmt.Println(okStyle.Render("✓ Session already ready."))
		return nil
	}
	if err := client.get(ctx, "/api/whatsapp/auth", &st); err != nil {
		return err
	}
	fmt.Printf("%s Waiting for the pairing code (state %s)...\n", logo, stateStyle(st.State.String()))

	lastCode := ""
	err = client.stream(ctx, "/api/whatsapp/qr", func(frame map[string]any) error {
		kind, _ := frame["type"].(string)
		switch kind {
		case "qr":
			code, _ := frame["code"].(string)
			if code == "" || code == lastCode {
				return nil
			}
			lastCode = code
			return printQR(code)
		case "authenticated":
			fmt.Println(okStyle.Render("✓ Scanned, finishing login..."))
		case "ready":
			fmt.Println(okStyle.Render("✓ Session ready."))
			return errStopStream
		case "auth_failure":
			reason, _ := frame["data"].(string)
			fmt.Println(errStyle.Render("✗ Authentication failed: ") + reason)
			if err := client.get(ctx, "/api/whatsapp/check", &st); err != nil {
				return err
			}
			if !st.IsInitializing {
				return fmt.Errorf("login failed: %s", reason)
			}
		case "disconnected":
			reason, _ := frame["data"].(string)
			fmt.Println(warnStyle.Render("! Disconnected: ") + reason)
		}
		return nil
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("login timed out after %s", loginTimeout)
	}
	return err
}

func printQR(code string) error {
	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("render qr: %w", err)
	}
	fmt.Println()
	fmt.Print(qr.ToSmallString(false))
	fmt.Println(dimStyle.Render("Scan with WhatsApp > Linked devices > Link a device"))
	return nil
}
