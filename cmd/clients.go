package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crystaldolphin/whatscast/internal/store"
)

var clientsCmd = &cobra.Command{
	Use:   "clients",
	Short: "Manage the client directory campaigns are sent to",
}

func init() {
	clientsCmd.AddCommand(clientsAddCmd)
	clientsCmd.AddCommand(countryAddCmd)
	clientsCmd.AddCommand(eventAddCmd)
}

var (
	clientName    string
	clientEmail   string
	clientCaption string
	clientCountry int64
	clientEvents  []int
)

var clientsAddCmd = &cobra.Command{
	Use:   "add <phone>",
	Short: "Add a client, or update the one with the same phone",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		c := store.Client{
			Name:     clientName,
			Email:    clientEmail,
			Phone:    args[0],
			Caption:  clientCaption,
		}
		for _, ev := range clientEvents {
			c.EventIDs = append(c.EventIDs, int64(ev))
		}
		if clientCountry != 0 {
			c.CountryID = &clientCountry
		}
		id, err := st.SaveClient(cmd.Context(), c)
		if err != nil {
			return err
		}
		fmt.Printf("%s Saved client %d (%s)\n", okStyle.Render("✓"), id, c.Phone)
		return nil
	},
}

func init() {
	f := clientsAddCmd.Flags()
	f.StringVarP(&clientName, "name", "n", "", "Display name")
	f.StringVar(&clientEmail, "email", "", "Email address")
	f.StringVar(&clientCaption, "caption", "", "Free-form note")
	f.Int64Var(&clientCountry, "country", 0, "Country id")
	f.IntSliceVar(&clientEvents, "event", nil, "Event id (repeatable)")
}

var countryAddCmd = &cobra.Command{
	Use:   "add-country <name>",
	Short: "Add a country to filter campaigns by",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return addNamed(cmd, "country", args[0], (*store.Store).AddCountry)
	},
}

var eventAddCmd = &cobra.Command{
	Use:   "add-event <name>",
	Short: "Add an event to filter campaigns by",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return addNamed(cmd, "event", args[0], (*store.Store).AddEvent)
	},
}

func addNamed(cmd *cobra.Command, kind, name string, add func(*store.Store, context.Context, string) (int64, error)) error {
	if name == "" {
		return errors.New(kind + " name is required")
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

	id, err := add(st, cmd.Context(), name)
	if err != nil {
		return err
	}
	fmt.Printf("%s Added %s %d (%s)\n", okStyle.Render("✓"), kind, id, name)
	return nil
}
