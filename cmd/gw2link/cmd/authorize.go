package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/gw2link/account"
)

var authorizeCmd = &cobra.Command{
	Use:   "authorize [api-key]",
	Short: "Check an API key and show the account it belongs to",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		key := a.cfg.API.Key
		if len(args) == 1 {
			key = args[0]
		}

		outcome := a.account.Authorize(cmd.Context(), key)
		out := cmd.OutOrStdout()
		if outcome != account.OutcomeFinished {
			return fmt.Errorf("authorization failed: %s", outcome)
		}

		id := a.account.Identity()
		fmt.Fprintf(out, "Account:  %s (%s)\n", id.AccountName, id.AccountID)
		fmt.Fprintf(out, "Age:      %s\n", time.Duration(id.AgeSeconds)*time.Second)

		games, err := a.plugin.OwnedGames()
		if err != nil {
			return err
		}
		for _, g := range games {
			fmt.Fprintf(out, "License:  %s\n", g.License)
			titles := make([]string, 0, len(g.DLCs))
			for _, dlc := range g.DLCs {
				titles = append(titles, dlc.Title)
			}
			if len(titles) > 0 {
				fmt.Fprintf(out, "DLC:      %s\n", strings.Join(titles, ", "))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(authorizeCmd)
}
