package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/gw2link/plugin"
)

var achievementsCmd = &cobra.Command{
	Use:   "achievements",
	Short: "List the account's completed achievements",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		if _, err := a.login(cmd.Context()); err != nil {
			return err
		}
		achievements, err := a.plugin.UnlockedAchievements(cmd.Context(), plugin.GameID)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tFIRST SEEN")
		for _, ach := range achievements {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", ach.ID, ach.Name, ach.UnlockedAt.Format(time.RFC3339))
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(achievementsCmd)
}
