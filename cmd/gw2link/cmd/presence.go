package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmcleod/gw2link/plugin"
)

var watchPresence bool

var presenceCmd = &cobra.Command{
	Use:   "presence",
	Short: "Show the local installation and whether the game is running",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		out := cmd.OutOrStdout()
		games, err := a.plugin.LocalGames(ctx)
		if err != nil {
			return err
		}
		if len(games) == 0 {
			fmt.Fprintln(out, "Guild Wars 2 is not installed")
		}
		for _, g := range games {
			fmt.Fprintf(out, "State:    %s\n", a.plugin.PollPresence(ctx))
			if size, ok, err := a.plugin.LocalSize(ctx, g.GameID); err == nil && ok {
				fmt.Fprintf(out, "Size:     %d bytes\n", size)
			}
		}
		if played, err := a.plugin.LastPlayed(ctx); err == nil && !played.IsZero() {
			fmt.Fprintf(out, "Played:   %s\n", played.Local().Format("2006-01-02 15:04:05"))
		}

		if !watchPresence {
			return nil
		}
		if err := a.plugin.Events().Subscribe(plugin.TopicLocalGameChanged, func(lg plugin.LocalGame) {
			fmt.Fprintf(out, "State:    %s\n", lg.State)
		}); err != nil {
			return err
		}
		return a.plugin.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(presenceCmd)
	presenceCmd.Flags().BoolVarP(&watchPresence, "watch", "w", false, "Keep polling and print state changes")
}
