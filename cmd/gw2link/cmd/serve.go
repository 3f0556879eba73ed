package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/gw2link/config"
	"github.com/jmcleod/gw2link/plugin"
)

var loginPoll = time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Log in and keep presence and achievements in sync until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Graceful shutdown on SIGINT/SIGTERM.
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			a.close(shutdownCtx)
		}()

		out := cmd.OutOrStdout()
		printBanner(out)

		auth, err := authenticate(ctx, a, out)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Logged in as %s\n", auth.UserName)

		events := a.plugin.Events()
		if err := events.Subscribe(plugin.TopicLocalGameChanged, func(lg plugin.LocalGame) {
			a.logger.Info("local game changed", "game", lg.GameID, "state", lg.State.String())
		}); err != nil {
			return err
		}
		if err := events.Subscribe(plugin.TopicAchievementUnlocked, func(gameID string, ach plugin.Achievement) {
			a.logger.Info("achievement unlocked", "game", gameID, "achievement", ach.ID, "name", ach.Name)
		}); err != nil {
			return err
		}
		// Background new-achievement checks start after the first import.
		if _, err := a.plugin.UnlockedAchievements(ctx, plugin.GameID); err != nil {
			return err
		}

		if err := a.plugin.Run(ctx); err != nil {
			return fmt.Errorf("background tasks failed: %w", err)
		}
		fmt.Fprintln(out, "\nShutting down...")
		return nil
	},
}

// authenticate uses the configured key when there is one and otherwise runs
// the browser handoff, waiting until the user has submitted a working key.
func authenticate(ctx context.Context, a *app, out io.Writer) (*plugin.Authentication, error) {
	stored := plugin.Credentials{}
	if a.cfg.API.Key != "" {
		stored[plugin.CredentialAPIKey] = a.cfg.API.Key
	}
	auth, next, err := a.plugin.Authenticate(ctx, stored)
	if err != nil || next == nil {
		return auth, err
	}

	fmt.Fprintf(out, "Open %s in a browser and paste your API key.\n", next.Params.StartURI)
	ticker := time.NewTicker(loginPoll)
	defer ticker.Stop()
	for a.account.Identity() == nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	auth, _, err = a.plugin.PassLoginCredentials(ctx)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "Set %sAPI_KEY to skip the browser login next time.\n", config.EnvPrefix)
	return auth, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
