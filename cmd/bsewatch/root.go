package main

import (
	"context"

	"github.com/spf13/cobra"

	"bsewatch/internal/app"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "bsewatch",
		Short: "Exchange disclosure and price alert batches for Telegram subscribers",
		Long: `bsewatch polls the exchange announcements feed and a price chart API for the
instruments each subscriber watches, and delivers consolidated digests,
filings, evening summaries and spike alerts to their Telegram chats.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "./config.yaml", "path to config (yaml or json)")

	cmd.AddCommand(
		newServeCmd(opts),
		newRunCmd(opts),
		newRunsCmd(opts),
		newWatchCmd(opts),
		newRecipientCmd(opts),
	)
	return cmd
}

// withApp builds the app for a one-shot command and closes it afterwards.
func withApp(ctx context.Context, opts *rootOptions, fn func(a *app.App) error) error {
	a, err := app.New(ctx, opts.configPath)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
