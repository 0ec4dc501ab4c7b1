package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"bsewatch/internal/app"
	"bsewatch/internal/model"
	"bsewatch/internal/storage"
)

var errNoStorage = errors.New("storage disabled")

func storeOf(a *app.App) (storage.Store, error) {
	if st := a.Store(); st != nil {
		return st, nil
	}
	return nil, errNoStorage
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Manage the instruments a subscriber watches",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <subscriber> <exchange-code> [display name...]",
		Short: "Watch an instrument (updates the display name if already watched)",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				st, err := storeOf(a)
				if err != nil {
					return err
				}
				w := model.WatchedInstrument{
					SubscriberID: model.SubscriberID(args[0]),
					ExchangeCode: strings.TrimSpace(args[1]),
					DisplayName:  strings.TrimSpace(strings.Join(args[2:], " ")),
				}
				if err := st.AddWatched(cmd.Context(), w); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s now watches %s (%s)\n", w.SubscriberID, w.ExchangeCode, w.Name())
				return nil
			})
		},
	}, &cobra.Command{
		Use:   "rm <subscriber> <exchange-code>",
		Short: "Stop watching an instrument",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				st, err := storeOf(a)
				if err != nil {
					return err
				}
				ok, err := st.RemoveWatched(cmd.Context(), model.SubscriberID(args[0]), strings.TrimSpace(args[1]))
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("%s does not watch %s", args[0], args[1])
				}
				fmt.Fprintln(cmd.OutOrStdout(), "removed")
				return nil
			})
		},
	})
	return cmd
}

func newRecipientCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recipient",
		Short: "Manage the chats that receive a subscriber's alerts",
	}
	cmd.AddCommand(&cobra.Command{
		Use:                "add <subscriber> <chat-address>",
		Short:              "Deliver to a chat (moves it if another subscriber owns it)",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, raw []string) error {
			args, err := chatArgs(cmd, opts, raw, 2)
			if err != nil || args == nil {
				return err
			}
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				st, err := storeOf(a)
				if err != nil {
					return err
				}
				r := model.Recipient{SubscriberID: model.SubscriberID(args[0]), ChannelAddress: strings.TrimSpace(args[1])}
				prev, err := st.AddRecipient(cmd.Context(), r)
				if err != nil {
					return err
				}
				if prev != "" && prev != r.SubscriberID {
					fmt.Fprintf(cmd.OutOrStdout(), "%s moved from %s to %s\n", r.ChannelAddress, prev, r.SubscriberID)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s delivers to %s\n", r.SubscriberID, r.ChannelAddress)
				return nil
			})
		},
	}, &cobra.Command{
		Use:                "rm <chat-address>",
		Short:              "Stop delivering to a chat",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, raw []string) error {
			args, err := chatArgs(cmd, opts, raw, 1)
			if err != nil || args == nil {
				return err
			}
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				st, err := storeOf(a)
				if err != nil {
					return err
				}
				ok, err := st.RemoveRecipient(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("unknown chat %s", args[0])
				}
				fmt.Fprintln(cmd.OutOrStdout(), "removed")
				return nil
			})
		},
	})
	return cmd
}

// chatArgs parses the raw args of commands whose positionals may be negative
// chat ids, which pflag would otherwise read as shorthand flags. Only the
// config flag and help are recognised. A nil slice with nil error means help
// was printed.
func chatArgs(cmd *cobra.Command, opts *rootOptions, raw []string, want int) ([]string, error) {
	var args []string
	for i := 0; i < len(raw); i++ {
		a := raw[i]
		switch {
		case a == "--":
			args = append(args, raw[i+1:]...)
			i = len(raw)
		case a == "-h" || a == "--help":
			return nil, cmd.Help()
		case a == "-c" || a == "--config":
			if i+1 >= len(raw) {
				return nil, fmt.Errorf("flag needs an argument: %s", a)
			}
			i++
			opts.configPath = raw[i]
		case strings.HasPrefix(a, "--config="):
			opts.configPath = strings.TrimPrefix(a, "--config=")
		case strings.HasPrefix(a, "-c="):
			opts.configPath = strings.TrimPrefix(a, "-c=")
		default:
			args = append(args, a)
		}
	}
	if len(args) != want {
		return nil, fmt.Errorf("accepts %d arg(s), received %d", want, len(args))
	}
	return args, nil
}
