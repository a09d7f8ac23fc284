package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/oklog/run"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var channelQuality string

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "Manage the channels watched by the monitor",
}

var channelsAddCmd = &cobra.Command{
	Use:   "add <channel>",
	Short: "Watch a channel by id, URL or @handle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		ch, err := a.automation.AddChannel(cmd.Context(), userID, args[0], channelQuality)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (%s) from %d uploads at %s\n", ch.Name, ch.ChannelID, ch.LastVideoCount, ch.Quality)
		return nil
	},
}

var channelsRemoveCmd = &cobra.Command{
	Use:   "remove <channel-id>",
	Short: "Stop watching a channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())
		return a.automation.RemoveChannel(cmd.Context(), userID, args[0])
	},
}

var channelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the watched channels",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		channels, err := a.store.ListChannels(cmd.Context(), userID)
		if err != nil {
			return err
		}
		if len(channels) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No channels configured.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CHANNEL ID\tNAME\tBASELINE\tQUALITY\tLAST CHECKED")
		for _, ch := range channels {
			checked := "never"
			if !ch.LastChecked.IsZero() {
				checked = ch.LastChecked.Local().Format(time.DateTime)
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", ch.ChannelID, ch.Name, ch.LastVideoCount, ch.Quality, checked)
		}
		return w.Flush()
	},
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch the configured channels in the foreground",
	Long: `monitor runs the automation loop of --user until interrupted: every
cycle it compares each channel's upload count with its baseline and
relays the new uploads.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	channelsAddCmd.Flags().StringVarP(&channelQuality, "quality", "q", "", "relay quality such as 720p (default: automation.default_quality)")
	channelsCmd.AddCommand(channelsAddCmd, channelsRemoveCmd, channelsListCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.Close(ctx)
	}()

	if err := a.automation.Start(ctx, userID); err != nil {
		return err
	}

	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	{
		waitCtx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				return a.automation.Wait(waitCtx, userID)
			},
			func(error) {
				if err := a.automation.Stop(context.Background(), userID); err != nil {
					log.Debugf("monitor: stop: %v", err)
				}
				cancel()
			},
		)
	}

	err = g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
