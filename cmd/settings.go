package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/babelcloud/gbox/packages/headunit/config"
	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/core"
	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/settings"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func NewSettingsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect the settings channel",
		Long:  `Connect to a running head unit's settings channel the way a display client does.`,
	}
	cmd.AddCommand(newSettingsWatchCommand())
	return cmd
}

func newSettingsWatchCommand() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print settings and notifications as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client, err := settings.Dial(ctx, settings.ClientConfig{
				Host:        host,
				Port:        port,
				MaxAttempts: config.GetClientMaxAttempts(),
			})
			if err != nil {
				return err
			}
			defer client.Close()
			return watchSettings(ctx, cmd.OutOrStdout(), client)
		},
		Example: `  # Follow the head unit on the default port
  headunit settings watch

  # Follow a head unit on another host
  headunit settings watch --host 192.168.1.20 --port 4000`,
	}

	flags := cmd.Flags()
	flags.StringVar(&host, "host", settings.ReachableHost(config.GetSettingsHost()), "Settings server host")
	flags.IntVarP(&port, "port", "p", config.GetSettingsPort(), "First port to try")

	return cmd
}

// watchSettings prints what a display client would receive until ctx is done.
func watchSettings(ctx context.Context, out io.Writer, client *settings.Client) error {
	fmt.Fprintf(out, "Connected on port %s\n", color.CyanString("%d", client.Port()))

	sub := client.Settings().Subscribe(func(cfg core.SessionConfig) {
		data, err := json.Marshal(cfg)
		if err != nil {
			return
		}
		fmt.Fprintf(out, "%s %s\n", color.GreenString("settings"), data)
	})
	defer client.Settings().Unsubscribe(sub)

	client.OnNotification(func(event string, value bool) {
		c := color.New(color.Faint)
		if value {
			c = color.New(color.FgYellow)
		}
		fmt.Fprintf(out, "%s %t\n", c.Sprint(event), value)
	})
	client.OnStream(func(data json.RawMessage) {
		fmt.Fprintf(out, "%s %s\n", color.CyanString("stream"), data)
	})

	err := client.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
