package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/babelcloud/gbox/packages/headunit/config"
	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/core"
	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/usb"
	"github.com/babelcloud/gbox/packages/headunit/internal/util"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type DevicesOptions struct {
	OutputFormat string
	All          bool
}

func NewDevicesCommand() *cobra.Command {
	opts := &DevicesOptions{}

	cmd := &cobra.Command{
		Use:     "devices [flags]",
		Aliases: []string{"ls"},
		Short:   "List attached USB accessories",
		Long:    "List attached USB devices and whether the head unit can use them.",
		RunE: func(cmd *cobra.Command, args []string) error {
			watcher := usb.NewWatcher(usb.Config{
				SysfsRoot: config.GetSysfsRoot(),
				DevRoot:   config.GetDevRoot(),
			})
			return ExecuteDevices(cmd.OutOrStdout(), watcher, opts)
		},
		Example: `  # List eligible accessories:
  headunit devices

  # List every USB device in JSON format:
  headunit devices --all --format json`,
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.OutputFormat, "format", "", "text", "Specify output format. Options are \"text\" (default) or \"json\".")
	flags.BoolVarP(&opts.All, "all", "a", false, "Include devices that are not accessories")

	cmd.RegisterFlagCompletionFunc("format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"text", "json"}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

// deviceLister is the part of usb.Watcher the devices command needs.
type deviceLister interface {
	Devices() ([]core.DeviceHandle, error)
}

func ExecuteDevices(out io.Writer, lister deviceLister, opts *DevicesOptions) error {
	devices, err := lister.Devices()
	if err != nil {
		return errors.Wrap(err, "failed to list usb devices")
	}
	if !opts.All {
		eligible := devices[:0]
		for _, d := range devices {
			if d.Eligible() {
				eligible = append(eligible, d)
			}
		}
		devices = eligible
	}

	switch opts.OutputFormat {
	case "json":
		data, err := json.MarshalIndent(devices, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal devices to JSON")
		}
		fmt.Fprintln(out, string(data))
		return nil
	case "text", "":
	default:
		return errors.Errorf("unknown output format %q", opts.OutputFormat)
	}

	if len(devices) == 0 {
		fmt.Fprintln(out, "No accessories found.")
		color.New(color.Faint).Fprintln(out, "Make sure the accessory is plugged in and that its vendor id is 1314.")
		return nil
	}

	columns := []util.TableColumn{
		{Header: "PATH", Key: "path"},
		{Header: "ID", Key: "id"},
		{Header: "BUS", Key: "bus"},
		{Header: "ADDRESS", Key: "address"},
		{Header: "STATUS", Key: "status"},
	}
	rows := make([]map[string]interface{}, 0, len(devices))
	for _, d := range devices {
		rows = append(rows, map[string]interface{}{
			"path":    color.New(color.FgCyan).Sprint(d.Path),
			"id":      fmt.Sprintf("%04x:%04x", d.VendorID, d.ProductID),
			"bus":     d.Bus,
			"address": d.Address,
			"status":  deviceStatus(d),
		})
	}
	util.RenderTable(out, columns, rows)
	return nil
}

func deviceStatus(d core.DeviceHandle) string {
	switch {
	case d.Selectable():
		return color.GreenString("accessory")
	case d.Eligible():
		return color.YellowString("eligible")
	default:
		return color.New(color.Faint).Sprint("ignored")
	}
}
