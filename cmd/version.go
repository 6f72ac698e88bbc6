package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/babelcloud/gbox/packages/headunit/internal/version"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func NewVersionCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Info()
			out := cmd.OutOrStdout()
			switch format {
			case "json":
				data, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return errors.Wrap(err, "failed to marshal version info")
				}
				fmt.Fprintln(out, string(data))
			case "text", "":
				fmt.Fprintf(out, "Version:     %s\n", info["Version"])
				fmt.Fprintf(out, "Protocol:    %s\n", info["Protocol"])
				fmt.Fprintf(out, "Git commit:  %s\n", info["GitCommit"])
				fmt.Fprintf(out, "Built:       %s\n", info["FormattedTime"])
				fmt.Fprintf(out, "Go version:  %s\n", info["GoVersion"])
				fmt.Fprintf(out, "OS/Arch:     %s/%s\n", info["OS"], info["Arch"])
			default:
				return errors.Errorf("unknown output format %q", format)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "Output format, text or json")
	return cmd
}
