package cmd

import (
	"fmt"

	"github.com/babelcloud/gbox/packages/headunit/config"
	"github.com/babelcloud/gbox/packages/headunit/internal/util"
	"github.com/babelcloud/gbox/packages/headunit/internal/version"
	"github.com/spf13/cobra"
)

var rootCmd = NewRootCommand()

func Execute() error {
	return rootCmd.Execute()
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	var (
		verbose    bool
		configFile string
	)

	cmd := &cobra.Command{
		Use:   "headunit",
		Short: "Head-unit emulator for phone mirroring accessories",
		Long:  `headunit attaches to a phone-mirroring USB accessory, renders its video, plays its audio and forwards input back to the phone.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			util.InitLoggerTo(cmd.ErrOrStderr(), verbose)
			util.SetupGlobalLogger()
			if configFile != "" {
				return config.SetConfigFile(configFile)
			}
			return nil
		},
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flag("version").Changed {
				fmt.Fprintln(cmd.OutOrStdout(), version.Short())
				return nil
			}
			return cmd.Help()
		},
	}

	cmd.Flags().BoolP("version", "v", false, "Print version information and exit")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "V", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: search ., $XDG_CONFIG_HOME/headunit, /etc/headunit)")

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewDevicesCommand())
	cmd.AddCommand(NewSettingsCommand())
	cmd.AddCommand(NewVersionCommand())

	setupHelpCommand(cmd)
	return cmd
}
