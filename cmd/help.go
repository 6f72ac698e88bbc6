package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

// Setup help command
func setupHelpCommand(rootCmd *cobra.Command) {
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		printHelpOrdered(cmd)
	})
	rootCmd.SetHelpCommand(&cobra.Command{
		Use:    "help",
		Short:  "Show help information",
		Hidden: false,
		Run: func(cmd *cobra.Command, args []string) {
			printHelpOrdered(cmd.Root())
		},
	})
	rootCmd.PersistentFlags().BoolP("help", "", false, "")
	rootCmd.PersistentFlags().MarkHidden("help")
}

// printHelpOrdered prints help with commands ordered by a custom priority
func printHelpOrdered(cmd *cobra.Command) {
	out := cmd.OutOrStdout()

	// Priority order for top-level commands
	priority := []string{"run", "devices", "settings", "version", "completion", "help"}
	priorityIndex := map[string]int{}
	for i, name := range priority {
		priorityIndex[name] = i
	}

	// Header
	if cmd.Long != "" {
		fmt.Fprintln(out, cmd.Long)
	} else if cmd.Short != "" {
		fmt.Fprintln(out, cmd.Short)
	}

	// Collect and sort available commands
	commands := []*cobra.Command{}
	for _, c := range cmd.Commands() {
		if !c.IsAvailableCommand() || c.Hidden {
			continue
		}
		commands = append(commands, c)
	}

	// Custom sort by priority, then by name
	sort.SliceStable(commands, func(i, j int) bool {
		ci, cj := commands[i], commands[j]
		pi, okI := priorityIndex[ci.Name()]
		pj, okJ := priorityIndex[cj.Name()]
		if okI && okJ {
			if pi == pj {
				return ci.Name() < cj.Name()
			}
			return pi < pj
		}
		if okI {
			return true
		}
		if okJ {
			return false
		}
		return ci.Name() < cj.Name()
	})

	fmt.Fprintln(out, "\nUsage:")
	fmt.Fprintf(out, "  %s [flags]\n", cmd.CommandPath())
	if len(commands) > 0 {
		fmt.Fprintf(out, "  %s [command]\n", cmd.CommandPath())

		fmt.Fprintln(out, "\nAvailable Commands:")
		for _, c := range commands {
			fmt.Fprintf(out, "  %-14s %s\n", c.Name(), c.Short)
		}
	}

	// Flags
	fmt.Fprintln(out, "\nFlags:")
	fmt.Fprint(out, cmd.LocalFlags().FlagUsages())
	if inherited := cmd.InheritedFlags().FlagUsages(); inherited != "" {
		fmt.Fprintln(out, "\nGlobal Flags:")
		fmt.Fprint(out, inherited)
	}

	if len(commands) > 0 {
		fmt.Fprintf(out, "\nUse \"%s [command] --help\" for more information about a command.\n", cmd.CommandPath())
	}
}
