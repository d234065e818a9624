package main

import (
	"github.com/spf13/cobra"
)

var configPath string

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "pulsed",
		Short: "pulsed runs the Pulse playbook automation engine",
		Long: `pulsed is the worker daemon for the Pulse playbook engine. It ingests
churn-risk signals, matches them against configured playbooks, and
executes retention actions, with an operator approval queue in between.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to pulse.yaml")

	root.AddCommand(newServeCommand())
	root.AddCommand(newMigrateCommand())

	return root
}
