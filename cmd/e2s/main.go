// Command e2s bundles the developer utilities: waiting for a server,
// smoke-testing the auth flow, and running migrations or seeds.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	log     *logrus.Logger
}

// NewRootCommand creates the root command for the e2s CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{log: logrus.New()}

	cmd := &cobra.Command{
		Use:           "e2s",
		Short:         "Envie2Sortir developer tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			opts.log.SetOutput(cmd.ErrOrStderr())
			if opts.Verbose {
				opts.log.SetLevel(logrus.DebugLevel)
			}
		},
	}
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewWaitCommand(opts))
	cmd.AddCommand(NewSmokeAuthCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	return cmd
}

func main() {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		logrus.WithError(err).Error("e2s failed")
		os.Exit(1)
	}
}
