// Package cli implements the humanloop command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nhle/humanloop/internal/model"
)

// Version is set at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "humanloop",
		Short: "Ask a human and wait for the answer",
		Long: `humanloop lets an agent pause, send a question to a human over email
or a local mock chat, and resume once the reply arrives.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("config", "c", model.DefaultConfigPath(), "Path to config.yaml")

	root.AddCommand(
		newServeCmd(),
		newAskCmd(),
		newSendCmd(),
		newWaitCmd(),
		newSetupCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "humanloop "+Version)
		},
	}
}
