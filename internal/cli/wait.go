package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newWaitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wait <task-id>",
		Short: "Wait for the answer to an existing task",
		Long: `wait blocks until the task is answered, watching the store for answers
recorded by a running 'humanloop serve'. The task is left pending if wait
is interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: runWait,
	}
}

func runWait(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	task, err := rt.coordinator().Wait(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), task.Answer)
	return nil
}
