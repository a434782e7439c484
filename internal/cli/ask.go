package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/humanloop/internal/model"
	"github.com/nhle/humanloop/internal/ui/wait"
)

func newAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Send a question and print the answer",
		Long: `ask sends the question through the configured channel, waits for the
reply and prints it to stdout. With --no-listen the answer is expected to
arrive through a running 'humanloop serve'.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runAsk,
	}
	cmd.Flags().Bool("tui", false, "Show a spinner while waiting")
	cmd.Flags().Duration("timeout", 0, "Give up after this long (0 uses ask.timeout_sec)")
	cmd.Flags().Bool("no-listen", false, "Do not start a listener, only watch the store")
	return cmd
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return errors.New("question is empty")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout == 0 {
		timeout = time.Duration(rt.cfg.Ask.TimeoutSec) * time.Second
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	coord := rt.coordinator()
	noListen, _ := cmd.Flags().GetBool("no-listen")
	if !noListen {
		if err := coord.Start(ctx); err != nil {
			return fmt.Errorf("starting %s listener: %w", rt.conn.Type(), err)
		}
		defer coord.Stop()
	}

	ask := func(ctx context.Context) (*model.Task, error) {
		return coord.Ask(ctx, question)
	}

	var task *model.Task
	if tui, _ := cmd.Flags().GetBool("tui"); tui {
		task, err = wait.Run(ctx, question, string(rt.conn.Type()), ask)
	} else {
		task, err = ask(ctx)
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), task.Answer)
	return nil
}
