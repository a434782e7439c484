package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	hsync "github.com/nhle/humanloop/internal/sync"
	"github.com/nhle/humanloop/internal/webhook"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Listen for replies and serve the webhook relay",
		Long: `serve starts the reply listener for the configured channel, the HTTP
webhook relay and the retention janitor, and runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().String("addr", "", "Override webhook.addr")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	addr := rt.cfg.Webhook.Addr
	if flagAddr, _ := cmd.Flags().GetString("addr"); flagAddr != "" {
		addr = flagAddr
	}

	coord := rt.coordinator()
	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("starting %s listener: %w", rt.conn.Type(), err)
	}
	defer coord.Stop()

	janitor, err := hsync.NewJanitor(
		rt.cfg.Retention.Schedule,
		time.Duration(rt.cfg.Retention.MaxAgeHours)*time.Hour,
		rt.store,
		rt.logger,
	)
	if err != nil {
		return err
	}
	janitor.Start()
	defer janitor.Stop()

	opts := []webhook.Option{webhook.WithLogger(rt.logger)}
	if rt.chat != nil {
		opts = append(opts, webhook.WithChat(rt.chat))
	}
	srv := webhook.New(rt.store, coord, opts...)

	rt.logger.Info("humanloop serving", "channel", rt.conn.Type(), "addr", addr)
	if rt.email != nil {
		go watchListener(ctx, rt)
	}
	return srv.ListenAndServe(ctx, addr)
}

// watchListener logs when the email listener gives up reconnecting.
func watchListener(ctx context.Context, rt *runtime) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := rt.email.Err(); err != nil {
				rt.logger.Error("email listener stopped", "state", rt.email.State(), "error", err)
				return
			}
		}
	}
}
