package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nhle/humanloop/internal/channel/email"
)

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <identifier> <message>",
		Short: "Send one email tagged with an identifier",
		Long: `send delivers a single message with the subject "Support request: [#<identifier>]"
without creating a task or waiting for a reply.`,
		Args: cobra.MinimumNArgs(2),
		RunE: runSend,
	}
	cmd.Flags().StringSlice("to", nil, "Recipients (default email.recipient)")
	cmd.Flags().StringSlice("cc", nil, "Cc recipients")
	cmd.Flags().String("from", "", "Sender address")
	cmd.Flags().String("reply-to", "", "Reply-To address")
	return cmd
}

func sendOptions(cmd *cobra.Command) []email.SendOption {
	var opts []email.SendOption
	if to, _ := cmd.Flags().GetStringSlice("to"); len(to) > 0 {
		opts = append(opts, email.WithRecipient(to...))
	}
	if cc, _ := cmd.Flags().GetStringSlice("cc"); len(cc) > 0 {
		opts = append(opts, email.WithCc(cc...))
	}
	if from, _ := cmd.Flags().GetString("from"); from != "" {
		opts = append(opts, email.WithFrom(from))
	}
	if replyTo, _ := cmd.Flags().GetString("reply-to"); replyTo != "" {
		opts = append(opts, email.WithReplyTo(replyTo))
	}
	return opts
}

func runSend(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.email == nil {
		return errors.New(`send requires channel "email"`)
	}

	identifier := args[0]
	message := strings.Join(args[1:], " ")
	if err := rt.email.SendEmail(cmd.Context(), identifier, message, sendOptions(cmd)...); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "sent", email.Subject(identifier))
	return nil
}
