package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nhle/humanloop/internal/credential"
	"github.com/nhle/humanloop/internal/model"
	"github.com/nhle/humanloop/internal/ui/setup"
)

func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactively write the configuration file",
		Args:  cobra.NoArgs,
		RunE:  runSetup,
	}
}

func runSetup(cmd *cobra.Command, _ []string) error {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := model.LoadConfig(path)
	if err != nil {
		return err
	}

	values := setup.FromConfig(cfg)
	if err := setup.Form(values).Run(); err != nil {
		return fmt.Errorf("setup form: %w", err)
	}
	if err := values.Apply(cfg); err != nil {
		return err
	}

	if values.Password != "" {
		vault, err := credential.Open()
		if err != nil {
			return err
		}
		if err := storePassword(vault, values.Password); err != nil {
			return err
		}
	}

	if err := model.SaveConfig(path, cfg); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "configuration written to", path)
	return nil
}

// storePassword saves the shared mail password under both keyring keys.
func storePassword(vault *credential.Vault, password string) error {
	for _, key := range []string{credential.KeySMTPPassword, credential.KeyIMAPPassword} {
		if err := vault.Set(key, password); err != nil {
			return err
		}
	}
	return nil
}
