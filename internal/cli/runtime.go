package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/humanloop/internal/channel"
	"github.com/nhle/humanloop/internal/channel/email"
	"github.com/nhle/humanloop/internal/channel/mockchat"
	"github.com/nhle/humanloop/internal/credential"
	"github.com/nhle/humanloop/internal/loop"
	"github.com/nhle/humanloop/internal/model"
	"github.com/nhle/humanloop/internal/store"
)

// runtime holds what every command needs: config, logger, store and the
// selected channel.
type runtime struct {
	cfg    *model.AppConfig
	logger *slog.Logger
	store  *store.SQLiteStore
	conn   channel.Connector
	email  *email.Connector
	chat   *mockchat.Connector
}

func parseLogLevel(input string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", input)
	}
}

func newLogger(cfg model.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := parseLogLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.Format)
	}
}

func loadConfig(cmd *cobra.Command) (*model.AppConfig, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return model.LoadConfig(path)
}

// resolvePasswords fills empty mail passwords from the environment or the
// keyring. A keyring that cannot be opened is skipped.
func resolvePasswords(cfg *model.EmailConfig, vault *credential.Vault) error {
	var err error
	cfg.SMTP.Password, err = vault.Resolve(cfg.SMTP.Password, credential.PasswordEnv, credential.KeySMTPPassword)
	if err != nil {
		return fmt.Errorf("resolving SMTP password: %w", err)
	}
	cfg.IMAP.Password, err = vault.Resolve(cfg.IMAP.Password, credential.PasswordEnv, credential.KeyIMAPPassword)
	if err != nil {
		return fmt.Errorf("resolving IMAP password: %w", err)
	}
	return nil
}

// buildRegistry creates the connector for the configured channel. The
// email connector is only built when selected, since its settings are
// validated eagerly.
func buildRegistry(cfg *model.AppConfig, st store.Store, vault *credential.Vault, logger *slog.Logger) (*channel.Registry, error) {
	reg := channel.NewRegistry(mockchat.New(st, mockchat.WithLogger(logger)))

	if channel.ParseType(cfg.Channel) == channel.TypeEmail {
		if err := resolvePasswords(&cfg.Email, vault); err != nil {
			return nil, err
		}
		conn, err := email.New(cfg.Email.Settings(), email.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		reg.Register(conn)
	}
	return reg, nil
}

func openRuntime(cmd *cobra.Command) (*runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	st, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	selected := channel.ParseType(cfg.Channel)

	var vault *credential.Vault
	if selected == channel.TypeEmail {
		if vault, err = credential.Open(); err != nil {
			logger.Debug("keyring unavailable", "error", err)
			vault = nil
		}
	}

	reg, err := buildRegistry(cfg, st, vault, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	conn, err := reg.Resolve(selected)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("channel %q (available: %v): %w", cfg.Channel, reg.Types(), err)
	}

	rt := &runtime{
		cfg:    cfg,
		logger: logger,
		store:  st,
		conn:   conn,
	}
	rt.email, _ = conn.(*email.Connector)
	rt.chat, _ = conn.(*mockchat.Connector)
	return rt, nil
}

func (r *runtime) coordinator() *loop.Coordinator {
	return loop.New(r.store, r.conn,
		loop.WithLogger(r.logger),
		loop.WithAnswerPollInterval(time.Duration(r.cfg.Ask.AnswerPollIntervalSec)*time.Second),
	)
}

func (r *runtime) Close() {
	if err := r.store.Close(); err != nil {
		r.logger.Warn("closing store", "error", err)
	}
}
