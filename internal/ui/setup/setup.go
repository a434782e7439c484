// Package setup is the interactive first-run form that writes the
// configuration file and stores the mail password in the OS keyring.
package setup

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/humanloop/internal/channel"
	"github.com/nhle/humanloop/internal/model"
)

// Values holds the form fields. huh binds to these.
type Values struct {
	Channel   string
	Recipient string
	From      string
	IMAPHost  string
	IMAPPort  string
	SMTPHost  string
	SMTPPort  string
	Username  string
	Password  string
	TLS       bool
	Addr      string
}

// FromConfig seeds the form with the current configuration.
func FromConfig(cfg *model.AppConfig) *Values {
	return &Values{
		Channel:   string(channel.ParseType(cfg.Channel)),
		Recipient: cfg.Email.Recipient,
		From:      cfg.Email.From,
		IMAPHost:  cfg.Email.IMAP.Host,
		IMAPPort:  strconv.Itoa(cfg.Email.IMAP.Port),
		SMTPHost:  cfg.Email.SMTP.Host,
		SMTPPort:  strconv.Itoa(cfg.Email.SMTP.Port),
		Username:  cfg.Email.IMAP.Username,
		TLS:       cfg.Email.IMAP.TLS,
		Addr:      cfg.Webhook.Addr,
	}
}

func (v *Values) emailChannel() bool {
	return channel.ParseType(v.Channel) == channel.TypeEmail
}

// Form builds the setup form bound to v.
func Form(v *Values) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Channel").
				Description("Where questions are sent").
				Options(
					huh.NewOption("Email - SMTP out, IMAP replies", string(channel.TypeEmail)),
					huh.NewOption("Mock chat - local web relay", string(channel.TypeMockChat)),
				).
				Value(&v.Channel),
			huh.NewInput().
				Title("Webhook address").
				Description("Listen address for the HTTP relay").
				Placeholder(":8080").
				Value(&v.Addr).
				Validate(validateRequired("Webhook address")),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Recipient").
				Description("Who answers the questions").
				Placeholder("human@example.com").
				Value(&v.Recipient).
				Validate(validateAddress),
			huh.NewInput().
				Title("From").
				Description("Sender address, defaults to the username").
				Placeholder("agent@example.com").
				Value(&v.From).
				Validate(validateOptionalAddress),
			huh.NewInput().
				Title("IMAP Host").
				Placeholder("imap.example.com").
				Value(&v.IMAPHost).
				Validate(validateRequired("IMAP Host")),
			huh.NewInput().
				Title("IMAP Port").
				Placeholder("993").
				Value(&v.IMAPPort).
				Validate(validatePort),
			huh.NewInput().
				Title("SMTP Host").
				Placeholder("smtp.example.com").
				Value(&v.SMTPHost).
				Validate(validateRequired("SMTP Host")),
			huh.NewInput().
				Title("SMTP Port").
				Placeholder("465").
				Value(&v.SMTPPort).
				Validate(validatePort),
			huh.NewInput().
				Title("Username").
				Description("Mail account used for both servers").
				Placeholder("agent@example.com").
				Value(&v.Username).
				Validate(validateRequired("Username")),
			huh.NewInput().
				Title("Password").
				Description("Stored in the OS keyring, not in the config file").
				EchoMode(huh.EchoModePassword).
				Value(&v.Password).
				Validate(validateRequired("Password")),
			huh.NewConfirm().
				Title("Use TLS").
				Affirmative("Yes").
				Negative("No").
				Value(&v.TLS),
		).WithHideFunc(func() bool { return !v.emailChannel() }),
	)
}

// Apply copies the form values into cfg. The password is not copied; the
// caller stores it in the keyring.
func (v *Values) Apply(cfg *model.AppConfig) error {
	cfg.Channel = v.Channel
	cfg.Webhook.Addr = strings.TrimSpace(v.Addr)
	if !v.emailChannel() {
		return nil
	}

	imapPort, err := parsePort(v.IMAPPort)
	if err != nil {
		return fmt.Errorf("IMAP port: %w", err)
	}
	smtpPort, err := parsePort(v.SMTPPort)
	if err != nil {
		return fmt.Errorf("SMTP port: %w", err)
	}

	e := &cfg.Email
	e.Recipient = strings.TrimSpace(v.Recipient)
	e.From = strings.TrimSpace(v.From)
	e.IMAP.Host = strings.TrimSpace(v.IMAPHost)
	e.IMAP.Port = imapPort
	e.IMAP.Username = strings.TrimSpace(v.Username)
	e.IMAP.Password = ""
	e.IMAP.TLS = v.TLS
	e.SMTP.Host = strings.TrimSpace(v.SMTPHost)
	e.SMTP.Port = smtpPort
	e.SMTP.Username = e.IMAP.Username
	e.SMTP.Password = ""
	e.SMTP.Secure = v.TLS
	return nil
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

func validateAddress(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("address is required")
	}
	return validateOptionalAddress(s)
}

func validateOptionalAddress(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if _, err := mail.ParseAddress(s); err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}
	return nil
}

func validatePort(s string) error {
	_, err := parsePort(s)
	return err
}

func parsePort(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("port is required")
	}
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("port must be a number")
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port must be between 1 and 65535")
	}
	return port, nil
}
