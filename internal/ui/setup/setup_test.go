package setup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/humanloop/internal/model"
)

func baseConfig() *model.AppConfig {
	cfg := &model.AppConfig{Channel: "email"}
	cfg.Email.IMAP.Port = 993
	cfg.Email.SMTP.Port = 587
	cfg.Email.IMAP.TLS = true
	cfg.Webhook.Addr = ":8080"
	return cfg
}

func TestApplyEmail(t *testing.T) {
	cfg := baseConfig()
	v := FromConfig(cfg)
	assert.Equal(t, "993", v.IMAPPort)

	v.Recipient = " human@example.com "
	v.IMAPHost = "imap.example.com"
	v.SMTPHost = "smtp.example.com"
	v.SMTPPort = "465"
	v.Username = "agent@example.com"
	v.Password = "secret"

	require.NoError(t, v.Apply(cfg))
	assert.Equal(t, "human@example.com", cfg.Email.Recipient)
	assert.Equal(t, 465, cfg.Email.SMTP.Port)
	assert.Equal(t, "agent@example.com", cfg.Email.SMTP.Username)
	assert.Empty(t, cfg.Email.IMAP.Password)
	assert.Empty(t, cfg.Email.SMTP.Password)
	assert.True(t, cfg.Email.SMTP.Secure)
}

func TestApplyMockChatLeavesEmailUntouched(t *testing.T) {
	cfg := baseConfig()
	cfg.Email.IMAP.Host = "imap.example.com"

	v := FromConfig(cfg)
	v.Channel = "mockchat"
	v.IMAPPort = "not a port"
	v.Addr = "127.0.0.1:9090"

	require.NoError(t, v.Apply(cfg))
	assert.Equal(t, "mockchat", cfg.Channel)
	assert.Equal(t, "127.0.0.1:9090", cfg.Webhook.Addr)
	assert.Equal(t, "imap.example.com", cfg.Email.IMAP.Host)
}

func TestApplyRejectsBadPort(t *testing.T) {
	v := FromConfig(baseConfig())
	v.SMTPPort = "70000"
	require.ErrorContains(t, v.Apply(baseConfig()), "SMTP port")
}

func TestValidators(t *testing.T) {
	assert.NoError(t, validatePort("993"))
	assert.Error(t, validatePort(""))
	assert.Error(t, validatePort("99x"))
	assert.Error(t, validatePort("0"))

	assert.NoError(t, validateAddress("Human <human@example.com>"))
	assert.Error(t, validateAddress(""))
	assert.Error(t, validateAddress("not-an-address"))
	assert.NoError(t, validateOptionalAddress(""))

	assert.Error(t, validateRequired("Host")("  "))
}

func TestFormBuilds(t *testing.T) {
	require.NotNil(t, Form(FromConfig(baseConfig())))
}

func TestFromConfigNormalizesChannel(t *testing.T) {
	cfg := baseConfig()
	cfg.Channel = "Email "

	v := FromConfig(cfg)
	assert.Equal(t, "email", v.Channel)
	assert.True(t, v.emailChannel())
}
