package email

import (
	"fmt"
	"sort"

	"github.com/emersion/go-message/mail"
	"github.com/xeipuuv/gojsonschema"
)

const endpointSchema = `{
	"type": "object",
	"required": ["host", "port", "username", "password"],
	"properties": {
		"host":     {"type": "string", "minLength": 1},
		"port":     {"type": "integer", "minimum": 1, "maximum": 65535},
		"username": {"type": "string", "minLength": 1},
		"password": {"type": "string", "minLength": 1}
	}
}`

var settingsSchema = gojsonschema.NewStringLoader(`{
	"type": "object",
	"required": ["smtp", "imap"],
	"properties": {
		"smtp": ` + endpointSchema + `,
		"imap": ` + endpointSchema + `,
		"listener": {
			"type": "object",
			"properties": {
				"poll_interval_ms":       {"type": "integer", "minimum": 0},
				"reconnect_delay_ms":     {"type": "integer", "minimum": 0},
				"max_reconnect_attempts": {"type": "integer", "minimum": 0},
				"max_content_chars":      {"type": "integer", "minimum": 0}
			}
		}
	}
}`)

// Validate checks s against the settings schema and returns a *ConfigError
// listing every problem found.
func (s Settings) Validate() error {
	doc := map[string]any{
		"smtp": endpointDoc(s.SMTP.Host, s.SMTP.Port, s.SMTP.Username, s.SMTP.Password),
		"imap": endpointDoc(s.IMAP.Host, s.IMAP.Port, s.IMAP.Username, s.IMAP.Password),
		"listener": map[string]any{
			"poll_interval_ms":       s.Listener.PollInterval.Milliseconds(),
			"reconnect_delay_ms":     s.Listener.ReconnectDelay.Milliseconds(),
			"max_reconnect_attempts": s.Listener.MaxReconnectAttempts,
			"max_content_chars":      s.Listener.MaxContentChars,
		},
	}

	result, err := gojsonschema.Validate(settingsSchema, gojsonschema.NewGoLoader(doc))
	if err != nil {
		return &ConfigError{Problems: []string{fmt.Sprintf("schema validation: %v", err)}}
	}

	var problems []string
	for _, re := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", re.Field(), re.Description()))
	}

	for field, addr := range map[string]string{"recipient": s.Recipient, "from": s.From} {
		if addr == "" {
			continue
		}
		if _, err := mail.ParseAddress(addr); err != nil {
			problems = append(problems, fmt.Sprintf("%s: invalid address %q", field, addr))
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return &ConfigError{Problems: problems}
	}
	return nil
}

func endpointDoc(host string, port int, username, password string) map[string]any {
	return map[string]any{
		"host":     host,
		"port":     port,
		"username": username,
		"password": password,
	}
}
