package mailer_test

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingd/pkg/mailer"
)

func TestSendEmailParamsValidate(t *testing.T) {
	t.Parallel()

	valid := mailer.SendEmailParams{
		SendTo:   "user@example.com",
		Subject:  "Welcome",
		BodyHTML: "<p>hello</p>",
	}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*mailer.SendEmailParams)
	}{
		{"empty recipient", func(p *mailer.SendEmailParams) { p.SendTo = "" }},
		{"malformed recipient", func(p *mailer.SendEmailParams) { p.SendTo = "not-an-email" }},
		{"missing subject", func(p *mailer.SendEmailParams) { p.Subject = "" }},
		{"missing body", func(p *mailer.SendEmailParams) { p.BodyHTML = "" }},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := valid
			tc.mutate(&p)
			assert.ErrorIs(t, p.Validate(), mailer.ErrInvalidParams)
		})
	}
}

func TestDevSender(t *testing.T) {
	t.Parallel()

	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	sender := mailer.NewDevSender(logger)

	err := sender.SendEmail(context.Background(), mailer.SendEmailParams{
		SendTo:   "user@example.com",
		Subject:  "Welcome",
		BodyHTML: "<p>hello</p>",
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "user@example.com")
	assert.Contains(t, buf.String(), "Welcome")

	err = sender.SendEmail(context.Background(), mailer.SendEmailParams{SendTo: "bad"})
	assert.ErrorIs(t, err, mailer.ErrInvalidParams)
}

func TestNewPostmarkSenderConfigValidation(t *testing.T) {
	t.Parallel()

	valid := mailer.Config{
		PostmarkServerToken:  "server-token",
		PostmarkAccountToken: "account-token",
		SenderEmail:          "noreply@example.com",
		SupportEmail:         "support@example.com",
	}

	_, err := mailer.NewPostmarkSender(valid)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*mailer.Config)
	}{
		{"missing server token", func(c *mailer.Config) { c.PostmarkServerToken = "" }},
		{"missing account token", func(c *mailer.Config) { c.PostmarkAccountToken = "" }},
		{"invalid sender email", func(c *mailer.Config) { c.SenderEmail = "nope" }},
		{"invalid support email", func(c *mailer.Config) { c.SupportEmail = "" }},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid
			tc.mutate(&cfg)
			_, err := mailer.NewPostmarkSender(cfg)
			assert.ErrorIs(t, err, mailer.ErrInvalidConfig)
		})
	}
}
