package mailer

import (
	"context"
	"log/slog"
)

// devSender logs emails instead of delivering them. Used in development and
// as the fallback when no Postmark token is configured.
type devSender struct {
	logger *slog.Logger
}

// NewDevSender creates a sender that writes emails to the log.
func NewDevSender(logger *slog.Logger) EmailSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &devSender{logger: logger}
}

func (s *devSender) SendEmail(ctx context.Context, params SendEmailParams) error {
	if err := params.Validate(); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "dev mailer: email captured",
		slog.String("send_to", params.SendTo),
		slog.String("subject", params.Subject),
		slog.String("body_html", params.BodyHTML))
	return nil
}
