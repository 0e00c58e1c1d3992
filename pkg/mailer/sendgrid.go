package mailer

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/boxpress/boxpress/pkg/domain"
	"github.com/boxpress/boxpress/pkg/logger"
	"github.com/boxpress/boxpress/pkg/models"
)

// SendGrid implements domain.Mailer using the SendGrid API.
// If no API key is configured, emails are logged to the console instead
// (development mode).
type SendGrid struct {
	fromEmail   string
	fromName    string
	apiKey      string
	useSendGrid bool
	log         logger.Logger
}

// NewSendGrid creates a new mailer.
// If apiKey is provided, emails will be sent via SendGrid; otherwise they
// are logged and treated as delivered.
func NewSendGrid(fromEmail, fromName, apiKey string, log logger.Logger) *SendGrid {
	useSendGrid := apiKey != ""
	if useSendGrid {
		log.Info("mailer initialized with SendGrid")
	} else {
		log.Warn("mailer in console-only mode (set SENDGRID_API_KEY for production)")
	}

	return &SendGrid{
		fromEmail:   fromEmail,
		fromName:    fromName,
		apiKey:      apiKey,
		useSendGrid: useSendGrid,
		log:         log,
	}
}

// Send dispatches one rendered email and returns the provider message id
func (s *SendGrid) Send(ctx context.Context, email models.OutboundEmail) (*models.SendResult, error) {
	if !s.useSendGrid {
		s.log.Info("email not sent (development mode)",
			"to", email.To,
			"subject", email.Subject)
		return &models.SendResult{MessageID: "dev-" + email.To}, nil
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(email.ToName, email.To)

	message := mail.NewSingleEmail(from, email.Subject, to, email.PlainText, email.HTML)
	if len(email.Tags) > 0 {
		message.Categories = email.Tags
	}

	client := sendgrid.NewSendClient(s.apiKey)
	response, err := client.SendWithContext(ctx, message)
	if err != nil {
		return nil, fmt.Errorf("failed to send email: %w", err)
	}

	if response.StatusCode >= 400 {
		return nil, fmt.Errorf("sendgrid returned error status %d: %s", response.StatusCode, response.Body)
	}

	messageID := ""
	if ids, ok := response.Headers["X-Message-Id"]; ok && len(ids) > 0 {
		messageID = ids[0]
	}

	return &models.SendResult{MessageID: messageID}, nil
}

var _ domain.Mailer = (*SendGrid)(nil)
