package service

import (
	"context"
	"errors"
	"strings"

	"github.com/resend/resend-go/v2"
)

type ResendEmailSender struct {
	client *resend.Client
	From   string
}

func NewResendEmailSender(apiKey string, from string) *ResendEmailSender {
	if strings.TrimSpace(apiKey) == "" || strings.TrimSpace(from) == "" {
		return &ResendEmailSender{}
	}
	return &ResendEmailSender{
		client: resend.NewClient(apiKey),
		From:   from,
	}
}

func (s *ResendEmailSender) Send(ctx context.Context, to string, subject string, html string) error {
	if s.client == nil {
		return errors.New("email sender not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    s.From,
		To:      []string{to},
		Subject: subject,
		Html:    html,
	})
	return err
}
