package service

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"strings"

	"passvault/internal/entity"
)

// Mailer renders the account emails and hands them to an EmailSender. Links
// point at BaseURL, the public address of the auth routes.
type Mailer struct {
	Sender      EmailSender
	BaseURL     string
	VerifyPath  string
	ConfirmPath string
}

func NewMailer(sender EmailSender, baseURL string) *Mailer {
	return &Mailer{
		Sender:      sender,
		BaseURL:     strings.TrimRight(baseURL, "/"),
		VerifyPath:  "/verify-email",
		ConfirmPath: "/confirm-login",
	}
}

func (m *Mailer) SendVerification(ctx context.Context, user *entity.User, token string) error {
	link := m.buildURL(m.VerifyPath, token)
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>Thank you for registering. Please verify your email by clicking the link below:</p><p><a href=\"%s\">%s</a></p>",
		html.EscapeString(displayName(user)), link, link,
	)
	return m.send(ctx, user.Email, "Please verify your email address", body)
}

func (m *Mailer) SendLoginConfirmation(ctx context.Context, user *entity.User, token string) error {
	link := m.buildURL(m.ConfirmPath, token)
	body := fmt.Sprintf(
		"<p>Please confirm your login by clicking the link below:</p><p><a href=\"%s\">%s</a></p>",
		link, link,
	)
	return m.send(ctx, user.Email, "Confirm your login", body)
}

func (m *Mailer) send(ctx context.Context, to string, subject string, body string) error {
	if m == nil || m.Sender == nil {
		return deliveryError(fmt.Errorf("email sender not configured"))
	}
	if err := m.Sender.Send(ctx, to, subject, body); err != nil {
		return deliveryError(err)
	}
	return nil
}

func (m *Mailer) buildURL(path string, token string) string {
	query := url.Values{}
	query.Set("token", token)
	return m.BaseURL + path + "?" + query.Encode()
}

func displayName(user *entity.User) string {
	if user.Username != "" {
		return user.Username
	}
	return user.Email
}
