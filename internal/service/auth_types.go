package service

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// VerificationStrategy selects how a freshly registered account becomes
// verified. Exactly one strategy is active per deployment.
type VerificationStrategy string

const (
	VerifyByEmailLink VerificationStrategy = "email_link"
	VerifyByTOTP      VerificationStrategy = "totp"
	VerifyNone        VerificationStrategy = "none"
)

func ParseVerificationStrategy(value string) (VerificationStrategy, error) {
	switch strategy := VerificationStrategy(strings.ToLower(strings.TrimSpace(value))); strategy {
	case "":
		return VerifyByEmailLink, nil
	case VerifyByEmailLink, VerifyByTOTP, VerifyNone:
		return strategy, nil
	default:
		return "", fmt.Errorf("unknown verification strategy %q", value)
	}
}

type AuthConfig struct {
	Strategy VerificationStrategy
	// RequireLoginConfirmation enables the emailed login confirmation step
	// for users without TOTP. Every session then needs a fresh confirmation.
	RequireLoginConfirmation bool
	VerificationTokenTTL     time.Duration
	LoginTokenTTL            time.Duration
	ResetGrantTTL            time.Duration
	MFAIssuer                string
}

type EmailSender interface {
	Send(ctx context.Context, to string, subject string, html string) error
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hash string, password string) bool
}

type MFAProvider interface {
	GenerateSecret(length int) (string, error)
	ProvisioningURI(secret string, accountLabel string, issuer string) string
	QRCodeDataURL(uri string) (string, error)
	ValidateCode(secret string, code string, at time.Time) bool
}

// SecretSealer protects TOTP secrets at rest.
type SecretSealer interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(envelope string) (string, error)
}

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}
