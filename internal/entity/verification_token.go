package entity

// VerificationType names a single-use token flow. Each flow keeps its token
// digest and expiry in its own pair of User fields.
type VerificationType string

const (
	EmailVerify  VerificationType = "email_verify"
	LoginConfirm VerificationType = "login_confirm"
)

func (t VerificationType) TokenField() string {
	if t == LoginConfirm {
		return FieldLoginToken
	}
	return FieldVerificationToken
}

func (t VerificationType) ExpiryField() string {
	if t == LoginConfirm {
		return FieldLoginTokenExpiresAt
	}
	return FieldVerificationTokenExpiresAt
}
