package entity

const UsersCollection = "users"

type SecurityQA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"`

	IsVerified                 bool   `json:"isVerified"`
	VerificationToken          string `json:"verificationToken"`
	VerificationTokenExpiresAt int64  `json:"verificationTokenExpiresAt"`

	LoginToken          string `json:"loginToken"`
	LoginTokenExpiresAt int64  `json:"loginTokenExpiresAt"`
	LastLoginVerified   bool   `json:"lastLoginVerified"`

	TwoFASecret    string `json:"twofaSecret"`
	TwoFAConfirmed bool   `json:"twofaConfirmed"`

	SecurityInfo []SecurityQA `json:"securityInfo,omitempty"`

	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`
}

// Document field names used in queries and partial updates.
const (
	FieldEmail                      = "email"
	FieldUsername                   = "username"
	FieldPasswordHash               = "passwordHash"
	FieldIsVerified                 = "isVerified"
	FieldVerificationToken          = "verificationToken"
	FieldVerificationTokenExpiresAt = "verificationTokenExpiresAt"
	FieldLoginToken                 = "loginToken"
	FieldLoginTokenExpiresAt        = "loginTokenExpiresAt"
	FieldLastLoginVerified          = "lastLoginVerified"
	FieldTwoFASecret                = "twofaSecret"
	FieldTwoFAConfirmed             = "twofaConfirmed"
	FieldSecurityInfo               = "securityInfo"
	FieldUpdatedAt                  = "updatedAt"
)

func (u *User) TwoFAEnrolled() bool {
	return u.TwoFASecret != ""
}

func (u *User) HasSecurityInfo() bool {
	return len(u.SecurityInfo) > 0
}
