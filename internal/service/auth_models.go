package service

import "passvault/internal/entity"

type RegisterInput struct {
	Email    string
	Username string
	Password string
}

type RegisterResult struct {
	UserID string
	// Token is set only under the totp strategy, where the new user needs a
	// session to enroll 2FA.
	Token     string
	ExpiresIn int64
}

type LoginInput struct {
	Email     string
	Password  string
	TwoFACode string
	IPAddress string
}

type LoginResult struct {
	Token               string
	ExpiresIn           int64
	UserID              string
	Username            string
	PendingConfirmation bool
}

type EnableMFAResult struct {
	QRCodeURL  string
	OTPAuthURL string
	// Secret is only returned on first enrollment.
	Secret string
}

type StartResetInput struct {
	Email     string
	TwoFACode string
}

type StartResetResult struct {
	UserID    string
	Questions []string
}

type UpdateUserInput struct {
	Email    *string
	Username *string
	Password *string
}

type Profile struct {
	ID              string
	Email           string
	Username        string
	IsVerified      bool
	TwoFAEnabled    bool
	TwoFAConfirmed  bool
	HasSecurityInfo bool
}

func profileFromUser(user *entity.User) *Profile {
	return &Profile{
		ID:              user.ID,
		Email:           user.Email,
		Username:        user.Username,
		IsVerified:      user.IsVerified,
		TwoFAEnabled:    user.TwoFAEnrolled(),
		TwoFAConfirmed:  user.TwoFAConfirmed,
		HasSecurityInfo: user.HasSecurityInfo(),
	}
}
