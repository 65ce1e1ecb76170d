package dto

import (
	"time"

	"passvault/internal/entity"
	"passvault/internal/service"
)

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"omitempty,max=64"`
	Password string `json:"password" validate:"required"`
}

type RegisterResponse struct {
	UserID    string `json:"userId"`
	Token     string `json:"token,omitempty"`
	ExpiresIn int64  `json:"expiresIn,omitempty"`
}

type LoginRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	TwoFACode string `json:"twoFACode" validate:"omitempty,numeric,len=6"`
}

type LoginResponse struct {
	Token     string `json:"token"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	ExpiresIn int64  `json:"expiresIn"`
}

type PendingLoginResponse struct {
	Status  string `json:"status"`
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

type ResendVerificationRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type EnableTwoFAResponse struct {
	QRCodeURL  string `json:"qrCodeUrl"`
	OTPAuthURL string `json:"otpauthUrl"`
	Secret     string `json:"secret,omitempty"`
}

// TwoFACodeRequest carries a current TOTP code. The field is named token on
// the wire.
type TwoFACodeRequest struct {
	Token string `json:"token" validate:"required,numeric,len=6"`
}

type SecurityQA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type UpdateSecurityInfoRequest struct {
	SecurityInfo []SecurityQA `json:"securityInfo" validate:"required"`
}

type SecurityQuestionsResponse struct {
	Questions []string `json:"questions"`
}

type StartPasswordResetRequest struct {
	Email     string `json:"email" validate:"required,email"`
	TwoFACode string `json:"twoFACode" validate:"required"`
}

type StartPasswordResetResponse struct {
	UserID    string   `json:"userId"`
	Questions []string `json:"questions"`
}

type VerifySecurityInfoRequest struct {
	UserID               string       `json:"userId" validate:"required"`
	ProvidedSecurityInfo []SecurityQA `json:"providedSecurityInfo" validate:"required"`
}

type VerifySecurityInfoResponse struct {
	ResetToken string `json:"resetToken"`
}

type CompletePasswordResetRequest struct {
	ResetToken  string `json:"resetToken" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required"`
}

type UpdateUserRequest struct {
	Email    *string `json:"email" validate:"omitempty,email"`
	Username *string `json:"username" validate:"omitempty,max=64"`
	Password *string `json:"password"`
}

type UserResponse struct {
	ID              string `json:"id"`
	Email           string `json:"email"`
	Username        string `json:"username"`
	IsVerified      bool   `json:"isVerified"`
	TwoFAEnabled    bool   `json:"twofaEnabled"`
	TwoFAConfirmed  bool   `json:"twofaConfirmed"`
	HasSecurityInfo bool   `json:"hasSecurityInfo"`
}

type ServerTimeResponse struct {
	ServerTime time.Time `json:"serverTime"`
	Unix       int64     `json:"unix"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

func UserResponseFromProfile(profile *service.Profile) UserResponse {
	return UserResponse{
		ID:              profile.ID,
		Email:           profile.Email,
		Username:        profile.Username,
		IsVerified:      profile.IsVerified,
		TwoFAEnabled:    profile.TwoFAEnabled,
		TwoFAConfirmed:  profile.TwoFAConfirmed,
		HasSecurityInfo: profile.HasSecurityInfo,
	}
}

func SecurityPairsToEntities(pairs []SecurityQA) []entity.SecurityQA {
	out := make([]entity.SecurityQA, 0, len(pairs))
	for _, pair := range pairs {
		out = append(out, entity.SecurityQA{Question: pair.Question, Answer: pair.Answer})
	}
	return out
}
