package service

import (
	"context"
	"time"

	"passvault/internal/entity"
	"passvault/internal/repository"
	"passvault/internal/utils"
)

const verificationTokenBytes = 32

// VerificationFlows mints and consumes the single-use email verification and
// login confirmation tokens. Only the token digest is stored on the user.
type VerificationFlows struct {
	users repository.UserRepository
	clock Clock
	ttls  map[entity.VerificationType]time.Duration
}

func NewVerificationFlows(users repository.UserRepository, clock Clock, verifyTTL time.Duration, loginTTL time.Duration) *VerificationFlows {
	if verifyTTL <= 0 {
		verifyTTL = 24 * time.Hour
	}
	if loginTTL <= 0 {
		loginTTL = 24 * time.Hour
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &VerificationFlows{
		users: users,
		clock: clock,
		ttls: map[entity.VerificationType]time.Duration{
			entity.EmailVerify:  verifyTTL,
			entity.LoginConfirm: loginTTL,
		},
	}
}

// Issue stores a fresh token for the flow, replacing any outstanding one,
// and returns the raw token for the email link.
func (f *VerificationFlows) Issue(ctx context.Context, userID string, tokenType entity.VerificationType) (string, error) {
	rawToken, err := utils.GenerateRandomToken(verificationTokenBytes)
	if err != nil {
		return "", internalError("generate token", err)
	}
	fields := map[string]any{
		tokenType.TokenField():  utils.HashToken(rawToken),
		tokenType.ExpiryField(): f.clock.Now().Add(f.ttls[tokenType]).Unix(),
	}
	if err := f.users.UpdateFields(ctx, userID, fields); err != nil {
		return "", internalError("store token", err)
	}
	return rawToken, nil
}

// ConsumeEmailVerification marks the owner verified and clears the token.
func (f *VerificationFlows) ConsumeEmailVerification(ctx context.Context, rawToken string) (*entity.User, error) {
	return f.consume(ctx, entity.EmailVerify, rawToken, map[string]any{entity.FieldIsVerified: true})
}

// ConsumeLoginConfirmation marks the pending login confirmed and clears the
// token.
func (f *VerificationFlows) ConsumeLoginConfirmation(ctx context.Context, rawToken string) (*entity.User, error) {
	return f.consume(ctx, entity.LoginConfirm, rawToken, map[string]any{entity.FieldLastLoginVerified: true})
}

func (f *VerificationFlows) consume(
	ctx context.Context,
	tokenType entity.VerificationType,
	rawToken string,
	onSuccess map[string]any,
) (*entity.User, error) {
	if rawToken == "" {
		return nil, ErrInvalidToken
	}
	digest := utils.HashToken(rawToken)
	user, err := f.users.FindByToken(ctx, tokenType, digest)
	if err != nil {
		return nil, internalError("find token owner", err)
	}
	if user == nil {
		return nil, ErrInvalidToken
	}

	clear := map[string]any{
		tokenType.TokenField():  "",
		tokenType.ExpiryField(): int64(0),
	}
	expect := map[string]any{tokenType.TokenField(): digest}

	if f.expired(user, tokenType) {
		if _, err := f.users.CompareAndUpdate(ctx, user.ID, expect, clear); err != nil {
			return nil, internalError("clear expired token", err)
		}
		return nil, ErrInvalidToken
	}

	for key, value := range onSuccess {
		clear[key] = value
	}
	updated, err := f.users.CompareAndUpdate(ctx, user.ID, expect, clear)
	if err != nil {
		return nil, internalError("consume token", err)
	}
	if !updated {
		return nil, ErrInvalidToken
	}
	return user, nil
}

func (f *VerificationFlows) expired(user *entity.User, tokenType entity.VerificationType) bool {
	expiresAt := user.VerificationTokenExpiresAt
	if tokenType == entity.LoginConfirm {
		expiresAt = user.LoginTokenExpiresAt
	}
	return expiresAt != 0 && f.clock.Now().Unix() >= expiresAt
}
