package service

import (
	"context"
	"time"

	"passvault/internal/entity"
	"passvault/internal/repository"
	"passvault/internal/utils"
)

type SessionTokenIssuer interface {
	IssueSessionToken(user entity.User) (string, time.Duration, error)
}

// SessionTokens issues session JWTs and validates them against the user
// store: a token whose subject no longer exists is rejected.
type SessionTokens struct {
	Manager *utils.JWTManager
	Users   repository.UserRepository
}

func (s SessionTokens) IssueSessionToken(user entity.User) (string, time.Duration, error) {
	if s.Manager == nil {
		return "", 0, utils.ErrInvalidToken
	}
	return s.Manager.IssueSessionToken(user.ID, user.Email, user.Username)
}

// Validate returns the subject id of a valid token.
func (s SessionTokens) Validate(ctx context.Context, token string) (string, error) {
	if s.Manager == nil {
		return "", utils.ErrInvalidToken
	}
	claims, err := s.Manager.ParseSessionToken(token)
	if err != nil {
		return "", err
	}
	if s.Users != nil {
		user, err := s.Users.FindByID(ctx, claims.Subject)
		if err != nil {
			return "", err
		}
		if user == nil {
			return "", utils.ErrInvalidToken
		}
	}
	return claims.Subject, nil
}
