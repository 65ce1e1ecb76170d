package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"passvault/internal/docstore"
	"passvault/internal/entity"
	"passvault/internal/repository"
	"passvault/internal/utils"

	"github.com/sirupsen/logrus"
)

const (
	dummyPasswordHash = "$2a$10$CwTycUXWue0Thq9StjUM0uJ8yQbWc1x9uxw2sQ2sXUNx5x9xJ9F2S"
	resetGrantBytes   = 32
)

type AuthService struct {
	users        repository.UserRepository
	securityLogs repository.SecurityLogRepository
	resetGrants  repository.ResetGrantRepository

	mailer        *Mailer
	passwordHash  PasswordHasher
	sessions      SessionTokenIssuer
	mfaProvider   MFAProvider
	sealer        SecretSealer
	vault         *SecurityQuestionVault
	verifications *VerificationFlows
	clock         Clock
	config        AuthConfig
	logger        logrus.FieldLogger

	dummyHash string
}

func NewAuthService(
	users repository.UserRepository,
	securityLogs repository.SecurityLogRepository,
	resetGrants repository.ResetGrantRepository,
	mailer *Mailer,
	passwordHash PasswordHasher,
	sessions SessionTokenIssuer,
	mfaProvider MFAProvider,
	sealer SecretSealer,
	clock Clock,
	config AuthConfig,
	logger logrus.FieldLogger,
) *AuthService {
	if clock == nil {
		clock = RealClock{}
	}
	if sealer == nil {
		sealer = plainSealer{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if config.Strategy == "" {
		config.Strategy = VerifyByEmailLink
	}

	dummyHash := dummyPasswordHash
	if hash, err := passwordHash.Hash("passvault-timing-equaliser"); err == nil {
		dummyHash = hash
	}

	return &AuthService{
		users:         users,
		securityLogs:  securityLogs,
		resetGrants:   resetGrants,
		mailer:        mailer,
		passwordHash:  passwordHash,
		sessions:      sessions,
		mfaProvider:   mfaProvider,
		sealer:        sealer,
		vault:         NewSecurityQuestionVault(users, passwordHash),
		verifications: NewVerificationFlows(users, clock, config.VerificationTokenTTL, config.LoginTokenTTL),
		clock:         clock,
		config:        config,
		logger:        logger,
		dummyHash:     dummyHash,
	}
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput, ipAddress string) (*RegisterResult, error) {
	email := utils.NormalizeEmail(input.Email)
	username := strings.TrimSpace(input.Username)
	if email == "" {
		return nil, validationError("email", "email is required")
	}
	if err := ValidatePassword(input.Password); err != nil {
		return nil, err
	}

	if err := s.ensureEmailFree(ctx, email, ""); err != nil {
		return nil, err
	}
	if username != "" {
		if err := s.ensureUsernameFree(ctx, username, ""); err != nil {
			return nil, err
		}
	}

	hash, err := s.passwordHash.Hash(input.Password)
	if err != nil {
		return nil, internalError("hash password", err)
	}

	user := &entity.User{
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		IsVerified:   s.config.Strategy == VerifyNone,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if dupErr := translateDuplicate(err); dupErr != nil {
			return nil, dupErr
		}
		return nil, internalError("create user", err)
	}

	result := &RegisterResult{UserID: user.ID}
	switch s.config.Strategy {
	case VerifyByEmailLink:
		if err := s.sendEmailVerification(ctx, user); err != nil {
			// The account is unusable without the link; let the client retry.
			if delErr := s.users.Delete(ctx, user.ID); delErr != nil {
				s.logger.WithError(delErr).WithField("user_id", user.ID).Error("rollback of unverified user failed")
			}
			return nil, err
		}
	case VerifyByTOTP:
		token, expiresIn, err := s.sessions.IssueSessionToken(*user)
		if err != nil {
			return nil, internalError("issue session token", err)
		}
		result.Token = token
		result.ExpiresIn = int64(expiresIn.Seconds())
	}

	s.logSecurity(ctx, user.ID, ipAddress, entity.Registered, map[string]any{"strategy": string(s.config.Strategy)})
	return result, nil
}

func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	user, err := s.verifications.ConsumeEmailVerification(ctx, token)
	if err != nil {
		return err
	}
	s.logSecurity(ctx, user.ID, "", entity.EmailVerified, nil)
	return nil
}

func (s *AuthService) ConfirmLogin(ctx context.Context, token string) error {
	user, err := s.verifications.ConsumeLoginConfirmation(ctx, token)
	if err != nil {
		return err
	}
	s.logSecurity(ctx, user.ID, "", entity.LoginConfirmed, nil)
	return nil
}

func (s *AuthService) ResendVerification(ctx context.Context, email string) error {
	if s.config.Strategy != VerifyByEmailLink {
		return ErrEmailLinkDisabled
	}
	user, err := s.users.FindByEmail(ctx, utils.NormalizeEmail(email))
	if err != nil {
		return internalError("find user", err)
	}
	if user == nil {
		return ErrUserNotFound
	}
	if user.IsVerified {
		return ErrAlreadyVerified
	}
	return s.sendEmailVerification(ctx, user)
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	email := utils.NormalizeEmail(input.Email)
	if email == "" || input.Password == "" {
		return nil, ErrInvalidInput
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, internalError("find user", err)
	}
	if user == nil {
		_ = s.passwordHash.Verify(s.dummyHash, input.Password)
		s.logSecurity(ctx, "", input.IPAddress, entity.LoginFailed, map[string]any{"email": email})
		return nil, ErrInvalidCredentials
	}
	if !user.IsVerified {
		// Unverified accounts are refused before the password is checked. The
		// dummy compare keeps the response time in line with other failures.
		_ = s.passwordHash.Verify(s.dummyHash, input.Password)
		s.logSecurity(ctx, user.ID, input.IPAddress, entity.LoginFailed, map[string]any{"reason": "unverified"})
		return nil, ErrEmailNotVerified
	}
	if !s.passwordHash.Verify(user.PasswordHash, input.Password) {
		s.logSecurity(ctx, user.ID, input.IPAddress, entity.LoginFailed, map[string]any{"reason": "password"})
		return nil, ErrInvalidCredentials
	}

	return s.loginGate(ctx, user, input)
}

// loginGate applies the checks that follow a verified account and a matching
// password: TOTP when enrolled, then the emailed confirmation when enabled.
func (s *AuthService) loginGate(ctx context.Context, user *entity.User, input LoginInput) (*LoginResult, error) {
	if user.TwoFAEnrolled() {
		code := strings.TrimSpace(input.TwoFACode)
		if code == "" {
			return nil, ErrTwoFactorRequired
		}
		ok, err := s.checkCode(user, code)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.logSecurity(ctx, user.ID, input.IPAddress, entity.MFAFailed, map[string]any{"source": "login"})
			return nil, ErrInvalidTwoFactorCode
		}
		return s.issueSession(ctx, user, input.IPAddress, nil)
	}

	if s.config.RequireLoginConfirmation {
		if !user.LastLoginVerified {
			token, err := s.verifications.Issue(ctx, user.ID, entity.LoginConfirm)
			if err != nil {
				return nil, err
			}
			if err := s.mailer.SendLoginConfirmation(ctx, user, token); err != nil {
				return nil, err
			}
			s.logSecurity(ctx, user.ID, input.IPAddress, entity.LoginPending, nil)
			return &LoginResult{UserID: user.ID, PendingConfirmation: true}, nil
		}
		return s.issueSession(ctx, user, input.IPAddress, map[string]any{entity.FieldLastLoginVerified: false})
	}

	return s.issueSession(ctx, user, input.IPAddress, nil)
}

func (s *AuthService) issueSession(ctx context.Context, user *entity.User, ipAddress string, reset map[string]any) (*LoginResult, error) {
	if len(reset) > 0 {
		if err := s.users.UpdateFields(ctx, user.ID, reset); err != nil {
			return nil, internalError("reset login confirmation", err)
		}
	}
	token, expiresIn, err := s.sessions.IssueSessionToken(*user)
	if err != nil {
		return nil, internalError("issue session token", err)
	}
	s.logSecurity(ctx, user.ID, ipAddress, entity.LoginSuccess, map[string]any{"mfa": user.TwoFAEnrolled()})
	return &LoginResult{
		Token:     token,
		ExpiresIn: int64(expiresIn.Seconds()),
		UserID:    user.ID,
		Username:  user.Username,
	}, nil
}

// EnableMFA enrolls the user in TOTP. Repeated calls return the existing
// enrollment without rotating the secret; the raw secret is only handed out
// the first time.
func (s *AuthService) EnableMFA(ctx context.Context, userID string) (*EnableMFAResult, error) {
	user, err := s.requireUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if user.TwoFAEnrolled() {
		secret, err := s.sealer.Decrypt(user.TwoFASecret)
		if err != nil {
			return nil, internalError("open totp secret", err)
		}
		return s.enrollmentResult(user, secret, false)
	}

	secret, err := s.mfaProvider.GenerateSecret(DefaultTOTPSecretLength)
	if err != nil {
		return nil, internalError("generate totp secret", err)
	}
	sealed, err := s.sealer.Encrypt(secret)
	if err != nil {
		return nil, internalError("seal totp secret", err)
	}

	stored, err := s.users.CompareAndUpdate(ctx, user.ID,
		map[string]any{entity.FieldTwoFASecret: ""},
		map[string]any{entity.FieldTwoFASecret: sealed, entity.FieldTwoFAConfirmed: false},
	)
	if err != nil {
		return nil, internalError("store totp secret", err)
	}
	if !stored {
		// A concurrent request enrolled first.
		return s.EnableMFA(ctx, userID)
	}

	s.logSecurity(ctx, user.ID, "", entity.MFAEnabled, nil)
	return s.enrollmentResult(user, secret, true)
}

func (s *AuthService) enrollmentResult(user *entity.User, secret string, includeSecret bool) (*EnableMFAResult, error) {
	uri := s.mfaProvider.ProvisioningURI(secret, user.Email, s.config.MFAIssuer)
	qr, err := s.mfaProvider.QRCodeDataURL(uri)
	if err != nil {
		return nil, internalError("render qr code", err)
	}
	result := &EnableMFAResult{QRCodeURL: qr, OTPAuthURL: uri}
	if includeSecret {
		result.Secret = secret
	}
	return result, nil
}

func (s *AuthService) VerifyMFA(ctx context.Context, userID string, code string) error {
	user, err := s.requireUser(ctx, userID)
	if err != nil {
		return err
	}
	if !user.TwoFAEnrolled() {
		return ErrTwoFactorNotEnrolled
	}
	ok, err := s.checkCode(user, strings.TrimSpace(code))
	if err != nil {
		return err
	}
	if !ok {
		s.logSecurity(ctx, user.ID, "", entity.MFAFailed, map[string]any{"source": "verify"})
		return ErrInvalidTwoFactorCode
	}

	fields := map[string]any{entity.FieldTwoFAConfirmed: true}
	if s.config.Strategy == VerifyByTOTP {
		fields[entity.FieldIsVerified] = true
	}
	if err := s.users.UpdateFields(ctx, user.ID, fields); err != nil {
		return internalError("confirm totp", err)
	}
	s.logSecurity(ctx, user.ID, "", entity.MFAConfirmed, nil)
	return nil
}

func (s *AuthService) DisableMFA(ctx context.Context, userID string, code string) error {
	user, err := s.requireUser(ctx, userID)
	if err != nil {
		return err
	}
	if !user.TwoFAEnrolled() {
		return ErrTwoFactorNotEnrolled
	}
	ok, err := s.checkCode(user, strings.TrimSpace(code))
	if err != nil {
		return err
	}
	if !ok {
		s.logSecurity(ctx, user.ID, "", entity.MFAFailed, map[string]any{"source": "disable"})
		return ErrInvalidTwoFactorCode
	}
	if err := s.users.UpdateFields(ctx, user.ID, map[string]any{
		entity.FieldTwoFASecret:    "",
		entity.FieldTwoFAConfirmed: false,
	}); err != nil {
		return internalError("clear totp secret", err)
	}
	s.logSecurity(ctx, user.ID, "", entity.MFADisabled, nil)
	return nil
}

func (s *AuthService) UpdateSecurityInfo(ctx context.Context, userID string, pairs []entity.SecurityQA) error {
	if err := s.vault.SetQuestions(ctx, userID, pairs); err != nil {
		return err
	}
	s.logSecurity(ctx, userID, "", entity.SecurityInfoSet, nil)
	return nil
}

// StartPasswordReset proves control of the account with a current TOTP code
// and returns the stored questions. Every proof failure looks the same.
func (s *AuthService) StartPasswordReset(ctx context.Context, input StartResetInput) (*StartResetResult, error) {
	email := utils.NormalizeEmail(input.Email)
	code := strings.TrimSpace(input.TwoFACode)
	if email == "" || code == "" {
		return nil, ErrAccountProofFailed
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, internalError("find user", err)
	}
	if user == nil || !user.TwoFAEnrolled() {
		return nil, ErrAccountProofFailed
	}
	ok, err := s.checkCode(user, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logSecurity(ctx, user.ID, "", entity.MFAFailed, map[string]any{"source": "password_reset"})
		return nil, ErrAccountProofFailed
	}
	if !user.HasSecurityInfo() {
		return nil, ErrSecurityInfoMissing
	}
	return &StartResetResult{UserID: user.ID, Questions: s.vault.Questions(user)}, nil
}

// VerifySecurityInfo checks the answers and mints a single-use reset grant.
func (s *AuthService) VerifySecurityInfo(ctx context.Context, userID string, provided []entity.SecurityQA) (string, error) {
	user, err := s.requireUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if !user.HasSecurityInfo() {
		return "", ErrSecurityInfoMissing
	}
	if !s.vault.VerifyAnswers(user, provided) {
		s.logSecurity(ctx, user.ID, "", entity.SecurityInfoFailed, nil)
		return "", ErrSecurityInfoMismatch
	}

	grant, err := utils.GenerateRandomToken(resetGrantBytes)
	if err != nil {
		return "", internalError("generate reset grant", err)
	}
	if err := s.resetGrants.Save(ctx, utils.HashToken(grant), user.ID, s.resetGrantTTL()); err != nil {
		return "", internalError("save reset grant", err)
	}
	return grant, nil
}

func (s *AuthService) CompletePasswordReset(ctx context.Context, grant string, newPassword string) error {
	if strings.TrimSpace(grant) == "" {
		return ErrInvalidResetGrant
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	userID, err := s.resetGrants.Consume(ctx, utils.HashToken(grant))
	if err != nil {
		return internalError("consume reset grant", err)
	}
	if userID == "" {
		return ErrInvalidResetGrant
	}

	hash, err := s.passwordHash.Hash(newPassword)
	if err != nil {
		return internalError("hash password", err)
	}
	if err := s.users.UpdateFields(ctx, userID, map[string]any{entity.FieldPasswordHash: hash}); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrUserNotFound
		}
		return internalError("store password", err)
	}
	s.logSecurity(ctx, userID, "", entity.Reset, map[string]any{"source": "security_questions"})
	return nil
}

func (s *AuthService) GetUser(ctx context.Context, userID string) (*Profile, error) {
	user, err := s.requireUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return profileFromUser(user), nil
}

func (s *AuthService) UpdateUser(ctx context.Context, userID string, input UpdateUserInput) (*Profile, error) {
	if input.Email == nil && input.Username == nil && input.Password == nil {
		return nil, ErrNoUpdateFields
	}
	user, err := s.requireUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{}
	previous := map[string]any{}
	emailChanged := false

	if input.Email != nil {
		email := utils.NormalizeEmail(*input.Email)
		if email == "" {
			return nil, validationError("email", "email must not be empty")
		}
		if email != user.Email {
			if err := s.ensureEmailFree(ctx, email, user.ID); err != nil {
				return nil, err
			}
			fields[entity.FieldEmail] = email
			previous[entity.FieldEmail] = user.Email
			user.Email = email
			emailChanged = true
		}
	}
	if input.Username != nil {
		username := strings.TrimSpace(*input.Username)
		if username != user.Username {
			if username != "" {
				if err := s.ensureUsernameFree(ctx, username, user.ID); err != nil {
					return nil, err
				}
			}
			fields[entity.FieldUsername] = username
			previous[entity.FieldUsername] = user.Username
			user.Username = username
		}
	}
	if input.Password != nil {
		if err := ValidatePassword(*input.Password); err != nil {
			return nil, err
		}
		hash, err := s.passwordHash.Hash(*input.Password)
		if err != nil {
			return nil, internalError("hash password", err)
		}
		fields[entity.FieldPasswordHash] = hash
		previous[entity.FieldPasswordHash] = user.PasswordHash
	}

	if emailChanged && s.config.Strategy == VerifyByEmailLink {
		fields[entity.FieldIsVerified] = false
		previous[entity.FieldIsVerified] = user.IsVerified
		previous[entity.FieldVerificationToken] = user.VerificationToken
		previous[entity.FieldVerificationTokenExpiresAt] = user.VerificationTokenExpiresAt
		user.IsVerified = false
	}

	if len(fields) > 0 {
		if err := s.users.UpdateFields(ctx, user.ID, fields); err != nil {
			if dupErr := translateDuplicate(err); dupErr != nil {
				return nil, dupErr
			}
			if errors.Is(err, docstore.ErrNotFound) {
				return nil, ErrUserNotFound
			}
			return nil, internalError("update user", err)
		}
		s.logSecurity(ctx, user.ID, "", entity.ProfileUpdated, map[string]any{"fields": changedFieldNames(fields)})
	}

	if emailChanged && s.config.Strategy == VerifyByEmailLink {
		if err := s.sendEmailVerification(ctx, user); err != nil {
			s.rollbackUpdate(ctx, user.ID, fields, previous)
			return nil, err
		}
	}
	return profileFromUser(user), nil
}

// rollbackUpdate restores the fields an update replaced, provided no other
// write has changed them since.
func (s *AuthService) rollbackUpdate(ctx context.Context, userID string, applied map[string]any, previous map[string]any) {
	restored, err := s.users.CompareAndUpdate(ctx, userID, applied, previous)
	if err != nil || !restored {
		s.logger.WithError(err).WithField("user_id", userID).Error("rollback of profile update failed")
	}
}

func (s *AuthService) DeleteUser(ctx context.Context, userID string) error {
	if err := s.users.Delete(ctx, userID); err != nil {
		return internalError("delete user", err)
	}
	s.logSecurity(ctx, userID, "", entity.AccountDeleted, nil)
	return nil
}

func (s *AuthService) ServerTime() time.Time {
	return s.clock.Now()
}

func (s *AuthService) requireUser(ctx context.Context, userID string) (*entity.User, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUserNotFound
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, internalError("find user", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (s *AuthService) checkCode(user *entity.User, code string) (bool, error) {
	if code == "" {
		return false, nil
	}
	secret, err := s.sealer.Decrypt(user.TwoFASecret)
	if err != nil {
		return false, internalError("open totp secret", err)
	}
	return s.mfaProvider.ValidateCode(secret, code, s.clock.Now()), nil
}

func (s *AuthService) ensureEmailFree(ctx context.Context, email string, selfID string) error {
	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return internalError("check email", err)
	}
	if existing != nil && existing.ID != selfID {
		return ErrEmailAlreadyRegistered
	}
	return nil
}

func (s *AuthService) ensureUsernameFree(ctx context.Context, username string, selfID string) error {
	existing, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return internalError("check username", err)
	}
	if existing != nil && existing.ID != selfID {
		return ErrUsernameTaken
	}
	return nil
}

func (s *AuthService) sendEmailVerification(ctx context.Context, user *entity.User) error {
	token, err := s.verifications.Issue(ctx, user.ID, entity.EmailVerify)
	if err != nil {
		return err
	}
	return s.mailer.SendVerification(ctx, user, token)
}

// logSecurity records an audit entry. Failures are logged and never fail the
// request.
func (s *AuthService) logSecurity(
	ctx context.Context,
	userID string,
	ipAddress string,
	action entity.SecurityAction,
	metadata map[string]any,
) {
	if s.securityLogs == nil {
		return
	}
	log := &entity.SecurityLog{
		UserID:    userID,
		IPAddress: ipAddress,
		Action:    action,
		Metadata:  metadata,
		CreatedAt: s.clock.Now().Unix(),
	}
	if err := s.securityLogs.Log(ctx, log); err != nil {
		s.logger.WithError(err).WithField("action", string(action)).Warn("security log write failed")
	}
}

func (s *AuthService) resetGrantTTL() time.Duration {
	if s.config.ResetGrantTTL > 0 {
		return s.config.ResetGrantTTL
	}
	return 15 * time.Minute
}

func translateDuplicate(err error) *Error {
	field, ok := docstore.IsDuplicate(err)
	if !ok {
		return nil
	}
	if field == entity.FieldUsername {
		return ErrUsernameTaken
	}
	return ErrEmailAlreadyRegistered
}

func changedFieldNames(fields map[string]any) []string {
	names := make([]string, 0, len(fields))
	for _, key := range []string{entity.FieldEmail, entity.FieldUsername, entity.FieldPasswordHash} {
		if _, ok := fields[key]; ok {
			names = append(names, strings.TrimSuffix(key, "Hash"))
		}
	}
	return names
}
