package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"passvault/internal/docstore"
	"passvault/internal/entity"
	"passvault/internal/repository"
	"passvault/internal/utils"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "Str0ng!pass"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentEmail struct {
	To      string
	Subject string
	HTML    string
}

type captureSender struct {
	mu   sync.Mutex
	sent []sentEmail
	err  error
}

func (s *captureSender) Send(ctx context.Context, to string, subject string, html string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentEmail{To: to, Subject: subject, HTML: html})
	return nil
}

var tokenPattern = regexp.MustCompile(`token=([A-Za-z0-9_-]+)`)

func (s *captureSender) lastToken(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.sent, "no email sent")
	match := tokenPattern.FindStringSubmatch(s.sent[len(s.sent)-1].HTML)
	require.Len(t, match, 2)
	return match[1]
}

func (s *captureSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type authFixture struct {
	svc    *AuthService
	store  *docstore.MemoryStore
	users  repository.UserRepository
	mail   *captureSender
	clock  *fakeClock
	totp   *TOTPProvider
	tokens SessionTokens
	logs   *bytes.Buffer
}

func newAuthFixture(t *testing.T, configure func(*AuthConfig), sealer SecretSealer) *authFixture {
	t.Helper()
	store := docstore.NewMemoryStore()
	users := repository.NewUserRepository(store)
	require.NoError(t, users.EnsureIndexes(context.Background()))

	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 15, 0, time.UTC)}
	mail := &captureSender{}
	totp := NewTOTPProvider("PassVault")
	tokens := SessionTokens{
		Manager: &utils.JWTManager{Secret: []byte("test-secret"), Issuer: "passvault", Now: clock.Now},
		Users:   users,
	}

	logs := &bytes.Buffer{}
	logger := logrus.New()
	logger.SetOutput(logs)

	config := AuthConfig{Strategy: VerifyByEmailLink}
	if configure != nil {
		configure(&config)
	}

	svc := NewAuthService(
		users,
		repository.NewSecurityLogRepository(store),
		repository.NewMemoryResetGrantRepository(),
		NewMailer(mail, "https://vault.example.com/auth"),
		BcryptPasswordHasher{Cost: bcrypt.MinCost},
		tokens,
		totp,
		sealer,
		clock,
		config,
		logger,
	)
	return &authFixture{svc: svc, store: store, users: users, mail: mail, clock: clock, totp: totp, tokens: tokens, logs: logs}
}

func withStrategy(strategy VerificationStrategy) func(*AuthConfig) {
	return func(c *AuthConfig) { c.Strategy = strategy }
}

func (f *authFixture) register(t *testing.T, email string, username string) string {
	t.Helper()
	result, err := f.svc.Register(context.Background(), RegisterInput{Email: email, Username: username, Password: testPassword}, "127.0.0.1")
	require.NoError(t, err)
	return result.UserID
}

func (f *authFixture) user(t *testing.T, id string) *entity.User {
	t.Helper()
	user, err := f.users.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, user)
	return user
}

func (f *authFixture) code(t *testing.T, secret string) string {
	t.Helper()
	code, err := f.totp.GenerateCode(secret, f.clock.Now())
	require.NoError(t, err)
	return code
}

// enrollTOTP enables and confirms 2FA and returns the raw secret.
func (f *authFixture) enrollTOTP(t *testing.T, userID string) string {
	t.Helper()
	ctx := context.Background()
	enrollment, err := f.svc.EnableMFA(ctx, userID)
	require.NoError(t, err)
	require.NotEmpty(t, enrollment.Secret)
	require.NoError(t, f.svc.VerifyMFA(ctx, userID, f.code(t, enrollment.Secret)))
	return enrollment.Secret
}

func testSecurityInfo() []entity.SecurityQA {
	return []entity.SecurityQA{
		{Question: "What is the name of your first pet?", Answer: "Rex"},
		{Question: "What city were you born in?", Answer: "Lisbon"},
		{Question: "What was your childhood nickname?", Answer: "Bee"},
	}
}

func assertKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, KindOf(err), err.Error())
}

func TestAuthService_EmailLinkRegistrationFlow(t *testing.T) {
	f := newAuthFixture(t, nil, nil)
	ctx := context.Background()

	result, err := f.svc.Register(ctx, RegisterInput{Email: " Alice@Example.com ", Username: "alice", Password: testPassword}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, result.UserID)
	assert.Empty(t, result.Token)

	user := f.user(t, result.UserID)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.False(t, user.IsVerified)
	assert.NotEqual(t, testPassword, user.PasswordHash)

	require.Equal(t, 1, f.mail.count())
	assert.Equal(t, "alice@example.com", f.mail.sent[0].To)
	assert.Contains(t, f.mail.sent[0].HTML, "https://vault.example.com/auth/verify-email?token=")
	token := f.mail.lastToken(t)
	assert.NotEqual(t, token, user.VerificationToken, "only the digest is stored")
	assert.Equal(t, utils.HashToken(token), user.VerificationToken)

	_, err = f.svc.Login(ctx, LoginInput{Email: "alice@example.com", Password: testPassword})
	assert.ErrorIs(t, err, ErrEmailNotVerified)
	assertKind(t, err, KindForbidden)

	require.NoError(t, f.svc.VerifyEmail(ctx, token))
	user = f.user(t, result.UserID)
	assert.True(t, user.IsVerified)
	assert.Empty(t, user.VerificationToken)

	assert.ErrorIs(t, f.svc.VerifyEmail(ctx, token), ErrInvalidToken)

	login, err := f.svc.Login(ctx, LoginInput{Email: "ALICE@example.com", Password: testPassword})
	require.NoError(t, err)
	assert.Equal(t, result.UserID, login.UserID)
	assert.Equal(t, "alice", login.Username)
	assert.Equal(t, int64(3600), login.ExpiresIn)

	subject, err := f.tokens.Validate(ctx, login.Token)
	require.NoError(t, err)
	assert.Equal(t, result.UserID, subject)
}

func TestAuthService_VerificationTokenSingleUseUnderRace(t *testing.T) {
	f := newAuthFixture(t, nil, nil)
	userID := f.register(t, "race@example.com", "")
	token := f.mail.lastToken(t)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.svc.VerifyEmail(context.Background(), token) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.True(t, f.user(t, userID).IsVerified)
}

func TestAuthService_VerificationTokenExpires(t *testing.T) {
	f := newAuthFixture(t, nil, nil)
	userID := f.register(t, "late@example.com", "")
	token := f.mail.lastToken(t)

	f.clock.Advance(25 * time.Hour)
	assert.ErrorIs(t, f.svc.VerifyEmail(context.Background(), token), ErrInvalidToken)

	user := f.user(t, userID)
	assert.False(t, user.IsVerified)
	assert.Empty(t, user.VerificationToken)
}

func TestAuthService_ResendVerification(t *testing.T) {
	f := newAuthFixture(t, nil, nil)
	ctx := context.Background()
	f.register(t, "resend@example.com", "")
	first := f.mail.lastToken(t)

	require.NoError(t, f.svc.ResendVerification(ctx, "resend@example.com"))
	second := f.mail.lastToken(t)
	assert.NotEqual(t, first, second)

	assert.ErrorIs(t, f.svc.VerifyEmail(ctx, first), ErrInvalidToken)
	require.NoError(t, f.svc.VerifyEmail(ctx, second))

	assert.ErrorIs(t, f.svc.ResendVerification(ctx, "resend@example.com"), ErrAlreadyVerified)
	assert.ErrorIs(t, f.svc.ResendVerification(ctx, "nobody@example.com"), ErrUserNotFound)

	none := newAuthFixture(t, withStrategy(VerifyNone), nil)
	assert.ErrorIs(t, none.svc.ResendVerification(ctx, "resend@example.com"), ErrEmailLinkDisabled)
}

func TestAuthService_RegisterRejections(t *testing.T) {
	f := newAuthFixture(t, nil, nil)
	ctx := context.Background()
	f.register(t, "taken@example.com", "taken")

	_, err := f.svc.Register(ctx, RegisterInput{Email: "TAKEN@example.com", Password: testPassword}, "")
	assert.ErrorIs(t, err, ErrEmailAlreadyRegistered)
	assertKind(t, err, KindDuplicate)
	assert.Equal(t, "User with this email already exists", err.Error())

	_, err = f.svc.Register(ctx, RegisterInput{Email: "new@example.com", Username: "taken", Password: testPassword}, "")
	assert.ErrorIs(t, err, ErrUsernameTaken)
	assert.Equal(t, "Username already taken", err.Error())

	_, err = f.svc.Register(ctx, RegisterInput{Email: "weak@example.com", Password: "weakpass"}, "")
	assertKind(t, err, KindValidation)
	assert.Equal(t, "Password should include at least one uppercase letter.", err.Error())

	_, err = f.svc.Register(ctx, RegisterInput{Email: "  ", Password: testPassword}, "")
	assertKind(t, err, KindValidation)

	// Users without a username do not collide with each other.
	f.register(t, "anon1@example.com", "")
	f.register(t, "anon2@example.com", "")
}

func TestAuthService_RegisterConcurrentDuplicates(t *testing.T) {
	f := newAuthFixture(t, withStrategy(VerifyNone), nil)

	var created atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Register(context.Background(), RegisterInput{Email: "dup@example.com", Password: testPassword}, "")
			if err == nil {
				created.Add(1)
				return
			}
			assert.ErrorIs(t, err, ErrEmailAlreadyRegistered)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), created.Load())
}

func TestAuthService_RegisterDeliveryFailureRollsBack(t *testing.T) {
	f := newAuthFixture(t, nil, nil)
	f.mail.err = errors.New("smtp down")

	_, err := f.svc.Register(context.Background(), RegisterInput{Email: "bounce@example.com", Password: testPassword}, "")
	assertKind(t, err, KindDelivery)

	user, err := f.users.FindByEmail(context.Background(), "bounce@example.com")
	require.NoError(t, err)
	assert.Nil(t, user)

	f.mail.err = nil
	f.register(t, "bounce@example.com", "")
}

func TestAuthService_UpdateEmailDeliveryFailureRollsBack(t *testing.T) {
	f := newAuthFixture(t, nil, nil)
	ctx := context.Background()
	userID := f.register(t, "erin@example.com", "erin")
	require.NoError(t, f.svc.VerifyEmail(ctx, f.mail.lastToken(t)))

	f.mail.err = errors.New("smtp down")
	email := "erin.new@example.com"
	password := "N3w!password"
	_, err := f.svc.UpdateUser(ctx, userID, UpdateUserInput{Email: &email, Password: &password})
	assertKind(t, err, KindDelivery)

	user := f.user(t, userID)
	assert.Equal(t, "erin@example.com", user.Email)
	assert.True(t, user.IsVerified)
	assert.Empty(t, user.VerificationToken)
	assert.Zero(t, user.VerificationTokenExpiresAt)

	f.mail.err = nil
	_, err = f.svc.Login(ctx, LoginInput{Email: "erin@example.com", Password: testPassword})
	require.NoError(t, err)

	// The address is free again for the retry.
	profile, err := f.svc.UpdateUser(ctx, userID, UpdateUserInput{Email: &email})
	require.NoError(t, err)
	assert.Equal(t, email, profile.Email)
	assert.False(t, profile.IsVerified)
}

func TestAuthService_UnverifiedLoginRefusedBeforePassword(t *testing.T) {
	f := newAuthFixture(t, nil, nil)
	ctx := context.Background()
	f.register(t, "frank@example.com", "")

	_, wrong := f.svc.Login(ctx, LoginInput{Email: "frank@example.com", Password: "Wr0ng!pass"})
	_, right := f.svc.Login(ctx, LoginInput{Email: "frank@example.com", Password: testPassword})

	assert.ErrorIs(t, wrong, ErrEmailNotVerified)
	assert.ErrorIs(t, right, ErrEmailNotVerified)
	assertKind(t, wrong, KindForbidden)
}

func TestAuthService_LoginFailuresAreIndistinguishable(t *testing.T) {
	f := newAuthFixture(t, withStrategy(VerifyNone), nil)
	ctx := context.Background()
	f.register(t, "bob@example.com", "bob")

	_, unknown := f.svc.Login(ctx, LoginInput{Email: "ghost@example.com", Password: testPassword})
	_, wrong := f.svc.Login(ctx, LoginInput{Email: "bob@example.com", Password: "Wr0ng!pass"})

	assert.ErrorIs(t, unknown, ErrInvalidCredentials)
	assert.ErrorIs(t, wrong, ErrInvalidCredentials)
	assert.Equal(t, unknown.Error(), wrong.Error())
	assertKind(t, unknown, KindAuthentication)

	_, err := f.svc.Login(ctx, LoginInput{Email: "", Password: ""})
	assertKind(t, err, KindValidation)
}

func TestAuthService_StrategyNoneCreatesVerifiedUser(t *testing.T) {
	f := newAuthFixture(t, withStrategy(VerifyNone), nil)
	userID := f.register(t, "none@example.com", "")

	assert.True(t, f.user(t, userID).IsVerified)
	assert.Zero(t, f.mail.count())

	_, err := f.svc.Login(context.Background(), LoginInput{Email: "none@example.com", Password: testPassword})
	require.NoError(t, err)
}

func TestAuthService_TOTPStrategy(t *testing.T) {
	f := newAuthFixture(t, withStrategy(VerifyByTOTP), nil)
	ctx := context.Background()

	result, err := f.svc.Register(ctx, RegisterInput{Email: "totp@example.com", Password: testPassword}, "")
	require.NoError(t, err)
	require.NotEmpty(t, result.Token)
	subject, err := f.tokens.Validate(ctx, result.Token)
	require.NoError(t, err)
	assert.Equal(t, result.UserID, subject)
	assert.Zero(t, f.mail.count())

	_, err = f.svc.Login(ctx, LoginInput{Email: "totp@example.com", Password: testPassword})
	assert.ErrorIs(t, err, ErrEmailNotVerified)

	enrollment, err := f.svc.EnableMFA(ctx, result.UserID)
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.VerifyMFA(ctx, result.UserID, "000000"), ErrInvalidTwoFactorCode)
	assert.False(t, f.user(t, result.UserID).IsVerified)

	require.NoError(t, f.svc.VerifyMFA(ctx, result.UserID, f.code(t, enrollment.Secret)))
	user := f.user(t, result.UserID)
	assert.True(t, user.IsVerified)
	assert.True(t, user.TwoFAConfirmed)

	_, err = f.svc.Login(ctx, LoginInput{Email: "totp@example.com", Password: testPassword})
	assert.ErrorIs(t, err, ErrTwoFactorRequired)
	assertKind(t, err, KindValidation)

	_, err = f.svc.Login(ctx, LoginInput{Email: "totp@example.com", Password: testPassword, TwoFACode: "12345x"})
	assert.ErrorIs(t, err, ErrInvalidTwoFactorCode)

	login, err := f.svc.Login(ctx, LoginInput{Email: "totp@example.com", Password: testPassword, TwoFACode: f.code(t, enrollment.Secret)})
	require.NoError(t, err)
	assert.NotEmpty(t, login.Token)
}

func TestAuthService_EnableMFAIsIdempotent(t *testing.T) {
	sealer := testCipher(t, 9)
	f := newAuthFixture(t, withStrategy(VerifyNone), sealer)
	ctx := context.Background()
	userID := f.register(t, "mfa@example.com", "")

	first, err := f.svc.EnableMFA(ctx, userID)
	require.NoError(t, err)
	assert.NotEmpty(t, first.Secret)
	assert.Contains(t, first.OTPAuthURL, "secret="+first.Secret)
	assert.Contains(t, first.QRCodeURL, "data:image/png;base64,")

	stored := f.user(t, userID).TwoFASecret
	assert.NotEqual(t, first.Secret, stored)
	opened, err := sealer.Decrypt(stored)
	require.NoError(t, err)
	assert.Equal(t, first.Secret, opened)

	second, err := f.svc.EnableMFA(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, second.Secret)
	assert.Equal(t, first.OTPAuthURL, second.OTPAuthURL)
	assert.Equal(t, stored, f.user(t, userID).TwoFASecret)

	_, err = f.svc.EnableMFA(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestAuthService_VerifyMFAWithoutEnrollment(t *testing.T) {
	f := newAuthFixture(t, withStrategy(VerifyNone), nil)
	userID := f.register(t, "plain@example.com", "")

	err := f.svc.VerifyMFA(context.Background(), userID, "123456")
	assert.ErrorIs(t, err, ErrTwoFactorNotEnrolled)
	assertKind(t, err, KindNotFound)
}

func TestAuthService_DisableMFA(t *testing.T) {
	f := newAuthFixture(t, withStrategy(VerifyNone), nil)
	ctx := context.Background()
	userID := f.register(t, "off@example.com", "")
	secret := f.enrollTOTP(t, userID)

	assert.ErrorIs(t, f.svc.DisableMFA(ctx, userID, "000000"), ErrInvalidTwoFactorCode)
	require.NoError(t, f.svc.DisableMFA(ctx, userID, f.code(t, secret)))

	user := f.user(t, userID)
	assert.Empty(t, user.TwoFASecret)
	assert.False(t, user.TwoFAConfirmed)

	_, err := f.svc.Login(ctx, LoginInput{Email: "off@example.com", Password: testPassword})
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.DisableMFA(ctx, userID, "123456"), ErrTwoFactorNotEnrolled)
}

func TestAuthService_LoginConfirmation(t *testing.T) {
	f := newAuthFixture(t, func(c *AuthConfig) {
		c.Strategy = VerifyNone
		c.RequireLoginConfirmation = true
	}, nil)
	ctx := context.Background()
	userID := f.register(t, "confirm@example.com", "")

	pending, err := f.svc.Login(ctx, LoginInput{Email: "confirm@example.com", Password: testPassword})
	require.NoError(t, err)
	assert.True(t, pending.PendingConfirmation)
	assert.Empty(t, pending.Token)
	assert.Contains(t, f.mail.sent[0].HTML, "/confirm-login?token=")

	token := f.mail.lastToken(t)
	require.NoError(t, f.svc.ConfirmLogin(ctx, token))
	assert.ErrorIs(t, f.svc.ConfirmLogin(ctx, token), ErrInvalidToken)
	assert.True(t, f.user(t, userID).LastLoginVerified)

	login, err := f.svc.Login(ctx, LoginInput{Email: "confirm@example.com", Password: testPassword})
	require.NoError(t, err)
	assert.NotEmpty(t, login.Token)
	assert.False(t, f.user(t, userID).LastLoginVerified)

	again, err := f.svc.Login(ctx, LoginInput{Email: "confirm@example.com", Password: testPassword})
	require.NoError(t, err)
	assert.True(t, again.PendingConfirmation)

	// Email verification tokens do not confirm logins.
	assert.ErrorIs(t, f.svc.VerifyEmail(ctx, f.mail.lastToken(t)), ErrInvalidToken)
}

func TestAuthService_LoginConfirmationSkippedWithTOTP(t *testing.T) {
	f := newAuthFixture(t, func(c *AuthConfig) {
		c.Strategy = VerifyNone
		c.RequireLoginConfirmation = true
	}, nil)
	userID := f.register(t, "both@example.com", "")
	secret := f.enrollTOTP(t, userID)

	login, err := f.svc.Login(context.Background(), LoginInput{Email: "both@example.com", Password: testPassword, TwoFACode: f.code(t, secret)})
	require.NoError(t, err)
	assert.False(t, login.PendingConfirmation)
	assert.NotEmpty(t, login.Token)
}

func TestAuthService_SecurityInfoValidation(t *testing.T) {
	f := newAuthFixture(t, withStrategy(VerifyNone), nil)
	ctx := context.Background()
	userID := f.register(t, "qa@example.com", "")
	full := testSecurityInfo()

	duplicate := testSecurityInfo()
	duplicate[2].Question = duplicate[0].Question
	blankAnswer := testSecurityInfo()
	blankAnswer[1].Answer = "  "

	for name, pairs := range map[string][]entity.SecurityQA{
		"empty":        nil,
		"two":          full[:2],
		"four":         append(testSecurityInfo(), entity.SecurityQA{Question: "Extra?", Answer: "x"}),
		"duplicate":    duplicate,
		"blank answer": blankAnswer,
	} {
		t.Run(name, func(t *testing.T) {
			assertKind(t, f.svc.UpdateSecurityInfo(ctx, userID, pairs), KindValidation)
		})
	}

	require.NoError(t, f.svc.UpdateSecurityInfo(ctx, userID, full))
	stored := f.user(t, userID).SecurityInfo
	require.Len(t, stored, 3)
	assert.Equal(t, full[0].Question, stored[0].Question)
	assert.NotEqual(t, "rex", stored[0].Answer)

	assert.ErrorIs(t, f.svc.UpdateSecurityInfo(ctx, "missing", full), ErrUserNotFound)
}

func TestAuthService_PasswordResetFlow(t *testing.T) {
	f := newAuthFixture(t, withStrategy(VerifyNone), nil)
	ctx := context.Background()
	userID := f.register(t, "reset@example.com", "")
	secret := f.enrollTOTP(t, userID)

	_, err := f.svc.StartPasswordReset(ctx, StartResetInput{Email: "reset@example.com", TwoFACode: f.code(t, secret)})
	assert.ErrorIs(t, err, ErrSecurityInfoMissing)

	require.NoError(t, f.svc.UpdateSecurityInfo(ctx, userID, testSecurityInfo()))

	start, err := f.svc.StartPasswordReset(ctx, StartResetInput{Email: "Reset@Example.com", TwoFACode: f.code(t, secret)})
	require.NoError(t, err)
	assert.Equal(t, userID, start.UserID)
	assert.Equal(t, []string{
		"What is the name of your first pet?",
		"What city were you born in?",
		"What was your childhood nickname?",
	}, start.Questions)

	wrong := testSecurityInfo()
	wrong[1].Answer = "Porto"
	_, err = f.svc.VerifySecurityInfo(ctx, userID, wrong)
	assert.ErrorIs(t, err, ErrSecurityInfoMismatch)

	swapped := testSecurityInfo()
	swapped[0], swapped[1] = swapped[1], swapped[0]
	_, err = f.svc.VerifySecurityInfo(ctx, userID, swapped)
	assert.ErrorIs(t, err, ErrSecurityInfoMismatch)

	_, err = f.svc.VerifySecurityInfo(ctx, userID, testSecurityInfo()[:2])
	assert.ErrorIs(t, err, ErrSecurityInfoMismatch)

	answers := []entity.SecurityQA{
		{Question: "what is the name of your first pet?", Answer: "  REX "},
		{Answer: "lisbon"},
		{Question: "What was your childhood nickname?", Answer: "bee"},
	}
	grant, err := f.svc.VerifySecurityInfo(ctx, userID, answers)
	require.NoError(t, err)
	require.NotEmpty(t, grant)

	err = f.svc.CompletePasswordReset(ctx, grant, "weak")
	assertKind(t, err, KindValidation)

	require.NoError(t, f.svc.CompletePasswordReset(ctx, grant, "N3w!password"))

	err = f.svc.CompletePasswordReset(ctx, grant, "N3w!password")
	assert.ErrorIs(t, err, ErrInvalidResetGrant)
	assertKind(t, err, KindAuthentication)

	_, err = f.svc.Login(ctx, LoginInput{Email: "reset@example.com", Password: testPassword, TwoFACode: f.code(t, secret)})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, LoginInput{Email: "reset@example.com", Password: "N3w!password", TwoFACode: f.code(t, secret)})
	require.NoError(t, err)
}

func TestAuthService_StartPasswordResetProofFailures(t *testing.T) {
	f := newAuthFixture(t, withStrategy(VerifyNone), nil)
	ctx := context.Background()
	plainID := f.register(t, "plain@example.com", "")
	require.NoError(t, f.svc.UpdateSecurityInfo(ctx, plainID, testSecurityInfo()))
	mfaID := f.register(t, "mfa@example.com", "")
	f.enrollTOTP(t, mfaID)

	for name, input := range map[string]StartResetInput{
		"unknown email": {Email: "ghost@example.com", TwoFACode: "123456"},
		"no 2fa":        {Email: "plain@example.com", TwoFACode: "123456"},
		"bad code":      {Email: "mfa@example.com", TwoFACode: "000000"},
		"missing code":  {Email: "mfa@example.com"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.StartPasswordReset(ctx, input)
			assert.ErrorIs(t, err, ErrAccountProofFailed)
			assertKind(t, err, KindAuthentication)
		})
	}

	assert.ErrorIs(t, f.svc.CompletePasswordReset(ctx, "", "N3w!password"), ErrInvalidResetGrant)
	assert.ErrorIs(t, f.svc.CompletePasswordReset(ctx, "forged", "N3w!password"), ErrInvalidResetGrant)
}

func TestAuthService_UpdateUser(t *testing.T) {
	f := newAuthFixture(t, nil, nil)
	ctx := context.Background()
	userID := f.register(t, "carol@example.com", "carol")
	require.NoError(t, f.svc.VerifyEmail(ctx, f.mail.lastToken(t)))
	f.register(t, "dave@example.com", "dave")

	_, err := f.svc.UpdateUser(ctx, userID, UpdateUserInput{})
	assert.ErrorIs(t, err, ErrNoUpdateFields)

	taken := "dave@example.com"
	_, err = f.svc.UpdateUser(ctx, userID, UpdateUserInput{Email: &taken})
	assert.ErrorIs(t, err, ErrEmailAlreadyRegistered)

	takenName := "dave"
	_, err = f.svc.UpdateUser(ctx, userID, UpdateUserInput{Username: &takenName})
	assert.ErrorIs(t, err, ErrUsernameTaken)

	weak := "short"
	_, err = f.svc.UpdateUser(ctx, userID, UpdateUserInput{Password: &weak})
	assertKind(t, err, KindValidation)

	name := "caroline"
	profile, err := f.svc.UpdateUser(ctx, userID, UpdateUserInput{Username: &name})
	require.NoError(t, err)
	assert.Equal(t, "caroline", profile.Username)
	assert.True(t, profile.IsVerified)

	sent := f.mail.count()
	email := "Caroline@Example.com"
	profile, err = f.svc.UpdateUser(ctx, userID, UpdateUserInput{Email: &email})
	require.NoError(t, err)
	assert.Equal(t, "caroline@example.com", profile.Email)
	assert.False(t, profile.IsVerified)
	assert.Equal(t, sent+1, f.mail.count())
	assert.Equal(t, "caroline@example.com", f.mail.sent[sent].To)

	password := "An0ther!pass"
	_, err = f.svc.UpdateUser(ctx, userID, UpdateUserInput{Password: &password})
	require.NoError(t, err)
	require.NoError(t, f.svc.VerifyEmail(ctx, f.mail.lastToken(t)))
	_, err = f.svc.Login(ctx, LoginInput{Email: "caroline@example.com", Password: password})
	require.NoError(t, err)

	_, err = f.svc.UpdateUser(ctx, "missing", UpdateUserInput{Username: &name})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestAuthService_GetAndDeleteUser(t *testing.T) {
	f := newAuthFixture(t, withStrategy(VerifyNone), nil)
	ctx := context.Background()
	userID := f.register(t, "erin@example.com", "erin")
	login, err := f.svc.Login(ctx, LoginInput{Email: "erin@example.com", Password: testPassword})
	require.NoError(t, err)

	profile, err := f.svc.GetUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, &Profile{ID: userID, Email: "erin@example.com", Username: "erin", IsVerified: true}, profile)

	require.NoError(t, f.svc.DeleteUser(ctx, userID))
	require.NoError(t, f.svc.DeleteUser(ctx, userID))

	_, err = f.svc.GetUser(ctx, userID)
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = f.tokens.Validate(ctx, login.Token)
	assert.Error(t, err)
}

func TestAuthService_SecurityLogsCarryNoSecrets(t *testing.T) {
	f := newAuthFixture(t, withStrategy(VerifyNone), nil)
	ctx := context.Background()
	userID := f.register(t, "audit@example.com", "")
	secret := f.enrollTOTP(t, userID)
	require.NoError(t, f.svc.UpdateSecurityInfo(ctx, userID, testSecurityInfo()))
	_, _ = f.svc.Login(ctx, LoginInput{Email: "audit@example.com", Password: "Wr0ng!pass"})
	_, _ = f.svc.Login(ctx, LoginInput{Email: "audit@example.com", Password: testPassword, TwoFACode: "000000"})
	_, err := f.svc.Login(ctx, LoginInput{Email: "audit@example.com", Password: testPassword, TwoFACode: f.code(t, secret)})
	require.NoError(t, err)

	docs, err := f.store.QueryByField(ctx, entity.SecurityLogsCollection, "userId", userID)
	require.NoError(t, err)
	require.NotEmpty(t, docs)

	var actions []entity.SecurityAction
	for _, doc := range docs {
		var entry entity.SecurityLog
		require.NoError(t, docstore.Decode(&doc, &entry))
		actions = append(actions, entry.Action)
		for _, value := range entry.Metadata {
			rendered := fmt.Sprint(value)
			for _, forbidden := range []string{testPassword, "Wr0ng!pass", secret, "Rex", "rex"} {
				assert.NotContains(t, rendered, forbidden)
			}
		}
	}
	assert.Contains(t, actions, entity.Registered)
	assert.Contains(t, actions, entity.MFAEnabled)
	assert.Contains(t, actions, entity.LoginFailed)
	assert.Contains(t, actions, entity.MFAFailed)
	assert.Contains(t, actions, entity.LoginSuccess)

	assert.NotContains(t, f.logs.String(), secret)
	assert.NotContains(t, f.logs.String(), testPassword)
}

func TestAuthService_ServerTime(t *testing.T) {
	f := newAuthFixture(t, nil, nil)
	assert.Equal(t, f.clock.Now(), f.svc.ServerTime())
}
