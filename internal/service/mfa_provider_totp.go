package service

import (
	"bytes"
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"image/png"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	DefaultTOTPSecretLength = 20
	qrCodeSize              = 256
)

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

type TOTPProvider struct {
	Issuer    string
	Period    uint
	Skew      uint
	Digits    otp.Digits
	Algorithm otp.Algorithm
}

func NewTOTPProvider(issuer string) *TOTPProvider {
	return &TOTPProvider{
		Issuer:    issuer,
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

func (p *TOTPProvider) GenerateSecret(length int) (string, error) {
	if length <= 0 {
		length = DefaultTOTPSecretLength
	}
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return secretEncoding.EncodeToString(raw), nil
}

func (p *TOTPProvider) ProvisioningURI(secret string, accountLabel string, issuer string) string {
	finalIssuer := issuer
	if strings.TrimSpace(finalIssuer) == "" {
		finalIssuer = fallbackIssuer(p.Issuer)
	}
	label := url.PathEscape(finalIssuer + ":" + accountLabel)
	query := url.Values{}
	query.Set("secret", secret)
	query.Set("issuer", finalIssuer)
	query.Set("algorithm", p.algorithm().String())
	query.Set("digits", strconv.Itoa(p.digits().Length()))
	query.Set("period", strconv.FormatUint(uint64(p.period()), 10))
	return "otpauth://totp/" + label + "?" + query.Encode()
}

// QRCodeDataURL renders the provisioning URI as a PNG data URL an <img> can
// show directly.
func (p *TOTPProvider) QRCodeDataURL(uri string) (string, error) {
	key, err := otp.NewKeyFromURL(uri)
	if err != nil {
		return "", err
	}
	img, err := key.Image(qrCodeSize, qrCodeSize)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// ValidateCode accepts codes for the time step containing at and Skew steps
// either side of it.
func (p *TOTPProvider) ValidateCode(secret string, code string, at time.Time) bool {
	code = strings.TrimSpace(code)
	if code == "" || secret == "" {
		return false
	}
	valid, err := totp.ValidateCustom(code, secret, at.UTC(), p.validateOpts())
	return err == nil && valid
}

// GenerateCode returns the code for the step containing at.
func (p *TOTPProvider) GenerateCode(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, at.UTC(), p.validateOpts())
}

func (p *TOTPProvider) validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    p.period(),
		Skew:      p.Skew,
		Digits:    p.digits(),
		Algorithm: p.algorithm(),
	}
}

func (p *TOTPProvider) period() uint {
	if p.Period == 0 {
		return 30
	}
	return p.Period
}

func (p *TOTPProvider) digits() otp.Digits {
	if p.Digits == 0 {
		return otp.DigitsSix
	}
	return p.Digits
}

func (p *TOTPProvider) algorithm() otp.Algorithm {
	if p.Algorithm == 0 {
		return otp.AlgorithmSHA1
	}
	return p.Algorithm
}

func fallbackIssuer(issuer string) string {
	if strings.TrimSpace(issuer) == "" {
		return "PassVault"
	}
	return issuer
}
