package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type StoreDriver string

const (
	StoreMemory   StoreDriver = "memory"
	StorePostgres StoreDriver = "postgres"
	StoreMongo    StoreDriver = "mongo"
)

type Config struct {
	HTTPAddr      string
	PublicBaseURL string

	JWTSecret  string
	JWTIssuer  string
	SessionTTL time.Duration

	VerificationStrategy string
	LoginConfirmation    bool
	VerificationTokenTTL time.Duration
	LoginTokenTTL        time.Duration
	ResetGrantTTL        time.Duration

	CipherKey      string
	PasswordHasher string
	BcryptCost     int

	StoreDriver StoreDriver
	DatabaseURL string
	MongoURI    string
	MongoDB     string
	RedisURL    string

	ResendAPIKey string
	EmailFrom    string
	MFAIssuer    string
}

// Load reads envFile when present and then the process environment. A
// missing env file is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var errs []error
	cfg := &Config{
		HTTPAddr:             getString("HTTP_ADDR", ":8080"),
		PublicBaseURL:        getString("PUBLIC_BASE_URL", "http://localhost:8080"),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		JWTIssuer:            getString("JWT_ISSUER", "passvault"),
		SessionTTL:           getDuration("SESSION_TTL", time.Hour, &errs),
		VerificationStrategy: getString("VERIFICATION_STRATEGY", "email_link"),
		LoginConfirmation:    getBool("LOGIN_CONFIRMATION", false, &errs),
		VerificationTokenTTL: getDuration("VERIFICATION_TOKEN_TTL", 24*time.Hour, &errs),
		LoginTokenTTL:        getDuration("LOGIN_TOKEN_TTL", 24*time.Hour, &errs),
		ResetGrantTTL:        getDuration("RESET_GRANT_TTL", 15*time.Minute, &errs),
		CipherKey:            os.Getenv("CIPHER_KEY"),
		PasswordHasher:       getString("PASSWORD_HASHER", "bcrypt"),
		BcryptCost:           getInt("BCRYPT_COST", 10, &errs),
		StoreDriver:          StoreDriver(strings.ToLower(getString("STORE_DRIVER", string(StoreMemory)))),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		MongoURI:             os.Getenv("MONGO_URI"),
		MongoDB:              getString("MONGO_DB", "passvault"),
		RedisURL:             os.Getenv("REDIS_URL"),
		ResendAPIKey:         os.Getenv("RESEND_API_KEY"),
		EmailFrom:            os.Getenv("EMAIL_FROM"),
		MFAIssuer:            getString("MFA_ISSUER", "PassVault"),
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET is required and must be at least 32 characters"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	switch c.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case StoreMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("MONGO_URI is required for the mongo store"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER %q is not one of memory, postgres, mongo", c.StoreDriver))
	}
	if (c.ResendAPIKey == "") != (c.EmailFrom == "") {
		errs = append(errs, errors.New("RESEND_API_KEY and EMAIL_FROM must be set together"))
	}
	return errors.Join(errs...)
}

func getString(key string, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return parsed
}

func getBool(key string, fallback bool, errs *[]error) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return parsed
}

func getInt(key string, fallback int, errs *[]error) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return parsed
}
