package entity

const SecurityLogsCollection = "security_logs"

type SecurityAction string

const (
	Registered         SecurityAction = "registered"
	EmailVerified      SecurityAction = "email_verified"
	LoginSuccess       SecurityAction = "login_success"
	LoginFailed        SecurityAction = "login_failed"
	LoginPending       SecurityAction = "login_pending_confirmation"
	LoginConfirmed     SecurityAction = "login_confirmed"
	MFAEnabled         SecurityAction = "mfa_enabled"
	MFAConfirmed       SecurityAction = "mfa_confirmed"
	MFADisabled        SecurityAction = "mfa_disabled"
	MFAFailed          SecurityAction = "mfa_failed"
	SecurityInfoSet    SecurityAction = "security_info_set"
	SecurityInfoFailed SecurityAction = "security_info_failed"
	Reset              SecurityAction = "password_reset"
	ProfileUpdated     SecurityAction = "profile_updated"
	AccountDeleted     SecurityAction = "account_deleted"
)

// SecurityLog is an audit record. Metadata must never carry passwords, TOTP
// secrets, security answers or raw tokens.
type SecurityLog struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId,omitempty"`
	IPAddress string         `json:"ip,omitempty"`
	Action    SecurityAction `json:"action"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt int64          `json:"createdAt"`
}
