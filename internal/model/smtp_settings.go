// internal/model/smtp_settings.go
package model

// Transport security modes for the relay connection.
const (
	SecurityNone     = "none"
	SecurityStartTLS = "starttls"
	SecurityTLS      = "tls"
)

// SMTPSettings is the persisted relay configuration. The password is never stored here.
type SMTPSettings struct {
	Host      string `db:"host" json:"host" yaml:"host"`
	Port      int    `db:"port" json:"port" yaml:"port"`
	Security  string `db:"security" json:"security" yaml:"security"`
	Username  string `db:"username" json:"username" yaml:"username"`
	FromName  string `db:"from_name" json:"from_name" yaml:"from_name"`
	FromEmail string `db:"from_email" json:"from_email" yaml:"from_email"`
}

// Configured reports whether enough is set to open a relay connection.
func (s *SMTPSettings) Configured() bool {
	return s != nil && s.Host != "" && s.Port > 0 && s.FromEmail != ""
}
