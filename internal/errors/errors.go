// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the engine and its HTTP edge.
var (
	ErrNoRecipients       = errors.New("no recipients provided")
	ErrMissingSMTPConfig  = errors.New("SMTP configuration is missing")
	ErrMissingCredentials = errors.New("SMTP credentials are not available")
	ErrCampaignBusy       = errors.New("campaign is being processed by another worker")
	ErrTemplateNotFound   = errors.New("template not found")
)

// ErrCampaignNotFound is returned when a campaign id does not resolve
type ErrCampaignNotFound struct {
	CampaignID string
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %s not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id string) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ValidationError rejects a submission or a single recipient.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func NewValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ConfigError is fatal for the whole campaign or chunk it is detected in.
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
	}
	return "configuration error: " + e.Reason
}

func (e *ConfigError) Unwrap() error { return e.Err }

func NewConfigError(reason string, err error) error {
	return &ConfigError{Reason: reason, Err: err}
}

// IsNotFound reports whether err is a campaign lookup miss.
func IsNotFound(err error) bool {
	var nf *ErrCampaignNotFound
	return errors.As(err, &nf)
}

// IsValidation reports whether err rejects caller input.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) || errors.Is(err, ErrNoRecipients) || errors.Is(err, ErrMissingSMTPConfig)
}
