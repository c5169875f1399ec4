package mailer

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/model"
)

const (
	// MaxMailboxLength is the longest forward-path mailbox a relay must accept.
	MaxMailboxLength = 254
	maxLocalPart     = 64

	// MaxHeaderLine is the longest header line RFC 5322 allows, CRLF excluded.
	MaxHeaderLine = 998

	ReasonInvalidEmail = "Invalid email format"
)

var (
	ErrSubjectEmpty   = errors.New("subject is empty")
	ErrSubjectTooLong = fmt.Errorf("subject header exceeds %d octets", MaxHeaderLine)
)

var emailPattern = regexp.MustCompile(
	`^[A-Za-z0-9.!#$%&'*+/=?^_{|}~-]+@[A-Za-z0-9](?:[A-Za-z0-9-]{0,61}[A-Za-z0-9])?(?:\.[A-Za-z0-9](?:[A-Za-z0-9-]{0,61}[A-Za-z0-9])?)+$`,
)

// ValidEmail reports whether addr is a plain local-part@domain mailbox within protocol limits.
func ValidEmail(addr string) bool {
	if addr == "" || len(addr) > MaxMailboxLength {
		return false
	}
	local, _, ok := strings.Cut(addr, "@")
	if !ok || len(local) > maxLocalPart {
		return false
	}
	if strings.HasPrefix(local, ".") || strings.HasSuffix(local, ".") || strings.Contains(local, "..") {
		return false
	}
	return emailPattern.MatchString(addr)
}

// ValidSender checks the From address once per chunk.
func ValidSender(addr string) error {
	if !ValidEmail(addr) {
		return fmt.Errorf("invalid sender address %q", addr)
	}
	return nil
}

const subjectPrefix = "Subject: "

// ValidSubject checks a subject line, before or after personalization. The
// limit applies to the header line as written, after encoded-word expansion.
func ValidSubject(subject string) error {
	if strings.TrimSpace(subject) == "" {
		return ErrSubjectEmpty
	}
	if len(subjectPrefix)+len(encodeSubject(subject)) > MaxHeaderLine {
		return ErrSubjectTooLong
	}
	return nil
}

// Partition splits a batch into addressable and malformed recipients, keeping input order.
func Partition(batch []model.Recipient) (valid, invalid []model.Recipient) {
	for _, r := range batch {
		if ValidEmail(strings.TrimSpace(r.Email)) {
			valid = append(valid, r)
		} else {
			invalid = append(invalid, r)
		}
	}
	return valid, invalid
}
