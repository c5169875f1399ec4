package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"

	"github.com/emersion/go-smtp"
)

// Class is the retry-relevant category of a failed send.
type Class int

const (
	Transient Class = iota
	Timeout
	Permanent
)

func (c Class) String() string {
	switch c {
	case Permanent:
		return "permanent"
	case Timeout:
		return "timeout"
	default:
		return "transient"
	}
}

// SendError is a failed delivery of one message, already classified.
type SendError struct {
	Class Class
	Err   error
}

func (e *SendError) Error() string { return e.Err.Error() }
func (e *SendError) Unwrap() error { return e.Err }

// ConnectionError means the relay session itself could not be established.
// It is never retried per recipient; the chunk owning the client gives up.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("smtp %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err aborts the whole session.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

var permanentCode = regexp.MustCompile(`\b55[03]\b`)

// Classify maps a send error to a Class. Permanent wins over timeout, which
// wins over transient.
func Classify(err error) Class {
	if err == nil {
		return Transient
	}
	var se *SendError
	if errors.As(err, &se) {
		return se.Class
	}

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) && (smtpErr.Code == 550 || smtpErr.Code == 553) {
		return Permanent
	}
	text := err.Error()
	lower := strings.ToLower(text)
	if permanentCode.MatchString(text) || strings.Contains(lower, "invalid") || strings.Contains(lower, "rfc") {
		return Permanent
	}

	if isTimeout(err) {
		return Timeout
	}
	return Transient
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
