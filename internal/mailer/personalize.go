package mailer

import (
	"regexp"
	"strings"

	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/model"
)

var placeholderPattern = regexp.MustCompile(`(?i)\{\{(name|email|course)\}\}`)

// Personalize substitutes the recipient placeholders in s. Values inserted are
// never rescanned, so a name containing "{{course}}" stays literal.
func Personalize(s string, r model.Recipient) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	fields := map[string]string{
		"name":   r.Name,
		"email":  r.Email,
		"course": r.Course,
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(token string) string {
		return fields[strings.ToLower(token[2:len(token)-2])]
	})
}
