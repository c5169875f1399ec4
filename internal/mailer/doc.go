// Package mailer turns a campaign template and a recipient into a wire-ready
// RFC 5322 message, and decides which recipients are addressable at all.
//
// Nothing in this package performs I/O. Personalization understands exactly
// three placeholders, {{name}}, {{email}} and {{course}}, matched
// case-insensitively and substituted in a single pass.
package mailer
