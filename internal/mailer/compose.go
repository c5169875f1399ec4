package mailer

import (
	"bytes"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/model"
)

// Address is a mailbox with an optional display name.
type Address struct {
	Name  string
	Email string
}

// String renders the address for a From/To header.
func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	if !isASCII(a.Name) {
		return mime.BEncoding.Encode("UTF-8", a.Name) + " <" + a.Email + ">"
	}
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(a.Name)
	return `"` + escaped + `" <` + a.Email + ">"
}

// Domain returns the part after '@', used to scope Message-IDs.
func (a Address) Domain() string {
	if i := strings.LastIndexByte(a.Email, '@'); i >= 0 && i < len(a.Email)-1 {
		return a.Email[i+1:]
	}
	return "localhost"
}

// Message is one composed email ready for the relay.
type Message struct {
	From      Address
	To        string
	Subject   string
	Text      string
	HTML      string
	MessageID string
	Date      time.Time
	boundary  string
}

// Composer renders templates into messages. Clock and id source are swappable for tests.
type Composer struct {
	Now   func() time.Time
	NewID func() string
}

// NewComposer returns a composer on the wall clock with random ids.
func NewComposer() *Composer {
	return &Composer{Now: time.Now, NewID: uuid.NewString}
}

// Compose personalizes tpl for r. A subject that personalizes to empty or
// oversized text is an error and the recipient must not be sent to.
func (c *Composer) Compose(tpl model.Template, r model.Recipient, from Address) (*Message, error) {
	subject := sanitizeHeader(Personalize(tpl.Subject, r))
	if err := ValidSubject(subject); err != nil {
		return nil, err
	}

	body := NormalizeLineEndings(Personalize(tpl.Body, r))
	now := c.Now()
	id := c.NewID()

	return &Message{
		From:      from,
		To:        strings.TrimSpace(r.Email),
		Subject:   subject,
		Text:      body,
		HTML:      ToHTML(body),
		MessageID: fmt.Sprintf("<%s.%s@%s>", strconv.FormatInt(now.UnixNano(), 36), id, from.Domain()),
		Date:      now,
		boundary:  "=_" + strings.ReplaceAll(id, "-", ""),
	}, nil
}

// EncodedSubject returns the Subject header value, base64 encoded-words when not plain ASCII.
func (m *Message) EncodedSubject() string {
	return encodeSubject(m.Subject)
}

func encodeSubject(s string) string {
	if isASCII(s) {
		return s
	}
	return mime.BEncoding.Encode("UTF-8", s)
}

// Bytes renders headers and a multipart/alternative body with CRLF line endings throughout.
func (m *Message) Bytes() ([]byte, error) {
	boundary := m.boundary
	if boundary == "" {
		boundary = "=_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	var buf bytes.Buffer
	writeHeader(&buf, "From", m.From.String())
	writeHeader(&buf, "To", m.To)
	writeHeader(&buf, "Subject", m.EncodedSubject())
	writeHeader(&buf, "Date", m.Date.Format(time.RFC1123Z))
	writeHeader(&buf, "Message-ID", m.MessageID)
	writeHeader(&buf, "MIME-Version", "1.0")
	writeHeader(&buf, "Content-Type", fmt.Sprintf(`multipart/alternative; boundary="%s"`, boundary))
	buf.WriteString("\r\n")

	if err := writePart(&buf, boundary, "text/plain; charset=UTF-8", m.Text); err != nil {
		return nil, err
	}
	if err := writePart(&buf, boundary, "text/html; charset=UTF-8", m.HTML); err != nil {
		return nil, err
	}
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)

	return []byte(NormalizeLineEndings(buf.String())), nil
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	buf.WriteString(key)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

func writePart(buf *bytes.Buffer, boundary, contentType, content string) error {
	fmt.Fprintf(buf, "--%s\r\n", boundary)
	writeHeader(buf, "Content-Type", contentType)
	writeHeader(buf, "Content-Transfer-Encoding", "quoted-printable")
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(buf)
	if _, err := qp.Write([]byte(content)); err != nil {
		return fmt.Errorf("encode %s part: %w", contentType, err)
	}
	if err := qp.Close(); err != nil {
		return fmt.Errorf("encode %s part: %w", contentType, err)
	}
	buf.WriteString("\r\n")
	return nil
}

// NormalizeLineEndings turns every bare LF or CR into CRLF.
func NormalizeLineEndings(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

// ToHTML converts the line breaks of a plain body into <br> tags.
func ToHTML(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\r", "\n")
	return strings.ReplaceAll(body, "\n", "<br>")
}

func sanitizeHeader(s string) string {
	return strings.TrimSpace(strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ").Replace(s))
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
