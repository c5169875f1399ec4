package transport

import (
	"context"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/logger"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/mailer"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/model"
)

type relay struct {
	mu        sync.Mutex
	delivered map[string][]byte
	rcptErr   map[string]error
	stall     time.Duration
	sessions  int
}

func (r *relay) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	r.mu.Lock()
	r.sessions++
	r.mu.Unlock()
	return &relaySession{relay: r}, nil
}

type relaySession struct {
	relay *relay
	to    string
}

func (s *relaySession) Mail(from string, _ *smtp.MailOptions) error { return nil }

func (s *relaySession) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.relay.mu.Lock()
	defer s.relay.mu.Unlock()
	if err, ok := s.relay.rcptErr[to]; ok {
		return err
	}
	s.to = to
	return nil
}

func (s *relaySession) Data(r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.relay.mu.Lock()
	stall := s.relay.stall
	s.relay.mu.Unlock()
	if stall > 0 {
		time.Sleep(stall)
	}
	s.relay.mu.Lock()
	s.relay.delivered[s.to] = b
	s.relay.mu.Unlock()
	return nil
}

func (s *relaySession) Reset()        { s.to = "" }
func (s *relaySession) Logout() error { return nil }

func startRelay(t *testing.T) (*relay, model.SMTPSettings) {
	t.Helper()
	be := &relay{delivered: map[string][]byte{}, rcptErr: map[string]error{}}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := smtp.NewServer(be)
	srv.Domain = "relay.test"
	srv.AllowInsecureAuth = true
	go srv.Serve(l)
	t.Cleanup(func() { srv.Close() })

	host, port, _ := net.SplitHostPort(l.Addr().String())
	p, _ := strconv.Atoi(port)
	return be, model.SMTPSettings{
		Host:      host,
		Port:      p,
		Security:  model.SecurityNone,
		FromName:  "Outreach",
		FromEmail: "outreach@vishi.example",
	}
}

func testMessage(t *testing.T, to string) *mailer.Message {
	t.Helper()
	msg, err := mailer.NewComposer().Compose(
		model.Template{Subject: "Hello {{name}}", Body: "Body for {{course}}"},
		model.Recipient{Name: "Asha", Email: to, Course: "MCA"},
		mailer.Address{Name: "Outreach", Email: "outreach@vishi.example"},
	)
	require.NoError(t, err)
	return msg
}

func TestSMTPClientDeliversOverOneSession(t *testing.T) {
	be, settings := startRelay(t)
	client, err := Dialer{Options: Options{Logger: logger.Nop()}}.Open(context.Background(), settings, "")
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Send(context.Background(), testMessage(t, "a@x.org")))
	require.NoError(t, client.Send(context.Background(), testMessage(t, "b@x.org")))

	be.mu.Lock()
	defer be.mu.Unlock()
	assert.Len(t, be.delivered, 2)
	assert.Contains(t, string(be.delivered["a@x.org"]), "Subject: Hello Asha")
	assert.Equal(t, 1, be.sessions)
}

func TestSMTPClientPermanentRejectionKeepsSession(t *testing.T) {
	be, settings := startRelay(t)
	be.rcptErr["gone@x.org"] = &smtp.SMTPError{
		Code:         550,
		EnhancedCode: smtp.EnhancedCode{5, 1, 1},
		Message:      "mailbox unavailable",
	}

	client := NewSMTPClient(settings, "", Options{Logger: logger.Nop()})
	defer client.Close()

	err := client.Send(context.Background(), testMessage(t, "gone@x.org"))
	require.Error(t, err)
	var se *SendError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, Permanent, se.Class)

	require.NoError(t, client.Send(context.Background(), testMessage(t, "ok@x.org")))
	be.mu.Lock()
	assert.Equal(t, 1, be.sessions)
	be.mu.Unlock()
}

func TestSMTPClientTransientRejection(t *testing.T) {
	be, settings := startRelay(t)
	be.rcptErr["busy@x.org"] = &smtp.SMTPError{Code: 451, Message: "try again later"}

	client := NewSMTPClient(settings, "", Options{Logger: logger.Nop()})
	defer client.Close()

	err := client.Send(context.Background(), testMessage(t, "busy@x.org"))
	assert.Equal(t, Transient, Classify(err))
}

func TestSMTPClientTimeoutRedials(t *testing.T) {
	be, settings := startRelay(t)
	be.stall = 300 * time.Millisecond

	client := NewSMTPClient(settings, "", Options{SendTimeout: 50 * time.Millisecond, Logger: logger.Nop()})
	defer client.Close()

	err := client.Send(context.Background(), testMessage(t, "slow@x.org"))
	require.Error(t, err)
	assert.Equal(t, Timeout, Classify(err))

	be.mu.Lock()
	be.stall = 0
	be.mu.Unlock()

	require.NoError(t, client.Send(context.Background(), testMessage(t, "fast@x.org")))
	be.mu.Lock()
	assert.Equal(t, 2, be.sessions)
	be.mu.Unlock()
}

func TestSMTPClientConnectionError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, port, _ := net.SplitHostPort(l.Addr().String())
	l.Close()
	p, _ := strconv.Atoi(port)

	_, err = Dialer{Options: Options{DialTimeout: time.Second, Logger: logger.Nop()}}.Open(
		context.Background(),
		model.SMTPSettings{Host: host, Port: p, Security: model.SecurityNone, FromEmail: "a@x.org"},
		"",
	)
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))
}

func TestCloseWithoutConnect(t *testing.T) {
	client := NewSMTPClient(model.SMTPSettings{}, "", Options{})
	assert.NoError(t, client.Close())
}
