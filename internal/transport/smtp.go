package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/logger"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/mailer"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/model"
)

const (
	DefaultDialTimeout = 30 * time.Second
	DefaultSendTimeout = 2 * time.Minute
)

// DialFunc opens the raw TCP connection to the relay.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

type Options struct {
	DialTimeout time.Duration
	SendTimeout time.Duration
	TLSConfig   *tls.Config
	Dial        DialFunc
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = DefaultSendTimeout
	}
	if o.Dial == nil {
		var d net.Dialer
		o.Dial = d.DialContext
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// SMTPClient holds at most one authenticated relay session. It is safe for
// concurrent use but sends one message at a time.
type SMTPClient struct {
	settings model.SMTPSettings
	password string
	opts     Options

	mu     sync.Mutex
	conn   net.Conn
	client *smtp.Client
}

func NewSMTPClient(settings model.SMTPSettings, password string, opts Options) *SMTPClient {
	return &SMTPClient{settings: settings, password: password, opts: opts.withDefaults()}
}

func (c *SMTPClient) addr() string {
	return net.JoinHostPort(c.settings.Host, strconv.Itoa(c.settings.Port))
}

func (c *SMTPClient) tlsConfig() *tls.Config {
	if c.opts.TLSConfig != nil {
		return c.opts.TLSConfig
	}
	return &tls.Config{ServerName: c.settings.Host, MinVersion: tls.VersionTLS12}
}

// Connect establishes the session if there is none.
func (c *SMTPClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *SMTPClient) connectLocked(ctx context.Context) error {
	if c.client != nil {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	conn, err := c.opts.Dial(dialCtx, "tcp", c.addr())
	if err != nil {
		return &ConnectionError{Op: "dial", Err: err}
	}
	_ = conn.SetDeadline(time.Now().Add(c.opts.DialTimeout))

	var client *smtp.Client
	switch c.settings.Security {
	case model.SecurityTLS:
		tlsConn := tls.Client(conn, c.tlsConfig())
		if err := tlsConn.HandshakeContext(dialCtx); err != nil {
			conn.Close()
			return &ConnectionError{Op: "tls handshake", Err: err}
		}
		conn = tlsConn
		client = smtp.NewClient(conn)
	case model.SecurityStartTLS:
		client, err = smtp.NewClientStartTLS(conn, c.tlsConfig())
		if err != nil {
			conn.Close()
			return &ConnectionError{Op: "starttls", Err: err}
		}
	default:
		client = smtp.NewClient(conn)
	}

	if c.settings.Username != "" {
		auth := sasl.NewPlainClient("", c.settings.Username, c.password)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return &ConnectionError{Op: "auth", Err: err}
		}
	}

	_ = conn.SetDeadline(time.Time{})
	c.conn, c.client = conn, client
	c.opts.Logger.DebugContext(ctx, "relay session opened",
		slog.String("addr", c.addr()),
		slog.String("security", c.settings.Security),
	)
	return nil
}

// Send delivers one message. A broken session is redialed first; if that
// fails the returned error is a *ConnectionError. Every other failure is a
// *SendError carrying its Class.
func (c *SMTPClient) Send(ctx context.Context, msg *mailer.Message) error {
	raw, err := msg.Bytes()
	if err != nil {
		return &SendError{Class: Permanent, Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return err
	}

	conn := c.conn
	deadline := time.Now().Add(c.opts.SendTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	err = c.transmit(msg.From.Email, msg.To, raw)
	if err == nil {
		_ = conn.SetDeadline(time.Time{})
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w: %v", ctxErr, err)
	}

	var reply *smtp.SMTPError
	if errors.As(err, &reply) {
		// The relay answered; the session is still usable after RSET.
		_ = conn.SetDeadline(time.Now().Add(c.opts.DialTimeout))
		if rerr := c.client.Reset(); rerr != nil {
			c.dropLocked()
		} else {
			_ = conn.SetDeadline(time.Time{})
		}
	} else {
		c.dropLocked()
	}

	c.opts.Logger.WarnContext(ctx, "relay rejected message",
		slog.String("to", logger.RedactEmail(msg.To)),
		slog.String("error", err.Error()),
	)
	return &SendError{Class: Classify(err), Err: err}
}

func (c *SMTPClient) transmit(from, to string, raw []byte) error {
	if err := c.client.Mail(from, nil); err != nil {
		return err
	}
	if err := c.client.Rcpt(to, nil); err != nil {
		return err
	}
	w, err := c.client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (c *SMTPClient) dropLocked() {
	if c.client != nil {
		c.client.Close()
	}
	c.client, c.conn = nil, nil
}

// Close ends the session politely. It is safe to call on a client that never connected.
func (c *SMTPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	_ = c.conn.SetDeadline(time.Now().Add(5 * time.Second))
	err := c.client.Quit()
	c.dropLocked()
	return err
}

// Dialer opens SMTP clients with shared options.
type Dialer struct {
	Options Options
}

// Open returns a connected client, or a *ConnectionError.
func (d Dialer) Open(ctx context.Context, settings model.SMTPSettings, password string) (*SMTPClient, error) {
	c := NewSMTPClient(settings, password, d.Options)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}
