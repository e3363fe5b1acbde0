package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"os"
	"time"
)

// DefSendTimeout limits the duration of an SMTP session when the context
// has no earlier deadline.
const DefSendTimeout = time.Minute

// Sender delivers mails.
type Sender interface {
	Send(ctx context.Context, mail *Mail) error
}

// SMTPSender delivers mails via an SMTP server.
// STARTTLS is used when the server supports it.
// When a user is configured PLAIN authentication is used, the server must
// then support TLS.
type SMTPSender struct {
	addr    string
	host    string
	auth    smtp.Auth
	timeout time.Duration
}

func NewSMTPSender(addr, user, password string) *SMTPSender {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	s := SMTPSender{
		addr:    addr,
		host:    host,
		timeout: DefSendTimeout,
	}

	if user != "" {
		s.auth = smtp.PlainAuth("", user, password, host)
	}

	return &s
}

// Send delivers mail in a single SMTP session.
// The session is aborted when ctx is canceled or the session exceeds
// DefSendTimeout.
func (s *SMTPSender) Send(ctx context.Context, mail *Mail) error {
	ctx, cancelFn := context.WithTimeout(ctx, s.timeout)
	defer cancelFn()

	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return err
	}

	// net/smtp does not support contexts, closing the connection
	// interrupts blocked reads and writes.
	sessionDone := make(chan struct{})
	defer close(sessionDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-sessionDone:
		}
	}()

	err = s.session(conn, mail)
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("smtp session aborted: %w (%s)", ctxErr, err)
	}

	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("smtp session aborted: %w (%s)", context.DeadlineExceeded, err)
	}

	return err
}

func (s *SMTPSender) session(conn net.Conn, mail *Mail) error {
	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("starttls failed: %w", err)
		}
	}

	if s.auth != nil {
		if ok, _ := c.Extension("AUTH"); !ok {
			return errors.New("smtp server does not support authentication")
		}

		if err := c.Auth(s.auth); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
	}

	if err := c.Mail(mail.From); err != nil {
		return err
	}

	for _, rcpt := range mail.To {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt %s: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return err
	}

	if _, err := w.Write(mail.Bytes()); err != nil {
		return err
	}

	if err := w.Close(); err != nil {
		return err
	}

	return c.Quit()
}

func (s *SMTPSender) String() string {
	return "smtp://" + s.addr
}
