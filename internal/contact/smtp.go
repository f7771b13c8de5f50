package contact

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"time"
)

// BrevoHost and BrevoPort are Brevo's SMTP relay.
const (
	BrevoHost = "smtp-relay.brevo.com"
	BrevoPort = 587
)

// SMTP delivers through an SMTP server. Port 465 uses implicit TLS; other
// ports upgrade with STARTTLS when the server offers it.
type SMTP struct {
	name string
	host string
	port int
	user string
	pass string

	tlsConfig *tls.Config
}

// NewSMTP returns a provider reported under name.
func NewSMTP(name, host string, port int, user, pass string) *SMTP {
	return &SMTP{
		name:      name,
		host:      host,
		port:      port,
		user:      user,
		pass:      pass,
		tlsConfig: &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12},
	}
}

// NewBrevo returns the Brevo relay provider.
func NewBrevo(user, key string) *SMTP {
	return NewSMTP("Brevo", BrevoHost, BrevoPort, user, key)
}

func (s *SMTP) Name() string { return s.name }

func (s *SMTP) Send(ctx context.Context, msg Message, to string) error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(30 * time.Second))
	}
	if s.port == 465 {
		conn = tls.Client(conn, s.tlsConfig)
	}

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if s.port != 465 {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(s.tlsConfig); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}
	if s.user != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(smtp.PlainAuth("", s.user, s.pass, s.host)); err != nil {
				return fmt.Errorf("auth: %w", err)
			}
		}
	}

	from := s.user
	if from == "" {
		from = to
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(s.compose(msg, from, to)); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func (s *SMTP) compose(msg Message, from, to string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s <%s>\r\n", mime.QEncoding.Encode("utf-8", oneLine(msg.Name)), from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Reply-To: %s\r\n", oneLine(msg.Email))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.MailSubject()))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.Write(bytes.ReplaceAll([]byte(msg.Text()), []byte("\n"), []byte("\r\n")))
	return b.Bytes()
}
