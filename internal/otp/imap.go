package otp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

const (
	defaultMailbox  = "INBOX"
	imapDialTimeout = 10 * time.Second
	maxBodyBytes    = 1 << 20
)

// IMAPConfig identifies the mailbox to read.
type IMAPConfig struct {
	Addr     string
	Username string
	Password string
	Mailbox  string
	// TLSConfig overrides the default TLS settings. Tests use it to trust a
	// local server.
	TLSConfig *tls.Config
}

// IMAPMailbox reads the newest message over IMAPS. Each call opens and closes
// its own connection.
type IMAPMailbox struct {
	cfg IMAPConfig
}

// NewIMAPMailbox validates cfg and returns a mailbox reader.
func NewIMAPMailbox(cfg IMAPConfig) (*IMAPMailbox, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("imap address is required")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("imap credentials are required")
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = defaultMailbox
	}
	return &IMAPMailbox{cfg: cfg}, nil
}

func (m *IMAPMailbox) tlsConfig() *tls.Config {
	if m.cfg.TLSConfig != nil {
		return m.cfg.TLSConfig
	}
	host, _, err := net.SplitHostPort(m.cfg.Addr)
	if err != nil {
		host = m.cfg.Addr
	}
	return &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
}

// LatestMessage returns the message with the highest sequence number.
func (m *IMAPMailbox) LatestMessage(ctx context.Context) (*Mail, error) {
	dialer := &net.Dialer{Timeout: imapDialTimeout}
	c, err := client.DialWithDialerTLS(dialer, m.cfg.Addr, m.tlsConfig())
	if err != nil {
		return nil, fmt.Errorf("dial imap: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		c.Timeout = time.Until(deadline)
	}

	stop := context.AfterFunc(ctx, func() { _ = c.Terminate() })
	defer stop()
	defer func() { _ = c.Logout() }()

	if err := c.Login(m.cfg.Username, m.cfg.Password); err != nil {
		return nil, fmt.Errorf("imap login: %w", err)
	}

	status, err := c.Select(m.cfg.Mailbox, true)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", m.cfg.Mailbox, err)
	}
	if status.Messages == 0 {
		return nil, ErrNoMessages
	}

	seq := new(imap.SeqSet)
	seq.AddNum(status.Messages)
	section := &imap.BodySectionName{Peek: true}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seq, []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}, messages)
	}()

	msg := <-messages
	if err := <-done; err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("fetch latest message: %w", err)
	}
	if msg == nil {
		return nil, ErrNoMessages
	}

	out := &Mail{}
	if env := msg.Envelope; env != nil {
		out.Subject = env.Subject
		out.Date = env.Date
		if len(env.From) > 0 {
			out.From = env.From[0].Address()
		}
	}

	body := msg.GetBody(section)
	if body == nil {
		return out, nil
	}
	text, err := readText(body)
	if err != nil {
		return nil, err
	}
	out.Body = text
	return out, nil
}

// readText concatenates the inline text parts of an RFC 822 message.
func readText(r io.Reader) (string, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return "", fmt.Errorf("parse message: %w", err)
	}
	defer mr.Close()

	var sb strings.Builder
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read message part: %w", err)
		}
		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		if contentType != "" && !strings.HasPrefix(contentType, "text/") {
			continue
		}
		b, err := io.ReadAll(io.LimitReader(part.Body, maxBodyBytes))
		if err != nil {
			return "", fmt.Errorf("read message body: %w", err)
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.Write(b)
	}
	return sb.String(), nil
}
