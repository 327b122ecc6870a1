package mail

import (
	"context"
	"log"

	gomail "github.com/wneessen/go-mail"
)

// Mailer delivers a single message. Implementations are blocking and must
// honor the caller's context deadline.
type Mailer interface {
	Send(ctx context.Context, to, subject, html string) error
}

type SMTPMailer struct {
	client *gomail.Client
	from   string
}

func NewSMTPMailer(host string, port int, username, password, from string) (*SMTPMailer, error) {
	opts := []gomail.Option{gomail.WithPort(port)}
	if username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(username),
			gomail.WithPassword(password),
		)
	}
	client, err := gomail.NewClient(host, opts...)
	if err != nil {
		return nil, err
	}
	return &SMTPMailer{client: client, from: from}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, html string) error {
	msg := gomail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return err
	}
	if err := msg.To(to); err != nil {
		return err
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, html)
	return m.client.DialAndSendWithContext(ctx, msg)
}

// LogMailer writes messages to the process log instead of delivering them.
// Used when SMTP is not configured.
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, to, subject, _ string) error {
	log.Printf("mail (not delivered): to=%s subject=%q", to, subject)
	return nil
}
