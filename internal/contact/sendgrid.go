package contact

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGrid delivers through the SendGrid v3 mail API. The recipient address
// is also used as the sender, which must be a verified SendGrid identity.
type SendGrid struct {
	apiKey string
	// endpoint overrides the mail send URL when set.
	endpoint string
}

func NewSendGrid(apiKey string) *SendGrid {
	return &SendGrid{apiKey: apiKey}
}

func (s *SendGrid) Name() string { return "SendGrid" }

func (s *SendGrid) Send(ctx context.Context, msg Message, to string) error {
	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail("", to))
	m.SetReplyTo(mail.NewEmail(oneLine(msg.Name), msg.Email))
	m.Subject = msg.MailSubject()

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail("", to))
	m.AddPersonalizations(p)
	m.AddContent(mail.NewContent("text/plain", msg.Text()))

	// The client keeps the request body, so each send gets its own.
	client := sendgrid.NewSendClient(s.apiKey)
	if s.endpoint != "" {
		client.BaseURL = s.endpoint
	}
	resp, err := client.SendWithContext(ctx, m)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
