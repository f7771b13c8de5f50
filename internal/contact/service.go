package contact

import (
	"context"
	"log/slog"

	"github.com/dustin/sitepulse/internal/config"
)

// Provider delivers one message to one recipient.
type Provider interface {
	Name() string
	Send(ctx context.Context, msg Message, to string) error
}

// Recorder observes each provider attempt.
type Recorder interface {
	RecordContactSend(provider, result string)
}

type step struct {
	provider Provider
	terminal bool
}

// Service tries providers in order. A failing provider falls through to the
// next one unless it was added as terminal.
type Service struct {
	recipient string
	steps     []step
	rec       Recorder
}

func NewService(recipient string, rec Recorder) *Service {
	return &Service{recipient: recipient, rec: rec}
}

// Add appends a provider to the fallback chain.
func (s *Service) Add(p Provider, terminal bool) *Service {
	s.steps = append(s.steps, step{provider: p, terminal: terminal})
	return s
}

// Providers returns the configured provider names in order.
func (s *Service) Providers() []string {
	names := make([]string, len(s.steps))
	for i, st := range s.steps {
		names[i] = st.provider.Name()
	}
	return names
}

// Send validates msg and delivers it, returning the provider that succeeded.
// Errors are ErrFieldsRequired, ErrInvalidEmail, ErrRecipientMissing,
// ErrNotConfigured or a *SendError from a terminal provider.
func (s *Service) Send(ctx context.Context, msg Message) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", err
	}
	if s.recipient == "" {
		return "", ErrRecipientMissing
	}

	for _, st := range s.steps {
		name := st.provider.Name()
		err := st.provider.Send(ctx, msg, s.recipient)
		if err == nil {
			s.record(name, "sent")
			slog.Info("contact message sent", "provider", name)
			return name, nil
		}
		s.record(name, "failed")
		slog.Error("contact provider failed", "provider", name, "error", err)
		if st.terminal {
			return "", &SendError{Provider: name, Err: err}
		}
	}
	return "", ErrNotConfigured
}

func (s *Service) record(provider, result string) {
	if s.rec != nil {
		s.rec.RecordContactSend(provider, result)
	}
}

// FromConfig builds the SendGrid, Brevo, SMTP chain from whatever
// credentials are set. Generic SMTP is the terminal step.
func FromConfig(cfg config.Mail, rec Recorder) *Service {
	s := NewService(cfg.Recipient, rec)
	if cfg.SendGridAPIKey != "" {
		s.Add(NewSendGrid(cfg.SendGridAPIKey), false)
	}
	if cfg.BrevoUser != "" && cfg.BrevoKey != "" {
		s.Add(NewBrevo(cfg.BrevoUser, cfg.BrevoKey), false)
	}
	if cfg.SMTPHost != "" && cfg.SMTPUser != "" && cfg.SMTPPass != "" {
		s.Add(NewSMTP("SMTP", cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass), true)
	}
	return s
}
