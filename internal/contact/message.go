// Package contact delivers contact form submissions by email through the
// first configured provider that accepts them.
package contact

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrFieldsRequired   = errors.New("all fields are required")
	ErrInvalidEmail     = errors.New("invalid email address")
	ErrRecipientMissing = errors.New("email recipient not configured")
	ErrNotConfigured    = errors.New("no email provider configured")
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Message is a contact form submission.
type Message struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// Validate reports ErrFieldsRequired or ErrInvalidEmail.
func (m Message) Validate() error {
	if m.Name == "" || m.Email == "" || m.Subject == "" || m.Message == "" {
		return ErrFieldsRequired
	}
	if !emailPattern.MatchString(m.Email) {
		return ErrInvalidEmail
	}
	return nil
}

// MailSubject is the subject line of the delivered email.
func (m Message) MailSubject() string {
	return "Portfolio Contact: " + oneLine(m.Subject)
}

// Text is the plain-text email body.
func (m Message) Text() string {
	return fmt.Sprintf("Name: %s\nEmail: %s\nSubject: %s\n\nMessage:\n%s\n",
		m.Name, m.Email, m.Subject, m.Message)
}

// oneLine strips CR and LF so user input cannot inject mail headers.
func oneLine(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

// SendError is a terminal provider failure.
type SendError struct {
	Provider string
	Err      error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}
