package email

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/mohammad-safakhou/deepresearch/tools/email/sendgrid"
)

// Message is one outbound mail.
type Message struct {
	From    string
	To      string
	Subject string
	// HTMLBody is preferred; PlainBody is the fallback when it is empty.
	HTMLBody  string
	PlainBody string
}

// Sender is the message delivery capability: one message in, accepted or error.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ErrRejected marks sender/recipient/auth problems the caller cannot retry
// into success (bad address, bad key, quota).
var ErrRejected = errors.New("delivery rejected")

// ErrUnavailable marks transient provider-side failures.
var ErrUnavailable = errors.New("delivery unavailable")

type sender struct {
	client sendgrid.Client
}

func (s sender) Send(ctx context.Context, msg Message) error {
	contentType, body := "text/html", msg.HTMLBody
	if body == "" {
		contentType, body = "text/plain", msg.PlainBody
	}
	status, err := s.client.Send(ctx, msg.From, msg.To, msg.Subject, contentType, body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch {
	case status == http.StatusAccepted || status == http.StatusOK:
		return nil
	case status >= 400 && status < 500:
		return fmt.Errorf("%w: sendgrid returned status %d", ErrRejected, status)
	default:
		return fmt.Errorf("%w: sendgrid returned status %d", ErrUnavailable, status)
	}
}

// NewSender builds the SendGrid-backed sender. Endpoint may be empty for the
// production API; tests point it at a local server.
func NewSender(apiKey, endpoint string) Sender {
	return sender{client: sendgrid.Client{ApiKey: apiKey, Endpoint: endpoint}}
}
