package sendgrid

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
)

const defaultEndpoint = "https://api.sendgrid.com/v3/mail/send"

type Client struct {
	ApiKey   string
	Endpoint string
}

type mailAddress struct {
	Email string `json:"email"`
}

type personalization struct {
	To []mailAddress `json:"to"`
}

type content struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type mail struct {
	Personalizations []personalization `json:"personalizations"`
	From             mailAddress       `json:"from"`
	Subject          string            `json:"subject"`
	Content          []content         `json:"content"`
}

// Send posts one message to the v3 mail/send API and returns the HTTP status.
// https://www.twilio.com/docs/sendgrid/api-reference/mail-send
func (c Client) Send(ctx context.Context, from, to, subject, contentType, body string) (int, error) {
	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	payload := mail{
		Personalizations: []personalization{{To: []mailAddress{{Email: to}}}},
		From:             mailAddress{Email: from},
		Subject:          subject,
		Content:          []content{{Type: contentType, Value: body}},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.ApiKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
