package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultPushTimeout = 10 * time.Second

type pushRequest struct {
	To       string  `json:"to"`
	Priority string  `json:"priority"`
	Sound    string  `json:"sound,omitempty"`
	Data     Payload `json:"data"`
}

// HTTPTransport posts pushes as JSON to a gateway endpoint.
type HTTPTransport struct {
	client   *resty.Client
	endpoint string
}

func NewHTTPTransport(endpoint, accessToken string) (*HTTPTransport, error) {
	client := resty.New()
	client.SetTimeout(defaultPushTimeout)

	return NewHTTPTransportWithClient(endpoint, accessToken, client)
}

func NewHTTPTransportWithClient(endpoint, accessToken string, client *resty.Client) (*HTTPTransport, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("push endpoint is required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid push endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultPushTimeout)
	}
	// Failed sends are picked up again by the sweep, never resent inline.
	client.SetRetryCount(0)
	if token := strings.TrimSpace(accessToken); token != "" {
		client.SetAuthToken(token)
	}

	return &HTTPTransport{
		client:   client,
		endpoint: endpoint,
	}, nil
}

func (t *HTTPTransport) Send(ctx context.Context, destination string, payload Payload) error {
	if t == nil || t.client == nil {
		return fmt.Errorf("push transport is not initialized")
	}
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return &Error{Message: "push destination is required"}
	}

	sound := ""
	if payload.Urgency != "" {
		sound = "default"
	}

	response, err := t.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(pushRequest{
			To:       destination,
			Priority: "high",
			Sound:    sound,
			Data:     payload,
		}).
		Post(t.endpoint)
	if err != nil {
		return &Error{
			Message:   "push request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return nil
	}

	return &Error{
		StatusCode: statusCode,
		Message:    statusMessage(statusCode, strings.TrimSpace(response.String())),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func statusMessage(statusCode int, body string) string {
	base := fmt.Sprintf("push gateway returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
