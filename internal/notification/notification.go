package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/congo-pay/chatwallet/internal/logging"
)

const (
	// KindTransfer reports the outcome of a transfer.
	KindTransfer = "transfer"
	// KindBalance carries a balance summary.
	KindBalance = "balance"
	// KindHelp answers a message that mapped to no action.
	KindHelp = "help"
	// KindFailure reports an error the user should see.
	KindFailure = "failure"
)

// ErrDeliveryFailed is returned when the messaging gateway rejects a message.
var ErrDeliveryFailed = errors.New("notification delivery failed")

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		"kind", message.Kind,
		"destination", logging.MaskOwner(message.Destination),
		"body", message.Body)
	return nil
}

// WebhookNotifier posts messages to a chat gateway that relays them to the
// user identified by chatId.
type WebhookNotifier struct {
	client *resty.Client
	url    string
	logger *slog.Logger
}

type outbound struct {
	ChatID      string `json:"chatId"`
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// NewWebhookNotifier builds a notifier for the gateway endpoint url. token,
// when set, is sent as a bearer token.
func NewWebhookNotifier(url, token string, timeout time.Duration, logger *slog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.Discard()
	}
	client := resty.New().
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	if token != "" {
		client.SetAuthToken(token)
	}
	return &WebhookNotifier{client: client, url: url, logger: logger}
}

// Send implements Notifier.
func (n *WebhookNotifier) Send(ctx context.Context, message Message) error {
	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(outbound{ChatID: message.Destination, ContentType: "string", Content: message.Body}).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("%w: gateway returned %d", ErrDeliveryFailed, resp.StatusCode())
	}
	n.logger.Debug("notification delivered",
		slog.String("kind", message.Kind),
		slog.String("destination", logging.MaskOwner(message.Destination)))
	return nil
}
