package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/digital-play/api/internal/services"
)

const defaultWebhookTimeout = 10 * time.Second

// WebhookNotifier posts order events to the admin notification webhook and
// then forwards them to the next publisher in the chain. Cart and inventory
// events pass through untouched; the admin channel only cares about orders.
type WebhookNotifier struct {
	url    string
	token  string
	client *http.Client
	next   services.OrderEventPublisher
}

// WebhookNotifierConfig configures the outbound webhook transport.
type WebhookNotifierConfig struct {
	URL       string
	AuthToken string
	Client    *http.Client
	Next      services.OrderEventPublisher
}

// NewWebhookNotifier constructs the notifier. The webhook URL is required.
func NewWebhookNotifier(cfg WebhookNotifierConfig) (*WebhookNotifier, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("webhook notifier: url is required")
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	return &WebhookNotifier{
		url:    url,
		token:  strings.TrimSpace(cfg.AuthToken),
		client: client,
		next:   cfg.Next,
	}, nil
}

// PublishOrderEvent delivers the event to the webhook before forwarding it.
// Webhook failures do not block the rest of the chain; the order pipeline must
// not stall because the admin channel is down.
func (n *WebhookNotifier) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if n == nil {
		return errors.New("webhook notifier: not initialised")
	}

	webhookErr := n.post(ctx, event)

	if n.next != nil {
		if err := n.next.PublishOrderEvent(ctx, event); err != nil {
			return err
		}
	}
	return webhookErr
}

func (n *WebhookNotifier) post(ctx context.Context, event services.OrderEvent) error {
	payload := webhookOrderPayload{
		Type:        event.Type,
		OrderID:     event.OrderID,
		OrderNumber: event.OrderNumber,
		Status:      string(event.Status),
		TotalAmount: event.TotalAmount,
		Currency:    event.Currency,
		Text:        event.Summary,
		OccurredAt:  event.OccurredAt,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook notifier: marshal order event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook notifier: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook notifier: deliver order event: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook notifier: unexpected status %d", resp.StatusCode)
	}
	return nil
}

type webhookOrderPayload struct {
	Type        string    `json:"type"`
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	Status      string    `json:"status"`
	TotalAmount int64     `json:"totalAmount"`
	Currency    string    `json:"currency"`
	Text        string    `json:"text,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

var _ services.OrderEventPublisher = (*WebhookNotifier)(nil)
