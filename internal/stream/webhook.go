package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/efreitasn/fractionex/internal/domain"
)

// tradeEventType is the X-Event-Type header and payload event name for
// trade notifications.
const tradeEventType = "trade.executed"

type webhookPayload struct {
	Event     string       `json:"event"`
	Timestamp string       `json:"timestamp"`
	Data      []TradeEvent `json:"data"`
}

// WebhookSink POSTs each trade batch to a single HTTP endpoint.
type WebhookSink struct {
	url    string
	client *http.Client
	codec  Codec
	now    func() time.Time
}

// NewWebhookSink creates a sink delivering to url with the given request
// timeout.
func NewWebhookSink(url string, timeout time.Duration, codec Codec) *WebhookSink {
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: timeout},
		codec:  codec,
		now:    time.Now,
	}
}

// Name implements Sink.
func (w *WebhookSink) Name() string {
	return "webhook"
}

// Write implements Sink. Any non-2xx response is an error.
func (w *WebhookSink) Write(ctx context.Context, trades []domain.Trade) error {
	payload := webhookPayload{
		Event:     tradeEventType,
		Timestamp: w.now().UTC().Truncate(time.Second).Format(time.RFC3339),
		Data:      make([]TradeEvent, 0, len(trades)),
	}
	for _, t := range trades {
		payload.Data = append(payload.Data, w.codec.Event(t))
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-Id", uuid.New().String())
	req.Header.Set("X-Event-Type", tradeEventType)

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook responded %d", resp.StatusCode)
	}
	return nil
}
