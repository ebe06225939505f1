package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notification-engine/internal/domain"
)

const (
	defaultWebhookTimeout = 10 * time.Second
	maxErrorBodyLen       = 256
)

type pushRequest struct {
	Token   string `json:"token"`
	Channel string `json:"channel"`
	Message string `json:"message"`
}

type pushResponse struct {
	ID string `json:"id"`
}

// WebhookPushSender delivers push notifications by POSTing JSON to a gateway.
// The gateway may return {"id": "..."}; otherwise the X-Message-ID header is
// used as the receipt id.
type WebhookPushSender struct {
	client   *resty.Client
	endpoint string
}

func NewWebhookPushSender(endpoint string) (*WebhookPushSender, error) {
	return NewWebhookPushSenderWithClient(endpoint, resty.New().SetTimeout(defaultWebhookTimeout))
}

func NewWebhookPushSenderWithClient(endpoint string, client *resty.Client) (*WebhookPushSender, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("push webhook endpoint is required")
	}
	u, err := url.ParseRequestURI(endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid push webhook endpoint %q", endpoint)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	// The engine schedules its own retries.
	client.SetRetryCount(0)
	client.SetHeader("Accept", "application/json")

	return &WebhookPushSender{client: client, endpoint: endpoint}, nil
}

func (p *WebhookPushSender) Send(ctx context.Context, channel domain.Channel, recipient string, message string) (*Receipt, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("push sender is not initialized")
	}
	if strings.TrimSpace(recipient) == "" {
		return nil, permanentError("push token is required", nil)
	}

	var result pushResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(pushRequest{
			Token:   recipient,
			Channel: strings.ToLower(channel.String()),
			Message: message,
		}).
		SetResult(&result).
		Post(p.endpoint)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, permanentError("push request cancelled", err)
		}
		return nil, transientError("push request failed", err)
	}

	status := resp.StatusCode()
	if !resp.IsSuccess() {
		pe := classifyPushStatus(status)
		pe.Message = truncate(fmt.Sprintf("%s: %s", pe.Message, strings.TrimSpace(resp.String())), maxErrorBodyLen)
		return nil, pe
	}

	id := result.ID
	if id == "" {
		id = resp.Header().Get("X-Message-ID")
	}
	return &Receipt{StatusCode: status, MessageID: id}, nil
}

// classifyPushStatus treats throttling, timeouts and 5xx as retryable. Other
// 4xx responses mean the token or payload is bad and will not get better.
func classifyPushStatus(status int) *ProviderError {
	pe := &ProviderError{StatusCode: status, Message: "push gateway rejected request"}
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		pe.Transient = true
	case status >= http.StatusInternalServerError:
		pe.Message = "push gateway unavailable"
		pe.Transient = true
	}
	return pe
}

func truncate(s string, n int) string {
	s = strings.TrimSuffix(strings.TrimSpace(s), ":")
	if len(s) <= n {
		return s
	}
	return s[:n]
}
