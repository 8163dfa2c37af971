package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SignatureHeader carries the optional HS256 token over the request body.
const SignatureHeader = "X-AgentPulse-Signature"

// WebhookPayload is the JSON body posted to a rule's webhook_url.
type WebhookPayload struct {
	Source    string  `json:"source"`
	Alert     string  `json:"alert"`
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	FiredAt   string  `json:"fired_at"`
}

type WebhookSender struct {
	client *http.Client
	signer *Signer
}

// NewWebhookSender posts with the given timeout. signer may be nil.
func NewWebhookSender(timeout time.Duration, signer *Signer) *WebhookSender {
	return &WebhookSender{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		signer: signer,
	}
}

func (w *WebhookSender) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(WebhookPayload{
		Source:    "agentpulse",
		Alert:     alert.RuleName,
		Metric:    alert.Metric,
		Value:     alert.Value,
		Threshold: alert.Threshold,
		FiredAt:   alert.FiredAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, alert.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "agentpulse-webhook/1.0")

	if w.signer != nil {
		token, err := w.signer.Sign(alert.TenantID, alert.RuleID, body, alert.FiredAt)
		if err != nil {
			return err
		}
		req.Header.Set(SignatureHeader, token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
