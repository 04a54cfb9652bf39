package services

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"billing-verify/pkg/logging"
)

// WebhookNotifier pushes entitlement changes to an app backend when the app
// registry configures a callback URL.
type WebhookNotifier struct {
	httpClient *http.Client
}

// NewWebhookNotifier creates a new webhook notifier
func NewWebhookNotifier() *WebhookNotifier {
	return &WebhookNotifier{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WebhookPayload represents the payload sent to the app backend. It carries
// the token fingerprint prefix only, never the raw purchase token.
type WebhookPayload struct {
	Event           string `json:"event"` // "entitlement.updated"
	AppID           string `json:"app_id"`
	UserID          string `json:"user_id"`
	SubscriptionID  string `json:"subscription_id"`
	Status          string `json:"status"`
	Active          bool   `json:"active"`
	ExpiryTimeMS    int64  `json:"expiry_time_ms"`
	TokenHashPrefix string `json:"token_hash_prefix"`
	Timestamp       string `json:"timestamp"` // ISO 8601 format
}

// NotifyEntitlementUpdated sends the entitlement change to the app backend.
// Called in a goroutine after a successful persist; delivery is best-effort
// and never affects the verification response.
func (wn *WebhookNotifier) NotifyEntitlementUpdated(callbackURL, secret string, payload WebhookPayload) {
	if callbackURL == "" {
		// No webhook configured, skip
		return
	}
	payload.Event = "entitlement.updated"
	payload.Timestamp = time.Now().UTC().Format(time.RFC3339)
	wn.sendWithRetry(callbackURL, secret, payload)
}

// sendWithRetry sends webhook with retry mechanism
// Retry schedule: 1s, 5s, 30s (3 attempts total)
func (wn *WebhookNotifier) sendWithRetry(callbackURL, secret string, payload WebhookPayload) {
	retryDelays := []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second}
	maxRetries := len(retryDelays)

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := wn.sendWebhook(callbackURL, secret, payload)
		if err == nil {
			logging.Infof("Webhook notification sent - url: %s, app: %s, user: %s, attempt: %d",
				callbackURL, payload.AppID, payload.UserID, attempt+1)
			return
		}

		logging.Errorf("Webhook notification failed - url: %s, app: %s, attempt: %d, error: %v",
			callbackURL, payload.AppID, attempt+1, err)

		// If not the last attempt, wait before retry
		if attempt < maxRetries-1 {
			time.Sleep(retryDelays[attempt])
		}
	}

	logging.Errorf("Webhook notification failed after %d attempts - url: %s, app: %s",
		maxRetries, callbackURL, payload.AppID)
}

// sendWebhook sends a single webhook request
func (wn *WebhookNotifier) sendWebhook(callbackURL, secret string, payload WebhookPayload) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequest("POST", callbackURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "BillingVerify-Webhook/1.0")

	// Add signature if secret is provided
	if secret != "" {
		signature := wn.generateSignature(jsonData, secret)
		req.Header.Set("X-Billing-Signature", signature)
	}

	resp, err := wn.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

// generateSignature generates HMAC-SHA256 signature for webhook payload
func (wn *WebhookNotifier) generateSignature(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
