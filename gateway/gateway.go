// Package gateway talks to the external payment processor's hosted-checkout
// API and verifies the HMAC signatures on its webhook notifications.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session is a hosted-checkout session: the processor's id for the payment
// attempt and the URL the client is redirected to.
type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type Client struct {
	baseURL string
	secret  []byte
	http    *http.Client
	logger  *zap.Logger
}

func New(logger *zap.Logger) *Client {
	return &Client{
		baseURL: getEnv("GATEWAY_URL", ""),
		secret:  []byte(getEnv("GATEWAY_WEBHOOK_SECRET", "")),
		// Bounded timeout: a hung processor call must surface as a
		// retryable error, never leave a request waiting.
		http:   &http.Client{Timeout: 5 * time.Second},
		logger: logger,
	}
}

// NewWithConfig is used by tests to point the client at a local server.
func NewWithConfig(baseURL string, secret []byte, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		secret:  secret,
		http:    &http.Client{Timeout: 5 * time.Second},
		logger:  logger,
	}
}

type createSessionRequest struct {
	OrderID   int     `json:"order_id"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Reference string  `json:"reference"`
}

// CreateSession creates a checkout session for an order. The call is made
// before any payment row exists, so a failure here commits nothing.
func (c *Client) CreateSession(ctx context.Context, orderID int, amount float64) (Session, error) {
	if c.baseURL == "" {
		return Session{}, errors.New("payment gateway not configured, set GATEWAY_URL")
	}

	body, err := json.Marshal(createSessionRequest{
		OrderID:   orderID,
		Amount:    amount,
		Currency:  getEnv("GATEWAY_CURRENCY", "usd"),
		Reference: uuid.NewString(),
	})
	if err != nil {
		return Session{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checkout/sessions", bytes.NewReader(body))
	if err != nil {
		return Session{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("checkout session request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Session{}, fmt.Errorf("checkout session request returned status %d", resp.StatusCode)
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return Session{}, fmt.Errorf("failed to decode checkout session: %w", err)
	}
	if session.ID == "" {
		return Session{}, errors.New("checkout session response missing id")
	}

	c.logger.Info("Checkout session created",
		zap.Int("order_id", orderID),
		zap.String("session_id", session.ID),
	)
	return session, nil
}

// Verify checks the webhook payload's HMAC-SHA256 signature. A missing secret
// rejects everything; webhooks cannot be trusted unauthenticated.
func (c *Client) Verify(payload []byte, signature string) bool {
	if len(c.secret) == 0 || signature == "" {
		return false
	}
	expected := Sign(c.secret, payload)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// Sign computes the hex HMAC-SHA256 of payload. Exported for tests and for
// signing outbound requests if the processor requires it.
func Sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
