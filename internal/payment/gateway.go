// Package payment talks to the payment provider and turns its signals into
// appointment payment status changes.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/medibook/internal/apperr"
)

var ErrGateway = apperr.Kind("payment gateway", apperr.ErrUpstream)

// Charge is a request to collect money for one appointment.
type Charge struct {
	AppointmentID uuid.UUID `json:"appointmentId"`
	AmountMinor   int64     `json:"amount"`
	Currency      string    `json:"currency"`
	Description   string    `json:"description"`
}

// Payment is the provider's handle for a charge.
type Payment struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	CheckoutURL string `json:"checkoutUrl,omitempty"`
}

type Gateway interface {
	CreatePayment(ctx context.Context, c Charge) (*Payment, error)
	Refund(ctx context.Context, paymentID string) error
}

// HTTPGateway is a client for the provider's REST API.
type HTTPGateway struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPGateway(baseURL, apiKey string, httpClient *http.Client, logger *slog.Logger) *HTTPGateway {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPGateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (g *HTTPGateway) CreatePayment(ctx context.Context, c Charge) (*Payment, error) {
	var p Payment
	// the appointment id doubles as idempotency key so retries never charge twice
	if err := g.post(ctx, "/payments", c.AppointmentID.String(), c, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, fmt.Errorf("%w: response without payment id", ErrGateway)
	}
	return &p, nil
}

func (g *HTTPGateway) Refund(ctx context.Context, paymentID string) error {
	return g.post(ctx, "/payments/"+paymentID+"/refund", "refund-"+paymentID, struct{}{}, nil)
}

func (g *HTTPGateway) post(ctx context.Context, path, idempotencyKey string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.logger.Error("payment gateway unreachable", "path", path, "error", err)
		return fmt.Errorf("%w: %v", ErrGateway, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		g.logger.Error("payment gateway rejected request",
			"path", path,
			"http_status", resp.StatusCode,
			"body", string(msg),
		)
		return fmt.Errorf("%w: status %d", ErrGateway, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrGateway, err)
	}
	return nil
}

// AmountMinor converts a fee in major units to the provider's minor units.
func AmountMinor(fee float64) int64 {
	if fee <= 0 {
		return 0
	}
	return int64(fee*100 + 0.5)
}
