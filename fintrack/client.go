// Package fintrack forwards lesson payments to the external FinTrack
// finance service. Everything here is best-effort: the ledger is the
// system of record, FinTrack only mirrors it.
package fintrack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const requestTimeout = 5 * time.Second

// Payment describes one settled lesson from FinTrack's point of view.
// Notes doubles as the correlation key for later deletion, so it must be
// byte-identical between record and delete calls.
type Payment struct {
	Amount float64
	Notes  string
	Date   time.Time
}

// PaymentNotes builds the correlation string for a lesson payment.
func PaymentNotes(studentName string, start time.Time) string {
	return fmt.Sprintf("%s - %s", studentName, start.Format("02/01/2006 15:04"))
}

// Client talks to the FinTrack HTTP API.
type Client struct {
	baseURL   string
	token     string
	accountID int
	http      *http.Client
	logger    *zap.SugaredLogger
}

func NewClient(baseURL, token string, accountID int, logger *zap.SugaredLogger) *Client {
	return &Client{
		baseURL:   baseURL,
		token:     token,
		accountID: accountID,
		http:      &http.Client{Timeout: requestTimeout},
		logger:    logger,
	}
}

// Configured reports whether the client can reach FinTrack at all. An
// unconfigured client silently drops every call.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.token != "" && c.accountID != 0
}

// RecordPayment books an income transaction for a paid lesson.
func (c *Client) RecordPayment(ctx context.Context, payment Payment) error {
	if !c.Configured() {
		return nil
	}
	payload := map[string]interface{}{
		"userId":       c.accountID,
		"amount":       math.Abs(payment.Amount),
		"type":         "Income",
		"categoryName": "Ripetizioni",
		"notes":        payment.Notes,
		"date":         payment.Date.Format("2006-01-02"),
	}
	return c.post(ctx, "/api/transactions/addTransactionFromShortcut", payload)
}

// DeletePayment removes a previously booked transaction, matched by date,
// category and notes. The date must be the one RecordPayment used.
func (c *Client) DeletePayment(ctx context.Context, payment Payment) error {
	if !c.Configured() {
		return nil
	}
	payload := map[string]interface{}{
		"date":         payment.Date.Format("2006-01-02"),
		"categoryName": "Ripetizioni",
		"notes":        payment.Notes,
	}
	return c.post(ctx, "/api/transactions/delete-by-details", payload)
}

func (c *Client) post(ctx context.Context, path string, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal fintrack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build fintrack request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fintrack request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return nil
	default:
		return fmt.Errorf("fintrack %s returned status %d", path, resp.StatusCode)
	}
}
