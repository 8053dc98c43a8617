// Package opsclient calls the promotion service's operator endpoints.
package opsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/intakecalc/platform/promotion-engine/internal/models"
	"github.com/intakecalc/platform/promotion-engine/internal/promotion"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// APIError carries a non-2xx reply. Outcome is set when the service returned
// one alongside the error.
type APIError struct {
	Status  int
	Message string
	Outcome *promotion.Outcome
}

func (e *APIError) Error() string {
	return fmt.Sprintf("promotion service: %d: %s", e.Status, e.Message)
}

func (c *Client) Retrigger(ctx context.Context, prospectID string) (promotion.Outcome, error) {
	var out promotion.Outcome
	err := c.do(ctx, http.MethodPost, "/prospects/"+url.PathEscape(prospectID)+"/retrigger", &out)
	return out, err
}

func (c *Client) Readiness(ctx context.Context, prospectID string) (models.ReadinessVerdict, error) {
	var v models.ReadinessVerdict
	err := c.do(ctx, http.MethodGet, "/prospects/"+url.PathEscape(prospectID)+"/readiness", &v)
	return v, err
}

func (c *Client) History(ctx context.Context, prospectID string) ([]models.PromotionLogEntry, error) {
	var body struct {
		Promotions []models.PromotionLogEntry `json:"promotions"`
	}
	err := c.do(ctx, http.MethodGet, "/prospects/"+url.PathEscape(prospectID)+"/promotions", &body)
	return body.Promotions, err
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error   string             `json:"error"`
			Outcome *promotion.Outcome `json:"outcome"`
		}
		if json.Unmarshal(body, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(body))
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error, Outcome: e.Outcome}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
