// Package evalgate is a Go SDK for the evalgate-server HTTP API.
package evalgate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"evalgate/internal/domain"
	"evalgate/internal/engine"
	"evalgate/internal/store"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("evalgate: %d %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsConflict reports whether err is a rejected state transition.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// Client provides a Go SDK for interacting with the evalgate-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new evalgate API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ListPromotions returns promotion records in state, or all records when
// state is empty.
func (c *Client) ListPromotions(ctx context.Context, state domain.PromotionState) ([]domain.PromotionRecord, error) {
	path := "/api/promotions"
	if state != "" {
		path += "?state=" + url.QueryEscape(string(state))
	}
	var recs []domain.PromotionRecord
	err := c.do(ctx, http.MethodGet, path, nil, &recs)
	return recs, err
}

// GetPromotion returns the promotion record of one strategy.
func (c *Client) GetPromotion(ctx context.Context, strategyID string) (*domain.PromotionRecord, error) {
	var rec domain.PromotionRecord
	if err := c.do(ctx, http.MethodGet, promotionPath(strategyID, ""), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// History returns the transition history of one strategy, oldest first.
func (c *Client) History(ctx context.Context, strategyID string) ([]domain.TransitionEntry, error) {
	var hist []domain.TransitionEntry
	err := c.do(ctx, http.MethodGet, promotionPath(strategyID, "/history"), nil, &hist)
	return hist, err
}

// StartPaperTrading moves a candidate into paper trading.
func (c *Client) StartPaperTrading(ctx context.Context, strategyID string) (*domain.PromotionRecord, error) {
	var rec domain.PromotionRecord
	if err := c.do(ctx, http.MethodPost, promotionPath(strategyID, "/start-paper"), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Retire retires a strategy from any non-terminal state.
func (c *Client) Retire(ctx context.Context, strategyID, reason string) (*domain.PromotionRecord, error) {
	var rec domain.PromotionRecord
	body := map[string]string{"reason": reason}
	if err := c.do(ctx, http.MethodPost, promotionPath(strategyID, "/retire"), body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// CheckRisk asks the server's RiskGate for a verdict on order.
func (c *Client) CheckRisk(ctx context.Context, order engine.OrderRequest, portfolio engine.PortfolioState) (*engine.RiskCheckResult, error) {
	var res engine.RiskCheckResult
	body := map[string]any{"order": order, "portfolio": portfolio}
	if err := c.do(ctx, http.MethodPost, "/api/risk/check", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Evaluations returns the most recent evaluation runs of a strategy,
// newest first. limit <= 0 uses the server default.
func (c *Client) Evaluations(ctx context.Context, strategyID string, limit int) ([]store.EvaluationRecord, error) {
	path := "/api/evaluations/" + url.PathEscape(strategyID)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var evals []store.EvaluationRecord
	err := c.do(ctx, http.MethodGet, path, nil, &evals)
	return evals, err
}

func promotionPath(strategyID, suffix string) string {
	return "/api/promotions/" + url.PathEscape(strategyID) + suffix
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
