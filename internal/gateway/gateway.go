// Package gateway talks to the inventory server's REST API. It never retries;
// failed calls surface as *domain.NetworkError or *domain.ServerError.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"onesmart/inventory/internal/domain"
)

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client is the resty-backed Remote Data Gateway.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	restyClient := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetTimeout(cfg.Timeout)
	if cfg.Token != "" {
		restyClient.SetAuthToken(cfg.Token)
	}

	return &Client{http: restyClient, logger: logger}
}

// apiError is the error body the server sends with non-2xx answers.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// FetchAll returns every record of c as raw JSON objects.
func (c *Client) FetchAll(ctx context.Context, col domain.Collection) ([]json.RawMessage, error) {
	return c.list(ctx, "/"+string(col))
}

// FetchExpiring returns purchase batches the server considers close to expiry.
func (c *Client) FetchExpiring(ctx context.Context) ([]json.RawMessage, error) {
	return c.list(ctx, "/"+string(domain.CollectionPurchases)+"/expiring")
}

// Create posts a draft and returns the server-created record.
func (c *Client) Create(ctx context.Context, col domain.Collection, draft any) (json.RawMessage, error) {
	path := "/" + string(col)
	resp, err := c.http.R().SetContext(ctx).SetBody(draft).Post(path)
	if err := c.check(http.MethodPost, path, resp, err); err != nil {
		return nil, err
	}
	return unwrap(col, resp.Body())
}

// Ping reports whether the server is reachable and healthy.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/health")
	return c.check(http.MethodGet, "/health", resp, err)
}

func (c *Client) list(ctx context.Context, path string) ([]json.RawMessage, error) {
	resp, err := c.http.R().SetContext(ctx).Get(path)
	if err := c.check(http.MethodGet, path, resp, err); err != nil {
		return nil, err
	}
	var records []json.RawMessage
	if err := json.Unmarshal(resp.Body(), &records); err != nil {
		return nil, &domain.ServerError{Status: resp.StatusCode(), Message: fmt.Sprintf("decode %s: %v", path, err)}
	}
	return records, nil
}

func (c *Client) check(method string, path string, resp *resty.Response, err error) error {
	op := method + " " + path
	if err != nil {
		c.logger.Debug("request failed", zap.String("op", op), zap.Error(err))
		return &domain.NetworkError{Op: op, Err: err}
	}
	if resp.StatusCode() >= http.StatusMultipleChoices {
		body := apiError{}
		message := strings.TrimSpace(string(resp.Body()))
		if json.Unmarshal(resp.Body(), &body) == nil {
			if body.Error != "" {
				message = body.Error
			} else if body.Message != "" {
				message = body.Message
			}
		}
		c.logger.Debug("server rejected request", zap.String("op", op), zap.Int("status", resp.StatusCode()), zap.String("message", message))
		return &domain.ServerError{Status: resp.StatusCode(), Message: message}
	}
	return nil
}

// unwrap accepts both a bare record and the {"product": {...}} style envelope
// some server versions answer creates with.
func unwrap(col domain.Collection, body []byte) (json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, &domain.ServerError{Status: http.StatusOK, Message: fmt.Sprintf("decode created %s: %v", col, err)}
	}
	if _, ok := fields["_id"]; ok {
		return json.RawMessage(body), nil
	}
	if inner, ok := fields[singular(col)]; ok {
		return inner, nil
	}
	return json.RawMessage(body), nil
}

func singular(col domain.Collection) string {
	switch col {
	case domain.CollectionPurchases:
		return "purchase"
	default:
		return strings.TrimSuffix(string(col), "s")
	}
}
