package opensea

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/emperorhan/nft-indexer/internal/domain/indexerr"
	"github.com/go-resty/resty/v2"
)

const (
	DefaultBaseURL = "https://api.opensea.io/wyvern/v1"
	defaultTimeout = 30 * time.Second
	maxBodyInError = 512
)

// OrderSearcher queries the marketplace for the cheapest open sell orders.
type OrderSearcher interface {
	SearchOrders(ctx context.Context, q Query) ([]APIOrder, error)
}

// StatusError is a non-200, non-429 response. It only fails the current chunk.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("order api status %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	client *resty.Client
	logger *slog.Logger
}

var _ OrderSearcher = (*Client)(nil)

func NewClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := resty.New()
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetHeader("X-API-KEY", apiKey)
	}

	return &Client{
		client: client,
		logger: logger.With("component", "opensea_client"),
	}
}

// SearchOrders fetches sell orders (side=1, fixed price) for q.TokenIDs,
// cheapest first. A 429 is returned as an UpstreamRateLimited error.
func (c *Client) SearchOrders(ctx context.Context, q Query) ([]APIOrder, error) {
	tokenIDs := make([]string, 0, len(q.TokenIDs))
	for _, id := range q.TokenIDs {
		tokenIDs = append(tokenIDs, strconv.FormatInt(id, 10))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = len(q.TokenIDs)
	}

	req := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"asset_contract_address": q.Contract,
			"bundled":                "false",
			"include_bundled":        "false",
			"sale_kind":              "0",
			"side":                   "1",
			"order_by":               "eth_price",
			"order_direction":        "asc",
			"offset":                 "0",
			"limit":                  strconv.Itoa(limit),
		}).
		SetQueryParamsFromValues(map[string][]string{"token_ids": tokenIDs})

	resp, err := req.Get("/orders")
	if err != nil {
		return nil, fmt.Errorf("order api request: %w", err)
	}

	c.logger.Debug("order api response",
		"contract", q.Contract,
		"tokens", len(q.TokenIDs),
		"status", resp.StatusCode(),
	)

	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return nil, indexerr.UpstreamRateLimited(q.Contract, resp.Request.URL)
	default:
		body := resp.String()
		if len(body) > maxBodyInError {
			body = body[:maxBodyInError]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode(), Body: body}
	}

	var out OrdersResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("decode order api response: %w", err)
	}
	return out.Orders, nil
}
