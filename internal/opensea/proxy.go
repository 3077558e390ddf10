package opensea

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/emperorhan/nft-indexer/internal/metrics"
	"github.com/emperorhan/nft-indexer/internal/ratelimit"
	"github.com/go-resty/resty/v2"
)

const DefaultProxyBaseURL = "https://api.opensea.io/api/v1"

var ErrInvalidPath = errors.New("invalid marketplace path")

// ProxyResponse is an upstream reply relayed as is, except for throttling
// notices which are rewritten to a 429 with the notice as plain text.
type ProxyResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Proxy forwards read-only requests to the marketplace API with the
// configured key. It shares the order indexer's limiter so both stay inside
// one key quota.
type Proxy struct {
	client  *resty.Client
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

func NewProxy(baseURL, apiKey string, timeout time.Duration, limiter *ratelimit.Limiter, logger *slog.Logger) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = DefaultProxyBaseURL
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

	return &Proxy{
		client:  client,
		limiter: limiter,
		logger:  logger.With("component", "opensea_proxy"),
	}
}

// Forward issues GET <base>/<path>?<rawQuery>.
func (p *Proxy) Forward(ctx context.Context, path, rawQuery string) (ProxyResponse, error) {
	path = strings.Trim(path, "/")
	if !validProxyPath(path) {
		return ProxyResponse{}, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return ProxyResponse{}, err
	}

	req := p.client.R().SetContext(ctx)
	if rawQuery != "" {
		req.SetQueryString(rawQuery)
	}
	resp, err := req.Get("/" + path)
	if err != nil {
		metrics.ProxyRequestsTotal.WithLabelValues("error").Inc()
		return ProxyResponse{}, fmt.Errorf("marketplace proxy request: %w", err)
	}

	out := ProxyResponse{
		StatusCode:  resp.StatusCode(),
		ContentType: resp.Header().Get("Content-Type"),
		Body:        resp.Body(),
	}
	if detail, ok := throttleNotice(out.Body); ok {
		out = ProxyResponse{
			StatusCode:  http.StatusTooManyRequests,
			ContentType: "text/plain; charset=utf-8",
			Body:        []byte(detail),
		}
	}
	metrics.ProxyRequestsTotal.WithLabelValues(statusClass(out.StatusCode)).Inc()

	p.logger.Debug("marketplace proxy response",
		"path", path,
		"status", out.StatusCode,
		"bytes", len(out.Body),
	)
	return out, nil
}

func validProxyPath(path string) bool {
	if path == "" || strings.Contains(path, "://") || strings.ContainsAny(path, "\\?#") {
		return false
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}

// throttleNotice reports the marketplace's throttling detail, which it
// sometimes sends with a 200 status.
func throttleNotice(body []byte) (string, bool) {
	var notice struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &notice); err != nil {
		return "", false
	}
	if !strings.Contains(notice.Detail, "throttled") {
		return "", false
	}
	return notice.Detail, true
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}
