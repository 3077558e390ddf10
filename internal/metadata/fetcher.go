package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/emperorhan/nft-indexer/internal/circuitbreaker"
	"github.com/emperorhan/nft-indexer/internal/domain/indexerr"
	"github.com/emperorhan/nft-indexer/internal/domain/model"
	"github.com/emperorhan/nft-indexer/internal/metrics"
	"github.com/emperorhan/nft-indexer/internal/ratelimit"
)

const (
	defaultTimeout         = 30 * time.Second
	defaultMaxResponseSize = 2 << 20
)

// Source resolves a token metadata URI into a metadata document.
type Source interface {
	Fetch(ctx context.Context, uri string, tokenID int64) (*model.Metadata, error)
}

type Config struct {
	// Gateways are IPFS gateway base URLs, e.g. "https://ipfs.io". Requests
	// go to {gateway}/ipfs/{cid}{path}.
	Gateways []string
	// Race sends an ipfs request to every gateway at once and keeps the first
	// valid answer. Otherwise gateways are tried in order.
	Race bool
	// Limiter, when set, paces ipfs fetches.
	Limiter         *ratelimit.Limiter
	Timeout         time.Duration
	MaxResponseSize int64
	Breaker         circuitbreaker.Config
}

type Fetcher struct {
	httpClient      *http.Client
	gateways        []*gateway
	race            bool
	limiter         *ratelimit.Limiter
	maxResponseSize int64
	logger          *slog.Logger
}

var _ Source = (*Fetcher)(nil)

type gateway struct {
	base    string
	breaker *circuitbreaker.Breaker
}

func NewFetcher(cfg Config, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxResponseSize <= 0 {
		cfg.MaxResponseSize = defaultMaxResponseSize
	}

	log := logger.With("component", "metadata_fetcher")
	breakerCfg := cfg.Breaker
	userHook := breakerCfg.OnStateChange
	breakerCfg.OnStateChange = func(name string, from, to circuitbreaker.State) {
		metrics.MetadataGatewayBreakerState.WithLabelValues(name).Set(float64(to))
		log.Warn("ipfs gateway breaker state changed", "gateway", name, "from", from.String(), "to", to.String())
		if userHook != nil {
			userHook(name, from, to)
		}
	}

	gateways := make([]*gateway, 0, len(cfg.Gateways))
	for _, raw := range cfg.Gateways {
		base := strings.TrimRight(strings.TrimSpace(raw), "/")
		if base == "" {
			continue
		}
		gateways = append(gateways, &gateway{
			base:    base,
			breaker: circuitbreaker.New(base, breakerCfg),
		})
	}

	return &Fetcher{
		httpClient:      &http.Client{Timeout: cfg.Timeout},
		gateways:        gateways,
		race:            cfg.Race,
		limiter:         cfg.Limiter,
		maxResponseSize: cfg.MaxResponseSize,
		logger:          log,
	}
}

// Fetch dispatches on the URI scheme. Every successful document carries
// tokenID regardless of its own content.
func (f *Fetcher) Fetch(ctx context.Context, uri string, tokenID int64) (*model.Metadata, error) {
	uri = strings.TrimSpace(uri)
	scheme := schemeOf(uri)

	var (
		md  *model.Metadata
		err error
	)
	switch scheme {
	case "ipfs":
		md, err = f.fetchIPFS(ctx, uri)
	case "http", "https":
		md, err = f.fetchHTTP(ctx, uri)
	case "data":
		md, err = decodeDataURI(uri)
	default:
		err = indexerr.UnsupportedScheme(uri, scheme)
	}

	status := "ok"
	if err != nil {
		status = indexerr.KindOf(err).String()
	}
	metrics.MetadataFetchesTotal.WithLabelValues(schemeLabel(scheme), status).Inc()
	if err != nil {
		return nil, err
	}

	md.TokenID = tokenID
	return md, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, url string) (*model.Metadata, error) {
	status, body, err := f.get(ctx, url)
	if err != nil {
		return nil, indexerr.MetadataFetch(url, "", "request failed", err)
	}
	if status != http.StatusOK {
		return nil, indexerr.MetadataFetch(url, string(body), fmt.Sprintf("unexpected status %d", status), nil)
	}
	return parseDocument(url, body)
}

func (f *Fetcher) get(ctx context.Context, url string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxResponseSize))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func parseDocument(url string, body []byte) (*model.Metadata, error) {
	var md model.Metadata
	if err := json.Unmarshal(body, &md); err != nil {
		return nil, indexerr.MetadataFetch(url, string(body), "unparseable metadata", err)
	}
	return &md, nil
}

func schemeOf(uri string) string {
	idx := strings.Index(uri, ":")
	if idx <= 0 {
		return ""
	}
	return strings.ToLower(uri[:idx])
}

func schemeLabel(scheme string) string {
	switch scheme {
	case "ipfs", "http", "https", "data":
		return scheme
	default:
		return "other"
	}
}
