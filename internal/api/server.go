package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/emperorhan/nft-indexer/internal/cache"
	"github.com/emperorhan/nft-indexer/internal/chain"
	"github.com/emperorhan/nft-indexer/internal/domain/indexerr"
	"github.com/emperorhan/nft-indexer/internal/domain/model"
	"github.com/emperorhan/nft-indexer/internal/indexer"
	"github.com/emperorhan/nft-indexer/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	maxRequestBodyBytes = 1 << 20 // 1 MB

	defaultPage  = 1
	defaultLimit = 10
	maxLimit     = 100

	healthTimeout = 2 * time.Second
)

// ContractRunner runs one contract indexing pass. Satisfied by
// *indexer.ContractIndexer.
type ContractRunner interface {
	IndexContract(ctx context.Context, contract string, standard model.TokenStandard, tokenIDs []int64) (indexer.Summary, error)
}

// OrderRunner runs one order indexing pass. Satisfied by
// *indexer.OrderIndexer.
type OrderRunner interface {
	IndexOrders(ctx context.Context, contract string) (indexer.OrderSummary, error)
}

// Pinger reports backing store liveness for /healthz.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Server serves the read API over indexed assets and orders plus the
// admin triggers that start indexing runs.
type Server struct {
	assets    store.AssetRepository
	orders    store.OrderRepository
	contracts ContractRunner
	orderRun  OrderRunner
	supply    SupplyReader
	names     chain.NameResolver
	proxy     MarketplaceProxy
	cache     cache.ResponseCache
	pinger    Pinger
	limiter   *RateLimitMiddleware
	logger    *slog.Logger
}

// ServerOption configures optional dependencies for the server.
type ServerOption func(*Server)

// WithCache enables response caching for the read endpoints.
func WithCache(c cache.ResponseCache) ServerOption {
	return func(s *Server) { s.cache = c }
}

// WithIndexers enables the admin trigger endpoints.
func WithIndexers(contracts ContractRunner, orders OrderRunner) ServerOption {
	return func(s *Server) {
		s.contracts = contracts
		s.orderRun = orders
	}
}

func WithPinger(p Pinger) ServerOption {
	return func(s *Server) { s.pinger = p }
}

// WithRateLimiter installs per-IP rate limiting in front of every route.
func WithRateLimiter(rl *RateLimitMiddleware) ServerOption {
	return func(s *Server) { s.limiter = rl }
}

func NewServer(assets store.AssetRepository, orders store.OrderRepository, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		assets: assets,
		orders: orders,
		logger: logger.With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler for all routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/nft/{contract}", s.handleListAssets)
	mux.HandleFunc("GET /api/v1/nft/{contract}/orders", s.handleListOrders)
	mux.HandleFunc("POST /api/v1/nft/{contract}/total-supply", s.handleTotalSupply)
	mux.HandleFunc("GET /api/v1/ens/{name}", s.handleResolveName)
	mux.HandleFunc("GET /marketplace/{path...}", s.handleMarketplaceProxy)
	mux.HandleFunc("POST /admin/v1/index/contract", s.handleIndexContract)
	mux.HandleFunc("POST /admin/v1/index/orders", s.handleIndexOrders)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	var h http.Handler = mux
	h = AuditMiddleware(s.logger, h)
	if s.limiter != nil {
		h = s.limiter.Wrap(h)
	}
	return h
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decodeJSONBody reads and decodes a JSON request body into v.
// Returns false (and writes an error response) if decoding fails.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// cached serves key from the response cache or renders it with build.
// Only 200 responses are stored.
func (s *Server) cached(w http.ResponseWriter, r *http.Request, key string, build func() (int, any)) {
	if body, ok := s.cacheLookup(r.Context(), key); ok {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cache", "HIT")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
		return
	}

	status, v := build()
	body, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("encode response failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if status == http.StatusOK {
		s.cacheStore(r.Context(), key, body)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "MISS")
	w.WriteHeader(status)
	w.Write(append(body, '\n'))
}

func (s *Server) cacheLookup(ctx context.Context, key string) ([]byte, bool) {
	if s.cache == nil {
		return nil, false
	}
	body, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("response cache read failed", "key", key, "error", err)
	}
	return body, ok
}

func (s *Server) cacheStore(ctx context.Context, key string, body []byte) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, body); err != nil {
		s.logger.Warn("response cache write failed", "key", key, "error", err)
	}
}

func (s *Server) invalidate(ctx context.Context, contract string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidatePrefix(ctx, cache.ContractPrefix(contract)); err != nil {
		s.logger.Warn("response cache invalidation failed", "contract", contract, "error", err)
	}
}

// assetPage mirrors the paginated list shape clients already consume.
type assetPage struct {
	Docs        []model.Asset `json:"docs"`
	TotalDocs   int           `json:"totalDocs"`
	Limit       int           `json:"limit"`
	Page        int           `json:"page"`
	TotalPages  int           `json:"totalPages"`
	HasPrevPage bool          `json:"hasPrevPage"`
	HasNextPage bool          `json:"hasNextPage"`
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	contract, err := chain.ParseAddress(r.PathValue("contract"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid contract address")
		return
	}
	page, limit, ok := parsePaging(w, r)
	if !ok {
		return
	}

	s.cached(w, r, cache.AssetsKey(contract, page, limit), func() (int, any) {
		docs, total, err := s.assets.ListByContract(r.Context(), contract, limit, (page-1)*limit)
		if err != nil {
			s.logger.Error("list assets failed", "contract", contract, "error", err)
			return http.StatusInternalServerError, errorResponse{Error: "internal server error"}
		}
		if docs == nil {
			docs = []model.Asset{}
		}
		totalPages := (total + limit - 1) / limit
		return http.StatusOK, assetPage{
			Docs:        docs,
			TotalDocs:   total,
			Limit:       limit,
			Page:        page,
			TotalPages:  totalPages,
			HasPrevPage: page > 1,
			HasNextPage: page < totalPages,
		}
	})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	contract, err := chain.ParseAddress(r.PathValue("contract"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid contract address")
		return
	}

	s.cached(w, r, cache.OrdersKey(contract), func() (int, any) {
		orders, err := s.orders.ListByContract(r.Context(), contract)
		if err != nil {
			s.logger.Error("list orders failed", "contract", contract, "error", err)
			return http.StatusInternalServerError, errorResponse{Error: "internal server error"}
		}
		if orders == nil {
			orders = []model.Order{}
		}
		return http.StatusOK, orders
	})
}

// parsePaging applies page=1, limit=10 defaults and caps limit at 100.
func parsePaging(w http.ResponseWriter, r *http.Request) (page, limit int, ok bool) {
	page, limit = defaultPage, defaultLimit
	q := r.URL.Query()
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "page must be a positive integer")
			return 0, 0, false
		}
		page = n
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return 0, 0, false
		}
		limit = min(n, maxLimit)
	}
	return page, limit, true
}

type indexContractRequest struct {
	Contract string  `json:"contract"`
	Standard string  `json:"standard"`
	TokenIDs []int64 `json:"token_ids"`
}

type runResponse struct {
	Summary any    `json:"summary"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

func (s *Server) handleIndexContract(w http.ResponseWriter, r *http.Request) {
	if s.contracts == nil {
		writeError(w, http.StatusServiceUnavailable, "contract indexing not configured")
		return
	}
	var req indexContractRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Contract == "" {
		writeError(w, http.StatusBadRequest, "contract is required")
		return
	}
	standard, err := model.ParseTokenStandard(req.Standard)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := s.contracts.IndexContract(r.Context(), req.Contract, standard, req.TokenIDs)
	if summary.Indexed > 0 {
		s.invalidate(r.Context(), summary.Contract)
	}
	s.writeRunResult(w, summary, err)
}

type indexOrdersRequest struct {
	Contract string `json:"contract"`
}

func (s *Server) handleIndexOrders(w http.ResponseWriter, r *http.Request) {
	if s.orderRun == nil {
		writeError(w, http.StatusServiceUnavailable, "order indexing not configured")
		return
	}
	var req indexOrdersRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Contract == "" {
		writeError(w, http.StatusBadRequest, "contract is required")
		return
	}

	summary, err := s.orderRun.IndexOrders(r.Context(), req.Contract)
	if summary.Created+summary.Updated > 0 {
		s.invalidate(r.Context(), summary.Contract)
	}
	s.writeRunResult(w, summary, err)
}

func (s *Server) writeRunResult(w http.ResponseWriter, summary any, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, runResponse{Summary: summary})
		return
	}
	resp := runResponse{Summary: summary, Error: err.Error()}
	if kind := indexerr.KindOf(err); kind != indexerr.KindUnknown {
		resp.Kind = kind.String()
	}
	writeJSON(w, statusForRunError(err), resp)
}

// statusForRunError maps a fatal run error onto an HTTP status.
func statusForRunError(err error) int {
	switch {
	case errors.Is(err, indexerr.ErrInvalidAddress), errors.Is(err, indexer.ErrNoTokenIDs),
		errors.Is(err, indexer.ErrNegativeTokenID):
		return http.StatusBadRequest
	case errors.Is(err, indexerr.ErrUpstreamRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := s.pinger.PingContext(ctx); err != nil {
			s.logger.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
