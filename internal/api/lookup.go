package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/emperorhan/nft-indexer/internal/cache"
	"github.com/emperorhan/nft-indexer/internal/chain"
	"github.com/emperorhan/nft-indexer/internal/domain/model"
	"github.com/emperorhan/nft-indexer/internal/opensea"
)

// SupplyReader answers live supply questions. Satisfied by *chain.Reader.
type SupplyReader interface {
	TotalSupply(ctx context.Context, contract string) (int64, error)
	TokenSupply(ctx context.Context, contract string, tokenID int64) (int64, error)
}

// MarketplaceProxy relays read-only marketplace requests. Satisfied by
// *opensea.Proxy.
type MarketplaceProxy interface {
	Forward(ctx context.Context, path, rawQuery string) (opensea.ProxyResponse, error)
}

var (
	_ SupplyReader     = (*chain.Reader)(nil)
	_ MarketplaceProxy = (*opensea.Proxy)(nil)
)

// WithSupplyReader enables the live total-supply endpoint.
func WithSupplyReader(r SupplyReader) ServerOption {
	return func(s *Server) { s.supply = r }
}

// WithNameResolver enables ENS resolution.
func WithNameResolver(r chain.NameResolver) ServerOption {
	return func(s *Server) { s.names = r }
}

// WithMarketplaceProxy enables the cached marketplace pass-through.
func WithMarketplaceProxy(p MarketplaceProxy) ServerOption {
	return func(s *Server) { s.proxy = p }
}

type supplyFilter struct {
	Key   string      `json:"key"`
	Value json.Number `json:"value"`
}

type supplyRequest struct {
	Type    string         `json:"type"`
	Filters []supplyFilter `json:"filters"`
}

type supplyResponse struct {
	Contract    string `json:"contract"`
	Type        string `json:"type"`
	TokenID     *int64 `json:"tokenId,omitempty"`
	TotalSupply string `json:"totalSupply"`
}

// tokenFilter returns the tokenId filter value, or -1 when absent.
func (req supplyRequest) tokenFilter() (int64, error) {
	id := int64(-1)
	for _, f := range req.Filters {
		if f.Key != "tokenId" {
			return 0, fmt.Errorf("unsupported filter %q", f.Key)
		}
		n, err := strconv.ParseInt(f.Value.String(), 10, 64)
		if err != nil || n < 0 {
			return 0, errors.New("tokenId must be a non-negative integer")
		}
		id = n
	}
	return id, nil
}

func (s *Server) handleTotalSupply(w http.ResponseWriter, r *http.Request) {
	if s.supply == nil {
		writeError(w, http.StatusServiceUnavailable, "chain reads not configured")
		return
	}
	contract, err := chain.ParseAddress(r.PathValue("contract"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid contract address")
		return
	}
	var req supplyRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Type) == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}
	standard, err := model.ParseTokenStandard(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tokenID, err := req.tokenFilter()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch {
	case standard == model.StandardERC721 && tokenID >= 0:
		writeError(w, http.StatusBadRequest, "tokenId filter is not supported for ERC721")
		return
	case standard == model.StandardERC1155 && tokenID < 0:
		writeError(w, http.StatusBadRequest, "tokenId filter is required for ERC1155")
		return
	}

	s.cached(w, r, cache.SupplyKey(contract, standard.String(), tokenID), func() (int, any) {
		var supply int64
		var err error
		if standard == model.StandardERC1155 {
			supply, err = s.supply.TokenSupply(r.Context(), contract, tokenID)
		} else {
			supply, err = s.supply.TotalSupply(r.Context(), contract)
		}
		if err != nil {
			s.logger.Warn("total supply read failed", "contract", contract, "standard", standard, "error", err)
			return http.StatusBadGateway, errorResponse{Error: "total supply read failed"}
		}
		resp := supplyResponse{
			Contract:    contract,
			Type:        strings.ToUpper(standard.String()),
			TotalSupply: strconv.FormatInt(supply, 10),
		}
		if tokenID >= 0 {
			resp.TokenID = &tokenID
		}
		return http.StatusOK, resp
	})
}

type nameResponse struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

func (s *Server) handleResolveName(w http.ResponseWriter, r *http.Request) {
	if s.names == nil {
		writeError(w, http.StatusServiceUnavailable, "name resolution not available on this network")
		return
	}
	name := strings.ToLower(strings.TrimSpace(r.PathValue("name")))
	if _, err := chain.NameHash(name); err != nil {
		writeError(w, http.StatusBadRequest, "invalid name")
		return
	}

	s.cached(w, r, cache.NameKey(name), func() (int, any) {
		addr, err := s.names.ResolveName(r.Context(), name)
		switch {
		case errors.Is(err, chain.ErrNameNotFound):
			return http.StatusNotFound, errorResponse{Error: "name not resolved"}
		case err != nil:
			s.logger.Warn("name resolution failed", "name", name, "error", err)
			return http.StatusBadGateway, errorResponse{Error: "name resolution failed"}
		}
		return http.StatusOK, nameResponse{Name: name, Address: addr.Hex()}
	})
}

func (s *Server) handleMarketplaceProxy(w http.ResponseWriter, r *http.Request) {
	if s.proxy == nil {
		writeError(w, http.StatusServiceUnavailable, "marketplace proxy not configured")
		return
	}
	path := r.PathValue("path")
	key := cache.ProxyKey(path, r.URL.RawQuery)
	if body, ok := s.cacheLookup(r.Context(), key); ok {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cache", "HIT")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
		return
	}

	resp, err := s.proxy.Forward(r.Context(), path, r.URL.RawQuery)
	switch {
	case errors.Is(err, opensea.ErrInvalidPath):
		writeError(w, http.StatusBadRequest, "invalid marketplace path")
		return
	case err != nil:
		s.logger.Warn("marketplace proxy failed", "path", path, "error", err)
		writeError(w, http.StatusBadGateway, "marketplace request failed")
		return
	}

	if resp.StatusCode == http.StatusOK {
		s.cacheStore(r.Context(), key, resp.Body)
	}
	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Cache", "MISS")
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}
