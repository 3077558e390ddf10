package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/emperorhan/nft-indexer/internal/chain/retry"
	"github.com/emperorhan/nft-indexer/internal/chain/rpc"
	"github.com/emperorhan/nft-indexer/internal/domain/indexerr"
	"github.com/emperorhan/nft-indexer/internal/metrics"
	"github.com/emperorhan/nft-indexer/internal/ratelimit"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// TokenReader exposes the contract reads the indexers depend on. Every
// failure is returned as an indexerr ChainRead error.
type TokenReader interface {
	TotalSupply(ctx context.Context, contract string) (int64, error)
	TokenURI(ctx context.Context, contract string, tokenID int64) (string, error)
	URI(ctx context.Context, contract string, tokenID int64) (string, error)
	OwnerOf(ctx context.Context, contract string, tokenID int64) (common.Address, error)
}

// Reader is the eth_call backed TokenReader. When a limiter is configured,
// every RPC attempt, retries included, takes a slot from it first.
type Reader struct {
	caller  rpc.Caller
	limiter *ratelimit.Limiter
	policy  retry.Policy
	logger  *slog.Logger
}

var _ TokenReader = (*Reader)(nil)

type Option func(*Reader)

func WithLimiter(l *ratelimit.Limiter) Option {
	return func(r *Reader) { r.limiter = l }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(r *Reader) { r.policy = p }
}

func NewReader(caller rpc.Caller, logger *slog.Logger, opts ...Option) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reader{
		caller: caller,
		policy: retry.DefaultPolicy(),
		logger: logger.With("component", "chain_reader"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reader) TotalSupply(ctx context.Context, contract string) (int64, error) {
	out, err := r.read(ctx, contract, "totalSupply")
	if err != nil {
		return 0, err
	}
	supply, ok := out[0].(*big.Int)
	if !ok || supply.Sign() < 0 || !supply.IsInt64() {
		return 0, indexerr.ChainRead(contract, "totalSupply out of range", fmt.Errorf("value %v", out[0]))
	}
	return supply.Int64(), nil
}

// TokenSupply reads the ERC-1155 totalSupply(id) extension.
func (r *Reader) TokenSupply(ctx context.Context, contract string, tokenID int64) (int64, error) {
	out, err := r.readABI(ctx, supplyABI, contract, "totalSupply", big.NewInt(tokenID))
	if err != nil {
		return 0, withToken(err, tokenID)
	}
	supply, ok := out[0].(*big.Int)
	if !ok || supply.Sign() < 0 || !supply.IsInt64() {
		return 0, indexerr.ChainRead(contract, "totalSupply out of range", fmt.Errorf("value %v", out[0])).WithToken(tokenID)
	}
	return supply.Int64(), nil
}

func (r *Reader) TokenURI(ctx context.Context, contract string, tokenID int64) (string, error) {
	return r.readString(ctx, contract, "tokenURI", tokenID)
}

func (r *Reader) URI(ctx context.Context, contract string, tokenID int64) (string, error) {
	return r.readString(ctx, contract, "uri", tokenID)
}

func (r *Reader) OwnerOf(ctx context.Context, contract string, tokenID int64) (common.Address, error) {
	out, err := r.read(ctx, contract, "ownerOf", big.NewInt(tokenID))
	if err != nil {
		return common.Address{}, withToken(err, tokenID)
	}
	owner, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, indexerr.ChainRead(contract, "ownerOf returned unexpected type", nil).WithToken(tokenID)
	}
	return owner, nil
}

func (r *Reader) readString(ctx context.Context, contract, method string, tokenID int64) (string, error) {
	out, err := r.read(ctx, contract, method, big.NewInt(tokenID))
	if err != nil {
		return "", withToken(err, tokenID)
	}
	value, ok := out[0].(string)
	if !ok {
		return "", indexerr.ChainRead(contract, method+" returned unexpected type", nil).WithToken(tokenID)
	}
	return value, nil
}

func (r *Reader) read(ctx context.Context, contract, method string, args ...interface{}) ([]interface{}, error) {
	return r.readABI(ctx, tokenABI, contract, method, args...)
}

func (r *Reader) readABI(ctx context.Context, parsed abi.ABI, contract, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, indexerr.ChainRead(contract, "pack "+method, err)
	}

	var raw []byte
	err = retry.Do(ctx, r.policy, func(ctx context.Context) error {
		if err := r.limiter.Wait(ctx); err != nil {
			return retry.Terminal(err)
		}
		out, callErr := r.caller.Call(ctx, contract, data)
		metrics.RPCCallsTotal.WithLabelValues(method, ratelimit.ClassifyError(callErr)).Inc()
		if callErr != nil {
			return callErr
		}
		raw = out
		return nil
	}, func(attempt int, err error) {
		metrics.RPCRetries.WithLabelValues(method).Inc()
		r.logger.Debug("retrying chain read",
			"contract", contract,
			"method", method,
			"attempt", attempt,
			"error", err,
		)
	})
	if err != nil {
		return nil, indexerr.ChainRead(contract, method+" call failed", err)
	}
	if len(raw) == 0 {
		return nil, indexerr.ChainRead(contract, method+" returned no data", nil)
	}

	out, err := parsed.Unpack(method, raw)
	if err != nil {
		return nil, indexerr.ChainRead(contract, "unpack "+method, err)
	}
	if len(out) == 0 {
		return nil, indexerr.ChainRead(contract, method+" returned no values", nil)
	}
	return out, nil
}

func withToken(err error, tokenID int64) error {
	if e, ok := err.(*indexerr.Error); ok {
		return e.WithToken(tokenID)
	}
	return err
}
