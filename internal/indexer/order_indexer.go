package indexer

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/emperorhan/nft-indexer/internal/chain"
	"github.com/emperorhan/nft-indexer/internal/domain/indexerr"
	"github.com/emperorhan/nft-indexer/internal/domain/model"
	"github.com/emperorhan/nft-indexer/internal/metrics"
	"github.com/emperorhan/nft-indexer/internal/opensea"
	"github.com/emperorhan/nft-indexer/internal/ratelimit"
	"github.com/emperorhan/nft-indexer/internal/store"
	"github.com/emperorhan/nft-indexer/internal/tracing"
	"golang.org/x/sync/errgroup"
)

const defaultChunkSize = 30

type orderOutcome string

const (
	outcomeCreated orderOutcome = "created"
	outcomeUpdated orderOutcome = "updated"
	outcomeSkipped orderOutcome = "skipped"
	outcomeFailed  orderOutcome = "failed"
)

// OrderSummary reports the outcome of one IndexOrders run.
type OrderSummary struct {
	Contract     string `json:"contract"`
	StartingID   int64  `json:"startingId"`
	TotalSupply  int64  `json:"totalSupply"`
	Chunks       int64  `json:"chunks"`
	FailedChunks int    `json:"failedChunks"`
	Received     int    `json:"received"`
	Created      int    `json:"created"`
	Updated      int    `json:"updated"`
	Skipped      int    `json:"skipped"`
	Failed       int    `json:"failed"`
}

type OrderIndexer struct {
	reader    chain.TokenReader
	searcher  opensea.OrderSearcher
	orders    store.OrderRepository
	limiter   *ratelimit.Limiter
	chunkSize int
	workers   int
	logger    *slog.Logger
}

type OrderOption func(*OrderIndexer)

// WithChunkSize sets how many token ids go into one order-API request.
func WithChunkSize(n int) OrderOption {
	return func(ix *OrderIndexer) {
		if n > 0 {
			ix.chunkSize = n
		}
	}
}

func WithOrderWorkers(n int) OrderOption {
	return func(ix *OrderIndexer) {
		if n > 0 {
			ix.workers = n
		}
	}
}

// NewOrderIndexer builds an OrderIndexer. limiter paces order-API requests
// and may be nil.
func NewOrderIndexer(
	reader chain.TokenReader,
	searcher opensea.OrderSearcher,
	orders store.OrderRepository,
	limiter *ratelimit.Limiter,
	logger *slog.Logger,
	opts ...OrderOption,
) *OrderIndexer {
	if logger == nil {
		logger = slog.Default()
	}
	ix := &OrderIndexer{
		reader:    reader,
		searcher:  searcher,
		orders:    orders,
		limiter:   limiter,
		chunkSize: defaultChunkSize,
		workers:   defaultWorkers,
		logger:    logger.With("component", "order_indexer"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ix)
		}
	}
	return ix
}

// IndexOrders pulls the cheapest open sell order of every token of contract
// and keeps only the freshest one per token. A 429 from the order API
// cancels the remaining chunks and is returned; orders already written stay.
func (ix *OrderIndexer) IndexOrders(ctx context.Context, rawContract string) (summary OrderSummary, err error) {
	contract, err := chain.ParseAddress(rawContract)
	if err != nil {
		return OrderSummary{Contract: rawContract}, err
	}
	summary = OrderSummary{Contract: contract}

	ctx, span := tracing.StartRun(ctx, "indexer.IndexOrders", contract)
	start := time.Now()
	defer func() {
		observeRun("orders", start, err)
		tracing.End(span, err)
	}()

	log := ix.logger.With("contract", contract)

	supply, err := ix.reader.TotalSupply(ctx, contract)
	if err != nil {
		log.Error("order run aborted", "error", err)
		return summary, err
	}
	summary.TotalSupply = supply
	if supply == 0 {
		log.Info("contract has no tokens")
		return summary, nil
	}

	startID, err := detectStartingID(ctx, contract, func(ctx context.Context, id int64) error {
		_, err := ix.reader.OwnerOf(ctx, contract, id)
		return err
	})
	if err != nil {
		log.Error("order run aborted", "error", err)
		return summary, err
	}
	summary.StartingID = startID

	tokens, err := newTokenSpan(contract, startID, supply)
	if err != nil {
		log.Error("order run aborted", "error", err)
		return summary, err
	}
	summary.Chunks = tokens.chunkCount(ix.chunkSize)
	log.Info("indexing orders", "starting_id", startID, "total_supply", supply, "chunks", summary.Chunks)

	var counts struct {
		received, created, updated, skipped, failed, failedChunks atomic.Int64
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(ix.workers)
	for ids := range tokens.chunks(ix.chunkSize) {
		if gCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			if err := ix.limiter.Wait(gCtx); err != nil {
				return err
			}
			apiOrders, err := ix.searcher.SearchOrders(gCtx, opensea.Query{
				Contract: contract,
				TokenIDs: ids,
				Limit:    ix.chunkSize,
			})
			if err != nil {
				if errors.Is(err, indexerr.ErrUpstreamRateLimited) {
					return err
				}
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				counts.failedChunks.Add(1)
				metrics.OrderChunkFailures.WithLabelValues(contract).Inc()
				log.Warn("order chunk failed", "first_token_id", ids[0], "tokens", len(ids), "error", err)
				return nil
			}

			counts.received.Add(int64(len(apiOrders)))
			for _, apiOrder := range apiOrders {
				outcome := ix.processOrder(gCtx, log, contract, apiOrder)
				metrics.OrdersProcessed.WithLabelValues(contract, string(outcome)).Inc()
				switch outcome {
				case outcomeCreated:
					counts.created.Add(1)
				case outcomeUpdated:
					counts.updated.Add(1)
				case outcomeSkipped:
					counts.skipped.Add(1)
				default:
					counts.failed.Add(1)
				}
			}
			return nil
		})
	}
	err = g.Wait()

	summary.Received = int(counts.received.Load())
	summary.Created = int(counts.created.Load())
	summary.Updated = int(counts.updated.Load())
	summary.Skipped = int(counts.skipped.Load())
	summary.Failed = int(counts.failed.Load())
	summary.FailedChunks = int(counts.failedChunks.Load())

	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		log.Error("order run aborted", "created", summary.Created, "updated", summary.Updated, "error", err)
		return summary, err
	}

	log.Info("all orders imported",
		"received", summary.Received,
		"created", summary.Created,
		"updated", summary.Updated,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"failed_chunks", summary.FailedChunks,
	)
	return summary, nil
}

func (ix *OrderIndexer) processOrder(ctx context.Context, log *slog.Logger, contract string, apiOrder opensea.APIOrder) orderOutcome {
	incoming, err := opensea.ToModel(contract, apiOrder)
	if err != nil {
		log.Warn("order not convertible", "token_id", apiOrder.Asset.TokenID, "error", err)
		return outcomeFailed
	}

	outcome, err := ix.reconcile(ctx, incoming)
	if err != nil {
		log.Warn("order not saved", "token_id", incoming.TokenID, "error", err)
		return outcomeFailed
	}
	log.Debug("order reconciled", "token_id", incoming.TokenID, "outcome", string(outcome), "price", incoming.Price.String())
	return outcome
}

// reconcile keeps the freshest order per (contract, token, source): create
// when absent, overwrite only when strictly newer, otherwise skip.
func (ix *OrderIndexer) reconcile(ctx context.Context, incoming *model.Order) (orderOutcome, error) {
	existing, err := ix.orders.Find(ctx, incoming.Contract, incoming.TokenID, incoming.Source)
	if err != nil {
		return outcomeFailed, indexerr.Persistence(incoming.Contract, "find order", err).WithToken(incoming.TokenID)
	}

	if existing == nil {
		err := ix.orders.Create(ctx, incoming)
		if err == nil {
			return outcomeCreated, nil
		}
		if !errors.Is(err, store.ErrDuplicate) {
			return outcomeFailed, indexerr.Persistence(incoming.Contract, "create order", err).WithToken(incoming.TokenID)
		}
		// Lost a create race; fall through to the guarded update.
	} else if !incoming.IsFresherThan(existing) {
		return outcomeSkipped, nil
	}

	updated, err := ix.orders.UpdateIfNewer(ctx, incoming)
	if err != nil {
		return outcomeFailed, indexerr.Persistence(incoming.Contract, "update order", err).WithToken(incoming.TokenID)
	}
	if !updated {
		return outcomeSkipped, nil
	}
	return outcomeUpdated, nil
}
