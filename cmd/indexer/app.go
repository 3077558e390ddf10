package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/emperorhan/nft-indexer/internal/api"
	"github.com/emperorhan/nft-indexer/internal/chain"
	"github.com/emperorhan/nft-indexer/internal/chain/retry"
	"github.com/emperorhan/nft-indexer/internal/chain/rpc"
	"github.com/emperorhan/nft-indexer/internal/circuitbreaker"
	"github.com/emperorhan/nft-indexer/internal/config"
	"github.com/emperorhan/nft-indexer/internal/indexer"
	"github.com/emperorhan/nft-indexer/internal/metadata"
	"github.com/emperorhan/nft-indexer/internal/opensea"
	"github.com/emperorhan/nft-indexer/internal/ratelimit"
	"github.com/emperorhan/nft-indexer/internal/store/postgres"
)

const chainIDCheckTimeout = 10 * time.Second

// app holds the wired components shared by every command.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *postgres.DB

	assets   *postgres.AssetRepo
	orders   *postgres.OrderRepo
	contract api.ContractRunner
	orderIdx api.OrderRunner

	// Live lookups served next to the indexed data. names is nil on
	// networks without an ENS registry.
	supply api.SupplyReader
	names  chain.NameResolver
	proxy  api.MarketplaceProxy
}

func newApp(ctx context.Context, cfg *config.Config, cmd command, logger *slog.Logger) (*app, error) {
	db, err := postgres.New(postgres.Config{
		URL:                cfg.DB.URL,
		MaxOpenConns:       cfg.DB.MaxOpenConns,
		MaxIdleConns:       cfg.DB.MaxIdleConns,
		ConnMaxLifetime:    cfg.DB.ConnMaxLifetime,
		StatementTimeoutMS: cfg.DB.StatementTimeoutMS,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	logger.Info("connected to database")

	a := &app{
		cfg:    cfg,
		logger: logger,
		db:     db,
		assets: postgres.NewAssetRepo(db),
		orders: postgres.NewOrderRepo(db),
	}
	if !cmd.needsIndexers() {
		return a, nil
	}

	if err := cfg.ValidateForIndexing(); err != nil {
		db.Close()
		return nil, err
	}

	rpcClient := rpc.NewClient(cfg.Chain.RPCURL, cfg.Chain.Timeout, logger)
	if err := verifyChainID(ctx, rpcClient, cfg); err != nil {
		db.Close()
		return nil, err
	}

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.Chain.MaxAttempts
	reader := chain.NewReader(rpcClient, logger,
		chain.WithLimiter(ratelimit.PerMinute(cfg.Chain.RatePerMin, "chain_rpc")),
		chain.WithRetryPolicy(policy),
	)

	alerter := buildAlerter(cfg.Alert, logger)
	network := cfg.Chain.Network.String()

	fetcher := metadata.NewFetcher(metadata.Config{
		Gateways:        cfg.Metadata.Gateways,
		Race:            cfg.Metadata.Race,
		Limiter:         ratelimit.PerMinute(cfg.Metadata.RatePerMin, "ipfs"),
		Timeout:         cfg.Metadata.Timeout,
		MaxResponseSize: cfg.Metadata.MaxResponseBytes,
		Breaker: circuitbreaker.Config{
			OnStateChange: gatewayAlertHook(alerter, network, logger),
		},
	}, logger)

	chunkSize := cfg.OpenSea.ChunkSize
	if cmd.chunkSize > 0 {
		chunkSize = cmd.chunkSize
	}
	searcher := opensea.NewClient(cfg.OpenSea.URL, cfg.OpenSea.APIKey, cfg.OpenSea.Timeout, logger)
	openseaLimiter := ratelimit.PerMinute(cfg.OpenSea.RatePerMin, "opensea")

	contracts := indexer.NewContractIndexer(reader, fetcher, a.assets, logger,
		indexer.WithWorkers(cfg.Indexer.Workers))
	orders := indexer.NewOrderIndexer(reader, searcher, a.orders,
		openseaLimiter, logger,
		indexer.WithChunkSize(chunkSize),
		indexer.WithOrderWorkers(cfg.Indexer.Workers),
	)
	a.contract = &alertingContractRunner{next: contracts, alerter: alerter, network: network, logger: logger}
	a.orderIdx = &alertingOrderRunner{next: orders, alerter: alerter, network: network, logger: logger}

	a.supply = reader
	if cfg.Chain.Network.HasENS() {
		a.names = reader
	}
	a.proxy = opensea.NewProxy(cfg.OpenSea.ProxyURL, cfg.OpenSea.APIKey, cfg.OpenSea.Timeout, openseaLimiter, logger)
	return a, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Warn("database close error", "error", err)
	}
}

type chainIDer interface {
	ChainID(ctx context.Context) (int64, error)
}

// verifyChainID refuses to index against an endpoint serving a different
// network than CHAIN_NETWORK, which would store assets under the wrong chain.
func verifyChainID(ctx context.Context, c chainIDer, cfg *config.Config) error {
	want := cfg.Chain.Network.ChainID()
	if want == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, chainIDCheckTimeout)
	defer cancel()

	got, err := c.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("query chain id: %w", err)
	}
	if got != want {
		return fmt.Errorf("CHAIN_RPC_URL serves chain id %d, CHAIN_NETWORK=%s expects %d", got, cfg.Chain.Network, want)
	}
	return nil
}
