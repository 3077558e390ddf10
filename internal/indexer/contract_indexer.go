package indexer

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/emperorhan/nft-indexer/internal/chain"
	"github.com/emperorhan/nft-indexer/internal/domain/indexerr"
	"github.com/emperorhan/nft-indexer/internal/domain/model"
	"github.com/emperorhan/nft-indexer/internal/metadata"
	"github.com/emperorhan/nft-indexer/internal/metrics"
	"github.com/emperorhan/nft-indexer/internal/store"
	"github.com/emperorhan/nft-indexer/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const defaultWorkers = 16

// ErrNoTokenIDs is returned for ERC-1155 runs without explicit token ids.
var ErrNoTokenIDs = errors.New("erc1155 indexing requires explicit token ids")

// ErrNegativeTokenID is returned when an explicit token id list holds a
// negative id.
var ErrNegativeTokenID = errors.New("negative token id")

// Summary reports the outcome of one IndexContract run. Failed tokens are
// left unindexed and picked up by the next run.
type Summary struct {
	Contract    string              `json:"contract"`
	Standard    model.TokenStandard `json:"standard"`
	StartingID  int64               `json:"startingId"`
	TotalSupply int64               `json:"totalSupply"`
	Candidates  int64               `json:"candidates"`
	Skipped     int                 `json:"skipped"`
	Indexed     int                 `json:"indexed"`
	Duplicates  int                 `json:"duplicates"`
	Failed      int                 `json:"failed"`
}

type ContractIndexer struct {
	reader   chain.TokenReader
	metadata metadata.Source
	assets   store.AssetRepository
	workers  int
	logger   *slog.Logger
}

type ContractOption func(*ContractIndexer)

// WithWorkers caps the number of tokens processed concurrently.
func WithWorkers(n int) ContractOption {
	return func(ix *ContractIndexer) {
		if n > 0 {
			ix.workers = n
		}
	}
}

func NewContractIndexer(
	reader chain.TokenReader,
	source metadata.Source,
	assets store.AssetRepository,
	logger *slog.Logger,
	opts ...ContractOption,
) *ContractIndexer {
	if logger == nil {
		logger = slog.Default()
	}
	ix := &ContractIndexer{
		reader:   reader,
		metadata: source,
		assets:   assets,
		workers:  defaultWorkers,
		logger:   logger.With("component", "contract_indexer"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ix)
		}
	}
	return ix
}

// IndexContract stores an Asset for every token of contract that is not yet
// indexed. ERC-721 runs enumerate [start, start+totalSupply), restricted to
// tokenIDs when given; ERC-1155 runs index exactly tokenIDs.
//
// Only run-level failures are returned: invalid address, unreadable supply,
// undeterminable starting id, or a failed read of the indexed set.
func (ix *ContractIndexer) IndexContract(ctx context.Context, rawContract string, standard model.TokenStandard, tokenIDs []int64) (summary Summary, err error) {
	contract, err := chain.ParseAddress(rawContract)
	if err != nil {
		return Summary{Contract: rawContract, Standard: standard}, err
	}
	summary = Summary{Contract: contract, Standard: standard}

	ctx, span := tracing.StartRun(ctx, "indexer.IndexContract", contract,
		attribute.String("nft.standard", standard.String()))
	start := time.Now()
	defer func() {
		observeRun("contract", start, err)
		tracing.End(span, err)
	}()

	log := ix.logger.With("contract", contract, "standard", standard.String())

	cands, err := ix.resolveCandidates(ctx, contract, standard, tokenIDs, &summary)
	if err != nil {
		log.Error("contract run aborted", "error", err)
		return summary, err
	}
	summary.Candidates = cands.count

	// Range runs read the indexed set once; explicit id lists are checked
	// token by token so a short list never loads a large collection.
	var existing map[int64]struct{}
	if !cands.explicit {
		existing, err = ix.assets.FindTokenIDs(ctx, contract)
		if err != nil {
			err = indexerr.Persistence(contract, "load indexed token ids", err)
			log.Error("contract run aborted", "error", err)
			return summary, err
		}
	}

	log.Info("indexing contract",
		"starting_id", summary.StartingID,
		"total_supply", summary.TotalSupply,
		"candidates", summary.Candidates,
		"already_indexed", len(existing),
	)

	var indexed, duplicates, failed atomic.Int64
	var skipped int
	var g errgroup.Group
	g.SetLimit(ix.workers)
	for id := range cands.ids {
		if ctx.Err() != nil {
			break
		}
		done, err := ix.alreadyIndexed(ctx, contract, id, existing, cands.explicit)
		if err != nil {
			_ = g.Wait()
			log.Error("contract run aborted", "error", err)
			return summary, err
		}
		if done {
			skipped++
			continue
		}
		g.Go(func() error {
			switch err := ix.indexToken(ctx, contract, standard, id); {
			case err == nil:
				indexed.Add(1)
			case errors.Is(err, store.ErrDuplicate):
				duplicates.Add(1)
			default:
				failed.Add(1)
				metrics.AssetTokenFailures.WithLabelValues(contract, indexerr.KindOf(err).String()).Inc()
				log.Warn("token not indexed", "token_id", id, "kind", indexerr.KindOf(err).String(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	summary.Skipped = skipped
	summary.Indexed = int(indexed.Load())
	summary.Duplicates = int(duplicates.Load())
	summary.Failed = int(failed.Load())

	if err = ctx.Err(); err != nil {
		log.Warn("contract run interrupted", "indexed", summary.Indexed, "error", err)
		return summary, err
	}

	log.Info("contract indexed",
		"indexed", summary.Indexed,
		"duplicates", summary.Duplicates,
		"failed", summary.Failed,
	)
	return summary, nil
}

// candidates is the token ids one run considers.
type candidates struct {
	ids   iter.Seq[int64]
	count int64
	// explicit is set when ids came from the caller rather than the range.
	explicit bool
}

func listed(ids []int64) candidates {
	return candidates{ids: slices.Values(ids), count: int64(len(ids)), explicit: true}
}

func (ix *ContractIndexer) resolveCandidates(ctx context.Context, contract string, standard model.TokenStandard, tokenIDs []int64, summary *Summary) (candidates, error) {
	if standard == model.StandardERC1155 {
		if len(tokenIDs) == 0 {
			return candidates{}, ErrNoTokenIDs
		}
		ids, err := normalizeIDs(tokenIDs)
		if err != nil {
			return candidates{}, err
		}
		return listed(ids), nil
	}

	// Reject malformed explicit ids before any chain read.
	var requested []int64
	if len(tokenIDs) > 0 {
		ids, err := normalizeIDs(tokenIDs)
		if err != nil {
			return candidates{}, err
		}
		requested = ids
	}

	supply, err := ix.reader.TotalSupply(ctx, contract)
	if err != nil {
		return candidates{}, err
	}
	summary.TotalSupply = supply
	if supply == 0 {
		return listed(nil), nil
	}
	startID, err := detectStartingID(ctx, contract, func(ctx context.Context, id int64) error {
		_, err := ix.reader.TokenURI(ctx, contract, id)
		return err
	})
	if err != nil {
		return candidates{}, err
	}
	summary.StartingID = startID

	span, err := newTokenSpan(contract, startID, supply)
	if err != nil {
		return candidates{}, err
	}
	if requested == nil {
		return candidates{ids: span.ids(), count: span.count}, nil
	}

	filtered := requested[:0]
	for _, id := range requested {
		if span.contains(id) {
			filtered = append(filtered, id)
		}
	}
	return listed(filtered), nil
}

// alreadyIndexed consults the preloaded set, or the store for explicit ids.
func (ix *ContractIndexer) alreadyIndexed(ctx context.Context, contract string, id int64, existing map[int64]struct{}, explicit bool) (bool, error) {
	if !explicit {
		_, ok := existing[id]
		return ok, nil
	}
	ok, err := ix.assets.Exists(ctx, contract, id)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, indexerr.Persistence(contract, "check indexed token", err).WithToken(id)
	}
	return ok, nil
}

func (ix *ContractIndexer) indexToken(ctx context.Context, contract string, standard model.TokenStandard, tokenID int64) error {
	var (
		uri string
		err error
	)
	if standard == model.StandardERC1155 {
		uri, err = ix.reader.URI(ctx, contract, tokenID)
		uri = metadata.SubstituteTokenID(uri, tokenID)
	} else {
		uri, err = ix.reader.TokenURI(ctx, contract, tokenID)
	}
	if err != nil {
		return err
	}

	md, err := ix.metadata.Fetch(ctx, uri, tokenID)
	if err != nil {
		return err
	}

	asset, err := model.AssetFromMetadata(contract, md)
	if err != nil {
		return indexerr.MetadataFetch(uri, "", "invalid metadata document", err).WithToken(tokenID)
	}

	if err := ix.assets.Create(ctx, asset); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return err
		}
		return indexerr.Persistence(contract, "create asset", err).WithToken(tokenID)
	}

	metrics.AssetsWritten.WithLabelValues(contract).Inc()
	ix.logger.Debug("asset saved", "contract", contract, "token_id", tokenID, "name", asset.Name)
	return nil
}

// normalizeIDs sorts and dedupes ids, rejecting negatives.
func normalizeIDs(ids []int64) ([]int64, error) {
	out := slices.Clone(ids)
	slices.Sort(out)
	out = slices.Compact(out)
	if len(out) > 0 && out[0] < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeTokenID, out[0])
	}
	return out, nil
}

func observeRun(kind string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = indexerr.KindOf(err).String()
	}
	metrics.RunsTotal.WithLabelValues(kind, result).Inc()
	metrics.RunDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}
