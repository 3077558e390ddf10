package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/emperorhan/nft-indexer/internal/api"
	"github.com/emperorhan/nft-indexer/internal/config"
	"github.com/emperorhan/nft-indexer/internal/store/postgres"
)

func (a *app) run(ctx context.Context, cmd command) error {
	switch cmd.name {
	case "migrate":
		if err := a.db.RunMigrations(ctx, postgres.Migrations); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		a.logger.Info("migrations applied")
		return nil
	case "contract":
		_, err := a.contract.IndexContract(ctx, cmd.contract, cmd.standard, cmd.tokenIDs)
		return err
	case "orders":
		_, err := a.orderIdx.IndexOrders(ctx, cmd.contract)
		return err
	case "batch":
		entries, err := config.LoadContracts(cmd.contractsPath)
		if err != nil {
			return err
		}
		return runBatch(ctx, entries, a.contract, a.orderIdx, a.logger)
	case "serve":
		return a.serve(ctx)
	default:
		return fmt.Errorf("unknown command %q", cmd.name)
	}
}

// runBatch indexes entries one after another. A fatal error on one contract
// is logged and the batch moves on; the joined errors are returned at the
// end. Cancellation stops the batch.
func runBatch(ctx context.Context, entries []config.ContractEntry, contracts api.ContractRunner, orders api.OrderRunner, logger *slog.Logger) error {
	var errs []error
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		log := logger.With("batch_index", i, "contract", entry.Address)

		summary, err := contracts.IndexContract(ctx, entry.Address, entry.Standard, entry.TokenIDs)
		if err != nil {
			log.Error("batch contract failed", "error", err)
			errs = append(errs, fmt.Errorf("contract %s: %w", entry.Address, err))
			continue
		}
		log.Info("batch contract done", "indexed", summary.Indexed, "failed", summary.Failed)

		if !entry.Orders {
			continue
		}
		osum, err := orders.IndexOrders(ctx, entry.Address)
		if err != nil {
			log.Error("batch orders failed", "error", err)
			errs = append(errs, fmt.Errorf("orders %s: %w", entry.Address, err))
			continue
		}
		log.Info("batch orders done", "created", osum.Created, "updated", osum.Updated)
	}
	return errors.Join(errs...)
}
