package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/emperorhan/nft-indexer/internal/alert"
	"github.com/emperorhan/nft-indexer/internal/api"
	"github.com/emperorhan/nft-indexer/internal/circuitbreaker"
	"github.com/emperorhan/nft-indexer/internal/config"
	"github.com/emperorhan/nft-indexer/internal/domain/model"
	"github.com/emperorhan/nft-indexer/internal/indexer"
)

const alertSendTimeout = 15 * time.Second

func buildAlerter(cfg config.AlertConfig, logger *slog.Logger) alert.Alerter {
	var channels []alert.Alerter
	if cfg.SlackWebhookURL != "" {
		channels = append(channels, alert.NewSlackAlerter(cfg.SlackWebhookURL))
	}
	if cfg.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookAlerter(cfg.WebhookURL))
	}
	if len(channels) == 0 {
		return &alert.NoopAlerter{}
	}
	return alert.NewMultiAlerter(cfg.Cooldown, logger, channels...)
}

// sendAlert detaches from the run context so a cancelled run still reports.
func sendAlert(alerter alert.Alerter, logger *slog.Logger, a alert.Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), alertSendTimeout)
	defer cancel()
	if err := alerter.Send(ctx, a); err != nil {
		logger.Warn("alert delivery failed", "type", a.Type, "subject", a.Subject, "error", err)
	}
}

// gatewayAlertHook reports IPFS gateways tripping and recovering.
func gatewayAlertHook(alerter alert.Alerter, network string, logger *slog.Logger) func(name string, from, to circuitbreaker.State) {
	return func(name string, from, to circuitbreaker.State) {
		switch {
		case to == circuitbreaker.StateOpen && from == circuitbreaker.StateClosed:
			go sendAlert(alerter, logger, alert.Alert{
				Type:    alert.AlertTypeGatewayDown,
				Network: network,
				Subject: name,
				Title:   "ipfs gateway circuit opened",
				Message: "requests to this gateway are skipped until it recovers",
			})
		case to == circuitbreaker.StateClosed && from == circuitbreaker.StateHalfOpen:
			go sendAlert(alerter, logger, alert.Alert{
				Type:    alert.AlertTypeGatewayRecovered,
				Network: network,
				Subject: name,
				Title:   "ipfs gateway recovered",
			})
		}
	}
}

// alertingContractRunner reports fatal contract runs. Cancellation is an
// operator action and is not reported.
type alertingContractRunner struct {
	next    api.ContractRunner
	alerter alert.Alerter
	network string
	logger  *slog.Logger
}

func (r *alertingContractRunner) IndexContract(ctx context.Context, contract string, standard model.TokenStandard, tokenIDs []int64) (indexer.Summary, error) {
	summary, err := r.next.IndexContract(ctx, contract, standard, tokenIDs)
	if shouldAlert(err) {
		sendAlert(r.alerter, r.logger, alert.ForRunError(r.network, "contract", contract, err))
	}
	return summary, err
}

type alertingOrderRunner struct {
	next    api.OrderRunner
	alerter alert.Alerter
	network string
	logger  *slog.Logger
}

func (r *alertingOrderRunner) IndexOrders(ctx context.Context, contract string) (indexer.OrderSummary, error) {
	summary, err := r.next.IndexOrders(ctx, contract)
	if shouldAlert(err) {
		sendAlert(r.alerter, r.logger, alert.ForRunError(r.network, "orders", contract, err))
	}
	return summary, err
}

func shouldAlert(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}
