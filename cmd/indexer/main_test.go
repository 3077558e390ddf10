package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/emperorhan/nft-indexer/internal/config"
	"github.com/emperorhan/nft-indexer/internal/domain/indexerr"
	"github.com/emperorhan/nft-indexer/internal/domain/model"
	"github.com/emperorhan/nft-indexer/internal/indexer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bayc = "0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D"

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want command
	}{
		{
			name: "contract defaults",
			args: []string{"contract", bayc},
			want: command{name: "contract", contract: bayc, standard: model.StandardERC721},
		},
		{
			name: "contract flags after address",
			args: []string{"contract", bayc, "-standard", "erc1155", "-token-ids", "1, 2,3"},
			want: command{name: "contract", contract: bayc, standard: model.StandardERC1155, tokenIDs: []int64{1, 2, 3}},
		},
		{
			name: "contract flags before address",
			args: []string{"contract", "-standard", "721", bayc},
			want: command{name: "contract", contract: bayc, standard: model.StandardERC721},
		},
		{
			name: "orders chunk",
			args: []string{"orders", bayc, "-chunk", "20"},
			want: command{name: "orders", contract: bayc, chunkSize: 20},
		},
		{
			name: "batch",
			args: []string{"batch", "-contracts", "list.yaml"},
			want: command{name: "batch", contractsPath: "list.yaml"},
		},
		{
			name: "batch default path",
			args: []string{"batch"},
			want: command{name: "batch", contractsPath: "contracts.yaml"},
		},
		{name: "serve", args: []string{"serve"}, want: command{name: "serve"}},
		{name: "migrate", args: []string{"migrate"}, want: command{name: "migrate"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseCommand(tc.args, &bytes.Buffer{})
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseCommand_Usage(t *testing.T) {
	for _, args := range [][]string{
		nil,
		{"reindex"},
		{"contract"},
		{"orders", "-chunk", "5"},
		{"orders", bayc, "-chunk", "-1"},
		{"contract", bayc, "-standard", "erc20"},
		{"contract", bayc, "-token-ids", "1,x"},
		{"serve", "-port", "1"},
	} {
		var stderr bytes.Buffer
		_, err := parseCommand(args, &stderr)
		assert.ErrorIs(t, err, errUsage, "%v", args)
		assert.NotEmpty(t, stderr.String(), "%v", args)
	}
}

func TestRealMain_UsageExitCode(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, realMain([]string{"bogus"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "usage: indexer")
}

func TestParseTokenIDs(t *testing.T) {
	ids, err := parseTokenIDs("")
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = parseTokenIDs("5,,7 ")
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 7}, ids)

	_, err = parseTokenIDs("-1")
	assert.Error(t, err)
}

type batchContracts struct {
	calls []string
	fail  map[string]error
}

func (b *batchContracts) IndexContract(_ context.Context, contract string, _ model.TokenStandard, _ []int64) (indexer.Summary, error) {
	b.calls = append(b.calls, contract)
	return indexer.Summary{Contract: contract, Indexed: 1}, b.fail[contract]
}

type batchOrders struct {
	calls []string
	err   error
}

func (b *batchOrders) IndexOrders(_ context.Context, contract string) (indexer.OrderSummary, error) {
	b.calls = append(b.calls, contract)
	return indexer.OrderSummary{Contract: contract}, b.err
}

func TestRunBatch_ContinuesAfterFatalErrors(t *testing.T) {
	entries := []config.ContractEntry{
		{Address: "0xa", Standard: model.StandardERC721, Orders: true},
		{Address: "0xb", Standard: model.StandardERC721, Orders: true},
		{Address: "0xc", Standard: model.StandardERC1155, TokenIDs: []int64{1}},
	}
	contracts := &batchContracts{fail: map[string]error{
		"0xb": indexerr.ChainRead("0xb", "totalSupply", errors.New("reverted")),
	}}
	orders := &batchOrders{err: indexerr.UpstreamRateLimited("0xa", "https://api")}

	err := runBatch(context.Background(), entries, contracts, orders, slog.New(slog.DiscardHandler))
	require.Error(t, err)
	assert.ErrorIs(t, err, indexerr.ErrChainRead)
	assert.ErrorIs(t, err, indexerr.ErrUpstreamRateLimited)

	assert.Equal(t, []string{"0xa", "0xb", "0xc"}, contracts.calls)
	assert.Equal(t, []string{"0xa"}, orders.calls)
}

func TestRunBatch_AllSucceed(t *testing.T) {
	entries := []config.ContractEntry{{Address: "0xa", Orders: true}, {Address: "0xb"}}
	contracts := &batchContracts{}
	orders := &batchOrders{}

	require.NoError(t, runBatch(context.Background(), entries, contracts, orders, slog.New(slog.DiscardHandler)))
	assert.Len(t, contracts.calls, 2)
	assert.Len(t, orders.calls, 1)
}

func TestRunBatch_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	contracts := &batchContracts{}

	err := runBatch(ctx, []config.ContractEntry{{Address: "0xa"}}, contracts, &batchOrders{}, slog.New(slog.DiscardHandler))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, contracts.calls)
}

type staticChainID struct {
	id  int64
	err error
}

func (s staticChainID) ChainID(context.Context) (int64, error) { return s.id, s.err }

func TestVerifyChainID(t *testing.T) {
	cfg := &config.Config{Chain: config.ChainConfig{Network: model.NetworkMainnet}}

	require.NoError(t, verifyChainID(context.Background(), staticChainID{id: 1}, cfg))

	err := verifyChainID(context.Background(), staticChainID{id: 137}, cfg)
	assert.ErrorContains(t, err, "expects 1")

	err = verifyChainID(context.Background(), staticChainID{err: errors.New("dial")}, cfg)
	assert.ErrorContains(t, err, "query chain id")

	cfg.Chain.Network = model.Network("devnet")
	require.NoError(t, verifyChainID(context.Background(), staticChainID{err: errors.New("unused")}, cfg))
}

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger("warn", &buf)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
