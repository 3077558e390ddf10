package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/emperorhan/nft-indexer/internal/domain/model"
)

const usage = `usage: indexer <command> [flags]

commands:
  contract <address> [-standard erc721|erc1155] [-token-ids 1,2,3]
  orders <address> [-chunk 30]
  batch -contracts contracts.yaml
  serve
  migrate
`

var errUsage = errors.New("invalid usage")

type command struct {
	name          string
	contract      string
	standard      model.TokenStandard
	tokenIDs      []int64
	chunkSize     int
	contractsPath string
}

func (c command) needsIndexers() bool {
	return c.name != "migrate"
}

// parseCommand parses os.Args[1:]. The contract address may come before or
// after the flags.
func parseCommand(args []string, stderr io.Writer) (command, error) {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return command{}, errUsage
	}

	cmd := command{name: args[0]}
	fs := flag.NewFlagSet(cmd.name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }

	rest := args[1:]
	takesAddress := cmd.name == "contract" || cmd.name == "orders"
	if takesAddress && len(rest) > 0 && !strings.HasPrefix(rest[0], "-") {
		cmd.contract = rest[0]
		rest = rest[1:]
	}

	var standard, tokenIDs string
	switch cmd.name {
	case "contract":
		fs.StringVar(&standard, "standard", "erc721", "token standard: erc721 or erc1155")
		fs.StringVar(&tokenIDs, "token-ids", "", "comma separated token ids to index")
	case "orders":
		fs.IntVar(&cmd.chunkSize, "chunk", 0, "token ids per order-api request (default ORDER_CHUNK_SIZE)")
	case "batch":
		fs.StringVar(&cmd.contractsPath, "contracts", "contracts.yaml", "YAML contract list")
	case "serve", "migrate":
	default:
		fmt.Fprintf(stderr, "unknown command %q\n%s", cmd.name, usage)
		return command{}, errUsage
	}

	if err := fs.Parse(rest); err != nil {
		return command{}, errUsage
	}
	if takesAddress && cmd.contract == "" {
		cmd.contract = fs.Arg(0)
	}
	if takesAddress && cmd.contract == "" {
		fmt.Fprintf(stderr, "%s: contract address is required\n", cmd.name)
		return command{}, errUsage
	}

	if cmd.name == "contract" {
		std, err := model.ParseTokenStandard(standard)
		if err != nil {
			fmt.Fprintf(stderr, "contract: %v\n", err)
			return command{}, errUsage
		}
		cmd.standard = std
		ids, err := parseTokenIDs(tokenIDs)
		if err != nil {
			fmt.Fprintf(stderr, "contract: %v\n", err)
			return command{}, errUsage
		}
		cmd.tokenIDs = ids
	}
	if cmd.chunkSize < 0 {
		fmt.Fprintln(stderr, "orders: -chunk must be positive")
		return command{}, errUsage
	}
	return cmd, nil
}

func parseTokenIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id < 0 {
			return nil, fmt.Errorf("invalid token id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
