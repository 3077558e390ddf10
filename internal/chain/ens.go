package chain

import (
	"context"
	"errors"
	"strings"

	"github.com/emperorhan/nft-indexer/internal/domain/indexerr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ENSRegistry is the registry address shared by mainnet and sepolia.
const ENSRegistry = "0x00000000000C2E074eC69A0bFb2997BA6C7d2e1e"

var (
	ErrInvalidName  = errors.New("invalid ens name")
	ErrNameNotFound = errors.New("ens name not resolved")
)

// NameResolver maps an ENS name to the address its resolver reports.
type NameResolver interface {
	ResolveName(ctx context.Context, name string) (common.Address, error)
}

var _ NameResolver = (*Reader)(nil)

// ResolveName looks up the resolver of name in the registry and asks it for
// the address record. Names without a resolver or address record return
// ErrNameNotFound.
func (r *Reader) ResolveName(ctx context.Context, name string) (common.Address, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	node, err := NameHash(name)
	if err != nil {
		return common.Address{}, err
	}

	resolver, err := r.readAddress(ctx, ENSRegistry, "resolver", node)
	if err != nil {
		return common.Address{}, err
	}
	if resolver == (common.Address{}) {
		return common.Address{}, ErrNameNotFound
	}

	addr, err := r.readAddress(ctx, resolver.Hex(), "addr", node)
	if err != nil {
		return common.Address{}, err
	}
	if addr == (common.Address{}) {
		return common.Address{}, ErrNameNotFound
	}
	return addr, nil
}

func (r *Reader) readAddress(ctx context.Context, contract, method string, node [32]byte) (common.Address, error) {
	out, err := r.readABI(ctx, ensABI, contract, method, node)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, indexerr.ChainRead(contract, method+" returned unexpected type", nil)
	}
	return addr, nil
}

// NameHash implements the EIP-137 namehash of an already normalized name.
// Full UTS-46 normalization is not applied; names must be lower case.
func NameHash(name string) ([32]byte, error) {
	var node [32]byte
	if name == "" || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return node, ErrInvalidName
	}
	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		if labels[i] == "" {
			return [32]byte{}, ErrInvalidName
		}
		label := crypto.Keccak256([]byte(labels[i]))
		copy(node[:], crypto.Keccak256(node[:], label))
	}
	return node, nil
}
