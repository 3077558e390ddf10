package indexer

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"

	"github.com/emperorhan/nft-indexer/internal/domain/indexerr"
)

// detectStartingID decides whether a collection is 0- or 1-indexed by reading
// token 0, then token 1. No further ids are tried.
func detectStartingID(ctx context.Context, contract string, read func(ctx context.Context, tokenID int64) error) (int64, error) {
	errZero := read(ctx, 0)
	if errZero == nil {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	errOne := read(ctx, 1)
	if errOne == nil {
		return 1, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	return 0, indexerr.StartingIndexUndeterminable(contract, errors.Join(
		fmt.Errorf("token 0: %w", errZero),
		fmt.Errorf("token 1: %w", errOne),
	))
}

// tokenSpan is the id range [start, start+count). Ids are produced on demand
// so a large reported supply never materializes as a slice.
type tokenSpan struct {
	start, count int64
}

// newTokenSpan rejects a supply that is negative or whose range would
// overflow int64.
func newTokenSpan(contract string, start, count int64) (tokenSpan, error) {
	if count < 0 || start < 0 || count > math.MaxInt64-start {
		return tokenSpan{}, indexerr.ChainRead(contract,
			fmt.Sprintf("totalSupply %d from starting id %d is out of range", count, start), nil)
	}
	return tokenSpan{start: start, count: count}, nil
}

func (s tokenSpan) end() int64 { return s.start + s.count }

func (s tokenSpan) contains(id int64) bool { return id >= s.start && id < s.end() }

// ids yields every id in ascending order.
func (s tokenSpan) ids() iter.Seq[int64] {
	return func(yield func(int64) bool) {
		for id := s.start; id < s.end(); id++ {
			if !yield(id) {
				return
			}
		}
	}
}

// chunks yields consecutive runs of at most size ids. Each chunk is a fresh
// slice owned by the receiver.
func (s tokenSpan) chunks(size int) iter.Seq[[]int64] {
	if size <= 0 {
		size = 1
	}
	return func(yield func([]int64) bool) {
		for first := s.start; first < s.end(); {
			n := min(int64(size), s.end()-first)
			ids := make([]int64, n)
			for i := range ids {
				ids[i] = first + int64(i)
			}
			if !yield(ids) {
				return
			}
			first += n
		}
	}
}

// chunkCount is how many slices chunks(size) yields.
func (s tokenSpan) chunkCount(size int) int64 {
	if size <= 0 {
		size = 1
	}
	n := s.count / int64(size)
	if s.count%int64(size) != 0 {
		n++
	}
	return n
}
