package opensea

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emperorhan/nft-indexer/internal/domain/model"
	"github.com/shopspring/decimal"
)

// weiDecimals is the fixed exponent of the chain's native currency.
const weiDecimals = 18

// apiTimeLayout is the zone-less timestamp format the order API emits; it is
// interpreted as UTC.
const apiTimeLayout = "2006-01-02T15:04:05.999999999"

// ToModel converts an API order into the stored form. contract is the
// checksummed address the run was started with.
func ToModel(contract string, o APIOrder) (*model.Order, error) {
	tokenID, err := strconv.ParseInt(strings.TrimSpace(o.Asset.TokenID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse token_id %q: %w", o.Asset.TokenID, err)
	}

	created, err := ParseTime(o.CreatedDate)
	if err != nil {
		return nil, fmt.Errorf("parse created_date: %w", err)
	}

	var closing *time.Time
	if o.ClosingDate != nil && strings.TrimSpace(*o.ClosingDate) != "" {
		t, err := ParseTime(*o.ClosingDate)
		if err != nil {
			return nil, fmt.Errorf("parse closing_date: %w", err)
		}
		closing = &t
	}

	price, err := WeiToEther(o.CurrentPrice.String())
	if err != nil {
		return nil, err
	}

	name := ""
	if o.Asset.Name != nil {
		name = *o.Asset.Name
	}

	return &model.Order{
		Contract:    contract,
		TokenID:     tokenID,
		Source:      model.OrderSourceOpenSea,
		Name:        name,
		CreatedDate: created,
		ClosingDate: closing,
		Price:       price,
		Side:        model.OrderSide(o.Side),
		SaleKind:    o.SaleKind,
	}, nil
}

// WeiToEther converts an integer (or integral decimal) wei amount into ether
// without going through floating point.
func WeiToEther(raw string) (decimal.Decimal, error) {
	wei, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse current_price %q: %w", raw, err)
	}
	if wei.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("negative current_price %q", raw)
	}
	return wei.Shift(-weiDecimals), nil
}

func ParseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation(apiTimeLayout, raw, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}
