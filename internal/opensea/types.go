package opensea

import "encoding/json"

// Query selects the open sell orders for a set of tokens of one contract.
type Query struct {
	Contract string
	TokenIDs []int64
	Limit    int
}

type OrdersResponse struct {
	Orders []APIOrder `json:"orders"`
}

type APIOrder struct {
	Asset        APIAsset    `json:"asset"`
	CreatedDate  string      `json:"created_date"`
	ClosingDate  *string     `json:"closing_date"`
	CurrentPrice json.Number `json:"current_price"`
	Side         int         `json:"side"`
	SaleKind     *int        `json:"sale_kind"`
}

type APIAsset struct {
	Name          *string          `json:"name"`
	TokenID       string           `json:"token_id"`
	AssetContract APIAssetContract `json:"asset_contract"`
}

type APIAssetContract struct {
	Address string `json:"address"`
}
