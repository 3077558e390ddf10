package metadata

import (
	"fmt"
	"strings"
)

// SubstituteTokenID replaces the ERC-1155 {id} placeholder with the token id
// as 64 lowercase hex digits.
func SubstituteTokenID(uri string, tokenID int64) string {
	if !strings.Contains(uri, "{id}") {
		return uri
	}
	return strings.ReplaceAll(uri, "{id}", fmt.Sprintf("%064x", tokenID))
}
