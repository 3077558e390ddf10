package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeys_ContractViewsShareThePrefix(t *testing.T) {
	prefix := ContractPrefix("0xAbC")
	for _, key := range []string{
		AssetsKey("0xabc", 1, 10),
		OrdersKey("0xABC"),
		SupplyKey("0xAbc", "ERC721", -1),
		SupplyKey("0xabc", "erc1155", 7),
	} {
		assert.True(t, strings.HasPrefix(key, prefix), key)
	}
	assert.NotEqual(t, SupplyKey("0xabc", "ERC1155", 0), SupplyKey("0xabc", "ERC721", -1))
}

func TestKeys_NameAndProxy(t *testing.T) {
	assert.Equal(t, "ens:vitalik.eth", NameKey("Vitalik.eth"))

	a := ProxyKey("assets", "owner=0x1")
	assert.Equal(t, a, ProxyKey("assets", "owner=0x1"))
	assert.NotEqual(t, a, ProxyKey("assets", "owner=0x2"))
	assert.True(t, strings.HasPrefix(a, "marketplace:"))
	assert.Len(t, a, len("marketplace:")+64)
	assert.False(t, strings.HasPrefix(a, ContractPrefix("")))
}
