package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Asset struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Contract  string    `db:"contract" json:"contract"`
	TokenID   int64     `db:"token_id" json:"tokenId"`
	Name      string    `db:"name" json:"name"`
	Image     *string   `db:"image" json:"image,omitempty"`
	Traits    []Trait   `db:"traits" json:"traits"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

type Trait struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Metadata is the document served from a token's metadata URI. TokenID is
// stamped by the fetcher and never read from the document, whose own tokenId
// field (when present) is unreliable in both value and type.
type Metadata struct {
	Name       string              `json:"name"`
	Image      string              `json:"image,omitempty"`
	Attributes []MetadataAttribute `json:"attributes,omitempty"`
	TokenID    int64               `json:"-"`
}

type MetadataAttribute struct {
	TraitType string          `json:"trait_type"`
	Value     json.RawMessage `json:"value"`
}

// AssetFromMetadata maps a fetched document onto the asset stored for
// (contract, md.TokenID).
func AssetFromMetadata(contract string, md *Metadata) (*Asset, error) {
	if md == nil {
		return nil, fmt.Errorf("nil metadata")
	}
	if strings.TrimSpace(md.Name) == "" {
		return nil, fmt.Errorf("metadata has no name")
	}

	traits := make([]Trait, 0, len(md.Attributes))
	for _, attr := range md.Attributes {
		traits = append(traits, Trait{
			Type:  attr.TraitType,
			Value: traitValueString(attr.Value),
		})
	}

	asset := &Asset{
		Contract: contract,
		TokenID:  md.TokenID,
		Name:     md.Name,
		Traits:   traits,
	}
	if md.Image != "" {
		image := md.Image
		asset.Image = &image
	}
	return asset, nil
}

// traitValueString keeps JSON strings unquoted and every other literal
// (numbers, bools) as written in the document.
func traitValueString(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	return string(trimmed)
}
