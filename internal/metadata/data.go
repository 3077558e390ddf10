package metadata

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/emperorhan/nft-indexer/internal/domain/indexerr"
	"github.com/emperorhan/nft-indexer/internal/domain/model"
)

// decodeDataURI handles data:[<mediatype>][;base64],<payload>.
func decodeDataURI(uri string) (*model.Metadata, error) {
	comma := strings.Index(uri, ",")
	if comma < 0 {
		return nil, indexerr.MetadataFetch(truncate(uri), "", "malformed data uri", fmt.Errorf("missing comma"))
	}
	header := strings.ToLower(uri[len("data:"):comma])
	payload := uri[comma+1:]

	var body []byte
	if strings.HasSuffix(header, ";base64") {
		decoded, err := decodeBase64(payload)
		if err != nil {
			return nil, indexerr.MetadataFetch(truncate(uri), "", "malformed base64 payload", err)
		}
		body = decoded
	} else {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return nil, indexerr.MetadataFetch(truncate(uri), "", "malformed data payload", err)
		}
		body = []byte(unescaped)
	}
	return parseDocument(truncate(uri), body)
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if out, err := base64.StdEncoding.DecodeString(s); err == nil {
		return out, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

// truncate keeps inline payloads out of error messages.
func truncate(uri string) string {
	const max = 64
	if len(uri) <= max {
		return uri
	}
	return uri[:max] + "..."
}
