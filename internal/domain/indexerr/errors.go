// Package indexerr defines the failure kinds surfaced by the indexing
// pipeline. Every failure carries enough context (contract, token, upstream
// URL) to be logged without the caller re-attaching it.
package indexerr

import (
	"errors"
	"fmt"
	"strings"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidAddress
	KindChainRead
	KindStartingIndexUndeterminable
	KindMetadataFetch
	KindUnsupportedScheme
	KindUpstreamRateLimited
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindInvalidAddress:
		return "invalid_address"
	case KindChainRead:
		return "chain_read"
	case KindStartingIndexUndeterminable:
		return "starting_index_undeterminable"
	case KindMetadataFetch:
		return "metadata_fetch"
	case KindUnsupportedScheme:
		return "unsupported_scheme"
	case KindUpstreamRateLimited:
		return "upstream_rate_limited"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching against an *Error of the same kind.
var (
	ErrInvalidAddress              = &Error{Kind: KindInvalidAddress}
	ErrChainRead                   = &Error{Kind: KindChainRead}
	ErrStartingIndexUndeterminable = &Error{Kind: KindStartingIndexUndeterminable}
	ErrMetadataFetch               = &Error{Kind: KindMetadataFetch}
	ErrUnsupportedScheme           = &Error{Kind: KindUnsupportedScheme}
	ErrUpstreamRateLimited         = &Error{Kind: KindUpstreamRateLimited}
	ErrPersistence                 = &Error{Kind: KindPersistence}
)

type Error struct {
	Kind     Kind
	Contract string
	TokenID  *int64
	// URL is the upstream location involved (metadata URI, gateway, API).
	URL string
	// Body holds the raw upstream response when one was read.
	Body    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Contract != "" {
		fmt.Fprintf(&b, " contract=%s", e.Contract)
	}
	if e.TokenID != nil {
		fmt.Fprintf(&b, " token_id=%d", *e.TokenID)
	}
	if e.URL != "" {
		fmt.Fprintf(&b, " url=%s", e.URL)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind, so callers can write
// errors.Is(err, indexerr.ErrChainRead).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithToken returns a copy of e annotated with tokenID.
func (e *Error) WithToken(tokenID int64) *Error {
	cp := *e
	cp.TokenID = &tokenID
	return &cp
}

func New(kind Kind, contract, message string, err error) *Error {
	return &Error{Kind: kind, Contract: contract, Message: message, Err: err}
}

func InvalidAddress(contract string, err error) *Error {
	return New(KindInvalidAddress, contract, "invalid contract address", err)
}

func ChainRead(contract, message string, err error) *Error {
	return New(KindChainRead, contract, message, err)
}

func StartingIndexUndeterminable(contract string, err error) *Error {
	return New(KindStartingIndexUndeterminable, contract, "could not determine starting token id", err)
}

func MetadataFetch(url, body, message string, err error) *Error {
	return &Error{Kind: KindMetadataFetch, URL: url, Body: body, Message: message, Err: err}
}

func UnsupportedScheme(url, scheme string) *Error {
	return &Error{Kind: KindUnsupportedScheme, URL: url, Message: fmt.Sprintf("unsupported uri scheme %q", scheme)}
}

func UpstreamRateLimited(contract, url string) *Error {
	return &Error{
		Kind:     KindUpstreamRateLimited,
		Contract: contract,
		URL:      url,
		Message:  "order api is rate limiting; wait a minute and retry with a lower OPENSEA_RATE_PER_MIN",
	}
}

func Persistence(contract, message string, err error) *Error {
	return New(KindPersistence, contract, message, err)
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsFatal reports whether err aborts a whole contract run rather than a
// single token.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindInvalidAddress, KindChainRead, KindStartingIndexUndeterminable, KindUpstreamRateLimited:
		return true
	default:
		return false
	}
}
