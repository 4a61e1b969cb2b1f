// Package caip2 implements CAIP-2 network identifiers (`namespace:reference`)
// for the protocol's v2 encoding.
//
// Reference grammar is namespace-specific:
//   - eip155: decimal chain id
//   - solana: base58 genesis hash prefix
//   - near, stellar, fogo: fixed network-name literals
//
// Parsing fails closed: an unrecognized or malformed identifier never
// resolves to any network.
package caip2

import (
	"fmt"
	"strconv"
	"strings"
)

// Namespace names a blockchain ecosystem under CAIP-2.
type Namespace string

const (
	NamespaceEIP155  Namespace = "eip155"
	NamespaceSolana  Namespace = "solana"
	NamespaceNear    Namespace = "near"
	NamespaceStellar Namespace = "stellar"
	NamespaceFogo    Namespace = "fogo"
)

// Well-known Solana genesis hashes.
const (
	SolanaMainnetGenesis = "5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	SolanaDevnetGenesis  = "EtWTRABZaYq6iMfeYKouRu166VU2xqa1"
)

// ID is a validated CAIP-2 network identifier.
type ID struct {
	Namespace Namespace
	Reference string
}

func (id ID) String() string {
	return string(id.Namespace) + ":" + id.Reference
}

// ChainID returns the EVM chain id for eip155 identifiers.
func (id ID) ChainID() (uint64, bool) {
	if id.Namespace != NamespaceEIP155 {
		return 0, false
	}
	n, err := strconv.ParseUint(id.Reference, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Parse validates and decodes a CAIP-2 identifier string.
func Parse(s string) (ID, error) {
	nsStr, ref, ok := strings.Cut(s, ":")
	if !ok {
		return ID{}, fmt.Errorf("invalid CAIP-2 format (expected 'namespace:reference'): %q", s)
	}
	ns := Namespace(nsStr)
	switch ns {
	case NamespaceEIP155, NamespaceSolana, NamespaceNear, NamespaceStellar, NamespaceFogo:
	default:
		return ID{}, fmt.Errorf("unknown CAIP-2 namespace: %q", nsStr)
	}
	return New(ns, ref)
}

// New builds an ID, validating the reference against its namespace grammar.
func New(ns Namespace, ref string) (ID, error) {
	switch ns {
	case NamespaceEIP155:
		if _, err := strconv.ParseUint(ref, 10, 64); err != nil {
			return ID{}, fmt.Errorf("invalid eip155 chain id (must be positive integer): %q", ref)
		}
	case NamespaceSolana:
		if ref == "" || len(ref) > 50 || !isBase58(ref) {
			return ID{}, fmt.Errorf("invalid solana genesis hash (must be base58): %q", ref)
		}
	case NamespaceNear, NamespaceFogo:
		if ref != "mainnet" && ref != "testnet" {
			return ID{}, fmt.Errorf("invalid %s network name: %q", ns, ref)
		}
	case NamespaceStellar:
		if ref != "pubnet" && ref != "testnet" {
			return ID{}, fmt.Errorf("invalid stellar network name: %q", ref)
		}
	default:
		return ID{}, fmt.Errorf("unknown CAIP-2 namespace: %q", ns)
	}
	return ID{Namespace: ns, Reference: ref}, nil
}

// MustParse parses a known-good identifier, panicking on failure. For use in
// static tables only.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// EIP155 builds an eip155 identifier from a chain id.
func EIP155(chainID uint64) ID {
	return ID{Namespace: NamespaceEIP155, Reference: strconv.FormatUint(chainID, 10)}
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func isBase58(s string) bool {
	for _, c := range s {
		switch {
		case c >= '1' && c <= '9':
		case c >= 'a' && c <= 'z' && c != 'l':
		case c >= 'A' && c <= 'Z' && c != 'I' && c != 'O':
		default:
			return false
		}
	}
	return true
}
