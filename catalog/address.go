package catalog

import (
	ma "github.com/multiformats/go-multiaddr"
)

// Address is the opaque, value-comparable network identity attached to a
// peer record (spec.md §3 "node_address"). It wraps the canonical String()
// form of a github.com/multiformats/go-multiaddr address so that two
// addresses for the same node compare equal and hash identically, without
// the rest of the core needing to understand multiaddr internals.
type Address struct {
	value string
}

// NewAddress wraps a raw address string as a comparable Address. When s
// parses as a valid multiaddr, its canonical (normalized) String() form is
// used as the comparison key, so equivalent multiaddr encodings of the same
// peer address compare equal; otherwise s is kept verbatim, which covers
// addresses gossiped by peers running formats this node can't parse.
func NewAddress(s string) Address {
	if a, err := ma.NewMultiaddr(s); err == nil {
		return Address{value: a.String()}
	}
	return Address{value: s}
}

func (a Address) String() string {
	return a.value
}

// IsZero reports whether a is the unset Address value.
func (a Address) IsZero() bool {
	return a.value == ""
}
