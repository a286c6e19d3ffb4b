// Package session tracks who is logged in and which streaming port each
// logged-in identity owns.
package session

import "strings"

// Identity is a registered user. Two identities are the same user when their
// names match case-insensitively; Secret is compared separately by whoever
// needs it.
type Identity struct {
	Name   string
	Secret string
}

// NewIdentity builds an Identity from raw protocol tokens.
func NewIdentity(name, secret string) Identity {
	return Identity{Name: strings.TrimSpace(name), Secret: secret}
}

// Key is the case-folded name used for equality and as a map key.
func (i Identity) Key() string {
	return strings.ToLower(i.Name)
}

// Is reports whether i and other name the same user.
func (i Identity) Is(other Identity) bool {
	return strings.EqualFold(i.Name, other.Name)
}

func (i Identity) String() string {
	return i.Name
}
