// Package token signs and parses the compact credentials issued by the
// rotation engine. A token proves authenticity and carries identifiers;
// whether it is still the live credential is decided by the store, never
// by the token content itself.
package token
