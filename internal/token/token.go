/**
 * @description
 * This package generates the opaque download tokens used by entitlements.
 * Tokens are 32 bytes from the operating system's CSPRNG, hex-encoded to a
 * fixed 64-character string, which makes guessing or enumerating them
 * computationally infeasible. There is no structure to parse; tokens are
 * pure lookup keys.
 */

package token

import (
	"crypto/rand"
	"encoding/hex"
)

// Length is the encoded length of every generated token.
const Length = 64

// New returns a fresh 64-character hex token. It panics if the OS entropy
// source fails, since no safe token can be produced in that state.
func New() string {
	buf := make([]byte, Length/2)
	if _, err := rand.Read(buf); err != nil {
		panic("token: entropy source unavailable: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

// WellFormed reports whether a presented value has the shape of a generated
// token. Malformed values are rejected before any store lookup, but callers
// must surface them identically to unknown tokens.
func WellFormed(s string) bool {
	if len(s) != Length {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
