// Package crypto holds the HMAC-SHA256 signing used on every provider message.
//
// Outbound requests are signed with KEY1 and inbound callbacks are checked
// with KEY2. Callers pass the key explicitly; nothing here caches one.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Separator joins the fields of a signing string.
const Separator = "|"

// Sign returns the lowercase hex HMAC-SHA256 of data under key.
func Sign(key, data string) string {
	h := hmac.New(sha256.New, []byte(key))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether mac is exactly the signature of data under key.
// data must be the raw string the counterparty signed. The comparison is
// byte for byte, so an upper-case mac does not match.
func Verify(key, data, mac string) bool {
	expected := Sign(key, data)
	return hmac.Equal([]byte(expected), []byte(mac))
}

// Join builds a pipe-delimited signing string in the given field order.
func Join(fields ...string) string {
	return strings.Join(fields, Separator)
}
