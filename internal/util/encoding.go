package util

import (
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeEmail returns the canonical lookup form of an email address:
// trimmed, NFC-normalised and lower-cased.
func NormalizeEmail(s string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(s)))
}

func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

func HexDecode(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

// IsHex reports whether s is a non-empty string of exactly n hex-encoded bytes.
func IsHex(s string, n int) bool {
	if len(s) != 2*n || n == 0 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
