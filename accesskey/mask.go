package accesskey

import "strings"

const maskFiller = "*"

// MaskKey hides all but the first and last four characters of key. Keys of
// eight characters or fewer are masked entirely.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat(maskFiller, len(key))
	}
	return key[:4] + strings.Repeat(maskFiller, len(key)-8) + key[len(key)-4:]
}
