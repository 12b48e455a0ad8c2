package kdbx

import "encoding/base64"

// zeroize overwrites b in place. Called on every secret buffer (composite,
// transformed, and master keys; passphrase and key-file bytes) on both the
// success and error paths, per spec.md §5/§7.
func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// base64DecodeTrimmed decodes s after trimming the ASCII whitespace that
// commonly wraps base64 text embedded in XML element content.
func base64DecodeTrimmed(s string) ([]byte, error) {
	trimmed := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			trimmed = append(trimmed, s[i])
		}
	}
	return base64.StdEncoding.DecodeString(string(trimmed))
}
