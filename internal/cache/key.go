package cache

import (
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"
)

// maxKeyLength bounds the sanitized handle so the derived filename stays
// well under filesystem limits.
const maxKeyLength = 100

// SanitizeHandle normalizes a raw handle for use in a cache key: NFKC
// unicode normalization, control characters stripped, then reduced to a
// filename-safe alphabet (alphanumerics, '-', '_', '@') and capped at
// maxKeyLength runes. '.' is excluded deliberately to rule out path
// traversal through handles like "../../etc". Sanitization is
// idempotent: sanitizing an already-sanitized handle is a no-op.
func SanitizeHandle(handle string) (string, error) {
	normalized := norm.NFKC.String(handle)

	var b strings.Builder
	count := 0
	for _, r := range normalized {
		if unicode.IsControl(r) {
			continue
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' && r != '@' {
			continue
		}
		b.WriteRune(r)
		count++
		if count >= maxKeyLength {
			break
		}
	}

	safe := b.String()
	if safe == "" {
		return "", eris.Errorf("cache: handle %q is empty after sanitization", handle)
	}
	return safe, nil
}

// Key derives the deterministic storage key for a (source, handle) pair.
func Key(source, handle string) (string, error) {
	safe, err := SanitizeHandle(handle)
	if err != nil {
		return "", err
	}
	return source + "_" + safe, nil
}
