package fat

// This file adapts the short (8.3) name charset to a real OEM code page
// instead of treating it as plain ASCII. Short names predate Unicode and
// their non-ASCII bytes (0x80-0xFF) are interpreted according to whatever
// code page the volume was formatted under; CP437 (the original IBM PC OEM
// page) is the closest thing FAT has to a universal default and is what
// most FAT implementations fall back to when no code page is recorded.

import (
	"golang.org/x/text/encoding/charmap"
)

// oemDecoder and oemEncoder translate between the code page used for short
// names and Go's native UTF-8 strings.
var (
	oemDecoder = charmap.CodePage437.NewDecoder()
	oemEncoder = charmap.CodePage437.NewEncoder()
)

// decodeOEMBytes converts OEM-encoded short-name bytes to a UTF-8 string.
// Bytes that aren't valid in the code page are left as the Unicode
// replacement character rather than failing the whole decode, since a
// garbled byte in a short name shouldn't make the rest of the name
// unreadable.
func decodeOEMBytes(raw []byte) string {
	decoded, err := oemDecoder.Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(decoded)
}

// encodeOEMString converts a UTF-8 string to OEM bytes for storage in a
// short name field. Characters with no representation in the code page are
// replaced with '_', matching the fallback most FAT implementations use
// when generating a short name from a long one.
func encodeOEMString(s string) []byte {
	encoded, err := oemEncoder.Bytes([]byte(s))
	if err != nil {
		// Fall back to a byte-by-byte pass so a single bad rune doesn't
		// lose the rest of the name.
		result := make([]byte, 0, len(s))
		for _, r := range s {
			b, encErr := oemEncoder.Bytes([]byte(string(r)))
			if encErr != nil || len(b) == 0 {
				result = append(result, '_')
				continue
			}
			result = append(result, b...)
		}
		return result
	}
	return encoded
}
