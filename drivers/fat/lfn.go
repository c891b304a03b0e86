package fat

// This file implements the VFAT Long File Name extension: encoding a UTF-16
// name into a run of 0x0F-attribute directory entries that precede the short
// (8.3) entry they belong to, and decoding such a run back into a string.
// Each LFN entry holds 13 UTF-16 code units split 5/6/2 across three fields,
// and is tagged with a checksum of the short name so a reader can detect a
// short entry whose matching long entries were never written (e.g. by a
// driver with no LFN support).

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"

	disko "github.com/dargueta/gofat"
)

// AttrLongName is the attribute byte value (ReadOnly|Hidden|System|VolumeLabel)
// that marks a directory entry as an LFN fragment rather than an ordinary
// SFN entry.
const AttrLongName = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeLabel

// lfnLastEntryFlag marks the fragment holding the tail of the name; fragments
// are stored on disk in descending order and this flag is set on the first
// one written (which is logically the *last* chunk of the name).
const lfnLastEntryFlag = 0x40

// MaxLongNameLength is the longest name the VFAT extension can encode: 255
// UTF-16 code units, excluding the terminator.
const MaxLongNameLength = 255

// rawLFNEntry is the on-disk layout of one VFAT long name fragment.
type rawLFNEntry struct {
	Order          uint8
	Name1          [5]uint16
	Attribute      uint8
	Type           uint8
	Checksum       uint8
	Name2          [6]uint16
	FirstClusterLo uint16
	Name3          [2]uint16
}

// lfnChecksum computes the VFAT checksum of an 11-byte short name (8 bytes of
// name plus 3 of extension, both space-padded), per Microsoft's algorithm.
func lfnChecksum(shortName11 [11]byte) uint8 {
	var sum uint8
	for _, b := range shortName11 {
		// Rotate sum right by one bit, then add the next byte. This exact
		// sequence is mandated by the FAT spec; any other order produces a
		// checksum real FAT implementations won't recognize.
		sum = ((sum & 1) << 7) | (sum >> 1)
		sum += b
	}
	return sum
}

// encodeLFNEntries splits longName into the raw 13-UTF16-unit fragments
// needed to represent it, most-significant fragment last (i.e. in the order
// they should be written to disk, immediately preceding the short entry).
func encodeLFNEntries(longName string, shortName11 [11]byte) ([]rawLFNEntry, error) {
	units := utf16.Encode([]rune(longName))
	if len(units) > MaxLongNameLength {
		return nil, disko.ErrNameTooLong.WithMessage(
			fmt.Sprintf("long name is %d UTF-16 units, max is %d", len(units), MaxLongNameLength))
	}

	// Directory entries always hold a full 13-unit chunk; the final chunk is
	// padded with a NUL terminator followed by 0xFFFF filler.
	numEntries := (len(units) + 12) / 13
	if numEntries == 0 {
		numEntries = 1
	}
	padded := make([]uint16, numEntries*13)
	for i := range padded {
		padded[i] = 0xFFFF
	}
	copy(padded, units)
	if len(units) < len(padded) {
		padded[len(units)] = 0
	}

	checksum := lfnChecksum(shortName11)
	entries := make([]rawLFNEntry, numEntries)

	for i := 0; i < numEntries; i++ {
		chunk := padded[i*13 : (i+1)*13]
		entry := rawLFNEntry{
			Order:     uint8(i + 1),
			Attribute: AttrLongName,
			Checksum:  checksum,
		}
		copy(entry.Name1[:], chunk[0:5])
		copy(entry.Name2[:], chunk[5:11])
		copy(entry.Name3[:], chunk[11:13])
		entries[i] = entry
	}
	entries[numEntries-1].Order |= lfnLastEntryFlag

	// Entries are stored on disk highest-order first (the fragment with the
	// lfnLastEntryFlag comes first, order count descending to 1).
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// decodeLFNFragments reassembles the long name from a run of raw LFN entries,
// which must already be in on-disk order (highest order number first) and
// belong to the same name (same checksum, contiguous descending order
// numbers ending at 1).
func decodeLFNFragments(fragments []rawLFNEntry, expectedChecksum uint8) (string, error) {
	if len(fragments) == 0 {
		return "", nil
	}

	units := make([]uint16, 0, len(fragments)*13)
	// Fragments are on disk highest-order-first; reverse to reconstruct the
	// name in reading order.
	for i := len(fragments) - 1; i >= 0; i-- {
		f := fragments[i]
		if f.Checksum != expectedChecksum {
			return "", disko.ErrFileSystemCorrupted.WithMessage(
				"long name fragment checksum does not match its short entry")
		}
		units = append(units, f.Name1[:]...)
		units = append(units, f.Name2[:]...)
		units = append(units, f.Name3[:]...)
	}

	// Trim at the first NUL terminator, then at any 0xFFFF padding.
	for i, u := range units {
		if u == 0 {
			units = units[:i]
			break
		}
	}

	return string(utf16.Decode(units)), nil
}

// newRawLFNEntryFromBytes parses one 32-byte directory entry slot as an LFN
// fragment.
func newRawLFNEntryFromBytes(data []byte) rawLFNEntry {
	entry := rawLFNEntry{
		Order:          data[0],
		Attribute:      data[11],
		Type:           data[12],
		Checksum:       data[13],
		FirstClusterLo: binary.LittleEndian.Uint16(data[26:28]),
	}
	for i := 0; i < 5; i++ {
		entry.Name1[i] = binary.LittleEndian.Uint16(data[1+i*2 : 3+i*2])
	}
	for i := 0; i < 6; i++ {
		entry.Name2[i] = binary.LittleEndian.Uint16(data[14+i*2 : 16+i*2])
	}
	for i := 0; i < 2; i++ {
		entry.Name3[i] = binary.LittleEndian.Uint16(data[28+i*2 : 30+i*2])
	}
	return entry
}

// bytes serializes the fragment back into a 32-byte directory entry slot.
func (e rawLFNEntry) bytes() [32]byte {
	var data [32]byte
	data[0] = e.Order
	data[11] = e.Attribute
	data[12] = e.Type
	data[13] = e.Checksum
	binary.LittleEndian.PutUint16(data[26:28], e.FirstClusterLo)
	for i := 0; i < 5; i++ {
		binary.LittleEndian.PutUint16(data[1+i*2:3+i*2], e.Name1[i])
	}
	for i := 0; i < 6; i++ {
		binary.LittleEndian.PutUint16(data[14+i*2:16+i*2], e.Name2[i])
	}
	for i := 0; i < 2; i++ {
		binary.LittleEndian.PutUint16(data[28+i*2:30+i*2], e.Name3[i])
	}
	return data
}

// isLFNEntry reports whether a raw 32-byte slot's attribute byte marks it as
// a long-name fragment rather than an ordinary SFN entry.
func isLFNEntry(attributeFlags uint8) bool {
	return attributeFlags&AttrLongName == AttrLongName
}

// shortNameBasisChars is the set of characters that may appear unescaped in
// the basis (non-numeric-tail) portion of a generated 8.3 name.
const shortNameBasisChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!#$%&'()-@^_`{}~"

// stripToShortNameCharset uppercases s, transliterates it into the volume's
// OEM code page, and drops any byte that isn't legal in a short name (plus
// embedded spaces and periods; the period separating base from extension is
// handled by the caller). Bytes above 0x7F survive as long as the code page
// round-trips them -- those are ordinary, if code-page-dependent, short name
// characters, not something to discard.
func stripToShortNameCharset(s string) string {
	upper := strings.ToUpper(s)
	oemBytes := encodeOEMString(upper)
	result := make([]byte, 0, len(oemBytes))
	for _, b := range oemBytes {
		if b >= 0x80 || strings.ContainsRune(shortNameBasisChars, rune(b)) {
			result = append(result, b)
		}
	}
	return string(result)
}

// splitBaseExtension splits a long name into its base and extension the way
// Windows does for short-name generation: the extension is whatever follows
// the *last* period, and a name with no period (or that begins with one, like
// ".bashrc") has no extension.
func splitBaseExtension(longName string) (base string, ext string) {
	idx := strings.LastIndex(longName, ".")
	if idx <= 0 {
		return longName, ""
	}
	return longName[:idx], longName[idx+1:]
}

// generateShortName derives an 8.3 alias for longName, adding a "~N" numeric
// tail if the plain basis collides with an existing short name. existingNames
// is called with a candidate 11-byte, space-padded short name and should
// report whether it's already taken.
func generateShortName(longName string, existingNames func([11]byte) bool) ([11]byte, bool, error) {
	base, ext := splitBaseExtension(longName)

	strippedBase := stripToShortNameCharset(base)
	strippedExt := stripToShortNameCharset(ext)

	needsLFN := strippedBase != strings.ToUpper(base) || strippedExt != strings.ToUpper(ext) ||
		len(strippedBase) > 8 || len(strippedExt) > 3 || strippedBase == ""

	if len(strippedExt) > 3 {
		strippedExt = strippedExt[:3]
	}
	if strippedBase == "" {
		strippedBase = "_"
	}

	buildCandidate := func(basisLen int, tail string) [11]byte {
		var result [11]byte
		for i := range result {
			result[i] = ' '
		}
		basis := strippedBase
		if len(basis) > basisLen {
			basis = basis[:basisLen]
		}
		copy(result[:], basis+tail)
		copy(result[8:], strippedExt)
		return result
	}

	if len(strippedBase) <= 8 {
		candidate := buildCandidate(8, "")
		if !existingNames(candidate) {
			return candidate, needsLFN, nil
		}
		needsLFN = true
	}

	// Collisions (or a too-long basis) require a numeric tail. The first five
	// attempts use a literal "~1".."~5" counter, matching what Windows
	// generates for the first few colliding names in a directory. Beyond
	// that, a literal counter makes every subsequent name share the same
	// 7-character prefix, which defeats the point, so attempts 6 and up
	// instead fold the long name and the attempt number into a 16-bit hash
	// and use that as a "~XXXX" hex tail. Up to 100 tailed candidates are
	// tried (after the plain probe above, when the basis fits in 8
	// characters); if all 100 collide, generation gives up.
	const maxCollisionAttempts = 100
	for attempt := 1; attempt <= maxCollisionAttempts; attempt++ {
		var tail string
		if attempt <= 5 {
			tail = "~" + strconv.Itoa(attempt)
		} else {
			tail = fmt.Sprintf("~%04X", shortNameCollisionHash(longName, attempt))
		}

		basisLen := 8 - len(tail)
		candidate := buildCandidate(basisLen, tail)
		if !existingNames(candidate) {
			return candidate, true, nil
		}
	}

	return [11]byte{}, false, disko.ErrPermissionDenied.WithMessage(
		fmt.Sprintf("could not generate a unique short name for %q after %d collisions", longName, maxCollisionAttempts))
}

// shortNameCollisionHash folds longName and the current collision attempt
// number into a 16-bit CRC-CCITT-style hash, used as the "~XXXX" numeric
// tail once the plain "~N" counter is exhausted. Mixing in attempt means
// successive collisions on the same long name produce different hashes
// instead of looping on the same candidate forever.
func shortNameCollisionHash(longName string, attempt int) uint16 {
	var hash uint16 = 0xFFFF
	data := append([]byte(longName), byte(attempt), byte(attempt>>8))
	for _, b := range data {
		hash ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if hash&0x8000 != 0 {
				hash = (hash << 1) ^ 0x1021
			} else {
				hash <<= 1
			}
		}
	}
	return hash
}
