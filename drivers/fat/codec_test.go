package fat

import (
	"strings"
	"testing"

	disko "github.com/dargueta/gofat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFAT12CellRoundTripAcrossByteBoundary(t *testing.T) {
	codec := codecForVersion(12)
	buf := make([]byte, 16)

	// Cell 3 straddles byte 4/5 (12 bits * 3 / 8 = 4.5), the classic FAT12
	// cross-byte edge case.
	for _, index := range []uint{0, 1, 2, 3, 4, 5} {
		offset := codec.byteOffsetOf(index)
		span := codec.spanBytes()
		codec.encode(index, ClusterID(0xABC), buf[offset:offset+span])
		got := codec.decode(index, buf[offset:offset+span])
		assert.Equal(t, ClusterID(0xABC), got, "cell %d did not round-trip", index)
	}
}

func TestFAT12CellDoesNotDisturbNeighbor(t *testing.T) {
	codec := codecForVersion(12)
	buf := make([]byte, 6)

	off0 := codec.byteOffsetOf(0)
	off1 := codec.byteOffsetOf(1)
	span := codec.spanBytes()

	codec.encode(0, ClusterID(0x123), buf[off0:off0+span])
	codec.encode(1, ClusterID(0x456), buf[off1:off1+span])

	assert.Equal(t, ClusterID(0x123), codec.decode(0, buf[off0:off0+span]))
	assert.Equal(t, ClusterID(0x456), codec.decode(1, buf[off1:off1+span]))
}

func TestFAT32CellPreservesReservedTopBits(t *testing.T) {
	codec := codecForVersion(32)
	buf := make([]byte, 4)

	// Set the top 4 reserved bits, then write a cell value and confirm they
	// survive the encode.
	buf[3] = 0xF0
	codec.encode(0, ClusterID(0x01234567)&fat32CellMask, buf)

	decoded := codec.decode(0, buf)
	assert.Equal(t, ClusterID(0x01234567)&fat32CellMask, decoded)
	assert.Equal(t, byte(0xF0), buf[3]&0xF0, "reserved top bits were clobbered")
}

func TestDetermineFATVersionBoundaries(t *testing.T) {
	assert.Equal(t, 12, DetermineFATVersion(0))
	assert.Equal(t, 12, DetermineFATVersion(4084))
	assert.Equal(t, 16, DetermineFATVersion(4085))
	assert.Equal(t, 16, DetermineFATVersion(65524))
	assert.Equal(t, 32, DetermineFATVersion(65525))
}

func TestGenerateShortNameBasic(t *testing.T) {
	noCollisions := func([11]byte) bool { return false }

	short, needsLFN, err := generateShortName("readme.txt", noCollisions)
	require.NoError(t, err)
	assert.False(t, needsLFN)
	assert.Equal(t, "README", strings.TrimRight(string(short[:8]), " "))
	assert.Equal(t, "TXT", strings.TrimRight(string(short[8:]), " "))
}

func TestGenerateShortNameNeedsLFNForDisallowedChars(t *testing.T) {
	noCollisions := func([11]byte) bool { return false }

	_, needsLFN, err := generateShortName("Read Me.txt", noCollisions)
	require.NoError(t, err)
	assert.True(t, needsLFN, "names with characters outside the short-name charset must carry a long name entry")
}

func TestGenerateShortNameNumberedTailOnCollision(t *testing.T) {
	seen := map[[11]byte]bool{}
	collides := func(candidate [11]byte) bool { return seen[candidate] }

	first, _, err := generateShortName("My Document.txt", func([11]byte) bool { return false })
	require.NoError(t, err)
	seen[first] = true

	second, needsLFN, err := generateShortName("My Document.txt", collides)
	require.NoError(t, err)
	assert.True(t, needsLFN)
	assert.NotEqual(t, first, second, "colliding long names must get distinct short names")
	assert.Contains(t, string(second[:8]), "~", "numbered tail should contain a tilde")
}

// TestGenerateShortNameFallsBackToHashTailPastFive confirms that once the
// "~1".."~5" literal counter is exhausted, the generator switches to a
// "~XXXX" hex hash tail rather than continuing with "~6", "~7", ....
func TestGenerateShortNameFallsBackToHashTailPastFive(t *testing.T) {
	seen := map[[11]byte]bool{}
	collides := func(candidate [11]byte) bool { return seen[candidate] }

	var last [11]byte
	for i := 0; i < 5; i++ {
		candidate, _, err := generateShortName("Collision Prone.txt", collides)
		require.NoError(t, err)
		seen[candidate] = true
		last = candidate
	}
	_ = last

	sixth, _, err := generateShortName("Collision Prone.txt", collides)
	require.NoError(t, err)
	assert.NotContains(t, string(sixth[:8]), "~6", "the sixth collision must not use a literal numeric tail")
}

// TestGenerateShortNameGivesUpAfter99Collisions exercises the exact boundary
// from the spec: the 0th through 99th collision (100 successful attempts)
// must all succeed with distinct short names, and the 100th collision must
// fail rather than loop forever.
func TestGenerateShortNameGivesUpAfter99Collisions(t *testing.T) {
	seen := map[[11]byte]bool{}
	collides := func(candidate [11]byte) bool { return seen[candidate] }

	for i := 0; i < 100; i++ {
		candidate, _, err := generateShortName("Heavily Collided Name.txt", collides)
		require.NoErrorf(t, err, "attempt %d should still find a free short name", i)
		require.False(t, seen[candidate], "attempt %d produced a name already in use", i)
		seen[candidate] = true
	}

	_, _, err := generateShortName("Heavily Collided Name.txt", collides)
	require.Error(t, err, "the 100th collision must be refused")
	assert.ErrorIs(t, err, disko.ErrPermissionDenied)
}
