package fat

// This file adds support for mounting a FAT volume that lives inside a
// partition of a larger disk image rather than occupying the whole image.
// The classic MBR partition table handles the common case (up to four
// primary partitions); beyond that it either walks the EBR chain that
// addresses logical partitions inside an extended partition, or, if the
// first primary slot is a GPT protective entry, reads the GPT header and
// partition array directly.

import (
	"encoding/binary"
	"fmt"
	"io"

	disko "github.com/dargueta/gofat"
)

const (
	mbrBootstrapLen      = 440
	mbrPartitionTableOff = mbrBootstrapLen + 4 + 2
	mbrPartitionEntryLen = 16
	mbrSignatureOff      = 510
	mbrSignature         = 0xAA55
	sectorBytesForTables = 512

	// gptProtectiveType is the MBR partition type byte (0xEE) a GPT-initialized
	// disk writes into its first primary slot to keep MBR-only tools from
	// treating the whole disk as unpartitioned space.
	gptProtectiveType = 0xEE

	// Extended partition type bytes that mark a primary slot as the head of
	// an EBR chain rather than an ordinary partition.
	mbrExtendedCHS = 0x05
	mbrExtendedLBA = 0x0F

	// maxEBRChainLength bounds EBR traversal against a corrupt or cyclic
	// chain; no real disk needs anywhere near this many logical partitions.
	maxEBRChainLength = 128

	gptHeaderLBA   = 1
	gptSignature   = "EFI PART"
)

// isExtendedPartitionType reports whether t marks a primary MBR slot as an
// extended partition (the head of an EBR chain) rather than an ordinary one.
func isExtendedPartitionType(t uint8) bool {
	return t == mbrExtendedCHS || t == mbrExtendedLBA
}

// PartitionEntry is one of the four primary partition table entries in an
// MBR, decoded into its useful fields.
type PartitionEntry struct {
	Bootable    bool
	Type        uint8
	StartLBA    uint32
	SectorCount uint32
}

// IsEmpty reports whether this table slot describes no partition at all.
func (p PartitionEntry) IsEmpty() bool {
	return p.Type == 0 && p.SectorCount == 0
}

// ReadPartitionTable reads the MBR at the start of image and returns its up
// to four primary partition entries, in table order. Empty slots are
// included (IsEmpty() reports which).
func ReadPartitionTable(image io.ReadSeeker) ([4]PartitionEntry, error) {
	var entries [4]PartitionEntry

	if _, err := image.Seek(0, io.SeekStart); err != nil {
		return entries, disko.ErrIOFailed.Wrap(err)
	}

	sector := make([]byte, 512)
	if _, err := io.ReadFull(image, sector); err != nil {
		return entries, disko.ErrIOFailed.Wrap(err)
	}

	signature := binary.LittleEndian.Uint16(sector[mbrSignatureOff : mbrSignatureOff+2])
	if signature != mbrSignature {
		return entries, disko.ErrInvalidFileSystem.WithMessage(
			fmt.Sprintf("no MBR boot signature found (got 0x%04x)", signature))
	}

	for i := 0; i < 4; i++ {
		raw := sector[mbrPartitionTableOff+i*mbrPartitionEntryLen : mbrPartitionTableOff+(i+1)*mbrPartitionEntryLen]
		entries[i] = PartitionEntry{
			Bootable:    raw[0] == 0x80,
			Type:        raw[4],
			StartLBA:    binary.LittleEndian.Uint32(raw[8:12]),
			SectorCount: binary.LittleEndian.Uint32(raw[12:16]),
		}
	}

	return entries, nil
}

// readEBRChain walks the Extended Boot Record chain rooted at an extended
// partition's start LBA, returning each logical partition it finds in chain
// order. Each EBR has the same two-entries-that-matter layout as a primary
// MBR: slot 0 describes the logical partition itself (start LBA relative to
// *this* EBR's own sector), slot 1 links to the next EBR (start LBA relative
// to the chain's root, not the current EBR).
func readEBRChain(image io.ReaderAt, extendedPartitionStartLBA uint32) ([]PartitionEntry, error) {
	var result []PartitionEntry
	nextEBR := extendedPartitionStartLBA

	for i := 0; i < maxEBRChainLength; i++ {
		if nextEBR == 0 {
			break
		}

		sector := make([]byte, sectorBytesForTables)
		if _, err := image.ReadAt(sector, int64(nextEBR)*sectorBytesForTables); err != nil && err != io.EOF {
			return result, disko.ErrIOFailed.Wrap(err)
		}

		signature := binary.LittleEndian.Uint16(sector[mbrSignatureOff : mbrSignatureOff+2])
		if signature != mbrSignature {
			return result, disko.ErrInvalidFileSystem.WithMessage(
				fmt.Sprintf("EBR at LBA %d is missing its boot signature", nextEBR))
		}

		logicalRaw := sector[mbrPartitionTableOff : mbrPartitionTableOff+mbrPartitionEntryLen]
		logical := PartitionEntry{
			Bootable:    logicalRaw[0] == 0x80,
			Type:        logicalRaw[4],
			StartLBA:    nextEBR + binary.LittleEndian.Uint32(logicalRaw[8:12]),
			SectorCount: binary.LittleEndian.Uint32(logicalRaw[12:16]),
		}
		if !logical.IsEmpty() {
			result = append(result, logical)
		}

		linkRaw := sector[mbrPartitionTableOff+mbrPartitionEntryLen : mbrPartitionTableOff+2*mbrPartitionEntryLen]
		linkRelStart := binary.LittleEndian.Uint32(linkRaw[8:12])
		if linkRelStart == 0 {
			break
		}
		nextEBR = extendedPartitionStartLBA + linkRelStart
	}

	return result, nil
}

// findExtendedEntry returns the first primary MBR entry that marks itself as
// an extended partition, i.e. the root of an EBR chain.
func findExtendedEntry(entries [4]PartitionEntry) (PartitionEntry, bool) {
	for _, e := range entries {
		if isExtendedPartitionType(e.Type) {
			return e, true
		}
	}
	return PartitionEntry{}, false
}

// gptPartitionEntrySize is the on-disk size of one GPT partition table
// entry in the common (and UEFI-spec-minimum) case; vendors occasionally
// use a larger stride, which is why readGPTEntries trusts the header's own
// SizeOfPartitionEntry field instead of assuming this constant.
const gptPartitionEntrySize = 128

// readGPTEntries reads the GUID Partition Table header at LBA 1 and decodes
// its partition array into PartitionEntry values. GPT has no notion of an
// MBR-style type byte, so Type is set to gptProtectiveType on every returned
// entry purely to mark its provenance; callers that need the true partition
// type GUID aren't served by this helper.
func readGPTEntries(image io.ReaderAt) ([]PartitionEntry, error) {
	header := make([]byte, sectorBytesForTables)
	if _, err := image.ReadAt(header, gptHeaderLBA*sectorBytesForTables); err != nil && err != io.EOF {
		return nil, disko.ErrIOFailed.Wrap(err)
	}
	if string(header[0:8]) != gptSignature {
		return nil, disko.ErrInvalidFileSystem.WithMessage("GPT header signature not found at LBA 1")
	}

	partitionEntryLBA := binary.LittleEndian.Uint64(header[72:80])
	numEntries := binary.LittleEndian.Uint32(header[80:84])
	entrySize := binary.LittleEndian.Uint32(header[84:88])
	if entrySize == 0 {
		entrySize = gptPartitionEntrySize
	}

	tableBytes := make([]byte, uint64(numEntries)*uint64(entrySize))
	if _, err := image.ReadAt(tableBytes, int64(partitionEntryLBA)*sectorBytesForTables); err != nil && err != io.EOF {
		return nil, disko.ErrIOFailed.Wrap(err)
	}

	entries := make([]PartitionEntry, 0, numEntries)
	for i := uint32(0); i < numEntries; i++ {
		raw := tableBytes[uint64(i)*uint64(entrySize) : uint64(i+1)*uint64(entrySize)]
		if isAllZero(raw[0:16]) {
			continue // unused partition array slot
		}

		startLBA := binary.LittleEndian.Uint64(raw[32:40])
		endLBA := binary.LittleEndian.Uint64(raw[40:48])
		entries = append(entries, PartitionEntry{
			Type:        gptProtectiveType,
			StartLBA:    uint32(startLBA),
			SectorCount: uint32(endLBA - startLBA + 1),
		})
	}
	return entries, nil
}

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// partitionSectionReadWriteSeeker restricts an underlying image to a single
// partition's byte range, translating every Seek/Read/Write so callers (in
// particular Mount) see offset 0 as the partition's own boot sector.
type partitionSectionReadWriteSeeker struct {
	underlying  sectionedImage
	startByte   int64
	lengthBytes int64
	pos         int64
}

func (s *partitionSectionReadWriteSeeker) Read(p []byte) (int, error) {
	if s.pos >= s.lengthBytes {
		return 0, io.EOF
	}
	if int64(len(p)) > s.lengthBytes-s.pos {
		p = p[:s.lengthBytes-s.pos]
	}
	n, err := s.underlying.ReadAt(p, s.startByte+s.pos)
	s.pos += int64(n)
	return n, err
}

func (s *partitionSectionReadWriteSeeker) Write(p []byte) (int, error) {
	if int64(len(p)) > s.lengthBytes-s.pos {
		p = p[:s.lengthBytes-s.pos]
	}
	n, err := s.underlying.WriteAt(p, s.startByte+s.pos)
	s.pos += int64(n)
	return n, err
}

// ReadAt implements io.ReaderAt directly (rather than relying on Read plus a
// tracked position), translating a partition-relative offset into the
// underlying image's absolute one. driverbase.go's sector/cluster I/O calls
// through this interface, so it must see partition-relative addressing.
func (s *partitionSectionReadWriteSeeker) ReadAt(p []byte, off int64) (int, error) {
	if off >= s.lengthBytes {
		return 0, io.EOF
	}
	if off+int64(len(p)) > s.lengthBytes {
		p = p[:s.lengthBytes-off]
	}
	return s.underlying.ReadAt(p, s.startByte+off)
}

// WriteAt mirrors ReadAt for writes.
func (s *partitionSectionReadWriteSeeker) WriteAt(p []byte, off int64) (int, error) {
	if off+int64(len(p)) > s.lengthBytes {
		p = p[:s.lengthBytes-off]
	}
	return s.underlying.WriteAt(p, s.startByte+off)
}

func (s *partitionSectionReadWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = s.pos + offset
	case io.SeekEnd:
		newPos = s.lengthBytes + offset
	default:
		return 0, disko.ErrInvalidArgument.WithMessage("unknown whence value")
	}
	if newPos < 0 {
		return 0, disko.ErrInvalidArgument.WithMessage("negative seek position")
	}
	s.pos = newPos
	return s.pos, nil
}

// sectionedImage is satisfied by the handful of combined reader/writer/
// seeker-at types callers are expected to pass (e.g. *os.File).
type sectionedImage interface {
	io.ReaderAt
	io.WriterAt
}

// MountPartition reads the MBR at the start of image, then mounts the
// partitionIndex'th (0-based) partition as a FAT volume. Indices 0-3 address
// the primary table directly. If the first primary slot is a GPT protective
// entry, partitionIndex addresses the GPT partition array instead. Otherwise,
// for partitionIndex > 3, it addresses the EBR chain rooted at the first
// primary slot marked as an extended partition.
func MountPartition(image sectionedImage, imageSizeBytes int64, partitionIndex int, mountFlags disko.MountFlags) (*Volume, error) {
	if partitionIndex < 0 {
		return nil, disko.ErrArgumentOutOfRange.WithMessage("partition index must not be negative")
	}

	reader := io.NewSectionReader(image, 0, imageSizeBytes)
	primary, err := ReadPartitionTable(reader)
	if err != nil {
		return nil, err
	}

	var entry PartitionEntry
	switch {
	case primary[0].Type == gptProtectiveType:
		gptEntries, gerr := readGPTEntries(image)
		if gerr != nil {
			return nil, gerr
		}
		if partitionIndex >= len(gptEntries) {
			return nil, disko.ErrNotFound.WithMessage(
				fmt.Sprintf("GPT partition array has no entry %d", partitionIndex))
		}
		entry = gptEntries[partitionIndex]

	case partitionIndex <= 3:
		entry = primary[partitionIndex]
		if entry.IsEmpty() {
			return nil, disko.ErrNotFound.WithMessage(
				fmt.Sprintf("MBR partition table slot %d is empty", partitionIndex))
		}

	default:
		extended, found := findExtendedEntry(primary)
		if !found {
			return nil, disko.ErrNotFound.WithMessage(
				"no extended partition present to resolve an index beyond the primary table")
		}
		logical, lerr := readEBRChain(image, extended.StartLBA)
		if lerr != nil {
			return nil, lerr
		}
		logicalIndex := partitionIndex - 4
		if logicalIndex >= len(logical) {
			return nil, disko.ErrNotFound.WithMessage(
				fmt.Sprintf("EBR chain has no logical partition %d", logicalIndex))
		}
		entry = logical[logicalIndex]
	}

	section := &partitionSectionReadWriteSeeker{
		underlying:  image,
		startByte:   int64(entry.StartLBA) * sectorBytesForTables,
		lengthBytes: int64(entry.SectorCount) * sectorBytesForTables,
	}

	return Mount(section, mountFlags)
}
