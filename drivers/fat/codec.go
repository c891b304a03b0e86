package fat

// This file implements the bit-level encoding and decoding of FAT cells. FAT12
// packs two 12-bit cells into three bytes; FAT16 and FAT32 are byte-aligned,
// but FAT32 reserves the top four bits of each 32-bit cell for future use and
// those bits must survive a read-modify-write cycle untouched.

import (
	"encoding/binary"
)

// Reserved cluster markers, one set per FAT width. Values taken from
// Microsoft's FAT specification v1.03, section 4 ("File Allocation Table").
const (
	fat12Free        = ClusterID(0x000)
	fat12BadCluster  = ClusterID(0xFF7)
	fat12EOCMin      = ClusterID(0xFF8)
	fat12MaxValidVal = ClusterID(0xFEF)

	fat16Free        = ClusterID(0x0000)
	fat16BadCluster  = ClusterID(0xFFF7)
	fat16EOCMin      = ClusterID(0xFFF8)
	fat16MaxValidVal = ClusterID(0xFFEF)

	fat32Free        = ClusterID(0x00000000)
	fat32BadCluster  = ClusterID(0x0FFFFFF7)
	fat32EOCMin      = ClusterID(0x0FFFFFF8)
	fat32MaxValidVal = ClusterID(0x0FFFFFEF)
	fat32CellMask    = ClusterID(0x0FFFFFFF)
)

// cellCodec knows how to pull a single FAT cell out of a byte buffer holding
// one or more whole sectors of the table, and how to write one back without
// disturbing neighboring cells. Every width (12/16/32 bits) gets one
// implementation.
type cellCodec interface {
	// bitWidth is the number of bits a single cell occupies on disk.
	bitWidth() uint

	// byteOffsetOf returns the byte offset of the first byte containing the
	// `index`th cell, relative to the start of the FAT.
	byteOffsetOf(index uint) uint

	// spanBytes is how many bytes must be read (and possibly written) to
	// access a single cell; FAT12 cells straddle a byte boundary so this can
	// be larger than bitWidth/8 would suggest.
	spanBytes() uint

	// decode extracts the `index`th cell's value from a buffer that starts at
	// byteOffsetOf(index) and is at least spanBytes() long.
	decode(index uint, buf []byte) ClusterID

	// encode writes the `index`th cell's value into buf (which must satisfy
	// the same preconditions as decode), preserving any bits the format
	// doesn't use for cell data.
	encode(index uint, value ClusterID, buf []byte)

	// isEndOfChain reports whether value marks the final cluster in a chain.
	isEndOfChain(value ClusterID) bool

	// isBadCluster reports whether value marks a cluster the format considers
	// defective and permanently unusable.
	isBadCluster(value ClusterID) bool

	// isFree reports whether value marks an unallocated cluster.
	isFree(value ClusterID) bool

	// maxValidValue is the highest cell value that refers to an ordinary,
	// allocatable cluster (as opposed to free/bad/EOC markers).
	maxValidValue() ClusterID

	// eocMarker is the value written to terminate a chain.
	eocMarker() ClusterID
}

type fat12Codec struct{}

func (fat12Codec) bitWidth() uint { return 12 }

func (fat12Codec) byteOffsetOf(index uint) uint {
	return (index * 3) / 2
}

func (fat12Codec) spanBytes() uint { return 2 }

func (fat12Codec) decode(index uint, buf []byte) ClusterID {
	packed := binary.LittleEndian.Uint16(buf[:2])
	if index%2 == 0 {
		return ClusterID(packed & 0x0FFF)
	}
	return ClusterID(packed >> 4)
}

func (fat12Codec) encode(index uint, value ClusterID, buf []byte) {
	packed := binary.LittleEndian.Uint16(buf[:2])
	if index%2 == 0 {
		packed = (packed & 0xF000) | (uint16(value) & 0x0FFF)
	} else {
		packed = (packed & 0x000F) | (uint16(value) << 4)
	}
	binary.LittleEndian.PutUint16(buf[:2], packed)
}

func (fat12Codec) isEndOfChain(value ClusterID) bool { return value >= fat12EOCMin }
func (fat12Codec) isBadCluster(value ClusterID) bool { return value == fat12BadCluster }
func (fat12Codec) isFree(value ClusterID) bool       { return value == fat12Free }
func (fat12Codec) maxValidValue() ClusterID          { return fat12MaxValidVal }
func (fat12Codec) eocMarker() ClusterID              { return ClusterID(0xFFF) }

type fat16Codec struct{}

func (fat16Codec) bitWidth() uint             { return 16 }
func (fat16Codec) byteOffsetOf(index uint) uint { return index * 2 }
func (fat16Codec) spanBytes() uint            { return 2 }

func (fat16Codec) decode(_ uint, buf []byte) ClusterID {
	return ClusterID(binary.LittleEndian.Uint16(buf[:2]))
}

func (fat16Codec) encode(_ uint, value ClusterID, buf []byte) {
	binary.LittleEndian.PutUint16(buf[:2], uint16(value))
}

func (fat16Codec) isEndOfChain(value ClusterID) bool { return value >= fat16EOCMin }
func (fat16Codec) isBadCluster(value ClusterID) bool { return value == fat16BadCluster }
func (fat16Codec) isFree(value ClusterID) bool       { return value == fat16Free }
func (fat16Codec) maxValidValue() ClusterID          { return fat16MaxValidVal }
func (fat16Codec) eocMarker() ClusterID              { return ClusterID(0xFFFF) }

type fat32Codec struct{}

func (fat32Codec) bitWidth() uint             { return 32 }
func (fat32Codec) byteOffsetOf(index uint) uint { return index * 4 }
func (fat32Codec) spanBytes() uint            { return 4 }

func (fat32Codec) decode(_ uint, buf []byte) ClusterID {
	return ClusterID(binary.LittleEndian.Uint32(buf[:4]) & uint32(fat32CellMask))
}

// encode preserves the top 4 reserved bits already on disk, as required by
// the Microsoft FAT spec ("the file system driver must leave these bits
// unchanged").
func (fat32Codec) encode(_ uint, value ClusterID, buf []byte) {
	existing := binary.LittleEndian.Uint32(buf[:4])
	reservedBits := existing & 0xF0000000
	binary.LittleEndian.PutUint32(buf[:4], reservedBits|(uint32(value)&uint32(fat32CellMask)))
}

func (fat32Codec) isEndOfChain(value ClusterID) bool { return value >= fat32EOCMin }
func (fat32Codec) isBadCluster(value ClusterID) bool { return value == fat32BadCluster }
func (fat32Codec) isFree(value ClusterID) bool       { return value == fat32Free }
func (fat32Codec) maxValidValue() ClusterID          { return fat32MaxValidVal }
func (fat32Codec) eocMarker() ClusterID              { return fat32CellMask }

// codecForVersion returns the cellCodec matching a FATVersion value of 12, 16,
// or 32, as reported by [FATBootSector.FATVersion].
func codecForVersion(version int) cellCodec {
	switch version {
	case 12:
		return fat12Codec{}
	case 16:
		return fat16Codec{}
	default:
		return fat32Codec{}
	}
}
