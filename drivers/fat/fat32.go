package fat

// RawFAT32BootSectorTail is the part of the FAT32 boot sector that follows
// the common BPB and the 32-bit sectors-per-FAT field, per Microsoft's FAT
// specification v1.03 section 3.3.
type RawFAT32BootSectorTail struct {
	ExtFlags         uint16
	FSVersionMinor   uint8
	FSVersionMajor   uint8
	RootCluster      uint32
	FSInfoSector     uint16
	BackupBootSector uint16
	reserved         [12]byte
	DriveNumber      uint8
	NTReserved       uint8
	ExBootSignature  uint8
	VolumeID         uint32
	VolumeLabel      [11]byte
	FileSystemType   [8]byte
}

// fsInfoLeadSignature, fsInfoStructSignature, and fsInfoTrailSignature are
// the three fixed markers of a FAT32 FSInfo sector, per Microsoft's FAT
// specification v1.03 section 5.
const (
	fsInfoLeadSignature   = 0x41615252
	fsInfoStructSignature = 0x61417272
	fsInfoTrailSignature  = 0xAA550000
)

// RawFSInfoSector is the on-disk layout of the FAT32 FSInfo sector: a cache
// of the free cluster count and a hint for where to start the next
// allocation search, refreshed by drivers as they allocate or free
// clusters so a later mount doesn't need a full FAT scan to know how much
// space is left.
type RawFSInfoSector struct {
	LeadSignature   uint32
	reserved1       [480]byte
	StructSignature uint32
	FreeCount       uint32
	NextFree        uint32
	reserved2       [12]byte
	TrailSignature  uint32
}

// newFSInfoSector builds an FSInfo sector reporting freeClusters free
// clusters, with the allocator hint pointing at nextFreeHint.
func newFSInfoSector(freeClusters, nextFreeHint uint32) RawFSInfoSector {
	return RawFSInfoSector{
		LeadSignature:   fsInfoLeadSignature,
		StructSignature: fsInfoStructSignature,
		FreeCount:       freeClusters,
		NextFree:        nextFreeHint,
		TrailSignature:  fsInfoTrailSignature,
	}
}
