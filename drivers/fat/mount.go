package fat

// This file implements volume mounting: turning a raw block device (an
// io.ReadWriteSeeker holding a FAT12/16/32 image) into a Volume that
// satisfies disko.FileSystemImplementer, ready to be handed to
// driver.New(). It wires together the boot sector parser (common.go), the
// FAT access layer (table.go/window.go), the cluster allocator and chain
// manager (chain.go), and the open-file registry (registry.go).

import (
	"io"
	"strings"
	"sync"
	"time"

	disko "github.com/dargueta/gofat"
	common "github.com/dargueta/gofat/drivers/common"
)

// Volume is a mounted FAT12/16/32 file system. It implements
// disko.FileSystemImplementer and is meant to be wrapped in a
// driver.BaseDriver via driver.New.
type Volume struct {
	mu sync.Mutex

	image      io.ReadWriteSeeker
	blockStream common.BlockStream
	bootSector *FATBootSector
	core       FATDriver

	table    *fatTable
	chains   *chainManager
	registry *openFileRegistry

	rootDirent Dirent
	mountFlags disko.MountFlags
	label      string
}

// lockWithTimeout acquires the volume's mutex, returning disko.ErrTimedOut if
// it's still held after timeout. Every public method on Volume and the
// object handles it hands out should start with this, per the one-mutex-
// per-volume concurrency model.
func (v *Volume) lockWithTimeout(timeout time.Duration) disko.DriverError {
	done := make(chan struct{})
	go func() {
		v.mu.Lock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return disko.ErrTimedOut
	}
}

const defaultLockTimeout = 5 * time.Second

func (v *Volume) lock() disko.DriverError {
	return v.lockWithTimeout(defaultLockTimeout)
}

func (v *Volume) unlock() {
	v.mu.Unlock()
}

// FATDriverCommon implementation, delegated straight to the FAT access layer
// so Volume can be used as the `fs` field of the embedded FATDriver.

func (v *Volume) GetBootSector() *FATBootSector { return v.bootSector }

func (v *Volume) GetClusterAtIndex(index uint) (ClusterID, error) {
	return v.table.GetClusterAtIndex(index)
}

func (v *Volume) SetClusterAtIndex(index uint, cluster ClusterID) error {
	return v.table.SetClusterAtIndex(index, cluster)
}

func (v *Volume) GetNextClusterInChain(cluster ClusterID) (ClusterID, error) {
	return v.table.GetClusterAtIndex(uint(cluster))
}

func (v *Volume) IsValidCluster(cluster ClusterID) bool {
	return v.table.IsValidCluster(cluster)
}

func (v *Volume) IsEndOfChain(cluster ClusterID) bool {
	return v.table.IsEndOfChain(cluster)
}

// Mount parses image as a FAT12/16/32 volume and returns a Volume ready to be
// passed to driver.New. image must already be positioned so that byte 0 is
// the start of the volume's boot sector (callers mounting a partition out of
// a larger disk image are responsible for that offset, per partition.go).
func Mount(image io.ReadWriteSeeker, mountFlags disko.MountFlags) (*Volume, error) {
	if _, err := image.Seek(0, io.SeekStart); err != nil {
		return nil, disko.ErrIOFailed.Wrap(err)
	}

	bootSector, err := NewFATBootSectorFromStream(image)
	if err != nil {
		return nil, err
	}

	totalSectors := bootSector.FirstDataSector + SectorID(bootSector.TotalDataSectors)
	blockStream := common.NewBlockStream(
		image, uint(totalSectors), uint(bootSector.BytesPerSector), 0)

	volume := &Volume{
		image:       image,
		blockStream: blockStream,
		bootSector:  bootSector,
		mountFlags:  mountFlags,
		registry:    newOpenFileRegistry(),
	}
	volume.core = FATDriver{fs: volume, diskFile: image.(io.ReaderAt)}
	volume.table = newFATTable(&volume.blockStream, bootSector)

	allocator := buildClusterAllocator(volume)
	volume.chains = newChainManager(volume.table, allocator)

	if bootSector.FATVersion == 32 {
		volume.rootDirent = Dirent{
			name:           "/",
			AttributeFlags: AttrDirectory,
			FirstCluster:   bootSector.RootCluster,
			mode:           AttrFlagsToFileMode(AttrDirectory),
		}
	} else {
		volume.rootDirent = Dirent{
			name:           "/",
			AttributeFlags: AttrDirectory,
			FirstCluster:   0,
			mode:           AttrFlagsToFileMode(AttrDirectory),
		}
	}

	if label, ok := volume.readVolumeLabel(); ok {
		volume.label = label
	}

	return volume, nil
}

// buildClusterAllocator scans the FAT once at mount time to build an
// in-memory free-cluster bitmap, so AllocateBlock/FreeBlock don't need to
// touch the disk for every allocation decision.
func buildClusterAllocator(volume *Volume) *common.Allocator {
	allocator := common.NewAllocator(volume.bootSector.TotalClusters)

	for i := uint(0); i < volume.bootSector.TotalClusters; i++ {
		cluster := ClusterID(i + 2)
		value, err := volume.table.GetClusterAtIndex(uint(cluster))
		if err != nil {
			// A corrupt table entry is treated as allocated so we never
			// hand it out; CheckVolume (fsck.go) reports entries like this
			// without touching them.
			allocator.AllocationBitmap.Set(int(i), true)
			continue
		}
		if !volume.table.IsFreeCluster(value) {
			allocator.AllocationBitmap.Set(int(i), true)
		}
	}

	return &allocator
}

// readVolumeLabel scans the root directory for the entry carrying
// AttrVolumeLabel and returns its name, per the FAT spec's recommendation to
// treat that entry -- not the 11-byte field in the boot sector -- as the
// authoritative volume label.
func (v *Volume) readVolumeLabel() (string, bool) {
	entries, err := v.core.ReadAllDirents(&v.rootDirent)
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		if entry.AttributeFlags&AttrVolumeLabel != 0 {
			return entry.ShortName(), true
		}
	}
	return "", false
}

// GetLabel returns the volume's current label, or "" if it has none.
func (v *Volume) GetLabel() string {
	if err := v.lock(); err != nil {
		return v.label
	}
	defer v.unlock()
	return v.label
}

// SetLabel rewrites the root directory's AttrVolumeLabel entry, creating one
// if the volume doesn't have one yet, or removing it if label is "". The FAT
// spec gives the label entry only 11 bytes, same as a short name, so labels
// longer than that are rejected outright rather than silently truncated.
func (v *Volume) SetLabel(label string) disko.DriverError {
	upper := strings.ToUpper(label)
	if len(upper) > 11 {
		return disko.ErrInvalidArgument.WithMessage(
			"volume label is limited to 11 characters")
	}

	var labelBytes [11]byte
	for i := range labelBytes {
		labelBytes[i] = ' '
	}
	copy(labelBytes[:], encodeOEMString(upper))

	if err := v.lock(); err != nil {
		return err
	}
	defer v.unlock()

	data, err := v.rawDirectoryBytes(&v.rootDirent)
	if err != nil {
		return wrapAsDriverError(err)
	}

	totalSlots := len(data) / DirentSize
	labelSlot := -1
	freeSlot := -1
	for i := 0; i < totalSlots; i++ {
		marker := data[i*DirentSize]
		attr := data[i*DirentSize+11]
		if marker == 0x00 || marker == 0xE5 {
			if freeSlot == -1 {
				freeSlot = i
			}
			continue
		}
		if attr&AttrVolumeLabel != 0 && !isLFNEntry(attr) {
			labelSlot = i
			break
		}
	}

	if upper == "" {
		if labelSlot == -1 {
			v.label = ""
			return nil
		}
		data[labelSlot*DirentSize] = 0xE5
		if err := v.core.writeDirectoryBytes(&v.rootDirent, data); err != nil {
			return wrapAsDriverError(err)
		}
		v.label = ""
		return nil
	}

	slot := labelSlot
	if slot == -1 {
		if freeSlot == -1 {
			return disko.ErrNoSpaceOnDevice.WithMessage(
				"root directory has no free slot for a volume label entry")
		}
		slot = freeSlot
	}

	now := time.Now()
	entry := Dirent{
		AttributeFlags: AttrVolumeLabel,
		Created:        now,
		LastAccessed:   now,
		LastModified:   now,
		shortName11:    labelBytes,
	}
	raw := entry.toRawBytes()
	copy(data[slot*DirentSize:(slot+1)*DirentSize], raw[:])

	if err := v.core.writeDirectoryBytes(&v.rootDirent, data); err != nil {
		return wrapAsDriverError(err)
	}
	v.label = upper
	return nil
}

// disko.FileSystemImplementer ------------------------------------------------

func (v *Volume) GetRootDirectory() disko.ObjectHandle {
	return newFATObjectHandle(v, &v.rootDirent, "/", nil)
}

func (v *Volume) FSStat() disko.FSStat {
	freeClusters := uint64(0)
	for i := uint(0); i < v.bootSector.TotalClusters; i++ {
		if !v.chains.allocator.AllocationBitmap.Get(int(i)) {
			freeClusters++
		}
	}

	return disko.FSStat{
		BlockSize:       int64(v.bootSector.BytesPerCluster),
		TotalBlocks:     uint64(v.bootSector.TotalClusters),
		BlocksFree:      freeClusters,
		BlocksAvailable: freeClusters,
		FilesFree:       18446744073709551615, // unlimited, bounded only by free clusters
		MaxNameLength:   MaxLongNameLength,
		Label:           v.label,
	}
}

func (v *Volume) GetFSFeatures() disko.FSFeatures {
	return fatFSFeatures{version: v.bootSector.FATVersion}
}

func (v *Volume) SetBootCode(code []byte) disko.DriverError {
	return disko.ErrNotSupported
}

func (v *Volume) GetBootCode() ([]byte, disko.DriverError) {
	return nil, disko.ErrNotSupported
}

// fatFSFeatures reports the static capabilities of a FAT12/16/32 volume. FAT
// has no concept of symlinks, hard links, or Unix permission bits; everything
// here is fixed regardless of the specific version mounted.
type fatFSFeatures struct {
	version int
}

func (f fatFSFeatures) HasDirectories() bool    { return true }
func (f fatFSFeatures) HasSymbolicLinks() bool  { return false }
func (f fatFSFeatures) HasHardLinks() bool      { return false }
func (f fatFSFeatures) HasCreatedTime() bool    { return true }
func (f fatFSFeatures) HasAccessedTime() bool   { return true }
func (f fatFSFeatures) HasModifiedTime() bool   { return true }
func (f fatFSFeatures) HasChangedTime() bool    { return false }
func (f fatFSFeatures) HasDeletedTime() bool    { return false }
func (f fatFSFeatures) HasUnixPermissions() bool { return false }
func (f fatFSFeatures) HasUserID() bool          { return false }
func (f fatFSFeatures) HasGroupID() bool         { return false }
func (f fatFSFeatures) HasUserPermissions() bool  { return false }
func (f fatFSFeatures) HasGroupPermissions() bool { return false }

func (f fatFSFeatures) TimestampEpoch() time.Time {
	return time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)
}

func (f fatFSFeatures) DefaultNameEncoding() string { return "utf16" }
func (f fatFSFeatures) SupportsBootCode() bool      { return true }
func (f fatFSFeatures) MaxBootCodeSize() int        { return 0 }

func (f fatFSFeatures) DefaultBlockSize() int {
	switch f.version {
	case 12:
		return 512
	case 16:
		return 512
	default:
		return 4096
	}
}
