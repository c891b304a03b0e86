package fat

// This file implements the directory-mutation side of a volume: creating
// and looking up objects (the two methods disko.FileSystemImplementer still
// needs beyond mount.go), and the persistDirent/unlinkDirent helpers that
// fatObjectHandle calls to write a modified entry back to its parent
// directory or remove it entirely.

import (
	"os"
	"strings"
	"time"

	disko "github.com/dargueta/gofat"
)

// namedObjectHandle is satisfied by driver.BaseDriver's internal object
// handle wrapper. CreateObject/GetObject receive a disko.ObjectHandle, not
// one of our own *fatObjectHandle values, so the only reliable way to find
// out which directory it refers to is to ask for its absolute path and
// re-resolve it ourselves.
type namedObjectHandle interface {
	AbsolutePath() string
}

// resolveParentDirent recovers the Dirent a disko.ObjectHandle refers to.
func (v *Volume) resolveParentDirent(parent disko.ObjectHandle) (*Dirent, error) {
	if named, ok := parent.(namedObjectHandle); ok {
		return v.core.ResolvePath(&v.rootDirent, named.AbsolutePath())
	}
	if handle, ok := parent.(*fatObjectHandle); ok {
		return &handle.dirent, nil
	}
	return nil, disko.ErrInvalidArgument.WithMessage(
		"parent object handle is not one this driver recognizes")
}

// rawDirectoryBytes reads the entirety of a directory's storage, whether
// that's a cluster chain or (for FAT12/16) the fixed root region.
func (v *Volume) rawDirectoryBytes(dir *Dirent) ([]byte, error) {
	if dir.FirstCluster == 0 {
		return v.core.readFixedRootBytes()
	}
	return v.core.readClusterChainBytes(dir.FirstCluster)
}

// growDirectory appends one zero-filled cluster to dir's chain. The FAT12/16
// fixed root can never grow this way; callers must report ErrNoSpaceOnDevice
// themselves when it's full.
func (v *Volume) growDirectory(dir *Dirent) error {
	oldData, err := v.rawDirectoryBytes(dir)
	if err != nil {
		return err
	}

	chain, err := v.chains.Walk(dir.FirstCluster)
	if err != nil {
		return err
	}
	if _, err := v.chains.Extend(chain[len(chain)-1], 1); err != nil {
		return err
	}

	bytesPerCluster := int(v.bootSector.BytesPerCluster)
	newData := make([]byte, len(oldData)+bytesPerCluster)
	copy(newData, oldData)
	return v.core.writeDirectoryBytes(dir, newData)
}

// findFreeSlotRun returns the full (possibly freshly grown) byte buffer of
// dir's storage along with the slot index of a run of numSlots consecutive
// free entries, growing the directory as needed to make room.
func (v *Volume) findFreeSlotRun(dir *Dirent, numSlots int) ([]byte, int, error) {
	for {
		data, err := v.rawDirectoryBytes(dir)
		if err != nil {
			return nil, 0, err
		}

		totalSlots := len(data) / DirentSize
		run := 0
		for i := 0; i < totalSlots; i++ {
			marker := data[i*DirentSize]
			if marker == 0x00 || marker == 0xE5 {
				run++
				if run == numSlots {
					return data, i - numSlots + 1, nil
				}
			} else {
				run = 0
			}
		}

		if dir.FirstCluster == 0 {
			return nil, 0, disko.ErrNoSpaceOnDevice.WithMessage(
				"the root directory is full and cannot grow on this FAT version")
		}
		if err := v.growDirectory(dir); err != nil {
			return nil, 0, err
		}
	}
}

// shortNameExists reports whether candidate (space-padded 8.3 bytes) is
// already used by some entry of dir, for generateShortName's collision
// probing.
func (v *Volume) shortNameExists(dir *Dirent, candidate [11]byte) bool {
	entries, err := v.core.ReadAllDirents(dir)
	if err != nil {
		// Treat a failed lookup as a collision rather than risk handing out
		// a name that silently overwrites something.
		return true
	}
	for _, e := range entries {
		if e.shortName11 == candidate {
			return true
		}
	}
	return false
}

// initializeDirectoryCluster writes the "." and ".." entries into a newly
// allocated directory's first (and only) cluster.
func (v *Volume) initializeDirectoryCluster(dir *Dirent, parent *Dirent) error {
	var dotName, dotdotName [11]byte
	for i := range dotName {
		dotName[i] = ' '
		dotdotName[i] = ' '
	}
	dotName[0] = '.'
	dotdotName[0], dotdotName[1] = '.', '.'

	now := dir.Created
	dot := Dirent{
		AttributeFlags: AttrDirectory,
		FirstCluster:   dir.FirstCluster,
		Created:        now,
		LastAccessed:   now,
		LastModified:   now,
		shortName11:    dotName,
	}
	dotdot := Dirent{
		AttributeFlags: AttrDirectory,
		FirstCluster:   parent.FirstCluster,
		Created:        now,
		LastAccessed:   now,
		LastModified:   now,
		shortName11:    dotdotName,
	}

	bytesPerCluster := int(v.bootSector.BytesPerCluster)
	data := make([]byte, bytesPerCluster)
	dotRaw := dot.toRawBytes()
	dotdotRaw := dotdot.toRawBytes()
	copy(data[0:DirentSize], dotRaw[:])
	copy(data[DirentSize:2*DirentSize], dotdotRaw[:])

	return v.core.writeDirectoryBytes(dir, data)
}

// childPathFor builds the path a newly created or looked-up child handle
// should report, from whatever path information parent carries.
func childPathFor(parent disko.ObjectHandle, name string) string {
	if named, ok := parent.(namedObjectHandle); ok {
		base := strings.TrimRight(named.AbsolutePath(), "/")
		return base + "/" + name
	}
	return name
}

// CreateObject implements disko.FileSystemImplementer. perm carries
// os.ModeDir when the caller wants a directory (driver.BaseDriver.Mkdir sets
// it before calling through).
func (v *Volume) CreateObject(name string, parent disko.ObjectHandle, perm os.FileMode) (disko.ObjectHandle, disko.DriverError) {
	if err := v.lock(); err != nil {
		return nil, err
	}
	defer v.unlock()

	parentDirent, err := v.resolveParentDirent(parent)
	if err != nil {
		return nil, wrapAsDriverError(err)
	}

	isDir := perm&os.ModeDir != 0
	attr := AttrArchived
	if isDir {
		attr = AttrDirectory
	}
	if perm&0o222 == 0 {
		attr |= AttrReadOnly
	}

	shortName, needsLFN, err := generateShortName(name, func(candidate [11]byte) bool {
		return v.shortNameExists(parentDirent, candidate)
	})
	if err != nil {
		return nil, wrapAsDriverError(err)
	}

	now := time.Now()
	newDirent := Dirent{
		AttributeFlags: attr,
		Created:        now,
		LastAccessed:   now,
		LastModified:   now,
		mode:           AttrFlagsToFileMode(uint8(attr)),
		shortName11:    shortName,
	}

	trimmedName := strings.TrimRight(string(shortName[:8]), " ")
	trimmedExt := strings.TrimRight(string(shortName[8:]), " ")
	if trimmedExt != "" {
		newDirent.name = trimmedName + "." + trimmedExt
	} else {
		newDirent.name = trimmedName
	}
	if needsLFN {
		newDirent.longName = name
	}

	if isDir {
		clusters, allocErr := v.chains.Allocate(1)
		if allocErr != nil {
			return nil, wrapAsDriverError(allocErr)
		}
		newDirent.FirstCluster = clusters[0]
		if err := v.initializeDirectoryCluster(&newDirent, parentDirent); err != nil {
			return nil, wrapAsDriverError(err)
		}
	}

	var lfnEntries []rawLFNEntry
	if needsLFN {
		lfnEntries, err = encodeLFNEntries(name, shortName)
		if err != nil {
			return nil, wrapAsDriverError(err)
		}
	}
	numSlots := len(lfnEntries) + 1

	data, slotIndex, err := v.findFreeSlotRun(parentDirent, numSlots)
	if err != nil {
		return nil, wrapAsDriverError(err)
	}

	for i, entry := range lfnEntries {
		raw := entry.bytes()
		copy(data[(slotIndex+i)*DirentSize:(slotIndex+i+1)*DirentSize], raw[:])
	}
	newDirent.slotIndex = slotIndex
	newDirent.numSlots = numSlots

	rawBytes := newDirent.toRawBytes()
	sfnOffset := (slotIndex + numSlots - 1) * DirentSize
	copy(data[sfnOffset:sfnOffset+DirentSize], rawBytes[:])

	if err := v.core.writeDirectoryBytes(parentDirent, data); err != nil {
		return nil, wrapAsDriverError(err)
	}

	return newFATObjectHandle(v, &newDirent, childPathFor(parent, name), parentDirent), nil
}

// GetObject implements disko.FileSystemImplementer.
func (v *Volume) GetObject(name string, parent disko.ObjectHandle) (disko.ObjectHandle, disko.DriverError) {
	if err := v.lock(); err != nil {
		return nil, err
	}
	defer v.unlock()

	parentDirent, err := v.resolveParentDirent(parent)
	if err != nil {
		return nil, wrapAsDriverError(err)
	}

	found, err := v.core.FindDirentByName(parentDirent, name)
	if err != nil {
		return nil, wrapAsDriverError(err)
	}

	return newFATObjectHandle(v, found, childPathFor(parent, name), parentDirent), nil
}

// persistDirent rewrites dirent's short entry in its parent directory,
// leaving any preceding long-name fragments untouched (the name itself never
// changes via Resize/Chmod/Chtimes).
func (v *Volume) persistDirent(dirent *Dirent, parent *Dirent) error {
	if parent == nil {
		return disko.ErrNotSupported.WithMessage(
			"the root directory has no entry of its own to update")
	}
	if err := v.lock(); err != nil {
		return err
	}
	defer v.unlock()

	data, err := v.rawDirectoryBytes(parent)
	if err != nil {
		return err
	}

	sfnOffset := (dirent.slotIndex + dirent.numSlots - 1) * DirentSize
	if dirent.numSlots == 0 {
		sfnOffset = dirent.slotIndex * DirentSize
	}
	if sfnOffset < 0 || sfnOffset+DirentSize > len(data) {
		return disko.ErrFileSystemCorrupted.WithMessage(
			"dirent's recorded slot falls outside its parent directory")
	}

	raw := dirent.toRawBytes()
	copy(data[sfnOffset:sfnOffset+DirentSize], raw[:])
	return v.core.writeDirectoryBytes(parent, data)
}

// unlinkDirent marks dirent's entry (and any long-name fragments preceding
// it) as deleted in its parent directory, then frees its cluster chain.
// It refuses with disko.ErrLocked if any handle -- reader or writer -- is
// currently attached to the object's data in the registry.
func (v *Volume) unlinkDirent(dirent *Dirent, parent *Dirent) error {
	if parent == nil {
		return disko.ErrNotSupported.WithMessage("cannot unlink the root directory")
	}
	if v.registry.IsOpen(dirent.FirstCluster) {
		return disko.ErrLocked.WithMessage("object has an open handle")
	}
	if err := v.lock(); err != nil {
		return err
	}
	defer v.unlock()

	data, err := v.rawDirectoryBytes(parent)
	if err != nil {
		return err
	}

	numSlots := dirent.numSlots
	if numSlots == 0 {
		numSlots = 1
	}
	start := dirent.slotIndex * DirentSize
	end := start + numSlots*DirentSize
	if start < 0 || end > len(data) {
		return disko.ErrFileSystemCorrupted.WithMessage(
			"dirent's recorded slot range falls outside its parent directory")
	}
	for i := start; i < end; i += DirentSize {
		data[i] = 0xE5
	}

	if err := v.core.writeDirectoryBytes(parent, data); err != nil {
		return err
	}

	if dirent.FirstCluster >= 2 {
		return v.chains.Free(dirent.FirstCluster)
	}
	return nil
}
