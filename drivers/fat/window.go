package fat

// This file implements a small sector-granular cache ("window") over the FAT
// region of the volume. Cluster cells are rarely aligned on sector
// boundaries -- FAT12 entries routinely straddle two sectors -- so instead of
// doing a fresh disk read for every cell access, the window keeps the one or
// two sectors holding the most recently accessed cell in memory and only
// flushes them back to disk (and
// mirrors them to every FAT copy) when a different sector is needed or the
// caller explicitly asks for a flush.

import (
	common "github.com/dargueta/gofat/drivers/common"
)

// fatWindow caches a small run of sectors from the first copy of the FAT and
// mirrors writes out to every other copy on Flush.
type fatWindow struct {
	stream         *common.BlockStream
	bytesPerSector uint
	fatSectorStart common.BlockID
	sectorsPerFAT  uint
	numFATs        uint

	loaded     bool
	firstSector common.BlockID
	buf        []byte
	dirty      bool
}

// newFATWindow builds a window over the FAT region described by bootSector.
// fatSectorStart is the first sector of FAT copy #0, relative to the start of
// the volume (i.e. already offset past the reserved sectors).
func newFATWindow(stream *common.BlockStream, bootSector *FATBootSector) *fatWindow {
	return &fatWindow{
		stream:         stream,
		bytesPerSector: uint(bootSector.BytesPerSector),
		fatSectorStart: common.BlockID(bootSector.ReservedSectors),
		sectorsPerFAT:  bootSector.SectorsPerFAT,
		numFATs:        uint(bootSector.NumFATs),
		// Two sectors is always enough: the widest cell (FAT32, 4 bytes)
		// never straddles more than two sectors of any supported sector size.
		buf: make([]byte, 0),
	}
}

// ensureLoaded makes sure the window's buffer covers [sector, sector+spanSectors),
// reloading from disk (after flushing any pending write) if necessary.
func (w *fatWindow) ensureLoaded(sector common.BlockID, spanSectors uint) error {
	if w.loaded && sector >= w.firstSector &&
		uint(sector-w.firstSector)+spanSectors <= uint(len(w.buf))/w.bytesPerSector {
		return nil
	}

	if err := w.Flush(); err != nil {
		return err
	}

	data, err := w.stream.Read(sector, spanSectors)
	if err != nil {
		return err
	}

	w.firstSector = sector
	w.buf = data
	w.loaded = true
	w.dirty = false
	return nil
}

// slice returns the bytes of the window buffer starting at the given absolute
// sector and byte-within-sector offset, long enough to satisfy length.
func (w *fatWindow) slice(sector common.BlockID, offsetInSector uint, length uint) []byte {
	relSector := uint(sector - w.firstSector)
	start := relSector*w.bytesPerSector + offsetInSector
	return w.buf[start : start+length]
}

// markDirty flags the window's current contents as needing to be written back
// to every FAT copy on the next Flush.
func (w *fatWindow) markDirty() {
	w.dirty = true
}

// Flush writes the window's buffer back to FAT copy #0 and mirrors the same
// bytes to every other copy, if the window holds unsaved changes.
func (w *fatWindow) Flush() error {
	if !w.loaded || !w.dirty {
		return nil
	}

	for copyIndex := uint(0); copyIndex < w.numFATs; copyIndex++ {
		copyStart := w.fatSectorStart + common.BlockID(copyIndex*w.sectorsPerFAT)
		if err := w.stream.Write(copyStart+(w.firstSector-w.fatSectorStart), w.buf); err != nil {
			return err
		}
	}

	w.dirty = false
	return nil
}
