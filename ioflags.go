package disko

// IOFlags mirrors the bit flags passed to POSIX open(2), trimmed down to the
// subset every driver in this package needs to honor. They're deliberately
// *not* aliased to the platform-specific os.O_* constants, since those vary
// in value across GOOS and we need on-disk-format-independent, cross-platform
// behavior.
type IOFlags int

const (
	O_RDONLY IOFlags = 0
	O_WRONLY IOFlags = 1 << iota
	O_RDWR
	O_CREATE
	O_EXCL
	O_TRUNC
	O_APPEND
	O_SYNC
)

// Read returns true if the flags permit reading from the file.
func (flags IOFlags) Read() bool {
	return flags&O_WRONLY == 0
}

// Write returns true if the flags permit writing to the file.
func (flags IOFlags) Write() bool {
	return flags&(O_WRONLY|O_RDWR) != 0
}

// RequiresWritePerm returns true if any of the flags require the underlying
// file system to be mounted with write permission.
func (flags IOFlags) RequiresWritePerm() bool {
	return flags.Write() || flags.Create() || flags.Truncate() || flags.Append()
}

// Create returns true if the file should be created if it doesn't already
// exist.
func (flags IOFlags) Create() bool {
	return flags&O_CREATE != 0
}

// Exclusive returns true if opening an already-existing file should fail.
// Only meaningful in combination with Create().
func (flags IOFlags) Exclusive() bool {
	return flags&O_EXCL != 0
}

// Append returns true if writes should always occur at the current end of
// the file, regardless of the current seek position.
func (flags IOFlags) Append() bool {
	return flags&O_APPEND != 0
}

// Synchronous returns true if writes must be flushed to the backing device
// before the call that issued them returns.
func (flags IOFlags) Synchronous() bool {
	return flags&O_SYNC != 0
}

// Truncate returns true if an existing file's contents should be discarded
// when it's opened.
func (flags IOFlags) Truncate() bool {
	return flags&O_TRUNC != 0
}
