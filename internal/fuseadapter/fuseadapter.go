//go:build linux

// Package fuseadapter exposes a mounted disko.FileSystemImplementer (wrapped
// in a driver.BaseDriver) as a read-only bazil.org/fuse file system, the way
// ostafen-digler's internal/fuse package exposes its recovered file table.
// Writes aren't wired up here: the `mount` CLI subcommand is for inspecting
// an image with ordinary tools (cat, ls, find), not for serving a live
// writable volume to the kernel.
package fuseadapter

import (
	"context"
	"os"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	disko "github.com/dargueta/gofat"
	"github.com/dargueta/gofat/driver"
)

// FS adapts base to bazil.org/fuse's fs.FS.
type FS struct {
	base *driver.BaseDriver
}

// New wraps base for serving over FUSE.
func New(base *driver.BaseDriver) *FS {
	return &FS{base: base}
}

func (f *FS) Root() (fusefs.Node, error) {
	return &dirNode{fs: f, path: "/"}, nil
}

func attrFromStat(stat disko.FileStat, a *fuse.Attr) {
	a.Size = uint64(stat.Size)
	a.Mode = stat.ModeFlags
	a.Mtime = stat.LastModified
	a.Ctime = stat.LastChanged
	a.Atime = stat.LastAccessed
	a.Crtime = stat.CreatedAt
}

func childPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

// dirNode implements fs.Node, fs.NodeStringLookuper, and fs.HandleReadDirAller
// for one directory of the mounted volume.
type dirNode struct {
	fs   *FS
	path string
}

func (d *dirNode) Attr(ctx context.Context, a *fuse.Attr) error {
	stat, err := d.fs.base.Stat(d.path)
	if err != nil {
		return fuse.ENOENT
	}
	attrFromStat(stat, a)
	a.Mode |= os.ModeDir
	return nil
}

func (d *dirNode) Lookup(ctx context.Context, name string) (fusefs.Node, error) {
	path := childPath(d.path, name)
	stat, err := d.fs.base.Stat(path)
	if err != nil {
		return nil, fuse.ENOENT
	}
	if stat.ModeFlags.IsDir() {
		return &dirNode{fs: d.fs, path: path}, nil
	}
	return &fileNode{fs: d.fs, path: path}, nil
}

func (d *dirNode) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	entries, err := d.fs.base.ReadDir(d.path)
	if err != nil {
		return nil, fuse.EIO
	}

	result := make([]fuse.Dirent, 0, len(entries))
	for i, entry := range entries {
		kind := fuse.DT_File
		if entry.IsDir() {
			kind = fuse.DT_Dir
		}
		result = append(result, fuse.Dirent{
			Inode: uint64(i + 1),
			Name:  entry.Name(),
			Type:  kind,
		})
	}
	return result, nil
}

// fileNode implements fs.Node and fs.HandleReadAller for one file. Whole-file
// reads are good enough for an inspection tool; nothing here streams.
type fileNode struct {
	fs   *FS
	path string
}

func (f *fileNode) Attr(ctx context.Context, a *fuse.Attr) error {
	stat, err := f.fs.base.Stat(f.path)
	if err != nil {
		return fuse.ENOENT
	}
	attrFromStat(stat, a)
	return nil
}

func (f *fileNode) ReadAll(ctx context.Context) ([]byte, error) {
	data, err := f.fs.base.ReadFile(f.path)
	if err != nil {
		return nil, fuse.EIO
	}
	return data, nil
}
