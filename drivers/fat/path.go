package fat

// This file resolves a slash-separated path into the Dirent it names,
// walking one directory level at a time with FindDirentByName. Symlink
// following and the VFS-level niceties (., .., cwd-relative paths) are
// handled above this package by driver.BaseDriver; this resolver only knows
// about FAT directories and dirents.

import (
	"strings"

	disko "github.com/dargueta/gofat"
)

// splitPathComponents breaks a posix-style path into its non-empty
// components, e.g. "/foo/bar/" -> ["foo", "bar"].
func splitPathComponents(path string) []string {
	parts := strings.Split(path, "/")
	components := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			components = append(components, part)
		}
	}
	return components
}

// ResolvePath walks path (an absolute, slash-separated path, already
// normalized by the caller) starting from rootDirent and returns the Dirent
// it names. An empty path, or "/", resolves to rootDirent itself.
func (drv *FATDriver) ResolvePath(rootDirent *Dirent, path string) (*Dirent, error) {
	components := splitPathComponents(path)
	current := rootDirent

	for i, name := range components {
		if !current.IsDir() {
			return nil, disko.ErrNotADirectory
		}

		next, err := drv.FindDirentByName(current, name)
		if err != nil {
			return nil, err
		}

		if i == len(components)-1 {
			return next, nil
		}
		current = next
	}

	return current, nil
}

// ResolveParent splits path into its parent directory and final component,
// resolving only the parent. This is the building block for create/rename/
// unlink, which need the parent directory handle plus the new entry's bare
// name rather than a fully resolved Dirent.
func (drv *FATDriver) ResolveParent(rootDirent *Dirent, path string) (parent *Dirent, name string, err error) {
	components := splitPathComponents(path)
	if len(components) == 0 {
		return nil, "", disko.ErrInvalidArgument.WithMessage("cannot resolve parent of the root directory")
	}

	name = components[len(components)-1]
	parentPath := strings.Join(components[:len(components)-1], "/")

	parent, err = drv.ResolvePath(rootDirent, parentPath)
	if err != nil {
		return nil, "", err
	}
	if !parent.IsDir() {
		return nil, "", disko.ErrNotADirectory
	}
	return parent, name, nil
}
