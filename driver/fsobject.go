package driver

import "github.com/dargueta/gofat"

type extObjectHandle interface {
	disko.ObjectHandle
	AbsolutePath() string
}

type tExtObjectHandle struct {
	disko.ObjectHandle
	absolutePath string
}

// wrapObjectHandle pairs a bare object handle with the absolute path that
// was used to reach it, so callers further up the stack don't have to
// recompute it.
func wrapObjectHandle(handle disko.ObjectHandle, absolutePath string) extObjectHandle {
	return &tExtObjectHandle{
		ObjectHandle: handle,
		absolutePath: absolutePath,
	}
}

func (xh *tExtObjectHandle) AbsolutePath() string {
	return xh.absolutePath
}
