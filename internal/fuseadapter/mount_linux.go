//go:build linux

package fuseadapter

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"github.com/dargueta/gofat/driver"
)

// Mount serves base over FUSE at mountpoint until a termination signal
// arrives, then unmounts and returns.
func Mount(mountpoint string, base *driver.BaseDriver) error {
	conn, err := fuse.Mount(mountpoint)
	if err != nil {
		return err
	}
	defer conn.Close()

	root := New(base)
	go func() {
		if err := fusefs.New(conn, nil).Serve(root); err != nil {
			log.Printf("fuse serve error: %v", err)
		}
	}()

	return waitForUnmount(mountpoint)
}

func waitForUnmount(mountpoint string) error {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)

	log.Printf("serving %s, press Ctrl-C to unmount", mountpoint)
	<-sigc

	return fuse.Unmount(mountpoint)
}
