//go:build unix

package minikv

import (
	"fmt"

	"golang.org/x/sys/unix"
)

type mmapRegion struct {
	data []byte
}

// mapFile maps size bytes of the file read-only. The mapping may extend
// past the end of the file, those pages are only touched once written.
func mapFile(file DataFile, size int64) (*mmapRegion, error) {
	data, err := unix.Mmap(int(file.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", file.Name(), err)
	}
	return &mmapRegion{data: data}, nil
}

func (r *mmapRegion) unmap() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	return err
}

// lockFile takes an advisory lock so a second process cannot open the
// same store for writing.
func lockFile(file DataFile, exclusive bool) error {
	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	if err := unix.Flock(int(file.Fd()), how|unix.LOCK_NB); err != nil {
		return fmt.Errorf("lock %s: database is in use by another process: %w", file.Name(), err)
	}
	return nil
}

func unlockFile(file DataFile) error {
	return unix.Flock(int(file.Fd()), unix.LOCK_UN)
}
