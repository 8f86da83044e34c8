//go:build !unix

package minikv

import (
	"errors"
)

var errMmapUnsupported = errors.New("memory mapped stores are not supported on this platform")

type mmapRegion struct {
	data []byte
}

func mapFile(file DataFile, size int64) (*mmapRegion, error) {
	return nil, errMmapUnsupported
}

func (r *mmapRegion) unmap() error {
	return nil
}

func lockFile(file DataFile, exclusive bool) error {
	return errMmapUnsupported
}

func unlockFile(file DataFile) error {
	return nil
}
