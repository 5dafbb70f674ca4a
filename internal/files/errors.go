package files

import "github.com/juju/errors"

var (
	// ErrStorageWrite is returned when the bytes of an upload could not be persisted.
	ErrStorageWrite = errors.New("storage write failed")
	// ErrIntegrity is returned when the index and the blob store disagree in a
	// way the service cannot repair, such as a reissued handle.
	ErrIntegrity = errors.New("integrity violation")
)
