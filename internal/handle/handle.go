// Package handle issues the opaque public identifiers of stored objects.
package handle

import "github.com/google/uuid"

// New returns a fresh random handle. The value comes from crypto/rand; if the
// randomness source fails the process cannot safely continue, so New panics.
func New() string {
	id, err := uuid.NewRandom()
	if err != nil {
		panic("handle: random source failed: " + err.Error())
	}
	return id.String()
}

// Valid reports whether h has the shape of an issued handle.
func Valid(h string) bool {
	if len(h) != 36 {
		return false
	}
	_, err := uuid.Parse(h)
	return err == nil
}
