package id

import "github.com/google/uuid"

// New returns a random identifier for input images and variants.
func New() string {
	return uuid.NewString()
}
