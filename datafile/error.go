package datafile

import "github.com/pkg/errors"

var (
	// ErrReadOnly is returned by Write when called on a file opened read-only.
	ErrReadOnly = errors.New("datafile: read only")
)
