package blockdev

import "errors"

var (
	// ErrNoDev is returned by ParseDev when the node has no dev attribute.
	ErrNoDev = errors.New("blockdev: no dev attribute")

	// ErrMalformedDev is returned by ParseDev when dev is not "<major>:<minor>".
	ErrMalformedDev = errors.New("blockdev: malformed dev attribute")

	// ErrParentNotFound is returned by a ParentResolver when the parent was
	// not registered before the deadline.
	ErrParentNotFound = errors.New("blockdev: parent not found")
)
