package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when inserting a record whose ID is taken.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrPropertyNotFound is returned when a record lacks the requested property.
	ErrPropertyNotFound = errors.New("device: property not found")

	// ErrInvalidDevice is returned when record validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrParentCycle is returned when a parent chain loops back on itself.
	ErrParentCycle = errors.New("device: parent cycle")
)
