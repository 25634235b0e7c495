// Package sysfs reads the kernel's sysfs attribute files and the /proc
// side-channel files used to enrich block devices.
//
// Every attribute is a small text file; values are kept raw and trimmed
// only when interpreted. Paths are plain strings so tests can point the
// reader at a fixture tree under t.TempDir().
package sysfs
