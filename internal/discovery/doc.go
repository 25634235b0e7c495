// Package discovery walks the sysfs block tree and feeds every node to a
// blockdev.Visitor.
//
// A scan has three steps:
//
//  1. Records whose sysfs path no longer exists are removed.
//  2. Each disk under <root>/block that links to a physical device gets a
//     generic record for that device (bus taken from its subsystem link),
//     so the disk has a parent to resolve.
//  3. Each disk is visited followed by its partitions, on one goroutine of
//     an [errgroup] limited to the configured number of workers. A partition
//     therefore never waits on a disk that has not been visited yet, and a
//     zero probe timeout is enough during scans.
//
// Run repeats the scan on a fixed interval until its context ends. Add
// handles one hotplugged node with the full parent timeout.
package discovery
