// Package blockdev classifies sysfs block nodes and commits them to the
// device registry under collision-free identifiers.
//
// One call to Visitor.Visit handles one node:
//
//	gate on "dev" ──▶ resolve parent ──▶ classify ──▶ allocate id ──▶ committed
//	      │                 │
//	   skipped          discarded (parent not registered in time)
//
// Classification is pure: it turns the node's attributes, its parent's ID
// and its parent's bus into a Draft. Whole disks on an IDE parent are
// refined from /proc/ide side-channel files; any other whole disk is
// assumed to be fixed flash media.
//
// Identifiers are prefix + "<major>_<minor>", with "-1", "-2", ... appended
// while the registry reports the candidate as taken. When the record that
// holds a candidate is the same sysfs node (a rescan), the draft is merged
// into it instead.
package blockdev
