package blockdev

// Kind is the closed set of block node shapes the classifier handles.
type Kind int

const (
	// KindVolume is a partition or other node without a "range" attribute.
	KindVolume Kind = iota
	// KindIDEDisk is a whole disk whose parent is on the ide bus.
	KindIDEDisk
	// KindOtherDisk is any other whole disk.
	KindOtherDisk
)

func (k Kind) String() string {
	switch k {
	case KindVolume:
		return "volume"
	case KindIDEDisk:
		return "ide_disk"
	case KindOtherDisk:
		return "other_disk"
	default:
		return "unknown"
	}
}

// busIDE is the parent bus that enables /proc/ide probing.
const busIDE = "ide"

func kindOf(isVolume bool, parentBus string) Kind {
	switch {
	case isVolume:
		return KindVolume
	case parentBus == busIDE:
		return KindIDEDisk
	default:
		return KindOtherDisk
	}
}

// ideMedia maps /proc/ide/<name>/media text to capabilities. Order matters:
// the first matching entry wins.
var ideMedia = []struct {
	media     string
	family    string
	specific  string
	removable bool
}{
	{"disk", "fixedMedia", "fixedMedia.harddisk", false},
	{"cdrom", "removableMedia", "removableMedia.cdrom", true},
	{"floppy", "removableMedia", "removableMedia.floppy", true},
	{"tape", "removableMedia", "removableMedia.tape", true},
}
