package blockdev

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/nerrad567/hwreg/internal/device"
	"github.com/nerrad567/hwreg/internal/sysfs"
)

// Capability and category names set by the classifier.
const (
	CapBlock           = "block"
	CapVolume          = "volume"
	CapFixedMedia      = "fixedMedia"
	CapFixedMediaFlash = "fixedMedia.flash"

	productVolume = "Volume"
	productDisk   = "Disk"
)

// Default side-channel templates; %s is the bus-local drive name.
const (
	DefaultIDEModelPath = "/proc/ide/%s/model"
	DefaultIDEMediaPath = "/proc/ide/%s/media"
)

// Draft is a classified node that has no identifier yet.
type Draft struct {
	// TempID tags log lines until the record is committed.
	TempID string

	Kind      Kind
	SysfsPath string
	IsVolume  bool
	Major     int
	Minor     int

	Category     string
	Capabilities []string
	ParentID     string
	Properties   device.Properties
}

func (d *Draft) addCapability(c string) {
	for _, have := range d.Capabilities {
		if have == c {
			return
		}
	}
	d.Capabilities = append(d.Capabilities, c)
}

func (d *Draft) set(key string, value any) {
	d.Properties[key] = value
	if key == device.PropCategory {
		d.Category, _ = value.(string)
	}
}

// Record builds the registry record for id. Each call returns fresh copies.
func (d *Draft) Record(id string) *device.Device {
	rec := &device.Device{ID: id}
	for k, v := range d.Properties {
		rec.SetProperty(k, v)
	}
	for _, c := range d.Capabilities {
		rec.AddCapability(c)
	}
	return rec
}

// Classifier turns a node's attributes into a Draft. It has no side
// effects apart from reading side-channel files for IDE disks.
type Classifier struct {
	Lines     LineReader
	ModelPath string
	MediaPath string
}

// NewClassifier creates a classifier reading side-channel files through
// lines. Empty templates fall back to the /proc/ide defaults.
func NewClassifier(lines LineReader, modelPath, mediaPath string) *Classifier {
	if modelPath == "" {
		modelPath = DefaultIDEModelPath
	}
	if mediaPath == "" {
		mediaPath = DefaultIDEMediaPath
	}
	return &Classifier{Lines: lines, ModelPath: modelPath, MediaPath: mediaPath}
}

// Classify builds the draft for node given its resolved parent. It returns
// OutcomeSkipped (and a nil draft) when dev is missing or malformed,
// otherwise OutcomeClassified.
func (c *Classifier) Classify(node Node, parentID, parentBus string) (*Draft, Outcome) {
	major, minor, err := ParseDev(node.Attrs)
	if err != nil {
		return nil, OutcomeSkipped
	}

	d := &Draft{
		TempID:       uuid.NewString(),
		SysfsPath:    node.Path,
		Major:        major,
		Minor:        minor,
		ParentID:     parentID,
		Capabilities: []string{CapBlock},
		Properties:   make(device.Properties),
	}
	d.set(device.PropBus, device.BusBlock)
	d.set(device.PropSysfsPath, node.Path)
	d.set(device.PropSysfsPathDevice, node.Path)
	d.set(device.PropBlockMajor, major)
	d.set(device.PropBlockMinor, minor)

	hasRange := false
	for _, a := range node.Attrs {
		switch a.Name {
		case "size":
			d.set(device.PropBlockSize, parseDec(a.Value))
		case "start":
			d.set(device.PropBlockStart, parseDec(a.Value))
		case "range":
			hasRange = true
		}
	}

	d.IsVolume = !hasRange
	d.Kind = kindOf(d.IsVolume, parentBus)
	d.set(device.PropBlockIsVolume, d.IsVolume)
	d.set(device.PropParent, parentID)

	switch d.Kind {
	case KindVolume:
		d.set(device.PropIsVirtual, true)
		d.addCapability(CapVolume)
		d.set(device.PropCategory, CapVolume)
		d.set(device.PropProduct, productVolume)
	case KindIDEDisk:
		d.set(device.PropCategory, CapBlock)
		c.classifyIDE(d)
	case KindOtherDisk:
		// No way to learn the media type off IDE; assume fixed flash and
		// leave block.media unset so "unknown" stays distinguishable.
		d.addCapability(CapFixedMedia)
		d.addCapability(CapFixedMediaFlash)
		d.set(device.PropCategory, CapFixedMediaFlash)
		d.set(device.PropProduct, productDisk)
	}

	return d, OutcomeClassified
}

func (c *Classifier) classifyIDE(d *Draft) {
	name := sysfs.LastElement(d.SysfsPath)

	if model, ok := c.Lines.ReadSingleLine(c.ModelPath, name); ok {
		d.set(device.PropBlockModel, model)
		d.set(device.PropProduct, model)
	}

	removable := false
	if media, ok := c.Lines.ReadSingleLine(c.MediaPath, name); ok {
		d.set(device.PropBlockMedia, media)
		for _, m := range ideMedia {
			if media != m.media {
				continue
			}
			d.addCapability(m.family)
			d.addCapability(m.specific)
			d.set(device.PropCategory, m.specific)
			removable = m.removable
			break
		}
	}
	d.set(device.PropBlockRemovable, removable)
}

// ParseDev reads "<major>:<minor>" from the dev attribute. Leading
// whitespace and trailing text after the minor number are ignored.
func ParseDev(attrs sysfs.AttributeSet) (major, minor int, err error) {
	raw, ok := attrs.Lookup("dev")
	if !ok {
		return 0, 0, ErrNoDev
	}

	major, rest, ok := scanInt(strings.TrimLeft(raw, " \t\n"))
	if !ok || !strings.HasPrefix(rest, ":") {
		return 0, 0, ErrMalformedDev
	}
	minor, _, ok = scanInt(strings.TrimLeft(rest[1:], " \t\n"))
	if !ok {
		return 0, 0, ErrMalformedDev
	}
	return major, minor, nil
}

// parseDec reads a leading decimal integer; malformed text yields 0.
func parseDec(s string) int {
	n, _, _ := scanInt(strings.TrimSpace(s))
	return n
}

// scanInt consumes an optionally signed run of decimal digits from the
// start of s. ok is false when no digit was found or the value does not fit
// in an int.
func scanInt(s string) (n int, rest string, ok bool) {
	i := 0
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		i++
	}
	start := i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == start {
		return 0, s, false
	}
	v, err := strconv.ParseInt(s[:i], 10, strconv.IntSize)
	if err != nil {
		return 0, s, false
	}
	return int(v), s[i:], true
}
