package device

// Property keys shared by the classifier, the scanner and the query API.
const (
	PropBus             = "Bus"
	PropSysfsPath       = "Linux.sysfs_path"
	PropSysfsPathDevice = "Linux.sysfs_path_device"
	PropParent          = "Parent"
	PropPhysicalDevice  = "PhysicalDevice"
	PropIsVirtual       = "isVirtual"
	PropCategory        = "Category"
	PropProduct         = "Product"
	PropBlockMajor      = "block.major"
	PropBlockMinor      = "block.minor"
	PropBlockSize       = "block.size"
	PropBlockStart      = "block.start"
	PropBlockIsVolume   = "block.isVolume"
	PropBlockModel      = "block.model"
	PropBlockMedia      = "block.media"
	PropBlockRemovable  = "block.removableMedia"
)

// BusBlock is the bus tag of every record produced by the block classifier.
const BusBlock = "block"
