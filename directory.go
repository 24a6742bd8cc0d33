package nextfs

type DirectoryAttr uint8

const (
	AttrReadOnly  DirectoryAttr = 0x01
	AttrHidden    DirectoryAttr = 0x02
	AttrSystem    DirectoryAttr = 0x04
	AttrVolumeId  DirectoryAttr = 0x08
	AttrDirectory DirectoryAttr = 0x10
	AttrArchive   DirectoryAttr = 0x20
	AttrLongName                = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeId
)

// Has reports whether every bit of flag is set in a.
func (a DirectoryAttr) Has(flag DirectoryAttr) bool {
	return a&flag == flag
}

// IsLongName reports whether a marks a VFAT long-name continuation record.
// The long-name value is an exact match, not a bit test.
func (a DirectoryAttr) IsLongName() bool {
	return a&0x3f == AttrLongName
}
