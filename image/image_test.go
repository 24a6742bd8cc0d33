package image

import (
	"testing"

	"github.com/rstms/nextfs"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func newImage(t *testing.T, afs afero.Fs, filename string) *Image {
	i, err := CreateImage(afs, filename, "NEXTOS", "NEXTOS", 4*MB)
	require.Nil(t, err)
	return i
}

func recordNames(records []FileRecord) []string {
	names := []string{}
	for _, record := range records {
		names = append(names, record.Name)
	}
	return names
}

func TestImageCreateOpen(t *testing.T) {
	afs := afero.NewMemMapFs()
	i := newImage(t, afs, "disk.img")
	require.Nil(t, i.Mkdir("/boot"))
	require.Nil(t, i.AddFile("/boot/kernel.bin", []byte("kernel")))
	require.Nil(t, i.Close())

	info, err := afs.Stat("disk.img")
	require.Nil(t, err)
	require.Equal(t, int64(4*MB), info.Size())

	j, err := OpenImage(afs, "disk.img")
	require.Nil(t, err)
	defer j.Close()
	data, err := j.ReadFile("boot/kernel.bin")
	require.Nil(t, err)
	require.Equal(t, "kernel", string(data))
	label, err := j.VFS().Volume().VolumeLabel()
	require.Nil(t, err)
	require.Equal(t, "NEXTOS", label)
}

func TestImageSizeRounded(t *testing.T) {
	afs := afero.NewMemMapFs()
	i, err := CreateImage(afs, "odd.img", "", "", 2*MB+100)
	require.Nil(t, err)
	require.Nil(t, i.Close())
	info, err := afs.Stat("odd.img")
	require.Nil(t, err)
	require.Equal(t, int64(2*MB+1024), info.Size())
}

func TestImageOpenFailures(t *testing.T) {
	afs := afero.NewMemMapFs()
	_, err := OpenImage(afs, "missing.img")
	require.NotNil(t, err)

	require.Nil(t, afero.WriteFile(afs, "blank.img", make([]byte, 64*nextfs.SectorSize), 0600))
	_, err = OpenImage(afs, "blank.img")
	require.ErrorIs(t, err, nextfs.ErrInvalidVolume)

	require.Nil(t, afero.WriteFile(afs, "short.img", []byte("short"), 0600))
	_, err = OpenImage(afs, "short.img")
	require.NotNil(t, err)
}

func TestImageScanFiles(t *testing.T) {
	afs := afero.NewMemMapFs()
	i := newImage(t, afs, "scan.img")
	defer i.Close()
	require.Nil(t, i.Mkdir("/boot"))
	require.Nil(t, i.AddFile("/boot/kernel.bin", []byte("kernel")))
	require.Nil(t, i.AddFile("/nextos.cfg", []byte("shell=1\n")))
	require.Nil(t, i.VFS().Create("/Documents/notes.txt", nextfs.TypeFile))

	records, err := i.ScanFiles()
	require.Nil(t, err)
	require.Equal(t, []string{
		"/Desktop",
		"/Documents",
		"/Documents/notes.txt",
		"/Images",
		"/boot",
		"/boot/kernel.bin",
		"/nextos.cfg",
	}, recordNames(records))
	require.True(t, records[0].Ramfs)
	require.True(t, records[0].Dir)
	require.False(t, records[4].Ramfs)
	require.True(t, records[4].Dir)
	require.Equal(t, uint32(6), records[5].Size)
	// synthetic config entry shadows the one on disk
	require.Equal(t, uint32(0), records[6].Size)

	records, err = i.scanVolume()
	require.Nil(t, err)
	require.Equal(t, []string{"/boot", "/boot/kernel.bin", "/nextos.cfg"}, recordNames(records))
	require.Equal(t, uint32(8), records[2].Size)
}

func TestImageIsDir(t *testing.T) {
	afs := afero.NewMemMapFs()
	i := newImage(t, afs, "isdir.img")
	defer i.Close()
	require.Nil(t, i.Mkdir("/EFI"))
	require.Nil(t, i.Mkdir("/EFI/BOOT"))
	require.Nil(t, i.AddFile("/syslinux.cfg", []byte("default\n")))

	ret, err := i.IsDir("/")
	require.Nil(t, err)
	require.True(t, ret)

	ret, err = i.IsDir("/foo")
	require.Nil(t, err)
	require.False(t, ret)

	ret, err = i.IsDir("foo/bar/baz")
	require.Nil(t, err)
	require.False(t, ret)

	ret, err = i.IsDir("syslinux.cfg")
	require.Nil(t, err)
	require.False(t, ret)

	ret, err = i.IsDir("EFI")
	require.Nil(t, err)
	require.True(t, ret)

	ret, err = i.IsDir("efi/boot")
	require.Nil(t, err)
	require.True(t, ret)

	ret, err = i.IsDir("syslinux.cfg/foo")
	require.Nil(t, err)
	require.False(t, ret)

	ret, err = i.IsDir("Desktop")
	require.Nil(t, err)
	require.True(t, ret)
}

func TestImageMkdir(t *testing.T) {
	afs := afero.NewMemMapFs()
	i := newImage(t, afs, "mkdir.img")
	require.Nil(t, i.Mkdir("/foo"))
	require.ErrorIs(t, i.Mkdir("/foo"), nextfs.ErrExists)
	require.ErrorIs(t, i.Mkdir("/missing/bar"), nextfs.ErrNotFound)
	require.Nil(t, i.Close())

	j, err := OpenImage(afs, "mkdir.img")
	require.Nil(t, err)
	defer j.Close()
	require.Nil(t, j.Mkdir("/foo/bar"))
	ret, err := j.IsDir("foo/bar")
	require.Nil(t, err)
	require.True(t, ret)
}

func TestImageImport(t *testing.T) {
	host := afero.NewMemMapFs()
	require.Nil(t, host.MkdirAll("files/sub", 0700))
	require.Nil(t, afero.WriteFile(host, "files/foo", []byte("foo"), 0600))
	require.Nil(t, afero.WriteFile(host, "files/sub/bar", []byte("bar bar"), 0600))

	afs := afero.NewMemMapFs()
	i := newImage(t, afs, "import.img")
	defer i.Close()
	require.Nil(t, i.Import(host, "files"))

	data, err := i.ReadFile("/foo")
	require.Nil(t, err)
	require.Equal(t, "foo", string(data))
	data, err = i.ReadFile("/sub/bar")
	require.Nil(t, err)
	require.Equal(t, "bar bar", string(data))

	require.NotNil(t, i.Import(host, "nonexistent"))
}

func TestImageRewrite(t *testing.T) {
	afs := afero.NewMemMapFs()
	i, err := CreateImage(afs, "src.img", "REWRITE", "NEXTFS", 2*MB)
	require.Nil(t, err)
	require.Nil(t, i.Mkdir("/boot"))
	require.Nil(t, i.AddFile("/boot/kernel.bin", make([]byte, 3000)))
	require.Nil(t, i.AddFile("/nextos.cfg", []byte("shell=1\n")))
	require.Nil(t, i.SetAttr("/boot/kernel.bin", nextfs.AttrHidden|nextfs.AttrSystem, true))
	require.Nil(t, i.SetAttr("/nextos.cfg", nextfs.AttrReadOnly, true))
	require.Nil(t, i.Close())

	require.Nil(t, RewriteImage(afs, "dst.img", "src.img", 4*MB))

	j, err := OpenImage(afs, "dst.img")
	require.Nil(t, err)
	defer j.Close()
	info, err := afs.Stat("dst.img")
	require.Nil(t, err)
	require.Equal(t, int64(4*MB), info.Size())
	label, err := j.VFS().Volume().VolumeLabel()
	require.Nil(t, err)
	require.Equal(t, "REWRITE", label)
	oem, err := j.VFS().Volume().OEMName()
	require.Nil(t, err)
	require.Equal(t, "NEXTFS", oem)
	records, err := j.scanVolume()
	require.Nil(t, err)
	require.Equal(t, []string{"/boot", "/boot/kernel.bin", "/nextos.cfg"}, recordNames(records))
	require.Equal(t, uint32(3000), records[1].Size)
	require.True(t, records[1].Hidden)
	require.True(t, records[1].System)
	require.False(t, records[1].ReadOnly)
	require.True(t, records[2].ReadOnly)
	require.False(t, records[2].Hidden)
	require.False(t, records[0].Hidden)
}
