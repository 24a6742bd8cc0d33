package vfs

import (
	"errors"
	"io"
	"testing"

	"github.com/rstms/nextfs"
	"github.com/rstms/nextfs/fat"
	"github.com/stretchr/testify/require"
)

func diskImage(t *testing.T) *nextfs.MemDisk {
	disk := nextfs.NewMemDisk(8192)
	err := fat.FormatSuperFloppy(disk, &fat.SuperFloppyConfig{
		Sectors:           8192,
		SectorsPerCluster: 4,
		Label:             "NEXTOS",
	})
	require.Nil(t, err)
	f, err := fat.Mount(disk)
	require.Nil(t, err)
	defer f.Unmount()
	b := fat.NewBuilder(f)
	require.Nil(t, b.WriteFile("/kernel.bin", []byte("kernel image")))
	require.Nil(t, b.Mkdir("/boot"))
	require.Nil(t, b.Mkdir("/desktop"))
	require.Nil(t, b.WriteFile("/nextos.cfg", []byte("on-disk config")))
	require.Nil(t, b.WriteFile("/boot/grub.cfg", []byte("timeout=5")))
	return disk
}

func mounted(t *testing.T) *VFS {
	v := New()
	require.Nil(t, v.Init(diskImage(t)))
	t.Cleanup(v.Close)
	return v
}

func rootNames(t *testing.T, v *VFS) []nextfs.Node {
	nodes := []nextfs.Node{}
	root := v.Root()
	for i := 0; ; i++ {
		node, err := v.ReadDir(root, i)
		if err == io.EOF {
			return nodes
		}
		require.Nil(t, err)
		nodes = append(nodes, node)
	}
}

func nodeNames(nodes []nextfs.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name
	}
	return out
}

func TestRootMerge(t *testing.T) {
	v := mounted(t)
	nodes := rootNames(t, v)
	require.Equal(t, []string{"Desktop", "Documents", "Images", "kernel.bin", "boot", "nextos.cfg"}, nodeNames(nodes))

	cfg := nodes[len(nodes)-1]
	require.Equal(t, nextfs.TypeFile, cfg.Type)
	require.Equal(t, uint32(0), cfg.Size)
	n, err := v.Read(cfg, 0, make([]byte, 32))
	require.Nil(t, err)
	require.Equal(t, 0, n)
	_, err = v.Write(cfg, 0, []byte("x"))
	require.True(t, errors.Is(err, nextfs.ErrUnsupported))
	_, err = v.ReadDir(cfg, 0)
	require.True(t, errors.Is(err, nextfs.ErrNotDirectory))
}

func TestRootMergeIsPrefixStable(t *testing.T) {
	v := mounted(t)
	require.Nil(t, v.Create("/Desktop/todo.txt", nextfs.TypeFile))
	require.Nil(t, v.Create("/Images/cats", nextfs.TypeDirectory))
	nodes := rootNames(t, v)
	require.Equal(t, []string{"Desktop", "Documents", "Images"}, nodeNames(nodes[:3]))
	require.Len(t, nodes, 6)

	seen := map[string]int{}
	for _, node := range nodes {
		seen[node.Name]++
	}
	require.Equal(t, 1, seen["Desktop"])
	require.Equal(t, 0, seen["desktop"])
	require.Equal(t, 1, seen["nextos.cfg"])
}

func TestRootWithoutDisk(t *testing.T) {
	v := New()
	err := v.Init(nil)
	require.True(t, errors.Is(err, nextfs.ErrDeviceUnavailable))
	require.Equal(t, []string{"Desktop", "Documents", "Images", "nextos.cfg"}, nodeNames(rootNames(t, v)))

	_, err = v.Open("/kernel.bin")
	require.True(t, errors.Is(err, nextfs.ErrDeviceUnavailable))
	_, err = v.Open("/Desktop")
	require.Nil(t, err)
}

func TestInitFallsBack(t *testing.T) {
	v := New()
	err := v.Init(nextfs.NewMemDisk(64))
	require.True(t, errors.Is(err, nextfs.ErrInvalidVolume))
	require.True(t, errors.Is(err, nextfs.ErrUnsupported))
	require.Nil(t, v.Volume())
	require.Len(t, rootNames(t, v), 4)

	v = New(WithMounters())
	err = v.Init(diskImage(t))
	require.True(t, errors.Is(err, nextfs.ErrUnsupported))
}

func TestInitResetsRamfs(t *testing.T) {
	v := mounted(t)
	require.Nil(t, v.Create("/Documents/a", nextfs.TypeFile))
	require.Nil(t, v.Init(diskImage(t)))
	_, err := v.Open("/Documents/a")
	require.True(t, errors.Is(err, nextfs.ErrNotFound))
	require.NotNil(t, v.Volume())
}

func TestOpen(t *testing.T) {
	v := mounted(t)

	root, err := v.Open("/")
	require.Nil(t, err)
	require.True(t, root.IsDir())
	_, err = v.Read(root, 0, make([]byte, 1))
	require.True(t, errors.Is(err, nextfs.ErrIsDirectory))

	kernel, err := v.Open("/kernel.bin")
	require.Nil(t, err)
	require.Equal(t, uint32(12), kernel.Size)
	buf := make([]byte, 64)
	n, err := v.Read(kernel, 0, buf)
	require.Nil(t, err)
	require.Equal(t, "kernel image", string(buf[:n]))

	grub, err := v.Open("/BOOT/Grub.Cfg")
	require.Nil(t, err)
	require.Equal(t, "grub.cfg", grub.Name)

	boot, err := v.Open("/boot/")
	require.Nil(t, err)
	require.True(t, boot.IsDir())

	desktop, err := v.Open("/Desktop")
	require.Nil(t, err)
	require.Equal(t, "Desktop", desktop.Name)

	cfg, err := v.Open("/nextos.cfg")
	require.Nil(t, err)
	require.Equal(t, uint32(0), cfg.Size)

	_, err = v.Open("/boot/missing")
	require.True(t, errors.Is(err, nextfs.ErrNotFound))
	_, err = v.Open("/kernel.bin/inner")
	require.True(t, errors.Is(err, nextfs.ErrNotDirectory))
	_, err = v.Open("kernel.bin")
	require.True(t, errors.Is(err, nextfs.ErrInvalidPath))
	_, err = v.Open("/Documents/none")
	require.True(t, errors.Is(err, nextfs.ErrNotFound))
}

func TestReadFileAndList(t *testing.T) {
	v := mounted(t)
	data, err := v.ReadFile("/boot/grub.cfg")
	require.Nil(t, err)
	require.Equal(t, "timeout=5", string(data))

	nodes, err := v.List("/boot")
	require.Nil(t, err)
	require.Equal(t, []string{".", "..", "grub.cfg"}, nodeNames(nodes))

	_, err = v.List("/kernel.bin")
	require.True(t, errors.Is(err, nextfs.ErrNotDirectory))
	_, err = v.ReadFile("/boot")
	require.True(t, errors.Is(err, nextfs.ErrIsDirectory))
}

func TestWriteDiskFile(t *testing.T) {
	v := mounted(t)
	kernel, err := v.Open("/kernel.bin")
	require.Nil(t, err)
	n, err := v.Write(kernel, 0, []byte("KERNEL"))
	require.Nil(t, err)
	require.Equal(t, 6, n)
	data, err := v.ReadFile("/kernel.bin")
	require.Nil(t, err)
	require.Equal(t, "KERNEL image", string(data))
}

func TestRamfsThroughVFS(t *testing.T) {
	v := mounted(t)
	require.Nil(t, v.Create("/Documents/letter.txt", nextfs.TypeFile))
	letter, err := v.Open("/Documents/letter.txt")
	require.Nil(t, err)
	_, err = v.Write(letter, 0, []byte("dear reader"))
	require.Nil(t, err)

	require.Nil(t, v.Rename("/Documents/letter.txt", "/Desktop/letter.txt"))
	data, err := v.ReadFile("/Desktop/letter.txt")
	require.Nil(t, err)
	require.Equal(t, "dear reader", string(data))

	nodes, err := v.List("/Desktop")
	require.Nil(t, err)
	require.Equal(t, []string{"letter.txt"}, nodeNames(nodes))

	require.Nil(t, v.Delete("/Desktop/letter.txt"))
	_, err = v.Open("/Desktop/letter.txt")
	require.True(t, errors.Is(err, nextfs.ErrNotFound))
	require.True(t, errors.Is(v.Delete("/Desktop"), nextfs.ErrProtected))
}

func TestDiskMutationUnsupported(t *testing.T) {
	v := mounted(t)
	require.True(t, errors.Is(v.Create("/newfile", nextfs.TypeFile), nextfs.ErrUnsupported))
	require.True(t, errors.Is(v.Create("/boot/x", nextfs.TypeFile), nextfs.ErrUnsupported))
	require.True(t, errors.Is(v.Delete("/kernel.bin"), nextfs.ErrUnsupported))
	require.True(t, errors.Is(v.Rename("/kernel.bin", "/Desktop/kernel.bin"), nextfs.ErrUnsupported))
	require.True(t, errors.Is(v.Rename("/Desktop", "/boot/desk"), nextfs.ErrUnsupported))
	_, err := v.Open("/kernel.bin")
	require.Nil(t, err)
}

func TestForeignRootNode(t *testing.T) {
	a := New()
	b := New()
	_, err := b.ReadDir(a.Root(), 0)
	require.Nil(t, err)
	_, err = rootBackend{b}.ReadDir(a.Root(), 0)
	require.True(t, errors.Is(err, nextfs.ErrWrongBackend))
}

func TestShadowedDiskEntryOpensByPath(t *testing.T) {
	v := mounted(t)
	require.NotContains(t, nodeNames(rootNames(t, v)), "desktop")

	node, err := v.Open("/desktop")
	require.Nil(t, err)
	require.True(t, node.IsDir())
	_, ok := node.Data.(fat.Cluster)
	require.True(t, ok)
}
