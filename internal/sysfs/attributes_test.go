package sysfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestAttributeSet_Lookup(t *testing.T) {
	set := AttributeSet{
		{Name: "dev", Value: "8:0\n"},
		{Name: "size", Value: "100"},
		{Name: "dev", Value: "9:9"},
	}

	v, ok := set.Lookup("dev")
	require.True(t, ok)
	assert.Equal(t, "8:0\n", v, "first duplicate wins, value untrimmed")

	_, ok = set.Lookup("range")
	assert.False(t, ok)
	assert.True(t, set.Has("size"))
}

func TestReadAttributes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "dev"), "8:0\n")
	writeFile(t, filepath.Join(dir, "size"), "1000\n")
	writeFile(t, filepath.Join(dir, "range"), "16\n")
	writeFile(t, filepath.Join(dir, "sda1", "dev"), "8:1\n")
	require.NoError(t, os.Symlink(dir, filepath.Join(dir, "device")))

	set, err := ReadAttributes(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(set))
	for _, a := range set {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"dev", "range", "size"}, names)

	v, _ := set.Lookup("dev")
	assert.Equal(t, "8:0\n", v)
}

func TestReadAttributes_MissingDir(t *testing.T) {
	_, err := ReadAttributes(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestReadSingleLine(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "hda", "model"), "WDC WD800JB\n")
	writeFile(t, filepath.Join(dir, "hdb", "media"), "cdrom\r\nsecond line\n")
	writeFile(t, filepath.Join(dir, "hdc", "media"), "")

	tmpl := filepath.Join(dir, "%s", "model")
	v, ok := ReadSingleLine(tmpl, "hda")
	require.True(t, ok)
	assert.Equal(t, "WDC WD800JB", v)

	v, ok = FileLineReader{}.ReadSingleLine(filepath.Join(dir, "%s", "media"), "hdb")
	require.True(t, ok)
	assert.Equal(t, "cdrom", v)

	v, ok = ReadSingleLine(filepath.Join(dir, "%s", "media"), "hdc")
	require.True(t, ok)
	assert.Equal(t, "", v)

	_, ok = ReadSingleLine(tmpl, "hdz")
	assert.False(t, ok)
}

func TestPathHelpers(t *testing.T) {
	tests := []struct {
		path   string
		last   string
		parent string
	}{
		{"/sys/block/hda", "hda", "/sys/block"},
		{"/sys/block/sda/sda1", "sda1", "/sys/block/sda"},
		{"/sys/block/sda/", "sda", "/sys/block"},
		{"/sda", "sda", "/"},
		{"sda", "sda", "/"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.last, LastElement(tt.path))
			assert.Equal(t, tt.parent, ParentPath(tt.path))
		})
	}
}

func TestResolveLink(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "devices", "pci0", "host0")
	require.NoError(t, os.MkdirAll(target, 0o755))
	node := filepath.Join(root, "block", "sda")
	require.NoError(t, os.MkdirAll(node, 0o755))
	require.NoError(t, os.Symlink("../../devices/pci0/host0", filepath.Join(node, "device")))

	got, ok := ResolveLink(node, "device")
	require.True(t, ok)
	want, err := filepath.EvalSymlinks(target)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	writeFile(t, filepath.Join(node, "dev"), "8:0")
	_, ok = ResolveLink(node, "dev")
	assert.False(t, ok, "regular file is not a link")

	_, ok = ResolveLink(node, "missing")
	assert.False(t, ok)
}
