package sysfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// maxAttributeSize caps how much of one attribute file is read.
const maxAttributeSize = 4096

// Attribute is one name/value pair from a sysfs directory.
type Attribute struct {
	Name  string
	Value string
}

// AttributeSet is an ordered attribute list. Duplicate names are tolerated;
// Lookup returns the first.
type AttributeSet []Attribute

// Lookup returns the raw value of the first attribute called name.
func (s AttributeSet) Lookup(name string) (string, bool) {
	for _, a := range s {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// Has reports whether an attribute called name is present.
func (s AttributeSet) Has(name string) bool {
	_, ok := s.Lookup(name)
	return ok
}

// ReadAttributes returns every readable regular file in dir, in name order.
// Subdirectories and symlinks are skipped, as are files the caller may not
// read (sysfs has write-only attributes).
func ReadAttributes(dir string) (AttributeSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	set := make(AttributeSet, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		value, err := readAttribute(filepath.Join(dir, e.Name()))
		if err != nil {
			if errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		set = append(set, Attribute{Name: e.Name(), Value: value})
	}
	return set, nil
}

func readAttribute(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, maxAttributeSize)
	n, err := f.Read(buf)
	if err != nil && n == 0 && !errors.Is(err, io.EOF) {
		// Some attributes fail reads for hardware reasons; treat as absent.
		return "", fs.ErrNotExist
	}
	return string(buf[:n]), nil
}

// ReadSingleLine reads the first line of the file named by format and args,
// with trailing newline characters removed. It reports false when the file
// cannot be read.
func ReadSingleLine(format string, args ...any) (string, bool) {
	data, err := os.ReadFile(fmt.Sprintf(format, args...))
	if err != nil {
		return "", false
	}
	line, _, _ := strings.Cut(string(data), "\n")
	return strings.TrimRight(line, "\r\n"), true
}

// FileLineReader reads side-channel files from the real filesystem.
type FileLineReader struct{}

// ReadSingleLine implements the classifier's line reader.
func (FileLineReader) ReadSingleLine(format string, args ...any) (string, bool) {
	return ReadSingleLine(format, args...)
}

// LastElement returns the final element of a sysfs path.
func LastElement(path string) string {
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// ParentPath returns path with its last element removed.
func ParentPath(path string) string {
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndexByte(path, '/'); i > 0 {
		return path[:i]
	}
	return "/"
}

// ResolveLink returns the absolute, symlink-free target of dir/name, or
// false if there is no such link.
func ResolveLink(dir, name string) (string, bool) {
	link := filepath.Join(dir, name)
	fi, err := os.Lstat(link)
	if err != nil || fi.Mode()&os.ModeSymlink == 0 {
		return "", false
	}
	target, err := filepath.EvalSymlinks(link)
	if err != nil {
		return "", false
	}
	return target, true
}
