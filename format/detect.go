// Package format classifies on-disk stores by magic bytes and extension.
//
// Detection is side-effect-free, reads at most the first 16 bytes of a
// file and never errors: unreadable or absent paths classify as Unknown.
package format

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Format is the detected kind of a store file.
type Format int

const (
	Unknown Format = iota
	NativeContainer
	LegacyRelational
	LegacyFlatFile
)

// String returns the format name as reported by status tooling.
func (f Format) String() string {
	switch f {
	case NativeContainer:
		return "native-container"
	case LegacyRelational:
		return "legacy-relational"
	case LegacyFlatFile:
		return "legacy-flat-file"
	default:
		return "unknown"
	}
}

// MarshalText encodes the format by name, keeping manifests readable.
func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText decodes a format name written by MarshalText.
func (f *Format) UnmarshalText(text []byte) error {
	switch string(text) {
	case "native-container":
		*f = NativeContainer
	case "legacy-relational":
		*f = LegacyRelational
	case "legacy-flat-file":
		*f = LegacyFlatFile
	case "unknown":
		*f = Unknown
	default:
		return fmt.Errorf("unknown format name %q", text)
	}
	return nil
}

// Legacy reports whether the format requires migration before writes.
func (f Format) Legacy() bool {
	return f == LegacyRelational || f == LegacyFlatFile
}

// Magic is the native container magic tag.
var Magic = [4]byte{'R', 'V', 'F', '1'}

// Ext is the conventional native container file extension.
const Ext = ".rvf"

// sqliteMagic is the well-known SQLite 3 header string.
var sqliteMagic = []byte("SQLite format 3\x00")

// Detect classifies the file at path. It reads at most 16 bytes plus the
// extension and returns Unknown for absent or unreadable paths.
func Detect(path string) Format {
	f, err := os.Open(path)
	if err != nil {
		return Unknown
	}
	defer f.Close()

	head := make([]byte, 16)
	n, _ := f.Read(head)
	head = head[:n]

	if len(head) >= len(Magic) && bytes.Equal(head[:len(Magic)], Magic[:]) {
		return NativeContainer
	}
	if len(head) >= len(sqliteMagic) && bytes.Equal(head[:len(sqliteMagic)], sqliteMagic) {
		return LegacyRelational
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonl":
		// Flat files carry no binary magic at all; anything that looked
		// binary was already classified above.
		return LegacyFlatFile
	}

	return Unknown
}

// Resolve applies the logical-path tie-break: when both a native container
// and a legacy file exist for the same stem, the native container wins and
// the legacy file is left untouched. It returns the effective path and its
// format.
func Resolve(path string) (string, Format) {
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	if native := stem + Ext; native != path {
		if f := Detect(native); f == NativeContainer {
			return native, NativeContainer
		}
	}

	return path, Detect(path)
}
