package ambfw

import (
	"fmt"
	"strconv"
	"strings"
)

// This file centralizes the extracted-directory naming contract (§4.7) so
// unpack and repack agree on it without duplicating fmt.Sprintf/parsing
// logic in two places.

const (
	headerFileName = "00000000_header.bin"
	headSuffix     = "_head.bin"
	sectSuffix     = "_sect.bin"
	dirSuffix      = ".dir"
	filesDirSuffix = "_files"
)

// offsetHex renders a byte offset as the fixed 8-hex-digit uppercase form
// the layout contract relies on for lexicographic == byte-order sort.
func offsetHex(offset uint64) string {
	return fmt.Sprintf("%08X", offset)
}

// HeaderFileName is the fixed name of the 560-byte firmware header file.
func HeaderFileName() string {
	return headerFileName
}

// SectionHeadFileName is the name of a section's 256-byte header file,
// keyed by the section header's own absolute offset.
func SectionHeadFileName(headerOffset uint64) string {
	return offsetHex(headerOffset) + headSuffix
}

// SectionPayloadFileName is the name of an opaque section's payload file,
// keyed by the payload's absolute offset (headerOffset + SectionHeaderSize).
func SectionPayloadFileName(payloadOffset uint64) string {
	return offsetHex(payloadOffset) + sectSuffix
}

// RomfsDirFileName is the name of a ROMFS section's directory-listing file.
func RomfsDirFileName(payloadOffset uint64) string {
	return offsetHex(payloadOffset) + dirSuffix
}

// RomfsFilesDirName is the name of the directory a ROMFS section's member
// files are extracted into.
func RomfsFilesDirName(payloadOffset uint64) string {
	return offsetHex(payloadOffset) + filesDirSuffix
}

// parseOffsetHead parses a "<OFFSET>_head.bin" filename, returning the
// header offset it encodes.
func parseOffsetHead(name string) (uint64, bool) {
	return parseOffsetSuffix(name, headSuffix)
}

// parseOffsetSect parses a "<OFFSET>_sect.bin" filename.
func parseOffsetSect(name string) (uint64, bool) {
	return parseOffsetSuffix(name, sectSuffix)
}

// parseOffsetDir parses a "<OFFSET>.dir" filename.
func parseOffsetDir(name string) (uint64, bool) {
	return parseOffsetSuffix(name, dirSuffix)
}

// parseOffsetFilesDir parses a "<OFFSET>_files" directory name.
func parseOffsetFilesDir(name string) (uint64, bool) {
	return parseOffsetSuffix(name, filesDirSuffix)
}

func parseOffsetSuffix(name, suffix string) (uint64, bool) {
	if !strings.HasSuffix(name, suffix) {
		return 0, false
	}
	hexPart := strings.TrimSuffix(name, suffix)
	if len(hexPart) != 8 {
		return 0, false
	}
	v, err := strconv.ParseUint(hexPart, 16, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
