package ambfw

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/RigacciOrg/ambarella-h22-firmware-tools/pkg/log"
	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
)

// DirectoryEntryResult is the outcome of validating one section directory
// entry's running CRC32 against the actual bytes on disk (§3 invariant 2,
// §8 property 6).
type DirectoryEntryResult struct {
	Index                int
	HeaderOffset         uint64
	Length               uint32
	RunningCRC32Expected uint32
	RunningCRC32Actual   uint32
	OK                   bool
}

// SectionResult is the outcome of validating and extracting one section
// (§3 invariant 3, §4.5 step 4).
type SectionResult struct {
	HeaderOffset  uint64
	PayloadOffset uint64
	PayloadLength uint32
	CRC32Expected uint32
	CRC32Actual   uint32
	OK            bool
	InDirectory   bool
	IsRomfs       bool
	RomfsFiles    int
}

// Report is the structured result of an unpack run: every checksum
// comparison the distilled spec's integrity scheme requires (§1), plus
// every section found along the way. Every non-fatal finding — a checksum
// mismatch, a magic hit at an unexpected offset, a missing .ch file — is
// also logged through pkg/log as it's discovered and collected into
// Findings, so a caller can consume either the stream or the structured
// result (§4.5, §7 "unpack is lenient and diagnostic").
type Report struct {
	MD5               string
	ChecksumFileMatch *bool
	BodyCRC32Expected uint32
	BodyCRC32Actual   uint32
	BodyCRC32OK       bool
	Directory         []DirectoryEntryResult
	Sections          []SectionResult
	Findings          *multierror.Error
}

func (r *Report) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	log.Warnf("%s", msg)
	r.Findings = multierror.Append(r.Findings, fmt.Errorf("%s", msg))
}

// Unpack extracts firmware at binPath into destDir, which must not already
// exist, following the extracted-directory layout contract (§4.7). chPath
// may be empty; a missing or mismatched checksum file is a warning, not a
// failure (§6). dialect selects the ROMFS layout to parse any ROMFS
// sections with (§6 "ROMFS dialect selection").
func Unpack(binPath, chPath, destDir string, dialect RomfsDialect) (*Report, error) {
	if _, err := os.Stat(destDir); err == nil {
		return nil, fmt.Errorf("destination directory %q already exists", destDir)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("checking destination directory %q: %w", destDir, err)
	}

	data, err := os.ReadFile(binPath)
	if err != nil {
		return nil, fmt.Errorf("reading firmware image %q: %w", binPath, err)
	}

	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("parsing firmware header: %w", err)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating destination directory %q: %w", destDir, err)
	}

	report := &Report{MD5: md5Hex(data)}

	if err := verifyChecksumFile(chPath, report); err != nil {
		return nil, err
	}

	if err := os.WriteFile(filepath.Join(destDir, HeaderFileName()), header.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("writing firmware header: %w", err)
	}

	body := data[HeaderSize:]
	report.BodyCRC32Expected = header.BodyCRC32()
	report.BodyCRC32Actual = crc32Seeded(0, body)
	report.BodyCRC32OK = report.BodyCRC32Actual == report.BodyCRC32Expected
	if !report.BodyCRC32OK {
		report.warn("FAIL body CRC32: header claims %08X, actual is %08X", report.BodyCRC32Expected, report.BodyCRC32Actual)
	}

	directory := header.Directory()
	dirOffsets := SectionOffsets(directory)
	dirOffsetSet := make(map[uint64]bool, len(dirOffsets))
	for _, off := range dirOffsets {
		dirOffsetSet[off] = true
	}
	report.Directory = validateDirectory(directory, dirOffsets, data, report)

	handledRomfs := make(map[uint64]bool)
	for _, headerOffset := range ScanSectionMagic(data) {
		sr, err := unpackSection(data, headerOffset, dirOffsetSet, destDir, dialect, report)
		if err != nil {
			report.warn("section at header offset %08X: %v", headerOffset, err)
			continue
		}
		report.Sections = append(report.Sections, *sr)
		if sr.IsRomfs {
			handledRomfs[sr.PayloadOffset] = true
		}
	}

	for _, hit := range ScanRomfsMagic(data) {
		if handledRomfs[hit] {
			continue
		}
		if err := unpackOrphanRomfs(data, hit, destDir, dialect, report); err != nil {
			report.warn("romfs magic at offset %08X: %v", hit, err)
		}
	}

	log.Warnf("extracted %s from %s into %s", humanize.Bytes(uint64(len(data))), binPath, destDir)
	return report, report.Findings.ErrorOrNil()
}

// verifyChecksumFile compares the optional .ch file's MD5 against the
// image's actual MD5 (§4.5 step 1). Any problem here is a warning.
func verifyChecksumFile(chPath string, report *Report) error {
	if chPath == "" {
		return nil
	}
	ch, err := os.ReadFile(chPath)
	if err != nil {
		report.warn("checksum file %q unreadable: %v", chPath, err)
		return nil
	}
	digest, err := digestHexFromCh(ch)
	if err != nil {
		report.warn("checksum file %q malformed: %v", chPath, err)
		return nil
	}
	match := digest == report.MD5
	report.ChecksumFileMatch = &match
	if !match {
		report.warn("FAIL MD5 mismatch: .ch says %s, image is %s", digest, report.MD5)
	}
	return nil
}

// validateDirectory recomputes the running CRC32 chain over the directory's
// own claimed section lengths and compares it against each entry's negated
// running CRC32 (§3 invariant 2, §8 property 6).
func validateDirectory(directory []DirectoryEntry, offsets []uint64, data []byte, report *Report) []DirectoryEntryResult {
	results := make([]DirectoryEntryResult, 0, len(directory))
	running := uint32(0)
	for i, e := range directory {
		start := offsets[i]
		end := start + uint64(e.Length)
		var sectionBytes []byte
		if end <= uint64(len(data)) {
			sectionBytes = data[start:end]
		} else {
			report.warn("directory entry %d claims length %d past end of file", i, e.Length)
		}
		running = crc32Seeded(running, sectionBytes)
		expected := e.RunningCRC32()
		ok := running == expected
		if !ok {
			report.warn("FAIL directory entry %d running CRC32: expected %08X, actual %08X", i, expected, running)
		}
		results = append(results, DirectoryEntryResult{
			Index:                i,
			HeaderOffset:         start,
			Length:               e.Length,
			RunningCRC32Expected: expected,
			RunningCRC32Actual:   running,
			OK:                   ok,
		})
	}
	return results
}

// unpackSection validates and extracts one section discovered by the magic
// scan (§4.5 step 4).
func unpackSection(data []byte, headerOffset uint64, dirOffsetSet map[uint64]bool, destDir string, dialect RomfsDialect, report *Report) (*SectionResult, error) {
	if !dirOffsetSet[headerOffset] {
		report.warn("section magic at header offset %08X is not listed in the directory", headerOffset)
	}
	if headerOffset+SectionHeaderSize > uint64(len(data)) {
		return nil, fmt.Errorf("header runs past end of file")
	}
	sh, err := ParseSectionHeader(data[headerOffset:])
	if err != nil {
		return nil, err
	}

	payloadOffset := headerOffset + SectionHeaderSize
	payloadLen := uint64(sh.PayloadLength())
	if payloadOffset+payloadLen > uint64(len(data)) {
		return nil, fmt.Errorf("payload (length %d) runs past end of file", payloadLen)
	}
	payload := data[payloadOffset : payloadOffset+payloadLen]

	actualCRC := crc32Seeded(0, payload)
	ok := actualCRC == sh.PayloadCRC32()
	if !ok {
		report.warn("FAIL section at payload offset %08X checksum: expected %08X, actual %08X", payloadOffset, sh.PayloadCRC32(), actualCRC)
	}

	sr := &SectionResult{
		HeaderOffset:  headerOffset,
		PayloadOffset: payloadOffset,
		PayloadLength: uint32(payloadLen),
		CRC32Expected: sh.PayloadCRC32(),
		CRC32Actual:   actualCRC,
		OK:            ok,
		InDirectory:   dirOffsetSet[headerOffset],
	}

	if err := os.WriteFile(filepath.Join(destDir, SectionHeadFileName(headerOffset)), sh.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("writing section header: %w", err)
	}

	if looksLikeRomfs(payload) {
		n, err := extractRomfs(payload, payloadOffset, destDir, dialect, report)
		if err != nil {
			report.warn("romfs at payload offset %08X failed to parse, extracting as opaque: %v", payloadOffset, err)
		} else {
			sr.IsRomfs = true
			sr.RomfsFiles = n
			return sr, nil
		}
	}

	if err := os.WriteFile(filepath.Join(destDir, SectionPayloadFileName(payloadOffset)), payload, 0o644); err != nil {
		return nil, fmt.Errorf("writing section payload: %w", err)
	}
	return sr, nil
}

// unpackOrphanRomfs extracts a ROMFS partition found by the independent
// full-file magic scan (§4.5 step 5) that wasn't already handled as part of
// a section's payload.
func unpackOrphanRomfs(data []byte, offset uint64, destDir string, dialect RomfsDialect, report *Report) error {
	if offset >= uint64(len(data)) {
		return fmt.Errorf("offset past end of file")
	}
	_, err := extractRomfs(data[offset:], offset, destDir, dialect, report)
	return err
}

func looksLikeRomfs(payload []byte) bool {
	return len(payload) >= 4 && bytes.Equal(payload[0:4], RomfsMagic[:])
}

// extractRomfs parses and extracts a ROMFS partition's member files and
// directory listing, preserving original order (§4.4, §4.5 step 5). It
// returns the number of files extracted.
func extractRomfs(payload []byte, payloadOffset uint64, destDir string, dialect RomfsDialect, report *Report) (int, error) {
	partition, err := ParseRomfs(payload, dialect)
	if err != nil {
		return 0, err
	}

	filesDir := filepath.Join(destDir, RomfsFilesDirName(payloadOffset))
	if len(partition.Files) > 0 {
		if err := os.MkdirAll(filesDir, 0o755); err != nil {
			return 0, fmt.Errorf("creating romfs files directory: %w", err)
		}
	}

	var listing bytes.Buffer
	for _, f := range partition.Files {
		listing.WriteString(f.Name)
		listing.WriteByte('\n')

		payloadBytes, err := FilePayload(payload, f)
		if err != nil {
			report.warn("romfs file %q at partition offset %08X: %v", f.Name, payloadOffset, err)
			continue
		}
		actualCRC := crc32Seeded(0, payloadBytes)
		if actualCRC != f.CRC32 {
			report.warn("FAIL romfs file %q checksum: expected %08X, actual %08X", f.Name, f.CRC32, actualCRC)
		}
		if err := os.WriteFile(filepath.Join(filesDir, f.Name), payloadBytes, 0o644); err != nil {
			return 0, fmt.Errorf("writing romfs file %q: %w", f.Name, err)
		}
	}

	if err := os.WriteFile(filepath.Join(destDir, RomfsDirFileName(payloadOffset)), listing.Bytes(), 0o644); err != nil {
		return 0, fmt.Errorf("writing romfs directory listing: %w", err)
	}
	return len(partition.Files), nil
}
