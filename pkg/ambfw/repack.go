package ambfw

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/RigacciOrg/ambarella-h22-firmware-tools/pkg/log"
	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
)

// sectionPlan is one section to reassemble, discovered during repack's
// pre-flight pass over the extracted-directory listing (§4.6 step 4).
type sectionPlan struct {
	headerOffset  uint64
	payloadOffset uint64
	isRomfs       bool
}

// Repack reassembles the extracted-directory layout at srcDir (§4.7) into
// outBinPath and its paired outChPath. Neither output path may already
// exist. dialect selects the ROMFS layout used to rebuild any ROMFS
// sections (§6). Unlike Unpack, Repack is strict: any missing or malformed
// piece of the extracted layout aborts the whole run (§7).
func Repack(srcDir, outBinPath, outChPath string, dialect RomfsDialect) error {
	if err := refuseExisting(outBinPath); err != nil {
		return err
	}
	if err := refuseExisting(outChPath); err != nil {
		return err
	}

	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return fmt.Errorf("listing source directory %q: %w", srcDir, err)
	}

	headerData, err := os.ReadFile(filepath.Join(srcDir, HeaderFileName()))
	if err != nil {
		return fmt.Errorf("reading %s: %w", HeaderFileName(), err)
	}
	header, err := ParseHeader(headerData)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", HeaderFileName(), err)
	}

	// os.ReadDir returns entries sorted by filename, and this format's
	// uppercase 8-hex-digit offsets make that ordering equal byte order
	// (§4.7, §9 "lexicographic ordering as implicit manifest").
	var headerOffsets []uint64
	for _, e := range entries {
		if off, ok := parseOffsetHead(e.Name()); ok {
			headerOffsets = append(headerOffsets, off)
		}
	}

	plan, err := planSections(srcDir, headerOffsets)
	if err != nil {
		return err
	}

	body, err := assembleSections(srcDir, plan, header, dialect)
	if err != nil {
		return err
	}
	for i := len(plan); i < MaxDirectoryEntries; i++ {
		if err := header.ClearDirectoryEntry(i); err != nil {
			return err
		}
	}

	header.SetBodyCRC32(crc32Seeded(0, body))

	full := make([]byte, 0, HeaderSize+len(body))
	full = append(full, header.Bytes()...)
	full = append(full, body...)

	if err := writeNewFile(outBinPath, full); err != nil {
		return err
	}

	chBytes, err := chFileBytes(md5Hex(full))
	if err != nil {
		return err
	}
	if err := writeNewFile(outChPath, chBytes); err != nil {
		return err
	}

	log.Warnf("repacked %s into %s (%d sections)", humanize.Bytes(uint64(len(full))), outBinPath, len(plan))
	return nil
}

// planSections performs repack's pre-flight pass: for every discovered
// "_head.bin" file it must find either a matching "_sect.bin" (opaque
// section) or ".dir" (ROMFS section) sibling. Every missing pairing is
// collected via multierror so a caller sees every problem at once, not
// just the first (§4.6 step 4 else-branch, §7 "missing data for section").
func planSections(srcDir string, headerOffsets []uint64) ([]sectionPlan, error) {
	var problems *multierror.Error
	plan := make([]sectionPlan, 0, len(headerOffsets))
	for _, ho := range headerOffsets {
		po := ho + SectionHeaderSize
		_, dirErr := os.Stat(filepath.Join(srcDir, RomfsDirFileName(po)))
		_, sectErr := os.Stat(filepath.Join(srcDir, SectionPayloadFileName(po)))
		switch {
		case dirErr == nil:
			plan = append(plan, sectionPlan{headerOffset: ho, payloadOffset: po, isRomfs: true})
		case sectErr == nil:
			plan = append(plan, sectionPlan{headerOffset: ho, payloadOffset: po, isRomfs: false})
		default:
			problems = multierror.Append(problems, fmt.Errorf(
				"missing data for section at header offset %08X: neither %s nor %s exists",
				ho, SectionPayloadFileName(po), RomfsDirFileName(po)))
		}
	}
	return plan, problems.ErrorOrNil()
}

// assembleSections reassembles each planned section in order, patching its
// header's CRC32 and length fields and the firmware header's matching
// directory entry as it goes (§4.6 step 4).
func assembleSections(srcDir string, plan []sectionPlan, header *Header, dialect RomfsDialect) ([]byte, error) {
	var body []byte
	running := uint32(0)
	for i, p := range plan {
		headBytes, err := os.ReadFile(filepath.Join(srcDir, SectionHeadFileName(p.headerOffset)))
		if err != nil {
			return nil, fmt.Errorf("reading section header at %08X: %w", p.headerOffset, err)
		}
		sh, err := ParseSectionHeader(headBytes)
		if err != nil {
			return nil, fmt.Errorf("section header at %08X: %w", p.headerOffset, err)
		}

		var payload []byte
		if p.isRomfs {
			payload, err = assembleRomfsPayload(srcDir, p.payloadOffset, dialect)
		} else {
			payload, err = os.ReadFile(filepath.Join(srcDir, SectionPayloadFileName(p.payloadOffset)))
		}
		if err != nil {
			return nil, err
		}

		sh.SetPayloadCRC32(crc32Seeded(0, payload))
		sh.SetPayloadLength(uint32(len(payload)))

		// Known quirk (§4.6, §9): running_crc32 is updated in two steps,
		// once for the header and once for the payload, and the directory
		// entry is patched only once, after both updates — for both
		// opaque and ROMFS sections alike. This matches the chain law
		// (§8 property 2: crc32Seeded(crc32Seeded(x, a), b) ==
		// crc32Seeded(x, append(a, b))), so the two-step shape is kept
		// because it's what the original tool does, not because a
		// single combined update would give a different answer.
		running = crc32Seeded(running, sh.Bytes())
		running = crc32Seeded(running, payload)

		if err := header.SetDirectoryEntry(i, uint32(SectionHeaderSize+len(payload)), running); err != nil {
			return nil, fmt.Errorf("section %d: %w", i, err)
		}

		body = append(body, sh.Bytes()...)
		body = append(body, payload...)
	}
	return body, nil
}

// assembleRomfsPayload rebuilds a ROMFS partition from its directory
// listing and member files, in listing order (§4.4, §4.6).
func assembleRomfsPayload(srcDir string, payloadOffset uint64, dialect RomfsDialect) ([]byte, error) {
	listing, err := os.ReadFile(filepath.Join(srcDir, RomfsDirFileName(payloadOffset)))
	if err != nil {
		return nil, fmt.Errorf("reading romfs directory listing at %08X: %w", payloadOffset, err)
	}
	names := splitListing(string(listing))

	filesDir := filepath.Join(srcDir, RomfsFilesDirName(payloadOffset))
	sources := make([]RomfsSourceFile, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(filesDir, name))
		if err != nil {
			return nil, fmt.Errorf("reading romfs file %q at %08X: %w", name, payloadOffset, err)
		}
		sources = append(sources, RomfsSourceFile{Name: name, Data: data})
	}

	payload, _, err := EmitRomfs(dialect, sources)
	return payload, err
}

// splitListing parses a directory-listing file written one name per line
// (extractRomfs's format) back into an ordered slice of names.
func splitListing(listing string) []string {
	lines := strings.Split(listing, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// refuseExisting returns an error if path already exists (§6 "Exit code 1
// on ... pre-existing output").
func refuseExisting(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("output %q already exists", path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("checking output %q: %w", path, err)
	}
	return nil
}

// writeNewFile creates path exclusively (refusing to clobber an existing
// file even under a race) and writes data to it.
func writeNewFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("creating %q: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("writing %q: %w", path, err)
	}
	return nil
}
