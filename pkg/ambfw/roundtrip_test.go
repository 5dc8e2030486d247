package ambfw

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// buildSection returns a complete section (256-byte header + payload) with
// CRC32 and length correctly filled in, as a repacked section would be.
func buildSection(payload []byte) []byte {
	sh := make([]byte, SectionHeaderSize)
	putUint32(sh[sectionCRC32Offset:], crc32Seeded(0, payload))
	putUint32(sh[sectionLengthOffset:], uint32(len(payload)))
	copy(sh[sectionMagicOffset:], SectionMagic[:])
	return append(sh, payload...)
}

// TestUnpackRepackRoundTrip builds a synthetic firmware image by hand (two
// opaque sections matching S3, plus one ROMFS section), unpacks it, repacks
// the extracted directory, and asserts the output is byte-identical to the
// original — the round-trip identity property (§8 property 1).
func TestUnpackRepackRoundTrip(t *testing.T) {
	payload0 := bytes.Repeat([]byte{0xAA}, 1024)
	payload1 := bytes.Repeat([]byte{0xBB}, 2048)
	romfsPayload, _, err := EmitRomfs(DialectSJ8Pro, []RomfsSourceFile{
		{Name: "splash.bin", Data: bytes.Repeat([]byte{0x7E}, 500)},
		{Name: "logo.bin", Data: bytes.Repeat([]byte{0x7F}, 2048)},
	})
	if err != nil {
		t.Fatalf("EmitRomfs: %v", err)
	}

	section0 := buildSection(payload0)
	section1 := buildSection(payload1)
	section2 := buildSection(romfsPayload)

	// §3 invariant 2: directory entry lengths are section header+payload
	// (matching S3's 1280/2304), and running_crc32_negated chains across
	// every prior section's bytes including this one.
	if len(section0) != 1280 || len(section1) != 2304 {
		t.Fatalf("unexpected synthetic section lengths: %d, %d", len(section0), len(section1))
	}

	running0 := crc32Seeded(0, section0)
	running1 := crc32Seeded(running0, section1)
	running2 := crc32Seeded(running1, section2)

	dir := []DirectoryEntry{
		{Length: uint32(len(section0)), RunningCRC32Negated: 0xFFFFFFFF ^ running0},
		{Length: uint32(len(section1)), RunningCRC32Negated: 0xFFFFFFFF ^ running1},
		{Length: uint32(len(section2)), RunningCRC32Negated: 0xFFFFFFFF ^ running2},
	}

	body := append(append(append([]byte{}, section0...), section1...), section2...)
	bodyCRC32 := crc32Seeded(0, body)
	header := fakeHeader(t, "TESTCAM", bodyCRC32, dir)

	original := append(append([]byte{}, header...), body...)

	tmp := t.TempDir()
	binPath := filepath.Join(tmp, "firmware.bin")
	if err := os.WriteFile(binPath, original, 0o644); err != nil {
		t.Fatal(err)
	}

	destDir := filepath.Join(tmp, "extracted")
	report, err := Unpack(binPath, "", destDir, DialectSJ8Pro)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if !report.BodyCRC32OK {
		t.Error("report.BodyCRC32OK = false, want true")
	}
	for _, d := range report.Directory {
		if !d.OK {
			t.Errorf("directory entry %d not OK", d.Index)
		}
	}
	if len(report.Sections) != 3 {
		t.Fatalf("extracted %d sections, want 3", len(report.Sections))
	}
	for _, s := range report.Sections {
		if !s.OK {
			t.Errorf("section at %08X not OK", s.HeaderOffset)
		}
	}

	outBin := filepath.Join(tmp, "out.bin")
	outCh := filepath.Join(tmp, "out.ch")
	if err := Repack(destDir, outBin, outCh, DialectSJ8Pro); err != nil {
		t.Fatalf("Repack: %v", err)
	}

	got, err := os.ReadFile(outBin)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, original) {
		t.Fatalf("repacked image is not byte-identical: got %d bytes, want %d bytes", len(got), len(original))
	}

	gotCh, err := os.ReadFile(outCh)
	if err != nil {
		t.Fatal(err)
	}
	wantCh, err := chFileBytes(md5Hex(original))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(gotCh, wantCh) {
		t.Errorf(".ch file mismatch: got % x, want % x", gotCh, wantCh)
	}
}

// TestUnpackChecksumMismatchIsNonFatal corrupts one payload byte (S4): unpack
// must report the failure but still complete and extract every section.
func TestUnpackChecksumMismatchIsNonFatal(t *testing.T) {
	payload0 := bytes.Repeat([]byte{0xAA}, 64)
	section0 := buildSection(payload0)
	running0 := crc32Seeded(0, section0)
	dir := []DirectoryEntry{{Length: uint32(len(section0)), RunningCRC32Negated: 0xFFFFFFFF ^ running0}}
	body := append([]byte{}, section0...)
	bodyCRC32 := crc32Seeded(0, body)
	header := fakeHeader(t, "TESTCAM", bodyCRC32, dir)
	image := append(append([]byte{}, header...), body...)

	// Corrupt one payload byte without touching the stored CRC32.
	image[HeaderSize+SectionHeaderSize] ^= 0xFF

	tmp := t.TempDir()
	binPath := filepath.Join(tmp, "firmware.bin")
	if err := os.WriteFile(binPath, image, 0o644); err != nil {
		t.Fatal(err)
	}
	destDir := filepath.Join(tmp, "extracted")

	report, err := Unpack(binPath, "", destDir, DialectSJ8Pro)
	if err == nil {
		t.Error("expected Unpack to report findings for the corrupted section")
	}
	if len(report.Sections) != 1 {
		t.Fatalf("extracted %d sections, want 1", len(report.Sections))
	}
	if report.Sections[0].OK {
		t.Error("corrupted section reported OK")
	}
	if _, err := os.Stat(filepath.Join(destDir, SectionPayloadFileName(HeaderSize+SectionHeaderSize))); err != nil {
		t.Errorf("corrupted section payload was not extracted: %v", err)
	}
}

func TestRepackRefusesExistingOutput(t *testing.T) {
	tmp := t.TempDir()
	srcDir := filepath.Join(tmp, "src")
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		t.Fatal(err)
	}
	outBin := filepath.Join(tmp, "out.bin")
	if err := os.WriteFile(outBin, []byte("existing"), 0o644); err != nil {
		t.Fatal(err)
	}
	outCh := filepath.Join(tmp, "out.ch")
	if err := Repack(srcDir, outBin, outCh, DialectSJ8Pro); err == nil {
		t.Error("expected Repack to refuse a pre-existing output .bin")
	}
}

func TestRepackFatalOnMissingSectionData(t *testing.T) {
	tmp := t.TempDir()
	srcDir := filepath.Join(tmp, "src")
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		t.Fatal(err)
	}
	header := fakeHeader(t, "x", 0, []DirectoryEntry{{Length: 1280, RunningCRC32Negated: 0}})
	if err := os.WriteFile(filepath.Join(srcDir, HeaderFileName()), header, 0o644); err != nil {
		t.Fatal(err)
	}
	sh := make([]byte, SectionHeaderSize)
	copy(sh[sectionMagicOffset:], SectionMagic[:])
	if err := os.WriteFile(filepath.Join(srcDir, SectionHeadFileName(HeaderSize)), sh, 0o644); err != nil {
		t.Fatal(err)
	}
	// Deliberately omit both the "_sect.bin" and ".dir" sibling.

	err := Repack(srcDir, filepath.Join(tmp, "out.bin"), filepath.Join(tmp, "out.ch"), DialectSJ8Pro)
	if err == nil {
		t.Fatal("expected Repack to fail on missing section data")
	}
}
