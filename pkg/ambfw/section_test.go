package ambfw

import "testing"

// fakeSectionHeader builds a synthetic 256-byte section header.
func fakeSectionHeader(crc32, length, memAddr, flags uint32, versionBE [4]byte, date [4]byte) []byte {
	buf := make([]byte, SectionHeaderSize)
	putUint32(buf[sectionCRC32Offset:], crc32)
	copy(buf[sectionVersionOffset:], versionBE[:])
	copy(buf[sectionDateOffset:], date[:])
	putUint32(buf[sectionLengthOffset:], length)
	putUint32(buf[sectionMemAddrOffset:], memAddr)
	putUint32(buf[sectionFlagsOffset:], flags)
	copy(buf[sectionMagicOffset:], SectionMagic[:])
	return buf
}

func TestParseSectionHeaderFields(t *testing.T) {
	data := fakeSectionHeader(0x12345678, 4096, 0xA0000000, 0x1, [4]byte{0x00, 0x01, 0x00, 0x02}, [4]byte{15, 6, 0xE8, 0x07})
	sh, err := ParseSectionHeader(data)
	if err != nil {
		t.Fatalf("ParseSectionHeader: %v", err)
	}
	if sh.PayloadCRC32() != 0x12345678 {
		t.Errorf("PayloadCRC32() = %08X", sh.PayloadCRC32())
	}
	if sh.PayloadLength() != 4096 {
		t.Errorf("PayloadLength() = %d", sh.PayloadLength())
	}
	if sh.MemAddr() != 0xA0000000 {
		t.Errorf("MemAddr() = %08X", sh.MemAddr())
	}
	if sh.Flags() != 0x1 {
		t.Errorf("Flags() = %08X", sh.Flags())
	}
	if sh.Magic() != SectionMagic {
		t.Errorf("Magic() = % x", sh.Magic())
	}

	major, minor := sh.Version(true)
	if major != 1 || minor != 2 {
		t.Errorf("Version(true) = %d.%d, want 1.2", major, minor)
	}

	day, month, year := sh.Date()
	if day != 15 || month != 6 || year != 2024 {
		t.Errorf("Date() = %d/%d/%d, want 15/6/2024", day, month, year)
	}
}

func TestSectionHeaderVersionLittleEndian(t *testing.T) {
	data := fakeSectionHeader(0, 0, 0, 0, [4]byte{0x01, 0x00, 0x02, 0x00}, [4]byte{})
	sh, err := ParseSectionHeader(data)
	if err != nil {
		t.Fatal(err)
	}
	major, minor := sh.Version(false)
	if major != 1 || minor != 2 {
		t.Errorf("Version(false) = %d.%d, want 1.2", major, minor)
	}
}

func TestSetPayloadCRC32AndLength(t *testing.T) {
	sh, err := ParseSectionHeader(fakeSectionHeader(0, 0, 0, 0, [4]byte{}, [4]byte{}))
	if err != nil {
		t.Fatal(err)
	}
	sh.SetPayloadCRC32(0xFEEDFACE)
	sh.SetPayloadLength(999)
	if sh.PayloadCRC32() != 0xFEEDFACE || sh.PayloadLength() != 999 {
		t.Errorf("after patch: crc=%08X length=%d", sh.PayloadCRC32(), sh.PayloadLength())
	}
}

func TestParseSectionHeaderRejectsBadMagic(t *testing.T) {
	data := fakeSectionHeader(0, 0, 0, 0, [4]byte{}, [4]byte{})
	data[sectionMagicOffset] ^= 0xFF
	if _, err := ParseSectionHeader(data); err == nil {
		t.Fatal("expected error for corrupted section magic")
	}
}

func TestScanSectionMagic(t *testing.T) {
	buf := make([]byte, 1024)
	// Real section headers at 0 and 300.
	copy(buf[sectionMagicOffset:], SectionMagic[:])
	copy(buf[300+sectionMagicOffset:], SectionMagic[:])
	// A magic byte sequence within 24 bytes of the start of the buffer
	// cannot be a header start (m-24 would underflow) and must be skipped.
	copy(buf[10:], SectionMagic[:])

	hits := ScanSectionMagic(buf)
	want := []uint64{0, 300}
	if len(hits) != len(want) {
		t.Fatalf("ScanSectionMagic = %v, want %v", hits, want)
	}
	for i := range want {
		if hits[i] != want[i] {
			t.Errorf("hit %d = %d, want %d", i, hits[i], want[i])
		}
	}
}
