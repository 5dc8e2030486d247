package ambfw

import "fmt"

const (
	// SectionHeaderSize is the fixed size of a section header (§3).
	SectionHeaderSize = 256

	sectionCRC32Offset    = 0
	sectionVersionOffset  = 4
	sectionDateOffset     = 8
	sectionLengthOffset   = 12
	sectionMemAddrOffset  = 16
	sectionFlagsOffset    = 20
	sectionMagicOffset    = 24
	sectionPaddingOffset  = 28
	sectionPaddingLength  = SectionHeaderSize - sectionPaddingOffset
)

// SectionMagic discriminates a section header; the unpacker's magic scan
// looks for this byte sequence at section_begin+24 (§3 invariant 4).
var SectionMagic = [4]byte{0x90, 0xEB, 0x24, 0xA3}

// SectionHeader is the 256-byte header preceding every section's payload.
// Like Header, it keeps its raw bytes as the source of truth: repack reads
// it unmodified from the extracted directory and patches only CRC32 and
// Length (§4.3) — MemAddr and Flags are opaque and always round-tripped
// byte-for-byte (§9).
type SectionHeader struct {
	raw [SectionHeaderSize]byte
}

// ParseSectionHeader reads a 256-byte section header from the start of
// data and validates the section magic at offset 24.
func ParseSectionHeader(data []byte) (*SectionHeader, error) {
	if len(data) < SectionHeaderSize {
		return nil, fmt.Errorf("section header too short: got %d bytes, need %d", len(data), SectionHeaderSize)
	}
	s := &SectionHeader{}
	copy(s.raw[:], data[:SectionHeaderSize])
	if s.Magic() != SectionMagic {
		return nil, fmt.Errorf("bad section magic: got % x, want % x", s.Magic(), SectionMagic)
	}
	return s, nil
}

// PayloadCRC32 returns the claimed CRC32 of the payload alone.
func (s *SectionHeader) PayloadCRC32() uint32 {
	return getUint32(s.raw[sectionCRC32Offset:])
}

// SetPayloadCRC32 patches the payload CRC32 field in place.
func (s *SectionHeader) SetPayloadCRC32(v uint32) {
	putUint32(s.raw[sectionCRC32Offset:], v)
}

// PayloadLength returns the declared payload byte count.
func (s *SectionHeader) PayloadLength() uint32 {
	return getUint32(s.raw[sectionLengthOffset:])
}

// SetPayloadLength patches the payload length field in place.
func (s *SectionHeader) SetPayloadLength(v uint32) {
	putUint32(s.raw[sectionLengthOffset:], v)
}

// Version decodes the version pair. Byte order defaults to big-endian
// per §6; bigEndian may be set false for a build targeting the
// little-endian variant.
func (s *SectionHeader) Version(bigEndian bool) (major, minor uint16) {
	f := s.raw[sectionVersionOffset : sectionVersionOffset+4]
	if bigEndian {
		return getUint16BE(f[0:2]), getUint16BE(f[2:4])
	}
	return getUint16(f[0:2]), getUint16(f[2:4])
}

// Date decodes the section's date field: day, month, and a little-endian
// two-byte year.
func (s *SectionHeader) Date() (day, month uint8, year uint16) {
	f := s.raw[sectionDateOffset : sectionDateOffset+4]
	return f[0], f[1], getUint16(f[2:4])
}

// MemAddr returns the opaque memory-address hint field (§9, round-tripped
// but never interpreted).
func (s *SectionHeader) MemAddr() uint32 {
	return getUint32(s.raw[sectionMemAddrOffset:])
}

// Flags returns the opaque flags field (§9, round-tripped but never
// interpreted).
func (s *SectionHeader) Flags() uint32 {
	return getUint32(s.raw[sectionFlagsOffset:])
}

// Magic returns the section magic bytes found at offset 24.
func (s *SectionHeader) Magic() [4]byte {
	var m [4]byte
	copy(m[:], s.raw[sectionMagicOffset:sectionMagicOffset+4])
	return m
}

// Bytes returns the section header's raw 256-byte buffer.
func (s *SectionHeader) Bytes() []byte {
	return s.raw[:]
}

// ScanSectionMagic returns the header-start offset (m-24) of every
// occurrence of SectionMagic in data, in ascending order (§4.5 step 4,
// §8 property 4). Hits closer to the start of data than 24 bytes are
// skipped since they cannot be a valid header start.
func ScanSectionMagic(data []byte) []uint64 {
	var hits []uint64
	for i := 0; i+4 <= len(data); i++ {
		if data[i] == SectionMagic[0] && data[i+1] == SectionMagic[1] &&
			data[i+2] == SectionMagic[2] && data[i+3] == SectionMagic[3] {
			m := uint64(i)
			if m < sectionMagicOffset {
				continue
			}
			hits = append(hits, m-sectionMagicOffset)
		}
	}
	return hits
}
