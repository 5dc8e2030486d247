package ambfw

import "fmt"

const (
	// HeaderSize is the fixed size of the firmware file header (§3).
	HeaderSize = 560
	// nameSize is the width of the header's name field.
	nameSize = 32
	// magicOffset is where the global firmware magic sits in the header.
	magicOffset = 32
	// bodyCRC32Offset is where the whole-body CRC32 is stored.
	bodyCRC32Offset = 36
	// directoryOffset is where the section directory begins.
	directoryOffset = 48
	// directoryEntrySize is the packed size of one SectionDirectoryEntry.
	directoryEntrySize = 8
	// MaxDirectoryEntries is the fixed capacity of the section directory.
	MaxDirectoryEntries = 16
)

// HeaderMagic is the firmware image's global magic constant, in the order
// the bytes appear in the file.
var HeaderMagic = [4]byte{0xE6, 0xDF, 0x32, 0x87}

// DirectoryEntry is one SectionDirectoryEntry (§3): the byte length of a
// section (header + payload) and the negated running CRC32 of every
// section up to and including it.
type DirectoryEntry struct {
	Length              uint32
	RunningCRC32Negated uint32
}

// RunningCRC32 undoes the directory's negation, returning the running
// CRC32 chain value the entry actually certifies.
func (e DirectoryEntry) RunningCRC32() uint32 {
	return 0xFFFFFFFF ^ e.RunningCRC32Negated
}

// Header is the 560-byte firmware file header. It keeps its full raw bytes
// so that repack can emit the header unchanged except for the handful of
// fields it is allowed to patch (§4.2) — including the 384 opaque bytes at
// offset 0xB0 (§9), which are never named as a field and simply ride along
// inside raw.
type Header struct {
	raw [HeaderSize]byte
}

// ParseHeader reads the 560-byte header from the start of data and
// validates the global magic.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("firmware image too short for header: got %d bytes, need %d", len(data), HeaderSize)
	}
	h := &Header{}
	copy(h.raw[:], data[:HeaderSize])
	if h.Magic() != HeaderMagic {
		return nil, fmt.Errorf("bad firmware magic: got % x, want % x", h.Magic(), HeaderMagic)
	}
	return h, nil
}

// Name returns the 32-byte zero-padded name field, decoded as text.
func (h *Header) Name() string {
	return decodeText(h.raw[0:nameSize])
}

// Magic returns the header's global magic bytes.
func (h *Header) Magic() [4]byte {
	var m [4]byte
	copy(m[:], h.raw[magicOffset:magicOffset+4])
	return m
}

// BodyCRC32 returns the CRC32 recorded at offset 36: the claimed checksum
// over the file body, bytes [HeaderSize, EOF).
func (h *Header) BodyCRC32() uint32 {
	return getUint32(h.raw[bodyCRC32Offset:])
}

// SetBodyCRC32 patches the body CRC32 field in place (§4.2 step ii).
func (h *Header) SetBodyCRC32(v uint32) {
	putUint32(h.raw[bodyCRC32Offset:], v)
}

// Directory parses the section directory, stopping at the first entry
// whose length is zero (§3, §4.2).
func (h *Header) Directory() []DirectoryEntry {
	var entries []DirectoryEntry
	for i := 0; i < MaxDirectoryEntries; i++ {
		off := directoryOffset + i*directoryEntrySize
		length := getUint32(h.raw[off:])
		if length == 0 {
			break
		}
		entries = append(entries, DirectoryEntry{
			Length:              length,
			RunningCRC32Negated: getUint32(h.raw[off+4:]),
		})
	}
	return entries
}

// SetDirectoryEntry patches directory slot i with length and the running
// CRC32 computed so far, storing it negated as the format requires
// (§3 invariant 2). i must be in [0, MaxDirectoryEntries).
func (h *Header) SetDirectoryEntry(i int, length uint32, runningCRC32 uint32) error {
	if i < 0 || i >= MaxDirectoryEntries {
		return fmt.Errorf("directory entry index %d out of range [0,%d)", i, MaxDirectoryEntries)
	}
	off := directoryOffset + i*directoryEntrySize
	putUint32(h.raw[off:], length)
	putUint32(h.raw[off+4:], 0xFFFFFFFF^runningCRC32)
	return nil
}

// ClearDirectoryEntry zeroes directory slot i, marking it (and, since a
// zero length terminates the directory, every slot after it as unused)
// available for the terminator to land on after a repack emits fewer
// sections than the header originally described.
func (h *Header) ClearDirectoryEntry(i int) error {
	if i < 0 || i >= MaxDirectoryEntries {
		return fmt.Errorf("directory entry index %d out of range [0,%d)", i, MaxDirectoryEntries)
	}
	off := directoryOffset + i*directoryEntrySize
	putUint32(h.raw[off:], 0)
	putUint32(h.raw[off+4:], 0)
	return nil
}

// SectionOffsets returns the absolute file offset of each section header
// named by the directory, derived from the cumulative sum of entry
// lengths — the directory stores sizes, not offsets (§3).
func SectionOffsets(dir []DirectoryEntry) []uint64 {
	offsets := make([]uint64, len(dir))
	cursor := uint64(HeaderSize)
	for i, e := range dir {
		offsets[i] = cursor
		cursor += uint64(e.Length)
	}
	return offsets
}

// Bytes returns the header's raw 560-byte buffer.
func (h *Header) Bytes() []byte {
	return h.raw[:]
}
