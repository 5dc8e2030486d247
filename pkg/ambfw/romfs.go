package ambfw

import "fmt"

// RomfsMagic marks the start of a ROMFS partition inside a section payload.
var RomfsMagic = [4]byte{0x8A, 0x32, 0xFC, 0x66}

const (
	// romfsEntryBase is where the directory entries begin: right after the
	// 4-byte magic and 4-byte file count.
	romfsEntryBase = 8
	// RomfsAlign is the byte boundary every ROMFS file's payload, including
	// its padding, lands on.
	RomfsAlign = 2048
	// RomfsMaxFiles guards against treating a false magic hit elsewhere in
	// the file as a ROMFS partition (§4.4).
	RomfsMaxFiles = 0xFFFF
)

// RomfsDialect parameterizes the two ROMFS layouts this format uses. It is
// a plain value passed explicitly by the caller — never a package-level
// mutable — since autodetecting the dialect is a non-goal (§1, §6, §9).
type RomfsDialect struct {
	// HeaderSize is the fixed capacity reserved for the magic, file count,
	// and directory entries before the first file's payload.
	HeaderSize int
	// NameFieldSize is the width of each entry's filename field.
	NameFieldSize int
}

// DialectSJ8Pro is the ROMFS layout used by SJ8-class cameras.
var DialectSJ8Pro = RomfsDialect{HeaderSize: 2048 * 3, NameFieldSize: 64}

// DialectSJ10Pro is the ROMFS layout used by SJ10-class cameras (and,
// per the distilled spec, Firefly X Lite).
var DialectSJ10Pro = RomfsDialect{HeaderSize: 2048 * 68, NameFieldSize: 256}

func (d RomfsDialect) entrySize() int {
	return d.NameFieldSize + 12
}

// DialectByName resolves a dialect from its CLI/config name ("sj8pro" or
// "sj10pro"). Dialect autodetection is a non-goal (§1, §6): callers must
// always name one explicitly.
func DialectByName(name string) (RomfsDialect, error) {
	switch name {
	case "sj8pro":
		return DialectSJ8Pro, nil
	case "sj10pro":
		return DialectSJ10Pro, nil
	default:
		return RomfsDialect{}, fmt.Errorf("unknown romfs dialect %q (want sj8pro or sj10pro)", name)
	}
}

// RomfsFileEntry is one parsed directory record: a ROMFS-internal file's
// name, length, its offset from the partition's start, and the CRC32 of
// its payload (§3).
type RomfsFileEntry struct {
	Name   string
	Length uint32
	Offset uint32
	CRC32  uint32
}

// RomfsPartition is a parsed inner archive (§3, §4.4).
type RomfsPartition struct {
	Dialect RomfsDialect
	Files   []RomfsFileEntry
}

// ParseRomfs parses a ROMFS partition from the start of payload.
func ParseRomfs(payload []byte, dialect RomfsDialect) (*RomfsPartition, error) {
	if len(payload) < romfsEntryBase {
		return nil, fmt.Errorf("romfs payload too short: got %d bytes", len(payload))
	}
	var magic [4]byte
	copy(magic[:], payload[0:4])
	if magic != RomfsMagic {
		return nil, fmt.Errorf("bad romfs magic: got % x, want % x", magic, RomfsMagic)
	}
	fileCount := getUint32(payload[4:8])
	if fileCount > RomfsMaxFiles {
		return nil, fmt.Errorf("romfs file count %d exceeds %d, not a romfs partition", fileCount, RomfsMaxFiles)
	}
	entrySize := dialect.entrySize()
	p := &RomfsPartition{Dialect: dialect}
	for i := uint32(0); i < fileCount; i++ {
		base := romfsEntryBase + int(i)*entrySize
		if base+entrySize > len(payload) {
			return nil, fmt.Errorf("romfs directory entry %d runs past end of payload", i)
		}
		entry := payload[base : base+entrySize]
		p.Files = append(p.Files, RomfsFileEntry{
			Name:   decodeText(entry[0:dialect.NameFieldSize]),
			Length: getUint32(entry[dialect.NameFieldSize:]),
			Offset: getUint32(entry[dialect.NameFieldSize+4:]),
			CRC32:  getUint32(entry[dialect.NameFieldSize+8:]),
		})
	}
	return p, nil
}

// FilePayload returns f's raw bytes within a parsed partition's backing
// payload. offset_from_partition_start indexes directly into payload since
// the partition begins at payload[0] (§4.4).
func FilePayload(payload []byte, f RomfsFileEntry) ([]byte, error) {
	start := uint64(f.Offset)
	end := start + uint64(f.Length)
	if end > uint64(len(payload)) {
		return nil, fmt.Errorf("romfs file %q (offset %d, length %d) runs past end of payload (%d bytes)", f.Name, f.Offset, f.Length, len(payload))
	}
	return payload[start:end], nil
}

// PaddingFor returns the number of zero bytes appended after a ROMFS file's
// payload to reach the next RomfsAlign boundary. Per §4.4/§9, when length
// is already aligned the padding is a full RomfsAlign bytes, never zero.
func PaddingFor(length uint32) uint32 {
	return RomfsAlign - (length % RomfsAlign)
}

// ScanRomfsMagic returns every offset in data where RomfsMagic occurs, in
// ascending order (§4.5 step 5).
func ScanRomfsMagic(data []byte) []uint64 {
	var hits []uint64
	for i := 0; i+4 <= len(data); i++ {
		if data[i] == RomfsMagic[0] && data[i+1] == RomfsMagic[1] &&
			data[i+2] == RomfsMagic[2] && data[i+3] == RomfsMagic[3] {
			hits = append(hits, uint64(i))
		}
	}
	return hits
}

// RomfsSourceFile is one file to pack into a ROMFS partition, in emission
// order (§4.4: the order of the directory-listing file, which becomes the
// order files are written).
type RomfsSourceFile struct {
	Name string
	Data []byte
}

// EmitRomfs serializes files into a ROMFS partition buffer: header
// (magic, count, directory entries, zero-padded to dialect.HeaderSize)
// followed by each file's payload and its alignment padding, in order
// (§4.4). It returns the full partition bytes and the directory entries
// actually written, useful for reporting and tests.
func EmitRomfs(dialect RomfsDialect, files []RomfsSourceFile) ([]byte, []RomfsFileEntry, error) {
	entrySize := dialect.entrySize()
	if romfsEntryBase+len(files)*entrySize > dialect.HeaderSize {
		return nil, nil, fmt.Errorf("too many romfs files (%d) for header capacity (%d bytes)", len(files), dialect.HeaderSize)
	}

	header := make([]byte, dialect.HeaderSize)
	copy(header[0:4], RomfsMagic[:])
	putUint32(header[4:8], uint32(len(files)))

	entries := make([]RomfsFileEntry, len(files))
	var body []byte
	offset := uint32(dialect.HeaderSize)
	for i, f := range files {
		length := uint32(len(f.Data))
		crc := crc32Seeded(0, f.Data)

		base := romfsEntryBase + i*entrySize
		entry := header[base : base+entrySize]
		nameField := encodeText(f.Name, dialect.NameFieldSize)
		copy(entry[0:dialect.NameFieldSize], nameField)
		putUint32(entry[dialect.NameFieldSize:], length)
		putUint32(entry[dialect.NameFieldSize+4:], offset)
		putUint32(entry[dialect.NameFieldSize+8:], crc)

		// Name reflects what was actually serialized (and what ParseRomfs
		// reads back), truncated to the field width like the name itself.
		entries[i] = RomfsFileEntry{Name: decodeText(nameField), Length: length, Offset: offset, CRC32: crc}

		pad := PaddingFor(length)
		body = append(body, f.Data...)
		body = append(body, make([]byte, pad)...)
		offset += length + pad
	}

	return append(header, body...), entries, nil
}
