// Package ambfw parses and emits Ambarella H22 firmware container images,
// the proprietary `.bin` format used by SJCAM SJ8 Pro, SJ10 Pro, and Firefly
// X Lite action cameras: a fixed-size file header carrying a section
// directory, a sequence of typed sections with their own 256-byte headers,
// and, for sections identified as ROMFS, an inner archive of named files.
package ambfw

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"strings"
)

// getUint16 reads a little-endian uint16 at the start of b.
func getUint16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

// putUint16 writes v little-endian at the start of b.
func putUint16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

// getUint32 reads a little-endian uint32 at the start of b.
func getUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// putUint32 writes v little-endian at the start of b.
func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// getUint16BE reads a big-endian uint16 at the start of b. Used only for the
// section-header version pair, whose byte order defaults to big-endian and
// is otherwise little-endian throughout the container (§6).
func getUint16BE(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

// decodeText strips trailing NUL bytes from a fixed-width text field and
// returns it as a UTF-8 string.
func decodeText(b []byte) string {
	return strings.TrimRight(string(b), "\x00")
}

// encodeText right-pads s with NULs to size bytes, truncating if s is
// longer than the field. Both name fields (§3) and ROMFS filenames (§4.4)
// use this encoding.
func encodeText(s string, size int) []byte {
	b := make([]byte, size)
	copy(b, s)
	return b
}

// crc32Seeded computes the zlib/IEEE CRC32 (polynomial 0xEDB88320) of data,
// chained from seed. crc32Seeded(0, nil) is 0, and
// crc32Seeded(crc32Seeded(0, a), b) == crc32Seeded(0, append(a, b...)) for
// any byte slices a, b — the running-CRC chaining law the directory and
// ROMFS integrity checks depend on (§4.1, §8 property 2).
func crc32Seeded(seed uint32, data []byte) uint32 {
	return crc32.Update(seed, crc32.IEEETable, data)
}

// md5Hex returns the 32-character lowercase hex MD5 digest of data.
func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// chFileBytes encodes an MD5 hex digest as the 16-byte .ch format: four
// 32-bit little-endian integers, each parsed from one 8-hex-digit slice of
// the digest read left to right (§3 ChecksumFile, §8 property 5/S6).
func chFileBytes(digestHex string) ([]byte, error) {
	if len(digestHex) != 32 {
		return nil, fmt.Errorf("md5 digest must be 32 hex characters, got %d", len(digestHex))
	}
	out := make([]byte, 16)
	for i := 0; i < 4; i++ {
		chunk := digestHex[i*8 : i*8+8]
		var v uint32
		if _, err := fmt.Sscanf(chunk, "%08x", &v); err != nil {
			return nil, fmt.Errorf("decoding .ch chunk %q: %w", chunk, err)
		}
		putUint32(out[i*4:], v)
	}
	return out, nil
}

// digestHexFromCh reverses chFileBytes: given the 16 raw bytes of a .ch
// file, reconstructs the 32-character lowercase hex MD5 digest.
func digestHexFromCh(ch []byte) (string, error) {
	if len(ch) != 16 {
		return "", fmt.Errorf(".ch file must be 16 bytes, got %d", len(ch))
	}
	var sb strings.Builder
	for i := 0; i < 4; i++ {
		fmt.Fprintf(&sb, "%08x", getUint32(ch[i*4:]))
	}
	return sb.String(), nil
}
