// Package header decodes individual 512-byte tar header blocks.
//
// Unlike archive/tar, which reads a stream and resolves extended headers by
// consuming the blocks that follow, Decode looks at exactly one block in
// isolation. Any block that is not a structurally valid header, including the
// all-zero terminator, is reported as the end of the archive.
package header

import (
	"archive/tar"
	"bytes"
	"math"
	"strconv"
	"strings"
)

// BlockSize is the size of a tar header block and the alignment of entry data.
const BlockSize = 512

// MaxSize is the largest accepted payload size. Larger sizes would
// overflow Span.
const MaxSize = math.MaxInt64 - 2*BlockSize

// Field layout of a ustar/GNU header block.
const (
	nameOff, nameLen         = 0, 100
	modeOff, modeLen         = 100, 8
	uidOff, uidLen           = 108, 8
	gidOff, gidLen           = 116, 8
	sizeOff, sizeLen         = 124, 12
	mtimeOff, mtimeLen       = 136, 12
	chksumOff, chksumLen     = 148, 8
	typeOff                  = 156
	magicOff, magicLen       = 257, 8
	devmajorOff, devmajorLen = 329, 8
	devminorOff, devminorLen = 337, 8
	prefixOff, prefixLen     = 345, 155
)

// numericFields must hold valid numbers for a block to be a header.
// The size and checksum fields are checked separately.
var numericFields = [][2]int{
	{modeOff, modeLen},
	{uidOff, uidLen},
	{gidOff, gidLen},
	{mtimeOff, mtimeLen},
	{devmajorOff, devmajorLen},
	{devminorOff, devminorLen},
}

var magicUSTAR = []byte("ustar\x0000")

// Header is the fixed-shape record decoded from one header block.
type Header struct {
	Name       string
	Type       byte
	Size       int64
	Offset     int64 // position of the header block
	DataOffset int64 // Offset + BlockSize
}

// Span returns how far the cursor moves to reach the next header.
func (h Header) Span() int64 {
	return Span(h.Size)
}

// IsRegular reports whether the entry is a regular file.
func (h Header) IsRegular() bool {
	return IsRegular(h.Type)
}

// IsRegular reports whether typeflag denotes regular file content.
func IsRegular(typeflag byte) bool {
	switch typeflag {
	case tar.TypeReg, tar.TypeRegA, tar.TypeCont, tar.TypeGNUSparse:
		return true
	default:
		return false
	}
}

// Span returns the on-disk size of an entry with a payload of size bytes:
// one header block plus the payload rounded up to the block size.
func Span(size int64) int64 {
	return BlockSize + size + (BlockSize-size%BlockSize)%BlockSize
}

// Decode parses block as a header located at offset.
// It returns false if block is not a valid header.
func Decode(block []byte, offset int64) (Header, bool) {
	if len(block) != BlockSize {
		return Header{}, false
	}
	if isZero(block) {
		return Header{}, false
	}

	chksum, ok := parseNumeric(block[chksumOff : chksumOff+chksumLen])
	if !ok || !checksumMatches(block, chksum) {
		return Header{}, false
	}
	size, ok := parseNumeric(block[sizeOff : sizeOff+sizeLen])
	if !ok || size < 0 || size > MaxSize {
		return Header{}, false
	}
	for _, f := range numericFields {
		if _, ok := parseNumeric(block[f[0] : f[0]+f[1]]); !ok {
			return Header{}, false
		}
	}

	h := Header{
		Name:       cString(block[nameOff : nameOff+nameLen]),
		Type:       block[typeOff],
		Size:       size,
		Offset:     offset,
		DataOffset: offset + BlockSize,
	}

	// V7 archives mark directories with a trailing slash only.
	if h.Type == tar.TypeRegA && strings.HasSuffix(h.Name, "/") {
		h.Type = tar.TypeDir
	}
	if h.Type == tar.TypeDir {
		h.Name = strings.TrimRight(h.Name, "/")
	}
	if bytes.Equal(block[magicOff:magicOff+magicLen], magicUSTAR) && !isGNUMeta(h.Type) {
		if prefix := cString(block[prefixOff : prefixOff+prefixLen]); prefix != "" {
			h.Name = prefix + "/" + h.Name
		}
	}
	return h, true
}

func isGNUMeta(typeflag byte) bool {
	return typeflag == tar.TypeGNULongName || typeflag == tar.TypeGNULongLink || typeflag == tar.TypeGNUSparse
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// checksumMatches accepts both the unsigned sum mandated by POSIX and the
// signed sum some historic implementations wrote.
func checksumMatches(block []byte, want int64) bool {
	var unsigned, signed int64
	for i, c := range block {
		if i >= chksumOff && i < chksumOff+chksumLen {
			c = ' '
		}
		unsigned += int64(c)
		signed += int64(int8(c))
	}
	return want == unsigned || want == signed
}

// parseNumeric decodes an octal field, or a base-256 field when the high
// bit of the first byte is set (GNU extension for large values).
func parseNumeric(field []byte) (int64, bool) {
	if len(field) > 0 && field[0]&0x80 != 0 {
		return parseBase256(field)
	}
	s := strings.Trim(cString(field), " ")
	if s == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(s, 8, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseBase256(field []byte) (int64, bool) {
	// 0xff marks a negative two's complement value.
	inv := byte(0)
	if field[0]&0x40 != 0 {
		inv = 0xff
	}
	var x uint64
	for i, c := range field {
		c ^= inv
		if i == 0 {
			c &= 0x7f
		}
		if x>>56 > 0 {
			return 0, false
		}
		x = x<<8 | uint64(c)
	}
	if x>>63 > 0 {
		return 0, false
	}
	if inv == 0xff {
		return ^int64(x), true
	}
	return int64(x), true
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
