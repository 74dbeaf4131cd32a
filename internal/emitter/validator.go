package emitter

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Header is the parsed fixed-size prefix of a .luac image.
type Header struct {
	Magic    uint32
	Version  byte
	Format   byte
	Sizes    [5]byte
	IntCheck int64
	NumCheck float64
}

// headerSize is signature(4) + version + format + data(6) + sizes(5) +
// int check(8) + number check(8).
const headerSize = 4 + 1 + 1 + 6 + 5 + 8 + 8

// ReadHeader parses and checks the chunk header.
func ReadHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < headerSize {
		return h, fmt.Errorf("image truncated: %d bytes, header needs %d", len(data), headerSize)
	}
	if string(data[:4]) != Signature {
		return h, fmt.Errorf("bad signature % X", data[:4])
	}
	h.Magic = binary.BigEndian.Uint32(data[:4])
	h.Version = data[4]
	h.Format = data[5]
	if h.Version != Version {
		return h, fmt.Errorf("version 0x%02X, want 0x%02X", h.Version, Version)
	}
	if h.Format != Format {
		return h, fmt.Errorf("format %d, want %d", h.Format, Format)
	}
	if !bytes.Equal(data[6:12], luacData) {
		return h, fmt.Errorf("corrupt chunk data bytes % X", data[6:12])
	}
	copy(h.Sizes[:], data[12:17])
	if !bytes.Equal(data[12:17], sizeBytes) {
		return h, fmt.Errorf("unexpected size bytes % X", data[12:17])
	}
	h.IntCheck = int64(binary.LittleEndian.Uint64(data[17:25]))
	h.NumCheck = math.Float64frombits(binary.LittleEndian.Uint64(data[25:33]))
	if h.IntCheck != IntCheck {
		return h, fmt.Errorf("integer check 0x%X, want 0x%X", h.IntCheck, IntCheck)
	}
	if h.NumCheck != NumCheck {
		return h, fmt.Errorf("number check %v, want %v", h.NumCheck, NumCheck)
	}
	return h, nil
}

// Validate confirms the produced image carries the expected magic and
// version. A failure here is a hard emit error.
func Validate(data []byte) error {
	_, err := ReadHeader(data)
	return err
}
