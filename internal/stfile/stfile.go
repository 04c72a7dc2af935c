// Package stfile decodes the encrypted .st container some archive mirrors
// ship instead of plain unlock scripts. The wrapper is a 12-byte header
// followed by an XOR-obfuscated, deflate-compressed payload whose first
// 512 decoded bytes are metadata to discard.
package stfile

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"
	"unicode/utf8"

	"depotkit/internal/fault"
)

const (
	headerSize = 12
	// keyMask is XORed with the stored key; only the low byte of the
	// result is used.
	keyMask = 0xFFFEA4C8
	// metaSize is the fixed metadata block length at the start of the
	// inflated payload.
	metaSize = 512
)

// Meta reports the container parameters, mainly for diagnostics.
type Meta struct {
	XORKey      byte
	PayloadSize uint32
}

// Decode returns the script text carried by an .st container. All failure
// modes on untrusted input surface as Malformed.
func Decode(data []byte) (string, Meta, error) {
	if len(data) < headerSize {
		return "", Meta{}, fault.New(fault.KindMalformed, "DEC_ST: truncated header (%d bytes)", len(data))
	}
	storedKey := binary.LittleEndian.Uint32(data[0:4])
	size := binary.LittleEndian.Uint32(data[4:8])
	key := byte((storedKey ^ keyMask) & 0xFF)

	if uint64(headerSize)+uint64(size) > uint64(len(data)) {
		return "", Meta{}, fault.New(fault.KindMalformed, "DEC_ST: truncated payload (want %d bytes, have %d)", size, len(data)-headerSize)
	}
	payload := make([]byte, size)
	copy(payload, data[headerSize:headerSize+int(size)])
	for i := range payload {
		payload[i] ^= key
	}

	zr, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return "", Meta{}, fault.Wrap(fault.KindMalformed, err, "DEC_ST: invalid compressed stream")
	}
	defer zr.Close()
	inflated, err := io.ReadAll(zr)
	if err != nil {
		return "", Meta{}, fault.Wrap(fault.KindMalformed, err, "DEC_ST: invalid compressed stream")
	}
	if len(inflated) < metaSize {
		return "", Meta{}, fault.New(fault.KindMalformed, "DEC_ST: decoded block shorter than metadata header (%d bytes)", len(inflated))
	}
	text := inflated[metaSize:]
	if !utf8.Valid(text) {
		return "", Meta{}, fault.New(fault.KindMalformed, "DEC_ST: script text is not valid UTF-8")
	}
	return string(text), Meta{XORKey: key, PayloadSize: size}, nil
}
