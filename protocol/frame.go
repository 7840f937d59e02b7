// Package protocol implements the PetChat wire format: an 8-byte big-endian
// header (uint32 payload length, uint32 CRC32 of the payload) followed by a
// UTF-8 JSON envelope. Frames are the only unit of wire exchange.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"io"

	"PetChat/tools/errs"
)

const (
	// HeaderSize is 4 bytes length + 4 bytes CRC32.
	HeaderSize = 8

	// MaxPayloadLen bounds a single frame. Context snapshots are the largest
	// envelopes and stay far below this.
	MaxPayloadLen uint32 = 1 << 20 // 1 MB
)

// PackHeader encodes length and checksum for payload.
func PackHeader(payload []byte) [HeaderSize]byte {
	var h [HeaderSize]byte
	binary.BigEndian.PutUint32(h[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(h[4:8], crc32.ChecksumIEEE(payload))
	return h
}

// UnpackHeader decodes an 8-byte header into (length, crc32).
func UnpackHeader(h []byte) (uint32, uint32) {
	return binary.BigEndian.Uint32(h[0:4]), binary.BigEndian.Uint32(h[4:8])
}

// VerifyCRC reports whether payload matches the checksum from the header.
func VerifyCRC(payload []byte, expected uint32) bool {
	return crc32.ChecksumIEEE(payload) == expected
}

// Frame prepends the header to payload, producing the full wire frame.
func Frame(payload []byte) []byte {
	h := PackHeader(payload)
	out := make([]byte, 0, HeaderSize+len(payload))
	out = append(out, h[:]...)
	return append(out, payload...)
}

// Encode marshals an envelope and frames it.
func Encode(e Envelope) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, errs.Wrap(err, "encode envelope")
	}
	return Frame(payload), nil
}

// ReadFrame reads one frame off r and returns its payload.
//
// A CRC mismatch returns errs.ErrChecksum with the payload fully consumed, so
// the caller can drop the frame and keep reading; every other error means the
// stream is unusable.
func ReadFrame(r io.Reader) ([]byte, error) {
	var h [HeaderSize]byte
	if _, err := io.ReadFull(r, h[:]); err != nil {
		return nil, err
	}
	length, sum := UnpackHeader(h[:])
	if length > MaxPayloadLen {
		return nil, errs.Wrapf(errs.ErrInvalidPayload, "frame length %d exceeds limit", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	if !VerifyCRC(payload, sum) {
		return payload, errs.ErrChecksum
	}
	return payload, nil
}

// WriteFrame frames payload and writes it to w in one call.
func WriteFrame(w io.Writer, payload []byte) error {
	_, err := w.Write(Frame(payload))
	return err
}
