package persistence

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

// Constants for the binary frame protocol shared by snapshots and the
// insert journal.
const (
	// MagicByte is the marker used to identify the start of a valid frame.
	// It helps in scanning for recovery if the file is heavily corrupted.
	MagicByte = 0xA5

	// HeaderSize is the fixed size of the frame metadata:
	// 1 byte (Magic) + 1 byte (OpCode) + 4 bytes (Length) + 4 bytes (CRC32) = 10 bytes.
	HeaderSize = 10

	// MaxPayloadSize bounds the length field so a corrupted header cannot
	// trigger a huge allocation.
	MaxPayloadSize = 1 << 28

	// OpCodeInsert is a journal record: one inserted vector and its label.
	OpCodeInsert = 0x01
	// OpCodeSnapshotHeader opens a snapshot file.
	OpCodeSnapshotHeader = 0x10
	// OpCodeSnapshotNode is one node of a snapshot, in pre-order.
	OpCodeSnapshotNode = 0x11
)

var (
	// ErrInvalidMagic indicates the file stream lost synchronization or is not a valid frame file.
	ErrInvalidMagic = errors.New("invalid magic byte")
	// ErrChecksumMismatch indicates data corruption within the frame payload.
	ErrChecksumMismatch = errors.New("crc32 checksum mismatch")
	// ErrIncompleteFrame indicates the file ended abruptly (e.g., power loss during write).
	ErrIncompleteFrame = errors.New("incomplete frame")
	// ErrFrameTooLarge indicates a length field above MaxPayloadSize.
	ErrFrameTooLarge = errors.New("frame payload too large")
)

// Frame is one decoded frame.
type Frame struct {
	OpCode  byte
	Payload []byte
}

// FrameWriter handles the safe writing of binary frames to an io.Writer.
type FrameWriter struct {
	w io.Writer
}

// NewFrameWriter creates a writer that wraps an underlying io.Writer.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame encodes the payload into a binary frame and writes it.
// Frame Format: [Magic(1)][OpCode(1)][Length(4)][CRC(4)][Payload(N)]
func (fw *FrameWriter) WriteFrame(opCode byte, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return ErrFrameTooLarge
	}
	header := make([]byte, HeaderSize)
	header[0] = MagicByte
	header[1] = opCode
	binary.LittleEndian.PutUint32(header[2:6], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[6:10], crc32.ChecksumIEEE(payload))

	// Header and payload are written sequentially; callers wrap files in a
	// bufio.Writer so both end up in a single syscall.
	if _, err := fw.w.Write(header); err != nil {
		return err
	}
	if _, err := fw.w.Write(payload); err != nil {
		return err
	}
	return nil
}

// ReadFrame reads the next frame from the reader.
// It performs validation of the Magic Byte and the CRC32 Checksum.
// Returns the frame, the total bytes read (header + payload), and an error.
func ReadFrame(r io.Reader) (Frame, int, error) {
	header := make([]byte, HeaderSize)

	if _, err := io.ReadFull(r, header); err != nil {
		// EOF exactly at the start of a frame is a clean exit.
		if err == io.EOF {
			return Frame{}, 0, io.EOF
		}
		return Frame{}, 0, ErrIncompleteFrame
	}

	if header[0] != MagicByte {
		return Frame{}, HeaderSize, ErrInvalidMagic
	}

	length := binary.LittleEndian.Uint32(header[2:6])
	expectedCRC := binary.LittleEndian.Uint32(header[6:10])
	if length > MaxPayloadSize {
		return Frame{}, HeaderSize, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		// Even if it's EOF here, it's an error because we expected 'length' bytes.
		return Frame{}, HeaderSize, ErrIncompleteFrame
	}

	if crc32.ChecksumIEEE(payload) != expectedCRC {
		return Frame{}, HeaderSize + int(length), ErrChecksumMismatch
	}

	return Frame{OpCode: header[1], Payload: payload}, HeaderSize + int(length), nil
}
