package wire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// MaxFramePayload bounds a single TCP frame's payload, guarding against a
// corrupt or hostile length prefix forcing an unbounded allocation.
const MaxFramePayload = 64 << 20 // 64MiB

// WriteFrame writes the client<->broker TCP frame: one byte message-type tag,
// an 8-byte little-endian payload length, then the payload itself. payload is
// expected to already be encrypted by the caller.
func WriteFrame(w io.Writer, msgType byte, payload []byte) error {
	header := make([]byte, 9)
	header[0] = msgType
	binary.LittleEndian.PutUint64(header[1:], uint64(len(payload)))
	if _, err := w.Write(header); err != nil {
		return errors.Wrap(err, "write frame header")
	}
	if _, err := w.Write(payload); err != nil {
		return errors.Wrap(err, "write frame payload")
	}
	return nil
}

// ReadFrame blocks until one full TCP frame has been read.
func ReadFrame(r io.Reader) (msgType byte, payload []byte, err error) {
	header := make([]byte, 9)
	if _, err = io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	msgType = header[0]
	size := binary.LittleEndian.Uint64(header[1:])
	if size > MaxFramePayload {
		return 0, nil, errors.Errorf("wire: frame payload too large (%d bytes)", size)
	}
	payload = make([]byte, size)
	if _, err = io.ReadFull(r, payload); err != nil {
		return 0, nil, errors.Wrap(err, "read frame payload")
	}
	return msgType, payload, nil
}
