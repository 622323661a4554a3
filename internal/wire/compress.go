package wire

import "github.com/golang/snappy"

// CompressThreshold is the smallest plaintext payload worth paying snappy's
// framing overhead for. Chat bodies below this size are sent as-is (file
// chunks are never compressed), mirroring the teacher's CompStream being opt-out only at the stream
// level, not the packet level.
const CompressThreshold = 256

// MaybeCompress snappy-encodes data when it's large enough to benefit,
// reporting whether it did so. The flag must travel alongside the payload
// (callers encode it as part of the message) since compression is not
// self-describing here.
func MaybeCompress(data []byte) (out []byte, compressed bool) {
	if len(data) < CompressThreshold {
		return data, false
	}
	enc := snappy.Encode(nil, data)
	if len(enc) >= len(data) {
		return data, false
	}
	return enc, true
}

// Decompress reverses MaybeCompress.
func Decompress(data []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return data, nil
	}
	return snappy.Decode(nil, data)
}
