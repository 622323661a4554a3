package model

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"

	"github.com/botiapa/p2pthing/internal/wire"
)

// ChunkSize is the fixed size of every file chunk but the last.
const ChunkSize = 1000

// FileID derives the stable handle for a transfer from its name and total
// length: base64url(SHA256(name || big-endian u64(length))).
func FileID(name string, totalLength uint64) string {
	var lenBytes [8]byte
	binary.BigEndian.PutUint64(lenBytes[:], totalLength)
	sum := sha256.Sum256(append([]byte(name), lenBytes[:]...))
	return base64.URLEncoding.EncodeToString(sum[:])
}

// ChunkCount returns how many fixed-size chunks a file of totalLength splits
// into; only the final chunk may be short. A zero-length file has zero
// chunks.
func ChunkCount(totalLength uint64) uint64 {
	if totalLength == 0 {
		return 0
	}
	return (totalLength + ChunkSize - 1) / ChunkSize
}

// PreparedFile describes a file once it has been split for transfer.
type PreparedFile struct {
	FileID        string
	FileName      string
	FileExtension string
	TotalLength   uint64
}

func (f *PreparedFile) Encode(w *wire.Writer) {
	w.WriteString(f.FileID)
	w.WriteString(f.FileName)
	w.WriteString(f.FileExtension)
	w.WriteU64(f.TotalLength)
}

func (f *PreparedFile) Decode(r *wire.Reader) error {
	var err error
	if f.FileID, err = r.ReadString(); err != nil {
		return err
	}
	if f.FileName, err = r.ReadString(); err != nil {
		return err
	}
	if f.FileExtension, err = r.ReadString(); err != nil {
		return err
	}
	f.TotalLength, err = r.ReadU64()
	return err
}

// FileChunk addresses a single chunk request by file and index.
type FileChunk struct {
	FileID string
	Index  uint64
}

func (c *FileChunk) Encode(w *wire.Writer) {
	w.WriteString(c.FileID)
	w.WriteU64(c.Index)
}

func (c *FileChunk) Decode(r *wire.Reader) error {
	var err error
	if c.FileID, err = r.ReadString(); err != nil {
		return err
	}
	c.Index, err = r.ReadU64()
	return err
}

// FileDataChunk is a chunk request answered with its payload.
type FileDataChunk struct {
	FileID string
	Index  uint64
	Data   []byte
}

func (c *FileDataChunk) Encode(w *wire.Writer) {
	w.WriteString(c.FileID)
	w.WriteU64(c.Index)
	w.WriteBytes(c.Data)
}

func (c *FileDataChunk) Decode(r *wire.Reader) error {
	var err error
	if c.FileID, err = r.ReadString(); err != nil {
		return err
	}
	if c.Index, err = r.ReadU64(); err != nil {
		return err
	}
	c.Data, err = r.ReadBytes()
	return err
}
