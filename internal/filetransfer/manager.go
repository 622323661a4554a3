// Package filetransfer implements the chunked send/receive pipeline:
// splitting and hashing files on the sending side, a receiver-driven chunk
// request scheduler, the on-disk chunk store, and completion detection.
package filetransfer

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/botiapa/p2pthing/internal/crypto"
	"github.com/botiapa/p2pthing/internal/model"
	"github.com/botiapa/p2pthing/internal/stats"
)

// DownloadsDir is where completed and in-progress downloads are written,
// relative to the working directory, per spec.md §6.
const DownloadsDir = "downloads"

// requestWindow bounds the number of outstanding chunk requests across every
// in-flight reception, per spec.md §4.6.
const requestWindow = 50

// openRead is a file open for serving chunks to peers.
type openRead struct {
	reader *bufio.Reader
	file   *os.File
	size   uint64
}

// openWrite is a file open for receiving chunks from a peer.
type openWrite struct {
	file     *os.File
	received []bool
	sender   crypto.NetworkedPublicKey
}

// Manager owns every file currently being sent or received.
type Manager struct {
	reading map[string]*openRead
	writing map[string]*openWrite

	// readBuffer is reused across ServeChunks calls to avoid a per-chunk
	// allocation, mirroring the reference implementation's single scratch
	// buffer.
	readBuffer [model.ChunkSize]byte

	Transfers map[string]*stats.TransferStatistics

	// pendingRequests accumulates chunk requests produced by RunScheduler,
	// grouped by the peer that must serve them, until the event loop drains
	// them with DrainRequests.
	pendingRequests map[crypto.NetworkedPublicKey][]model.FileChunk
}

// NewManager returns an empty file transfer pipeline.
func NewManager() *Manager {
	return &Manager{
		reading:         make(map[string]*openRead),
		writing:         make(map[string]*openWrite),
		Transfers:       make(map[string]*stats.TransferStatistics),
		pendingRequests: make(map[crypto.NetworkedPublicKey][]model.FileChunk),
	}
}

// StartSending opens filename read-only and returns the descriptor to attach
// to an outgoing chat message. The sender keeps the file open until the peer
// drops; repeated calls for the same (name, size) reuse the open handle.
func (m *Manager) StartSending(filename string) (model.PreparedFile, error) {
	info, err := os.Stat(filename)
	if err != nil {
		return model.PreparedFile{}, errors.Wrap(err, "stat file to send")
	}
	base := filepath.Base(filename)
	ext := filepath.Ext(base)
	if len(ext) > 0 {
		ext = ext[1:]
	}
	totalLength := uint64(info.Size())
	fileID := model.FileID(base, totalLength)

	if _, ok := m.reading[fileID]; !ok {
		f, err := os.Open(filename)
		if err != nil {
			return model.PreparedFile{}, errors.Wrap(err, "open file to send")
		}
		m.reading[fileID] = &openRead{reader: bufio.NewReader(f), file: f, size: totalLength}
		m.Transfers[fileID] = stats.NewTransferStatistics()
	}

	return model.PreparedFile{
		FileID:        fileID,
		FileName:      base,
		FileExtension: ext,
		TotalLength:   totalLength,
	}, nil
}

// StartReceiving creates (or resumes) the on-disk target for an incoming
// file and begins scheduling chunk requests to sender.
func (m *Manager) StartReceiving(file model.PreparedFile, sender crypto.NetworkedPublicKey) error {
	if _, ok := m.writing[file.FileID]; ok {
		return nil
	}
	if err := os.MkdirAll(DownloadsDir, 0o755); err != nil {
		return errors.Wrap(err, "create downloads dir")
	}
	path := filepath.Join(DownloadsDir, file.FileID+"."+file.FileExtension)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return errors.Wrap(err, "open file to receive")
	}
	if err := f.Truncate(int64(file.TotalLength)); err != nil {
		f.Close()
		return errors.Wrap(err, "pre-size receiving file")
	}

	chunkCount := model.ChunkCount(file.TotalLength)
	m.writing[file.FileID] = &openWrite{
		file:     f,
		received: make([]bool, chunkCount),
		sender:   sender,
	}
	m.Transfers[file.FileID] = stats.NewTransferStatistics()

	if chunkCount == 0 {
		return m.finishReceiving(file.FileID)
	}
	m.RunScheduler()
	return nil
}

// RunScheduler walks every receiving file, filling the outstanding-request
// window with chunks neither requested nor received, grouped by sender.
func (m *Manager) RunScheduler() {
	total := 0
	for id, ow := range m.writing {
		for idx, received := range ow.received {
			if total >= requestWindow {
				return
			}
			if received {
				continue
			}
			already := false
			for _, c := range m.pendingRequests[ow.sender] {
				if c.FileID == id && c.Index == uint64(idx) {
					already = true
					break
				}
			}
			if !already {
				m.pendingRequests[ow.sender] = append(m.pendingRequests[ow.sender], model.FileChunk{FileID: id, Index: uint64(idx)})
			}
			total++
		}
	}
}

// DrainRequests returns and clears the accumulated per-peer chunk requests,
// for the event loop to dispatch as reliable RequestFileChunks packets.
func (m *Manager) DrainRequests() map[crypto.NetworkedPublicKey][]model.FileChunk {
	if len(m.pendingRequests) == 0 {
		return nil
	}
	out := m.pendingRequests
	m.pendingRequests = make(map[crypto.NetworkedPublicKey][]model.FileChunk)
	return out
}

// ServeChunks answers a batch of chunk requests by reading from an open
// sending file.
func (m *Manager) ServeChunks(req model.RequestFileChunksMsg) ([]model.FileDataChunk, error) {
	out := make([]model.FileDataChunk, 0, len(req.Chunks))
	for _, c := range req.Chunks {
		or, ok := m.reading[c.FileID]
		if !ok {
			return nil, errors.Errorf("filetransfer: no open reader for %s", c.FileID)
		}
		start := c.Index * model.ChunkSize
		if start >= or.size {
			return nil, errors.Errorf("filetransfer: chunk index %d out of range for %s", c.Index, c.FileID)
		}
		length := uint64(model.ChunkSize)
		if remaining := or.size - start; remaining < length {
			length = remaining
		}
		if _, err := or.file.Seek(int64(start), io.SeekStart); err != nil {
			return nil, errors.Wrap(err, "seek in sending file")
		}
		or.reader.Reset(or.file)
		buf := m.readBuffer[:length]
		if _, err := io.ReadFull(or.reader, buf); err != nil {
			return nil, errors.Wrap(err, "read chunk from sending file")
		}
		data := make([]byte, length)
		copy(data, buf)
		out = append(out, model.FileDataChunk{FileID: c.FileID, Index: c.Index, Data: data})

		if ts, ok := m.Transfers[c.FileID]; ok {
			ts.BytesRead += length
		}
	}
	return out, nil
}

// StoreChunks writes a batch of received chunk payloads into their target
// file, re-running the scheduler and detecting completion.
func (m *Manager) StoreChunks(msg model.FileChunksMsg) error {
	changed := make(map[string]struct{})
	for _, c := range msg.Chunks {
		ow, ok := m.writing[c.FileID]
		if !ok {
			return errors.Errorf("filetransfer: no open writer for %s", c.FileID)
		}
		if int(c.Index) >= len(ow.received) || ow.received[c.Index] {
			continue // already stored; duplicate chunk is a no-op
		}
		offset := int64(c.Index) * model.ChunkSize
		if _, err := ow.file.WriteAt(c.Data, offset); err != nil {
			return errors.Wrap(err, "write chunk")
		}
		ow.received[c.Index] = true
		if ts, ok := m.Transfers[c.FileID]; ok {
			ts.BytesWritten += uint64(len(c.Data))
		}
		changed[c.FileID] = struct{}{}
	}
	m.RunScheduler()
	for id := range changed {
		if m.isComplete(id) {
			if err := m.finishReceiving(id); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) isComplete(fileID string) bool {
	ow, ok := m.writing[fileID]
	if !ok {
		return false
	}
	for _, r := range ow.received {
		if !r {
			return false
		}
	}
	return true
}

// finishReceiving flushes and releases a fully-received file, recording the
// completion in its transfer statistics. internal/eventloop reports a
// completion that happens while storing chunks as a ui.FileTransferProgress
// event; a zero-length file, completed inside StartReceiving, is not reported.
func (m *Manager) finishReceiving(fileID string) error {
	ow := m.writing[fileID]
	if err := ow.file.Sync(); err != nil {
		return errors.Wrap(err, "flush received file")
	}
	if err := ow.file.Close(); err != nil {
		return errors.Wrap(err, "close received file")
	}
	delete(m.writing, fileID)
	if ts, ok := m.Transfers[fileID]; ok {
		ts.State = stats.Complete
	}
	return nil
}

// Completed reports whether fileID has a finished transfer record, and the
// time elapsed since that transfer started, measured at the time of the call
// rather than at completion.
func (m *Manager) Completed(fileID string) (time.Duration, bool) {
	ts, ok := m.Transfers[fileID]
	if !ok || ts.State != stats.Complete {
		return 0, false
	}
	return time.Since(ts.Started), true
}

// Close releases every open file handle; used on shutdown.
func (m *Manager) Close() {
	for _, or := range m.reading {
		or.file.Close()
	}
	for _, ow := range m.writing {
		ow.file.Close()
	}
}
