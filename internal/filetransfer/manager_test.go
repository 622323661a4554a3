package filetransfer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/botiapa/p2pthing/internal/crypto"
	"github.com/botiapa/p2pthing/internal/model"
)

func chdirTemp(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
}

func writeSourceFile(t *testing.T, name string, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func samplePeer() crypto.NetworkedPublicKey {
	return crypto.NetworkedPublicKey{N: "sender-n", E: "10001"}
}

// TestSendReceiveRoundTrip exercises the full pipeline end to end: split a
// multi-chunk file on the sending side, schedule requests, serve them, store
// them, and confirm the destination bytes match exactly.
func TestSendReceiveRoundTrip(t *testing.T) {
	chdirTemp(t)

	sendMgr := NewManager()
	defer sendMgr.Close()
	recvMgr := NewManager()
	defer recvMgr.Close()

	size := model.ChunkSize*3 + 17 // forces a short final chunk
	src := writeSourceFile(t, "payload.bin", size)

	pf, err := sendMgr.StartSending(src)
	if err != nil {
		t.Fatal(err)
	}
	if pf.TotalLength != uint64(size) {
		t.Fatalf("expected TotalLength %d, got %d", size, pf.TotalLength)
	}
	wantChunks := model.ChunkCount(uint64(size))
	if wantChunks != 4 {
		t.Fatalf("expected 4 chunks for a 3*chunk+17 file, got %d", wantChunks)
	}

	sender := samplePeer()
	if err := recvMgr.StartReceiving(pf, sender); err != nil {
		t.Fatal(err)
	}

	// Drain and serve requests until the transfer completes.
	for i := 0; i < 10; i++ {
		reqs := recvMgr.DrainRequests()
		if reqs == nil {
			break
		}
		for _, chunks := range reqs {
			served, err := sendMgr.ServeChunks(model.RequestFileChunksMsg{Chunks: chunks})
			if err != nil {
				t.Fatal(err)
			}
			if err := recvMgr.StoreChunks(model.FileChunksMsg{Chunks: served}); err != nil {
				t.Fatal(err)
			}
		}
	}

	if _, ok := recvMgr.Completed(pf.FileID); !ok {
		t.Fatal("expected transfer to be marked complete")
	}

	got, err := os.ReadFile(filepath.Join(DownloadsDir, pf.FileID+".bin"))
	if err != nil {
		t.Fatal(err)
	}
	want, err := os.ReadFile(src)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(want) {
		t.Fatal("received file content does not match the source file")
	}
}

// TestRequestWindowBound verifies the scheduler never queues more than
// requestWindow chunks in one pass, per spec.md §4.6.
func TestRequestWindowBound(t *testing.T) {
	chdirTemp(t)
	recvMgr := NewManager()
	defer recvMgr.Close()

	size := model.ChunkSize * (requestWindow * 2)
	pf := model.PreparedFile{FileID: "big-file", FileName: "big.bin", FileExtension: "bin", TotalLength: uint64(size)}

	if err := recvMgr.StartReceiving(pf, samplePeer()); err != nil {
		t.Fatal(err)
	}

	reqs := recvMgr.DrainRequests()
	total := 0
	for _, chunks := range reqs {
		total += len(chunks)
	}
	if total != requestWindow {
		t.Fatalf("expected exactly %d scheduled chunk requests, got %d", requestWindow, total)
	}
}

// TestStoreChunksDedupsAlreadyReceived checks that re-delivering a chunk that
// was already stored is a silent no-op, not an error.
func TestStoreChunksDedupsAlreadyReceived(t *testing.T) {
	chdirTemp(t)
	recvMgr := NewManager()
	defer recvMgr.Close()

	pf := model.PreparedFile{FileID: "small-file", FileName: "s.bin", FileExtension: "bin", TotalLength: model.ChunkSize}
	if err := recvMgr.StartReceiving(pf, samplePeer()); err != nil {
		t.Fatal(err)
	}

	chunk := model.FileDataChunk{FileID: pf.FileID, Index: 0, Data: make([]byte, model.ChunkSize)}
	if err := recvMgr.StoreChunks(model.FileChunksMsg{Chunks: []model.FileDataChunk{chunk}}); err != nil {
		t.Fatal(err)
	}
	if _, ok := recvMgr.Completed(pf.FileID); !ok {
		t.Fatal("single-chunk file should be complete after its one chunk arrives")
	}

	// Deliver the same chunk twice in one batch to a second, still-open
	// transfer: the second copy must be skipped without an error.
	pf2 := model.PreparedFile{FileID: "another-file", FileName: "a.bin", FileExtension: "bin", TotalLength: model.ChunkSize * 2}
	if err := recvMgr.StartReceiving(pf2, samplePeer()); err != nil {
		t.Fatal(err)
	}
	dup := model.FileDataChunk{FileID: pf2.FileID, Index: 0, Data: make([]byte, model.ChunkSize)}
	if err := recvMgr.StoreChunks(model.FileChunksMsg{Chunks: []model.FileDataChunk{dup, dup}}); err != nil {
		t.Fatal(err)
	}
}

// TestZeroLengthFileCompletesImmediately exercises the zero-chunk edge case.
func TestZeroLengthFileCompletesImmediately(t *testing.T) {
	chdirTemp(t)
	recvMgr := NewManager()
	defer recvMgr.Close()

	pf := model.PreparedFile{FileID: "empty-file", FileName: "e.bin", FileExtension: "bin", TotalLength: 0}
	if err := recvMgr.StartReceiving(pf, samplePeer()); err != nil {
		t.Fatal(err)
	}
	if _, ok := recvMgr.Completed(pf.FileID); !ok {
		t.Fatal("a zero-length file should complete with no chunks at all")
	}
}
