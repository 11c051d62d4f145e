package transfer

import (
	"bytes"
	"context"
	"strconv"
	"testing"

	"github.com/cloudvault/cloudvault/internal/faults"
	"github.com/cloudvault/cloudvault/internal/protocol"
	"github.com/cloudvault/cloudvault/internal/storage"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	meta, err := storage.OpenMetadataStore(t.TempDir())
	if err != nil {
		t.Fatalf("opening metadata store: %v", err)
	}
	backend, err := storage.NewLocalBackend(t.TempDir(), false, func(fileID string) (string, error) {
		f, err := meta.GetFile(fileID)
		if err != nil {
			return "", err
		}
		return f.UserID, nil
	})
	if err != nil {
		t.Fatalf("opening backend: %v", err)
	}
	return &Coordinator{Meta: meta, Backend: backend, ChunkSize: 1024}
}

func chunkPacket(userID, fileID string, index int, payload []byte, isLast bool) *protocol.Packet {
	return protocol.New(protocol.CmdFileUploadChunkRequest, userID).
		WithMeta(protocol.MetaFileID, fileID).
		WithMeta(protocol.MetaChunkIndex, strconv.Itoa(index)).
		WithMeta(protocol.MetaIsLastChunk, strconv.FormatBool(isLast)).
		WithPayload(payload)
}

func TestUploadHappyPath(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t)

	payload := &protocol.UploadInitPayload{FileName: "data.bin", FileSize: 2500, ContentType: "application/octet-stream"}
	tr, err := c.InitUpload(ctx, "u1", payload, "")
	if err != nil {
		t.Fatalf("init upload failed: %v", err)
	}
	if tr.TotalChunks != 3 {
		t.Fatalf("expected 3 chunks for 2500 bytes at 1024, got %d", tr.TotalChunks)
	}

	content := [][]byte{
		bytes.Repeat([]byte{1}, 1024),
		bytes.Repeat([]byte{2}, 1024),
		bytes.Repeat([]byte{3}, 452),
	}
	for i, data := range content {
		resp := c.WriteChunk(ctx, tr, chunkPacket("u1", tr.File.ID, i, data, i == 2))
		if !resp.Success() {
			t.Fatalf("chunk %d rejected: %s", i, resp.Message())
		}
	}
	if err := c.FinishUpload(ctx, tr); err != nil {
		t.Fatalf("finish upload failed: %v", err)
	}

	stored, err := c.Meta.GetFile(tr.File.ID)
	if err != nil {
		t.Fatalf("file metadata missing: %v", err)
	}
	if !stored.IsComplete {
		t.Fatalf("file should be marked complete")
	}
}

func TestFinishUploadRejectsMissingChunks(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t)

	tr, err := c.InitUpload(ctx, "u1", &protocol.UploadInitPayload{FileName: "partial.bin", FileSize: 2500}, "")
	if err != nil {
		t.Fatalf("init upload failed: %v", err)
	}
	if tr.TotalChunks != 3 {
		t.Fatalf("expected 3 chunks for 2500 bytes at 1024, got %d", tr.TotalChunks)
	}

	// Only the first of three chunks arrives before the completion request.
	resp := c.WriteChunk(ctx, tr, chunkPacket("u1", tr.File.ID, 0, bytes.Repeat([]byte{1}, 1024), false))
	if !resp.Success() {
		t.Fatalf("chunk 0 rejected: %s", resp.Message())
	}

	err = c.FinishUpload(ctx, tr)
	if err == nil {
		t.Fatalf("finalize must fail with 1 of 3 chunks written")
	}
	if !faults.IsFileOp(err) {
		t.Fatalf("incomplete finalize must be a file operation error, got %v", err)
	}

	stored, getErr := c.Meta.GetFile(tr.File.ID)
	if getErr != nil {
		t.Fatalf("file metadata missing: %v", getErr)
	}
	if stored.IsComplete {
		t.Fatalf("partial upload must not be marked complete")
	}

	// The remaining chunks still close the upload normally afterwards.
	c.WriteChunk(ctx, tr, chunkPacket("u1", tr.File.ID, 1, bytes.Repeat([]byte{2}, 1024), false))
	c.WriteChunk(ctx, tr, chunkPacket("u1", tr.File.ID, 2, bytes.Repeat([]byte{3}, 452), true))
	if err := c.FinishUpload(ctx, tr); err != nil {
		t.Fatalf("finish upload failed: %v", err)
	}
}

func TestUploadRejectsOutOfOrderChunk(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t)

	tr, err := c.InitUpload(ctx, "u1", &protocol.UploadInitPayload{FileName: "x", FileSize: 4096}, "")
	if err != nil {
		t.Fatalf("init upload failed: %v", err)
	}

	resp := c.WriteChunk(ctx, tr, chunkPacket("u1", tr.File.ID, 2, []byte("skip"), false))
	if resp.Success() {
		t.Fatalf("out-of-order chunk must be rejected")
	}
	if resp.Message() != "expected chunk index 0" {
		t.Fatalf("rejection must name the expected index, got %q", resp.Message())
	}
	if tr.NextChunk != 0 {
		t.Fatalf("rejected chunk must not advance the cursor")
	}

	// The expected chunk still goes through afterwards.
	resp = c.WriteChunk(ctx, tr, chunkPacket("u1", tr.File.ID, 0, []byte("first"), false))
	if !resp.Success() {
		t.Fatalf("in-order chunk rejected: %s", resp.Message())
	}
	if tr.NextChunk != 1 {
		t.Fatalf("accepted chunk must advance the cursor")
	}
}

func TestUploadRejectsWrongFileAndEmptyPayload(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t)

	tr, err := c.InitUpload(ctx, "u1", &protocol.UploadInitPayload{FileName: "x", FileSize: 10}, "")
	if err != nil {
		t.Fatalf("init upload failed: %v", err)
	}

	if resp := c.WriteChunk(ctx, tr, chunkPacket("u1", "other-file", 0, []byte("x"), false)); resp.Success() {
		t.Fatalf("chunk for another file must be rejected")
	}
	if resp := c.WriteChunk(ctx, tr, chunkPacket("u1", tr.File.ID, 0, nil, false)); resp.Success() {
		t.Fatalf("empty chunk payload must be rejected")
	}
}

func TestInitUploadValidation(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t)

	if _, err := c.InitUpload(ctx, "u1", &protocol.UploadInitPayload{FileName: "", FileSize: 1}, ""); err == nil {
		t.Fatalf("empty file name must be rejected")
	}
	if _, err := c.InitUpload(ctx, "u1", &protocol.UploadInitPayload{FileName: "x", FileSize: -1}, ""); err == nil {
		t.Fatalf("negative size must be rejected")
	}
}

func TestDownloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t)

	tr, err := c.InitUpload(ctx, "u1", &protocol.UploadInitPayload{FileName: "x", FileSize: 2048}, "")
	if err != nil {
		t.Fatalf("init upload failed: %v", err)
	}
	first := bytes.Repeat([]byte{9}, 1024)
	second := bytes.Repeat([]byte{8}, 1024)
	c.WriteChunk(ctx, tr, chunkPacket("u1", tr.File.ID, 0, first, false))
	c.WriteChunk(ctx, tr, chunkPacket("u1", tr.File.ID, 1, second, true))
	if err := c.FinishUpload(ctx, tr); err != nil {
		t.Fatalf("finish upload failed: %v", err)
	}

	dl, err := c.InitDownload(ctx, "u1", tr.File.ID)
	if err != nil {
		t.Fatalf("init download failed: %v", err)
	}
	if dl.TotalChunks != 2 {
		t.Fatalf("expected 2 chunks, got %d", dl.TotalChunks)
	}

	// Random access: read the second chunk first.
	readReq := func(index int) *protocol.Packet {
		return protocol.New(protocol.CmdFileDownloadChunkRequest, "u1").
			WithMeta(protocol.MetaFileID, tr.File.ID).
			WithMeta(protocol.MetaChunkIndex, strconv.Itoa(index))
	}
	resp := c.ReadChunk(ctx, dl, readReq(1))
	if !resp.Success() || !bytes.Equal(resp.Payload, second) {
		t.Fatalf("chunk 1 read failed: %s", resp.Message())
	}
	if !resp.MetaBool(protocol.MetaIsLastChunk) {
		t.Fatalf("chunk 1 must report IsLastChunk")
	}
	resp = c.ReadChunk(ctx, dl, readReq(0))
	if !resp.Success() || !bytes.Equal(resp.Payload, first) {
		t.Fatalf("chunk 0 read failed: %s", resp.Message())
	}
	if resp.MetaBool(protocol.MetaIsLastChunk) {
		t.Fatalf("chunk 0 must not report IsLastChunk")
	}

	if resp := c.ReadChunk(ctx, dl, readReq(2)); resp.Success() {
		t.Fatalf("chunk index past the end must be rejected")
	}

	c.FinishDownload(dl)
}

func TestDownloadEnforcesOwnership(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t)

	tr, err := c.InitUpload(ctx, "u1", &protocol.UploadInitPayload{FileName: "x", FileSize: 4}, "")
	if err != nil {
		t.Fatalf("init upload failed: %v", err)
	}
	c.WriteChunk(ctx, tr, chunkPacket("u1", tr.File.ID, 0, []byte("data"), true))
	if err := c.FinishUpload(ctx, tr); err != nil {
		t.Fatalf("finish upload failed: %v", err)
	}

	_, errOther := c.InitDownload(ctx, "u2", tr.File.ID)
	_, errMissing := c.InitDownload(ctx, "u2", "no-such-file")
	if errOther == nil || errMissing == nil {
		t.Fatalf("foreign and missing files must both fail")
	}
	// Both failures read the same to the client.
	if faults.ClientMessage(errOther) != faults.ClientMessage(errMissing) {
		t.Fatalf("ownership failures must be indistinguishable from not-found: %q vs %q",
			faults.ClientMessage(errOther), faults.ClientMessage(errMissing))
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t)

	tr, err := c.InitUpload(ctx, "u1", &protocol.UploadInitPayload{FileName: "x", FileSize: 10}, "")
	if err != nil {
		t.Fatalf("init upload failed: %v", err)
	}
	c.Cancel(tr, "test")
	c.Cancel(tr, "test again")
	c.Cancel(nil, "nil transfer")

	stored, err := c.Meta.GetFile(tr.File.ID)
	if err != nil {
		t.Fatalf("metadata missing after cancel: %v", err)
	}
	if stored.IsComplete {
		t.Fatalf("cancelled upload must stay incomplete")
	}
}
